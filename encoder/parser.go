package encoder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Phases of one ab-av1 attempt.
const (
	PhaseCRFSearch = "crf-search"
	PhaseEncoding  = "encoding"
)

// Stats is the mutable per-attempt state the parser fills in as output
// streams by.
type Stats struct {
	Phase            string
	ProgressQuality  float64
	ProgressEncoding float64

	VMAF          *float64
	CRF           *int
	SizeReduction *float64

	OriginalSize     int64
	VMAFTargetUsed   int
	TotalDurationSec float64

	ETAText string
	FPS     string

	// lastReported throttles encoding-progress callbacks: a new value must
	// move at least half a percent, or cross the finish line.
	lastReported float64
}

// NewStats returns attempt state reset to the CRF-search phase.
func NewStats(originalSize int64, vmafTarget int, totalDurationSec float64) *Stats {
	return &Stats{
		Phase:            PhaseCRFSearch,
		OriginalSize:     originalSize,
		VMAFTargetUsed:   vmafTarget,
		TotalDurationSec: totalDurationSec,
		lastReported:     -1,
	}
}

// EstimatedOutputSize projects the output size from the reported reduction
// and the source size. Zero until the encoder has printed a reduction.
func (s *Stats) EstimatedOutputSize() int64 {
	if s.SizeReduction == nil || s.OriginalSize <= 0 {
		return 0
	}
	return int64(float64(s.OriginalSize) * (100 - *s.SizeReduction) / 100)
}

// ResetAttempt clears per-attempt fields for a fallback retry while keeping
// the file-level ones.
func (s *Stats) ResetAttempt(vmafTarget int) {
	s.Phase = PhaseCRFSearch
	s.ProgressQuality = 0
	s.ProgressEncoding = 0
	s.VMAF = nil
	s.CRF = nil
	s.VMAFTargetUsed = vmafTarget
	s.ETAText = ""
	s.FPS = ""
	s.lastReported = -1
}

var (
	rePhaseEncode   = regexp.MustCompile(`(?i)ab_av1::command::encode\].*encoding`)
	reCRFVMAF       = regexp.MustCompile(`(?i)crf\s+(\d+)\s+VMAF\s+(\d+\.?\d*)`)
	reBestCRF       = regexp.MustCompile(`(?i)Best\s+CRF:\s+(\d+)`)
	reTimeProgress  = regexp.MustCompile(`\stime=(\d{2,}):(\d{2}):(\d{2})\.(\d+)`)
	rePercent       = regexp.MustCompile(`^\s*(\d{1,3}(?:\.\d+)?)\s*%\s*,?\s*`)
	reSizeReduction = regexp.MustCompile(`Output\s+size:.*?\((\d+\.?\d*)\s*%\s+of\s+source\)`)
	reFPS           = regexp.MustCompile(`(\d+\.?\d*)\s+fps`)
	reETASec        = regexp.MustCompile(`(?i)eta\s+(\d+)\s*s(?:ec(?:onds?)?)?\b`)
	reETAMin        = regexp.MustCompile(`(?i)eta\s+(\d+)\s*min(?:ute)?s?\b`)
	reETATime       = regexp.MustCompile(`(?i)eta\s+(\d+:\d{2}:\d{2})\b`)
	reETAMinSec     = regexp.MustCompile(`(?i)eta\s+(\d+:\d{2})\b`)
	reFinalVMAF     = regexp.MustCompile(`(?i)VMAF:\s+(\d+\.\d+)`)
	reAbsSize       = regexp.MustCompile(`(?i)(Input|Output)\s+size:\s+(\d+\.?\d*)\s+(\w+)`)
)

// Parser turns ab-av1/ffmpeg output lines into Stats updates and progress
// events. Parsing is best effort: a line that matches nothing changes
// nothing, and ParseLine never fails.
type Parser struct {
	// File labels emitted events.
	File string
	// Callback receives progress events; nil is fine.
	Callback Callback
}

// ParseLine consumes one output line and updates st.
func (p *Parser) ParseLine(line string, st *Stats) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	// Phase transition: the encode command banner marks the end of the
	// CRF search. Nothing else on this line matters.
	if st.Phase == PhaseCRFSearch && rePhaseEncode.MatchString(line) {
		st.Phase = PhaseEncoding
		st.ProgressQuality = 100
		st.ProgressEncoding = 0
		st.lastReported = 0
		p.emitProgress(st, "Encoding started")
		return
	}

	switch st.Phase {
	case PhaseCRFSearch:
		p.parseCRFSearchLine(line, st)
	case PhaseEncoding:
		p.parseEncodingLine(line, st)
	}
}

func (p *Parser) parseCRFSearchLine(line string, st *Stats) {
	newQuality := st.ProgressQuality

	if m := reCRFVMAF.FindStringSubmatch(line); m != nil {
		if crf, err := strconv.Atoi(m[1]); err == nil {
			st.CRF = &crf
		}
		if vmaf, err := strconv.ParseFloat(m[2], 64); err == nil {
			st.VMAF = &vmaf
		}
		// Each sampled point is one step of an unknown-length search.
		if q := st.ProgressQuality + 10; q < 90 {
			newQuality = q
		} else {
			newQuality = 90
		}
	}

	if m := reBestCRF.FindStringSubmatch(line); m != nil {
		if crf, err := strconv.Atoi(m[1]); err == nil {
			st.CRF = &crf
		}
		newQuality = 95
	}

	if newQuality > st.ProgressQuality {
		st.ProgressQuality = newQuality
		p.emitProgress(st, qualityMessage(st))
	}
}

func qualityMessage(st *Stats) string {
	crf := "?"
	if st.CRF != nil {
		crf = strconv.Itoa(*st.CRF)
	}
	vmaf := "?"
	if st.VMAF != nil {
		vmaf = fmt.Sprintf("%.1f", *st.VMAF)
	}
	return fmt.Sprintf("Detecting Quality (CRF:%s, VMAF:%s)", crf, vmaf)
}

func (p *Parser) parseEncodingLine(line string, st *Stats) {
	candidate := -1.0

	if m := reTimeProgress.FindStringSubmatch(line); m != nil && st.TotalDurationSec > 0 {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		sec, _ := strconv.Atoi(m[3])
		frac, _ := strconv.ParseFloat("0."+m[4], 64)
		current := float64(h*3600+min*60+sec) + frac
		candidate = clampPercent(current / st.TotalDurationSec * 100)
	}

	// An explicit percentage at the start of the line is more direct than
	// the time-based estimate; it wins when both appear.
	if m := rePercent.FindStringSubmatch(line); m != nil {
		if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
			candidate = clampPercent(pct)
		}
	}

	if candidate >= 0 {
		moved := candidate-st.lastReported >= 0.5
		finishing := candidate >= 99.9 && st.lastReported < 99.9
		// Progress is monotonic per attempt; a lower sample is stale, not
		// a regression.
		if (moved || finishing) && candidate > st.ProgressEncoding {
			st.ProgressEncoding = candidate
			st.lastReported = candidate
			p.emitProgress(st, fmt.Sprintf("Encoding: %.1f%%", candidate))
		}
	}

	if m := reSizeReduction.FindStringSubmatch(line); m != nil {
		if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
			reduction := 100 - pct
			if st.SizeReduction == nil || abs(*st.SizeReduction-reduction) > 0.1 {
				st.SizeReduction = &reduction
			}
		}
	}

	if m := reFPS.FindStringSubmatch(line); m != nil {
		st.FPS = m[1]
	}

	st.ETAText = parseETAText(line)
}

// parseETAText pulls the ETA phrase out of a line, normalized to a short
// display string. Empty when the line carries none so a stale ETA never
// lingers on screen.
func parseETAText(line string) string {
	if m := reETATime.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	if m := reETAMinSec.FindStringSubmatch(line); m != nil {
		return "0:" + m[1]
	}
	if m := reETAMin.FindStringSubmatch(line); m != nil {
		return m[1] + " min"
	}
	if m := reETASec.FindStringSubmatch(line); m != nil {
		return m[1] + " sec"
	}
	return ""
}

func (p *Parser) emitProgress(st *Stats, message string) {
	info := &ProgressInfo{
		Phase:         st.Phase,
		Quality:       st.ProgressQuality,
		Encoding:      st.ProgressEncoding,
		Message:       message,
		VMAF:          st.VMAF,
		CRF:           st.CRF,
		SizeReduction: st.SizeReduction,
		OriginalSize:  st.OriginalSize,
		ETAText:       st.ETAText,
		FPS:           st.FPS,
	}
	// The output size is a projection until the file is finished and
	// stat-able, so it is always flagged as an estimate here.
	if est := st.EstimatedOutputSize(); est > 0 {
		info.OutputSize = est
		info.IsEstimate = true
	}
	p.Callback.Emit(Event{
		File:     p.File,
		Status:   StatusProgress,
		Progress: info,
	})
}

// ParseFinalOutput re-reads the complete attempt output to backfill any
// stats the streaming pass missed: the last reported VMAF, the last Best
// CRF, and the size reduction (with an absolute-sizes fallback).
func (p *Parser) ParseFinalOutput(output string, st *Stats) {
	if ms := reFinalVMAF.FindAllStringSubmatch(output, -1); len(ms) > 0 {
		if vmaf, err := strconv.ParseFloat(ms[len(ms)-1][1], 64); err == nil {
			if st.VMAF == nil || abs(*st.VMAF-vmaf) > 0.01 {
				st.VMAF = &vmaf
			}
		}
	}

	if ms := reBestCRF.FindAllStringSubmatch(output, -1); len(ms) > 0 {
		if crf, err := strconv.Atoi(ms[len(ms)-1][1]); err == nil {
			st.CRF = &crf
		}
	}

	if ms := reSizeReduction.FindAllStringSubmatch(output, -1); len(ms) > 0 {
		if pct, err := strconv.ParseFloat(ms[len(ms)-1][1], 64); err == nil {
			reduction := 100 - pct
			if st.SizeReduction == nil || abs(*st.SizeReduction-reduction) > 0.01 {
				st.SizeReduction = &reduction
			}
		}
	} else if st.SizeReduction == nil {
		if reduction, ok := reductionFromAbsoluteSizes(output); ok {
			st.SizeReduction = &reduction
		}
	}
}

// reductionFromAbsoluteSizes derives the reduction from "Input size: X MB"
// and "Output size: Y MB" pairs when no percentage was printed.
func reductionFromAbsoluteSizes(output string) (float64, bool) {
	var inputBytes, outputBytes float64
	for _, m := range reAbsSize.FindAllStringSubmatch(output, -1) {
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		bytes := value * unitMultiplier(m[3])
		switch strings.ToLower(m[1]) {
		case "input":
			inputBytes = bytes
		case "output":
			outputBytes = bytes
		}
	}
	if inputBytes <= 0 || outputBytes <= 0 {
		return 0, false
	}
	return 100 * (1 - outputBytes/inputBytes), true
}

func unitMultiplier(unit string) float64 {
	switch strings.ToUpper(unit) {
	case "KB":
		return 1 << 10
	case "MB":
		return 1 << 20
	case "GB":
		return 1 << 30
	case "TB":
		return 1 << 40
	default:
		return 1
	}
}

var (
	reETANumber = regexp.MustCompile(`(\d+(\.\d+)?)`)
	reETAHrsMin = regexp.MustCompile(`(\d+)h\s*(\d+)m`)
	reETAParts  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(hour|minute|second|h|m|s)`)
)

// ParseETA converts a human ETA phrase to seconds. Tolerant of the formats
// ab-av1 emits ("2 hours", "87 minutes", "3h 20m", "30 seconds"); anything
// unparseable is 0.
func ParseETA(text string) float64 {
	if text == "" {
		return 0
	}
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "hour") && !strings.Contains(lower, "min"):
		if m := reETANumber.FindStringSubmatch(lower); m != nil {
			if hours, err := strconv.ParseFloat(m[1], 64); err == nil {
				return hours * 3600
			}
		}
	case strings.Contains(lower, "minute") && !strings.Contains(lower, "hour"):
		if m := reETANumber.FindStringSubmatch(lower); m != nil {
			if minutes, err := strconv.ParseFloat(m[1], 64); err == nil {
				return minutes * 60
			}
		}
	case strings.Contains(lower, "second") && !strings.Contains(lower, "hour") && !strings.Contains(lower, "min"):
		if m := reETANumber.FindStringSubmatch(lower); m != nil {
			if seconds, err := strconv.ParseFloat(m[1], 64); err == nil {
				return seconds
			}
		}
	case strings.Contains(lower, "h") && strings.Contains(lower, "m"):
		if m := reETAHrsMin.FindStringSubmatch(lower); m != nil {
			hours, _ := strconv.Atoi(m[1])
			minutes, _ := strconv.Atoi(m[2])
			return float64(hours*3600 + minutes*60)
		}
	}

	var total float64
	for _, m := range reETAParts.FindAllStringSubmatch(lower, -1) {
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		switch m[2][0] {
		case 'h':
			total += value * 3600
		case 'm':
			total += value * 60
		case 's':
			total += value
		}
	}
	if total < 0 {
		return 0
	}
	return total
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
