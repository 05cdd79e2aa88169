// Package worker drives a batch run: scan every candidate file, then
// convert the ones that need it, one at a time. A failure on one file never
// stops the batch.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ab-av1-batch/config"
	"ab-av1-batch/encoder"
	"ab-av1-batch/history"
	"ab-av1-batch/privacy"
	"ab-av1-batch/scanner"
)

// Summary totals one batch run.
type Summary struct {
	Found         int
	Skipped       int
	NotWorthwhile int
	Converted     int
	Failed        int
	BytesIn       int64
	BytesOut      int64
}

// item is one file that passed the scan.
type item struct {
	input    string
	output   string
	decision scanner.Decision
}

// Encoder is what the worker needs from the conversion runner.
type Encoder interface {
	AutoEncode(ctx context.Context, input, output string, totalDurationSec float64) (*encoder.Stats, error)
	EncodeWithCRF(ctx context.Context, input, output string, crf int, totalDurationSec float64) (*encoder.Stats, error)
}

// Worker runs the batch.
type Worker struct {
	Cfg      *config.Config
	Index    *history.Index
	Scanner  *scanner.Scanner
	Runner   Encoder
	Anon     *privacy.Anonymizer
	Callback encoder.Callback
	Logger   zerolog.Logger

	pid   atomic.Int64
	found atomic.Int64
	done  atomic.Int64
}

// Processed reports how many files have been resolved so far out of the
// total discovered. Safe to call from another goroutine while Run is active.
func (w *Worker) Processed() (done, found int) {
	return int(w.done.Load()), int(w.found.Load())
}

// CurrentPID returns the PID of the running ab-av1 child, or 0. The hard
// cancellation path kills this directly instead of waiting for the context
// to unwind.
func (w *Worker) CurrentPID() int {
	return int(w.pid.Load())
}

// TrackPID is wired as the Runner's PIDCallback.
func (w *Worker) TrackPID(pid int) {
	w.pid.Store(int64(pid))
}

// Run executes the batch: discovery, scan phase, then sequential
// conversion. Cancellation is honored between files; the in-flight
// subprocess dies with the context.
func (w *Worker) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	files, err := scanner.FindVideoFiles(w.Cfg.InputFolder, w.Cfg.Extensions)
	if err != nil {
		return sum, fmt.Errorf("failed to enumerate input folder: %w", err)
	}
	sum.Found = len(files)
	w.found.Store(int64(len(files)))
	w.done.Store(0)
	w.Logger.Info().Int("files", len(files)).Msg("scan starting")

	var queue []item
	for _, input := range files {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}

		output := scanner.OutputPath(input, w.Cfg.InputFolder, w.Cfg.OutputFolder)
		d := w.Scanner.Scan(ctx, input, output, w.Cfg.Overwrite)
		if !d.Needs {
			sum.Skipped++
			w.done.Add(1)
			skip := encoder.SkipInfo{Reason: d.Reason}
			if d.Record != nil {
				skip.OriginalSize = d.Record.FileSizeBytes
			}
			w.Callback.Emit(encoder.Event{
				File:   filepath.Base(input),
				Status: encoder.StatusSkipped,
				Skip:   &skip,
			})
			continue
		}

		// A not-worthwhile verdict sticks while the file is unchanged.
		if d.CacheHit && d.Record != nil && d.Record.Status == history.StatusNotWorthwhile {
			sum.NotWorthwhile++
			w.done.Add(1)
			w.emitNotWorth(input, d.Record)
			continue
		}

		queue = append(queue, item{input: input, output: output, decision: d})
	}
	if err := w.Index.Save(); err != nil {
		w.Logger.Error().Err(err).Msg("failed to save history after scan")
	}
	w.Logger.Info().Int("queued", len(queue)).Int("skipped", sum.Skipped).Msg("scan finished")

	for _, it := range queue {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		w.convertOne(ctx, it, &sum)
		w.done.Add(1)
		if err := w.Index.Save(); err != nil {
			w.Logger.Error().Err(err).Msg("failed to save history")
		}
	}

	w.Logger.Info().
		Int("converted", sum.Converted).
		Int("skipped", sum.Skipped).
		Int("not_worthwhile", sum.NotWorthwhile).
		Int("failed", sum.Failed).
		Msg("batch finished")
	return sum, ctx.Err()
}

// convertOne runs one conversion with full failure isolation: errors and
// panics are recorded against the file and the batch moves on.
func (w *Worker) convertOne(ctx context.Context, it item, sum *Summary) {
	defer func() {
		w.pid.Store(0)
		if r := recover(); r != nil {
			sum.Failed++
			w.Logger.Error().Interface("panic", r).Str("file", it.input).Msg("conversion panicked")
			w.Callback.Emit(encoder.Event{
				File:   filepath.Base(it.input),
				Status: encoder.StatusFailed,
				Error:  &encoder.ErrorInfo{Message: fmt.Sprintf("internal error: %v", r), Type: "internal_error"},
			})
		}
	}()

	rec := it.decision.Record
	var totalDuration float64
	if rec != nil && rec.DurationSec != nil {
		totalDuration = *rec.DurationSec
	}
	if info, err := os.Stat(it.input); err == nil {
		w.Callback.Emit(encoder.Event{
			File:   filepath.Base(it.input),
			Status: encoder.StatusFileInfo,
			Info:   &encoder.FileInfo{SizeBytes: info.Size()},
		})
	}

	start := time.Now()
	var stats *encoder.Stats
	var err error

	reusedCRF := it.decision.CacheHit && history.CanReuseCRF(rec, w.Cfg.TargetVMAF, w.Cfg.Preset)
	if reusedCRF {
		w.Logger.Info().Int("crf", *rec.BestCRF).Str("file", it.input).Msg("reusing cached CRF")
		stats, err = w.Runner.EncodeWithCRF(ctx, it.input, it.output, *rec.BestCRF, totalDuration)
	} else {
		stats, err = w.Runner.AutoEncode(ctx, it.input, it.output, totalDuration)
	}
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		sum.Converted++
		w.recordConverted(it, rec, stats, elapsed, reusedCRF, sum)
	case encoder.IsNotWorthwhile(err):
		sum.NotWorthwhile++
		w.recordNotWorthwhile(it, rec, err)
	case ctx.Err() != nil:
		// Cancelled mid-encode; the runner already cleaned up what it could.
		w.Logger.Info().Str("file", it.input).Msg("conversion cancelled")
	default:
		sum.Failed++
		w.Logger.Error().Err(err).Str("file", it.input).Msg("conversion failed")
	}
}

func (w *Worker) recordConverted(it item, rec *history.FileRecord, stats *encoder.Stats, elapsed float64, reusedCRF bool, sum *Summary) {
	now := time.Now()
	if rec == nil {
		rec = w.freshRecord(it.input, now)
	}
	rec.Status = history.StatusConverted
	rec.LastUpdated = now

	// An auto-encode runs the CRF search, so its result doubles as the
	// analysis. A cached-CRF encode skipped the search and must leave the
	// cached prediction alone.
	if !reusedCRF {
		rec.BestCRF = stats.CRF
		rec.BestVMAFAchieved = stats.VMAF
		rec.PredictedSizeReduction = stats.SizeReduction
		if est := stats.EstimatedOutputSize(); est > 0 {
			rec.PredictedOutputSize = &est
		}
		preset := w.Cfg.Preset
		rec.PresetWhenAnalyzed = &preset
		target := stats.VMAFTargetUsed
		rec.VMAFTargetWhenAnalyzed = &target
	}

	rec.FinalCRF = stats.CRF
	rec.FinalVMAF = stats.VMAF
	targetUsed := stats.VMAFTargetUsed
	rec.VMAFTargetUsed = &targetUsed
	rec.ConversionTimeSec = &elapsed

	var outputSize int64
	if info, err := os.Stat(it.output); err == nil {
		outputSize = info.Size()
		rec.OutputSizeBytes = &outputSize
	}
	var reduction float64
	if stats.OriginalSize > 0 && outputSize > 0 {
		reduction = 100 * (1 - float64(outputSize)/float64(stats.OriginalSize))
	} else if stats.SizeReduction != nil {
		reduction = *stats.SizeReduction
	}
	if reduction > 0 {
		rec.ReductionPercent = &reduction
	}
	w.Index.Upsert(rec)

	sum.BytesIn += stats.OriginalSize
	sum.BytesOut += outputSize

	entry := history.ConversionEntry{
		Timestamp:       now.UTC(),
		InputFile:       privacy.Describe(w.Anon, w.Cfg.Anonymize, it.input),
		OutputFile:      privacy.Describe(w.Anon, w.Cfg.Anonymize, it.output),
		InputSizeMB:     float64(stats.OriginalSize) / (1 << 20),
		OutputSizeMB:    float64(outputSize) / (1 << 20),
		ElapsedSec:      elapsed,
		InputCodec:      rec.VideoCodec,
		FinalVMAFTarget: stats.VMAFTargetUsed,
	}
	if stats.CRF != nil {
		entry.FinalCRF = *stats.CRF
	}
	if stats.VMAF != nil {
		entry.FinalVMAF = *stats.VMAF
	}
	entry.ReductionPercent = reduction
	if rec.DurationSec != nil {
		entry.DurationSec = *rec.DurationSec
	}
	if err := history.AppendConversion(w.Cfg.ConversionLogFile, entry); err != nil {
		w.Logger.Error().Err(err).Msg("failed to append conversion log")
	}

	if w.Cfg.DeleteOriginal && !samePath(it.input, it.output) {
		if err := os.Remove(it.input); err != nil {
			w.Logger.Warn().Err(err).Str("file", it.input).Msg("failed to delete original")
		} else {
			w.Logger.Info().Str("file", it.input).Msg("deleted original")
		}
	}
}

// freshRecord builds a minimal record for a file the scanner never probed
// (probe failure, forced conversion).
func (w *Worker) freshRecord(input string, now time.Time) *history.FileRecord {
	rec := &history.FileRecord{PathHash: history.PathHash(input), FirstSeen: now}
	if !w.Cfg.Anonymize {
		rec.OriginalPath = privacy.NormalizePath(input)
	}
	if info, err := os.Stat(input); err == nil {
		rec.FileSizeBytes = info.Size()
		rec.FileMtime = history.Mtime(info.ModTime())
	}
	return rec
}

func (w *Worker) recordNotWorthwhile(it item, rec *history.FileRecord, convErr error) {
	now := time.Now()
	if rec == nil {
		rec = w.freshRecord(it.input, now)
	}
	rec.Status = history.StatusNotWorthwhile
	rec.LastUpdated = now
	rec.SkipReason = convErr.Error()
	floor := w.Cfg.MinVMAF
	rec.MinVMAFAttempted = &floor
	w.Index.Upsert(rec)
}

func (w *Worker) emitNotWorth(input string, rec *history.FileRecord) {
	minAttempted := 0
	if rec.MinVMAFAttempted != nil {
		minAttempted = *rec.MinVMAFAttempted
	}
	w.Callback.Emit(encoder.Event{
		File:   filepath.Base(input),
		Status: encoder.StatusSkippedNotWorth,
		Skip: &encoder.SkipInfo{
			Reason:           rec.SkipReason,
			OriginalSize:     rec.FileSizeBytes,
			MinVMAFAttempted: minAttempted,
		},
	})
}

func samePath(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return a == b
	}
	return aa == bb
}
