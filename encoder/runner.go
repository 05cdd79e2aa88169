package encoder

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ab-av1-batch/config"
	"ab-av1-batch/probe"
)

// launchFunc runs one ab-av1 invocation: argv[0] is the executable. Lines
// of combined stdout+stderr go to lineFn as they arrive, the child PID to
// pidFn once started. Returns the full output and the exit code. A non-nil
// error means the process could not be run at all.
type launchFunc func(ctx context.Context, argv []string, dir string, waitTimeout time.Duration, pidFn func(int), lineFn func(string)) (string, int, error)

// Runner drives ab-av1 for one file at a time: the auto-encode fallback
// loop, output verification, and temp cleanup.
type Runner struct {
	cfg      *config.Config
	prober   probe.Func
	logger   zerolog.Logger
	callback Callback

	// PIDCallback receives the child PID of each attempt, for hard kills.
	PIDCallback func(int)

	launch launchFunc
}

// NewRunner wires a Runner against the real ab-av1 subprocess.
func NewRunner(cfg *config.Config, prober probe.Func, callback Callback, logger zerolog.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		prober:   prober,
		logger:   logger,
		callback: callback,
		launch:   runProcess,
	}
}

// AutoEncode converts input to output with ab-av1 auto-encode, lowering the
// VMAF target one step at a time when the CRF search fails, down to the
// configured floor. Returns the final attempt's stats on success. A
// not-worthwhile outcome is an *Error with KindNotWorthwhile.
func (r *Runner) AutoEncode(ctx context.Context, input, output string, totalDurationSec float64) (*Stats, error) {
	originalSize, err := r.checkInput(ctx, input)
	if err != nil {
		return nil, r.fail(input, err)
	}

	output, tempOutput, err := r.prepareOutput(input, output)
	if err != nil {
		return nil, r.fail(input, err)
	}

	stats := NewStats(originalSize, r.cfg.TargetVMAF, totalDurationSec)
	parser := &Parser{File: filepath.Base(input), Callback: r.callback}

	var lastErr *Error
	var fullOutput string
	success := false

	for target := r.cfg.TargetVMAF; target >= r.cfg.MinVMAF; {
		stats.ResetAttempt(target)

		argv := []string{
			r.cfg.Executable, "auto-encode",
			"-i", input, "-o", tempOutput,
			"--preset", strconv.Itoa(r.cfg.Preset),
			"--min-vmaf", strconv.Itoa(target),
		}

		if target == r.cfg.TargetVMAF {
			r.callback.Emit(Event{File: parser.File, Status: StatusStarting, Progress: &ProgressInfo{
				Phase:   PhaseCRFSearch,
				Message: fmt.Sprintf("Detecting quality (target VMAF %d)", target),
			}})
		} else {
			r.callback.Emit(Event{File: parser.File, Status: StatusRetrying, Retry: &RetryInfo{
				Message:      fmt.Sprintf("Retrying with VMAF target: %d", target),
				OriginalVMAF: r.cfg.TargetVMAF,
				FallbackVMAF: target,
			}})
		}
		r.logger.Info().Int("vmaf_target", target).Msg("starting ab-av1 attempt")

		out, code, runErr := r.launch(ctx, argv, filepath.Dir(output), config.ProcessWaitTimeout, r.reportPID,
			func(line string) { parser.ParseLine(line, stats) })
		fullOutput = out

		if runErr != nil {
			lastErr = &Error{
				Kind:    KindEncoding,
				Type:    "process_failed",
				Message: fmt.Sprintf("failed to run ab-av1: %v", runErr),
				Command: logCommand(argv),
			}
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if code == 0 {
			success = true
			break
		}

		sig := Classify(out, r.cfg.Signatures())
		lastErr = newError(sig, logCommand(argv), out, code)
		r.logger.Warn().Int("vmaf_target", target).Int("rc", code).Str("type", sig.Type).Msg("attempt failed")

		// Only a failed CRF search means a lower target could still work.
		if sig.Type != "crf_search_failed" {
			break
		}
		target -= r.cfg.VMAFStep
		if target < r.cfg.MinVMAF {
			lastErr = &Error{
				Kind:       KindNotWorthwhile,
				Type:       "crf_search_failed",
				Message:    fmt.Sprintf("CRF search failed down to VMAF %d", r.cfg.MinVMAF),
				Command:    lastErr.Command,
				OutputTail: lastErr.OutputTail,
			}
			break
		}
	}

	if !success {
		if lastErr == nil {
			lastErr = &Error{Kind: KindUnknown, Type: "unknown", Message: "encode failed for unknown reasons"}
		}
		return nil, r.fail(input, lastErr)
	}

	return r.finish(parser, stats, fullOutput, tempOutput, output)
}

// EncodeWithCRF converts with a known CRF, skipping the search phase. Used
// when a cached analysis still fingerprint-matches the file.
func (r *Runner) EncodeWithCRF(ctx context.Context, input, output string, crf int, totalDurationSec float64) (*Stats, error) {
	originalSize, err := r.checkInput(ctx, input)
	if err != nil {
		return nil, r.fail(input, err)
	}

	output, tempOutput, err := r.prepareOutput(input, output)
	if err != nil {
		return nil, r.fail(input, err)
	}

	stats := NewStats(originalSize, r.cfg.TargetVMAF, totalDurationSec)
	// No search phase to watch; the next phase marker flips it anyway, but
	// a cached-CRF run starts effectively quality-complete.
	stats.CRF = &crf
	stats.ProgressQuality = 100

	parser := &Parser{File: filepath.Base(input), Callback: r.callback}

	argv := []string{
		r.cfg.Executable, "encode",
		"-i", input, "-o", tempOutput,
		"--preset", strconv.Itoa(r.cfg.Preset),
		"--crf", strconv.Itoa(crf),
	}

	r.callback.Emit(Event{File: parser.File, Status: StatusStarting, Progress: &ProgressInfo{
		Phase:   PhaseEncoding,
		Quality: 100,
		Message: fmt.Sprintf("Encoding with cached CRF %d", crf),
		CRF:     &crf,
	}})
	r.logger.Info().Int("crf", crf).Msg("starting ab-av1 encode with cached CRF")

	out, code, runErr := r.launch(ctx, argv, filepath.Dir(output), config.ProcessWaitTimeout, r.reportPID,
		func(line string) { parser.ParseLine(line, stats) })
	if runErr != nil {
		return nil, r.fail(input, &Error{
			Kind:    KindEncoding,
			Type:    "process_failed",
			Message: fmt.Sprintf("failed to run ab-av1: %v", runErr),
			Command: logCommand(argv),
		})
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if code != 0 {
		sig := Classify(out, r.cfg.Signatures())
		return nil, r.fail(input, newError(sig, logCommand(argv), out, code))
	}

	return r.finish(parser, stats, out, tempOutput, output)
}

// checkInput verifies the input exists and carries a video stream.
func (r *Runner) checkInput(ctx context.Context, input string) (int64, *Error) {
	info, err := os.Stat(input)
	if err != nil {
		return 0, &Error{Kind: KindInput, Type: "missing_input", Message: fmt.Sprintf("input not found: %v", err)}
	}

	result, err := r.prober(ctx, input)
	if err != nil {
		return 0, &Error{Kind: KindInput, Type: "analysis_failed", Message: fmt.Sprintf("failed to analyze input: %v", err)}
	}
	if result.FirstVideoStream() == nil {
		return 0, &Error{Kind: KindInput, Type: "no_video_stream", Message: "input has no video stream"}
	}
	return info.Size(), nil
}

// prepareOutput forces the .mkv extension, creates the output directory,
// and returns the temp path the encode writes to.
func (r *Runner) prepareOutput(input, output string) (string, string, *Error) {
	if !strings.EqualFold(filepath.Ext(output), ".mkv") {
		output = strings.TrimSuffix(output, filepath.Ext(output)) + ".mkv"
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return "", "", &Error{Kind: KindOutput, Type: "output_dir_creation_failed", Message: fmt.Sprintf("cannot create output dir: %v", err)}
	}
	return output, output + ".temp.mkv", nil
}

// finish runs the success path shared by both encode modes: final-output
// backfill, size verification, temp rename, cleanup, completed event.
func (r *Runner) finish(parser *Parser, stats *Stats, fullOutput, tempOutput, output string) (*Stats, error) {
	parser.ParseFinalOutput(fullOutput, stats)
	outputDir := filepath.Dir(output)

	info, err := os.Stat(tempOutput)
	if err != nil {
		return nil, r.fail(parser.File, &Error{
			Kind: KindOutput, Type: "output_verification_failed",
			Message: fmt.Sprintf("encoder reported success but output is missing: %v", err),
		})
	}
	if info.Size() < config.MinOutputFileSize {
		// A stub this small is a failed encode whatever the exit code said.
		os.Remove(tempOutput)
		return nil, r.fail(parser.File, &Error{
			Kind: KindOutput, Type: "output_verification_failed",
			Message: fmt.Sprintf("output implausibly small (%d bytes), discarded", info.Size()),
		})
	}

	if _, err := os.Stat(output); err == nil {
		r.logger.Warn().Msg("overwriting existing output")
		os.Remove(output)
	}
	if err := os.Rename(tempOutput, output); err != nil {
		CleanTempDirs(outputDir, r.logger)
		return nil, r.fail(parser.File, &Error{
			Kind: KindOutput, Type: "rename_failed",
			Message: fmt.Sprintf("failed to move temp output into place: %v", err),
		})
	}

	CleanTempDirs(outputDir, r.logger)

	completed := &CompletedInfo{
		VMAF:           stats.VMAF,
		CRF:            stats.CRF,
		VMAFTargetUsed: stats.VMAFTargetUsed,
		SizeReduction:  stats.SizeReduction,
		OutputSize:     info.Size(),
		OutputPath:     output,
	}
	if stats.VMAF != nil {
		completed.Message = fmt.Sprintf("Complete (VMAF %.2f @ Target %d)", *stats.VMAF, stats.VMAFTargetUsed)
	} else {
		completed.Message = fmt.Sprintf("Complete (Target %d)", stats.VMAFTargetUsed)
	}
	r.callback.Emit(Event{File: parser.File, Status: StatusCompleted, Completed: completed})

	r.logger.Info().
		Int("vmaf_target", stats.VMAFTargetUsed).
		Int64("output_size", info.Size()).
		Msg("encode completed")
	return stats, nil
}

// fail emits the failed (or skipped_not_worth) event and passes the error
// through for the caller.
func (r *Runner) fail(file string, e *Error) error {
	base := filepath.Base(file)
	if e.Kind == KindNotWorthwhile {
		r.callback.Emit(Event{File: base, Status: StatusSkippedNotWorth, Skip: &SkipInfo{
			Reason:           e.Message,
			MinVMAFAttempted: r.cfg.MinVMAF,
		}})
		return e
	}
	r.callback.Emit(Event{File: base, Status: StatusFailed, Error: &ErrorInfo{
		Message: e.Message,
		Type:    e.Type,
		Details: e.Message,
		Command: e.Command,
	}})
	return e
}

func (r *Runner) reportPID(pid int) {
	if r.PIDCallback != nil {
		r.PIDCallback(pid)
	}
}

// logCommand renders an argv for error context.
func logCommand(argv []string) string {
	return strings.Join(argv, " ")
}

// runProcess is the production launchFunc. stdout and stderr share one
// pipe so line order matches what a terminal would show.
func runProcess(ctx context.Context, argv []string, dir string, waitTimeout time.Duration, pidFn func(int), lineFn func(string)) (string, int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	pr, pw, err := os.Pipe()
	if err != nil {
		return "", -1, fmt.Errorf("failed to create pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return "", -1, err
	}
	// The parent's copy of the write end must close or the read loop never
	// sees EOF.
	pw.Close()

	if pidFn != nil {
		pidFn(cmd.Process.Pid)
	}

	var full strings.Builder
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		full.WriteString(line)
		full.WriteByte('\n')
		lineFn(line)
	}
	pr.Close()

	// The pipe is closed; the process should exit promptly. Some encoder
	// builds hang here, so bound the wait and kill if it expires.
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(waitTimeout):
		cmd.Process.Kill()
		<-done
	}

	return full.String(), cmd.ProcessState.ExitCode(), nil
}
