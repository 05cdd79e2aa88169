package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"ab-av1-batch/config"
	"ab-av1-batch/encoder"
	"ab-av1-batch/history"
	"ab-av1-batch/logging"
	"ab-av1-batch/privacy"
	"ab-av1-batch/probe"
	"ab-av1-batch/scanner"
	"ab-av1-batch/tui"
	"ab-av1-batch/worker"
)

func main() {
	inputFlag := flag.String("input", "", "Folder to scan for video files")
	outputFlag := flag.String("output", "", "Folder for converted files (empty: convert in place)")
	configFlag := flag.String("config", "", "Path to a YAML config file")
	presetFlag := flag.Int("preset", config.DefaultPreset, "SVT-AV1 preset (0-13)")
	vmafFlag := flag.Int("vmaf", config.DefaultVMAFTarget, "Target VMAF for the first attempt")
	minVMAFFlag := flag.Int("min-vmaf", config.DefaultMinVMAF, "Lowest VMAF target before giving up on a file")
	overwriteFlag := flag.Bool("overwrite", false, "Convert even when the output file already exists")
	deleteFlag := flag.Bool("delete-original", false, "Delete the source after a verified conversion")
	extensionsFlag := flag.String("extensions", "", "Comma-separated list of input extensions")
	anonymizeFlag := flag.Bool("anonymize", false, "Anonymize file and folder names in logs")
	noTUIFlag := flag.Bool("no-tui", false, "Run headless, printing progress as log lines")
	writeConfigFlag := flag.String("write-config", "", "Write the resolved configuration to a YAML file and exit")

	flag.Usage = func() {
		fmt.Println("Usage: ab-av1-batch [options] [input-folder]")
		fmt.Println()
		fmt.Println("Batch-converts a video library to AV1/MKV using ab-av1's")
		fmt.Println("VMAF-targeted CRF search, with per-file history so repeat runs")
		fmt.Println("only touch new or changed files.")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  ab-av1-batch /media/movies                  # Convert in place")
		fmt.Println("  ab-av1-batch -output /media/av1 /media/src  # Mirror into another tree")
		fmt.Println("  ab-av1-batch -vmaf 93 -no-tui /media/src    # Headless, lower target")
	}

	flag.Parse()

	cfg, err := resolveConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Flags set on the command line win over the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.InputFolder = *inputFlag
		case "output":
			cfg.OutputFolder = *outputFlag
		case "preset":
			cfg.Preset = *presetFlag
		case "vmaf":
			cfg.TargetVMAF = *vmafFlag
		case "min-vmaf":
			cfg.MinVMAF = *minVMAFFlag
		case "overwrite":
			cfg.Overwrite = *overwriteFlag
		case "delete-original":
			cfg.DeleteOriginal = *deleteFlag
		case "extensions":
			cfg.Extensions = splitExtensions(*extensionsFlag)
		case "anonymize":
			cfg.Anonymize = *anonymizeFlag
		}
	})
	if cfg.InputFolder == "" && flag.NArg() > 0 {
		cfg.InputFolder = flag.Arg(0)
	}

	if *writeConfigFlag != "" {
		if err := config.SaveConfigFile(cfg, *writeConfigFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", *writeConfigFlag)
		return
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}
	if info, err := os.Stat(cfg.InputFolder); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "Error: input folder not found: %s\n", cfg.InputFolder)
		os.Exit(1)
	}

	var anon *privacy.Anonymizer
	if cfg.Anonymize {
		anon = privacy.New(cfg.InputFolder, cfg.OutputFolder)
	}

	logger, closeLog, err := logging.Setup(cfg.LogFile, zerolog.InfoLevel, anon)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot open log file: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	index := history.NewIndex(cfg.HistoryFile, logger)
	if err := index.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot load history: %v\n", err)
		os.Exit(1)
	}

	w := &worker.Worker{
		Cfg:   cfg,
		Index: index,
		Scanner: &scanner.Scanner{
			Index:     index,
			Prober:    probe.Probe,
			MinWidth:  cfg.MinWidth,
			MinHeight: cfg.MinHeight,
			Anonymize: cfg.Anonymize,
			Logger:    logger,
		},
		Anon:   anon,
		Logger: logger,
	}
	// The runner forwards through the worker's callback so the front end
	// can swap it without rebuilding the pipeline.
	runner := encoder.NewRunner(cfg, probe.Probe, func(ev encoder.Event) {
		w.Callback.Emit(ev)
	}, logger)
	runner.PIDCallback = w.TrackPID
	w.Runner = runner

	logger.Info().
		Str("input", privacy.Describe(anon, cfg.Anonymize, cfg.InputFolder)).
		Int("target_vmaf", cfg.TargetVMAF).
		Int("min_vmaf", cfg.MinVMAF).
		Int("preset", cfg.Preset).
		Msg("starting batch")

	var sum worker.Summary
	if *noTUIFlag {
		sum, err = runHeadless(w)
	} else {
		sum, err = tui.Run(w)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d, converted %d, skipped %d, not worthwhile %d, failed %d\n",
		sum.Found, sum.Converted, sum.Skipped, sum.NotWorthwhile, sum.Failed)
	if sum.Failed > 0 {
		os.Exit(1)
	}
}

// resolveConfig loads the config file, explicit path first, then the
// standard locations, then built-in defaults.
func resolveConfig(explicit string) (*config.Config, error) {
	if explicit != "" {
		return config.LoadConfigFile(explicit)
	}
	if path := config.FindConfigFile(); path != "" {
		return config.LoadConfigFile(path)
	}
	return config.DefaultConfig(), nil
}

func splitExtensions(raw string) []string {
	var exts []string
	for _, e := range strings.Split(raw, ",") {
		e = strings.TrimSpace(strings.TrimPrefix(e, "."))
		if e != "" {
			exts = append(exts, e)
		}
	}
	return exts
}

// runHeadless runs the batch without the TUI, printing one line per event.
func runHeadless(w *worker.Worker) (worker.Summary, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w.Callback = printEvent
	sum, err := w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		// Interrupted runs still report what they finished.
		fmt.Println("interrupted")
		return sum, nil
	}
	return sum, err
}

func printEvent(ev encoder.Event) {
	switch ev.Status {
	case encoder.StatusStarting:
		if ev.Progress != nil {
			fmt.Printf("%s: %s\n", ev.File, ev.Progress.Message)
		}
	case encoder.StatusRetrying:
		if ev.Retry != nil {
			fmt.Printf("%s: %s\n", ev.File, ev.Retry.Message)
		}
	case encoder.StatusCompleted:
		if ev.Completed != nil {
			fmt.Printf("%s: %s\n", ev.File, ev.Completed.Message)
		}
	case encoder.StatusFailed:
		if ev.Error != nil {
			fmt.Printf("%s: failed: %s\n", ev.File, ev.Error.Message)
		}
	case encoder.StatusSkipped:
		if ev.Skip != nil {
			fmt.Printf("%s: skipped (%s)\n", ev.File, ev.Skip.Reason)
		}
	case encoder.StatusSkippedNotWorth:
		if ev.Skip != nil {
			fmt.Printf("%s: not worthwhile (%s)\n", ev.File, ev.Skip.Reason)
		}
	}
}
