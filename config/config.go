package config

import (
	"fmt"
	"strings"
	"time"
)

// Encoding defaults. ab-av1 drives SVT-AV1, so the preset range matches
// SVT-AV1 (0-13, lower = slower/better).
const (
	// DefaultVMAFTarget is the VMAF score requested on the first attempt.
	DefaultVMAFTarget = 95
	// DefaultMinVMAF is the floor for the fallback loop. Targets above ~90
	// can be unreachable for already-compressed sources; below 90 the
	// quality trade is no longer worth making automatically.
	DefaultMinVMAF = 90
	// DefaultVMAFStep is how much the target drops per fallback attempt.
	DefaultVMAFStep = 1
	// DefaultPreset is SVT-AV1 preset 6 (balanced speed/quality).
	DefaultPreset = 6
)

const (
	// MinResolutionWidth/Height: files smaller than 720p gain too little
	// from AV1 to justify the encode time.
	MinResolutionWidth  = 1280
	MinResolutionHeight = 720

	// MinOutputFileSize is the smallest output considered a real encode.
	// ab-av1 can exit 0 having written a stub on some failure paths.
	MinOutputFileSize = 1024

	// MtimeTolerance absorbs float64 precision loss when mtimes round-trip
	// through the JSON history file.
	MtimeTolerance = time.Millisecond

	// ProcessWaitTimeout bounds the wait for process exit after its output
	// pipe closes. Some ffmpeg builds close the pipe and then hang.
	ProcessWaitTimeout = 30 * time.Second

	// TempDirPattern matches the scratch directories ab-av1 creates next to
	// its output and sometimes leaves behind.
	TempDirPattern = ".ab-av1-*"
)

// MaxCRF and MaxVMAF bound record validation when loading history.
const (
	MaxCRF  = 63
	MaxVMAF = 100
)

// FailureSignature classifies one known failure shape in ab-av1/ffmpeg
// output. Signatures are data, not code: the tool's wording drifts between
// versions, and a config file can extend or replace the defaults.
type FailureSignature struct {
	// Pattern is a case-insensitive regular expression matched against the
	// full captured process output.
	Pattern string `yaml:"pattern"`
	// Type is the machine-readable error tag (e.g. "crf_search_failed").
	Type string `yaml:"type"`
	// Details is the human-readable summary attached to the error.
	Details string `yaml:"details"`
}

// DefaultFailureSignatures returns the known failure shapes in match order.
// First match wins, so specific input problems come before generic ones.
func DefaultFailureSignatures() []FailureSignature {
	return []FailureSignature{
		{Pattern: `ffmpeg.*?:\s*Invalid\s+data\s+found`, Type: "invalid_input_data", Details: "Invalid data in input"},
		{Pattern: `No\s+such\s+file\s+or\s+directory`, Type: "file_not_found", Details: "Input not found or inaccessible"},
		{Pattern: `failed\s+to\s+open\s+file`, Type: "file_open_failed", Details: "Failed to open input"},
		{Pattern: `permission\s+denied`, Type: "permission_denied", Details: "Permission denied"},
		{Pattern: `vmaf\s+.*?error`, Type: "vmaf_calculation_failed", Details: "VMAF calculation failed"},
		{Pattern: `out\s+of\s+memory`, Type: "memory_error", Details: "Out of memory"},
		{Pattern: `Failed\s+to\s+find\s+a\s+suitable\s+crf`, Type: "crf_search_failed", Details: "Could not find a suitable CRF for the requested VMAF"},
		{Pattern: `encode\s+.*?error`, Type: "encoding_failed", Details: "Encoding failed"},
	}
}

// Config holds every setting for a batch run. Values come from flags over a
// YAML file over DefaultConfig.
type Config struct {
	// InputFolder is scanned recursively for candidate files.
	InputFolder string `yaml:"input_folder"`
	// OutputFolder receives converted files, mirroring the input tree.
	// Empty means convert in place next to the source.
	OutputFolder string `yaml:"output_folder"`
	// Extensions selects candidate files, matched case-insensitively.
	Extensions []string `yaml:"extensions"`
	// Overwrite allows replacing an existing output file.
	Overwrite bool `yaml:"overwrite"`
	// DeleteOriginal removes the source after a verified conversion.
	DeleteOriginal bool `yaml:"delete_original"`

	// TargetVMAF is the quality requested on the first attempt.
	TargetVMAF int `yaml:"target_vmaf"`
	// MinVMAF is the fallback floor; below it a file is recorded as not
	// worthwhile instead of being retried.
	MinVMAF int `yaml:"min_vmaf"`
	// VMAFStep is the decrement per fallback attempt.
	VMAFStep int `yaml:"vmaf_step"`
	// Preset is the SVT-AV1 preset passed through to ab-av1 (0-13).
	Preset int `yaml:"preset"`

	// MinWidth/MinHeight skip low-resolution sources.
	MinWidth  int `yaml:"min_width"`
	MinHeight int `yaml:"min_height"`

	// Anonymize replaces paths with stable hashes in logs and history.
	Anonymize bool `yaml:"anonymize"`

	// Executable is the ab-av1 binary; looked up on PATH when bare.
	Executable string `yaml:"executable"`

	// LogFile receives structured logs (the TUI owns the terminal).
	LogFile string `yaml:"log_file"`
	// HistoryFile is the persistent file-record index.
	HistoryFile string `yaml:"history_file"`
	// ConversionLogFile is the append-only log of completed conversions.
	ConversionLogFile string `yaml:"conversion_log_file"`

	// FailureSignatures overrides DefaultFailureSignatures when non-empty.
	FailureSignatures []FailureSignature `yaml:"failure_signatures"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Extensions:        []string{"mp4", "mkv", "avi", "mov", "wmv", "webm"},
		TargetVMAF:        DefaultVMAFTarget,
		MinVMAF:           DefaultMinVMAF,
		VMAFStep:          DefaultVMAFStep,
		Preset:            DefaultPreset,
		MinWidth:          MinResolutionWidth,
		MinHeight:         MinResolutionHeight,
		Executable:        "ab-av1",
		LogFile:           "ab-av1-batch.log",
		HistoryFile:       "conversion_index.json",
		ConversionLogFile: "conversion_history.json",
	}
}

// Signatures returns the effective failure-signature list.
func (c *Config) Signatures() []FailureSignature {
	if len(c.FailureSignatures) > 0 {
		return c.FailureSignatures
	}
	return DefaultFailureSignatures()
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.InputFolder) == "" {
		return fmt.Errorf("input folder is required")
	}
	if len(c.Extensions) == 0 {
		return fmt.Errorf("at least one file extension is required")
	}
	if c.TargetVMAF < c.MinVMAF {
		return fmt.Errorf("target VMAF %d is below the fallback floor %d", c.TargetVMAF, c.MinVMAF)
	}
	if c.TargetVMAF > MaxVMAF {
		return fmt.Errorf("target VMAF %d exceeds maximum %d", c.TargetVMAF, MaxVMAF)
	}
	if c.VMAFStep < 1 {
		return fmt.Errorf("VMAF fallback step must be at least 1, got %d", c.VMAFStep)
	}
	if c.Preset < 0 || c.Preset > 13 {
		return fmt.Errorf("preset must be 0-13, got %d", c.Preset)
	}
	if c.MinWidth < 0 || c.MinHeight < 0 {
		return fmt.Errorf("minimum resolution cannot be negative")
	}
	return nil
}
