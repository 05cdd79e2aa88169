package probe

// Package probe extracts media metadata with the ffprobe command-line tool.

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// Stream represents a media stream (audio, video, subtitle, etc.)
type Stream struct {
	Index         int    `json:"index"`
	CodecName     string `json:"codec_name"`
	CodecType     string `json:"codec_type"`
	CodecLongName string `json:"codec_long_name"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	Duration      string `json:"duration,omitempty"`
}

// Format represents the container format information.
type Format struct {
	Filename       string `json:"filename"`
	FormatName     string `json:"format_name"`
	FormatLongName string `json:"format_long_name"`
	Duration       string `json:"duration"`
	Size           string `json:"size"`
	BitRate        string `json:"bit_rate"`
}

// Result holds the metadata extracted from a media file.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Func probes a media file. Code that only needs to probe takes a Func so
// tests can substitute canned results for the real ffprobe invocation.
type Func func(ctx context.Context, path string) (*Result, error)

// Duration returns the container duration in seconds.
func (r *Result) Duration() (float64, error) {
	if r.Format.Duration == "" {
		return 0, fmt.Errorf("duration not available in format metadata")
	}

	duration, err := strconv.ParseFloat(r.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration '%s': %w", r.Format.Duration, err)
	}

	return duration, nil
}

// SizeBytes returns the container size in bytes, or 0 when unavailable.
func (r *Result) SizeBytes() int64 {
	size, err := strconv.ParseInt(r.Format.Size, 10, 64)
	if err != nil {
		return 0
	}
	return size
}

// BitrateKbps returns the overall bitrate in kilobits per second, or 0 when
// unavailable.
func (r *Result) BitrateKbps() int64 {
	rate, err := strconv.ParseInt(r.Format.BitRate, 10, 64)
	if err != nil {
		return 0
	}
	return rate / 1000
}

// FirstVideoStream returns the first video stream, or nil when the file has
// none (audio-only containers, corrupt files).
func (r *Result) FirstVideoStream() *Stream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "video" {
			return &r.Streams[i]
		}
	}
	return nil
}

// FirstAudioStream returns the first audio stream, or nil for silent files.
func (r *Result) FirstAudioStream() *Stream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "audio" {
			return &r.Streams[i]
		}
	}
	return nil
}

// Probe analyzes a media file with ffprobe and parses its JSON output.
func Probe(ctx context.Context, sourcePath string) (*Result, error) {
	if sourcePath == "" {
		return nil, fmt.Errorf("source path cannot be empty")
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		sourcePath,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w (output: %s)", err, string(output))
	}

	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe JSON output: %w", err)
	}

	return &result, nil
}
