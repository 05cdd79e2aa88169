package history

// Package history persists per-file conversion state between runs: what was
// scanned, what was converted, and which files were judged not worth
// converting. Records are keyed by a hash of the normalized path so the
// index file itself exposes no paths.

import (
	"os"
	"time"

	"ab-av1-batch/config"
	"ab-av1-batch/privacy"
)

// FileStatus tracks how far a file has made it through the pipeline.
type FileStatus string

const (
	// StatusScanned means the file's metadata was probed but it has not
	// been converted.
	StatusScanned FileStatus = "scanned"
	// StatusNotWorthwhile means every fallback target down to the floor
	// failed the CRF search; the file is skipped until it changes on disk.
	StatusNotWorthwhile FileStatus = "not_worthwhile"
	// StatusConverted means a verified output was produced.
	StatusConverted FileStatus = "converted"
)

// FileRecord is one entry in the index. Optional fields are pointers so a
// missing value round-trips as JSON null rather than a zero.
type FileRecord struct {
	PathHash string `json:"path_hash"`
	// OriginalPath is kept only when anonymization is off; with it on,
	// the hash is the sole identity the index stores.
	OriginalPath  string     `json:"original_path,omitempty"`
	Status        FileStatus `json:"status"`
	FileSizeBytes int64      `json:"file_size_bytes"`
	// FileMtime is seconds since the epoch with fractional precision,
	// matching what most filesystems report.
	FileMtime float64 `json:"file_mtime"`

	DurationSec *float64 `json:"duration_sec,omitempty"`
	Width       *int     `json:"width,omitempty"`
	Height      *int     `json:"height,omitempty"`
	VideoCodec  string   `json:"video_codec,omitempty"`
	AudioCodec  string   `json:"audio_codec,omitempty"`
	Container   string   `json:"container,omitempty"`
	BitrateKbps *int64   `json:"bitrate_kbps,omitempty"`

	// CRF-search results, reusable across runs while the file fingerprint
	// holds.
	BestCRF                *int     `json:"best_crf,omitempty"`
	BestVMAFAchieved       *float64 `json:"best_vmaf_achieved,omitempty"`
	PredictedOutputSize    *int64   `json:"predicted_output_size,omitempty"`
	PredictedSizeReduction *float64 `json:"predicted_size_reduction,omitempty"`
	PresetWhenAnalyzed     *int     `json:"preset_when_analyzed,omitempty"`
	VMAFTargetWhenAnalyzed *int     `json:"vmaf_target_when_analyzed,omitempty"`

	// Conversion outcome, distinct from the search prediction above so a
	// later conversion never erases what the analysis estimated.
	OutputSizeBytes   *int64   `json:"output_size_bytes,omitempty"`
	ReductionPercent  *float64 `json:"reduction_percent,omitempty"`
	ConversionTimeSec *float64 `json:"conversion_time_sec,omitempty"`
	FinalCRF          *int     `json:"final_crf,omitempty"`
	FinalVMAF         *float64 `json:"final_vmaf,omitempty"`
	VMAFTargetUsed    *int     `json:"vmaf_target_used,omitempty"`

	// NOT_WORTHWHILE detail.
	SkipReason       string `json:"skip_reason,omitempty"`
	MinVMAFAttempted *int   `json:"min_vmaf_attempted,omitempty"`

	FirstSeen   time.Time `json:"first_seen"`
	LastUpdated time.Time `json:"last_updated"`
}

// PathHash returns the index key for a path: a truncated BLAKE2b digest of
// the normalized absolute path, 16 hex characters.
func PathHash(path string) string {
	return privacy.Digest(privacy.NormalizePath(path))[:16]
}

// Valid rejects records whose numeric fields cannot be real. Corrupt or
// hand-edited index entries are dropped on load instead of poisoning a run.
func (r *FileRecord) Valid() bool {
	if r.PathHash == "" {
		return false
	}
	if r.FileSizeBytes < 0 {
		return false
	}
	if r.DurationSec != nil && *r.DurationSec < 0 {
		return false
	}
	if r.BestCRF != nil && (*r.BestCRF < 0 || *r.BestCRF > config.MaxCRF) {
		return false
	}
	if r.BestVMAFAchieved != nil && (*r.BestVMAFAchieved < 0 || *r.BestVMAFAchieved > config.MaxVMAF) {
		return false
	}
	if r.PredictedSizeReduction != nil && (*r.PredictedSizeReduction < 0 || *r.PredictedSizeReduction > 100) {
		return false
	}
	if r.FinalCRF != nil && (*r.FinalCRF < 0 || *r.FinalCRF > config.MaxCRF) {
		return false
	}
	if r.FinalVMAF != nil && (*r.FinalVMAF < 0 || *r.FinalVMAF > config.MaxVMAF) {
		return false
	}
	if r.ReductionPercent != nil && (*r.ReductionPercent < 0 || *r.ReductionPercent > 100) {
		return false
	}
	if r.Width != nil && *r.Width <= 0 {
		return false
	}
	if r.Height != nil && *r.Height <= 0 {
		return false
	}
	return true
}

// Unchanged reports whether the file on disk still matches the record's
// fingerprint: exact size and mtime within tolerance. The tolerance absorbs
// float64 precision loss from the JSON round-trip.
func Unchanged(r *FileRecord, path string) bool {
	if r == nil || r.PathHash != PathHash(path) {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.Size() != r.FileSizeBytes {
		return false
	}
	mtime := float64(info.ModTime().UnixNano()) / 1e9
	diff := mtime - r.FileMtime
	if diff < 0 {
		diff = -diff
	}
	return diff < config.MtimeTolerance.Seconds()
}

// CanReuseCRF reports whether a cached CRF-search result applies to the
// requested conversion. The preset must match exactly (different presets
// produce different quality at the same CRF) and the cached target must be
// at least as strict as the requested one.
func CanReuseCRF(r *FileRecord, desiredVMAF, desiredPreset int) bool {
	if r == nil || r.BestCRF == nil {
		return false
	}
	// Records written before presets were cached cannot be validated.
	if r.PresetWhenAnalyzed == nil || r.VMAFTargetWhenAnalyzed == nil {
		return false
	}
	if *r.PresetWhenAnalyzed != desiredPreset {
		return false
	}
	return *r.VMAFTargetWhenAnalyzed >= desiredVMAF
}

// Mtime converts a stat mtime into the record's float-seconds form.
func Mtime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
