package history

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ConversionEntry is one completed conversion in the human-facing log. The
// log is a JSON array, separate from the index, meant for inspection and
// statistics rather than lookups. Paths may be anonymized labels.
type ConversionEntry struct {
	Timestamp        time.Time `json:"timestamp"`
	InputFile        string    `json:"input_file"`
	OutputFile       string    `json:"output_file"`
	InputSizeMB      float64   `json:"input_size_mb"`
	OutputSizeMB     float64   `json:"output_size_mb"`
	ReductionPercent float64   `json:"reduction_percent"`
	DurationSec      float64   `json:"duration_sec,omitempty"`
	ElapsedSec       float64   `json:"time_sec"`
	InputCodec       string    `json:"input_codec,omitempty"`
	FinalCRF         int       `json:"final_crf"`
	FinalVMAF        float64   `json:"final_vmaf"`
	FinalVMAFTarget  int       `json:"final_vmaf_target"`
}

// AppendConversion appends an entry to the conversion log, creating the
// file on first use. The log stays small enough that read-modify-write of
// the whole array is fine.
func AppendConversion(path string, entry ConversionEntry) error {
	var entries []ConversionEntry

	data, err := os.ReadFile(path)
	switch {
	case err == nil && len(data) > 0:
		if err := json.Unmarshal(data, &entries); err != nil {
			// A corrupt log should not block a conversion record; start over.
			entries = nil
		}
	case err != nil && !os.IsNotExist(err):
		return fmt.Errorf("failed to read conversion log: %w", err)
	}

	entries = append(entries, entry)

	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversion log: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("failed to write conversion log: %w", err)
	}
	return nil
}
