package encoder

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"ab-av1-batch/config"
)

// CleanTempDirs removes the scratch directories ab-av1 leaves behind
// (".ab-av1-*") directly under dir. Files matching the pattern are left
// alone. Returns the number of directories removed; failures are logged,
// never fatal.
func CleanTempDirs(dir string, logger zerolog.Logger) int {
	if dir == "" {
		return 0
	}

	matches, err := filepath.Glob(filepath.Join(dir, config.TempDirPattern))
	if err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("temp dir glob failed")
		return 0
	}

	cleaned := 0
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !info.IsDir() {
			continue
		}
		if err := os.RemoveAll(match); err != nil {
			logger.Warn().Err(err).Str("path", match).Msg("failed to remove temp dir")
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		logger.Info().Int("cleaned", cleaned).Str("dir", dir).Msg("removed ab-av1 temp dirs")
	}
	return cleaned
}
