package privacy

// Package privacy replaces file paths with stable BLAKE2b hashes so logs and
// history files can be shared without exposing a media library's contents.

import (
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"
)

const hashLength = 12

// NormalizePath makes a path suitable for consistent hashing: absolute,
// cleaned, forward slashes only.
func NormalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return filepath.ToSlash(abs)
}

// Digest computes the full BLAKE2b-256 hex digest of a string.
func Digest(value string) string {
	sum := blake2b.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// Hash is Digest truncated to a short display-friendly label.
func Hash(value string) string {
	return Digest(value)[:hashLength]
}

// Anonymizer maps folders and filenames to stable hash labels. The
// configured input and output folders get readable labels instead of hashes.
// Safe for concurrent use.
type Anonymizer struct {
	inputFolder  string
	outputFolder string

	mu    sync.Mutex
	cache map[string]string
}

// New returns an Anonymizer that labels the given folders as
// "[input_folder]" and "[output_folder]". Either may be empty.
func New(inputFolder, outputFolder string) *Anonymizer {
	a := &Anonymizer{cache: make(map[string]string)}
	if inputFolder != "" {
		a.inputFolder = NormalizePath(inputFolder)
	}
	if outputFolder != "" {
		a.outputFolder = NormalizePath(outputFolder)
	}
	return a
}

// Folder anonymizes a directory path.
func (a *Anonymizer) Folder(folder string) string {
	if folder == "" {
		return "[unknown]"
	}

	normalized := NormalizePath(folder)
	if a.inputFolder != "" && normalized == a.inputFolder {
		return "[input_folder]"
	}
	if a.outputFolder != "" && normalized == a.outputFolder {
		return "[output_folder]"
	}

	return a.memo("folder:"+normalized, func() string {
		return "folder_" + Hash(normalized)
	})
}

// File anonymizes a bare filename, preserving its extension.
func (a *Anonymizer) File(filename string) string {
	if filename == "" {
		return "file_unknown"
	}

	base := filepath.Base(filename)
	return a.memo("file:"+base, func() string {
		ext := filepath.Ext(base)
		name := strings.TrimSuffix(base, ext)
		return "file_" + Hash(name) + ext
	})
}

// Path anonymizes a full file path, folder and filename separately.
func (a *Anonymizer) Path(path string) string {
	if path == "" {
		return "[unknown]/file_unknown"
	}
	return a.Folder(filepath.Dir(path)) + "/" + a.File(filepath.Base(path))
}

// Anonymize dispatches on shape: full paths hash both components, bare
// filenames hash alone.
func (a *Anonymizer) Anonymize(s string) string {
	if s == "" {
		return s
	}
	if filepath.Dir(s) != "." {
		return a.Path(s)
	}
	return a.File(s)
}

func (a *Anonymizer) memo(key string, compute func() string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.cache[key]; ok {
		return v
	}
	v := compute()
	a.cache[key] = v
	return v
}

// Patterns that locate paths and media filenames inside free-form text such
// as subprocess output.
var pathPatterns = []*regexp.Regexp{
	// Windows drive paths
	regexp.MustCompile(`[A-Za-z]:[\\/][^\s"'<>|*?\n]+`),
	// UNC paths
	regexp.MustCompile(`\\\\[^\s"'<>|*?\n]+`),
	// Unix absolute paths with common roots
	regexp.MustCompile(`/(?:home|Users|mnt|media|var|tmp|opt|usr|root|srv|run|data)[^\s"'<>|*?\n]*`),
	// Bare video filenames
	regexp.MustCompile(`(?i)[^\s"'<>|*?\n/\\]+\.(?:mp4|mkv|avi|wmv|mov|webm)`),
}

const maxExtensionLength = 5

// Sanitize rewrites every path-looking substring in a message. Used on log
// lines and captured process output before they leave the process.
func (a *Anonymizer) Sanitize(msg string) string {
	for _, pattern := range pathPatterns {
		msg = pattern.ReplaceAllStringFunc(msg, func(match string) string {
			ext := filepath.Ext(match)
			if ext != "" && len(ext) <= maxExtensionLength {
				return a.Anonymize(match)
			}
			return a.Folder(match)
		})
	}
	return msg
}

// Describe returns either the anonymized or the plain path depending on the
// enabled flag, so call sites stay free of conditionals.
func Describe(a *Anonymizer, enabled bool, path string) string {
	if enabled && a != nil {
		return a.Path(path)
	}
	return path
}
