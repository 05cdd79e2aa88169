package encoder

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"ab-av1-batch/config"
)

// Kind groups error types by which part of the pipeline misbehaved.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInput covers unreadable, missing, or non-video inputs.
	KindInput
	// KindOutput covers output directory and rename failures.
	KindOutput
	// KindVMAF covers VMAF measurement failures.
	KindVMAF
	// KindEncoding covers encode and CRF-search failures.
	KindEncoding
	// KindNotWorthwhile means the CRF search failed at every target down to
	// the floor. Not an error in the file, a property of it.
	KindNotWorthwhile
)

// Error is a classified ab-av1 failure with enough context to log and
// report without re-reading process output.
type Error struct {
	Kind       Kind
	Type       string
	Message    string
	Command    string
	OutputTail []string
}

func (e *Error) Error() string {
	return e.Message
}

// IsNotWorthwhile reports whether err is the CRF-exhausted-at-floor outcome.
func IsNotWorthwhile(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Kind == KindNotWorthwhile
	}
	return false
}

// kindFor mirrors the error-type groupings of the known signature types.
// Unknown types fall through to KindUnknown.
func kindFor(errorType string) Kind {
	switch errorType {
	case "invalid_input_data", "file_not_found", "file_open_failed",
		"no_video_stream", "analysis_failed", "missing_input":
		return KindInput
	case "output_dir_creation_failed", "rename_failed", "output_verification_failed":
		return KindOutput
	case "vmaf_calculation_failed":
		return KindVMAF
	case "encoding_failed", "memory_error", "crf_search_failed",
		"executable_not_found", "permission_denied", "process_failed":
		return KindEncoding
	default:
		return KindUnknown
	}
}

// classifier matches process output against an ordered signature list.
// Patterns compile lazily and are cached; a bad pattern is skipped.
type classifier struct {
	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
}

var defaultClassifier = &classifier{compiled: make(map[string]*regexp.Regexp)}

func (c *classifier) pattern(expr string) *regexp.Regexp {
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.compiled[expr]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		c.compiled[expr] = nil
		return nil
	}
	c.compiled[expr] = re
	return re
}

// Classify returns the first signature whose pattern matches the output,
// scanning top to bottom. No match returns an "unknown" signature.
func Classify(output string, signatures []config.FailureSignature) config.FailureSignature {
	for _, sig := range signatures {
		re := defaultClassifier.pattern(sig.Pattern)
		if re != nil && re.MatchString(output) {
			return sig
		}
	}
	return config.FailureSignature{Type: "unknown", Details: "Unknown error"}
}

// newError builds a classified Error with the last lines of output attached.
func newError(sig config.FailureSignature, command, output string, returnCode int) *Error {
	return &Error{
		Kind:       kindFor(sig.Type),
		Type:       sig.Type,
		Message:    fmt.Sprintf("ab-av1 failed (rc=%d): %s", returnCode, sig.Details),
		Command:    command,
		OutputTail: outputTail(output, 20),
	}
}

func outputTail(output string, n int) []string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
