package encoder

// Status tags an Event with the file's state change.
type Status string

const (
	StatusStarting        Status = "starting"
	StatusProgress        Status = "progress"
	StatusRetrying        Status = "retrying"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusSkipped         Status = "skipped"
	StatusSkippedNotWorth Status = "skipped_not_worth"
	StatusFileInfo        Status = "file_info"
)

// ProgressInfo carries an in-flight progress snapshot. Quality covers the
// CRF-search phase, Encoding the encode phase; both are 0-100.
type ProgressInfo struct {
	Phase         string
	Quality       float64
	Encoding      float64
	Message       string
	VMAF          *float64
	CRF           *int
	SizeReduction *float64
	OriginalSize  int64
	OutputSize    int64
	IsEstimate    bool
	ETAText       string
	FPS           string
}

// RetryInfo announces a fallback attempt with a lowered VMAF target.
type RetryInfo struct {
	Message      string
	OriginalVMAF int
	FallbackVMAF int
}

// ErrorInfo describes a failed conversion.
type ErrorInfo struct {
	Message string
	Type    string
	Details string
	Command string
}

// SkipInfo describes a skipped file.
type SkipInfo struct {
	Reason           string
	OriginalSize     int64
	MinVMAFAttempted int
}

// CompletedInfo describes a finished conversion.
type CompletedInfo struct {
	Message        string
	VMAF           *float64
	CRF            *int
	VMAFTargetUsed int
	SizeReduction  *float64
	OutputSize     int64
	OutputPath     string
}

// FileInfo carries initial metadata, sent once before work starts.
type FileInfo struct {
	SizeBytes int64
}

// Event is one status update for one file. Exactly one payload field is
// non-nil, matching the Status tag.
type Event struct {
	File   string
	Status Status

	Progress  *ProgressInfo
	Retry     *RetryInfo
	Error     *ErrorInfo
	Skip      *SkipInfo
	Completed *CompletedInfo
	Info      *FileInfo
}

// Callback receives events during a conversion. A nil Callback is always
// legal; Emit handles that.
type Callback func(Event)

// Emit invokes the callback when one is set.
func (cb Callback) Emit(ev Event) {
	if cb != nil {
		cb(ev)
	}
}
