package encoder

import (
	"testing"
)

func collectEvents(events *[]Event) Callback {
	return func(ev Event) { *events = append(*events, ev) }
}

func TestPhaseTransition(t *testing.T) {
	var events []Event
	p := &Parser{File: "movie.mkv", Callback: collectEvents(&events)}
	st := NewStats(1000, 95, 0)

	p.ParseLine("crf 30 VMAF 94.5 (24%)", st)
	if st.Phase != PhaseCRFSearch {
		t.Fatalf("Expected crf-search phase, got %s", st.Phase)
	}

	p.ParseLine("[2024-01-01T00:00:00Z INFO  ab_av1::command::encode] encoding video.mkv", st)
	if st.Phase != PhaseEncoding {
		t.Fatalf("Expected encoding phase, got %s", st.Phase)
	}
	if st.ProgressQuality != 100 {
		t.Errorf("Expected quality pinned to 100 on transition, got %v", st.ProgressQuality)
	}
	if st.ProgressEncoding != 0 {
		t.Errorf("Expected encoding progress reset to 0, got %v", st.ProgressEncoding)
	}

	last := events[len(events)-1]
	if last.Status != StatusProgress || last.Progress == nil {
		t.Fatalf("Expected a progress event on transition, got %+v", last)
	}
	if last.Progress.Message != "Encoding started" {
		t.Errorf("Expected 'Encoding started' message, got %q", last.Progress.Message)
	}
}

func TestCRFSearchQualitySteps(t *testing.T) {
	p := &Parser{File: "movie.mkv"}
	st := NewStats(1000, 95, 0)

	// Each crf/vmaf sample is worth 10 points, capped at 90.
	for i := 0; i < 12; i++ {
		p.ParseLine("- crf 30 VMAF 94.51 (30%)", st)
	}
	if st.ProgressQuality != 90 {
		t.Errorf("Expected quality capped at 90, got %v", st.ProgressQuality)
	}
	if st.CRF == nil || *st.CRF != 30 {
		t.Errorf("Expected CRF 30, got %v", st.CRF)
	}
	if st.VMAF == nil || *st.VMAF != 94.51 {
		t.Errorf("Expected VMAF 94.51, got %v", st.VMAF)
	}

	p.ParseLine("Best CRF: 28 will give you VMAF 95.2", st)
	if st.ProgressQuality != 95 {
		t.Errorf("Expected quality 95 after Best CRF, got %v", st.ProgressQuality)
	}
	if st.CRF == nil || *st.CRF != 28 {
		t.Errorf("Expected CRF 28 after Best CRF, got %v", st.CRF)
	}
}

func TestCRFSearchCallbackOnlyOnIncrease(t *testing.T) {
	var events []Event
	p := &Parser{File: "movie.mkv", Callback: collectEvents(&events)}
	st := NewStats(1000, 95, 0)

	p.ParseLine("Best CRF: 28", st) // quality 95
	before := len(events)
	p.ParseLine("crf 30 VMAF 94.5", st) // +10 would be 90 < 95, no event
	if len(events) != before {
		t.Errorf("Expected no event when quality does not increase, got %d new", len(events)-before)
	}
}

func TestEncodingProgressMonotonic(t *testing.T) {
	p := &Parser{File: "movie.mkv"}
	st := NewStats(1000, 95, 0)
	p.ParseLine("ab_av1::command::encode] encoding", st)

	inputs := []string{"10%", "5%", "50%, eta 3 min", "48%", "100%"}
	want := []float64{10, 10, 50, 50, 100}
	for i, line := range inputs {
		p.ParseLine(line, st)
		if st.ProgressEncoding != want[i] {
			t.Errorf("After %q: progress = %v, want %v", line, st.ProgressEncoding, want[i])
		}
	}
}

func TestEncodingProgressThrottle(t *testing.T) {
	var events []Event
	p := &Parser{File: "movie.mkv", Callback: collectEvents(&events)}
	st := NewStats(1000, 95, 0)
	p.ParseLine("ab_av1::command::encode] encoding", st)
	events = events[:0]

	p.ParseLine("10%", st)
	p.ParseLine("10.2%", st) // below 0.5 step, no report
	p.ParseLine("10.8%", st)
	if len(events) != 2 {
		t.Fatalf("Expected 2 progress events, got %d", len(events))
	}
	if events[0].Progress.Encoding != 10 || events[1].Progress.Encoding != 10.8 {
		t.Errorf("Unexpected reported values: %v, %v", events[0].Progress.Encoding, events[1].Progress.Encoding)
	}
}

func TestTimeBasedProgress(t *testing.T) {
	p := &Parser{File: "movie.mkv"}
	st := NewStats(1000, 95, 200) // 200 second source
	p.ParseLine("ab_av1::command::encode] encoding", st)

	p.ParseLine("frame= 1000 q=-0.0 size=1024kB time=00:00:50.00 bitrate= 167.8kbits/s", st)
	if st.ProgressEncoding != 25 {
		t.Errorf("Expected 25%% from time=50s of 200s, got %v", st.ProgressEncoding)
	}

	p.ParseLine("12%, 50 fps, eta 3 min", st)
	if st.FPS != "50" {
		t.Errorf("Expected fps 50, got %q", st.FPS)
	}
	if st.ProgressEncoding != 25 {
		t.Errorf("Expected stale 12%% sample to be ignored, got %v", st.ProgressEncoding)
	}

	// Without a known duration the time token is useless.
	st2 := NewStats(1000, 95, 0)
	p.ParseLine("ab_av1::command::encode] encoding", st2)
	p.ParseLine("frame= 1000 fps=50 q=-0.0 size=1024kB time=00:00:50.00 bitrate=1k", st2)
	if st2.ProgressEncoding != 0 {
		t.Errorf("Expected no time-based progress without duration, got %v", st2.ProgressEncoding)
	}
}

func TestSizeReduction(t *testing.T) {
	p := &Parser{File: "movie.mkv"}
	st := NewStats(1000, 95, 0)
	p.ParseLine("ab_av1::command::encode] encoding", st)

	p.ParseLine("Output size: 512 MB (25.0% of source)", st)
	if st.SizeReduction == nil || *st.SizeReduction != 75 {
		t.Errorf("Expected 75%% reduction, got %v", st.SizeReduction)
	}
}

func TestProgressCarriesEstimatedOutputSize(t *testing.T) {
	var events []Event
	p := &Parser{File: "movie.mkv", Callback: collectEvents(&events)}
	st := NewStats(4096, 95, 0)
	p.ParseLine("ab_av1::command::encode] encoding", st)

	// Before any reduction is known the projection stays empty.
	p.ParseLine("10.0%, 24 fps", st)
	last := events[len(events)-1].Progress
	if last.OutputSize != 0 || last.IsEstimate {
		t.Errorf("Expected no size projection yet, got %d (estimate=%v)", last.OutputSize, last.IsEstimate)
	}

	p.ParseLine("Output size: 512 MB (25.0% of source)", st)
	p.ParseLine("20.0%, 24 fps", st)
	last = events[len(events)-1].Progress
	if last.OutputSize != 1024 {
		t.Errorf("Expected projected 1024 bytes (25%% of 4096), got %d", last.OutputSize)
	}
	if !last.IsEstimate {
		t.Error("Expected the projected size to be flagged as an estimate")
	}
}

func TestEstimatedOutputSize(t *testing.T) {
	st := NewStats(4096, 95, 0)
	if got := st.EstimatedOutputSize(); got != 0 {
		t.Errorf("Expected 0 without a reduction, got %d", got)
	}
	red := 75.0
	st.SizeReduction = &red
	if got := st.EstimatedOutputSize(); got != 1024 {
		t.Errorf("Expected 1024, got %d", got)
	}
	st.OriginalSize = 0
	if got := st.EstimatedOutputSize(); got != 0 {
		t.Errorf("Expected 0 without a source size, got %d", got)
	}
}

func TestETATextVariants(t *testing.T) {
	p := &Parser{File: "movie.mkv"}

	tests := []struct {
		line string
		want string
	}{
		{"50%, 120 fps, eta 30s", "30 sec"},
		{"50%, 120 fps, eta 12 minutes", "12 min"},
		{"50%, 120 fps, eta 1:23:45", "1:23:45"},
		{"50%, 120 fps, eta 3:20", "0:3:20"},
		{"plain line with no estimate", ""},
	}

	for _, tt := range tests {
		st := NewStats(1000, 95, 0)
		p.ParseLine("ab_av1::command::encode] encoding", st)
		p.ParseLine(tt.line, st)
		if st.ETAText != tt.want {
			t.Errorf("Line %q: eta = %q, want %q", tt.line, st.ETAText, tt.want)
		}
	}
}

func TestETAClearedWhenAbsent(t *testing.T) {
	p := &Parser{File: "movie.mkv"}
	st := NewStats(1000, 95, 0)
	p.ParseLine("ab_av1::command::encode] encoding", st)

	p.ParseLine("50%, eta 30s", st)
	if st.ETAText == "" {
		t.Fatal("Expected eta to be set")
	}
	p.ParseLine("51%", st)
	if st.ETAText != "" {
		t.Errorf("Expected stale eta to clear, got %q", st.ETAText)
	}
}

func TestParseETA(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"2 hours", 7200},
		{"1 hour", 3600},
		{"87 minutes", 5220},
		{"1 minute", 60},
		{"30 seconds", 30},
		{"3h 20m", 12000},
		{"45 min", 2700},
		{"", 0},
		{"soon", 0},
		{"garbage text", 0},
	}

	for _, tt := range tests {
		if got := ParseETA(tt.text); got != tt.want {
			t.Errorf("ParseETA(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestParseFinalOutput(t *testing.T) {
	p := &Parser{File: "movie.mkv"}
	st := NewStats(1000, 95, 0)

	output := `crf 32 VMAF 93.10 (20%)
crf 28 VMAF 95.52 (40%)
Best CRF: 30 will give you VMAF 95.1
[ab_av1::command::encode] encoding out.mkv
VMAF: 95.13
Output size: 400 MB (20.0% of source)
`
	p.ParseFinalOutput(output, st)

	if st.VMAF == nil || *st.VMAF != 95.13 {
		t.Errorf("Expected final VMAF 95.13, got %v", st.VMAF)
	}
	if st.CRF == nil || *st.CRF != 30 {
		t.Errorf("Expected final CRF 30, got %v", st.CRF)
	}
	if st.SizeReduction == nil || *st.SizeReduction != 80 {
		t.Errorf("Expected 80%% reduction, got %v", st.SizeReduction)
	}
}

func TestParseFinalOutput_AbsoluteSizeFallback(t *testing.T) {
	p := &Parser{File: "movie.mkv"}
	st := NewStats(1000, 95, 0)

	output := `Best CRF: 28
Input size: 2 GB
Output size: 512 MB
`
	p.ParseFinalOutput(output, st)

	if st.SizeReduction == nil {
		t.Fatal("Expected reduction from absolute sizes")
	}
	if *st.SizeReduction != 75 {
		t.Errorf("Expected 75%% reduction (2GB -> 512MB), got %v", *st.SizeReduction)
	}
}

func TestParseFinalOutput_KeepsStreamedWhenClose(t *testing.T) {
	p := &Parser{File: "movie.mkv"}
	st := NewStats(1000, 95, 0)
	streamed := 95.130
	st.VMAF = &streamed

	p.ParseFinalOutput("VMAF: 95.13\n", st)
	if st.VMAF != &streamed {
		t.Error("Expected streamed VMAF pointer kept when final value matches")
	}
}
