package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"ab-av1-batch/history"
	"ab-av1-batch/probe"
)

// countingProber returns fixed metadata and counts invocations.
type countingProber struct {
	calls  int
	result *probe.Result
	err    error
}

func (c *countingProber) probe(ctx context.Context, path string) (*probe.Result, error) {
	c.calls++
	return c.result, c.err
}

func hdResult(codec string) *probe.Result {
	return &probe.Result{
		Streams: []probe.Stream{
			{CodecType: "video", CodecName: codec, Width: 1920, Height: 1080},
			{CodecType: "audio", CodecName: "AAC"},
		},
		Format: probe.Format{Duration: "3600.0", BitRate: "4000000"},
	}
}

func newTestScanner(t *testing.T, p *countingProber) *Scanner {
	t.Helper()
	ix := history.NewIndex(filepath.Join(t.TempDir(), "index.json"), zerolog.Nop())
	if err := ix.Load(); err != nil {
		t.Fatalf("Load(): %v", err)
	}
	return &Scanner{
		Index:     ix,
		Prober:    p.probe,
		MinWidth:  1280,
		MinHeight: 720,
		Logger:    zerolog.Nop(),
	}
}

func writeVideo(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, 4096), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestFindVideoFiles(t *testing.T) {
	dir := t.TempDir()
	writeVideo(t, dir, "b.mkv")
	writeVideo(t, dir, "a.MP4")
	writeVideo(t, dir, filepath.Join("sub", "c.webm"))
	writeVideo(t, dir, "notes.txt")
	writeVideo(t, dir, "noext")

	files, err := FindVideoFiles(dir, []string{"mp4", "mkv", "webm"})
	if err != nil {
		t.Fatalf("FindVideoFiles(): %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("Expected 3 files, got %d: %v", len(files), files)
	}
	// Sorted order.
	if filepath.Base(files[0]) != "a.MP4" || filepath.Base(files[1]) != "b.mkv" {
		t.Errorf("Unexpected order: %v", files)
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		inRoot string
		out    string
		want   string
	}{
		{"mirrors tree", "/in/shows/s1/ep.mp4", "/in", "/out", "/out/shows/s1/ep.mkv"},
		{"root level", "/in/movie.avi", "/in", "/out", "/out/movie.mkv"},
		{"in place", "/in/movie.mp4", "/in", "", "/in/movie.mkv"},
		{"outside input root", "/elsewhere/movie.mp4", "/in", "/out", "/out/movie.mkv"},
		{"already mkv keeps name", "/in/movie.mkv", "/in", "/out", "/out/movie.mkv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutputPath(tt.input, tt.inRoot, tt.out); got != tt.want {
				t.Errorf("OutputPath() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestScan_NeedsConversion(t *testing.T) {
	dir := t.TempDir()
	input := writeVideo(t, dir, "movie.mp4")
	p := &countingProber{result: hdResult("h264")}
	s := newTestScanner(t, p)

	d := s.Scan(context.Background(), input, filepath.Join(dir, "out", "movie.mkv"), false)
	if !d.Needs {
		t.Fatalf("Expected conversion needed, got %+v", d)
	}
	if d.Reason != "codec is not AV1" {
		t.Errorf("Unexpected reason: %s", d.Reason)
	}
	if d.Record == nil || d.Record.Status != history.StatusScanned {
		t.Errorf("Expected a scanned record, got %+v", d.Record)
	}
	if d.Record.DurationSec == nil || *d.Record.DurationSec != 3600 {
		t.Errorf("Expected duration 3600, got %v", d.Record.DurationSec)
	}
	if d.Record.AudioCodec != "aac" {
		t.Errorf("Expected audio codec aac, got %q", d.Record.AudioCodec)
	}
	if d.Record.OriginalPath == "" {
		t.Error("Expected original path on record when anonymization is off")
	}
}

func TestScan_AnonymizeOmitsOriginalPath(t *testing.T) {
	dir := t.TempDir()
	input := writeVideo(t, dir, "movie.mp4")
	p := &countingProber{result: hdResult("h264")}
	s := newTestScanner(t, p)
	s.Anonymize = true

	d := s.Scan(context.Background(), input, filepath.Join(dir, "out", "movie.mkv"), false)
	if d.Record == nil {
		t.Fatal("Expected a record")
	}
	if d.Record.OriginalPath != "" {
		t.Errorf("Anonymized record stored a path: %s", d.Record.OriginalPath)
	}
}

func TestScan_CacheHitSkipsProbe(t *testing.T) {
	dir := t.TempDir()
	input := writeVideo(t, dir, "movie.mp4")
	p := &countingProber{result: hdResult("h264")}
	s := newTestScanner(t, p)
	out := filepath.Join(dir, "out", "movie.mkv")

	first := s.Scan(context.Background(), input, out, false)
	if p.calls != 1 {
		t.Fatalf("Expected 1 probe call, got %d", p.calls)
	}

	second := s.Scan(context.Background(), input, out, false)
	if p.calls != 1 {
		t.Errorf("Expected cached second scan, got %d probe calls", p.calls)
	}
	if !second.CacheHit {
		t.Error("Expected cache hit on second scan")
	}
	if second.Needs != first.Needs || second.Reason != first.Reason {
		t.Errorf("Cached decision differs: %+v vs %+v", second, first)
	}
}

func TestScan_ChangedFileReprobes(t *testing.T) {
	dir := t.TempDir()
	input := writeVideo(t, dir, "movie.mp4")
	p := &countingProber{result: hdResult("h264")}
	s := newTestScanner(t, p)
	out := filepath.Join(dir, "out", "movie.mkv")

	s.Scan(context.Background(), input, out, false)

	// Grow the file: the fingerprint no longer matches.
	if err := os.WriteFile(input, make([]byte, 8192), 0644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	s.Scan(context.Background(), input, out, false)
	if p.calls != 2 {
		t.Errorf("Expected re-probe after change, got %d calls", p.calls)
	}
}

func TestScan_OutputExists(t *testing.T) {
	dir := t.TempDir()
	input := writeVideo(t, dir, "movie.mp4")
	output := writeVideo(t, dir, filepath.Join("out", "movie.mkv"))
	p := &countingProber{result: hdResult("h264")}
	s := newTestScanner(t, p)

	d := s.Scan(context.Background(), input, output, false)
	if d.Needs {
		t.Errorf("Expected skip when output exists, got %+v", d)
	}
	if d.Reason != "output file exists" {
		t.Errorf("Unexpected reason: %s", d.Reason)
	}
	if p.calls != 0 {
		t.Errorf("Expected no probe for existing output, got %d calls", p.calls)
	}

	// Overwrite mode ignores the existing output.
	d = s.Scan(context.Background(), input, output, true)
	if !d.Needs {
		t.Errorf("Expected conversion with overwrite, got %+v", d)
	}
}

func TestScan_InPlacePassesExistenceCheck(t *testing.T) {
	dir := t.TempDir()
	input := writeVideo(t, dir, "movie.mkv")
	p := &countingProber{result: hdResult("h264")}
	s := newTestScanner(t, p)

	// Input equals output: the codec check decides, not file existence.
	d := s.Scan(context.Background(), input, input, false)
	if !d.Needs {
		t.Errorf("Expected in-place h264 mkv to need conversion, got %+v", d)
	}
	if p.calls != 1 {
		t.Errorf("Expected probe for in-place scan, got %d calls", p.calls)
	}
}

func TestScan_AlreadyAV1MKV(t *testing.T) {
	dir := t.TempDir()
	input := writeVideo(t, dir, "movie.mkv")
	p := &countingProber{result: hdResult("av1")}
	s := newTestScanner(t, p)

	d := s.Scan(context.Background(), input, filepath.Join(dir, "out", "movie.mkv"), false)
	if d.Needs {
		t.Errorf("Expected skip for AV1 in MKV, got %+v", d)
	}
	if d.Reason != "already AV1/MKV" {
		t.Errorf("Unexpected reason: %s", d.Reason)
	}
}

func TestScan_AV1InWrongContainer(t *testing.T) {
	dir := t.TempDir()
	input := writeVideo(t, dir, "movie.mp4")
	p := &countingProber{result: hdResult("av1")}
	s := newTestScanner(t, p)

	d := s.Scan(context.Background(), input, filepath.Join(dir, "out", "movie.mkv"), false)
	if !d.Needs {
		t.Errorf("Expected AV1-in-mp4 to need conversion, got %+v", d)
	}
	if d.Reason != "AV1 but not MKV container" {
		t.Errorf("Unexpected reason: %s", d.Reason)
	}
}

func TestScan_BelowMinResolution(t *testing.T) {
	dir := t.TempDir()
	input := writeVideo(t, dir, "movie.mp4")
	p := &countingProber{result: &probe.Result{
		Streams: []probe.Stream{{CodecType: "video", CodecName: "h264", Width: 1280, Height: 718}},
		Format:  probe.Format{Duration: "100.0"},
	}}
	s := newTestScanner(t, p)

	d := s.Scan(context.Background(), input, filepath.Join(dir, "out", "movie.mkv"), false)
	if d.Needs {
		t.Errorf("Expected skip below min resolution, got %+v", d)
	}
	if d.Reason != "below minimum resolution" {
		t.Errorf("Unexpected reason: %s", d.Reason)
	}
}

func TestScan_NoVideoStream(t *testing.T) {
	dir := t.TempDir()
	input := writeVideo(t, dir, "movie.mp4")
	p := &countingProber{result: &probe.Result{
		Streams: []probe.Stream{{CodecType: "audio", CodecName: "aac"}},
		Format:  probe.Format{Duration: "100.0"},
	}}
	s := newTestScanner(t, p)

	d := s.Scan(context.Background(), input, filepath.Join(dir, "out", "movie.mkv"), false)
	if d.Needs {
		t.Errorf("Expected skip for audio-only file, got %+v", d)
	}
	if d.Reason != "no video stream found" {
		t.Errorf("Unexpected reason: %s", d.Reason)
	}
}

func TestScan_ProbeFailure(t *testing.T) {
	dir := t.TempDir()
	input := writeVideo(t, dir, "movie.mp4")
	p := &countingProber{err: os.ErrPermission}
	s := newTestScanner(t, p)

	d := s.Scan(context.Background(), input, filepath.Join(dir, "out", "movie.mkv"), false)
	if !d.Needs {
		t.Errorf("Expected conversion attempt when probe fails, got %+v", d)
	}
	if d.Reason != "analysis failed" {
		t.Errorf("Unexpected reason: %s", d.Reason)
	}
}
