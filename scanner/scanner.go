package scanner

// Package scanner decides which files in the input tree need conversion.
// Decisions reuse the history index as a probe cache: a file whose size and
// mtime still match its record is not probed again.

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ab-av1-batch/history"
	"ab-av1-batch/privacy"
	"ab-av1-batch/probe"
)

// FindVideoFiles walks root and returns every file whose extension matches,
// case-insensitively, sorted by path.
func FindVideoFiles(root string, extensions []string) ([]string, error) {
	extSet := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if extSet[ext] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// OutputPath maps an input file to its output location: the input's
// directory structure mirrored under outRoot, with the extension forced to
// .mkv. An empty outRoot converts in place, next to the source. Inputs
// outside inRoot land directly in outRoot.
func OutputPath(input, inRoot, outRoot string) string {
	mkv := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)) + ".mkv"

	if outRoot == "" {
		return filepath.Join(filepath.Dir(input), mkv)
	}

	rel, err := filepath.Rel(inRoot, filepath.Dir(input))
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Join(outRoot, mkv)
	}
	return filepath.Join(outRoot, rel, mkv)
}

// Decision is the outcome of scanning one file.
type Decision struct {
	// Needs is true when the file should be converted.
	Needs bool
	// Reason explains the decision in one short sentence.
	Reason string
	// Record is the file's index record, refreshed where a probe ran. Nil
	// when the decision was made without metadata (output exists, probe
	// failed).
	Record *history.FileRecord
	// CacheHit is true when the record fingerprint spared a probe.
	CacheHit bool
}

// Scanner makes per-file conversion decisions.
type Scanner struct {
	Index     *history.Index
	Prober    probe.Func
	MinWidth  int
	MinHeight int
	// Anonymize suppresses the original path in new records; only the
	// path hash identifies the file then.
	Anonymize bool
	Logger    zerolog.Logger
}

// Scan decides whether inputPath needs conversion into outputPath.
// Probe failures never abort a batch: an unanalyzable file is sent to the
// encoder, which does its own input validation.
func (s *Scanner) Scan(ctx context.Context, inputPath, outputPath string, overwrite bool) Decision {
	inAbs, _ := filepath.Abs(inputPath)
	outAbs, _ := filepath.Abs(outputPath)

	// An existing output settles it, except in-place conversions, where
	// input and output collide and the codec check must decide.
	if inAbs != outAbs && !overwrite {
		if _, err := os.Stat(outputPath); err == nil {
			return Decision{Reason: "output file exists"}
		}
	}

	rec := s.Index.Lookup(inputPath)
	cacheHit := rec != nil && history.Unchanged(rec, inputPath)
	if !cacheHit {
		refreshed, err := s.probeAndRecord(ctx, inputPath, rec)
		if err != nil {
			s.Logger.Warn().Err(err).Str("file", inputPath).Msg("probe failed, will attempt conversion")
			return Decision{Needs: true, Reason: "analysis failed"}
		}
		rec = refreshed
	}

	if rec.VideoCodec == "" {
		return Decision{Reason: "no video stream found", Record: rec, CacheHit: cacheHit}
	}
	width, height := 0, 0
	if rec.Width != nil {
		width = *rec.Width
	}
	if rec.Height != nil {
		height = *rec.Height
	}
	if width < s.MinWidth || height < s.MinHeight {
		return Decision{
			Reason:   "below minimum resolution",
			Record:   rec,
			CacheHit: cacheHit,
		}
	}

	isAV1 := strings.EqualFold(rec.VideoCodec, "av1")
	isMKV := strings.EqualFold(rec.Container, "mkv")
	switch {
	case isAV1 && isMKV:
		return Decision{Reason: "already AV1/MKV", Record: rec, CacheHit: cacheHit}
	case !isAV1:
		return Decision{Needs: true, Reason: "codec is not AV1", Record: rec, CacheHit: cacheHit}
	default:
		return Decision{Needs: true, Reason: "AV1 but not MKV container", Record: rec, CacheHit: cacheHit}
	}
}

// probeAndRecord probes a file and upserts a refreshed record. Conversion
// results from a previous record are preserved only while the fingerprint
// matched, which it did not here, so analysis fields start over.
func (s *Scanner) probeAndRecord(ctx context.Context, path string, old *history.FileRecord) (*history.FileRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	result, err := s.Prober(ctx, path)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &history.FileRecord{
		PathHash:      history.PathHash(path),
		Status:        history.StatusScanned,
		FileSizeBytes: info.Size(),
		FileMtime:     history.Mtime(info.ModTime()),
		Container:     strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")),
		FirstSeen:     now,
		LastUpdated:   now,
	}
	if !s.Anonymize {
		rec.OriginalPath = privacy.NormalizePath(path)
	}
	if old != nil {
		rec.FirstSeen = old.FirstSeen
	}

	if d, err := result.Duration(); err == nil {
		rec.DurationSec = &d
	}
	if rate := result.BitrateKbps(); rate > 0 {
		rec.BitrateKbps = &rate
	}
	if vs := result.FirstVideoStream(); vs != nil {
		rec.VideoCodec = strings.ToLower(vs.CodecName)
		if vs.Width > 0 {
			w := vs.Width
			rec.Width = &w
		}
		if vs.Height > 0 {
			h := vs.Height
			rec.Height = &h
		}
	}
	if as := result.FirstAudioStream(); as != nil {
		rec.AudioCodec = strings.ToLower(as.CodecName)
	}

	s.Index.Upsert(rec)
	return rec, nil
}
