package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Index is a mutex-guarded in-memory map of FileRecords backed by a JSON
// file. Lookups are by path hash; saves are atomic.
type Index struct {
	path   string
	logger zerolog.Logger

	mu      sync.Mutex
	records map[string]*FileRecord
	dirty   bool
}

// NewIndex creates an index backed by the given file. Call Load before use.
func NewIndex(path string, logger zerolog.Logger) *Index {
	return &Index{
		path:    path,
		logger:  logger,
		records: make(map[string]*FileRecord),
	}
}

// Load reads the backing file. A missing file starts an empty index; a
// corrupt file or individually invalid records are logged and skipped,
// never fatal.
func (ix *Index) Load() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.records = make(map[string]*FileRecord)

	data, err := os.ReadFile(ix.path)
	if err != nil {
		if os.IsNotExist(err) {
			ix.logger.Info().Str("path", ix.path).Msg("history file not found, starting fresh")
			return nil
		}
		return fmt.Errorf("failed to read history file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var list []*FileRecord
	if err := json.Unmarshal(data, &list); err != nil {
		ix.logger.Error().Err(err).Str("path", ix.path).Msg("failed to parse history file, starting fresh")
		return nil
	}

	skipped := 0
	for _, rec := range list {
		if rec == nil || !rec.Valid() {
			skipped++
			continue
		}
		ix.records[rec.PathHash] = rec
	}
	if skipped > 0 {
		ix.logger.Warn().Int("skipped", skipped).Msg("dropped invalid history records")
	}
	ix.logger.Info().Int("records", len(ix.records)).Msg("history loaded")
	return nil
}

// Get returns the record for a path hash, or nil.
func (ix *Index) Get(pathHash string) *FileRecord {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.records[pathHash]
}

// Lookup returns the record for a file path, or nil.
func (ix *Index) Lookup(path string) *FileRecord {
	return ix.Get(PathHash(path))
}

// Upsert inserts or replaces a record, keyed by its PathHash.
func (ix *Index) Upsert(rec *FileRecord) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.records[rec.PathHash] = rec
	ix.dirty = true
}

// Delete removes a record. Returns false when the hash was not present.
func (ix *Index) Delete(pathHash string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.records[pathHash]; !ok {
		return false
	}
	delete(ix.records, pathHash)
	ix.dirty = true
	return true
}

// ByStatus returns all records with the given status.
func (ix *Index) ByStatus(status FileStatus) []*FileRecord {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var out []*FileRecord
	for _, rec := range ix.records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out
}

// All returns every record, ordered by path hash for stable output.
func (ix *Index) All() []*FileRecord {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]*FileRecord, 0, len(ix.records))
	for _, rec := range ix.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PathHash < out[j].PathHash })
	return out
}

// Len returns the number of records.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.records)
}

// Save persists the index when it has unsaved changes. The write is atomic:
// a temp file in the same directory replaced over the target, so a crash
// mid-save never corrupts the index.
func (ix *Index) Save() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if !ix.dirty {
		return nil
	}

	list := make([]*FileRecord, 0, len(ix.records))
	for _, rec := range ix.records {
		list = append(list, rec)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].PathHash < list[j].PathHash })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(ix.path), filepath.Base(ix.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp history file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp history file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp history file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp history file: %w", err)
	}

	if err := os.Rename(tmpPath, ix.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace history file: %w", err)
	}

	ix.dirty = false
	ix.logger.Debug().Int("records", len(list)).Msg("history saved")
	return nil
}
