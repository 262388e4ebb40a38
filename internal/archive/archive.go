// Package archive implements the disk-backed, bounded scrollback ring
// described in spec §4.C: one directory per PTY holding a JSON metadata
// file plus numbered chunk files of packed rows.
package archive

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openmux/openmux/internal/wire"
)

const (
	metaFileName    = "meta.json"
	metaVersion     = 1
	defaultMaxLines = 2000 // default chunkMaxLines when unset
	defaultCacheLines = 4096
)

// ChunkMeta describes one on-disk chunk file.
type ChunkMeta struct {
	ID        int       `json:"id"`
	Filename  string    `json:"filename"`
	Cols      int       `json:"cols"`
	RowBytes  int       `json:"rowBytes"`
	LineCount int       `json:"lineCount"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"createdAt"`
}

type meta struct {
	Version     int         `json:"version"`
	NextChunkID int         `json:"nextChunkId"`
	Chunks      []ChunkMeta `json:"chunks"`
}

// Options configures an Archive.
type Options struct {
	// ChunkMaxLines bounds how many rows a single chunk holds before a new
	// chunk is started. Zero uses defaultMaxLines.
	ChunkMaxLines int
	// MaxBytes is the per-archive byte cap enforced after every Append.
	// Zero means unbounded (the Manager's global cap still applies).
	MaxBytes int64
	// CacheLines sizes the LRU line cache. Zero uses defaultCacheLines.
	CacheLines int
	// Clock is a test seam for CreatedAt timestamps; defaults to time.Now.
	Clock func() time.Time
}

// Archive is the bounded, disk-backed scrollback ring for a single PTY.
type Archive struct {
	dir  string
	opts Options

	mu          sync.Mutex
	chunks      []ChunkMeta
	nextChunkID int

	openFile    *os.File
	openChunk   *ChunkMeta
	openRows    []wire.Row // buffered rows for the currently-open chunk, flushed on Append completion

	cache *lru.Cache[int, wire.Row] // key: absolute scrollback offset

	registeredAt time.Time // used by Manager for tie-break ordering
}

// Open creates or reopens an archive rooted at dir, reading any existing
// meta.json. A missing directory is created.
func Open(dir string, opts Options) (*Archive, error) {
	if opts.ChunkMaxLines <= 0 {
		opts.ChunkMaxLines = defaultMaxLines
	}
	if opts.CacheLines <= 0 {
		opts.CacheLines = defaultCacheLines
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: mkdir %s: %w", dir, err)
	}

	a := &Archive{dir: dir, opts: opts, registeredAt: opts.Clock()}
	cache, err := lru.New[int, wire.Row](opts.CacheLines)
	if err != nil {
		return nil, fmt.Errorf("archive: new cache: %w", err)
	}
	a.cache = cache

	if err := a.loadMeta(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Archive) metaPath() string {
	return filepath.Join(a.dir, metaFileName)
}

func (a *Archive) chunkPath(filename string) string {
	return filepath.Join(a.dir, filename)
}

func (a *Archive) loadMeta() error {
	raw, err := os.ReadFile(a.metaPath())
	if os.IsNotExist(err) {
		a.nextChunkID = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive: read meta: %w", err)
	}
	var m meta
	if err := json.Unmarshal(raw, &m); err != nil {
		// A corrupt metadata file is treated as empty: on-disk chunk files
		// become unreachable and will be cleaned up the next time this PTY's
		// archive is disposed. Metadata is the source of truth on reload.
		slog.Warn("[archive] corrupt meta.json, starting from empty archive", "dir", a.dir, "error", err)
		return nil
	}
	a.chunks = m.Chunks
	a.nextChunkID = m.NextChunkID
	return nil
}

func (a *Archive) saveMetaLocked() error {
	m := meta{Version: metaVersion, NextChunkID: a.nextChunkID, Chunks: a.chunks}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal meta: %w", err)
	}
	tmp := a.metaPath() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("archive: write meta tmp: %w", err)
	}
	if err := os.Rename(tmp, a.metaPath()); err != nil {
		return fmt.Errorf("archive: rename meta: %w", err)
	}
	return nil
}

// Length returns the cumulative row count across all chunks.
func (a *Archive) Length() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lengthLocked()
}

func (a *Archive) lengthLocked() int {
	total := 0
	for _, c := range a.chunks {
		total += c.LineCount
	}
	if a.openChunk != nil {
		total += a.openChunk.LineCount
	}
	return total
}

// Bytes returns the cumulative byte size across all chunks.
func (a *Archive) Bytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytesLocked()
}

func (a *Archive) bytesLocked() int64 {
	var total int64
	for _, c := range a.chunks {
		total += c.Bytes
	}
	if a.openChunk != nil {
		total += a.openChunk.Bytes
	}
	return total
}

// Append partitions rows into runs of equal column count and appends each
// run to the archive, starting a new chunk whenever the column count
// changes or the current chunk reaches ChunkMaxLines. Metadata is flushed
// once after all runs are written, then this archive's own caps are
// enforced; the global byte budget is enforced by Manager, not here.
func (a *Archive) Append(rows []wire.Row) error {
	if len(rows) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	start := 0
	for start < len(rows) {
		cols := len(rows[start])
		end := start + 1
		for end < len(rows) && len(rows[end]) == cols {
			end++
		}
		if err := a.appendRunLocked(rows[start:end]); err != nil {
			return err
		}
		start = end
	}

	if err := a.saveMetaLocked(); err != nil {
		return err
	}
	return a.enforcePerArchiveLimitLocked()
}

// appendRunLocked appends a run of same-width rows, splitting across chunk
// boundaries as ChunkMaxLines is reached.
func (a *Archive) appendRunLocked(run []wire.Row) error {
	for len(run) > 0 {
		if a.openChunk == nil || a.openChunk.Cols != len(run[0]) || a.openChunk.LineCount >= a.opts.ChunkMaxLines {
			if err := a.closeOpenChunkLocked(); err != nil {
				return err
			}
			if err := a.startChunkLocked(len(run[0])); err != nil {
				return err
			}
		}

		room := a.opts.ChunkMaxLines - a.openChunk.LineCount
		take := len(run)
		if take > room {
			take = room
		}

		for _, row := range run[:take] {
			buf := wire.PackRow(nil, row)
			if _, err := a.openFile.Write(buf); err != nil {
				// Append errors are swallowed per §7: the in-memory counters
				// below are NOT advanced for the failed row, so metadata
				// stays consistent with what actually landed on disk.
				slog.Warn("[archive] row write failed, will retry next batch", "dir", a.dir, "error", err)
				return nil
			}
			a.openChunk.LineCount++
			a.openChunk.Bytes += int64(len(buf))
			a.openChunk.RowBytes = len(buf)
		}
		run = run[take:]
	}
	return nil
}

func (a *Archive) startChunkLocked(cols int) error {
	id := a.nextChunkID
	a.nextChunkID++
	filename := fmt.Sprintf("chunk-%d.bin", id)
	f, err := os.OpenFile(a.chunkPath(filename), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("archive: create chunk %s: %w", filename, err)
	}
	a.openFile = f
	a.openChunk = &ChunkMeta{
		ID:        id,
		Filename:  filename,
		Cols:      cols,
		CreatedAt: a.opts.Clock(),
	}
	return nil
}

func (a *Archive) closeOpenChunkLocked() error {
	if a.openChunk == nil {
		return nil
	}
	if a.openFile != nil {
		if err := a.openFile.Close(); err != nil {
			slog.Warn("[archive] close chunk file failed", "dir", a.dir, "error", err)
		}
		a.openFile = nil
	}
	a.chunks = append(a.chunks, *a.openChunk)
	a.openChunk = nil
	return nil
}

// GetLine returns the cells at absolute scrollback position offset (0 =
// oldest). Read errors return (nil, nil) so callers render a blank line
// instead of failing.
func (a *Archive) GetLine(offset int) (wire.Row, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.getLineLocked(offset)
}

func (a *Archive) getLineLocked(offset int) (wire.Row, error) {
	if offset < 0 || offset >= a.lengthLocked() {
		return nil, nil
	}
	if row, ok := a.cache.Get(offset); ok {
		return row, nil
	}

	// Must flush the currently-open chunk's in-flight file handle so reads
	// see bytes that Append already wrote (we write-through, no internal
	// buffering beyond the OS page cache, so no explicit flush is needed —
	// but the open chunk's metadata entry doesn't exist in a.chunks yet).
	remaining := offset
	for i := range a.chunks {
		c := &a.chunks[i]
		if remaining < c.LineCount {
			row, err := a.readRowFromChunk(c, remaining)
			if err != nil {
				slog.Warn("[archive] read line failed, rendering blank", "dir", a.dir, "offset", offset, "error", err)
				return nil, nil
			}
			a.cache.Add(offset, row)
			return row, nil
		}
		remaining -= c.LineCount
	}
	if a.openChunk != nil && remaining < a.openChunk.LineCount {
		row, err := a.readRowFromOpenChunk(remaining)
		if err != nil {
			slog.Warn("[archive] read line from open chunk failed, rendering blank", "dir", a.dir, "offset", offset, "error", err)
			return nil, nil
		}
		a.cache.Add(offset, row)
		return row, nil
	}
	return nil, nil
}

func (a *Archive) readRowFromChunk(c *ChunkMeta, lineIdx int) (wire.Row, error) {
	f, err := os.Open(a.chunkPath(c.Filename))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	offsetBytes := int64(lineIdx) * int64(c.RowBytes)
	buf := make([]byte, c.RowBytes)
	if _, err := f.ReadAt(buf, offsetBytes); err != nil {
		return nil, err
	}
	row, _, err := wire.UnpackRow(buf)
	return row, err
}

func (a *Archive) readRowFromOpenChunk(lineIdx int) (wire.Row, error) {
	f, err := os.Open(a.chunkPath(a.openChunk.Filename))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	offsetBytes := int64(lineIdx) * int64(a.openChunk.RowBytes)
	buf := make([]byte, a.openChunk.RowBytes)
	if _, err := f.ReadAt(buf, offsetBytes); err != nil {
		return nil, err
	}
	row, _, err := wire.UnpackRow(buf)
	return row, err
}

// PrefetchLines warms the cache for [start, start+count).
func (a *Archive) PrefetchLines(start, count int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := start; i < start+count; i++ {
		if _, err := a.getLineLocked(i); err != nil {
			return
		}
	}
}

// DropOldestChunk atomically removes the oldest chunk, updates counters,
// rewrites metadata, and fully invalidates the line cache (the simplest
// correct policy per §4.C, since every cached offset shifts).
func (a *Archive) DropOldestChunk() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropOldestChunkLocked()
}

func (a *Archive) dropOldestChunkLocked() error {
	if len(a.chunks) == 0 {
		if a.openChunk != nil {
			// Only the open (in-progress) chunk exists; closing and dropping
			// it is still "the oldest chunk" in a single-chunk archive.
			if err := a.closeOpenChunkLocked(); err != nil {
				return err
			}
		}
		if len(a.chunks) == 0 {
			return nil
		}
	}
	oldest := a.chunks[0]
	if err := os.Remove(a.chunkPath(oldest.Filename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archive: remove chunk %s: %w", oldest.Filename, err)
	}
	a.chunks = a.chunks[1:]
	a.cache.Purge()
	return a.saveMetaLocked()
}

// OldestCreatedAt returns the creation time of the oldest chunk (open or
// closed), used by Manager to pick a global eviction victim. The second
// return value is false when the archive holds no chunks at all.
func (a *Archive) OldestCreatedAt() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.chunks) > 0 {
		return a.chunks[0].CreatedAt, true
	}
	if a.openChunk != nil {
		return a.openChunk.CreatedAt, true
	}
	return time.Time{}, false
}

// ChunkCount reports how many chunks (open + closed) the archive holds.
func (a *Archive) ChunkCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.chunks)
	if a.openChunk != nil {
		n++
	}
	return n
}

func (a *Archive) enforcePerArchiveLimitLocked() error {
	if a.opts.MaxBytes <= 0 {
		return nil
	}
	for a.bytesLocked() > a.opts.MaxBytes && len(a.chunks) > 0 {
		if err := a.dropOldestChunkLocked(); err != nil {
			return err
		}
	}
	return nil
}

// Dispose removes all chunk files and the metadata file.
func (a *Archive) Dispose() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.closeOpenChunkLocked(); err != nil {
		slog.Warn("[archive] close open chunk during dispose failed", "dir", a.dir, "error", err)
	}
	for _, c := range a.chunks {
		if err := os.Remove(a.chunkPath(c.Filename)); err != nil && !os.IsNotExist(err) {
			slog.Warn("[archive] remove chunk during dispose failed", "dir", a.dir, "chunk", c.Filename, "error", err)
		}
	}
	a.chunks = nil
	a.cache.Purge()
	if err := os.Remove(a.metaPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archive: remove meta: %w", err)
	}
	return nil
}
