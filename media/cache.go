package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AudioExt is the extension of every cached audio file.
const AudioExt = ".mp3"

var (
	ErrNotFound  = errors.New("media not cached")
	ErrInvalidID = errors.New("invalid media id")
)

// CacheRecord is one persisted cache entry.
type CacheRecord struct {
	ID       string
	Path     string
	Size     int64
	StoredAt time.Time
}

// Index persists cache entries across restarts.
type Index interface {
	Record(ctx context.Context, rec CacheRecord) error
	Records(ctx context.Context) ([]CacheRecord, error)
}

// Cache maps item ids to audio files under a single directory. Entries are
// added once after a successful extraction and never invalidated; a file
// that is already present on disk counts as cached even without an entry.
type Cache struct {
	dir   string
	index Index
	log   *slog.Logger

	mu      sync.RWMutex
	entries map[string]string
}

// NewCache creates dir if needed. index may be nil.
func NewCache(dir string, index Index, log *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{
		dir:     dir,
		index:   index,
		log:     log,
		entries: make(map[string]string),
	}, nil
}

func (c *Cache) Dir() string { return c.dir }

// PathFor returns the path a file for id is stored at.
func (c *Cache) PathFor(id string) string {
	return filepath.Join(c.dir, id+AudioExt)
}

func (c *Cache) Has(id string) bool {
	_, err := c.Get(id)
	return err == nil
}

// Lookup returns the path for id only when it was recorded by Put or Warm.
// Unlike Get it never trusts a bare file on disk, which may still be
// written by a running extraction.
func (c *Cache) Lookup(id string) (string, bool) {
	c.mu.RLock()
	path, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok || !fileReady(path) {
		return "", false
	}
	return path, true
}

// Get also accepts a file already present at PathFor(id). Callers must
// make sure no extraction for id is running.
func (c *Cache) Get(id string) (string, error) {
	if !ValidID(id) {
		return "", ErrInvalidID
	}

	c.mu.RLock()
	path, ok := c.entries[id]
	c.mu.RUnlock()
	if ok && fileReady(path) {
		return path, nil
	}

	path = c.PathFor(id)
	if !fileReady(path) {
		return "", ErrNotFound
	}

	c.mu.Lock()
	c.entries[id] = path
	c.mu.Unlock()
	return path, nil
}

// Put records a freshly produced file and mirrors it to the index.
func (c *Cache) Put(id, path string) {
	if !ValidID(id) {
		return
	}

	c.mu.Lock()
	c.entries[id] = path
	c.mu.Unlock()

	if c.index == nil {
		return
	}

	rec := CacheRecord{ID: id, Path: path, StoredAt: time.Now().UTC()}
	if info, err := os.Stat(path); err == nil {
		rec.Size = info.Size()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.index.Record(ctx, rec); err != nil {
		c.log.Warn("Failed to index cached track", "id", id, "error", err)
	}
}

// Warm loads indexed entries whose files still exist.
func (c *Cache) Warm(ctx context.Context) (int, error) {
	if c.index == nil {
		return 0, nil
	}

	records, err := c.index.Records(ctx)
	if err != nil {
		return 0, err
	}

	loaded := 0
	c.mu.Lock()
	for _, rec := range records {
		if !ValidID(rec.ID) || !fileReady(rec.Path) {
			continue
		}
		c.entries[rec.ID] = rec.Path
		loaded++
	}
	c.mu.Unlock()

	c.log.Info("Cache warmed", "entries", loaded, "indexed", len(records))
	return loaded, nil
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func fileReady(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
