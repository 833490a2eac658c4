package cache

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Cache is an on-disk best-effort mirror of primary-store reads, keyed by
// (collection, key). It is a fallback, not a source of truth: writes never
// fail the caller and reads treat any I/O or parse error as a miss.
type Cache struct {
	Dir    string
	Logger *log.Logger
}

func New(dir string, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{Dir: dir, Logger: logger}
}

type Stats struct {
	Dir         string `json:"dir"`
	Exists      bool   `json:"exists"`
	Collections int    `json:"collections"`
	Files       int    `json:"files"`
	TotalBytes  int64  `json:"total_bytes"`
}

// safeName keeps keys usable as file names. Entity ids are already
// human-readable; this only defends against separators.
func safeName(s string) string {
	s = strings.ReplaceAll(s, string(os.PathSeparator), "_")
	return strings.ReplaceAll(s, "..", "_")
}

func (c *Cache) path(collection, key string) string {
	return filepath.Join(c.Dir, safeName(collection), safeName(key)+".json")
}

// Set writes a JSON-serializable value. Failures are logged, never returned.
// The entry goes through a temp file and a rename, so a crash mid-write
// leaves the previous entry intact rather than a truncated one.
func (c *Cache) Set(collection, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.Logger.Printf("cache: marshal %s/%s: %v", collection, key, err)
		return
	}
	path := c.path(collection, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		c.Logger.Printf("cache: mkdir %s: %v", filepath.Dir(path), err)
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.Logger.Printf("cache: write %s/%s: %v", collection, key, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		c.Logger.Printf("cache: rename %s/%s: %v", collection, key, err)
		_ = os.Remove(tmp)
	}
}

// Get reads a cached value into out. A false return means miss; I/O and
// parse errors are misses, never errors.
func (c *Cache) Get(collection, key string, out any) bool {
	data, err := os.ReadFile(c.path(collection, key))
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.Logger.Printf("cache: corrupt entry %s/%s: %v", collection, key, err)
		return false
	}
	return true
}

// MarkCollection creates the collection directory, so an empty collection
// reads back as empty instead of never-mirrored.
func (c *Cache) MarkCollection(collection string) {
	dir := filepath.Join(c.Dir, safeName(collection))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.Logger.Printf("cache: mkdir %s: %v", dir, err)
	}
}

// Delete removes a cached entry, keeping delete-through writes consistent.
func (c *Cache) Delete(collection, key string) {
	if err := os.Remove(c.path(collection, key)); err != nil && !os.IsNotExist(err) {
		c.Logger.Printf("cache: delete %s/%s: %v", collection, key, err)
	}
}

// All reads every entry in a collection. Corrupt entries are skipped.
// The bool reports whether the collection directory exists at all,
// distinguishing "empty collection" from "never cached".
func All[T any](c *Cache, collection string) ([]T, bool) {
	dir := filepath.Join(c.Dir, safeName(collection))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, false
	}
	var res []T
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			c.Logger.Printf("cache: corrupt entry %s/%s: %v", collection, e.Name(), err)
			continue
		}
		res = append(res, v)
	}
	return res, true
}

// Stats reports cache directory shape for the status endpoint.
func (c *Cache) Stats() Stats {
	st := Stats{Dir: c.Dir}
	info, err := os.Stat(c.Dir)
	if err != nil || !info.IsDir() {
		return st
	}
	st.Exists = true
	collections, err := os.ReadDir(c.Dir)
	if err != nil {
		return st
	}
	for _, col := range collections {
		if !col.IsDir() {
			continue
		}
		st.Collections++
		files, err := os.ReadDir(filepath.Join(c.Dir, col.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			st.Files++
			if fi, err := f.Info(); err == nil {
				st.TotalBytes += fi.Size()
			}
		}
	}
	return st
}
