package cache_test

import (
	"os"
	"path/filepath"
	"testing"

	"loreline/internal/cache"
)

type entry struct {
	ID    string `json:"id"`
	Value int    `json:"value"`
}

func TestSetGetRoundTrip(t *testing.T) {
	c := cache.New(t.TempDir(), nil)
	c.Set("documents", "DOC-1", entry{ID: "DOC-1", Value: 7})
	var got entry
	if !c.Get("documents", "DOC-1", &got) {
		t.Fatalf("expected hit")
	}
	if got.Value != 7 {
		t.Fatalf("value = %d, want 7", got.Value)
	}
}

func TestGetMissOnAbsent(t *testing.T) {
	c := cache.New(t.TempDir(), nil)
	var got entry
	if c.Get("documents", "DOC-404", &got) {
		t.Fatalf("expected miss")
	}
}

func TestCorruptEntryIsMiss(t *testing.T) {
	dir := t.TempDir()
	c := cache.New(dir, nil)
	c.Set("documents", "DOC-1", entry{ID: "DOC-1"})
	path := filepath.Join(dir, "documents", "DOC-1.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	var got entry
	if c.Get("documents", "DOC-1", &got) {
		t.Fatalf("corrupt entry should be a miss")
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := cache.New(t.TempDir(), nil)
	c.Set("tasks", "TASK-001", entry{ID: "TASK-001"})
	c.Delete("tasks", "TASK-001")
	var got entry
	if c.Get("tasks", "TASK-001", &got) {
		t.Fatalf("expected miss after delete")
	}
	// deleting again is a no-op
	c.Delete("tasks", "TASK-001")
}

func TestAllDistinguishesEmptyFromNeverCached(t *testing.T) {
	dir := t.TempDir()
	c := cache.New(dir, nil)

	if _, ok := cache.All[entry](c, "documents"); ok {
		t.Fatalf("never-cached collection should report absent")
	}

	c.Set("documents", "DOC-1", entry{ID: "DOC-1"})
	c.Delete("documents", "DOC-1")
	items, ok := cache.All[entry](c, "documents")
	if !ok {
		t.Fatalf("emptied collection should still exist")
	}
	if len(items) != 0 {
		t.Fatalf("items = %v, want none", items)
	}
}

func TestAllSkipsCorruptEntries(t *testing.T) {
	dir := t.TempDir()
	c := cache.New(dir, nil)
	c.Set("documents", "DOC-1", entry{ID: "DOC-1"})
	c.Set("documents", "DOC-2", entry{ID: "DOC-2"})
	if err := os.WriteFile(filepath.Join(dir, "documents", "DOC-2.json"), []byte("oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	items, ok := cache.All[entry](c, "documents")
	if !ok || len(items) != 1 {
		t.Fatalf("items = %v, want one survivor", items)
	}
	if items[0].ID != "DOC-1" {
		t.Fatalf("survivor = %s", items[0].ID)
	}
}

func TestKeySanitized(t *testing.T) {
	dir := t.TempDir()
	c := cache.New(dir, nil)
	c.Set("documents", "../escape", entry{ID: "x"})
	if _, err := os.Stat(filepath.Join(dir, "escape.json")); err == nil {
		t.Fatalf("key escaped the cache dir")
	}
	var got entry
	if !c.Get("documents", "../escape", &got) {
		t.Fatalf("sanitized key should round-trip")
	}
}

func TestSetLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	c := cache.New(dir, nil)
	for i := 0; i < 5; i++ {
		c.Set("documents", "DOC-1", entry{ID: "DOC-1", Value: i})
	}
	entries, err := os.ReadDir(filepath.Join(dir, "documents"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "DOC-1.json" {
		t.Fatalf("entries = %v, want only DOC-1.json", entries)
	}
	var got entry
	if !c.Get("documents", "DOC-1", &got) || got.Value != 4 {
		t.Fatalf("got = %+v, want last write", got)
	}
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	c := cache.New(dir, nil)
	st := c.Stats()
	if st.Collections != 0 || st.Files != 0 {
		t.Fatalf("fresh stats = %+v", st)
	}
	c.Set("documents", "DOC-1", entry{ID: "DOC-1"})
	c.Set("tasks", "TASK-001", entry{ID: "TASK-001"})
	st = c.Stats()
	if !st.Exists || st.Collections != 2 || st.Files != 2 || st.TotalBytes == 0 {
		t.Fatalf("stats = %+v", st)
	}
}
