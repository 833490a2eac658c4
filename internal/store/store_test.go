package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"loreline/internal/cache"
	"loreline/internal/db"
	"loreline/internal/domain"
	"loreline/internal/migrate"
	"loreline/internal/repo"
	"loreline/internal/store"
)

type testStore struct {
	Store *store.Store
	Repo  repo.Repo
	Sup   *store.Supervisor
	Ctx   context.Context
}

func newTestStore(t *testing.T) testStore {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	c := cache.New(t.TempDir(), nil)
	sup := store.NewSupervisor(conn, nil)
	sup.ConnectAttempts = 1
	sup.Sleep = func(d time.Duration) {}
	ctx := context.Background()
	if !sup.Probe(ctx) {
		t.Fatalf("expected primary reachable")
	}
	return testStore{Store: store.New(r, c, sup, nil), Repo: r, Sup: sup, Ctx: ctx}
}

func insertDoc(t *testing.T, env testStore, id string) domain.Document {
	t.Helper()
	d := domain.Document{
		DocID: id, Title: id, Status: "active", Version: 1,
		CreatedAt: "2026-01-01T00:00:00Z", UpdatedAt: "2026-01-01T00:00:00Z",
	}
	if err := env.Repo.InsertDocument(env.Ctx, d); err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
	return d
}

func TestReadOneRefreshesCache(t *testing.T) {
	env := newTestStore(t)
	insertDoc(t, env, "DOC-1")

	got, cached, err := store.ReadOne(env.Ctx, env.Store, store.ColDocuments, "DOC-1",
		func(ctx context.Context) (domain.Document, error) {
			return env.Repo.GetDocument(ctx, "DOC-1")
		})
	if err != nil || cached {
		t.Fatalf("read: cached=%v err=%v", cached, err)
	}
	if got.DocID != "DOC-1" {
		t.Fatalf("got %+v", got)
	}

	// The read-through copy serves after the primary goes away.
	env.Sup.MarkOffline()
	got, cached, err = store.ReadOne(env.Ctx, env.Store, store.ColDocuments, "DOC-1",
		func(ctx context.Context) (domain.Document, error) {
			t.Fatal("primary must not be consulted while offline")
			return domain.Document{}, nil
		})
	if err != nil || !cached {
		t.Fatalf("fallback: cached=%v err=%v", cached, err)
	}
	if got.DocID != "DOC-1" {
		t.Fatalf("fallback got %+v", got)
	}
}

func TestReadOneUnavailableWithoutSnapshot(t *testing.T) {
	env := newTestStore(t)
	env.Sup.MarkOffline()
	_, _, err := store.ReadOne(env.Ctx, env.Store, store.ColDocuments, "DOC-404",
		func(ctx context.Context) (domain.Document, error) {
			return env.Repo.GetDocument(ctx, "DOC-404")
		})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestNotFoundDoesNotFlipOffline(t *testing.T) {
	env := newTestStore(t)
	_, _, err := store.ReadOne(env.Ctx, env.Store, store.ColDocuments, "DOC-404",
		func(ctx context.Context) (domain.Document, error) {
			return env.Repo.GetDocument(ctx, "DOC-404")
		})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if !env.Sup.Online() {
		t.Fatalf("logical error must not mark the store offline")
	}
}

func TestReadAllFallback(t *testing.T) {
	env := newTestStore(t)
	insertDoc(t, env, "DOC-1")
	insertDoc(t, env, "DOC-2")

	keyFn := func(d domain.Document) string { return d.DocID }
	items, cached, err := store.ReadAll(env.Ctx, env.Store, store.ColDocuments, keyFn, env.Repo.AllDocuments)
	if err != nil || cached || len(items) != 2 {
		t.Fatalf("online list: %d items cached=%v err=%v", len(items), cached, err)
	}

	env.Sup.MarkOffline()
	items, cached, err = store.ReadAll(env.Ctx, env.Store, store.ColDocuments, keyFn, env.Repo.AllDocuments)
	if err != nil || !cached || len(items) != 2 {
		t.Fatalf("fallback list: %d items cached=%v err=%v", len(items), cached, err)
	}
}

func TestReadAllUnavailableWhenNeverMirrored(t *testing.T) {
	env := newTestStore(t)
	env.Sup.MarkOffline()
	_, _, err := store.ReadAll(env.Ctx, env.Store, store.ColTasks,
		func(tk domain.Task) string { return tk.TaskID },
		func(ctx context.Context) ([]domain.Task, error) {
			return env.Repo.ListTasks(ctx, repo.TaskFilters{})
		})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestWriteRejectedOffline(t *testing.T) {
	env := newTestStore(t)
	env.Sup.MarkOffline()
	ran := false
	err := env.Store.Write(env.Ctx, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, store.ErrOfflineWrite) {
		t.Fatalf("err = %v, want ErrOfflineWrite", err)
	}
	if ran {
		t.Fatalf("mutation must not run while offline")
	}
}

func TestWriteConnectionFailureFlipsOffline(t *testing.T) {
	env := newTestStore(t)
	err := env.Store.Write(env.Ctx, func(ctx context.Context) error {
		return errors.New("driver: bad connection")
	})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if env.Sup.Online() {
		t.Fatalf("connection failure must mark the store offline")
	}
}

func TestWriteLogicalErrorPassesThrough(t *testing.T) {
	env := newTestStore(t)
	err := env.Store.Write(env.Ctx, func(ctx context.Context) error {
		return repo.ErrNotFound
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if !env.Sup.Online() {
		t.Fatalf("logical error must not mark the store offline")
	}
}
