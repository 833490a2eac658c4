package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"loreline/internal/cache"
	"loreline/internal/config"
	"loreline/internal/db"
	"loreline/internal/domain"
	"loreline/internal/engine"
	"loreline/internal/eventbus"
	"loreline/internal/migrate"
	"loreline/internal/repo"
	"loreline/internal/store"
)

type testEnv struct {
	Engine *engine.Engine
	Sup    *store.Supervisor
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default(dir)
	r := repo.Repo{DB: conn}
	c := cache.New(cfg.Storage.CacheDir, nil)
	sup := store.NewSupervisor(conn, nil)
	sup.Sleep = func(d time.Duration) {}
	ctx := context.Background()
	if !sup.Probe(ctx) {
		t.Fatalf("expected primary reachable")
	}
	st := store.New(r, c, sup, nil)
	bus := eventbus.New(cfg.Events.Buffer, nil)
	eng := engine.New(st, bus, cfg, nil)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Sup: sup, Ctx: ctx}
}

func mustCreateDoc(t *testing.T, env testEnv, id string, dependsOn ...string) domain.Document {
	t.Helper()
	d, err := env.Engine.CreateDocument(env.Ctx, domain.Document{
		DocID: id, Title: "Doc " + id, DependsOn: dependsOn,
	})
	if err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	return d
}

func TestCreateDocumentDefaults(t *testing.T) {
	env := newTestEnv(t)
	d := mustCreateDoc(t, env, "notes-go")
	if d.Version != 1 || d.Status != "active" {
		t.Fatalf("defaults not applied: %+v", d)
	}
	if d.CreatedAt != "2026-01-01T00:00:00Z" {
		t.Fatalf("created_at = %s", d.CreatedAt)
	}
}

func TestCreateDocumentDuplicateConflicts(t *testing.T) {
	env := newTestEnv(t)
	mustCreateDoc(t, env, "notes-go")
	_, err := env.Engine.CreateDocument(env.Ctx, domain.Document{DocID: "notes-go", Title: "again"})
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestUpdateDocumentBumpsVersion(t *testing.T) {
	env := newTestEnv(t)
	mustCreateDoc(t, env, "notes-go")
	title := "Renamed"
	d, err := env.Engine.UpdateDocument(env.Ctx, "notes-go", engine.DocumentUpdate{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if d.Version != 2 || d.Title != "Renamed" {
		t.Fatalf("got %+v", d)
	}
}

func TestDeleteDocumentIsDeleteThrough(t *testing.T) {
	env := newTestEnv(t)
	mustCreateDoc(t, env, "notes-go")
	if err := env.Engine.DeleteDocument(env.Ctx, "notes-go"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	env.Sup.MarkOffline()
	_, _, err := env.Engine.GetDocument(env.Ctx, "notes-go")
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("deleted doc must not survive in cache, err = %v", err)
	}
}

func TestOfflineWritesRejectedAndCacheUntouched(t *testing.T) {
	env := newTestEnv(t)
	mustCreateDoc(t, env, "notes-go")
	env.Sup.MarkOffline()

	title := "offline edit"
	_, err := env.Engine.UpdateDocument(env.Ctx, "notes-go", engine.DocumentUpdate{Title: &title})
	if !errors.Is(err, store.ErrOfflineWrite) {
		t.Fatalf("err = %v, want ErrOfflineWrite", err)
	}

	d, cached, err := env.Engine.GetDocument(env.Ctx, "notes-go")
	if err != nil || !cached {
		t.Fatalf("fallback read: cached=%v err=%v", cached, err)
	}
	if d.Title != "Doc notes-go" {
		t.Fatalf("rejected write leaked into cache: %+v", d)
	}
}

func TestRepairAfterDelete(t *testing.T) {
	env := newTestEnv(t)
	mustCreateDoc(t, env, "base")
	mustCreateDoc(t, env, "leaf", "base")
	if err := env.Engine.DeleteDocument(env.Ctx, "base"); err != nil {
		t.Fatal(err)
	}
	report, err := env.Engine.RepairDependencies(env.Ctx)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if report.BrokenRefsRemoved != 1 || report.DocsUpdated != 1 {
		t.Fatalf("report = %+v", report)
	}
	d, _, err := env.Engine.GetDocument(env.Ctx, "leaf")
	if err != nil {
		t.Fatal(err)
	}
	if len(d.DependsOn) != 0 {
		t.Fatalf("dangling ref kept: %v", d.DependsOn)
	}

	// Second pass is a no-op.
	report, err = env.Engine.RepairDependencies(env.Ctx)
	if err != nil || report.DocsUpdated != 0 {
		t.Fatalf("second pass: %+v err=%v", report, err)
	}
}

func TestIngestRepairsAndCountsExistingIDs(t *testing.T) {
	env := newTestEnv(t)
	mustCreateDoc(t, env, "existing")
	report, err := env.Engine.Ingest(env.Ctx, []domain.Document{
		{DocID: "new-1", Title: "One", DependsOn: []string{"existing", "ghost"}},
		{DocID: "new-2", Title: "Two", DependsOn: []string{"new-1"}},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if report.Ingested != 2 {
		t.Fatalf("ingested = %d", report.Ingested)
	}
	if report.Repair.BrokenRefsRemoved != 1 {
		t.Fatalf("repair = %+v, want ghost removed", report.Repair)
	}
	d, _, err := env.Engine.GetDocument(env.Ctx, "existing")
	if err != nil {
		t.Fatal(err)
	}
	if len(d.DependedBy) != 1 || d.DependedBy[0] != "new-1" {
		t.Fatalf("existing depended_by = %v", d.DependedBy)
	}
}

func TestIngestUpsertLastWriteWins(t *testing.T) {
	env := newTestEnv(t)
	mustCreateDoc(t, env, "doc")
	_, err := env.Engine.Ingest(env.Ctx, []domain.Document{
		{DocID: "doc", Title: "Replaced", Content: "new body"},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	d, _, err := env.Engine.GetDocument(env.Ctx, "doc")
	if err != nil {
		t.Fatal(err)
	}
	if d.Title != "Replaced" || d.Content != "new body" {
		t.Fatalf("got %+v", d)
	}
}

func TestDirectiveSequentialIDs(t *testing.T) {
	env := newTestEnv(t)
	for i, want := range []string{"DIR-001", "DIR-002", "DIR-003"} {
		d, err := env.Engine.CreateDirective(env.Ctx, engine.DirectiveCreateOptions{Intent: "intent"})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if d.DirectiveID != want {
			t.Fatalf("id = %s, want %s", d.DirectiveID, want)
		}
		if d.Status != "pending" {
			t.Fatalf("status = %s", d.Status)
		}
	}
}

func TestDecomposeDirective(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.CreateDirective(env.Ctx, engine.DirectiveCreateOptions{Intent: "build feature", Priority: 2})
	if err != nil {
		t.Fatal(err)
	}
	dec, tasks, err := env.Engine.DecomposeDirective(env.Ctx, d.DirectiveID, []engine.TaskSpec{
		{Description: "step one"},
		{Description: "step two", Dependencies: []string{"TASK-001"}},
	})
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if dec.Status != "active" {
		t.Fatalf("status = %s, want active", dec.Status)
	}
	if len(tasks) != 2 || tasks[0].TaskID != "TASK-001" || tasks[1].TaskID != "TASK-002" {
		t.Fatalf("tasks = %+v", tasks)
	}
	if tasks[0].Priority != 2 {
		t.Fatalf("task priority should inherit directive priority, got %d", tasks[0].Priority)
	}
	if len(dec.Decomposition) != 2 {
		t.Fatalf("decomposition = %v", dec.Decomposition)
	}

	// Second decomposition must be rejected whole.
	_, _, err = env.Engine.DecomposeDirective(env.Ctx, d.DirectiveID, []engine.TaskSpec{{Description: "again"}})
	if err == nil {
		t.Fatalf("expected already-decomposed rejection")
	}
	got, _, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{})
	if err != nil || len(got) != 2 {
		t.Fatalf("tasks after rejected decompose = %d, want 2", len(got))
	}
}

func TestDecomposeCompletesPromptly(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.CreateDirective(env.Ctx, engine.DirectiveCreateOptions{Intent: "no stalls"})
	if err != nil {
		t.Fatal(err)
	}
	// The write transaction must never block on its own earlier reads.
	done := make(chan error, 1)
	go func() {
		_, _, err := env.Engine.DecomposeDirective(env.Ctx, d.DirectiveID, []engine.TaskSpec{
			{Description: "one"},
			{Description: "two"},
		})
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("decompose: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("decompose stalled")
	}
}

func TestTaskCompletionTimestamp(t *testing.T) {
	env := newTestEnv(t)
	tk, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Description: "solo"})
	if err != nil {
		t.Fatal(err)
	}
	if tk.TaskID != "TASK-001" || tk.Status != "planned" {
		t.Fatalf("got %+v", tk)
	}
	status := "running"
	tk, err = env.Engine.UpdateTask(env.Ctx, tk.TaskID, engine.TaskUpdate{Status: &status})
	if err != nil || tk.CompletedAt != nil {
		t.Fatalf("running: %+v err=%v", tk, err)
	}
	status = "completed"
	tk, err = env.Engine.UpdateTask(env.Ctx, tk.TaskID, engine.TaskUpdate{Status: &status})
	if err != nil {
		t.Fatal(err)
	}
	if tk.CompletedAt == nil || *tk.CompletedAt != "2026-01-01T00:00:00Z" {
		t.Fatalf("completed_at = %v", tk.CompletedAt)
	}
}

func TestWorkerLifecycle(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorker(env.Ctx, engine.WorkerCreateOptions{ID: "w-1", Role: "builder"})
	if err != nil {
		t.Fatal(err)
	}
	if w.Status != "idle" {
		t.Fatalf("status = %s", w.Status)
	}
	_, err = env.Engine.CreateWorker(env.Ctx, engine.WorkerCreateOptions{ID: "w-1"})
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("duplicate worker err = %v", err)
	}
	busy := "busy"
	w, err = env.Engine.UpdateWorker(env.Ctx, "w-1", engine.WorkerUpdate{Status: &busy})
	if err != nil || w.Status != "busy" {
		t.Fatalf("update: %+v err=%v", w, err)
	}
	if err := env.Engine.DeleteWorker(env.Ctx, "w-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GetWorker("w-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("after delete err = %v", err)
	}
}

func TestWorkerOpsGatedOffline(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateWorker(env.Ctx, engine.WorkerCreateOptions{ID: "w-1"}); err != nil {
		t.Fatal(err)
	}
	env.Sup.MarkOffline()
	if _, err := env.Engine.CreateWorker(env.Ctx, engine.WorkerCreateOptions{ID: "w-2"}); !errors.Is(err, store.ErrOfflineWrite) {
		t.Fatalf("create err = %v", err)
	}
	if _, err := env.Engine.AppendWorkerLogs(env.Ctx, "w-1", []string{"line"}); !errors.Is(err, store.ErrOfflineWrite) {
		t.Fatalf("append err = %v", err)
	}
	// Reads stay open.
	if len(env.Engine.ListWorkers()) != 1 {
		t.Fatalf("list should still answer")
	}
}

func TestWorkerLogRingBuffer(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Workers = engine.NewWorkerRegistry(3)
	if _, err := env.Engine.CreateWorker(env.Ctx, engine.WorkerCreateOptions{ID: "w-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AppendWorkerLogs(env.Ctx, "w-1", []string{"1", "2", "3", "4", "5"}); err != nil {
		t.Fatal(err)
	}
	lines, err := env.Engine.WorkerLogs("w-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 3 {
		t.Fatalf("kept %d lines, want 3", len(lines))
	}
	if lines[0].Line != "3" || lines[2].Line != "5" {
		t.Fatalf("oldest not evicted: %+v", lines)
	}
	tail, err := env.Engine.WorkerLogs("w-1", 1)
	if err != nil || len(tail) != 1 || tail[0].Line != "5" {
		t.Fatalf("tail = %+v err=%v", tail, err)
	}
}

func TestStateSingleton(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.UpsertState(env.Ctx, "bogus", nil); err == nil {
		t.Fatalf("expected invalid state id")
	}
	if _, err := env.Engine.UpsertState(env.Ctx, engine.StateAgent, map[string]any{"phase": "plan"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpsertState(env.Ctx, engine.StateAgent, map[string]any{"phase": "act"}); err != nil {
		t.Fatal(err)
	}
	got, _, err := env.Engine.GetState(env.Ctx, engine.StateAgent)
	if err != nil {
		t.Fatal(err)
	}
	if got.Payload["phase"] != "act" {
		t.Fatalf("payload = %v", got.Payload)
	}
}

func TestActivityFeedOrdering(t *testing.T) {
	env := newTestEnv(t)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		tick := ts.Add(time.Duration(i) * time.Minute)
		env.Engine.Now = func() time.Time { return tick }
		if _, err := env.Engine.PostActivity(env.Ctx, "note", "msg", nil); err != nil {
			t.Fatal(err)
		}
	}
	items, _, err := env.Engine.ListActivity(env.Ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].TS < items[1].TS {
		t.Fatalf("not newest-first: %s then %s", items[0].TS, items[1].TS)
	}
}

func TestRepopulateCacheEnablesFallback(t *testing.T) {
	env := newTestEnv(t)
	mustCreateDoc(t, env, "a")
	d, err := env.Engine.CreateDirective(env.Ctx, engine.DirectiveCreateOptions{Intent: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.RepopulateCache(env.Ctx); err != nil {
		t.Fatalf("repopulate: %v", err)
	}
	env.Sup.MarkOffline()
	docs, cached, err := env.Engine.ListDocuments(env.Ctx, repo.DocFilters{})
	if err != nil || !cached || len(docs) != 1 {
		t.Fatalf("docs fallback: %d cached=%v err=%v", len(docs), cached, err)
	}
	got, cached, err := env.Engine.GetDirective(env.Ctx, d.DirectiveID)
	if err != nil || !cached || got.DirectiveID != d.DirectiveID {
		t.Fatalf("directive fallback: %+v cached=%v err=%v", got, cached, err)
	}
	// Collections that were empty at repopulation time answer empty, not
	// unavailable.
	tasks, cached, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{})
	if err != nil || !cached || len(tasks) != 0 {
		t.Fatalf("empty tasks fallback: %d cached=%v err=%v", len(tasks), cached, err)
	}
}

func TestEventsPublishedOnMutations(t *testing.T) {
	env := newTestEnv(t)
	sub := env.Engine.Bus.Subscribe()
	defer sub.Close()

	mustCreateDoc(t, env, "a")
	ev := <-sub.Events()
	if ev.Name != engine.EvDocCreated {
		t.Fatalf("event = %s, want %s", ev.Name, engine.EvDocCreated)
	}
	if _, err := env.Engine.CreateDirective(env.Ctx, engine.DirectiveCreateOptions{Intent: "x"}); err != nil {
		t.Fatal(err)
	}
	ev = <-sub.Events()
	if ev.Name != engine.EvDirective {
		t.Fatalf("event = %s, want %s", ev.Name, engine.EvDirective)
	}
}
