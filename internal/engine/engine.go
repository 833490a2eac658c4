package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"loreline/internal/config"
	"loreline/internal/domain"
	"loreline/internal/eventbus"
	"loreline/internal/graph"
	"loreline/internal/repo"
	"loreline/internal/store"
)

// Event frame names pushed through the bus after each mutation.
const (
	EvDocCreated   = "doc_created"
	EvDirective    = "directive"
	EvTask         = "task"
	EvWorker       = "worker"
	EvWorkerLog    = "worker_log"
	EvActivity     = "activity"
	EvState        = "state"
	EvOrchestrator = "orchestrator"
)

// State singleton ids.
const (
	StateAgent        = "agent"
	StateOrchestrator = "orchestrator"
)

type Engine struct {
	Store   *store.Store
	Bus     *eventbus.Bus
	Workers *WorkerRegistry
	Config  *config.Config
	Logger  *log.Logger
	Now     func() time.Time
}

func New(st *store.Store, bus *eventbus.Bus, cfg *config.Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		Store:   st,
		Bus:     bus,
		Workers: NewWorkerRegistry(cfg.Workers.LogCapacity),
		Config:  cfg,
		Logger:  logger,
		Now:     time.Now,
	}
}

func (e *Engine) now() string {
	if e.Now != nil {
		return e.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// --- documents ---

func (e *Engine) CreateDocument(ctx context.Context, d domain.Document) (domain.Document, error) {
	if d.DocID == "" {
		return domain.Document{}, errors.New("doc_id is required")
	}
	if d.Title == "" {
		return domain.Document{}, errors.New("title is required")
	}
	now := e.now()
	d.Version = 1
	d.DependedBy = nil // system-owned, rebuilt by repair
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = "active"
	}
	d.DependsOn = dedup(d.DependsOn)
	err := e.Store.Write(ctx, func(ctx context.Context) error {
		return e.Store.Repo.InsertDocument(ctx, d)
	})
	if err != nil {
		return domain.Document{}, err
	}
	e.Store.Cache.Set(store.ColDocuments, d.DocID, d)
	e.Bus.Publish(EvDocCreated, d)
	return d, nil
}

// DocumentUpdate carries the author-editable fields. DependedBy is absent
// on purpose: the inverse index is system-owned.
type DocumentUpdate struct {
	Title     *string
	Domain    *string
	Content   *string
	Tags      *[]string
	DependsOn *[]string
	Status    *string
}

func (e *Engine) UpdateDocument(ctx context.Context, id string, upd DocumentUpdate) (domain.Document, error) {
	var updated domain.Document
	err := e.Store.Write(ctx, func(ctx context.Context) error {
		d, err := e.Store.Repo.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		if upd.Title != nil {
			d.Title = *upd.Title
		}
		if upd.Domain != nil {
			d.Domain = *upd.Domain
		}
		if upd.Content != nil {
			d.Content = *upd.Content
		}
		if upd.Tags != nil {
			d.Tags = *upd.Tags
		}
		if upd.DependsOn != nil {
			d.DependsOn = dedup(*upd.DependsOn)
		}
		if upd.Status != nil {
			d.Status = *upd.Status
		}
		if d.Title == "" {
			return errors.New("title is required")
		}
		d.Version++
		d.UpdatedAt = e.now()
		if err := e.Store.Repo.UpdateDocument(ctx, d); err != nil {
			return err
		}
		updated = d
		return nil
	})
	if err != nil {
		return domain.Document{}, err
	}
	e.Store.Cache.Set(store.ColDocuments, updated.DocID, updated)
	return updated, nil
}

func (e *Engine) DeleteDocument(ctx context.Context, id string) error {
	err := e.Store.Write(ctx, func(ctx context.Context) error {
		return e.Store.Repo.DeleteDocument(ctx, id)
	})
	if err != nil {
		return err
	}
	e.Store.Cache.Delete(store.ColDocuments, id)
	return nil
}

func (e *Engine) GetDocument(ctx context.Context, id string) (domain.Document, bool, error) {
	return store.ReadOne(ctx, e.Store, store.ColDocuments, id, func(ctx context.Context) (domain.Document, error) {
		return e.Store.Repo.GetDocument(ctx, id)
	})
}

// ListDocuments applies filters after the dual-path read so the cache
// fallback sees the same filtering as the primary path.
func (e *Engine) ListDocuments(ctx context.Context, f repo.DocFilters) ([]domain.Document, bool, error) {
	docs, cached, err := e.allDocuments(ctx)
	if err != nil {
		return nil, cached, err
	}
	if f.Domain == "" && f.Tag == "" && f.Status == "" {
		return docs, cached, nil
	}
	var res []domain.Document
	for _, d := range docs {
		if f.Domain != "" && d.Domain != f.Domain {
			continue
		}
		if f.Tag != "" && !contains(d.Tags, f.Tag) {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		res = append(res, d)
	}
	return res, cached, nil
}

func (e *Engine) allDocuments(ctx context.Context) ([]domain.Document, bool, error) {
	return store.ReadAll(ctx, e.Store, store.ColDocuments,
		func(d domain.Document) string { return d.DocID },
		e.Store.Repo.AllDocuments)
}

func (e *Engine) Graph(ctx context.Context) ([]domain.GraphNode, []domain.GraphEdge, bool, error) {
	docs, cached, err := e.allDocuments(ctx)
	if err != nil {
		return nil, nil, cached, err
	}
	nodes, edges := graph.Project(docs)
	return nodes, edges, cached, nil
}

func (e *Engine) Tags(ctx context.Context) ([]domain.TagCount, bool, error) {
	docs, cached, err := e.allDocuments(ctx)
	if err != nil {
		return nil, cached, err
	}
	return graph.TagHistogram(docs), cached, nil
}

// --- repair & ingestion ---

// RepairDependencies runs the on-demand repair pass: full corpus in, a
// minimal batch of edge rewrites out, applied in one transaction.
// Idempotent: a second run with no intervening writes updates nothing.
func (e *Engine) RepairDependencies(ctx context.Context) (graph.Report, error) {
	var report graph.Report
	err := e.Store.Write(ctx, func(ctx context.Context) error {
		docs, err := e.Store.Repo.AllDocuments(ctx)
		if err != nil {
			return err
		}
		updates, rep := graph.Repair(docs, nil)
		report = rep
		if len(updates) == 0 {
			return nil
		}
		now := e.now()
		tx, err := e.Store.Repo.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for _, u := range updates {
			if err := e.Store.Repo.UpdateDocumentEdges(ctx, tx, u.DocID, u.DependsOn, u.DependedBy, now); err != nil {
				return fmt.Errorf("apply repair to %s: %w", u.DocID, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		for _, u := range updates {
			if d, err := e.Store.Repo.GetDocument(ctx, u.DocID); err == nil {
				e.Store.Cache.Set(store.ColDocuments, d.DocID, d)
			}
		}
		return nil
	})
	return report, err
}

type IngestReport struct {
	Ingested int          `json:"ingested"`
	Repair   graph.Report `json:"repair"`
}

// Ingest bulk-loads documents (last write wins) and then runs the repair
// pass; ids already in the store count as valid reference targets even
// when the batch itself does not mention them.
func (e *Engine) Ingest(ctx context.Context, docs []domain.Document) (IngestReport, error) {
	var report IngestReport
	for _, d := range docs {
		if d.DocID == "" {
			return report, errors.New("ingest: every document requires doc_id")
		}
		if d.Title == "" {
			return report, fmt.Errorf("ingest: document %s requires title", d.DocID)
		}
	}
	err := e.Store.Write(ctx, func(ctx context.Context) error {
		now := e.now()
		tx, err := e.Store.Repo.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for i := range docs {
			d := docs[i]
			if d.Version == 0 {
				d.Version = 1
			}
			if d.Status == "" {
				d.Status = "active"
			}
			d.DependsOn = dedup(d.DependsOn)
			d.DependedBy = nil
			if d.CreatedAt == "" {
				d.CreatedAt = now
			}
			d.UpdatedAt = now
			if err := e.Store.Repo.UpsertDocument(ctx, tx, d); err != nil {
				return fmt.Errorf("ingest %s: %w", d.DocID, err)
			}
			docs[i] = d
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		report.Ingested = len(docs)
		return nil
	})
	if err != nil {
		return report, err
	}
	rep, err := e.RepairDependencies(ctx)
	if err != nil {
		return report, err
	}
	report.Repair = rep
	for _, d := range docs {
		if fresh, err := e.Store.Repo.GetDocument(ctx, d.DocID); err == nil {
			e.Store.Cache.Set(store.ColDocuments, fresh.DocID, fresh)
			e.Bus.Publish(EvDocCreated, fresh)
		}
	}
	return report, nil
}

// --- singleton state ---

func (e *Engine) UpsertState(ctx context.Context, id string, payload map[string]any) (domain.State, error) {
	if id != StateAgent && id != StateOrchestrator {
		return domain.State{}, fmt.Errorf("invalid state id %q", id)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	s := domain.State{ID: id, Payload: payload, UpdatedAt: e.now()}
	err := e.Store.Write(ctx, func(ctx context.Context) error {
		return e.Store.Repo.UpsertState(ctx, s)
	})
	if err != nil {
		return domain.State{}, err
	}
	e.Store.Cache.Set(store.ColStates, s.ID, s)
	if id == StateOrchestrator {
		e.Bus.Publish(EvOrchestrator, s)
	} else {
		e.Bus.Publish(EvState, s)
	}
	return s, nil
}

func (e *Engine) GetState(ctx context.Context, id string) (domain.State, bool, error) {
	if id != StateAgent && id != StateOrchestrator {
		return domain.State{}, false, fmt.Errorf("invalid state id %q", id)
	}
	return store.ReadOne(ctx, e.Store, store.ColStates, id, func(ctx context.Context) (domain.State, error) {
		return e.Store.Repo.GetState(ctx, id)
	})
}

// --- activity feed ---

func (e *Engine) PostActivity(ctx context.Context, typ, message string, meta map[string]any) (domain.Activity, error) {
	if typ == "" {
		return domain.Activity{}, errors.New("type is required")
	}
	a := domain.Activity{
		ID:      uuid.NewString(),
		TS:      e.now(),
		Type:    typ,
		Message: message,
		Meta:    meta,
	}
	err := e.Store.Write(ctx, func(ctx context.Context) error {
		return e.Store.Repo.InsertActivity(ctx, a)
	})
	if err != nil {
		return domain.Activity{}, err
	}
	e.Store.Cache.Set(store.ColActivity, a.ID, a)
	e.Bus.Publish(EvActivity, a)
	return a, nil
}

func (e *Engine) ListActivity(ctx context.Context, limit int) ([]domain.Activity, bool, error) {
	items, cached, err := store.ReadAll(ctx, e.Store, store.ColActivity,
		func(a domain.Activity) string { return a.ID },
		func(ctx context.Context) ([]domain.Activity, error) {
			return e.Store.Repo.ListActivity(ctx, limit)
		})
	if err != nil {
		return nil, cached, err
	}
	if cached {
		sortActivityDesc(items)
		if limit > 0 && len(items) > limit {
			items = items[:limit]
		}
	}
	return items, cached, nil
}

// --- cache repopulation ---

// RepopulateCache mirrors every persisted collection into the snapshot
// cache. Wired into the connection supervisor, which single-flights it.
func (e *Engine) RepopulateCache(ctx context.Context) error {
	for _, col := range []string{store.ColDocuments, store.ColDirectives, store.ColTasks, store.ColStates, store.ColActivity} {
		e.Store.Cache.MarkCollection(col)
	}
	docs, err := e.Store.Repo.AllDocuments(ctx)
	if err != nil {
		return fmt.Errorf("repopulate documents: %w", err)
	}
	for _, d := range docs {
		e.Store.Cache.Set(store.ColDocuments, d.DocID, d)
	}
	directives, err := e.Store.Repo.ListDirectives(ctx)
	if err != nil {
		return fmt.Errorf("repopulate directives: %w", err)
	}
	for _, d := range directives {
		e.Store.Cache.Set(store.ColDirectives, d.DirectiveID, d)
	}
	tasks, err := e.Store.Repo.ListTasks(ctx, repo.TaskFilters{})
	if err != nil {
		return fmt.Errorf("repopulate tasks: %w", err)
	}
	for _, t := range tasks {
		e.Store.Cache.Set(store.ColTasks, t.TaskID, t)
	}
	states, err := e.Store.Repo.AllStates(ctx)
	if err != nil {
		return fmt.Errorf("repopulate states: %w", err)
	}
	for _, s := range states {
		e.Store.Cache.Set(store.ColStates, s.ID, s)
	}
	activity, err := e.Store.Repo.AllActivity(ctx)
	if err != nil {
		return fmt.Errorf("repopulate activity: %w", err)
	}
	for _, a := range activity {
		e.Store.Cache.Set(store.ColActivity, a.ID, a)
	}
	e.Logger.Printf("engine: snapshot cache repopulated (%d documents, %d directives, %d tasks)", len(docs), len(directives), len(tasks))
	return nil
}

func dedup(v []string) []string {
	if len(v) == 0 {
		return v
	}
	seen := make(map[string]bool, len(v))
	res := v[:0]
	for _, s := range v {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		res = append(res, s)
	}
	return res
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortActivityDesc(items []domain.Activity) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].TS != items[j].TS {
			return items[i].TS > items[j].TS
		}
		return items[i].ID > items[j].ID
	})
}
