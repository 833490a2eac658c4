package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"loreline/internal/domain"
	"loreline/internal/repo"
	"loreline/internal/store"
)

// WorkerRegistry tracks live worker processes in memory. Workers are
// ephemeral runtime state, not knowledge, so they never touch the
// database or the snapshot cache; a restart starts from an empty roster.
type WorkerRegistry struct {
	mu      sync.Mutex
	workers map[string]domain.Worker
	logs    map[string][]domain.WorkerLogLine
	logCap  int
}

func NewWorkerRegistry(logCap int) *WorkerRegistry {
	if logCap <= 0 {
		logCap = 200
	}
	return &WorkerRegistry{
		workers: make(map[string]domain.Worker),
		logs:    make(map[string][]domain.WorkerLogLine),
		logCap:  logCap,
	}
}

func (r *WorkerRegistry) put(w domain.Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[w.ID] = w
}

func (r *WorkerRegistry) get(id string) (domain.Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	return w, ok
}

func (r *WorkerRegistry) delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[id]; !ok {
		return false
	}
	delete(r.workers, id)
	delete(r.logs, id)
	return true
}

func (r *WorkerRegistry) list() []domain.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// appendLogs keeps at most logCap lines per worker, dropping the oldest.
func (r *WorkerRegistry) appendLogs(id string, lines []domain.WorkerLogLine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := append(r.logs[id], lines...)
	if over := len(buf) - r.logCap; over > 0 {
		buf = append(buf[:0], buf[over:]...)
	}
	r.logs[id] = buf
}

func (r *WorkerRegistry) logLines(id string, limit int) []domain.WorkerLogLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := r.logs[id]
	if limit > 0 && len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	out := make([]domain.WorkerLogLine, len(buf))
	copy(out, buf)
	return out
}

type WorkerCreateOptions struct {
	ID   string
	Role string
}

// Worker mutations share the offline gate with persisted writes even
// though the roster lives in memory: a degraded node must not pretend
// to accept work it cannot record against tasks.
func (e *Engine) CreateWorker(ctx context.Context, opts WorkerCreateOptions) (domain.Worker, error) {
	if !e.Store.Sup.Online() {
		return domain.Worker{}, store.ErrOfflineWrite
	}
	if opts.ID == "" {
		return domain.Worker{}, errors.New("worker id is required")
	}
	if _, ok := e.Workers.get(opts.ID); ok {
		return domain.Worker{}, fmt.Errorf("%w: worker %s already registered", repo.ErrConflict, opts.ID)
	}
	now := e.now()
	w := domain.Worker{
		ID:            opts.ID,
		Status:        "idle",
		Role:          opts.Role,
		LastHeartbeat: now,
		CreatedAt:     now,
	}
	e.Workers.put(w)
	e.Bus.Publish(EvWorker, w)
	return w, nil
}

type WorkerUpdate struct {
	Status      *string
	Role        *string
	CurrentTask *string
}

func (e *Engine) UpdateWorker(ctx context.Context, id string, upd WorkerUpdate) (domain.Worker, error) {
	if !e.Store.Sup.Online() {
		return domain.Worker{}, store.ErrOfflineWrite
	}
	w, ok := e.Workers.get(id)
	if !ok {
		return domain.Worker{}, repo.ErrNotFound
	}
	if upd.Status != nil {
		w.Status = *upd.Status
	}
	if upd.Role != nil {
		w.Role = *upd.Role
	}
	if upd.CurrentTask != nil {
		w.CurrentTask = *upd.CurrentTask
	}
	// Any update from a worker counts as a heartbeat.
	w.LastHeartbeat = e.now()
	e.Workers.put(w)
	e.Bus.Publish(EvWorker, w)
	return w, nil
}

// WorkerRemoved is the event payload for a deregistered worker.
type WorkerRemoved struct {
	ID      string `json:"id"`
	Removed bool   `json:"removed"`
}

func (e *Engine) DeleteWorker(ctx context.Context, id string) error {
	if !e.Store.Sup.Online() {
		return store.ErrOfflineWrite
	}
	if !e.Workers.delete(id) {
		return repo.ErrNotFound
	}
	e.Bus.Publish(EvWorker, WorkerRemoved{ID: id, Removed: true})
	return nil
}

func (e *Engine) GetWorker(id string) (domain.Worker, error) {
	w, ok := e.Workers.get(id)
	if !ok {
		return domain.Worker{}, repo.ErrNotFound
	}
	return w, nil
}

func (e *Engine) ListWorkers() []domain.Worker {
	return e.Workers.list()
}

func (e *Engine) AppendWorkerLogs(ctx context.Context, id string, lines []string) ([]domain.WorkerLogLine, error) {
	if !e.Store.Sup.Online() {
		return nil, store.ErrOfflineWrite
	}
	w, ok := e.Workers.get(id)
	if !ok {
		return nil, repo.ErrNotFound
	}
	now := e.now()
	entries := make([]domain.WorkerLogLine, 0, len(lines))
	for _, line := range lines {
		entries = append(entries, domain.WorkerLogLine{WorkerID: w.ID, TS: now, Line: line})
	}
	e.Workers.appendLogs(w.ID, entries)
	for _, entry := range entries {
		e.Bus.Publish(EvWorkerLog, entry)
	}
	return entries, nil
}

func (e *Engine) WorkerLogs(id string, limit int) ([]domain.WorkerLogLine, error) {
	if _, ok := e.Workers.get(id); !ok {
		return nil, repo.ErrNotFound
	}
	return e.Workers.logLines(id, limit), nil
}
