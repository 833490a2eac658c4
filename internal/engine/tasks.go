package engine

import (
	"context"
	"errors"

	"loreline/internal/domain"
	"loreline/internal/repo"
	"loreline/internal/store"
)

type TaskCreateOptions struct {
	Description  string
	DirectiveID  *string
	Priority     int
	Dependencies []string
	MaxAttempts  int
}

// CreateTask registers a standalone task. Tasks born from a directive
// decomposition go through DecomposeDirective instead.
func (e *Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Description == "" {
		return domain.Task{}, errors.New("description is required")
	}
	if opts.Priority == 0 {
		opts.Priority = 3
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	var created domain.Task
	err := e.Store.Write(ctx, func(ctx context.Context) error {
		if opts.DirectiveID != nil {
			if _, err := e.Store.Repo.GetDirective(ctx, *opts.DirectiveID); err != nil {
				return err
			}
		}
		seq, err := e.Store.Repo.NextTaskSeq(ctx, nil)
		if err != nil {
			return err
		}
		now := e.now()
		t := domain.Task{
			TaskID:       repo.FormatTaskID(seq),
			DirectiveID:  opts.DirectiveID,
			Description:  opts.Description,
			Status:       "planned",
			Priority:     opts.Priority,
			Dependencies: dedup(opts.Dependencies),
			MaxAttempts:  opts.MaxAttempts,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := e.Store.Repo.InsertTask(ctx, nil, t); err != nil {
			return err
		}
		created = t
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.Store.Cache.Set(store.ColTasks, created.TaskID, created)
	e.Bus.Publish(EvTask, created)
	return created, nil
}

type TaskUpdate struct {
	Description    *string
	Status         *string
	Priority       *int
	Dependencies   *[]string
	AssignedWorker *string
	Attempt        *int
	Output         *string
	FailureReason  *string
}

func (e *Engine) UpdateTask(ctx context.Context, id string, upd TaskUpdate) (domain.Task, error) {
	var updated domain.Task
	err := e.Store.Write(ctx, func(ctx context.Context) error {
		t, err := e.Store.Repo.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if upd.Description != nil {
			if *upd.Description == "" {
				return errors.New("description is required")
			}
			t.Description = *upd.Description
		}
		if upd.Status != nil && *upd.Status != t.Status {
			if *upd.Status == "completed" {
				ts := e.now()
				t.CompletedAt = &ts
			}
			t.Status = *upd.Status
		}
		if upd.Priority != nil {
			t.Priority = *upd.Priority
		}
		if upd.Dependencies != nil {
			t.Dependencies = dedup(*upd.Dependencies)
		}
		if upd.AssignedWorker != nil {
			if *upd.AssignedWorker == "" {
				t.AssignedWorker = nil
			} else {
				w := *upd.AssignedWorker
				t.AssignedWorker = &w
			}
		}
		if upd.Attempt != nil {
			t.Attempt = *upd.Attempt
		}
		if upd.Output != nil {
			t.Output = *upd.Output
		}
		if upd.FailureReason != nil {
			t.FailureReason = *upd.FailureReason
		}
		t.UpdatedAt = e.now()
		if err := e.Store.Repo.UpdateTask(ctx, t); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.Store.Cache.Set(store.ColTasks, updated.TaskID, updated)
	e.Bus.Publish(EvTask, updated)
	return updated, nil
}

func (e *Engine) GetTask(ctx context.Context, id string) (domain.Task, bool, error) {
	return store.ReadOne(ctx, e.Store, store.ColTasks, id, func(ctx context.Context) (domain.Task, error) {
		return e.Store.Repo.GetTask(ctx, id)
	})
}

// ListTasks filters in memory after the dual-path read so the cached
// fallback answers with the same filter semantics as the database.
func (e *Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, bool, error) {
	items, cached, err := store.ReadAll(ctx, e.Store, store.ColTasks,
		func(t domain.Task) string { return t.TaskID },
		func(ctx context.Context) ([]domain.Task, error) {
			return e.Store.Repo.ListTasks(ctx, repo.TaskFilters{})
		})
	if err != nil {
		return nil, cached, err
	}
	out := items[:0:0]
	for _, t := range items {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.DirectiveID != "" && (t.DirectiveID == nil || *t.DirectiveID != f.DirectiveID) {
			continue
		}
		if f.Unassigned && t.AssignedWorker != nil {
			continue
		}
		out = append(out, t)
	}
	return out, cached, nil
}
