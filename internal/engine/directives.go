package engine

import (
	"context"
	"errors"
	"fmt"

	"loreline/internal/domain"
	"loreline/internal/repo"
	"loreline/internal/store"
)

type DirectiveCreateOptions struct {
	Intent     string
	Priority   int
	MaxWorkers int
}

func (e *Engine) CreateDirective(ctx context.Context, opts DirectiveCreateOptions) (domain.Directive, error) {
	if opts.Intent == "" {
		return domain.Directive{}, errors.New("intent is required")
	}
	if opts.Priority == 0 {
		opts.Priority = 3
	}
	if opts.Priority < 1 || opts.Priority > 5 {
		return domain.Directive{}, errors.New("priority must be between 1 and 5")
	}
	if opts.MaxWorkers == 0 {
		opts.MaxWorkers = 1
	}
	var created domain.Directive
	err := e.Store.Write(ctx, func(ctx context.Context) error {
		seq, err := e.Store.Repo.NextDirectiveSeq(ctx)
		if err != nil {
			return err
		}
		now := e.now()
		d := domain.Directive{
			DirectiveID: repo.FormatDirectiveID(seq),
			Intent:      opts.Intent,
			Priority:    opts.Priority,
			Status:      "pending",
			MaxWorkers:  opts.MaxWorkers,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.Store.Repo.InsertDirective(ctx, d); err != nil {
			return err
		}
		created = d
		return nil
	})
	if err != nil {
		return domain.Directive{}, err
	}
	e.Store.Cache.Set(store.ColDirectives, created.DirectiveID, created)
	e.Bus.Publish(EvDirective, created)
	return created, nil
}

// DirectiveUpdate whitelists the editable fields. Decomposition is owned
// by the decompose operation and cannot be patched directly.
type DirectiveUpdate struct {
	Intent     *string
	Priority   *int
	Status     *string
	MaxWorkers *int
}

func (e *Engine) UpdateDirective(ctx context.Context, id string, upd DirectiveUpdate) (domain.Directive, error) {
	var updated domain.Directive
	err := e.Store.Write(ctx, func(ctx context.Context) error {
		d, err := e.Store.Repo.GetDirective(ctx, id)
		if err != nil {
			return err
		}
		if upd.Intent != nil {
			if *upd.Intent == "" {
				return errors.New("intent is required")
			}
			d.Intent = *upd.Intent
		}
		if upd.Priority != nil {
			if *upd.Priority < 1 || *upd.Priority > 5 {
				return errors.New("priority must be between 1 and 5")
			}
			d.Priority = *upd.Priority
		}
		if upd.Status != nil {
			d.Status = *upd.Status
		}
		if upd.MaxWorkers != nil {
			d.MaxWorkers = *upd.MaxWorkers
		}
		d.UpdatedAt = e.now()
		if err := e.Store.Repo.UpdateDirective(ctx, nil, d); err != nil {
			return err
		}
		updated = d
		return nil
	})
	if err != nil {
		return domain.Directive{}, err
	}
	e.Store.Cache.Set(store.ColDirectives, updated.DirectiveID, updated)
	e.Bus.Publish(EvDirective, updated)
	return updated, nil
}

func (e *Engine) GetDirective(ctx context.Context, id string) (domain.Directive, bool, error) {
	return store.ReadOne(ctx, e.Store, store.ColDirectives, id, func(ctx context.Context) (domain.Directive, error) {
		return e.Store.Repo.GetDirective(ctx, id)
	})
}

func (e *Engine) ListDirectives(ctx context.Context) ([]domain.Directive, bool, error) {
	return store.ReadAll(ctx, e.Store, store.ColDirectives,
		func(d domain.Directive) string { return d.DirectiveID },
		e.Store.Repo.ListDirectives)
}

// TaskSpec describes one task of a directive decomposition.
type TaskSpec struct {
	Description  string
	Priority     int
	Dependencies []string
	MaxAttempts  int
}

// DecomposeDirective creates the directive's task batch and activates the
// directive in one transaction: the caller either sees the directive
// active with every task linked, or nothing at all.
func (e *Engine) DecomposeDirective(ctx context.Context, id string, specs []TaskSpec) (domain.Directive, []domain.Task, error) {
	if len(specs) == 0 {
		return domain.Directive{}, nil, errors.New("decompose requires at least one task")
	}
	for i, spec := range specs {
		if spec.Description == "" {
			return domain.Directive{}, nil, fmt.Errorf("task %d: description is required", i)
		}
	}
	var directive domain.Directive
	var tasks []domain.Task
	err := e.Store.Write(ctx, func(ctx context.Context) error {
		d, err := e.Store.Repo.GetDirective(ctx, id)
		if err != nil {
			return err
		}
		if len(d.Decomposition) > 0 {
			return fmt.Errorf("directive %s already decomposed", id)
		}
		seq, err := e.Store.Repo.NextTaskSeq(ctx, nil)
		if err != nil {
			return err
		}
		// Reads stay outside the transaction: under a shared-cache sqlite
		// connection a tx that opens with a SELECT holds a read lock its own
		// later INSERT cannot upgrade. A lost sequence race surfaces as a
		// conflict on insert, not a stall.
		tx, err := e.Store.Repo.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		now := e.now()
		tasks = tasks[:0]
		var taskIDs []string
		for i, spec := range specs {
			t := domain.Task{
				TaskID:       repo.FormatTaskID(seq + i),
				DirectiveID:  &d.DirectiveID,
				Description:  spec.Description,
				Status:       "planned",
				Priority:     spec.Priority,
				Dependencies: dedup(spec.Dependencies),
				MaxAttempts:  spec.MaxAttempts,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if t.Priority == 0 {
				t.Priority = d.Priority
			}
			if t.MaxAttempts == 0 {
				t.MaxAttempts = 3
			}
			if err := e.Store.Repo.InsertTask(ctx, tx, t); err != nil {
				return fmt.Errorf("insert task %s: %w", t.TaskID, err)
			}
			tasks = append(tasks, t)
			taskIDs = append(taskIDs, t.TaskID)
		}
		d.Decomposition = taskIDs
		d.Status = "active"
		d.UpdatedAt = now
		if err := e.Store.Repo.UpdateDirective(ctx, tx, d); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		directive = d
		return nil
	})
	if err != nil {
		return domain.Directive{}, nil, err
	}
	e.Store.Cache.Set(store.ColDirectives, directive.DirectiveID, directive)
	for _, t := range tasks {
		e.Store.Cache.Set(store.ColTasks, t.TaskID, t)
	}
	e.Bus.Publish(EvDirective, directive)
	for _, t := range tasks {
		e.Bus.Publish(EvTask, t)
	}
	return directive, tasks, nil
}
