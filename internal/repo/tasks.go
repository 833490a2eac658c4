package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"loreline/internal/domain"
)

const taskCols = `task_id,directive_id,description,status,priority,dependencies_json,assigned_worker,attempt,max_attempts,output,failure_reason,created_at,updated_at,completed_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var directiveID, deps, worker, output, failure, completedAt sql.NullString
	err := scan(&t.TaskID, &directiveID, &t.Description, &t.Status, &t.Priority, &deps, &worker,
		&t.Attempt, &t.MaxAttempts, &output, &failure, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if directiveID.Valid {
		t.DirectiveID = &directiveID.String
	}
	t.Dependencies = unmarshalStrings(deps)
	if worker.Valid {
		t.AssignedWorker = &worker.String
	}
	if output.Valid {
		t.Output = output.String
	}
	if failure.Valid {
		t.FailureReason = failure.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO tasks(`+taskCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.TaskID, nullableStringPtr(t.DirectiveID), t.Description, t.Status, t.Priority,
		marshalStrings(t.Dependencies), nullableStringPtr(t.AssignedWorker), t.Attempt, t.MaxAttempts,
		nullable(t.Output), nullable(t.FailureReason), t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return conflictOr(err)
}

func (r Repo) UpdateTask(ctx context.Context, t domain.Task) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET directive_id=?, description=?, status=?, priority=?, dependencies_json=?, assigned_worker=?, attempt=?, max_attempts=?, output=?, failure_reason=?, updated_at=?, completed_at=? WHERE task_id=?`,
		nullableStringPtr(t.DirectiveID), t.Description, t.Status, t.Priority, marshalStrings(t.Dependencies),
		nullableStringPtr(t.AssignedWorker), t.Attempt, t.MaxAttempts, nullable(t.Output), nullable(t.FailureReason),
		t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.TaskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE task_id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	Status      string
	DirectiveID string
	Unassigned  bool
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.DirectiveID != "" {
		clauses = append(clauses, "directive_id=?")
		args = append(args, f.DirectiveID)
	}
	if f.Unassigned {
		clauses = append(clauses, "assigned_worker IS NULL")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks `+where+` ORDER BY task_id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// NextTaskSeq returns one past the highest numeric suffix among TASK-NNN ids.
// Sequential ids are assigned by the single writer process; a lost race
// surfaces as ErrConflict on insert, not silent renumbering.
func (r Repo) NextTaskSeq(ctx context.Context, tx *sql.Tx) (int, error) {
	query := `SELECT COALESCE(MAX(CAST(SUBSTR(task_id,6) AS INTEGER)),0) FROM tasks WHERE task_id LIKE 'TASK-%'`
	row := r.DB.QueryRowContext(ctx, query)
	if tx != nil {
		row = tx.QueryRowContext(ctx, query)
	}
	var max int
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max + 1, nil
}

// FormatTaskID renders a sequential task id (TASK-001, TASK-002, ...).
func FormatTaskID(seq int) string {
	return fmt.Sprintf("TASK-%03d", seq)
}
