package repo

import (
	"context"
	"database/sql"
	"fmt"

	"loreline/internal/domain"
)

const directiveCols = `directive_id,intent,priority,status,decomposition_json,max_workers,created_at,updated_at`

func scanDirective(scan func(dest ...any) error) (domain.Directive, error) {
	var d domain.Directive
	var decomposition sql.NullString
	err := scan(&d.DirectiveID, &d.Intent, &d.Priority, &d.Status, &decomposition, &d.MaxWorkers, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.Decomposition = unmarshalStrings(decomposition)
	return d, nil
}

func (r Repo) InsertDirective(ctx context.Context, d domain.Directive) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO directives(`+directiveCols+`) VALUES (?,?,?,?,?,?,?,?)`,
		d.DirectiveID, d.Intent, d.Priority, d.Status, marshalStrings(d.Decomposition), d.MaxWorkers, d.CreatedAt, d.UpdatedAt)
	return conflictOr(err)
}

func (r Repo) UpdateDirective(ctx context.Context, tx *sql.Tx, d domain.Directive) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE directives SET intent=?, priority=?, status=?, decomposition_json=?, max_workers=?, updated_at=? WHERE directive_id=?`,
		d.Intent, d.Priority, d.Status, marshalStrings(d.Decomposition), d.MaxWorkers, d.UpdatedAt, d.DirectiveID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetDirective(ctx context.Context, id string) (domain.Directive, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+directiveCols+` FROM directives WHERE directive_id=?`, id)
	return scanDirective(row.Scan)
}

func (r Repo) ListDirectives(ctx context.Context) ([]domain.Directive, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+directiveCols+` FROM directives ORDER BY directive_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Directive
	for rows.Next() {
		d, err := scanDirective(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// NextDirectiveSeq returns one past the highest numeric suffix among
// DIR-NNN ids, so sequences stay monotonic across deletes.
func (r Repo) NextDirectiveSeq(ctx context.Context) (int, error) {
	var max int
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(CAST(SUBSTR(directive_id,5) AS INTEGER)),0) FROM directives WHERE directive_id LIKE 'DIR-%'`).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// FormatDirectiveID renders a sequential directive id (DIR-001, DIR-002, ...).
func FormatDirectiveID(seq int) string {
	return fmt.Sprintf("DIR-%03d", seq)
}
