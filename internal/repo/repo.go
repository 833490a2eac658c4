package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"loreline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrConflict reports a duplicate id on insert.
var ErrConflict = errors.New("conflict")

func conflictOr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed") {
		return ErrConflict
	}
	return err
}

func marshalStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func unmarshalStrings(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var res []string
	if err := json.Unmarshal([]byte(s.String), &res); err != nil {
		return nil
	}
	if len(res) == 0 {
		return nil
	}
	return res
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

const documentCols = `doc_id,title,domain,content,tags_json,depends_on_json,depended_by_json,status,version,created_at,updated_at`

func scanDocument(scan func(dest ...any) error) (domain.Document, error) {
	var d domain.Document
	var dom, content, tags, dependsOn, dependedBy, status sql.NullString
	err := scan(&d.DocID, &d.Title, &dom, &content, &tags, &dependsOn, &dependedBy, &status, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if dom.Valid {
		d.Domain = dom.String
	}
	if content.Valid {
		d.Content = content.String
	}
	if status.Valid {
		d.Status = status.String
	}
	d.Tags = unmarshalStrings(tags)
	d.DependsOn = unmarshalStrings(dependsOn)
	d.DependedBy = unmarshalStrings(dependedBy)
	return d, nil
}

func (r Repo) InsertDocument(ctx context.Context, d domain.Document) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO documents(`+documentCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		d.DocID, d.Title, nullable(d.Domain), nullable(d.Content), marshalStrings(d.Tags),
		marshalStrings(d.DependsOn), marshalStrings(d.DependedBy), nullable(d.Status), d.Version, d.CreatedAt, d.UpdatedAt)
	return conflictOr(err)
}

func (r Repo) UpdateDocument(ctx context.Context, d domain.Document) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE documents SET title=?, domain=?, content=?, tags_json=?, depends_on_json=?, depended_by_json=?, status=?, version=?, updated_at=? WHERE doc_id=?`,
		d.Title, nullable(d.Domain), nullable(d.Content), marshalStrings(d.Tags),
		marshalStrings(d.DependsOn), marshalStrings(d.DependedBy), nullable(d.Status), d.Version, d.UpdatedAt, d.DocID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertDocument is the ingestion write path: last write wins.
func (r Repo) UpsertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO documents(`+documentCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(doc_id) DO UPDATE SET title=excluded.title, domain=excluded.domain, content=excluded.content,
tags_json=excluded.tags_json, depends_on_json=excluded.depends_on_json, depended_by_json=excluded.depended_by_json,
status=excluded.status, version=excluded.version, updated_at=excluded.updated_at`,
		d.DocID, d.Title, nullable(d.Domain), nullable(d.Content), marshalStrings(d.Tags),
		marshalStrings(d.DependsOn), marshalStrings(d.DependedBy), nullable(d.Status), d.Version, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+documentCols+` FROM documents WHERE doc_id=?`, id)
	return scanDocument(row.Scan)
}

func (r Repo) DeleteDocument(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM documents WHERE doc_id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type DocFilters struct {
	Domain string
	Tag    string
	Status string
}

// ListDocuments returns documents matching the filters, ordered by id.
// The tag filter is applied after the scan: tags live in a JSON column.
func (r Repo) ListDocuments(ctx context.Context, f DocFilters) ([]domain.Document, error) {
	var clauses []string
	var args []any
	if f.Domain != "" {
		clauses = append(clauses, "domain=?")
		args = append(args, f.Domain)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+documentCols+` FROM documents `+where+` ORDER BY doc_id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		if f.Tag != "" && !containsString(d.Tags, f.Tag) {
			continue
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// AllDocuments returns the full corpus for repair and cache repopulation.
func (r Repo) AllDocuments(ctx context.Context) ([]domain.Document, error) {
	return r.ListDocuments(ctx, DocFilters{})
}

// DocumentIDs returns every doc_id present in the store.
func (r Repo) DocumentIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT doc_id FROM documents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateDocumentEdges rewrites only the dependency columns of a document,
// used by the repair batch so content edits are never clobbered.
func (r Repo) UpdateDocumentEdges(ctx context.Context, tx *sql.Tx, docID string, dependsOn, dependedBy []string, updatedAt string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `UPDATE documents SET depends_on_json=?, depended_by_json=?, updated_at=? WHERE doc_id=?`,
		marshalStrings(dependsOn), marshalStrings(dependedBy), updatedAt, docID)
	return err
}

// Counts reports row counts per persisted collection for the status surface.
func (r Repo) Counts(ctx context.Context) (map[string]int, error) {
	res := map[string]int{}
	for _, table := range []string{"documents", "directives", "tasks", "states", "activity"} {
		var n int
		if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM `+table).Scan(&n); err != nil {
			return nil, err
		}
		res[table] = n
	}
	return res, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
