package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"loreline/internal/domain"
)

func (r Repo) UpsertState(ctx context.Context, s domain.State) error {
	payload, err := json.Marshal(s.Payload)
	if err != nil {
		return fmt.Errorf("marshal state payload: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO states(id,payload_json,updated_at) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET payload_json=excluded.payload_json, updated_at=excluded.updated_at`,
		s.ID, string(payload), s.UpdatedAt)
	return err
}

func (r Repo) GetState(ctx context.Context, id string) (domain.State, error) {
	var s domain.State
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT id,payload_json,updated_at FROM states WHERE id=?`, id).
		Scan(&s.ID, &payload, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(payload), &s.Payload); err != nil {
		return s, fmt.Errorf("unmarshal state payload: %w", err)
	}
	return s, nil
}

func (r Repo) AllStates(ctx context.Context) ([]domain.State, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,payload_json,updated_at FROM states`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.State
	for rows.Next() {
		var s domain.State
		var payload string
		if err := rows.Scan(&s.ID, &payload, &s.UpdatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(payload), &s.Payload)
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) InsertActivity(ctx context.Context, a domain.Activity) error {
	var meta any
	if a.Meta != nil {
		data, err := json.Marshal(a.Meta)
		if err != nil {
			return fmt.Errorf("marshal activity meta: %w", err)
		}
		meta = string(data)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO activity(id,ts,type,message,meta_json) VALUES (?,?,?,?,?)`,
		a.ID, a.TS, a.Type, nullable(a.Message), meta)
	return conflictOr(err)
}

func (r Repo) ListActivity(ctx context.Context, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,message,meta_json FROM activity ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var message, meta sql.NullString
		if err := rows.Scan(&a.ID, &a.TS, &a.Type, &message, &meta); err != nil {
			return nil, err
		}
		if message.Valid {
			a.Message = message.String
		}
		if meta.Valid {
			_ = json.Unmarshal([]byte(meta.String), &a.Meta)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// AllActivity returns the activity feed for cache repopulation.
func (r Repo) AllActivity(ctx context.Context) ([]domain.Activity, error) {
	return r.ListActivity(ctx, 1000)
}
