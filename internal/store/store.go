package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"skylane/internal/domain"
)

// Store persists the USS-local halves of DSS entities. The DSS owns the
// references; only details (volumes, priority, constraint type) live here,
// as JSON documents keyed by entity id.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

func (s Store) now() string {
	if s.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return s.Now().UTC().Format(time.RFC3339)
}

func (s Store) SaveOperationalIntent(ctx context.Context, oi domain.OperationalIntent) error {
	if oi.Reference.ID == uuid.Nil {
		return fmt.Errorf("operational intent has no id")
	}
	doc, err := json.Marshal(oi)
	if err != nil {
		return fmt.Errorf("marshal operational intent: %w", err)
	}
	now := s.now()
	_, err = s.DB.ExecContext(ctx, `INSERT INTO operational_intents(id,state,ovn,doc_json,created_at,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET state=excluded.state, ovn=excluded.ovn, doc_json=excluded.doc_json, updated_at=excluded.updated_at`,
		oi.Reference.ID.String(), string(oi.Reference.State), oi.Reference.OVN, string(doc), now, now)
	return err
}

func (s Store) GetOperationalIntent(ctx context.Context, id uuid.UUID) (domain.OperationalIntent, error) {
	var oi domain.OperationalIntent
	var doc string
	err := s.DB.QueryRowContext(ctx, `SELECT doc_json FROM operational_intents WHERE id=?`, id.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return oi, ErrNotFound
	}
	if err != nil {
		return oi, err
	}
	if err := json.Unmarshal([]byte(doc), &oi); err != nil {
		return oi, fmt.Errorf("unmarshal operational intent %s: %w", id, err)
	}
	return oi, nil
}

func (s Store) ListOperationalIntents(ctx context.Context) ([]domain.OperationalIntent, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT doc_json FROM operational_intents ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OperationalIntent
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var oi domain.OperationalIntent
		if err := json.Unmarshal([]byte(doc), &oi); err != nil {
			return nil, err
		}
		res = append(res, oi)
	}
	return res, rows.Err()
}

func (s Store) ExistsOperationalIntent(ctx context.Context, id uuid.UUID) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM operational_intents WHERE id=? LIMIT 1`, id.String()).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s Store) DeleteOperationalIntent(ctx context.Context, id uuid.UUID) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM operational_intents WHERE id=?`, id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s Store) SaveConstraint(ctx context.Context, c domain.Constraint) error {
	if c.Reference.ID == uuid.Nil {
		return fmt.Errorf("constraint has no id")
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal constraint: %w", err)
	}
	now := s.now()
	_, err = s.DB.ExecContext(ctx, `INSERT INTO constraints(id,ovn,doc_json,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET ovn=excluded.ovn, doc_json=excluded.doc_json, updated_at=excluded.updated_at`,
		c.Reference.ID.String(), c.Reference.OVN, string(doc), now, now)
	return err
}

func (s Store) GetConstraint(ctx context.Context, id uuid.UUID) (domain.Constraint, error) {
	var c domain.Constraint
	var doc string
	err := s.DB.QueryRowContext(ctx, `SELECT doc_json FROM constraints WHERE id=?`, id.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return c, fmt.Errorf("unmarshal constraint %s: %w", id, err)
	}
	return c, nil
}

func (s Store) ListConstraints(ctx context.Context) ([]domain.Constraint, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT doc_json FROM constraints ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Constraint
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var c domain.Constraint
		if err := json.Unmarshal([]byte(doc), &c); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (s Store) ExistsConstraint(ctx context.Context, id uuid.UUID) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM constraints WHERE id=? LIMIT 1`, id.String()).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s Store) DeleteConstraint(ctx context.Context, id uuid.UUID) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM constraints WHERE id=?`, id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
