package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS release_records (
	tag        TEXT PRIMARY KEY,
	phase      TEXT NOT NULL,
	record     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// PGStore persists release records into Postgres.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// OpenPG connects with the lib/pq driver.
func OpenPG(ctx context.Context, dsn string) (*PGStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPGStore(db), nil
}

func (p *PGStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *PGStore) Close() error { return p.db.Close() }

func (p *PGStore) Get(ctx context.Context, tag string) (*Record, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `SELECT record FROM release_records WHERE tag = $1`, tag).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tag)
	}
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", tag, err)
	}
	return &r, nil
}

func (p *PGStore) Put(ctx context.Context, r *Record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	q := `
		INSERT INTO release_records (tag, phase, record, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tag) DO UPDATE
		SET phase = EXCLUDED.phase, record = EXCLUDED.record, updated_at = EXCLUDED.updated_at
	`
	_, err = p.db.ExecContext(ctx, q, r.Tag, string(r.Phase), raw, r.UpdatedAt)
	return err
}

func (p *PGStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT record FROM release_records ORDER BY tag`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
