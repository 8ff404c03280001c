package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gateflow/internal/config"
	"gateflow/internal/db"
)

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in the storage layout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func (r Repo) q(query string) string {
	return r.Dialect.Rebind(query)
}

func (r Repo) UpsertRegistryConfig(ctx context.Context, id string, cfg *config.Config) error {
	return r.upsertRegistryConfig(ctx, r.DB, id, cfg)
}

func (r Repo) upsertRegistryConfig(ctx context.Context, q querier, id string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Registry.ID = id
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := FormatTime(time.Now())
	_, err = q.ExecContext(ctx, r.q(`INSERT INTO registry_configs(id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`), id, string(payload), now, now)
	return err
}

func (r Repo) GetRegistryConfig(ctx context.Context, id string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT config_json FROM registry_configs WHERE id=?`), id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeConfig(id, payload)
}

// SingleRegistryConfig returns the only stored registry config.
func (r Repo) SingleRegistryConfig(ctx context.Context) (*config.Config, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, config_json FROM registry_configs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	type stored struct{ id, payload string }
	var all []stored
	for rows.Next() {
		var s stored
		if err := rows.Scan(&s.id, &s.payload); err != nil {
			return nil, err
		}
		all = append(all, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	if len(all) > 1 {
		return nil, fmt.Errorf("multiple registries exist; specify --registry")
	}
	return decodeConfig(all[0].id, all[0].payload)
}

func decodeConfig(id, payload string) (*config.Config, error) {
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Registry.ID == "" {
		cfg.Registry.ID = id
	}
	return &cfg, cfg.Validate()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
