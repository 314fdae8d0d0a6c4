package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"deskline/internal/config"
)

func (r Repo) UpsertDeskConfig(ctx context.Context, deskID string, cfg *config.Config) error {
	return upsertDeskConfig(ctx, r.DB, nil, deskID, cfg)
}

func (r Repo) UpsertDeskConfigTx(ctx context.Context, tx *sql.Tx, deskID string, cfg *config.Config) error {
	return upsertDeskConfig(ctx, nil, tx, deskID, cfg)
}

func upsertDeskConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, deskID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Desk.ID = deskID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO desk_configs(desk_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(desk_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, deskID, string(payload), now, now)
	return err
}

func (r Repo) GetDeskConfig(ctx context.Context, deskID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM desk_configs WHERE desk_id=?`, deskID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Desk.ID == "" {
		cfg.Desk.ID = deskID
	}
	return &cfg, cfg.Validate()
}
