package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/hrygo/relaywatch/internal/store"
)

func (d *DB) GetMonitorFilter(ctx context.Context, userID string) (*store.MonitorFilter, error) {
	var raw []byte
	err := d.db.QueryRowContext(ctx, `SELECT filters FROM monitor_filters WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting monitor filter")
	}
	filter := &store.MonitorFilter{}
	if err := json.Unmarshal(raw, filter); err != nil {
		return nil, errors.Wrap(err, "decoding monitor filter")
	}
	return filter, nil
}

func (d *DB) UpsertMonitorFilter(ctx context.Context, userID string, filter store.MonitorFilter) error {
	raw, err := json.Marshal(filter)
	if err != nil {
		return errors.Wrap(err, "encoding monitor filter")
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO monitor_filters (user_id, filters) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET filters = EXCLUDED.filters`,
		userID, raw)
	return errors.Wrap(err, "upserting monitor filter")
}

func (d *DB) AppendMonitorHistory(ctx context.Context, row *store.MonitorHistory) error {
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO monitor_history (user_id, source, source_id, message, ai_annotation)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		row.UserID, row.Source, row.SourceID, row.Message, row.AIAnnotation,
	).Scan(&row.ID, &row.CreatedAt)
	return errors.Wrap(err, "appending monitor history")
}

func (d *DB) ListMonitorHistory(ctx context.Context, userID string, limit int) ([]*store.MonitorHistory, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, source, source_id, message, ai_annotation, created_at
		 FROM monitor_history WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing monitor history")
	}
	defer rows.Close()

	var out []*store.MonitorHistory
	for rows.Next() {
		h := &store.MonitorHistory{}
		if err := rows.Scan(&h.ID, &h.UserID, &h.Source, &h.SourceID, &h.Message, &h.AIAnnotation, &h.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning monitor history")
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
