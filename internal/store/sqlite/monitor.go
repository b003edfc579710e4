package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/relaywatch/internal/store"
)

func (d *DB) GetMonitorFilter(ctx context.Context, userID string) (*store.MonitorFilter, error) {
	var raw string
	err := d.db.QueryRowContext(ctx, `SELECT filters FROM monitor_filters WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting monitor filter")
	}
	filter := &store.MonitorFilter{}
	if err := json.Unmarshal([]byte(raw), filter); err != nil {
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
		`INSERT INTO monitor_filters (user_id, filters) VALUES (?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET filters = excluded.filters`,
		userID, string(raw))
	return errors.Wrap(err, "upserting monitor filter")
}

func (d *DB) AppendMonitorHistory(ctx context.Context, row *store.MonitorHistory) error {
	now := formatTime(time.Now())
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO monitor_history (user_id, source, source_id, message, ai_annotation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		row.UserID, row.Source, row.SourceID, row.Message, row.AIAnnotation, now)
	if err != nil {
		return errors.Wrap(err, "appending monitor history")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "reading new monitor history id")
	}
	row.ID = id
	row.CreatedAt = parseTime(now)
	return nil
}

func (d *DB) ListMonitorHistory(ctx context.Context, userID string, limit int) ([]*store.MonitorHistory, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, source, source_id, message, ai_annotation, created_at
		 FROM monitor_history WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing monitor history")
	}
	defer rows.Close()

	var out []*store.MonitorHistory
	for rows.Next() {
		h := &store.MonitorHistory{}
		var createdAt string
		if err := rows.Scan(&h.ID, &h.UserID, &h.Source, &h.SourceID, &h.Message, &h.AIAnnotation, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scanning monitor history")
		}
		h.CreatedAt = parseTime(createdAt)
		out = append(out, h)
	}
	return out, rows.Err()
}
