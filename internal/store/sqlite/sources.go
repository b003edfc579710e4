package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/relaywatch/internal/store"
)

func (d *DB) CreateSource(ctx context.Context, externalRef, title string) (*store.Source, error) {
	now := formatTime(time.Now())
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO sources (external_ref, title, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (external_ref) DO UPDATE SET title = excluded.title`,
		externalRef, title, now)
	if err != nil {
		return nil, errors.Wrap(err, "creating source")
	}
	return d.getSourceByRef(ctx, externalRef)
}

func (d *DB) getSourceByRef(ctx context.Context, externalRef string) (*store.Source, error) {
	var s store.Source
	var createdAt string
	err := d.db.QueryRowContext(ctx,
		`SELECT id, external_ref, title, error_count, created_at FROM sources WHERE external_ref = ?`, externalRef,
	).Scan(&s.ID, &s.ExternalRef, &s.Title, &s.ErrorCount, &createdAt)
	if err != nil {
		return nil, errors.Wrap(err, "reloading created source")
	}
	s.CreatedAt = parseTime(createdAt)
	return &s, nil
}

func (d *DB) ListSources(ctx context.Context) ([]*store.Source, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, external_ref, title, error_count, created_at FROM sources ORDER BY created_at ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "listing sources")
	}
	defer rows.Close()

	var out []*store.Source
	for rows.Next() {
		s := &store.Source{}
		var createdAt string
		if err := rows.Scan(&s.ID, &s.ExternalRef, &s.Title, &s.ErrorCount, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scanning source")
		}
		s.CreatedAt = parseTime(createdAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *DB) GetSource(ctx context.Context, id int64) (*store.Source, error) {
	s := &store.Source{}
	var createdAt string
	err := d.db.QueryRowContext(ctx, `SELECT id, external_ref, title, error_count, created_at FROM sources WHERE id = ?`, id).
		Scan(&s.ID, &s.ExternalRef, &s.Title, &s.ErrorCount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting source")
	}
	s.CreatedAt = parseTime(createdAt)
	return s, nil
}

func (d *DB) DeleteSource(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	return errors.Wrap(err, "deleting source")
}

func (d *DB) IncrementSourceErrorCount(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `UPDATE sources SET error_count = error_count + 1 WHERE id = ?`, id)
	return errors.Wrap(err, "incrementing source error count")
}

func (d *DB) ResetSourceErrorCount(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `UPDATE sources SET error_count = 0 WHERE id = ?`, id)
	return errors.Wrap(err, "resetting source error count")
}

func (d *DB) AddSubscription(ctx context.Context, userID string, sourceID int64) (bool, error) {
	_, err := d.db.ExecContext(ctx, `INSERT INTO subscriptions (user_id, source_id, created_at) VALUES (?, ?, ?)`,
		userID, sourceID, formatTime(time.Now()))
	if err == nil {
		return true, nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return false, nil
	}
	return false, errors.Wrap(err, "adding subscription")
}

func (d *DB) RemoveSubscription(ctx context.Context, userID string, sourceID int64) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE user_id = ? AND source_id = ?`, userID, sourceID)
	return errors.Wrap(err, "removing subscription")
}

func (d *DB) ListSubscriptions(ctx context.Context, userID string) ([]*store.Subscription, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT user_id, source_id, created_at FROM subscriptions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "listing subscriptions")
	}
	defer rows.Close()

	var out []*store.Subscription
	for rows.Next() {
		sub := &store.Subscription{}
		var createdAt string
		if err := rows.Scan(&sub.UserID, &sub.SourceID, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scanning subscription")
		}
		sub.CreatedAt = parseTime(createdAt)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (d *DB) ContentExists(ctx context.Context, hashID string) (bool, error) {
	var exists int
	err := d.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM contents WHERE hash_id = ?)`, hashID).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "checking content existence")
	}
	return exists != 0, nil
}

func (d *DB) AddContent(ctx context.Context, content *store.SeenContent) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO contents (hash_id, source_id, external_item_id, link, title, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (hash_id) DO NOTHING`,
		content.HashID, content.SourceID, content.ExternalItemID, content.Link, content.Title, formatTime(time.Now()))
	if err != nil {
		return false, errors.Wrap(err, "adding content")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "checking content insert result")
	}
	return n > 0, nil
}
