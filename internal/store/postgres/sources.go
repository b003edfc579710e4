package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/relaywatch/internal/store"
)

func (d *DB) CreateSource(ctx context.Context, externalRef, title string) (*store.Source, error) {
	s := &store.Source{}
	stmt := `INSERT INTO sources (external_ref, title) VALUES ($1, $2)
		ON CONFLICT (external_ref) DO UPDATE SET title = EXCLUDED.title
		RETURNING id, external_ref, title, error_count, created_at`
	err := d.db.QueryRowContext(ctx, stmt, externalRef, title).
		Scan(&s.ID, &s.ExternalRef, &s.Title, &s.ErrorCount, &s.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "creating source")
	}
	return s, nil
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
		if err := rows.Scan(&s.ID, &s.ExternalRef, &s.Title, &s.ErrorCount, &s.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning source")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *DB) GetSource(ctx context.Context, id int64) (*store.Source, error) {
	s := &store.Source{}
	err := d.db.QueryRowContext(ctx, `SELECT id, external_ref, title, error_count, created_at FROM sources WHERE id = $1`, id).
		Scan(&s.ID, &s.ExternalRef, &s.Title, &s.ErrorCount, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting source")
	}
	return s, nil
}

func (d *DB) DeleteSource(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM sources WHERE id = $1`, id)
	return errors.Wrap(err, "deleting source")
}

func (d *DB) IncrementSourceErrorCount(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `UPDATE sources SET error_count = error_count + 1 WHERE id = $1`, id)
	return errors.Wrap(err, "incrementing source error count")
}

func (d *DB) ResetSourceErrorCount(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `UPDATE sources SET error_count = 0 WHERE id = $1`, id)
	return errors.Wrap(err, "resetting source error count")
}

func (d *DB) AddSubscription(ctx context.Context, userID string, sourceID int64) (bool, error) {
	_, err := d.db.ExecContext(ctx, `INSERT INTO subscriptions (user_id, source_id) VALUES ($1, $2)`, userID, sourceID)
	if err == nil {
		return true, nil
	}
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
		return false, nil
	}
	return false, errors.Wrap(err, "adding subscription")
}

func (d *DB) RemoveSubscription(ctx context.Context, userID string, sourceID int64) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE user_id = $1 AND source_id = $2`, userID, sourceID)
	return errors.Wrap(err, "removing subscription")
}

func (d *DB) ListSubscriptions(ctx context.Context, userID string) ([]*store.Subscription, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT user_id, source_id, created_at FROM subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "listing subscriptions")
	}
	defer rows.Close()

	var out []*store.Subscription
	for rows.Next() {
		sub := &store.Subscription{}
		if err := rows.Scan(&sub.UserID, &sub.SourceID, &sub.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning subscription")
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (d *DB) ContentExists(ctx context.Context, hashID string) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM contents WHERE hash_id = $1)`, hashID).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "checking content existence")
	}
	return exists, nil
}

// AddContent performs insert-if-absent: on a unique violation it reports
// "not newly inserted" rather than an error, so concurrent writers never
// observe a duplicate success (§4.2).
func (d *DB) AddContent(ctx context.Context, content *store.SeenContent) (bool, error) {
	stmt := `INSERT INTO contents (hash_id, source_id, external_item_id, link, title)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (hash_id) DO NOTHING`
	res, err := d.db.ExecContext(ctx, stmt, content.HashID, content.SourceID, content.ExternalItemID, content.Link, content.Title)
	if err != nil {
		return false, errors.Wrap(err, "adding content")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "checking content insert result")
	}
	return n > 0, nil
}
