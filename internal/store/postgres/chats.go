package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/relaywatch/internal/apperr"
	"github.com/hrygo/relaywatch/internal/store"
)

// GetOrCreateActiveChat is atomic per §4.2: exactly one row per user is
// active after the call, never zero. It runs in a transaction so a
// concurrent caller for the same user cannot observe two actives.
func (d *DB) GetOrCreateActiveChat(ctx context.Context, userID string) (*store.AIChat, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	chat := &store.AIChat{}
	err = tx.QueryRowContext(ctx,
		`SELECT id, user_id, title, summary, is_active, created_at, updated_at
		 FROM ai_chats WHERE user_id = $1 AND is_active = true LIMIT 1`, userID,
	).Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.Summary, &chat.IsActive, &chat.CreatedAt, &chat.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowContext(ctx,
			`INSERT INTO ai_chats (user_id, title, is_active) VALUES ($1, $2, true)
			 RETURNING id, user_id, title, summary, is_active, created_at, updated_at`,
			userID, store.PlaceholderChatTitle,
		).Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.Summary, &chat.IsActive, &chat.CreatedAt, &chat.UpdatedAt)
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting or creating active chat")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing active chat transaction")
	}
	return chat, nil
}

// SetActiveChat demotes every active chat for the user, then promotes
// chatID, inside one transaction (§4.2).
func (d *DB) SetActiveChat(ctx context.Context, userID string, chatID int64) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE ai_chats SET is_active = false WHERE user_id = $1`, userID); err != nil {
		return errors.Wrap(err, "demoting active chats")
	}
	res, err := tx.ExecContext(ctx, `UPDATE ai_chats SET is_active = true WHERE id = $1 AND user_id = $2`, chatID, userID)
	if err != nil {
		return errors.Wrap(err, "promoting active chat")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrap(apperr.ErrNotFound, "chat not found for user")
	}
	return errors.Wrap(tx.Commit(), "committing active chat transaction")
}

func (d *DB) CreateChat(ctx context.Context, userID, title string) (*store.AIChat, error) {
	if title == "" {
		title = store.PlaceholderChatTitle
	}
	chat := &store.AIChat{}
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO ai_chats (user_id, title) VALUES ($1, $2)
		 RETURNING id, user_id, title, summary, is_active, created_at, updated_at`,
		userID, title,
	).Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.Summary, &chat.IsActive, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "creating chat")
	}
	return chat, nil
}

func (d *DB) ListChats(ctx context.Context, userID string) ([]*store.AIChat, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, title, summary, is_active, created_at, updated_at
		 FROM ai_chats WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "listing chats")
	}
	defer rows.Close()

	var out []*store.AIChat
	for rows.Next() {
		c := &store.AIChat{}
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Summary, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning chat")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *DB) GetChat(ctx context.Context, chatID int64) (*store.AIChat, error) {
	c := &store.AIChat{}
	err := d.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, summary, is_active, created_at, updated_at FROM ai_chats WHERE id = $1`, chatID,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.Summary, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting chat")
	}
	return c, nil
}

func (d *DB) UpdateChatTitle(ctx context.Context, chatID int64, title string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE ai_chats SET title = $1, updated_at = now() WHERE id = $2`, title, chatID)
	return errors.Wrap(err, "updating chat title")
}

func (d *DB) UpdateChatSummary(ctx context.Context, chatID int64, summary string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE ai_chats SET summary = $1, updated_at = now() WHERE id = $2`, summary, chatID)
	return errors.Wrap(err, "updating chat summary")
}

func (d *DB) ClearMessages(ctx context.Context, chatID int64) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM ai_messages WHERE chat_id = $1`, chatID)
	return errors.Wrap(err, "clearing messages")
}

func (d *DB) DeleteChat(ctx context.Context, chatID int64) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM ai_chats WHERE id = $1`, chatID)
	return errors.Wrap(err, "deleting chat")
}

// SaveMessage also bumps the chat's updated_at, per §4.2.
func (d *DB) SaveMessage(ctx context.Context, chatID int64, role store.AIMessageRole, content string) (*store.AIMessage, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	msg := &store.AIMessage{}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO ai_messages (chat_id, role, content) VALUES ($1, $2, $3)
		 RETURNING id, chat_id, role, content, created_at`,
		chatID, string(role), content,
	).Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &msg.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "saving message")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE ai_chats SET updated_at = now() WHERE id = $1`, chatID); err != nil {
		return nil, errors.Wrap(err, "bumping chat updated_at")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing save message transaction")
	}
	return msg, nil
}

// ListMessages returns the most recent limit messages in chronological
// order (§4.8 needs "the most recent N messages, chronological"): the
// query fetches newest-first so LIMIT bounds the right end of the
// conversation, then the result is reversed back into chronological
// order before returning.
func (d *DB) ListMessages(ctx context.Context, chatID int64, limit int) ([]*store.AIMessage, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, created_at FROM ai_messages
		 WHERE chat_id = $1 ORDER BY created_at DESC LIMIT $2`, chatID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing messages")
	}
	defer rows.Close()

	var out []*store.AIMessage
	for rows.Next() {
		m := &store.AIMessage{}
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning message")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (d *DB) CountMessages(ctx context.Context, chatID int64) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ai_messages WHERE chat_id = $1`, chatID).Scan(&n)
	return n, errors.Wrap(err, "counting messages")
}

func (d *DB) GetAISettings(ctx context.Context, userID string) (*store.AISettings, error) {
	s := &store.AISettings{}
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id, provider_key, model_id, updated_at FROM ai_settings WHERE user_id = $1`, userID,
	).Scan(&s.UserID, &s.ProviderKey, &s.ModelID, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting AI settings")
	}
	return s, nil
}

func (d *DB) UpsertAISettings(ctx context.Context, userID, providerKey, modelID string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO ai_settings (user_id, provider_key, model_id, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id) DO UPDATE SET provider_key = EXCLUDED.provider_key, model_id = EXCLUDED.model_id, updated_at = now()`,
		userID, providerKey, modelID)
	return errors.Wrap(err, "upserting AI settings")
}
