package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/relaywatch/internal/apperr"
	"github.com/hrygo/relaywatch/internal/store"
)

func scanChat(row interface{ Scan(...any) error }) (*store.AIChat, error) {
	c := &store.AIChat{}
	var createdAt, updatedAt string
	var isActive int
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Summary, &isActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.IsActive = isActive != 0
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

func (d *DB) GetOrCreateActiveChat(ctx context.Context, userID string) (*store.AIChat, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, user_id, title, summary, is_active, created_at, updated_at
		 FROM ai_chats WHERE user_id = ? AND is_active = 1 LIMIT 1`, userID)
	chat, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		now := formatTime(time.Now())
		res, insertErr := tx.ExecContext(ctx,
			`INSERT INTO ai_chats (user_id, title, is_active, created_at, updated_at) VALUES (?, ?, 1, ?, ?)`,
			userID, store.PlaceholderChatTitle, now, now)
		if insertErr != nil {
			return nil, errors.Wrap(insertErr, "creating active chat")
		}
		id, idErr := res.LastInsertId()
		if idErr != nil {
			return nil, errors.Wrap(idErr, "reading new chat id")
		}
		chat, err = scanChat(tx.QueryRowContext(ctx,
			`SELECT id, user_id, title, summary, is_active, created_at, updated_at FROM ai_chats WHERE id = ?`, id))
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting or creating active chat")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing active chat transaction")
	}
	return chat, nil
}

func (d *DB) SetActiveChat(ctx context.Context, userID string, chatID int64) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE ai_chats SET is_active = 0 WHERE user_id = ?`, userID); err != nil {
		return errors.Wrap(err, "demoting active chats")
	}
	res, err := tx.ExecContext(ctx, `UPDATE ai_chats SET is_active = 1 WHERE id = ? AND user_id = ?`, chatID, userID)
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
	now := formatTime(time.Now())
	res, err := d.db.ExecContext(ctx, `INSERT INTO ai_chats (user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		userID, title, now, now)
	if err != nil {
		return nil, errors.Wrap(err, "creating chat")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "reading new chat id")
	}
	return d.GetChat(ctx, id)
}

func (d *DB) ListChats(ctx context.Context, userID string) ([]*store.AIChat, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, title, summary, is_active, created_at, updated_at
		 FROM ai_chats WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "listing chats")
	}
	defer rows.Close()

	var out []*store.AIChat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning chat")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *DB) GetChat(ctx context.Context, chatID int64) (*store.AIChat, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, summary, is_active, created_at, updated_at FROM ai_chats WHERE id = ?`, chatID)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting chat")
	}
	return c, nil
}

func (d *DB) UpdateChatTitle(ctx context.Context, chatID int64, title string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE ai_chats SET title = ?, updated_at = ? WHERE id = ?`, title, formatTime(time.Now()), chatID)
	return errors.Wrap(err, "updating chat title")
}

func (d *DB) UpdateChatSummary(ctx context.Context, chatID int64, summary string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE ai_chats SET summary = ?, updated_at = ? WHERE id = ?`, summary, formatTime(time.Now()), chatID)
	return errors.Wrap(err, "updating chat summary")
}

func (d *DB) ClearMessages(ctx context.Context, chatID int64) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM ai_messages WHERE chat_id = ?`, chatID)
	return errors.Wrap(err, "clearing messages")
}

func (d *DB) DeleteChat(ctx context.Context, chatID int64) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM ai_chats WHERE id = ?`, chatID)
	return errors.Wrap(err, "deleting chat")
}

func (d *DB) SaveMessage(ctx context.Context, chatID int64, role store.AIMessageRole, content string) (*store.AIMessage, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	res, err := tx.ExecContext(ctx, `INSERT INTO ai_messages (chat_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		chatID, string(role), content, now)
	if err != nil {
		return nil, errors.Wrap(err, "saving message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "reading new message id")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE ai_chats SET updated_at = ? WHERE id = ?`, now, chatID); err != nil {
		return nil, errors.Wrap(err, "bumping chat updated_at")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing save message transaction")
	}
	return &store.AIMessage{ID: id, ChatID: chatID, Role: role, Content: content, CreatedAt: parseTime(now)}, nil
}

// ListMessages returns the most recent limit messages in chronological
// order (§4.8 needs "the most recent N messages, chronological"): the
// query fetches newest-first so LIMIT bounds the right end of the
// conversation, then the result is reversed back into chronological
// order before returning.
func (d *DB) ListMessages(ctx context.Context, chatID int64, limit int) ([]*store.AIMessage, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, created_at FROM ai_messages
		 WHERE chat_id = ? ORDER BY created_at DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing messages")
	}
	defer rows.Close()

	var out []*store.AIMessage
	for rows.Next() {
		m := &store.AIMessage{}
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scanning message")
		}
		m.CreatedAt = parseTime(createdAt)
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
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ai_messages WHERE chat_id = ?`, chatID).Scan(&n)
	return n, errors.Wrap(err, "counting messages")
}

func (d *DB) GetAISettings(ctx context.Context, userID string) (*store.AISettings, error) {
	s := &store.AISettings{}
	var updatedAt string
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id, provider_key, model_id, updated_at FROM ai_settings WHERE user_id = ?`, userID,
	).Scan(&s.UserID, &s.ProviderKey, &s.ModelID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting AI settings")
	}
	s.UpdatedAt = parseTime(updatedAt)
	return s, nil
}

func (d *DB) UpsertAISettings(ctx context.Context, userID, providerKey, modelID string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO ai_settings (user_id, provider_key, model_id, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET provider_key = excluded.provider_key, model_id = excluded.model_id, updated_at = excluded.updated_at`,
		userID, providerKey, modelID, formatTime(time.Now()))
	return errors.Wrap(err, "upserting AI settings")
}
