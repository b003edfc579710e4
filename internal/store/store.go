package store

import (
	"context"

	"github.com/hrygo/relaywatch/internal/logging"
)

// Store is the thin façade handed to every other component. It owns no
// SQL itself — each method is a one-line delegation to the active
// Driver — but it is the single point other packages import, so the
// driver choice (postgres vs. sqlite) stays invisible above this layer.
type Store struct {
	driver Driver
	log    *logging.Logger
}

// New wraps driver behind the Store façade.
func New(driver Driver, log *logging.Logger) *Store {
	if log == nil {
		log = logging.Default()
	}
	return &Store{driver: driver, log: log.With("component", "store")}
}

// Driver exposes the underlying driver for callers (e.g. migrations)
// that need it directly.
func (s *Store) Driver() Driver { return s.driver }

func (s *Store) Close() error { return s.driver.Close() }

func (s *Store) EnsureMonitorTables(ctx context.Context) error {
	return s.driver.EnsureMonitorTables(ctx)
}

// Sources.

func (s *Store) CreateSource(ctx context.Context, externalRef, title string) (*Source, error) {
	return s.driver.CreateSource(ctx, externalRef, title)
}

func (s *Store) ListSources(ctx context.Context) ([]*Source, error) {
	return s.driver.ListSources(ctx)
}

func (s *Store) GetSource(ctx context.Context, id int64) (*Source, error) {
	return s.driver.GetSource(ctx, id)
}

func (s *Store) DeleteSource(ctx context.Context, id int64) error {
	return s.driver.DeleteSource(ctx, id)
}

func (s *Store) IncrementSourceErrorCount(ctx context.Context, id int64) error {
	return s.driver.IncrementSourceErrorCount(ctx, id)
}

func (s *Store) ResetSourceErrorCount(ctx context.Context, id int64) error {
	return s.driver.ResetSourceErrorCount(ctx, id)
}

// Subscriptions.

func (s *Store) AddSubscription(ctx context.Context, userID string, sourceID int64) (bool, error) {
	return s.driver.AddSubscription(ctx, userID, sourceID)
}

func (s *Store) RemoveSubscription(ctx context.Context, userID string, sourceID int64) error {
	return s.driver.RemoveSubscription(ctx, userID, sourceID)
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string) ([]*Subscription, error) {
	return s.driver.ListSubscriptions(ctx, userID)
}

// Seen content.

func (s *Store) ContentExists(ctx context.Context, hashID string) (bool, error) {
	return s.driver.ContentExists(ctx, hashID)
}

func (s *Store) AddContent(ctx context.Context, content *SeenContent) (bool, error) {
	return s.driver.AddContent(ctx, content)
}

// AI chats.

func (s *Store) GetOrCreateActiveChat(ctx context.Context, userID string) (*AIChat, error) {
	return s.driver.GetOrCreateActiveChat(ctx, userID)
}

func (s *Store) SetActiveChat(ctx context.Context, userID string, chatID int64) error {
	return s.driver.SetActiveChat(ctx, userID, chatID)
}

func (s *Store) CreateChat(ctx context.Context, userID, title string) (*AIChat, error) {
	return s.driver.CreateChat(ctx, userID, title)
}

func (s *Store) ListChats(ctx context.Context, userID string) ([]*AIChat, error) {
	return s.driver.ListChats(ctx, userID)
}

func (s *Store) GetChat(ctx context.Context, chatID int64) (*AIChat, error) {
	return s.driver.GetChat(ctx, chatID)
}

func (s *Store) UpdateChatTitle(ctx context.Context, chatID int64, title string) error {
	return s.driver.UpdateChatTitle(ctx, chatID, title)
}

func (s *Store) UpdateChatSummary(ctx context.Context, chatID int64, summary string) error {
	return s.driver.UpdateChatSummary(ctx, chatID, summary)
}

func (s *Store) ClearMessages(ctx context.Context, chatID int64) error {
	return s.driver.ClearMessages(ctx, chatID)
}

func (s *Store) DeleteChat(ctx context.Context, chatID int64) error {
	return s.driver.DeleteChat(ctx, chatID)
}

// AI messages.

func (s *Store) SaveMessage(ctx context.Context, chatID int64, role AIMessageRole, content string) (*AIMessage, error) {
	return s.driver.SaveMessage(ctx, chatID, role, content)
}

func (s *Store) ListMessages(ctx context.Context, chatID int64, limit int) ([]*AIMessage, error) {
	return s.driver.ListMessages(ctx, chatID, limit)
}

func (s *Store) CountMessages(ctx context.Context, chatID int64) (int, error) {
	return s.driver.CountMessages(ctx, chatID)
}

// AI settings.

func (s *Store) GetAISettings(ctx context.Context, userID string) (*AISettings, error) {
	return s.driver.GetAISettings(ctx, userID)
}

func (s *Store) UpsertAISettings(ctx context.Context, userID, providerKey, modelID string) error {
	return s.driver.UpsertAISettings(ctx, userID, providerKey, modelID)
}

// Monitor filters and history.

func (s *Store) GetMonitorFilter(ctx context.Context, userID string) (*MonitorFilter, error) {
	filter, err := s.driver.GetMonitorFilter(ctx, userID)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		defaults := DefaultMonitorFilter()
		return &defaults, nil
	}
	merged := DefaultMonitorFilter().Merge(*filter)
	return &merged, nil
}

func (s *Store) UpsertMonitorFilter(ctx context.Context, userID string, filter MonitorFilter) error {
	return s.driver.UpsertMonitorFilter(ctx, userID, filter)
}

func (s *Store) AppendMonitorHistory(ctx context.Context, row *MonitorHistory) error {
	if err := s.driver.AppendMonitorHistory(ctx, row); err != nil {
		s.log.Warn("failed to append monitor history", "user_id", row.UserID, "error", err.Error())
		return err
	}
	return nil
}

func (s *Store) ListMonitorHistory(ctx context.Context, userID string, limit int) ([]*MonitorHistory, error) {
	return s.driver.ListMonitorHistory(ctx, userID, limit)
}
