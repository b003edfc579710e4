package store

import "context"

// Driver is the per-database persistence contract. Concrete
// implementations live in internal/store/postgres and
// internal/store/sqlite; Store delegates every method to whichever
// Driver was selected at startup by DSN scheme.
type Driver interface {
	// Sources.
	CreateSource(ctx context.Context, externalRef, title string) (*Source, error)
	ListSources(ctx context.Context) ([]*Source, error)
	GetSource(ctx context.Context, id int64) (*Source, error)
	DeleteSource(ctx context.Context, id int64) error
	IncrementSourceErrorCount(ctx context.Context, id int64) error
	ResetSourceErrorCount(ctx context.Context, id int64) error

	// Subscriptions.
	AddSubscription(ctx context.Context, userID string, sourceID int64) (bool, error)
	RemoveSubscription(ctx context.Context, userID string, sourceID int64) error
	ListSubscriptions(ctx context.Context, userID string) ([]*Subscription, error)

	// Seen content (RSS dedup).
	ContentExists(ctx context.Context, hashID string) (bool, error)
	AddContent(ctx context.Context, content *SeenContent) (bool, error)

	// AI chats.
	GetOrCreateActiveChat(ctx context.Context, userID string) (*AIChat, error)
	SetActiveChat(ctx context.Context, userID string, chatID int64) error
	CreateChat(ctx context.Context, userID, title string) (*AIChat, error)
	ListChats(ctx context.Context, userID string) ([]*AIChat, error)
	GetChat(ctx context.Context, chatID int64) (*AIChat, error)
	UpdateChatTitle(ctx context.Context, chatID int64, title string) error
	UpdateChatSummary(ctx context.Context, chatID int64, summary string) error
	ClearMessages(ctx context.Context, chatID int64) error
	DeleteChat(ctx context.Context, chatID int64) error

	// AI messages.
	SaveMessage(ctx context.Context, chatID int64, role AIMessageRole, content string) (*AIMessage, error)
	ListMessages(ctx context.Context, chatID int64, limit int) ([]*AIMessage, error)
	CountMessages(ctx context.Context, chatID int64) (int, error)

	// AI settings.
	GetAISettings(ctx context.Context, userID string) (*AISettings, error)
	UpsertAISettings(ctx context.Context, userID, providerKey, modelID string) error

	// Monitor filters and history.
	GetMonitorFilter(ctx context.Context, userID string) (*MonitorFilter, error)
	UpsertMonitorFilter(ctx context.Context, userID string, filter MonitorFilter) error
	AppendMonitorHistory(ctx context.Context, row *MonitorHistory) error
	ListMonitorHistory(ctx context.Context, userID string, limit int) ([]*MonitorHistory, error)

	// Lifecycle.
	EnsureMonitorTables(ctx context.Context) error
	Close() error
}
