// Package store exposes a database-agnostic façade over every durable
// entity in §3: sources, subscriptions, seen content (RSS dedup),
// per-user monitor filters and history, and AI chat/settings state. The
// façade delegates every call to a Driver, of which there are two
// concrete implementations (postgres, sqlite) selected once at startup
// by the configured DSN scheme.
package store

import (
	"strconv"
	"time"
)

// Source is a monitored chat/channel, identified by a normalized
// external reference (§3, §GLOSSARY: "Source channel").
type Source struct {
	ID          int64
	ExternalRef string
	Title       string
	ErrorCount  int
	CreatedAt   time.Time
}

// SourceRetireThreshold is the error count at which a source is
// considered effectively retired (§3).
const SourceRetireThreshold = 5

// Subscription binds a user to a source; unique on (UserID, SourceID).
type Subscription struct {
	UserID    string
	SourceID  int64
	CreatedAt time.Time
}

// SeenContent records one piece of RSS content already delivered, for
// dedup by the RSS collaborator (contracts only — §1 excludes the RSS
// service itself, but the dedup table is shared storage).
type SeenContent struct {
	HashID         string
	SourceID       int64
	ExternalItemID string
	Link           string
	Title          string
	CreatedAt      time.Time
}

// HashID computes the unique dedup key for a (sourceID, externalItemID)
// pair, per §3's "hash_id = source_id + ':' + item_id".
func HashID(sourceID int64, externalItemID string) string {
	return strconv.FormatInt(sourceID, 10) + ":" + externalItemID
}

// MonitorFilter is a per-user predicate over incoming events (§3, §4.7).
type MonitorFilter struct {
	Channels []string `json:"channels"`
	Keywords []string `json:"keywords"`
	Users    []string `json:"users"`
	Enabled  bool     `json:"enabled"`
}

// DefaultMonitorFilter is merged under whatever partial filter a caller
// supplies, per §4.2's "merged with defaults on read".
func DefaultMonitorFilter() MonitorFilter {
	return MonitorFilter{Channels: []string{}, Keywords: []string{}, Users: []string{}, Enabled: true}
}

// Merge overlays non-nil fields of patch on top of the receiver,
// implementing the "defaults ∪ F" round-trip rule in §8.
func (f MonitorFilter) Merge(patch MonitorFilter) MonitorFilter {
	merged := f
	if patch.Channels != nil {
		merged.Channels = patch.Channels
	}
	if patch.Keywords != nil {
		merged.Keywords = patch.Keywords
	}
	if patch.Users != nil {
		merged.Users = patch.Users
	}
	merged.Enabled = patch.Enabled
	return merged
}

// MonitorHistory is one row per (event, user-for-whom-it-matched), §3.
type MonitorHistory struct {
	ID            int64
	UserID        string
	Source        string
	SourceID      string
	Message       string
	AIAnnotation  string // optional, populated by the enrichment hook (§4.7)
	CreatedAt     time.Time
}

// AIChat is a per-user conversation thread, §3.
type AIChat struct {
	ID        int64
	UserID    string
	Title     string
	Summary   string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlaceholderChatTitle is the title new chats start with, until the
// first user message auto-assigns a real one (§4.8).
const PlaceholderChatTitle = "New Chat"

// AIMessageRole enumerates the two roles AIMessage rows carry.
type AIMessageRole string

const (
	RoleUser      AIMessageRole = "user"
	RoleAssistant AIMessageRole = "assistant"
)

// AIMessage is one turn in an AIChat, §3.
type AIMessage struct {
	ID        int64
	ChatID    int64
	Role      AIMessageRole
	Content   string
	CreatedAt time.Time
}

// AISettings is the single per-user provider/model selection, §3.
type AISettings struct {
	UserID     string
	ProviderKey string
	ModelID    string
	UpdatedAt  time.Time
}
