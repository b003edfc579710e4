// Package config loads relaywatch's typed, read-only settings from the
// environment (and, via cobra/viper in cmd/relaywatch, from flags and a
// .env file). No subsystem's absence fails startup here: a missing
// provider key or DSN is recorded as zero-value and the owning component
// decides whether to self-disable, per the graceful-degradation design
// note.
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/relaywatch/internal/logging"
)

// ProviderKey identifies one of the Provider Registry's concrete backends.
type ProviderKey string

const (
	ProviderOpenAI    ProviderKey = "openai"
	ProviderAnthropic ProviderKey = "anthropic"
	ProviderGemini    ProviderKey = "gemini"
	ProviderGroq      ProviderKey = "groq"
	ProviderNVIDIA    ProviderKey = "nvidia"
)

// ProviderCredential is the API key/base-URL pair for one provider.
type ProviderCredential struct {
	APIKey  string
	BaseURL string // only meaningful for OpenAI-compatible variants
}

// Config is the immutable, process-wide settings record. It is
// constructed once in cmd/relaywatch and passed by pointer into every
// component's constructor — never read from a package-level global.
type Config struct {
	// MTProto session (C4).
	TelegramAPIID      int
	TelegramAPIHash    string
	TelegramSessionDir string

	// REST/WS gateway (C9).
	Port         int
	SharedSecret string
	APIKeys      []APIKeyBinding

	// Store (C2).
	DBDriver string // "postgres" or "sqlite"
	DBDSN    string

	// Cache (optional, §5).
	CacheDSN string

	// Monitor Service (C8).
	SourceChannels []string
	TargetChannel  string
	Keywords       []string
	FromUsers      []string
	AllowedUsers   []string
	RateLimitMS    int

	// Provider Registry (C5).
	Providers map[ProviderKey]ProviderCredential

	// Operational.
	Mode            string // "demo", "dev", "prod"
	MetricsEnabled  bool
	LogLevel        string
	DataDir         string
}

// APIKeyBinding is one entry of the API_KEYS environment variable, either
// bare (`key`) or bound to a user id (`key:userId`).
type APIKeyBinding struct {
	Key    string
	UserID string
}

// FromEnv builds a Config from the process environment using the same
// getEnvOrDefault* idiom as the teacher's profile package: every
// recognized variable maps to a typed field with a documented fallback,
// and invalid values warn-and-fall-back rather than aborting startup.
func FromEnv(getenv func(string) string) *Config {
	c := &Config{}

	c.TelegramAPIID = getEnvOrDefaultInt(getenv, "TELEGRAM_API_ID", 0)
	c.TelegramAPIHash = getEnvOrDefault(getenv, "TELEGRAM_API_HASH", "")
	c.TelegramSessionDir = getEnvOrDefault(getenv, "TELEGRAM_SESSION_DIR", "./data/session")

	c.Port = getEnvOrDefaultInt(getenv, "PORT", 8080)
	c.SharedSecret = getEnvOrDefault(getenv, "SHARED_SECRET", "")
	c.APIKeys = parseAPIKeys(getEnvOrDefault(getenv, "API_KEYS", ""))

	c.DBDriver = getEnvOrDefault(getenv, "DB_DRIVER", "sqlite")
	c.DBDSN = getEnvOrDefault(getenv, "DB_DSN", "")

	c.CacheDSN = getEnvOrDefault(getenv, "CACHE_DSN", "")

	c.SourceChannels = splitList(getEnvOrDefault(getenv, "SOURCE_CHANNELS", ""))
	c.TargetChannel = getEnvOrDefault(getenv, "TARGET_CHANNEL", "")
	c.Keywords = lowerAll(splitList(getEnvOrDefault(getenv, "KEYWORDS", "")))
	c.FromUsers = splitList(getEnvOrDefault(getenv, "FROM_USERS", ""))
	c.AllowedUsers = splitList(getEnvOrDefault(getenv, "ALLOWED_USERS", ""))
	c.RateLimitMS = getEnvOrDefaultInt(getenv, "RATE_LIMIT_MS", 1000)

	c.Providers = map[ProviderKey]ProviderCredential{
		ProviderOpenAI:    {APIKey: getEnvOrDefault(getenv, "OPENAI_API_KEY", "")},
		ProviderAnthropic: {APIKey: getEnvOrDefault(getenv, "ANTHROPIC_API_KEY", "")},
		ProviderGemini:    {APIKey: getEnvOrDefault(getenv, "GEMINI_API_KEY", "")},
		ProviderGroq: {
			APIKey:  getEnvOrDefault(getenv, "GROQ_API_KEY", ""),
			BaseURL: getEnvOrDefault(getenv, "GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		},
		ProviderNVIDIA: {
			APIKey:  getEnvOrDefault(getenv, "NVIDIA_API_KEY", ""),
			BaseURL: getEnvOrDefault(getenv, "NVIDIA_BASE_URL", "https://integrate.api.nvidia.com/v1"),
		},
	}

	c.Mode = getEnvOrDefault(getenv, "MODE", "demo")
	c.MetricsEnabled = true
	if v := getenv("METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.MetricsEnabled = b
		} else {
			logging.Default().Warn("config: invalid boolean, using default", "key", "METRICS_ENABLED", "default", true)
		}
	}
	c.LogLevel = getEnvOrDefault(getenv, "LOG_LEVEL", "info")
	c.DataDir = getEnvOrDefault(getenv, "DATA_DIR", "./data")

	return c
}

// IsDev mirrors the teacher's Profile.IsDev: anything other than "prod"
// is treated as a development-shaped deployment for logging verbosity.
func (c *Config) IsDev() bool { return c.Mode != "prod" }

// Validate resolves the data directory and, for the sqlite driver,
// derives a default DSN under it — following the teacher's Validate
// pattern of deriving DSN from data dir rather than requiring the
// operator to spell out a filesystem path explicitly.
func (c *Config) Validate() error {
	if c.Mode != "demo" && c.Mode != "dev" && c.Mode != "prod" {
		c.Mode = "demo"
	}
	if !filepath.IsAbs(c.DataDir) {
		abs, err := filepath.Abs(c.DataDir)
		if err != nil {
			return errors.Wrapf(err, "resolving data dir %s", c.DataDir)
		}
		c.DataDir = abs
	}
	if c.DBDriver == "sqlite" && c.DBDSN == "" {
		c.DBDSN = filepath.Join(c.DataDir, fmt.Sprintf("relaywatch_%s.db", c.Mode))
	}
	return nil
}

// ResolveUserID maps an API key to its bound user id, implementing
// §4.9's "key index + 1 is the fallback id" rule when no explicit
// `:userId` suffix was given.
func (c *Config) ResolveUserID(key string) (string, bool) {
	for i, binding := range c.APIKeys {
		if binding.Key != key {
			continue
		}
		if binding.UserID != "" {
			return binding.UserID, true
		}
		return strconv.Itoa(i + 1), true
	}
	return "", false
}

// APIKeyUserIDs returns the resolved user id for every bound API key,
// applying the same index+1 fallback as ResolveUserID. The Monitor
// Service's persistence fan-out (§4.7 step 7) unions these ids with
// AllowedUsers so a user identified solely by an API key still gets
// history rows.
func (c *Config) APIKeyUserIDs() []string {
	ids := make([]string, 0, len(c.APIKeys))
	for i, binding := range c.APIKeys {
		if binding.UserID != "" {
			ids = append(ids, binding.UserID)
			continue
		}
		ids = append(ids, strconv.Itoa(i+1))
	}
	return ids
}

func parseAPIKeys(raw string) []APIKeyBinding {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	bindings := make([]APIKeyBinding, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if idx := strings.Index(p, ":"); idx >= 0 {
			bindings = append(bindings, APIKeyBinding{Key: p[:idx], UserID: p[idx+1:]})
		} else {
			bindings = append(bindings, APIKeyBinding{Key: p})
		}
	}
	return bindings
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func getEnvOrDefault(getenv func(string) string, key, defaultValue string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvOrDefaultInt(getenv func(string) string, key string, defaultValue int) int {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		logging.Default().Warn("config: invalid integer, using default", "key", key, "default", defaultValue)
	}
	return defaultValue
}
