// Package config loads process-wide settings from the environment and
// resolves the Task Pro home directory.
package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vladponakov/simple-task-pro-v2/pkg/models"
)

// Config is built once at process start and passed by reference into the
// lifecycle engine and the HTTP server.
type Config struct {
	Addr               string
	DBDriver           string // "sqlite" (default) or "postgres"
	DBURL              string // for postgres: connection string (or DATABASE_URL env)
	RestoreWindowHours int
	RequireAPIToken    bool
	APITokens          []string
	WebhookURL         string // outbound completion push target; empty disables
	CORSOrigins        []string
	// UserFixtures maps the demo X-User header handle to a user id.
	UserFixtures map[string]int64
}

// Load builds a Config from environment variables with sensible defaults.
func Load() *Config {
	c := &Config{
		Addr:               envOr("TASKPRO_ADDR", "127.0.0.1:8080"),
		DBDriver:           envOr("TASKPRO_DB_DRIVER", "sqlite"),
		DBURL:              os.Getenv("DATABASE_URL"),
		RestoreWindowHours: envIntOr("TASKPRO_RESTORE_WINDOW_HOURS", models.DefaultRestoreWindowHours),
		RequireAPIToken:    envBool("TASKPRO_REQUIRE_API_TOKEN"),
		APITokens:          splitCSV(os.Getenv("TASKPRO_API_TOKENS")),
		WebhookURL:         os.Getenv("MAKE_WEBHOOK_URL"),
		CORSOrigins:        splitCSV(envOr("TASKPRO_CORS_ORIGINS", "*")),
		UserFixtures:       DefaultUserFixtures(),
	}
	return c
}

// DefaultUserFixtures is the demo X-User header mapping. Keep only users that
// actually exist in the database.
func DefaultUserFixtures() map[string]int64 {
	return map[string]int64{
		"paddy": 1, // Admin (Paddy MacGrath)
		"ulf":   2,
		"una":   3,
	}
}

// RestoreWindow returns the configured soft-delete restore window.
func (c *Config) RestoreWindow() time.Duration {
	h := c.RestoreWindowHours
	if h <= 0 {
		h = models.DefaultRestoreWindowHours
	}
	return time.Duration(h) * time.Hour
}

// ValidToken reports whether token is an accepted ingest API token. When
// RequireAPIToken is false (dev) any token, including none, is accepted.
func (c *Config) ValidToken(token string) bool {
	if !c.RequireAPIToken {
		return true
	}
	if token == "" {
		return false
	}
	for _, t := range c.APITokens {
		if t == token {
			return true
		}
	}
	return false
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type homeKey struct{}

// WithHome stores the Task Pro home path in the context.
func WithHome(ctx context.Context, home string) context.Context {
	return context.WithValue(ctx, homeKey{}, home)
}

// HomeFrom returns the Task Pro home path from the context, if set.
func HomeFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(homeKey{})
	s, ok := v.(string)
	return s, ok
}

// MustHomeFrom returns the home path from the context, or panics if not set.
func MustHomeFrom(ctx context.Context) string {
	if h, ok := HomeFrom(ctx); ok && h != "" {
		return h
	}
	panic("taskpro home missing from context")
}

// ResolveHome returns the Task Pro home directory (override, TASKPRO_HOME, or
// default ~/.taskpro).
func ResolveHome(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}
	if env := os.Getenv("TASKPRO_HOME"); env != "" {
		return filepath.Clean(env), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine user home directory")
	}
	return filepath.Join(home, ".taskpro"), nil
}
