package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c := Load()
	assert.Equal(t, "sqlite", c.DBDriver)
	assert.Equal(t, 24, c.RestoreWindowHours)
	assert.Equal(t, 24*time.Hour, c.RestoreWindow())
	assert.False(t, c.RequireAPIToken)
	assert.Equal(t, int64(1), c.UserFixtures["paddy"])
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TASKPRO_ADDR", "0.0.0.0:9000")
	t.Setenv("TASKPRO_RESTORE_WINDOW_HOURS", "48")
	t.Setenv("TASKPRO_REQUIRE_API_TOKEN", "true")
	t.Setenv("TASKPRO_API_TOKENS", "tok-a, tok-b")
	t.Setenv("MAKE_WEBHOOK_URL", "https://hook.example/push")

	c := Load()
	assert.Equal(t, "0.0.0.0:9000", c.Addr)
	assert.Equal(t, 48*time.Hour, c.RestoreWindow())
	assert.Equal(t, []string{"tok-a", "tok-b"}, c.APITokens)
	assert.Equal(t, "https://hook.example/push", c.WebhookURL)
}

func TestValidToken(t *testing.T) {
	c := &Config{RequireAPIToken: true, APITokens: []string{"secret"}}
	assert.True(t, c.ValidToken("secret"))
	assert.False(t, c.ValidToken("wrong"))
	assert.False(t, c.ValidToken(""))

	dev := &Config{RequireAPIToken: false}
	assert.True(t, dev.ValidToken(""))
}

func TestRestoreWindowFallback(t *testing.T) {
	c := &Config{RestoreWindowHours: 0}
	assert.Equal(t, 24*time.Hour, c.RestoreWindow())
}

func TestHomeContext(t *testing.T) {
	ctx := WithHome(context.Background(), "/tmp/taskpro-home")
	h, ok := HomeFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "/tmp/taskpro-home", h)
	assert.Equal(t, "/tmp/taskpro-home", MustHomeFrom(ctx))
}

func TestResolveHomeOverride(t *testing.T) {
	h, err := ResolveHome("/custom//home/")
	require.NoError(t, err)
	assert.Equal(t, "/custom/home", h)

	t.Setenv("TASKPRO_HOME", "/env/home")
	h, err = ResolveHome("")
	require.NoError(t, err)
	assert.Equal(t, "/env/home", h)
}
