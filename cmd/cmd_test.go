package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/expense-tracker/apiserver/internal/db"
	"github.com/expense-tracker/apiserver/internal/db/dbtest"
	"github.com/expense-tracker/apiserver/internal/services"
	"github.com/expense-tracker/apiserver/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	cfg := dbtest.Config(t)
	require.NoError(t, db.MigrateUp(cfg))

	var out bytes.Buffer
	err := createUser(ctx, cfg, "alice", "", strings.NewReader("password123\n"), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Password: ")
	assert.Contains(t, out.String(), "User alice created with ID ")

	out.Reset()
	err = createUser(ctx, cfg, "alice", "password123", strings.NewReader(""), &out)
	assert.EqualError(t, err, "user alice already exists")

	err = createUser(ctx, cfg, "bob", "short", strings.NewReader(""), &out)
	assert.ErrorIs(t, err, services.ErrValidation)

	err = createUser(ctx, cfg, "carol", "", strings.NewReader(""), &out)
	assert.ErrorContains(t, err, "failed to read password")
}

func TestSetUserActive(t *testing.T) {
	ctx := context.Background()
	cfg := dbtest.Config(t)
	require.NoError(t, db.MigrateUp(cfg))

	var out bytes.Buffer
	require.NoError(t, createUser(ctx, cfg, "alice", "password123", strings.NewReader(""), &out))

	out.Reset()
	require.NoError(t, setUserActive(ctx, cfg, "alice", false, &out))
	assert.Equal(t, "User alice disabled\n", out.String())

	conn, err := db.Open(ctx, cfg)
	require.NoError(t, err)
	defer conn.Close()
	user, err := store.NewUserRepository(conn).GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, user.IsActive)

	err = setUserActive(ctx, cfg, "nobody", true, &out)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	logger := newLogger("debug", &buf)
	assert.True(t, logger.Enabled(ctx, slog.LevelDebug))

	logger = newLogger("WARN", &buf)
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))

	logger = newLogger("chatty", &buf)
	assert.False(t, logger.Enabled(ctx, slog.LevelDebug))
	assert.True(t, logger.Enabled(ctx, slog.LevelInfo))

	logger.Info("hello", "user", "alice")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}
