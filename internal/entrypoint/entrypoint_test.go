package entrypoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/crudkit/internal/config"
	"github.com/mrlokans/crudkit/internal/database"
	"github.com/mrlokans/crudkit/internal/sysmgmt"
)

func openTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.Open(config.Database{URI: "sqlite://" + filepath.Join(t.TempDir(), "app.db")},
		database.WithLogger(logger.Default.LogMode(logger.Silent)))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSetupAuth(t *testing.T) {
	db := openTestDB(t)

	t.Run("local mode", func(t *testing.T) {
		cfg := &config.Config{Auth: config.Auth{Mode: config.AuthModeLocal, SecretKey: "s3cret"}}
		authn, sessions, csrf, err := setupAuth(cfg, db)
		require.NoError(t, err)
		assert.NotNil(t, authn.Sessions())
		assert.NotNil(t, sessions)
		assert.Len(t, csrf, 32)

		// the key is derived from the configured secret
		_, _, again, err := setupAuth(cfg, db)
		require.NoError(t, err)
		assert.Equal(t, csrf, again)
	})

	t.Run("none mode generates a secret", func(t *testing.T) {
		cfg := &config.Config{Auth: config.Auth{Mode: config.AuthModeNone}}
		authn, sessions, csrf, err := setupAuth(cfg, db)
		require.NoError(t, err)
		assert.Nil(t, sessions)
		assert.Nil(t, csrf)
		assert.Nil(t, authn.Sessions())

		token, err := authn.IssueToken(1, "admin")
		require.NoError(t, err)
		assert.NotEmpty(t, token)
	})

	t.Run("bad algorithm", func(t *testing.T) {
		cfg := &config.Config{Auth: config.Auth{Mode: config.AuthModeLocal, SecretKey: "x", TokenAlgorithm: "RS256"}}
		_, _, _, err := setupAuth(cfg, db)
		assert.Error(t, err)
	})
}

func TestApplySeed(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, sysmgmt.Migrate(db.DB))

	cfg := &config.Config{Auth: config.Auth{BcryptCost: 4}}
	require.NoError(t, applySeed(cfg, db))
	require.NoError(t, applySeed(cfg, db))

	user, err := sysmgmt.NewStore(db.DB).UserByUsername(context.Background(), "admin")
	require.NoError(t, err)
	assert.Equal(t, sysmgmt.AdminRole, user.Role.Name)

	cfg.Seed.File = filepath.Join(t.TempDir(), "missing.yaml")
	assert.Error(t, applySeed(cfg, db))
}
