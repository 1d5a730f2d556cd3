package config_test

import (
	"database/sql"
	"testing"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/strata/app/config"
)

func TestConfigLoadMissing(t *testing.T) {
	t.Parallel()

	fs := memoryfs.New()
	cfg := config.NewConfig(fs, "/config/strata/config.json")

	// A missing file loads as an empty configuration.
	require.NoError(t, cfg.Load())
	assert.False(t, cfg.Database.Path.Valid)
	assert.False(t, cfg.Migrations.Dir.Valid)
	assert.False(t, cfg.Migrations.Table.Valid)
	assert.False(t, cfg.Migrations.Strict.Valid)
}

func TestConfigRoundTrip(t *testing.T) {
	t.Parallel()

	fs := memoryfs.New()
	path := "/config/strata/config.json"

	cfg := config.NewConfig(fs, path)
	cfg.Database.Path = sql.Null[string]{V: "/data/strata/strata.db", Valid: true}
	cfg.Migrations.Dir = sql.Null[string]{V: "migrations", Valid: true}
	cfg.Migrations.Table = sql.Null[string]{V: "app_migrations", Valid: true}
	cfg.Migrations.Strict = sql.Null[bool]{V: true, Valid: true}
	require.NoError(t, cfg.Save())

	loaded := config.NewConfig(fs, path)
	require.NoError(t, loaded.Load())
	assert.Equal(t, "/data/strata/strata.db", loaded.Database.Path.V)
	assert.Equal(t, "migrations", loaded.Migrations.Dir.V)
	assert.Equal(t, "app_migrations", loaded.Migrations.Table.V)
	assert.True(t, loaded.Migrations.Strict.Valid)
	assert.True(t, loaded.Migrations.Strict.V)
}

func TestConfigOmitsUnsetFields(t *testing.T) {
	t.Parallel()

	fs := memoryfs.New()
	path := "/config/strata/config.json"

	cfg := config.NewConfig(fs, path)
	cfg.Migrations.Strict = sql.Null[bool]{V: false, Valid: true}
	require.NoError(t, cfg.Save())

	data, err := vfs.ReadFile(fs, path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"path"`)
	assert.NotContains(t, string(data), `"dir"`)
	// An explicit false is preserved, unlike an unset value.
	assert.Contains(t, string(data), `"strict": false`)

	loaded := config.NewConfig(fs, path)
	require.NoError(t, loaded.Load())
	assert.True(t, loaded.Migrations.Strict.Valid)
	assert.False(t, loaded.Migrations.Strict.V)
}
