// Package config manages the persisted application configuration.
package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/mandelsoft/vfs/pkg/vfs"
)

// Config represents the application configuration, backed by a filesystem for
// persistence.
type Config struct {
	Database   Database
	Migrations Migrations

	fs   vfs.FileSystem
	path string
}

// Database defines storage backend configuration options.
type Database struct {
	// Path is the location of the SQLite database file.
	Path sql.Null[string] `json:"path"`
}

// Migrations defines migration engine configuration options.
type Migrations struct {
	// Dir is the directory containing SQL migration files.
	Dir sql.Null[string] `json:"dir"`
	// Table is the name of the migration tracking table.
	Table sql.Null[string] `json:"table"`
	// Strict requires a full, successful checksum validation pass before any
	// migration runs.
	Strict sql.Null[bool] `json:"strict"`
}

// NewConfig creates a new Config instance with the specified filesystem and
// configuration file path.
func NewConfig(fs vfs.FileSystem, path string) *Config {
	return &Config{fs: fs, path: path}
}

// Load reads and parses the configuration file from the filesystem. If the
// file doesn't exist, it initializes with an empty configuration.
func (c *Config) Load() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}

	configJSON, err := vfs.ReadFile(c.fs, c.path)
	if err != nil && !vfs.IsErrNotExist(err) {
		return fmt.Errorf("failed reading configuration file: %w", err)
	}

	// Ensure that unmarshalling JSON doesn't fail if the file doesn't exist or is empty.
	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}

	if err = json.Unmarshal(configJSON, c); err != nil {
		return fmt.Errorf("failed parsing configuration file: %w", err)
	}

	return nil
}

// Path returns the filesystem path where the configuration is stored.
func (c *Config) Path() string {
	return c.path
}

// Save writes the current configuration to the filesystem as JSON.
func (c *Config) Save() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}
	configJSON, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed serializing configuration data: %w", err)
	}
	if err = vfs.WriteFile(c.fs, c.path, configJSON, 0o644); err != nil {
		return fmt.Errorf("failed writing configuration file: %w", err)
	}

	return nil
}

type cfgWrapper struct {
	Database dbCfgWrapper  `json:"database"`
	Migrate  migCfgWrapper `json:"migrations"`
}
type dbCfgWrapper struct {
	Path string `json:"path,omitempty"`
}
type migCfgWrapper struct {
	Dir    string `json:"dir,omitempty"`
	Table  string `json:"table,omitempty"`
	Strict *bool  `json:"strict,omitempty"`
}

// MarshalJSON implements custom JSON marshaling to convert sql.Null values to
// their underlying types, omitting invalid/null fields from the output.
func (c Config) MarshalJSON() ([]byte, error) {
	w := cfgWrapper{}

	if c.Database.Path.Valid {
		w.Database.Path = c.Database.Path.V
	}
	if c.Migrations.Dir.Valid {
		w.Migrate.Dir = c.Migrations.Dir.V
	}
	if c.Migrations.Table.Valid {
		w.Migrate.Table = c.Migrations.Table.V
	}
	if c.Migrations.Strict.Valid {
		strict := c.Migrations.Strict.V
		w.Migrate.Strict = &strict
	}

	//nolint:wrapcheck // This is fine.
	return json.Marshal(w)
}

// UnmarshalJSON implements custom JSON unmarshaling to convert plain values
// into sql.Null types.
func (c *Config) UnmarshalJSON(data []byte) error {
	var w cfgWrapper
	if err := json.Unmarshal(data, &w); err != nil {
		//nolint:wrapcheck // This is fine.
		return err
	}

	if w.Database.Path != "" {
		c.Database.Path = sql.Null[string]{V: w.Database.Path, Valid: true}
	}
	if w.Migrate.Dir != "" {
		c.Migrations.Dir = sql.Null[string]{V: w.Migrate.Dir, Valid: true}
	}
	if w.Migrate.Table != "" {
		c.Migrations.Table = sql.Null[string]{V: w.Migrate.Table, Valid: true}
	}
	if w.Migrate.Strict != nil {
		c.Migrations.Strict = sql.Null[bool]{V: *w.Migrate.Strict, Valid: true}
	}

	return nil
}
