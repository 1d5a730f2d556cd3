// Package app wires the application environment together and runs the CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/mandelsoft/vfs/pkg/memoryfs"

	"go.hackfix.me/strata/app/config"
	actx "go.hackfix.me/strata/app/context"
	"go.hackfix.me/strata/cli"
	"go.hackfix.me/strata/db"
	"go.hackfix.me/strata/migrate"
)

// App is the application.
type App struct {
	name    string
	ctx     *actx.Context
	cli     *cli.CLI
	dataDir string
	// the logging level is set via the CLI, if the app was initialized with
	// the WithLogger option.
	logLevel *slog.LevelVar
}

// New initializes a new application.
func New(name string, opts ...Option) (*App, error) {
	version, err := actx.GetVersion()
	if err != nil {
		return nil, err
	}

	defaultCtx := &actx.Context{
		Ctx:     context.Background(),
		FS:      memoryfs.New(),
		Logger:  slog.Default(),
		TimeNow: time.Now,
		Version: version,
	}
	app := &App{
		name:    name,
		ctx:     defaultCtx,
		dataDir: filepath.Join(xdg.DataHome, name),
	}

	for _, opt := range opts {
		opt(app)
	}

	configFile := filepath.Join(xdg.ConfigHome, name, "config.json")
	ver := fmt.Sprintf("%s %s", app.name, app.ctx.Version.String())
	app.cli, err = cli.New(configFile, app.dataDir, ver)
	if err != nil {
		return nil, err
	}

	return app, nil
}

// Run initializes the application environment and starts execution of the
// application.
func (app *App) Run(args []string) error {
	if err := app.cli.Parse(args); err != nil {
		return err
	}

	if app.logLevel != nil {
		app.logLevel.Set(app.cli.Log.Level)
		slog.SetLogLoggerLevel(app.cli.Log.Level)
	}

	if app.ctx.Config == nil {
		cfg := config.NewConfig(app.ctx.FS, app.cli.ConfigFile)
		if err := cfg.Load(); err != nil {
			return err
		}
		app.ctx.Config = cfg
	}
	app.cli.ApplyConfig(app.ctx.Config)

	// Write the resolved values back, so that commands have a single source
	// of truth regardless of whether a value came from a flag, an environment
	// variable or the configuration file.
	dbPath := app.cli.Database
	if dbPath == "" {
		dbPath = filepath.Join(app.dataDir, fmt.Sprintf("%s.db", app.name))
	}
	app.ctx.Config.Database.Path = sql.Null[string]{V: dbPath, Valid: true}
	app.ctx.Config.Migrations.Dir = sql.Null[string]{V: app.cli.Dir, Valid: true}
	app.ctx.Config.Migrations.Table = sql.Null[string]{V: app.cli.Table, Valid: true}
	app.ctx.Config.Migrations.Strict = sql.Null[bool]{V: app.cli.Strict, Valid: true}

	if app.ctx.DB == nil {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return fmt.Errorf("failed creating data directory: %w", err)
		}
		d, err := db.Open(dbPath, app.ctx.TimeNow)
		if err != nil {
			return err
		}
		defer d.Close()
		app.ctx.DB = d
	}

	if app.ctx.Migrations == nil {
		src, err := dirSource(app.cli.Dir)
		if err != nil {
			return err
		}
		app.ctx.Migrations = src
	}

	if err := app.cli.Execute(app.ctx); err != nil {
		return err
	}

	return nil
}

// dirSource returns a migration source for the given directory. A missing
// directory yields an empty source, so that read-only commands work before
// any migrations were written.
func dirSource(dir string) (migrate.Source, error) {
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return migrate.NewRegistry(), nil
	case err != nil:
		return nil, fmt.Errorf("failed checking migrations directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("migrations path %q is not a directory", dir)
	}

	return migrate.FSSource(os.DirFS(dir)), nil
}
