// Package cli implements the command line interface of strata.
package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/alecthomas/kong"

	"go.hackfix.me/strata/app/config"
	actx "go.hackfix.me/strata/app/context"
	"go.hackfix.me/strata/migrate"
)

// CLI is the command line interface of strata.
type CLI struct {
	Status        Status        `kong:"cmd,help='Show the state of all migrations.'"`
	Up            Up            `kong:"cmd,help='Apply pending migrations.'"`
	Down          Down          `kong:"cmd,help='Reverse applied migrations.'"`
	Validate      Validate      `kong:"cmd,help='Check applied migrations for checksum drift.'"`
	Failed        Failed        `kong:"cmd,help='List failed migrations.'"`
	Retry         Retry         `kong:"cmd,help='Delete the record of a failed migration and re-run it.'"`
	ForceComplete ForceComplete `kong:"cmd,name='force-complete',help='Mark a migration as completed without running it. Dangerous.'"`

	Log struct {
		Level slog.Level `enum:"DEBUG,INFO,WARN,ERROR" default:"INFO" help:"Set the app logging level."`
	} `embed:"" prefix:"log-"`
	// NOTE: Deliberately not using kong.ConfigFlag or its support for reading
	// values from configuration files, since the configuration is managed
	// independently from the CLI.
	ConfigFile string           `kong:"default='${configFile}',help='Path to the strata configuration file.'"`
	Database   string           `kong:"help='Path to the SQLite database. Defaults to ${dataDir}/strata.db.'"`
	Dir        string           `kong:"help='Path to the directory containing migration files.',default='migrations'"`
	Table      string           `kong:"help='Name of the migration tracking table.',default='${defaultTable}'"`
	Strict     bool             `kong:"help='Require a successful checksum validation pass before running migrations.'"`
	Version    kong.VersionFlag `kong:"help='Output version and exit.'"`

	kong *kong.Kong
	kctx *kong.Context
}

// New initializes the command-line interface.
func New(configFilePath, dataDir, version string) (*CLI, error) {
	c := &CLI{}
	kparser, err := kong.New(c,
		kong.Name("strata"),
		kong.UsageOnError(),
		kong.DefaultEnvars("STRATA"),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			Summary:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"configFile":   configFilePath,
			"dataDir":      dataDir,
			"defaultTable": migrate.DefaultTable,
			"version":      version,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating the Kong parser: %w", err)
	}

	c.kong = kparser

	return c, nil
}

// Execute starts the command execution. Parse must be called before this
// method.
func (c *CLI) Execute(appCtx *actx.Context) error {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	c.kong.Stdout = appCtx.Stdout
	c.kong.Stderr = appCtx.Stderr

	//nolint:wrapcheck // This is fine.
	return c.kctx.Run(appCtx)
}

// Parse the given command line arguments. This method must be called before
// Execute.
func (c *CLI) Parse(args []string) error {
	kctx, err := c.kong.Parse(args)
	if err != nil {
		return fmt.Errorf("failed parsing CLI arguments: %w", err)
	}
	c.kctx = kctx

	return nil
}

// Command returns the full path of the executed command.
func (c *CLI) Command() string {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	cmdPath := []string{}
	for _, p := range c.kctx.Path {
		if p.Command != nil {
			cmdPath = append(cmdPath, p.Command.Name)
		}
	}

	return strings.Join(cmdPath, " ")
}

// ApplyConfig applies configuration values to the CLI, but only if they
// weren't already set.
func (c *CLI) ApplyConfig(cfg *config.Config) {
	if c.Database == "" && cfg.Database.Path.Valid {
		c.Database = cfg.Database.Path.V
	}
	if c.Dir == "migrations" && cfg.Migrations.Dir.Valid {
		c.Dir = cfg.Migrations.Dir.V
	}
	if c.Table == migrate.DefaultTable && cfg.Migrations.Table.Valid {
		c.Table = cfg.Migrations.Table.V
	}
	if !c.Strict && cfg.Migrations.Strict.Valid {
		c.Strict = cfg.Migrations.Strict.V
	}
}

// newRunner assembles the migration runner for a command over the storage
// backend and migration source wired into the app context.
func newRunner(appCtx *actx.Context, opts ...migrate.RunnerOption) (*migrate.Runner, error) {
	cfg := appCtx.Config

	var trackerOpts []migrate.TrackerOption
	if cfg != nil && cfg.Migrations.Table.Valid {
		trackerOpts = append(trackerOpts, migrate.WithTable(cfg.Migrations.Table.V))
	}
	if appCtx.TimeNow != nil {
		trackerOpts = append(trackerOpts, migrate.WithTrackerTimeNow(appCtx.TimeNow))
	}

	base := []migrate.RunnerOption{
		migrate.WithLogger(appCtx.Logger),
		migrate.WithTracker(migrate.NewTracker(appCtx.DB, trackerOpts...)),
	}
	if appCtx.TimeNow != nil {
		base = append(base, migrate.WithTimeNow(appCtx.TimeNow))
	}
	if cfg != nil && cfg.Migrations.Strict.Valid {
		base = append(base, migrate.WithStrictValidation(cfg.Migrations.Strict.V))
	}

	//nolint:wrapcheck // This is wrapped by the caller.
	return migrate.NewRunner(appCtx.DB, appCtx.Migrations, append(base, opts...)...)
}
