package cli

import (
	"fmt"

	actx "go.hackfix.me/strata/app/context"
	"go.hackfix.me/strata/migrate"
)

// Up applies pending migrations.
type Up struct {
	To    string `help:"Apply migrations up to and including this id." xor:"plan"`
	Steps int    `help:"Apply at most this many migrations." xor:"plan"`
	//nolint:lll // Long struct tags are unavoidable.
	DryRun     bool `help:"Plan the run without executing or recording anything." xor:"plan"`
	AllowDirty bool `help:"Proceed despite interrupted or failed migrations. They won't be re-attempted."`
}

// Run the up command.
func (c *Up) Run(appCtx *actx.Context) error {
	opts := []migrate.RunnerOption{migrate.WithAllowDirty(c.AllowDirty)}
	runner, err := newRunner(appCtx, opts...)
	if err != nil {
		return err
	}

	plan := migrate.RunAll()
	switch {
	case c.To != "":
		plan = migrate.RunTo(c.To)
	case c.Steps > 0:
		plan = migrate.RunSteps(c.Steps)
	case c.DryRun:
		plan = migrate.DryRun()
	}

	result, err := runner.Run(appCtx.Ctx, plan)
	if err != nil {
		return err
	}

	switch {
	case result.DryRun && len(result.Planned) == 0:
		_, err = fmt.Fprintln(appCtx.Stdout, "nothing to apply")
	case result.DryRun:
		for _, id := range result.Planned {
			if _, err = fmt.Fprintf(appCtx.Stdout, "would apply %s\n", id); err != nil {
				return err
			}
		}
	case len(result.Applied) == 0:
		_, err = fmt.Fprintln(appCtx.Stdout, "nothing to apply")
	default:
		for _, id := range result.Applied {
			if _, err = fmt.Fprintf(appCtx.Stdout, "applied %s\n", id); err != nil {
				return err
			}
		}
	}

	return err
}
