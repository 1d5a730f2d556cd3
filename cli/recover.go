package cli

import (
	"fmt"

	actx "go.hackfix.me/strata/app/context"
	aerrors "go.hackfix.me/strata/app/errors"
)

// Failed lists failed migrations.
type Failed struct{}

// Run the failed command.
func (c *Failed) Run(appCtx *actx.Context) error {
	runner, err := newRunner(appCtx)
	if err != nil {
		return err
	}

	records, err := runner.Failed(appCtx.Ctx)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		_, err = fmt.Fprintln(appCtx.Stdout, "no failed migrations")
		return err
	}

	data := make([][]string, len(records))
	for i, rec := range records {
		data[i] = []string{
			rec.ID,
			rec.RunOn.UTC().Format("2006-01-02 15:04:05"),
			rec.FailureReason.V,
		}
	}
	err = renderTable([]string{"ID", "Run On", "Reason"}, data, appCtx.Stdout)
	if err != nil {
		return fmt.Errorf("failed rendering failed-migrations table: %w", err)
	}

	return nil
}

// Retry deletes the record of a failed migration and re-runs it through the
// normal path.
type Retry struct {
	ID string `arg:"" help:"Migration id to retry."`
}

// Run the retry command.
func (c *Retry) Run(appCtx *actx.Context) error {
	runner, err := newRunner(appCtx)
	if err != nil {
		return err
	}

	result, err := runner.Retry(appCtx.Ctx, c.ID)
	if err != nil {
		return err
	}

	for _, id := range result.Applied {
		if _, err = fmt.Fprintf(appCtx.Stdout, "applied %s\n", id); err != nil {
			return err
		}
	}

	return nil
}

// ForceComplete marks a migration as completed without running it. This can
// easily leave the schema and the tracking table disagreeing, so it requires
// explicit confirmation.
type ForceComplete struct {
	ID  string `arg:"" help:"Migration id to mark as completed."`
	Yes bool   `help:"Confirm marking the migration completed without running it."`
}

// Run the force-complete command.
func (c *ForceComplete) Run(appCtx *actx.Context) error {
	if !c.Yes {
		return aerrors.New(
			"refusing to mark a migration completed without confirmation; pass --yes to proceed",
			"id", c.ID)
	}

	runner, err := newRunner(appCtx)
	if err != nil {
		return err
	}

	if err = runner.ForceComplete(appCtx.Ctx, c.ID); err != nil {
		return err
	}

	_, err = fmt.Fprintf(appCtx.Stdout, "marked %s as completed\n", c.ID)
	return err
}
