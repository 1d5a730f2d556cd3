package cli

import (
	"fmt"

	actx "go.hackfix.me/strata/app/context"
	aerrors "go.hackfix.me/strata/app/errors"
)

// Validate checks all completed migrations for checksum drift.
type Validate struct{}

// Run the validate command.
func (c *Validate) Run(appCtx *actx.Context) error {
	runner, err := newRunner(appCtx)
	if err != nil {
		return err
	}

	mismatches, err := runner.Validate(appCtx.Ctx)
	if err != nil {
		return err
	}

	if len(mismatches) == 0 {
		_, err = fmt.Fprintln(appCtx.Stdout, "all migration checksums match")
		return err
	}

	data := make([][]string, len(mismatches))
	for i, m := range mismatches {
		data[i] = []string{m.ID, string(m.Kind), m.Stored, m.Current}
	}
	err = renderTable([]string{"ID", "Kind", "Recorded", "Current"}, data, appCtx.Stdout)
	if err != nil {
		return fmt.Errorf("failed rendering mismatch table: %w", err)
	}

	return aerrors.New("checksum drift detected", "mismatches", len(mismatches))
}
