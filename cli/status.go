package cli

import (
	"database/sql"
	"fmt"
	"time"

	actx "go.hackfix.me/strata/app/context"
)

// Status shows the state of all known migrations.
type Status struct{}

// Run the status command.
func (c *Status) Run(appCtx *actx.Context) error {
	runner, err := newRunner(appCtx)
	if err != nil {
		return err
	}

	statuses, err := runner.Status(appCtx.Ctx)
	if err != nil {
		return err
	}

	if len(statuses) == 0 {
		_, err = fmt.Fprintln(appCtx.Stdout, "no migrations found")
		return err
	}

	data := make([][]string, len(statuses))
	for i, st := range statuses {
		note := st.FailureReason.V
		if st.Missing {
			note = "missing from source"
		}
		data[i] = []string{
			st.ID,
			st.Description,
			string(st.State),
			formatTime(st.RunOn),
			formatTime(st.FinishedOn),
			note,
		}
	}

	err = renderTable([]string{"ID", "Description", "State", "Run On", "Finished On", "Note"},
		data, appCtx.Stdout)
	if err != nil {
		return fmt.Errorf("failed rendering status table: %w", err)
	}

	return nil
}

func formatTime(t sql.Null[time.Time]) string {
	if !t.Valid {
		return ""
	}
	return t.V.UTC().Format("2006-01-02 15:04:05")
}
