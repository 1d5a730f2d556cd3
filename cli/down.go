package cli

import (
	"fmt"

	actx "go.hackfix.me/strata/app/context"
	"go.hackfix.me/strata/migrate"
)

// Down reverses applied migrations. Without flags only the most recently
// applied migration is reversed.
type Down struct {
	To    string `help:"Reverse migrations applied after this id." xor:"selection"`
	Steps int    `help:"Reverse at most this many migrations." xor:"selection"`
	All   bool   `help:"Reverse every applied migration." xor:"selection"`
}

// Run the down command.
func (c *Down) Run(appCtx *actx.Context) error {
	runner, err := newRunner(appCtx)
	if err != nil {
		return err
	}

	sel := migrate.RevertLast()
	switch {
	case c.To != "":
		sel = migrate.RevertTo(c.To)
	case c.Steps > 0:
		sel = migrate.RevertSteps(c.Steps)
	case c.All:
		sel = migrate.RevertAll()
	}

	result, err := runner.Rollback(appCtx.Ctx, sel)
	if result != nil {
		for _, id := range result.Reversed {
			if _, perr := fmt.Fprintf(appCtx.Stdout, "reversed %s\n", id); perr != nil {
				return perr
			}
		}
	}
	if err != nil {
		return err
	}

	if result == nil || len(result.Reversed) == 0 {
		if _, err = fmt.Fprintln(appCtx.Stdout, "nothing to reverse"); err != nil {
			return err
		}
	}

	return nil
}
