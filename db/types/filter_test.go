package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.hackfix.me/strata/db/types"
)

func TestFilterAnd(t *testing.T) {
	t.Parallel()

	f1 := types.NewFilter("status = ?", []any{"completed"})
	f2 := types.NewFilter("id > ?", []any{"0001"})

	combined := f1.And(f2)
	assert.Equal(t, "status = ? AND id > ?", combined.Where)
	assert.Equal(t, []any{"completed", "0001"}, combined.Args)

	// The originals are untouched.
	assert.Equal(t, "status = ?", f1.Where)
	assert.Len(t, f1.Args, 1)
}
