// Package migrate provides functionality to manage database schema migrations.
//
// Features:
// - Supports both forward (`up`) and rollback (`down`) migrations
// - Loads SQL migration files from any filesystem with structured naming
//   (`{id}_{name}.{up|down}.sql`), and accepts code-defined migrations
// - Tracks migration history in a dedicated, configurable database table
// - Detects interrupted ("dirty") migrations and checksum drift before running
// - Executes migration plans to a target state, a step count, or "all"
// - Provides explicit operator recovery: retry, force-complete, failed listing
package migrate

import (
	"context"
	"fmt"

	"go.hackfix.me/strata/db/types"
	"go.hackfix.me/strata/migrate/checksum"
)

// Migration is a single identified unit of forward schema change. The
// identifier must be globally unique within a source; it is the sole ordering
// key. Implementations may additionally satisfy Reversible, UpChecksummer and
// DownChecksummer; see those interfaces for the defaults applied otherwise.
type Migration interface {
	ID() string
	Up(ctx context.Context, db types.Executor) error
}

// Reversible is implemented by migrations that define a backward change.
// Migrations without it reverse as a no-op.
type Reversible interface {
	Down(ctx context.Context, db types.Executor) error
}

// UpChecksummer overrides how a migration's forward checksum is computed.
// Without it, the checksum is derived by replaying Up against a non-executing
// recorder (see the checksum package); text-based migrations typically hash
// their raw text instead.
type UpChecksummer interface {
	UpChecksum() (checksum.Sum, error)
}

// DownChecksummer overrides how a migration's backward checksum is computed.
type DownChecksummer interface {
	DownChecksum() (checksum.Sum, error)
}

// Source enumerates an ordered set of migrations. The runner sorts the result
// by identifier and treats duplicate identifiers as a fatal error, so sources
// don't need to guarantee either themselves.
type Source interface {
	List() ([]Migration, error)
}

// UpChecksum computes a migration's forward checksum without executing it.
func UpChecksum(ctx context.Context, m Migration) (checksum.Sum, error) {
	if c, ok := m.(UpChecksummer); ok {
		sum, err := c.UpChecksum()
		if err != nil {
			return checksum.Sum{}, fmt.Errorf("failed computing up checksum of %q: %w", m.ID(), err)
		}
		return sum, nil
	}

	rec := checksum.NewRecorder()
	if err := m.Up(ctx, rec); err != nil {
		return checksum.Sum{}, fmt.Errorf("failed computing up checksum of %q: %w", m.ID(), err)
	}
	return rec.Sum(), nil
}

// DownChecksum computes a migration's backward checksum without executing it.
// A migration without a backward change digests empty input, so no-op
// migrations never appear to drift.
func DownChecksum(ctx context.Context, m Migration) (checksum.Sum, error) {
	if c, ok := m.(DownChecksummer); ok {
		sum, err := c.DownChecksum()
		if err != nil {
			return checksum.Sum{}, fmt.Errorf("failed computing down checksum of %q: %w", m.ID(), err)
		}
		return sum, nil
	}

	rec := checksum.NewRecorder()
	if r, ok := m.(Reversible); ok {
		if err := r.Down(ctx, rec); err != nil {
			return checksum.Sum{}, fmt.Errorf("failed computing down checksum of %q: %w", m.ID(), err)
		}
	}
	return rec.Sum(), nil
}

// Func is the signature of a code-defined migration step.
type Func func(ctx context.Context, db types.Executor) error

// NewMigration creates a code-defined migration. A nil down function makes
// the migration irreversible (its reverse is a no-op).
func NewMigration(id string, up, down Func) Migration {
	if down == nil {
		return &funcMigration{id: id, up: up}
	}
	return &reversibleFuncMigration{funcMigration{id: id, up: up}, down}
}

type funcMigration struct {
	id string
	up Func
}

func (m *funcMigration) ID() string { return m.id }

func (m *funcMigration) Up(ctx context.Context, db types.Executor) error {
	if m.up == nil {
		return nil
	}
	return m.up(ctx, db)
}

type reversibleFuncMigration struct {
	funcMigration
	down Func
}

func (m *reversibleFuncMigration) Down(ctx context.Context, db types.Executor) error {
	return m.down(ctx, db)
}
