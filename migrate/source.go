package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"go.hackfix.me/strata/db/types"
	"go.hackfix.me/strata/migrate/checksum"
)

// SourceFunc adapts a function to the Source interface.
type SourceFunc func() ([]Migration, error)

// List implements the Source interface.
func (f SourceFunc) List() ([]Migration, error) {
	return f()
}

// FSSource enumerates SQL migrations from a filesystem, typically an embedded
// one or a directory. Files are loaded lazily on each List call.
func FSSource(fsys fs.FS) Source {
	return SourceFunc(func() ([]Migration, error) {
		return LoadFS(fsys)
	})
}

// Registry is a programmatic migration source.
type Registry struct {
	migrations []Migration
	ids        map[string]struct{}
}

var _ Source = (*Registry)(nil)

// NewRegistry creates an empty migration registry.
func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]struct{})}
}

// Add registers a migration. Registering a second migration with the same
// identifier is an error.
func (r *Registry) Add(migrations ...Migration) error {
	for _, m := range migrations {
		if _, ok := r.ids[m.ID()]; ok {
			return DuplicateIDError{ID: m.ID()}
		}
		r.ids[m.ID()] = struct{}{}
		r.migrations = append(r.migrations, m)
	}
	return nil
}

// List implements the Source interface, returning migrations sorted by
// identifier.
func (r *Registry) List() ([]Migration, error) {
	out := make([]Migration, len(r.migrations))
	copy(out, r.migrations)
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// SQLMigration is a text-based migration loaded from paired
// `{id}.up.sql`/`{id}.down.sql` files. Its checksums are digests of the raw
// migration text.
type SQLMigration struct {
	id          string
	description string
	upSQL       string
	downSQL     string
}

var (
	_ Migration       = (*SQLMigration)(nil)
	_ Reversible      = (*SQLMigration)(nil)
	_ UpChecksummer   = (*SQLMigration)(nil)
	_ DownChecksummer = (*SQLMigration)(nil)
)

// NewSQLMigration creates a text-based migration. An empty down text makes
// the reverse a no-op.
func NewSQLMigration(id, upSQL, downSQL string) *SQLMigration {
	return &SQLMigration{
		id:          id,
		description: describe(id),
		upSQL:       upSQL,
		downSQL:     downSQL,
	}
}

// ID returns the migration identifier.
func (m *SQLMigration) ID() string { return m.id }

// Description returns a human-readable name derived from the identifier.
func (m *SQLMigration) Description() string { return m.description }

// Up executes the forward migration text.
func (m *SQLMigration) Up(ctx context.Context, db types.Executor) error {
	return db.Exec(ctx, m.upSQL)
}

// Down executes the backward migration text, if any.
func (m *SQLMigration) Down(ctx context.Context, db types.Executor) error {
	if m.downSQL == "" {
		return nil
	}
	return db.Exec(ctx, m.downSQL)
}

// UpChecksum returns the digest of the raw forward text.
func (m *SQLMigration) UpChecksum() (checksum.Sum, error) {
	return checksum.Of([]byte(m.upSQL)), nil
}

// DownChecksum returns the digest of the raw backward text.
func (m *SQLMigration) DownChecksum() (checksum.Sum, error) {
	return checksum.Of([]byte(m.downSQL)), nil
}

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// LoadFS loads SQL migrations from a filesystem. Each migration is a pair of
// `{id}.up.sql` and optional `{id}.down.sql` files in the root of fsys; the
// file stem is the identifier. A down file without a matching up file is a
// discovery error.
func LoadFS(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed reading migrations directory: %w", err)
	}

	ups := make(map[string]string)
	downs := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		var (
			id   string
			dest map[string]string
		)
		switch {
		case strings.HasSuffix(name, upSuffix):
			id, dest = strings.TrimSuffix(name, upSuffix), ups
		case strings.HasSuffix(name, downSuffix):
			id, dest = strings.TrimSuffix(name, downSuffix), downs
		default:
			return nil, fmt.Errorf(
				"invalid migration filename %q: expected *%s or *%s", name, upSuffix, downSuffix)
		}
		if id == "" {
			return nil, fmt.Errorf("invalid migration filename %q: empty id", name)
		}

		contents, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed reading migration file %q: %w", name, err)
		}
		dest[id] = string(contents)
	}

	for id := range downs {
		if _, ok := ups[id]; !ok {
			return nil, fmt.Errorf("migration %q has a down file but no up file", id)
		}
	}

	migrations := make([]Migration, 0, len(ups))
	for id, upSQL := range ups {
		migrations = append(migrations, NewSQLMigration(id, upSQL, downs[id]))
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].ID() < migrations[j].ID()
	})

	return migrations, nil
}

// describe turns an identifier like "0001_create_users" into "create users".
func describe(id string) string {
	desc := strings.TrimLeft(id, "0123456789")
	desc = strings.TrimLeft(desc, "-_")
	return strings.NewReplacer("_", " ", "-", " ").Replace(desc)
}
