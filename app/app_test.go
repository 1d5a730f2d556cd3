package app_test

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/strata/app"
	"go.hackfix.me/strata/db"
	"go.hackfix.me/strata/migrate"
)

var testTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	randBytes := make([]byte, 8)
	_, err := rand.Read(randBytes)
	require.NoError(t, err)

	d, err := db.Open(
		fmt.Sprintf("file:strata-%x?mode=memory&cache=shared", randBytes),
		func() time.Time { return testTime },
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return d
}

// newTestApp returns a function that runs a single CLI invocation against the
// shared storage backend and migration source, returning captured stdout.
func newTestApp(t *testing.T, d *db.DB, src migrate.Source) func(args ...string) (string, error) {
	t.Helper()

	var calls atomic.Int64
	clock := func() time.Time {
		return testTime.Add(time.Duration(calls.Add(1)) * time.Second)
	}

	return func(args ...string) (string, error) {
		var stdout, stderr bytes.Buffer
		a, err := app.New("strata",
			app.WithFDs(strings.NewReader(""), &stdout, &stderr),
			app.WithFS(memoryfs.New()),
			app.WithDB(d),
			app.WithMigrations(src),
			app.WithTimeNow(clock),
			app.WithLogger(false, false),
		)
		require.NoError(t, err)

		err = a.Run(args)
		return stdout.String(), err
	}
}

func TestAppMigrationLifecycle(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	src := migrate.NewRegistry()
	require.NoError(t, src.Add(
		migrate.NewSQLMigration("0001_create_users",
			`CREATE TABLE "users" (id INTEGER PRIMARY KEY)`, `DROP TABLE "users"`),
		migrate.NewSQLMigration("0002_create_posts",
			`CREATE TABLE "posts" (id INTEGER PRIMARY KEY)`, `DROP TABLE "posts"`),
	))
	run := newTestApp(t, d, src)

	out, err := run("up")
	require.NoError(t, err)
	assert.Equal(t, "applied 0001_create_users\napplied 0002_create_posts\n", out)

	out, err = run("up")
	require.NoError(t, err)
	assert.Equal(t, "nothing to apply\n", out)

	out, err = run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "0001_create_users")
	assert.Contains(t, out, "create users")
	assert.Contains(t, out, "completed")

	out, err = run("validate")
	require.NoError(t, err)
	assert.Equal(t, "all migration checksums match\n", out)

	out, err = run("down", "--steps=1")
	require.NoError(t, err)
	assert.Equal(t, "reversed 0002_create_posts\n", out)

	out, err = run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "pending")

	out, err = run("down")
	require.NoError(t, err)
	assert.Equal(t, "reversed 0001_create_users\n", out)

	out, err = run("down")
	require.NoError(t, err)
	assert.Equal(t, "nothing to reverse\n", out)
}

func TestAppDryRun(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	src := migrate.NewRegistry()
	require.NoError(t, src.Add(migrate.NewSQLMigration("0001_create_users",
		`CREATE TABLE "users" (id INTEGER PRIMARY KEY)`, "")))
	run := newTestApp(t, d, src)

	out, err := run("up", "--dry-run")
	require.NoError(t, err)
	assert.Equal(t, "would apply 0001_create_users\n", out)

	// The dry run recorded nothing.
	out, err = run("up", "--dry-run")
	require.NoError(t, err)
	assert.Equal(t, "would apply 0001_create_users\n", out)
}

func TestAppFailureRecovery(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	src := migrate.NewRegistry()
	require.NoError(t, src.Add(
		migrate.NewSQLMigration("0001_create_users",
			`CREATE TABLE "users" (id INTEGER PRIMARY KEY)`, ""),
		migrate.NewSQLMigration("0002_broken", `CREATE BROKEN SYNTAX`, ""),
	))
	run := newTestApp(t, d, src)

	out, err := run("up")
	require.Error(t, err)
	assert.Equal(t, "applied 0001_create_users\n", out)

	out, err = run("failed")
	require.NoError(t, err)
	assert.Contains(t, out, "0002_broken")

	// The failed record blocks further runs.
	_, err = run("up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "previously failed")

	// Marking it completed by hand requires confirmation.
	_, err = run("force-complete", "0002_broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	out, err = run("force-complete", "0002_broken", "--yes")
	require.NoError(t, err)
	assert.Equal(t, "marked 0002_broken as completed\n", out)

	out, err = run("up")
	require.NoError(t, err)
	assert.Equal(t, "nothing to apply\n", out)

	out, err = run("validate")
	require.NoError(t, err)
	assert.Equal(t, "all migration checksums match\n", out)
}

func TestAppValidateDrift(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	src := migrate.NewRegistry()
	require.NoError(t, src.Add(migrate.NewSQLMigration("0001_create_users",
		`CREATE TABLE "users" (id INTEGER PRIMARY KEY)`, "")))

	_, err := newTestApp(t, d, src)("up")
	require.NoError(t, err)

	// The same identifier with edited forward text.
	drifted := migrate.NewRegistry()
	require.NoError(t, drifted.Add(migrate.NewSQLMigration("0001_create_users",
		`CREATE TABLE "users" (id INTEGER PRIMARY KEY, name TEXT)`, "")))
	run := newTestApp(t, d, drifted)

	out, err := run("validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum drift detected")
	assert.Contains(t, out, "0001_create_users")

	// Strict mode refuses to run anything against a drifted source.
	_, err = run("up", "--strict")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum validation failed")
}

func TestAppNoMigrations(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	run := newTestApp(t, d, migrate.NewRegistry())

	out, err := run("status")
	require.NoError(t, err)
	assert.Equal(t, "no migrations found\n", out)

	out, err = run("up")
	require.NoError(t, err)
	assert.Equal(t, "nothing to apply\n", out)
}
