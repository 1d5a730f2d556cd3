package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.hackfix.me/strata/db/types"
	"go.hackfix.me/strata/migrate/checksum"
)

// Status of a tracked migration. Transitions are monotonic: a record is
// created as StatusStarted and moves to exactly one of StatusCompleted or
// StatusFailed; it re-enters StatusStarted only via explicit deletion.
type Status string

// The possible migration statuses.
const (
	StatusStarted   Status = "in_progress"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// DefaultTable is the tracking table name used unless WithTable overrides it.
const DefaultTable = "_migrations"

// timeFormat is RFC 3339 with fixed-width nanoseconds, so that stored
// timestamps sort chronologically as plain strings.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Record is one row of the tracking table: the durable outcome of a single
// migration attempt. At most one record exists per identifier.
type Record struct {
	ID            string
	RunOn         time.Time
	FinishedOn    sql.Null[time.Time]
	Status        Status
	FailureReason sql.Null[string]
	UpChecksum    string
	DownChecksum  string
}

// Dirty reports whether the record shows a started migration with no terminal
// transition.
func (r *Record) Dirty() bool {
	return r.Status == StatusStarted
}

// Tracker owns the persisted migration-state table. All operations are scoped
// to one configurable table name, so multiple independent tracking tables can
// coexist in one database.
type Tracker struct {
	db      types.Executor
	table   string
	timeNow func() time.Time
}

// TrackerOption is a function that allows configuring the tracker.
type TrackerOption func(*Tracker)

// WithTable sets the tracking table name.
func WithTable(name string) TrackerOption {
	return func(t *Tracker) {
		t.table = name
	}
}

// WithTrackerTimeNow sets the function used to retrieve the current time.
func WithTrackerTimeNow(timeNowFn func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.timeNow = timeNowFn
	}
}

// NewTracker creates a Tracker over the given storage backend.
func NewTracker(db types.Executor, opts ...TrackerOption) *Tracker {
	t := &Tracker{db: db, table: DefaultTable, timeNow: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Table returns the tracking table name.
func (t *Tracker) Table() string {
	return t.table
}

// Ensure creates the tracking table if it doesn't exist yet. It is safe to
// call repeatedly.
func (t *Tracker) Ensure(ctx context.Context) error {
	err := t.db.CreateTable(ctx, &types.Table{
		Name:        t.table,
		IfNotExists: true,
		Columns: []types.Column{
			{Name: "id", Type: "TEXT", PrimaryKey: true},
			{Name: "run_on", Type: "TIMESTAMP", NotNull: true},
			{Name: "finished_on", Type: "TIMESTAMP"},
			{Name: "status", Type: "TEXT", NotNull: true},
			{Name: "failure_reason", Type: "TEXT"},
			{Name: "up_checksum", Type: "TEXT", NotNull: true},
			{Name: "down_checksum", Type: "TEXT", NotNull: true},
		},
	})
	if err != nil {
		return fmt.Errorf("failed creating tracking table %q: %w", t.table, err)
	}
	return nil
}

// RecordStarted inserts a StatusStarted record for the given identifier. Both
// checksums must be exactly 32 bytes. It fails if a record already exists.
func (t *Tracker) RecordStarted(ctx context.Context, id string, up, down []byte) error {
	if len(up) != checksum.Size {
		return ChecksumSizeError{ID: id, Kind: KindUp, Len: len(up)}
	}
	if len(down) != checksum.Size {
		return ChecksumSizeError{ID: id, Kind: KindDown, Len: len(down)}
	}

	var upSum, downSum checksum.Sum
	copy(upSum[:], up)
	copy(downSum[:], down)

	err := t.db.Insert(ctx, t.table, types.Row{
		"id":            id,
		"run_on":        t.timeNow().UTC().Format(timeFormat),
		"status":        string(StatusStarted),
		"up_checksum":   upSum.Hex(),
		"down_checksum": downSum.Hex(),
	})
	if err != nil {
		return fmt.Errorf("failed recording start of %q: %w", id, types.Err(t.table, id, err))
	}
	return nil
}

// SetStatus transitions a StatusStarted record to a terminal status,
// recording the finish time and, for failures, the reason. Transitioning a
// record that isn't StatusStarted is a StateError.
func (t *Tracker) SetStatus(ctx context.Context, id string, status Status, reason string) error {
	if status != StatusCompleted && status != StatusFailed {
		return fmt.Errorf("invalid terminal status %q for %q", status, id)
	}

	rec, err := t.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != StatusStarted {
		return StateError{ID: id, Status: rec.Status, Want: StatusStarted}
	}

	row := types.Row{
		"status":      string(status),
		"finished_on": t.timeNow().UTC().Format(timeFormat),
	}
	if status == StatusFailed {
		row["failure_reason"] = reason
	}

	err = t.db.Update(ctx, t.table, row, "id = ? AND status = ?", id, string(StatusStarted))
	if err != nil {
		return fmt.Errorf("failed updating status of %q: %w", id, err)
	}
	return nil
}

// Get returns the record for the given identifier, or a NotFoundError.
func (t *Tracker) Get(ctx context.Context, id string) (*Record, error) {
	rows, err := t.db.Query(ctx,
		fmt.Sprintf(`SELECT id, run_on, finished_on, status, failure_reason,
			up_checksum, down_checksum FROM %q WHERE id = ?`, t.table), id)
	if err != nil {
		return nil, fmt.Errorf("failed querying %q: %w", t.table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return nil, fmt.Errorf("failed querying %q: %w", t.table, err)
		}
		return nil, NotFoundError{ID: id}
	}

	return scanRecord(rows, t.table)
}

// Dirty returns all records with no terminal transition, in chronological
// order. The result is always queried fresh, never cached.
func (t *Tracker) Dirty(ctx context.Context) ([]*Record, error) {
	return t.list(ctx, types.NewFilter("status = ?", []any{string(StatusStarted)}))
}

// Applied returns all records, optionally filtered by status, in
// chronological order.
func (t *Tracker) Applied(ctx context.Context, statuses ...Status) ([]*Record, error) {
	if len(statuses) == 0 {
		return t.list(ctx, nil)
	}

	args := make([]any, len(statuses))
	placeholders := ""
	for i, s := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = string(s)
	}
	return t.list(ctx, types.NewFilter(fmt.Sprintf("status IN (%s)", placeholders), args))
}

// Remove deletes the record for the given identifier, making it eligible to
// run again. Removing a nonexistent record is not an error.
func (t *Tracker) Remove(ctx context.Context, id string) error {
	if err := t.db.Delete(ctx, t.table, "id = ?", id); err != nil {
		return fmt.Errorf("failed removing record of %q: %w", id, err)
	}
	return nil
}

func (t *Tracker) list(ctx context.Context, filter *types.Filter) ([]*Record, error) {
	q := fmt.Sprintf(`SELECT id, run_on, finished_on, status, failure_reason,
		up_checksum, down_checksum FROM %q`, t.table)
	var args []any
	if filter != nil {
		q += fmt.Sprintf(" WHERE %s", filter.Where)
		args = filter.Args
	}
	q += " ORDER BY run_on ASC, id ASC"

	rows, err := t.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed querying %q: %w", t.table, err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows, t.table)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed querying %q: %w", t.table, err)
	}

	return records, nil
}

func scanRecord(rows types.Rows, table string) (*Record, error) {
	var (
		rec        Record
		status     string
		runOn      string
		finishedOn sql.Null[string]
	)
	err := rows.Scan(&rec.ID, &runOn, &finishedOn, &status, &rec.FailureReason,
		&rec.UpChecksum, &rec.DownChecksum)
	if err != nil {
		return nil, types.ScanError{Table: table, Err: err}
	}

	rec.Status = Status(status)
	if rec.RunOn, err = time.Parse(timeFormat, runOn); err != nil {
		return nil, types.ScanError{Table: table, Err: err}
	}
	if finishedOn.Valid {
		fin, err := time.Parse(timeFormat, finishedOn.V)
		if err != nil {
			return nil, types.ScanError{Table: table, Err: err}
		}
		rec.FinishedOn = sql.Null[time.Time]{V: fin, Valid: true}
	}

	return &rec, nil
}
