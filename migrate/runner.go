package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nrednav/cuid2"

	"go.hackfix.me/strata/db/types"
	"go.hackfix.me/strata/migrate/checksum"
)

// Hooks are optional callbacks invoked around each applied migration. A
// Before error is treated like an apply failure; an OnError callback observes
// failures but cannot suppress them.
type Hooks struct {
	Before  func(ctx context.Context, m Migration) error
	After   func(ctx context.Context, m Migration) error
	OnError func(ctx context.Context, m Migration, err error)
}

// Runner orchestrates a migration source, a version tracker and an optional
// checksum policy over a single storage backend. Migrations within one run
// execute strictly sequentially in identifier order; the runner never spawns
// concurrent workers.
type Runner struct {
	db         types.Executor
	source     Source
	tracker    *Tracker
	logger     *slog.Logger
	timeNow    func() time.Time
	strict     bool
	allowDirty bool
	hooks      Hooks
}

// RunnerOption is a function that allows configuring the runner.
type RunnerOption func(*Runner)

// WithTracker sets the version tracker. Without it a tracker with default
// settings is created over the runner's backend.
func WithTracker(t *Tracker) RunnerOption {
	return func(r *Runner) {
		r.tracker = t
	}
}

// WithLogger sets the logger used by the runner.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithTimeNow sets the function used to retrieve the current time.
func WithTimeNow(timeNowFn func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.timeNow = timeNowFn
	}
}

// WithStrictValidation makes every run revalidate the checksums of all
// completed migrations first, and abort on any mismatch.
func WithStrictValidation(strict bool) RunnerOption {
	return func(r *Runner) {
		r.strict = strict
	}
}

// WithAllowDirty lets runs proceed despite dirty or failed records. The
// affected migrations are not re-attempted; they simply stop blocking the
// rest.
func WithAllowDirty(allow bool) RunnerOption {
	return func(r *Runner) {
		r.allowDirty = allow
	}
}

// WithHooks sets the per-migration callbacks.
func WithHooks(hooks Hooks) RunnerOption {
	return func(r *Runner) {
		r.hooks = hooks
	}
}

// NewRunner creates a migration runner over the given backend and source.
func NewRunner(db types.Executor, source Source, opts ...RunnerOption) (*Runner, error) {
	if db == nil {
		return nil, fmt.Errorf("a storage backend is required")
	}
	if source == nil {
		return nil, fmt.Errorf("a migration source is required")
	}

	r := &Runner{
		db:      db,
		source:  source,
		logger:  slog.Default(),
		timeNow: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.tracker == nil {
		r.tracker = NewTracker(db, WithTrackerTimeNow(r.timeNow))
	}

	return r, nil
}

// RunResult reports the outcome of a run.
type RunResult struct {
	// Planned are the identifiers the plan selected, in apply order.
	Planned []string
	// Applied are the identifiers that completed successfully.
	Applied []string
	// DryRun indicates that nothing was executed or recorded.
	DryRun bool
}

// Run applies pending migrations according to the plan. It aborts before
// executing anything if checksum validation is configured and fails, or if
// dirty or failed records exist and no override is set. On the first apply
// failure the outcome is recorded and the run stops; remaining migrations are
// never attempted automatically.
func (r *Runner) Run(ctx context.Context, plan Plan) (*RunResult, error) {
	logger := r.logger.With("run_id", cuid2.Generate())

	if err := r.tracker.Ensure(ctx); err != nil {
		return nil, err
	}

	migrations, err := r.load()
	if err != nil {
		return nil, err
	}

	if r.strict {
		mismatches, err := r.validate(ctx, migrations)
		if err != nil {
			return nil, err
		}
		if len(mismatches) > 0 {
			return nil, ValidationError{Mismatches: mismatches}
		}
	}

	if err = r.checkBlocked(ctx); err != nil {
		return nil, err
	}

	records, err := r.tracker.Applied(ctx)
	if err != nil {
		return nil, err
	}
	tracked := make(map[string]struct{}, len(records))
	for _, rec := range records {
		tracked[rec.ID] = struct{}{}
	}

	var pending []Migration
	for _, m := range migrations {
		if _, ok := tracked[m.ID()]; !ok {
			pending = append(pending, m)
		}
	}
	pending = plan.cut(pending)

	result := &RunResult{DryRun: plan.IsDryRun()}
	for _, m := range pending {
		result.Planned = append(result.Planned, m.ID())
	}

	if plan.IsDryRun() {
		for _, m := range pending {
			logger.Info("would apply migration", "id", m.ID())
		}
		return result, nil
	}

	for _, m := range pending {
		if err = r.apply(ctx, logger, m); err != nil {
			return result, err
		}
		result.Applied = append(result.Applied, m.ID())
	}

	logger.Debug("migration run finished", "applied", len(result.Applied))

	return result, nil
}

// apply runs a single migration, recording its outcome durably before
// returning.
func (r *Runner) apply(ctx context.Context, logger *slog.Logger, m Migration) error {
	upSum, err := UpChecksum(ctx, m)
	if err != nil {
		return err
	}
	downSum, err := DownChecksum(ctx, m)
	if err != nil {
		return err
	}

	if err = r.tracker.RecordStarted(ctx, m.ID(), upSum.Bytes(), downSum.Bytes()); err != nil {
		return err
	}

	logger.Info("applying migration", "id", m.ID())

	applyErr := r.runHook(ctx, r.hooks.Before, m)
	if applyErr == nil {
		applyErr = m.Up(ctx, r.db)
	}

	if applyErr != nil {
		logger.Error("migration failed", "id", m.ID(), "error", applyErr)
		if err = r.tracker.SetStatus(ctx, m.ID(), StatusFailed, applyErr.Error()); err != nil {
			return fmt.Errorf("failed recording failure of %q: %w", m.ID(), err)
		}
		if r.hooks.OnError != nil {
			r.hooks.OnError(ctx, m, applyErr)
		}
		return ExecError{ID: m.ID(), Err: applyErr}
	}

	if err = r.tracker.SetStatus(ctx, m.ID(), StatusCompleted, ""); err != nil {
		return fmt.Errorf("failed recording completion of %q: %w", m.ID(), err)
	}
	logger.Info("migration applied", "id", m.ID())

	return r.runHook(ctx, r.hooks.After, m)
}

func (r *Runner) runHook(ctx context.Context, hook func(context.Context, Migration) error, m Migration) error {
	if hook == nil {
		return nil
	}
	return hook(ctx, m)
}

// RollbackResult reports the outcome of a rollback.
type RollbackResult struct {
	// Selected are the identifiers the selection chose, newest first.
	Selected []string
	// Reversed are the identifiers whose records were deleted.
	Reversed []string
}

// Rollback reverses completed migrations according to the selection, newest
// first. Each successful reverse deletes the tracking record, making the
// identifier eligible to run again. On the first failure the rollback stops,
// reporting what was and wasn't reversed.
func (r *Runner) Rollback(ctx context.Context, sel Selection) (*RollbackResult, error) {
	logger := r.logger.With("run_id", cuid2.Generate())

	if err := r.tracker.Ensure(ctx); err != nil {
		return nil, err
	}

	migrations, err := r.load()
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Migration, len(migrations))
	for _, m := range migrations {
		byID[m.ID()] = m
	}

	if !r.allowDirty {
		dirty, err := r.tracker.Dirty(ctx)
		if err != nil {
			return nil, err
		}
		if len(dirty) > 0 {
			return nil, DirtyError{IDs: recordIDs(dirty)}
		}
	}

	completed, err := r.tracker.Applied(ctx, StatusCompleted)
	if err != nil {
		return nil, err
	}
	// Applied returns chronological order; rollback wants newest first.
	for i, j := 0, len(completed)-1; i < j; i, j = i+1, j-1 {
		completed[i], completed[j] = completed[j], completed[i]
	}

	selected, err := sel.cut(completed)
	if err != nil {
		return nil, err
	}

	result := &RollbackResult{Selected: recordIDs(selected)}
	for _, rec := range selected {
		m, ok := byID[rec.ID]
		if !ok {
			return result, fmt.Errorf("cannot reverse %q: %w", rec.ID, NotFoundError{ID: rec.ID})
		}

		logger.Info("reversing migration", "id", rec.ID)
		if rev, ok := m.(Reversible); ok {
			if err = rev.Down(ctx, r.db); err != nil {
				logger.Error("reverse failed", "id", rec.ID, "error", err)
				return result, ExecError{ID: rec.ID, Err: err}
			}
		}
		if err = r.tracker.Remove(ctx, rec.ID); err != nil {
			return result, err
		}
		result.Reversed = append(result.Reversed, rec.ID)
		logger.Info("migration reversed", "id", rec.ID)
	}

	return result, nil
}

// Validate recomputes both checksums of every completed migration from its
// current definition and returns all mismatches. Identifiers that no longer
// exist in the source are skipped. It executes no migrations and mutates no
// records.
func (r *Runner) Validate(ctx context.Context) ([]Mismatch, error) {
	if err := r.tracker.Ensure(ctx); err != nil {
		return nil, err
	}

	migrations, err := r.load()
	if err != nil {
		return nil, err
	}

	return r.validate(ctx, migrations)
}

func (r *Runner) validate(ctx context.Context, migrations []Migration) ([]Mismatch, error) {
	byID := make(map[string]Migration, len(migrations))
	for _, m := range migrations {
		byID[m.ID()] = m
	}

	completed, err := r.tracker.Applied(ctx, StatusCompleted)
	if err != nil {
		return nil, err
	}

	var mismatches []Mismatch
	for _, rec := range completed {
		m, ok := byID[rec.ID]
		if !ok {
			// The migration was removed from the source; nothing to compare.
			continue
		}

		upSum, err := UpChecksum(ctx, m)
		if err != nil {
			return nil, err
		}
		if upSum.Hex() != rec.UpChecksum {
			mismatches = append(mismatches, Mismatch{
				ID: rec.ID, Kind: KindUp, Stored: rec.UpChecksum, Current: upSum.Hex(),
			})
		}

		downSum, err := DownChecksum(ctx, m)
		if err != nil {
			return nil, err
		}
		if downSum.Hex() != rec.DownChecksum {
			mismatches = append(mismatches, Mismatch{
				ID: rec.ID, Kind: KindDown, Stored: rec.DownChecksum, Current: downSum.Hex(),
			})
		}
	}

	return mismatches, nil
}

// State of a migration as reported by Status.
type State string

// The possible migration states. Unlike Status, State also covers migrations
// known to the source but never attempted.
const (
	StatePending   State = "pending"
	StateDirty     State = "in_progress"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// MigrationStatus combines a source migration with its tracking record, if
// any.
type MigrationStatus struct {
	ID            string
	Description   string
	State         State
	RunOn         sql.Null[time.Time]
	FinishedOn    sql.Null[time.Time]
	FailureReason sql.Null[string]
	// Missing indicates a tracked migration that no longer exists in the
	// source.
	Missing bool
}

// Describer is implemented by migrations that carry a human-readable
// description.
type Describer interface {
	Description() string
}

// Status lists every known migration (from the source and from the tracking
// table) with its current state, sorted by identifier.
func (r *Runner) Status(ctx context.Context) ([]*MigrationStatus, error) {
	if err := r.tracker.Ensure(ctx); err != nil {
		return nil, err
	}

	migrations, err := r.load()
	if err != nil {
		return nil, err
	}
	records, err := r.tracker.Applied(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	var statuses []*MigrationStatus
	seen := make(map[string]struct{}, len(migrations))
	for _, m := range migrations {
		seen[m.ID()] = struct{}{}
		st := &MigrationStatus{ID: m.ID(), State: StatePending}
		if d, ok := m.(Describer); ok {
			st.Description = d.Description()
		}
		if rec, ok := byID[m.ID()]; ok {
			fillFromRecord(st, rec)
		}
		statuses = append(statuses, st)
	}

	// Tracked migrations that disappeared from the source.
	for _, rec := range records {
		if _, ok := seen[rec.ID]; ok {
			continue
		}
		st := &MigrationStatus{ID: rec.ID, Missing: true}
		fillFromRecord(st, rec)
		statuses = append(statuses, st)
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })

	return statuses, nil
}

func fillFromRecord(st *MigrationStatus, rec *Record) {
	switch rec.Status {
	case StatusStarted:
		st.State = StateDirty
	case StatusCompleted:
		st.State = StateCompleted
	case StatusFailed:
		st.State = StateFailed
	}
	st.RunOn = sql.Null[time.Time]{V: rec.RunOn, Valid: true}
	st.FinishedOn = rec.FinishedOn
	st.FailureReason = rec.FailureReason
}

// Failed returns the records of all failed migrations in chronological order.
func (r *Runner) Failed(ctx context.Context) ([]*Record, error) {
	if err := r.tracker.Ensure(ctx); err != nil {
		return nil, err
	}
	return r.tracker.Applied(ctx, StatusFailed)
}

// Retry deletes the record of a failed migration and re-runs it through the
// normal path, including the dirty gate and, if configured, checksum
// validation.
func (r *Runner) Retry(ctx context.Context, id string) (*RunResult, error) {
	if err := r.tracker.Ensure(ctx); err != nil {
		return nil, err
	}

	rec, err := r.tracker.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusFailed {
		return nil, StateError{ID: id, Status: rec.Status, Want: StatusFailed}
	}

	if err = r.tracker.Remove(ctx, id); err != nil {
		return nil, err
	}

	return r.Run(ctx, RunTo(id))
}

// ForceComplete inserts or updates a record to StatusCompleted without
// invoking the migration. It exists for operators repairing state by hand and
// must be gated behind an explicit confirmation boundary by the caller.
func (r *Runner) ForceComplete(ctx context.Context, id string) error {
	if err := r.tracker.Ensure(ctx); err != nil {
		return err
	}

	var (
		upSum, downSum checksum.Sum
		notFound       NotFoundError
	)
	rec, err := r.tracker.Get(ctx, id)
	switch {
	case err == nil:
		if rec.Status == StatusCompleted {
			return nil
		}
		// Keep the checksums recorded by the original attempt.
		if upSum, err = checksum.FromHex(rec.UpChecksum); err != nil {
			return fmt.Errorf("invalid stored up checksum of %q: %w", id, err)
		}
		if downSum, err = checksum.FromHex(rec.DownChecksum); err != nil {
			return fmt.Errorf("invalid stored down checksum of %q: %w", id, err)
		}
		if err = r.tracker.Remove(ctx, id); err != nil {
			return err
		}
	case errors.As(err, &notFound):
		migrations, lerr := r.load()
		if lerr != nil {
			return lerr
		}
		var m Migration
		for _, cand := range migrations {
			if cand.ID() == id {
				m = cand
				break
			}
		}
		if m == nil {
			return NotFoundError{ID: id}
		}
		if upSum, err = UpChecksum(ctx, m); err != nil {
			return err
		}
		if downSum, err = DownChecksum(ctx, m); err != nil {
			return err
		}
	default:
		return err
	}

	if err = r.tracker.RecordStarted(ctx, id, upSum.Bytes(), downSum.Bytes()); err != nil {
		return err
	}
	if err = r.tracker.SetStatus(ctx, id, StatusCompleted, ""); err != nil {
		return err
	}

	r.logger.Warn("migration marked completed without running", "id", id)

	return nil
}

// load lists the source migrations sorted by identifier. Duplicate
// identifiers are a fatal discovery error, never merged or tiebroken.
func (r *Runner) load() ([]Migration, error) {
	migrations, err := r.source.List()
	if err != nil {
		return nil, fmt.Errorf("failed listing migrations: %w", err)
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID() < sorted[j].ID() })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].ID() == sorted[i-1].ID() {
			return nil, DuplicateIDError{ID: sorted[i].ID()}
		}
	}

	return sorted, nil
}

// checkBlocked aborts a run if interrupted or failed migrations exist.
func (r *Runner) checkBlocked(ctx context.Context) error {
	if r.allowDirty {
		return nil
	}

	dirty, err := r.tracker.Dirty(ctx)
	if err != nil {
		return err
	}
	if len(dirty) > 0 {
		return DirtyError{IDs: recordIDs(dirty)}
	}

	failed, err := r.tracker.Applied(ctx, StatusFailed)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return FailedError{IDs: recordIDs(failed)}
	}

	return nil
}

func recordIDs(records []*Record) []string {
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	return ids
}
