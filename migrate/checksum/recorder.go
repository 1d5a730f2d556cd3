package checksum

import (
	"context"
	"crypto/sha256"
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"sort"
	"sync"

	"go.hackfix.me/strata/db/types"
)

// Operation tags. Each storage operation is hashed as its tag, the current
// transaction depth, and its fields in fixed order, so reordering operations,
// moving them across transaction boundaries, or changing any field always
// changes the digest.
const (
	tagQuery       = 0x01
	tagExec        = 0x02
	tagInsert      = 0x03
	tagUpdate      = 0x04
	tagDelete      = 0x05
	tagCreateTable = 0x06
	tagDropTable   = 0x07
	tagAlterTable  = 0x08
	tagCreateIndex = 0x09
	tagDropIndex   = 0x0a
	tagBegin       = 0x10
	tagCommit      = 0x11
	tagRollback    = 0x12
)

// ErrFinalized is returned when operations are recorded after the checksum
// was consumed by Sum.
var ErrFinalized = errors.New("checksum state was already finalized")

// state is the running hash shared between a root Recorder and any nested
// transaction scopes it opened. Access is lock-protected, and references are
// counted so that finalization knows whether it is the sole remaining owner.
type state struct {
	mu        sync.Mutex
	h         hash.Hash
	refs      int
	finalized bool
}

// Recorder implements types.Executor without executing anything: every
// operation is folded into a shared running hash instead. It is handed to a
// migration's Up or Down in place of a real backend in order to fingerprint
// the migration's effect.
type Recorder struct {
	st    *state
	depth uint64
	done  bool
}

var (
	_ types.Executor = (*Recorder)(nil)
	_ types.Tx       = (*txRecorder)(nil)
)

// NewRecorder creates a Recorder with a fresh hash state.
func NewRecorder() *Recorder {
	return &Recorder{st: &state{h: sha256.New(), refs: 1}}
}

// Sum finalizes the checksum computation and returns the digest. If nested
// transaction scopes still hold references to the shared hash state, the
// state is cloned and the digest taken from the clone, leaving the shared
// state usable; otherwise the state is consumed and any further recording
// fails with ErrFinalized. Sum never panics.
func (r *Recorder) Sum() Sum {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var s Sum
	if r.st.refs > 1 {
		if clone, ok := cloneHash(r.st.h); ok {
			copy(s[:], clone.Sum(nil))
			return s
		}
		// Cloning is a best-effort fallback; hash.Hash.Sum doesn't modify
		// the running state, so summing in place is still correct.
		copy(s[:], r.st.h.Sum(nil))
		return s
	}

	copy(s[:], r.st.h.Sum(nil))
	r.st.finalized = true
	return s
}

// cloneHash duplicates a running hash via its binary marshaling support.
func cloneHash(h hash.Hash) (hash.Hash, bool) {
	m, ok := h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, false
	}
	b, err := m.MarshalBinary()
	if err != nil {
		return nil, false
	}
	clone := sha256.New()
	u, ok := clone.(encoding.BinaryUnmarshaler)
	if !ok || u.UnmarshalBinary(b) != nil {
		return nil, false
	}
	return clone, true
}

// record folds one canonically-encoded operation into the shared hash.
func (r *Recorder) record(tag byte, fields ...[]byte) error {
	if r.done {
		return types.TxDoneError{Op: "checksum record"}
	}

	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if r.st.finalized {
		return ErrFinalized
	}

	var buf []byte
	buf = append(buf, tag)
	buf = binary.AppendUvarint(buf, r.depth)
	for _, f := range fields {
		buf = binary.AppendUvarint(buf, uint64(len(f)))
		buf = append(buf, f...)
	}
	// hash.Hash writes never fail
	r.st.h.Write(buf)
	return nil
}

// Query hashes the statement and returns an empty result set.
func (r *Recorder) Query(_ context.Context, query string, args ...any) (types.Rows, error) {
	if err := r.record(tagQuery, append([][]byte{[]byte(query)}, encodeArgs(args)...)...); err != nil {
		return nil, err
	}
	return emptyRows{}, nil
}

// Exec hashes a raw statement.
func (r *Recorder) Exec(_ context.Context, query string, args ...any) error {
	return r.record(tagExec, append([][]byte{[]byte(query)}, encodeArgs(args)...)...)
}

// Insert hashes the table name and the row in sorted column order.
func (r *Recorder) Insert(_ context.Context, table string, row types.Row) error {
	return r.record(tagInsert, append([][]byte{[]byte(table)}, encodeRow(row)...)...)
}

// Update hashes the table name, the row in sorted column order, and the
// condition.
func (r *Recorder) Update(_ context.Context, table string, row types.Row, where string, args ...any) error {
	fields := [][]byte{[]byte(table)}
	fields = append(fields, encodeRow(row)...)
	fields = append(fields, []byte(where))
	fields = append(fields, encodeArgs(args)...)
	return r.record(tagUpdate, fields...)
}

// Delete hashes the table name and the condition.
func (r *Recorder) Delete(_ context.Context, table string, where string, args ...any) error {
	fields := [][]byte{[]byte(table), []byte(where)}
	fields = append(fields, encodeArgs(args)...)
	return r.record(tagDelete, fields...)
}

// CreateTable hashes the full table definition with columns in declaration
// order.
func (r *Recorder) CreateTable(_ context.Context, table *types.Table) error {
	fields := [][]byte{[]byte(table.Name), encodeBool(table.IfNotExists)}
	for _, col := range table.Columns {
		fields = append(fields, encodeColumn(col))
	}
	return r.record(tagCreateTable, fields...)
}

// DropTable hashes the table name.
func (r *Recorder) DropTable(_ context.Context, name string) error {
	return r.record(tagDropTable, []byte(name))
}

// AlterTable hashes the table name and each change in declaration order.
func (r *Recorder) AlterTable(_ context.Context, name string, changes ...types.TableChange) error {
	fields := [][]byte{[]byte(name)}
	for _, change := range changes {
		fields = append(fields, encodeChange(change))
	}
	return r.record(tagAlterTable, fields...)
}

// CreateIndex hashes the full index definition.
func (r *Recorder) CreateIndex(_ context.Context, index *types.Index) error {
	fields := [][]byte{[]byte(index.Name), []byte(index.Table), encodeBool(index.Unique)}
	for _, col := range index.Columns {
		fields = append(fields, []byte(col))
	}
	return r.record(tagCreateIndex, fields...)
}

// DropIndex hashes the index name.
func (r *Recorder) DropIndex(_ context.Context, name string) error {
	return r.record(tagDropIndex, []byte(name))
}

// Begin hashes a begin event and returns a nested scope sharing the hash
// state. The nested scope records at depth+1, so identical operations at
// different nesting depths produce different digests.
func (r *Recorder) Begin(_ context.Context) (types.Tx, error) {
	if err := r.record(tagBegin); err != nil {
		return nil, err
	}

	r.st.mu.Lock()
	r.st.refs++
	r.st.mu.Unlock()

	return &txRecorder{Recorder{st: r.st, depth: r.depth + 1}}, nil
}

// txRecorder is a nested transaction scope over the shared hash state.
type txRecorder struct {
	Recorder
}

// Commit hashes a commit event and consumes the scope.
func (t *txRecorder) Commit() error {
	return t.finish(tagCommit, "commit")
}

// Rollback hashes a rollback event and consumes the scope.
func (t *txRecorder) Rollback() error {
	return t.finish(tagRollback, "rollback")
}

func (t *txRecorder) finish(tag byte, op string) error {
	if t.done {
		return types.TxDoneError{Op: op}
	}
	if err := t.record(tag); err != nil {
		return err
	}
	t.done = true

	t.st.mu.Lock()
	t.st.refs--
	t.st.mu.Unlock()
	return nil
}

// emptyRows is the result set returned by Recorder.Query.
type emptyRows struct{}

func (emptyRows) Next() bool          { return false }
func (emptyRows) Scan(_ ...any) error { return errors.New("no rows available") }
func (emptyRows) Err() error          { return nil }
func (emptyRows) Close() error        { return nil }

// encodeRow canonicalizes a row as alternating column/value fields in sorted
// column order, never insertion order.
func encodeRow(row types.Row) [][]byte {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	fields := make([][]byte, 0, len(cols)*2)
	for _, col := range cols {
		fields = append(fields, []byte(col), encodeValue(row[col]))
	}
	return fields
}

func encodeArgs(args []any) [][]byte {
	fields := make([][]byte, 0, len(args))
	for _, arg := range args {
		fields = append(fields, encodeValue(arg))
	}
	return fields
}

// encodeValue renders a single value with a type-class prefix, so that e.g.
// the string "1" and the integer 1 hash differently.
func encodeValue(v any) []byte {
	switch val := v.(type) {
	case nil:
		return []byte{0x00}
	case bool:
		return append([]byte("b:"), encodeBool(val)...)
	case []byte:
		return append([]byte("x:"), val...)
	case string:
		return append([]byte("s:"), val...)
	default:
		return fmt.Appendf([]byte("v:"), "%v", val)
	}
}

func encodeBool(b bool) []byte {
	if b {
		return []byte{0x01}
	}
	return []byte{0x00}
}

func encodeColumn(col types.Column) []byte {
	var buf []byte
	for _, f := range [][]byte{
		[]byte(col.Name),
		[]byte(col.Type),
		encodeBool(col.PrimaryKey),
		encodeBool(col.NotNull),
		encodeBool(col.Unique),
		[]byte(col.Default),
		[]byte(col.References),
	} {
		buf = binary.AppendUvarint(buf, uint64(len(f)))
		buf = append(buf, f...)
	}
	return buf
}

func encodeChange(change types.TableChange) []byte {
	switch c := change.(type) {
	case types.AddColumn:
		return append([]byte{0x01}, encodeColumn(c.Column)...)
	case types.DropColumn:
		return append([]byte{0x02}, c.Name...)
	case types.RenameColumn:
		var buf []byte
		buf = append(buf, 0x03)
		buf = binary.AppendUvarint(buf, uint64(len(c.From)))
		buf = append(buf, c.From...)
		buf = append(buf, c.To...)
		return buf
	case types.RenameTable:
		return append([]byte{0x04}, c.To...)
	default:
		return []byte{0xff}
	}
}
