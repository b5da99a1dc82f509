// Package sqlitekv is the durable backend: keys and values live in a
// SQLite table, with a journal (JSON lines + CRC32 footer, grounded on the
// teacher's internal/store/wal.go) staging each commit's write set so a
// crash between the journal fsync and the SQL apply step is recovered by
// idempotent replay on the next [Open].
//
// Unlike memkv, sqlitekv does not hold a snapshot for the lifetime of a
// transaction: reads are evaluated against the live table merged with the
// transaction's own write buffer ("flush-then-query", spec.md's backend
// flexibility clause). It therefore gives read-committed isolation, not
// full snapshot isolation; concurrent commits are serialized by the
// journal's exclusive file lock plus SQLite's own transactional apply.
package sqlitekv

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	intfs "github.com/otterkv/otterkv/internal/fs"
	"github.com/otterkv/otterkv/pkg/kv"
	"github.com/otterkv/otterkv/pkg/kverr"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_entries (
	key   BLOB PRIMARY KEY,
	value BLOB NOT NULL
) WITHOUT ROWID;
`

// defaultLockTimeout bounds how long a transaction waits to acquire the
// journal's exclusive lock before giving up.
const defaultLockTimeout = 10 * time.Second

// Config configures an Engine.
type Config struct {
	// Dir is the directory holding the SQLite database file and journal.
	// Created if it does not exist.
	Dir string

	// LockTimeout bounds journal lock acquisition. Zero means
	// [defaultLockTimeout].
	LockTimeout time.Duration

	// Logger receives operational detail (recovery, commit/retry
	// transitions). A nil Logger uses [slog.Default].
	Logger *slog.Logger

	// FS overrides the filesystem used for the journal file and its lock.
	// Nil uses [intfs.NewReal]. Exposed so tests can wrap a real filesystem
	// in [intfs.Chaos] to exercise journal fault recovery (see
	// chaos_test.go); production callers should leave this nil.
	FS intfs.FS
}

// Engine is a durable, SQLite-backed backend implementing [kv.Engine].
type Engine struct {
	db          *sql.DB
	fs          intfs.FS
	locker      *intfs.Locker
	journalPath string
	lockTimeout time.Duration
	log         *slog.Logger

	mu      sync.Mutex
	version uint64
}

// Open creates or opens a durable store rooted at cfg.Dir, recovering any
// journal left behind by an interrupted commit before returning.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("sqlitekv: open: %w: dir is empty", kverr.ErrInvalidOperation)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}

	fsImpl := cfg.FS
	if fsImpl == nil {
		fsImpl = intfs.NewReal()
	}

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("sqlitekv: open: create dir: %w", err)
	}

	dbPath := filepath.Join(cfg.Dir, "index.sqlite")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: open: sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("sqlitekv: open: create schema: %w", err)
	}

	journalPath := filepath.Join(cfg.Dir, "journal")

	journalFile, err := fsImpl.OpenFile(journalPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("sqlitekv: open: create journal: %w", err)
	}

	if err := journalFile.Close(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("sqlitekv: open: close journal: %w", err)
	}

	e := &Engine{
		db:          db,
		fs:          fsImpl,
		locker:      intfs.NewLocker(fsImpl),
		journalPath: journalPath,
		lockTimeout: lockTimeout,
		log:         logger,
	}

	if err := e.recover(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("sqlitekv: open: %w", err)
	}

	return e, nil
}

// Close releases the underlying database handle.
func (e *Engine) Close() error {
	return e.db.Close()
}

// recover replays or discards a journal left behind by an interrupted
// commit. Safe to call on a clean store (the journal will read as empty).
func (e *Engine) recover(ctx context.Context) error {
	lock, err := e.locker.LockWithTimeout(e.journalPath, e.lockTimeout)
	if err != nil {
		return fmt.Errorf("lock journal for recovery: %w", err)
	}
	defer func() { _ = lock.Close() }()

	file, err := e.fs.OpenFile(e.journalPath, os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open journal for recovery: %w", err)
	}
	defer func() { _ = file.Close() }()

	state, body, err := readJournalState(file)
	if err != nil {
		return err
	}

	switch state {
	case journalEmpty:
		return nil
	case journalUncommitted:
		e.log.Warn("sqlitekv: discarding uncommitted journal")

		return truncateJournal(file)
	case journalCommitted:
		ops, err := decodeJournalOps(body)
		if err != nil {
			return fmt.Errorf("decode journal for recovery: %w", err)
		}

		e.log.Info("sqlitekv: replaying committed journal", "ops", len(ops))

		if err := e.applyOps(ctx, journalToOps(ops)); err != nil {
			return fmt.Errorf("replay journal: %w", err)
		}

		return truncateJournal(file)
	default:
		return fmt.Errorf("unknown journal state %d", state)
	}
}

// CreateTransaction implements [kv.Engine].
func (e *Engine) CreateTransaction(ctx context.Context) (kv.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sqlitekv: create transaction: %w", err)
	}

	return &Transaction{engine: e, state: stateActive}, nil
}

// applyOps applies ops to the SQLite table inside a single transaction.
func (e *Engine) applyOps(ctx context.Context, ops []kv.WriteOp) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sql tx: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, op := range ops {
		switch op.Kind {
		case kv.OpSet:
			_, err = tx.ExecContext(ctx, `INSERT INTO kv_entries(key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value`, op.Key, op.Value)
		case kv.OpClear:
			_, err = tx.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, op.Key)
		case kv.OpClearRange:
			_, err = tx.ExecContext(ctx, `DELETE FROM kv_entries WHERE key >= ? AND key < ?`, op.Key, op.End)
		default:
			err = fmt.Errorf("unknown op kind %d", op.Kind)
		}

		if err != nil {
			return fmt.Errorf("apply op: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sql tx: %w", err)
	}

	committed = true

	return nil
}

// commit stages ops in the journal (the durable commit point), applies
// them to SQLite, then retires the journal. If the process dies between
// the journal fsync and the SQLite apply, [Engine.recover] finishes the
// job on the next [Open]: applying the same ops twice is safe because
// every op is idempotent (INSERT ... ON CONFLICT DO UPDATE, unconditional
// DELETE).
func (e *Engine) commit(ctx context.Context, ops []kv.WriteOp) (version uint64, err error) {
	if len(ops) == 0 {
		e.mu.Lock()
		e.version++
		version = e.version
		e.mu.Unlock()

		return version, nil
	}

	lock, err := e.locker.LockWithTimeout(e.journalPath, e.lockTimeout)
	if err != nil {
		return 0, fmt.Errorf("sqlitekv: commit: %w: %w", kverr.ErrTransactionConflict, err)
	}
	defer func() { _ = lock.Close() }()

	file, err := e.fs.OpenFile(e.journalPath, os.O_RDWR, 0o600)
	if err != nil {
		return 0, fmt.Errorf("sqlitekv: commit: open journal: %w", err)
	}
	defer func() { _ = file.Close() }()

	journalOps, err := opsToJournal(ops)
	if err != nil {
		return 0, fmt.Errorf("sqlitekv: commit: %w", err)
	}

	if err := writeJournal(file, journalOps); err != nil {
		// Drop whatever reached the file (e.g. a full journal whose fsync
		// failed) so recovery does not replay a commit that reported failure.
		_ = truncateJournal(file)

		return 0, fmt.Errorf("sqlitekv: commit: %w", err)
	}

	if err := e.applyOps(ctx, ops); err != nil {
		return 0, fmt.Errorf("sqlitekv: commit: %w: %w", kverr.ErrBackendError, err)
	}

	if err := truncateJournal(file); err != nil {
		e.log.Warn("sqlitekv: commit applied but journal truncate failed; next open will replay harmlessly", "error", err)
	}

	e.mu.Lock()
	e.version++
	version = e.version
	e.mu.Unlock()

	return version, nil
}

// queryValue returns the value stored for key, if any.
func (e *Engine) queryValue(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte

	err := e.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("sqlitekv: query value: %w", err)
	}

	return value, true, nil
}

// queryRange returns every stored entry with key in [begin, end), ordered
// ascending. A nil begin/end means unbounded on that side.
func (e *Engine) queryRange(ctx context.Context, begin, end []byte) ([]kv.Entry, error) {
	query := `SELECT key, value FROM kv_entries WHERE 1=1`

	args := make([]any, 0, 2)

	if begin != nil {
		query += ` AND key >= ?`

		args = append(args, begin)
	}

	if end != nil {
		query += ` AND key < ?`

		args = append(args, end)
	}

	query += ` ORDER BY key ASC`

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: query range: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []kv.Entry

	for rows.Next() {
		var entry kv.Entry

		if err := rows.Scan(&entry.Key, &entry.Value); err != nil {
			return nil, fmt.Errorf("sqlitekv: scan range row: %w", err)
		}

		out = append(out, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitekv: iterate range: %w", err)
	}

	return out, nil
}

// queryKeys returns every stored key, ascending. Used to resolve a
// [kv.RangeSelector] against the full effective key sequence without
// materializing values for keys outside the eventual window.
func (e *Engine) queryKeys(ctx context.Context) ([][]byte, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT key FROM kv_entries ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: query keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out [][]byte

	for rows.Next() {
		var key []byte

		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sqlitekv: scan key row: %w", err)
		}

		out = append(out, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitekv: iterate keys: %w", err)
	}

	return out, nil
}
