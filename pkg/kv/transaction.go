package kv

import (
	"context"
	"fmt"

	"github.com/otterkv/otterkv/pkg/kverr"
)

// AtomicKind identifies an atomic read-modify-write operation.
type AtomicKind uint8

const (
	AtomicAdd AtomicKind = iota
	AtomicBitAnd
	AtomicBitOr
	AtomicBitXor
	AtomicMax
	AtomicMin
	AtomicCompareAndClear
	AtomicSetVersionstampedKey
	AtomicSetVersionstampedValue
)

// ConflictRangeKind identifies whether a manually-added conflict range
// participates in the read or write conflict set.
type ConflictRangeKind uint8

const (
	ConflictRangeRead ConflictRangeKind = iota
	ConflictRangeWrite
)

// OptionKind enumerates the recognized TransactionOption set (spec.md §6).
type OptionKind uint8

const (
	OptionTimeout OptionKind = iota
	OptionPriorityBatch
	OptionPrioritySystemImmediate
	OptionReadPriorityLow
	OptionReadPriorityHigh
	OptionAccessSystemKeys
	OptionReadServerSideCacheDisable
)

// Option is one TransactionOption value. Only Kind and, for OptionTimeout,
// IntValue (milliseconds) are meaningful; the other value fields exist so
// every option variant in spec.md §6 (none/bytes/int/string) has a home.
type Option struct {
	Kind        OptionKind
	IntValue    int64
	BytesValue  []byte
	StringValue string
}

// StreamingMode is a hint about how a range read will be consumed.
// Backends may ignore it entirely.
type StreamingMode int

const (
	StreamingWantAll  StreamingMode = -2
	StreamingIterator StreamingMode = -1
	StreamingExact    StreamingMode = 0
	StreamingSmall    StreamingMode = 1
	StreamingMedium   StreamingMode = 2
	StreamingLarge    StreamingMode = 3
	StreamingSerial   StreamingMode = 4
)

// Transaction is the backend-independent contract every concrete
// transaction implementation (memkv, sqlitekv, ...) satisfies.
//
// A Transaction is single-threaded from the caller's perspective:
// concurrent calls on the same Transaction have undefined ordering.
type Transaction interface {
	// GetValue returns the value for key, consulting the write buffer
	// before falling back to the snapshot/backing store (read-your-writes).
	// ok is false if the key has no value (cleared, or never set).
	GetValue(ctx context.Context, key []byte) (value []byte, ok bool, err error)

	// GetRange resolves rs against the effective key sequence (snapshot
	// merged with buffered writes) and returns matching entries in the
	// requested direction, truncated to opts.Limit.
	GetRange(ctx context.Context, rs RangeSelector, opts RangeOptions) ([]Entry, error)

	// SetValue, Clear and ClearRange buffer a write. They never fail; if
	// the transaction is cancelled, the write is silently discarded.
	SetValue(key, value []byte)
	Clear(key []byte)
	ClearRange(begin, end []byte)

	// AtomicOp applies an atomic read-modify-write operation.
	AtomicOp(ctx context.Context, kind AtomicKind, key, operand []byte) error

	// Commit flushes the write buffer and finalizes the transaction.
	Commit(ctx context.Context) error

	// Cancel discards the write buffer and rolls back. Never errors.
	Cancel()

	// SetOption applies a TransactionOption. Unrecognized kinds fail with
	// [kverr.ErrInvalidOperation]; kinds a backend cannot honor are
	// accepted as a no-op (spec.md §6).
	SetOption(opt Option) error

	// SetReadVersion pins the transaction's read snapshot to a specific
	// version. Backends that do not support versioning ignore it.
	SetReadVersion(version int64)

	// GetReadVersion returns the version number the transaction's reads
	// are consistent with.
	GetReadVersion(ctx context.Context) (int64, error)

	// GetCommittedVersion returns the version the transaction committed
	// at. Only meaningful after a successful Commit.
	GetCommittedVersion() (int64, error)

	// GetVersionstamp returns the backend-assigned versionstamp for this
	// commit. Only valid after Commit returns successfully. Backends
	// without the concept return nil.
	GetVersionstamp() ([]byte, error)

	// AddConflictRange manually extends the read or write conflict set
	// used by backends that detect conflicts that way. A no-op on
	// backends that don't.
	AddConflictRange(begin, end []byte, kind ConflictRangeKind) error

	// GetEstimatedRangeSizeBytes returns a backend's best estimate of the
	// byte size of [begin, end). Backends that cannot estimate return 0.
	GetEstimatedRangeSizeBytes(ctx context.Context, begin, end []byte) (int64, error)

	// GetRangeSplitPoints returns suggested split points within
	// [begin, end) for parallelizing a large scan. Backends that cannot
	// compute this return an empty slice.
	GetRangeSplitPoints(ctx context.Context, begin, end []byte, chunkSize int64) ([][]byte, error)
}

// Engine is the capability set a backend exposes to create and run
// transactions (spec.md §6).
type Engine interface {
	CreateTransaction(ctx context.Context) (Transaction, error)
}

// MaxRetryAttempts is the bounded attempt count for [WithTransaction]. The
// spec requires at least 100.
const MaxRetryAttempts = 100

// WithTransaction runs fn against a fresh transaction, retrying on
// [kverr.ErrTransactionConflict] (or any error satisfying
// [kverr.IsRetryable]) until it succeeds, fn returns a non-retryable error,
// or MaxRetryAttempts is exhausted (at which point it raises
// [kverr.ErrTransactionTooOld]).
//
// fn must be idempotent: WithTransaction does not guarantee exactly-once
// execution of fn across retries.
//
// The retry loop is iterative, not recursive, so its stack depth does not
// grow with the number of attempts.
func WithTransaction(ctx context.Context, eng Engine, fn func(ctx context.Context, tx Transaction) error) error {
	var lastErr error

	for attempt := 0; attempt < MaxRetryAttempts; attempt++ {
		tx, err := eng.CreateTransaction(ctx)
		if err != nil {
			return fmt.Errorf("withTransaction: create transaction: %w", err)
		}

		err = fn(ctx, tx)
		if err != nil {
			tx.Cancel()

			if kverr.IsRetryable(err) {
				lastErr = err

				continue
			}

			return err
		}

		err = tx.Commit(ctx)
		if err == nil {
			return nil
		}

		tx.Cancel()

		if !kverr.IsRetryable(err) {
			return err
		}

		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("withTransaction: %w: %w", kverr.ErrTransactionTooOld, lastErr)
	}

	return kverr.ErrTransactionTooOld
}
