package sqlitekv

import (
	"context"
	"fmt"

	"github.com/otterkv/otterkv/pkg/byteorder"
	"github.com/otterkv/otterkv/pkg/kv"
	"github.com/otterkv/otterkv/pkg/kverr"
)

type txState uint8

const (
	stateActive txState = iota
	stateCommitted
	stateCancelled
	// stateRolledBack is the terminal state a transaction enters when its
	// own Commit attempt fails (spec.md §4.5's "rolled back" state),
	// distinct from stateCancelled (an explicit Cancel, or the caller
	// abandoning the transaction without committing). Both are dead ends:
	// no further reads, writes, or commits are possible, only another
	// Cancel (a no-op).
	stateRolledBack
)

// terminal reports whether the transaction can no longer read, write, or
// commit: either a prior Commit failed, or the transaction was cancelled.
func (tx *Transaction) terminal() bool {
	return tx.state == stateCancelled || tx.state == stateRolledBack
}

// Transaction is sqlitekv's [kv.Transaction] implementation. The zero
// value is not usable; obtain one via [Engine.CreateTransaction].
type Transaction struct {
	engine *Engine
	buffer kv.WriteBuffer

	state            txState
	readVersion      int64
	committedVersion int64
	versionstamp     []byte
	batchOrder       uint16
}

// GetValue implements [kv.Transaction].
func (tx *Transaction) GetValue(ctx context.Context, key []byte) ([]byte, bool, error) {
	if tx.terminal() {
		return nil, false, fmt.Errorf("sqlitekv: get value: %w", kverr.ErrInvalidOperation)
	}

	if v, hasEffect, cleared := kv.Lookup(tx.buffer.Ops(), key); hasEffect {
		if cleared {
			return nil, false, nil
		}

		return v, true, nil
	}

	return tx.engine.queryValue(ctx, key)
}

// GetRange implements [kv.Transaction] using the flush-then-query
// strategy: the effective key order is computed once (DB keys merged
// with the buffer), the selector pair is resolved against it, and only
// the resolved window's values are fetched from SQLite.
func (tx *Transaction) GetRange(ctx context.Context, rs kv.RangeSelector, opts kv.RangeOptions) ([]kv.Entry, error) {
	if tx.terminal() {
		return nil, fmt.Errorf("sqlitekv: get range: %w", kverr.ErrInvalidOperation)
	}

	dbKeys, err := tx.engine.queryKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: get range: %w", err)
	}

	mergedKeys := mergeKeys(dbKeys, tx.buffer.Ops())

	start, end := rs.ResolveAgainst(mergedKeys)
	window := mergedKeys[start:end]

	if len(window) == 0 {
		return kv.ApplyDirectionAndLimit(nil, opts), nil
	}

	low := window[0]
	highExclusive := append(append([]byte{}, window[len(window)-1]...), 0x00)

	dbRows, err := tx.engine.queryRange(ctx, low, highExclusive)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: get range: %w", err)
	}

	effective := kv.MergeRange(dbRows, tx.buffer.Ops(), low, highExclusive)

	return kv.ApplyDirectionAndLimit(effective, opts), nil
}

// mergeKeys computes the effective ascending key sequence (no values
// needed) after ops have been applied on top of dbKeys.
func mergeKeys(dbKeys [][]byte, ops []kv.WriteOp) [][]byte {
	base := make([]kv.Entry, len(dbKeys))
	for i, k := range dbKeys {
		base[i] = kv.Entry{Key: k}
	}

	return kv.KeysOf(kv.MergeRange(base, ops, nil, nil))
}

// SetValue implements [kv.Transaction].
func (tx *Transaction) SetValue(key, value []byte) {
	if tx.state != stateActive {
		return
	}

	tx.buffer.Set(key, value)
}

// Clear implements [kv.Transaction].
func (tx *Transaction) Clear(key []byte) {
	if tx.state != stateActive {
		return
	}

	tx.buffer.Clear(key)
}

// ClearRange implements [kv.Transaction].
func (tx *Transaction) ClearRange(begin, end []byte) {
	if tx.state != stateActive {
		return
	}

	tx.buffer.ClearRange(begin, end)
}

// AtomicOp implements [kv.Transaction] via read-modify-write. Correct
// because commits are serialized through the journal's exclusive lock
// (spec.md §4.5, documented concession).
func (tx *Transaction) AtomicOp(ctx context.Context, kind kv.AtomicKind, key, operand []byte) error {
	if tx.terminal() {
		return fmt.Errorf("sqlitekv: atomic op: %w", kverr.ErrInvalidOperation)
	}

	switch kind {
	case kv.AtomicSetVersionstampedKey:
		placeholder := kv.NewVersionstamp(0, tx.batchOrder)
		tx.batchOrder++

		finalKey, err := kv.ApplyVersionstampedKey(key, placeholder)
		if err != nil {
			return fmt.Errorf("sqlitekv: %w: %w", kverr.ErrInvalidOperation, err)
		}

		tx.buffer.Set(finalKey, operand)

		return nil

	case kv.AtomicSetVersionstampedValue:
		placeholder := kv.NewVersionstamp(0, tx.batchOrder)
		tx.batchOrder++

		finalValue, err := kv.ApplyVersionstampedValue(operand, placeholder)
		if err != nil {
			return fmt.Errorf("sqlitekv: %w: %w", kverr.ErrInvalidOperation, err)
		}

		tx.buffer.Set(key, finalValue)

		return nil
	}

	current, ok, err := tx.GetValue(ctx, key)
	if err != nil {
		return err
	}

	switch kind {
	case kv.AtomicCompareAndClear:
		if ok && byteorder.Compare(current, operand) == 0 {
			tx.buffer.Clear(key)
		}

		return nil

	case kv.AtomicAdd, kv.AtomicBitAnd, kv.AtomicBitOr, kv.AtomicBitXor, kv.AtomicMax, kv.AtomicMin:
		result, err := applyBinaryAtomic(kind, current, ok, operand)
		if err != nil {
			return err
		}

		tx.buffer.Set(key, result)

		return nil

	default:
		return fmt.Errorf("sqlitekv: unknown atomic op %d: %w", kind, kverr.ErrInvalidOperation)
	}
}

func applyBinaryAtomic(kind kv.AtomicKind, current []byte, hasCurrent bool, operand []byte) ([]byte, error) {
	if !hasCurrent {
		out := make([]byte, len(operand))
		copy(out, operand)

		return out, nil
	}

	n := len(operand)
	if len(current) != n {
		return nil, fmt.Errorf("sqlitekv: atomic operand length %d does not match current value length %d: %w",
			n, len(current), kverr.ErrInvalidOperation)
	}

	out := make([]byte, n)

	switch kind {
	case kv.AtomicAdd:
		var carry uint16

		for i := n - 1; i >= 0; i-- {
			sum := uint16(current[i]) + uint16(operand[i]) + carry
			out[i] = byte(sum)
			carry = sum >> 8
		}
	case kv.AtomicBitAnd:
		for i := 0; i < n; i++ {
			out[i] = current[i] & operand[i]
		}
	case kv.AtomicBitOr:
		for i := 0; i < n; i++ {
			out[i] = current[i] | operand[i]
		}
	case kv.AtomicBitXor:
		for i := 0; i < n; i++ {
			out[i] = current[i] ^ operand[i]
		}
	case kv.AtomicMax:
		if byteorder.Compare(operand, current) > 0 {
			copy(out, operand)
		} else {
			copy(out, current)
		}
	case kv.AtomicMin:
		if byteorder.Compare(operand, current) < 0 {
			copy(out, operand)
		} else {
			copy(out, current)
		}
	}

	return out, nil
}

// Commit implements [kv.Transaction]. A failed commit moves the
// transaction to [stateRolledBack]: it is not retried in place, matching
// spec.md §4.5's state diagram, where the caller either inspects the
// returned error (conflict, in which case [kv.WithTransaction] starts a
// fresh transaction) or gives up.
func (tx *Transaction) Commit(ctx context.Context) error {
	if tx.terminal() {
		return fmt.Errorf("sqlitekv: commit: %w", kverr.ErrInvalidOperation)
	}

	if tx.state == stateCommitted {
		return nil
	}

	version, err := tx.engine.commit(ctx, tx.buffer.Ops())
	if err != nil {
		tx.state = stateRolledBack
		tx.buffer.Reset()

		return fmt.Errorf("sqlitekv: commit: %w", err)
	}

	tx.state = stateCommitted
	tx.committedVersion = int64(version)
	tx.versionstamp = kv.NewVersionstamp(version, 0)
	tx.buffer.Reset()

	return nil
}

// Cancel implements [kv.Transaction]. A no-op once the transaction has
// already reached a terminal state (committed, cancelled, or rolled back
// by a failed commit).
func (tx *Transaction) Cancel() {
	if tx.state == stateCommitted || tx.terminal() {
		return
	}

	tx.state = stateCancelled
	tx.buffer.Reset()
}

// SetOption implements [kv.Transaction]. sqlitekv accepts every
// recognized option as a no-op; none of them change durable-backend
// behavior (spec.md §6).
func (tx *Transaction) SetOption(opt kv.Option) error {
	switch opt.Kind {
	case kv.OptionTimeout, kv.OptionPriorityBatch, kv.OptionPrioritySystemImmediate,
		kv.OptionReadPriorityLow, kv.OptionReadPriorityHigh, kv.OptionAccessSystemKeys,
		kv.OptionReadServerSideCacheDisable:
		return nil
	default:
		return fmt.Errorf("sqlitekv: set option: %w", kverr.ErrInvalidOperation)
	}
}

// SetReadVersion implements [kv.Transaction]. sqlitekv does not pin a
// snapshot version (reads are read-committed against the live table), so
// this only affects the value GetReadVersion reports.
func (tx *Transaction) SetReadVersion(version int64) {
	tx.readVersion = version
}

// GetReadVersion implements [kv.Transaction].
func (tx *Transaction) GetReadVersion(context.Context) (int64, error) {
	return tx.readVersion, nil
}

// GetCommittedVersion implements [kv.Transaction].
func (tx *Transaction) GetCommittedVersion() (int64, error) {
	return tx.committedVersion, nil
}

// GetVersionstamp implements [kv.Transaction].
func (tx *Transaction) GetVersionstamp() ([]byte, error) {
	return tx.versionstamp, nil
}

// AddConflictRange implements [kv.Transaction] as a no-op: sqlitekv
// delegates conflict detection to SQLite's own commit-time locking rather
// than tracking an explicit conflict set.
func (tx *Transaction) AddConflictRange([]byte, []byte, kv.ConflictRangeKind) error {
	return nil
}

// GetEstimatedRangeSizeBytes implements [kv.Transaction].
func (tx *Transaction) GetEstimatedRangeSizeBytes(ctx context.Context, begin, end []byte) (int64, error) {
	rows, err := tx.engine.queryRange(ctx, begin, end)
	if err != nil {
		return 0, fmt.Errorf("sqlitekv: estimate range size: %w", err)
	}

	effective := kv.MergeRange(rows, tx.buffer.Ops(), begin, end)

	var total int64
	for _, e := range effective {
		total += int64(len(e.Key) + len(e.Value))
	}

	return total, nil
}

// GetRangeSplitPoints implements [kv.Transaction]. sqlitekv has no
// physical chunking concept beyond SQLite's own pages, so it returns the
// empty slice.
func (tx *Transaction) GetRangeSplitPoints(context.Context, []byte, []byte, int64) ([][]byte, error) {
	return nil, nil
}
