// Package memkv is the in-memory backend: an Engine holding a single sorted
// snapshot slice, serialized by a single-writer admission ticket the way
// the teacher's pkg/slotcache allows exactly one active [Writer] at a time.
//
// memkv always uses the materialize-and-merge range-read strategy
// (spec.md §4.5): every GetRange call folds the write buffer onto a copy
// of the snapshot in memory rather than flushing to a native store first.
package memkv

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/otterkv/otterkv/pkg/byteorder"
	"github.com/otterkv/otterkv/pkg/kv"
)

// Config configures an Engine.
type Config struct {
	// InitialEntries seeds the store at construction time. Must already be
	// sorted ascending by Key; Engine does not validate this.
	InitialEntries []kv.Entry
}

// Engine is an in-memory, single-writer backend implementing [kv.Engine].
type Engine struct {
	mu      sync.RWMutex
	entries []kv.Entry // sorted ascending by Key; owned by Engine

	// admission serializes transaction creation: CreateTransaction blocks
	// until the previous transaction has reached a terminal state.
	admission chan struct{}

	version uint64 // monotonic commit counter, also used for versionstamps
}

// New constructs an Engine from cfg.
func New(cfg Config) *Engine {
	entries := make([]kv.Entry, len(cfg.InitialEntries))
	copy(entries, cfg.InitialEntries)

	e := &Engine{
		entries:   entries,
		admission: make(chan struct{}, 1),
	}
	e.admission <- struct{}{}

	return e
}

// CreateTransaction acquires the admission ticket (blocking until any prior
// transaction has committed or cancelled), captures a snapshot of the
// current store, and returns a fresh [kv.Transaction].
//
// The ticket is released inside Commit or Cancel, so it must survive the
// transaction's lifetime across any number of suspended reads in between.
func (e *Engine) CreateTransaction(ctx context.Context) (kv.Transaction, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("memkv: create transaction: %w", ctx.Err())
	case <-e.admission:
	}

	e.mu.RLock()
	snapshot := make([]kv.Entry, len(e.entries))
	copy(snapshot, e.entries)
	readVersion := e.version
	e.mu.RUnlock()

	return &Transaction{
		engine:      e,
		snapshot:    snapshot,
		state:       stateActive,
		readVersion: int64(readVersion),
	}, nil
}

// commit applies ops to the store atomically, under an exclusive lock, and
// returns the new commit version. The admission ticket must already be
// held by the caller (released separately after commit/cancel).
func (e *Engine) commit(ops []kv.WriteOp) (version uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	merged := kv.MergeRange(e.entries, ops, nil, nil)
	e.entries = merged
	e.version++

	return e.version, nil
}

func (e *Engine) releaseTicket() {
	e.admission <- struct{}{}
}

// snapshotKeys returns a sorted copy of the keys currently stored, used by
// callers that need a consistent view for estimation helpers.
func (e *Engine) snapshotKeys() [][]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([][]byte, len(e.entries))
	for i, ent := range e.entries {
		out[i] = ent.Key
	}

	return out
}

// find returns the index of key in a sorted []kv.Entry, or -1.
func find(entries []kv.Entry, key []byte) int {
	i := sort.Search(len(entries), func(i int) bool {
		return byteorder.Compare(entries[i].Key, key) >= 0
	})

	if i < len(entries) && byteorder.Compare(entries[i].Key, key) == 0 {
		return i
	}

	return -1
}
