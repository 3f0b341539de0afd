package persistence

import (
	"context"
	"sync"

	"github.com/go-errors/errors"
	"github.com/meshcredit/fundd/internal/mutualcredit"
)

// Memory is an in-memory Store double for tests, grounded on the teacher's
// hand-written fakes (e.g. htlcswitch's mock channel link) rather than a
// mocking framework.
type Memory struct {
	mu      sync.Mutex
	batches map[mutualcredit.PublicKey][]Batch
}

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{batches: make(map[mutualcredit.PublicKey][]Batch)}
}

// Apply implements Store, refusing to persist a batch out of counter order
// so a test can assert the Core never calls Apply twice for one counter.
func (m *Memory) Apply(_ context.Context, batch Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.batches[batch.Friend]
	if len(existing) > 0 && batch.Counter <= existing[len(existing)-1].Counter {
		return errors.Errorf(
			"persistence: counter %d not greater than last persisted %d",
			batch.Counter, existing[len(existing)-1].Counter,
		)
	}
	m.batches[batch.Friend] = append(existing, batch)
	return nil
}

// LastCounter implements Store.
func (m *Memory) LastCounter(_ context.Context, friend mutualcredit.PublicKey) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.batches[friend]
	if len(existing) == 0 {
		return 0, false, nil
	}
	return existing[len(existing)-1].Counter, true, nil
}

// Batches returns every batch persisted for friend, oldest first, for test
// assertions.
func (m *Memory) Batches(friend mutualcredit.PublicKey) []Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Batch, len(m.batches[friend]))
	copy(out, m.batches[friend])
	return out
}

// FailNext wraps a Store so its next N Apply calls fail, for exercising
// spec.md §5 testable property #6 (restart mid-batch).
type FailNext struct {
	Store
	mu        sync.Mutex
	remaining int
}

// NewFailNext wraps store so the next n calls to Apply return an injected
// error instead of delegating.
func NewFailNext(store Store, n int) *FailNext {
	return &FailNext{Store: store, remaining: n}
}

var errInjected = errors.New("persistence: injected failure")

// Apply implements Store.
func (f *FailNext) Apply(ctx context.Context, batch Batch) error {
	f.mu.Lock()
	if f.remaining > 0 {
		f.remaining--
		f.mu.Unlock()
		return errInjected
	}
	f.mu.Unlock()
	return f.Store.Apply(ctx, batch)
}
