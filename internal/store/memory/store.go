// Package memory provides an in-process transactional store implementing the
// ward, allocation, billing and scheduling repositories. Transactions are
// serialised by a single mutex and work on a cloned state that replaces the
// live state only when the unit of work succeeds.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medisphere/medisphere/internal/domain/allocation"
	"github.com/medisphere/medisphere/internal/domain/billing"
	"github.com/medisphere/medisphere/internal/domain/scheduling"
	"github.com/medisphere/medisphere/internal/domain/ward"
)

// AllocationRow is a ledger entry plus its insertion sequence, used to order
// entries recorded on the same day.
type AllocationRow struct {
	allocation.Allocation
	Seq int64 `json:"seq"`
}

type BillRow struct {
	billing.Bill
	Seq int64 `json:"seq"`
}

// Snapshot is the complete, serialisable store state.
type Snapshot struct {
	Seq          int64                                `json:"seq"`
	Wards        map[uuid.UUID]ward.Ward              `json:"wards"`
	Beds         map[uuid.UUID]ward.Bed               `json:"beds"`
	Allocations  map[uuid.UUID]AllocationRow          `json:"allocations"`
	Bills        map[uuid.UUID]BillRow                `json:"bills"`
	Appointments map[uuid.UUID]scheduling.Appointment `json:"appointments"`
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		Wards:        map[uuid.UUID]ward.Ward{},
		Beds:         map[uuid.UUID]ward.Bed{},
		Allocations:  map[uuid.UUID]AllocationRow{},
		Bills:        map[uuid.UUID]BillRow{},
		Appointments: map[uuid.UUID]scheduling.Appointment{},
	}
}

func (s *Snapshot) clone() *Snapshot {
	cp := &Snapshot{
		Seq:          s.Seq,
		Wards:        make(map[uuid.UUID]ward.Ward, len(s.Wards)),
		Beds:         make(map[uuid.UUID]ward.Bed, len(s.Beds)),
		Allocations:  make(map[uuid.UUID]AllocationRow, len(s.Allocations)),
		Bills:        make(map[uuid.UUID]BillRow, len(s.Bills)),
		Appointments: make(map[uuid.UUID]scheduling.Appointment, len(s.Appointments)),
	}
	for k, v := range s.Wards {
		cp.Wards[k] = v
	}
	for k, v := range s.Beds {
		cp.Beds[k] = v
	}
	for k, v := range s.Allocations {
		v.Allocation = cloneAllocation(v.Allocation)
		cp.Allocations[k] = v
	}
	for k, v := range s.Bills {
		v.Bill = cloneBill(v.Bill)
		cp.Bills[k] = v
	}
	for k, v := range s.Appointments {
		cp.Appointments[k] = v
	}
	return cp
}

// normalize fills nil maps left by a decoded snapshot.
func (s *Snapshot) normalize() {
	if s.Wards == nil {
		s.Wards = map[uuid.UUID]ward.Ward{}
	}
	if s.Beds == nil {
		s.Beds = map[uuid.UUID]ward.Bed{}
	}
	if s.Allocations == nil {
		s.Allocations = map[uuid.UUID]AllocationRow{}
	}
	if s.Bills == nil {
		s.Bills = map[uuid.UUID]BillRow{}
	}
	if s.Appointments == nil {
		s.Appointments = map[uuid.UUID]scheduling.Appointment{}
	}
}

func (s *Snapshot) next() int64 {
	s.Seq++
	return s.Seq
}

func timePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func uuidPtr(u *uuid.UUID) *uuid.UUID {
	if u == nil {
		return nil
	}
	v := *u
	return &v
}

func cloneAllocation(a allocation.Allocation) allocation.Allocation {
	a.ExpectedRelease = timePtr(a.ExpectedRelease)
	a.ReleasedAt = timePtr(a.ReleasedAt)
	return a
}

func cloneBill(b billing.Bill) billing.Bill {
	b.AppointmentID = uuidPtr(b.AppointmentID)
	b.PaymentDate = timePtr(b.PaymentDate)
	return b
}

// CommitHook is called with the new state before a transaction is published.
// An error aborts the transaction.
type CommitHook func(snapshot *Snapshot) error

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithSnapshot(snapshot *Snapshot) Option {
	return func(s *Store) {
		if snapshot != nil {
			snapshot.normalize()
			s.state = snapshot.clone()
		}
	}
}

func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.onCommit = hook }
}

type Store struct {
	txMu     sync.Mutex
	mu       sync.RWMutex
	state    *Snapshot
	now      func() time.Time
	onCommit CommitHook
}

func New(opts ...Option) *Store {
	s := &Store{
		state: newSnapshot(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type txKey struct{}

type txState struct {
	owner *Store
	state *Snapshot
}

func (s *Store) txFromContext(ctx context.Context) *Snapshot {
	tx, ok := ctx.Value(txKey{}).(*txState)
	if !ok || tx.owner != s {
		return nil
	}
	return tx.state
}

// InTx runs fn against a private copy of the state. Nested calls join the
// enclosing transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txFromContext(ctx) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, &txState{owner: s, state: work})); err != nil {
		return err
	}
	if s.onCommit != nil {
		if err := s.onCommit(work); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	return nil
}

// write runs fn in the caller's transaction, or in a transaction of its own.
func (s *Store) write(ctx context.Context, fn func(st *Snapshot) error) error {
	if st := s.txFromContext(ctx); st != nil {
		return fn(st)
	}
	return s.InTx(ctx, func(ctx context.Context) error {
		return fn(s.txFromContext(ctx))
	})
}

// read runs fn against the caller's transaction state, or the committed state.
func (s *Store) read(ctx context.Context, fn func(st *Snapshot) error) error {
	if st := s.txFromContext(ctx); st != nil {
		return fn(st)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

// Export returns a copy of the committed state.
func (s *Store) Export() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

func (s *Store) Wards() ward.Repository {
	return &wardRepo{s: s}
}

func (s *Store) Allocations() allocation.Repository {
	return &allocationRepo{s: s}
}

func (s *Store) Bills() billing.Repository {
	return &billRepo{s: s}
}

func (s *Store) Appointments() scheduling.Repository {
	return &appointmentRepo{s: s}
}

func (s *Store) Ping(context.Context) error {
	return nil
}
