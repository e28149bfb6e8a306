package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medisphere/medisphere/internal/domain/allocation"
	"github.com/medisphere/medisphere/internal/domain/billing"
	"github.com/medisphere/medisphere/internal/domain/scheduling"
	"github.com/medisphere/medisphere/internal/domain/ward"
)

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }
}

func seedBed(t *testing.T, s *Store, wardName string, capacity int, number string) (*ward.Ward, *ward.Bed) {
	t.Helper()
	ctx := context.Background()
	w := &ward.Ward{Name: wardName, Capacity: capacity}
	require.NoError(t, s.Wards().CreateWard(ctx, w))
	b := &ward.Bed{WardID: w.ID, BedNumber: number}
	require.NoError(t, s.Wards().CreateBed(ctx, b))
	return w, b
}

func TestInTx_CommitPublishesState(t *testing.T) {
	s := New(WithClock(fixedClock()))
	_, b := seedBed(t, s, "General", 2, "G-01")

	err := s.InTx(context.Background(), func(ctx context.Context) error {
		ok, err := s.Wards().TryOccupy(ctx, b.ID)
		require.True(t, ok)
		return err
	})
	require.NoError(t, err)

	got, err := s.Wards().GetBed(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, ward.BedOccupied, got.Status)
}

func TestInTx_ErrorDiscardsState(t *testing.T) {
	s := New()
	_, b := seedBed(t, s, "General", 2, "G-01")
	boom := errors.New("boom")

	err := s.InTx(context.Background(), func(ctx context.Context) error {
		if _, err := s.Wards().TryOccupy(ctx, b.ID); err != nil {
			return err
		}
		inside, err := s.Wards().GetBed(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, ward.BedOccupied, inside.Status, "transaction sees its own writes")

		outside, err := s.Wards().GetBed(context.Background(), b.ID)
		require.NoError(t, err)
		assert.Equal(t, ward.BedFree, outside.Status, "uncommitted writes are invisible")
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Wards().GetBed(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, ward.BedFree, got.Status)
}

func TestInTx_NestedJoinsOuter(t *testing.T) {
	s := New()
	_, b := seedBed(t, s, "General", 2, "G-01")

	err := s.InTx(context.Background(), func(ctx context.Context) error {
		return s.InTx(ctx, func(ctx context.Context) error {
			return s.Wards().SetOccupied(ctx, b.ID)
		})
	})
	require.NoError(t, err)
	got, _ := s.Wards().GetBed(context.Background(), b.ID)
	assert.Equal(t, ward.BedOccupied, got.Status)
}

func TestInTx_CommitHookFailureRollsBack(t *testing.T) {
	hookErr := errors.New("disk full")
	fail := false
	s := New(WithCommitHook(func(*Snapshot) error {
		if fail {
			return hookErr
		}
		return nil
	}))
	_, b := seedBed(t, s, "General", 2, "G-01")

	fail = true
	err := s.Wards().SetOccupied(context.Background(), b.ID)
	require.ErrorIs(t, err, hookErr)

	got, _ := s.Wards().GetBed(context.Background(), b.ID)
	assert.Equal(t, ward.BedFree, got.Status)
}

func TestTryOccupy_ExactlyOneWinner(t *testing.T) {
	s := New()
	_, b := seedBed(t, s, "General", 2, "G-01")

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Wards().TryOccupy(context.Background(), b.ID)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestTryOccupy_UnknownBed(t *testing.T) {
	s := New()
	ok, err := s.Wards().TryOccupy(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListWards_DerivedCounts(t *testing.T) {
	s := New()
	ctx := context.Background()
	w, b := seedBed(t, s, "Surgery", 3, "S-01")
	require.NoError(t, s.Wards().CreateBed(ctx, &ward.Bed{WardID: w.ID, BedNumber: "S-02"}))
	require.NoError(t, s.Wards().SetOccupied(ctx, b.ID))
	seedBed(t, s, "Cardiology", 1, "C-01")

	wards, err := s.Wards().ListWards(ctx)
	require.NoError(t, err)
	require.Len(t, wards, 2)
	assert.Equal(t, "Cardiology", wards[0].Name)
	assert.Equal(t, 1, wards[0].TotalBeds)
	assert.Equal(t, 0, wards[0].OccupiedBeds)
	assert.Equal(t, "Surgery", wards[1].Name)
	assert.Equal(t, 2, wards[1].TotalBeds)
	assert.Equal(t, 1, wards[1].OccupiedBeds)
}

func TestCreateBed_UnknownWard(t *testing.T) {
	s := New()
	err := s.Wards().CreateBed(context.Background(), &ward.Bed{WardID: uuid.New(), BedNumber: "X"})
	assert.ErrorIs(t, err, ward.ErrWardNotFound)
}

func TestListBedsByWard_JoinsOccupantOnlyWhenOccupied(t *testing.T) {
	s := New(WithClock(fixedClock()))
	ctx := context.Background()
	w, b := seedBed(t, s, "General", 2, "G-01")
	pid := uuid.New()

	require.NoError(t, s.Wards().SetOccupied(ctx, b.ID))
	require.NoError(t, s.Allocations().Record(ctx, &allocation.Allocation{BedID: b.ID, PatientID: pid}))

	views, err := s.Wards().ListBedsByWard(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.NotNil(t, views[0].PatientID)
	assert.Equal(t, pid, *views[0].PatientID)

	// An administrative edit can free the bed behind the ledger's back; the
	// occupant is then hidden.
	free := ward.BedFree
	_, err = s.Wards().UpdateBed(ctx, b.ID, ward.BedPatch{Status: &free})
	require.NoError(t, err)
	views, err = s.Wards().ListBedsByWard(ctx, w.ID)
	require.NoError(t, err)
	assert.Nil(t, views[0].PatientID)
}

func TestRecord_SingleActivePerBed(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, b := seedBed(t, s, "General", 2, "G-01")

	require.NoError(t, s.Allocations().Record(ctx, &allocation.Allocation{BedID: b.ID, PatientID: uuid.New()}))
	err := s.Allocations().Record(ctx, &allocation.Allocation{BedID: b.ID, PatientID: uuid.New()})
	assert.ErrorIs(t, err, ward.ErrBedUnavailable)
}

func TestRepointBed_SingleActivePerBed(t *testing.T) {
	s := New()
	ctx := context.Background()
	w, target := seedBed(t, s, "General", 3, "G-01")
	source := &ward.Bed{WardID: w.ID, BedNumber: "G-02"}
	require.NoError(t, s.Wards().CreateBed(ctx, source))

	held := &allocation.Allocation{BedID: target.ID, PatientID: uuid.New()}
	require.NoError(t, s.Allocations().Record(ctx, held))
	moving := &allocation.Allocation{BedID: source.ID, PatientID: uuid.New()}
	require.NoError(t, s.Allocations().Record(ctx, moving))

	err := s.Allocations().RepointBed(ctx, moving.ID, target.ID)
	assert.ErrorIs(t, err, ward.ErrBedUnavailable)
	got, err := s.Allocations().FindActiveByBed(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, moving.ID, got.ID)

	_, err = s.Allocations().MarkReleased(ctx, target.ID, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Allocations().RepointBed(ctx, moving.ID, target.ID))
	got, err = s.Allocations().FindActiveByBed(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, moving.ID, got.ID)
}

func TestMarkReleased(t *testing.T) {
	s := New(WithClock(fixedClock()))
	ctx := context.Background()
	_, b := seedBed(t, s, "General", 2, "G-01")
	a := &allocation.Allocation{BedID: b.ID, PatientID: uuid.New()}
	require.NoError(t, s.Allocations().Record(ctx, a))

	at := time.Date(2024, 6, 3, 17, 45, 0, 0, time.UTC)
	n, err := s.Allocations().MarkReleased(ctx, b.ID, at)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Allocations().FindActiveByBed(ctx, b.ID)
	assert.ErrorIs(t, err, allocation.ErrNoActiveAllocation)

	hist, total, err := s.Allocations().ListByBed(ctx, b.ID, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, allocation.StatusReleased, hist[0].Status)
	require.NotNil(t, hist[0].ReleasedAt)
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), *hist[0].ReleasedAt)

	n, err = s.Allocations().MarkReleased(ctx, b.ID, at)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestPatientHistory_NewestFirst(t *testing.T) {
	s := New(WithClock(fixedClock()))
	ctx := context.Background()
	_, b1 := seedBed(t, s, "General", 2, "G-01")
	_, b2 := seedBed(t, s, "ICU", 2, "I-01")
	pid := uuid.New()

	first := &allocation.Allocation{BedID: b1.ID, PatientID: pid}
	require.NoError(t, s.Allocations().Record(ctx, first))
	_, err := s.Allocations().MarkReleased(ctx, b1.ID, fixedClock()())
	require.NoError(t, err)
	second := &allocation.Allocation{BedID: b2.ID, PatientID: pid}
	require.NoError(t, s.Allocations().Record(ctx, second))

	items, total, err := s.Allocations().ListByPatient(ctx, pid, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	assert.Equal(t, second.ID, items[0].ID)
	assert.Equal(t, "ICU", items[0].WardName)
	assert.Equal(t, first.ID, items[1].ID)

	cur, err := s.Allocations().FindCurrentForPatient(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, second.ID, cur.ID)
	assert.Equal(t, "I-01", cur.BedNumber)

	page, total, err := s.Allocations().ListByPatient(ctx, pid, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, first.ID, page[0].ID)
}

func TestFindCurrentForPatient_None(t *testing.T) {
	s := New()
	_, err := s.Allocations().FindCurrentForPatient(context.Background(), uuid.New())
	assert.ErrorIs(t, err, allocation.ErrNoCurrentBed)
}

func TestDeleteBed_GuardsHistory(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, b := seedBed(t, s, "General", 2, "G-01")
	require.NoError(t, s.Allocations().Record(ctx, &allocation.Allocation{BedID: b.ID, PatientID: uuid.New()}))

	n, err := s.Allocations().CountByBed(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, s.Wards().DeleteBed(ctx, b.ID), ward.ErrHasHistory)
}

func TestBills_RunningBillLifecycle(t *testing.T) {
	s := New(WithClock(fixedClock()))
	ctx := context.Background()
	pid := uuid.New()

	b := &billing.Bill{PatientID: pid, Kind: billing.KindInpatient}
	require.NoError(t, s.Bills().Create(ctx, b))
	err := s.Bills().Create(ctx, &billing.Bill{PatientID: pid, Kind: billing.KindInpatient})
	assert.Error(t, err, "second running bill is rejected")

	running, err := s.Bills().FindRunning(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, b.ID, running.ID)

	require.NoError(t, s.Bills().Finalize(ctx, b.ID, 900, billing.PaymentPending, fixedClock()()))
	_, err = s.Bills().FindRunning(ctx, pid)
	assert.ErrorIs(t, err, billing.ErrBillNotFound)

	bills, total, err := s.Bills().ListByPatient(ctx, pid, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 900.0, bills[0].TotalAmount)
}

func TestAppointments_Complete(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := &scheduling.Appointment{PatientID: uuid.New(), Status: scheduling.StatusScheduled, Note: "Review"}
	require.NoError(t, s.Appointments().Create(ctx, a))
	require.NoError(t, s.Appointments().Complete(ctx, a.ID, scheduling.AdmittedNote))

	got, err := s.Appointments().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusCompleted, got.Status)
	assert.Equal(t, "Review - Admitted to Ward", got.Note)

	assert.ErrorIs(t, s.Appointments().Complete(ctx, uuid.New(), ""), scheduling.ErrAppointmentNotFound)
}

func TestExport_IsACopy(t *testing.T) {
	s := New()
	_, b := seedBed(t, s, "General", 2, "G-01")

	snap := s.Export()
	bed := snap.Beds[b.ID]
	bed.Status = ward.BedOccupied
	snap.Beds[b.ID] = bed

	got, _ := s.Wards().GetBed(context.Background(), b.ID)
	assert.Equal(t, ward.BedFree, got.Status)

	restored := New(WithSnapshot(snap))
	got, err := restored.Wards().GetBed(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, ward.BedOccupied, got.Status)
}
