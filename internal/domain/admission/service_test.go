package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medisphere/medisphere/internal/domain/allocation"
	"github.com/medisphere/medisphere/internal/domain/billing"
	"github.com/medisphere/medisphere/internal/domain/scheduling"
	"github.com/medisphere/medisphere/internal/domain/ward"
	"github.com/medisphere/medisphere/internal/platform/auth"
	"github.com/medisphere/medisphere/internal/platform/notification"
	"github.com/medisphere/medisphere/internal/store/memory"
	"github.com/medisphere/medisphere/pkg/apperrors"
)

var testNow = time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)

type fixture struct {
	store      *memory.Store
	svc        *Service
	wards      *ward.Service
	bills      *billing.Service
	appts      *scheduling.Service
	sender     *notification.MemorySender
	dispatcher *notification.Dispatcher
	observer   *recordingObserver
}

type recordingObserver struct {
	mu   sync.Mutex
	ops  []string
	errs []error
}

func (o *recordingObserver) ObserveOperation(op string, _ time.Time, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, op)
	o.errs = append(o.errs, err)
}

// failingBilling fails the admission charge while passing everything else
// through.
type failingBilling struct {
	Billing
	err error
}

func (f failingBilling) CreateAdmissionBill(context.Context, uuid.UUID, *uuid.UUID, float64) (*billing.Bill, error) {
	return nil, f.err
}

func newFixture(t *testing.T, wrap func(Billing) Billing) *fixture {
	t.Helper()
	store := memory.New(memory.WithClock(func() time.Time { return testNow }))
	policy := auth.DefaultPolicy()
	wards := ward.NewService(store.Wards(), store.Allocations(), store, policy)
	bills := billing.NewService(store.Bills())
	appts := scheduling.NewService(store.Appointments())
	sender := &notification.MemorySender{}
	dispatcher := notification.NewDispatcher(sender, nil, zerolog.Nop())
	observer := &recordingObserver{}

	var b Billing = bills
	if wrap != nil {
		b = wrap(b)
	}
	svc := NewService(wards, store.Allocations(), b, appts, store, policy, zerolog.Nop(),
		WithNotifier(dispatcher),
		WithObserver(observer),
		WithClock(func() time.Time { return testNow }),
	)
	return &fixture{store: store, svc: svc, wards: wards, bills: bills, appts: appts,
		sender: sender, dispatcher: dispatcher, observer: observer}
}

func as(role string) context.Context {
	return auth.WithIdentity(context.Background(), "user-"+role, []string{role}, "")
}

func (f *fixture) ward(t *testing.T, name string, beds int) (*ward.Ward, []*ward.Bed) {
	t.Helper()
	ctx := as(auth.RoleAdmin)
	w, err := f.wards.CreateWard(ctx, name, beds)
	require.NoError(t, err)
	out := make([]*ward.Bed, 0, beds)
	for i := 1; i <= beds; i++ {
		b, err := f.wards.AddBed(ctx, w.ID, fmt.Sprintf("%s-%02d", name[:1], i))
		require.NoError(t, err)
		out = append(out, b)
	}
	return w, out
}

func (f *fixture) bed(t *testing.T, id uuid.UUID) *ward.Bed {
	t.Helper()
	b, err := f.wards.GetBed(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f *fixture) messages() []notification.Message {
	f.dispatcher.Flush()
	return f.sender.Messages()
}

func TestAdmit(t *testing.T) {
	f := newFixture(t, nil)
	_, beds := f.ward(t, "General", 2)
	pid := uuid.New()
	appt := &scheduling.Appointment{PatientID: pid, Note: "Severe asthma"}
	require.NoError(t, f.appts.CreateAppointment(context.Background(), appt))

	res, err := f.svc.Admit(as(auth.RoleDoctor), AdmitRequest{PatientID: pid, BedID: beds[0].ID, AppointmentID: &appt.ID})
	require.NoError(t, err)

	assert.Equal(t, ward.BedOccupied, f.bed(t, beds[0].ID).Status)
	assert.Equal(t, allocation.StatusActive, res.Allocation.Status)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), res.Allocation.AllocatedAt)
	require.NotNil(t, res.Allocation.ExpectedRelease)
	assert.Equal(t, time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC), *res.Allocation.ExpectedRelease)
	assert.Nil(t, res.Allocation.ReleasedAt)

	assert.Equal(t, billing.KindAdmission, res.Bill.Kind)
	assert.Equal(t, 500.0, res.Bill.TotalAmount)
	require.NotNil(t, res.Bill.AppointmentID)
	assert.Equal(t, appt.ID, *res.Bill.AppointmentID)

	got, err := f.appts.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusCompleted, got.Status)
	assert.Equal(t, "Severe asthma - Admitted to Ward", got.Note)

	cur, err := f.svc.CurrentBed(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, res.Allocation.ID, cur.ID)

	msgs := f.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notification.KindAdmissionConfirmation, msgs[0].Kind)
	assert.Equal(t, pid.String(), msgs[0].Recipient)
	assert.Contains(t, msgs[0].Body, "General")
	assert.Contains(t, msgs[0].Body, beds[0].BedNumber)
}

func TestAdmit_WithoutAppointment(t *testing.T) {
	f := newFixture(t, nil)
	_, beds := f.ward(t, "General", 1)

	res, err := f.svc.Admit(as(auth.RoleStaff), AdmitRequest{PatientID: uuid.New(), BedID: beds[0].ID})
	require.NoError(t, err)
	assert.Nil(t, res.Bill.AppointmentID)
}

func TestAdmit_OccupiedBed(t *testing.T) {
	f := newFixture(t, nil)
	_, beds := f.ward(t, "General", 1)
	_, err := f.svc.Admit(as(auth.RoleStaff), AdmitRequest{PatientID: uuid.New(), BedID: beds[0].ID})
	require.NoError(t, err)

	_, err = f.svc.Admit(as(auth.RoleStaff), AdmitRequest{PatientID: uuid.New(), BedID: beds[0].ID})
	require.ErrorIs(t, err, ward.ErrBedUnavailable)

	n, err := f.store.Allocations().CountByBed(context.Background(), beds[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAdmit_UnknownBed(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Admit(as(auth.RoleStaff), AdmitRequest{PatientID: uuid.New(), BedID: uuid.New()})
	assert.ErrorIs(t, err, ward.ErrBedNotFound)
}

func TestAdmit_BillingFailureRollsBackEverything(t *testing.T) {
	boom := apperrors.Internal("insert bill", errors.New("connection reset"))
	f := newFixture(t, func(b Billing) Billing { return failingBilling{Billing: b, err: boom} })
	_, beds := f.ward(t, "General", 1)
	pid := uuid.New()
	appt := &scheduling.Appointment{PatientID: pid}
	require.NoError(t, f.appts.CreateAppointment(context.Background(), appt))

	_, err := f.svc.Admit(as(auth.RoleReceptionist), AdmitRequest{PatientID: pid, BedID: beds[0].ID, AppointmentID: &appt.ID})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, ward.BedFree, f.bed(t, beds[0].ID).Status)
	n, err := f.store.Allocations().CountByBed(context.Background(), beds[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	got, err := f.appts.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusScheduled, got.Status)
	assert.Empty(t, f.messages(), "no notification for a rolled back admission")
}

func TestAdmit_UnknownAppointmentStillAdmits(t *testing.T) {
	f := newFixture(t, nil)
	_, beds := f.ward(t, "General", 1)
	missing := uuid.New()

	res, err := f.svc.Admit(as(auth.RoleStaff), AdmitRequest{PatientID: uuid.New(), BedID: beds[0].ID, AppointmentID: &missing})
	require.NoError(t, err)
	assert.Equal(t, ward.BedOccupied, f.bed(t, beds[0].ID).Status)
	assert.Equal(t, allocation.StatusActive, res.Allocation.Status)
	assert.Equal(t, 500.0, res.Bill.TotalAmount)
	assert.Nil(t, res.Bill.AppointmentID)
}

func TestAdmit_Validation(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Admit(as(auth.RoleStaff), AdmitRequest{BedID: uuid.New()})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	_, err = f.svc.Admit(as(auth.RoleStaff), AdmitRequest{PatientID: uuid.New()})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestAllocate_OpensRunningBillOnce(t *testing.T) {
	f := newFixture(t, nil)
	_, beds := f.ward(t, "General", 2)
	pid := uuid.New()

	first, err := f.svc.Allocate(as(auth.RoleReceptionist), AllocateRequest{PatientID: pid, BedID: beds[0].ID})
	require.NoError(t, err)
	assert.True(t, first.BillOpened)
	assert.Equal(t, billing.KindInpatient, first.Bill.Kind)
	assert.Equal(t, 0.0, first.Bill.TotalAmount)
	assert.Nil(t, first.Allocation.ExpectedRelease)

	second, err := f.svc.Allocate(as(auth.RoleReceptionist), AllocateRequest{PatientID: pid, BedID: beds[1].ID})
	require.NoError(t, err)
	assert.False(t, second.BillOpened)
	assert.Equal(t, first.Bill.ID, second.Bill.ID)
}

func TestAllocate_ConcurrentRequestsForOneBed(t *testing.T) {
	f := newFixture(t, nil)
	_, beds := f.ward(t, "General", 1)

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Allocate(as(auth.RoleReceptionist), AllocateRequest{PatientID: uuid.New(), BedID: beds[0].ID})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ward.ErrBedUnavailable)
	}
	assert.Equal(t, 1, wins)

	count, err := f.store.Allocations().CountByBed(context.Background(), beds[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, f.messages(), 1)
}

func TestMove_KeepsAllocationIdentity(t *testing.T) {
	f := newFixture(t, nil)
	_, general := f.ward(t, "General", 1)
	_, surgery := f.ward(t, "Surgery", 1)
	pid := uuid.New()
	alloc, err := f.svc.Allocate(as(auth.RoleReceptionist), AllocateRequest{PatientID: pid, BedID: general[0].ID})
	require.NoError(t, err)

	res, err := f.svc.Move(as(auth.RoleStaff), MoveRequest{SourceBedID: general[0].ID, TargetBedID: surgery[0].ID})
	require.NoError(t, err)
	assert.Equal(t, alloc.Allocation.ID, res.Allocation.ID)
	assert.Equal(t, surgery[0].ID, res.Allocation.BedID)
	assert.False(t, res.ICUTransfer)

	assert.Equal(t, ward.BedFree, f.bed(t, general[0].ID).Status)
	assert.Equal(t, ward.BedOccupied, f.bed(t, surgery[0].ID).Status)

	active, err := f.store.Allocations().FindActiveByBed(context.Background(), surgery[0].ID)
	require.NoError(t, err)
	assert.Equal(t, alloc.Allocation.ID, active.ID)
	_, err = f.store.Allocations().FindActiveByBed(context.Background(), general[0].ID)
	assert.ErrorIs(t, err, allocation.ErrNoActiveAllocation)

	hist, total, err := f.svc.History(context.Background(), pid, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total, "move does not create a ledger entry")
	assert.Equal(t, "Surgery", hist[0].WardName)
}

func TestMove_IntoICUNotifies(t *testing.T) {
	f := newFixture(t, nil)
	_, general := f.ward(t, "General", 1)
	_, icu := f.ward(t, "Medical icu", 1)
	pid := uuid.New()
	_, err := f.svc.Allocate(as(auth.RoleReceptionist), AllocateRequest{PatientID: pid, BedID: general[0].ID})
	require.NoError(t, err)

	res, err := f.svc.Move(as(auth.RoleStaff), MoveRequest{SourceBedID: general[0].ID, TargetBedID: icu[0].ID})
	require.NoError(t, err)
	assert.True(t, res.ICUTransfer)

	msgs := f.messages()
	require.Len(t, msgs, 2)
	kinds := []notification.Kind{msgs[0].Kind, msgs[1].Kind}
	assert.Contains(t, kinds, notification.KindICUTransfer)
}

func TestMove_PreconditionsLeaveStateUntouched(t *testing.T) {
	f := newFixture(t, nil)
	_, beds := f.ward(t, "General", 3)
	ctx := as(auth.RoleStaff)
	occupied, free, ghost := beds[0], beds[1], beds[2]
	_, err := f.svc.Allocate(as(auth.RoleReceptionist), AllocateRequest{PatientID: uuid.New(), BedID: occupied.ID})
	require.NoError(t, err)
	// Marked occupied by hand, no allocation behind it.
	status := ward.BedOccupied
	_, err = f.svc.UpdateBed(ctx, ghost.ID, ward.BedPatch{Status: &status})
	require.NoError(t, err)

	_, err = f.svc.Move(ctx, MoveRequest{SourceBedID: free.ID, TargetBedID: occupied.ID})
	assert.ErrorIs(t, err, ward.ErrBedNotOccupied)

	_, err = f.svc.Move(ctx, MoveRequest{SourceBedID: occupied.ID, TargetBedID: ghost.ID})
	assert.ErrorIs(t, err, ward.ErrBedUnavailable)

	_, err = f.svc.Move(ctx, MoveRequest{SourceBedID: ghost.ID, TargetBedID: free.ID})
	assert.ErrorIs(t, err, allocation.ErrNoActiveAllocation)

	_, err = f.svc.Move(ctx, MoveRequest{SourceBedID: occupied.ID, TargetBedID: occupied.ID})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = f.svc.Move(ctx, MoveRequest{SourceBedID: occupied.ID, TargetBedID: uuid.New()})
	assert.ErrorIs(t, err, ward.ErrBedNotFound)

	assert.Equal(t, ward.BedOccupied, f.bed(t, occupied.ID).Status)
	assert.Equal(t, ward.BedFree, f.bed(t, free.ID).Status)
	assert.Equal(t, ward.BedOccupied, f.bed(t, ghost.ID).Status)
	_, err = f.store.Allocations().FindActiveByBed(context.Background(), occupied.ID)
	assert.NoError(t, err)
}

func TestMove_TargetEditedFreeKeepsItsAllocation(t *testing.T) {
	f := newFixture(t, nil)
	_, beds := f.ward(t, "General", 2)
	source, target := beds[0], beds[1]
	first, err := f.svc.Allocate(as(auth.RoleReceptionist), AllocateRequest{PatientID: uuid.New(), BedID: target.ID})
	require.NoError(t, err)
	free := ward.BedFree
	_, err = f.svc.UpdateBed(as(auth.RoleStaff), target.ID, ward.BedPatch{Status: &free})
	require.NoError(t, err)
	second, err := f.svc.Allocate(as(auth.RoleReceptionist), AllocateRequest{PatientID: uuid.New(), BedID: source.ID})
	require.NoError(t, err)

	_, err = f.svc.Move(as(auth.RoleStaff), MoveRequest{SourceBedID: source.ID, TargetBedID: target.ID})
	require.ErrorIs(t, err, ward.ErrBedUnavailable)
	assert.Equal(t, apperrors.KindPrecondition, apperrors.KindOf(err))

	assert.Equal(t, ward.BedOccupied, f.bed(t, source.ID).Status)
	assert.Equal(t, ward.BedFree, f.bed(t, target.ID).Status)
	onTarget, err := f.store.Allocations().FindActiveByBed(context.Background(), target.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Allocation.ID, onTarget.ID)
	onSource, err := f.store.Allocations().FindActiveByBed(context.Background(), source.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Allocation.ID, onSource.ID)
}

func TestRelease(t *testing.T) {
	f := newFixture(t, nil)
	_, beds := f.ward(t, "General", 1)
	pid := uuid.New()
	alloc, err := f.svc.Allocate(as(auth.RoleReceptionist), AllocateRequest{PatientID: pid, BedID: beds[0].ID})
	require.NoError(t, err)

	total := 1250.0
	res, err := f.svc.Release(as(auth.RoleReceptionist), ReleaseRequest{BedID: beds[0].ID, PatientID: &pid, TotalAmount: &total})
	require.NoError(t, err)
	assert.True(t, res.LedgerUpdated)
	require.NotNil(t, res.Bill)
	assert.Equal(t, alloc.Bill.ID, res.Bill.ID)
	assert.Equal(t, 1250.0, res.Bill.TotalAmount)
	assert.Equal(t, billing.PaymentPending, res.Bill.PaymentStatus)

	assert.Equal(t, ward.BedFree, f.bed(t, beds[0].ID).Status)
	hist, _, err := f.svc.BedHistory(context.Background(), beds[0].ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, allocation.StatusReleased, hist[0].Status)
	require.NotNil(t, hist[0].ReleasedAt)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), *hist[0].ReleasedAt)

	_, err = f.svc.CurrentBed(context.Background(), pid)
	assert.ErrorIs(t, err, allocation.ErrNoCurrentBed)

	var kinds []notification.Kind
	for _, m := range f.messages() {
		kinds = append(kinds, m.Kind)
	}
	assert.ElementsMatch(t, []notification.Kind{
		notification.KindAdmissionConfirmation,
		notification.KindDischargeSummary,
		notification.KindInvoiceGenerated,
	}, kinds)
}

func TestRelease_WithoutPatientLeavesBillRunning(t *testing.T) {
	f := newFixture(t, nil)
	_, beds := f.ward(t, "General", 1)
	pid := uuid.New()
	_, err := f.svc.Allocate(as(auth.RoleReceptionist), AllocateRequest{PatientID: pid, BedID: beds[0].ID})
	require.NoError(t, err)

	res, err := f.svc.Release(as(auth.RoleAdmin), ReleaseRequest{BedID: beds[0].ID})
	require.NoError(t, err)
	assert.True(t, res.LedgerUpdated)
	assert.Nil(t, res.Bill)

	_, err = f.store.Bills().FindRunning(context.Background(), pid)
	assert.NoError(t, err)

	var kinds []notification.Kind
	for _, m := range f.messages() {
		kinds = append(kinds, m.Kind)
	}
	assert.Contains(t, kinds, notification.KindDischargeSummary)
	assert.NotContains(t, kinds, notification.KindInvoiceGenerated)
}

func TestRelease_NoActiveAllocationStillFreesBed(t *testing.T) {
	f := newFixture(t, nil)
	_, beds := f.ward(t, "General", 1)
	status := ward.BedOccupied
	_, err := f.svc.UpdateBed(as(auth.RoleAdmin), beds[0].ID, ward.BedPatch{Status: &status})
	require.NoError(t, err)

	res, err := f.svc.Release(as(auth.RoleReceptionist), ReleaseRequest{BedID: beds[0].ID})
	require.NoError(t, err)
	assert.False(t, res.LedgerUpdated)
	assert.Equal(t, ward.BedFree, f.bed(t, beds[0].ID).Status)

	n, err := f.store.Allocations().CountByBed(context.Background(), beds[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, f.messages())
}

func TestRelease_PatientMismatch(t *testing.T) {
	f := newFixture(t, nil)
	_, beds := f.ward(t, "General", 1)
	_, err := f.svc.Allocate(as(auth.RoleReceptionist), AllocateRequest{PatientID: uuid.New(), BedID: beds[0].ID})
	require.NoError(t, err)

	other := uuid.New()
	total := 10.0
	_, err = f.svc.Release(as(auth.RoleReceptionist), ReleaseRequest{BedID: beds[0].ID, PatientID: &other, TotalAmount: &total})
	require.ErrorIs(t, err, ErrPatientMismatch)
	assert.Equal(t, ward.BedOccupied, f.bed(t, beds[0].ID).Status)
}

func TestRelease_RequiresTotalWithPatient(t *testing.T) {
	f := newFixture(t, nil)
	pid := uuid.New()
	_, err := f.svc.Release(as(auth.RoleReceptionist), ReleaseRequest{BedID: uuid.New(), PatientID: &pid})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestRoles_RejectedBeforeAnyWrite(t *testing.T) {
	f := newFixture(t, nil)
	_, beds := f.ward(t, "General", 2)
	pid := uuid.New()

	_, err := f.svc.Admit(as(auth.RolePatient), AdmitRequest{PatientID: pid, BedID: beds[0].ID})
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	_, err = f.svc.Allocate(as(auth.RoleDoctor), AllocateRequest{PatientID: pid, BedID: beds[0].ID})
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	_, err = f.svc.Allocate(as(auth.RoleAdmin), AllocateRequest{PatientID: pid, BedID: beds[0].ID})
	require.NoError(t, err)

	_, err = f.svc.Move(as(auth.RoleReceptionist), MoveRequest{SourceBedID: beds[0].ID, TargetBedID: beds[1].ID})
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	_, err = f.svc.Release(as(auth.RoleStaff), ReleaseRequest{BedID: beds[0].ID})
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	_, err = f.svc.Release(context.Background(), ReleaseRequest{BedID: beds[0].ID})
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err), "anonymous callers are rejected")

	status := ward.BedFree
	_, err = f.svc.UpdateBed(as(auth.RoleDoctor), beds[0].ID, ward.BedPatch{Status: &status})
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	assert.Equal(t, ward.BedOccupied, f.bed(t, beds[0].ID).Status)
	assert.Equal(t, ward.BedFree, f.bed(t, beds[1].ID).Status)
}

func TestCapacity_ConcurrentAddBed(t *testing.T) {
	f := newFixture(t, nil)
	w, err := f.wards.CreateWard(as(auth.RoleAdmin), "Overflow", 5)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	exceeded := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.wards.AddBed(as(auth.RoleAdmin), w.ID, fmt.Sprintf("O-%02d", i))
			if errors.Is(err, ward.ErrCapacityExceeded) {
				mu.Lock()
				exceeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	n, err := f.store.Wards().CountBeds(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 7, exceeded)
}

func TestCapacity_TenthBedFitsEleventhDoesNot(t *testing.T) {
	f := newFixture(t, nil)
	w, beds := f.ward(t, "General", 10)
	assert.Len(t, beds, 10)

	_, err := f.wards.AddBed(as(auth.RoleAdmin), w.ID, "G-11")
	assert.ErrorIs(t, err, ward.ErrCapacityExceeded)
}

func TestDeleteBed_AfterAdmissionHasHistory(t *testing.T) {
	f := newFixture(t, nil)
	_, beds := f.ward(t, "General", 1)
	_, err := f.svc.Allocate(as(auth.RoleReceptionist), AllocateRequest{PatientID: uuid.New(), BedID: beds[0].ID})
	require.NoError(t, err)

	assert.ErrorIs(t, f.wards.DeleteBed(as(auth.RoleAdmin), beds[0].ID), ward.ErrBedOccupied)
	_, err = f.svc.Release(as(auth.RoleReceptionist), ReleaseRequest{BedID: beds[0].ID})
	require.NoError(t, err)
	assert.ErrorIs(t, f.wards.DeleteBed(as(auth.RoleAdmin), beds[0].ID), ward.ErrHasHistory)
}

func TestObserver_RecordsOutcomes(t *testing.T) {
	f := newFixture(t, nil)
	_, beds := f.ward(t, "General", 1)

	_, err := f.svc.Allocate(as(auth.RoleReceptionist), AllocateRequest{PatientID: uuid.New(), BedID: beds[0].ID})
	require.NoError(t, err)
	_, err = f.svc.Allocate(as(auth.RoleReceptionist), AllocateRequest{PatientID: uuid.New(), BedID: beds[0].ID})
	require.Error(t, err)

	require.Len(t, f.observer.ops, 2)
	assert.Equal(t, string(auth.OpAllocate), f.observer.ops[0])
	assert.NoError(t, f.observer.errs[0])
	assert.ErrorIs(t, f.observer.errs[1], ward.ErrBedUnavailable)
}

func TestBedHistory_UnknownBed(t *testing.T) {
	f := newFixture(t, nil)
	_, _, err := f.svc.BedHistory(context.Background(), uuid.New(), 10, 0)
	assert.ErrorIs(t, err, ward.ErrBedNotFound)
}
