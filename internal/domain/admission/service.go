// Package admission places patients in beds and takes them out again. Each
// state change runs inside one transaction.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medisphere/medisphere/internal/domain/allocation"
	"github.com/medisphere/medisphere/internal/domain/billing"
	"github.com/medisphere/medisphere/internal/domain/scheduling"
	"github.com/medisphere/medisphere/internal/domain/ward"
	"github.com/medisphere/medisphere/internal/platform/auth"
	"github.com/medisphere/medisphere/internal/platform/db"
	"github.com/medisphere/medisphere/internal/platform/notification"
	"github.com/medisphere/medisphere/internal/platform/telemetry"
	"github.com/medisphere/medisphere/pkg/apperrors"
)

const (
	DefaultAdmissionCharge  = 500.00
	DefaultAdmitHorizonDays = 7
)

// Billing is the subset of the billing service the workflow drives.
type Billing interface {
	CreateAdmissionBill(ctx context.Context, patientID uuid.UUID, appointmentID *uuid.UUID, amount float64) (*billing.Bill, error)
	OpenInpatientBill(ctx context.Context, patientID uuid.UUID) (*billing.Bill, bool, error)
	FinalizeInpatientBill(ctx context.Context, patientID uuid.UUID, total float64) (*billing.Bill, error)
}

// Appointments completes the appointment a patient is admitted from.
type Appointments interface {
	MarkAdmitted(ctx context.Context, id uuid.UUID) error
}

// Notifier delivers events after commit. It must not block.
type Notifier interface {
	Dispatch(ctx context.Context, ev notification.Event)
}

// Observer records the outcome of each operation.
type Observer interface {
	ObserveOperation(op string, start time.Time, err error)
}

type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Config struct {
	AdmissionCharge  float64
	AdmitHorizonDays int
}

type Service struct {
	wards    *ward.Service
	beds     ward.Repository
	ledger   allocation.Repository
	billing  Billing
	appts    Appointments
	tx       TxRunner
	policy   auth.Policy
	logger   zerolog.Logger
	cfg      Config
	notifier Notifier
	metrics  Observer
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.metrics = o }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		if cfg.AdmissionCharge > 0 {
			s.cfg.AdmissionCharge = cfg.AdmissionCharge
		}
		if cfg.AdmitHorizonDays > 0 {
			s.cfg.AdmitHorizonDays = cfg.AdmitHorizonDays
		}
	}
}

func NewService(wards *ward.Service, ledger allocation.Repository, bills Billing, appts Appointments,
	tx TxRunner, policy auth.Policy, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		wards:    wards,
		beds:     wards.Repo(),
		ledger:   ledger,
		billing:  bills,
		appts:    appts,
		tx:       tx,
		policy:   policy,
		logger:   logger.With().Str("component", "admission").Logger(),
		cfg:      Config{AdmissionCharge: DefaultAdmissionCharge, AdmitHorizonDays: DefaultAdmitHorizonDays},
		notifier: nopNotifier{},
		metrics:  nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type nopNotifier struct{}

func (nopNotifier) Dispatch(context.Context, notification.Event) {}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, time.Time, error) {}

var ErrPatientMismatch = apperrors.Precondition("patient_mismatch", "bed is allocated to a different patient")

type AdmitRequest struct {
	PatientID     uuid.UUID  `json:"patient_id"`
	BedID         uuid.UUID  `json:"bed_id"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

type AdmitResult struct {
	Allocation *allocation.Allocation `json:"allocation"`
	Bill       *billing.Bill          `json:"bill"`
}

type AllocateRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	BedID     uuid.UUID `json:"bed_id"`
}

type AllocateResult struct {
	Allocation *allocation.Allocation `json:"allocation"`
	// Bill is the patient's running inpatient bill, newly opened when
	// BillOpened is set.
	Bill       *billing.Bill `json:"bill"`
	BillOpened bool          `json:"bill_opened"`
}

type MoveRequest struct {
	SourceBedID uuid.UUID `json:"source_bed_id"`
	TargetBedID uuid.UUID `json:"target_bed_id"`
}

type MoveResult struct {
	Allocation  *allocation.Allocation `json:"allocation"`
	ICUTransfer bool                   `json:"icu_transfer"`
}

type ReleaseRequest struct {
	BedID       uuid.UUID  `json:"bed_id"`
	PatientID   *uuid.UUID `json:"patient_id,omitempty"`
	TotalAmount *float64   `json:"total_amount,omitempty"`
}

type ReleaseResult struct {
	BedID uuid.UUID `json:"bed_id"`
	// LedgerUpdated is false when the bed had no active allocation. The bed
	// is freed either way.
	LedgerUpdated bool          `json:"ledger_updated"`
	Bill          *billing.Bill `json:"bill,omitempty"`
}

// execute authorizes op and runs fn under a span, recording the outcome.
func (s *Service) execute(ctx context.Context, op auth.Operation, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) (err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, string(op), attrs...)
	defer func() {
		telemetry.EndSpan(span, err)
		s.metrics.ObserveOperation(string(op), start, err)
		if err != nil {
			ev := s.logger.Warn()
			if apperrors.KindOf(err) == apperrors.KindInternal {
				ev = s.logger.Error()
			}
			ev.Err(err).Str("operation", string(op)).Str("user_id", auth.UserIDFromContext(ctx)).Msg("operation failed")
		}
	}()

	if err = s.policy.Authorize(ctx, op); err != nil {
		return err
	}
	return fn(ctx)
}

func (s *Service) today() time.Time {
	return allocation.Day(s.now())
}

// occupy claims a Free bed. A bed that is missing reports not-found rather
// than unavailable.
func (s *Service) occupy(ctx context.Context, bedID uuid.UUID) (*ward.Bed, error) {
	ok, err := s.beds.TryOccupy(ctx, bedID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.beds.GetBed(ctx, bedID); err != nil {
			return nil, err
		}
		return nil, ward.ErrBedUnavailable
	}
	return s.beds.GetBed(ctx, bedID)
}

// Admit occupies a bed, records an allocation with an expected release date,
// completes the originating appointment and raises the admission charge.
func (s *Service) Admit(ctx context.Context, req AdmitRequest) (*AdmitResult, error) {
	var res AdmitResult
	var placement notification.Event
	err := s.execute(ctx, auth.OpAdmit, func(ctx context.Context) error {
		if req.PatientID == uuid.Nil {
			return apperrors.Validation("patient_id is required")
		}
		if req.BedID == uuid.Nil {
			return apperrors.Validation("bed_id is required")
		}
		return s.tx.InTx(ctx, func(ctx context.Context) error {
			bed, err := s.occupy(ctx, req.BedID)
			if err != nil {
				return err
			}
			today := s.today()
			expected := today.AddDate(0, 0, s.cfg.AdmitHorizonDays)
			a := &allocation.Allocation{
				BedID:           bed.ID,
				PatientID:       req.PatientID,
				Status:          allocation.StatusActive,
				AllocatedAt:     today,
				ExpectedRelease: &expected,
			}
			if err := s.ledger.Record(ctx, a); err != nil {
				return err
			}
			apptID := req.AppointmentID
			if apptID != nil {
				err := s.appts.MarkAdmitted(ctx, *apptID)
				switch {
				case errors.Is(err, scheduling.ErrAppointmentNotFound):
					s.logger.Warn().
						Str("appointment_id", apptID.String()).
						Str("patient_id", req.PatientID.String()).
						Msg("appointment not found, admitting without it")
					apptID = nil
				case err != nil:
					return err
				}
			}
			bill, err := s.billing.CreateAdmissionBill(ctx, req.PatientID, apptID, s.cfg.AdmissionCharge)
			if err != nil {
				return err
			}
			res.Allocation, res.Bill = a, bill
			placement, err = s.placementEvent(ctx, notification.KindAdmissionConfirmation, req.PatientID, bed)
			return err
		})
	}, attribute.String("patient_id", req.PatientID.String()), attribute.String("bed_id", req.BedID.String()))
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("allocation_id", res.Allocation.ID.String()).
		Str("patient_id", req.PatientID.String()).
		Str("bed_id", req.BedID.String()).
		Str("bill_id", res.Bill.ID.String()).
		Msg("patient admitted")
	s.notifier.Dispatch(ctx, placement)
	return &res, nil
}

// Allocate occupies a bed for a patient and makes sure the patient has a
// running inpatient bill.
func (s *Service) Allocate(ctx context.Context, req AllocateRequest) (*AllocateResult, error) {
	var res AllocateResult
	var placement notification.Event
	err := s.execute(ctx, auth.OpAllocate, func(ctx context.Context) error {
		if req.PatientID == uuid.Nil {
			return apperrors.Validation("patient_id is required")
		}
		if req.BedID == uuid.Nil {
			return apperrors.Validation("bed_id is required")
		}
		return s.tx.InTx(ctx, func(ctx context.Context) error {
			bed, err := s.occupy(ctx, req.BedID)
			if err != nil {
				return err
			}
			a := &allocation.Allocation{
				BedID:       bed.ID,
				PatientID:   req.PatientID,
				Status:      allocation.StatusActive,
				AllocatedAt: s.today(),
			}
			if err := s.ledger.Record(ctx, a); err != nil {
				return err
			}
			bill, opened, err := s.billing.OpenInpatientBill(ctx, req.PatientID)
			if err != nil {
				return err
			}
			res.Allocation, res.Bill, res.BillOpened = a, bill, opened
			placement, err = s.placementEvent(ctx, notification.KindAdmissionConfirmation, req.PatientID, bed)
			return err
		})
	}, attribute.String("patient_id", req.PatientID.String()), attribute.String("bed_id", req.BedID.String()))
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("allocation_id", res.Allocation.ID.String()).
		Str("patient_id", req.PatientID.String()).
		Str("bed_id", req.BedID.String()).
		Bool("bill_opened", res.BillOpened).
		Msg("bed allocated")
	s.notifier.Dispatch(ctx, placement)
	return &res, nil
}

// lockPair locks two beds in a fixed order so concurrent moves over the same
// pair cannot deadlock.
func (s *Service) lockPair(ctx context.Context, a, b uuid.UUID) (*ward.Bed, *ward.Bed, error) {
	first, second := a, b
	if strings.Compare(b.String(), a.String()) < 0 {
		first, second = b, a
	}
	fb, err := s.beds.LockBed(ctx, first)
	if err != nil {
		return nil, nil, err
	}
	sb, err := s.beds.LockBed(ctx, second)
	if err != nil {
		return nil, nil, err
	}
	if first == a {
		return fb, sb, nil
	}
	return sb, fb, nil
}

// Move transfers the active allocation of source onto target. All
// preconditions are checked before anything is written, and the allocation
// keeps its identity.
func (s *Service) Move(ctx context.Context, req MoveRequest) (*MoveResult, error) {
	var res MoveResult
	var transfer notification.Event
	err := s.execute(ctx, auth.OpMove, func(ctx context.Context) error {
		if req.SourceBedID == uuid.Nil || req.TargetBedID == uuid.Nil {
			return apperrors.Validation("source_bed_id and target_bed_id are required")
		}
		if req.SourceBedID == req.TargetBedID {
			return apperrors.Validation("source and target bed must differ")
		}
		return s.tx.InTx(ctx, func(ctx context.Context) error {
			src, dst, err := s.lockPair(ctx, req.SourceBedID, req.TargetBedID)
			if err != nil {
				return err
			}
			if src.Status != ward.BedOccupied {
				return ward.ErrBedNotOccupied.WithMessage("source bed is not occupied")
			}
			if dst.Status != ward.BedFree {
				return ward.ErrBedUnavailable.WithMessage("target bed is not free")
			}
			a, err := s.ledger.FindActiveByBed(ctx, src.ID)
			if err != nil {
				return err
			}
			// A bed edited back to Free can still hold an active allocation.
			switch _, err := s.ledger.FindActiveByBed(ctx, dst.ID); {
			case err == nil:
				return ward.ErrBedUnavailable.WithMessage("target bed still has an active allocation")
			case !errors.Is(err, allocation.ErrNoActiveAllocation):
				return err
			}

			if err := s.beds.SetFree(ctx, src.ID); err != nil {
				return err
			}
			if err := s.beds.SetOccupied(ctx, dst.ID); err != nil {
				return err
			}
			if err := s.ledger.RepointBed(ctx, a.ID, dst.ID); err != nil {
				return err
			}
			a.BedID = dst.ID

			w, err := s.beds.GetWard(ctx, dst.WardID)
			if err != nil {
				return err
			}
			res.Allocation = a
			res.ICUTransfer = isICU(w.Name)
			if res.ICUTransfer {
				transfer = s.event(ctx, notification.KindICUTransfer, a.PatientID, map[string]string{
					"ward": w.Name,
					"bed":  dst.BedNumber,
				})
			}
			return nil
		})
	}, attribute.String("source_bed_id", req.SourceBedID.String()), attribute.String("target_bed_id", req.TargetBedID.String()))
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("allocation_id", res.Allocation.ID.String()).
		Str("source_bed_id", req.SourceBedID.String()).
		Str("target_bed_id", req.TargetBedID.String()).
		Bool("icu_transfer", res.ICUTransfer).
		Msg("patient moved")
	if res.ICUTransfer {
		s.notifier.Dispatch(ctx, transfer)
	}
	return &res, nil
}

// Release frees a bed and closes its active allocation. A bed without an
// active allocation is still freed; LedgerUpdated reports which case applied.
// When a patient is named, their running inpatient bill is finalized with the
// given total.
func (s *Service) Release(ctx context.Context, req ReleaseRequest) (*ReleaseResult, error) {
	res := ReleaseResult{BedID: req.BedID}
	var events []notification.Event
	err := s.execute(ctx, auth.OpRelease, func(ctx context.Context) error {
		if req.BedID == uuid.Nil {
			return apperrors.Validation("bed_id is required")
		}
		if req.PatientID != nil && req.TotalAmount == nil {
			return apperrors.Validation("total_amount is required when patient_id is given")
		}
		return s.tx.InTx(ctx, func(ctx context.Context) error {
			bed, err := s.beds.LockBed(ctx, req.BedID)
			if err != nil {
				return err
			}
			active, err := s.ledger.FindActiveByBed(ctx, bed.ID)
			if err != nil && !errors.Is(err, allocation.ErrNoActiveAllocation) {
				return err
			}
			if active != nil && req.PatientID != nil && active.PatientID != *req.PatientID {
				return ErrPatientMismatch
			}

			if err := s.beds.SetFree(ctx, bed.ID); err != nil {
				return err
			}
			n, err := s.ledger.MarkReleased(ctx, bed.ID, s.today())
			if err != nil {
				return err
			}
			res.LedgerUpdated = n > 0

			var patientID uuid.UUID
			switch {
			case req.PatientID != nil:
				patientID = *req.PatientID
			case active != nil:
				patientID = active.PatientID
			}
			if req.PatientID != nil {
				bill, err := s.billing.FinalizeInpatientBill(ctx, *req.PatientID, *req.TotalAmount)
				if err != nil {
					return err
				}
				res.Bill = bill
			}
			if patientID == uuid.Nil {
				return nil
			}

			w, err := s.beds.GetWard(ctx, bed.WardID)
			if err != nil {
				return err
			}
			events = append(events, s.event(ctx, notification.KindDischargeSummary, patientID, map[string]string{
				"ward": w.Name,
				"bed":  bed.BedNumber,
			}))
			if res.Bill != nil {
				events = append(events, s.event(ctx, notification.KindInvoiceGenerated, patientID, map[string]string{
					"bill_id":        res.Bill.ID.String(),
					"amount":         fmt.Sprintf("%.2f", res.Bill.TotalAmount),
					"payment_status": string(res.Bill.PaymentStatus),
				}))
			}
			return nil
		})
	}, attribute.String("bed_id", req.BedID.String()))
	if err != nil {
		return nil, err
	}

	logEv := s.logger.Info().
		Str("bed_id", req.BedID.String()).
		Bool("ledger_updated", res.LedgerUpdated)
	if res.Bill != nil {
		logEv = logEv.Str("bill_id", res.Bill.ID.String())
	}
	logEv.Msg("bed released")
	if !res.LedgerUpdated {
		s.logger.Warn().Str("bed_id", req.BedID.String()).Msg("bed released without an active allocation")
	}
	for _, ev := range events {
		s.notifier.Dispatch(ctx, ev)
	}
	return &res, nil
}

// UpdateBed is the administrative bed edit. It bypasses the workflow and
// leaves the ledger untouched.
func (s *Service) UpdateBed(ctx context.Context, bedID uuid.UUID, patch ward.BedPatch) (*ward.Bed, error) {
	return s.wards.UpdateBed(ctx, bedID, patch)
}

func (s *Service) placementEvent(ctx context.Context, kind notification.Kind, patientID uuid.UUID, bed *ward.Bed) (notification.Event, error) {
	w, err := s.beds.GetWard(ctx, bed.WardID)
	if err != nil {
		return notification.Event{}, err
	}
	return s.event(ctx, kind, patientID, map[string]string{
		"ward": w.Name,
		"bed":  bed.BedNumber,
	}), nil
}

func (s *Service) event(ctx context.Context, kind notification.Kind, patientID uuid.UUID, data map[string]string) notification.Event {
	return notification.Event{
		Kind:       kind,
		TenantID:   db.TenantFromContext(ctx),
		PatientID:  patientID,
		Data:       data,
		OccurredAt: s.now().UTC(),
	}
}

func isICU(wardName string) bool {
	return strings.Contains(strings.ToUpper(wardName), "ICU")
}
