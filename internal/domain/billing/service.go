package billing

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/medisphere/medisphere/pkg/apperrors"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func today(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func validAmount(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// CreateAdmissionBill raises the flat admission charge, dated today.
func (s *Service) CreateAdmissionBill(ctx context.Context, patientID uuid.UUID, appointmentID *uuid.UUID, amount float64) (*Bill, error) {
	if patientID == uuid.Nil {
		return nil, apperrors.Validation("patient_id is required")
	}
	if !validAmount(amount) {
		return nil, apperrors.Validation("amount must be a non-negative number")
	}
	paidOn := today(s.now())
	b := &Bill{
		PatientID:     patientID,
		AppointmentID: appointmentID,
		Kind:          KindAdmission,
		TotalAmount:   amount,
		PaymentStatus: PaymentPending,
		PaymentDate:   &paidOn,
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// OpenInpatientBill returns the patient's running bill, opening an empty one
// when none exists. The bool reports whether a bill was created.
func (s *Service) OpenInpatientBill(ctx context.Context, patientID uuid.UUID) (*Bill, bool, error) {
	b, err := s.repo.FindRunning(ctx, patientID)
	if err == nil {
		return b, false, nil
	}
	if !errors.Is(err, ErrBillNotFound) {
		return nil, false, err
	}
	b = &Bill{
		PatientID:     patientID,
		Kind:          KindInpatient,
		PaymentStatus: PaymentPending,
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// FinalizeInpatientBill closes the patient's running bill with the final
// total. It returns nil without error when the patient has no running bill.
func (s *Service) FinalizeInpatientBill(ctx context.Context, patientID uuid.UUID, total float64) (*Bill, error) {
	if !validAmount(total) {
		return nil, apperrors.Validation("total_amount must be a non-negative number")
	}
	b, err := s.repo.FindRunning(ctx, patientID)
	if errors.Is(err, ErrBillNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	status := StatusFor(b.PaidAmount, total)
	paidOn := today(s.now())
	if err := s.repo.Finalize(ctx, b.ID, total, status, paidOn); err != nil {
		return nil, err
	}
	b.TotalAmount = total
	b.PaymentStatus = status
	b.PaymentDate = &paidOn
	return b, nil
}

func (s *Service) ListBills(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Bill, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}
