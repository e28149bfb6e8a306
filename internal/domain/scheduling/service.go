package scheduling

import (
	"context"

	"github.com/google/uuid"

	"github.com/medisphere/medisphere/pkg/apperrors"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.PatientID == uuid.Nil {
		return apperrors.Validation("patient_id is required")
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	if !validStatuses[a.Status] {
		return apperrors.Validationf("invalid status: %s", a.Status)
	}
	return s.repo.Create(ctx, a)
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// MarkAdmitted completes the appointment a patient was admitted from.
func (s *Service) MarkAdmitted(ctx context.Context, id uuid.UUID) error {
	return s.repo.Complete(ctx, id, AdmittedNote)
}
