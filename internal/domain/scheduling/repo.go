package scheduling

import (
	"context"

	"github.com/google/uuid"
	"github.com/medisphere/medisphere/pkg/apperrors"
)

var ErrAppointmentNotFound = apperrors.NotFound("appointment_not_found", "appointment not found")

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Complete sets the status to Completed and appends suffix to the note.
	Complete(ctx context.Context, id uuid.UUID, suffix string) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
}
