package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/medisphere/medisphere/pkg/apperrors"
)

var ErrBillNotFound = apperrors.NotFound("bill_not_found", "bill not found")

type Repository interface {
	Create(ctx context.Context, b *Bill) error
	// FindRunning returns the patient's open inpatient bill or ErrBillNotFound.
	FindRunning(ctx context.Context, patientID uuid.UUID) (*Bill, error)
	Finalize(ctx context.Context, id uuid.UUID, total float64, status PaymentStatus, paidOn time.Time) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Bill, int, error)
}
