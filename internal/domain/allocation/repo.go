package allocation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the allocation ledger.
type Repository interface {
	Record(ctx context.Context, a *Allocation) error
	FindActiveByBed(ctx context.Context, bedID uuid.UUID) (*Allocation, error)
	RepointBed(ctx context.Context, id, newBedID uuid.UUID) error
	// MarkReleased releases the active allocation of a bed and returns the
	// number of rows changed, 0 when the bed had none.
	MarkReleased(ctx context.Context, bedID uuid.UUID, at time.Time) (int64, error)
	FindCurrentForPatient(ctx context.Context, patientID uuid.UUID) (*Placement, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Placement, int, error)
	ListByBed(ctx context.Context, bedID uuid.UUID, limit, offset int) ([]*Allocation, int, error)
	CountByBed(ctx context.Context, bedID uuid.UUID) (int, error)
}
