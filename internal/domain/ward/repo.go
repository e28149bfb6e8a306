package ward

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists wards and beds. Lock* methods take row locks and must be
// called inside a transaction.
type Repository interface {
	CreateWard(ctx context.Context, w *Ward) error
	GetWard(ctx context.Context, id uuid.UUID) (*Ward, error)
	LockWard(ctx context.Context, id uuid.UUID) (*Ward, error)
	ListWards(ctx context.Context) ([]*WardSummary, error)
	CountBeds(ctx context.Context, wardID uuid.UUID) (int, error)

	CreateBed(ctx context.Context, b *Bed) error
	GetBed(ctx context.Context, id uuid.UUID) (*Bed, error)
	LockBed(ctx context.Context, id uuid.UUID) (*Bed, error)
	UpdateBed(ctx context.Context, id uuid.UUID, patch BedPatch) (*Bed, error)
	DeleteBed(ctx context.Context, id uuid.UUID) error

	// TryOccupy flips a Free bed to Occupied and reports whether it did.
	// Exactly one of several concurrent callers for the same bed wins.
	TryOccupy(ctx context.Context, id uuid.UUID) (bool, error)
	SetFree(ctx context.Context, id uuid.UUID) error
	SetOccupied(ctx context.Context, id uuid.UUID) error

	ListFreeBeds(ctx context.Context) ([]*FreeBed, error)
	ListBedsByWard(ctx context.Context, wardID uuid.UUID) ([]*BedView, error)
}

// HistoryCounter reports how many allocations ever referenced a bed.
type HistoryCounter interface {
	CountByBed(ctx context.Context, bedID uuid.UUID) (int, error)
}

// TxRunner runs fn as one atomic unit of work.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
