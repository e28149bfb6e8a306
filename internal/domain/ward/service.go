package ward

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/medisphere/medisphere/internal/platform/auth"
	"github.com/medisphere/medisphere/pkg/apperrors"
)

// Column widths of ward.name and bed.bed_number.
const (
	MaxWardNameLen  = 100
	MaxBedNumberLen = 20
)

// Service implements the ward registry and the administrative side of the
// bed pool. Occupancy changes driven by admissions live in the admission
// package.
type Service struct {
	repo    Repository
	history HistoryCounter
	tx      TxRunner
	policy  auth.Policy
}

func NewService(repo Repository, history HistoryCounter, tx TxRunner, policy auth.Policy) *Service {
	return &Service{repo: repo, history: history, tx: tx, policy: policy}
}

// Repo exposes the bed pool to the admission workflow.
func (s *Service) Repo() Repository {
	return s.repo
}

func (s *Service) CreateWard(ctx context.Context, name string, capacity int) (*Ward, error) {
	if err := s.policy.Authorize(ctx, auth.OpCreateWard); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Validation("name is required")
	}
	if utf8.RuneCountInString(name) > MaxWardNameLen {
		return nil, apperrors.Validationf("name must be at most %d characters", MaxWardNameLen)
	}
	if capacity <= 0 {
		return nil, apperrors.Validation("capacity must be a positive integer")
	}
	w := &Ward{Name: name, Capacity: capacity}
	if err := s.repo.CreateWard(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// AddBed inserts a Free bed into a ward. The ward row is locked for the
// duration of the count so concurrent additions cannot overshoot capacity.
func (s *Service) AddBed(ctx context.Context, wardID uuid.UUID, bedNumber string) (*Bed, error) {
	if err := s.policy.Authorize(ctx, auth.OpAddBed); err != nil {
		return nil, err
	}
	bedNumber = strings.TrimSpace(bedNumber)
	if bedNumber == "" {
		return nil, apperrors.Validation("bed_number is required")
	}
	if err := checkBedNumberLen(bedNumber); err != nil {
		return nil, err
	}

	var bed *Bed
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		w, err := s.repo.LockWard(ctx, wardID)
		if err != nil {
			return err
		}
		n, err := s.repo.CountBeds(ctx, w.ID)
		if err != nil {
			return err
		}
		if n >= w.Capacity {
			return ErrCapacityExceeded
		}
		bed = &Bed{WardID: w.ID, BedNumber: bedNumber, Status: BedFree}
		return s.repo.CreateBed(ctx, bed)
	})
	if err != nil {
		return nil, err
	}
	return bed, nil
}

func (s *Service) ListWards(ctx context.Context) ([]*WardSummary, error) {
	return s.repo.ListWards(ctx)
}

func (s *Service) GetWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	return s.repo.GetWard(ctx, id)
}

func (s *Service) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return s.repo.GetBed(ctx, id)
}

func (s *Service) ListFreeBeds(ctx context.Context) ([]*FreeBed, error) {
	return s.repo.ListFreeBeds(ctx)
}

func (s *Service) ListBedsByWard(ctx context.Context, wardID uuid.UUID) ([]*BedView, error) {
	if _, err := s.repo.GetWard(ctx, wardID); err != nil {
		return nil, err
	}
	return s.repo.ListBedsByWard(ctx, wardID)
}

// DeleteBed removes a bed that is Free and was never allocated.
func (s *Service) DeleteBed(ctx context.Context, id uuid.UUID) error {
	if err := s.policy.Authorize(ctx, auth.OpDeleteBed); err != nil {
		return err
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.LockBed(ctx, id)
		if err != nil {
			return err
		}
		if b.Status == BedOccupied {
			return ErrBedOccupied
		}
		n, err := s.history.CountByBed(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrHasHistory
		}
		return s.repo.DeleteBed(ctx, id)
	})
}

// UpdateBed applies an administrative edit. It does not touch the allocation
// ledger.
func (s *Service) UpdateBed(ctx context.Context, id uuid.UUID, patch BedPatch) (*Bed, error) {
	if err := s.policy.Authorize(ctx, auth.OpUpdateBed); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return nil, apperrors.Validation("nothing to update")
	}
	if patch.BedNumber != nil {
		n := strings.TrimSpace(*patch.BedNumber)
		if n == "" {
			return nil, apperrors.Validation("bed_number cannot be empty")
		}
		if err := checkBedNumberLen(n); err != nil {
			return nil, err
		}
		patch.BedNumber = &n
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, apperrors.Validationf("invalid status: %s", *patch.Status)
	}
	return s.repo.UpdateBed(ctx, id, patch)
}

func checkBedNumberLen(n string) error {
	if utf8.RuneCountInString(n) > MaxBedNumberLen {
		return apperrors.Validationf("bed_number must be at most %d characters", MaxBedNumberLen)
	}
	return nil
}
