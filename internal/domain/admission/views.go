package admission

import (
	"context"

	"github.com/google/uuid"

	"github.com/medisphere/medisphere/internal/domain/allocation"
)

// CurrentBed returns where the patient is lying now.
func (s *Service) CurrentBed(ctx context.Context, patientID uuid.UUID) (*allocation.Placement, error) {
	return s.ledger.FindCurrentForPatient(ctx, patientID)
}

// History lists every stay of a patient, newest first.
func (s *Service) History(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*allocation.Placement, int, error) {
	return s.ledger.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) BedHistory(ctx context.Context, bedID uuid.UUID, limit, offset int) ([]*allocation.Allocation, int, error) {
	if _, err := s.beds.GetBed(ctx, bedID); err != nil {
		return nil, 0, err
	}
	return s.ledger.ListByBed(ctx, bedID, limit, offset)
}
