package allocation

import "github.com/medisphere/medisphere/pkg/apperrors"

var (
	ErrNoActiveAllocation = apperrors.Precondition("no_active_allocation", "bed has no active allocation")
	ErrAllocationNotFound = apperrors.NotFound("allocation_not_found", "allocation not found")
	ErrNoCurrentBed       = apperrors.NotFound("no_current_bed", "patient has no current bed")
)
