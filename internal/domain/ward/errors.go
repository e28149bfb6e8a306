package ward

import "github.com/medisphere/medisphere/pkg/apperrors"

var (
	ErrWardNotFound     = apperrors.NotFound("ward_not_found", "ward not found")
	ErrBedNotFound      = apperrors.NotFound("bed_not_found", "bed not found")
	ErrCapacityExceeded = apperrors.Precondition("capacity_exceeded", "ward is at capacity")
	ErrBedUnavailable   = apperrors.Precondition("bed_unavailable", "bed is not free")
	ErrBedNotOccupied   = apperrors.Precondition("bed_not_occupied", "bed is not occupied")
	ErrBedOccupied      = apperrors.Integrity("bed_occupied", "cannot delete an occupied bed; release or move the patient first")
	ErrHasHistory       = apperrors.Integrity("has_history", "cannot delete a bed with allocation history")
)
