package ward

import (
	"time"

	"github.com/google/uuid"
)

// BedStatus is the occupancy flag of a bed. Only the admission workflow and
// the administrative bed edit change it.
type BedStatus string

const (
	BedFree     BedStatus = "Free"
	BedOccupied BedStatus = "Occupied"
)

func (s BedStatus) Valid() bool {
	return s == BedFree || s == BedOccupied
}

// Ward maps to the ward table. Capacity bounds the number of beds the ward
// may ever hold.
type Ward struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Capacity  int       `db:"capacity" json:"capacity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// WardSummary is a ward with its derived occupancy counts.
type WardSummary struct {
	Ward
	TotalBeds    int `json:"total_beds"`
	OccupiedBeds int `json:"occupied_beds"`
}

// Bed maps to the bed table.
type Bed struct {
	ID        uuid.UUID `db:"id" json:"id"`
	WardID    uuid.UUID `db:"ward_id" json:"ward_id"`
	BedNumber string    `db:"bed_number" json:"bed_number"`
	Status    BedStatus `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// BedView is a bed in the per-ward listing. The occupant fields are only set
// when the bed is Occupied and has an active allocation.
type BedView struct {
	Bed
	PatientID    *uuid.UUID `json:"patient_id,omitempty"`
	AllocationID *uuid.UUID `json:"allocation_id,omitempty"`
	AllocatedAt  *time.Time `json:"allocated_at,omitempty"`
}

// FreeBed is a bed available for allocation, with its ward's name.
type FreeBed struct {
	Bed
	WardName string `json:"ward_name"`
}

// BedPatch is an administrative partial update. Nil fields are left unchanged.
type BedPatch struct {
	BedNumber *string    `json:"bed_number,omitempty"`
	Status    *BedStatus `json:"status,omitempty"`
}

func (p BedPatch) Empty() bool {
	return p.BedNumber == nil && p.Status == nil
}
