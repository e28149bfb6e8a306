package allocation

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusReleased Status = "released"
)

// Allocation is one patient stay on a bed. Rows are never deleted: a move
// repoints BedID and a release flips Status and stamps ReleasedAt.
type Allocation struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	BedID           uuid.UUID  `db:"bed_id" json:"bed_id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	Status          Status     `db:"status" json:"status"`
	AllocatedAt     time.Time  `db:"allocated_at" json:"allocated_at"`
	ExpectedRelease *time.Time `db:"expected_release" json:"expected_release,omitempty"`
	ReleasedAt      *time.Time `db:"released_at" json:"released_at,omitempty"`
}

func (a *Allocation) Active() bool {
	return a.Status == StatusActive
}

// Placement is an allocation joined to its bed and ward.
type Placement struct {
	Allocation
	BedNumber string    `json:"bed_number"`
	WardID    uuid.UUID `json:"ward_id"`
	WardName  string    `json:"ward_name"`
}

// Day truncates t to a calendar date in UTC. Allocation dates carry no time
// of day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
