package billing

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	// KindAdmission is the flat charge raised when a patient is admitted
	// from an appointment.
	KindAdmission Kind = "admission"
	// KindInpatient is the running bill for a stay. It is opened on
	// allocation and closed on release.
	KindInpatient Kind = "inpatient"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentPartial PaymentStatus = "Partial"
	PaymentPaid    PaymentStatus = "Paid"
)

// Bill maps to the bill table. PaymentDate is nil while an inpatient bill is
// still running.
type Bill struct {
	ID            uuid.UUID     `db:"id" json:"id"`
	PatientID     uuid.UUID     `db:"patient_id" json:"patient_id"`
	AppointmentID *uuid.UUID    `db:"appointment_id" json:"appointment_id,omitempty"`
	Kind          Kind          `db:"kind" json:"kind"`
	TotalAmount   float64       `db:"total_amount" json:"total_amount"`
	PaidAmount    float64       `db:"paid_amount" json:"paid_amount"`
	PaymentStatus PaymentStatus `db:"payment_status" json:"payment_status"`
	PaymentDate   *time.Time    `db:"payment_date" json:"payment_date,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}

// Running reports whether the bill is an open inpatient bill.
func (b *Bill) Running() bool {
	return b.Kind == KindInpatient && b.PaymentDate == nil
}

// StatusFor derives the payment status of a bill from what has been paid
// against its total.
func StatusFor(paid, total float64) PaymentStatus {
	switch {
	case paid >= total:
		return PaymentPaid
	case paid > 0:
		return PaymentPartial
	default:
		return PaymentPending
	}
}
