package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medisphere/medisphere/internal/platform/db"
	"github.com/medisphere/medisphere/pkg/apperrors"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const billCols = `id, patient_id, appointment_id, kind, total_amount, paid_amount, payment_status, payment_date, created_at`

func (r *repoPG) Create(ctx context.Context, b *Bill) error {
	b.ID = uuid.New()
	if b.PaymentStatus == "" {
		b.PaymentStatus = PaymentPending
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO bill (id, patient_id, appointment_id, kind, total_amount, paid_amount, payment_status, payment_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		b.ID, b.PatientID, b.AppointmentID, string(b.Kind), b.TotalAmount, b.PaidAmount,
		string(b.PaymentStatus), b.PaymentDate,
	).Scan(&b.CreatedAt)
	if err != nil {
		return apperrors.Internal("insert bill", err)
	}
	return nil
}

func (r *repoPG) FindRunning(ctx context.Context, patientID uuid.UUID) (*Bill, error) {
	return scanBill(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+billCols+` FROM bill
		WHERE patient_id = $1 AND kind = 'inpatient' AND payment_date IS NULL
		FOR UPDATE`, patientID))
}

func (r *repoPG) Finalize(ctx context.Context, id uuid.UUID, total float64, status PaymentStatus, paidOn time.Time) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE bill SET total_amount = $2, payment_status = $3, payment_date = $4
		WHERE id = $1`, id, total, string(status), paidOn)
	if err != nil {
		return apperrors.Internal("finalize bill", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBillNotFound
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Bill, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM bill WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, apperrors.Internal("count bills", err)
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+billCols+` FROM bill WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Internal("list bills", err)
	}
	defer rows.Close()

	var out []*Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.Internal("list bills", err)
	}
	return out, total, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBill(row scanner) (*Bill, error) {
	var b Bill
	var kind, status string
	if err := row.Scan(&b.ID, &b.PatientID, &b.AppointmentID, &kind, &b.TotalAmount, &b.PaidAmount,
		&status, &b.PaymentDate, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBillNotFound
		}
		return nil, apperrors.Internal("read bill", err)
	}
	b.Kind = Kind(kind)
	b.PaymentStatus = PaymentStatus(status)
	return &b, nil
}
