package scheduling

import (
	"context"
	"errors"

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

const apptCols = `id, patient_id, status, note, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, status, note) VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.Status, a.Note,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return apperrors.Internal("insert appointment", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppt(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *repoPG) Complete(ctx context.Context, id uuid.UUID, suffix string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointment SET status = 'Completed', note = note || $2, updated_at = NOW()
		WHERE id = $1`, id, suffix)
	if err != nil {
		return apperrors.Internal("complete appointment", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, apperrors.Internal("count appointments", err)
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+apptCols+` FROM appointment WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Internal("list appointments", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppt(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.Internal("list appointments", err)
	}
	return out, total, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAppt(row scanner) (*Appointment, error) {
	var a Appointment
	if err := row.Scan(&a.ID, &a.PatientID, &a.Status, &a.Note, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, apperrors.Internal("read appointment", err)
	}
	return &a, nil
}
