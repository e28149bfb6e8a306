package allocation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

const allocCols = `a.id, a.bed_id, a.patient_id, a.status, a.allocated_at, a.expected_release, a.released_at`

// uniqueViolation is the SQLSTATE raised by uq_bed_allocation_active.
const uniqueViolation = "23505"

func (r *repoPG) Record(ctx context.Context, a *Allocation) error {
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = StatusActive
	}
	if a.AllocatedAt.IsZero() {
		a.AllocatedAt = Day(time.Now())
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO bed_allocation (id, bed_id, patient_id, status, allocated_at, expected_release, released_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.BedID, a.PatientID, string(a.Status), a.AllocatedAt, a.ExpectedRelease, a.ReleasedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.Precondition("bed_unavailable", "bed already has an active allocation")
		}
		return apperrors.Internal("insert allocation", err)
	}
	return nil
}

func (r *repoPG) FindActiveByBed(ctx context.Context, bedID uuid.UUID) (*Allocation, error) {
	a, err := scanAllocation(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+allocCols+` FROM bed_allocation a WHERE a.bed_id = $1 AND a.status = 'active'`, bedID))
	if errors.Is(err, ErrAllocationNotFound) {
		return nil, ErrNoActiveAllocation
	}
	return a, err
}

func (r *repoPG) RepointBed(ctx context.Context, id, newBedID uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE bed_allocation SET bed_id = $2 WHERE id = $1`, id, newBedID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.Precondition("bed_unavailable", "bed already has an active allocation")
		}
		return apperrors.Internal("repoint allocation", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAllocationNotFound
	}
	return nil
}

func (r *repoPG) MarkReleased(ctx context.Context, bedID uuid.UUID, at time.Time) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE bed_allocation SET status = 'released', released_at = $2
		WHERE bed_id = $1 AND status = 'active'`, bedID, Day(at))
	if err != nil {
		return 0, apperrors.Internal("release allocation", err)
	}
	return tag.RowsAffected(), nil
}

const placementSelect = `SELECT ` + allocCols + `, b.bed_number, w.id, w.name
	FROM bed_allocation a
	JOIN bed b ON b.id = a.bed_id
	JOIN ward w ON w.id = b.ward_id`

func (r *repoPG) FindCurrentForPatient(ctx context.Context, patientID uuid.UUID) (*Placement, error) {
	p, err := scanPlacement(db.Conn(ctx, r.pool).QueryRow(ctx,
		placementSelect+` WHERE a.patient_id = $1 AND a.status = 'active'
		ORDER BY a.allocated_at DESC, a.created_at DESC LIMIT 1`, patientID))
	if errors.Is(err, ErrAllocationNotFound) {
		return nil, ErrNoCurrentBed
	}
	return p, err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Placement, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM bed_allocation WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, apperrors.Internal("count allocations", err)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		placementSelect+` WHERE a.patient_id = $1
		ORDER BY a.allocated_at DESC, a.created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Internal("list allocations", err)
	}
	defer rows.Close()

	var out []*Placement
	for rows.Next() {
		p, err := scanPlacement(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.Internal("list allocations", err)
	}
	return out, total, nil
}

func (r *repoPG) ListByBed(ctx context.Context, bedID uuid.UUID, limit, offset int) ([]*Allocation, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM bed_allocation WHERE bed_id = $1`, bedID).Scan(&total); err != nil {
		return nil, 0, apperrors.Internal("count allocations", err)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+allocCols+` FROM bed_allocation a WHERE a.bed_id = $1
		ORDER BY a.allocated_at DESC, a.created_at DESC LIMIT $2 OFFSET $3`, bedID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Internal("list allocations", err)
	}
	defer rows.Close()

	var out []*Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.Internal("list allocations", err)
	}
	return out, total, nil
}

func (r *repoPG) CountByBed(ctx context.Context, bedID uuid.UUID) (int, error) {
	var n int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM bed_allocation WHERE bed_id = $1`, bedID).Scan(&n); err != nil {
		return 0, apperrors.Internal("count allocations", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAllocation(row scanner) (*Allocation, error) {
	var a Allocation
	var status string
	if err := row.Scan(&a.ID, &a.BedID, &a.PatientID, &status, &a.AllocatedAt, &a.ExpectedRelease, &a.ReleasedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAllocationNotFound
		}
		return nil, apperrors.Internal("read allocation", err)
	}
	a.Status = Status(status)
	return &a, nil
}

func scanPlacement(row scanner) (*Placement, error) {
	var p Placement
	var status string
	if err := row.Scan(&p.ID, &p.BedID, &p.PatientID, &status, &p.AllocatedAt, &p.ExpectedRelease, &p.ReleasedAt,
		&p.BedNumber, &p.WardID, &p.WardName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAllocationNotFound
		}
		return nil, apperrors.Internal("read allocation", err)
	}
	p.Status = Status(status)
	return &p, nil
}
