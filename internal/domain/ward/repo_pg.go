package ward

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medisphere/medisphere/internal/platform/db"
	"github.com/medisphere/medisphere/pkg/apperrors"
)

type repoPG struct {
	pool    *pgxpool.Pool
	dialect goqu.DialectWrapper
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool, dialect: goqu.Dialect("postgres")}
}

const wardCols = `id, name, capacity, created_at`

const bedCols = `id, ward_id, bed_number, status, created_at, updated_at`

func (r *repoPG) CreateWard(ctx context.Context, w *Ward) error {
	w.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO ward (id, name, capacity) VALUES ($1, $2, $3)
		RETURNING created_at`,
		w.ID, w.Name, w.Capacity,
	).Scan(&w.CreatedAt)
	if err != nil {
		return apperrors.Internal("insert ward", err)
	}
	return nil
}

func (r *repoPG) GetWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	return scanWard(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+wardCols+` FROM ward WHERE id = $1`, id))
}

func (r *repoPG) LockWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	return scanWard(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+wardCols+` FROM ward WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) ListWards(ctx context.Context) ([]*WardSummary, error) {
	query, args, err := r.dialect.
		From(goqu.T("ward").As("w")).
		LeftJoin(goqu.T("bed").As("b"), goqu.On(goqu.I("b.ward_id").Eq(goqu.I("w.id")))).
		Select(
			"w.id", "w.name", "w.capacity", "w.created_at",
			goqu.COUNT("b.id").As("total_beds"),
			goqu.L("COUNT(b.id) FILTER (WHERE b.status = ?)", string(BedOccupied)).As("occupied_beds"),
		).
		GroupBy("w.id").
		Order(goqu.I("w.name").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.Internal("build ward listing", err)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Internal("list wards", err)
	}
	defer rows.Close()

	var out []*WardSummary
	for rows.Next() {
		var s WardSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.Capacity, &s.CreatedAt, &s.TotalBeds, &s.OccupiedBeds); err != nil {
			return nil, apperrors.Internal("scan ward", err)
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal("list wards", err)
	}
	return out, nil
}

func (r *repoPG) CountBeds(ctx context.Context, wardID uuid.UUID) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM bed WHERE ward_id = $1`, wardID).Scan(&n)
	if err != nil {
		return 0, apperrors.Internal("count beds", err)
	}
	return n, nil
}

func (r *repoPG) CreateBed(ctx context.Context, b *Bed) error {
	b.ID = uuid.New()
	if b.Status == "" {
		b.Status = BedFree
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO bed (id, ward_id, bed_number, status) VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		b.ID, b.WardID, b.BedNumber, string(b.Status),
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return apperrors.Internal("insert bed", err)
	}
	return nil
}

func (r *repoPG) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return scanBed(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+bedCols+` FROM bed WHERE id = $1`, id))
}

func (r *repoPG) LockBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return scanBed(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+bedCols+` FROM bed WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) UpdateBed(ctx context.Context, id uuid.UUID, patch BedPatch) (*Bed, error) {
	rec := goqu.Record{"updated_at": goqu.L("NOW()")}
	if patch.BedNumber != nil {
		rec["bed_number"] = *patch.BedNumber
	}
	if patch.Status != nil {
		rec["status"] = string(*patch.Status)
	}
	query, args, err := r.dialect.
		Update("bed").
		Set(rec).
		Where(goqu.Ex{"id": id.String()}).
		Returning(goqu.C("id"), goqu.C("ward_id"), goqu.C("bed_number"), goqu.C("status"), goqu.C("created_at"), goqu.C("updated_at")).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.Internal("build bed update", err)
	}
	return scanBed(db.Conn(ctx, r.pool).QueryRow(ctx, query, args...))
}

func (r *repoPG) DeleteBed(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM bed WHERE id = $1`, id)
	if err != nil {
		return apperrors.Internal("delete bed", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBedNotFound
	}
	return nil
}

func (r *repoPG) TryOccupy(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE bed SET status = 'Occupied', updated_at = NOW()
		WHERE id = $1 AND status = 'Free'`, id)
	if err != nil {
		return false, apperrors.Internal("occupy bed", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) SetFree(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, BedFree)
}

func (r *repoPG) SetOccupied(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, BedOccupied)
}

func (r *repoPG) setStatus(ctx context.Context, id uuid.UUID, s BedStatus) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE bed SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(s))
	if err != nil {
		return apperrors.Internal(fmt.Sprintf("set bed %s", s), err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBedNotFound
	}
	return nil
}

func (r *repoPG) ListFreeBeds(ctx context.Context) ([]*FreeBed, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT b.id, b.ward_id, b.bed_number, b.status, b.created_at, b.updated_at, w.name
		FROM bed b JOIN ward w ON w.id = b.ward_id
		WHERE b.status = 'Free'
		ORDER BY w.name, b.bed_number`)
	if err != nil {
		return nil, apperrors.Internal("list free beds", err)
	}
	defer rows.Close()

	var out []*FreeBed
	for rows.Next() {
		var fb FreeBed
		var status string
		if err := rows.Scan(&fb.ID, &fb.WardID, &fb.BedNumber, &status, &fb.CreatedAt, &fb.UpdatedAt, &fb.WardName); err != nil {
			return nil, apperrors.Internal("scan free bed", err)
		}
		fb.Status = BedStatus(status)
		out = append(out, &fb)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal("list free beds", err)
	}
	return out, nil
}

func (r *repoPG) ListBedsByWard(ctx context.Context, wardID uuid.UUID) ([]*BedView, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT b.id, b.ward_id, b.bed_number, b.status, b.created_at, b.updated_at,
			a.id, a.patient_id, a.allocated_at
		FROM bed b
		LEFT JOIN bed_allocation a
			ON a.bed_id = b.id AND a.status = 'active' AND b.status = 'Occupied'
		WHERE b.ward_id = $1
		ORDER BY b.bed_number`, wardID)
	if err != nil {
		return nil, apperrors.Internal("list ward beds", err)
	}
	defer rows.Close()

	var out []*BedView
	for rows.Next() {
		var v BedView
		var status string
		if err := rows.Scan(&v.ID, &v.WardID, &v.BedNumber, &status, &v.CreatedAt, &v.UpdatedAt,
			&v.AllocationID, &v.PatientID, &v.AllocatedAt); err != nil {
			return nil, apperrors.Internal("scan ward bed", err)
		}
		v.Status = BedStatus(status)
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal("list ward beds", err)
	}
	return out, nil
}

func scanWard(row pgx.Row) (*Ward, error) {
	var w Ward
	if err := row.Scan(&w.ID, &w.Name, &w.Capacity, &w.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWardNotFound
		}
		return nil, apperrors.Internal("read ward", err)
	}
	return &w, nil
}

func scanBed(row pgx.Row) (*Bed, error) {
	var b Bed
	var status string
	if err := row.Scan(&b.ID, &b.WardID, &b.BedNumber, &status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBedNotFound
		}
		return nil, apperrors.Internal("read bed", err)
	}
	b.Status = BedStatus(status)
	return &b, nil
}
