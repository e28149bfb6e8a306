package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/medisphere/medisphere/internal/domain/allocation"
	"github.com/medisphere/medisphere/internal/domain/ward"
	"github.com/medisphere/medisphere/pkg/apperrors"
	"github.com/medisphere/medisphere/pkg/pagination"
)

type allocationRepo struct {
	s *Store
}

func (r *allocationRepo) Record(ctx context.Context, a *allocation.Allocation) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		if _, ok := st.Beds[a.BedID]; !ok {
			return ward.ErrBedNotFound
		}
		if a.Status == "" {
			a.Status = allocation.StatusActive
		}
		if a.Status == allocation.StatusActive {
			for _, row := range st.Allocations {
				if row.BedID == a.BedID && row.Status == allocation.StatusActive {
					return apperrors.Precondition("bed_unavailable", "bed already has an active allocation")
				}
			}
		}
		if a.AllocatedAt.IsZero() {
			a.AllocatedAt = allocation.Day(r.s.now())
		}
		a.ID = uuid.New()
		st.Allocations[a.ID] = AllocationRow{Allocation: cloneAllocation(*a), Seq: st.next()}
		return nil
	})
}

func (r *allocationRepo) FindActiveByBed(ctx context.Context, bedID uuid.UUID) (*allocation.Allocation, error) {
	var out *allocation.Allocation
	err := r.s.read(ctx, func(st *Snapshot) error {
		for _, row := range st.Allocations {
			if row.BedID == bedID && row.Status == allocation.StatusActive {
				a := cloneAllocation(row.Allocation)
				out = &a
				return nil
			}
		}
		return allocation.ErrNoActiveAllocation
	})
	return out, err
}

func (r *allocationRepo) RepointBed(ctx context.Context, id, newBedID uuid.UUID) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		row, ok := st.Allocations[id]
		if !ok {
			return allocation.ErrAllocationNotFound
		}
		if _, ok := st.Beds[newBedID]; !ok {
			return ward.ErrBedNotFound
		}
		if row.Status == allocation.StatusActive {
			for otherID, other := range st.Allocations {
				if otherID != id && other.BedID == newBedID && other.Status == allocation.StatusActive {
					return apperrors.Precondition("bed_unavailable", "bed already has an active allocation")
				}
			}
		}
		row.BedID = newBedID
		st.Allocations[id] = row
		return nil
	})
}

func (r *allocationRepo) MarkReleased(ctx context.Context, bedID uuid.UUID, at time.Time) (int64, error) {
	var n int64
	err := r.s.write(ctx, func(st *Snapshot) error {
		for id, row := range st.Allocations {
			if row.BedID != bedID || row.Status != allocation.StatusActive {
				continue
			}
			day := allocation.Day(at)
			row.Status = allocation.StatusReleased
			row.ReleasedAt = &day
			st.Allocations[id] = row
			n++
		}
		return nil
	})
	return n, err
}

func (r *allocationRepo) FindCurrentForPatient(ctx context.Context, patientID uuid.UUID) (*allocation.Placement, error) {
	var out *allocation.Placement
	err := r.s.read(ctx, func(st *Snapshot) error {
		rows := patientRows(st, patientID, true)
		if len(rows) == 0 {
			return allocation.ErrNoCurrentBed
		}
		out = placement(st, rows[0])
		return nil
	})
	return out, err
}

func (r *allocationRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*allocation.Placement, int, error) {
	var out []*allocation.Placement
	total := 0
	err := r.s.read(ctx, func(st *Snapshot) error {
		rows := patientRows(st, patientID, false)
		total = len(rows)
		start, end := pagination.Params{Limit: limit, Offset: offset}.Window(total)
		for _, row := range rows[start:end] {
			out = append(out, placement(st, row))
		}
		return nil
	})
	return out, total, err
}

func (r *allocationRepo) ListByBed(ctx context.Context, bedID uuid.UUID, limit, offset int) ([]*allocation.Allocation, int, error) {
	var out []*allocation.Allocation
	total := 0
	err := r.s.read(ctx, func(st *Snapshot) error {
		var rows []AllocationRow
		for _, row := range st.Allocations {
			if row.BedID == bedID {
				rows = append(rows, row)
			}
		}
		sortNewestFirst(rows)
		total = len(rows)
		start, end := pagination.Params{Limit: limit, Offset: offset}.Window(total)
		for _, row := range rows[start:end] {
			a := cloneAllocation(row.Allocation)
			out = append(out, &a)
		}
		return nil
	})
	return out, total, err
}

func (r *allocationRepo) CountByBed(ctx context.Context, bedID uuid.UUID) (int, error) {
	n := 0
	err := r.s.read(ctx, func(st *Snapshot) error {
		for _, row := range st.Allocations {
			if row.BedID == bedID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func patientRows(st *Snapshot, patientID uuid.UUID, activeOnly bool) []AllocationRow {
	var rows []AllocationRow
	for _, row := range st.Allocations {
		if row.PatientID != patientID {
			continue
		}
		if activeOnly && row.Status != allocation.StatusActive {
			continue
		}
		rows = append(rows, row)
	}
	sortNewestFirst(rows)
	return rows
}

func sortNewestFirst(rows []AllocationRow) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].AllocatedAt.Equal(rows[j].AllocatedAt) {
			return rows[i].AllocatedAt.After(rows[j].AllocatedAt)
		}
		return rows[i].Seq > rows[j].Seq
	})
}

func placement(st *Snapshot, row AllocationRow) *allocation.Placement {
	bed := st.Beds[row.BedID]
	return &allocation.Placement{
		Allocation: cloneAllocation(row.Allocation),
		BedNumber:  bed.BedNumber,
		WardID:     bed.WardID,
		WardName:   st.Wards[bed.WardID].Name,
	}
}
