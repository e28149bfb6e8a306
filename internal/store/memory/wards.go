package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/medisphere/medisphere/internal/domain/allocation"
	"github.com/medisphere/medisphere/internal/domain/ward"
)

type wardRepo struct {
	s *Store
}

func (r *wardRepo) CreateWard(ctx context.Context, w *ward.Ward) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		w.ID = uuid.New()
		w.CreatedAt = r.s.now()
		st.Wards[w.ID] = *w
		return nil
	})
}

func (r *wardRepo) GetWard(ctx context.Context, id uuid.UUID) (*ward.Ward, error) {
	var out *ward.Ward
	err := r.s.read(ctx, func(st *Snapshot) error {
		w, ok := st.Wards[id]
		if !ok {
			return ward.ErrWardNotFound
		}
		out = &w
		return nil
	})
	return out, err
}

// LockWard is a plain read: transactions are already serialised.
func (r *wardRepo) LockWard(ctx context.Context, id uuid.UUID) (*ward.Ward, error) {
	return r.GetWard(ctx, id)
}

func (r *wardRepo) ListWards(ctx context.Context) ([]*ward.WardSummary, error) {
	var out []*ward.WardSummary
	err := r.s.read(ctx, func(st *Snapshot) error {
		byWard := make(map[uuid.UUID]*ward.WardSummary, len(st.Wards))
		for id, w := range st.Wards {
			sum := &ward.WardSummary{Ward: w}
			byWard[id] = sum
			out = append(out, sum)
		}
		for _, b := range st.Beds {
			sum, ok := byWard[b.WardID]
			if !ok {
				continue
			}
			sum.TotalBeds++
			if b.Status == ward.BedOccupied {
				sum.OccupiedBeds++
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, err
}

func (r *wardRepo) CountBeds(ctx context.Context, wardID uuid.UUID) (int, error) {
	n := 0
	err := r.s.read(ctx, func(st *Snapshot) error {
		for _, b := range st.Beds {
			if b.WardID == wardID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *wardRepo) CreateBed(ctx context.Context, b *ward.Bed) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		if _, ok := st.Wards[b.WardID]; !ok {
			return ward.ErrWardNotFound
		}
		b.ID = uuid.New()
		if b.Status == "" {
			b.Status = ward.BedFree
		}
		b.CreatedAt = r.s.now()
		b.UpdatedAt = b.CreatedAt
		st.Beds[b.ID] = *b
		return nil
	})
}

func (r *wardRepo) GetBed(ctx context.Context, id uuid.UUID) (*ward.Bed, error) {
	var out *ward.Bed
	err := r.s.read(ctx, func(st *Snapshot) error {
		b, ok := st.Beds[id]
		if !ok {
			return ward.ErrBedNotFound
		}
		out = &b
		return nil
	})
	return out, err
}

func (r *wardRepo) LockBed(ctx context.Context, id uuid.UUID) (*ward.Bed, error) {
	return r.GetBed(ctx, id)
}

func (r *wardRepo) UpdateBed(ctx context.Context, id uuid.UUID, patch ward.BedPatch) (*ward.Bed, error) {
	var out *ward.Bed
	err := r.s.write(ctx, func(st *Snapshot) error {
		b, ok := st.Beds[id]
		if !ok {
			return ward.ErrBedNotFound
		}
		if patch.BedNumber != nil {
			b.BedNumber = *patch.BedNumber
		}
		if patch.Status != nil {
			b.Status = *patch.Status
		}
		b.UpdatedAt = r.s.now()
		st.Beds[id] = b
		out = &b
		return nil
	})
	return out, err
}

func (r *wardRepo) DeleteBed(ctx context.Context, id uuid.UUID) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		if _, ok := st.Beds[id]; !ok {
			return ward.ErrBedNotFound
		}
		for _, a := range st.Allocations {
			if a.BedID == id {
				return ward.ErrHasHistory
			}
		}
		delete(st.Beds, id)
		return nil
	})
}

func (r *wardRepo) TryOccupy(ctx context.Context, id uuid.UUID) (bool, error) {
	changed := false
	err := r.s.write(ctx, func(st *Snapshot) error {
		b, ok := st.Beds[id]
		if !ok || b.Status != ward.BedFree {
			return nil
		}
		b.Status = ward.BedOccupied
		b.UpdatedAt = r.s.now()
		st.Beds[id] = b
		changed = true
		return nil
	})
	return changed, err
}

func (r *wardRepo) SetFree(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, ward.BedFree)
}

func (r *wardRepo) SetOccupied(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, ward.BedOccupied)
}

func (r *wardRepo) setStatus(ctx context.Context, id uuid.UUID, status ward.BedStatus) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		b, ok := st.Beds[id]
		if !ok {
			return ward.ErrBedNotFound
		}
		b.Status = status
		b.UpdatedAt = r.s.now()
		st.Beds[id] = b
		return nil
	})
}

func (r *wardRepo) ListFreeBeds(ctx context.Context) ([]*ward.FreeBed, error) {
	var out []*ward.FreeBed
	err := r.s.read(ctx, func(st *Snapshot) error {
		for _, b := range st.Beds {
			if b.Status != ward.BedFree {
				continue
			}
			out = append(out, &ward.FreeBed{Bed: b, WardName: st.Wards[b.WardID].Name})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].WardName != out[j].WardName {
			return out[i].WardName < out[j].WardName
		}
		return out[i].BedNumber < out[j].BedNumber
	})
	return out, err
}

func (r *wardRepo) ListBedsByWard(ctx context.Context, wardID uuid.UUID) ([]*ward.BedView, error) {
	var out []*ward.BedView
	err := r.s.read(ctx, func(st *Snapshot) error {
		active := make(map[uuid.UUID]allocation.Allocation)
		for _, a := range st.Allocations {
			if a.Status == allocation.StatusActive {
				active[a.BedID] = a.Allocation
			}
		}
		for _, b := range st.Beds {
			if b.WardID != wardID {
				continue
			}
			v := &ward.BedView{Bed: b}
			if a, ok := active[b.ID]; ok && b.Status == ward.BedOccupied {
				id, pid, at := a.ID, a.PatientID, a.AllocatedAt
				v.AllocationID, v.PatientID, v.AllocatedAt = &id, &pid, &at
			}
			out = append(out, v)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].BedNumber < out[j].BedNumber })
	return out, err
}
