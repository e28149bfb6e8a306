package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/medisphere/medisphere/internal/domain/scheduling"
	"github.com/medisphere/medisphere/pkg/pagination"
)

type appointmentRepo struct {
	s *Store
}

func (r *appointmentRepo) Create(ctx context.Context, a *scheduling.Appointment) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		a.ID = uuid.New()
		a.CreatedAt = r.s.now()
		a.UpdatedAt = a.CreatedAt
		st.Appointments[a.ID] = *a
		return nil
	})
}

func (r *appointmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	var out *scheduling.Appointment
	err := r.s.read(ctx, func(st *Snapshot) error {
		a, ok := st.Appointments[id]
		if !ok {
			return scheduling.ErrAppointmentNotFound
		}
		out = &a
		return nil
	})
	return out, err
}

func (r *appointmentRepo) Complete(ctx context.Context, id uuid.UUID, suffix string) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		a, ok := st.Appointments[id]
		if !ok {
			return scheduling.ErrAppointmentNotFound
		}
		a.Status = scheduling.StatusCompleted
		a.Note += suffix
		a.UpdatedAt = r.s.now()
		st.Appointments[id] = a
		return nil
	})
}

func (r *appointmentRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*scheduling.Appointment, int, error) {
	var out []*scheduling.Appointment
	total := 0
	err := r.s.read(ctx, func(st *Snapshot) error {
		var rows []scheduling.Appointment
		for _, a := range st.Appointments {
			if a.PatientID == patientID {
				rows = append(rows, a)
			}
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
		total = len(rows)
		start, end := pagination.Params{Limit: limit, Offset: offset}.Window(total)
		for i := start; i < end; i++ {
			a := rows[i]
			out = append(out, &a)
		}
		return nil
	})
	return out, total, err
}
