package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/medisphere/medisphere/internal/domain/billing"
	"github.com/medisphere/medisphere/pkg/apperrors"
	"github.com/medisphere/medisphere/pkg/pagination"
)

type billRepo struct {
	s *Store
}

func (r *billRepo) Create(ctx context.Context, b *billing.Bill) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		if b.AppointmentID != nil {
			if _, ok := st.Appointments[*b.AppointmentID]; !ok {
				return apperrors.Internal("insert bill", errors.New("appointment does not exist"))
			}
		}
		if b.Running() {
			for _, row := range st.Bills {
				if row.PatientID == b.PatientID && row.Running() {
					return apperrors.Internal("insert bill", errors.New("patient already has a running inpatient bill"))
				}
			}
		}
		if b.PaymentStatus == "" {
			b.PaymentStatus = billing.PaymentPending
		}
		b.ID = uuid.New()
		b.CreatedAt = r.s.now()
		st.Bills[b.ID] = BillRow{Bill: cloneBill(*b), Seq: st.next()}
		return nil
	})
}

func (r *billRepo) FindRunning(ctx context.Context, patientID uuid.UUID) (*billing.Bill, error) {
	var out *billing.Bill
	err := r.s.read(ctx, func(st *Snapshot) error {
		for _, row := range st.Bills {
			if row.PatientID == patientID && row.Running() {
				b := cloneBill(row.Bill)
				out = &b
				return nil
			}
		}
		return billing.ErrBillNotFound
	})
	return out, err
}

func (r *billRepo) Finalize(ctx context.Context, id uuid.UUID, total float64, status billing.PaymentStatus, paidOn time.Time) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		row, ok := st.Bills[id]
		if !ok {
			return billing.ErrBillNotFound
		}
		row.TotalAmount = total
		row.PaymentStatus = status
		row.PaymentDate = &paidOn
		st.Bills[id] = row
		return nil
	})
}

func (r *billRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*billing.Bill, int, error) {
	var out []*billing.Bill
	total := 0
	err := r.s.read(ctx, func(st *Snapshot) error {
		var rows []BillRow
		for _, row := range st.Bills {
			if row.PatientID == patientID {
				rows = append(rows, row)
			}
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Seq > rows[j].Seq })
		total = len(rows)
		start, end := pagination.Params{Limit: limit, Offset: offset}.Window(total)
		for _, row := range rows[start:end] {
			b := cloneBill(row.Bill)
			out = append(out, &b)
		}
		return nil
	})
	return out, total, err
}
