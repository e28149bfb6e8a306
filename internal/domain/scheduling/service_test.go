package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medisphere/medisphere/pkg/apperrors"
)

// -- Mock Repository --

type mockRepo struct {
	items map[uuid.UUID]*Appointment
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Appointment)}
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.items[a.ID] = a
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.items[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return a, nil
}

func (m *mockRepo) Complete(_ context.Context, id uuid.UUID, suffix string) error {
	a, ok := m.items[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.Status = StatusCompleted
	a.Note += suffix
	return nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var out []*Appointment
	for _, a := range m.items {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out, len(out), nil
}

func TestService_CreateAppointment_Defaults(t *testing.T) {
	svc := NewService(newMockRepo())
	a := &Appointment{PatientID: uuid.New()}
	if err := svc.CreateAppointment(context.Background(), a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != StatusScheduled {
		t.Errorf("expected Scheduled, got %s", a.Status)
	}
}

func TestService_CreateAppointment_Validation(t *testing.T) {
	svc := NewService(newMockRepo())
	if err := svc.CreateAppointment(context.Background(), &Appointment{}); apperrors.KindOf(err) != apperrors.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
	bad := &Appointment{PatientID: uuid.New(), Status: "Maybe"}
	if err := svc.CreateAppointment(context.Background(), bad); apperrors.KindOf(err) != apperrors.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestService_MarkAdmitted(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	a := &Appointment{PatientID: uuid.New(), Note: "Chest pain"}
	svc.CreateAppointment(context.Background(), a)

	if err := svc.MarkAdmitted(context.Background(), a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := repo.items[a.ID]
	if got.Status != StatusCompleted {
		t.Errorf("expected Completed, got %s", got.Status)
	}
	if got.Note != "Chest pain - Admitted to Ward" {
		t.Errorf("unexpected note %q", got.Note)
	}
}

func TestService_MarkAdmitted_NotFound(t *testing.T) {
	svc := NewService(newMockRepo())
	err := svc.MarkAdmitted(context.Background(), uuid.New())
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected ErrAppointmentNotFound, got %v", err)
	}
}
