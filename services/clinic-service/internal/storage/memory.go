package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/model"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/outbox"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/scheduler"
)

// Memory is an in-memory scheduler.Store with the same transactional
// semantics as the Postgres store: a transaction works on a copy of the
// state and publishes it on commit, and transactions are serialized.
// It backs tests and local development without a database.
type Memory struct {
	mu           sync.Mutex
	appointments map[string]model.Appointment
	patients     map[string]model.Patient
	events       []outbox.Event
}

var _ scheduler.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		appointments: make(map[string]model.Appointment),
		patients:     make(map[string]model.Patient),
	}
}

// Events returns the committed outbox events in commit order.
func (m *Memory) Events() []outbox.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]outbox.Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *Memory) Begin(ctx context.Context) (scheduler.Tx, error) {
	m.mu.Lock()
	tx := &memTx{store: m}
	tx.appointments = make(map[string]model.Appointment, len(m.appointments))
	for id, a := range m.appointments {
		tx.appointments[id] = a
	}
	tx.patients = make(map[string]model.Patient, len(m.patients))
	for id, p := range m.patients {
		tx.patients[id] = p
	}
	return tx, nil
}

func (m *Memory) GetAppointment(ctx context.Context, id string) (model.AppointmentWithPatient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return model.AppointmentWithPatient{}, fmt.Errorf("%w: appointment %s", scheduler.ErrNotFound, id)
	}
	return m.withPatient(a), nil
}

func (m *Memory) ListActive(ctx context.Context) ([]model.AppointmentWithPatient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AppointmentWithPatient
	for _, a := range m.appointments {
		if !a.Cancelled() {
			out = append(out, m.withPatient(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *Memory) ListAll(ctx context.Context, limit int) ([]model.AppointmentWithPatient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AppointmentWithPatient
	for _, a := range m.appointments {
		out = append(out, m.withPatient(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListByPatient(ctx context.Context, patientID string) ([]model.AppointmentWithPatient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AppointmentWithPatient
	for _, a := range m.appointments {
		if a.PatientID != nil && *a.PatientID == patientID {
			out = append(out, m.withPatient(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (m *Memory) GetPatient(ctx context.Context, id string) (model.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return model.Patient{}, fmt.Errorf("%w: patient %s", scheduler.ErrNotFound, id)
	}
	return p, nil
}

// AddPatient seeds a patient row, for tests and local fixtures.
func (m *Memory) AddPatient(p model.Patient) model.Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.patients[p.ID] = p
	return p
}

// withPatient must be called with the lock held.
func (m *Memory) withPatient(a model.Appointment) model.AppointmentWithPatient {
	out := model.AppointmentWithPatient{Appointment: a}
	if a.PatientID != nil {
		if p, ok := m.patients[*a.PatientID]; ok {
			out.PatientName = p.FullName
			out.PatientPhone = p.Phone
		}
	}
	return out
}

type memTx struct {
	store        *Memory
	appointments map[string]model.Appointment
	patients     map[string]model.Patient
	events       []outbox.Event
	done         bool
}

var _ scheduler.Tx = (*memTx)(nil)

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.store.appointments = t.appointments
	t.store.patients = t.patients
	t.store.events = append(t.store.events, t.events...)
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) HasOverlap(ctx context.Context, start, end time.Time, excludeID string) (bool, error) {
	for id, a := range t.appointments {
		if a.Cancelled() || id == excludeID {
			continue
		}
		if a.StartTime.Before(end) && start.Before(a.EndTime) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertAppointment(ctx context.Context, appt *model.Appointment) error {
	if !appt.EndTime.After(appt.StartTime) {
		return fmt.Errorf("%w: end before start", scheduler.ErrInvalidInput)
	}
	// Mirror the exclusion constraint: a racing insert cannot slip past
	// the overlap query here, but the guard keeps behavior aligned.
	overlap, _ := t.HasOverlap(ctx, appt.StartTime, appt.EndTime, appt.ID)
	if !appt.Cancelled() && overlap {
		return fmt.Errorf("%w: slot taken concurrently", scheduler.ErrConflict)
	}
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = time.Now()
	}
	t.appointments[appt.ID] = *appt
	return nil
}

func (t *memTx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	a, ok := t.appointments[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", scheduler.ErrNotFound, id)
	}
	return a, nil
}

func (t *memTx) UpdateAppointment(ctx context.Context, appt model.Appointment) error {
	if _, ok := t.appointments[appt.ID]; !ok {
		return fmt.Errorf("%w: appointment %s", scheduler.ErrNotFound, appt.ID)
	}
	t.appointments[appt.ID] = appt
	return nil
}

func (t *memTx) MarkCancelled(ctx context.Context, id string) error {
	a, ok := t.appointments[id]
	if !ok {
		return fmt.Errorf("%w: appointment %s", scheduler.ErrNotFound, id)
	}
	a.Status = model.StatusCancelled
	t.appointments[id] = a
	return nil
}

func (t *memTx) DeleteAppointment(ctx context.Context, id string) error {
	if _, ok := t.appointments[id]; !ok {
		return fmt.Errorf("%w: appointment %s", scheduler.ErrNotFound, id)
	}
	delete(t.appointments, id)
	return nil
}

func (t *memTx) ResolvePatient(ctx context.Context, username, fullName, phone string) (model.Patient, error) {
	for _, p := range t.patients {
		if p.Username == username {
			return p, nil
		}
	}
	p := model.Patient{
		ID:        uuid.NewString(),
		Username:  username,
		FullName:  fullName,
		Email:     username + "@hasta.com",
		Phone:     phone,
		Role:      model.RolePatient,
		CreatedAt: time.Now(),
	}
	t.patients[p.ID] = p
	return p, nil
}

func (t *memTx) GetPatient(ctx context.Context, id string) (model.Patient, error) {
	p, ok := t.patients[id]
	if !ok {
		return model.Patient{}, fmt.Errorf("%w: patient %s", scheduler.ErrNotFound, id)
	}
	return p, nil
}

func (t *memTx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}
