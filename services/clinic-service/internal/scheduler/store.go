package scheduler

import (
	"context"
	"time"

	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/model"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/outbox"
)

// Store is the persistence boundary of the scheduling core. The Postgres
// implementation lives in internal/storage; tests use the in-memory one.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	GetAppointment(ctx context.Context, id string) (model.AppointmentWithPatient, error)
	ListActive(ctx context.Context) ([]model.AppointmentWithPatient, error)
	ListAll(ctx context.Context, limit int) ([]model.AppointmentWithPatient, error)
	ListByPatient(ctx context.Context, patientID string) ([]model.AppointmentWithPatient, error)
	GetPatient(ctx context.Context, id string) (model.Patient, error)
}

// Tx scopes one scheduling mutation. Conflict-check-then-insert is a
// check-then-act sequence, so every mutation runs inside a Tx and either
// commits whole or rolls back whole.
//
// Methods return ErrNotFound and ErrConflict where those conditions apply;
// any other error is a persistence failure.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// HasOverlap reports whether any non-cancelled appointment other than
	// excludeID intersects [start, end).
	HasOverlap(ctx context.Context, start, end time.Time, excludeID string) (bool, error)

	InsertAppointment(ctx context.Context, appt *model.Appointment) error
	GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error)
	UpdateAppointment(ctx context.Context, appt model.Appointment) error
	MarkCancelled(ctx context.Context, id string) error
	DeleteAppointment(ctx context.Context, id string) error

	// ResolvePatient returns the patient with the given contact handle,
	// creating one (role patient, placeholder login email) if absent.
	// Safe under concurrent calls for the same handle: all callers get
	// the same row.
	ResolvePatient(ctx context.Context, username, fullName, phone string) (model.Patient, error)
	GetPatient(ctx context.Context, id string) (model.Patient, error)

	InsertEvent(ctx context.Context, evt outbox.Event) error
}
