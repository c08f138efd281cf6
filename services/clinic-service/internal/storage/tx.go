package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/model"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/outbox"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/scheduler"
)

type storeTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

var _ scheduler.Tx = (*storeTx)(nil)

func (t *storeTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *storeTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

func (t *storeTx) HasOverlap(ctx context.Context, start, end time.Time, excludeID string) (bool, error) {
	var exists bool
	var err error
	if excludeID == "" {
		err = t.tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM appointments
				WHERE status <> 'cancelled'
					AND start_time < $2
					AND end_time > $1
			)
		`, start, end).Scan(&exists)
	} else {
		err = t.tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM appointments
				WHERE status <> 'cancelled'
					AND id <> $3
					AND start_time < $2
					AND end_time > $1
			)
		`, start, end, excludeID).Scan(&exists)
	}
	if err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

func (t *storeTx) InsertAppointment(ctx context.Context, appt *model.Appointment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, patient_id, title, start_time, end_time, guest_name, guest_phone, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, appt.ID, appt.PatientID, appt.Title, appt.StartTime, appt.EndTime,
		appt.GuestName, appt.GuestPhone, appt.Notes, appt.Status).Scan(&appt.CreatedAt)
	return mapError(err)
}

func (t *storeTx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	var a model.Appointment
	err := t.tx.QueryRow(ctx, `
		SELECT id, patient_id, title, start_time, end_time, guest_name, guest_phone, notes, status, created_at
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(
		&a.ID, &a.PatientID, &a.Title, &a.StartTime, &a.EndTime,
		&a.GuestName, &a.GuestPhone, &a.Notes, &a.Status, &a.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, mapError(err)
	}
	return a, nil
}

func (t *storeTx) UpdateAppointment(ctx context.Context, appt model.Appointment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET patient_id = $2,
			title = $3,
			start_time = $4,
			end_time = $5,
			guest_name = $6,
			guest_phone = $7,
			notes = $8
		WHERE id = $1
	`, appt.ID, appt.PatientID, appt.Title, appt.StartTime, appt.EndTime,
		appt.GuestName, appt.GuestPhone, appt.Notes)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: appointment %s", scheduler.ErrNotFound, appt.ID)
	}
	return nil
}

func (t *storeTx) MarkCancelled(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'cancelled'
		WHERE id = $1
	`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: appointment %s", scheduler.ErrNotFound, id)
	}
	return nil
}

func (t *storeTx) DeleteAppointment(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM appointments
		WHERE id = $1
	`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: appointment %s", scheduler.ErrNotFound, id)
	}
	return nil
}

// ResolvePatient finds or creates the patient row for a contact handle.
// The insert is ON CONFLICT DO NOTHING on the unique username, so two
// concurrent bookings for the same phone both land on the surviving row.
func (t *storeTx) ResolvePatient(ctx context.Context, username, fullName, phone string) (model.Patient, error) {
	p, err := t.getPatientByUsername(ctx, username)
	if err == nil {
		return p, nil
	}
	if !isNotFound(err) {
		return model.Patient{}, err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO patients (id, username, full_name, email, phone, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (username) DO NOTHING
	`, uuid.NewString(), username, fullName, username+"@hasta.com", phone, model.RolePatient)
	if err != nil {
		return model.Patient{}, mapError(err)
	}

	return t.getPatientByUsername(ctx, username)
}

func (t *storeTx) GetPatient(ctx context.Context, id string) (model.Patient, error) {
	return scanPatient(t.tx.QueryRow(ctx, `
		SELECT id, username, full_name, email, phone, role, created_at
		FROM patients
		WHERE id = $1
	`, id))
}

func (t *storeTx) getPatientByUsername(ctx context.Context, username string) (model.Patient, error) {
	return scanPatient(t.tx.QueryRow(ctx, `
		SELECT id, username, full_name, email, phone, role, created_at
		FROM patients
		WHERE username = $1
	`, username))
}

func (t *storeTx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

func isNotFound(err error) bool {
	return errors.Is(err, scheduler.ErrNotFound)
}
