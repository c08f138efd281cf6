// Package storage provides the Postgres persistence for the scheduling
// core plus the treatment/billing repositories. The no-overlap invariant
// is enforced twice: by the in-transaction overlap query and by the
// appointments table's exclusion constraint, whose violation maps to the
// scheduler's conflict error.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/eceaydogan/dentaplan/libs/db"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/model"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/outbox"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/scheduler"
)

const apptColumns = `
	a.id, a.patient_id, a.title, a.start_time, a.end_time,
	a.guest_name, a.guest_phone, a.notes, a.status, a.created_at,
	COALESCE(p.full_name, ''), COALESCE(p.phone, '')`

type Store struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

var _ scheduler.Store = (*Store)(nil)

func New(pool *db.Pool, outboxRepo *outbox.Repository) *Store {
	return &Store{pool: pool, outbox: outboxRepo}
}

func (s *Store) Begin(ctx context.Context) (scheduler.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &storeTx{tx: tx, outbox: s.outbox}, nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (model.AppointmentWithPatient, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments a
		LEFT JOIN patients p ON p.id = a.patient_id
		WHERE a.id = $1
	`, id)
	return scanAppointment(row)
}

func (s *Store) ListActive(ctx context.Context) ([]model.AppointmentWithPatient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments a
		LEFT JOIN patients p ON p.id = a.patient_id
		WHERE a.status <> 'cancelled'
		ORDER BY a.start_time ASC
	`)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (s *Store) ListAll(ctx context.Context, limit int) ([]model.AppointmentWithPatient, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments a
		LEFT JOIN patients p ON p.id = a.patient_id
		ORDER BY a.start_time DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (s *Store) ListByPatient(ctx context.Context, patientID string) ([]model.AppointmentWithPatient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments a
		LEFT JOIN patients p ON p.id = a.patient_id
		WHERE a.patient_id = $1
		ORDER BY a.start_time DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (s *Store) GetPatient(ctx context.Context, id string) (model.Patient, error) {
	return scanPatient(s.pool.QueryRow(ctx, `
		SELECT id, username, full_name, email, phone, role, created_at
		FROM patients
		WHERE id = $1
	`, id))
}

func (s *Store) GetPatientByUsername(ctx context.Context, username string) (model.Patient, error) {
	return scanPatient(s.pool.QueryRow(ctx, `
		SELECT id, username, full_name, email, phone, role, created_at
		FROM patients
		WHERE username = $1
	`, username))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (model.AppointmentWithPatient, error) {
	var a model.AppointmentWithPatient
	err := row.Scan(
		&a.ID, &a.PatientID, &a.Title, &a.StartTime, &a.EndTime,
		&a.GuestName, &a.GuestPhone, &a.Notes, &a.Status, &a.CreatedAt,
		&a.PatientName, &a.PatientPhone,
	)
	if err != nil {
		return model.AppointmentWithPatient{}, mapError(err)
	}
	return a, nil
}

func scanAppointments(rows pgx.Rows) ([]model.AppointmentWithPatient, error) {
	defer rows.Close()
	var appts []model.AppointmentWithPatient
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func scanPatient(row rowScanner) (model.Patient, error) {
	var p model.Patient
	err := row.Scan(&p.ID, &p.Username, &p.FullName, &p.Email, &p.Phone, &p.Role, &p.CreatedAt)
	if err != nil {
		return model.Patient{}, mapError(err)
	}
	return p, nil
}

// mapError translates driver errors into the scheduler's taxonomy.
// 23P01 is an exclusion-constraint violation (overlapping slot), 23505 a
// unique violation; both mean somebody else won the race.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: no such row", scheduler.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23P01":
			return fmt.Errorf("%w: slot taken concurrently", scheduler.ErrConflict)
		case "23505":
			return fmt.Errorf("%w: duplicate key", scheduler.ErrConflict)
		}
	}
	return err
}
