// Package scheduler implements the appointment scheduling core: duration
// derivation, conflict detection, guest-to-patient reconciliation, and the
// calendar view with per-viewer redaction. Callers authenticate and
// authorize before invoking it; every operation takes the acting identity
// explicitly.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/model"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/outbox"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/procedures"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/scheduling"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("scheduling conflict")
	ErrNotFound     = errors.New("not found")
)

// Identity is the authenticated caller. Zero PatientID with RoleStaff is
// valid (staff accounts are not patients).
type Identity struct {
	PatientID string
	Role      string
}

func (id Identity) IsStaff() bool {
	return id.Role == model.RoleStaff
}

const (
	dateLayout     = "2006-01-02"
	clockLayout    = "15:04"
	dateTimeLayout = "2006-01-02 15:04"
)

type Config struct {
	Location *time.Location
	DayStart time.Duration // offset from midnight, e.g. 9h
	DayEnd   time.Duration
	SlotStep time.Duration
}

type Service struct {
	store    Store
	catalog  procedures.Catalog
	logger   *slog.Logger
	loc      *time.Location
	dayStart time.Duration
	dayEnd   time.Duration
	slotStep time.Duration
}

func New(store Store, catalog procedures.Catalog, logger *slog.Logger, cfg Config) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	if cfg.DayStart <= 0 {
		cfg.DayStart = 9 * time.Hour
	}
	if cfg.DayEnd <= cfg.DayStart {
		cfg.DayEnd = 18 * time.Hour
	}
	if cfg.SlotStep <= 0 {
		cfg.SlotStep = 15 * time.Minute
	}
	return &Service{
		store:    store,
		catalog:  catalog,
		logger:   logger,
		loc:      loc,
		dayStart: cfg.DayStart,
		dayEnd:   cfg.DayEnd,
		slotStep: cfg.SlotStep,
	}
}

// BookingRequest is one booking submission. Date and Time are clinic-local
// ("2006-01-02" and "15:04"). Guest fields are used when the actor is
// staff entering a walk-in or phone booking.
type BookingRequest struct {
	Procedure  string
	Date       string
	Time       string
	Notes      string
	GuestName  string
	GuestPhone string
}

// Create books an appointment. The slot is conflict-checked and inserted
// in one transaction; the row-level exclusion constraint backstops races,
// so concurrent submissions for the same slot cannot both commit.
func (s *Service) Create(ctx context.Context, req BookingRequest, actor Identity) (model.Appointment, error) {
	procedure := strings.TrimSpace(req.Procedure)
	if procedure == "" {
		return model.Appointment{}, fmt.Errorf("%w: procedure is required", ErrInvalidInput)
	}
	start, err := s.parseStart(req.Date, req.Time)
	if err != nil {
		return model.Appointment{}, err
	}
	end := start.Add(s.catalog.Duration(procedure))

	appt := model.Appointment{
		ID:         uuid.NewString(),
		Title:      procedure,
		StartTime:  start,
		EndTime:    end,
		GuestName:  strings.TrimSpace(req.GuestName),
		GuestPhone: strings.TrimSpace(req.GuestPhone),
		Notes:      strings.TrimSpace(req.Notes),
		Status:     model.StatusConfirmed,
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	overlap, err := tx.HasOverlap(ctx, start, end, "")
	if err != nil {
		return model.Appointment{}, err
	}
	if overlap {
		return model.Appointment{}, fmt.Errorf("%w: slot %s already booked", ErrConflict, start.Format(dateTimeLayout))
	}

	var contact model.Patient
	switch {
	case !actor.IsStaff() && actor.PatientID != "":
		// A signed-in patient books for themselves.
		contact, err = tx.GetPatient(ctx, actor.PatientID)
		if err != nil {
			return model.Appointment{}, err
		}
		appt.PatientID = &contact.ID
		if appt.GuestName == "" {
			appt.GuestName = contact.FullName
		}
		if appt.GuestPhone == "" {
			appt.GuestPhone = contact.Phone
		}
	case appt.GuestPhone != "":
		// Staff booking with contact info: reconcile the guest into a
		// patient record, reusing an existing one when the phone is known.
		contact, err = tx.ResolvePatient(ctx, appt.GuestPhone, appt.GuestName, appt.GuestPhone)
		if err != nil {
			return model.Appointment{}, err
		}
		appt.PatientID = &contact.ID
	default:
		// Staff booking without a phone stays unlinked; an update can
		// reconcile it later.
	}

	if err := tx.InsertAppointment(ctx, &appt); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.InsertEvent(ctx, s.appointmentEvent(outbox.EventAppointmentBooked, appt, contact)); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}

	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"procedure", appt.Title,
		"start", appt.StartTime.Format(time.RFC3339),
	)
	return appt, nil
}

// UpdateRequest carries partial updates. Nil means "leave unchanged".
// GuestName and Notes accept an empty string to clear the field;
// Procedure and GuestPhone must be non-empty when present.
type UpdateRequest struct {
	Procedure  *string
	Date       *string
	Time       *string
	GuestName  *string
	GuestPhone *string
	Notes      *string
}

// Update edits an appointment. Rescheduling requires both Date and Time;
// the end time is recomputed from the (possibly just-updated) procedure's
// duration and the new slot is conflict-checked against everyone else.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest, actor Identity) (model.Appointment, error) {
	if (req.Date == nil) != (req.Time == nil) {
		return model.Appointment{}, fmt.Errorf("%w: date and time must be provided together", ErrInvalidInput)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := tx.GetAppointmentForUpdate(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}

	if req.Procedure != nil {
		procedure := strings.TrimSpace(*req.Procedure)
		if procedure == "" {
			return model.Appointment{}, fmt.Errorf("%w: procedure cannot be empty", ErrInvalidInput)
		}
		appt.Title = procedure
	}
	if req.GuestName != nil {
		appt.GuestName = strings.TrimSpace(*req.GuestName)
	}
	if req.GuestPhone != nil {
		phone := strings.TrimSpace(*req.GuestPhone)
		if phone == "" {
			return model.Appointment{}, fmt.Errorf("%w: guest phone cannot be cleared", ErrInvalidInput)
		}
		appt.GuestPhone = phone
	}
	if req.Notes != nil {
		appt.Notes = strings.TrimSpace(*req.Notes)
	}

	if req.Date != nil && req.Time != nil {
		start, err := s.parseStart(*req.Date, *req.Time)
		if err != nil {
			return model.Appointment{}, err
		}
		end := start.Add(s.catalog.Duration(appt.Title))

		overlap, err := tx.HasOverlap(ctx, start, end, appt.ID)
		if err != nil {
			return model.Appointment{}, err
		}
		if overlap {
			return model.Appointment{}, fmt.Errorf("%w: slot %s already booked", ErrConflict, start.Format(dateTimeLayout))
		}
		appt.StartTime = start
		appt.EndTime = end
	}

	// A guest booking that now has a phone number gets reconciled to a
	// patient record.
	if appt.PatientID == nil && appt.GuestPhone != "" {
		patient, err := tx.ResolvePatient(ctx, appt.GuestPhone, appt.GuestName, appt.GuestPhone)
		if err != nil {
			return model.Appointment{}, err
		}
		appt.PatientID = &patient.ID
	}

	if err := tx.UpdateAppointment(ctx, appt); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}

	s.logger.Info("appointment updated", "appointment_id", appt.ID)
	return appt, nil
}

// Cancel flips the appointment to cancelled, keeping the record but
// freeing the slot. Cancelling an already-cancelled appointment is a no-op.
func (s *Service) Cancel(ctx context.Context, id string, actor Identity) (model.Appointment, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := tx.GetAppointmentForUpdate(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Cancelled() {
		return appt, nil
	}

	if err := tx.MarkCancelled(ctx, appt.ID); err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.StatusCancelled

	if err := tx.InsertEvent(ctx, s.appointmentEvent(outbox.EventAppointmentCancelled, appt, model.Patient{})); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}

	s.logger.Info("appointment cancelled", "appointment_id", appt.ID)
	return appt, nil
}

// Delete removes the appointment entirely. Unlike Cancel there is no
// retained record.
func (s *Service) Delete(ctx context.Context, id string, actor Identity) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.GetAppointmentForUpdate(ctx, id); err != nil {
		return err
	}
	if err := tx.DeleteAppointment(ctx, id); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.Info("appointment deleted", "appointment_id", id)
	return nil
}

// Get returns one appointment with its patient display fields.
func (s *Service) Get(ctx context.Context, id string) (model.AppointmentWithPatient, error) {
	return s.store.GetAppointment(ctx, id)
}

// ListAll returns every appointment, newest first. Staff listing view.
func (s *Service) ListAll(ctx context.Context, limit int) ([]model.AppointmentWithPatient, error) {
	return s.store.ListAll(ctx, limit)
}

// Patient returns one patient record.
func (s *Service) Patient(ctx context.Context, id string) (model.Patient, error) {
	return s.store.GetPatient(ctx, id)
}

// ListForPatient returns one patient's appointments, newest first.
func (s *Service) ListForPatient(ctx context.Context, patientID string) ([]model.AppointmentWithPatient, error) {
	return s.store.ListByPatient(ctx, patientID)
}

// ListForCalendar returns every non-cancelled appointment as a calendar
// event. Staff see everything; a patient sees full detail on their own
// bookings and only a busy marker on everyone else's.
func (s *Service) ListForCalendar(ctx context.Context, viewer Identity) ([]model.CalendarEvent, error) {
	appts, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	events := make([]model.CalendarEvent, 0, len(appts))
	for _, appt := range appts {
		mine := appt.PatientID != nil && viewer.PatientID != "" && *appt.PatientID == viewer.PatientID
		evt := model.CalendarEvent{
			ID:     appt.ID,
			Start:  appt.StartTime.Format(time.RFC3339),
			End:    appt.EndTime.Format(time.RFC3339),
			IsMine: mine,
		}
		if viewer.IsStaff() || mine {
			evt.Title = appt.DisplayTitle()
			evt.Procedure = appt.Title
			evt.GuestName = appt.GuestName
			evt.GuestPhone = appt.ContactPhone()
			evt.Notes = appt.Notes
		} else {
			evt.Title = "Dolu"
		}
		events = append(events, evt)
	}
	return events, nil
}

// Slots returns the free slots for a procedure on a clinic-local date,
// stepping through the configured workday and skipping busy intervals.
func (s *Service) Slots(ctx context.Context, date, procedure string, now time.Time) ([]scheduling.Interval, error) {
	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), s.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: bad date %q", ErrInvalidInput, date)
	}
	windowStart := day.Add(s.dayStart)
	windowEnd := day.Add(s.dayEnd)

	appts, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	busy := make([]scheduling.Interval, 0, len(appts))
	for _, a := range appts {
		busy = append(busy, scheduling.Interval{Start: a.StartTime, End: a.EndTime})
	}

	duration := s.catalog.Duration(procedure)
	starts := scheduling.AvailableSlots(windowStart, windowEnd, duration, s.slotStep, busy, now)
	slots := make([]scheduling.Interval, 0, len(starts))
	for _, t := range starts {
		slots = append(slots, scheduling.Interval{Start: t, End: t.Add(duration)})
	}
	return slots, nil
}

func (s *Service) parseStart(date, clock string) (time.Time, error) {
	raw := strings.TrimSpace(date) + " " + strings.TrimSpace(clock)
	start, err := time.ParseInLocation(dateTimeLayout, raw, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date/time %q", ErrInvalidInput, raw)
	}
	return start, nil
}

func (s *Service) appointmentEvent(eventType string, appt model.Appointment, contact model.Patient) outbox.Event {
	patientID := ""
	if appt.PatientID != nil {
		patientID = *appt.PatientID
	}
	name := appt.GuestName
	if name == "" {
		name = contact.FullName
	}
	phone := appt.GuestPhone
	if phone == "" {
		phone = contact.Phone
	}
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"patient_id":     patientID,
		"name":           name,
		"phone":          phone,
		"email":          contact.Email,
		"procedure":      appt.Title,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		// Marshalling a map of strings cannot fail; keep the event anyway.
		s.logger.Error("event payload marshal failed", "err", err)
		payload = []byte("{}")
	}
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}
}
