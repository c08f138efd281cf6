package scheduler_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/model"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/outbox"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/procedures"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/scheduler"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/storage"
)

var staff = scheduler.Identity{Role: model.RoleStaff}

func newService(t *testing.T) (*scheduler.Service, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	svc := scheduler.New(store, procedures.Default(), slog.New(slog.DiscardHandler), scheduler.Config{
		Location: time.UTC,
		DayStart: 9 * time.Hour,
		DayEnd:   18 * time.Hour,
		SlotStep: 15 * time.Minute,
	})
	return svc, store
}

func booking(procedure, date, clock string) scheduler.BookingRequest {
	return scheduler.BookingRequest{Procedure: procedure, Date: date, Time: clock}
}

func TestCreateComputesEndFromProcedure(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	appt, err := svc.Create(ctx, booking("Kanal Tedavisi", "2026-09-01", "10:00"), staff)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if got := appt.EndTime.Sub(appt.StartTime); got != time.Hour {
		t.Fatalf("expected 1h duration for Kanal Tedavisi, got %v", got)
	}

	appt, err = svc.Create(ctx, booking("Bilinmeyen İşlem", "2026-09-01", "14:00"), staff)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if got := appt.EndTime.Sub(appt.StartTime); got != 30*time.Minute {
		t.Fatalf("expected 30m default duration, got %v", got)
	}
}

func TestCreateRejectsOverlap(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, booking("Muayene", "2026-09-01", "10:00"), staff); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	_, err := svc.Create(ctx, booking("Muayene", "2026-09-01", "10:15"), staff)
	if !errors.Is(err, scheduler.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestBackToBackBookingsAllowed(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, booking("Muayene", "2026-09-01", "10:00"), staff); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	// Ends 10:30; a booking starting exactly then must be accepted.
	if _, err := svc.Create(ctx, booking("Muayene", "2026-09-01", "10:30"), staff); err != nil {
		t.Fatalf("back-to-back create failed: %v", err)
	}
}

func TestCreateInvalidInput(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := []scheduler.BookingRequest{
		booking("", "2026-09-01", "10:00"),
		booking("Muayene", "garbage", "10:00"),
		booking("Muayene", "2026-09-01", "25:99"),
	}
	for _, req := range cases {
		if _, err := svc.Create(ctx, req, staff); !errors.Is(err, scheduler.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", req, err)
		}
	}
}

func TestPatientSelfBookingLinks(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	p := store.AddPatient(model.Patient{
		Username: "5551112233",
		FullName: "Ayşe Yılmaz",
		Phone:    "5551112233",
		Email:    "ayse@example.com",
		Role:     model.RolePatient,
	})

	appt, err := svc.Create(ctx, booking("Dolgu", "2026-09-02", "11:00"), scheduler.Identity{PatientID: p.ID, Role: model.RolePatient})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if appt.PatientID == nil || *appt.PatientID != p.ID {
		t.Fatal("expected appointment linked to the booking patient")
	}
	if appt.GuestName != "Ayşe Yılmaz" || appt.GuestPhone != "5551112233" {
		t.Fatalf("expected contact fields denormalized, got %q %q", appt.GuestName, appt.GuestPhone)
	}
}

func TestGuestBookingsReconcileByPhone(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, scheduler.BookingRequest{
		Procedure: "Muayene", Date: "2026-09-03", Time: "09:00",
		GuestName: "Mehmet Kaya", GuestPhone: "5329998877",
	}, staff)
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	second, err := svc.Create(ctx, scheduler.BookingRequest{
		Procedure: "Dolgu", Date: "2026-09-03", Time: "15:00",
		GuestName: "Mehmet Kaya", GuestPhone: "5329998877",
	}, staff)
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}

	if first.PatientID == nil || second.PatientID == nil {
		t.Fatal("expected both bookings linked to a patient")
	}
	if *first.PatientID != *second.PatientID {
		t.Fatal("expected the same phone to resolve to one patient record")
	}
}

func TestCancelFreesSlotAndIsIdempotent(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	appt, err := svc.Create(ctx, booking("Muayene", "2026-09-04", "10:00"), staff)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.Cancel(ctx, appt.ID, staff); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	// Cancelled bookings stop blocking the slot.
	if _, err := svc.Create(ctx, booking("Muayene", "2026-09-04", "10:00"), staff); err != nil {
		t.Fatalf("rebook after cancel failed: %v", err)
	}
	// A second cancel is a no-op, not an error.
	cancelled, err := svc.Cancel(ctx, appt.ID, staff)
	if err != nil {
		t.Fatalf("repeat cancel failed: %v", err)
	}
	if cancelled.Status != model.StatusCancelled {
		t.Fatalf("expected cancelled status, got %q", cancelled.Status)
	}

	var booked, cancelledEvents int
	for _, evt := range store.Events() {
		switch evt.EventType {
		case outbox.EventAppointmentBooked:
			booked++
		case outbox.EventAppointmentCancelled:
			cancelledEvents++
		}
	}
	if booked != 2 || cancelledEvents != 1 {
		t.Fatalf("expected 2 booked and 1 cancelled event, got %d and %d", booked, cancelledEvents)
	}
}

func TestUpdateReschedule(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	appt, err := svc.Create(ctx, booking("Muayene", "2026-09-05", "10:00"), staff)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	other, err := svc.Create(ctx, booking("Muayene", "2026-09-05", "11:00"), staff)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	date := "2026-09-05"
	clock := "11:15"
	// Moving onto the other booking must conflict.
	if _, err := svc.Update(ctx, appt.ID, scheduler.UpdateRequest{Date: &date, Time: &clock}, staff); !errors.Is(err, scheduler.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// Rescheduling in place excludes the appointment itself.
	ownClock := "11:00"
	if _, err := svc.Update(ctx, other.ID, scheduler.UpdateRequest{Date: &date, Time: &ownClock}, staff); err != nil {
		t.Fatalf("reschedule onto own slot failed: %v", err)
	}

	// Date without time is rejected.
	if _, err := svc.Update(ctx, appt.ID, scheduler.UpdateRequest{Date: &date}, staff); !errors.Is(err, scheduler.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUpdateRecomputesEndFromNewProcedure(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	appt, err := svc.Create(ctx, booking("Muayene", "2026-09-06", "10:00"), staff)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	procedure := "İmplant"
	date := "2026-09-06"
	clock := "13:00"
	updated, err := svc.Update(ctx, appt.ID, scheduler.UpdateRequest{Procedure: &procedure, Date: &date, Time: &clock}, staff)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if got := updated.EndTime.Sub(updated.StartTime); got != 90*time.Minute {
		t.Fatalf("expected 90m İmplant duration after update, got %v", got)
	}
}

func TestUpdateFieldSemantics(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	appt, err := svc.Create(ctx, scheduler.BookingRequest{
		Procedure: "Muayene", Date: "2026-09-07", Time: "10:00",
		GuestName: "Ali Demir", GuestPhone: "5301234567", Notes: "kontrol",
	}, staff)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	empty := ""
	// Notes can be cleared, guest phone cannot.
	updated, err := svc.Update(ctx, appt.ID, scheduler.UpdateRequest{Notes: &empty}, staff)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Notes != "" {
		t.Fatalf("expected notes cleared, got %q", updated.Notes)
	}
	if _, err := svc.Update(ctx, appt.ID, scheduler.UpdateRequest{GuestPhone: &empty}, staff); !errors.Is(err, scheduler.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput clearing phone, got %v", err)
	}
	if _, err := svc.Update(ctx, appt.ID, scheduler.UpdateRequest{Procedure: &empty}, staff); !errors.Is(err, scheduler.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput clearing procedure, got %v", err)
	}
}

func TestUpdateBackfillsPatientLink(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	appt, err := svc.Create(ctx, scheduler.BookingRequest{
		Procedure: "Muayene", Date: "2026-09-08", Time: "10:00",
		GuestName: "Fatma Çelik",
	}, staff)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if appt.PatientID != nil {
		t.Fatal("expected booking without phone to stay unlinked")
	}

	phone := "5447778899"
	updated, err := svc.Update(ctx, appt.ID, scheduler.UpdateRequest{GuestPhone: &phone}, staff)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.PatientID == nil {
		t.Fatal("expected patient link after phone was added")
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	appt, err := svc.Create(ctx, booking("Muayene", "2026-09-09", "10:00"), staff)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := svc.Delete(ctx, appt.ID, staff); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := svc.Get(ctx, appt.ID); !errors.Is(err, scheduler.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := svc.Delete(ctx, appt.ID, staff); !errors.Is(err, scheduler.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting again, got %v", err)
	}
}

func TestCalendarRedaction(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	p := store.AddPatient(model.Patient{
		Username: "5551112233",
		FullName: "Ayşe Yılmaz",
		Phone:    "5551112233",
		Role:     model.RolePatient,
	})
	mine, err := svc.Create(ctx, booking("Dolgu", "2026-09-10", "10:00"), scheduler.Identity{PatientID: p.ID, Role: model.RolePatient})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	other, err := svc.Create(ctx, scheduler.BookingRequest{
		Procedure: "Muayene", Date: "2026-09-10", Time: "14:00",
		GuestName: "Mehmet Kaya", GuestPhone: "5329998877",
	}, staff)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	events, err := svc.ListForCalendar(ctx, scheduler.Identity{PatientID: p.ID, Role: model.RolePatient})
	if err != nil {
		t.Fatalf("calendar failed: %v", err)
	}
	byID := make(map[string]model.CalendarEvent, len(events))
	for _, evt := range events {
		byID[evt.ID] = evt
	}

	own := byID[mine.ID]
	if !own.IsMine || own.Title != "Ayşe Yılmaz" || own.Procedure != "Dolgu" {
		t.Fatalf("expected full detail on own booking, got %+v", own)
	}
	foreign := byID[other.ID]
	if foreign.IsMine {
		t.Fatal("foreign booking marked as mine")
	}
	if foreign.Title != "Dolu" || foreign.GuestName != "" || foreign.GuestPhone != "" || foreign.Procedure != "" || foreign.Notes != "" {
		t.Fatalf("expected redacted foreign booking, got %+v", foreign)
	}

	staffView, err := svc.ListForCalendar(ctx, staff)
	if err != nil {
		t.Fatalf("staff calendar failed: %v", err)
	}
	for _, evt := range staffView {
		if evt.Title == "Dolu" {
			t.Fatalf("staff view redacted event %q", evt.ID)
		}
	}
}

func TestSlots(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, booking("Muayene", "2026-09-11", "09:00"), staff); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	slots, err := svc.Slots(ctx, "2026-09-11", "Muayene", now)
	if err != nil {
		t.Fatalf("slots failed: %v", err)
	}
	if len(slots) == 0 {
		t.Fatal("expected available slots")
	}

	day := time.Date(2026, 9, 11, 0, 0, 0, 0, time.UTC)
	first := slots[0]
	if first.Start.Before(day.Add(9 * time.Hour)) {
		t.Fatalf("slot before opening: %v", first.Start)
	}
	// The 09:00-09:30 booking blocks the first two steps.
	if !first.Start.Equal(day.Add(9*time.Hour + 30*time.Minute)) {
		t.Fatalf("expected first slot at 09:30, got %v", first.Start)
	}
	last := slots[len(slots)-1]
	if last.End.After(day.Add(18 * time.Hour)) {
		t.Fatalf("slot past closing: %v", last.End)
	}

	if _, err := svc.Slots(ctx, "not-a-date", "Muayene", now); !errors.Is(err, scheduler.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
