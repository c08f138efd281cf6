package model

import "time"

const (
	RolePatient = "patient"
	RoleStaff   = "staff"
)

const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Patient is a person known to the clinic. Guest bookings create one
// lazily, keyed by phone number; the row is never deleted by this service.
type Patient struct {
	ID        string
	Username  string // unique contact handle (phone for guest-created rows)
	FullName  string
	Email     string
	Phone     string
	Role      string
	CreatedAt time.Time
}

// Appointment is one time-slotted booking. PatientID is nil while a guest
// booking has not been reconciled to a patient row.
type Appointment struct {
	ID         string
	PatientID  *string
	Title      string // procedure name
	StartTime  time.Time
	EndTime    time.Time
	GuestName  string
	GuestPhone string
	Notes      string
	Status     string
	CreatedAt  time.Time
}

func (a Appointment) Cancelled() bool {
	return a.Status == StatusCancelled
}

// AppointmentWithPatient carries the owning patient's display fields for
// list/calendar views (LEFT JOIN; empty when unlinked).
type AppointmentWithPatient struct {
	Appointment
	PatientName  string
	PatientPhone string
}

// DisplayTitle is what the calendar shows for a booking the viewer may see
// in full: the guest name if present, else the linked patient's name.
func (a AppointmentWithPatient) DisplayTitle() string {
	if a.GuestName != "" {
		return a.GuestName
	}
	if a.PatientName != "" {
		return a.PatientName
	}
	return "Dolu"
}

// ContactPhone prefers the phone captured on the booking over the
// patient record's.
func (a AppointmentWithPatient) ContactPhone() string {
	if a.GuestPhone != "" {
		return a.GuestPhone
	}
	return a.PatientPhone
}

// Treatment is a staff-recorded entry in a patient's treatment and
// billing history.
type Treatment struct {
	ID              string
	PatientID       string
	ProcedureName   string
	ToothNumber     string
	Cost            float64
	PaymentReceived float64
	Notes           string
	Date            time.Time
}

// CalendarEvent is the calendar feed shape. For a patient viewing someone
// else's booking, everything beyond id/start/end is redacted and Title is
// the generic busy marker.
type CalendarEvent struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Start      string `json:"start"`
	End        string `json:"end"`
	IsMine     bool   `json:"is_mine"`
	Procedure  string `json:"procedure,omitempty"`
	GuestName  string `json:"guest_name,omitempty"`
	GuestPhone string `json:"guest_phone,omitempty"`
	Notes      string `json:"notes,omitempty"`
}
