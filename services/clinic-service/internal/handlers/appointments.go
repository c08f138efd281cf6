package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/model"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/scheduler"
)

// AppointmentHandler exposes the booking operations over HTTP. Routes are
// mounted behind WithAuth; role checks beyond "authenticated" happen here.
type AppointmentHandler struct {
	svc    *scheduler.Service
	logger *slog.Logger
}

func NewAppointmentHandler(svc *scheduler.Service, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, logger: logger}
}

type createAppointmentRequest struct {
	Procedure  string `json:"procedure"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	Notes      string `json:"notes"`
	GuestName  string `json:"guest_name"`
	GuestPhone string `json:"guest_phone"`
}

type updateAppointmentRequest struct {
	AppointmentID string  `json:"appointment_id"`
	Procedure     *string `json:"procedure"`
	Date          *string `json:"date"`
	Time          *string `json:"time"`
	GuestName     *string `json:"guest_name"`
	GuestPhone    *string `json:"guest_phone"`
	Notes         *string `json:"notes"`
}

type appointmentIDRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id,omitempty"`
	PatientName   string `json:"patient_name,omitempty"`
	Procedure     string `json:"procedure"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	GuestName     string `json:"guest_name,omitempty"`
	GuestPhone    string `json:"guest_phone,omitempty"`
	Notes         string `json:"notes,omitempty"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

// Appointments dispatches the collection route: GET lists, POST books.
func (h *AppointmentHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.List(w, r)
	case http.MethodPost:
		h.Create(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	// Guest contact fields on someone else's behalf are a staff operation.
	if !actor.IsStaff() && (req.GuestName != "" || req.GuestPhone != "") {
		http.Error(w, "guest bookings are staff only", http.StatusForbidden)
		return
	}

	appt, err := h.svc.Create(r.Context(), scheduler.BookingRequest{
		Procedure:  req.Procedure,
		Date:       req.Date,
		Time:       req.Time,
		Notes:      req.Notes,
		GuestName:  req.GuestName,
		GuestPhone: req.GuestPhone,
	}, actor)
	if err != nil {
		writeSchedulerError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, appointmentToItem(model.AppointmentWithPatient{Appointment: appt}))
}

func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_, ok := requireStaff(w, r)
	if !ok {
		return
	}

	var req updateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	actor, _ := identityFrom(r)
	appt, err := h.svc.Update(r.Context(), req.AppointmentID, scheduler.UpdateRequest{
		Procedure:  req.Procedure,
		Date:       req.Date,
		Time:       req.Time,
		GuestName:  req.GuestName,
		GuestPhone: req.GuestPhone,
		Notes:      req.Notes,
	}, actor)
	if err != nil {
		writeSchedulerError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentToItem(model.AppointmentWithPatient{Appointment: appt}))
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req appointmentIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	// A patient may only cancel their own booking.
	if !actor.IsStaff() {
		appt, err := h.svc.Get(r.Context(), req.AppointmentID)
		if err != nil {
			writeSchedulerError(w, h.logger, err)
			return
		}
		if appt.PatientID == nil || *appt.PatientID != actor.PatientID {
			http.Error(w, "not your appointment", http.StatusForbidden)
			return
		}
	}

	appt, err := h.svc.Cancel(r.Context(), req.AppointmentID, actor)
	if err != nil {
		writeSchedulerError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"appointment_id": appt.ID,
		"status":         appt.Status,
	})
}

func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireStaff(w, r)
	if !ok {
		return
	}

	var req appointmentIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	if err := h.svc.Delete(r.Context(), req.AppointmentID, actor); err != nil {
		writeSchedulerError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"appointment_id": req.AppointmentID,
		"status":         "deleted",
	})
}

// List returns the caller's appointments. Staff get the whole book, newest
// first; a patient gets only their own.
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var (
		appts []model.AppointmentWithPatient
		err   error
	)
	if actor.IsStaff() {
		limit := 100
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			if n, convErr := strconv.Atoi(raw); convErr == nil && n > 0 && n <= 500 {
				limit = n
			}
		}
		appts, err = h.svc.ListAll(r.Context(), limit)
	} else {
		appts, err = h.svc.ListForPatient(r.Context(), actor.PatientID)
	}
	if err != nil {
		writeSchedulerError(w, h.logger, err)
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, appointmentToItem(appt))
	}
	writeJSON(w, http.StatusOK, items)
}

func appointmentToItem(appt model.AppointmentWithPatient) appointmentItem {
	item := appointmentItem{
		AppointmentID: appt.ID,
		PatientName:   appt.PatientName,
		Procedure:     appt.Title,
		StartTime:     appt.StartTime.Format(time.RFC3339),
		EndTime:       appt.EndTime.Format(time.RFC3339),
		GuestName:     appt.GuestName,
		GuestPhone:    appt.GuestPhone,
		Notes:         appt.Notes,
		Status:        appt.Status,
	}
	if appt.PatientID != nil {
		item.PatientID = *appt.PatientID
	}
	if !appt.CreatedAt.IsZero() {
		item.CreatedAt = appt.CreatedAt.UTC().Format(time.RFC3339)
	}
	return item
}

func writeSchedulerError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, scheduler.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, scheduler.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case errors.Is(err, scheduler.ErrConflict):
		http.Error(w, "time slot already booked", http.StatusConflict)
	default:
		logger.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
