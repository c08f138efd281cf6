package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/model"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/scheduler"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/storage"
)

// PatientHandler serves the staff-facing patient chart: the record, the
// booking history, and the treatment ledger with its running balance.
type PatientHandler struct {
	svc        *scheduler.Service
	treatments *storage.TreatmentRepository
	logger     *slog.Logger
}

func NewPatientHandler(svc *scheduler.Service, treatments *storage.TreatmentRepository, logger *slog.Logger) *PatientHandler {
	return &PatientHandler{svc: svc, treatments: treatments, logger: logger}
}

type treatmentItem struct {
	TreatmentID     string  `json:"treatment_id"`
	ProcedureName   string  `json:"procedure_name"`
	ToothNumber     string  `json:"tooth_number,omitempty"`
	Cost            float64 `json:"cost"`
	PaymentReceived float64 `json:"payment_received"`
	Balance         float64 `json:"balance"`
	Notes           string  `json:"notes,omitempty"`
	Date            string  `json:"date"`
}

type patientDetailResponse struct {
	PatientID    string            `json:"patient_id"`
	FullName     string            `json:"full_name"`
	Username     string            `json:"username"`
	Email        string            `json:"email"`
	Phone        string            `json:"phone"`
	Appointments []appointmentItem `json:"appointments"`
	Treatments   []treatmentItem   `json:"treatments"`
	TotalBalance float64           `json:"total_balance"`
}

// Detail returns one patient's full chart. Staff only.
func (h *PatientHandler) Detail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}

	patientID := strings.TrimSpace(r.URL.Query().Get("patient_id"))
	if patientID == "" {
		http.Error(w, "patient_id required", http.StatusBadRequest)
		return
	}

	patient, err := h.svc.Patient(r.Context(), patientID)
	if err != nil {
		writePatientError(w, h.logger, err)
		return
	}
	appts, err := h.svc.ListForPatient(r.Context(), patientID)
	if err != nil {
		writeSchedulerError(w, h.logger, err)
		return
	}
	treatments, err := h.treatments.ListByPatient(r.Context(), patientID)
	if err != nil {
		writeSchedulerError(w, h.logger, err)
		return
	}

	resp := patientDetailResponse{
		PatientID:    patient.ID,
		FullName:     patient.FullName,
		Username:     patient.Username,
		Email:        patient.Email,
		Phone:        patient.Phone,
		Appointments: make([]appointmentItem, 0, len(appts)),
		Treatments:   make([]treatmentItem, 0, len(treatments)),
	}
	for _, appt := range appts {
		resp.Appointments = append(resp.Appointments, appointmentToItem(appt))
	}
	for _, t := range treatments {
		item := treatmentToItem(t)
		resp.Treatments = append(resp.Treatments, item)
		resp.TotalBalance += item.Balance
	}
	writeJSON(w, http.StatusOK, resp)
}

func treatmentToItem(t model.Treatment) treatmentItem {
	return treatmentItem{
		TreatmentID:     t.ID,
		ProcedureName:   t.ProcedureName,
		ToothNumber:     t.ToothNumber,
		Cost:            t.Cost,
		PaymentReceived: t.PaymentReceived,
		Balance:         t.Cost - t.PaymentReceived,
		Notes:           t.Notes,
		Date:            t.Date.UTC().Format(time.RFC3339),
	}
}

func writePatientError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, scheduler.ErrNotFound) {
		http.Error(w, "patient not found", http.StatusNotFound)
		return
	}
	writeSchedulerError(w, logger, err)
}
