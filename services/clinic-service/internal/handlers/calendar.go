package handlers

import (
	"net/http"
	"strings"
	"time"
)

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Date      string `json:"date"`
	Time      string `json:"time"`
}

// Calendar returns the clinic calendar feed redacted for the viewer.
func (h *AppointmentHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	viewer, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	events, err := h.svc.ListForCalendar(r.Context(), viewer)
	if err != nil {
		writeSchedulerError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// Slots returns the free booking slots for a procedure on a given
// clinic-local date. Procedure is optional; without it the default
// duration applies.
func (h *AppointmentHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireIdentity(w, r); !ok {
		return
	}

	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		http.Error(w, "date required", http.StatusBadRequest)
		return
	}
	procedure := strings.TrimSpace(r.URL.Query().Get("procedure"))

	slots, err := h.svc.Slots(r.Context(), date, procedure, time.Now())
	if err != nil {
		writeSchedulerError(w, h.logger, err)
		return
	}

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			StartTime: s.Start.Format(time.RFC3339),
			EndTime:   s.End.Format(time.RFC3339),
			Date:      s.Start.Format("2006-01-02"),
			Time:      s.Start.Format("15:04"),
		})
	}
	writeJSON(w, http.StatusOK, items)
}
