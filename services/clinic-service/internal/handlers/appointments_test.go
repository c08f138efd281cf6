package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eceaydogan/dentaplan/libs/auth"
	"github.com/eceaydogan/dentaplan/libs/httpx"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/model"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/procedures"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/scheduler"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/storage"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*httptest.Server, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	logger := slog.New(slog.DiscardHandler)
	svc := scheduler.New(store, procedures.Default(), logger, scheduler.Config{
		Location: time.UTC,
		DayStart: 9 * time.Hour,
		DayEnd:   18 * time.Hour,
		SlotStep: 15 * time.Minute,
	})
	h := NewAppointmentHandler(svc, logger)

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/appointments", h.Appointments)
	api.HandleFunc("/api/v1/appointments/update", h.Update)
	api.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
	api.HandleFunc("/api/v1/appointments/delete", h.Delete)
	api.HandleFunc("/api/v1/calendar", h.Calendar)
	api.HandleFunc("/api/v1/slots", h.Slots)

	srv := httptest.NewServer(httpx.Chain(api, WithAuth(testSecret)))
	t.Cleanup(srv.Close)
	return srv, store
}

func tokenFor(t *testing.T, sub, role string) string {
	t.Helper()
	now := time.Now()
	token, err := auth.SignHS256(auth.Claims{
		Sub:  sub,
		Role: role,
		Iat:  now.Unix(),
		Exp:  now.Add(time.Hour).Unix(),
	}, testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/appointments", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/appointments", "not.a.jwt", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.StatusCode)
	}
}

func TestCreateConflictStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	token := tokenFor(t, "", model.RoleStaff)

	body := `{"procedure":"Muayene","date":"2026-09-01","time":"10:00","guest_name":"Mehmet Kaya","guest_phone":"5329998877"}`
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments", token, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments", token, body)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for same slot, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments", token, `{"procedure":"","date":"x","time":"y"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid input, got %d", resp.StatusCode)
	}
}

func TestGuestFieldsStaffOnly(t *testing.T) {
	srv, store := newTestServer(t)
	p := store.AddPatient(model.Patient{Username: "5551112233", FullName: "Ayşe Yılmaz", Phone: "5551112233", Role: model.RolePatient})
	token := tokenFor(t, p.ID, model.RolePatient)

	body := `{"procedure":"Muayene","date":"2026-09-01","time":"10:00","guest_phone":"5320000000"}`
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments", token, body)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for patient guest booking, got %d", resp.StatusCode)
	}
}

func TestCancelOwnershipCheck(t *testing.T) {
	srv, store := newTestServer(t)
	staffToken := tokenFor(t, "", model.RoleStaff)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments", staffToken,
		`{"procedure":"Muayene","date":"2026-09-01","time":"10:00","guest_name":"Mehmet Kaya","guest_phone":"5329998877"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		AppointmentID string `json:"appointment_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	other := store.AddPatient(model.Patient{Username: "5440001122", FullName: "Ali Demir", Role: model.RolePatient})
	otherToken := tokenFor(t, other.ID, model.RolePatient)

	cancelBody := `{"appointment_id":"` + created.AppointmentID + `"}`
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/cancel", otherToken, cancelBody)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 cancelling someone else's booking, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/cancel", staffToken, cancelBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for staff cancel, got %d", resp.StatusCode)
	}
}

func TestDeleteAndUpdateStaffOnly(t *testing.T) {
	srv, store := newTestServer(t)
	p := store.AddPatient(model.Patient{Username: "5551112233", Role: model.RolePatient})
	patientToken := tokenFor(t, p.ID, model.RolePatient)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/delete", patientToken, `{"appointment_id":"x"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for patient delete, got %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/update", patientToken, `{"appointment_id":"x"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for patient update, got %d", resp.StatusCode)
	}
}

func TestCalendarRedactsForeignBookings(t *testing.T) {
	srv, store := newTestServer(t)
	staffToken := tokenFor(t, "", model.RoleStaff)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments", staffToken,
		`{"procedure":"Muayene","date":"2026-09-01","time":"10:00","guest_name":"Mehmet Kaya","guest_phone":"5329998877"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	viewer := store.AddPatient(model.Patient{Username: "5440001122", FullName: "Ali Demir", Role: model.RolePatient})
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/calendar", tokenFor(t, viewer.ID, model.RolePatient), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var events []model.CalendarEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode calendar: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	evt := events[0]
	if evt.Title != "Dolu" || evt.GuestName != "" || evt.GuestPhone != "" || evt.Notes != "" {
		t.Fatalf("expected redacted event, got %+v", evt)
	}
}

func TestNotFoundStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	token := tokenFor(t, "", model.RoleStaff)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/cancel", token, `{"appointment_id":"missing"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
