package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/eceaydogan/dentaplan/services/notification-service/internal/storage"
)

type fakeStore struct {
	rows []storage.Notification
}

func (s *fakeStore) Insert(_ context.Context, n storage.Notification) error {
	s.rows = append(s.rows, n)
	return nil
}

type fakeEmail struct {
	sent []string
	err  error
}

func (f *fakeEmail) Send(to, _, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

type fakeSMS struct {
	sent []string
}

func (f *fakeSMS) ProviderID() string { return "sms-fake" }

func (f *fakeSMS) Send(_ context.Context, to, _ string) error {
	f.sent = append(f.sent, to)
	return nil
}

func eventJSON(t *testing.T, email string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"appointment_id": "appt-1",
		"patient_id":     "pat-1",
		"name":           "Ayşe Yılmaz",
		"phone":          "5551112233",
		"email":          email,
		"procedure":      "Dolgu",
		"start_time":     "2026-09-01T10:00:00Z",
		"end_time":       "2026-09-01T10:45:00Z",
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload
}

func newNotifier(store *fakeStore, mail *fakeEmail, texts *fakeSMS) *Notifier {
	return New(store, mail, texts, slog.New(slog.DiscardHandler), "DentaPlan", time.UTC)
}

func TestHandleSendsBothChannels(t *testing.T) {
	store := &fakeStore{}
	mail := &fakeEmail{}
	texts := &fakeSMS{}
	n := newNotifier(store, mail, texts)

	if err := n.Handle(context.Background(), KindConfirmation, eventJSON(t, "ayse@example.com")); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(mail.sent) != 1 || mail.sent[0] != "ayse@example.com" {
		t.Fatalf("expected one email, got %v", mail.sent)
	}
	if len(texts.sent) != 1 || texts.sent[0] != "5551112233" {
		t.Fatalf("expected one sms, got %v", texts.sent)
	}
	if len(store.rows) != 2 {
		t.Fatalf("expected 2 notification rows, got %d", len(store.rows))
	}
	for _, row := range store.rows {
		if row.Status != "sent" || row.Kind != KindConfirmation {
			t.Fatalf("unexpected row %+v", row)
		}
	}
}

func TestHandleSkipsPlaceholderEmail(t *testing.T) {
	store := &fakeStore{}
	mail := &fakeEmail{}
	n := newNotifier(store, mail, &fakeSMS{})

	if err := n.Handle(context.Background(), KindConfirmation, eventJSON(t, "5551112233@hasta.com")); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(mail.sent) != 0 {
		t.Fatalf("expected no email to placeholder address, got %v", mail.sent)
	}
	// SMS still goes out.
	if len(store.rows) != 1 || store.rows[0].Channel != "sms" {
		t.Fatalf("expected only the sms row, got %+v", store.rows)
	}
}

func TestHandleRecordsSendFailure(t *testing.T) {
	store := &fakeStore{}
	mail := &fakeEmail{err: errors.New("smtp down")}
	n := newNotifier(store, mail, &fakeSMS{})

	if err := n.Handle(context.Background(), KindCancellation, eventJSON(t, "ayse@example.com")); err != nil {
		t.Fatalf("handle must not propagate send errors: %v", err)
	}
	var emailRow *storage.Notification
	for i := range store.rows {
		if store.rows[i].Channel == "email" {
			emailRow = &store.rows[i]
		}
	}
	if emailRow == nil || emailRow.Status != "failed" {
		t.Fatalf("expected failed email row, got %+v", store.rows)
	}
}

func TestHandleIgnoresMalformedPayload(t *testing.T) {
	store := &fakeStore{}
	n := newNotifier(store, &fakeEmail{}, &fakeSMS{})

	if err := n.Handle(context.Background(), KindConfirmation, []byte("not json")); err != nil {
		t.Fatalf("malformed payload must be dropped, got %v", err)
	}
	if len(store.rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(store.rows))
	}
}

func TestComposeCancellation(t *testing.T) {
	n := newNotifier(&fakeStore{}, &fakeEmail{}, &fakeSMS{})
	evt := AppointmentEvent{Name: "Ayşe Yılmaz", Procedure: "Dolgu"}
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	subject, body := n.compose(KindCancellation, evt, start)
	if !strings.Contains(subject, "İptal") {
		t.Fatalf("expected cancellation subject, got %q", subject)
	}
	if !strings.Contains(body, "01.09.2026 10:00") || !strings.Contains(body, "Dolgu") {
		t.Fatalf("unexpected body %q", body)
	}
}
