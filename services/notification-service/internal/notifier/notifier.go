// Package notifier turns appointment lifecycle events into patient-facing
// confirmation and cancellation messages.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/eceaydogan/dentaplan/services/notification-service/internal/email"
	"github.com/eceaydogan/dentaplan/services/notification-service/internal/sms"
	"github.com/eceaydogan/dentaplan/services/notification-service/internal/storage"
)

const (
	KindConfirmation = "confirmation"
	KindCancellation = "cancellation"

	// Guest patients created from a phone number get a synthetic address
	// in this domain. Nothing can be delivered there.
	placeholderEmailDomain = "@hasta.com"
)

// AppointmentEvent is the payload published by the clinic service for
// booked and cancelled appointments.
type AppointmentEvent struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
	Procedure     string `json:"procedure"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

// Store persists delivery attempts.
type Store interface {
	Insert(ctx context.Context, n storage.Notification) error
}

type Notifier struct {
	repo        Store
	emailSender email.Sender
	smsSender   sms.Sender
	logger      *slog.Logger
	clinicName  string
	loc         *time.Location
}

func New(repo Store, emailSender email.Sender, smsSender sms.Sender, logger *slog.Logger, clinicName string, loc *time.Location) *Notifier {
	if clinicName == "" {
		clinicName = "DentaPlan"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Notifier{
		repo:        repo,
		emailSender: emailSender,
		smsSender:   smsSender,
		logger:      logger,
		clinicName:  clinicName,
		loc:         loc,
	}
}

// Handle processes one appointment event. Send failures are recorded but
// not returned: a bounced email must not wedge the consumer offset.
func (n *Notifier) Handle(ctx context.Context, kind string, payload []byte) error {
	var evt AppointmentEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		n.logger.Error("invalid appointment event payload", "err", err)
		return nil
	}
	if evt.AppointmentID == "" || evt.StartTime == "" {
		n.logger.Error("missing appointment event fields", "kind", kind)
		return nil
	}
	start, err := time.Parse(time.RFC3339, evt.StartTime)
	if err != nil {
		n.logger.Error("invalid start_time", "err", err)
		return nil
	}

	subject, body := n.compose(kind, evt, start.In(n.loc))

	if deliverableEmail(evt.Email) {
		n.dispatch(ctx, kind, evt, "email", evt.Email, func() error {
			return n.emailSender.Send(evt.Email, subject, body)
		})
	}
	if strings.TrimSpace(evt.Phone) != "" {
		n.dispatch(ctx, kind, evt, "sms", evt.Phone, func() error {
			return n.smsSender.Send(ctx, evt.Phone, body)
		})
	}
	return nil
}

func (n *Notifier) dispatch(ctx context.Context, kind string, evt AppointmentEvent, channel, recipient string, send func() error) {
	status := "sent"
	if err := send(); err != nil {
		status = "failed"
		n.logger.Error("notification send failed", "channel", channel, "recipient", recipient, "err", err)
	}

	if err := n.repo.Insert(ctx, storage.Notification{
		AppointmentID: evt.AppointmentID,
		PatientID:     evt.PatientID,
		Kind:          kind,
		Channel:       channel,
		Recipient:     recipient,
		Payload: map[string]any{
			"procedure":  evt.Procedure,
			"start_time": evt.StartTime,
		},
		Status: status,
	}); err != nil {
		n.logger.Error("failed to persist notification", "err", err)
		return
	}
	n.logger.Info("notification processed",
		"appointment_id", evt.AppointmentID,
		"kind", kind,
		"channel", channel,
		"status", status,
	)
}

func (n *Notifier) compose(kind string, evt AppointmentEvent, start time.Time) (subject, body string) {
	name := strings.TrimSpace(evt.Name)
	if name == "" {
		name = "Sayın Hastamız"
	}
	when := start.Format("02.01.2006 15:04")

	switch kind {
	case KindCancellation:
		subject = fmt.Sprintf("%s - Randevu İptali", n.clinicName)
		body = fmt.Sprintf("%s, %s tarihli %s randevunuz iptal edilmiştir.", name, when, evt.Procedure)
	default:
		subject = fmt.Sprintf("%s - Randevu Onayı", n.clinicName)
		body = fmt.Sprintf("%s, %s işleminiz için randevunuz %s tarihinde onaylanmıştır. Görüşmek üzere.", name, evt.Procedure, when)
	}
	return subject, body
}

func deliverableEmail(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	return !strings.HasSuffix(strings.ToLower(addr), placeholderEmailDomain)
}
