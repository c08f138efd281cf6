package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/storage"
)

// StripeWebhook handles Stripe webhooks (no JWT auth; signature verification
// is the auth). Mount outside the authenticated router.
func (h *TreatmentHandler) StripeWebhook(webhookSecret string, tolerance time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if strings.TrimSpace(webhookSecret) == "" {
			http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if strings.TrimSpace(sigHeader) == "" {
			http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, webhookSecret, tolerance)
		if err != nil {
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}

		occurredAt := time.Unix(evt.Created, 0).UTC()
		evtType := string(evt.Type)
		h.logger.Info("payment provider event received",
			"provider", "stripe",
			"provider_event_id", evt.ID,
			"event_type", evtType,
			"occurred_at", occurredAt.Format(time.RFC3339),
		)

		ctx := r.Context()
		tx, err := h.repo.Begin(ctx)
		if err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		defer func() { _ = tx.Rollback(ctx) }()

		// Idempotency: ignore replayed Stripe events.
		if err := h.repo.InsertProviderEvent(ctx, tx, storage.ProviderEvent{
			Provider:        "stripe",
			ProviderEventID: evt.ID,
			EventType:       evtType,
			Payload:         body,
		}); err != nil {
			if errors.Is(err, storage.ErrDuplicateProviderEvent) {
				h.logger.Info("payment provider event duplicate ignored", "provider", "stripe", "provider_event_id", evt.ID, "event_type", evtType)
				_ = tx.Commit(ctx)
				writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
				return
			}
			http.Error(w, "failed to record provider event", http.StatusInternalServerError)
			return
		}

		switch evtType {
		case "checkout.session.completed":
			var session stripe.CheckoutSession
			if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
				h.logger.Error("stripe: invalid checkout session payload", "err", err)
				break
			}
			treatmentID := strings.TrimSpace(session.Metadata["treatment_id"])
			if treatmentID == "" {
				h.logger.Warn("stripe: missing treatment_id metadata on checkout session")
				break
			}
			if err := h.repo.MarkCheckoutCompleted(ctx, tx, session.ID, occurredAt); err != nil {
				http.Error(w, "failed to mark checkout completed", http.StatusInternalServerError)
				return
			}
			amount := float64(session.AmountTotal) / 100
			if err := h.repo.ApplyPayment(ctx, tx, treatmentID, amount); err != nil {
				h.logger.Error("stripe: payment apply failed", "treatment_id", treatmentID, "err", err)
				http.Error(w, "failed to apply payment", http.StatusInternalServerError)
				return
			}
			h.logger.Info("treatment payment applied", "treatment_id", treatmentID, "amount", amount)

		case "checkout.session.expired":
			var session stripe.CheckoutSession
			if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
				h.logger.Error("stripe: invalid checkout session payload", "err", err)
				break
			}
			_ = h.repo.MarkCheckoutExpired(ctx, tx, session.ID, occurredAt)
		}

		if err := tx.Commit(ctx); err != nil {
			http.Error(w, "failed to commit", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}
