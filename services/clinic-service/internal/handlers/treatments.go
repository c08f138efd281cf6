package handlers

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"

	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/model"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/storage"
)

// TreatmentHandler manages the treatment ledger and the Stripe checkout
// used to collect an outstanding balance.
type TreatmentHandler struct {
	repo            *storage.TreatmentRepository
	logger          *slog.Logger
	stripeSecretKey string
	currency        string
	successURL      string
	cancelURL       string
}

type TreatmentConfig struct {
	StripeSecretKey string
	Currency        string
	SuccessURL      string
	CancelURL       string
}

func NewTreatmentHandler(repo *storage.TreatmentRepository, logger *slog.Logger, cfg TreatmentConfig) *TreatmentHandler {
	if cfg.Currency == "" {
		cfg.Currency = "try"
	}
	return &TreatmentHandler{
		repo:            repo,
		logger:          logger,
		stripeSecretKey: cfg.StripeSecretKey,
		currency:        cfg.Currency,
		successURL:      cfg.SuccessURL,
		cancelURL:       cfg.CancelURL,
	}
}

// Treatments dispatches the collection route: GET lists, POST records.
func (h *TreatmentHandler) Treatments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.List(w, r)
	case http.MethodPost:
		h.Create(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type createTreatmentRequest struct {
	PatientID       string  `json:"patient_id"`
	ProcedureName   string  `json:"procedure_name"`
	ToothNumber     string  `json:"tooth_number"`
	Cost            float64 `json:"cost"`
	PaymentReceived float64 `json:"payment_received"`
	Notes           string  `json:"notes"`
	Date            string  `json:"date"`
}

// Create records a treatment on a patient's chart. Staff only.
func (h *TreatmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}

	var req createTreatmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.ProcedureName = strings.TrimSpace(req.ProcedureName)
	if req.PatientID == "" || req.ProcedureName == "" {
		http.Error(w, "patient_id and procedure_name required", http.StatusBadRequest)
		return
	}
	if req.Cost < 0 || req.PaymentReceived < 0 || req.PaymentReceived > req.Cost {
		http.Error(w, "invalid cost or payment amount", http.StatusBadRequest)
		return
	}

	t := model.Treatment{
		PatientID:       req.PatientID,
		ProcedureName:   req.ProcedureName,
		ToothNumber:     strings.TrimSpace(req.ToothNumber),
		Cost:            req.Cost,
		PaymentReceived: req.PaymentReceived,
		Notes:           strings.TrimSpace(req.Notes),
	}
	if raw := strings.TrimSpace(req.Date); raw != "" {
		date, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "invalid date", http.StatusBadRequest)
			return
		}
		t.Date = date
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.repo.Create(ctx, tx, &t); err != nil {
		writeSchedulerError(w, h.logger, err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, treatmentToItem(t))
}

// List returns a patient's treatment history. Staff may query any patient;
// a patient gets only their own ledger.
func (h *TreatmentHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	patientID := strings.TrimSpace(r.URL.Query().Get("patient_id"))
	if actor.IsStaff() {
		if patientID == "" {
			http.Error(w, "patient_id required", http.StatusBadRequest)
			return
		}
	} else {
		patientID = actor.PatientID
	}

	treatments, err := h.repo.ListByPatient(r.Context(), patientID)
	if err != nil {
		writeSchedulerError(w, h.logger, err)
		return
	}
	items := make([]treatmentItem, 0, len(treatments))
	for _, t := range treatments {
		items = append(items, treatmentToItem(t))
	}
	writeJSON(w, http.StatusOK, items)
}

type checkoutRequest struct {
	TreatmentID string `json:"treatment_id"`
}

type checkoutResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// Checkout opens a Stripe Checkout session for a treatment's outstanding
// balance. The webhook applies the payment once Stripe confirms it; this
// endpoint only opens the session and records it.
func (h *TreatmentHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(h.stripeSecretKey) == "" {
		http.Error(w, "payments not configured", http.StatusServiceUnavailable)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.TreatmentID = strings.TrimSpace(req.TreatmentID)
	if req.TreatmentID == "" {
		http.Error(w, "treatment_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t, err := h.repo.GetForUpdate(ctx, tx, req.TreatmentID)
	if err != nil {
		writeSchedulerError(w, h.logger, err)
		return
	}
	if !actor.IsStaff() && t.PatientID != actor.PatientID {
		http.Error(w, "not your treatment", http.StatusForbidden)
		return
	}

	balance := t.Cost - t.PaymentReceived
	if balance <= 0 {
		http.Error(w, "treatment has no outstanding balance", http.StatusConflict)
		return
	}
	amountCents := int64(math.Round(balance * 100))

	// Stripe uses a global API key. Keep usage limited to this handler call.
	stripe.Key = h.stripeSecretKey

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(h.successURL),
		CancelURL:         stripe.String(h.cancelURL),
		ClientReferenceID: stripe.String(t.ID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(h.currency),
					UnitAmount: stripe.Int64(amountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(t.ProcedureName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"treatment_id": t.ID,
			"patient_id":   t.PatientID,
		},
	}
	if idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key")); idemKey != "" {
		params.IdempotencyKey = stripe.String(idemKey)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		h.logger.Error("stripe checkout session create failed", "err", err)
		http.Error(w, "failed to create checkout session", http.StatusBadGateway)
		return
	}

	if err := h.repo.InsertCheckout(ctx, tx, storage.Checkout{
		StripeSessionID: sess.ID,
		TreatmentID:     t.ID,
		AmountCents:     amountCents,
		Currency:        h.currency,
		Status:          "open",
		URL:             sess.URL,
	}); err != nil {
		http.Error(w, "failed to record checkout", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		SessionID:   sess.ID,
		CheckoutURL: sess.URL,
		AmountCents: amountCents,
		Currency:    h.currency,
	})
}
