package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eceaydogan/dentaplan/libs/db"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/model"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/scheduler"
)

// TreatmentRepository persists treatment history, payments and the Stripe
// checkout bookkeeping around them.
type TreatmentRepository struct {
	pool *db.Pool
}

func NewTreatmentRepository(pool *db.Pool) *TreatmentRepository {
	return &TreatmentRepository{pool: pool}
}

func (r *TreatmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *TreatmentRepository) Create(ctx context.Context, tx pgx.Tx, t *model.Treatment) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Date.IsZero() {
		t.Date = time.Now().UTC()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO treatments (id, patient_id, procedure_name, tooth_number, cost, payment_received, notes, date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.PatientID, t.ProcedureName, nullIfEmpty(t.ToothNumber), t.Cost, t.PaymentReceived, nullIfEmpty(t.Notes), t.Date)
	return mapError(err)
}

func (r *TreatmentRepository) ListByPatient(ctx context.Context, patientID string) ([]model.Treatment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, patient_id::text, procedure_name, COALESCE(tooth_number, ''), cost, payment_received, COALESCE(notes, ''), date
		FROM treatments
		WHERE patient_id = $1
		ORDER BY date DESC
	`, patientID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.Treatment
	for rows.Next() {
		var t model.Treatment
		if err := rows.Scan(&t.ID, &t.PatientID, &t.ProcedureName, &t.ToothNumber, &t.Cost, &t.PaymentReceived, &t.Notes, &t.Date); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *TreatmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Treatment, error) {
	var t model.Treatment
	err := tx.QueryRow(ctx, `
		SELECT id::text, patient_id::text, procedure_name, COALESCE(tooth_number, ''), cost, payment_received, COALESCE(notes, ''), date
		FROM treatments
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&t.ID, &t.PatientID, &t.ProcedureName, &t.ToothNumber, &t.Cost, &t.PaymentReceived, &t.Notes, &t.Date)
	if err != nil {
		return model.Treatment{}, mapError(err)
	}
	return t, nil
}

// ApplyPayment adds amount to the running payment total, capped at the
// treatment's cost so webhook replays with fresh event IDs cannot overpay.
func (r *TreatmentRepository) ApplyPayment(ctx context.Context, tx pgx.Tx, id string, amount float64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE treatments
		SET payment_received = LEAST(cost, payment_received + $2)
		WHERE id = $1
	`, id, amount)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return scheduler.ErrNotFound
	}
	return nil
}

// Checkout is one Stripe Checkout session opened for a treatment balance.
type Checkout struct {
	StripeSessionID string
	TreatmentID     string
	AmountCents     int64
	Currency        string
	Status          string
	URL             string
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

func (r *TreatmentRepository) InsertCheckout(ctx context.Context, tx pgx.Tx, c Checkout) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO treatment_checkouts (stripe_session_id, treatment_id, amount_cents, currency, status, url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (stripe_session_id)
		DO UPDATE SET status = EXCLUDED.status,
		              url = EXCLUDED.url
	`, c.StripeSessionID, c.TreatmentID, c.AmountCents, c.Currency, c.Status, nullIfEmpty(c.URL))
	return mapError(err)
}

func (r *TreatmentRepository) MarkCheckoutCompleted(ctx context.Context, tx pgx.Tx, stripeSessionID string, completedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE treatment_checkouts
		SET status = 'completed',
		    completed_at = $2
		WHERE stripe_session_id = $1 AND status <> 'completed'
	`, stripeSessionID, completedAt)
	return mapError(err)
}

func (r *TreatmentRepository) MarkCheckoutExpired(ctx context.Context, tx pgx.Tx, stripeSessionID string, expiredAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE treatment_checkouts
		SET status = 'expired',
		    completed_at = $2
		WHERE stripe_session_id = $1 AND status <> 'completed'
	`, stripeSessionID, expiredAt)
	return mapError(err)
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

// InsertProviderEvent records an inbound webhook event once per provider
// event ID so replays are detected inside the same transaction that applies
// their effects.
func (r *TreatmentRepository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	var payload any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, payload)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
