package worker

// invoice_worker.go
// Processes invoice jobs from QueueInvoice: calls the external issuer and
// stamps the returned invoice id on the movement, exactly once.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cashdesk/internal/infra"
	"cashdesk/internal/metrics"
	"cashdesk/internal/model"
	"cashdesk/internal/service"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// InvoiceIssuer is implemented by infra.InvoiceClient.
type InvoiceIssuer interface {
	Issue(ctx context.Context, payload infra.InvoicePayload) (*infra.InvoiceResponse, error)
}

// MovementSource reads movements without store scoping; the worker acts on
// behalf of the system, not of an operator.
type MovementSource interface {
	FindMovementByID(ctx context.Context, id uuid.UUID) (*model.Movement, error)
}

// InvoiceStamper is the ledger's single mutation path.
type InvoiceStamper interface {
	StampInvoice(ctx context.Context, movementID uuid.UUID, invoiceID string) (*model.Movement, error)
}

type InvoiceWorker struct {
	issuer    InvoiceIssuer
	movements MovementSource
	stamper   InvoiceStamper
	metrics   *metrics.Metrics

	maxRetries   uint64
	initialDelay time.Duration
}

func NewInvoiceWorker(issuer InvoiceIssuer, movements MovementSource, stamper InvoiceStamper, m *metrics.Metrics) *InvoiceWorker {
	return &InvoiceWorker{
		issuer:       issuer,
		movements:    movements,
		stamper:      stamper,
		metrics:      m,
		maxRetries:   3,
		initialDelay: time.Second,
	}
}

// Process handles a single invoice job:
//  1. Parse the payload and load the movement
//  2. Skip if it already carries an invoice
//  3. Call the issuer with exponential backoff (max 3 retries)
//  4. Stamp the invoice id on the movement
func (w *InvoiceWorker) Process(ctx context.Context, raw json.RawMessage) error {
	var payload InvoiceJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("invoice_worker: invalid payload: %w", err)
	}
	movementID, err := uuid.Parse(payload.MovementID)
	if err != nil {
		return fmt.Errorf("invoice_worker: invalid movement_id %q", payload.MovementID)
	}

	m, err := w.movements.FindMovementByID(ctx, movementID)
	if err != nil {
		return fmt.Errorf("invoice_worker: load movement %s: %w", movementID, err)
	}
	if m.InvoiceID != nil {
		log.Info().Str("movement_id", payload.MovementID).Msg("invoice_worker: already invoiced, skipping")
		w.metrics.InvoiceJob("skipped")
		return nil
	}

	net, vat := infra.SplitVAT(m.Amount)
	req := infra.InvoicePayload{
		MovementID:    m.ID.String(),
		StoreID:       m.StoreID,
		Kind:          string(m.Kind),
		PaymentMethod: string(m.PaymentMethod),
		Net:           net,
		VAT:           vat,
		Gross:         m.Amount,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.initialDelay
	b.MaxElapsedTime = 0
	attempt := 0
	var resp *infra.InvoiceResponse
	err = backoff.Retry(func() error {
		attempt++
		r, err := w.issuer.Issue(ctx, req)
		if err != nil {
			if errors.Is(err, infra.ErrIssuerRejected) || errors.Is(err, gobreaker.ErrOpenState) {
				return backoff.Permanent(err)
			}
			log.Warn().Err(err).Int("attempt", attempt).Str("movement_id", payload.MovementID).
				Msg("invoice_worker: issuer attempt failed, retrying")
			return err
		}
		resp = r
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, w.maxRetries), ctx))
	if err != nil {
		w.metrics.InvoiceJob("failed")
		return fmt.Errorf("invoice_worker: issuer failed after %d attempts: %w", attempt, err)
	}

	if _, err := w.stamper.StampInvoice(ctx, m.ID, resp.InvoiceID); err != nil {
		if errors.Is(err, service.ErrInvoiceAlreadyStamped) {
			log.Warn().Str("movement_id", payload.MovementID).Str("invoice_id", resp.InvoiceID).
				Msg("invoice_worker: movement was invoiced concurrently")
			w.metrics.InvoiceJob("duplicate")
			return nil
		}
		w.metrics.InvoiceJob("failed")
		return fmt.Errorf("invoice_worker: stamp %s: %w", resp.InvoiceID, err)
	}
	w.metrics.InvoiceJob("issued")
	log.Info().Str("movement_id", payload.MovementID).Str("invoice_id", resp.InvoiceID).
		Msg("invoice_worker: invoice issued")
	return nil
}
