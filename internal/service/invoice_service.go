package service

import (
	"context"
	"fmt"

	"cashdesk/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// InvoiceService queues invoice issuance for a movement. The worker stamps
// the invoice id back through LedgerService.StampInvoice.
type InvoiceService interface {
	Request(ctx context.Context, who model.Identity, movementID uuid.UUID) error
}

type invoiceService struct {
	ledger LedgerService
	queue  JobQueue
}

func NewInvoiceService(ledger LedgerService, queue JobQueue) InvoiceService {
	return &invoiceService{ledger: ledger, queue: queue}
}

func (s *invoiceService) Request(ctx context.Context, who model.Identity, movementID uuid.UUID) error {
	m, err := s.ledger.Get(ctx, who, movementID)
	if err != nil {
		return err
	}
	if m.InvoiceID != nil {
		return ErrInvoiceAlreadyStamped
	}
	if err := s.queue.EnqueueInvoice(ctx, m.ID.String()); err != nil {
		return fmt.Errorf("%w: enqueue invoice: %w", ErrStorageUnavailable, err)
	}
	log.Info().Str("movement_id", m.ID.String()).Msg("invoice: job queued")
	return nil
}
