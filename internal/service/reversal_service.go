package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cashdesk/internal/model"
	"cashdesk/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ReversalService issues counter-movements (contraasientos). It is the only
// sanctioned way to correct a recorded movement.
type ReversalService interface {
	CounterMovement(ctx context.Context, who model.Identity, originalID uuid.UUID, reason string) (*model.Movement, error)
}

type reversalService struct {
	repo   repository.CajaRepository
	ledger LedgerService
}

func NewReversalService(repo repository.CajaRepository, ledger LedgerService) ReversalService {
	return &reversalService{repo: repo, ledger: ledger}
}

// CounterMovement appends a movement with the original's amount, session and
// payment method in the opposite direction. The original is never touched.
func (s *reversalService) CounterMovement(ctx context.Context, who model.Identity, originalID uuid.UUID, reason string) (*model.Movement, error) {
	orig, err := s.ledger.Get(ctx, who, originalID)
	if err != nil {
		return nil, err
	}
	if orig.Kind == model.KindReversal {
		return nil, fmt.Errorf("%w: a reversal cannot be reversed", ErrInvalidMovement)
	}
	if _, err := s.repo.FindReversalOf(ctx, orig.ID); err == nil {
		return nil, ErrAlreadyReversed
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, storageErr("find reversal", err)
	}

	desc := "reversal of " + orig.ID.String()
	if r := strings.TrimSpace(reason); r != "" {
		desc += ": " + r
	}
	rev, err := s.ledger.Append(ctx, who, MovementDraft{
		SessionID:     orig.SessionID,
		Kind:          model.KindReversal,
		Amount:        orig.Amount,
		Direction:     orig.Direction.Opposite(),
		PaymentMethod: orig.PaymentMethod,
		OriginID:      orig.ID.String(),
		Description:   desc,
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("movement_id", rev.ID.String()).
		Str("reverses", orig.ID.String()).
		Str("operator_id", who.OperatorID).
		Msg("ledger: counter-movement recorded")
	return rev, nil
}
