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
	"github.com/shopspring/decimal"
)

// MovementDraft is a movement before the ledger accepts it. ID is optional:
// when set it is the idempotency key for retried submissions.
type MovementDraft struct {
	ID            uuid.UUID
	SessionID     uuid.UUID
	Kind          model.MovementKind
	Amount        decimal.Decimal
	Direction     model.Direction
	PaymentMethod model.PaymentMethod
	OriginID      string
	Description   string
}

type LedgerService interface {
	// Append records a movement and updates the session balance atomically.
	// Replaying a draft whose ID is already recorded returns the stored
	// movement unchanged.
	Append(ctx context.Context, who model.Identity, d MovementDraft) (*model.Movement, error)
	ListBySession(ctx context.Context, who model.Identity, sessionID uuid.UUID) ([]model.Movement, error)
	Get(ctx context.Context, who model.Identity, id uuid.UUID) (*model.Movement, error)
	// StampInvoice is the single mutation a movement allows: invoice id from
	// absent to present, once.
	StampInvoice(ctx context.Context, movementID uuid.UUID, invoiceID string) (*model.Movement, error)
}

// ledger is the append path shared by LedgerService and the buy-back flow in
// CustodyService, which must write its custody record in the same transaction.
type ledger struct {
	repo repository.CajaRepository
	opts options
}

// attachFunc builds a record to persist together with the movement.
type attachFunc func(m *model.Movement, s *model.CashSession) *model.CustodyRecord

func validateDraft(d MovementDraft) error {
	if !d.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMovement, d.Kind)
	}
	if !d.Direction.Valid() {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidMovement, d.Direction)
	}
	if !d.Kind.Allows(d.Direction) {
		return fmt.Errorf("%w: kind %q cannot be %s", ErrInvalidMovement, d.Kind, d.Direction)
	}
	if !d.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidMovement, d.PaymentMethod)
	}
	// Amounts are stored with two decimals; reject what cannot be stored exactly.
	if !d.Amount.Equal(d.Amount.Round(2)) {
		return fmt.Errorf("%w: more than two decimals", ErrInvalidAmount)
	}
	return nil
}

func validateIdentity(who model.Identity) error {
	if strings.TrimSpace(who.OperatorID) == "" || strings.TrimSpace(who.StoreID) == "" {
		return fmt.Errorf("%w: missing operator identity", ErrForbiddenStore)
	}
	return nil
}

// append returns the recorded movement and whether it was a replay.
func (l *ledger) append(ctx context.Context, who model.Identity, d MovementDraft, attach attachFunc) (*model.Movement, bool, error) {
	if err := validateIdentity(who); err != nil {
		return nil, false, err
	}
	if err := validateDraft(d); err != nil {
		return nil, false, err
	}

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	} else if existing, err := l.replay(ctx, who, d); err != nil || existing != nil {
		return existing, existing != nil, err
	}

	var (
		out      *model.Movement
		replayed bool
	)
	err := l.opts.retry.run(ctx, l.opts.metrics, "ledger.append", func() error {
		sess, err := l.repo.FindSessionByID(ctx, d.SessionID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidSession
		}
		if err != nil {
			return err
		}
		if sess.StoreID != who.StoreID {
			return ErrForbiddenStore
		}
		if !sess.AcceptsMovements() {
			return fmt.Errorf("%w: status %s", ErrInvalidSession, sess.Status)
		}

		m := &model.Movement{
			ID:            d.ID,
			SessionID:     sess.ID,
			Kind:          d.Kind,
			Amount:        d.Amount,
			Direction:     d.Direction,
			PaymentMethod: d.PaymentMethod,
			OperatorID:    who.OperatorID,
			StoreID:       sess.StoreID,
			OriginID:      d.OriginID,
			Description:   d.Description,
			RecordedAt:    l.opts.now().UTC(),
		}
		var rec *model.CustodyRecord
		if attach != nil {
			rec = attach(m, sess)
		}

		err = l.repo.AppendMovement(ctx, m, sess.Version, rec)
		switch {
		case err == nil:
			out = m
			return nil
		case errors.Is(err, repository.ErrDuplicate):
			// A concurrent submission with the same id won.
			existing, ferr := l.repo.FindMovementByID(ctx, d.ID)
			if ferr != nil {
				return ferr
			}
			out, replayed = existing, true
			return nil
		case errors.Is(err, repository.ErrReversalExists):
			return ErrAlreadyReversed
		case errors.Is(err, repository.ErrCustodyExists):
			return ErrCustodyExists
		}
		return err
	})
	if err != nil {
		return nil, false, wrapErr("append movement", err)
	}

	if !replayed {
		l.opts.metrics.MovementAppended(string(out.Kind), string(out.Direction))
		log.Info().
			Str("movement_id", out.ID.String()).
			Str("session_id", out.SessionID.String()).
			Str("kind", string(out.Kind)).
			Str("direction", string(out.Direction)).
			Str("amount", out.Amount.StringFixed(2)).
			Msg("ledger: movement appended")
	}
	return out, replayed, nil
}

// replay returns the stored movement for an already-used id. A replay is
// scoped like a read: another store's id is never echoed back.
func (l *ledger) replay(ctx context.Context, who model.Identity, d MovementDraft) (*model.Movement, error) {
	existing, err := l.repo.FindMovementByID(ctx, d.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find movement", err)
	}
	if existing.StoreID != who.StoreID {
		return nil, ErrForbiddenStore
	}
	if existing.SessionID != d.SessionID || existing.Kind != d.Kind ||
		existing.Direction != d.Direction || existing.PaymentMethod != d.PaymentMethod ||
		!existing.Amount.Equal(d.Amount) {
		return nil, fmt.Errorf("%w: id %s already used by a different movement", ErrInvalidMovement, d.ID)
	}
	return existing, nil
}

// wrapErr passes domain errors through and turns anything else into
// ErrStorageUnavailable.
func wrapErr(op string, err error) error {
	if isDomainError(err) || errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return storageErr(op, err)
}

var domainErrors = []error{
	ErrInvalidSession, ErrInvalidAmount, ErrInvalidMovement, ErrSessionAlreadyOpen,
	ErrSessionNotOpen, ErrSessionNotFound, ErrSessionNotDiscrepancy, ErrMovementNotFound,
	ErrAlreadyReversed, ErrInvoiceAlreadyStamped, ErrMissingLegalEvidence, ErrCustodyNotFound,
	ErrCustodyExists, ErrCustodyNotElapsed, ErrCustodyIncident, ErrCustodyReleased,
	ErrAlreadySentToAuthority, ErrForbiddenStore, ErrInvalidCustodyInput,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ── LedgerService ────────────────────────────────────────────────────────────

type ledgerService struct {
	ledger
}

func NewLedgerService(repo repository.CajaRepository, opts ...Option) LedgerService {
	return &ledgerService{ledger: ledger{repo: repo, opts: buildOptions(opts)}}
}

func (s *ledgerService) Append(ctx context.Context, who model.Identity, d MovementDraft) (*model.Movement, error) {
	m, _, err := s.append(ctx, who, d, nil)
	return m, err
}

func (s *ledgerService) ListBySession(ctx context.Context, who model.Identity, sessionID uuid.UUID) ([]model.Movement, error) {
	sess, err := s.repo.FindSessionByID(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, storageErr("find session", err)
	}
	if sess.StoreID != who.StoreID {
		return nil, ErrSessionNotFound
	}
	movs, err := s.repo.ListMovements(ctx, sessionID)
	if err != nil {
		return nil, storageErr("list movements", err)
	}
	return movs, nil
}

func (s *ledgerService) Get(ctx context.Context, who model.Identity, id uuid.UUID) (*model.Movement, error) {
	m, err := s.repo.FindMovementByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrMovementNotFound
	}
	if err != nil {
		return nil, storageErr("find movement", err)
	}
	if m.StoreID != who.StoreID {
		return nil, ErrMovementNotFound
	}
	return m, nil
}

func (s *ledgerService) StampInvoice(ctx context.Context, movementID uuid.UUID, invoiceID string) (*model.Movement, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return nil, fmt.Errorf("%w: blank invoice id", ErrInvalidMovement)
	}
	err := s.repo.StampInvoice(ctx, movementID, invoiceID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrMovementNotFound
	case errors.Is(err, repository.ErrAlreadyStamped):
		m, ferr := s.repo.FindMovementByID(ctx, movementID)
		if ferr != nil {
			return nil, storageErr("find movement", ferr)
		}
		// The worker may redeliver a job whose stamp already landed.
		if m.InvoiceID != nil && *m.InvoiceID == invoiceID {
			return m, nil
		}
		return nil, ErrInvoiceAlreadyStamped
	case err != nil:
		return nil, storageErr("stamp invoice", err)
	}
	m, err := s.repo.FindMovementByID(ctx, movementID)
	if err != nil {
		return nil, storageErr("find movement", err)
	}
	log.Info().Str("movement_id", movementID.String()).Str("invoice_id", invoiceID).Msg("ledger: invoice stamped")
	return m, nil
}
