package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"cashdesk/internal/model"
	"cashdesk/internal/repository"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Evidence holds opaque references into the evidence store. They are only
// stored and compared, never dereferenced.
type Evidence struct {
	IdentityDocumentRef string
	ItemPhotoRefs       []string
}

// check is the legal gate: an identity document and at least one item photo.
func (e Evidence) check() error {
	if strings.TrimSpace(e.IdentityDocumentRef) == "" {
		return fmt.Errorf("%w: identity document missing", ErrMissingLegalEvidence)
	}
	if len(e.ItemPhotoRefs) == 0 {
		return fmt.Errorf("%w: no item photo", ErrMissingLegalEvidence)
	}
	for _, ref := range e.ItemPhotoRefs {
		if strings.TrimSpace(ref) == "" {
			return fmt.Errorf("%w: blank item photo reference", ErrMissingLegalEvidence)
		}
	}
	return nil
}

type CreateCustodyInput struct {
	MovementID   uuid.UUID
	ClientID     string
	ItemIDs      []string
	Evidence     Evidence
	Observations string
}

// RegisterPurchaseInput is a buy-back from a walk-in client. MovementID is
// optional and doubles as the idempotency key.
type RegisterPurchaseInput struct {
	MovementID    uuid.UUID
	SessionID     uuid.UUID
	Amount        decimal.Decimal
	PaymentMethod model.PaymentMethod
	ClientID      string
	ItemIDs       []string
	Evidence      Evidence
	Observations  string
	Description   string
}

// InboxEntry is a custody record as shown in the store's legal inbox.
type InboxEntry struct {
	Record          model.CustodyRecord
	DaysRemaining   int
	ReadyForRelease bool
}

type CustodyService interface {
	Create(ctx context.Context, who model.Identity, in CreateCustodyInput) (*model.CustodyRecord, error)
	// RegisterPurchase appends the purchase OUT movement and its custody
	// record in one transaction. Evidence is checked before anything is written.
	RegisterPurchase(ctx context.Context, who model.Identity, in RegisterPurchaseInput) (*model.Movement, *model.CustodyRecord, error)
	Release(ctx context.Context, who model.Identity, id uuid.UUID) (*model.CustodyRecord, error)
	FlagIncident(ctx context.Context, who model.Identity, id uuid.UUID, reason string) (*model.CustodyRecord, error)
	MarkSentToAuthority(ctx context.Context, who model.Identity, id uuid.UUID) (*model.CustodyRecord, error)
	Get(ctx context.Context, who model.Identity, id uuid.UUID) (*model.CustodyRecord, error)
	// Inbox lists CUSTODY and INCIDENT records, soonest end date first.
	Inbox(ctx context.Context, who model.Identity) ([]InboxEntry, error)
	// Due lists records whose custody period has elapsed and that are still
	// held. storeID "" means every store.
	Due(ctx context.Context, storeID string, limit int) ([]model.CustodyRecord, error)
}

type custodyService struct {
	ledger
	custody repository.CustodyRepository
}

func NewCustodyService(repo repository.CajaRepository, custody repository.CustodyRepository, opts ...Option) CustodyService {
	return &custodyService{
		ledger:  ledger{repo: repo, opts: buildOptions(opts)},
		custody: custody,
	}
}

func checkCustodyInput(clientID string, itemIDs []string) error {
	if strings.TrimSpace(clientID) == "" {
		return fmt.Errorf("%w: client id missing", ErrInvalidCustodyInput)
	}
	if len(itemIDs) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidCustodyInput)
	}
	for _, id := range itemIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: blank item id", ErrInvalidCustodyInput)
		}
	}
	return nil
}

func (s *custodyService) newRecord(m *model.Movement, clientID string, itemIDs []string, ev Evidence, obs string) *model.CustodyRecord {
	return &model.CustodyRecord{
		ID:                  uuid.New(),
		MovementID:          m.ID,
		SessionID:           m.SessionID,
		StoreID:             m.StoreID,
		ClientID:            strings.TrimSpace(clientID),
		ItemIDs:             pq.StringArray(append([]string(nil), itemIDs...)),
		IdentityDocumentRef: strings.TrimSpace(ev.IdentityDocumentRef),
		ItemPhotoRefs:       pq.StringArray(append([]string(nil), ev.ItemPhotoRefs...)),
		Status:              model.CustodyHeld,
		Observations:        strings.TrimSpace(obs),
		CustodyEndDate:      model.CustodyEndDate(m.RecordedAt, s.opts.loc),
		CreatedAt:           m.RecordedAt,
		UpdatedAt:           m.RecordedAt,
	}
}

// ── Create ───────────────────────────────────────────────────────────────────

func (s *custodyService) Create(ctx context.Context, who model.Identity, in CreateCustodyInput) (*model.CustodyRecord, error) {
	if err := validateIdentity(who); err != nil {
		return nil, err
	}
	if err := in.Evidence.check(); err != nil {
		return nil, err
	}
	if err := checkCustodyInput(in.ClientID, in.ItemIDs); err != nil {
		return nil, err
	}

	m, err := s.repo.FindMovementByID(ctx, in.MovementID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrMovementNotFound
	}
	if err != nil {
		return nil, storageErr("find movement", err)
	}
	if m.StoreID != who.StoreID {
		return nil, ErrMovementNotFound
	}
	if m.Kind != model.KindPurchase || m.Direction != model.DirectionOut {
		return nil, fmt.Errorf("%w: custody requires a purchase OUT movement", ErrInvalidMovement)
	}
	if _, err := s.custody.FindByMovementID(ctx, m.ID); err == nil {
		return nil, ErrCustodyExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, storageErr("find custody", err)
	}

	rec := s.newRecord(m, in.ClientID, in.ItemIDs, in.Evidence, in.Observations)
	// The end date runs from when the record is created, not from the movement.
	now := s.opts.now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	rec.CustodyEndDate = model.CustodyEndDate(now, s.opts.loc)
	if err := s.custody.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrCustodyExists) {
			return nil, ErrCustodyExists
		}
		return nil, storageErr("create custody", err)
	}
	s.logCreated(rec)
	return rec, nil
}

// ── RegisterPurchase ─────────────────────────────────────────────────────────

func (s *custodyService) RegisterPurchase(ctx context.Context, who model.Identity, in RegisterPurchaseInput) (*model.Movement, *model.CustodyRecord, error) {
	if err := validateIdentity(who); err != nil {
		return nil, nil, err
	}
	if err := in.Evidence.check(); err != nil {
		return nil, nil, err
	}
	if err := checkCustodyInput(in.ClientID, in.ItemIDs); err != nil {
		return nil, nil, err
	}

	var rec *model.CustodyRecord
	desc := in.Description
	if desc == "" {
		desc = "purchase from client " + strings.TrimSpace(in.ClientID)
	}
	m, replayed, err := s.append(ctx, who, MovementDraft{
		ID:            in.MovementID,
		SessionID:     in.SessionID,
		Kind:          model.KindPurchase,
		Amount:        in.Amount,
		Direction:     model.DirectionOut,
		PaymentMethod: in.PaymentMethod,
		Description:   desc,
	}, func(m *model.Movement, _ *model.CashSession) *model.CustodyRecord {
		rec = s.newRecord(m, in.ClientID, in.ItemIDs, in.Evidence, in.Observations)
		return rec
	})
	if err != nil {
		return nil, nil, err
	}
	if replayed {
		existing, err := s.custody.FindByMovementID(ctx, m.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: movement %s already recorded without custody record", ErrInvalidMovement, m.ID)
		}
		if err != nil {
			return nil, nil, storageErr("find custody", err)
		}
		return m, existing, nil
	}
	s.logCreated(rec)
	return m, rec, nil
}

func (s *custodyService) logCreated(rec *model.CustodyRecord) {
	s.opts.metrics.CustodyTransition(string(model.CustodyHeld))
	log.Info().
		Str("custody_id", rec.ID.String()).
		Str("movement_id", rec.MovementID.String()).
		Str("store_id", rec.StoreID).
		Time("custody_end_date", rec.CustodyEndDate).
		Msg("custody: record created")
}

// ── Transitions ──────────────────────────────────────────────────────────────
// Release and FlagIncident both write through a conditional update on
// status = CUSTODY, so whichever lands first wins and the other re-reads.

func (s *custodyService) Release(ctx context.Context, who model.Identity, id uuid.UUID) (*model.CustodyRecord, error) {
	rec, err := s.load(ctx, who, id)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case model.CustodyReleased:
		return rec, nil
	case model.CustodyIncident:
		return nil, ErrCustodyIncident
	}

	now := s.opts.now().UTC()
	if now.Before(rec.CustodyEndDate) {
		return nil, fmt.Errorf("%w: available from %s", ErrCustodyNotElapsed,
			rec.CustodyEndDate.In(s.opts.loc).Format(time.RFC3339))
	}
	by := who.OperatorID
	rec.Status = model.CustodyReleased
	rec.ReleasedAt = &now
	rec.ReleasedBy = &by
	rec.UpdatedAt = now

	if err := s.custody.Transition(ctx, rec, model.CustodyHeld); err != nil {
		if !errors.Is(err, repository.ErrStateChanged) {
			return nil, storageErr("release custody", err)
		}
		cur, lerr := s.load(ctx, who, id)
		if lerr != nil {
			return nil, lerr
		}
		if cur.Status == model.CustodyIncident {
			return nil, ErrCustodyIncident
		}
		return cur, nil
	}
	s.opts.metrics.CustodyTransition(string(model.CustodyReleased))
	log.Info().Str("custody_id", id.String()).Str("released_by", by).Msg("custody: released")
	return rec, nil
}

func (s *custodyService) FlagIncident(ctx context.Context, who model.Identity, id uuid.UUID, reason string) (*model.CustodyRecord, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: incident reason missing", ErrInvalidCustodyInput)
	}
	rec, err := s.load(ctx, who, id)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case model.CustodyIncident:
		return rec, nil
	case model.CustodyReleased:
		return nil, ErrCustodyReleased
	}

	now := s.opts.now().UTC()
	rec.Status = model.CustodyIncident
	rec.IncidentAt = &now
	rec.UpdatedAt = now
	rec.Observations = appendNote(rec.Observations,
		fmt.Sprintf("[INCIDENT %s by %s] %s", now.In(s.opts.loc).Format("2006-01-02"), who.OperatorID, reason))

	if err := s.custody.Transition(ctx, rec, model.CustodyHeld); err != nil {
		if !errors.Is(err, repository.ErrStateChanged) {
			return nil, storageErr("flag custody incident", err)
		}
		cur, lerr := s.load(ctx, who, id)
		if lerr != nil {
			return nil, lerr
		}
		if cur.Status == model.CustodyReleased {
			return nil, ErrCustodyReleased
		}
		return cur, nil
	}
	s.opts.metrics.CustodyTransition(string(model.CustodyIncident))
	log.Warn().Str("custody_id", id.String()).Str("operator_id", who.OperatorID).Msg("custody: flagged as incident")
	return rec, nil
}

func (s *custodyService) MarkSentToAuthority(ctx context.Context, who model.Identity, id uuid.UUID) (*model.CustodyRecord, error) {
	if _, err := s.load(ctx, who, id); err != nil {
		return nil, err
	}
	err := s.custody.MarkSentToAuthority(ctx, id, s.opts.now().UTC())
	switch {
	case errors.Is(err, repository.ErrStateChanged):
		return nil, ErrAlreadySentToAuthority
	case err != nil:
		return nil, storageErr("mark sent to authority", err)
	}
	log.Info().Str("custody_id", id.String()).Msg("custody: reported to authority")
	return s.load(ctx, who, id)
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (s *custodyService) Get(ctx context.Context, who model.Identity, id uuid.UUID) (*model.CustodyRecord, error) {
	return s.load(ctx, who, id)
}

func (s *custodyService) Inbox(ctx context.Context, who model.Identity) ([]InboxEntry, error) {
	recs, err := s.custody.ListOpen(ctx, who.StoreID)
	if err != nil {
		return nil, storageErr("list custody", err)
	}
	now := s.opts.now()
	out := make([]InboxEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, InboxEntry{
			Record:          r,
			DaysRemaining:   daysRemaining(now, r.CustodyEndDate),
			ReadyForRelease: r.Releasable(now),
		})
	}
	return out, nil
}

func (s *custodyService) Due(ctx context.Context, storeID string, limit int) ([]model.CustodyRecord, error) {
	recs, err := s.custody.ListDue(ctx, storeID, s.opts.now().UTC(), limit)
	if err != nil {
		return nil, storageErr("list due custody", err)
	}
	return recs, nil
}

func (s *custodyService) load(ctx context.Context, who model.Identity, id uuid.UUID) (*model.CustodyRecord, error) {
	rec, err := s.custody.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrCustodyNotFound
	}
	if err != nil {
		return nil, storageErr("find custody", err)
	}
	if rec.StoreID != who.StoreID {
		return nil, ErrCustodyNotFound
	}
	return rec, nil
}

// daysRemaining rounds partial days up and never goes below zero.
func daysRemaining(now, end time.Time) int {
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}
