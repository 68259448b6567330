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
	"golang.org/x/sync/errgroup"
)

// CajaService owns the cash-session lifecycle:
// NO_SESSION -> OPEN -> CLOSED | DISCREPANCY.
type CajaService interface {
	Open(ctx context.Context, who model.Identity, initialBalance decimal.Decimal) (*model.CashSession, error)
	Close(ctx context.Context, who model.Identity, sessionID uuid.UUID, realBalance decimal.Decimal, notes string) (*ClosureResult, error)
	// SettleDiscrepancy releases the store's drawer slot held by an
	// unsettled DISCREPANCY session. The status itself does not change.
	SettleDiscrepancy(ctx context.Context, who model.Identity, sessionID uuid.UUID, notes string) (*model.CashSession, error)
	GetActive(ctx context.Context, who model.Identity) (*model.CashSession, error)
	Get(ctx context.Context, who model.Identity, sessionID uuid.UUID) (*model.CashSession, error)
	History(ctx context.Context, who model.Identity, page, limit int) (*SessionPage, error)
	Summary(ctx context.Context, who model.Identity, sessionID uuid.UUID) (*SessionSummary, error)
}

// ClosureResult is the immutable outcome of a close.
type ClosureResult struct {
	Session *model.CashSession
	Reconciliation
}

// KeyTotal aggregates movements sharing a payment method or kind.
type KeyTotal struct {
	Key   string
	In    decimal.Decimal
	Out   decimal.Decimal
	Count int64
}

func (k KeyTotal) Net() decimal.Decimal { return k.In.Sub(k.Out) }

// SessionPage is one page of session history. Page and Limit are the
// values actually applied after clamping.
type SessionPage struct {
	Sessions []model.CashSession
	Total    int64
	Page     int
	Limit    int
}

type SessionSummary struct {
	Session         *model.CashSession
	TotalIn         decimal.Decimal
	TotalOut        decimal.Decimal
	MovementCount   int64
	ByPaymentMethod []KeyTotal
	ByKind          []KeyTotal
	OpenCustody     int
}

type cajaService struct {
	repo    repository.CajaRepository
	custody repository.CustodyRepository
	opts    options
}

func NewCajaService(repo repository.CajaRepository, custody repository.CustodyRepository, opts ...Option) CajaService {
	return &cajaService{repo: repo, custody: custody, opts: buildOptions(opts)}
}

// ── Open ─────────────────────────────────────────────────────────────────────

func (s *cajaService) Open(ctx context.Context, who model.Identity, initialBalance decimal.Decimal) (*model.CashSession, error) {
	if err := validateIdentity(who); err != nil {
		return nil, err
	}
	if initialBalance.IsNegative() {
		return nil, fmt.Errorf("%w: initial balance must not be negative", ErrInvalidAmount)
	}

	// The lock keeps two terminals from racing; the partial unique index on
	// cash_sessions is what actually guarantees a single active session.
	if s.opts.locker != nil {
		unlock, err := s.opts.locker.LockStore(ctx, who.StoreID)
		if err != nil {
			log.Warn().Err(err).Str("store_id", who.StoreID).Msg("caja: store lock unavailable, relying on unique index")
		} else {
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					log.Warn().Err(err).Str("store_id", who.StoreID).Msg("caja: store unlock failed")
				}
			}()
		}
	}

	if existing, err := s.repo.FindActiveSessionByStore(ctx, who.StoreID); err == nil {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionAlreadyOpen, existing.ID, existing.Status)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, storageErr("find active session", err)
	}

	now := s.opts.now().UTC()
	sess := &model.CashSession{
		ID:                 uuid.New(),
		StoreID:            who.StoreID,
		OperatorID:         who.OperatorID,
		InitialBalance:     initialBalance,
		TheoreticalBalance: initialBalance,
		Status:             model.SessionOpen,
		OpenedAt:           now,
		UpdatedAt:          now,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		if errors.Is(err, repository.ErrActiveSessionExists) {
			return nil, ErrSessionAlreadyOpen
		}
		return nil, storageErr("create session", err)
	}

	s.opts.metrics.SessionOpened()
	log.Info().
		Str("session_id", sess.ID.String()).
		Str("store_id", sess.StoreID).
		Str("operator_id", sess.OperatorID).
		Str("initial_balance", initialBalance.StringFixed(2)).
		Msg("caja: session opened")
	return sess, nil
}

// ── Close ────────────────────────────────────────────────────────────────────
// The reconciliation is computed against the balance read at the same version
// the closing update is guarded on, so a movement landing in between forces a
// re-read instead of closing on a stale figure.

func (s *cajaService) Close(ctx context.Context, who model.Identity, sessionID uuid.UUID, realBalance decimal.Decimal, notes string) (*ClosureResult, error) {
	if err := validateIdentity(who); err != nil {
		return nil, err
	}
	if realBalance.IsNegative() {
		return nil, fmt.Errorf("%w: real balance must not be negative", ErrInvalidAmount)
	}

	var result *ClosureResult
	err := s.opts.retry.run(ctx, s.opts.metrics, "caja.close", func() error {
		sess, err := s.load(ctx, who, sessionID)
		if err != nil {
			return err
		}
		if sess.Status != model.SessionOpen {
			return fmt.Errorf("%w: status %s", ErrSessionNotOpen, sess.Status)
		}

		rec := Reconcile(sess.TheoreticalBalance, realBalance, s.opts.tolerance)
		now := s.opts.now().UTC()
		counted, diff, closedBy := realBalance, rec.Difference, who.OperatorID
		sess.RealBalance = &counted
		sess.Difference = &diff
		sess.Status = rec.Status
		sess.ClosureNotes = appendNote(notes, rec.Note)
		sess.ClosedBy = &closedBy
		sess.ClosedAt = &now

		if err := s.repo.CloseSession(ctx, sess, sess.Version); err != nil {
			return err
		}
		result = &ClosureResult{Session: sess, Reconciliation: rec}
		return nil
	})
	if err != nil {
		return nil, wrapErr("close session", err)
	}

	s.opts.metrics.SessionClosed(string(result.Status))
	evt := log.Info()
	if !result.Matched {
		evt = log.Warn()
	}
	evt.Str("session_id", sessionID.String()).
		Str("status", string(result.Status)).
		Str("theoretical", result.Session.TheoreticalBalance.StringFixed(2)).
		Str("real", realBalance.StringFixed(2)).
		Str("difference", result.Difference.StringFixed(2)).
		Msg("caja: session closed")

	if !result.Matched && s.opts.notifier != nil {
		if err := s.opts.notifier.DiscrepancyDetected(ctx, result.Session); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("caja: discrepancy alert not queued")
		}
	}
	return result, nil
}

// ── SettleDiscrepancy ────────────────────────────────────────────────────────

func (s *cajaService) SettleDiscrepancy(ctx context.Context, who model.Identity, sessionID uuid.UUID, notes string) (*model.CashSession, error) {
	if err := validateIdentity(who); err != nil {
		return nil, err
	}
	notes = strings.TrimSpace(notes)

	var out *model.CashSession
	err := s.opts.retry.run(ctx, s.opts.metrics, "caja.settle", func() error {
		sess, err := s.load(ctx, who, sessionID)
		if err != nil {
			return err
		}
		if sess.Status != model.SessionDiscrepancy || sess.SettledAt != nil {
			return ErrSessionNotDiscrepancy
		}
		now := s.opts.now().UTC()
		by := who.OperatorID
		sess.SettledAt = &now
		sess.SettledBy = &by
		sess.SettlementNotes = &notes
		if err := s.repo.SettleSession(ctx, sess, sess.Version); err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, wrapErr("settle session", err)
	}
	log.Info().Str("session_id", sessionID.String()).Str("settled_by", who.OperatorID).Msg("caja: discrepancy settled")
	return out, nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (s *cajaService) GetActive(ctx context.Context, who model.Identity) (*model.CashSession, error) {
	sess, err := s.repo.FindActiveSessionByStore(ctx, who.StoreID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, storageErr("find active session", err)
	}
	return sess, nil
}

func (s *cajaService) Get(ctx context.Context, who model.Identity, sessionID uuid.UUID) (*model.CashSession, error) {
	sess, err := s.load(ctx, who, sessionID)
	if err != nil {
		return nil, wrapErr("find session", err)
	}
	return sess, nil
}

func (s *cajaService) History(ctx context.Context, who model.Identity, page, limit int) (*SessionPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	sessions, total, err := s.repo.ListSessions(ctx, who.StoreID, page, limit)
	if err != nil {
		return nil, storageErr("list sessions", err)
	}
	return &SessionPage{Sessions: sessions, Total: total, Page: page, Limit: limit}, nil
}

// Summary fans the three reads out concurrently; they are independent.
func (s *cajaService) Summary(ctx context.Context, who model.Identity, sessionID uuid.UUID) (*SessionSummary, error) {
	var (
		sess    *model.CashSession
		totals  []model.MovementTotal
		custody []model.CustodyRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sess, err = s.load(gctx, who, sessionID)
		return err
	})
	g.Go(func() error {
		var err error
		totals, err = s.repo.SumMovements(gctx, sessionID)
		return err
	})
	g.Go(func() error {
		if s.custody == nil {
			return nil
		}
		var err error
		custody, err = s.custody.ListOpen(gctx, who.StoreID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, wrapErr("session summary", err)
	}

	sum := &SessionSummary{Session: sess}
	byMethod := newKeyTotals()
	byKind := newKeyTotals()
	for _, t := range totals {
		switch t.Direction {
		case model.DirectionIn:
			sum.TotalIn = sum.TotalIn.Add(t.Total)
		case model.DirectionOut:
			sum.TotalOut = sum.TotalOut.Add(t.Total)
		}
		sum.MovementCount += t.Count
		byMethod.add(string(t.PaymentMethod), t)
		byKind.add(string(t.Kind), t)
	}
	sum.ByPaymentMethod = byMethod.list()
	sum.ByKind = byKind.list()
	for _, c := range custody {
		if c.SessionID == sessionID {
			sum.OpenCustody++
		}
	}
	return sum, nil
}

// load fetches a session scoped to the caller's store. Sessions of other
// stores are reported as not found.
func (s *cajaService) load(ctx context.Context, who model.Identity, sessionID uuid.UUID) (*model.CashSession, error) {
	sess, err := s.repo.FindSessionByID(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if sess.StoreID != who.StoreID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// keyTotals keeps first-seen order; rows arrive sorted from the repository.
type keyTotals struct {
	order []string
	byKey map[string]*KeyTotal
}

func newKeyTotals() *keyTotals { return &keyTotals{byKey: map[string]*KeyTotal{}} }

func (k *keyTotals) add(key string, t model.MovementTotal) {
	kt, ok := k.byKey[key]
	if !ok {
		kt = &KeyTotal{Key: key}
		k.byKey[key] = kt
		k.order = append(k.order, key)
	}
	switch t.Direction {
	case model.DirectionIn:
		kt.In = kt.In.Add(t.Total)
	case model.DirectionOut:
		kt.Out = kt.Out.Add(t.Total)
	}
	kt.Count += t.Count
}

func (k *keyTotals) list() []KeyTotal {
	out := make([]KeyTotal, 0, len(k.order))
	for _, key := range k.order {
		out = append(out, *k.byKey[key])
	}
	return out
}
