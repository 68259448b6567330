package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"cashdesk/internal/model"
	"cashdesk/internal/repository/memory"
	"cashdesk/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// ── Fakes ────────────────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu       sync.Mutex
	sessions []uuid.UUID
}

func (n *recordingNotifier) DiscrepancyDetected(_ context.Context, s *model.CashSession) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sessions = append(n.sessions, s.ID)
	return nil
}

type fakeLocker struct {
	err      error
	locked   int
	unlocked int
}

func (l *fakeLocker) LockStore(_ context.Context, _ string) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locked++
	return func(context.Context) error {
		l.unlocked++
		return nil
	}, nil
}

type fakeQueue struct {
	ids []string
	err error
}

func (q *fakeQueue) EnqueueInvoice(_ context.Context, movementID string) error {
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, movementID)
	return nil
}

var errBoom = errors.New("boom")

// ── Fixture ──────────────────────────────────────────────────────────────────

var (
	storeA    = model.Identity{OperatorID: "op-1", StoreID: "store-A", Role: "operator"}
	storeB    = model.Identity{OperatorID: "op-9", StoreID: "store-B", Role: "operator"}
	superA    = model.Identity{OperatorID: "sup-1", StoreID: "store-A", Role: "supervisor"}
	madrid, _ = time.LoadLocation("Europe/Madrid")
)

type fixture struct {
	store     *memory.Store
	clock     *fakeClock
	notifier  *recordingNotifier
	queue     *fakeQueue
	caja      service.CajaService
	ledger    service.LedgerService
	reversals service.ReversalService
	custody   service.CustodyService
	invoices  service.InvoiceService
}

func newFixture(t *testing.T, extra ...service.Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		clock:    newClock(time.Date(2026, 3, 20, 10, 0, 0, 0, madrid)),
		notifier: &recordingNotifier{},
		queue:    &fakeQueue{},
	}
	opts := append([]service.Option{
		service.WithClock(f.clock.Now),
		service.WithLocation(madrid),
		service.WithNotifier(f.notifier),
		service.WithRetry(time.Millisecond, 5*time.Millisecond, 5),
	}, extra...)
	f.caja = service.NewCajaService(f.store, f.store, opts...)
	f.ledger = service.NewLedgerService(f.store, opts...)
	f.reversals = service.NewReversalService(f.store, f.ledger)
	f.custody = service.NewCustodyService(f.store, f.store, opts...)
	f.invoices = service.NewInvoiceService(f.ledger, f.queue)
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) open(t *testing.T, who model.Identity, initial string) *model.CashSession {
	t.Helper()
	sess, err := f.caja.Open(context.Background(), who, dec(initial))
	require.NoError(t, err)
	return sess
}

func (f *fixture) appendMov(t *testing.T, who model.Identity, sessionID uuid.UUID, kind model.MovementKind, dir model.Direction, amount string) *model.Movement {
	t.Helper()
	m, err := f.ledger.Append(context.Background(), who, service.MovementDraft{
		SessionID:     sessionID,
		Kind:          kind,
		Amount:        dec(amount),
		Direction:     dir,
		PaymentMethod: model.PaymentCash,
	})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return m
}

func (f *fixture) balance(t *testing.T, who model.Identity, sessionID uuid.UUID) decimal.Decimal {
	t.Helper()
	sess, err := f.caja.Get(context.Background(), who, sessionID)
	require.NoError(t, err)
	return sess.TheoreticalBalance
}

func evidence() service.Evidence {
	return service.Evidence{
		IdentityDocumentRef: "evidence://dni/123",
		ItemPhotoRefs:       []string{"evidence://photo/1"},
	}
}

func (f *fixture) purchase(t *testing.T, who model.Identity, sessionID uuid.UUID, amount string) (*model.Movement, *model.CustodyRecord) {
	t.Helper()
	m, rec, err := f.custody.RegisterPurchase(context.Background(), who, service.RegisterPurchaseInput{
		SessionID:     sessionID,
		Amount:        dec(amount),
		PaymentMethod: model.PaymentCash,
		ClientID:      "client-42",
		ItemIDs:       []string{"ring-1"},
		Evidence:      evidence(),
	})
	require.NoError(t, err)
	return m, rec
}
