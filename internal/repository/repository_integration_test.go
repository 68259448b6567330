//go:build integration

package repository_test

// Runs against a real Postgres so the partial unique indexes, the version
// guard and the append-only trigger are exercised.
// Run with: go test -tags integration ./internal/repository/... -v

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"cashdesk/internal/infra"
	"cashdesk/internal/model"
	"cashdesk/internal/repository"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"
)

var testDB *gorm.DB

func TestMain(m *testing.M) {
	ctx := context.Background()
	pgC, err := tcPostgres.Run(ctx, "postgres:16-alpine",
		tcPostgres.WithDatabase("cashdesk_test"),
		tcPostgres.WithUsername("cashdesk"),
		tcPostgres.WithPassword("cashdesk"),
		tcPostgres.BasicWaitStrategies(),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "postgres container:", err)
		os.Exit(1)
	}

	code := func() int {
		defer func() { _ = testcontainers.TerminateContainer(pgC) }()
		dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Fprintln(os.Stderr, "connection string:", err)
			return 1
		}
		testDB, err = infra.NewDatabase(dsn)
		if err != nil {
			fmt.Fprintln(os.Stderr, "connect:", err)
			return 1
		}
		if err := infra.Migrate(testDB); err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			return 1
		}
		return m.Run()
	}()
	os.Exit(code)
}

// Each test gets its own store id so tests never share an active session.
func storeID(t *testing.T) string {
	return "store-" + uuid.NewString()[:8] + "-" + t.Name()[:min(len(t.Name()), 20)]
}

func openSession(t *testing.T, repo repository.CajaRepository, store string) *model.CashSession {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	cs := &model.CashSession{
		ID:                 uuid.New(),
		StoreID:            store,
		OperatorID:         "op-1",
		InitialBalance:     decimal.NewFromInt(100),
		TheoreticalBalance: decimal.NewFromInt(100),
		Status:             model.SessionOpen,
		OpenedAt:           now,
		UpdatedAt:          now,
	}
	require.NoError(t, repo.CreateSession(context.Background(), cs))
	return cs
}

func movement(cs *model.CashSession, kind model.MovementKind, amount string, dir model.Direction) *model.Movement {
	return &model.Movement{
		ID:            uuid.New(),
		SessionID:     cs.ID,
		Kind:          kind,
		Amount:        decimal.RequireFromString(amount),
		Direction:     dir,
		PaymentMethod: model.PaymentCash,
		OperatorID:    cs.OperatorID,
		StoreID:       cs.StoreID,
		RecordedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestCajaRepo_OneActiveSessionPerStore(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewCajaRepository(testDB)
	store := storeID(t)

	first := openSession(t, repo, store)

	dup := *first
	dup.ID = uuid.New()
	assert.ErrorIs(t, repo.CreateSession(ctx, &dup), repository.ErrActiveSessionExists)

	active, err := repo.FindActiveSessionByStore(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	closed := *first
	closed.Status = model.SessionClosed
	counted := decimal.NewFromInt(100)
	zero := decimal.Zero
	closed.RealBalance, closed.Difference = &counted, &zero
	require.NoError(t, repo.CloseSession(ctx, &closed, first.Version))

	_, err = repo.FindActiveSessionByStore(ctx, store)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	openSession(t, repo, store)
}

func TestCajaRepo_AppendMovementVersionGuard(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewCajaRepository(testDB)
	cs := openSession(t, repo, storeID(t))

	require.NoError(t, repo.AppendMovement(ctx, movement(cs, model.KindSale, "40.50", model.DirectionIn), 0, nil))
	require.NoError(t, repo.AppendMovement(ctx, movement(cs, model.KindManualOut, "10.25", model.DirectionOut), 1, nil))

	stale := movement(cs, model.KindSale, "1.00", model.DirectionIn)
	assert.ErrorIs(t, repo.AppendMovement(ctx, stale, 1, nil), repository.ErrVersionConflict)
	_, err := repo.FindMovementByID(ctx, stale.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound, "losing append must roll back its insert")

	got, err := repo.FindSessionByID(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "130.25", got.TheoreticalBalance.StringFixed(2))

	movs, err := repo.ListMovements(ctx, cs.ID)
	require.NoError(t, err)
	assert.Len(t, movs, 2)
}

func TestCajaRepo_ConcurrentAppendsSerialise(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewCajaRepository(testDB)
	cs := openSession(t, repo, storeID(t))

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.AppendMovement(ctx, movement(cs, model.KindSale, "1.00", model.DirectionIn), 0, nil)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, repository.ErrVersionConflict)
	}
	assert.Equal(t, 1, wins)
}

func TestCajaRepo_DuplicateMovementID(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewCajaRepository(testDB)
	cs := openSession(t, repo, storeID(t))

	m := movement(cs, model.KindSale, "5.00", model.DirectionIn)
	require.NoError(t, repo.AppendMovement(ctx, m, 0, nil))
	assert.ErrorIs(t, repo.AppendMovement(ctx, m, 1, nil), repository.ErrDuplicate)

	got, _ := repo.FindSessionByID(ctx, cs.ID)
	assert.Equal(t, int64(1), got.Version)
}

func TestCajaRepo_OneReversalPerMovement(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewCajaRepository(testDB)
	cs := openSession(t, repo, storeID(t))

	orig := movement(cs, model.KindSale, "9.99", model.DirectionIn)
	require.NoError(t, repo.AppendMovement(ctx, orig, 0, nil))

	rev := func() *model.Movement {
		m := movement(cs, model.KindReversal, "9.99", model.DirectionOut)
		m.OriginID = orig.ID.String()
		return m
	}
	require.NoError(t, repo.AppendMovement(ctx, rev(), 1, nil))
	assert.ErrorIs(t, repo.AppendMovement(ctx, rev(), 2, nil), repository.ErrReversalExists)

	found, err := repo.FindReversalOf(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, orig.ID.String(), found.OriginID)
}

func TestCajaRepo_MovementsAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewCajaRepository(testDB)
	cs := openSession(t, repo, storeID(t))
	m := movement(cs, model.KindSale, "12.00", model.DirectionIn)
	require.NoError(t, repo.AppendMovement(ctx, m, 0, nil))

	err := testDB.Model(&model.Movement{}).Where("id = ?", m.ID).Update("amount", "1.00").Error
	assert.ErrorContains(t, err, "append-only")
	err = testDB.Where("id = ?", m.ID).Delete(&model.Movement{}).Error
	assert.ErrorContains(t, err, "append-only")

	require.NoError(t, repo.StampInvoice(ctx, m.ID, "INV-1"))
	assert.ErrorIs(t, repo.StampInvoice(ctx, m.ID, "INV-2"), repository.ErrAlreadyStamped)
	assert.ErrorIs(t, repo.StampInvoice(ctx, uuid.New(), "INV-3"), repository.ErrNotFound)

	got, err := repo.FindMovementByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-1", *got.InvoiceID)
	assert.Equal(t, "12.00", got.Amount.StringFixed(2))
}

func TestCajaRepo_SumMovements(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewCajaRepository(testDB)
	cs := openSession(t, repo, storeID(t))

	require.NoError(t, repo.AppendMovement(ctx, movement(cs, model.KindSale, "10.00", model.DirectionIn), 0, nil))
	require.NoError(t, repo.AppendMovement(ctx, movement(cs, model.KindSale, "2.50", model.DirectionIn), 1, nil))
	require.NoError(t, repo.AppendMovement(ctx, movement(cs, model.KindManualOut, "3.00", model.DirectionOut), 2, nil))

	rows, err := repo.SumMovements(ctx, cs.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	byKind := map[model.MovementKind]model.MovementTotal{}
	for _, r := range rows {
		byKind[r.Kind] = r
	}
	assert.Equal(t, "12.50", byKind[model.KindSale].Total.StringFixed(2))
	assert.Equal(t, int64(2), byKind[model.KindSale].Count)
	assert.Equal(t, "3.00", byKind[model.KindManualOut].Total.StringFixed(2))
}

func TestCajaRepo_DiscrepancySettlement(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewCajaRepository(testDB)
	store := storeID(t)
	cs := openSession(t, repo, store)

	disc := *cs
	disc.Status = model.SessionDiscrepancy
	counted := decimal.NewFromInt(95)
	diff := decimal.NewFromInt(-5)
	disc.RealBalance, disc.Difference = &counted, &diff
	require.NoError(t, repo.CloseSession(ctx, &disc, cs.Version))

	// Still occupies the store slot.
	dup := *cs
	dup.ID = uuid.New()
	dup.Status = model.SessionOpen
	assert.ErrorIs(t, repo.CreateSession(ctx, &dup), repository.ErrActiveSessionExists)

	settled := disc
	now := time.Now().UTC()
	by := "sup-1"
	notes := "shortfall confirmed"
	settled.SettledAt, settled.SettledBy, settled.SettlementNotes = &now, &by, &notes
	require.NoError(t, repo.SettleSession(ctx, &settled, disc.Version))
	assert.ErrorIs(t, repo.SettleSession(ctx, &settled, settled.Version), repository.ErrVersionConflict)

	openSession(t, repo, store)
}

func TestCustodyRepo(t *testing.T) {
	ctx := context.Background()
	cajas := repository.NewCajaRepository(testDB)
	custody := repository.NewCustodyRepository(testDB)
	store := storeID(t)
	cs := openSession(t, cajas, store)

	newPurchase := func(version int64, created time.Time) (*model.Movement, *model.CustodyRecord) {
		m := movement(cs, model.KindPurchase, "80.00", model.DirectionOut)
		rec := &model.CustodyRecord{
			ID: uuid.New(), MovementID: m.ID, SessionID: cs.ID, StoreID: store, ClientID: "client-1",
			ItemIDs: pq.StringArray{"ring"}, IdentityDocumentRef: "evidence://dni/1",
			ItemPhotoRefs: pq.StringArray{"evidence://photo/1"}, Status: model.CustodyHeld,
			CustodyEndDate: model.CustodyEndDate(created, time.UTC), CreatedAt: created, UpdatedAt: created,
		}
		require.NoError(t, cajas.AppendMovement(ctx, m, version, rec))
		return m, rec
	}

	past := time.Now().UTC().AddDate(0, 0, -20).Truncate(time.Microsecond)
	_, due := newPurchase(0, past)
	m2, fresh := newPurchase(1, time.Now().UTC().Truncate(time.Microsecond))

	again := *fresh
	again.ID = uuid.New()
	assert.ErrorIs(t, custody.Create(ctx, &again), repository.ErrCustodyExists)

	byMove, err := custody.FindByMovementID(ctx, m2.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, byMove.ID)
	assert.Equal(t, pq.StringArray{"ring"}, byMove.ItemIDs)

	open, err := custody.ListOpen(ctx, store)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, due.ID, open[0].ID, "ordered by custody end date")

	dueList, err := custody.ListDue(ctx, store, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, dueList, 1)
	assert.Equal(t, due.ID, dueList[0].ID)

	released := *due
	now := time.Now().UTC()
	by := "op-1"
	released.Status, released.ReleasedAt, released.ReleasedBy, released.UpdatedAt = model.CustodyReleased, &now, &by, now
	require.NoError(t, custody.Transition(ctx, &released, model.CustodyHeld))
	assert.ErrorIs(t, custody.Transition(ctx, &released, model.CustodyHeld), repository.ErrStateChanged)

	require.NoError(t, custody.MarkSentToAuthority(ctx, fresh.ID, now))
	assert.ErrorIs(t, custody.MarkSentToAuthority(ctx, fresh.ID, now), repository.ErrStateChanged)

	got, err := custody.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SentToAuthorityDate)
}
