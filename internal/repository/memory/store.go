// Package memory is an in-process implementation of the repository
// interfaces used by unit tests. It enforces the same uniqueness and
// version rules as the Postgres schema.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cashdesk/internal/model"
	"cashdesk/internal/repository"

	"github.com/google/uuid"
)

type Store struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]model.CashSession
	movements map[uuid.UUID]model.Movement
	custody   map[uuid.UUID]model.CustodyRecord

	// conflicts forces the next n AppendMovement calls to lose their race.
	conflicts int
	// failWith, when set, is returned by the next AppendMovement instead of
	// writing anything.
	failWith error
}

var (
	_ repository.CajaRepository    = (*Store)(nil)
	_ repository.CustodyRepository = (*Store)(nil)
)

func New() *Store {
	return &Store{
		sessions:  make(map[uuid.UUID]model.CashSession),
		movements: make(map[uuid.UUID]model.Movement),
		custody:   make(map[uuid.UUID]model.CustodyRecord),
	}
}

// InjectConflicts makes the next n appends fail with ErrVersionConflict.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	s.conflicts = n
	s.mu.Unlock()
}

// FailNextAppend makes the next append fail with err after validation, with
// nothing written.
func (s *Store) FailNextAppend(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

// CustodyCount is the number of stored custody records.
func (s *Store) CustodyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.custody)
}

// ── Sessions ─────────────────────────────────────────────────────────────────

func (s *Store) CreateSession(_ context.Context, cs *model.CashSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[cs.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, other := range s.sessions {
		if other.StoreID == cs.StoreID && other.IsActive() {
			return repository.ErrActiveSessionExists
		}
	}
	s.sessions[cs.ID] = *cs
	return nil
}

func (s *Store) FindActiveSessionByStore(_ context.Context, storeID string) (*model.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cs := range s.sessions {
		if cs.StoreID == storeID && cs.IsActive() {
			out := cs
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) FindSessionByID(_ context.Context, id uuid.UUID) (*model.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &cs, nil
}

func (s *Store) ListSessions(_ context.Context, storeID string, page, limit int) ([]model.CashSession, int64, error) {
	s.mu.Lock()
	var all []model.CashSession
	for _, cs := range s.sessions {
		if cs.StoreID == storeID {
			all = append(all, cs)
		}
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].OpenedAt.After(all[j].OpenedAt) })
	total := int64(len(all))
	from := (page - 1) * limit
	if from >= len(all) {
		return []model.CashSession{}, total, nil
	}
	to := from + limit
	if to > len(all) {
		to = len(all)
	}
	return all[from:to], total, nil
}

func (s *Store) CloseSession(_ context.Context, cs *model.CashSession, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[cs.ID]
	if !ok || cur.Version != expectedVersion || cur.Status != model.SessionOpen {
		return repository.ErrVersionConflict
	}
	cur.RealBalance = cs.RealBalance
	cur.Difference = cs.Difference
	cur.Status = cs.Status
	cur.ClosureNotes = cs.ClosureNotes
	cur.ClosedBy = cs.ClosedBy
	cur.ClosedAt = cs.ClosedAt
	cur.Version++
	cur.UpdatedAt = time.Now()
	s.sessions[cs.ID] = cur
	cs.Version = cur.Version
	return nil
}

func (s *Store) SettleSession(_ context.Context, cs *model.CashSession, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[cs.ID]
	if !ok || cur.Version != expectedVersion || cur.Status != model.SessionDiscrepancy || cur.SettledAt != nil {
		return repository.ErrVersionConflict
	}
	cur.SettledAt = cs.SettledAt
	cur.SettledBy = cs.SettledBy
	cur.SettlementNotes = cs.SettlementNotes
	cur.Version++
	cur.UpdatedAt = time.Now()
	s.sessions[cs.ID] = cur
	cs.Version = cur.Version
	return nil
}

// ── Movements ────────────────────────────────────────────────────────────────

func (s *Store) AppendMovement(_ context.Context, m *model.Movement, expectedVersion int64, custody *model.CustodyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.movements[m.ID]; ok {
		return repository.ErrDuplicate
	}
	if s.failWith != nil {
		err := s.failWith
		s.failWith = nil
		return err
	}
	if s.conflicts > 0 {
		s.conflicts--
		return repository.ErrVersionConflict
	}
	cs, ok := s.sessions[m.SessionID]
	if !ok || cs.Version != expectedVersion || !cs.IsActive() {
		return repository.ErrVersionConflict
	}
	if m.Kind == model.KindReversal {
		for _, other := range s.movements {
			if other.Kind == model.KindReversal && other.OriginID == m.OriginID {
				return repository.ErrReversalExists
			}
		}
	}
	if custody != nil {
		if err := s.checkCustodyUnique(custody); err != nil {
			return err
		}
	}

	s.movements[m.ID] = *m
	cs.TheoreticalBalance = cs.TheoreticalBalance.Add(m.SignedAmount())
	cs.Version++
	cs.UpdatedAt = m.RecordedAt
	s.sessions[cs.ID] = cs
	if custody != nil {
		s.custody[custody.ID] = cloneCustody(*custody)
	}
	return nil
}

func (s *Store) FindMovementByID(_ context.Context, id uuid.UUID) (*model.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.movements[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &m, nil
}

func (s *Store) FindReversalOf(_ context.Context, movementID uuid.UUID) (*model.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	origin := movementID.String()
	for _, m := range s.movements {
		if m.Kind == model.KindReversal && m.OriginID == origin {
			out := m
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) ListMovements(_ context.Context, sessionID uuid.UUID) ([]model.Movement, error) {
	s.mu.Lock()
	movs := make([]model.Movement, 0)
	for _, m := range s.movements {
		if m.SessionID == sessionID {
			movs = append(movs, m)
		}
	}
	s.mu.Unlock()
	sortMovements(movs)
	return movs, nil
}

func (s *Store) SumMovements(ctx context.Context, sessionID uuid.UUID) ([]model.MovementTotal, error) {
	movs, _ := s.ListMovements(ctx, sessionID)
	type key struct {
		k model.MovementKind
		p model.PaymentMethod
		d model.Direction
	}
	idx := map[key]int{}
	var rows []model.MovementTotal
	for _, m := range movs {
		k := key{m.Kind, m.PaymentMethod, m.Direction}
		i, ok := idx[k]
		if !ok {
			i = len(rows)
			idx[k] = i
			rows = append(rows, model.MovementTotal{Kind: m.Kind, PaymentMethod: m.PaymentMethod, Direction: m.Direction})
		}
		rows[i].Total = rows[i].Total.Add(m.Amount)
		rows[i].Count++
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.PaymentMethod != b.PaymentMethod {
			return a.PaymentMethod < b.PaymentMethod
		}
		return a.Direction < b.Direction
	})
	return rows, nil
}

func (s *Store) StampInvoice(_ context.Context, movementID uuid.UUID, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.movements[movementID]
	if !ok {
		return repository.ErrNotFound
	}
	if m.InvoiceID != nil {
		return repository.ErrAlreadyStamped
	}
	m.InvoiceID = &invoiceID
	s.movements[movementID] = m
	return nil
}

func sortMovements(movs []model.Movement) {
	sort.Slice(movs, func(i, j int) bool {
		if !movs[i].RecordedAt.Equal(movs[j].RecordedAt) {
			return movs[i].RecordedAt.Before(movs[j].RecordedAt)
		}
		return movs[i].ID.String() < movs[j].ID.String()
	})
}
