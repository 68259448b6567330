package repository

import (
	"context"
	"time"

	"cashdesk/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// activeSessionClause matches sessions that still hold their store's drawer.
const activeSessionClause = "(status = 'OPEN' OR (status = 'DISCREPANCY' AND settled_at IS NULL))"

type CajaRepository interface {
	CreateSession(ctx context.Context, s *model.CashSession) error
	FindActiveSessionByStore(ctx context.Context, storeID string) (*model.CashSession, error)
	FindSessionByID(ctx context.Context, id uuid.UUID) (*model.CashSession, error)
	ListSessions(ctx context.Context, storeID string, page, limit int) ([]model.CashSession, int64, error)
	// CloseSession and SettleSession only apply when the stored version still
	// equals expectedVersion; otherwise they return ErrVersionConflict.
	CloseSession(ctx context.Context, s *model.CashSession, expectedVersion int64) error
	SettleSession(ctx context.Context, s *model.CashSession, expectedVersion int64) error

	// AppendMovement inserts m and applies its signed amount to the session's
	// theoretical balance in one transaction. custody, when non-nil, is
	// inserted in the same transaction.
	AppendMovement(ctx context.Context, m *model.Movement, expectedVersion int64, custody *model.CustodyRecord) error
	FindMovementByID(ctx context.Context, id uuid.UUID) (*model.Movement, error)
	FindReversalOf(ctx context.Context, movementID uuid.UUID) (*model.Movement, error)
	ListMovements(ctx context.Context, sessionID uuid.UUID) ([]model.Movement, error)
	SumMovements(ctx context.Context, sessionID uuid.UUID) ([]model.MovementTotal, error)
	// StampInvoice sets invoice_id once; a second call returns ErrAlreadyStamped.
	StampInvoice(ctx context.Context, movementID uuid.UUID, invoiceID string) error
}

type cajaRepo struct{ db *gorm.DB }

func NewCajaRepository(db *gorm.DB) CajaRepository { return &cajaRepo{db: db} }

func (r *cajaRepo) CreateSession(ctx context.Context, s *model.CashSession) error {
	return classify(r.db.WithContext(ctx).Create(s).Error)
}

func (r *cajaRepo) FindActiveSessionByStore(ctx context.Context, storeID string) (*model.CashSession, error) {
	var s model.CashSession
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND "+activeSessionClause, storeID).
		First(&s).Error
	if err != nil {
		return nil, classify(err)
	}
	return &s, nil
}

func (r *cajaRepo) FindSessionByID(ctx context.Context, id uuid.UUID) (*model.CashSession, error) {
	var s model.CashSession
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &s, nil
}

func (r *cajaRepo) ListSessions(ctx context.Context, storeID string, page, limit int) ([]model.CashSession, int64, error) {
	var (
		sessions []model.CashSession
		total    int64
	)
	q := r.db.WithContext(ctx).Model(&model.CashSession{}).Where("store_id = ?", storeID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}
	err := q.Order("opened_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&sessions).Error
	return sessions, total, classify(err)
}

func (r *cajaRepo) CloseSession(ctx context.Context, s *model.CashSession, expectedVersion int64) error {
	res := r.db.WithContext(ctx).Model(&model.CashSession{}).
		Where("id = ? AND version = ? AND status = ?", s.ID, expectedVersion, model.SessionOpen).
		Updates(map[string]any{
			"real_balance":  s.RealBalance,
			"difference":    s.Difference,
			"status":        s.Status,
			"closure_notes": s.ClosureNotes,
			"closed_by":     s.ClosedBy,
			"closed_at":     s.ClosedAt,
			"version":       gorm.Expr("version + 1"),
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	s.Version = expectedVersion + 1
	return nil
}

func (r *cajaRepo) SettleSession(ctx context.Context, s *model.CashSession, expectedVersion int64) error {
	res := r.db.WithContext(ctx).Model(&model.CashSession{}).
		Where("id = ? AND version = ? AND status = ? AND settled_at IS NULL", s.ID, expectedVersion, model.SessionDiscrepancy).
		Updates(map[string]any{
			"settled_at":       s.SettledAt,
			"settled_by":       s.SettledBy,
			"settlement_notes": s.SettlementNotes,
			"version":          gorm.Expr("version + 1"),
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	s.Version = expectedVersion + 1
	return nil
}

// ── Movements ────────────────────────────────────────────────────────────────

func (r *cajaRepo) AppendMovement(ctx context.Context, m *model.Movement, expectedVersion int64, custody *model.CustodyRecord) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The movement id is the idempotency key: a replay inserts nothing.
		ins := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(m)
		if ins.Error != nil {
			return ins.Error
		}
		if ins.RowsAffected == 0 {
			return ErrDuplicate
		}

		upd := tx.Model(&model.CashSession{}).
			Where("id = ? AND version = ? AND "+activeSessionClause, m.SessionID, expectedVersion).
			Updates(map[string]any{
				"theoretical_balance": gorm.Expr("theoretical_balance + ?", m.SignedAmount()),
				"version":             gorm.Expr("version + 1"),
				"updated_at":          m.RecordedAt,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return ErrVersionConflict
		}

		if custody != nil {
			if err := tx.Create(custody).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return classify(err)
}

func (r *cajaRepo) FindMovementByID(ctx context.Context, id uuid.UUID) (*model.Movement, error) {
	var m model.Movement
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &m, nil
}

func (r *cajaRepo) FindReversalOf(ctx context.Context, movementID uuid.UUID) (*model.Movement, error) {
	var m model.Movement
	err := r.db.WithContext(ctx).
		Where("kind = ? AND origin_id = ?", model.KindReversal, movementID.String()).
		First(&m).Error
	if err != nil {
		return nil, classify(err)
	}
	return &m, nil
}

func (r *cajaRepo) ListMovements(ctx context.Context, sessionID uuid.UUID) ([]model.Movement, error) {
	var movs []model.Movement
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("recorded_at ASC, id ASC").
		Find(&movs).Error
	return movs, classify(err)
}

func (r *cajaRepo) SumMovements(ctx context.Context, sessionID uuid.UUID) ([]model.MovementTotal, error) {
	var rows []model.MovementTotal
	err := r.db.WithContext(ctx).Model(&model.Movement{}).
		Select("kind, payment_method, direction, SUM(amount) AS total, COUNT(*) AS count").
		Where("session_id = ?", sessionID).
		Group("kind, payment_method, direction").
		Order("kind, payment_method, direction").
		Scan(&rows).Error
	return rows, classify(err)
}

func (r *cajaRepo) StampInvoice(ctx context.Context, movementID uuid.UUID, invoiceID string) error {
	res := r.db.WithContext(ctx).Model(&model.Movement{}).
		Where("id = ? AND invoice_id IS NULL", movementID).
		Update("invoice_id", invoiceID)
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindMovementByID(ctx, movementID); err != nil {
			return err
		}
		return ErrAlreadyStamped
	}
	return nil
}
