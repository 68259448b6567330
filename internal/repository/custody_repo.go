package repository

import (
	"context"
	"time"

	"cashdesk/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CustodyRepository interface {
	Create(ctx context.Context, r *model.CustodyRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.CustodyRecord, error)
	FindByMovementID(ctx context.Context, movementID uuid.UUID) (*model.CustodyRecord, error)
	// Transition writes r's status, observations and release/incident fields
	// only if the stored status is still from. Otherwise ErrStateChanged.
	Transition(ctx context.Context, r *model.CustodyRecord, from model.CustodyStatus) error
	// MarkSentToAuthority sets sent_to_authority_date once; ErrStateChanged
	// if it was already set.
	MarkSentToAuthority(ctx context.Context, id uuid.UUID, at time.Time) error
	// ListOpen returns CUSTODY and INCIDENT records ordered by end date.
	ListOpen(ctx context.Context, storeID string) ([]model.CustodyRecord, error)
	// ListDue returns CUSTODY records whose end date is at or before now.
	ListDue(ctx context.Context, storeID string, now time.Time, limit int) ([]model.CustodyRecord, error)
}

type custodyRepo struct{ db *gorm.DB }

func NewCustodyRepository(db *gorm.DB) CustodyRepository { return &custodyRepo{db: db} }

func (r *custodyRepo) Create(ctx context.Context, rec *model.CustodyRecord) error {
	return classify(r.db.WithContext(ctx).Create(rec).Error)
}

func (r *custodyRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.CustodyRecord, error) {
	var rec model.CustodyRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &rec, nil
}

func (r *custodyRepo) FindByMovementID(ctx context.Context, movementID uuid.UUID) (*model.CustodyRecord, error) {
	var rec model.CustodyRecord
	if err := r.db.WithContext(ctx).First(&rec, "movement_id = ?", movementID).Error; err != nil {
		return nil, classify(err)
	}
	return &rec, nil
}

func (r *custodyRepo) Transition(ctx context.Context, rec *model.CustodyRecord, from model.CustodyStatus) error {
	res := r.db.WithContext(ctx).Model(&model.CustodyRecord{}).
		Where("id = ? AND status = ?", rec.ID, from).
		Updates(map[string]any{
			"status":       rec.Status,
			"observations": rec.Observations,
			"released_at":  rec.ReleasedAt,
			"released_by":  rec.ReleasedBy,
			"incident_at":  rec.IncidentAt,
			"updated_at":   rec.UpdatedAt,
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStateChanged
	}
	return nil
}

func (r *custodyRepo) MarkSentToAuthority(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.CustodyRecord{}).
		Where("id = ? AND sent_to_authority_date IS NULL", id).
		Updates(map[string]any{
			"sent_to_authority_date": at,
			"updated_at":             at,
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
		return ErrStateChanged
	}
	return nil
}

func (r *custodyRepo) ListOpen(ctx context.Context, storeID string) ([]model.CustodyRecord, error) {
	var recs []model.CustodyRecord
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND status IN ?", storeID, []model.CustodyStatus{model.CustodyHeld, model.CustodyIncident}).
		Order("custody_end_date ASC, id ASC").
		Find(&recs).Error
	return recs, classify(err)
}

func (r *custodyRepo) ListDue(ctx context.Context, storeID string, now time.Time, limit int) ([]model.CustodyRecord, error) {
	var recs []model.CustodyRecord
	q := r.db.WithContext(ctx).
		Where("status = ? AND custody_end_date <= ?", model.CustodyHeld, now)
	if storeID != "" {
		q = q.Where("store_id = ?", storeID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Order("custody_end_date ASC, id ASC").Find(&recs).Error
	return recs, classify(err)
}
