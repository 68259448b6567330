package memory

import (
	"context"
	"sort"
	"time"

	"cashdesk/internal/model"
	"cashdesk/internal/repository"

	"github.com/google/uuid"
)

func (s *Store) checkCustodyUnique(rec *model.CustodyRecord) error {
	if _, ok := s.custody[rec.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, other := range s.custody {
		if other.MovementID == rec.MovementID {
			return repository.ErrCustodyExists
		}
	}
	return nil
}

func (s *Store) Create(_ context.Context, rec *model.CustodyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCustodyUnique(rec); err != nil {
		return err
	}
	s.custody[rec.ID] = cloneCustody(*rec)
	return nil
}

func (s *Store) FindByID(_ context.Context, id uuid.UUID) (*model.CustodyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.custody[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneCustody(rec)
	return &out, nil
}

func (s *Store) FindByMovementID(_ context.Context, movementID uuid.UUID) (*model.CustodyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.custody {
		if rec.MovementID == movementID {
			out := cloneCustody(rec)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) Transition(_ context.Context, rec *model.CustodyRecord, from model.CustodyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.custody[rec.ID]
	if !ok || cur.Status != from {
		return repository.ErrStateChanged
	}
	cur.Status = rec.Status
	cur.Observations = rec.Observations
	cur.ReleasedAt = rec.ReleasedAt
	cur.ReleasedBy = rec.ReleasedBy
	cur.IncidentAt = rec.IncidentAt
	cur.UpdatedAt = rec.UpdatedAt
	s.custody[rec.ID] = cur
	return nil
}

func (s *Store) MarkSentToAuthority(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.custody[id]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.SentToAuthorityDate != nil {
		return repository.ErrStateChanged
	}
	cur.SentToAuthorityDate = &at
	cur.UpdatedAt = at
	s.custody[id] = cur
	return nil
}

func (s *Store) ListOpen(_ context.Context, storeID string) ([]model.CustodyRecord, error) {
	s.mu.Lock()
	recs := make([]model.CustodyRecord, 0)
	for _, rec := range s.custody {
		if rec.StoreID == storeID && (rec.Status == model.CustodyHeld || rec.Status == model.CustodyIncident) {
			recs = append(recs, cloneCustody(rec))
		}
	}
	s.mu.Unlock()
	sortByEndDate(recs)
	return recs, nil
}

func (s *Store) ListDue(_ context.Context, storeID string, now time.Time, limit int) ([]model.CustodyRecord, error) {
	s.mu.Lock()
	recs := make([]model.CustodyRecord, 0)
	for _, rec := range s.custody {
		if storeID != "" && rec.StoreID != storeID {
			continue
		}
		if rec.Status == model.CustodyHeld && !rec.CustodyEndDate.After(now) {
			recs = append(recs, cloneCustody(rec))
		}
	}
	s.mu.Unlock()
	sortByEndDate(recs)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func sortByEndDate(recs []model.CustodyRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CustodyEndDate.Equal(recs[j].CustodyEndDate) {
			return recs[i].CustodyEndDate.Before(recs[j].CustodyEndDate)
		}
		return recs[i].ID.String() < recs[j].ID.String()
	})
}

func cloneCustody(rec model.CustodyRecord) model.CustodyRecord {
	rec.ItemIDs = append([]string(nil), rec.ItemIDs...)
	rec.ItemPhotoRefs = append([]string(nil), rec.ItemPhotoRefs...)
	return rec
}
