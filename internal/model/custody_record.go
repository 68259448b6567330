package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CustodyPeriodDays is the regulatory holding period for goods bought from
// private individuals, in calendar days.
const CustodyPeriodDays = 15

// CustodyStatus: CUSTODY -> RELEASED | INCIDENT, both terminal.
type CustodyStatus string

const (
	CustodyHeld     CustodyStatus = "CUSTODY"
	CustodyReleased CustodyStatus = "RELEASED"
	CustodyIncident CustodyStatus = "INCIDENT"
)

// CustodyRecord is the legal file ("ficha legal") kept for a purchase from a
// walk-in client. It references the purchase movement but does not own it.
type CustodyRecord struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey"`
	MovementID uuid.UUID      `gorm:"type:uuid;uniqueIndex;not null"`
	SessionID  uuid.UUID      `gorm:"type:uuid;not null"`
	StoreID    string         `gorm:"type:varchar(64);not null;index"`
	ClientID   string         `gorm:"type:varchar(128);not null"`
	ItemIDs    pq.StringArray `gorm:"type:text[];not null"`
	// Evidence references point into the external evidence store.
	IdentityDocumentRef string         `gorm:"not null"`
	ItemPhotoRefs       pq.StringArray `gorm:"type:text[];not null"`
	Status              CustodyStatus  `gorm:"type:varchar(20);not null;default:'CUSTODY'"`
	Observations        string         `gorm:"not null;default:''"`
	// CustodyEndDate is fixed at creation and never recomputed.
	CustodyEndDate      time.Time `gorm:"not null"`
	SentToAuthorityDate *time.Time
	ReleasedAt          *time.Time
	ReleasedBy          *string `gorm:"type:varchar(64)"`
	IncidentAt          *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (CustodyRecord) TableName() string { return "custody_records" }

// CustodyEndDate adds the custody period in calendar days in loc, so a DST
// change inside the window does not shift the wall-clock end time.
func CustodyEndDate(createdAt time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return createdAt.In(loc).AddDate(0, 0, CustodyPeriodDays)
}

// Releasable reports whether the record may be released at now.
func (r *CustodyRecord) Releasable(now time.Time) bool {
	return r.Status == CustodyHeld && !now.Before(r.CustodyEndDate)
}
