package models

import (
	"context"
	"time"

	"bitbucket.org/edufocus/lending_backend/config"
	"bitbucket.org/edufocus/lending_backend/utils"
)

// Sanction is a ledger entry restricting or flagging a user's ability to
// borrow devices. Automated entries are created by the escalation engine and
// never mutated by it; administrators may retype or hard-delete entries.
type Sanction struct {
	ID           int          `gorm:"primary_key" json:"id"`
	Guid         string       `gorm:"size:36;not null;uniqueIndex" json:"guid"`
	UserGuid     string       `gorm:"size:36;not null;index" json:"user_guid"`
	Type         SanctionType `gorm:"type:enum('WARNING', 'TEMPORARY_BLOCK', 'INDEFINITE');not null" json:"type"`
	LoanGuid     *string      `gorm:"size:36;index" json:"loan_guid"`
	SanctionDate time.Time    `gorm:"not null" json:"sanction_date"`
	EndDate      *time.Time   `json:"end_date"`
	Deleted      *bool        `gorm:"not null;default:false" json:"deleted"`
	Version      int          `gorm:"not null;default:0" json:"version"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActiveAt reports whether the sanction blocks the user on the given day.
// INDEFINITE sanctions are always active; TEMPORARY_BLOCK until end_date
// inclusive. WARNING entries only accumulate, they never block.
func (s *Sanction) IsActiveAt(day time.Time) bool {
	if s.Deleted != nil && *s.Deleted {
		return false
	}
	switch s.Type {
	case SanctionTypeIndefinite:
		return true
	case SanctionTypeTemporaryBlock:
		return s.EndDate != nil && !s.EndDate.Before(utils.DateOf(day))
	default:
		return false
	}
}

// IsFulfilledAt reports whether a temporary block has already been served in
// full by the given day.
func (s *Sanction) IsFulfilledAt(day time.Time) bool {
	return s.Type == SanctionTypeTemporaryBlock &&
		s.EndDate != nil && !s.EndDate.After(utils.DateOf(day))
}

func GetSanctionByGuid(ctx context.Context, guid string) (*Sanction, error) {
	db := config.GetDB()
	var sanction Sanction
	if err := db.WithContext(ctx).Where("guid = ?", guid).First(&sanction).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &sanction, nil
}

const (
	DefaultPage = 0
	DefaultSize = 5
)

// ListSanctions returns one page of the ledger, newest first, plus the total
// row count for the pagination envelope.
func ListSanctions(ctx context.Context, page int, size int) ([]Sanction, int64, error) {
	if page < 0 {
		page = DefaultPage
	}
	if size <= 0 {
		size = DefaultSize
	}

	db := config.GetDB()
	var total int64
	if err := db.WithContext(ctx).Model(&Sanction{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var sanctions []Sanction
	if err := db.WithContext(ctx).
		Order("sanction_date DESC, id DESC").
		Offset(page * size).
		Limit(size).
		Find(&sanctions).Error; err != nil {
		return nil, 0, err
	}
	return sanctions, total, nil
}
