package models

import (
	"time"
)

// Loan is read-side state for the escalation engine. Creation and return of
// loans is handled by the lending service; this backend only scans them
// through the workflow store.
type Loan struct {
	ID        int        `gorm:"primary_key" json:"id"`
	Guid      string     `gorm:"size:36;not null;uniqueIndex" json:"guid"`
	UserGuid  string     `gorm:"size:36;not null;index" json:"user_guid"`
	DeviceTag string     `gorm:"size:100" json:"device_tag"`
	Status    LoanStatus `gorm:"type:enum('ACTIVE', 'RETURNED', 'OVERDUE', 'LOST');not null;index" json:"status"`
	DueDate   *time.Time `json:"due_date"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
