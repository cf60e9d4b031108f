package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notification is a transactional outbox row: evaluators enqueue it inside
// their own DB transaction, the dispatcher delivers it after commit.
// Delivery is best-effort and never rolls back a sanction write.
type Notification struct {
	ID             int                  `gorm:"primary_key" json:"id"`
	Guid           string               `gorm:"size:36;not null;uniqueIndex" json:"guid"`
	RecipientEmail string               `gorm:"size:100;not null;index" json:"recipient_email"`
	Title          string               `gorm:"size:255;not null" json:"title"`
	Message        string               `gorm:"type:text;not null" json:"message"`
	Severity       NotificationSeverity `gorm:"type:enum('INFO', 'SUCCESS', 'WARNING', 'ERROR');not null" json:"severity"`
	Category       NotificationCategory `gorm:"type:enum('SANCTIONS', 'ACCOUNT');not null" json:"category"`
	Link           *string              `gorm:"size:255" json:"link"`
	Status         NotificationStatus   `gorm:"type:enum('PENDING', 'PROCESSING', 'SENT', 'FAILED', 'DEAD');not null;default:'PENDING';index" json:"status"`
	Attempts       int                  `gorm:"not null;default:0" json:"attempts"`
	LastError      *string              `gorm:"size:1024" json:"last_error"`
	LockedAt       *time.Time           `json:"locked_at"`
	LockedBy       *string              `gorm:"size:64" json:"locked_by"`
	NextAttemptAt  *time.Time           `json:"next_attempt_at"`
	SentAt         *time.Time           `json:"sent_at"`
	CreatedAt      time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewNotification struct {
	RecipientEmail string
	Title          string
	Message        string
	Severity       NotificationSeverity
	Category       NotificationCategory
	Link           *string
}

// EnqueueNotification writes the outbox row using the caller's transaction so
// a rolled-back pass leaves no orphaned notifications behind.
func EnqueueNotification(tx *gorm.DB, input *NewNotification) error {
	record := Notification{
		Guid:           uuid.NewString(),
		RecipientEmail: input.RecipientEmail,
		Title:          input.Title,
		Message:        input.Message,
		Severity:       input.Severity,
		Category:       input.Category,
		Link:           input.Link,
		Status:         NotificationStatusPending,
	}
	return tx.Create(&record).Error
}
