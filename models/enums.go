package models

import "errors"

type SanctionType string

const (
	SanctionTypeWarning        SanctionType = "WARNING"
	SanctionTypeTemporaryBlock SanctionType = "TEMPORARY_BLOCK"
	SanctionTypeIndefinite     SanctionType = "INDEFINITE"
)

var ErrInvalidSanctionType = errors.New("invalid sanction type")

// ParseSanctionType converts raw input to the enum.
// Administrative input goes through this before touching the ledger.
func ParseSanctionType(s string) (SanctionType, error) {
	switch s {
	case "WARNING":
		return SanctionTypeWarning, nil
	case "TEMPORARY_BLOCK":
		return SanctionTypeTemporaryBlock, nil
	case "INDEFINITE":
		return SanctionTypeIndefinite, nil
	default:
		return "", ErrInvalidSanctionType
	}
}

type LoanStatus string

const (
	LoanStatusActive   LoanStatus = "ACTIVE"
	LoanStatusReturned LoanStatus = "RETURNED"
	LoanStatusOverdue  LoanStatus = "OVERDUE"
	LoanStatusLost     LoanStatus = "LOST"
)

type UserRole string

const (
	UserRoleAdmin   UserRole = "A"
	UserRoleTeacher UserRole = "T"
	UserRoleStudent UserRole = "S"
)

type NotificationSeverity string

const (
	NotificationSeverityInfo    NotificationSeverity = "INFO"
	NotificationSeveritySuccess NotificationSeverity = "SUCCESS"
	NotificationSeverityWarning NotificationSeverity = "WARNING"
	NotificationSeverityError   NotificationSeverity = "ERROR"
)

type NotificationCategory string

const (
	NotificationCategorySanctions NotificationCategory = "SANCTIONS"
	NotificationCategoryAccount   NotificationCategory = "ACCOUNT"
)

type NotificationStatus string

const (
	NotificationStatusPending    NotificationStatus = "PENDING"
	NotificationStatusProcessing NotificationStatus = "PROCESSING"
	NotificationStatusSent       NotificationStatus = "SENT"
	NotificationStatusFailed     NotificationStatus = "FAILED"
	NotificationStatusDead       NotificationStatus = "DEAD"
)
