package workflow

import (
	"context"
	"time"

	"bitbucket.org/edufocus/lending_backend/config"
	"bitbucket.org/edufocus/lending_backend/models"
	"bitbucket.org/edufocus/lending_backend/utils"
	"gorm.io/gorm"
)

// Store is the persistence contract the escalation engine runs against.
// The production implementation wraps a *gorm.DB (usually a transaction);
// tests substitute an in-memory fake.
type Store interface {
	FindLoansByStatus(ctx context.Context, status models.LoanStatus) ([]models.Loan, error)

	// SanctionExists is the warning idempotency key: (loan, type).
	SanctionExists(ctx context.Context, loanGuid string, sanctionType models.SanctionType) (bool, error)

	// FindSanctionsByUser returns non-deleted sanctions of one type,
	// most recent sanction_date first.
	FindSanctionsByUser(ctx context.Context, userGuid string, sanctionType models.SanctionType) ([]models.Sanction, error)

	// FindExpiredBlocks returns TEMPORARY_BLOCK sanctions with
	// end_date <= asOf belonging to deactivated users.
	FindExpiredBlocks(ctx context.Context, asOf time.Time) ([]models.Sanction, error)

	FindSanctionByGuid(ctx context.Context, guid string) (*models.Sanction, error)
	CreateSanction(ctx context.Context, sanction *models.Sanction) error

	// SaveSanctionType mutates an existing ledger row in place (manual
	// administrative retype, distinct from automated escalation).
	SaveSanctionType(ctx context.Context, sanction *models.Sanction, newType models.SanctionType) error

	// HardDeleteSanction removes the row from the ledger permanently.
	HardDeleteSanction(ctx context.Context, sanction *models.Sanction) error

	FindUserByGuid(ctx context.Context, guid string) (*models.User, error)
	SetUserActive(ctx context.Context, user *models.User, active bool) error
	FindAdmins(ctx context.Context) ([]models.User, error)
}

// Notifier delivers a message to one recipient. Best-effort: the engine logs
// failures and keeps going.
type Notifier interface {
	Notify(ctx context.Context, input *models.NewNotification) error
}

// GormStore implements Store over a gorm handle. Handing it the transaction
// of a scheduler pass gives the pass read-your-writes semantics.
type GormStore struct {
	DB *gorm.DB
}

func (s *GormStore) FindLoansByStatus(ctx context.Context, status models.LoanStatus) ([]models.Loan, error) {
	var loans []models.Loan
	if err := s.DB.WithContext(ctx).
		Where("status = ?", status).
		Order("updated_at ASC").
		Find(&loans).Error; err != nil {
		return nil, err
	}
	return loans, nil
}

func (s *GormStore) SanctionExists(ctx context.Context, loanGuid string, sanctionType models.SanctionType) (bool, error) {
	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.Sanction{}).
		Where("loan_guid = ? AND type = ? AND deleted = 0", loanGuid, sanctionType).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) FindSanctionsByUser(ctx context.Context, userGuid string, sanctionType models.SanctionType) ([]models.Sanction, error) {
	var sanctions []models.Sanction
	if err := s.DB.WithContext(ctx).
		Where("user_guid = ? AND type = ? AND deleted = 0", userGuid, sanctionType).
		Order("sanction_date DESC, id DESC").
		Find(&sanctions).Error; err != nil {
		return nil, err
	}
	return sanctions, nil
}

func (s *GormStore) FindExpiredBlocks(ctx context.Context, asOf time.Time) ([]models.Sanction, error) {
	var sanctions []models.Sanction
	if err := s.DB.WithContext(ctx).
		Joins("JOIN users ON users.guid = sanctions.user_guid").
		Where("sanctions.type = ? AND sanctions.deleted = 0", models.SanctionTypeTemporaryBlock).
		Where("sanctions.end_date <= ?", utils.DateOf(asOf)).
		Where("users.is_active = 0").
		Order("sanctions.end_date ASC, sanctions.id ASC").
		Find(&sanctions).Error; err != nil {
		return nil, err
	}
	return sanctions, nil
}

func (s *GormStore) FindSanctionByGuid(ctx context.Context, guid string) (*models.Sanction, error) {
	var sanction models.Sanction
	if err := s.DB.WithContext(ctx).Where("guid = ?", guid).First(&sanction).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &sanction, nil
}

func (s *GormStore) CreateSanction(ctx context.Context, sanction *models.Sanction) error {
	return s.DB.WithContext(ctx).Create(sanction).Error
}

func (s *GormStore) SaveSanctionType(ctx context.Context, sanction *models.Sanction, newType models.SanctionType) error {
	// Optimistic concurrency: the version guard detects a concurrently
	// running tick or another admin edit racing this update.
	result := s.DB.WithContext(ctx).Model(&models.Sanction{}).
		Where("id = ? AND version = ?", sanction.ID, sanction.Version).
		Updates(map[string]interface{}{
			"type":    newType,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.DB.WithContext(ctx).Model(&models.Sanction{}).
			Where("id = ?", sanction.ID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return utils.ErrorVersionConflict
		}
		return utils.ErrorRecordNotFound
	}
	sanction.Type = newType
	sanction.Version++
	return nil
}

func (s *GormStore) HardDeleteSanction(ctx context.Context, sanction *models.Sanction) error {
	return s.DB.WithContext(ctx).Unscoped().Delete(&models.Sanction{}, sanction.ID).Error
}

func (s *GormStore) FindUserByGuid(ctx context.Context, guid string) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).Where("guid = ?", guid).First(&user).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &user, nil
}

func (s *GormStore) SetUserActive(ctx context.Context, user *models.User, active bool) error {
	if err := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"is_active": active,
			"version":   gorm.Expr("version + 1"),
		}).Error; err != nil {
		return err
	}
	user.IsActive = &active
	user.Version++
	// Cached sessions must see the new activation state.
	_ = config.RemoveRedisKey("User:" + user.Username)
	return nil
}

func (s *GormStore) FindAdmins(ctx context.Context) ([]models.User, error) {
	// Admin fan-out happens on every evaluator write; the redis-cached
	// lookup keeps it off the pass transaction.
	return models.FindAdmins(ctx)
}

// OutboxNotifier enqueues notification rows through the pass transaction.
// Actual delivery happens asynchronously in the NotificationDispatcher.
type OutboxNotifier struct {
	DB *gorm.DB
}

func (n *OutboxNotifier) Notify(ctx context.Context, input *models.NewNotification) error {
	return models.EnqueueNotification(n.DB.WithContext(ctx), input)
}
