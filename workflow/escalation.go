package workflow

import (
	"context"
	"time"

	"bitbucket.org/edufocus/lending_backend/models"
	"bitbucket.org/edufocus/lending_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// A loan must sit in OVERDUE this long before it draws a warning.
	overdueGraceDays = 3

	// Warnings needed before a temporary block is applied.
	warningThreshold = 2

	// Length of a temporary block.
	blockDurationMonths = 2

	// Fully served temporary blocks needed before an indefinite suspension.
	fulfilledBlockThreshold = 2
)

// Engine hosts the sanction evaluators. All persistence goes through Store
// and all messaging through Notifier; day-window decisions derive from the
// `now` each entry point receives.
type Engine struct {
	Store    Store
	Notifier Notifier
	Logger   *logrus.Logger
}

// NewEngine binds the engine to a gorm handle, typically the transaction of
// one scheduler pass.
func NewEngine(db *gorm.DB, logger *logrus.Logger) *Engine {
	return &Engine{
		Store:    &GormStore{DB: db},
		Notifier: &OutboxNotifier{DB: db},
		Logger:   logger,
	}
}

// PassReport summarizes what one scheduled pass did. It feeds the scheduler's
// structured log line and the tests.
type PassReport struct {
	LoansScanned         int
	WarningsCreated      int
	BlocksCreated        int
	IndefinitesCreated   int
	ExpiredBlocksScanned int
	UsersReactivated     int
}

// RunOverdueWarningPass scans overdue loans and emits at most one WARNING per
// loan, then evaluates block escalation for each affected user. Persisting
// the warning happens before the escalation check so the check sees it.
func (e *Engine) RunOverdueWarningPass(ctx context.Context, now time.Time) (*PassReport, error) {
	report := &PassReport{}

	loans, err := e.Store.FindLoansByStatus(ctx, models.LoanStatusOverdue)
	if err != nil {
		return nil, err
	}

	today := utils.DateOf(now)
	for i := range loans {
		loan := &loans[i]
		report.LoansScanned++

		// updated_at approximates the moment the loan flipped to OVERDUE.
		// Any unrelated write to the loan row resets this countdown.
		becameOverdueAt := loan.UpdatedAt
		if !now.After(becameOverdueAt.AddDate(0, 0, overdueGraceDays)) {
			continue
		}

		exists, err := e.Store.SanctionExists(ctx, loan.Guid, models.SanctionTypeWarning)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		user, err := e.Store.FindUserByGuid(ctx, loan.UserGuid)
		if err != nil {
			e.Logger.WithFields(logrus.Fields{
				"field":     "RunOverdueWarningPass",
				"loan_guid": loan.Guid,
				"user_guid": loan.UserGuid,
			}).Error("overdue loan references unknown user; skipping")
			continue
		}

		loanGuid := loan.Guid
		warning := &models.Sanction{
			Guid:         uuid.NewString(),
			UserGuid:     user.Guid,
			Type:         models.SanctionTypeWarning,
			LoanGuid:     &loanGuid,
			SanctionDate: today,
			Deleted:      utils.NewFalse(),
		}
		if err := e.Store.CreateSanction(ctx, warning); err != nil {
			return nil, err
		}
		report.WarningsCreated++

		userTitle, userMsg := warningUserNotification(loan)
		adminTitle, adminMsg := warningAdminNotification(user, loan)
		e.notifyUser(ctx, user, userTitle, userMsg, models.NotificationSeverityWarning, models.NotificationCategorySanctions, sanctionLink(warning))
		e.notifyAdmins(ctx, user, adminTitle, adminMsg, models.NotificationSeverityWarning, models.NotificationCategorySanctions, sanctionLink(warning))

		if err := e.evaluateBlockEscalation(ctx, user, now, report); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// evaluateBlockEscalation promotes accumulated warnings into a temporary
// block. Idempotent: an active block or a block already created today makes
// it a no-op.
func (e *Engine) evaluateBlockEscalation(ctx context.Context, user *models.User, now time.Time, report *PassReport) error {
	blocks, err := e.Store.FindSanctionsByUser(ctx, user.Guid, models.SanctionTypeTemporaryBlock)
	if err != nil {
		return err
	}
	for i := range blocks {
		if blocks[i].IsActiveAt(now) {
			return nil
		}
	}

	warnings, err := e.Store.FindSanctionsByUser(ctx, user.Guid, models.SanctionTypeWarning)
	if err != nil {
		return err
	}
	if len(warnings) < warningThreshold {
		return nil
	}

	// A block must reference the loan whose warnings triggered it; take the
	// most recent warning that still carries one.
	var loanGuid *string
	for i := range warnings {
		if warnings[i].LoanGuid != nil {
			loanGuid = warnings[i].LoanGuid
			break
		}
	}
	if loanGuid == nil {
		e.Logger.WithFields(logrus.Fields{
			"field":     "evaluateBlockEscalation",
			"user_guid": user.Guid,
			"warnings":  len(warnings),
		}).Error("user reached the warning threshold but no warning carries a loan reference; block not created")
		return nil
	}

	for i := range blocks {
		if utils.SameDay(blocks[i].SanctionDate, now) {
			return nil
		}
	}

	today := utils.DateOf(now)
	endDate := today.AddDate(0, blockDurationMonths, 0)
	block := &models.Sanction{
		Guid:         uuid.NewString(),
		UserGuid:     user.Guid,
		Type:         models.SanctionTypeTemporaryBlock,
		LoanGuid:     loanGuid,
		SanctionDate: today,
		EndDate:      &endDate,
		Deleted:      utils.NewFalse(),
	}
	if err := e.Store.CreateSanction(ctx, block); err != nil {
		return err
	}
	report.BlocksCreated++

	if user.IsActive == nil || *user.IsActive {
		if err := e.Store.SetUserActive(ctx, user, false); err != nil {
			return err
		}
	}

	userTitle, userMsg := blockUserNotification(endDate)
	adminTitle, adminMsg := blockAdminNotification(user, endDate)
	e.notifyUser(ctx, user, userTitle, userMsg, models.NotificationSeverityError, models.NotificationCategorySanctions, sanctionLink(block))
	e.notifyAdmins(ctx, user, adminTitle, adminMsg, models.NotificationSeverityWarning, models.NotificationCategorySanctions, sanctionLink(block))
	return nil
}

// evaluateIndefiniteEscalation promotes repeatedly served temporary blocks
// into an indefinite suspension.
func (e *Engine) evaluateIndefiniteEscalation(ctx context.Context, user *models.User, now time.Time, report *PassReport) error {
	indefinites, err := e.Store.FindSanctionsByUser(ctx, user.Guid, models.SanctionTypeIndefinite)
	if err != nil {
		return err
	}
	for i := range indefinites {
		if indefinites[i].IsActiveAt(now) {
			return nil
		}
		if utils.SameDay(indefinites[i].SanctionDate, now) {
			return nil
		}
	}

	blocks, err := e.Store.FindSanctionsByUser(ctx, user.Guid, models.SanctionTypeTemporaryBlock)
	if err != nil {
		return err
	}
	fulfilled := 0
	for i := range blocks {
		if blocks[i].IsFulfilledAt(now) {
			fulfilled++
		}
	}
	if fulfilled < fulfilledBlockThreshold {
		return nil
	}

	indefinite := &models.Sanction{
		Guid:         uuid.NewString(),
		UserGuid:     user.Guid,
		Type:         models.SanctionTypeIndefinite,
		SanctionDate: utils.DateOf(now),
		Deleted:      utils.NewFalse(),
	}
	if err := e.Store.CreateSanction(ctx, indefinite); err != nil {
		return err
	}
	report.IndefinitesCreated++

	if user.IsActive == nil || *user.IsActive {
		if err := e.Store.SetUserActive(ctx, user, false); err != nil {
			return err
		}
	}

	userTitle, userMsg := indefiniteUserNotification()
	adminTitle, adminMsg := indefiniteAdminNotification(user)
	e.notifyUser(ctx, user, userTitle, userMsg, models.NotificationSeverityError, models.NotificationCategorySanctions, sanctionLink(indefinite))
	e.notifyAdmins(ctx, user, adminTitle, adminMsg, models.NotificationSeverityWarning, models.NotificationCategorySanctions, sanctionLink(indefinite))
	return nil
}

// RunReactivationPass reactivates users whose temporary block has expired,
// then re-evaluates indefinite escalation for every scanned user — an
// expiring block is exactly the point at which the fulfilled-block count
// can cross the threshold.
func (e *Engine) RunReactivationPass(ctx context.Context, now time.Time) (*PassReport, error) {
	report := &PassReport{}

	expired, err := e.Store.FindExpiredBlocks(ctx, now)
	if err != nil {
		return nil, err
	}

	for i := range expired {
		block := &expired[i]
		report.ExpiredBlocksScanned++

		user, err := e.Store.FindUserByGuid(ctx, block.UserGuid)
		if err != nil {
			e.Logger.WithFields(logrus.Fields{
				"field":         "RunReactivationPass",
				"sanction_guid": block.Guid,
				"user_guid":     block.UserGuid,
			}).Error("expired block references unknown user; skipping")
			continue
		}

		// The user may already have been reactivated earlier in this pass
		// (several expired blocks for the same user).
		if user.IsActive == nil || !*user.IsActive {
			blocking, err := e.hasOtherActiveBlockingSanction(ctx, user.Guid, block.ID, now)
			if err != nil {
				return nil, err
			}
			if !blocking {
				if err := e.Store.SetUserActive(ctx, user, true); err != nil {
					return nil, err
				}
				report.UsersReactivated++

				userTitle, userMsg := reactivationUserNotification()
				adminTitle, adminMsg := reactivationAdminNotification(user)
				e.notifyUser(ctx, user, userTitle, userMsg, models.NotificationSeveritySuccess, models.NotificationCategoryAccount, nil)
				e.notifyAdmins(ctx, user, adminTitle, adminMsg, models.NotificationSeverityInfo, models.NotificationCategoryAccount, nil)
			}
		}

		if err := e.evaluateIndefiniteEscalation(ctx, user, now, report); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func (e *Engine) hasOtherActiveBlockingSanction(ctx context.Context, userGuid string, excludeID int, now time.Time) (bool, error) {
	for _, t := range []models.SanctionType{models.SanctionTypeTemporaryBlock, models.SanctionTypeIndefinite} {
		sanctions, err := e.Store.FindSanctionsByUser(ctx, userGuid, t)
		if err != nil {
			return false, err
		}
		for i := range sanctions {
			if sanctions[i].ID == excludeID {
				continue
			}
			if sanctions[i].IsActiveAt(now) {
				return true, nil
			}
		}
	}
	return false, nil
}

// notifyUser enqueues a notification for the affected user. Failures are
// logged and swallowed: delivery must never decide the fate of a sanction
// write.
func (e *Engine) notifyUser(ctx context.Context, user *models.User, title string, message string, severity models.NotificationSeverity, category models.NotificationCategory, link *string) {
	err := e.Notifier.Notify(ctx, &models.NewNotification{
		RecipientEmail: user.Email,
		Title:          title,
		Message:        message,
		Severity:       severity,
		Category:       category,
		Link:           link,
	})
	if err != nil {
		e.Logger.WithFields(logrus.Fields{
			"field":     "notifyUser",
			"recipient": user.Email,
			"title":     title,
		}).Error("failed to enqueue notification: " + err.Error())
	}
}

// notifyAdmins fans the message out to every administrator except the
// affected user.
func (e *Engine) notifyAdmins(ctx context.Context, affected *models.User, title string, message string, severity models.NotificationSeverity, category models.NotificationCategory, link *string) {
	admins, err := e.Store.FindAdmins(ctx)
	if err != nil {
		e.Logger.WithFields(logrus.Fields{
			"field": "notifyAdmins",
			"title": title,
		}).Error("failed to load administrators: " + err.Error())
		return
	}
	for i := range admins {
		if admins[i].Guid == affected.Guid {
			continue
		}
		err := e.Notifier.Notify(ctx, &models.NewNotification{
			RecipientEmail: admins[i].Email,
			Title:          title,
			Message:        message,
			Severity:       severity,
			Category:       category,
			Link:           link,
		})
		if err != nil {
			e.Logger.WithFields(logrus.Fields{
				"field":     "notifyAdmins",
				"recipient": admins[i].Email,
				"title":     title,
			}).Error("failed to enqueue notification: " + err.Error())
		}
	}
}
