package workflow

import (
	"context"

	"bitbucket.org/edufocus/lending_backend/models"
	"bitbucket.org/edufocus/lending_backend/utils"
	"github.com/sirupsen/logrus"
)

// Manual administrative operations on the sanction ledger. Unlike automated
// escalation these mutate or remove existing rows; they never create new ones.

// UpdateSanctionType retypes an existing sanction in place. Requesting the
// type the sanction already has is a successful no-op. Returns
// utils.ValidationError for an unrecognized type and
// utils.ErrorRecordNotFound for an unknown guid.
func (e *Engine) UpdateSanctionType(ctx context.Context, guid string, rawType string) (*models.Sanction, error) {
	newType, err := models.ParseSanctionType(rawType)
	if err != nil {
		return nil, utils.NewValidationError("unrecognized sanction type: " + rawType)
	}

	sanction, err := e.Store.FindSanctionByGuid(ctx, guid)
	if err != nil {
		return nil, err
	}
	if sanction.Type == newType {
		return sanction, nil
	}

	if err := e.Store.SaveSanctionType(ctx, sanction, newType); err != nil {
		return nil, err
	}

	user, err := e.Store.FindUserByGuid(ctx, sanction.UserGuid)
	if err != nil {
		e.Logger.WithFields(logrus.Fields{
			"field":         "UpdateSanctionType",
			"sanction_guid": sanction.Guid,
			"user_guid":     sanction.UserGuid,
		}).Error("sanction references unknown user; update applied without notifications")
		return sanction, nil
	}

	userTitle, userMsg := manualUpdateUserNotification(sanction)
	adminTitle, adminMsg := manualUpdateAdminNotification(user, sanction)
	e.notifyUser(ctx, user, userTitle, userMsg, models.NotificationSeverityInfo, models.NotificationCategorySanctions, sanctionLink(sanction))
	e.notifyAdmins(ctx, user, adminTitle, adminMsg, models.NotificationSeverityInfo, models.NotificationCategorySanctions, sanctionLink(sanction))
	return sanction, nil
}

// DeleteSanction removes a ledger row permanently and announces the reversal.
// It deliberately does NOT re-run the reactivation scan: a user blocked
// partly because of the deleted sanction stays inactive until the next
// scheduled pass picks the remaining conditions up.
func (e *Engine) DeleteSanction(ctx context.Context, guid string) (*models.Sanction, error) {
	sanction, err := e.Store.FindSanctionByGuid(ctx, guid)
	if err != nil {
		return nil, err
	}

	if err := e.Store.HardDeleteSanction(ctx, sanction); err != nil {
		return nil, err
	}

	user, err := e.Store.FindUserByGuid(ctx, sanction.UserGuid)
	if err != nil {
		e.Logger.WithFields(logrus.Fields{
			"field":         "DeleteSanction",
			"sanction_guid": sanction.Guid,
			"user_guid":     sanction.UserGuid,
		}).Error("sanction references unknown user; delete applied without notifications")
		return sanction, nil
	}

	userTitle, userMsg := manualDeleteUserNotification()
	adminTitle, adminMsg := manualDeleteAdminNotification(user, sanction)
	e.notifyUser(ctx, user, userTitle, userMsg, models.NotificationSeverityInfo, models.NotificationCategorySanctions, nil)
	e.notifyAdmins(ctx, user, adminTitle, adminMsg, models.NotificationSeverityInfo, models.NotificationCategorySanctions, nil)
	return sanction, nil
}
