package workflow

import (
	"fmt"
	"time"

	"bitbucket.org/edufocus/lending_backend/models"
)

// Notification string templates, kept together so wording changes never touch
// evaluator logic.

const dateLayout = "2006-01-02"

func sanctionLink(sanction *models.Sanction) *string {
	link := "/sanctions/" + sanction.Guid
	return &link
}

func warningUserNotification(loan *models.Loan) (title string, message string) {
	title = "Overdue loan warning"
	message = fmt.Sprintf(
		"A warning has been recorded on your account: loan %s (device %s) has been overdue for more than %d days. Accumulated warnings lead to a temporary block.",
		loan.Guid, loan.DeviceTag, overdueGraceDays)
	return
}

func warningAdminNotification(user *models.User, loan *models.Loan) (title string, message string) {
	title = "Overdue loan warning issued"
	message = fmt.Sprintf(
		"User %s (%s) received a warning for overdue loan %s.",
		user.Name, user.Email, loan.Guid)
	return
}

func blockUserNotification(endDate time.Time) (title string, message string) {
	title = "Account temporarily blocked"
	message = fmt.Sprintf(
		"Your account has been blocked until %s due to accumulated warnings. You cannot borrow devices while the block is in effect.",
		endDate.Format(dateLayout))
	return
}

func blockAdminNotification(user *models.User, endDate time.Time) (title string, message string) {
	title = "User temporarily blocked"
	message = fmt.Sprintf(
		"User %s (%s) accumulated %d or more warnings and has been blocked until %s.",
		user.Name, user.Email, warningThreshold, endDate.Format(dateLayout))
	return
}

func indefiniteUserNotification() (title string, message string) {
	title = "Account suspended indefinitely"
	message = "Your account has been suspended indefinitely after repeatedly serving temporary blocks. Contact an administrator to review your situation."
	return
}

func indefiniteAdminNotification(user *models.User) (title string, message string) {
	title = "User suspended indefinitely"
	message = fmt.Sprintf(
		"User %s (%s) served %d or more temporary blocks in full and has been suspended indefinitely.",
		user.Name, user.Email, fulfilledBlockThreshold)
	return
}

func reactivationUserNotification() (title string, message string) {
	title = "Account reactivated"
	message = "Your temporary block has expired and your account is active again. You can borrow devices as usual."
	return
}

func reactivationAdminNotification(user *models.User) (title string, message string) {
	title = "User reactivated"
	message = fmt.Sprintf(
		"The temporary block of user %s (%s) expired and the account has been reactivated.",
		user.Name, user.Email)
	return
}

func manualUpdateUserNotification(sanction *models.Sanction) (title string, message string) {
	title = "Sanction updated"
	message = fmt.Sprintf(
		"A sanction on your account was changed to %s by an administrator.",
		sanction.Type)
	return
}

func manualUpdateAdminNotification(user *models.User, sanction *models.Sanction) (title string, message string) {
	title = "Sanction updated"
	message = fmt.Sprintf(
		"Sanction %s of user %s (%s) was manually changed to %s.",
		sanction.Guid, user.Name, user.Email, sanction.Type)
	return
}

func manualDeleteUserNotification() (title string, message string) {
	title = "Sanction lifted"
	message = "A sanction on your account has been removed by an administrator."
	return
}

func manualDeleteAdminNotification(user *models.User, sanction *models.Sanction) (title string, message string) {
	title = "Sanction lifted"
	message = fmt.Sprintf(
		"Sanction %s (%s) of user %s (%s) was removed from the ledger.",
		sanction.Guid, sanction.Type, user.Name, user.Email)
	return
}
