package workflow

import (
	"context"
	"errors"
	"io"
	"sort"
	"testing"
	"time"

	"bitbucket.org/edufocus/lending_backend/models"
	"bitbucket.org/edufocus/lending_backend/utils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store so engine behavior can be tested without a
// database. Query semantics mirror GormStore (deleted filter, ordering).
type fakeStore struct {
	loans     []models.Loan
	sanctions []models.Sanction
	users     map[string]*models.User
	nextID    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]*models.User{}, nextID: 1}
}

func (s *fakeStore) addUser(guid string, active bool, role models.UserRole) *models.User {
	u := &models.User{
		ID:       s.nextID,
		Guid:     guid,
		Username: guid + "-username",
		Name:     "User " + guid,
		Email:    guid + "@school.example",
		IsActive: &active,
		Role:     role,
	}
	s.nextID++
	s.users[guid] = u
	return u
}

func (s *fakeStore) addSanction(userGuid string, t models.SanctionType, loanGuid *string, sanctionDate time.Time, endDate *time.Time) *models.Sanction {
	record := models.Sanction{
		ID:           s.nextID,
		Guid:         "sanction-" + userGuid + "-" + string(rune('a'+len(s.sanctions))),
		UserGuid:     userGuid,
		Type:         t,
		LoanGuid:     loanGuid,
		SanctionDate: sanctionDate,
		EndDate:      endDate,
		Deleted:      utils.NewFalse(),
	}
	s.nextID++
	s.sanctions = append(s.sanctions, record)
	return &s.sanctions[len(s.sanctions)-1]
}

func (s *fakeStore) FindLoansByStatus(ctx context.Context, status models.LoanStatus) ([]models.Loan, error) {
	var out []models.Loan
	for _, l := range s.loans {
		if l.Status == status {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *fakeStore) SanctionExists(ctx context.Context, loanGuid string, sanctionType models.SanctionType) (bool, error) {
	for i := range s.sanctions {
		r := &s.sanctions[i]
		if r.Deleted != nil && *r.Deleted {
			continue
		}
		if r.LoanGuid != nil && *r.LoanGuid == loanGuid && r.Type == sanctionType {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) FindSanctionsByUser(ctx context.Context, userGuid string, sanctionType models.SanctionType) ([]models.Sanction, error) {
	var out []models.Sanction
	for i := range s.sanctions {
		r := s.sanctions[i]
		if r.Deleted != nil && *r.Deleted {
			continue
		}
		if r.UserGuid == userGuid && r.Type == sanctionType {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SanctionDate.Equal(out[j].SanctionDate) {
			return out[i].SanctionDate.After(out[j].SanctionDate)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *fakeStore) FindExpiredBlocks(ctx context.Context, asOf time.Time) ([]models.Sanction, error) {
	day := utils.DateOf(asOf)
	var out []models.Sanction
	for i := range s.sanctions {
		r := s.sanctions[i]
		if r.Deleted != nil && *r.Deleted {
			continue
		}
		if r.Type != models.SanctionTypeTemporaryBlock || r.EndDate == nil || r.EndDate.After(day) {
			continue
		}
		user, ok := s.users[r.UserGuid]
		if ok && user.IsActive != nil && *user.IsActive {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) FindSanctionByGuid(ctx context.Context, guid string) (*models.Sanction, error) {
	for i := range s.sanctions {
		if s.sanctions[i].Guid == guid {
			copied := s.sanctions[i]
			return &copied, nil
		}
	}
	return nil, utils.ErrorRecordNotFound
}

func (s *fakeStore) CreateSanction(ctx context.Context, sanction *models.Sanction) error {
	sanction.ID = s.nextID
	s.nextID++
	s.sanctions = append(s.sanctions, *sanction)
	return nil
}

func (s *fakeStore) SaveSanctionType(ctx context.Context, sanction *models.Sanction, newType models.SanctionType) error {
	for i := range s.sanctions {
		if s.sanctions[i].ID != sanction.ID {
			continue
		}
		if s.sanctions[i].Version != sanction.Version {
			return utils.ErrorVersionConflict
		}
		s.sanctions[i].Type = newType
		s.sanctions[i].Version++
		sanction.Type = newType
		sanction.Version++
		return nil
	}
	return utils.ErrorRecordNotFound
}

func (s *fakeStore) HardDeleteSanction(ctx context.Context, sanction *models.Sanction) error {
	for i := range s.sanctions {
		if s.sanctions[i].ID == sanction.ID {
			s.sanctions = append(s.sanctions[:i], s.sanctions[i+1:]...)
			return nil
		}
	}
	return utils.ErrorRecordNotFound
}

func (s *fakeStore) FindUserByGuid(ctx context.Context, guid string) (*models.User, error) {
	if u, ok := s.users[guid]; ok {
		return u, nil
	}
	return nil, utils.ErrorRecordNotFound
}

func (s *fakeStore) SetUserActive(ctx context.Context, user *models.User, active bool) error {
	stored, ok := s.users[user.Guid]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	stored.IsActive = &active
	stored.Version++
	user.IsActive = &active
	user.Version++
	return nil
}

func (s *fakeStore) FindAdmins(ctx context.Context) ([]models.User, error) {
	var out []models.User
	for _, u := range s.users {
		if u.Role == models.UserRoleAdmin {
			out = append(out, *u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) sanctionsOfType(t models.SanctionType) []models.Sanction {
	var out []models.Sanction
	for i := range s.sanctions {
		if s.sanctions[i].Type == t {
			out = append(out, s.sanctions[i])
		}
	}
	return out
}

type fakeNotifier struct {
	sent    []models.NewNotification
	failErr error
}

func (n *fakeNotifier) Notify(ctx context.Context, input *models.NewNotification) error {
	if n.failErr != nil {
		return n.failErr
	}
	n.sent = append(n.sent, *input)
	return nil
}

func (n *fakeNotifier) recipients() []string {
	var out []string
	for i := range n.sent {
		out = append(out, n.sent[i].RecipientEmail)
	}
	return out
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEngine(store *fakeStore, notifier *fakeNotifier) *Engine {
	return &Engine{Store: store, Notifier: notifier, Logger: testLogger()}
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func overdueLoan(store *fakeStore, guid string, userGuid string, overdueSince time.Time) {
	store.loans = append(store.loans, models.Loan{
		ID:        store.nextID,
		Guid:      guid,
		UserGuid:  userGuid,
		DeviceTag: "CB-" + guid,
		Status:    models.LoanStatusOverdue,
		UpdatedAt: overdueSince,
	})
	store.nextID++
}

func TestOverdueWarningPassCreatesWarningAfterGrace(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	store.addUser("student-1", true, models.UserRoleStudent)
	store.addUser("admin-1", true, models.UserRoleAdmin)
	overdueLoan(store, "loan-1", "student-1", testNow.AddDate(0, 0, -4))

	report, err := newTestEngine(store, notifier).RunOverdueWarningPass(context.Background(), testNow)
	require.NoError(t, err)

	assert.Equal(t, 1, report.LoansScanned)
	assert.Equal(t, 1, report.WarningsCreated)
	assert.Equal(t, 0, report.BlocksCreated)

	warnings := store.sanctionsOfType(models.SanctionTypeWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, "student-1", warnings[0].UserGuid)
	require.NotNil(t, warnings[0].LoanGuid)
	assert.Equal(t, "loan-1", *warnings[0].LoanGuid)
	assert.Equal(t, utils.DateOf(testNow), warnings[0].SanctionDate)
	assert.Nil(t, warnings[0].EndDate)

	assert.ElementsMatch(t, []string{"student-1@school.example", "admin-1@school.example"}, notifier.recipients())
}

func TestOverdueWarningPassWaitsOutGracePeriod(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	store.addUser("student-1", true, models.UserRoleStudent)
	// Exactly at the grace boundary: not yet past it.
	overdueLoan(store, "loan-1", "student-1", testNow.AddDate(0, 0, -3))

	report, err := newTestEngine(store, notifier).RunOverdueWarningPass(context.Background(), testNow)
	require.NoError(t, err)

	assert.Equal(t, 1, report.LoansScanned)
	assert.Equal(t, 0, report.WarningsCreated)
	assert.Empty(t, store.sanctions)
	assert.Empty(t, notifier.sent)
}

func TestOverdueWarningPassIsIdempotentPerLoan(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	store.addUser("student-1", true, models.UserRoleStudent)
	overdueLoan(store, "loan-1", "student-1", testNow.AddDate(0, 0, -10))
	loanGuid := "loan-1"
	store.addSanction("student-1", models.SanctionTypeWarning, &loanGuid, utils.DateOf(testNow.AddDate(0, 0, -5)), nil)

	engine := newTestEngine(store, notifier)
	report, err := engine.RunOverdueWarningPass(context.Background(), testNow)
	require.NoError(t, err)

	assert.Equal(t, 0, report.WarningsCreated)
	assert.Len(t, store.sanctionsOfType(models.SanctionTypeWarning), 1)
	assert.Empty(t, notifier.sent)

	// Re-running the whole pass never changes anything either.
	report, err = engine.RunOverdueWarningPass(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, report.WarningsCreated)
	assert.Len(t, store.sanctionsOfType(models.SanctionTypeWarning), 1)
}

func TestOverdueWarningPassSkipsUnknownUser(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	overdueLoan(store, "loan-1", "ghost", testNow.AddDate(0, 0, -10))

	report, err := newTestEngine(store, notifier).RunOverdueWarningPass(context.Background(), testNow)
	require.NoError(t, err)

	assert.Equal(t, 1, report.LoansScanned)
	assert.Equal(t, 0, report.WarningsCreated)
	assert.Empty(t, store.sanctions)
}

func TestSecondWarningEscalatesToTemporaryBlock(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	user := store.addUser("student-1", true, models.UserRoleStudent)
	store.addUser("admin-1", true, models.UserRoleAdmin)

	olderLoan := "loan-old"
	store.addSanction("student-1", models.SanctionTypeWarning, &olderLoan, utils.DateOf(testNow.AddDate(0, 0, -30)), nil)
	overdueLoan(store, "loan-new", "student-1", testNow.AddDate(0, 0, -5))

	report, err := newTestEngine(store, notifier).RunOverdueWarningPass(context.Background(), testNow)
	require.NoError(t, err)

	assert.Equal(t, 1, report.WarningsCreated)
	assert.Equal(t, 1, report.BlocksCreated)

	blocks := store.sanctionsOfType(models.SanctionTypeTemporaryBlock)
	require.Len(t, blocks, 1)
	require.NotNil(t, blocks[0].EndDate)
	assert.Equal(t, utils.DateOf(testNow).AddDate(0, 2, 0), *blocks[0].EndDate)
	// The block references the loan of the most recent warning.
	require.NotNil(t, blocks[0].LoanGuid)
	assert.Equal(t, "loan-new", *blocks[0].LoanGuid)

	require.NotNil(t, user.IsActive)
	assert.False(t, *user.IsActive)
}

func TestBlockEscalationIsNoOpWhileBlockActive(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	user := store.addUser("student-1", false, models.UserRoleStudent)

	loanA := "loan-a"
	store.addSanction("student-1", models.SanctionTypeWarning, &loanA, utils.DateOf(testNow.AddDate(0, 0, -40)), nil)
	loanB := "loan-b"
	store.addSanction("student-1", models.SanctionTypeWarning, &loanB, utils.DateOf(testNow.AddDate(0, 0, -20)), nil)
	activeEnd := utils.DateOf(testNow).AddDate(0, 1, 0)
	store.addSanction("student-1", models.SanctionTypeTemporaryBlock, &loanB, utils.DateOf(testNow.AddDate(0, 0, -20)), &activeEnd)

	report := &PassReport{}
	err := newTestEngine(store, notifier).evaluateBlockEscalation(context.Background(), user, testNow, report)
	require.NoError(t, err)

	assert.Equal(t, 0, report.BlocksCreated)
	assert.Len(t, store.sanctionsOfType(models.SanctionTypeTemporaryBlock), 1)
	assert.Empty(t, notifier.sent)
}

func TestBlockEscalationSameDayIdempotency(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	user := store.addUser("student-1", false, models.UserRoleStudent)

	loanA := "loan-a"
	store.addSanction("student-1", models.SanctionTypeWarning, &loanA, utils.DateOf(testNow.AddDate(0, 0, -40)), nil)
	loanB := "loan-b"
	store.addSanction("student-1", models.SanctionTypeWarning, &loanB, utils.DateOf(testNow), nil)
	// A block created earlier today that was served already (defensive data);
	// the same-day rule still prevents a second one.
	servedEnd := utils.DateOf(testNow.AddDate(0, 0, -1))
	store.addSanction("student-1", models.SanctionTypeTemporaryBlock, &loanB, utils.DateOf(testNow), &servedEnd)

	report := &PassReport{}
	err := newTestEngine(store, notifier).evaluateBlockEscalation(context.Background(), user, testNow, report)
	require.NoError(t, err)
	assert.Equal(t, 0, report.BlocksCreated)
	assert.Len(t, store.sanctionsOfType(models.SanctionTypeTemporaryBlock), 1)
}

func TestBlockEscalationSkipsWhenNoWarningCarriesLoan(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	user := store.addUser("student-1", true, models.UserRoleStudent)

	store.addSanction("student-1", models.SanctionTypeWarning, nil, utils.DateOf(testNow.AddDate(0, 0, -40)), nil)
	store.addSanction("student-1", models.SanctionTypeWarning, nil, utils.DateOf(testNow.AddDate(0, 0, -20)), nil)

	report := &PassReport{}
	err := newTestEngine(store, notifier).evaluateBlockEscalation(context.Background(), user, testNow, report)
	require.NoError(t, err)

	assert.Equal(t, 0, report.BlocksCreated)
	assert.Empty(t, store.sanctionsOfType(models.SanctionTypeTemporaryBlock))
	require.NotNil(t, user.IsActive)
	assert.True(t, *user.IsActive)
}

func TestReactivationPassRestoresUserAfterBlockExpires(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	user := store.addUser("student-1", false, models.UserRoleStudent)
	store.addUser("admin-1", true, models.UserRoleAdmin)

	loanA := "loan-a"
	expiredEnd := utils.DateOf(testNow.AddDate(0, 0, -1))
	store.addSanction("student-1", models.SanctionTypeTemporaryBlock, &loanA, utils.DateOf(testNow.AddDate(0, -2, -1)), &expiredEnd)

	report, err := newTestEngine(store, notifier).RunReactivationPass(context.Background(), testNow)
	require.NoError(t, err)

	assert.Equal(t, 1, report.ExpiredBlocksScanned)
	assert.Equal(t, 1, report.UsersReactivated)
	assert.Equal(t, 0, report.IndefinitesCreated)
	require.NotNil(t, user.IsActive)
	assert.True(t, *user.IsActive)
	assert.ElementsMatch(t, []string{"student-1@school.example", "admin-1@school.example"}, notifier.recipients())
}

func TestReactivationPassKeepsUserInactiveWhenOtherBlockActive(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	user := store.addUser("student-1", false, models.UserRoleStudent)

	loanA := "loan-a"
	expiredEnd := utils.DateOf(testNow.AddDate(0, 0, -1))
	store.addSanction("student-1", models.SanctionTypeTemporaryBlock, &loanA, utils.DateOf(testNow.AddDate(0, -2, -1)), &expiredEnd)
	loanB := "loan-b"
	activeEnd := utils.DateOf(testNow).AddDate(0, 1, 0)
	store.addSanction("student-1", models.SanctionTypeTemporaryBlock, &loanB, utils.DateOf(testNow.AddDate(0, -1, 0)), &activeEnd)

	report, err := newTestEngine(store, notifier).RunReactivationPass(context.Background(), testNow)
	require.NoError(t, err)

	assert.Equal(t, 0, report.UsersReactivated)
	require.NotNil(t, user.IsActive)
	assert.False(t, *user.IsActive)
	assert.Empty(t, notifier.sent)
}

func TestSecondFulfilledBlockEscalatesToIndefinite(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	user := store.addUser("student-1", false, models.UserRoleStudent)
	store.addUser("admin-1", true, models.UserRoleAdmin)

	loanA := "loan-a"
	firstEnd := utils.DateOf(testNow.AddDate(0, -3, 0))
	store.addSanction("student-1", models.SanctionTypeTemporaryBlock, &loanA, utils.DateOf(testNow.AddDate(0, -5, 0)), &firstEnd)
	loanB := "loan-b"
	secondEnd := utils.DateOf(testNow.AddDate(0, 0, -1))
	store.addSanction("student-1", models.SanctionTypeTemporaryBlock, &loanB, utils.DateOf(testNow.AddDate(0, -2, -1)), &secondEnd)

	report, err := newTestEngine(store, notifier).RunReactivationPass(context.Background(), testNow)
	require.NoError(t, err)

	// The expired block briefly reactivates the user; the indefinite
	// evaluator immediately suspends again.
	assert.Equal(t, 1, report.UsersReactivated)
	assert.Equal(t, 1, report.IndefinitesCreated)
	require.NotNil(t, user.IsActive)
	assert.False(t, *user.IsActive)

	indefinites := store.sanctionsOfType(models.SanctionTypeIndefinite)
	require.Len(t, indefinites, 1)
	assert.Nil(t, indefinites[0].EndDate)
	assert.Nil(t, indefinites[0].LoanGuid)
	assert.Equal(t, utils.DateOf(testNow), indefinites[0].SanctionDate)
}

func TestIndefiniteEscalationIsNoOpWhileIndefiniteActive(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	user := store.addUser("student-1", false, models.UserRoleStudent)

	store.addSanction("student-1", models.SanctionTypeIndefinite, nil, utils.DateOf(testNow.AddDate(0, -1, 0)), nil)
	loanA := "loan-a"
	end1 := utils.DateOf(testNow.AddDate(0, -3, 0))
	store.addSanction("student-1", models.SanctionTypeTemporaryBlock, &loanA, utils.DateOf(testNow.AddDate(0, -5, 0)), &end1)
	end2 := utils.DateOf(testNow.AddDate(0, 0, -1))
	store.addSanction("student-1", models.SanctionTypeTemporaryBlock, &loanA, utils.DateOf(testNow.AddDate(0, -2, -1)), &end2)

	report := &PassReport{}
	err := newTestEngine(store, notifier).evaluateIndefiniteEscalation(context.Background(), user, testNow, report)
	require.NoError(t, err)

	assert.Equal(t, 0, report.IndefinitesCreated)
	assert.Len(t, store.sanctionsOfType(models.SanctionTypeIndefinite), 1)
}

func TestIndefiniteEscalationRequiresTwoFulfilledBlocks(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	user := store.addUser("student-1", false, models.UserRoleStudent)

	loanA := "loan-a"
	servedEnd := utils.DateOf(testNow.AddDate(0, 0, -1))
	store.addSanction("student-1", models.SanctionTypeTemporaryBlock, &loanA, utils.DateOf(testNow.AddDate(0, -2, -1)), &servedEnd)
	// A second block still running does not count.
	loanB := "loan-b"
	activeEnd := utils.DateOf(testNow).AddDate(0, 1, 0)
	store.addSanction("student-1", models.SanctionTypeTemporaryBlock, &loanB, utils.DateOf(testNow.AddDate(0, -1, 0)), &activeEnd)

	report := &PassReport{}
	err := newTestEngine(store, notifier).evaluateIndefiniteEscalation(context.Background(), user, testNow, report)
	require.NoError(t, err)

	assert.Equal(t, 0, report.IndefinitesCreated)
	assert.Empty(t, store.sanctionsOfType(models.SanctionTypeIndefinite))
}

func TestNotifierFailureDoesNotFailPass(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{failErr: errors.New("outbox unavailable")}
	store.addUser("student-1", true, models.UserRoleStudent)
	overdueLoan(store, "loan-1", "student-1", testNow.AddDate(0, 0, -4))

	report, err := newTestEngine(store, notifier).RunOverdueWarningPass(context.Background(), testNow)
	require.NoError(t, err)

	assert.Equal(t, 1, report.WarningsCreated)
	assert.Len(t, store.sanctionsOfType(models.SanctionTypeWarning), 1)
}

func TestAdminFanOutExcludesAffectedUser(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	store.addUser("admin-affected", true, models.UserRoleAdmin)
	store.addUser("admin-other", true, models.UserRoleAdmin)
	overdueLoan(store, "loan-1", "admin-affected", testNow.AddDate(0, 0, -4))

	_, err := newTestEngine(store, notifier).RunOverdueWarningPass(context.Background(), testNow)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"admin-affected@school.example", "admin-other@school.example"}, notifier.recipients())
}
