package workflow

import (
	"context"
	"testing"

	"bitbucket.org/edufocus/lending_backend/models"
	"bitbucket.org/edufocus/lending_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateSanctionTypeRetypes(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	store.addUser("student-1", true, models.UserRoleStudent)
	store.addUser("admin-1", true, models.UserRoleAdmin)
	loanA := "loan-a"
	record := store.addSanction("student-1", models.SanctionTypeWarning, &loanA, utils.DateOf(testNow), nil)

	updated, err := newTestEngine(store, notifier).UpdateSanctionType(context.Background(), record.Guid, "TEMPORARY_BLOCK")
	require.NoError(t, err)

	assert.Equal(t, models.SanctionTypeTemporaryBlock, updated.Type)
	stored, err := store.FindSanctionByGuid(context.Background(), record.Guid)
	require.NoError(t, err)
	assert.Equal(t, models.SanctionTypeTemporaryBlock, stored.Type)
	assert.Equal(t, 1, stored.Version)
	assert.ElementsMatch(t, []string{"student-1@school.example", "admin-1@school.example"}, notifier.recipients())
}

func TestUpdateSanctionTypeSameTypeIsNoOp(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	store.addUser("student-1", true, models.UserRoleStudent)
	record := store.addSanction("student-1", models.SanctionTypeWarning, nil, utils.DateOf(testNow), nil)

	updated, err := newTestEngine(store, notifier).UpdateSanctionType(context.Background(), record.Guid, "WARNING")
	require.NoError(t, err)

	assert.Equal(t, models.SanctionTypeWarning, updated.Type)
	assert.Equal(t, 0, updated.Version)
	assert.Empty(t, notifier.sent)
}

// raceStore bumps the stored version after every read, simulating another
// edit landing between an admin's fetch and their write.
type raceStore struct {
	*fakeStore
}

func (s *raceStore) FindSanctionByGuid(ctx context.Context, guid string) (*models.Sanction, error) {
	record, err := s.fakeStore.FindSanctionByGuid(ctx, guid)
	if err != nil {
		return nil, err
	}
	for i := range s.sanctions {
		if s.sanctions[i].Guid == guid {
			s.sanctions[i].Version++
		}
	}
	return record, nil
}

func TestUpdateSanctionTypeConcurrentEditIsConflictNotNotFound(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	store.addUser("student-1", true, models.UserRoleStudent)
	record := store.addSanction("student-1", models.SanctionTypeWarning, nil, utils.DateOf(testNow), nil)

	engine := &Engine{Store: &raceStore{fakeStore: store}, Notifier: notifier, Logger: testLogger()}
	_, err := engine.UpdateSanctionType(context.Background(), record.Guid, "TEMPORARY_BLOCK")

	assert.ErrorIs(t, err, utils.ErrorVersionConflict)
	assert.NotErrorIs(t, err, utils.ErrorRecordNotFound)
	stored, lookupErr := store.FindSanctionByGuid(context.Background(), record.Guid)
	require.NoError(t, lookupErr)
	assert.Equal(t, models.SanctionTypeWarning, stored.Type)
	assert.Empty(t, notifier.sent)
}

func TestUpdateSanctionTypeRejectsUnknownType(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}

	_, err := newTestEngine(store, notifier).UpdateSanctionType(context.Background(), "whatever", "BANANA")
	require.Error(t, err)
	assert.True(t, utils.IsValidationError(err))
}

func TestUpdateSanctionTypeUnknownGuid(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}

	_, err := newTestEngine(store, notifier).UpdateSanctionType(context.Background(), "missing", "WARNING")
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
}

func TestDeleteSanctionRemovesRowAndNotifies(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	store.addUser("student-1", true, models.UserRoleStudent)
	store.addUser("admin-1", true, models.UserRoleAdmin)
	record := store.addSanction("student-1", models.SanctionTypeTemporaryBlock, nil, utils.DateOf(testNow), nil)

	deleted, err := newTestEngine(store, notifier).DeleteSanction(context.Background(), record.Guid)
	require.NoError(t, err)

	assert.Equal(t, record.Guid, deleted.Guid)
	_, err = store.FindSanctionByGuid(context.Background(), record.Guid)
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
	assert.ElementsMatch(t, []string{"student-1@school.example", "admin-1@school.example"}, notifier.recipients())
}

func TestDeleteSanctionDoesNotReactivateUser(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	user := store.addUser("student-1", false, models.UserRoleStudent)
	activeEnd := utils.DateOf(testNow).AddDate(0, 1, 0)
	loanA := "loan-a"
	record := store.addSanction("student-1", models.SanctionTypeTemporaryBlock, &loanA, utils.DateOf(testNow), &activeEnd)

	_, err := newTestEngine(store, notifier).DeleteSanction(context.Background(), record.Guid)
	require.NoError(t, err)

	// Reactivation only happens on the scheduled scan.
	require.NotNil(t, user.IsActive)
	assert.False(t, *user.IsActive)
}

func TestDeleteSanctionUnknownGuid(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}

	_, err := newTestEngine(store, notifier).DeleteSanction(context.Background(), "missing")
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
}
