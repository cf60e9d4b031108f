package models

import (
	"testing"
	"time"

	"bitbucket.org/edufocus/lending_backend/utils"
	"github.com/stretchr/testify/assert"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSanctionIsActiveAt(t *testing.T) {
	end := day(2026, 3, 15)
	block := Sanction{Type: SanctionTypeTemporaryBlock, EndDate: &end, Deleted: utils.NewFalse()}

	assert.True(t, block.IsActiveAt(day(2026, 3, 14)))
	// End date is inclusive.
	assert.True(t, block.IsActiveAt(day(2026, 3, 15)))
	assert.False(t, block.IsActiveAt(day(2026, 3, 16)))

	indefinite := Sanction{Type: SanctionTypeIndefinite, Deleted: utils.NewFalse()}
	assert.True(t, indefinite.IsActiveAt(day(2030, 1, 1)))

	warning := Sanction{Type: SanctionTypeWarning, Deleted: utils.NewFalse()}
	assert.False(t, warning.IsActiveAt(day(2026, 3, 14)))

	deletedBlock := Sanction{Type: SanctionTypeTemporaryBlock, EndDate: &end, Deleted: utils.NewTrue()}
	assert.False(t, deletedBlock.IsActiveAt(day(2026, 3, 14)))
}

func TestSanctionIsFulfilledAt(t *testing.T) {
	end := day(2026, 3, 15)
	block := Sanction{Type: SanctionTypeTemporaryBlock, EndDate: &end, Deleted: utils.NewFalse()}

	assert.False(t, block.IsFulfilledAt(day(2026, 3, 14)))
	// Fulfilled from the end date onwards.
	assert.True(t, block.IsFulfilledAt(day(2026, 3, 15)))
	assert.True(t, block.IsFulfilledAt(day(2026, 3, 16)))

	open := Sanction{Type: SanctionTypeTemporaryBlock, Deleted: utils.NewFalse()}
	assert.False(t, open.IsFulfilledAt(day(2026, 3, 16)))

	indefinite := Sanction{Type: SanctionTypeIndefinite, Deleted: utils.NewFalse()}
	assert.False(t, indefinite.IsFulfilledAt(day(2026, 3, 16)))
}

func TestParseSanctionType(t *testing.T) {
	for _, valid := range []string{"WARNING", "TEMPORARY_BLOCK", "INDEFINITE"} {
		parsed, err := ParseSanctionType(valid)
		assert.NoError(t, err)
		assert.Equal(t, SanctionType(valid), parsed)
	}

	_, err := ParseSanctionType("warning")
	assert.ErrorIs(t, err, ErrInvalidSanctionType)
	_, err = ParseSanctionType("")
	assert.ErrorIs(t, err, ErrInvalidSanctionType)
}
