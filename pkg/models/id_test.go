package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewExecutionIDShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewExecutionID()
		assert.Len(t, id, 17)
		assert.True(t, ValidExecutionID(id), "generated id %q must validate", id)
		assert.False(t, seen[id], "duplicate id %q", id)
		seen[id] = true
	}
}

func TestNewTeamIDShape(t *testing.T) {
	id := NewTeamID()
	assert.Len(t, id, 12)
	assert.True(t, ValidTeamID(id))
}

func TestValidExecutionIDRejectsMalformed(t *testing.T) {
	for _, id := range []string{
		"",
		"exec_",
		"exec_123",                // too short
		"exec_0123456789abc",      // too long
		"exec_0123456789AB",       // uppercase
		"exec_0123456789zg",       // non-hex
		"exe_0123456789ab",        // wrong prefix
		"exec_0123456789ab extra", // trailing junk
	} {
		assert.False(t, ValidExecutionID(id), "id %q must be rejected", id)
	}
	assert.True(t, ValidExecutionID("exec_0123456789ab"))
}

func TestValidTeamIDRejectsMalformed(t *testing.T) {
	for _, id := range []string{"", "ht_", "ht_01234567", "ht_0123456789", "HT_012345678", "exec_012345678"} {
		assert.False(t, ValidTeamID(id), "id %q must be rejected", id)
	}
	assert.True(t, ValidTeamID("ht_012345678"))
	assert.True(t, ValidTeamID("ht_0a1b2c3d4"))
}
