package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleInput struct {
	Name   string `json:"name" validate:"required,max=5"`
	Kind   string `json:"kind" validate:"required,oneof=A B"`
	Note   string `json:"note" validate:"required_if=Kind B"`
	Starts string `json:"starts" validate:"omitempty,hhmm"`
}

func TestValidateStructMessagesUseJSONNames(t *testing.T) {
	err := ValidateStruct(sampleInput{Name: "toolong", Kind: "B", Starts: "9am"})
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "name must be at most 5 characters")
	assert.Contains(t, msg, "note is required")
	assert.Contains(t, msg, "starts must be a 24-hour HH:MM time")

	assert.NoError(t, ValidateStruct(sampleInput{Name: "ok", Kind: "A"}))
}

func TestValidateClock(t *testing.T) {
	for _, ok := range []string{"00:00", "08:30", "23:59"} {
		assert.True(t, ValidateClock(ok), ok)
	}
	for _, bad := range []string{"24:00", "8:30", "12:60", "noon", ""} {
		assert.False(t, ValidateClock(bad), bad)
	}
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "scaffold", SanitizeInput("  scaf\x00fold \n"))
}
