package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	ParticipantID string `json:"participantId" validate:"required"`
	Name          string `json:"name" validate:"max=8"`
}

func TestValidateStruct_Valid(t *testing.T) {
	require.NoError(t, ValidateStruct(&samplePayload{ParticipantID: "p1"}))
}

func TestValidateStruct_FailuresUseJSONNames(t *testing.T) {
	err := ValidateStruct(&samplePayload{Name: "far too long"})
	require.Error(t, err)

	var failures ValidationErrors
	require.ErrorAs(t, err, &failures)
	require.Len(t, failures, 2)

	fields := []string{failures[0].Field, failures[1].Field}
	require.Contains(t, fields, "participantId")
	require.Contains(t, fields, "name")

	require.Contains(t, err.Error(), "participantId failed on required")
	require.Contains(t, err.Error(), "name failed on max=8")
}
