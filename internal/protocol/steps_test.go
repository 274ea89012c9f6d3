package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVisitStep(t *testing.T) {
	for want, raw := range []string{"0", "1", "2", "3", "4", "5"} {
		got, err := ParseVisitStep(raw)
		require.NoError(t, err)
		assert.Equal(t, VisitStep(want), got)
	}
	_, err := ParseVisitStep("6")
	assert.ErrorIs(t, err, ErrProtocol)
	_, err = ParseVisitStep("Stop")
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestParseRaidStep(t *testing.T) {
	got, err := ParseRaidStep("1")
	require.NoError(t, err)
	assert.Equal(t, RaidDeny, got)

	_, err = ParseRaidStep("2")
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestLoginResultWireForm(t *testing.T) {
	data, err := json.Marshal(LoginResponse{Response: LoginWrongMods, Details: []string{"Required:core"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tryResponse":"2","extraDetails":["Required:core"]}`, string(data))

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, LoginWrongMods, resp.Response)
}

func TestStepStrings(t *testing.T) {
	assert.Equal(t, "Unavailable", VisitUnavailable.String())
	assert.Equal(t, "Deny", RaidDeny.String())
	assert.Equal(t, "BannedLogin", LoginBanned.String())
	assert.Equal(t, "VisitStep(42)", VisitStep(42).String())
}
