package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallStatusClasses(t *testing.T) {
	for _, s := range []CallStatus{CallInitiated, CallRinging, CallAnswered} {
		assert.True(t, s.Active(), s)
		assert.False(t, s.Terminal(), s)
	}
	for _, s := range []CallStatus{CallEnded, CallRejected, CallMissed, CallCancelled} {
		assert.False(t, s.Active(), s)
		assert.True(t, s.Terminal(), s)
	}
}

func TestCallParticipants(t *testing.T) {
	c := &Call{CallerID: "c", ReceiverID: "r"}
	assert.True(t, c.IsParticipant("c"))
	assert.True(t, c.IsParticipant("r"))
	assert.False(t, c.IsParticipant("x"))
	assert.False(t, c.IsParticipant(""))
	assert.Equal(t, "r", c.Peer("c"))
	assert.Equal(t, "c", c.Peer("r"))
}

func TestCallAppendLogsKeepsOrder(t *testing.T) {
	c := &Call{}
	now := time.Now().UTC()

	require.NoError(t, c.AppendICE(ICECandidate{From: "c", Candidate: json.RawMessage(`{"candidate":"a"}`), At: now}))
	require.NoError(t, c.AppendICE(ICECandidate{From: "r", Candidate: json.RawMessage(`{"candidate":"b"}`), At: now}))

	log, err := c.ICELog()
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, "c", log[0].From)
	assert.JSONEq(t, `{"candidate":"b"}`, string(log[1].Candidate))

	require.NoError(t, c.AppendQuality(QualitySample{From: "c", Metrics: json.RawMessage(`{"rtt":42}`), At: now}))
	q, err := c.QualityLog()
	require.NoError(t, err)
	require.Len(t, q, 1)
	assert.JSONEq(t, `{"rtt":42}`, string(q[0].Metrics))
}
