package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/yoocall/internal/events"
	"github.com/yoockh/yoocall/internal/models"
	"github.com/yoockh/yoocall/internal/utils"
)

func TestCallService_AcceptThenEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.calls.Initiate(ctx, "alice", InitiateInput{ReceiverID: "bob", Type: models.CallVideo})
	require.NoError(t, err)
	assert.Equal(t, models.CallInitiated, c.Status)
	assert.NotEmpty(t, c.RoomID)

	f.advance(2 * time.Second)
	c, err = f.calls.Accept(ctx, c.ID, "bob", "v=0 answer")
	require.NoError(t, err)
	assert.Equal(t, models.CallAnswered, c.Status)
	require.NotNil(t, c.StartTime)
	assert.Equal(t, "v=0 answer", c.AnswerSDP)

	f.advance(125 * time.Second)
	c, err = f.calls.End(ctx, c.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.CallEnded, c.Status)
	require.NotNil(t, c.EndTime)
	assert.EqualValues(t, 125, c.DurationSeconds)

	assert.Equal(t, []string{events.CallAccepted, events.CallEnded}, f.notifier.eventsFor("alice"))
	assert.Equal(t, []string{events.CallAccepted, events.CallEnded}, f.notifier.eventsFor("bob"))
	assert.Equal(t, []string{c.RoomID}, f.notifier.closed)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CallTransitions.WithLabelValues("end", "ended")))

	stored, err := f.calls.Get(ctx, c.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.CallEnded, stored.Status)
}

func TestCallService_InitiateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.calls.Initiate(ctx, "alice", InitiateInput{ReceiverID: "alice"})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	_, err = f.calls.Initiate(ctx, "alice", InitiateInput{ReceiverID: "ghost"})
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))

	_, err = f.calls.Initiate(ctx, "alice", InitiateInput{ReceiverID: "bob", Type: "fax"})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestCallService_SecondInitiateForceCancelsPrior(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.calls.Initiate(ctx, "alice", InitiateInput{ReceiverID: "bob"})
	require.NoError(t, err)
	// reverse direction counts as the same pair
	second, err := f.calls.Initiate(ctx, "bob", InitiateInput{ReceiverID: "alice"})
	require.NoError(t, err)
	third, err := f.calls.Initiate(ctx, "alice", InitiateInput{ReceiverID: "bob"})
	require.NoError(t, err)

	for _, id := range []string{first.ID, second.ID} {
		prior, err := f.calls.Get(ctx, id, "alice")
		require.NoError(t, err)
		assert.Equal(t, models.CallCancelled, prior.Status)
		assert.NotNil(t, prior.EndTime)
	}
	current, err := f.calls.Get(ctx, third.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.CallInitiated, current.Status)

	var active int64
	require.NoError(t, f.db.Model(&models.Call{}).Where("status IN ?", models.ActiveStatuses).Count(&active).Error)
	assert.EqualValues(t, 1, active)
	assert.Contains(t, f.notifier.eventsFor("bob"), events.CallCancelled)
}

func TestCallService_OnlineReceiverRings(t *testing.T) {
	f := newFixture(t, "bob")
	ctx := context.Background()

	c, err := f.calls.Initiate(ctx, "alice", InitiateInput{ReceiverID: "bob", Type: models.CallAudio})
	require.NoError(t, err)
	assert.Equal(t, models.CallRinging, c.Status)

	require.Len(t, f.notifier.sent, 1)
	sent := f.notifier.sent[0]
	assert.Equal(t, "bob", sent.To)
	assert.Equal(t, events.IncomingCall, sent.Event)
	p := sent.Payload.(events.IncomingCallPayload)
	assert.Equal(t, c.ID, p.Call.ID)
	require.NotNil(t, p.Caller)
	assert.Equal(t, "alice", p.Caller.Name)

	// an audio call may be ended straight from ringing
	c, err = f.calls.End(ctx, c.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.CallEnded, c.Status)
	assert.Zero(t, c.DurationSeconds)
}

func TestCallService_RejectThenAcceptFails(t *testing.T) {
	f := newFixture(t, "bob")
	ctx := context.Background()

	c, err := f.calls.Initiate(ctx, "alice", InitiateInput{ReceiverID: "bob"})
	require.NoError(t, err)
	require.Equal(t, models.CallRinging, c.Status)

	c, err = f.calls.Reject(ctx, c.ID, "bob", "user_busy")
	require.NoError(t, err)
	assert.Equal(t, models.CallRejected, c.Status)
	assert.Equal(t, "user_busy", c.RejectionReason)
	assert.NotNil(t, c.EndTime)

	_, err = f.calls.Accept(ctx, c.ID, "bob", "")
	assert.True(t, utils.IsCode(err, utils.CodeInvalidState))

	stored, err := f.calls.Get(ctx, c.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.CallRejected, stored.Status)
}

func TestCallService_AuthorizationBeforeState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.calls.Initiate(ctx, "alice", InitiateInput{ReceiverID: "bob"})
	require.NoError(t, err)

	_, err = f.calls.Accept(ctx, c.ID, "alice", "")
	assert.True(t, utils.IsCode(err, utils.CodeForbidden), "caller cannot accept")

	_, err = f.calls.Cancel(ctx, c.ID, "bob")
	assert.True(t, utils.IsCode(err, utils.CodeForbidden), "receiver cannot cancel")

	_, err = f.calls.End(ctx, c.ID, "carol")
	assert.True(t, utils.IsCode(err, utils.CodeForbidden))

	_, err = f.calls.Get(ctx, c.ID, "carol")
	assert.True(t, utils.IsCode(err, utils.CodeForbidden))

	// video call cannot be ended before it is answered
	_, err = f.calls.End(ctx, c.ID, "alice")
	assert.True(t, utils.IsCode(err, utils.CodeInvalidState))

	stored, err := f.calls.Get(ctx, c.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.CallInitiated, stored.Status)
	assert.Empty(t, f.notifier.sent)
}

func TestCallService_BookingLockstep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.Create(&models.Booking{ID: "bk1", Status: models.BookingAccepted, RatePerMinute: 2}).Error)
	booking := "bk1"

	c, err := f.calls.Initiate(ctx, "alice", InitiateInput{ReceiverID: "bob", BookingID: &booking})
	require.NoError(t, err)
	_, err = f.calls.Accept(ctx, c.ID, "bob", "")
	require.NoError(t, err)

	var b models.Booking
	require.NoError(t, f.db.First(&b, "id = ?", "bk1").Error)
	assert.Equal(t, models.BookingInProgress, b.Status)

	f.advance(95 * time.Second)
	_, err = f.calls.End(ctx, c.ID, "bob")
	require.NoError(t, err)

	require.NoError(t, f.db.First(&b, "id = ?", "bk1").Error)
	assert.InDelta(t, 3.17, b.TotalAmount, 0.0001)
}

func TestBookingTotal(t *testing.T) {
	assert.Equal(t, 0.0, BookingTotal(0, 5))
	assert.Equal(t, 5.0, BookingTotal(60, 5))
	assert.Equal(t, 0.83, BookingTotal(10, 5))
}

func TestCallService_ExpireUnanswered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.calls.Initiate(ctx, "alice", InitiateInput{ReceiverID: "bob"})
	require.NoError(t, err)
	f.advance(50 * time.Second)
	fresh, err := f.calls.Initiate(ctx, "alice", InitiateInput{ReceiverID: "carol"})
	require.NoError(t, err)

	n, err := f.calls.ExpireUnanswered(ctx, 45*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.calls.Get(ctx, old.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.CallMissed, got.Status)
	got, err = f.calls.Get(ctx, fresh.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, models.CallInitiated, got.Status)
	assert.Contains(t, f.notifier.eventsFor("alice"), events.CallMissed)

	_, err = f.calls.MarkMissed(ctx, old.ID)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidState))
}

func TestCallService_AppendOnlyLogsAnyStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.calls.Initiate(ctx, "alice", InitiateInput{ReceiverID: "bob"})
	require.NoError(t, err)
	_, err = f.calls.Cancel(ctx, c.ID, "alice")
	require.NoError(t, err)

	_, err = f.calls.AddICECandidate(ctx, c.ID, "bob", json.RawMessage(`{"candidate":"x"}`))
	require.NoError(t, err)
	updated, err := f.calls.UpdateQuality(ctx, c.ID, "alice", json.RawMessage(`{"jitter":3}`))
	require.NoError(t, err)
	assert.Equal(t, models.CallCancelled, updated.Status)

	ice, err := updated.ICELog()
	require.NoError(t, err)
	require.Len(t, ice, 1)
	assert.Equal(t, "bob", ice[0].From)

	_, err = f.calls.AddICECandidate(ctx, c.ID, "carol", json.RawMessage(`{}`))
	assert.True(t, utils.IsCode(err, utils.CodeForbidden))
	_, err = f.calls.UpdateQuality(ctx, c.ID, "alice", nil)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestCallService_GetByRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.calls.Initiate(ctx, "alice", InitiateInput{ReceiverID: "bob", TranslationEnabled: true})
	require.NoError(t, err)

	got, err := f.calls.GetByRoom(ctx, c.RoomID)
	require.NoError(t, err)
	assert.True(t, got.TranslationEnabled)

	_, err = f.calls.GetByRoom(ctx, "nope")
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
}
