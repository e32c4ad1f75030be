package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"

	"github.com/yoockh/yoocall/internal/auth"
	"github.com/yoockh/yoocall/internal/cache"
	"github.com/yoockh/yoocall/internal/events"
	"github.com/yoockh/yoocall/internal/logger"
	"github.com/yoockh/yoocall/internal/metrics"
	"github.com/yoockh/yoocall/internal/models"
	pgrepo "github.com/yoockh/yoocall/internal/repositories/postgres"
	"github.com/yoockh/yoocall/internal/services"
)

type testEnv struct {
	t       *testing.T
	hub     *Hub
	db      *gorm.DB
	metrics *metrics.Metrics
	logs    *logtest.Hook
	url     string

	mu    sync.Mutex
	conns []*websocket.Conn
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	silent := glog.New(log.New(io.Discard, "", log.LstdFlags), glog.Config{
		LogLevel:                  glog.Silent,
		IgnoreRecordNotFoundError: true,
	})
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: silent})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Call{}, &models.Booking{}, &models.User{}))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	for _, id := range []string{"alice", "bob", "carol"} {
		require.NoError(t, db.Create(&models.User{ID: id, Name: id}).Error)
	}

	m := metrics.New()
	users := services.NewUserService(pgrepo.NewUserRepo(db), cache.NewMemoryCache(), time.Minute)
	calls := services.NewCallService(pgrepo.NewCallRepo(db), pgrepo.NewBookingRepo(db), users, m, logger.Discard())
	hubLog, logs := logtest.NewNullLogger()
	hub := NewHub(Options{Calls: calls, Users: users, Metrics: m, Logger: hubLog})
	calls.SetNotifier(hub)

	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(r.Context(), conn, &auth.Identity{UserID: r.URL.Query().Get("user"), Role: "user"})
	}))

	env := &testEnv{t: t, hub: hub, db: db, metrics: m, logs: logs, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
	t.Cleanup(func() {
		env.mu.Lock()
		for _, c := range env.conns {
			_ = c.Close()
		}
		env.mu.Unlock()
		require.Eventually(t, func() bool { return env.liveConns() == 0 }, 2*time.Second, 10*time.Millisecond)
		srv.Close()
	})
	return env
}

func (e *testEnv) liveConns() int {
	e.hub.mu.RLock()
	defer e.hub.mu.RUnlock()
	return len(e.hub.conns)
}

type peer struct {
	t    *testing.T
	user string
	conn *websocket.Conn
	seq  int
}

// connect dials as user and waits until the hub has registered the socket.
func (e *testEnv) connect(user string) *peer {
	e.t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.url+"?user="+user, nil)
	require.NoError(e.t, err)
	e.mu.Lock()
	e.conns = append(e.conns, conn)
	e.mu.Unlock()

	p := &peer{t: e.t, user: user, conn: conn}
	p.sync()
	return p
}

// sync round-trips a join-room so everything queued before it has arrived.
// It returns the events seen on the way.
func (p *peer) sync() []string {
	p.t.Helper()
	p.seq++
	room := fmt.Sprintf("sync-%s-%d", p.user, p.seq)
	p.send(events.JoinRoom, events.RoomRef{RoomID: room})
	_, seen := p.waitFor(events.RoomJoined)
	p.send(events.RoomDisconnect, events.RoomRef{RoomID: room})
	return seen
}

func (p *peer) send(event string, data any) {
	p.t.Helper()
	frame, err := events.Encode(event, data)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteMessage(websocket.TextMessage, frame))
}

func (p *peer) next() events.Envelope {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := p.conn.ReadMessage()
	require.NoError(p.t, err)
	var env events.Envelope
	require.NoError(p.t, json.Unmarshal(data, &env))
	return env
}

// waitFor reads until event arrives and returns it with the names skipped.
func (p *peer) waitFor(event string) (events.Envelope, []string) {
	p.t.Helper()
	var skipped []string
	for {
		env := p.next()
		if env.Event == event {
			return env, skipped
		}
		skipped = append(skipped, env.Event)
	}
}

func decode[T any](t *testing.T, env events.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestHub_PresenceBroadcastAndPersistence(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect("alice")
	bob := env.connect("bob")

	online, _ := alice.waitFor(events.UserOnline)
	assert.Equal(t, "bob", decode[events.PresencePayload](t, online).UserID)
	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.Connections))

	var u models.User
	require.NoError(t, env.db.First(&u, "id = ?", "bob").Error)
	assert.True(t, u.IsOnline)
	assert.True(t, env.hub.IsOnline("bob"))

	require.NoError(t, bob.conn.Close())
	offline, _ := alice.waitFor(events.UserOffline)
	got := decode[events.PresencePayload](t, offline)
	assert.Equal(t, "bob", got.UserID)
	require.NotNil(t, got.LastSeen)

	require.Eventually(t, func() bool {
		var u models.User
		return env.db.First(&u, "id = ?", "bob").Error == nil && !u.IsOnline && u.LastSeen != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, env.hub.IsOnline("bob"))
}

func TestHub_RelayNeverEchoesAndSelfHeals(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect("alice")
	bob := env.connect("bob")

	alice.send(events.JoinRoom, events.RoomRef{RoomID: "r1"})
	joined, _ := alice.waitFor(events.RoomJoined)
	assert.Equal(t, 1, decode[events.RoomJoinedPayload](t, joined).MemberCount)

	// bob never joined; the offer joins him first
	bob.send(events.Offer, events.RoomSignalPayload{RoomID: "r1", Payload: json.RawMessage(`{"sdp":"v=0"}`)})

	offer, _ := alice.waitFor(events.Offer)
	relayed := decode[events.RelayedPayload](t, offer)
	assert.Equal(t, "r1", relayed.RoomID)
	assert.Equal(t, "bob", relayed.From)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(relayed.Payload))

	assert.NotContains(t, bob.sync(), events.Offer)
	assert.Equal(t, []string{"alice", "bob"}, env.hub.Rooms().Members("r1"))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.RelayedMessages.WithLabelValues(events.Offer)))

	alice.send(events.RequestOfferRetry, events.RetryPayload{RoomID: "r1"})
	retry, _ := bob.waitFor(events.RequestOfferRetry)
	assert.Equal(t, "alice", decode[events.RelayedPayload](t, retry).From)
}

func (e *testEnv) warnings(msg, roomID string) int {
	n := 0
	for _, entry := range e.logs.AllEntries() {
		if entry.Message == msg && entry.Data["room_id"] == roomID {
			n++
		}
	}
	return n
}

func TestHub_RelayWithNoPeerWarnsAndKeepsSender(t *testing.T) {
	const lonely = "relay into room with fewer than 2 members"
	env := newTestEnv(t)
	alice := env.connect("alice")

	alice.send(events.JoinRoom, events.RoomRef{RoomID: "solo"})
	joined, _ := alice.waitFor(events.RoomJoined)
	assert.Equal(t, 1, decode[events.RoomJoinedPayload](t, joined).MemberCount)

	alice.send(events.Offer, events.RoomSignalPayload{RoomID: "solo", Payload: json.RawMessage(`{"sdp":"x"}`)})
	assert.NotContains(t, alice.sync(), events.Offer)
	assert.Equal(t, 1, env.warnings(lonely, "solo"))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.RelayedMessages.WithLabelValues(events.Offer)))

	// a second tab of the same user is not a peer
	tab := env.connect("alice")
	tab.send(events.Offer, events.RoomSignalPayload{RoomID: "solo", Payload: json.RawMessage(`{"sdp":"y"}`)})
	assert.NotContains(t, tab.sync(), events.Offer)
	assert.NotContains(t, alice.sync(), events.Offer)
	assert.Equal(t, 2, env.warnings(lonely, "solo"))
	assert.Equal(t, 2, env.hub.Rooms().Count("solo"))

	alice.send(events.JoinRoom, events.RoomRef{RoomID: "after"})
	again, _ := alice.waitFor(events.RoomJoined)
	assert.Equal(t, "after", decode[events.RoomJoinedPayload](t, again).RoomID)
}

func TestHub_JoinLeaveNotifiesPeers(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect("alice")
	bob := env.connect("bob")

	alice.send(events.JoinRoom, events.RoomRef{RoomID: "r1"})
	alice.waitFor(events.RoomJoined)
	bob.send(events.JoinRoom, events.RoomRef{RoomID: "r1"})
	joined, _ := bob.waitFor(events.RoomJoined)
	assert.Equal(t, events.RoomJoinedPayload{RoomID: "r1", MemberCount: 2, Members: []string{"alice", "bob"}},
		decode[events.RoomJoinedPayload](t, joined))

	pj, _ := alice.waitFor(events.PeerJoined)
	assert.Equal(t, "bob", decode[events.PeerPayload](t, pj).UserID)

	bob.send(events.RoomDisconnect, events.RoomRef{RoomID: "r1"})
	pl, _ := alice.waitFor(events.PeerLeft)
	assert.Equal(t, events.PeerPayload{RoomID: "r1", UserID: "bob"}, decode[events.PeerPayload](t, pl))

	bob.send(events.JoinRoom, events.RoomRef{RoomID: "r1"})
	bob.waitFor(events.RoomJoined)
	require.NoError(t, bob.conn.Close())
	pl, _ = alice.waitFor(events.PeerLeft)
	assert.Equal(t, "bob", decode[events.PeerPayload](t, pl).UserID)
}

func TestHub_ConversationEvents(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect("alice")
	bob := env.connect("bob")

	alice.send(events.JoinConversation, events.ConversationRef{ConversationID: "c1"})
	alice.sync()

	bob.send(events.SendMessage, events.SendMessagePayload{ConversationID: "c1", Message: json.RawMessage(`{"text":"hi"}`)})
	msg, _ := alice.waitFor(events.NewMessage)
	got := decode[events.NewMessagePayload](t, msg)
	assert.Equal(t, "bob", got.From)
	assert.JSONEq(t, `{"text":"hi"}`, string(got.Message))

	alice.send(events.Typing, events.TypingPayload{ConversationID: "c1", IsTyping: true})
	typing, _ := bob.waitFor(events.Typing)
	assert.Equal(t, events.TypingRelayPayload{ConversationID: "c1", UserID: "alice", IsTyping: true},
		decode[events.TypingRelayPayload](t, typing))
	assert.NotContains(t, alice.sync(), events.Typing)

	bob.send(events.LeaveConversation, events.ConversationRef{ConversationID: "c1"})
	bob.sync()
	assert.Equal(t, []string{"alice"}, env.hub.Rooms().Members(ConversationRoom("c1")))
}

func TestHub_CallFlowOverSocket(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect("alice")
	bob := env.connect("bob")

	alice.send(events.CallInitiate, events.CallInitiatePayload{ReceiverID: "bob", CallType: models.CallVideo})
	initiated, _ := alice.waitFor(events.CallInitiated)
	call := decode[events.IncomingCallPayload](t, initiated).Call
	require.NotNil(t, call)

	incoming, _ := bob.waitFor(events.IncomingCall)
	in := decode[events.IncomingCallPayload](t, incoming)
	assert.Equal(t, call.ID, in.Call.ID)
	assert.Equal(t, models.CallRinging, in.Call.Status)
	require.NotNil(t, in.Caller)
	assert.Equal(t, "alice", in.Caller.ID)

	alice.send(events.WebRTCOffer, events.CallSignalPayload{CallID: call.ID, Payload: json.RawMessage(`{"sdp":"o"}`)})
	fwd, _ := bob.waitFor(events.WebRTCOffer)
	assert.Equal(t, "alice", decode[events.CallRelayedPayload](t, fwd).From)

	bob.send(events.CallAccept, events.CallActionPayload{CallID: call.ID})
	for _, p := range []*peer{alice, bob} {
		acc, _ := p.waitFor(events.CallAccepted)
		assert.Equal(t, models.CallAnswered, decode[events.CallUpdatePayload](t, acc).Status)
	}

	bob.send(events.WebRTCICECandidate, events.CallSignalPayload{CallID: call.ID, Payload: json.RawMessage(`{"candidate":"c1"}`)})
	alice.waitFor(events.WebRTCICECandidate)
	require.Eventually(t, func() bool {
		var c models.Call
		if env.db.First(&c, "id = ?", call.ID).Error != nil {
			return false
		}
		entries, err := c.ICELog()
		return err == nil && len(entries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	alice.send(events.CallEnd, events.CallActionPayload{CallID: call.ID})
	for _, p := range []*peer{alice, bob} {
		ended, _ := p.waitFor(events.CallEnded)
		assert.Equal(t, models.CallEnded, decode[events.CallUpdatePayload](t, ended).Status)
	}
}

func TestHub_CallErrorsReachSender(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect("alice")
	env.connect("bob")

	alice.send(events.CallInitiate, events.CallInitiatePayload{ReceiverID: "bob"})
	initiated, _ := alice.waitFor(events.CallInitiated)
	call := decode[events.IncomingCallPayload](t, initiated).Call

	alice.send(events.CallAccept, events.CallActionPayload{CallID: call.ID})
	e, _ := alice.waitFor(events.Error)
	got := decode[events.ErrorPayload](t, e)
	assert.Equal(t, events.CallAccept, got.Event)
	assert.Equal(t, "FORBIDDEN", got.Code)

	require.NoError(t, alice.conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"bogus"}`)))
	e, _ = alice.waitFor(events.Error)
	got = decode[events.ErrorPayload](t, e)
	assert.Equal(t, "bogus", got.Event)
	assert.Equal(t, "INVALID_ARGUMENT", got.Code)

	alice.send(events.JoinRoom, map[string]string{})
	e, _ = alice.waitFor(events.Error)
	assert.Equal(t, "roomId is required", decode[events.ErrorPayload](t, e).Message)
}

func TestHub_LatestConnectionWins(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect("alice")
	bobOld := env.connect("bob")
	bobNew := env.connect("bob")

	alice.send(events.CallInitiate, events.CallInitiatePayload{ReceiverID: "bob"})
	alice.waitFor(events.CallInitiated)

	bobNew.waitFor(events.IncomingCall)
	assert.NotContains(t, bobOld.sync(), events.IncomingCall)

	// the replaced socket closing does not take bob offline
	require.NoError(t, bobOld.conn.Close())
	require.Eventually(t, func() bool { return env.liveConns() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, env.hub.IsOnline("bob"))
	assert.NotContains(t, alice.sync(), events.UserOffline)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestHub_PulseRelayAndTimeout(t *testing.T) {
	env := newTestEnv(t)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	env.hub.Pulse().SetTimeProvider(clock)

	alice := env.connect("alice")
	bob := env.connect("bob")
	alice.send(events.JoinRoom, events.RoomRef{RoomID: "r1"})
	alice.waitFor(events.RoomJoined)

	bob.send(events.Pulse, events.PulsePayload{RoomID: "r1", ConnectionState: "connected", Timestamp: 42})
	beat, _ := alice.waitFor(events.Pulse)
	assert.Equal(t, events.PulseRelayPayload{RoomID: "r1", UserID: "bob", ConnectionState: "connected", Timestamp: 42},
		decode[events.PulseRelayPayload](t, beat))
	bob.sync()

	clock.advance(19 * time.Second)
	assert.Empty(t, env.hub.Pulse().Sweep())

	clock.advance(time.Second)
	require.Len(t, env.hub.Pulse().Sweep(), 1)
	to, _ := alice.waitFor(events.PulseTimeout)
	got := decode[events.PulseTimeoutPayload](t, to)
	assert.Equal(t, "bob", got.UserID)
	assert.Equal(t, "r1", got.RoomID)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.PulseTimeouts))

	assert.Empty(t, env.hub.Pulse().Sweep())
}

func TestHub_CallClosedPurgesPulse(t *testing.T) {
	env := newTestEnv(t)
	env.hub.Pulse().Beat("room-x", "alice", "connected")
	env.hub.CallClosed(&models.Call{RoomID: "room-x"})
	assert.Equal(t, 0, env.hub.Pulse().Len())
}

type fakeTranslator struct {
	mu       sync.Mutex
	enabled  []string
	audio    [][]byte
	disabled []string
}

func (f *fakeTranslator) Enable(_ context.Context, userID string, p *events.EnableTranslationPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = append(f.enabled, userID+"@"+p.RoomID)
	return nil
}

func (f *fakeTranslator) Disable(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled = append(f.disabled, userID)
	return false
}

func (f *fakeTranslator) SendAudio(_ string, pcm []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, pcm)
	return true
}

func (f *fakeTranslator) Finalize(string) error { return nil }

func (f *fakeTranslator) audioCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

func TestHub_TranslationEvents(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect("alice")

	alice.send(events.EnableTranslation, events.EnableTranslationPayload{RoomID: "r1", TargetLanguage: "es"})
	te, _ := alice.waitFor(events.TranslationError)
	assert.Equal(t, "translation is not configured", decode[events.MessagePayload](t, te).Message)

	tr := &fakeTranslator{}
	env.hub.SetTranslator(tr)

	alice.send(events.EnableTranslation, events.EnableTranslationPayload{RoomID: "r1", TargetLanguage: "es"})
	require.NoError(t, alice.conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}))
	alice.send(events.TranslationChunk, events.AudioChunkPayload{Audio: "AQI="})
	require.Eventually(t, func() bool { return tr.audioCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	alice.send(events.DisableTranslation, nil)
	alice.waitFor(events.TranslationDisabled)

	tr.mu.Lock()
	assert.Equal(t, []string{"alice@r1"}, tr.enabled)
	assert.Equal(t, []byte{1, 2, 3, 4}, tr.audio[0])
	assert.Equal(t, []byte{1, 2}, tr.audio[1])
	tr.mu.Unlock()
}

func TestClient_EnqueueDropsWhenFull(t *testing.T) {
	c := &Client{UserID: "u", send: make(chan []byte, 1), done: make(chan struct{})}
	assert.True(t, c.enqueue([]byte("a")))
	assert.False(t, c.enqueue([]byte("b")))

	<-c.send
	c.close()
	assert.False(t, c.enqueue([]byte("c")))
}
