// Package realtime is the WebSocket gateway: connection registry, rooms,
// signaling relay and the per-event dispatcher.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoocall/internal/auth"
	"github.com/yoockh/yoocall/internal/events"
	"github.com/yoockh/yoocall/internal/metrics"
	"github.com/yoockh/yoocall/internal/models"
	"github.com/yoockh/yoocall/internal/pulse"
	"github.com/yoockh/yoocall/internal/services"
	"github.com/yoockh/yoocall/internal/translation"
)

var (
	_ services.CallNotifier = (*Hub)(nil)
	_ translation.Emitter   = (*Hub)(nil)
	_ Translator            = (*translation.Manager)(nil)
)

// Translator is the slice of the translation manager the gateway drives.
type Translator interface {
	Enable(ctx context.Context, userID string, p *events.EnableTranslationPayload) error
	Disable(userID string) bool
	SendAudio(userID string, pcm []byte) bool
	Finalize(userID string) error
}

type Options struct {
	Calls   services.CallService
	Users   services.UserService
	Metrics *metrics.Metrics
	Logger  *logrus.Logger

	PulseInterval time.Duration
	PulseTimeout  time.Duration
	// EventTimeout bounds the store work done for a single inbound event.
	EventTimeout time.Duration
}

type Hub struct {
	calls   services.CallService
	users   services.UserService
	metrics *metrics.Metrics
	log     *logrus.Entry

	rooms        *Rooms
	pulse        *pulse.Monitor
	eventTimeout time.Duration
	now          func() time.Time

	mu         sync.RWMutex
	byUser     map[string]*Client
	conns      map[*Client]struct{}
	translator Translator
}

func NewHub(opts Options) *Hub {
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = 10 * time.Second
	}
	h := &Hub{
		calls:        opts.Calls,
		users:        opts.Users,
		metrics:      opts.Metrics,
		log:          opts.Logger.WithField("component", "realtime"),
		rooms:        NewRooms(),
		eventTimeout: opts.EventTimeout,
		now:          time.Now,
		byUser:       map[string]*Client{},
		conns:        map[*Client]struct{}{},
	}
	h.pulse = pulse.NewMonitor(opts.PulseInterval, opts.PulseTimeout, h.pulseTimedOut, opts.Logger)
	return h
}

func (h *Hub) SetTranslator(t Translator) {
	h.mu.Lock()
	h.translator = t
	h.mu.Unlock()
}

func (h *Hub) Pulse() *pulse.Monitor { return h.pulse }

func (h *Hub) Rooms() *Rooms { return h.rooms }

// Serve runs one authenticated connection until it closes.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, id *auth.Identity) {
	c := newClient(conn, id.UserID, id.Role)
	h.register(ctx, c)
	go c.writePump()

	c.readPump(func(mt int, data []byte) {
		h.handleFrame(ctx, c, mt, data)
	})
	h.unregister(ctx, c)
}

func (h *Hub) register(ctx context.Context, c *Client) {
	h.mu.Lock()
	prev := h.byUser[c.UserID]
	h.byUser[c.UserID] = c
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.rooms.Join(c, PersonalRoom(c.UserID))
	if h.metrics != nil {
		h.metrics.Connections.Inc()
	}
	h.log.WithFields(logrus.Fields{
		"user_id":  c.UserID,
		"conn_id":  c.ID,
		"replaced": prev != nil,
	}).Info("client connected")

	h.broadcast(events.UserOnline, events.PresencePayload{UserID: c.UserID}, c)

	pctx, cancel := h.storeContext(ctx)
	defer cancel()
	if err := h.users.SetOnline(pctx, c.UserID); err != nil {
		h.log.WithError(err).WithField("user_id", c.UserID).Warn("failed to persist presence")
	}
}

func (h *Hub) unregister(ctx context.Context, c *Client) {
	c.close()

	h.mu.Lock()
	delete(h.conns, c)
	current := h.byUser[c.UserID] == c
	if current {
		delete(h.byUser, c.UserID)
	}
	t := h.translator
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.Connections.Dec()
	}

	for _, roomID := range h.rooms.LeaveAll(c) {
		if isSignalingRoom(roomID) && !h.inRoom(roomID, c.UserID) {
			h.EmitToRoom(roomID, events.PeerLeft, events.PeerPayload{RoomID: roomID, UserID: c.UserID}, c.UserID)
		}
	}

	entry := h.log.WithFields(logrus.Fields{"user_id": c.UserID, "conn_id": c.ID})
	if !current {
		entry.Info("replaced client disconnected")
		return
	}
	entry.Info("client disconnected")

	lastSeen := h.now().UTC()
	h.broadcast(events.UserOffline, events.PresencePayload{UserID: c.UserID, LastSeen: &lastSeen}, nil)

	pctx, cancel := h.storeContext(ctx)
	defer cancel()
	if err := h.users.SetOffline(pctx, c.UserID, lastSeen); err != nil {
		entry.WithError(err).Warn("failed to persist presence")
	}

	h.pulse.RemoveUser(c.UserID)
	if t != nil {
		t.Disable(c.UserID)
	}
}

// storeContext outlives a cancelled request so disconnect bookkeeping
// still reaches the store.
func (h *Hub) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), h.eventTimeout)
}

func (h *Hub) inRoom(roomID, userID string) bool {
	for _, id := range h.rooms.Members(roomID) {
		if id == userID {
			return true
		}
	}
	return false
}

func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.byUser[userID]
	return ok
}

// EmitToUser delivers to the user's latest connection, at most once.
func (h *Hub) EmitToUser(userID, event string, payload any) bool {
	h.mu.RLock()
	c := h.byUser[userID]
	h.mu.RUnlock()
	if c == nil {
		return false
	}
	frame, ok := h.encode(event, payload)
	if !ok {
		return false
	}
	return h.deliver(c, event, frame)
}

// EmitToRoom delivers to every member of roomID except exceptUserID.
func (h *Hub) EmitToRoom(roomID, event string, payload any, exceptUserID string) {
	frame, ok := h.encode(event, payload)
	if !ok {
		return
	}
	for _, c := range h.rooms.Clients(roomID) {
		if exceptUserID != "" && c.UserID == exceptUserID {
			continue
		}
		h.deliver(c, event, frame)
	}
}

func (h *Hub) broadcast(event string, payload any, except *Client) {
	frame, ok := h.encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.conns))
	for c := range h.conns {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, event, frame)
	}
}

// CallClosed drops the liveness state of a finished call's room.
func (h *Hub) CallClosed(c *models.Call) {
	if n := h.pulse.RemoveRoom(c.RoomID); n > 0 {
		h.log.WithFields(logrus.Fields{"room_id": c.RoomID, "records": n}).Debug("pulse records purged")
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.conns))
	for c := range h.conns {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
}

func (h *Hub) pulseTimedOut(r pulse.Record) {
	if h.metrics != nil {
		h.metrics.PulseTimeouts.Inc()
	}
	h.log.WithFields(logrus.Fields{"room_id": r.RoomID, "user_id": r.UserID}).Info("pulse timeout")
	h.EmitToRoom(r.RoomID, events.PulseTimeout, events.PulseTimeoutPayload{
		RoomID:   r.RoomID,
		UserID:   r.UserID,
		LastSeen: r.LastSeen,
	}, "")
}

func (h *Hub) encode(event string, payload any) ([]byte, bool) {
	frame, err := events.Encode(event, payload)
	if err != nil {
		h.log.WithError(err).WithField("event", event).Error("failed to encode event")
		return nil, false
	}
	return frame, true
}

func (h *Hub) deliver(c *Client, event string, frame []byte) bool {
	if c.enqueue(frame) {
		return true
	}
	if h.metrics != nil {
		h.metrics.DroppedMessages.Inc()
	}
	h.log.WithFields(logrus.Fields{"user_id": c.UserID, "event": event}).Debug("outbound message dropped")
	return false
}

func (h *Hub) currentTranslator() Translator {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.translator
}
