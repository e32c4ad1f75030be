package realtime

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoocall/internal/events"
	"github.com/yoockh/yoocall/internal/services"
	"github.com/yoockh/yoocall/internal/utils"
)

func (h *Hub) handleFrame(ctx context.Context, c *Client, mt int, data []byte) {
	if mt == websocket.BinaryMessage {
		if t := h.currentTranslator(); t != nil {
			t.SendAudio(c.UserID, data)
		}
		return
	}

	name, p, err := events.Decode(data)
	if err != nil {
		h.sendError(c, name, err)
		return
	}

	ectx, cancel := context.WithTimeout(ctx, h.eventTimeout)
	defer cancel()
	if err := h.dispatch(ectx, c, name, p); err != nil {
		h.reportError(c, name, err)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Client, name string, p events.Payload) error {
	switch name {
	case events.JoinConversation:
		h.rooms.Join(c, ConversationRoom(p.(*events.ConversationRef).ConversationID))
	case events.LeaveConversation:
		h.rooms.Leave(c, ConversationRoom(p.(*events.ConversationRef).ConversationID))
	case events.SendMessage:
		m := p.(*events.SendMessagePayload)
		room := h.ensureMember(c, ConversationRoom(m.ConversationID))
		h.EmitToRoom(room, events.NewMessage, events.NewMessagePayload{
			ConversationID: m.ConversationID,
			From:           c.UserID,
			Message:        m.Message,
		}, c.UserID)
	case events.Typing:
		m := p.(*events.TypingPayload)
		room := h.ensureMember(c, ConversationRoom(m.ConversationID))
		h.EmitToRoom(room, events.Typing, events.TypingRelayPayload{
			ConversationID: m.ConversationID,
			UserID:         c.UserID,
			IsTyping:       m.IsTyping,
		}, c.UserID)

	case events.CallInitiate:
		return h.initiateCall(ctx, c, p.(*events.CallInitiatePayload))
	case events.CallAccept, events.CallReject, events.CallEnd, events.CallCancel:
		return h.callAction(ctx, c, name, p.(*events.CallActionPayload))
	case events.WebRTCOffer, events.WebRTCAnswer, events.WebRTCICECandidate:
		return h.forwardToPeer(ctx, c, name, p.(*events.CallSignalPayload))

	case events.JoinRoom:
		h.joinRoom(c, p.(*events.RoomRef).RoomID)
	case events.Offer, events.Answer, events.ICECandidate:
		m := p.(*events.RoomSignalPayload)
		h.relay(c, name, m.RoomID, m.Payload)
	case events.RequestOfferRetry:
		m := p.(*events.RetryPayload)
		h.relay(c, name, m.RoomID, m.Payload)
	case events.RoomDisconnect:
		h.leaveRoom(c, p.(*events.RoomRef).RoomID)
	case events.Pulse:
		h.beat(c, p.(*events.PulsePayload))

	case events.EnableTranslation:
		t, err := h.requireTranslator()
		if err != nil {
			return err
		}
		return t.Enable(ctx, c.UserID, p.(*events.EnableTranslationPayload))
	case events.DisableTranslation:
		t := h.currentTranslator()
		if t == nil || !t.Disable(c.UserID) {
			h.reply(c, events.TranslationDisabled, nil)
		}
	case events.TranslationChunk:
		if t := h.currentTranslator(); t != nil {
			t.SendAudio(c.UserID, p.(*events.AudioChunkPayload).PCM())
		}
	case events.FinalizeTranslation:
		t, err := h.requireTranslator()
		if err != nil {
			return err
		}
		return t.Finalize(c.UserID)
	}
	return nil
}

func (h *Hub) requireTranslator() (Translator, error) {
	t := h.currentTranslator()
	if t == nil {
		return nil, utils.E(utils.CodeUnavailable, "Hub.Translation", "translation is not configured", nil)
	}
	return t, nil
}

func (h *Hub) initiateCall(ctx context.Context, c *Client, p *events.CallInitiatePayload) error {
	call, err := h.calls.Initiate(ctx, c.UserID, services.InitiateInput{
		ReceiverID:         p.ReceiverID,
		Type:               p.CallType,
		BookingID:          p.BookingID,
		OfferSDP:           p.Offer,
		TranslationEnabled: p.TranslationEnabled,
	})
	if err != nil {
		return err
	}
	h.reply(c, events.CallInitiated, events.IncomingCallPayload{Call: call})
	return nil
}

// callAction runs a participant action; both parties are notified by the
// call service through the hub.
func (h *Hub) callAction(ctx context.Context, c *Client, name string, p *events.CallActionPayload) error {
	var err error
	switch name {
	case events.CallAccept:
		_, err = h.calls.Accept(ctx, p.CallID, c.UserID, p.Answer)
	case events.CallReject:
		_, err = h.calls.Reject(ctx, p.CallID, c.UserID, p.Reason)
	case events.CallEnd:
		_, err = h.calls.End(ctx, p.CallID, c.UserID)
	case events.CallCancel:
		_, err = h.calls.Cancel(ctx, p.CallID, c.UserID)
	}
	return err
}

// forwardToPeer sends a call-addressed signaling message to the other party.
// ICE candidates are also appended to the call's candidate log.
func (h *Hub) forwardToPeer(ctx context.Context, c *Client, name string, p *events.CallSignalPayload) error {
	call, err := h.calls.Get(ctx, p.CallID, c.UserID)
	if err != nil {
		return err
	}
	peer := call.Peer(c.UserID)
	if !h.EmitToUser(peer, name, events.CallRelayedPayload{CallID: call.ID, From: c.UserID, Payload: p.Payload}) {
		h.log.WithFields(logrus.Fields{"call_id": call.ID, "event": name, "to": peer}).Warn("peer not reachable")
	}
	h.countRelay(name)

	if name == events.WebRTCICECandidate {
		if _, err := h.calls.AddICECandidate(ctx, call.ID, c.UserID, p.Payload); err != nil {
			h.log.WithError(err).WithField("call_id", call.ID).Warn("failed to log ice candidate")
		}
	}
	return nil
}

func (h *Hub) joinRoom(c *Client, roomID string) {
	added := h.rooms.Join(c, roomID)
	members := h.rooms.Members(roomID)
	h.reply(c, events.RoomJoined, events.RoomJoinedPayload{
		RoomID:      roomID,
		MemberCount: len(members),
		Members:     members,
	})
	if added {
		h.EmitToRoom(roomID, events.PeerJoined, events.PeerPayload{RoomID: roomID, UserID: c.UserID}, c.UserID)
	}
}

func (h *Hub) leaveRoom(c *Client, roomID string) {
	if !h.rooms.Leave(c, roomID) {
		return
	}
	h.pulse.Remove(roomID, c.UserID)
	h.EmitToRoom(roomID, events.PeerLeft, events.PeerPayload{RoomID: roomID, UserID: c.UserID}, c.UserID)
}

// relay forwards a room-addressed signaling message verbatim to every other
// member. Nothing is buffered for members who have not joined yet.
func (h *Hub) relay(c *Client, name, roomID string, payload json.RawMessage) {
	h.ensureMember(c, roomID)
	if n := len(h.rooms.Members(roomID)); n < 2 {
		h.log.WithFields(logrus.Fields{"room_id": roomID, "event": name, "members": n}).Warn("relay into room with fewer than 2 members")
	}
	h.EmitToRoom(roomID, name, events.RelayedPayload{RoomID: roomID, From: c.UserID, Payload: payload}, c.UserID)
	h.countRelay(name)
}

func (h *Hub) beat(c *Client, p *events.PulsePayload) {
	h.ensureMember(c, p.RoomID)
	h.EmitToRoom(p.RoomID, events.Pulse, events.PulseRelayPayload{
		RoomID:          p.RoomID,
		UserID:          c.UserID,
		ConnectionState: p.ConnectionState,
		Timestamp:       p.Timestamp,
	}, c.UserID)
	h.pulse.Beat(p.RoomID, c.UserID, p.ConnectionState)
}

// ensureMember joins the sender to roomID when it is not a member yet.
func (h *Hub) ensureMember(c *Client, roomID string) string {
	if h.rooms.Join(c, roomID) {
		h.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": c.UserID}).Info("sender joined room implicitly")
	}
	return roomID
}

func (h *Hub) countRelay(event string) {
	if h.metrics != nil {
		h.metrics.RelayedMessages.WithLabelValues(event).Inc()
	}
}

// reply answers on the sending connection, which may not be the user's latest.
func (h *Hub) reply(c *Client, event string, payload any) {
	if frame, ok := h.encode(event, payload); ok {
		h.deliver(c, event, frame)
	}
}

// reportError answers a failed event. Translation failures use their own
// event so the client can tell them apart from signaling errors.
func (h *Hub) reportError(c *Client, name string, err error) {
	switch name {
	case events.EnableTranslation, events.FinalizeTranslation:
		h.log.WithError(err).WithField("user_id", c.UserID).Warn("translation request failed")
		h.reply(c, events.TranslationError, events.MessagePayload{Message: utils.PublicMessage(err)})
		return
	}
	h.sendError(c, name, err)
}

func (h *Hub) sendError(c *Client, name string, err error) {
	code := utils.CodeOf(err)
	entry := h.log.WithError(err).WithFields(logrus.Fields{"user_id": c.UserID, "event": name})
	if code == utils.CodeInternal {
		entry.Error("event failed")
	} else {
		entry.Debug("event rejected")
	}
	h.reply(c, events.Error, events.ErrorPayload{
		Event:   name,
		Code:    string(code),
		Message: utils.PublicMessage(err),
	})
}
