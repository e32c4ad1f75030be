// Package events defines the gateway wire protocol: the envelope, the event
// names and one typed payload per event. Inbound payloads are validated when
// decoded, so handlers only ever see well-formed values.
package events

import (
	"encoding/json"
	"time"

	"github.com/yoockh/yoocall/internal/models"
)

// Envelope is the frame exchanged over the gateway, {"event":..., "data":...}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound event names.
const (
	JoinConversation    = "join-conversation"
	LeaveConversation   = "leave-conversation"
	SendMessage         = "send-message"
	Typing              = "typing"
	CallInitiate        = "call-initiate"
	CallAccept          = "call-accept"
	CallReject          = "call-reject"
	CallEnd             = "call-end"
	CallCancel          = "call-cancel"
	WebRTCOffer         = "webrtc-offer"
	WebRTCAnswer        = "webrtc-answer"
	WebRTCICECandidate  = "webrtc-ice-candidate"
	JoinRoom            = "join-room"
	Offer               = "offer"
	Answer              = "answer"
	ICECandidate        = "ice-candidate"
	RequestOfferRetry   = "request-offer-retry"
	RoomDisconnect      = "room-disconnect"
	Pulse               = "pulse"
	EnableTranslation   = "enable-translation"
	DisableTranslation  = "disable-translation"
	TranslationChunk    = "translation-audio-chunk"
	FinalizeTranslation = "finalize-translation"
)

// Outbound event names. Relayed signaling keeps its inbound name.
const (
	RoomJoined          = "room-joined"
	PeerJoined          = "peer-joined"
	PeerLeft            = "peer-left"
	PulseTimeout        = "pulse-timeout"
	IncomingCall        = "incoming-call"
	CallInitiated       = "call-initiated"
	CallAccepted        = "call-accepted"
	CallRejected        = "call-rejected"
	CallEnded           = "call-ended"
	CallCancelled       = "call-cancelled"
	CallMissed          = "call-missed"
	UserOnline          = "user-online"
	UserOffline         = "user-offline"
	NewMessage          = "new-message"
	TranslationEnabled  = "translation-enabled"
	TranslationResult   = "translation-result"
	TranslationAudio    = "translation-audio"
	TranslationDisabled = "translation-disabled"
	TranslationStatus   = "translation-status"
	TranslationError    = "translation-error"
	Error               = "error"
)

// Encode wraps data in an envelope.
func Encode(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Outbound payloads.

type RoomJoinedPayload struct {
	RoomID      string   `json:"roomId"`
	MemberCount int      `json:"memberCount"`
	Members     []string `json:"members"`
}

type PeerPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// RelayedPayload is what other room members receive for offer, answer,
// ice-candidate and request-offer-retry.
type RelayedPayload struct {
	RoomID  string          `json:"roomId"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CallRelayedPayload is the webrtc-* form addressed by call id.
type CallRelayedPayload struct {
	CallID  string          `json:"callId"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type PulseRelayPayload struct {
	RoomID          string `json:"roomId"`
	UserID          string `json:"userId"`
	ConnectionState string `json:"connectionState,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
}

type PulseTimeoutPayload struct {
	RoomID   string    `json:"roomId"`
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

type IncomingCallPayload struct {
	Call   *models.Call    `json:"call"`
	Caller *models.Profile `json:"caller,omitempty"`
}

// CallUpdatePayload accompanies every call-* status event.
type CallUpdatePayload struct {
	CallID string            `json:"callId"`
	RoomID string            `json:"roomId"`
	Status models.CallStatus `json:"status"`
	By     string            `json:"by,omitempty"`
	Reason string            `json:"reason,omitempty"`
	Call   *models.Call      `json:"call"`
}

type PresencePayload struct {
	UserID   string     `json:"userId"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type NewMessagePayload struct {
	ConversationID string          `json:"conversationId"`
	From           string          `json:"from"`
	Message        json.RawMessage `json:"message"`
}

type TypingRelayPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

type TranslationEnabledPayload struct {
	RoomID          string   `json:"roomId"`
	Mode            string   `json:"mode"`
	SourceLanguage  string   `json:"sourceLanguage,omitempty"`
	TargetLanguage  string   `json:"targetLanguage"`
	LanguageHints   []string `json:"languageHints,omitempty"`
	TranslateRemote bool     `json:"translateRemote"`
}

type TranslationResultPayload struct {
	Transcript  string `json:"transcript"`
	Translation string `json:"translation,omitempty"`
	IsFinal     bool   `json:"isFinal"`
	Speaker     string `json:"speaker,omitempty"`
	Language    string `json:"language,omitempty"`
}

type TranslationAudioPayload struct {
	Audio      string `json:"audio"`
	Format     string `json:"format"`
	SampleRate int    `json:"sampleRate"`
	Text       string `json:"text"`
	FromUserID string `json:"fromUserId"`
}

type TranslationStatusPayload struct {
	RoomID  string `json:"roomId,omitempty"`
	UserID  string `json:"userId"`
	Enabled bool   `json:"enabled"`
}

type MessagePayload struct {
	Message string `json:"message"`
}

type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
