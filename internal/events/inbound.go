package events

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yoockh/yoocall/internal/models"
	"github.com/yoockh/yoocall/internal/utils"
)

// Payload is implemented by every inbound payload.
type Payload interface {
	Validate() error
}

type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

func (p *ConversationRef) Validate() error {
	return required("conversationId", p.ConversationID)
}

type SendMessagePayload struct {
	ConversationID string          `json:"conversationId"`
	Message        json.RawMessage `json:"message"`
}

func (p *SendMessagePayload) Validate() error {
	if err := required("conversationId", p.ConversationID); err != nil {
		return err
	}
	if isEmptyJSON(p.Message) {
		return errors.New("message is required")
	}
	return nil
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

func (p *TypingPayload) Validate() error {
	return required("conversationId", p.ConversationID)
}

type CallInitiatePayload struct {
	ReceiverID         string          `json:"receiverId"`
	CallType           models.CallType `json:"callType"`
	BookingID          *string         `json:"bookingId,omitempty"`
	Offer              string          `json:"offer,omitempty"`
	TranslationEnabled bool            `json:"translationEnabled"`
}

func (p *CallInitiatePayload) Validate() error {
	if err := required("receiverId", p.ReceiverID); err != nil {
		return err
	}
	if p.CallType == "" {
		p.CallType = models.CallVideo
	}
	if !p.CallType.Valid() {
		return fmt.Errorf("callType must be %q or %q", models.CallAudio, models.CallVideo)
	}
	return nil
}

// CallActionPayload serves call-accept, call-reject, call-end and call-cancel.
type CallActionPayload struct {
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
	Answer string `json:"answer,omitempty"`
}

func (p *CallActionPayload) Validate() error {
	return required("callId", p.CallID)
}

type CallSignalPayload struct {
	CallID  string          `json:"callId"`
	Payload json.RawMessage `json:"payload"`
}

func (p *CallSignalPayload) Validate() error {
	if err := required("callId", p.CallID); err != nil {
		return err
	}
	if isEmptyJSON(p.Payload) {
		return errors.New("payload is required")
	}
	return nil
}

type RoomRef struct {
	RoomID string `json:"roomId"`
}

func (p *RoomRef) Validate() error {
	return required("roomId", p.RoomID)
}

type RoomSignalPayload struct {
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
}

func (p *RoomSignalPayload) Validate() error {
	if err := required("roomId", p.RoomID); err != nil {
		return err
	}
	if isEmptyJSON(p.Payload) {
		return errors.New("payload is required")
	}
	return nil
}

// RetryPayload is request-offer-retry; the payload is optional.
type RetryPayload struct {
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (p *RetryPayload) Validate() error {
	return required("roomId", p.RoomID)
}

type PulsePayload struct {
	RoomID          string `json:"roomId"`
	ConnectionState string `json:"connectionState,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
}

func (p *PulsePayload) Validate() error {
	return required("roomId", p.RoomID)
}

const (
	ModeOneWay = "one_way"
	ModeTwoWay = "two_way"
)

type EnableTranslationPayload struct {
	RoomID          string `json:"roomId"`
	SourceLanguage  string `json:"sourceLanguage,omitempty"`
	TargetLanguage  string `json:"targetLanguage"`
	Mode            string `json:"mode,omitempty"`
	VoiceID         string `json:"voiceId,omitempty"`
	TranslateRemote bool   `json:"translateRemote"`
}

func (p *EnableTranslationPayload) Validate() error {
	if err := required("roomId", p.RoomID); err != nil {
		return err
	}
	if p.Mode == "" {
		p.Mode = ModeOneWay
	}
	switch p.Mode {
	case ModeOneWay:
		return required("targetLanguage", p.TargetLanguage)
	case ModeTwoWay:
		if strings.TrimSpace(p.SourceLanguage) == "" || strings.TrimSpace(p.TargetLanguage) == "" {
			return errors.New("two_way mode needs sourceLanguage and targetLanguage")
		}
		return nil
	default:
		return fmt.Errorf("unknown mode %q", p.Mode)
	}
}

type AudioChunkPayload struct {
	Audio string `json:"audio"`
	pcm   []byte
}

func (p *AudioChunkPayload) Validate() error {
	if p.Audio == "" {
		return errors.New("audio is required")
	}
	b, err := base64.StdEncoding.DecodeString(p.Audio)
	if err != nil {
		return errors.New("audio must be base64")
	}
	p.pcm = b
	return nil
}

// PCM returns the decoded audio bytes.
func (p *AudioChunkPayload) PCM() []byte { return p.pcm }

type EmptyPayload struct{}

func (*EmptyPayload) Validate() error { return nil }

var registry = map[string]func() Payload{
	JoinConversation:    func() Payload { return &ConversationRef{} },
	LeaveConversation:   func() Payload { return &ConversationRef{} },
	SendMessage:         func() Payload { return &SendMessagePayload{} },
	Typing:              func() Payload { return &TypingPayload{} },
	CallInitiate:        func() Payload { return &CallInitiatePayload{} },
	CallAccept:          func() Payload { return &CallActionPayload{} },
	CallReject:          func() Payload { return &CallActionPayload{} },
	CallEnd:             func() Payload { return &CallActionPayload{} },
	CallCancel:          func() Payload { return &CallActionPayload{} },
	WebRTCOffer:         func() Payload { return &CallSignalPayload{} },
	WebRTCAnswer:        func() Payload { return &CallSignalPayload{} },
	WebRTCICECandidate:  func() Payload { return &CallSignalPayload{} },
	JoinRoom:            func() Payload { return &RoomRef{} },
	Offer:               func() Payload { return &RoomSignalPayload{} },
	Answer:              func() Payload { return &RoomSignalPayload{} },
	ICECandidate:        func() Payload { return &RoomSignalPayload{} },
	RequestOfferRetry:   func() Payload { return &RetryPayload{} },
	RoomDisconnect:      func() Payload { return &RoomRef{} },
	Pulse:               func() Payload { return &PulsePayload{} },
	EnableTranslation:   func() Payload { return &EnableTranslationPayload{} },
	DisableTranslation:  func() Payload { return &EmptyPayload{} },
	TranslationChunk:    func() Payload { return &AudioChunkPayload{} },
	FinalizeTranslation: func() Payload { return &EmptyPayload{} },
}

// Known reports whether name is an inbound event.
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// Decode parses one inbound frame into its event name and validated payload.
// Failures are INVALID_ARGUMENT AppErrors carrying the event name, if any.
func Decode(frame []byte) (string, Payload, error) {
	const op = "events.Decode"

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", nil, utils.E(utils.CodeInvalidArgument, op, "malformed envelope", err)
	}
	newPayload, ok := registry[env.Event]
	if !ok {
		return env.Event, nil, utils.E(utils.CodeInvalidArgument, op, fmt.Sprintf("unknown event %q", env.Event), nil)
	}
	p := newPayload()
	if !isEmptyJSON(env.Data) {
		if err := json.Unmarshal(env.Data, p); err != nil {
			return env.Event, nil, utils.E(utils.CodeInvalidArgument, op, "invalid payload", err)
		}
	}
	if err := p.Validate(); err != nil {
		return env.Event, nil, utils.E(utils.CodeInvalidArgument, op, err.Error(), nil)
	}
	return env.Event, p, nil
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
