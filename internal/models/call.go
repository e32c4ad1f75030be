package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallRinging   CallStatus = "ringing"
	CallAnswered  CallStatus = "answered"
	CallEnded     CallStatus = "ended"
	CallRejected  CallStatus = "rejected"
	CallMissed    CallStatus = "missed"
	CallCancelled CallStatus = "cancelled"
)

// Active reports whether the call still occupies its caller/receiver pair.
func (s CallStatus) Active() bool {
	return s == CallInitiated || s == CallRinging || s == CallAnswered
}

func (s CallStatus) Terminal() bool {
	switch s {
	case CallEnded, CallRejected, CallMissed, CallCancelled:
		return true
	}
	return false
}

// ActiveStatuses is the set used when looking up calls that block a pair.
var ActiveStatuses = []CallStatus{CallInitiated, CallRinging, CallAnswered}

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

func (t CallType) Valid() bool { return t == CallAudio || t == CallVideo }

type Call struct {
	ID         string     `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CallerID   string     `gorm:"column:caller_id;index:idx_calls_pair" json:"caller_id"`
	ReceiverID string     `gorm:"column:receiver_id;index:idx_calls_pair" json:"receiver_id"`
	BookingID  *string    `gorm:"column:booking_id" json:"booking_id,omitempty"`
	RoomID     string     `gorm:"column:room_id;uniqueIndex" json:"room_id"`
	Type       CallType   `gorm:"column:call_type;type:text" json:"call_type"`
	Status     CallStatus `gorm:"column:status;type:text;index" json:"status"`

	StartTime       *time.Time `gorm:"column:start_time" json:"start_time,omitempty"`
	EndTime         *time.Time `gorm:"column:end_time" json:"end_time,omitempty"`
	DurationSeconds int64      `gorm:"column:duration_seconds" json:"duration_seconds"`

	OfferSDP  string `gorm:"column:offer_sdp;type:text" json:"offer_sdp,omitempty"`
	AnswerSDP string `gorm:"column:answer_sdp;type:text" json:"answer_sdp,omitempty"`

	// append-only logs, kept as JSON arrays
	ICECandidates  datatypes.JSON `gorm:"column:ice_candidates" json:"ice_candidates,omitempty"`
	QualityMetrics datatypes.JSON `gorm:"column:quality_metrics" json:"quality_metrics,omitempty"`

	RejectionReason    string `gorm:"column:rejection_reason;type:text" json:"rejection_reason,omitempty"`
	TranslationEnabled bool   `gorm:"column:translation_enabled" json:"translation_enabled"`

	CreatedAt time.Time `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Call) TableName() string { return "calls" }

// IsParticipant reports whether userID is the caller or the receiver.
func (c *Call) IsParticipant(userID string) bool {
	return userID != "" && (c.CallerID == userID || c.ReceiverID == userID)
}

// Peer returns the other party of the call for a participant.
func (c *Call) Peer(userID string) string {
	if c.CallerID == userID {
		return c.ReceiverID
	}
	return c.CallerID
}

type ICECandidate struct {
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
	At        time.Time       `json:"at"`
}

type QualitySample struct {
	From    string          `json:"from"`
	Metrics json.RawMessage `json:"metrics"`
	At      time.Time       `json:"at"`
}

func (c *Call) ICELog() ([]ICECandidate, error) {
	var out []ICECandidate
	return out, decodeLog(c.ICECandidates, &out)
}

func (c *Call) AppendICE(entry ICECandidate) error {
	log, err := c.ICELog()
	if err != nil {
		return err
	}
	b, err := json.Marshal(append(log, entry))
	if err != nil {
		return err
	}
	c.ICECandidates = datatypes.JSON(b)
	return nil
}

func (c *Call) QualityLog() ([]QualitySample, error) {
	var out []QualitySample
	return out, decodeLog(c.QualityMetrics, &out)
}

func (c *Call) AppendQuality(entry QualitySample) error {
	log, err := c.QualityLog()
	if err != nil {
		return err
	}
	b, err := json.Marshal(append(log, entry))
	if err != nil {
		return err
	}
	c.QualityMetrics = datatypes.JSON(b)
	return nil
}

func decodeLog(raw datatypes.JSON, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
