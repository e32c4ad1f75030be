// Package lifecycle holds the call transition table. Every status change of
// a Call, whichever entry point triggered it, goes through Apply.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/yoockh/yoocall/internal/models"
)

type Action string

const (
	ActionRing        Action = "ring"
	ActionAccept      Action = "accept"
	ActionReject      Action = "reject"
	ActionCancel      Action = "cancel"
	ActionEnd         Action = "end"
	ActionMarkMissed  Action = "mark_missed"
	ActionForceCancel Action = "force_cancel"
)

// Role is the relation of the acting party to the call.
type Role string

const (
	RoleNone     Role = ""
	RoleCaller   Role = "caller"
	RoleReceiver Role = "receiver"
	RoleSystem   Role = "system"
)

var (
	ErrUnknownAction     = errors.New("unknown call action")
	ErrNotAllowed        = errors.New("actor is not allowed to perform this action")
	ErrInvalidTransition = errors.New("invalid call state transition")
)

// Input carries the action parameters that effects may record.
type Input struct {
	Now       time.Time
	Reason    string
	AnswerSDP string
}

type rule struct {
	from   []models.CallStatus
	to     models.CallStatus
	actors []Role
	// guard is an extra precondition on top of the from-set.
	guard  func(c *models.Call) bool
	effect func(c *models.Call, in Input)
}

var table = map[Action]rule{
	ActionRing: {
		from:   []models.CallStatus{models.CallInitiated},
		to:     models.CallRinging,
		actors: []Role{RoleSystem},
	},
	ActionAccept: {
		from:   []models.CallStatus{models.CallInitiated, models.CallRinging},
		to:     models.CallAnswered,
		actors: []Role{RoleReceiver},
		effect: func(c *models.Call, in Input) {
			now := in.Now
			c.StartTime = &now
			if in.AnswerSDP != "" {
				c.AnswerSDP = in.AnswerSDP
			}
		},
	},
	ActionReject: {
		from:   []models.CallStatus{models.CallInitiated, models.CallRinging},
		to:     models.CallRejected,
		actors: []Role{RoleCaller, RoleReceiver},
		effect: func(c *models.Call, in Input) {
			now := in.Now
			c.EndTime = &now
			c.RejectionReason = in.Reason
		},
	},
	ActionCancel: {
		from:   []models.CallStatus{models.CallInitiated, models.CallRinging},
		to:     models.CallCancelled,
		actors: []Role{RoleCaller},
		effect: stampEnd,
	},
	ActionEnd: {
		from:   []models.CallStatus{models.CallAnswered, models.CallRinging},
		to:     models.CallEnded,
		actors: []Role{RoleCaller, RoleReceiver},
		// a ringing call may only be ended directly when it is audio
		guard: func(c *models.Call) bool {
			return c.Status == models.CallAnswered || c.Type == models.CallAudio
		},
		effect: func(c *models.Call, in Input) {
			stampEnd(c, in)
			if c.StartTime != nil {
				d := int64(c.EndTime.Sub(*c.StartTime).Seconds())
				if d < 0 {
					d = 0
				}
				c.DurationSeconds = d
			}
		},
	},
	ActionMarkMissed: {
		from:   []models.CallStatus{models.CallInitiated, models.CallRinging},
		to:     models.CallMissed,
		actors: []Role{RoleSystem},
		effect: stampEnd,
	},
	ActionForceCancel: {
		from:   models.ActiveStatuses,
		to:     models.CallCancelled,
		actors: []Role{RoleSystem},
		effect: stampEnd,
	},
}

func stampEnd(c *models.Call, in Input) {
	now := in.Now
	c.EndTime = &now
}

// RoleOf resolves the role of userID on the call.
func RoleOf(c *models.Call, userID string) Role {
	switch {
	case userID == "":
		return RoleNone
	case c.CallerID == userID:
		return RoleCaller
	case c.ReceiverID == userID:
		return RoleReceiver
	default:
		return RoleNone
	}
}

// Check reports whether role may apply action to c in its current status.
// Authorization is checked before the status precondition.
func Check(c *models.Call, action Action, role Role) error {
	r, ok := table[action]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	if !containsRole(r.actors, role) {
		return fmt.Errorf("%w: %s cannot %s", ErrNotAllowed, roleName(role), action)
	}
	if !containsStatus(r.from, c.Status) || (r.guard != nil && !r.guard(c)) {
		return fmt.Errorf("%w: cannot %s a %s %s call", ErrInvalidTransition, action, c.Status, c.Type)
	}
	return nil
}

// Apply checks and then mutates c. On error c is left untouched.
func Apply(c *models.Call, action Action, role Role, in Input) error {
	if err := Check(c, action, role); err != nil {
		return err
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	r := table[action]
	if r.effect != nil {
		r.effect(c, in)
	}
	c.Status = r.to
	return nil
}

// Target returns the status action leads to.
func Target(action Action) (models.CallStatus, bool) {
	r, ok := table[action]
	return r.to, ok
}

// Edge reports whether the graph has any transition from -> to.
func Edge(from, to models.CallStatus) bool {
	for _, r := range table {
		if r.to == to && containsStatus(r.from, from) {
			return true
		}
	}
	return false
}

func containsRole(list []Role, r Role) bool {
	for _, x := range list {
		if x == r {
			return true
		}
	}
	return false
}

func containsStatus(list []models.CallStatus, s models.CallStatus) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func roleName(r Role) string {
	if r == RoleNone {
		return "non-participant"
	}
	return string(r)
}
