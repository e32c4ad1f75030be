package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoocall/internal/events"
	"github.com/yoockh/yoocall/internal/lifecycle"
	"github.com/yoockh/yoocall/internal/metrics"
	"github.com/yoockh/yoocall/internal/models"
	pgrepo "github.com/yoockh/yoocall/internal/repositories/postgres"
	"github.com/yoockh/yoocall/internal/utils"
)

// CallNotifier delivers call events to connected users. The realtime hub
// implements it; REST and WebSocket entry points share the same notifier.
type CallNotifier interface {
	IsOnline(userID string) bool
	EmitToUser(userID, event string, payload any) bool
	// CallClosed runs once a call reaches a terminal status.
	CallClosed(c *models.Call)
}

type InitiateInput struct {
	ReceiverID         string
	Type               models.CallType
	BookingID          *string
	OfferSDP           string
	TranslationEnabled bool
}

type CallService interface {
	Initiate(ctx context.Context, callerID string, in InitiateInput) (*models.Call, error)
	Accept(ctx context.Context, callID, userID, answerSDP string) (*models.Call, error)
	Reject(ctx context.Context, callID, userID, reason string) (*models.Call, error)
	Cancel(ctx context.Context, callID, userID string) (*models.Call, error)
	End(ctx context.Context, callID, userID string) (*models.Call, error)
	MarkMissed(ctx context.Context, callID string) (*models.Call, error)
	// ExpireUnanswered marks missed every initiated or ringing call older
	// than ringTimeout and returns how many were moved.
	ExpireUnanswered(ctx context.Context, ringTimeout time.Duration) (int, error)

	AddICECandidate(ctx context.Context, callID, userID string, candidate json.RawMessage) (*models.Call, error)
	UpdateQuality(ctx context.Context, callID, userID string, sample json.RawMessage) (*models.Call, error)

	// Get returns the call if userID takes part in it.
	Get(ctx context.Context, callID, userID string) (*models.Call, error)
	GetByRoom(ctx context.Context, roomID string) (*models.Call, error)

	SetNotifier(n CallNotifier)
}

type callService struct {
	calls    pgrepo.CallRepository
	bookings pgrepo.BookingRepository
	users    UserService
	metrics  *metrics.Metrics
	log      *logrus.Entry

	notifier CallNotifier
	now      func() time.Time
}

func NewCallService(calls pgrepo.CallRepository, bookings pgrepo.BookingRepository, users UserService, m *metrics.Metrics, log *logrus.Logger) CallService {
	return &callService{
		calls:    calls,
		bookings: bookings,
		users:    users,
		metrics:  m,
		log:      log.WithField("component", "call_service"),
		notifier: noopNotifier{},
		now:      time.Now,
	}
}

func (s *callService) SetNotifier(n CallNotifier) {
	if n == nil {
		n = noopNotifier{}
	}
	s.notifier = n
}

func (s *callService) Initiate(ctx context.Context, callerID string, in InitiateInput) (*models.Call, error) {
	const op = "CallService.Initiate"

	if callerID == "" {
		return nil, utils.E(utils.CodeUnauthorized, op, "unauthorized", nil)
	}
	if in.ReceiverID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "receiver_id is required", nil)
	}
	if in.ReceiverID == callerID {
		return nil, utils.E(utils.CodeInvalidArgument, op, "cannot call yourself", nil)
	}
	if in.Type == "" {
		in.Type = models.CallVideo
	}
	if !in.Type.Valid() {
		return nil, utils.E(utils.CodeInvalidArgument, op, "call_type must be audio or video", nil)
	}

	ok, err := s.users.Exists(ctx, in.ReceiverID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, utils.E(utils.CodeNotFound, op, "receiver not found", nil)
	}

	active, err := s.calls.ActiveBetween(ctx, callerID, in.ReceiverID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to look up active calls", err)
	}
	for i := range active {
		prior := &active[i]
		err := s.transition(ctx, op, prior, lifecycle.ActionForceCancel, lifecycle.RoleSystem, "", lifecycle.Input{Reason: "superseded"})
		if err != nil && !utils.IsCode(err, utils.CodeInvalidState) {
			return nil, err
		}
	}

	now := s.now().UTC()
	c := &models.Call{
		ID:                 uuid.NewString(),
		CallerID:           callerID,
		ReceiverID:         in.ReceiverID,
		BookingID:          in.BookingID,
		RoomID:             uuid.NewString(),
		Type:               in.Type,
		Status:             models.CallInitiated,
		OfferSDP:           in.OfferSDP,
		TranslationEnabled: in.TranslationEnabled,
		CreatedAt:          now,
	}
	if err := s.calls.Create(ctx, c); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create call", err)
	}
	s.count("initiate", c.Status)
	s.log.WithFields(logrus.Fields{"call_id": c.ID, "caller_id": callerID, "receiver_id": in.ReceiverID}).Info("call initiated")

	if !s.notifier.IsOnline(c.ReceiverID) {
		return c, nil
	}
	if err := s.transition(ctx, op, c, lifecycle.ActionRing, lifecycle.RoleSystem, "", lifecycle.Input{}); err != nil {
		// the call exists; ringing is best effort
		s.log.WithError(err).WithField("call_id", c.ID).Warn("failed to mark call ringing")
	}
	caller, err := s.users.Profile(ctx, callerID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", callerID).Debug("caller profile unavailable")
		caller = nil
	}
	s.notifier.EmitToUser(c.ReceiverID, events.IncomingCall, events.IncomingCallPayload{Call: c, Caller: caller})
	return c, nil
}

func (s *callService) Accept(ctx context.Context, callID, userID, answerSDP string) (*models.Call, error) {
	return s.act(ctx, "CallService.Accept", callID, userID, lifecycle.ActionAccept, lifecycle.Input{AnswerSDP: answerSDP})
}

func (s *callService) Reject(ctx context.Context, callID, userID, reason string) (*models.Call, error) {
	return s.act(ctx, "CallService.Reject", callID, userID, lifecycle.ActionReject, lifecycle.Input{Reason: reason})
}

func (s *callService) Cancel(ctx context.Context, callID, userID string) (*models.Call, error) {
	return s.act(ctx, "CallService.Cancel", callID, userID, lifecycle.ActionCancel, lifecycle.Input{})
}

func (s *callService) End(ctx context.Context, callID, userID string) (*models.Call, error) {
	return s.act(ctx, "CallService.End", callID, userID, lifecycle.ActionEnd, lifecycle.Input{})
}

func (s *callService) MarkMissed(ctx context.Context, callID string) (*models.Call, error) {
	const op = "CallService.MarkMissed"

	c, err := s.load(ctx, op, callID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, op, c, lifecycle.ActionMarkMissed, lifecycle.RoleSystem, "", lifecycle.Input{}); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *callService) ExpireUnanswered(ctx context.Context, ringTimeout time.Duration) (int, error) {
	const op = "CallService.ExpireUnanswered"

	stale, err := s.calls.ListPendingBefore(ctx, s.now().UTC().Add(-ringTimeout), 100)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to list unanswered calls", err)
	}
	n := 0
	for i := range stale {
		c := &stale[i]
		err := s.transition(ctx, op, c, lifecycle.ActionMarkMissed, lifecycle.RoleSystem, "", lifecycle.Input{})
		switch {
		case err == nil:
			n++
		case utils.IsCode(err, utils.CodeInvalidState):
			// answered or cancelled since listing
		default:
			return n, err
		}
	}
	return n, nil
}

func (s *callService) AddICECandidate(ctx context.Context, callID, userID string, candidate json.RawMessage) (*models.Call, error) {
	const op = "CallService.AddICECandidate"

	if len(candidate) == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "candidate is required", nil)
	}
	if _, err := s.Get(ctx, callID, userID); err != nil {
		return nil, err
	}
	c, err := s.calls.AppendICE(ctx, callID, models.ICECandidate{From: userID, Candidate: candidate, At: s.now().UTC()})
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to store ice candidate", err)
	}
	return c, nil
}

func (s *callService) UpdateQuality(ctx context.Context, callID, userID string, sample json.RawMessage) (*models.Call, error) {
	const op = "CallService.UpdateQuality"

	if len(sample) == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "metrics are required", nil)
	}
	if _, err := s.Get(ctx, callID, userID); err != nil {
		return nil, err
	}
	c, err := s.calls.AppendQuality(ctx, callID, models.QualitySample{From: userID, Metrics: sample, At: s.now().UTC()})
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to store quality metrics", err)
	}
	return c, nil
}

func (s *callService) Get(ctx context.Context, callID, userID string) (*models.Call, error) {
	const op = "CallService.Get"

	c, err := s.load(ctx, op, callID)
	if err != nil {
		return nil, err
	}
	if !c.IsParticipant(userID) {
		return nil, utils.E(utils.CodeForbidden, op, "not a participant of this call", nil)
	}
	return c, nil
}

func (s *callService) GetByRoom(ctx context.Context, roomID string) (*models.Call, error) {
	const op = "CallService.GetByRoom"

	if roomID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "room_id is required", nil)
	}
	c, err := s.calls.GetByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "call not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get call", err)
	}
	return c, nil
}

func (s *callService) load(ctx context.Context, op, callID string) (*models.Call, error) {
	if callID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "call_id is required", nil)
	}
	c, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "call not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get call", err)
	}
	return c, nil
}

func (s *callService) act(ctx context.Context, op, callID, userID string, action lifecycle.Action, in lifecycle.Input) (*models.Call, error) {
	c, err := s.load(ctx, op, callID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, op, c, action, lifecycle.RoleOf(c, userID), userID, in); err != nil {
		return nil, err
	}
	return c, nil
}

// transition applies action to a copy of c and saves it guarded on the
// status it was read with. c is only updated once the write has landed.
func (s *callService) transition(ctx context.Context, op string, c *models.Call, action lifecycle.Action, role lifecycle.Role, actorID string, in lifecycle.Input) error {
	if in.Now.IsZero() {
		in.Now = s.now().UTC()
	}
	prev := c.Status
	next := *c
	if err := lifecycle.Apply(&next, action, role, in); err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrNotAllowed):
			return utils.E(utils.CodeForbidden, op, "not allowed to "+string(action)+" this call", err)
		case errors.Is(err, lifecycle.ErrInvalidTransition):
			return utils.E(utils.CodeInvalidState, op, "call is "+string(prev), err)
		default:
			return utils.E(utils.CodeInvalidArgument, op, "unknown action", err)
		}
	}
	if err := s.calls.SaveTransition(ctx, &next, prev); err != nil {
		if errors.Is(err, utils.ErrStaleWrite) {
			return utils.E(utils.CodeInvalidState, op, "call changed concurrently, resync", err)
		}
		return utils.E(utils.CodeInternal, op, "failed to save call", err)
	}
	*c = next

	s.count(string(action), c.Status)
	s.log.WithFields(logrus.Fields{
		"call_id": c.ID,
		"action":  action,
		"from":    prev,
		"to":      c.Status,
	}).Info("call transition")

	s.syncBooking(ctx, c, action)
	s.announce(c, action, actorID)
	if c.Status.Terminal() {
		s.notifier.CallClosed(c)
	}
	return nil
}

// syncBooking keeps the linked booking in step with the call. Failures are
// logged; the call transition has already been committed.
func (s *callService) syncBooking(ctx context.Context, c *models.Call, action lifecycle.Action) {
	if c.BookingID == nil || *c.BookingID == "" || s.bookings == nil {
		return
	}
	id := *c.BookingID
	entry := s.log.WithFields(logrus.Fields{"call_id": c.ID, "booking_id": id})

	switch action {
	case lifecycle.ActionAccept:
		moved, err := s.bookings.AdvanceStatus(ctx, id, models.BookingAccepted, models.BookingInProgress)
		if err != nil {
			entry.WithError(err).Error("failed to start booking")
		} else if !moved {
			entry.Warn("booking was not in accepted status")
		}
	case lifecycle.ActionEnd:
		b, err := s.bookings.GetByID(ctx, id)
		if err != nil {
			entry.WithError(err).Error("failed to load booking")
			return
		}
		total := BookingTotal(c.DurationSeconds, b.RatePerMinute)
		if err := s.bookings.SetTotal(ctx, id, total); err != nil {
			entry.WithError(err).Error("failed to update booking total")
		}
	}
}

// BookingTotal is the charge for a call of durationSeconds at ratePerMinute,
// rounded to cents.
func BookingTotal(durationSeconds int64, ratePerMinute float64) float64 {
	return math.Round(float64(durationSeconds)/60*ratePerMinute*100) / 100
}

var actionEvents = map[lifecycle.Action]string{
	lifecycle.ActionAccept:      events.CallAccepted,
	lifecycle.ActionReject:      events.CallRejected,
	lifecycle.ActionEnd:         events.CallEnded,
	lifecycle.ActionCancel:      events.CallCancelled,
	lifecycle.ActionForceCancel: events.CallCancelled,
	lifecycle.ActionMarkMissed:  events.CallMissed,
}

func (s *callService) announce(c *models.Call, action lifecycle.Action, actorID string) {
	name, ok := actionEvents[action]
	if !ok {
		return
	}
	payload := events.CallUpdatePayload{
		CallID: c.ID,
		RoomID: c.RoomID,
		Status: c.Status,
		By:     actorID,
		Reason: c.RejectionReason,
		Call:   c,
	}
	s.notifier.EmitToUser(c.CallerID, name, payload)
	s.notifier.EmitToUser(c.ReceiverID, name, payload)
}

func (s *callService) count(action string, status models.CallStatus) {
	if s.metrics == nil {
		return
	}
	s.metrics.CallTransitions.WithLabelValues(action, string(status)).Inc()
}

type noopNotifier struct{}

func (noopNotifier) IsOnline(string) bool                { return false }
func (noopNotifier) EmitToUser(string, string, any) bool { return false }
func (noopNotifier) CallClosed(*models.Call)             {}
