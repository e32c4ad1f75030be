// Package translation runs live speech translation sessions, at most one
// per user. Each session owns an engine bridge; a single goroutine per
// session consumes the bridge results and routes transcripts and
// synthesized audio through the gateway.
package translation

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoocall/internal/events"
	"github.com/yoockh/yoocall/internal/metrics"
	"github.com/yoockh/yoocall/internal/models"
	"github.com/yoockh/yoocall/internal/providers/engine"
	"github.com/yoockh/yoocall/internal/providers/tts"
	"github.com/yoockh/yoocall/internal/utils"
)

// FeatureDisabledMessage is sent when the call does not allow translation.
const FeatureDisabledMessage = "Feature not enabled"

// Emitter is the slice of the gateway the pipeline writes to.
type Emitter interface {
	EmitToUser(userID, event string, payload any) bool
	// EmitToRoom sends to every member of roomID except exceptUserID.
	EmitToRoom(roomID, event string, payload any, exceptUserID string)
}

type CallLookup interface {
	GetByRoom(ctx context.Context, roomID string) (*models.Call, error)
}

type TranscriptSink interface {
	Record(ctx context.Context, e *models.TranscriptEntry) error
}

type Options struct {
	Engine      engine.Factory
	Synthesizer tts.Synthesizer
	Calls       CallLookup
	Transcripts TranscriptSink
	Emitter     Emitter
	Metrics     *metrics.Metrics
	Logger      *logrus.Logger
	SampleRate  int
}

type Manager struct {
	opts Options
	log  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

type session struct {
	userID          string
	roomID          string
	cfg             engine.Config
	voiceID         string
	translateRemote bool

	cancel context.CancelFunc
	// bridge is nil until the engine connection is open
	bridge engine.Bridge
}

func NewManager(opts Options) *Manager {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:     opts,
		log:      opts.Logger.WithField("component", "translation"),
		ctx:      ctx,
		cancel:   cancel,
		sessions: map[string]*session{},
	}
}

// BuildConfig maps an enable request onto an engine configuration.
func BuildConfig(p *events.EnableTranslationPayload, sampleRate int) engine.Config {
	cfg := engine.Config{
		Mode:           p.Mode,
		SourceLanguage: p.SourceLanguage,
		TargetLanguage: p.TargetLanguage,
		SampleRate:     sampleRate,
	}
	if cfg.Mode == "" {
		cfg.Mode = engine.ModeOneWay
	}
	if cfg.Mode == engine.ModeTwoWay {
		cfg.LanguageHints = engine.DedupHints(p.SourceLanguage, p.TargetLanguage)
	} else {
		cfg.LanguageHints = engine.DedupHints(p.SourceLanguage)
	}
	return cfg
}

// TrimFrame drops the last byte of an odd-length PCM s16le frame.
func TrimFrame(pcm []byte) []byte {
	if len(pcm)%2 == 1 {
		return pcm[:len(pcm)-1]
	}
	return pcm
}

// Enable starts (or replaces) the user's session. The engine connection is
// opened in the background; audio sent before it is ready is dropped.
func (m *Manager) Enable(ctx context.Context, userID string, p *events.EnableTranslationPayload) error {
	const op = "Translation.Enable"

	if p == nil {
		return utils.E(utils.CodeInvalidArgument, op, "payload is required", nil)
	}
	if err := p.Validate(); err != nil {
		return utils.E(utils.CodeInvalidArgument, op, err.Error(), nil)
	}

	c, err := m.opts.Calls.GetByRoom(ctx, p.RoomID)
	if err != nil {
		if utils.IsCode(err, utils.CodeNotFound) {
			return utils.E(utils.CodeFeatureDisabled, op, FeatureDisabledMessage, err)
		}
		return err
	}
	if !c.IsParticipant(userID) {
		return utils.E(utils.CodeForbidden, op, "not a participant of this call", nil)
	}
	if !c.TranslationEnabled {
		return utils.E(utils.CodeFeatureDisabled, op, FeatureDisabledMessage, nil)
	}
	if m.opts.Engine == nil {
		return utils.E(utils.CodeUnavailable, op, "translation engine is not configured", nil)
	}

	sctx, cancel := context.WithCancel(m.ctx)
	s := &session{
		userID:          userID,
		roomID:          p.RoomID,
		cfg:             BuildConfig(p, m.opts.SampleRate),
		voiceID:         p.VoiceID,
		translateRemote: p.TranslateRemote,
		cancel:          cancel,
	}

	m.mu.Lock()
	prev := m.sessions[userID]
	m.sessions[userID] = s
	m.mu.Unlock()
	if prev != nil {
		m.teardown(prev)
	} else if m.opts.Metrics != nil {
		m.opts.Metrics.TranslationSessions.Inc()
	}

	m.wg.Add(1)
	go m.run(sctx, s)
	return nil
}

// run opens the bridge and then consumes its results until it ends.
func (m *Manager) run(ctx context.Context, s *session) {
	defer m.wg.Done()
	entry := m.log.WithFields(logrus.Fields{"user_id": s.userID, "room_id": s.roomID})

	b, err := m.opts.Engine.Open(ctx, s.cfg)
	if err != nil {
		entry.WithError(err).Warn("engine open failed")
		m.failed(s, "engine", "translation engine unavailable")
		return
	}

	m.mu.Lock()
	if m.sessions[s.userID] != s {
		m.mu.Unlock()
		_ = b.Close()
		return
	}
	s.bridge = b
	m.mu.Unlock()

	m.opts.Emitter.EmitToUser(s.userID, events.TranslationEnabled, events.TranslationEnabledPayload{
		RoomID:          s.roomID,
		Mode:            s.cfg.Mode,
		SourceLanguage:  s.cfg.SourceLanguage,
		TargetLanguage:  s.cfg.TargetLanguage,
		LanguageHints:   s.cfg.LanguageHints,
		TranslateRemote: s.translateRemote,
	})
	m.opts.Emitter.EmitToRoom(s.roomID, events.TranslationStatus, events.TranslationStatusPayload{
		RoomID: s.roomID, UserID: s.userID, Enabled: true,
	}, s.userID)
	entry.Info("translation session ready")

	for r := range b.Results() {
		m.handleResult(ctx, s, r)
	}
	if ctx.Err() != nil {
		return
	}
	if err := b.Err(); err != nil {
		entry.WithError(err).Warn("engine session failed")
		m.failed(s, "engine", "translation engine error")
		return
	}
	entry.Info("engine session finished")
	m.finished(s)
}

func (m *Manager) handleResult(ctx context.Context, s *session, r engine.Result) {
	m.opts.Emitter.EmitToUser(s.userID, events.TranslationResult, events.TranslationResultPayload{
		Transcript:  r.Transcript,
		Translation: r.Translation,
		IsFinal:     r.IsFinal,
		Speaker:     r.Speaker,
		Language:    r.Language,
	})
	if !r.IsFinal || r.Translation == "" {
		return
	}

	if m.opts.Transcripts != nil {
		err := m.opts.Transcripts.Record(ctx, &models.TranscriptEntry{
			RoomID:      s.roomID,
			UserID:      s.userID,
			Transcript:  r.Transcript,
			Translation: r.Translation,
			Language:    r.Language,
			Speaker:     r.Speaker,
		})
		if err != nil {
			m.log.WithError(err).WithField("room_id", s.roomID).Warn("failed to record transcript")
		}
	}

	if m.opts.Synthesizer == nil {
		return
	}
	lang := engine.TargetFor(s.cfg, r.Language)
	audio, err := m.opts.Synthesizer.Synthesize(ctx, r.Translation, lang, s.voiceID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.log.WithError(err).WithField("user_id", s.userID).Warn("synthesis failed")
		m.countError("synthesis")
		m.opts.Emitter.EmitToUser(s.userID, events.TranslationError, events.MessagePayload{Message: "speech synthesis failed"})
		return
	}

	payload := events.TranslationAudioPayload{
		Audio:      base64.StdEncoding.EncodeToString(audio.PCM),
		Format:     "pcm_s16le",
		SampleRate: audio.SampleRate,
		Text:       r.Translation,
		FromUserID: s.userID,
	}
	if s.translateRemote {
		m.opts.Emitter.EmitToUser(s.userID, events.TranslationAudio, payload)
	} else {
		m.opts.Emitter.EmitToRoom(s.roomID, events.TranslationAudio, payload, s.userID)
	}
}

// failed tears a broken session down and tells the user. Signaling and the
// call itself are left alone.
func (m *Manager) failed(s *session, stage, msg string) {
	if !m.remove(s) {
		return
	}
	m.countError(stage)
	m.opts.Emitter.EmitToUser(s.userID, events.TranslationError, events.MessagePayload{Message: msg})
	m.opts.Emitter.EmitToRoom(s.roomID, events.TranslationStatus, events.TranslationStatusPayload{
		RoomID: s.roomID, UserID: s.userID, Enabled: false,
	}, s.userID)
}

// finished unregisters a session whose engine ended cleanly, so the user
// learns translation is off instead of having audio silently dropped.
func (m *Manager) finished(s *session) {
	if !m.remove(s) {
		return
	}
	m.notifyDisabled(s)
}

func (m *Manager) notifyDisabled(s *session) {
	m.opts.Emitter.EmitToUser(s.userID, events.TranslationDisabled, nil)
	m.opts.Emitter.EmitToRoom(s.roomID, events.TranslationStatus, events.TranslationStatusPayload{
		RoomID: s.roomID, UserID: s.userID, Enabled: false,
	}, s.userID)
}

// SendAudio forwards PCM to the user's engine. It reports false when the
// chunk was dropped because no session is ready.
func (m *Manager) SendAudio(userID string, pcm []byte) bool {
	m.mu.Lock()
	s := m.sessions[userID]
	var b engine.Bridge
	if s != nil {
		b = s.bridge
	}
	m.mu.Unlock()
	if b == nil {
		return false
	}

	pcm = TrimFrame(pcm)
	if len(pcm) == 0 {
		return false
	}
	if err := b.SendAudio(pcm); err != nil {
		m.log.WithError(err).WithField("user_id", userID).Debug("audio dropped")
		return false
	}
	return true
}

func (m *Manager) Finalize(userID string) error {
	const op = "Translation.Finalize"

	m.mu.Lock()
	s := m.sessions[userID]
	var b engine.Bridge
	if s != nil {
		b = s.bridge
	}
	m.mu.Unlock()
	if s == nil {
		return utils.E(utils.CodeNotFound, op, "translation is not enabled", nil)
	}
	if b == nil {
		return nil
	}
	if err := b.Finalize(); err != nil {
		return utils.E(utils.CodeExternal, op, "failed to finalize translation", err)
	}
	return nil
}

// Disable ends the user's session, if any, and reports whether one existed.
func (m *Manager) Disable(userID string) bool {
	m.mu.Lock()
	s := m.sessions[userID]
	m.mu.Unlock()
	if s == nil || !m.remove(s) {
		return false
	}
	m.notifyDisabled(s)
	return true
}

func (m *Manager) Active(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[userID] != nil
}

// Ready reports whether the user's engine connection is open.
func (m *Manager) Ready(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[userID]
	return s != nil && s.bridge != nil
}

// Close tears down every session and waits for their goroutines.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = map[string]*session{}
	m.mu.Unlock()

	for _, s := range all {
		m.teardown(s)
	}
	m.cancel()
	m.wg.Wait()
}

// remove unregisters s if it is still the user's current session.
func (m *Manager) remove(s *session) bool {
	m.mu.Lock()
	if m.sessions[s.userID] != s {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, s.userID)
	m.mu.Unlock()

	if m.opts.Metrics != nil {
		m.opts.Metrics.TranslationSessions.Dec()
	}
	m.teardown(s)
	return true
}

func (m *Manager) teardown(s *session) {
	s.cancel()
	m.mu.Lock()
	b := s.bridge
	m.mu.Unlock()
	if b != nil {
		if err := b.Close(); err != nil && !errors.Is(err, context.Canceled) {
			m.log.WithError(err).WithField("user_id", s.userID).Debug("bridge close")
		}
	}
}

func (m *Manager) countError(stage string) {
	if m.opts.Metrics != nil {
		m.opts.Metrics.TranslationErrors.WithLabelValues(stage).Inc()
	}
}
