// Package call implements the per-connection call session: the lifecycle
// state machine (idle -> connecting -> active -> ended -> idle), the timer
// set that replays the scripted conversation, and the cancellation rules
// that keep stale timers inert after a call ends.
package call

import (
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"emergency-call-console/internal/config"
	"emergency-call-console/internal/observability/metrics"
	"emergency-call-console/internal/protocol"
	"emergency-call-console/internal/service/script"
)

// No-op transition errors. These are informational, not failures: the
// dispatcher logs them and moves on.
var (
	ErrCallAlreadyActive = errors.New("call already active")
	ErrNoActiveCall      = errors.New("no active call to end")
	ErrSessionClosed     = errors.New("session is closed")
)

// SendFunc delivers one envelope to the session's connection. Envelopes
// passed to successive calls must reach the peer in call order.
type SendFunc func(protocol.Envelope) error

// Session owns the call lifecycle for one connection. All state, timers,
// and emissions are guarded by one mutex; nothing is shared across sessions.
//
// Every scheduled callback captures the session epoch at schedule time and
// re-checks it under the mutex at fire time. Ending a call (or closing the
// session) bumps the epoch and stops all timers while holding the mutex, so
// once EndCall or Close returns, no stale emission can be observed.
type Session struct {
	id      string
	send    SendFunc
	timing  config.CallConfig
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	state       protocol.CallState
	callID      string
	epoch       uint64
	timers      []*time.Timer
	audioTimer  *time.Timer
	closed      bool
	startedAt   time.Time
	activatedAt time.Time
}

// NewSession creates an idle session for one connection.
func NewSession(id string, send SendFunc, timing config.CallConfig, logger zerolog.Logger) *Session {
	return &Session{
		id:      id,
		send:    send,
		timing:  timing,
		log:     logger,
		metrics: metrics.DefaultMetrics,
		state:   protocol.StateIdle,
	}
}

// ID returns the session identifier assigned at connect.
func (s *Session) ID() string {
	return s.id
}

// State returns the current call state and call identifier (empty unless a
// call is underway).
func (s *Session) State() (protocol.CallState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.callID
}

// AnnounceIdle emits the initial idle state for a fresh connection.
func (s *Session) AnnounceIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitStateLocked()
}

// StartCall handles call:start. Starting while a call is underway is an
// idempotent no-op reported as ErrCallAlreadyActive.
func (s *Session) StartCall() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.state != protocol.StateIdle {
		s.metrics.RecordNoOpCommand("call:start")
		return ErrCallAlreadyActive
	}

	s.state = protocol.StateConnecting
	s.callID = uuid.NewString()
	s.startedAt = time.Now()
	s.metrics.RecordCallStarted()
	s.log.Info().Str("callId", s.callID).Msg("call connecting")

	s.emitStateLocked()

	epoch := s.epoch
	s.scheduleLocked(s.timing.ConnectDelay, func() {
		s.activate(epoch)
	})
	return nil
}

// EndCall handles call:end. It cancels every pending timer synchronously
// with the transition: after EndCall returns, no scheduled emission for the
// ended call can fire. Ending with no call underway is a no-op reported as
// ErrNoActiveCall.
func (s *Session) EndCall() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.state != protocol.StateActive && s.state != protocol.StateConnecting {
		s.metrics.RecordNoOpCommand("call:end")
		return ErrNoActiveCall
	}

	s.cancelTimersLocked()
	s.state = protocol.StateEnded
	s.metrics.RecordCallEnded(time.Since(s.startedAt).Seconds())
	s.log.Info().Str("callId", s.callID).Msg("call ended")

	s.emitStateLocked()

	epoch := s.epoch
	s.scheduleLocked(s.timing.EndedToIdleDelay, func() {
		s.returnToIdle(epoch)
	})
	return nil
}

// Close destroys the session: all pending timers are cancelled and no
// further emission will fire. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.cancelTimersLocked()
}

// activate fires after the connect delay: assigns the call its wire-visible
// active state and schedules the whole playback.
func (s *Session) activate(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staleLocked(epoch) || s.state != protocol.StateConnecting {
		return
	}

	s.state = protocol.StateActive
	s.activatedAt = time.Now()
	s.log.Info().Str("callId", s.callID).Msg("call active")

	s.emitStateLocked()

	for _, d := range script.Detections(s.timing.CallerDetectDelay, s.timing.TelecomDetectDelay) {
		det := d
		s.scheduleLocked(det.Delay, func() {
			s.emitDetection(epoch, det)
		})
	}

	s.emitAudioStatusLocked(75, 80)

	activatedAt := s.activatedAt
	for _, e := range script.Conversation() {
		entry := e
		s.scheduleLocked(entry.Delay, func() {
			s.emitSegment(epoch, entry, activatedAt)
		})
	}

	// The ticker reuses one timer for the whole call; the per-emission
	// timers slice holds only the finite playback schedule.
	s.audioTimer = time.AfterFunc(s.timing.AudioStatusInterval, func() {
		s.audioTick(epoch)
	})
	s.metrics.RecordTimerScheduled()
}

// returnToIdle fires after the ended delay.
func (s *Session) returnToIdle(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staleLocked(epoch) || s.state != protocol.StateEnded {
		return
	}

	s.state = protocol.StateIdle
	s.callID = ""
	s.emitStateLocked()
}

func (s *Session) emitDetection(epoch uint64, det script.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staleLocked(epoch) || s.state != protocol.StateActive {
		return
	}

	s.emitLocked(protocol.TypeLanguageDetected, protocol.LanguageDetection{
		Speaker:      det.Speaker,
		LanguageCode: det.Code,
		LanguageName: det.Name,
		Confidence:   det.Confidence,
	})
}

func (s *Session) emitSegment(epoch uint64, entry script.Entry, activatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Checked at fire time, not just schedule time: a call:end racing this
	// timer must win.
	if s.staleLocked(epoch) || s.state != protocol.StateActive {
		return
	}

	seg := protocol.TranscriptSegment{
		SegmentID: uuid.NewString(),
		Speaker:   entry.Speaker,
		Text:      entry.Text,
		Timestamp: activatedAt.Add(entry.Delay).UnixMilli(),
		StartTime: entry.Start.Seconds(),
		IsFinal:   entry.IsFinal,
	}
	if entry.IsFinal {
		end := entry.End.Seconds()
		seg.EndTime = &end
	}
	s.emitLocked(protocol.TypeTranscriptSegment, seg)
}

// audioTick reschedules itself while the call stays active, simulating live
// channel levels.
func (s *Session) audioTick(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staleLocked(epoch) || s.state != protocol.StateActive {
		return
	}

	s.emitAudioStatusLocked(60+rand.IntN(31), 60+rand.IntN(31))

	s.audioTimer.Reset(s.timing.AudioStatusInterval)
}

func (s *Session) emitAudioStatusLocked(callerLevel, telecomLevel int) {
	s.emitLocked(protocol.TypeAudioStatus, protocol.AudioStatus{
		Caller:           protocol.ChannelStatus{Status: protocol.ChannelStreaming, Level: &callerLevel},
		Telecommunicator: protocol.ChannelStatus{Status: protocol.ChannelStreaming, Level: &telecomLevel},
	})
}

func (s *Session) emitStateLocked() {
	data := protocol.CallStateData{
		State:     s.state,
		Timestamp: time.Now().UnixMilli(),
	}
	if s.state.CarriesCallID() {
		data.CallID = s.callID
	}
	s.emitLocked(protocol.TypeCallState, data)
}

func (s *Session) emitLocked(msgType string, payload any) {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		s.log.Error().Err(err).Str("type", msgType).Msg("failed to build envelope")
		return
	}
	if err := s.send(env); err != nil {
		s.log.Warn().Err(err).Str("type", msgType).Msg("failed to send envelope")
		return
	}
	s.metrics.RecordEnvelopeSent(msgType)
}

// scheduleLocked registers a timer under the current epoch. Callers must
// hold the mutex.
func (s *Session) scheduleLocked(d time.Duration, fn func()) {
	s.timers = append(s.timers, time.AfterFunc(d, fn))
	s.metrics.RecordTimerScheduled()
}

// cancelTimersLocked stops every pending timer and bumps the epoch so that
// any timer that already fired and is waiting on the mutex becomes inert.
func (s *Session) cancelTimersLocked() {
	stopped := 0
	for _, t := range s.timers {
		if t.Stop() {
			stopped++
		}
	}
	s.timers = nil
	if s.audioTimer != nil {
		if s.audioTimer.Stop() {
			stopped++
		}
		s.audioTimer = nil
	}
	s.epoch++
	s.metrics.RecordTimersCancelled(stopped)
}

func (s *Session) staleLocked(epoch uint64) bool {
	if s.closed || epoch != s.epoch {
		s.metrics.RecordStaleFireSuppressed()
		return true
	}
	return false
}
