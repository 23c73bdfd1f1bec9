package client

import (
	"sync"

	"emergency-call-console/internal/protocol"
	"emergency-call-console/internal/transcript"
)

// maxNotifications bounds the retained notification history.
const maxNotifications = 16

// Notification is a transient operator-facing message (connectivity loss,
// restoration).
type Notification struct {
	Message string
	Kind    string // info, success, warning, error
}

// Store holds the client-side view of the session: connection status, call
// state, language detections, the reconciled transcript, and audio status.
// It is derived entirely from the server stream and rebuilt from scratch on
// every reconnect.
type Store struct {
	mu sync.RWMutex

	connected     bool
	sessionID     string
	callState     protocol.CallState
	callID        string
	callStartedAt int64

	languages  map[protocol.Speaker]protocol.LanguageDetection
	transcript transcript.Log
	audio      *protocol.AudioStatus

	notices []Notification
}

// NewStore returns an empty store in the idle state.
func NewStore() *Store {
	return &Store{
		callState: protocol.StateIdle,
		languages: make(map[protocol.Speaker]protocol.LanguageDetection),
	}
}

// BeginSession discards all prior session and call state and starts over
// from a fresh connection:ack.
func (s *Store) BeginSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.sessionID = sessionID
	s.callState = protocol.StateIdle
	s.callID = ""
	s.callStartedAt = 0
	s.languages = make(map[protocol.Speaker]protocol.LanguageDetection)
	s.transcript = transcript.Log{}
	s.audio = nil
}

// MarkDisconnected records connectivity loss. Stale call state must not
// survive into the next connection, so the call view resets immediately.
func (s *Store) MarkDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.sessionID = ""
	s.callState = protocol.StateIdle
	s.callID = ""
	s.callStartedAt = 0
}

// ApplyCallState updates the call view from a call:state payload. Entering
// connecting clears the previous call's transcript, detections, and audio.
func (s *Store) ApplyCallState(data protocol.CallStateData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data.State == protocol.StateConnecting {
		s.languages = make(map[protocol.Speaker]protocol.LanguageDetection)
		s.transcript = transcript.Log{}
		s.audio = nil
	}

	s.callState = data.State
	s.callID = data.CallID
	if data.State == protocol.StateActive {
		s.callStartedAt = data.Timestamp
	}
	if data.State == protocol.StateIdle {
		s.callStartedAt = 0
	}
}

// ApplyDetection stores the latest detection per speaker; later detections
// supersede earlier ones, no history kept.
func (s *Store) ApplyDetection(det protocol.LanguageDetection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.languages[det.Speaker] = det
}

// ApplyTranscript merges one segment through the reconciler.
func (s *Store) ApplyTranscript(seg protocol.TranscriptSegment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = s.transcript.Apply(seg)
}

// SetAudioStatus stores the latest audio snapshot.
func (s *Store) SetAudioStatus(status protocol.AudioStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = &status
}

// Notify appends a transient notification.
func (s *Store) Notify(message, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, Notification{Message: message, Kind: kind})
	if len(s.notices) > maxNotifications {
		s.notices = s.notices[len(s.notices)-maxNotifications:]
	}
}

// Connected reports whether the connection is currently open and acked.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// SessionID returns the session id from the current connection:ack.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// CallState returns the current call state and identifier.
func (s *Store) CallState() (protocol.CallState, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callState, s.callID
}

// CallStartedAt returns the unix-ms activation timestamp of the current
// call, zero when no call is active.
func (s *Store) CallStartedAt() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callStartedAt
}

// Language returns the live detection for a speaker, if any.
func (s *Store) Language(speaker protocol.Speaker) (protocol.LanguageDetection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	det, ok := s.languages[speaker]
	return det, ok
}

// Transcript returns the reconciled transcript log.
func (s *Store) Transcript() []protocol.TranscriptSegment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcript.Segments()
}

// AudioStatus returns the latest audio snapshot, if any.
func (s *Store) AudioStatus() (protocol.AudioStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.audio == nil {
		return protocol.AudioStatus{}, false
	}
	return *s.audio, true
}

// Notifications returns the retained notification history.
func (s *Store) Notifications() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Notification, len(s.notices))
	copy(out, s.notices)
	return out
}
