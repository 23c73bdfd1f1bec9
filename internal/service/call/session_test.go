package call

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"emergency-call-console/internal/config"
	"emergency-call-console/internal/protocol"
)

type collector struct {
	mu   sync.Mutex
	envs []protocol.Envelope
}

func (c *collector) send(env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
	return nil
}

func (c *collector) snapshot() []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Envelope, len(c.envs))
	copy(out, c.envs)
	return out
}

func (c *collector) states(t *testing.T) []protocol.CallStateData {
	t.Helper()
	var out []protocol.CallStateData
	for _, env := range c.snapshot() {
		if env.Type != protocol.TypeCallState {
			continue
		}
		var data protocol.CallStateData
		if err := json.Unmarshal(env.Payload, &data); err != nil {
			t.Fatalf("bad call:state payload: %v", err)
		}
		out = append(out, data)
	}
	return out
}

func (c *collector) countType(msgType string) int {
	n := 0
	for _, env := range c.snapshot() {
		if env.Type == msgType {
			n++
		}
	}
	return n
}

func testTiming() config.CallConfig {
	return config.CallConfig{
		ConnectDelay:        20 * time.Millisecond,
		EndedToIdleDelay:    20 * time.Millisecond,
		AudioStatusInterval: 10 * time.Millisecond,
		CallerDetectDelay:   15 * time.Millisecond,
		TelecomDetectDelay:  25 * time.Millisecond,
	}
}

func newTestSession(c *collector) *Session {
	return NewSession("sess-1", c.send, testTiming(), zerolog.Nop())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func currentState(s *Session) protocol.CallState {
	state, _ := s.State()
	return state
}

func TestStartCall_ConnectingThenActiveWithCallID(t *testing.T) {
	c := &collector{}
	s := newTestSession(c)
	defer s.Close()

	if err := s.StartCall(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	states := c.states(t)
	if len(states) != 1 || states[0].State != protocol.StateConnecting {
		t.Fatalf("expected immediate connecting state, got %+v", states)
	}
	if states[0].CallID != "" {
		t.Error("connecting must not carry a callId on the wire")
	}

	waitFor(t, time.Second, func() bool { return currentState(s) == protocol.StateActive })

	states = c.states(t)
	last := states[len(states)-1]
	if last.State != protocol.StateActive {
		t.Fatalf("expected active state, got %+v", last)
	}
	if last.CallID == "" {
		t.Error("active must carry a callId")
	}
}

func TestEndCall_EndedCarriesActiveCallIDThenIdle(t *testing.T) {
	c := &collector{}
	s := newTestSession(c)
	defer s.Close()

	if err := s.StartCall(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, time.Second, func() bool { return currentState(s) == protocol.StateActive })
	_, activeID := s.State()

	if err := s.EndCall(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	states := c.states(t)
	ended := states[len(states)-1]
	if ended.State != protocol.StateEnded {
		t.Fatalf("expected ended state, got %+v", ended)
	}
	if ended.CallID != activeID {
		t.Errorf("ended callId %q must equal active callId %q", ended.CallID, activeID)
	}

	waitFor(t, time.Second, func() bool { return currentState(s) == protocol.StateIdle })

	states = c.states(t)
	idle := states[len(states)-1]
	if idle.State != protocol.StateIdle {
		t.Fatalf("expected idle state, got %+v", idle)
	}
	if idle.CallID != "" {
		t.Error("idle must not carry a callId")
	}
}

func TestStartCall_WhileUnderwayIsNoOp(t *testing.T) {
	c := &collector{}
	s := newTestSession(c)
	defer s.Close()

	if err := s.StartCall(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := len(c.snapshot())

	if err := s.StartCall(); !errors.Is(err, ErrCallAlreadyActive) {
		t.Errorf("expected ErrCallAlreadyActive, got %v", err)
	}
	if got := len(c.snapshot()); got != before {
		t.Errorf("duplicate start must not emit: had %d envelopes, now %d", before, got)
	}

	waitFor(t, time.Second, func() bool { return currentState(s) == protocol.StateActive })
	if err := s.StartCall(); !errors.Is(err, ErrCallAlreadyActive) {
		t.Errorf("expected ErrCallAlreadyActive while active, got %v", err)
	}
}

func TestEndCall_WithNoCallIsNoOp(t *testing.T) {
	c := &collector{}
	s := newTestSession(c)
	defer s.Close()

	if err := s.EndCall(); !errors.Is(err, ErrNoActiveCall) {
		t.Errorf("expected ErrNoActiveCall, got %v", err)
	}
	if got := len(c.snapshot()); got != 0 {
		t.Errorf("spurious end must not emit, got %d envelopes", got)
	}
}

func TestEndCall_CancelsPendingEmissions(t *testing.T) {
	c := &collector{}
	s := newTestSession(c)
	defer s.Close()

	if err := s.StartCall(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, time.Second, func() bool { return currentState(s) == protocol.StateActive })

	if err := s.EndCall(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	atEnd := len(c.snapshot())

	// The first scripted segment is due 500ms after activation; give every
	// cancelled timer a chance to have fired if cancellation were broken.
	time.Sleep(700 * time.Millisecond)

	for _, env := range c.snapshot()[atEnd:] {
		switch env.Type {
		case protocol.TypeTranscriptSegment, protocol.TypeAudioStatus, protocol.TypeLanguageDetected:
			t.Errorf("emission of %s observed after call:end completed", env.Type)
		}
	}
}

func TestEndCall_DuringConnecting(t *testing.T) {
	c := &collector{}
	s := newTestSession(c)
	defer s.Close()

	if err := s.StartCall(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.EndCall(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The pending activation must not fire.
	time.Sleep(100 * time.Millisecond)

	for _, st := range c.states(t) {
		if st.State == protocol.StateActive {
			t.Fatal("call ended during connecting must never become active")
		}
	}
	states := c.states(t)
	for _, st := range states {
		if st.State == protocol.StateEnded && st.CallID == "" {
			t.Error("ended must carry the id of the call being ended")
		}
	}
}

func TestSequentialCalls_DistinctCallIDs(t *testing.T) {
	c := &collector{}
	s := newTestSession(c)
	defer s.Close()

	runCall := func() string {
		if err := s.StartCall(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		waitFor(t, time.Second, func() bool { return currentState(s) == protocol.StateActive })
		_, id := s.State()
		if err := s.EndCall(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		waitFor(t, time.Second, func() bool { return currentState(s) == protocol.StateIdle })
		return id
	}

	first := runCall()
	second := runCall()
	if first == "" || second == "" {
		t.Fatal("expected call ids on both calls")
	}
	if first == second {
		t.Errorf("two calls on one session must not share a call id: %s", first)
	}
}

func TestClose_CancelsEverything(t *testing.T) {
	c := &collector{}
	s := newTestSession(c)

	if err := s.StartCall(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Close()
	before := len(c.snapshot())

	time.Sleep(100 * time.Millisecond)

	if got := len(c.snapshot()); got != before {
		t.Errorf("emissions observed after Close: had %d envelopes, now %d", before, got)
	}
	if err := s.StartCall(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestActiveCall_EmitsDetectionsAndAudio(t *testing.T) {
	c := &collector{}
	s := newTestSession(c)
	defer s.Close()

	if err := s.StartCall(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, time.Second, func() bool { return currentState(s) == protocol.StateActive })

	waitFor(t, time.Second, func() bool {
		return c.countType(protocol.TypeLanguageDetected) >= 2
	})
	waitFor(t, time.Second, func() bool {
		// Initial snapshot plus at least one recurring tick.
		return c.countType(protocol.TypeAudioStatus) >= 2
	})

	var speakers []protocol.Speaker
	for _, env := range c.snapshot() {
		if env.Type != protocol.TypeLanguageDetected {
			continue
		}
		var det protocol.LanguageDetection
		if err := json.Unmarshal(env.Payload, &det); err != nil {
			t.Fatalf("bad language:detected payload: %v", err)
		}
		if det.Confidence < 0 || det.Confidence > 1 {
			t.Errorf("confidence %v out of range", det.Confidence)
		}
		speakers = append(speakers, det.Speaker)
	}
	if speakers[0] != protocol.SpeakerCaller {
		t.Errorf("expected caller detection first, got %v", speakers)
	}
}

func TestActiveCall_TranscriptTimelineIsActivationRelative(t *testing.T) {
	c := &collector{}
	s := newTestSession(c)
	defer s.Close()

	before := time.Now().UnixMilli()
	if err := s.StartCall(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, time.Second, func() bool { return currentState(s) == protocol.StateActive })

	waitFor(t, 2*time.Second, func() bool {
		return c.countType(protocol.TypeTranscriptSegment) >= 1
	})

	for _, env := range c.snapshot() {
		if env.Type != protocol.TypeTranscriptSegment {
			continue
		}
		var seg protocol.TranscriptSegment
		if err := json.Unmarshal(env.Payload, &seg); err != nil {
			t.Fatalf("bad transcript:segment payload: %v", err)
		}
		if seg.SegmentID == "" {
			t.Error("expected a generated segmentId")
		}
		if seg.Timestamp < before {
			t.Errorf("segment timestamp %d predates the call", seg.Timestamp)
		}
		if seg.StartTime < 0 {
			t.Errorf("negative startTime %v", seg.StartTime)
		}
		if seg.IsFinal && seg.EndTime == nil {
			t.Error("final segment must carry endTime")
		}
	}
}

func TestAudioTicker_DoesNotGrowTimerSet(t *testing.T) {
	c := &collector{}
	s := newTestSession(c)
	defer s.Close()

	if err := s.StartCall(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, time.Second, func() bool { return currentState(s) == protocol.StateActive })

	s.mu.Lock()
	baseline := len(s.timers)
	s.mu.Unlock()

	// Let the ticker fire many times.
	waitFor(t, time.Second, func() bool {
		return c.countType(protocol.TypeAudioStatus) >= 10
	})

	s.mu.Lock()
	grown := len(s.timers)
	s.mu.Unlock()

	if grown > baseline {
		t.Errorf("timer set grew from %d to %d while the ticker ran", baseline, grown)
	}
}
