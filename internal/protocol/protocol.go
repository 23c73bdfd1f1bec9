// Package protocol defines the wire contract between the console client and
// the call server: a JSON envelope discriminated by type, carrying a unique
// messageId, an ISO 8601 timestamp, and a type-specific payload.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client -> server message types.
const (
	TypeCallStart     = "call:start"
	TypeCallEnd       = "call:end"
	TypeUIInteraction = "ui:interaction"
)

// Server -> client message types.
const (
	TypeConnectionAck     = "connection:ack"
	TypeCallState         = "call:state"
	TypeLanguageDetected  = "language:detected"
	TypeTranscriptSegment = "transcript:segment"
	TypeAudioStatus       = "audio:status"
	TypeInteractionAck    = "ui:interaction:ack"
)

// TimestampFormat is the envelope timestamp layout, millisecond ISO 8601.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// ErrMalformedMessage is the sentinel for envelopes that fail structural or
// payload validation. Malformed envelopes are dropped, never fatal.
var ErrMalformedMessage = errors.New("malformed message")

// DecodeError describes why an envelope was rejected, with field attribution.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s (%s)", e.Reason, e.Field)
}

func (e *DecodeError) Unwrap() error {
	return ErrMalformedMessage
}

func malformed(reason, field string) *DecodeError {
	return &DecodeError{Field: field, Reason: reason}
}

// Speaker identifies one of the two call participants.
type Speaker string

const (
	SpeakerCaller           Speaker = "caller"
	SpeakerTelecommunicator Speaker = "telecommunicator"
)

// Valid reports whether the speaker is one of the two known participants.
func (s Speaker) Valid() bool {
	return s == SpeakerCaller || s == SpeakerTelecommunicator
}

// CallState is the lifecycle state of the simulated call.
type CallState string

const (
	StateIdle       CallState = "idle"
	StateConnecting CallState = "connecting"
	StateActive     CallState = "active"
	StateEnded      CallState = "ended"
)

// Valid reports whether the state is a known call state.
func (s CallState) Valid() bool {
	switch s {
	case StateIdle, StateConnecting, StateActive, StateEnded:
		return true
	}
	return false
}

// CarriesCallID reports whether the state carries a call identifier on the
// wire. Only active and ended do; idle and connecting are id-free.
func (s CallState) CarriesCallID() bool {
	return s == StateActive || s == StateEnded
}

// ChannelState is the status of one audio channel.
type ChannelState string

const (
	ChannelStreaming    ChannelState = "streaming"
	ChannelMuted        ChannelState = "muted"
	ChannelDisconnected ChannelState = "disconnected"
)

// Valid reports whether the channel state is known.
func (s ChannelState) Valid() bool {
	switch s {
	case ChannelStreaming, ChannelMuted, ChannelDisconnected:
		return true
	}
	return false
}

// ConnectionAck is the first server message on a new connection.
type ConnectionAck struct {
	SessionID string `json:"sessionId"`
}

// CallStateData announces a call state transition. CallID is present only
// for active and ended; Timestamp is server wall clock in unix milliseconds.
type CallStateData struct {
	State     CallState `json:"state"`
	Timestamp int64     `json:"timestamp"`
	CallID    string    `json:"callId,omitempty"`
}

// LanguageDetection reports the detected language for one speaker. A later
// detection for the same speaker supersedes the earlier one.
type LanguageDetection struct {
	Speaker      Speaker `json:"speaker"`
	LanguageCode string  `json:"languageCode"`
	LanguageName string  `json:"languageName"`
	Confidence   float64 `json:"confidence"`
}

// TranscriptSegment is one line of the live transcript. StartTime and
// EndTime are call-relative seconds; EndTime is set only on final segments.
type TranscriptSegment struct {
	SegmentID string   `json:"segmentId"`
	Speaker   Speaker  `json:"speaker"`
	Text      string   `json:"text"`
	Timestamp int64    `json:"timestamp"`
	StartTime float64  `json:"startTime"`
	EndTime   *float64 `json:"endTime,omitempty"`
	IsFinal   bool     `json:"isFinal"`
}

// ChannelStatus is the state of one audio channel. Level is 0-100 and only
// meaningful while streaming.
type ChannelStatus struct {
	Status ChannelState `json:"status"`
	Level  *int         `json:"level,omitempty"`
}

// AudioStatus is a snapshot of both audio channels.
type AudioStatus struct {
	Caller           ChannelStatus `json:"caller"`
	Telecommunicator ChannelStatus `json:"telecommunicator"`
}

// InteractionAck acknowledges a ui:interaction event. The token means
// "received", not "durably recorded".
type InteractionAck struct {
	InteractionID string `json:"interactionId"`
}

// UIInteraction is a fire-and-forget telemetry event from the client UI.
type UIInteraction struct {
	Component string         `json:"component"`
	Action    string         `json:"action"`
	Timestamp int64          `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Envelope is the uniform outer wire structure, both directions.
type Envelope struct {
	Type      string          `json:"type"`
	MessageID string          `json:"messageId"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Base carries the validated envelope fields common to every decoded message.
type Base struct {
	Type      string
	MessageID string
	Timestamp time.Time
}

// Decoded message variants. Decode returns exactly one of these.
type (
	CallStartMessage struct{ Base }
	CallEndMessage   struct{ Base }

	UIInteractionMessage struct {
		Base
		Payload UIInteraction
	}

	ConnectionAckMessage struct {
		Base
		Payload ConnectionAck
	}

	CallStateMessage struct {
		Base
		Payload CallStateData
	}

	LanguageDetectedMessage struct {
		Base
		Payload LanguageDetection
	}

	TranscriptSegmentMessage struct {
		Base
		Payload TranscriptSegment
	}

	AudioStatusMessage struct {
		Base
		Payload AudioStatus
	}

	InteractionAckMessage struct {
		Base
		Payload InteractionAck
	}

	// UnknownMessage carries a structurally valid envelope whose type is not
	// part of this contract. The payload stays opaque so unknown event-sink
	// traffic survives decoding.
	UnknownMessage struct {
		Base
		Payload json.RawMessage
	}
)

// NewEnvelope builds an envelope of the given type, stamping a fresh UUID
// messageId and the current timestamp. A nil payload produces a payload-free
// envelope (call:start, call:end).
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	env := Envelope{
		Type:      msgType,
		MessageID: uuid.NewString(),
		Timestamp: time.Now().UTC().Format(TimestampFormat),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// Encode serializes an envelope to a JSON text frame.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses and validates a wire frame. It fails closed with an error
// wrapping ErrMalformedMessage when the envelope is missing type, messageId,
// or timestamp, or when a known type's payload is absent or inconsistent.
// Unknown types decode to UnknownMessage with the payload kept opaque.
func Decode(data []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, malformed("invalid json frame", "")
	}

	base, err := validateBase(env)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeCallStart:
		return CallStartMessage{Base: base}, nil
	case TypeCallEnd:
		return CallEndMessage{Base: base}, nil

	case TypeUIInteraction:
		var p UIInteraction
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Component) == "" {
			return nil, malformed("interaction component is required", "payload.component")
		}
		if strings.TrimSpace(p.Action) == "" {
			return nil, malformed("interaction action is required", "payload.action")
		}
		return UIInteractionMessage{Base: base, Payload: p}, nil

	case TypeConnectionAck:
		var p ConnectionAck
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.SessionID) == "" {
			return nil, malformed("sessionId is required", "payload.sessionId")
		}
		return ConnectionAckMessage{Base: base, Payload: p}, nil

	case TypeCallState:
		var p CallStateData
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if !p.State.Valid() {
			return nil, malformed("unknown call state", "payload.state")
		}
		if p.State.CarriesCallID() && p.CallID == "" {
			return nil, malformed("callId is required for active/ended", "payload.callId")
		}
		if !p.State.CarriesCallID() && p.CallID != "" {
			return nil, malformed("callId is forbidden for idle/connecting", "payload.callId")
		}
		return CallStateMessage{Base: base, Payload: p}, nil

	case TypeLanguageDetected:
		var p LanguageDetection
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if !p.Speaker.Valid() {
			return nil, malformed("unknown speaker", "payload.speaker")
		}
		if p.Confidence < 0 || p.Confidence > 1 {
			return nil, malformed("confidence must be in [0,1]", "payload.confidence")
		}
		return LanguageDetectedMessage{Base: base, Payload: p}, nil

	case TypeTranscriptSegment:
		var p TranscriptSegment
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.SegmentID) == "" {
			return nil, malformed("segmentId is required", "payload.segmentId")
		}
		if !p.Speaker.Valid() {
			return nil, malformed("unknown speaker", "payload.speaker")
		}
		if p.StartTime < 0 {
			return nil, malformed("startTime must be >= 0", "payload.startTime")
		}
		if p.EndTime != nil && *p.EndTime < p.StartTime {
			return nil, malformed("endTime must be >= startTime", "payload.endTime")
		}
		if p.EndTime != nil && !p.IsFinal {
			return nil, malformed("endTime is only set on final segments", "payload.endTime")
		}
		return TranscriptSegmentMessage{Base: base, Payload: p}, nil

	case TypeAudioStatus:
		var p AudioStatus
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if err := validateChannel(p.Caller, "payload.caller"); err != nil {
			return nil, err
		}
		if err := validateChannel(p.Telecommunicator, "payload.telecommunicator"); err != nil {
			return nil, err
		}
		return AudioStatusMessage{Base: base, Payload: p}, nil

	case TypeInteractionAck:
		var p InteractionAck
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.InteractionID) == "" {
			return nil, malformed("interactionId is required", "payload.interactionId")
		}
		return InteractionAckMessage{Base: base, Payload: p}, nil

	default:
		return UnknownMessage{Base: base, Payload: env.Payload}, nil
	}
}

func validateBase(env Envelope) (Base, error) {
	if strings.TrimSpace(env.Type) == "" {
		return Base{}, malformed("missing type", "type")
	}
	if strings.TrimSpace(env.MessageID) == "" {
		return Base{}, malformed("missing messageId", "messageId")
	}
	if strings.TrimSpace(env.Timestamp) == "" {
		return Base{}, malformed("missing timestamp", "timestamp")
	}
	ts, err := time.Parse(time.RFC3339Nano, env.Timestamp)
	if err != nil {
		return Base{}, malformed("timestamp is not ISO 8601", "timestamp")
	}
	return Base{Type: env.Type, MessageID: env.MessageID, Timestamp: ts}, nil
}

func unmarshalPayload(env Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return malformed("missing payload", "payload")
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return malformed("invalid payload for "+env.Type, "payload")
	}
	return nil
}

func validateChannel(c ChannelStatus, field string) error {
	if !c.Status.Valid() {
		return malformed("unknown channel status", field+".status")
	}
	if c.Level != nil {
		if c.Status != ChannelStreaming {
			return malformed("level is only meaningful while streaming", field+".level")
		}
		if *c.Level < 0 || *c.Level > 100 {
			return malformed("level must be in [0,100]", field+".level")
		}
	}
	return nil
}
