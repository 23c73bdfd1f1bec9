// Package script holds the fixed playback script for the simulated
// emergency call: a Spanish-speaking caller reporting a house fire to an
// English-speaking telecommunicator.
package script

import (
	"time"

	"emergency-call-console/internal/protocol"
)

// Entry is one scheduled transcript emission: Delay is measured from call
// activation; Start and End are the call-relative utterance bounds carried
// on the wire (End only for finals).
type Entry struct {
	Delay   time.Duration
	Speaker protocol.Speaker
	Text    string
	IsFinal bool
	Start   time.Duration
	End     time.Duration // zero on interim entries
}

// Detection is a scheduled one-shot language detection emission.
type Detection struct {
	Delay      time.Duration
	Speaker    protocol.Speaker
	Code       string
	Name       string
	Confidence float64
}

// Conversation is the ordered transcript playback schedule. Interim caller
// lines are finalized by a later entry sharing the same utterance start, so
// call-relative start times are non-decreasing over the whole sequence.
func Conversation() []Entry {
	return []Entry{
		{Delay: 500 * time.Millisecond, Speaker: protocol.SpeakerTelecommunicator,
			Text: "911, what is your emergency?", IsFinal: true,
			Start: 0, End: 500 * time.Millisecond},
		{Delay: 2000 * time.Millisecond, Speaker: protocol.SpeakerCaller,
			Text: "Ayuda por favor", IsFinal: false,
			Start: 1500 * time.Millisecond},
		{Delay: 2500 * time.Millisecond, Speaker: protocol.SpeakerCaller,
			Text: "Ayuda por favor, hay un incendio en mi casa!", IsFinal: true,
			Start: 1500 * time.Millisecond, End: 2500 * time.Millisecond},
		{Delay: 4000 * time.Millisecond, Speaker: protocol.SpeakerTelecommunicator,
			Text: "I understand. Fire department is being dispatched. What is your address?", IsFinal: true,
			Start: 3000 * time.Millisecond, End: 4000 * time.Millisecond},
		{Delay: 6000 * time.Millisecond, Speaker: protocol.SpeakerCaller,
			Text: "Calle Principal 123, cerca del parque", IsFinal: false,
			Start: 5500 * time.Millisecond},
		{Delay: 6500 * time.Millisecond, Speaker: protocol.SpeakerCaller,
			Text: "Calle Principal 123, cerca del parque central", IsFinal: true,
			Start: 5500 * time.Millisecond, End: 6500 * time.Millisecond},
		{Delay: 8000 * time.Millisecond, Speaker: protocol.SpeakerTelecommunicator,
			Text: "Confirmed, 123 Main Street near the central park. Is everyone out of the building?", IsFinal: true,
			Start: 7000 * time.Millisecond, End: 8000 * time.Millisecond},
		{Delay: 10000 * time.Millisecond, Speaker: protocol.SpeakerCaller,
			Text: "Si, todos estamos afuera", IsFinal: false,
			Start: 9500 * time.Millisecond},
		{Delay: 10500 * time.Millisecond, Speaker: protocol.SpeakerCaller,
			Text: "Si, todos estamos afuera y seguros", IsFinal: true,
			Start: 9500 * time.Millisecond, End: 10500 * time.Millisecond},
		{Delay: 12000 * time.Millisecond, Speaker: protocol.SpeakerTelecommunicator,
			Text: "Good. Stay away from the building. Fire department is on the way, ETA 4 minutes.", IsFinal: true,
			Start: 11000 * time.Millisecond, End: 12000 * time.Millisecond},
		{Delay: 14000 * time.Millisecond, Speaker: protocol.SpeakerCaller,
			Text: "Gracias, muchas gracias", IsFinal: true,
			Start: 13000 * time.Millisecond, End: 14000 * time.Millisecond},
	}
}

// Detections are the one-shot language detections emitted after activation.
func Detections(callerDelay, telecomDelay time.Duration) []Detection {
	return []Detection{
		{Delay: callerDelay, Speaker: protocol.SpeakerCaller,
			Code: "es", Name: "Spanish", Confidence: 0.92},
		{Delay: telecomDelay, Speaker: protocol.SpeakerTelecommunicator,
			Code: "en", Name: "English", Confidence: 0.98},
	}
}

// Duration is the full playback length including a trailing buffer.
func Duration() time.Duration {
	conv := Conversation()
	return conv[len(conv)-1].Delay + 2*time.Second
}
