package transcript

import (
	"fmt"
	"testing"

	"emergency-call-console/internal/protocol"
)

func seg(id string, speaker protocol.Speaker, text string, final bool) protocol.TranscriptSegment {
	return protocol.TranscriptSegment{
		SegmentID: id,
		Speaker:   speaker,
		Text:      text,
		IsFinal:   final,
	}
}

func TestApply_InterimReplacedByGrowingInterimThenFinal(t *testing.T) {
	var log Log
	log = log.Apply(seg("s1", protocol.SpeakerCaller, "a", false))
	log = log.Apply(seg("s2", protocol.SpeakerCaller, "ab", false))
	log = log.Apply(seg("s3", protocol.SpeakerCaller, "abc", true))

	got := log.Segments()
	if len(got) != 1 {
		t.Fatalf("expected exactly one entry, got %d", len(got))
	}
	if got[0].Text != "abc" || !got[0].IsFinal {
		t.Errorf("expected final 'abc', got %+v", got[0])
	}
}

func TestApply_FinalsAccumulate(t *testing.T) {
	var log Log
	log = log.Apply(seg("s1", protocol.SpeakerTelecommunicator, "911, what is your emergency?", true))
	log = log.Apply(seg("s2", protocol.SpeakerTelecommunicator, "What is your address?", true))
	log = log.Apply(seg("s3", protocol.SpeakerTelecommunicator, "Help is on the way.", true))

	if log.Len() != 3 {
		t.Fatalf("expected 3 finals retained, got %d", log.Len())
	}
	for i, want := range []string{"s1", "s2", "s3"} {
		if log.Segments()[i].SegmentID != want {
			t.Errorf("entry %d: expected %s, got %s", i, want, log.Segments()[i].SegmentID)
		}
	}
}

func TestApply_SpeakersTrackedIndependently(t *testing.T) {
	var log Log
	log = log.Apply(seg("c1", protocol.SpeakerCaller, "Ayuda", false))
	log = log.Apply(seg("t1", protocol.SpeakerTelecommunicator, "One moment", false))
	log = log.Apply(seg("c2", protocol.SpeakerCaller, "Ayuda por favor", false))

	got := log.Segments()
	if len(got) != 2 {
		t.Fatalf("expected 2 live interims, got %d", len(got))
	}
	if _, ok := log.LiveInterim(protocol.SpeakerTelecommunicator); !ok {
		t.Error("telecommunicator interim should survive a caller interim replacement")
	}
	interim, ok := log.LiveInterim(protocol.SpeakerCaller)
	if !ok || interim.SegmentID != "c2" {
		t.Errorf("expected caller interim c2, got %+v", interim)
	}
}

func TestApply_FinalSettlesInterimWithoutDuplicating(t *testing.T) {
	var log Log
	log = log.Apply(seg("f1", protocol.SpeakerCaller, "Hay un incendio", true))
	log = log.Apply(seg("i1", protocol.SpeakerCaller, "En la calle", false))
	log = log.Apply(seg("f2", protocol.SpeakerCaller, "En la Calle Principal 123", true))

	got := log.Segments()
	if len(got) != 2 {
		t.Fatalf("expected 2 finals and no leftover interim, got %d: %+v", len(got), got)
	}
	for i, want := range []string{"f1", "f2"} {
		if got[i].SegmentID != want || !got[i].IsFinal {
			t.Errorf("entry %d: expected final %s, got %+v", i, want, got[i])
		}
	}
	if _, ok := log.LiveInterim(protocol.SpeakerCaller); ok {
		t.Error("interim should be settled by the speaker's final")
	}
}

func TestApply_FinalDoesNotDisturbOtherSpeakerInterim(t *testing.T) {
	var log Log
	log = log.Apply(seg("c1", protocol.SpeakerCaller, "Calle Principal", false))
	log = log.Apply(seg("t1", protocol.SpeakerTelecommunicator, "Confirmed.", true))

	if log.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", log.Len())
	}
	if _, ok := log.LiveInterim(protocol.SpeakerCaller); !ok {
		t.Error("caller interim should survive a telecommunicator final")
	}
}

func TestApply_AtMostOneInterimPerSpeaker(t *testing.T) {
	// Alternate interims and finals for both speakers and check the invariant
	// after every step.
	var log Log
	speakers := []protocol.Speaker{protocol.SpeakerCaller, protocol.SpeakerTelecommunicator}
	for i := 0; i < 40; i++ {
		speaker := speakers[i%2]
		final := i%5 == 4
		log = log.Apply(seg(fmt.Sprintf("s%d", i), speaker, fmt.Sprintf("text %d", i), final))

		for _, sp := range speakers {
			interims := 0
			for _, s := range log.Segments() {
				if s.Speaker == sp && !s.IsFinal {
					interims++
				}
			}
			if interims > 1 {
				t.Fatalf("step %d: speaker %s has %d live interims", i, sp, interims)
			}
		}
	}
}

func TestApply_DoesNotMutateReceiver(t *testing.T) {
	var log Log
	log = log.Apply(seg("s1", protocol.SpeakerCaller, "hola", false))
	before := log.Segments()

	_ = log.Apply(seg("s2", protocol.SpeakerCaller, "hola, ayuda", false))

	after := log.Segments()
	if len(before) != len(after) || before[0].SegmentID != after[0].SegmentID {
		t.Error("Apply must not mutate the receiver log")
	}
}
