package script

import (
	"testing"

	"emergency-call-console/internal/protocol"
)

func TestConversation_OrderedAndWellFormed(t *testing.T) {
	conv := Conversation()
	if len(conv) == 0 {
		t.Fatal("expected a non-empty conversation")
	}

	var prevDelay, prevStart int64
	for i, e := range conv {
		if e.Delay.Milliseconds() < prevDelay {
			t.Errorf("entry %d: delay %v before previous %vms", i, e.Delay, prevDelay)
		}
		if e.Start.Milliseconds() < prevStart {
			t.Errorf("entry %d: start %v regresses below %vms", i, e.Start, prevStart)
		}
		if !e.Speaker.Valid() {
			t.Errorf("entry %d: invalid speaker %q", i, e.Speaker)
		}
		if e.Text == "" {
			t.Errorf("entry %d: empty text", i)
		}
		if e.IsFinal && e.End < e.Start {
			t.Errorf("entry %d: end %v before start %v", i, e.End, e.Start)
		}
		if !e.IsFinal && e.End != 0 {
			t.Errorf("entry %d: interim entry carries an end time", i)
		}
		prevDelay = e.Delay.Milliseconds()
		prevStart = e.Start.Milliseconds()
	}
}

func TestConversation_EveryInterimIsFinalized(t *testing.T) {
	conv := Conversation()
	for i, e := range conv {
		if e.IsFinal {
			continue
		}
		finalized := false
		for _, later := range conv[i+1:] {
			if later.Speaker == e.Speaker && later.IsFinal && later.Start == e.Start {
				finalized = true
				break
			}
		}
		if !finalized {
			t.Errorf("entry %d (%q) is never finalized", i, e.Text)
		}
	}
}

func TestDetections_OnePerSpeaker(t *testing.T) {
	dets := Detections(1500000000, 2000000000)
	if len(dets) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(dets))
	}
	if dets[0].Speaker != protocol.SpeakerCaller || dets[0].Code != "es" {
		t.Errorf("expected caller Spanish first, got %+v", dets[0])
	}
	if dets[1].Speaker != protocol.SpeakerTelecommunicator || dets[1].Code != "en" {
		t.Errorf("expected telecommunicator English second, got %+v", dets[1])
	}
	for _, d := range dets {
		if d.Confidence < 0 || d.Confidence > 1 {
			t.Errorf("confidence %v out of range", d.Confidence)
		}
	}
}

func TestDuration_CoversLastEntry(t *testing.T) {
	conv := Conversation()
	if Duration() <= conv[len(conv)-1].Delay {
		t.Errorf("duration %v does not cover the last entry at %v", Duration(), conv[len(conv)-1].Delay)
	}
}
