package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"

	"emergency-call-console/internal/client"
	"emergency-call-console/internal/protocol"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "console server WebSocket URL")
	watch := flag.Duration("watch", 30*time.Second, "how long to follow the call before hanging up")
	flag.Parse()

	c := client.New(*url, 3*time.Second, zerolog.New(os.Stderr).Level(zerolog.WarnLevel))
	defer c.Close()
	c.Start()

	if !waitFor(10*time.Second, c.Store().Connected) {
		log.Fatalf("could not connect to %s", *url)
	}
	log.Printf("Connected, session=%s", c.Store().SessionID())

	if err := c.SendCallStart(); err != nil {
		log.Fatalf("failed to start call: %v", err)
	}

	deadline := time.Now().Add(*watch)
	var printed int
	for time.Now().Before(deadline) {
		time.Sleep(250 * time.Millisecond)

		state, callID := c.Store().CallState()
		segments := c.Store().Transcript()
		for ; printed < len(segments); printed++ {
			seg := segments[printed]
			marker := " "
			if !seg.IsFinal {
				marker = "~"
			}
			fmt.Printf("%s [%s] %s\n", marker, seg.Speaker, seg.Text)
		}
		// Interims get replaced in place, so re-sync on shrink.
		if printed > len(segments) {
			printed = len(segments)
		}

		if state == protocol.StateIdle && callID == "" && printed > 0 {
			break
		}
	}

	if err := c.SendInteraction("console-client", "demo-complete", nil); err != nil {
		log.Printf("interaction not sent: %v", err)
	}

	if state, _ := c.Store().CallState(); state == protocol.StateActive || state == protocol.StateConnecting {
		if err := c.SendCallEnd(); err != nil {
			log.Printf("failed to end call: %v", err)
		}
		waitFor(5*time.Second, func() bool {
			state, _ := c.Store().CallState()
			return state == protocol.StateIdle
		})
	}

	for _, speaker := range []protocol.Speaker{protocol.SpeakerCaller, protocol.SpeakerTelecommunicator} {
		if det, ok := c.Store().Language(speaker); ok {
			log.Printf("Detected %s: %s (%.0f%%)", speaker, det.LanguageName, det.Confidence*100)
		}
	}
	log.Println("Done")
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}
