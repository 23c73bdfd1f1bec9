// Package events provides the interaction/event sink: an append-only JSONL
// record of client UI interactions and session lifecycle events, with an
// optional Kafka mirror. Append failures go to the operator log and metrics,
// never to the remote peer; acknowledgment means "received", not "durably
// recorded".
package events

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"emergency-call-console/internal/config"
	"emergency-call-console/internal/observability/metrics"
	"emergency-call-console/internal/protocol"
)

// InteractionRecord is one appended UI interaction line.
type InteractionRecord struct {
	SessionID string         `json:"sessionId"`
	Component string         `json:"component"`
	Action    string         `json:"action"`
	Timestamp int64          `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	LoggedAt  string         `json:"loggedAt"`
}

// EventRecord is one appended session lifecycle event line.
type EventRecord struct {
	SessionID string         `json:"sessionId"`
	EventType string         `json:"eventType"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
	LoggedAt  string         `json:"loggedAt"`
}

// Sink appends interaction and lifecycle events. Writes are serialized
// through one mutex, so per-session order is preserved; no total order is
// promised across sessions.
type Sink struct {
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	file *os.File

	writer    *kafka.Writer
	principal string
	enabled   bool
}

// New opens the append-only interaction log and, when enabled, the Kafka
// mirror. With Kafka disabled or no brokers configured the sink runs in
// file-only mode.
func New(cfg config.InteractionsConfig, kcfg config.KafkaConfig, logger zerolog.Logger) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	s := &Sink{
		log:       logger,
		metrics:   metrics.DefaultMetrics,
		file:      file,
		principal: kcfg.Principal,
	}

	if !kcfg.Enabled || len(kcfg.Brokers) == 0 {
		logger.Info().Str("file", cfg.LogFile).Msg("interaction sink in file-only mode")
		return s, nil
	}

	s.enabled = true
	s.writer = &kafka.Writer{
		Addr:         kafka.TCP(kcfg.Brokers...),
		Topic:        kcfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}

	logger.Info().
		Strs("brokers", kcfg.Brokers).
		Str("topic", kcfg.Topic).
		Str("principal", kcfg.Principal).
		Str("file", cfg.LogFile).
		Msg("interaction sink initialized with Kafka mirror")
	return s, nil
}

// LogInteraction appends a UI interaction and returns a fresh acknowledgment
// token. The token is generated regardless of append outcome.
func (s *Sink) LogInteraction(sessionID string, in protocol.UIInteraction) string {
	rec := InteractionRecord{
		SessionID: sessionID,
		Component: in.Component,
		Action:    in.Action,
		Timestamp: in.Timestamp,
		Metadata:  in.Metadata,
		LoggedAt:  time.Now().UTC().Format(protocol.TimestampFormat),
	}
	s.append(sessionID, rec)
	return uuid.NewString()
}

// LogEvent appends a session lifecycle event (connect, disconnect, call
// transitions).
func (s *Sink) LogEvent(sessionID, eventType string, data map[string]any) {
	rec := EventRecord{
		SessionID: sessionID,
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		LoggedAt:  time.Now().UTC().Format(protocol.TimestampFormat),
	}
	s.append(sessionID, rec)
}

func (s *Sink) append(sessionID string, rec any) {
	payload, err := json.Marshal(rec)
	if err != nil {
		s.log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to marshal sink record")
		s.metrics.RecordInteractionAppendError()
		return
	}

	s.mu.Lock()
	_, err = s.file.Write(append(payload, '\n'))
	s.mu.Unlock()
	if err != nil {
		s.log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to append sink record")
		s.metrics.RecordInteractionAppendError()
	} else {
		s.metrics.RecordInteractionLogged()
	}

	if s.enabled {
		// Mirrored asynchronously so a slow broker never delays the ack path.
		go s.publish(sessionID, payload)
	}
}

func (s *Sink) publish(sessionID string, payload []byte) {
	start := time.Now()
	err := s.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(sessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "principal", Value: []byte(s.principal)},
		},
	})
	s.metrics.RecordKafkaPublish(err, time.Since(start).Seconds())
	if err != nil {
		s.log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to mirror record to Kafka")
	}
}

// Close closes the log file and the Kafka writer.
func (s *Sink) Close() error {
	s.mu.Lock()
	err := s.file.Close()
	s.mu.Unlock()

	if s.writer != nil {
		if e := s.writer.Close(); e != nil {
			s.log.Error().Err(e).Msg("error closing Kafka writer")
			if err == nil {
				err = e
			}
		}
	}
	return err
}
