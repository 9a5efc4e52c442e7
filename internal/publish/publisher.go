// Package publish hands finished transcripts to downstream consumers as JSON
// events over NATS.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/asr-stream-service/internal/transcription"
)

// PublishFunc sends one message. (*nats.Conn).Publish satisfies it.
type PublishFunc func(subject string, data []byte) error

// Recorder counts publish attempts. metrics.Metrics implements it.
type Recorder interface {
	RecordPublished(err error)
}

// TranscriptEvent is the message published for every successful recognition.
type TranscriptEvent struct {
	EventID         string    `json:"event_id"`
	ConnectID       string    `json:"connect_id"`
	Text            string    `json:"text"`
	AudioDurationMS int64     `json:"audio_duration_ms"`
	ChunksSent      int       `json:"chunks_sent"`
	Timestamp       time.Time `json:"timestamp"`
}

// Publisher serialises transcripts and publishes them on one subject.
type Publisher struct {
	subject  string
	publish  PublishFunc
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// NewPublisher creates a Publisher. recorder may be nil.
func NewPublisher(subject string, fn PublishFunc, logger *slog.Logger, recorder Recorder) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		subject:  subject,
		publish:  fn,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
	}
}

// NewEvent builds the event for result with a fresh event id.
func (p *Publisher) NewEvent(result *transcription.Result) TranscriptEvent {
	return TranscriptEvent{
		EventID:         uuid.NewString(),
		ConnectID:       result.ConnectID,
		Text:            result.Text,
		AudioDurationMS: result.AudioDuration.Milliseconds(),
		ChunksSent:      result.ChunksSent,
		Timestamp:       p.now().UTC(),
	}
}

// Publish sends result as a TranscriptEvent.
func (p *Publisher) Publish(ctx context.Context, result *transcription.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	event := p.NewEvent(result)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript event: %w", err)
	}

	err = p.publish(p.subject, data)
	if p.recorder != nil {
		p.recorder.RecordPublished(err)
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}

	p.logger.Debug("Transcript published",
		slog.String("subject", p.subject),
		slog.String("event_id", event.EventID),
		slog.String("connect_id", event.ConnectID),
	)
	return nil
}
