package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SessionRecorder extends Recorder with per-session outcomes.
type SessionRecorder interface {
	Recorder
	RecordSessionStarted()
	RecordSessionFinished(outcome string, durationSeconds float64)
	RecordRetry()
}

type noopSessionRecorder struct{ noopRecorder }

func (noopSessionRecorder) RecordSessionStarted()                 {}
func (noopSessionRecorder) RecordSessionFinished(string, float64) {}
func (noopSessionRecorder) RecordRetry()                          {}

// ServiceConfig contains the settings shared by all sessions of a Service
type ServiceConfig struct {
	Session       Config
	MaxConcurrent int
	// MaxRetries applies to failures to open the connection only; a session
	// that reached the server is never retried.
	MaxRetries int
}

// Service runs recognition sessions with bounded concurrency
type Service struct {
	config    ServiceConfig
	logger    *slog.Logger
	recorder  SessionRecorder
	dialer    *websocket.Dialer
	semaphore chan struct{}

	// Statistics
	totalRequests   uint64
	successRequests uint64
	noSpeech        uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ServiceStats represents service statistics
type ServiceStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	NoSpeech        uint64        `json:"no_speech"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveSessions  int           `json:"active_sessions"`
}

// NewService validates the configuration once, so that misconfiguration is
// reported at startup rather than per request.
func NewService(config ServiceConfig, logger *slog.Logger, recorder SessionRecorder) (*Service, error) {
	config.Session = config.Session.withDefaults()
	if err := config.Session.Validate(); err != nil {
		return nil, err
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if logger == nil {
		logger = slog.Default()
	}

	if recorder == nil {
		recorder = noopSessionRecorder{}
	}

	return &Service{
		config:    config,
		logger:    logger,
		recorder:  recorder,
		dialer:    &websocket.Dialer{HandshakeTimeout: config.Session.ConnectTimeout},
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Transcribe runs a new session for pcm. Extra options are applied after the
// service's own.
func (s *Service) Transcribe(ctx context.Context, pcm []byte, opts ...Option) (*Result, error) {
	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	case <-ctx.Done():
		return nil, canceledError(ctx.Err())
	}

	startTime := time.Now()
	s.incrementTotalRequests()
	s.recorder.RecordSessionStarted()

	var (
		result *Result
		err    error
	)

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			s.incrementTotalRetries()
			s.recorder.RecordRetry()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				err = canceledError(ctx.Err())
				attempt = s.config.MaxRetries + 1
				continue
			}
		}

		result, err = s.runSession(ctx, pcm, opts)
		if err == nil || !IsDialFailure(err) || ctx.Err() != nil {
			break
		}

		s.logger.Warn("Recognition connection failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	elapsed := time.Since(startTime)
	s.recorder.RecordSessionFinished(outcome(err), elapsed.Seconds())

	switch {
	case err == nil:
		s.incrementSuccessRequests()
		s.updateAvgResponseTime(elapsed)
	case KindOf(err) == KindNoSpeech:
		s.incrementNoSpeech()
		s.updateAvgResponseTime(elapsed)
	default:
		s.incrementFailedRequests()
	}

	return result, err
}

func (s *Service) runSession(ctx context.Context, pcm []byte, extra []Option) (*Result, error) {
	opts := append([]Option{
		WithLogger(s.logger),
		WithDialer(s.dialer),
		WithRecorder(s.recorder),
	}, extra...)

	session, err := NewSession(s.config.Session, opts...)
	if err != nil {
		return nil, err
	}

	return session.Run(ctx, pcm)
}

// outcome is the metrics label for a session result
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return KindOf(err).String()
}

// Statistics methods
func (s *Service) incrementTotalRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests++
}

func (s *Service) incrementSuccessRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successRequests++
}

func (s *Service) incrementNoSpeech() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noSpeech++
}

func (s *Service) incrementFailedRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedRequests++
}

func (s *Service) incrementTotalRetries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRetries++
}

func (s *Service) updateAvgResponseTime(responseTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Simple moving average
	if s.avgResponseTime == 0 {
		s.avgResponseTime = responseTime
	} else {
		s.avgResponseTime = (s.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current service statistics
func (s *Service) GetStats() ServiceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	successRate := float64(0)
	if s.totalRequests > 0 {
		successRate = float64(s.successRequests) / float64(s.totalRequests) * 100
	}

	return ServiceStats{
		TotalRequests:   s.totalRequests,
		SuccessRequests: s.successRequests,
		NoSpeech:        s.noSpeech,
		FailedRequests:  s.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    s.totalRetries,
		AvgResponseTime: s.avgResponseTime,
		ActiveSessions:  len(s.semaphore),
	}
}

// Close waits for running sessions to finish
func (s *Service) Close(ctx context.Context) error {
	for i := 0; i < cap(s.semaphore); i++ {
		select {
		case s.semaphore <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("waiting for active sessions: %w", ctx.Err())
		}
	}
	return nil
}
