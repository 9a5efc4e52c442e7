package transcription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/asr-stream-service/internal/asrtest"
	"github.com/skypro1111/asr-stream-service/internal/protocol"
)

type sessionRecorder struct {
	countingRecorder
	started  int
	outcomes []string
	retries  int
}

func (r *sessionRecorder) RecordSessionStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *sessionRecorder) RecordSessionFinished(outcome string, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *sessionRecorder) RecordRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func TestNewServiceValidatesConfig(t *testing.T) {
	_, err := NewService(ServiceConfig{}, testLogger(), nil)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Expected configuration error, got %v", err)
	}
}

func TestServiceTranscribe(t *testing.T) {
	srv := asrtest.NewServer(func(rec *asrtest.Recording, frame *protocol.Frame) []*protocol.Frame {
		if frame.MessageType != protocol.MessageTypeAudioOnlyRequest || !frame.IsLast() {
			return nil
		}
		if len(rec.AudioBytes()) < 16 {
			return []*protocol.Frame{asrtest.TextFrame("", true, true)}
		}
		return []*protocol.Frame{asrtest.TextFrame("service text", true, true)}
	})
	defer srv.Close()

	recorder := &sessionRecorder{}
	service, err := NewService(ServiceConfig{Session: testConfig(srv.URL)}, testLogger(), recorder)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	var got []Update
	result, err := service.Transcribe(context.Background(), pcm(640), WithUpdateHandler(func(u Update) {
		got = append(got, u)
	}))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Text != "service text" {
		t.Errorf("Expected 'service text', got %q", result.Text)
	}
	if len(got) != 1 {
		t.Errorf("Expected 1 update, got %d", len(got))
	}

	// an 8-byte upload is answered with an empty result
	if _, err := service.Transcribe(context.Background(), pcm(8)); !errors.Is(err, ErrNoSpeech) {
		t.Errorf("Expected no speech, got %v", err)
	}

	if _, err := service.Transcribe(context.Background(), nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Expected empty input, got %v", err)
	}

	stats := service.GetStats()
	if stats.TotalRequests != 3 || stats.SuccessRequests != 1 || stats.NoSpeech != 1 || stats.FailedRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.ActiveSessions != 0 {
		t.Errorf("Expected no active sessions, got %d", stats.ActiveSessions)
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	want := []string{"success", "no_speech", "empty_input"}
	if recorder.started != 3 || len(recorder.outcomes) != 3 {
		t.Fatalf("Expected 3 sessions recorded, got %d/%v", recorder.started, recorder.outcomes)
	}
	for i := range want {
		if recorder.outcomes[i] != want[i] {
			t.Errorf("Outcome %d: expected %s, got %s", i, want[i], recorder.outcomes[i])
		}
	}
}

func TestServiceRetriesConnectionFailures(t *testing.T) {
	srv := asrtest.Start(&asrtest.Handler{RejectStatus: 503, Logger: testLogger()})
	defer srv.Close()

	recorder := &sessionRecorder{}
	service, err := NewService(ServiceConfig{
		Session:    testConfig(srv.URL),
		MaxRetries: 1,
	}, testLogger(), recorder)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	_, err = service.Transcribe(context.Background(), pcm(640))
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("Expected connection error, got %v", err)
	}

	stats := service.GetStats()
	if stats.TotalRetries != 1 || stats.FailedRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestServiceDoesNotRetryDroppedConnections(t *testing.T) {
	srv := asrtest.Start(&asrtest.Handler{DropAfter: 1, Logger: testLogger()})
	defer srv.Close()

	recorder := &sessionRecorder{}
	service, err := NewService(ServiceConfig{
		Session:    testConfig(srv.URL),
		MaxRetries: 1,
	}, testLogger(), recorder)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	_, err = service.Transcribe(context.Background(), pcm(3200))
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("Expected connection error, got %v", err)
	}
	if n := len(srv.Recordings()); n != 1 {
		t.Errorf("Expected a single connection, got %d", n)
	}

	stats := service.GetStats()
	if stats.TotalRetries != 0 || stats.FailedRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestServiceDoesNotRetryServerErrors(t *testing.T) {
	srv := asrtest.NewServer(asrtest.Sequence([]*protocol.Frame{asrtest.ErrorFrame(CodeServerBusy, "busy")}))
	defer srv.Close()

	service, err := NewService(ServiceConfig{
		Session:    testConfig(srv.URL),
		MaxRetries: 3,
	}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	_, err = service.Transcribe(context.Background(), pcm(640))
	if !errors.Is(err, &Error{Kind: KindServer, Code: CodeServerBusy}) {
		t.Fatalf("Expected server busy, got %v", err)
	}
	if n := len(srv.Recordings()); n != 1 {
		t.Errorf("Expected 1 connection, got %d", n)
	}
	if stats := service.GetStats(); stats.TotalRetries != 0 {
		t.Errorf("Expected no retries, got %d", stats.TotalRetries)
	}
}

func TestServiceBoundsConcurrency(t *testing.T) {
	srv := asrtest.NewServer(asrtest.FinalOnLast("parallel"))
	defer srv.Close()

	service, err := NewService(ServiceConfig{
		Session:       testConfig(srv.URL),
		MaxConcurrent: 2,
	}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		peak   int
		failed int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := service.Transcribe(context.Background(), pcm(3200)); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-done:
			break loop
		case <-ticker.C:
			if active := service.GetStats().ActiveSessions; active > peak {
				peak = active
			}
		}
	}

	if failed != 0 {
		t.Errorf("Expected all sessions to succeed, %d failed", failed)
	}
	if peak > 2 {
		t.Errorf("Expected at most 2 active sessions, saw %d", peak)
	}
	if stats := service.GetStats(); stats.SuccessRequests != 6 {
		t.Errorf("Expected 6 successes, got %d", stats.SuccessRequests)
	}
}

func TestServiceTranscribeCanceledWhileWaiting(t *testing.T) {
	srv := asrtest.NewServer(nil)
	defer srv.Close()

	service, err := NewService(ServiceConfig{
		Session:       testConfig(srv.URL),
		MaxConcurrent: 1,
	}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	// occupy the only slot
	service.semaphore <- struct{}{}
	defer func() { <-service.semaphore }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := service.Transcribe(ctx, pcm(640)); !errors.Is(err, ErrCanceled) {
		t.Errorf("Expected canceled, got %v", err)
	}
}
