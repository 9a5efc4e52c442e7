package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessionMetrics(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordSessionStarted()
	m.RecordSessionStarted()
	if got := testutil.ToFloat64(m.ActiveSessions); got != 2 {
		t.Errorf("Expected 2 active sessions, got %v", got)
	}

	m.RecordSessionFinished("success", 1.5)
	m.RecordSessionFinished("no_speech", 0.5)
	if got := testutil.ToFloat64(m.ActiveSessions); got != 0 {
		t.Errorf("Expected 0 active sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsFinished.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsStarted); got != 2 {
		t.Errorf("Expected 2 started, got %v", got)
	}
}

func TestProtocolMetrics(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordChunkSent(6400)
	m.RecordChunkSent(100)
	m.RecordFrameReceived("full_server_response")
	m.RecordServerError(55000031)

	if got := testutil.ToFloat64(m.ChunksSent); got != 2 {
		t.Errorf("Expected 2 chunks, got %v", got)
	}
	if got := testutil.ToFloat64(m.AudioBytesSent); got != 6500 {
		t.Errorf("Expected 6500 bytes, got %v", got)
	}
	if got := testutil.ToFloat64(m.FramesReceived.WithLabelValues("full_server_response")); got != 1 {
		t.Errorf("Expected 1 frame, got %v", got)
	}
	if got := testutil.ToFloat64(m.ServerErrors.WithLabelValues("55000031")); got != 1 {
		t.Errorf("Expected 1 server error, got %v", got)
	}
}

func TestRecordPublished(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordPublished(nil)
	m.RecordPublished(errors.New("nats down"))

	if got := testutil.ToFloat64(m.TranscriptsPublished); got != 1 {
		t.Errorf("Expected 1 published, got %v", got)
	}
	if got := testutil.ToFloat64(m.PublishFailures); got != 1 {
		t.Errorf("Expected 1 failure, got %v", got)
	}
}
