package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/asr-stream-service/internal/audio"
	"github.com/skypro1111/asr-stream-service/internal/metrics"
	"github.com/skypro1111/asr-stream-service/internal/transcription"
)

const (
	serviceName    = "asr-stream-service"
	serviceVersion = "1.0.0"
)

// Transcriber runs recognition sessions. transcription.Service implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, opts ...transcription.Option) (*transcription.Result, error)
	GetStats() transcription.ServiceStats
}

// Sink receives every successful transcript. Failures are logged and do not
// affect the HTTP response.
type Sink interface {
	Publish(ctx context.Context, result *transcription.Result) error
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Address        string
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// HTTPServer provides the recognition API and monitoring endpoints
type HTTPServer struct {
	server      *http.Server
	router      chi.Router
	config      HTTPServerConfig
	logger      *slog.Logger
	transcriber Transcriber
	sink        Sink
	metrics     *metrics.Metrics

	startTime time.Time
}

// TranscriptionResponse is the body of a successful POST /v1/transcriptions
type TranscriptionResponse struct {
	Text            string `json:"text"`
	ConnectID       string `json:"connect_id"`
	ChunksSent      int    `json:"chunks_sent"`
	FramesReceived  int    `json:"frames_received"`
	AudioDurationMS int64  `json:"audio_duration_ms"`
	ElapsedMS       int64  `json:"elapsed_ms"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Code  int64  `json:"code,omitempty"`
}

// NewHTTPServer creates a new HTTP API server. sink and m may be nil.
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger, transcriber Transcriber, sink Sink, m *metrics.Metrics) *HTTPServer {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 32 << 20
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}

	h := &HTTPServer{
		config:      cfg,
		logger:      logger,
		transcriber: transcriber,
		sink:        sink,
		metrics:     m,
		startTime:   time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	h.setupRoutes(r)
	h.router = r

	h.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(r chi.Router) {
	r.Get("/", h.withMetrics("/", h.handleRoot))
	r.Get("/health", h.withMetrics("/health", h.handleHealth))
	r.Get("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/transcriptions", h.withMetrics("/v1/transcriptions", h.handleTranscribe))
	})
}

// Handler returns the router, for tests and embedding
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	if h.metrics == nil {
		return handler
	}

	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		handler(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", status), duration)

		// Record error if status code indicates an error
		if status >= 400 {
			errorType := "client_error"
			if status >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleTranscribe implements POST /v1/transcriptions. The body is a WAV file
// or raw 16 kHz 16-bit mono PCM.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error: fmt.Sprintf("audio exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		return
	}

	pcm, err := requestPCM(r.Header.Get("Content-Type"), body)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Kind:  transcription.KindInvalidAudio.String(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.RequestTimeout)
	defer cancel()

	result, err := h.transcriber.Transcribe(ctx, pcm)
	if err != nil {
		status, resp := errorResponse(err)
		level := slog.LevelWarn
		if status >= 500 {
			level = slog.LevelError
		}
		h.logger.Log(r.Context(), level, "Transcription failed",
			slog.String("kind", resp.Kind),
			slog.Int64("code", resp.Code),
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr),
		)
		h.writeJSON(w, status, resp)
		return
	}

	if h.sink != nil {
		if err := h.sink.Publish(r.Context(), result); err != nil {
			h.logger.Error("Failed to publish transcript",
				slog.String("connect_id", result.ConnectID),
				slog.String("error", err.Error()),
			)
		}
	}

	h.writeJSON(w, http.StatusOK, TranscriptionResponse{
		Text:            result.Text,
		ConnectID:       result.ConnectID,
		ChunksSent:      result.ChunksSent,
		FramesReceived:  result.FramesReceived,
		AudioDurationMS: result.AudioDuration.Milliseconds(),
		ElapsedMS:       result.Elapsed.Milliseconds(),
	})
}

// requestPCM converts a request body to recognizer PCM. WAV is detected by
// content type or by its RIFF header; anything else is taken as raw PCM.
func requestPCM(contentType string, body []byte) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	isWAV := audio.IsWAV(body)
	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		isWAV = true
	}

	if !isWAV {
		return body, nil
	}

	pcm, format, err := audio.DecodeWAV(body)
	if err != nil {
		return nil, err
	}
	return audio.ToRecognizerPCM(pcm, format)
}

// errorResponse maps a recognition error to an HTTP status and body
func errorResponse(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Error: err.Error(), Kind: transcription.KindOf(err).String()}

	var asrErr *transcription.Error
	if errors.As(err, &asrErr) {
		resp.Code = asrErr.Code
	}

	switch transcription.KindOf(err) {
	case transcription.KindEmptyInput, transcription.KindInvalidAudio:
		return http.StatusBadRequest, resp
	case transcription.KindNoSpeech:
		return http.StatusUnprocessableEntity, resp
	case transcription.KindServer:
		switch resp.Code {
		case transcription.CodeEmptyAudio, transcription.CodeInvalidAudioFormat,
			transcription.CodeAudioTooShort, transcription.CodeAudioTooLong:
			return http.StatusUnprocessableEntity, resp
		case transcription.CodeServerBusy:
			return http.StatusServiceUnavailable, resp
		}
		return http.StatusBadGateway, resp
	case transcription.KindConnection, transcription.KindProtocol:
		return http.StatusBadGateway, resp
	case transcription.KindCanceled:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, resp
		}
		return http.StatusRequestTimeout, resp
	default:
		return http.StatusInternalServerError, resp
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.transcriber.GetStats()

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]any{
			"transcription": map[string]any{
				"status":          "running",
				"total_requests":  stats.TotalRequests,
				"success_rate":    stats.SuccessRate,
				"active_sessions": stats.ActiveSessions,
			},
			"publisher": map[string]any{
				"enabled": h.sink != nil,
			},
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"uptime":        time.Since(h.startTime).String(),
		"timestamp":     time.Now().UTC(),
		"transcription": h.transcriber.GetStats(),
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"version": serviceVersion,
		"endpoints": map[string]any{
			"GET /":                   "API documentation",
			"GET /health":             "Service health check",
			"GET /stats":              "Recognition statistics",
			"GET /metrics":            "Prometheus metrics",
			"POST /v1/transcriptions": "Transcribe a WAV file or raw 16 kHz 16-bit mono PCM",
		},
		"timestamp": time.Now().UTC(),
	})
}

// writeJSON writes v with status. The status line is already sent when
// encoding fails, so failures are only logged.
func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to write response",
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}
}
