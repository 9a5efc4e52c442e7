// Package asrtest provides an in-process recognition server speaking the
// binary WebSocket protocol, for tests and local development.
package asrtest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/asr-stream-service/internal/protocol"
)

// Recording is what the server observed during one connection.
type Recording struct {
	Header http.Header
	Config protocol.RequestConfig
	Audio  []*protocol.Frame
	// AudioTimes holds the arrival time of each audio frame.
	AudioTimes []time.Time
}

// AudioBytes returns the concatenated audio payloads.
func (r *Recording) AudioBytes() []byte {
	var out []byte
	for _, f := range r.Audio {
		out = append(out, f.Payload...)
	}
	return out
}

// Responder decides the replies to one client frame. rec holds everything
// received so far, including frame.
type Responder func(rec *Recording, frame *protocol.Frame) []*protocol.Frame

// Handler upgrades requests and runs a Responder per connection.
type Handler struct {
	Respond Responder
	// RejectStatus, when set, fails every handshake with that HTTP status.
	RejectStatus int
	// DropAfter, when set, closes the connection without a close frame once
	// that many audio frames have arrived.
	DropAfter int
	Logger    *slog.Logger

	upgrader   websocket.Upgrader
	mu         sync.Mutex
	recordings []*Recording
}

// NewHandler creates a Handler using respond.
func NewHandler(respond Responder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Respond: respond, Logger: logger}
}

// Recordings returns copies of the connections seen so far.
func (h *Handler) Recordings() []Recording {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Recording, 0, len(h.recordings))
	for _, rec := range h.recordings {
		out = append(out, Recording{
			Header:     rec.Header.Clone(),
			Config:     rec.Config,
			Audio:      append([]*protocol.Frame(nil), rec.Audio...),
			AudioTimes: append([]time.Time(nil), rec.AudioTimes...),
		})
	}
	return out
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.RejectStatus != 0 {
		http.Error(w, http.StatusText(h.RejectStatus), h.RejectStatus)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, http.Header{"X-Tt-Logid": {"asrtest"}})
	if err != nil {
		h.Logger.Warn("Upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	rec := &Recording{Header: r.Header.Clone()}
	h.mu.Lock()
	h.recordings = append(h.recordings, rec)
	h.mu.Unlock()

	logger := h.Logger.With(slog.String("connect_id", r.Header.Get("X-Api-Connect-Id")))
	logger.Info("Recognition session opened")

	var sequence int32
	finished := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Info("Recognition session closed", slog.Int("audio_frames", len(rec.Audio)))
			return
		}
		if finished {
			continue
		}

		frame, err := protocol.DecodeRequest(data)
		if err != nil {
			logger.Warn("Invalid client frame", slog.String("error", err.Error()))
			h.write(conn, ErrorFrame(45000001, err.Error()))
			finished = true
			continue
		}

		h.mu.Lock()
		switch frame.MessageType {
		case protocol.MessageTypeFullClientRequest:
			if err := json.Unmarshal(frame.Payload, &rec.Config); err != nil {
				logger.Warn("Invalid config payload", slog.String("error", err.Error()))
			}
		case protocol.MessageTypeAudioOnlyRequest:
			rec.Audio = append(rec.Audio, frame)
			rec.AudioTimes = append(rec.AudioTimes, time.Now())
		}

		if h.DropAfter > 0 && len(rec.Audio) >= h.DropAfter {
			h.mu.Unlock()
			logger.Info("Dropping connection", slog.Int("audio_frames", len(rec.Audio)))
			return
		}

		var replies []*protocol.Frame
		if h.Respond != nil {
			replies = h.Respond(rec, frame)
		}
		h.mu.Unlock()

		for _, r := range replies {
			reply := *r
			if !reply.IsError() {
				sequence++
				reply.Sequence = sequence
				if reply.IsLast() {
					reply.Sequence = -sequence
				}
			}
			if !h.write(conn, &reply) {
				return
			}
			if reply.IsError() || reply.IsLast() {
				finished = true
				break
			}
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, frame *protocol.Frame) bool {
	data, err := protocol.EncodeResponse(frame)
	if err != nil {
		h.Logger.Error("Failed to encode reply", slog.String("error", err.Error()))
		return false
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return false
	}
	return true
}

// Server is a Handler listening on a local test address.
type Server struct {
	*Handler
	URL string
	srv *httptest.Server
}

// NewServer starts a Server; URL is its ws:// endpoint.
func NewServer(respond Responder) *Server {
	return Start(NewHandler(respond, nil))
}

// Start serves h on a local address. h must not be modified afterwards.
func Start(h *Handler) *Server {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	srv := httptest.NewServer(h)
	return &Server{
		Handler: h,
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		srv:     srv,
	}
}

// Close shuts the server down.
func (s *Server) Close() {
	s.srv.Close()
}

// Result is a response payload with a single result object.
type Result struct {
	Text     string `json:"text"`
	Definite *bool  `json:"definite,omitempty"`
}

// ResponseFrame builds a full server response carrying payload as JSON.
// last marks it as the final frame of the session.
func ResponseFrame(payload any, last bool) *protocol.Frame {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	flags := uint8(protocol.FlagPositiveSequence)
	if last {
		flags = protocol.FlagNegativeSequence
	}
	return &protocol.Frame{
		MessageType:   protocol.MessageTypeFullServerResponse,
		Flags:         flags,
		Serialization: protocol.SerializationJSON,
		Payload:       data,
	}
}

// TextFrame is a response with one result segment. end sets end_of_result.
func TextFrame(text string, definite, end bool) *protocol.Frame {
	return ResponseFrame(map[string]any{
		"result":        Result{Text: text, Definite: &definite},
		"end_of_result": end,
	}, false)
}

// ErrorFrame builds an error frame with a JSON message.
func ErrorFrame(code uint32, message string) *protocol.Frame {
	data, _ := json.Marshal(map[string]string{"message": message})
	return &protocol.Frame{
		MessageType:   protocol.MessageTypeServerError,
		Serialization: protocol.SerializationJSON,
		ErrorCode:     code,
		Payload:       data,
	}
}

// FinalOnLast replies with text as a final result after the last audio packet.
func FinalOnLast(text string) Responder {
	return func(_ *Recording, frame *protocol.Frame) []*protocol.Frame {
		if frame.MessageType == protocol.MessageTypeAudioOnlyRequest && frame.IsLast() {
			return []*protocol.Frame{TextFrame(text, true, true)}
		}
		return nil
	}
}

// Sequence replies to the n-th audio packet (zero based) with steps[n], and
// to the last packet with every remaining step.
func Sequence(steps ...[]*protocol.Frame) Responder {
	return func(rec *Recording, frame *protocol.Frame) []*protocol.Frame {
		if frame.MessageType != protocol.MessageTypeAudioOnlyRequest {
			return nil
		}
		n := len(rec.Audio) - 1
		if frame.IsLast() {
			var rest []*protocol.Frame
			for i := n; i < len(steps); i++ {
				rest = append(rest, steps[i]...)
			}
			return rest
		}
		if n < len(steps) {
			return steps[n]
		}
		return nil
	}
}
