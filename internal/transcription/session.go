package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skypro1111/asr-stream-service/internal/audio"
	"github.com/skypro1111/asr-stream-service/internal/protocol"
	"github.com/skypro1111/asr-stream-service/internal/transcript"
)

// ErrSessionUsed is returned when Run is called more than once on a Session.
var ErrSessionUsed = errors.New("transcription: session already used")

// State is the lifecycle state of a Session
type State int

const (
	StateIdle State = iota
	StateConnected
	StateStreaming
	StateAwaitingFinal
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateAwaitingFinal:
		return "awaiting_final"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Recorder receives protocol level measurements. metrics.Metrics implements it.
type Recorder interface {
	RecordChunkSent(sizeBytes int)
	RecordFrameReceived(messageType string)
	RecordServerError(code int64)
}

type noopRecorder struct{}

func (noopRecorder) RecordChunkSent(int)        {}
func (noopRecorder) RecordFrameReceived(string) {}
func (noopRecorder) RecordServerError(int64)    {}

// Update is delivered to the update handler as results arrive.
type Update struct {
	Text     string // committed transcript so far
	Interim  string // latest interim fragment, if any
	Definite bool
}

// Result is a successful recognition
type Result struct {
	Text           string        `json:"text"`
	ConnectID      string        `json:"connect_id"`
	ChunksSent     int           `json:"chunks_sent"`
	FramesReceived int           `json:"frames_received"`
	AudioDuration  time.Duration `json:"audio_duration"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDialer replaces the WebSocket dialer
func WithDialer(dialer *websocket.Dialer) Option {
	return func(s *Session) {
		if dialer != nil {
			s.dialer = dialer
		}
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithUpdateHandler registers a callback for live results. It runs on the
// receive goroutine and must not block.
func WithUpdateHandler(fn func(Update)) Option {
	return func(s *Session) {
		s.onUpdate = fn
	}
}

// Session is one recognition request over one connection. It is not reusable
// and must not be shared between callers.
type Session struct {
	config    Config
	connectID string
	dialer    *websocket.Dialer
	logger    *slog.Logger
	recorder  Recorder
	onUpdate  func(Update)

	// owned by the receive loop until it returns
	stitcher *transcript.Stitcher

	chunksSent     int
	framesReceived atomic.Int64

	// reads have no deadline until the upload is complete
	deadlineMu    sync.Mutex
	awaitingFinal bool

	mu      sync.Mutex
	state   State
	started bool
}

// NewSession validates cfg and prepares a session with a fresh connect id.
func NewSession(cfg Config, opts ...Option) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		config:    cfg,
		connectID: uuid.NewString(),
		dialer:    websocket.DefaultDialer,
		logger:    slog.Default(),
		recorder:  noopRecorder{},
		stitcher:  transcript.NewStitcher(),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("connect_id", s.connectID))

	return s, nil
}

// ConnectID returns the identifier sent in the handshake
func (s *Session) ConnectID() string {
	return s.connectID
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	s.logger.Debug("Session state changed",
		slog.String("from", prev.String()),
		slog.String("to", state.String()),
	)
}

// Run streams pcm (16 kHz, 16-bit, mono, little-endian) and returns the
// stitched transcript. A session that completes without recognized text
// returns an error of KindNoSpeech.
func (s *Session) Run(ctx context.Context, pcm []byte) (result *Result, err error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, ErrSessionUsed
	}
	s.started = true
	s.mu.Unlock()

	if len(pcm) == 0 {
		return nil, newError(KindEmptyInput, "no audio data", nil)
	}
	if err := audio.RecognizerFormat.Validate(pcm); err != nil {
		return nil, newError(KindInvalidAudio, "invalid audio data", err)
	}

	start := time.Now()
	defer func() {
		switch {
		case err == nil || KindOf(err) == KindNoSpeech:
			s.setState(StateDone)
		case s.State() != StateIdle:
			s.setState(StateErrored)
		}
	}()

	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	s.setState(StateConnected)

	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() { s.close(conn) })
	}
	defer closeConn()

	configFrame, err := protocol.NewConfigFrame(s.config.requestConfig())
	if err != nil {
		return nil, newError(KindConfiguration, "failed to build config frame", err)
	}
	if err := s.writeFrame(conn, configFrame); err != nil {
		return nil, s.ioError(ctx, "failed to send config frame", err)
	}
	s.setState(StateStreaming)

	streamCtx, stopStreaming := context.WithCancel(ctx)
	defer stopStreaming()

	// The receive loop stops the upload once the server has finished or failed.
	received := make(chan error, 1)
	go func() {
		err := s.receiveLoop(conn)
		stopStreaming()
		received <- err
	}()

	chunks := audio.Split(pcm, audio.ChunkSize(audio.RecognizerFormat, s.config.ChunkDuration))
	sendErr := s.streamAudio(streamCtx, conn, chunks)
	if sendErr == nil {
		s.setState(StateAwaitingFinal)
	}
	if err := s.awaitFinal(conn); err != nil {
		s.logger.Debug("Failed to set read deadline", slog.String("error", err.Error()))
	}

	var recvErr error
	select {
	case recvErr = <-received:
	case <-ctx.Done():
		closeConn()
		<-received
		return nil, canceledError(ctx.Err())
	}

	if ctx.Err() != nil {
		return nil, canceledError(ctx.Err())
	}
	if recvErr != nil {
		return nil, recvErr
	}
	// The server has delivered its final result; an upload cut short by it
	// does not affect the transcript.
	if sendErr != nil && !errors.Is(sendErr, context.Canceled) {
		s.logger.Debug("Audio upload interrupted", slog.String("error", sendErr.Error()))
	}

	text := s.stitcher.Text()
	s.logger.Info("Recognition finished",
		slog.Int("chunks_sent", s.chunksSent),
		slog.Int64("frames_received", s.framesReceived.Load()),
		slog.Int("text_length", len(text)),
		slog.Duration("elapsed", time.Since(start)),
	)

	if text == "" {
		return nil, newError(KindNoSpeech, "no speech recognized", nil)
	}

	return &Result{
		Text:           text,
		ConnectID:      s.connectID,
		ChunksSent:     s.chunksSent,
		FramesReceived: int(s.framesReceived.Load()),
		AudioDuration:  audio.RecognizerFormat.Duration(len(pcm)),
		Elapsed:        time.Since(start),
	}, nil
}

// connect opens the connection within the connect timeout
func (s *Session) connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()

	conn, resp, err := s.dialer.DialContext(dialCtx, s.config.Endpoint, s.config.handshakeHeader(s.connectID))
	if err != nil {
		if ctx.Err() != nil {
			return nil, canceledError(ctx.Err())
		}
		if resp != nil {
			return nil, newError(KindConnection,
				fmt.Sprintf("handshake rejected with HTTP %d", resp.StatusCode), err)
		}
		return nil, newError(KindConnection, "failed to connect to recognition service", err)
	}

	attrs := []any{slog.String("endpoint", s.config.Endpoint)}
	if resp != nil {
		if logID := resp.Header.Get("X-Tt-Logid"); logID != "" {
			attrs = append(attrs, slog.String("log_id", logID))
		}
	}
	s.logger.Debug("Connected to recognition service", attrs...)

	return conn, nil
}

// streamAudio sends chunks in index order, pausing one chunk duration
// between packets to match real-time delivery.
func (s *Session) streamAudio(ctx context.Context, conn *websocket.Conn, chunks []audio.Chunk) error {
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.writeFrame(conn, protocol.NewAudioFrame(chunk.Data, chunk.IsLast)); err != nil {
			return s.ioError(ctx, fmt.Sprintf("failed to send audio chunk %d", chunk.Index), err)
		}
		s.chunksSent++
		s.recorder.RecordChunkSent(len(chunk.Data))

		if chunk.IsLast {
			break
		}

		pace := time.NewTimer(s.config.ChunkDuration)
		select {
		case <-pace.C:
		case <-ctx.Done():
			pace.Stop()
			return ctx.Err()
		}
	}

	s.logger.Debug("Audio upload complete", slog.Int("chunks", len(chunks)))
	return nil
}

// awaitFinal starts the IOTimeout read deadline once no more audio will be
// sent. A read already blocked picks up the new deadline.
func (s *Session) awaitFinal(conn *websocket.Conn) error {
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()

	s.awaitingFinal = true
	return conn.UnderlyingConn().SetReadDeadline(time.Now().Add(s.config.IOTimeout))
}

// extendReadDeadline is called by the receive loop before every read. While
// audio is still uploading the server may legitimately stay silent, so reads
// are unbounded until awaitFinal.
func (s *Session) extendReadDeadline(conn *websocket.Conn) error {
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()

	var deadline time.Time
	if s.awaitingFinal {
		deadline = time.Now().Add(s.config.IOTimeout)
	}
	// net.Conn deadlines may be set from any goroutine
	return conn.UnderlyingConn().SetReadDeadline(deadline)
}

// receiveLoop reads frames until the server signals completion or an error.
func (s *Session) receiveLoop(conn *websocket.Conn) error {
	for {
		if err := s.extendReadDeadline(conn); err != nil {
			return streamError("failed to set read deadline", err)
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return streamError("failed to read response", err)
		}

		done, err := s.handleMessage(data)
		if err != nil {
			s.logger.Warn("Recognition aborted", slog.String("error", err.Error()))
			return err
		}
		if done {
			return nil
		}
	}
}

// handleMessage processes one server message and reports whether the
// session is finished.
func (s *Session) handleMessage(data []byte) (bool, error) {
	frame, err := protocol.Decode(data)
	if err != nil {
		return false, newError(KindProtocol, "failed to decode frame", err)
	}
	s.framesReceived.Add(1)
	s.recorder.RecordFrameReceived(messageTypeName(frame.MessageType))

	if frame.IsError() {
		message := string(frame.Payload)
		if resp, err := ParseResponse(frame.Payload); err == nil {
			message = resp.ErrorMessage()
		}
		s.recorder.RecordServerError(int64(frame.ErrorCode))
		return false, serverError(int64(frame.ErrorCode), message)
	}

	lastFrame := frame.MessageType == protocol.MessageTypeFullServerResponse && frame.IsLast()

	// acks and keep-alives carry no payload
	if len(frame.Payload) == 0 {
		return lastFrame, nil
	}

	resp, err := ParseResponse(frame.Payload)
	if err != nil {
		return false, newError(KindProtocol, "invalid response payload", err)
	}

	if code, ok := resp.ServerError(); ok {
		s.recorder.RecordServerError(code)
		return false, serverError(code, resp.ErrorMessage())
	}

	segments, err := resp.Segments()
	if err != nil {
		return false, newError(KindProtocol, "invalid result", err)
	}

	for _, seg := range segments {
		if seg.Text == "" {
			continue
		}
		changed := s.stitcher.Add(seg)
		if s.onUpdate != nil && (changed || !seg.Definite) {
			s.onUpdate(Update{
				Text:     s.stitcher.Text(),
				Interim:  s.stitcher.Interim(),
				Definite: seg.Definite,
			})
		}
	}

	return resp.Finished() || lastFrame, nil
}

func (s *Session) writeFrame(conn *websocket.Conn, frame *protocol.Frame) error {
	data, err := protocol.EncodeRequest(frame)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(s.config.IOTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// close sends a close frame and releases the connection. Failures are only
// logged.
func (s *Session) close(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		s.logger.Debug("Failed to send close frame", slog.String("error", err.Error()))
	}
	if err := conn.Close(); err != nil {
		s.logger.Debug("Failed to close connection", slog.String("error", err.Error()))
	}
}

// ioError classifies a send failure, reporting cancellation as such.
func (s *Session) ioError(ctx context.Context, message string, err error) error {
	if ctx.Err() != nil {
		return canceledError(ctx.Err())
	}
	return streamError(message, err)
}

func canceledError(err error) error {
	return newError(KindCanceled, "session canceled", err)
}

func messageTypeName(t uint8) string {
	switch t {
	case protocol.MessageTypeFullServerResponse:
		return "full_server_response"
	case protocol.MessageTypeServerAck:
		return "server_ack"
	case protocol.MessageTypeServerError:
		return "server_error"
	default:
		return "other"
	}
}
