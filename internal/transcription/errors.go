package transcription

import (
	"errors"
	"fmt"
)

// Kind classifies why a recognition session did not produce a transcript.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindConnection
	KindProtocol
	KindServer
	KindEmptyInput
	KindInvalidAudio
	KindNoSpeech
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindServer:
		return "server"
	case KindEmptyInput:
		return "empty_input"
	case KindInvalidAudio:
		return "invalid_audio"
	case KindNoSpeech:
		return "no_speech"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is returned by Session.Run and Service.Transcribe for every failed
// outcome, including a completed session that recognized no speech.
type Error struct {
	Kind    Kind
	Code    int64 // server error code, KindServer only
	Message string
	Err     error
	// Established is set on connection errors raised after the handshake
	// succeeded, when audio may already have reached the server.
	Established bool
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Kind == KindServer && e.Code != 0 {
		msg = fmt.Sprintf("recognition failed (%d): %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind, and on Code when the target carries one, so the
// sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == 0 || t.Code == e.Code)
}

var (
	ErrConfiguration = &Error{Kind: KindConfiguration, Message: "configuration error"}
	ErrConnection    = &Error{Kind: KindConnection, Message: "connection error"}
	ErrProtocol      = &Error{Kind: KindProtocol, Message: "protocol error"}
	ErrServer        = &Error{Kind: KindServer, Message: "server reported error"}
	ErrEmptyInput    = &Error{Kind: KindEmptyInput, Message: "no audio data"}
	ErrInvalidAudio  = &Error{Kind: KindInvalidAudio, Message: "invalid audio data"}
	ErrNoSpeech      = &Error{Kind: KindNoSpeech, Message: "no speech recognized"}
	ErrCanceled      = &Error{Kind: KindCanceled, Message: "session canceled"}
)

// KindOf returns the Kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Known server error codes
const (
	CodeInvalidParameter   = 45000001
	CodeEmptyAudio         = 45000002
	CodeAudioWaitTimeout   = 45000081
	CodeInvalidAudioFormat = 45000151
	CodeAudioTooShort      = 45000152
	CodeAudioTooLong       = 45000153
	CodeServerBusy         = 55000031
)

var errorCodeReasons = map[int64]string{
	CodeInvalidParameter:   "invalid request parameter",
	CodeEmptyAudio:         "empty audio",
	CodeAudioWaitTimeout:   "timed out waiting for audio",
	CodeInvalidAudioFormat: "invalid audio format",
	CodeAudioTooShort:      "audio too short",
	CodeAudioTooLong:       "audio too long",
	CodeServerBusy:         "server busy",
}

// serverError maps a server error code to an Error, preferring the known
// reason over the server's own message.
func serverError(code int64, message string) *Error {
	reason, ok := errorCodeReasons[code]
	if !ok {
		reason = message
	}
	if reason == "" {
		reason = "unknown error"
	}
	return &Error{Kind: KindServer, Code: code, Message: reason}
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// streamError is a connection error on an open connection.
func streamError(message string, err error) *Error {
	return &Error{Kind: KindConnection, Message: message, Err: err, Established: true}
}

// IsDialFailure reports whether err is a connection error raised before the
// session reached the server. Only those are safe to retry.
func IsDialFailure(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindConnection && !e.Established
}
