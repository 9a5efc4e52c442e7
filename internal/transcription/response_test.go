package transcription

import (
	"errors"
	"fmt"
	"testing"

	"github.com/skypro1111/asr-stream-service/internal/transcript"
)

func TestParseResponseSegments(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []transcript.Segment
	}{
		{
			name:    "single object",
			payload: `{"result":{"text":"hello","definite":false}}`,
			want:    []transcript.Segment{{Text: "hello", Definite: false}},
		},
		{
			name:    "list",
			payload: `{"result":[{"text":"a","definite":true},{"text":"ab"}]}`,
			want:    []transcript.Segment{{Text: "a", Definite: true}, {Text: "ab", Definite: true}},
		},
		{
			name:    "missing definite is definite",
			payload: `{"result":{"text":"x"}}`,
			want:    []transcript.Segment{{Text: "x", Definite: true}},
		},
		{
			name:    "no result",
			payload: `{"end_of_result":true}`,
		},
		{
			name:    "null result",
			payload: `{"result":null}`,
		},
		{
			name:    "scalar result",
			payload: `{"result":"text"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ParseResponse([]byte(tt.payload))
			if err != nil {
				t.Fatalf("ParseResponse failed: %v", err)
			}

			got, err := resp.Segments()
			if err != nil {
				t.Fatalf("Segments failed: %v", err)
			}

			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d segments, got %d: %+v", len(tt.want), len(got), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Segment %d: expected %+v, got %+v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestParseResponseInvalidResult(t *testing.T) {
	resp, err := ParseResponse([]byte(`{"result":{"text":5}}`))
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if _, err := resp.Segments(); err == nil {
		t.Error("Expected error for non-string text")
	}
}

func TestResponseFinished(t *testing.T) {
	tests := []struct {
		payload string
		want    bool
	}{
		{`{}`, false},
		{`{"end_of_result":true}`, true},
		{`{"is_final":true}`, true},
		{`{"final":1}`, true},
		{`{"final":"yes"}`, true},
		{`{"end_of_result":false,"is_final":false,"final":0}`, false},
		{`{"end_of_result":null}`, false},
		{`{"final":""}`, false},
	}

	for _, tt := range tests {
		resp, err := ParseResponse([]byte(tt.payload))
		if err != nil {
			t.Fatalf("ParseResponse(%s) failed: %v", tt.payload, err)
		}
		if got := resp.Finished(); got != tt.want {
			t.Errorf("Finished(%s) = %v, want %v", tt.payload, got, tt.want)
		}
	}
}

func TestResponseServerError(t *testing.T) {
	tests := []struct {
		payload  string
		wantCode int64
		wantOK   bool
		wantMsg  string
	}{
		{`{"result":{"text":"a"}}`, 0, false, ""},
		{`{"code":0,"message":"ok"}`, 0, false, "ok"},
		{`{"code":45000001,"message":"bad param"}`, 45000001, true, "bad param"},
		{`{"error_code":"55000031","error":"busy"}`, 55000031, true, "busy"},
		{`{"error_code":0,"code":45000002}`, 45000002, true, ""},
		{`{"error_code":45000151,"code":45000002}`, 45000151, true, ""},
	}

	for _, tt := range tests {
		resp, err := ParseResponse([]byte(tt.payload))
		if err != nil {
			t.Fatalf("ParseResponse(%s) failed: %v", tt.payload, err)
		}
		code, ok := resp.ServerError()
		if code != tt.wantCode || ok != tt.wantOK {
			t.Errorf("ServerError(%s) = %d, %v; want %d, %v", tt.payload, code, ok, tt.wantCode, tt.wantOK)
		}
		if msg := resp.ErrorMessage(); msg != tt.wantMsg {
			t.Errorf("ErrorMessage(%s) = %q, want %q", tt.payload, msg, tt.wantMsg)
		}
	}
}

func TestParseResponseRejectsGarbage(t *testing.T) {
	for _, payload := range []string{"not json", `{"code":"abc"}`, `[1,2]`} {
		if _, err := ParseResponse([]byte(payload)); err == nil {
			t.Errorf("Expected error for %q", payload)
		}
	}
}

func TestErrorMatching(t *testing.T) {
	err := serverError(CodeAudioTooShort, "ignored")
	if err.Message != "audio too short" {
		t.Errorf("Expected known reason, got %q", err.Message)
	}
	if !errors.Is(err, ErrServer) {
		t.Error("Expected match on ErrServer")
	}
	if errors.Is(err, &Error{Kind: KindServer, Code: CodeAudioTooLong}) {
		t.Error("Expected no match for a different code")
	}
	if errors.Is(err, ErrProtocol) {
		t.Error("Expected no match for a different kind")
	}

	wrapped := newError(KindConnection, "dial failed", errors.New("refused"))
	if wrapped.Error() != "dial failed: refused" {
		t.Errorf("Unexpected message %q", wrapped.Error())
	}
	if KindOf(wrapped) != KindConnection {
		t.Errorf("Expected connection kind, got %s", KindOf(wrapped))
	}
	if KindOf(errors.New("other")) != KindUnknown {
		t.Error("Expected unknown kind for foreign error")
	}

	if got := serverError(1, "").Error(); got != "recognition failed (1): unknown error" {
		t.Errorf("Unexpected message %q", got)
	}
}

func TestIsDialFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"dial", newError(KindConnection, "failed to connect", nil), true},
		{"wrapped dial", fmt.Errorf("attempt 1: %w", newError(KindConnection, "refused", nil)), true},
		{"after handshake", streamError("failed to read response", nil), false},
		{"server", serverError(CodeServerBusy, ""), false},
		{"foreign", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDialFailure(tt.err); got != tt.want {
				t.Errorf("IsDialFailure(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
