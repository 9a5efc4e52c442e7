package asrtest

import (
	"testing"

	"github.com/skypro1111/asr-stream-service/internal/protocol"
)

func audioFrame(payload string, last bool) *protocol.Frame {
	flags := uint8(protocol.FlagNone)
	if last {
		flags = protocol.FlagLastPacket
	}
	return &protocol.Frame{
		MessageType: protocol.MessageTypeAudioOnlyRequest,
		Flags:       flags,
		Payload:     []byte(payload),
	}
}

func TestSequence(t *testing.T) {
	first := []*protocol.Frame{TextFrame("a", false, false)}
	second := []*protocol.Frame{TextFrame("a b", true, false)}
	third := []*protocol.Frame{TextFrame("a b c", true, true)}
	respond := Sequence(first, second, third)

	rec := &Recording{}
	config := &protocol.Frame{MessageType: protocol.MessageTypeFullClientRequest}
	if got := respond(rec, config); got != nil {
		t.Errorf("Expected no reply to config frame, got %d", len(got))
	}

	rec.Audio = append(rec.Audio, audioFrame("x", false))
	if got := respond(rec, rec.Audio[0]); len(got) != 1 || got[0] != first[0] {
		t.Errorf("Expected first step, got %v", got)
	}

	rec.Audio = append(rec.Audio, audioFrame("y", true))
	got := respond(rec, rec.Audio[1])
	if len(got) != 2 || got[0] != second[0] || got[1] != third[0] {
		t.Errorf("Expected remaining steps on last packet, got %v", got)
	}
}

func TestFinalOnLast(t *testing.T) {
	respond := FinalOnLast("done")
	rec := &Recording{}

	if got := respond(rec, audioFrame("x", false)); got != nil {
		t.Errorf("Expected no reply before last packet")
	}
	got := respond(rec, audioFrame("y", true))
	if len(got) != 1 || got[0].MessageType != protocol.MessageTypeFullServerResponse {
		t.Fatalf("Expected one full response, got %v", got)
	}
	if got[0].Flags != protocol.FlagPositiveSequence {
		t.Errorf("Expected positive sequence flag, got %04b", got[0].Flags)
	}
}

func TestRecordingAudioBytes(t *testing.T) {
	rec := Recording{Audio: []*protocol.Frame{audioFrame("ab", false), audioFrame("cd", true)}}
	if got := string(rec.AudioBytes()); got != "abcd" {
		t.Errorf("Expected abcd, got %q", got)
	}
}

func TestErrorFrame(t *testing.T) {
	f := ErrorFrame(45000081, "timeout")
	if !f.IsError() || f.ErrorCode != 45000081 {
		t.Errorf("Unexpected error frame %v", f)
	}
}
