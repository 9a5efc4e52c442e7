package protocol

import (
	"encoding/json"
	"fmt"
)

// RequestConfig is the JSON document carried by the full client request.
type RequestConfig struct {
	Audio   AudioParams   `json:"audio"`
	Request RequestParams `json:"request"`
	User    UserInfo      `json:"user_info"`
}

// AudioParams describes the PCM stream that follows the config frame.
type AudioParams struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitWidth   int    `json:"bit_width"`
	Language   string `json:"language,omitempty"`
}

// RequestParams holds the recognition options.
type RequestParams struct {
	ModelName  string `json:"model_name"`
	EnablePunc bool   `json:"enable_punc"`
	EnableDDC  bool   `json:"enable_ddc"` // disfluency removal
}

// UserInfo is an opaque caller tag.
type UserInfo struct {
	UID string `json:"uid"`
}

// NewConfigFrame builds the single full client request that opens a session.
func NewConfigFrame(cfg RequestConfig) (*Frame, error) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request config: %w", err)
	}

	return &Frame{
		Version:       ProtocolVersion,
		HeaderSize:    DefaultHeaderSize,
		MessageType:   MessageTypeFullClientRequest,
		Flags:         FlagNone,
		Serialization: SerializationJSON,
		Compression:   CompressionNone,
		Payload:       payload,
	}, nil
}

// NewAudioFrame builds an audio-only request. The final chunk of a stream sets
// the last-packet flag; there is no separate end-of-stream frame.
func NewAudioFrame(data []byte, last bool) *Frame {
	flags := uint8(FlagNone)
	if last {
		flags = FlagLastPacket
	}

	return &Frame{
		Version:       ProtocolVersion,
		HeaderSize:    DefaultHeaderSize,
		MessageType:   MessageTypeAudioOnlyRequest,
		Flags:         flags,
		Serialization: SerializationJSON,
		Compression:   CompressionNone,
		Payload:       data,
	}
}
