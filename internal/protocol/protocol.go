package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Protocol constants
const (
	ProtocolVersion = 0b0001

	// Header size in 4-byte units
	DefaultHeaderSize = 0b0001

	// Message types
	MessageTypeFullClientRequest  = 0b0001
	MessageTypeAudioOnlyRequest   = 0b0010
	MessageTypeFullServerResponse = 0b1001
	MessageTypeServerAck          = 0b1011
	MessageTypeServerError        = 0b1111

	// Message type specific flags
	FlagNone             = 0b0000
	FlagPositiveSequence = 0b0001
	FlagLastPacket       = 0b0010
	FlagNegativeSequence = 0b0011

	// Serialization kinds
	SerializationNone = 0b0000
	SerializationJSON = 0b0001

	// Compression kinds
	CompressionNone = 0b0000
	CompressionGzip = 0b0001

	// Packet structure sizes
	HeaderUnit       = 4 // bytes per header size unit
	MinHeaderSize    = HeaderUnit
	PrefixFieldSize  = 4 // sequence number or error code
	PayloadSizeField = 4
)

var (
	// ErrInsufficientData is returned when a message is shorter than its header
	// plus the sequence and length prefixes.
	ErrInsufficientData = errors.New("insufficient data for frame")

	// ErrLengthMismatch is returned when the declared payload length does not
	// match the bytes actually received.
	ErrLengthMismatch = errors.New("payload length mismatch")

	// ErrInvalidFrame is returned for frames that cannot be encoded, such as
	// header fields that do not fit their nibble.
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrDecompress is returned when a gzip payload cannot be inflated.
	ErrDecompress = errors.New("payload decompression failed")
)

// Frame is one binary message exchanged over the connection.
// Layout: [Version|HeaderSize:1][Type|Flags:1][Serialization|Compression:1][Reserved:1]
// followed by an optional sequence/error code, the payload size and the payload.
type Frame struct {
	Version       uint8
	HeaderSize    uint8 // in 4-byte units, 0 is treated as 1
	MessageType   uint8
	Flags         uint8
	Serialization uint8
	Compression   uint8
	Sequence      int32  // non-error server frames
	ErrorCode     uint32 // error frames only
	Payload       []byte
}

// IsError reports whether the frame is a server error frame.
func (f *Frame) IsError() bool {
	return f.MessageType == MessageTypeServerError
}

// IsLast reports whether the frame carries the last-packet flag.
func (f *Frame) IsLast() bool {
	return f.Flags&FlagLastPacket != 0
}

// headerLen returns the header length in bytes.
func (f *Frame) headerLen() int {
	units := int(f.HeaderSize)
	if units == 0 {
		units = DefaultHeaderSize
	}
	return units * HeaderUnit
}

// EncodeRequest encodes a client frame: header, payload size and payload.
// Client frames are never compressed.
func EncodeRequest(f *Frame) ([]byte, error) {
	if f.Compression != CompressionNone {
		return nil, fmt.Errorf("%w: compression 0x%x not supported on requests", ErrInvalidFrame, f.Compression)
	}

	header, err := encodeHeader(f)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(header)+PayloadSizeField+len(f.Payload))
	buf = append(buf, header...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Payload)))
	buf = append(buf, f.Payload...)
	return buf, nil
}

// EncodeResponse encodes a server frame: header, sequence number (or error code
// for error frames), payload size and payload. The payload is written as given;
// a gzip compression kind must describe an already compressed payload.
func EncodeResponse(f *Frame) ([]byte, error) {
	header, err := encodeHeader(f)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(header)+PrefixFieldSize+PayloadSizeField+len(f.Payload))
	buf = append(buf, header...)
	if f.IsError() {
		buf = binary.BigEndian.AppendUint32(buf, f.ErrorCode)
	} else {
		buf = binary.BigEndian.AppendUint32(buf, uint32(f.Sequence))
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Payload)))
	buf = append(buf, f.Payload...)
	return buf, nil
}

func encodeHeader(f *Frame) ([]byte, error) {
	version := f.Version
	if version == 0 {
		version = ProtocolVersion
	}

	fields := []struct {
		name  string
		value uint8
	}{
		{"version", version},
		{"header size", f.HeaderSize},
		{"message type", f.MessageType},
		{"flags", f.Flags},
		{"serialization", f.Serialization},
		{"compression", f.Compression},
	}
	for _, field := range fields {
		if field.value > 0x0F {
			return nil, fmt.Errorf("%w: %s 0x%02x does not fit in 4 bits", ErrInvalidFrame, field.name, field.value)
		}
	}

	header := make([]byte, f.headerLen())
	header[0] = version<<4 | uint8(f.headerLen()/HeaderUnit)
	header[1] = f.MessageType<<4 | f.Flags
	header[2] = f.Serialization<<4 | f.Compression
	header[3] = 0x00
	return header, nil
}

// Decode parses a server frame. Non-error frames carry a sequence number after
// the header, error frames an error code. Gzip payloads are decompressed.
func Decode(data []byte) (*Frame, error) {
	f, offset, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}

	if len(data) < offset+PrefixFieldSize+PayloadSizeField {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInsufficientData,
			offset+PrefixFieldSize+PayloadSizeField, len(data))
	}

	prefix := binary.BigEndian.Uint32(data[offset : offset+PrefixFieldSize])
	if f.IsError() {
		f.ErrorCode = prefix
	} else {
		f.Sequence = int32(prefix)
	}
	offset += PrefixFieldSize

	payload, err := readPayload(data, offset)
	if err != nil {
		return nil, err
	}

	if f.Compression == CompressionGzip {
		payload, err = gunzip(payload)
		if err != nil {
			return nil, err
		}
	}
	f.Payload = payload

	return f, nil
}

// DecodeRequest parses a client frame (no sequence field). Used by the server
// side of the protocol.
func DecodeRequest(data []byte) (*Frame, error) {
	f, offset, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}

	if len(data) < offset+PayloadSizeField {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInsufficientData,
			offset+PayloadSizeField, len(data))
	}

	payload, err := readPayload(data, offset)
	if err != nil {
		return nil, err
	}
	f.Payload = payload

	return f, nil
}

func decodeHeader(data []byte) (*Frame, int, error) {
	if len(data) < MinHeaderSize {
		return nil, 0, fmt.Errorf("%w: header needs %d bytes, got %d", ErrInsufficientData, MinHeaderSize, len(data))
	}

	units := data[0] & 0x0F
	if units == 0 {
		units = DefaultHeaderSize
	}
	headerLen := int(units) * HeaderUnit
	if len(data) < headerLen {
		return nil, 0, fmt.Errorf("%w: header needs %d bytes, got %d", ErrInsufficientData, headerLen, len(data))
	}

	f := &Frame{
		Version:       data[0] >> 4,
		HeaderSize:    units,
		MessageType:   data[1] >> 4,
		Flags:         data[1] & 0x0F,
		Serialization: data[2] >> 4,
		Compression:   data[2] & 0x0F,
	}
	return f, headerLen, nil
}

func readPayload(data []byte, offset int) ([]byte, error) {
	size := int(binary.BigEndian.Uint32(data[offset : offset+PayloadSizeField]))
	offset += PayloadSizeField

	if remaining := len(data) - offset; remaining != size {
		return nil, fmt.Errorf("%w: header says %d bytes, got %d bytes", ErrLengthMismatch, size, remaining)
	}

	payload := make([]byte, size)
	copy(payload, data[offset:])
	return payload, nil
}

func gunzip(payload []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	return out, nil
}

// String returns a human-readable representation of the frame
func (f *Frame) String() string {
	var messageType string
	switch f.MessageType {
	case MessageTypeFullClientRequest:
		messageType = "FullClientRequest"
	case MessageTypeAudioOnlyRequest:
		messageType = "AudioOnlyRequest"
	case MessageTypeFullServerResponse:
		messageType = "FullServerResponse"
	case MessageTypeServerAck:
		messageType = "ServerAck"
	case MessageTypeServerError:
		messageType = "ServerError"
	default:
		messageType = fmt.Sprintf("Unknown(0x%x)", f.MessageType)
	}

	if f.IsError() {
		return fmt.Sprintf("Frame{Type:%s, Flags:0x%x, ErrorCode:%d, PayloadLen:%d}",
			messageType, f.Flags, f.ErrorCode, len(f.Payload))
	}
	return fmt.Sprintf("Frame{Type:%s, Flags:0x%x, Sequence:%d, PayloadLen:%d}",
		messageType, f.Flags, f.Sequence, len(f.Payload))
}
