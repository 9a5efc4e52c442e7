package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

const wavHeaderSize = 44

// EncodeWAV wraps little-endian PCM data in a canonical WAV header
func EncodeWAV(pcm []byte, format Format) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio data")
	}

	if format.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", format.SampleRate)
	}

	if err := format.Validate(pcm); err != nil {
		return nil, err
	}

	dataSize := uint32(len(pcm))
	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.SampleRate * format.FrameSize()),
		BlockAlign:    uint16(format.FrameSize()),
		BitsPerSample: uint16(format.BitDepth),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// IsWAV reports whether data starts with a RIFF/WAVE signature
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeWAV walks the RIFF chunks of a PCM WAV file and returns the raw
// sample data together with its format. Unknown chunks (LIST, fact, ...) are
// skipped.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 {
		return nil, Format{}, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}

	if !IsWAV(data) {
		return nil, Format{}, fmt.Errorf("invalid WAV file: missing RIFF/WAVE header")
	}

	var (
		format   Format
		haveFmt  bool
		pcm      []byte
		haveData bool
	)

	offset := 12
	for offset+8 <= len(data) && !haveData {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		end := body + size
		if end > len(data) {
			// Streaming writers leave the data size unset; take what is there.
			if id != "data" {
				return nil, Format{}, fmt.Errorf("invalid WAV file: %q chunk exceeds file size", id)
			}
			end = len(data)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("invalid WAV file: fmt chunk too short (%d bytes)", size)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 && audioFormat != 0xFFFE {
				return nil, Format{}, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", audioFormat)
			}
			format = Format{
				Channels:   int(binary.LittleEndian.Uint16(data[body+2 : body+4])),
				SampleRate: int(binary.LittleEndian.Uint32(data[body+4 : body+8])),
				BitDepth:   int(binary.LittleEndian.Uint16(data[body+14 : body+16])),
			}
			haveFmt = true
		case "data":
			pcm = data[body:end]
			haveData = true
		}

		// Chunks are word aligned
		offset = end + size%2
	}

	if !haveFmt {
		return nil, Format{}, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if !haveData {
		return nil, Format{}, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if frameSize := format.FrameSize(); frameSize > 0 {
		pcm = pcm[:len(pcm)-len(pcm)%frameSize]
	}

	return pcm, format, nil
}

// ToRecognizerPCM converts PCM in the given format to 16-bit mono at the
// same sample rate. Stereo is averaged; 8, 24 and 32-bit samples are rescaled.
// Resampling is not supported, so the sample rate must already be 16 kHz.
func ToRecognizerPCM(pcm []byte, format Format) ([]byte, error) {
	if format.SampleRate != RecognizerFormat.SampleRate {
		return nil, fmt.Errorf("unsupported sample rate: %d Hz (need %d Hz)", format.SampleRate, RecognizerFormat.SampleRate)
	}

	if format.Channels != 1 && format.Channels != 2 {
		return nil, fmt.Errorf("unsupported channel count: %d (only mono and stereo are supported)", format.Channels)
	}

	switch format.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d", format.BitDepth)
	}

	if err := format.Validate(pcm); err != nil {
		return nil, err
	}

	if format == RecognizerFormat {
		return pcm, nil
	}

	width := format.BytesPerSample()
	frames := len(pcm) / format.FrameSize()
	out := make([]byte, frames*2)

	for i := 0; i < frames; i++ {
		base := i * format.FrameSize()
		var sum int32
		for ch := 0; ch < format.Channels; ch++ {
			sum += int32(sampleToInt16(pcm[base+ch*width:base+(ch+1)*width], width))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/int32(format.Channels))))
	}

	return out, nil
}

// sampleToInt16 keeps the most significant 16 bits of one little-endian sample.
// 8-bit WAV samples are unsigned.
func sampleToInt16(b []byte, width int) int16 {
	switch width {
	case 1:
		return int16(int(b[0])-128) << 8
	case 2:
		return int16(binary.LittleEndian.Uint16(b))
	default:
		return int16(binary.LittleEndian.Uint16(b[width-2 : width]))
	}
}
