package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func sineSamples(n int, sampleRate int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = int16(16383.0 * math.Sin(2*math.Pi*440*t))
	}
	return samples
}

func samplesToPCM(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

func TestEncodeDecodeWAV(t *testing.T) {
	pcm := samplesToPCM(sineSamples(1600, 16000))

	wavData, err := EncodeWAV(pcm, RecognizerFormat)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if len(wavData) != 44+len(pcm) {
		t.Errorf("Expected WAV size %d, got %d", 44+len(pcm), len(wavData))
	}
	if !IsWAV(wavData) {
		t.Error("Encoded data is not recognised as WAV")
	}

	decoded, format, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if format != RecognizerFormat {
		t.Errorf("Expected format %+v, got %+v", RecognizerFormat, format)
	}
	if !bytes.Equal(decoded, pcm) {
		t.Error("Decoded PCM does not match input")
	}
}

func TestDecodeWAVSkipsUnknownChunks(t *testing.T) {
	pcm := samplesToPCM([]int16{100, -200, 300})
	wavData, err := EncodeWAV(pcm, RecognizerFormat)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// Insert an odd-sized LIST chunk (with pad byte) between fmt and data.
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	withList := append(append(append([]byte{}, wavData[:36]...), list...), wavData[36:]...)

	decoded, _, err := DecodeWAV(withList)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if !bytes.Equal(decoded, pcm) {
		t.Errorf("Expected %v, got %v", pcm, decoded)
	}
}

func TestDecodeWAVErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte{1, 2, 3}},
		{"not RIFF", append([]byte("FAKE\x00\x00\x00\x00WAVE"), make([]byte, 40)...)},
		{"no fmt chunk", []byte("RIFF\x0c\x00\x00\x00WAVEdata\x00\x00\x00\x00")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeWAV(tt.data); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestToRecognizerPCM(t *testing.T) {
	tests := []struct {
		name     string
		pcm      []byte
		format   Format
		expected []int16
		wantErr  bool
	}{
		{
			name:     "already recognizer format",
			pcm:      samplesToPCM([]int16{1, -1, 1000}),
			format:   RecognizerFormat,
			expected: []int16{1, -1, 1000},
		},
		{
			name:     "stereo averaged",
			pcm:      samplesToPCM([]int16{100, 300, -100, -300}),
			format:   Format{SampleRate: 16000, Channels: 2, BitDepth: 16},
			expected: []int16{200, -200},
		},
		{
			name:     "8-bit unsigned",
			pcm:      []byte{128, 255, 0},
			format:   Format{SampleRate: 16000, Channels: 1, BitDepth: 8},
			expected: []int16{0, 127 << 8, -128 << 8},
		},
		{
			name:     "24-bit keeps high bytes",
			pcm:      []byte{0xAA, 0x34, 0x12},
			format:   Format{SampleRate: 16000, Channels: 1, BitDepth: 24},
			expected: []int16{0x1234},
		},
		{
			name:    "wrong sample rate",
			pcm:     samplesToPCM([]int16{1}),
			format:  Format{SampleRate: 44100, Channels: 1, BitDepth: 16},
			wantErr: true,
		},
		{
			name:    "too many channels",
			pcm:     make([]byte, 12),
			format:  Format{SampleRate: 16000, Channels: 6, BitDepth: 16},
			wantErr: true,
		},
		{
			name:    "partial frame",
			pcm:     []byte{1, 2, 3},
			format:  Format{SampleRate: 16000, Channels: 2, BitDepth: 16},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ToRecognizerPCM(tt.pcm, tt.format)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if !bytes.Equal(out, samplesToPCM(tt.expected)) {
				t.Errorf("Expected %v, got % x", tt.expected, out)
			}
		})
	}
}
