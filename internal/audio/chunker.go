package audio

import (
	"fmt"
	"time"
)

// DefaultChunkBytes is used when the configured format yields a non-positive
// chunk size (200ms of 16 kHz 16-bit mono).
const DefaultChunkBytes = 6400

// Format describes raw little-endian PCM.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bit_depth"`
}

// RecognizerFormat is the only format accepted by the recognizer:
// 16 kHz, 16-bit, mono.
var RecognizerFormat = Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

// BytesPerSample returns the width of one sample of one channel.
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// FrameSize returns the size of one sample frame (all channels).
func (f Format) FrameSize() int {
	return f.BytesPerSample() * f.Channels
}

// Duration returns the playback duration of n bytes of audio.
func (f Format) Duration(n int) time.Duration {
	bytesPerSecond := f.SampleRate * f.FrameSize()
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bytesPerSecond))
}

// Validate checks that buf is a non-empty whole number of sample frames.
func (f Format) Validate(buf []byte) error {
	frameSize := f.FrameSize()
	if frameSize <= 0 {
		return fmt.Errorf("invalid audio format: %d channels of %d bits", f.Channels, f.BitDepth)
	}
	if len(buf)%frameSize != 0 {
		return fmt.Errorf("audio length %d is not a multiple of the %d-byte frame size", len(buf), frameSize)
	}
	return nil
}

// Chunk is a contiguous slice of the input audio, the unit of streaming upload.
type Chunk struct {
	Index  int
	Data   []byte
	IsLast bool
}

// ChunkSize returns the number of bytes covering duration of audio, rounded
// down to a whole sample frame. Misconfigured formats fall back to
// DefaultChunkBytes.
func ChunkSize(f Format, duration time.Duration) int {
	size := f.SampleRate * int(duration/time.Millisecond) / 1000 * f.BytesPerSample() * f.Channels
	if frameSize := f.FrameSize(); frameSize > 0 {
		size -= size % frameSize
	}
	if size <= 0 {
		return DefaultChunkBytes
	}
	return size
}

// ChunkCount returns ceil(total/chunkBytes), never less than 1.
func ChunkCount(total, chunkBytes int) int {
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}
	count := (total + chunkBytes - 1) / chunkBytes
	if count < 1 {
		return 1
	}
	return count
}

// Split cuts pcm into chunks of chunkBytes in index order. Exactly one chunk,
// the final one, is marked IsLast. Empty input yields a single empty last
// chunk; callers reject empty audio before streaming.
func Split(pcm []byte, chunkBytes int) []Chunk {
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}

	count := ChunkCount(len(pcm), chunkBytes)
	chunks := make([]Chunk, 0, count)
	for i := 0; i < count; i++ {
		start := i * chunkBytes
		end := start + chunkBytes
		if start > len(pcm) {
			start = len(pcm)
		}
		if end > len(pcm) {
			end = len(pcm)
		}
		chunks = append(chunks, Chunk{
			Index:  i,
			Data:   pcm[start:end],
			IsLast: i == count-1,
		})
	}
	return chunks
}
