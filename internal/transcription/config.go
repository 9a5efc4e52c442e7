package transcription

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/skypro1111/asr-stream-service/internal/audio"
	"github.com/skypro1111/asr-stream-service/internal/protocol"
)

// Defaults
const (
	DefaultEndpoint       = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"
	DefaultResourceID     = "volc.bigasr.sauc.duration"
	DefaultLanguage       = "zh-CN"
	DefaultModelName      = "bigmodel"
	DefaultUserID         = "asr-stream-service"
	DefaultChunkDuration  = 200 * time.Millisecond
	DefaultConnectTimeout = 30 * time.Second
	DefaultIOTimeout      = 30 * time.Second
)

// Handshake headers
const (
	HeaderAppKey     = "X-Api-App-Key"
	HeaderAccessKey  = "X-Api-Access-Key"
	HeaderResourceID = "X-Api-Resource-Id"
	HeaderConnectID  = "X-Api-Connect-Id"
)

// Config contains the immutable parameters of a recognition session
type Config struct {
	Endpoint   string
	AppKey     string
	AccessKey  string
	ResourceID string

	Language          string
	ModelName         string
	EnablePunctuation bool
	EnableDisfluency  bool
	UserID            string

	// ChunkDuration is both the audio length per packet and the pause
	// between packets.
	ChunkDuration  time.Duration
	ConnectTimeout time.Duration
	// IOTimeout bounds every write, and every read once the upload is complete.
	IOTimeout time.Duration
}

// withDefaults fills zero fields with their defaults
func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.ResourceID == "" {
		c.ResourceID = DefaultResourceID
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.ModelName == "" {
		c.ModelName = DefaultModelName
	}
	if c.UserID == "" {
		c.UserID = DefaultUserID
	}
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = DefaultChunkDuration
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = DefaultIOTimeout
	}
	return c
}

// Validate checks credentials and endpoint before any connection attempt
func (c Config) Validate() error {
	if c.AppKey == "" || c.AccessKey == "" {
		return newError(KindConfiguration, "missing ASR credentials (app key and access key are required)", nil)
	}

	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return newError(KindConfiguration, "invalid endpoint", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return newError(KindConfiguration, fmt.Sprintf("endpoint scheme must be ws or wss, got %q", u.Scheme), nil)
	}

	return nil
}

// handshakeHeader returns the headers sent when opening the connection
func (c Config) handshakeHeader(connectID string) http.Header {
	h := http.Header{}
	h.Set(HeaderAppKey, c.AppKey)
	h.Set(HeaderAccessKey, c.AccessKey)
	h.Set(HeaderResourceID, c.ResourceID)
	h.Set(HeaderConnectID, connectID)
	return h
}

// requestConfig returns the payload of the config frame
func (c Config) requestConfig() protocol.RequestConfig {
	f := audio.RecognizerFormat
	return protocol.RequestConfig{
		Audio: protocol.AudioParams{
			Format:     "pcm",
			SampleRate: f.SampleRate,
			Channels:   f.Channels,
			BitWidth:   f.BitDepth,
			Language:   c.Language,
		},
		Request: protocol.RequestParams{
			ModelName:  c.ModelName,
			EnablePunc: c.EnablePunctuation,
			EnableDDC:  c.EnableDisfluency,
		},
		User: protocol.UserInfo{UID: c.UserID},
	}
}
