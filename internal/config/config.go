package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/skypro1111/asr-stream-service/internal/transcription"
)

// Environment variables overriding the asr section
const (
	EnvEndpoint   = "VOLC_ASR_WS_URL"
	EnvAppKey     = "VOLC_ASR_APP_KEY"
	EnvAccessKey  = "VOLC_ASR_ACCESS_KEY"
	EnvResourceID = "VOLC_ASR_RESOURCE_ID"
)

// Config represents the complete service configuration
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	ASR     ASRConfig     `yaml:"asr"`
	Audio   AudioConfig   `yaml:"audio"`
	Service ServiceConfig `yaml:"service"`
	Publish PublishConfig `yaml:"publish"`
	Logging LoggingConfig `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port           int    `yaml:"port"`
	Address        string `yaml:"address"`
	Enabled        bool   `yaml:"enabled"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
	RequestTimeout int    `yaml:"request_timeout"` // seconds
}

// ASRConfig contains the recognition endpoint and request options
type ASRConfig struct {
	Endpoint          string `yaml:"endpoint"`
	AppKey            string `yaml:"app_key"`
	AccessKey         string `yaml:"access_key"`
	ResourceID        string `yaml:"resource_id"`
	Language          string `yaml:"language"`
	ModelName         string `yaml:"model_name"`
	EnablePunctuation bool   `yaml:"enable_punctuation"`
	EnableDisfluency  bool   `yaml:"enable_disfluency"`
	UserID            string `yaml:"user_id"`
	ConnectTimeout    int    `yaml:"connect_timeout"` // seconds
	IOTimeout         int    `yaml:"io_timeout"`      // seconds
}

// AudioConfig contains the upload pacing. The audio format itself is fixed
// to 16 kHz 16-bit mono PCM.
type AudioConfig struct {
	ChunkDuration int `yaml:"chunk_duration"` // milliseconds
}

// ServiceConfig contains session scheduling parameters
type ServiceConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	MaxRetries    int `yaml:"max_retries"`
}

// PublishConfig contains transcript publishing configuration
type PublishConfig struct {
	Enabled bool   `yaml:"enabled"`
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration with every optional field set
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:           8080,
			Address:        "0.0.0.0",
			Enabled:        true,
			MaxBodyBytes:   32 << 20,
			RequestTimeout: 300,
		},
		ASR: ASRConfig{
			Endpoint:          "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async",
			ResourceID:        "volc.bigasr.sauc.duration",
			Language:          "zh-CN",
			ModelName:         "bigmodel",
			EnablePunctuation: true,
			UserID:            "asr-stream-service",
			ConnectTimeout:    30,
			IOTimeout:         30,
		},
		Audio: AudioConfig{
			ChunkDuration: 200,
		},
		Service: ServiceConfig{
			MaxConcurrent: 10,
			MaxRetries:    0,
		},
		Publish: PublishConfig{
			NATSURL: "nats://127.0.0.1:4222",
			Subject: "asr.transcripts",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file over the defaults, then
// applies environment overrides. An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// unknown keys are an error
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.ApplyEnv(os.LookupEnv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding existing ones. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// ApplyEnv overrides the asr section with non-empty environment values
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		key    string
		target *string
	}{
		{EnvEndpoint, &c.ASR.Endpoint},
		{EnvAppKey, &c.ASR.AppKey},
		{EnvAccessKey, &c.ASR.AccessKey},
		{EnvResourceID, &c.ASR.ResourceID},
	}

	for _, o := range overrides {
		if v, ok := lookup(o.key); ok && v != "" {
			*o.target = v
		}
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.ASR.Validate(); err != nil {
		return fmt.Errorf("asr config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Service.Validate(); err != nil {
		return fmt.Errorf("service config: %w", err)
	}

	if err := c.Publish.Validate(); err != nil {
		return fmt.Errorf("publish config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if !h.Enabled {
		return nil
	}

	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty when HTTP is enabled")
	}

	if h.MaxBodyBytes < 1024 {
		return fmt.Errorf("max_body_bytes must be at least 1024, got %d", h.MaxBodyBytes)
	}

	if h.RequestTimeout < 1 {
		return fmt.Errorf("request_timeout must be at least 1 second, got %d", h.RequestTimeout)
	}

	return nil
}

// Validate validates the recognition endpoint configuration
func (a *ASRConfig) Validate() error {
	if a.AppKey == "" || a.AccessKey == "" {
		return fmt.Errorf("app_key and access_key are required (or set %s and %s)", EnvAppKey, EnvAccessKey)
	}

	u, err := url.Parse(a.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", a.Endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("endpoint must use ws or wss, got %q", a.Endpoint)
	}

	if a.ResourceID == "" {
		return fmt.Errorf("resource_id cannot be empty")
	}

	if a.ConnectTimeout < 1 {
		return fmt.Errorf("connect_timeout must be at least 1 second, got %d", a.ConnectTimeout)
	}

	if a.IOTimeout < 1 {
		return fmt.Errorf("io_timeout must be at least 1 second, got %d", a.IOTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.ChunkDuration < 10 || a.ChunkDuration > 1000 {
		return fmt.Errorf("chunk_duration must be between 10 and 1000 ms, got %d", a.ChunkDuration)
	}

	return nil
}

// Validate validates session scheduling configuration
func (s *ServiceConfig) Validate() error {
	if s.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", s.MaxConcurrent)
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries)
	}

	return nil
}

// Validate validates publishing configuration
func (p *PublishConfig) Validate() error {
	if !p.Enabled {
		return nil
	}

	if p.NATSURL == "" {
		return fmt.Errorf("nats_url cannot be empty when publishing is enabled")
	}

	if p.Subject == "" {
		return fmt.Errorf("subject cannot be empty when publishing is enabled")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// output is stdout, stderr or a file path
	return nil
}

// GetRequestTimeoutDuration returns the per-request timeout as a time.Duration
func (h *HTTPConfig) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(h.RequestTimeout) * time.Second
}

// GetConnectTimeoutDuration returns the connect timeout as a time.Duration
func (a *ASRConfig) GetConnectTimeoutDuration() time.Duration {
	return time.Duration(a.ConnectTimeout) * time.Second
}

// GetIOTimeoutDuration returns the read/write timeout as a time.Duration
func (a *ASRConfig) GetIOTimeoutDuration() time.Duration {
	return time.Duration(a.IOTimeout) * time.Second
}

// GetChunkDuration returns the chunk duration as a time.Duration
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDuration) * time.Millisecond
}

// ListenAddress returns host:port of the HTTP listener
func (h *HTTPConfig) ListenAddress() string {
	return net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
}

// SessionConfig maps the asr and audio sections to a recognition session configuration
func (c *Config) SessionConfig() transcription.Config {
	return transcription.Config{
		Endpoint:          c.ASR.Endpoint,
		AppKey:            c.ASR.AppKey,
		AccessKey:         c.ASR.AccessKey,
		ResourceID:        c.ASR.ResourceID,
		Language:          c.ASR.Language,
		ModelName:         c.ASR.ModelName,
		EnablePunctuation: c.ASR.EnablePunctuation,
		EnableDisfluency:  c.ASR.EnableDisfluency,
		UserID:            c.ASR.UserID,
		ChunkDuration:     c.Audio.GetChunkDuration(),
		ConnectTimeout:    c.ASR.GetConnectTimeoutDuration(),
		IOTimeout:         c.ASR.GetIOTimeoutDuration(),
	}
}
