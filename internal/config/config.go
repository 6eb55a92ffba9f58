package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/amanullahtanweer/realtime-transcriber/internal/session"
	"github.com/amanullahtanweer/realtime-transcriber/internal/transcriber"
)

// Environment variables overriding secrets from the YAML file.
const (
	EnvAPIKey   = "OPENAI_API_KEY"
	EnvRedisURL = "REDIS_URL"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	HTTP          HTTPConfig          `yaml:"http"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Storage       StorageConfig       `yaml:"storage"`
}

// ServerConfig is the AudioSocket listener.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// HTTPConfig is the websocket, metrics and health endpoint listener.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

type TranscriptionConfig struct {
	APIKey            string  `yaml:"api_key"`
	URL               string  `yaml:"url"`
	Model             string  `yaml:"model"`
	Language          string  `yaml:"language"`
	SampleRate        int     `yaml:"sample_rate"`
	AutoSendOnSilence bool    `yaml:"auto_send_on_silence"`
	SilenceDelayMs    uint    `yaml:"silence_delay_ms"`
	VADThreshold      float64 `yaml:"vad_threshold"`
	CountdownTickMs   uint    `yaml:"countdown_tick_ms"`
	FinalGraceMs      int     `yaml:"final_grace_ms"`
	WriteTimeoutMs    int     `yaml:"write_timeout_ms"`
}

type StorageConfig struct {
	OutputDir       string `yaml:"output_dir"`
	SaveTranscripts bool   `yaml:"save_transcripts"`
	SaveAudio       bool   `yaml:"save_audio"`
	SessionLogs     bool   `yaml:"session_logs"`

	RedisURL        string `yaml:"redis_url"`
	RedisPrefix     string `yaml:"redis_prefix"`
	RedisChannel    string `yaml:"redis_channel"`
	RedisTTLSeconds int    `yaml:"redis_ttl_seconds"`
}

// Load reads .env files (missing ones are ignored), parses the YAML file,
// applies environment overrides and defaults, then validates.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnv(envFiles...); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML without touching the environment.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Printf("No %s file found, falling back to environment variables", f)
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvAPIKey)); v != "" {
		c.Transcription.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisURL)); v != "" {
		c.Storage.RedisURL = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = "0.0.0.0"
	}
	if c.Transcription.SampleRate == 0 {
		c.Transcription.SampleRate = session.DefaultSampleRate
	}
	if c.Transcription.CountdownTickMs == 0 {
		c.Transcription.CountdownTickMs = session.DefaultCountdownTickMs
	}
	if c.Transcription.FinalGraceMs == 0 {
		c.Transcription.FinalGraceMs = int(transcriber.DefaultFinalGrace / time.Millisecond)
	}
	if c.Storage.OutputDir == "" {
		c.Storage.OutputDir = "./transcripts"
	}
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if !c.Server.Enabled && !c.HTTP.Enabled {
		return fmt.Errorf("at least one of server and http must be enabled")
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Enabled && (s.Port < 1 || s.Port > 65535) {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	return nil
}

func (h *HTTPConfig) Validate() error {
	if h.Enabled && (h.Port < 1 || h.Port > 65535) {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}
	return nil
}

// Validate leaves a blank api_key alone; sessions report it when they start.
func (t *TranscriptionConfig) Validate() error {
	if t.SampleRate != 8000 && t.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 8000 or 16000 Hz, got %d", t.SampleRate)
	}
	if t.AutoSendOnSilence && t.SilenceDelayMs == 0 {
		return fmt.Errorf("silence_delay_ms must be positive when auto_send_on_silence is set")
	}
	if t.VADThreshold < 0 || t.VADThreshold >= 1 {
		return fmt.Errorf("vad_threshold must be between 0 and 1, got %f", t.VADThreshold)
	}
	if t.FinalGraceMs < 0 {
		return fmt.Errorf("final_grace_ms cannot be negative, got %d", t.FinalGraceMs)
	}
	if t.WriteTimeoutMs < 0 {
		return fmt.Errorf("write_timeout_ms cannot be negative, got %d", t.WriteTimeoutMs)
	}
	return nil
}

func (s *StorageConfig) Validate() error {
	if s.RedisURL != "" && !strings.HasPrefix(s.RedisURL, "redis://") && !strings.HasPrefix(s.RedisURL, "rediss://") {
		return fmt.Errorf("redis_url must start with redis:// or rediss://, got '%s'", s.RedisURL)
	}
	return nil
}

// SessionConfig builds the per-session settings. sampleRate overrides the
// configured rate when positive.
func (t *TranscriptionConfig) SessionConfig(language string, sampleRate int) session.Config {
	if language == "" {
		language = t.Language
	}
	if sampleRate <= 0 {
		sampleRate = t.SampleRate
	}
	return session.Config{
		APIKey:            t.APIKey,
		Language:          language,
		SampleRate:        sampleRate,
		Encoding:          session.EncodingPCM16,
		AutoSendOnSilence: t.AutoSendOnSilence,
		SilenceDelayMs:    t.SilenceDelayMs,
		VADThreshold:      t.VADThreshold,
		CountdownTickMs:   t.CountdownTickMs,
	}
}

func (t *TranscriptionConfig) GetFinalGrace() time.Duration {
	return time.Duration(t.FinalGraceMs) * time.Millisecond
}

func (t *TranscriptionConfig) GetWriteTimeout() time.Duration {
	return time.Duration(t.WriteTimeoutMs) * time.Millisecond
}

func (s *StorageConfig) GetRedisTTL() time.Duration {
	return time.Duration(s.RedisTTLSeconds) * time.Second
}
