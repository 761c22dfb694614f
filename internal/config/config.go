package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP         HTTPConfig         `yaml:"http"`
	Audio        AudioConfig        `yaml:"audio"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	STT          STTConfig          `yaml:"stt"`
	LLM          LLMConfig          `yaml:"llm"`
	TTS          TTSConfig          `yaml:"tts"`
	Conversation ConversationConfig `yaml:"conversation"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// AudioConfig contains input audio validation parameters
type AudioConfig struct {
	MinDuration float64 `yaml:"min_duration"` // seconds
	MaxDuration float64 `yaml:"max_duration"` // seconds
	MaxBytes    int     `yaml:"max_bytes"`
	SampleRate  int     `yaml:"sample_rate"` // normalization target, Hz
}

// PipelineConfig contains request coordination parameters
type PipelineConfig struct {
	MaxProcessingTime  float64 `yaml:"max_processing_time"` // seconds
	RecognitionTimeout float64 `yaml:"recognition_timeout"` // seconds
	ResponseTimeout    float64 `yaml:"response_timeout"`    // seconds
	SynthesisTimeout   float64 `yaml:"synthesis_timeout"`   // seconds
	MaxConcurrent      int     `yaml:"max_concurrent"`
	DefaultRetryAfter  int     `yaml:"default_retry_after"` // seconds, capacity rejections
}

// STTConfig contains recognition engine configuration
type STTConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	Language      string `yaml:"language"`
}

// LLMConfig contains reply generation configuration
type LLMConfig struct {
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	Model             string  `yaml:"model"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float32 `yaml:"temperature"`
	DefaultRetryAfter int     `yaml:"default_retry_after"` // seconds, rate-limit rejections
}

// TTSConfig contains synthesis engine configuration
type TTSConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	APIKey       string  `yaml:"api_key"`
	Timeout      int     `yaml:"timeout"` // seconds
	MinSpeed     float64 `yaml:"min_speed"`
	MaxSpeed     float64 `yaml:"max_speed"`
	DefaultSpeed float64 `yaml:"default_speed"`
}

// ConversationConfig contains conversation history storage configuration
type ConversationConfig struct {
	Backend          string `yaml:"backend"` // "memory" or "redis"
	MaxMessages      int    `yaml:"max_messages"`
	MaxConversations int    `yaml:"max_conversations"`
	TTLMinutes       int    `yaml:"ttl_minutes"`
	RedisAddr        string `yaml:"redis_addr"`
	RedisPassword    string `yaml:"redis_password"`
	RedisDB          int    `yaml:"redis_db"`
}

// WebSocketConfig contains realtime session configuration
type WebSocketConfig struct {
	HeartbeatInterval int `yaml:"heartbeat_interval"` // seconds
	MaxAudioDuration  int `yaml:"max_audio_duration"` // seconds
	MaxBufferBytes    int `yaml:"max_buffer_bytes"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file. Secrets may be supplied
// through the environment instead of the file; env values win.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides pulls secrets from the environment so they never
// have to live in the YAML file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("STT_API_KEY"); v != "" {
		c.STT.APIKey = v
	}
	if v := os.Getenv("TTS_API_KEY"); v != "" {
		c.TTS.APIKey = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Conversation.RedisPassword = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.STT.Validate(); err != nil {
		return fmt.Errorf("stt config: %w", err)
	}

	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}

	if err := c.TTS.Validate(); err != nil {
		return fmt.Errorf("tts config: %w", err)
	}

	if err := c.Conversation.Validate(); err != nil {
		return fmt.Errorf("conversation config: %w", err)
	}

	if err := c.WebSocket.Validate(); err != nil {
		return fmt.Errorf("websocket config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.MinDuration <= 0 {
		return fmt.Errorf("min_duration must be positive, got %f", a.MinDuration)
	}

	if a.MaxDuration <= a.MinDuration {
		return fmt.Errorf("max_duration (%f) must be greater than min_duration (%f)",
			a.MaxDuration, a.MinDuration)
	}

	if a.MaxBytes < 1024 {
		return fmt.Errorf("max_bytes must be at least 1024, got %d", a.MaxBytes)
	}

	if a.SampleRate != 8000 && a.SampleRate != 16000 && a.SampleRate != 22050 &&
		a.SampleRate != 24000 && a.SampleRate != 44100 && a.SampleRate != 48000 {
		return fmt.Errorf("sample_rate must be a standard rate, got %d", a.SampleRate)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.MaxProcessingTime <= 0 {
		return fmt.Errorf("max_processing_time must be positive, got %f", p.MaxProcessingTime)
	}

	for name, v := range map[string]float64{
		"recognition_timeout": p.RecognitionTimeout,
		"response_timeout":    p.ResponseTimeout,
		"synthesis_timeout":   p.SynthesisTimeout,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, v)
		}
		if v > p.MaxProcessingTime {
			return fmt.Errorf("%s (%f) cannot exceed max_processing_time (%f)",
				name, v, p.MaxProcessingTime)
		}
	}

	if p.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", p.MaxConcurrent)
	}

	if p.DefaultRetryAfter < 1 {
		return fmt.Errorf("default_retry_after must be at least 1 second, got %d", p.DefaultRetryAfter)
	}

	return nil
}

// Validate validates recognition engine configuration
func (s *STTConfig) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries)
	}

	if s.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", s.MaxConcurrent)
	}

	return nil
}

// Validate validates reply generation configuration
func (l *LLMConfig) Validate() error {
	if l.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set OPENAI_API_KEY)")
	}

	if l.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", l.MaxTokens)
	}

	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", l.Temperature)
	}

	if l.DefaultRetryAfter < 1 {
		return fmt.Errorf("default_retry_after must be at least 1 second, got %d", l.DefaultRetryAfter)
	}

	return nil
}

// Validate validates synthesis engine configuration
func (t *TTSConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MinSpeed <= 0 {
		return fmt.Errorf("min_speed must be positive, got %f", t.MinSpeed)
	}

	if t.MaxSpeed <= t.MinSpeed {
		return fmt.Errorf("max_speed (%f) must be greater than min_speed (%f)",
			t.MaxSpeed, t.MinSpeed)
	}

	if t.DefaultSpeed < t.MinSpeed || t.DefaultSpeed > t.MaxSpeed {
		return fmt.Errorf("default_speed (%f) must be within [%f, %f]",
			t.DefaultSpeed, t.MinSpeed, t.MaxSpeed)
	}

	return nil
}

// Validate validates conversation storage configuration
func (c *ConversationConfig) Validate() error {
	switch c.Backend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("redis_addr cannot be empty when backend is redis")
		}
	default:
		return fmt.Errorf("backend must be 'memory' or 'redis', got '%s'", c.Backend)
	}

	if c.MaxMessages < 1 {
		return fmt.Errorf("max_messages must be at least 1, got %d", c.MaxMessages)
	}

	if c.MaxConversations < 1 {
		return fmt.Errorf("max_conversations must be at least 1, got %d", c.MaxConversations)
	}

	if c.TTLMinutes < 1 {
		return fmt.Errorf("ttl_minutes must be at least 1, got %d", c.TTLMinutes)
	}

	return nil
}

// Validate validates realtime session configuration
func (w *WebSocketConfig) Validate() error {
	if w.HeartbeatInterval < 1 {
		return fmt.Errorf("heartbeat_interval must be at least 1 second, got %d", w.HeartbeatInterval)
	}

	if w.MaxAudioDuration < 1 {
		return fmt.Errorf("max_audio_duration must be at least 1 second, got %d", w.MaxAudioDuration)
	}

	if w.MaxBufferBytes < 1024 {
		return fmt.Errorf("max_buffer_bytes must be at least 1024, got %d", w.MaxBufferBytes)
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

	return nil
}

// GetMaxProcessingTime returns the processing budget as a time.Duration
func (p *PipelineConfig) GetMaxProcessingTime() time.Duration {
	return time.Duration(p.MaxProcessingTime * float64(time.Second))
}

// GetRecognitionTimeout returns the recognition stage cap as a time.Duration
func (p *PipelineConfig) GetRecognitionTimeout() time.Duration {
	return time.Duration(p.RecognitionTimeout * float64(time.Second))
}

// GetResponseTimeout returns the response stage cap as a time.Duration
func (p *PipelineConfig) GetResponseTimeout() time.Duration {
	return time.Duration(p.ResponseTimeout * float64(time.Second))
}

// GetSynthesisTimeout returns the synthesis stage cap as a time.Duration
func (p *PipelineConfig) GetSynthesisTimeout() time.Duration {
	return time.Duration(p.SynthesisTimeout * float64(time.Second))
}

// GetTimeoutDuration returns the recognition client timeout as a time.Duration
func (s *STTConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetTimeoutDuration returns the synthesis client timeout as a time.Duration
func (t *TTSConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTTL returns the conversation TTL as a time.Duration
func (c *ConversationConfig) GetTTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// GetHeartbeatInterval returns the ping interval as a time.Duration
func (w *WebSocketConfig) GetHeartbeatInterval() time.Duration {
	return time.Duration(w.HeartbeatInterval) * time.Second
}
