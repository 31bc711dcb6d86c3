package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"polycast/pkg/database"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Env       string           `json:"env"`
	LogLevel  string           `json:"log_level"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Rooms     *RoomsConfig     `json:"rooms"`
	Database  *DatabaseConfig  `json:"database"`
	Admin     *AdminConfig     `json:"admin"`
	Speech    *SpeechConfig    `json:"speech"`
	Mode      *ModeConfig      `json:"mode"`
}

type HTTPConfig struct {
	Port           int           `json:"port"`
	Host           string        `json:"host"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

// FUNCTIONAL DISCOVERY: WebSocket configuration optimized for classroom scenarios
type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
	JoinTimeout    time.Duration `json:"join_timeout"`
	MaxMessageSize int64         `json:"max_message_size"`
}

// RoomsConfig covers room lifetime and content routing.
type RoomsConfig struct {
	MaxAge          time.Duration `json:"max_age"`
	ExpiryInterval  time.Duration `json:"expiry_interval"`
	TranscriptLimit int           `json:"transcript_limit"`
	DefaultLanguage string        `json:"default_language"`
	StudentLanguage string        `json:"student_language"`
	PivotLanguage   string        `json:"pivot_language"`
	RateLimit       int           `json:"rate_limit"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// DatabaseConfig is the store configuration plus the per-operation timeout.
type DatabaseConfig struct {
	database.Config
	Timeout time.Duration `json:"timeout"`
}

type AdminConfig struct {
	Key string `json:"-"`
}

type SpeechConfig struct {
	APIKey             string        `json:"-"`
	BaseURL            string        `json:"base_url"`
	TranscriptionModel string        `json:"transcription_model"`
	TranslationModel   string        `json:"translation_model"`
	Timeout            time.Duration `json:"timeout"`
	CacheTTL           time.Duration `json:"cache_ttl"`
}

type ModeConfig struct {
	Path string `json:"path"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults based on classroom requirements
func DefaultConfig() *Config {
	return &Config{
		Env:      "development",
		LogLevel: "info",
		HTTP: &HTTPConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			WriteTimeout:   5 * time.Second,
			BufferSize:     100,
			JoinTimeout:    60 * time.Second,
			MaxMessageSize: 10 << 20,
		},
		Rooms: &RoomsConfig{
			MaxAge:          60 * time.Minute,
			ExpiryInterval:  60 * time.Second,
			TranscriptLimit: 50,
			DefaultLanguage: "Spanish",
			StudentLanguage: "Spanish",
			PivotLanguage:   "English",
			RateLimit:       100,
			CleanupInterval: 5 * time.Minute,
		},
		Database: &DatabaseConfig{
			Config:  *database.DefaultConfig(),
			Timeout: 5 * time.Second,
		},
		Admin: &AdminConfig{},
		Speech: &SpeechConfig{
			BaseURL:            "https://api.openai.com/v1",
			TranscriptionModel: "whisper-1",
			TranslationModel:   "gpt-4o-mini",
			Timeout:            30 * time.Second,
			CacheTTL:           time.Hour,
		},
		Mode: &ModeConfig{Path: "./data/mode.json"},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Rooms == nil || c.Database == nil ||
		c.Admin == nil || c.Speech == nil || c.Mode == nil {
		return errors.New("every configuration section is required")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.JoinTimeout <= 0 {
		return fmt.Errorf("WebSocket join timeout must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	if c.Rooms.MaxAge <= 0 || c.Rooms.ExpiryInterval <= 0 || c.Rooms.CleanupInterval <= 0 {
		return fmt.Errorf("room intervals must be positive")
	}
	if c.Rooms.TranscriptLimit <= 0 {
		return fmt.Errorf("transcript limit must be positive")
	}
	if c.Rooms.RateLimit <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.Rooms.DefaultLanguage == "" || c.Rooms.StudentLanguage == "" || c.Rooms.PivotLanguage == "" {
		return fmt.Errorf("room languages cannot be empty")
	}

	if err := c.Database.Config.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if strings.TrimSpace(c.Speech.APIKey) == "" {
		return fmt.Errorf("speech API key is required (POLYCAST_SPEECH_API_KEY or OPENAI_API_KEY)")
	}
	if c.Speech.BaseURL == "" {
		return fmt.Errorf("speech base URL cannot be empty")
	}
	if c.Speech.Timeout <= 0 || c.Speech.CacheTTL <= 0 {
		return fmt.Errorf("speech timeouts must be positive")
	}

	return nil
}

// IsDevelopment reports whether the process runs in a development environment.
func (c *Config) IsDevelopment() bool {
	switch c.Env {
	case "", "dev", "development", "local":
		return true
	}
	return false
}

// Address is the HTTP listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// envLookup reads the first non-empty variable among keys.
func envLookup(keys ...string) (string, bool) {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v, true
		}
	}
	return "", false
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// A .env file in the working directory is loaded first when present; real
// environment variables win over it.
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(c *Config) error {
	var errs []error

	str := func(dst *string, keys ...string) {
		if v, ok := envLookup(keys...); ok {
			*dst = v
		}
	}
	integer := func(dst *int, keys ...string) {
		if v, ok := envLookup(keys...); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", keys[0], err))
				return
			}
			*dst = n
		}
	}
	duration := func(dst *time.Duration, keys ...string) {
		if v, ok := envLookup(keys...); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", keys[0], err))
				return
			}
			*dst = d
		}
	}

	str(&c.Env, "POLYCAST_ENV", "ENV")
	str(&c.LogLevel, "POLYCAST_LOG_LEVEL")

	integer(&c.HTTP.Port, "POLYCAST_HTTP_PORT", "PORT")
	str(&c.HTTP.Host, "POLYCAST_HTTP_HOST")
	duration(&c.HTTP.ReadTimeout, "POLYCAST_HTTP_READ_TIMEOUT")
	duration(&c.HTTP.WriteTimeout, "POLYCAST_HTTP_WRITE_TIMEOUT")
	if v, ok := envLookup("POLYCAST_HTTP_ALLOWED_ORIGINS"); ok {
		c.HTTP.AllowedOrigins = splitList(v)
	}

	duration(&c.WebSocket.PingInterval, "POLYCAST_WEBSOCKET_PING_INTERVAL")
	duration(&c.WebSocket.WriteTimeout, "POLYCAST_WEBSOCKET_WRITE_TIMEOUT")
	integer(&c.WebSocket.BufferSize, "POLYCAST_WEBSOCKET_BUFFER_SIZE")
	duration(&c.WebSocket.JoinTimeout, "POLYCAST_WEBSOCKET_JOIN_TIMEOUT")

	duration(&c.Rooms.MaxAge, "POLYCAST_ROOMS_MAX_AGE")
	duration(&c.Rooms.ExpiryInterval, "POLYCAST_ROOMS_EXPIRY_INTERVAL")
	str(&c.Rooms.DefaultLanguage, "POLYCAST_ROOMS_DEFAULT_LANGUAGE")
	integer(&c.Rooms.RateLimit, "POLYCAST_ROOMS_RATE_LIMIT")

	str(&c.Database.Driver, "POLYCAST_DATABASE_DRIVER")
	str(&c.Database.DatabasePath, "POLYCAST_DATABASE_PATH")
	str(&c.Database.RedisURL, "POLYCAST_REDIS_URL", "REDIS_URL")
	duration(&c.Database.RecordTTL, "POLYCAST_DATABASE_RECORD_TTL")
	duration(&c.Database.Timeout, "POLYCAST_DATABASE_TIMEOUT")

	str(&c.Admin.Key, "POLYCAST_ADMIN_KEY", "ADMIN_KEY")

	str(&c.Speech.APIKey, "POLYCAST_SPEECH_API_KEY", "OPENAI_API_KEY")
	str(&c.Speech.BaseURL, "POLYCAST_SPEECH_BASE_URL")
	str(&c.Speech.TranscriptionModel, "POLYCAST_SPEECH_TRANSCRIPTION_MODEL")
	str(&c.Speech.TranslationModel, "POLYCAST_SPEECH_TRANSLATION_MODEL")
	duration(&c.Speech.Timeout, "POLYCAST_SPEECH_TIMEOUT")
	duration(&c.Speech.CacheTTL, "POLYCAST_SPEECH_CACHE_TTL")

	str(&c.Mode.Path, "POLYCAST_MODE_FILE")

	return errors.Join(errs...)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Env       string               `json:"env"`
	LogLevel  string               `json:"log_level"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Rooms     *RoomsConfigFile     `json:"rooms"`
	Database  *DatabaseConfigFile  `json:"database"`
	Speech    *SpeechConfigFile    `json:"speech"`
	Mode      *ModeConfig          `json:"mode"`
}

type HTTPConfigFile struct {
	Port           int      `json:"port"`
	Host           string   `json:"host"`
	ReadTimeout    string   `json:"read_timeout"`
	WriteTimeout   string   `json:"write_timeout"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type WebSocketConfigFile struct {
	PingInterval   string `json:"ping_interval"`
	WriteTimeout   string `json:"write_timeout"`
	BufferSize     int    `json:"buffer_size"`
	JoinTimeout    string `json:"join_timeout"`
	MaxMessageSize int64  `json:"max_message_size"`
}

type RoomsConfigFile struct {
	MaxAge          string `json:"max_age"`
	ExpiryInterval  string `json:"expiry_interval"`
	TranscriptLimit int    `json:"transcript_limit"`
	DefaultLanguage string `json:"default_language"`
	StudentLanguage string `json:"student_language"`
	PivotLanguage   string `json:"pivot_language"`
	RateLimit       int    `json:"rate_limit"`
	CleanupInterval string `json:"cleanup_interval"`
}

type DatabaseConfigFile struct {
	Driver    string `json:"driver"`
	Path      string `json:"path"`
	RedisURL  string `json:"redis_url"`
	RecordTTL string `json:"record_ttl"`
	Timeout   string `json:"timeout"`
}

type SpeechConfigFile struct {
	BaseURL            string `json:"base_url"`
	TranscriptionModel string `json:"transcription_model"`
	TranslationModel   string `json:"translation_model"`
	Timeout            string `json:"timeout"`
	CacheTTL           string `json:"cache_ttl"`
}

// applyFile overlays the values set in a JSON file. Secrets are never read
// from files.
func applyFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var errs []error
	str := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	integer := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	duration := func(dst *time.Duration, field, v string) {
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		*dst = d
	}

	str(&c.Env, file.Env)
	str(&c.LogLevel, file.LogLevel)

	if f := file.HTTP; f != nil {
		integer(&c.HTTP.Port, f.Port)
		str(&c.HTTP.Host, f.Host)
		duration(&c.HTTP.ReadTimeout, "http.read_timeout", f.ReadTimeout)
		duration(&c.HTTP.WriteTimeout, "http.write_timeout", f.WriteTimeout)
		if len(f.AllowedOrigins) > 0 {
			c.HTTP.AllowedOrigins = f.AllowedOrigins
		}
	}

	if f := file.WebSocket; f != nil {
		duration(&c.WebSocket.PingInterval, "websocket.ping_interval", f.PingInterval)
		duration(&c.WebSocket.WriteTimeout, "websocket.write_timeout", f.WriteTimeout)
		integer(&c.WebSocket.BufferSize, f.BufferSize)
		duration(&c.WebSocket.JoinTimeout, "websocket.join_timeout", f.JoinTimeout)
		if f.MaxMessageSize > 0 {
			c.WebSocket.MaxMessageSize = f.MaxMessageSize
		}
	}

	if f := file.Rooms; f != nil {
		duration(&c.Rooms.MaxAge, "rooms.max_age", f.MaxAge)
		duration(&c.Rooms.ExpiryInterval, "rooms.expiry_interval", f.ExpiryInterval)
		integer(&c.Rooms.TranscriptLimit, f.TranscriptLimit)
		str(&c.Rooms.DefaultLanguage, f.DefaultLanguage)
		str(&c.Rooms.StudentLanguage, f.StudentLanguage)
		str(&c.Rooms.PivotLanguage, f.PivotLanguage)
		integer(&c.Rooms.RateLimit, f.RateLimit)
		duration(&c.Rooms.CleanupInterval, "rooms.cleanup_interval", f.CleanupInterval)
	}

	if f := file.Database; f != nil {
		str(&c.Database.Driver, f.Driver)
		str(&c.Database.DatabasePath, f.Path)
		str(&c.Database.RedisURL, f.RedisURL)
		duration(&c.Database.RecordTTL, "database.record_ttl", f.RecordTTL)
		duration(&c.Database.Timeout, "database.timeout", f.Timeout)
	}

	if f := file.Speech; f != nil {
		str(&c.Speech.BaseURL, f.BaseURL)
		str(&c.Speech.TranscriptionModel, f.TranscriptionModel)
		str(&c.Speech.TranslationModel, f.TranslationModel)
		duration(&c.Speech.Timeout, "speech.timeout", f.Timeout)
		duration(&c.Speech.CacheTTL, "speech.cache_ttl", f.CacheTTL)
	}

	if file.Mode != nil {
		str(&c.Mode.Path, file.Mode.Path)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid values in config file %s: %w", path, err)
	}
	return nil
}

// Load builds the runtime configuration.
// FUNCTIONAL DISCOVERY: Configuration precedence: environment > file > defaults,
// so secrets and per-deployment overrides never need to live in the file
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	config := DefaultConfig()
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(config); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
