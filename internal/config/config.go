package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"nori/internal/correct"
	"nori/internal/detect"
	"nori/internal/domain"
)

// Config stores runtime configuration for the widget backend.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Deepgram    DeepgramConfig    `yaml:"deepgram"`
	Audio       AudioConfig       `yaml:"audio"`
	Capture     CaptureConfig     `yaml:"capture"`
	Corrections CorrectionsConfig `yaml:"corrections"`
	Identity    IdentityConfig    `yaml:"identity"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	ApologyText string            `yaml:"apology_text" validate:"required"`
}

type ServiceConfig struct {
	BaseURL        string        `yaml:"base_url" validate:"required,url"`
	AskPath        string        `yaml:"ask_path" validate:"required,startswith=/"`
	FeedbackPath   string        `yaml:"feedback_path" validate:"required,startswith=/"`
	TranscribePath string        `yaml:"transcribe_path" validate:"required,startswith=/"`
	HealthPath     string        `yaml:"health_path" validate:"required,startswith=/"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

type DeepgramConfig struct {
	APIKey      string `yaml:"api_key"`
	APIBaseURL  string `yaml:"api_base" validate:"required,url"`
	Model       string `yaml:"model" validate:"required"`
	SmartFormat bool   `yaml:"smart_format"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"recorder_command" validate:"required"`
	InputFormat     string `yaml:"input_format" validate:"required"`
	InputDevice     string `yaml:"input_device" validate:"required"`
	SampleRate      int    `yaml:"sample_rate" validate:"gt=0"`
	Channels        int    `yaml:"channels" validate:"gt=0"`
	ChunkSize       int    `yaml:"chunk_size" validate:"gte=256"`
}

type CaptureConfig struct {
	Language       string               `yaml:"language"`
	Formats        []domain.AudioFormat `yaml:"formats" validate:"required,min=1,dive"`
	DenyList       []string             `yaml:"deny_list"`
	StreamingGrace time.Duration        `yaml:"streaming_grace" validate:"gte=0"`
}

type CorrectionsConfig struct {
	Path  string            `yaml:"path"`
	Terms map[string]string `yaml:"terms"`
}

type IdentityConfig struct {
	StorePath string `yaml:"store_path"`
	RedisURL  string `yaml:"redis_url" validate:"omitempty,url"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	File  string `yaml:"file"`
}

// MetricsConfig enables the Prometheus scrape endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// Load resolves configuration from an optional .env file, an optional YAML
// file named by NORI_CONFIG_FILE, environment variables and defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg, err := defaults()
	if err != nil {
		return Config{}, err
	}

	if path := strings.TrimSpace(os.Getenv("NORI_CONFIG_FILE")); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: open %q: %w", path, err)
		}
		err = decodeYAML(f, &cfg)
		_ = f.Close()
		if err != nil {
			return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML over the defaults and validates the result.
// Environment variables are not consulted.
func LoadFromReader(r io.Reader) (Config, error) {
	cfg, err := defaults()
	if err != nil {
		return Config{}, err
	}
	if err := decodeYAML(r, &cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks struct constraints on cfg.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	for i, format := range cfg.Capture.Formats {
		if strings.TrimSpace(format.MimeType) == "" || strings.TrimSpace(format.Extension) == "" {
			return fmt.Errorf("config: capture.formats[%d] needs mime_type and extension", i)
		}
	}
	return nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

func defaults() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	base := filepath.Join(home, ".config", "nori")

	terms := make(map[string]string, len(correct.DefaultTerms))
	for k, v := range correct.DefaultTerms {
		terms[k] = v
	}

	return Config{
		Service: ServiceConfig{
			BaseURL:        "http://localhost:3000",
			AskPath:        "/api/ask",
			FeedbackPath:   "/api/feedback",
			TranscribePath: "/api/transcribe",
			HealthPath:     "/api/health",
			RequestTimeout: 30 * time.Second,
		},
		Deepgram: DeepgramConfig{
			APIBaseURL:  "https://api.deepgram.com/v1",
			Model:       "nova-2",
			SmartFormat: true,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
			ChunkSize:       4096,
		},
		Capture: CaptureConfig{
			Language: "en-US",
			Formats: []domain.AudioFormat{
				{MimeType: "audio/mp4", Extension: "mp4"},
				{MimeType: "audio/webm", Extension: "webm"},
			},
			DenyList:       append([]string(nil), detect.DefaultDenyList...),
			StreamingGrace: time.Second,
		},
		Corrections: CorrectionsConfig{
			Path:  filepath.Join(base, "corrections.rules"),
			Terms: terms,
		},
		Identity: IdentityConfig{
			StorePath: filepath.Join(base, "identity.gob"),
		},
		Log: LogConfig{
			Level: "info",
		},
		ApologyText: domain.DefaultApologyText,
	}, nil
}

func applyEnv(cfg *Config) {
	cfg.Service.BaseURL = envOrDefault("NORI_SERVICE_URL", cfg.Service.BaseURL)
	cfg.Service.RequestTimeout = envOrDefaultDuration("NORI_REQUEST_TIMEOUT", cfg.Service.RequestTimeout)

	cfg.Deepgram.APIKey = envOrDefault("DEEPGRAM_API_KEY", cfg.Deepgram.APIKey)
	cfg.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", cfg.Deepgram.APIBaseURL)
	cfg.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", cfg.Deepgram.Model)
	cfg.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", cfg.Deepgram.SmartFormat)

	cfg.Audio.RecorderCommand = envOrDefault("NORI_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("NORI_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(os.Getenv("NORI_AUDIO_INPUT_DEVICE"), cfg.Audio.InputDevice)
	cfg.Audio.SampleRate = envOrDefaultPositiveInt("NORI_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultPositiveInt("NORI_CHANNELS", cfg.Audio.Channels)
	if size := envOrDefaultInt("NORI_AUDIO_CHUNK_SIZE", cfg.Audio.ChunkSize); size >= 256 {
		cfg.Audio.ChunkSize = size
	}

	cfg.Capture.Language = firstNonEmpty(os.Getenv("NORI_LANGUAGE"), os.Getenv("DEEPGRAM_LANGUAGE"), cfg.Capture.Language)
	if raw := strings.TrimSpace(os.Getenv("NORI_DENY_LIST")); raw != "" {
		cfg.Capture.DenyList = splitList(raw)
	}
	if ms, ok := nonNegativeInt(os.Getenv("NORI_STREAMING_GRACE_MS")); ok {
		cfg.Capture.StreamingGrace = time.Duration(ms) * time.Millisecond
	}

	cfg.Corrections.Path = envOrDefault("NORI_CORRECTIONS_FILE", cfg.Corrections.Path)

	cfg.Identity.StorePath = envOrDefault("NORI_IDENTITY_FILE", cfg.Identity.StorePath)
	cfg.Identity.RedisURL = envOrDefault("NORI_REDIS_URL", cfg.Identity.RedisURL)

	cfg.Log.Level = strings.ToLower(envOrDefault("NORI_LOG_LEVEL", cfg.Log.Level))
	cfg.Log.File = envOrDefault("NORI_LOG_FILE", cfg.Log.File)

	cfg.Metrics.Addr = envOrDefault("NORI_METRICS_ADDR", cfg.Metrics.Addr)

	cfg.ApologyText = envOrDefault("NORI_APOLOGY_TEXT", cfg.ApologyText)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultPositiveInt(key string, fallback int) int {
	if parsed := envOrDefaultInt(key, fallback); parsed > 0 {
		return parsed
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func nonNegativeInt(raw string) (int, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0, false
	}
	return parsed, true
}
