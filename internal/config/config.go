// Package config loads kiosk settings from defaults, an optional YAML file,
// a .env file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	GeneratorGemini = "gemini"
	GeneratorGroq   = "groq"

	AudioBackendMiniaudio = "miniaudio"
	AudioBackendPortaudio = "portaudio"

	PlaybackBackendDevice = "device"
	PlaybackBackendOto    = "oto"
)

var (
	ErrMissingAPIKey = errors.New("missing API key")
	ErrInvalid       = errors.New("invalid configuration")
)

type Config struct {
	GoogleAPIKey string `yaml:"-"`
	GroqAPIKey   string `yaml:"-"`

	Live      LiveConfig      `yaml:"live"`
	Audio     AudioConfig     `yaml:"audio"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Panel     PanelConfig     `yaml:"panel"`

	HTTPAddress string `yaml:"http_address"`
	LogFile     string `yaml:"log_file"`
}

type LiveConfig struct {
	Endpoint          string `yaml:"endpoint"`
	Model             string `yaml:"model"`
	Voice             string `yaml:"voice"`
	SystemInstruction string `yaml:"system_instruction"`
	ResponseModality  string `yaml:"response_modality"`
}

type AudioConfig struct {
	Backend         string        `yaml:"backend"`
	Playback        string        `yaml:"playback"`
	FrameSamples    int           `yaml:"frame_samples"`
	CaptureBuffer   int           `yaml:"capture_buffer"`
	PlaybackQueue   int           `yaml:"playback_queue"`
	OverrunTimeout  time.Duration `yaml:"overrun_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RetrievalConfig struct {
	IndexPath       string        `yaml:"index_path"`
	DocumentsDir    string        `yaml:"documents_dir"`
	ChunkSize       int           `yaml:"chunk_size"`
	TopK            int           `yaml:"top_k"`
	Timeout         time.Duration `yaml:"timeout"`
	Generator       string        `yaml:"generator"`
	GenerationModel string        `yaml:"generation_model"`
	EmbeddingModel  string        `yaml:"embedding_model"`
}

type PanelConfig struct {
	Path string `yaml:"path"`
}

const defaultSystemInstruction = "You are a friendly kiosk assistant. Keep answers short. " +
	"Use search_documents for questions about this place and its information, " +
	"and tell the visitor the full answer is on the screen."

// Default returns the built-in settings. An empty generation model leaves
// the choice to the configured generator.
func Default() Config {
	return Config{
		Live: LiveConfig{
			Model:             "models/gemini-2.0-flash-exp",
			Voice:             "Puck",
			SystemInstruction: defaultSystemInstruction,
			ResponseModality:  "AUDIO",
		},
		Audio: AudioConfig{
			Backend:         AudioBackendMiniaudio,
			Playback:        PlaybackBackendDevice,
			FrameSamples:    1024,
			CaptureBuffer:   16,
			PlaybackQueue:   32,
			OverrunTimeout:  2 * time.Second,
			ShutdownTimeout: 3 * time.Second,
		},
		Retrieval: RetrievalConfig{
			IndexPath:      "data/index.bolt",
			DocumentsDir:   "documents",
			ChunkSize:      1000,
			TopK:           5,
			Timeout:        10 * time.Second,
			Generator:      GeneratorGemini,
			EmbeddingModel: "text-embedding-004",
		},
		Panel: PanelConfig{Path: "data/panel.md"},
	}
}

// Load builds the configuration. path names an optional YAML file; a
// missing .env file is not an error.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.GoogleAPIKey = getEnv("GOOGLE_API_KEY", getEnv("GEMINI_API_KEY", c.GoogleAPIKey))
	c.GroqAPIKey = getEnv("GROQ_API_KEY", c.GroqAPIKey)

	c.Live.Model = getEnv("EMA_LIVE_MODEL", c.Live.Model)
	c.Live.Voice = getEnv("EMA_LIVE_VOICE", c.Live.Voice)
	c.Audio.Backend = getEnv("EMA_AUDIO_BACKEND", c.Audio.Backend)
	c.Audio.Playback = getEnv("EMA_AUDIO_PLAYBACK", c.Audio.Playback)
	c.Retrieval.IndexPath = getEnv("EMA_INDEX_PATH", c.Retrieval.IndexPath)
	c.Retrieval.DocumentsDir = getEnv("EMA_DOCUMENTS_DIR", c.Retrieval.DocumentsDir)
	c.Retrieval.Generator = getEnv("EMA_GENERATOR", c.Retrieval.Generator)
	c.Panel.Path = getEnv("EMA_PANEL_PATH", c.Panel.Path)
	c.HTTPAddress = getEnv("EMA_HTTP_ADDRESS", c.HTTPAddress)
	c.LogFile = getEnv("EMA_LOG_FILE", c.LogFile)

	if topK, err := strconv.Atoi(os.Getenv("EMA_TOP_K")); err == nil {
		c.Retrieval.TopK = topK
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.GoogleAPIKey == "" {
		errs = append(errs, fmt.Errorf("%w: GOOGLE_API_KEY is required", ErrMissingAPIKey))
	}

	switch c.Retrieval.Generator {
	case GeneratorGemini:
	case GeneratorGroq:
		if c.GroqAPIKey == "" {
			errs = append(errs, fmt.Errorf("%w: GROQ_API_KEY is required for the groq generator", ErrMissingAPIKey))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown generator %q", ErrInvalid, c.Retrieval.Generator))
	}

	switch c.Audio.Backend {
	case AudioBackendMiniaudio, AudioBackendPortaudio:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown audio backend %q", ErrInvalid, c.Audio.Backend))
	}
	switch c.Audio.Playback {
	case PlaybackBackendDevice, PlaybackBackendOto:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown playback backend %q", ErrInvalid, c.Audio.Playback))
	}

	if c.Audio.FrameSamples <= 0 || c.Audio.PlaybackQueue <= 0 || c.Audio.CaptureBuffer <= 0 {
		errs = append(errs, fmt.Errorf("%w: audio sizes must be positive", ErrInvalid))
	}
	if c.Retrieval.TopK <= 0 || c.Retrieval.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: retrieval top_k and chunk_size must be positive", ErrInvalid))
	}
	if c.Retrieval.IndexPath == "" {
		errs = append(errs, fmt.Errorf("%w: retrieval index_path is required", ErrInvalid))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
