// Package config loads go-murmur configuration from murmur.yaml, MURMUR_* environment
// variables and the well-known provider API key variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. MURMUR_CLIENT_HANDS_FREE.
const EnvPrefix = "MURMUR"

// Config holds all configuration for the murmur client and server.
type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Server    ServerConfig    `mapstructure:"server"`
	Client    ClientConfig    `mapstructure:"client"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Speech    SpeechConfig    `mapstructure:"speech"`
	Store     StoreConfig     `mapstructure:"store"`
	Queue     QueueConfig     `mapstructure:"queue"`
}

// ServerConfig configures the murmurd HTTP and websocket listener.
type ServerConfig struct {
	Addr        string `mapstructure:"addr"`
	CORSOrigins string `mapstructure:"cors_origins"`
}

// ClientConfig configures the voice client.
type ClientConfig struct {
	ServerURL         string        `mapstructure:"server_url"`
	HandsFree         bool          `mapstructure:"hands_free"`
	Debounce          time.Duration `mapstructure:"debounce"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
	HistoryWindow     int           `mapstructure:"history_window"`
	Streaming         bool          `mapstructure:"streaming"`
	ThinkingCue       bool          `mapstructure:"thinking_cue"`
	ClassifyFreeText  bool          `mapstructure:"classify_free_text"`

	// Audio device plumbing. Capture and playback shell out to these commands.
	AudioBackend  string        `mapstructure:"audio_backend"` // "exec" or "mock"
	SampleRate    int           `mapstructure:"sample_rate"`
	RecordCommand string        `mapstructure:"record_command"`
	PlayCommand   string        `mapstructure:"play_command"`
	FallbackVoice string        `mapstructure:"fallback_voice"`
	VADThreshold  float64       `mapstructure:"vad_threshold"`
	VADHangover   time.Duration `mapstructure:"vad_hangover"`
}

// ProvidersConfig configures the AI backends used by the server.
type ProvidersConfig struct {
	GeminiAPIKey string        `mapstructure:"gemini_api_key"`
	GeminiModel  string        `mapstructure:"gemini_model"`
	LocalURL     string        `mapstructure:"local_url"`
	LocalModel   string        `mapstructure:"local_model"`
	LocalAPIKey  string        `mapstructure:"local_api_key"`
	IntentModel  string        `mapstructure:"intent_model"`
	ClaudeBinary string        `mapstructure:"claude_binary"`
	WorkDir      string        `mapstructure:"work_dir"`
	PlanTimeout  time.Duration `mapstructure:"plan_timeout"`
	SearchRoot   string        `mapstructure:"search_root"`
}

// SpeechConfig configures transcription and synthesis.
type SpeechConfig struct {
	OpenAIKey       string `mapstructure:"openai_api_key"`
	WhisperModel    string `mapstructure:"whisper_model"`
	Language        string `mapstructure:"language"`
	TTSModel        string `mapstructure:"tts_model"`
	TTSVoice        string `mapstructure:"tts_voice"`
	ElevenLabsKey   string `mapstructure:"elevenlabs_api_key"`
	ElevenLabsVoice string `mapstructure:"elevenlabs_voice"`
}

// StoreConfig configures the session database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// QueueConfig configures task history retention.
type QueueConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:        ":8000",
			CORSOrigins: "*",
		},
		Client: ClientConfig{
			ServerURL:         "ws://localhost:8000/ws",
			HandsFree:         true,
			Debounce:          1500 * time.Millisecond,
			ReconnectDelay:    time.Second,
			MaxReconnectDelay: 30 * time.Second,
			HistoryWindow:     10,
			Streaming:         true,
			ThinkingCue:       true,
			AudioBackend:      "exec",
			SampleRate:        16000,
			RecordCommand:     "arecord -q -f S16_LE -c 1 -t raw -r {rate}",
			PlayCommand:       "aplay -q -f S16_LE -c {channels} -t raw -r {rate}",
			FallbackVoice:     "espeak",
			VADThreshold:      0.02,
			VADHangover:       600 * time.Millisecond,
		},
		Providers: ProvidersConfig{
			GeminiModel:  "gemini-2.5-flash",
			LocalURL:     "http://localhost:8080/v1",
			LocalModel:   "Qwen/Qwen2.5-72B-Instruct-AWQ",
			IntentModel:  "qwen3-coder-256k",
			ClaudeBinary: "claude",
			WorkDir:      filepath.Join(home, "dev"),
			PlanTimeout:  60 * time.Second,
			SearchRoot:   filepath.Join(home, "dev"),
		},
		Speech: SpeechConfig{
			WhisperModel: "whisper-1",
			Language:     "en",
			TTSModel:     "tts-1",
			TTSVoice:     "nova",
		},
		Store: StoreConfig{
			Path: filepath.Join(home, ".murmur", "murmur.db"),
		},
		Queue: QueueConfig{
			Retention:     24 * time.Hour,
			PruneSchedule: "@every 10m",
		},
	}
}

// Load reads configuration into a fresh viper instance. An empty path searches
// the working directory and $HOME/.murmur for murmur.yaml; a missing file is not an error.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("murmur")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".murmur"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Decode unmarshals v and applies the API key fallbacks from the environment.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyKeyFallbacks()
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve nested overrides.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)

	v.SetDefault("client.server_url", d.Client.ServerURL)
	v.SetDefault("client.hands_free", d.Client.HandsFree)
	v.SetDefault("client.debounce", d.Client.Debounce)
	v.SetDefault("client.reconnect_delay", d.Client.ReconnectDelay)
	v.SetDefault("client.max_reconnect_delay", d.Client.MaxReconnectDelay)
	v.SetDefault("client.history_window", d.Client.HistoryWindow)
	v.SetDefault("client.streaming", d.Client.Streaming)
	v.SetDefault("client.thinking_cue", d.Client.ThinkingCue)
	v.SetDefault("client.classify_free_text", d.Client.ClassifyFreeText)
	v.SetDefault("client.audio_backend", d.Client.AudioBackend)
	v.SetDefault("client.sample_rate", d.Client.SampleRate)
	v.SetDefault("client.record_command", d.Client.RecordCommand)
	v.SetDefault("client.play_command", d.Client.PlayCommand)
	v.SetDefault("client.fallback_voice", d.Client.FallbackVoice)
	v.SetDefault("client.vad_threshold", d.Client.VADThreshold)
	v.SetDefault("client.vad_hangover", d.Client.VADHangover)

	v.SetDefault("providers.gemini_api_key", "")
	v.SetDefault("providers.gemini_model", d.Providers.GeminiModel)
	v.SetDefault("providers.local_url", d.Providers.LocalURL)
	v.SetDefault("providers.local_model", d.Providers.LocalModel)
	v.SetDefault("providers.local_api_key", "")
	v.SetDefault("providers.intent_model", d.Providers.IntentModel)
	v.SetDefault("providers.claude_binary", d.Providers.ClaudeBinary)
	v.SetDefault("providers.work_dir", d.Providers.WorkDir)
	v.SetDefault("providers.plan_timeout", d.Providers.PlanTimeout)
	v.SetDefault("providers.search_root", d.Providers.SearchRoot)

	v.SetDefault("speech.openai_api_key", "")
	v.SetDefault("speech.whisper_model", d.Speech.WhisperModel)
	v.SetDefault("speech.language", d.Speech.Language)
	v.SetDefault("speech.tts_model", d.Speech.TTSModel)
	v.SetDefault("speech.tts_voice", d.Speech.TTSVoice)
	v.SetDefault("speech.elevenlabs_api_key", "")
	v.SetDefault("speech.elevenlabs_voice", "")

	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("queue.retention", d.Queue.Retention)
	v.SetDefault("queue.prune_schedule", d.Queue.PruneSchedule)
}

// ValidateServer checks the settings murmurd cannot run without.
func (c *Config) ValidateServer() error {
	if c.Server.Addr == "" {
		return &ConfigError{Field: "server.addr", Message: "server address is required"}
	}
	if c.Store.Path == "" {
		return &ConfigError{Field: "store.path", Message: "store path is required"}
	}
	if c.Providers.PlanTimeout <= 0 {
		return &ConfigError{Field: "providers.plan_timeout", Message: "plan timeout must be positive"}
	}
	return nil
}

// ValidateClient checks the settings the voice client cannot run without.
func (c *Config) ValidateClient() error {
	u, err := url.Parse(c.Client.ServerURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return &ConfigError{Field: "client.server_url", Message: "server url must be a ws:// or wss:// url"}
	}
	if c.Client.Debounce <= 0 {
		return &ConfigError{Field: "client.debounce", Message: "debounce must be positive"}
	}
	if c.Client.SampleRate <= 0 {
		return &ConfigError{Field: "client.sample_rate", Message: "sample rate must be positive"}
	}
	if c.Client.HistoryWindow < 0 {
		return &ConfigError{Field: "client.history_window", Message: "history window cannot be negative"}
	}
	switch c.Client.AudioBackend {
	case "exec", "mock":
	default:
		return &ConfigError{Field: "client.audio_backend", Message: fmt.Sprintf("unknown audio backend %q", c.Client.AudioBackend)}
	}
	return nil
}

// HTTPBaseURL derives the http(s) base of the server from the websocket url.
func (c *Config) HTTPBaseURL() string {
	u, err := url.Parse(c.Client.ServerURL)
	if err != nil {
		return "http://localhost:8000"
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = ""
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/")
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
