package config

import (
	"log/slog"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Remote  RemoteConfig
	Reply   ReplyConfig
	Console ConsoleConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

// RemoteConfig configures the OpenAI-compatible chat-completion endpoint
// used by connected model integrations.
type RemoteConfig struct {
	BaseURL string
	Timeout time.Duration
}

type ReplyConfig struct {
	// HistoryWindow is the number of trailing messages sent as context for
	// customer replies.
	HistoryWindow int
	FallbackDelay time.Duration
}

type ConsoleConfig struct {
	AgentName string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Remote: RemoteConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Timeout: 60 * time.Second,
		},
		Reply: ReplyConfig{
			HistoryWindow: 5,
			FallbackDelay: 500 * time.Millisecond,
		},
		Console: ConsoleConfig{
			AgentName: "Support Agent",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/helpdesk/config.json. Environment variables
// (HELPDESK_*) override file values.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// SlogLevel maps Log.Level to a slog level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
