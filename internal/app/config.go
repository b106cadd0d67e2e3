package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	LogLevel    string
	LogFormat   string // "json" or "console"
	SentryDSN   string
	Environment string

	// Transcription
	DeepgramAPIKey    string
	STTLanguage       string
	STTModel          string
	STTEndpointingMs  int
	STTUtteranceEndMs int

	// Microphone capture (ffmpeg)
	AudioInputFormat string
	AudioDevice      string
	AudioSampleRate  int

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Notifications
	DiscordWebhookURL string
	APNsKeyPath       string
	APNsKeyID         string
	APNsTeamID        string
	APNsBundleID      string
	APNsProduction    bool

	EventRetention time.Duration
	ShutdownGrace  time.Duration

	// ConfigFile is the file that was loaded, empty when none was found.
	ConfigFile string
}

type fileConfig struct {
	HTTPAddr          string `toml:"http_addr"`
	DatabaseURL       string `toml:"database_url"`
	LogLevel          string `toml:"log_level"`
	LogFormat         string `toml:"log_format"`
	SentryDSN         string `toml:"sentry_dsn"`
	Environment       string `toml:"environment"`
	DeepgramAPIKey    string `toml:"deepgram_api_key"`
	STTLanguage       string `toml:"stt_language"`
	STTModel          string `toml:"stt_model"`
	STTEndpointingMs  int    `toml:"stt_endpointing_ms"`
	STTUtteranceEndMs int    `toml:"stt_utterance_end_ms"`
	AudioInputFormat  string `toml:"audio_input_format"`
	AudioDevice       string `toml:"audio_device"`
	AudioSampleRate   int    `toml:"audio_sample_rate"`
	JWTSecret         string `toml:"jwt_secret"`
	JWTExpiry         string `toml:"jwt_expiry"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	APNsKeyPath       string `toml:"apns_key_path"`
	APNsKeyID         string `toml:"apns_key_id"`
	APNsTeamID        string `toml:"apns_team_id"`
	APNsBundleID      string `toml:"apns_bundle_id"`
	APNsProduction    bool   `toml:"apns_production"`
	EventRetention    string `toml:"event_retention"`
	ShutdownGrace     string `toml:"shutdown_grace"`
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:          ":8080",
		LogLevel:          "info",
		LogFormat:         "json",
		Environment:       "development",
		STTLanguage:       "en",
		STTModel:          "nova-3",
		STTEndpointingMs:  300,
		STTUtteranceEndMs: 1000,
		AudioSampleRate:   16000,
		JWTExpiry:         24 * time.Hour,
		EventRetention:    30 * 24 * time.Hour,
		ShutdownGrace:     30 * time.Second,
	}
}

// LoadConfig builds the configuration from defaults, the optional TOML file
// and the environment, in that order of precedence.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	if path := configFilePath(); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
		cfg.ConfigFile = path
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	setString(&cfg.HTTPAddr, fc.HTTPAddr)
	setString(&cfg.DatabaseURL, fc.DatabaseURL)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFormat, fc.LogFormat)
	setString(&cfg.SentryDSN, fc.SentryDSN)
	setString(&cfg.Environment, fc.Environment)
	setString(&cfg.DeepgramAPIKey, fc.DeepgramAPIKey)
	setString(&cfg.STTLanguage, fc.STTLanguage)
	setString(&cfg.STTModel, fc.STTModel)
	setString(&cfg.AudioInputFormat, fc.AudioInputFormat)
	setString(&cfg.AudioDevice, fc.AudioDevice)
	setString(&cfg.JWTSecret, fc.JWTSecret)
	setString(&cfg.DiscordWebhookURL, fc.DiscordWebhookURL)
	setString(&cfg.APNsKeyPath, expandTilde(fc.APNsKeyPath))
	setString(&cfg.APNsKeyID, fc.APNsKeyID)
	setString(&cfg.APNsTeamID, fc.APNsTeamID)
	setString(&cfg.APNsBundleID, fc.APNsBundleID)
	if fc.APNsProduction {
		cfg.APNsProduction = true
	}

	if fc.STTEndpointingMs != 0 {
		cfg.STTEndpointingMs = clampInt(fc.STTEndpointingMs, 10, 5000)
	}
	if fc.STTUtteranceEndMs != 0 {
		cfg.STTUtteranceEndMs = clampInt(fc.STTUtteranceEndMs, 0, 5000)
	}
	if fc.AudioSampleRate != 0 {
		cfg.AudioSampleRate = clampInt(fc.AudioSampleRate, 8000, 48000)
	}

	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"jwt_expiry", fc.JWTExpiry, &cfg.JWTExpiry},
		{"event_retention", fc.EventRetention, &cfg.EventRetention},
		{"shutdown_grace", fc.ShutdownGrace, &cfg.ShutdownGrace},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil || v <= 0 {
			return fmt.Errorf("config %s: invalid duration %q", d.name, d.raw)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("LOG_FORMAT", cfg.LogFormat)
	cfg.SentryDSN = getenv("SENTRY_DSN", cfg.SentryDSN)
	cfg.Environment = getenv("ENVIRONMENT", cfg.Environment)

	cfg.DeepgramAPIKey = getenv("DEEPGRAM_API_KEY", cfg.DeepgramAPIKey)
	cfg.STTLanguage = getenv("STT_LANGUAGE", cfg.STTLanguage)
	cfg.STTModel = getenv("STT_MODEL", cfg.STTModel)
	cfg.STTEndpointingMs = getenvIntClamped("STT_ENDPOINTING_MS", cfg.STTEndpointingMs, 10, 5000)
	cfg.STTUtteranceEndMs = getenvIntClamped("STT_UTTERANCE_END_MS", cfg.STTUtteranceEndMs, 0, 5000)

	cfg.AudioInputFormat = getenv("AUDIO_INPUT_FORMAT", cfg.AudioInputFormat)
	cfg.AudioDevice = getenv("AUDIO_DEVICE", cfg.AudioDevice)
	cfg.AudioSampleRate = getenvIntClamped("AUDIO_SAMPLE_RATE", cfg.AudioSampleRate, 8000, 48000)

	// No fallback secret: an empty value disables the authenticated API.
	cfg.JWTSecret = getenv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTExpiry = getenvDuration("JWT_EXPIRY", cfg.JWTExpiry)

	cfg.DiscordWebhookURL = getenv("DISCORD_WEBHOOK_URL", cfg.DiscordWebhookURL)
	cfg.APNsKeyPath = expandTilde(getenv("APNS_KEY_PATH", cfg.APNsKeyPath))
	cfg.APNsKeyID = getenv("APNS_KEY_ID", cfg.APNsKeyID)
	cfg.APNsTeamID = getenv("APNS_TEAM_ID", cfg.APNsTeamID)
	cfg.APNsBundleID = getenv("APNS_BUNDLE_ID", cfg.APNsBundleID)
	cfg.APNsProduction = getenvBool("APNS_PRODUCTION", cfg.APNsProduction)

	cfg.EventRetention = getenvDuration("EVENT_RETENTION", cfg.EventRetention)
	cfg.ShutdownGrace = getenvDuration("SHUTDOWN_GRACE", cfg.ShutdownGrace)
}

// configFilePath returns $SYNCUP_CONFIG, or config.toml under the XDG config
// directory when it exists.
func configFilePath() string {
	if p := os.Getenv("SYNCUP_CONFIG"); p != "" {
		return expandTilde(p)
	}

	var configDir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "syncup")
	} else if home, err := os.UserHomeDir(); err == nil {
		configDir = filepath.Join(home, ".config", "syncup")
	} else {
		return ""
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntClamped(k string, def, min, max int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return clampInt(n, min, max)
}

func clampInt(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
