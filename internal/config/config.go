// Package config loads gateway configuration from an optional YAML file,
// applies environment overrides, and validates the result into warnings
// rather than failures.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fennwick/voicefloor/internal/timeout"
)

// EnvPrefix is the namespace prefix for all Voicefloor environment variables.
const EnvPrefix = "VOICEFLOOR_"

// WarningBeforeSeconds is how long before either deadline a timeout warning
// is emitted. Fixed by the protocol, not configurable.
const WarningBeforeSeconds = 60

// maxTimeoutMinutes bounds both timeout axes.
const maxTimeoutMinutes = 120

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	Addr                    string `yaml:"addr"`
	LogLevel                string `yaml:"log_level"`
	SessionTimeoutMinutes   int    `yaml:"session_timeout_minutes"`
	SilenceTimeoutMinutes   int    `yaml:"silence_timeout_minutes"`
	AllowSessionExtend      bool   `yaml:"allow_session_extend"`
	EnrollmentWindowSeconds int    `yaml:"enrollment_window_seconds"`
	AudioSampleRate         int    `yaml:"audio_sample_rate"`
	OpenAIModel             string `yaml:"openai_model"`

	// Secrets come from env vars only, never from the YAML file.
	DeepgramAPIKey string `yaml:"-"`
	OpenAIAPIKey   string `yaml:"-"`
}

func defaults() Config {
	return Config{
		Addr:                    ":8080",
		LogLevel:                "info",
		SessionTimeoutMinutes:   15,
		SilenceTimeoutMinutes:   5,
		AllowSessionExtend:      true,
		EnrollmentWindowSeconds: 30,
		AudioSampleRate:         16000,
		OpenAIModel:             "gpt-4o-mini",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// TimeoutConfig converts the minute-based settings into the engine's
// config. A zero minute value disables that axis.
func (c *Config) TimeoutConfig() timeout.Config {
	return timeout.Config{
		SessionTimeout: time.Duration(c.SessionTimeoutMinutes) * time.Minute,
		SilenceTimeout: time.Duration(c.SilenceTimeoutMinutes) * time.Minute,
		WarningBefore:  WarningBeforeSeconds * time.Second,
		AllowExtend:    c.AllowSessionExtend,
	}
}

// EnrollmentWindow returns the matching-phase duration for enroll actions.
func (c *Config) EnrollmentWindow() time.Duration {
	return time.Duration(c.EnrollmentWindowSeconds) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "SESSION_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			cfg.SessionTimeoutMinutes = n
		}
	}
	if v := os.Getenv(EnvPrefix + "SILENCE_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			cfg.SilenceTimeoutMinutes = n
		}
	}
	if v := os.Getenv(EnvPrefix + "ALLOW_SESSION_EXTEND"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.AllowSessionExtend = b
		}
	}
	if v := os.Getenv(EnvPrefix + "ENROLLMENT_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.EnrollmentWindowSeconds = n
		}
	}
	if v := os.Getenv(EnvPrefix + "AUDIO_SAMPLE_RATE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.AudioSampleRate = n
		}
	}
	if v := os.Getenv(EnvPrefix + "OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured, live transcription is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	if cfg.OpenAIAPIKey == "" {
		warnings = append(warnings, "OpenAI API key not configured, session summaries are disabled. Set "+EnvPrefix+"OPENAI_API_KEY.")
	}

	warnings = append(warnings, clampTimeout(&cfg.SessionTimeoutMinutes, "session_timeout_minutes")...)
	warnings = append(warnings, clampTimeout(&cfg.SilenceTimeoutMinutes, "silence_timeout_minutes")...)

	if cfg.EnrollmentWindowSeconds <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid enrollment_window_seconds %d, using default 30.", cfg.EnrollmentWindowSeconds))
		cfg.EnrollmentWindowSeconds = 30
	}

	return warnings
}

// clampTimeout forces a timeout axis into [1,120] minutes, with 0 meaning
// disabled.
func clampTimeout(minutes *int, name string) []string {
	switch {
	case *minutes < 0:
		w := fmt.Sprintf("Invalid %s %d, disabling that timeout.", name, *minutes)
		*minutes = 0
		return []string{w}
	case *minutes > maxTimeoutMinutes:
		w := fmt.Sprintf("%s %d exceeds the maximum, using %d.", name, *minutes, maxTimeoutMinutes)
		*minutes = maxTimeoutMinutes
		return []string{w}
	}
	return nil
}
