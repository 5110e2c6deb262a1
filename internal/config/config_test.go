package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ADDR", "LOG_LEVEL", "SESSION_TIMEOUT_MINUTES", "SILENCE_TIMEOUT_MINUTES",
		"ALLOW_SESSION_EXTEND", "ENROLLMENT_WINDOW_SECONDS", "AUDIO_SAMPLE_RATE",
		"OPENAI_MODEL", "DEEPGRAM_API_KEY", "OPENAI_API_KEY",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voicefloor.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Addr != ":8080" || cfg.LogLevel != "info" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.SessionTimeoutMinutes != 15 || cfg.SilenceTimeoutMinutes != 5 {
		t.Fatalf("timeout defaults = %d/%d", cfg.SessionTimeoutMinutes, cfg.SilenceTimeoutMinutes)
	}
	if !cfg.AllowSessionExtend || cfg.EnrollmentWindowSeconds != 30 {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadReadsYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
addr: ":9999"
log_level: debug
session_timeout_minutes: 60
silence_timeout_minutes: 10
allow_session_extend: false
enrollment_window_seconds: 45
`)

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Addr != ":9999" || cfg.LogLevel != "debug" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.SessionTimeoutMinutes != 60 || cfg.SilenceTimeoutMinutes != 10 {
		t.Fatalf("timeouts = %d/%d", cfg.SessionTimeoutMinutes, cfg.SilenceTimeoutMinutes)
	}
	if cfg.AllowSessionExtend {
		t.Fatal("allow_session_extend not read from file")
	}
	if cfg.EnrollmentWindowSeconds != 45 {
		t.Fatalf("enrollment window = %d", cfg.EnrollmentWindowSeconds)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "addr: [unclosed")

	if _, _, err := Load(path); err == nil {
		t.Fatal("malformed yaml accepted")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `addr: ":9999"`)
	t.Setenv(EnvPrefix+"ADDR", ":7070")
	t.Setenv(EnvPrefix+"SESSION_TIMEOUT_MINUTES", "45")
	t.Setenv(EnvPrefix+"ALLOW_SESSION_EXTEND", "false")
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "dg-secret")

	cfg, warnings, err := Load(path)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Addr != ":7070" {
		t.Fatalf("addr = %q, env override lost", cfg.Addr)
	}
	if cfg.SessionTimeoutMinutes != 45 || cfg.AllowSessionExtend {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.DeepgramAPIKey != "dg-secret" {
		t.Fatal("secret not loaded from environment")
	}

	for _, w := range warnings {
		if strings.Contains(w, "Deepgram") {
			t.Fatalf("warned about a configured key: %q", w)
		}
	}
}

func TestMissingKeysProduceWarnings(t *testing.T) {
	clearEnv(t)

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load = %v", err)
	}

	var deepgram, openai bool
	for _, w := range warnings {
		if strings.Contains(w, "Deepgram") {
			deepgram = true
		}
		if strings.Contains(w, "OpenAI") {
			openai = true
		}
	}
	if !deepgram || !openai {
		t.Fatalf("warnings = %v, want both missing-key warnings", warnings)
	}
}

func TestTimeoutClamping(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
session_timeout_minutes: 500
silence_timeout_minutes: -3
`)

	cfg, warnings, err := Load(path)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.SessionTimeoutMinutes != 120 {
		t.Fatalf("session timeout = %d, want clamped 120", cfg.SessionTimeoutMinutes)
	}
	if cfg.SilenceTimeoutMinutes != 0 {
		t.Fatalf("silence timeout = %d, want 0 (disabled)", cfg.SilenceTimeoutMinutes)
	}
	if len(warnings) < 2 {
		t.Fatalf("warnings = %v, want clamp warnings for both axes", warnings)
	}
}

func TestInvalidEnrollmentWindowFallsBack(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "enrollment_window_seconds: -5")

	cfg, warnings, err := Load(path)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.EnrollmentWindowSeconds != 30 {
		t.Fatalf("enrollment window = %d, want default 30", cfg.EnrollmentWindowSeconds)
	}
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "enrollment_window_seconds") {
			found = true
		}
	}
	if !found {
		t.Fatalf("warnings = %v, missing enrollment window warning", warnings)
	}
}

func TestTimeoutConfigConversion(t *testing.T) {
	cfg := Config{
		SessionTimeoutMinutes: 15,
		SilenceTimeoutMinutes: 0,
		AllowSessionExtend:    true,
	}

	tc := cfg.TimeoutConfig()
	if tc.SessionTimeout != 15*time.Minute {
		t.Fatalf("session timeout = %v", tc.SessionTimeout)
	}
	if tc.SilenceTimeout != 0 {
		t.Fatalf("silence timeout = %v, want disabled", tc.SilenceTimeout)
	}
	if tc.WarningBefore != WarningBeforeSeconds*time.Second {
		t.Fatalf("warning lead = %v", tc.WarningBefore)
	}
	if !tc.AllowExtend {
		t.Fatal("extension flag lost in conversion")
	}

	if got := cfg.EnrollmentWindow(); got != 0 {
		t.Fatalf("EnrollmentWindow = %v for zero seconds", got)
	}
}
