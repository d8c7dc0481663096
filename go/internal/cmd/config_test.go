package main

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

var configKeys = []string{
	"PORT", "LOG_LEVEL", "ALLOWED_ORIGINS", "SUBMISSION_WINDOW", "ROOM_RESOLVED_TTL",
	"ROOM_IDLE_TTL", "ROOM_SWEEP_INTERVAL", "PUZZLES_FILE", "PUZZLE_SELECTION",
	"SANDBOX_MODE", "SANDBOX_URL", "SANDBOX_API_KEY", "SANDBOX_TIMEOUT",
	"SANDBOX_COMMAND", "SANDBOX_CASE_TIMEOUT", "SANDBOX_STARTUP_TIMEOUT", "NATS_URL",
	"NATS_SUBJECT_PREFIX",
}

// clearEnv blanks every setting; getEnv treats empty as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	want := &Config{
		Port:              "8080",
		LogLevel:          zerolog.InfoLevel,
		AllowedOrigins:    []string{"*"},
		SubmissionWindow:  60 * time.Second,
		RoomResolvedTTL:   10 * time.Minute,
		RoomIdleTTL:       2 * time.Hour,
		RoomSweepInterval: time.Minute,
		PuzzleSelection:   PuzzleSelectionFixed,
		Sandbox: SandboxConfig{
			Mode:           SandboxModeProcess,
			Timeout:        30 * time.Second,
			Command:        "node",
			CaseTimeout:    300 * time.Millisecond,
			StartupTimeout: 2 * time.Second,
		},
		NATSSubjectPrefix: "duel.events",
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("SUBMISSION_WINDOW", "90")
	t.Setenv("ROOM_IDLE_TTL", "30m")
	t.Setenv("SANDBOX_MODE", "remote")
	t.Setenv("SANDBOX_URL", "http://sandbox:8000")
	t.Setenv("PUZZLE_SELECTION", "random")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Port != "9000" || cfg.LogLevel != zerolog.DebugLevel {
		t.Errorf("unexpected port/level: %s %s", cfg.Port, cfg.LogLevel)
	}
	if diff := cmp.Diff([]string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins); diff != "" {
		t.Errorf("origins (-want +got):\n%s", diff)
	}
	if cfg.SubmissionWindow != 90*time.Second || cfg.RoomIdleTTL != 30*time.Minute {
		t.Errorf("unexpected durations: %v %v", cfg.SubmissionWindow, cfg.RoomIdleTTL)
	}
	if cfg.Sandbox.Mode != SandboxModeRemote || cfg.PuzzleSelection != PuzzleSelectionRandom {
		t.Errorf("unexpected modes: %+v", cfg)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"remote without url", map[string]string{"SANDBOX_MODE": "remote"}},
		{"unknown sandbox", map[string]string{"SANDBOX_MODE": "docker"}},
		{"unknown selection", map[string]string{"PUZZLE_SELECTION": "hardest"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
		{"zero window", map[string]string{"SUBMISSION_WINDOW": "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := loadConfig(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
