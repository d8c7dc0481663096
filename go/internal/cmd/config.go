package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	SandboxModeProcess = "process"
	SandboxModeRemote  = "remote"

	PuzzleSelectionFixed  = "fixed"
	PuzzleSelectionRandom = "random"
)

type Config struct {
	Port           string
	LogLevel       zerolog.Level
	AllowedOrigins []string

	SubmissionWindow  time.Duration
	RoomResolvedTTL   time.Duration
	RoomIdleTTL       time.Duration
	RoomSweepInterval time.Duration

	PuzzlesFile     string
	PuzzleSelection string

	Sandbox SandboxConfig

	NATSURL           string
	NATSSubjectPrefix string
}

type SandboxConfig struct {
	Mode        string
	URL         string
	APIKey      string
	Timeout     time.Duration
	Command     string
	CaseTimeout time.Duration
	// StartupTimeout is the interpreter startup allowance on top of CaseTimeout.
	StartupTimeout time.Duration
}

func loadConfig() (*Config, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(getEnv("LOG_LEVEL", "info")))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		LogLevel:          level,
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "*")),
		SubmissionWindow:  getEnvAsDuration("SUBMISSION_WINDOW", 60*time.Second),
		RoomResolvedTTL:   getEnvAsDuration("ROOM_RESOLVED_TTL", 10*time.Minute),
		RoomIdleTTL:       getEnvAsDuration("ROOM_IDLE_TTL", 2*time.Hour),
		RoomSweepInterval: getEnvAsDuration("ROOM_SWEEP_INTERVAL", time.Minute),
		PuzzlesFile:       getEnv("PUZZLES_FILE", ""),
		PuzzleSelection:   getEnv("PUZZLE_SELECTION", PuzzleSelectionFixed),
		Sandbox: SandboxConfig{
			Mode:           getEnv("SANDBOX_MODE", SandboxModeProcess),
			URL:            getEnv("SANDBOX_URL", ""),
			APIKey:         getEnv("SANDBOX_API_KEY", ""),
			Timeout:        getEnvAsDuration("SANDBOX_TIMEOUT", 30*time.Second),
			Command:        getEnv("SANDBOX_COMMAND", "node"),
			CaseTimeout:    getEnvAsDuration("SANDBOX_CASE_TIMEOUT", 300*time.Millisecond),
			StartupTimeout: getEnvAsDuration("SANDBOX_STARTUP_TIMEOUT", 2*time.Second),
		},
		NATSURL:           getEnv("NATS_URL", ""),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "duel.events"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SubmissionWindow <= 0 {
		return fmt.Errorf("SUBMISSION_WINDOW must be positive")
	}
	switch c.PuzzleSelection {
	case PuzzleSelectionFixed, PuzzleSelectionRandom:
	default:
		return fmt.Errorf("unknown PUZZLE_SELECTION %q", c.PuzzleSelection)
	}
	switch c.Sandbox.Mode {
	case SandboxModeProcess:
	case SandboxModeRemote:
		if c.Sandbox.URL == "" {
			return fmt.Errorf("SANDBOX_URL is required when SANDBOX_MODE=remote")
		}
	default:
		return fmt.Errorf("unknown SANDBOX_MODE %q", c.Sandbox.Mode)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs := getEnvAsInt(key, -1); secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
