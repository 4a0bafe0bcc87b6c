package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/echoshell-dev/echoshell/internal/headless"
)

// AgentConfig is the workstation binary's external surface (spec.md §6).
type AgentConfig struct {
	WorkRootPath string // WORK_ROOT_PATH; loaded here, not consulted when sessions are created

	Headless headless.Config

	AgentProvider    string // AGENT_PROVIDER, e.g. "openai"
	AgentAPIKey      string // AGENT_API_KEY
	AgentModelName   string // AGENT_MODEL_NAME
	AgentBaseURL     string // AGENT_BASE_URL
	AgentTemperature float64 // AGENT_TEMPERATURE

	LogLevel string // LOG_LEVEL, default "info"

	RelayBaseURL        string // base HTTP(S) URL of the relay, used for POST /tunnel/create
	RelayRegistrationKey string // sent as X-API-Key when registering the tunnel
}

// LoadAgent reads the workstation's env-var surface spec.md §6 names.
// Unlike LoadRelay, nothing here is required at process start — a missing
// relay URL just means the tunnel never connects, which the caller
// reports, not LoadAgent itself.
func LoadAgent() AgentConfig {
	return AgentConfig{
		WorkRootPath: os.Getenv("WORK_ROOT_PATH"),
		Headless: headless.Config{
			ClaudeBin:       os.Getenv("CLAUDE_HEADLESS_BIN"),
			CursorBin:       os.Getenv("CURSOR_HEADLESS_BIN"),
			ClaudeExtraArgs: splitArgs(os.Getenv("CLAUDE_HEADLESS_EXTRA_ARGS")),
			CursorExtraArgs: splitArgs(os.Getenv("CURSOR_HEADLESS_EXTRA_ARGS")),
		},
		AgentProvider:        os.Getenv("AGENT_PROVIDER"),
		AgentAPIKey:          os.Getenv("AGENT_API_KEY"),
		AgentModelName:       os.Getenv("AGENT_MODEL_NAME"),
		AgentBaseURL:         os.Getenv("AGENT_BASE_URL"),
		AgentTemperature:     floatEnvOr("AGENT_TEMPERATURE", 0.7),
		LogLevel:             envOr("LOG_LEVEL", "info"),
		RelayBaseURL:         os.Getenv("RELAY_URL"),
		RelayRegistrationKey: os.Getenv("RELAY_REGISTRATION_KEY"),
	}
}

// splitArgs splits a shell-style space-separated extra-args env var.
// Quoting isn't supported — CLAUDE_HEADLESS_EXTRA_ARGS and
// CURSOR_HEADLESS_EXTRA_ARGS are meant for simple flags like
// "--max-turns 5", not arguments containing spaces.
func splitArgs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

func floatEnvOr(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
