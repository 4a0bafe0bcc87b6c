package config

import "testing"

func TestLoadAgentDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("AGENT_TEMPERATURE", "")

	cfg := LoadAgent()
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default info", cfg.LogLevel)
	}
	if cfg.AgentTemperature != 0.7 {
		t.Errorf("AgentTemperature = %v, want default 0.7", cfg.AgentTemperature)
	}
}

func TestLoadAgentParsesTemperature(t *testing.T) {
	t.Setenv("AGENT_TEMPERATURE", "0.2")
	cfg := LoadAgent()
	if cfg.AgentTemperature != 0.2 {
		t.Errorf("AgentTemperature = %v, want 0.2", cfg.AgentTemperature)
	}
}

func TestLoadAgentMalformedTemperatureFallsBack(t *testing.T) {
	t.Setenv("AGENT_TEMPERATURE", "not-a-number")
	cfg := LoadAgent()
	if cfg.AgentTemperature != 0.7 {
		t.Errorf("AgentTemperature = %v, want fallback 0.7", cfg.AgentTemperature)
	}
}

func TestLoadAgentSplitsExtraArgs(t *testing.T) {
	t.Setenv("CLAUDE_HEADLESS_EXTRA_ARGS", "--max-turns 5 --verbose")
	cfg := LoadAgent()
	want := []string{"--max-turns", "5", "--verbose"}
	if len(cfg.Headless.ClaudeExtraArgs) != len(want) {
		t.Fatalf("ClaudeExtraArgs = %v", cfg.Headless.ClaudeExtraArgs)
	}
	for i, w := range want {
		if cfg.Headless.ClaudeExtraArgs[i] != w {
			t.Errorf("ClaudeExtraArgs[%d] = %q, want %q", i, cfg.Headless.ClaudeExtraArgs[i], w)
		}
	}
}

func TestLoadAgentEmptyExtraArgsIsNil(t *testing.T) {
	t.Setenv("CURSOR_HEADLESS_EXTRA_ARGS", "")
	cfg := LoadAgent()
	if cfg.Headless.CursorExtraArgs != nil {
		t.Errorf("CursorExtraArgs = %v, want nil", cfg.Headless.CursorExtraArgs)
	}
}
