package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	cwd, _ := os.Getwd()
	return &Config{
		Gateway: GatewayConfig{
			Host:         "127.0.0.1",
			Port:         8787,
			RateLimitRPM: 120,
		},
		Agent: AgentConfig{
			Bin:             "claude",
			ProjectDir:      cwd,
			StartTimeoutSec: 30,
			SendTimeoutSec:  300,
		},
		Orchestrator: OrchestratorConfig{
			Provider:     "anthropic",
			Model:        "claude-sonnet-4-5-20250929",
			SummaryModel: "claude-haiku-4-5-20251001",
			MaxTokens:    8192,
			VoiceModel:   "gpt-realtime",
			VoiceName:    "cedar",
		},
		Search: SearchConfig{
			TimeoutSec: 60,
		},
		Indexer: IndexerConfig{
			DebounceMs:         1000,
			HistoryIntervalSec: 120,
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("ANTHROPIC_API_KEY", &c.Orchestrator.APIKey)
	envStr("CODEDECK_ANTHROPIC_API_KEY", &c.Orchestrator.APIKey)

	envStr("CODEDECK_HOST", &c.Gateway.Host)
	if v := os.Getenv("CODEDECK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("CODEDECK_AGENT_BIN", &c.Agent.Bin)
	envStr("CODEDECK_PROJECT_DIR", &c.Agent.ProjectDir)

	envStr("CODEDECK_ORCHESTRATOR_MODEL", &c.Orchestrator.Model)
	envStr("CODEDECK_ORCHESTRATOR_PROVIDER", &c.Orchestrator.Provider)
	if v := os.Getenv("CODEDECK_ORCHESTRATOR_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Orchestrator.MaxTokens = n
		}
	}
	envStr("CODEDECK_VOICE_MODEL", &c.Orchestrator.VoiceModel)
	envStr("CODEDECK_VOICE_NAME", &c.Orchestrator.VoiceName)

	envStr("CODEDECK_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CODEDECK_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("CODEDECK_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CODEDECK_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}
