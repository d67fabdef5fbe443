package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the codedeck gateway.
type Config struct {
	Gateway      GatewayConfig      `json:"gateway"`
	Agent        AgentConfig        `json:"agent"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Search       SearchConfig       `json:"search"`
	Indexer      IndexerConfig      `json:"indexer,omitempty"`
	Telemetry    TelemetryConfig    `json:"telemetry,omitempty"`
}

// GatewayConfig configures the HTTP/WebSocket listener.
type GatewayConfig struct {
	Host           string              `json:"host"`
	Port           int                 `json:"port"`
	AllowedOrigins FlexibleStringSlice `json:"allowed_origins,omitempty"`
	RateLimitRPM   int                 `json:"rate_limit_rpm"`
}

// AgentConfig configures coding-agent CLI sessions.
type AgentConfig struct {
	Bin             string `json:"bin"`         // CLI binary, default "claude"
	ProjectDir      string `json:"project_dir"` // working directory for sessions
	StartTimeoutSec int    `json:"start_timeout_sec"`
	SendTimeoutSec  int    `json:"send_timeout_sec"` // nested send_to timeout
}

// OrchestratorConfig configures the orchestrator agent.
// APIKey is NEVER read from the config file — env only.
type OrchestratorConfig struct {
	Provider     string `json:"provider"` // "anthropic" (text) — voice selected per session
	Model        string `json:"model"`
	SummaryModel string `json:"summary_model"` // fast model for history digests
	MaxTokens    int    `json:"max_tokens"`
	VoiceModel   string `json:"voice_model"`
	VoiceName    string `json:"voice_name"`
	APIKey       string `json:"-"` // from env ANTHROPIC_API_KEY or CODEDECK_ANTHROPIC_API_KEY
	BaseURL      string `json:"base_url,omitempty"`
}

// SearchConfig configures the semantic-search subprocess.
// Command is the argv prefix; the query and flags are appended.
type SearchConfig struct {
	Command    FlexibleStringSlice `json:"command,omitempty"`
	TimeoutSec int                 `json:"timeout_sec"`
}

// IndexerConfig configures the background memory/history reindexers.
type IndexerConfig struct {
	Enabled            bool                `json:"enabled"`
	Command            FlexibleStringSlice `json:"command,omitempty"` // reindex argv prefix
	DebounceMs         int                 `json:"debounce_ms"`
	HistoryIntervalSec int                 `json:"history_interval_sec"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
