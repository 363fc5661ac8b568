// Package config handles FlowMind configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AIConfig holds settings for the AI completion layer
type AIConfig struct {
	GrokAPIKey    string
	GrokBaseURL   string
	GrokModel     string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// PipelineConfig holds schedules for the background job pipeline.
// Schedules are standard cron expressions evaluated in UTC.
type PipelineConfig struct {
	Workers int

	InsightsSchedule     string
	ReminderSchedule     string
	OptimizationSchedule string
	MetricsSchedule      string
	SummarySchedule      string

	// Working hours bound schedule optimization runs (inclusive start,
	// exclusive end, UTC hours).
	WorkingHoursStart int
	WorkingHoursEnd   int
}

// Config holds FlowMind configuration
type Config struct {
	// Database connection
	DatabasePath string

	AI       AIConfig
	Pipeline PipelineConfig

	// DBOS durable execution settings
	DBOSDatabaseURL string
	DBOSAppName     string

	// Optional webhook endpoint notified of task events
	WebhookURL    string
	WebhookSecret string

	// Verbose mode for debugging
	Verbose bool
}

// Load loads configuration from environment and defaults
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath: defaultDatabasePath(),
		AI: AIConfig{
			GrokBaseURL:   "https://api.x.ai/v1",
			GrokModel:     "grok-beta",
			OpenAIBaseURL: "https://api.openai.com/v1",
			OpenAIModel:   "gpt-4-turbo-preview",
			MaxTokens:     4000,
			Temperature:   0.7,
			Timeout:       60 * time.Second,
			MaxRetries:    2,
		},
		Pipeline: PipelineConfig{
			Workers:              3,
			InsightsSchedule:     "0 8 * * *",
			ReminderSchedule:     "*/15 * * * *",
			OptimizationSchedule: "*/30 8-18 * * *",
			MetricsSchedule:      "0 * * * *",
			SummarySchedule:      "*/10 * * * *",
			WorkingHoursStart:    8,
			WorkingHoursEnd:      19,
		},
		DBOSAppName: "flowmind-pipeline",
	}

	// Environment overrides
	if v := os.Getenv("FLOWMIND_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("GROK_API_KEY"); v != "" {
		cfg.AI.GrokAPIKey = v
	}
	if v := os.Getenv("GROK_BASE_URL"); v != "" {
		cfg.AI.GrokBaseURL = v
	}
	if v := os.Getenv("GROK_MODEL"); v != "" {
		cfg.AI.GrokModel = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.AI.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.AI.OpenAIBaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.AI.OpenAIModel = v
	}
	if v := os.Getenv("FLOWMIND_AI_MAX_TOKENS"); v != "" {
		cfg.AI.MaxTokens = parseIntOrDefault(v, 4000)
	}
	if v := os.Getenv("FLOWMIND_AI_TEMPERATURE"); v != "" {
		cfg.AI.Temperature = parseFloatOrDefault(v, 0.7)
	}
	if v := os.Getenv("FLOWMIND_AI_TIMEOUT"); v != "" {
		cfg.AI.Timeout = parseDurationOrDefault(v, 60*time.Second)
	}
	if v := os.Getenv("FLOWMIND_AI_MAX_RETRIES"); v != "" {
		cfg.AI.MaxRetries = parseIntOrDefault(v, 2)
	}
	if v := os.Getenv("FLOWMIND_PIPELINE_WORKERS"); v != "" {
		cfg.Pipeline.Workers = parseIntOrDefault(v, 3)
	}
	if v := os.Getenv("FLOWMIND_INSIGHTS_SCHEDULE"); v != "" {
		cfg.Pipeline.InsightsSchedule = v
	}
	if v := os.Getenv("FLOWMIND_REMINDER_SCHEDULE"); v != "" {
		cfg.Pipeline.ReminderSchedule = v
	}
	if v := os.Getenv("FLOWMIND_OPTIMIZATION_SCHEDULE"); v != "" {
		cfg.Pipeline.OptimizationSchedule = v
	}
	if v := os.Getenv("FLOWMIND_METRICS_SCHEDULE"); v != "" {
		cfg.Pipeline.MetricsSchedule = v
	}
	if v := os.Getenv("FLOWMIND_SUMMARY_SCHEDULE"); v != "" {
		cfg.Pipeline.SummarySchedule = v
	}
	if v := os.Getenv("FLOWMIND_WORKING_HOURS_START"); v != "" {
		cfg.Pipeline.WorkingHoursStart = parseIntOrDefault(v, 8)
	}
	if v := os.Getenv("FLOWMIND_WORKING_HOURS_END"); v != "" {
		cfg.Pipeline.WorkingHoursEnd = parseIntOrDefault(v, 19)
	}
	if v := os.Getenv("FLOWMIND_DBOS_DATABASE_URL"); v != "" {
		cfg.DBOSDatabaseURL = v
	}
	if v := os.Getenv("FLOWMIND_DBOS_APP_NAME"); v != "" {
		cfg.DBOSAppName = v
	}
	if v := os.Getenv("FLOWMIND_WEBHOOK_URL"); v != "" {
		cfg.WebhookURL = v
	}
	if v := os.Getenv("FLOWMIND_WEBHOOK_SECRET"); v != "" {
		cfg.WebhookSecret = v
	}
	if v := os.Getenv("FLOWMIND_VERBOSE"); v != "" {
		cfg.Verbose = v == "true" || v == "1"
	}

	return cfg, nil
}

// HasAICredentials reports whether any completion provider can be configured.
func (c *Config) HasAICredentials() bool {
	return c.AI.GrokAPIKey != "" || c.AI.OpenAIAPIKey != ""
}

// defaultDatabasePath returns SQLite in the project directory
func defaultDatabasePath() string {
	dir, err := os.Getwd()
	if err != nil {
		return ".flowmind/flowmind.db"
	}
	return filepath.Join(dir, ".flowmind", "flowmind.db")
}

func parseIntOrDefault(s string, def int) int {
	var i int
	if _, err := fmt.Sscanf(s, "%d", &i); err != nil {
		return def
	}
	return i
}

func parseFloatOrDefault(s string, def float64) float64 {
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
		return def
	}
	return f
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
