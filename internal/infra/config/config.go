// Package config provides application-wide configuration.
// Values are read from environment variables with safe defaults so the binary
// runs locally without any env setup; an optional YAML file (HONDANA_CONFIG)
// overlays the env values for settings that are awkward as env vars, such as
// the duplicate-detection policy knobs.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the admin assistant.
type Config struct {
	// Server
	Host     string `yaml:"host"`      // HOST — default "0.0.0.0"
	Port     int    `yaml:"port"`      // PORT — default 8080
	DBPath   string `yaml:"db_path"`   // DB_PATH — default "hondana.db"
	LogLevel string `yaml:"log_level"` // LOG_LEVEL — default "info"

	// LLM
	LLMProvider     string `yaml:"llm_provider"`      // LLM_PROVIDER — default "ollama"
	OllamaBaseURL   string `yaml:"ollama_base_url"`   // OLLAMA_BASE_URL — default "http://localhost:11434"
	OllamaModel     string `yaml:"ollama_model"`      // OLLAMA_MODEL — embed model, default "nomic-embed-text"
	OllamaChatModel string `yaml:"ollama_chat_model"` // OLLAMA_CHAT_MODEL — default "llama3.2:3b"

	// Vision service (image embeddings + pairwise cover comparison)
	VisionBaseURL string `yaml:"vision_base_url"` // VISION_BASE_URL — default "http://localhost:8601"

	// Assistant orchestration
	MaxTurns         int `yaml:"max_turns"`           // ASSISTANT_MAX_TURNS — default 12
	ToolNoteMaxChars int `yaml:"tool_note_max_chars"` // bound on the re-injected tool summary

	// Admission control
	Admission AdmissionConfig `yaml:"admission"`

	// Duplicate detection policy
	Dedup DedupConfig `yaml:"dedup"`
}

// AdmissionConfig bounds per-user request admission for the chat route.
type AdmissionConfig struct {
	WindowSeconds    int `yaml:"window_seconds"`    // fixed rate-limit window, default 60
	RateLimit        int `yaml:"rate_limit"`        // requests per window per owner, default 20
	ConcurrencyLimit int `yaml:"concurrency_limit"` // simultaneous streams per owner, default 2
	SlotTTLSeconds   int `yaml:"slot_ttl_seconds"`  // crashed-holder slot expiry, default 120
}

// DedupConfig carries the duplicate-detection policy parameters.
// Floors and weights are deliberately configuration, not code: the catalog
// team retunes them as the embedding models change.
type DedupConfig struct {
	TextWeight       float64 `yaml:"text_weight"`        // default 0.3
	ImageWeight      float64 `yaml:"image_weight"`       // default 0.7
	VerifyThreshold  float64 `yaml:"verify_threshold"`   // fused-score gate, default 0.6
	UseExistingFloor float64 `yaml:"use_existing_floor"` // confident-duplicate floor, default 0.85
	ReviewFloor      float64 `yaml:"review_floor"`       // ambiguous-match floor, default 0.6
	KNNLimit         int     `yaml:"knn_limit"`          // neighbors per index, default 10
	MaxVisionCalls   int     `yaml:"max_vision_calls"`   // concurrent comparator bound, default 3
}

const envConfigFile = "HONDANA_CONFIG"

// Load reads configuration from environment variables, applying defaults for
// missing values, then overlays the YAML file named by HONDANA_CONFIG when set.
func Load() (Config, error) {
	cfg := Config{
		Host:     envOr("HOST", "0.0.0.0"),
		Port:     envIntOr("PORT", 8080),
		DBPath:   envOr("DB_PATH", "hondana.db"),
		LogLevel: envOr("LOG_LEVEL", "info"),

		LLMProvider:     envOr("LLM_PROVIDER", "ollama"),
		OllamaBaseURL:   envOr("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:     envOr("OLLAMA_MODEL", "nomic-embed-text"),
		OllamaChatModel: envOr("OLLAMA_CHAT_MODEL", "llama3.2:3b"),

		VisionBaseURL: envOr("VISION_BASE_URL", "http://localhost:8601"),

		MaxTurns:         envIntOr("ASSISTANT_MAX_TURNS", 12),
		ToolNoteMaxChars: envIntOr("ASSISTANT_TOOL_NOTE_MAX_CHARS", 2000),

		Admission: AdmissionConfig{
			WindowSeconds:    envIntOr("ADMISSION_WINDOW_SECONDS", 60),
			RateLimit:        envIntOr("ADMISSION_RATE_LIMIT", 20),
			ConcurrencyLimit: envIntOr("ADMISSION_CONCURRENCY_LIMIT", 2),
			SlotTTLSeconds:   envIntOr("ADMISSION_SLOT_TTL_SECONDS", 120),
		},

		Dedup: DedupConfig{
			TextWeight:       0.3,
			ImageWeight:      0.7,
			VerifyThreshold:  0.6,
			UseExistingFloor: 0.85,
			ReviewFloor:      0.6,
			KNNLimit:         10,
			MaxVisionCalls:   3,
		},
	}

	if path := os.Getenv(envConfigFile); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

// overlayFile merges a YAML config file on top of cfg. Unset YAML fields keep
// their current (env/default) values because decoding happens in place.
func overlayFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// envOr returns the value of the environment variable key, or fallback if not set.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envIntOr parses an integer env var, returning fallback when unset or invalid.
func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
