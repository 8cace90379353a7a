// Package config loads service configuration from an optional YAML file
// overridden by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Lllllllleong/invoicesession/internal/gcp"
)

// Session backends.
const (
	BackendMemory    = "memory"
	BackendBolt      = "bolt"
	BackendFirestore = "firestore"
)

// SessionConfig controls session lifetime and persistence.
type SessionConfig struct {
	Backend             string        `yaml:"backend"`
	DBPath              string        `yaml:"db_path"`
	FirestoreCollection string        `yaml:"firestore_collection"`
	TTL                 time.Duration `yaml:"ttl"`
	ReapInterval        time.Duration `yaml:"reap_interval"`
}

// ModelConfig names the Vertex AI models used per task.
type ModelConfig struct {
	Fast     string        `yaml:"fast"`
	Accurate string        `yaml:"accurate"`
	Chat     string        `yaml:"chat"`
	Timeout  time.Duration `yaml:"timeout"`
}

// WorkflowConfig identifies the optional workflow started after each upload.
type WorkflowConfig struct {
	ID       string `yaml:"id"`
	Location string `yaml:"location"`
}

// Config is the root configuration.
type Config struct {
	ProjectID           string         `yaml:"project_id"`
	Region              string         `yaml:"vertex_ai_region"`
	DocumentBucket      string         `yaml:"document_bucket"`
	ValidateExtractions bool           `yaml:"validate_extractions"`
	Session             SessionConfig  `yaml:"session"`
	Models              ModelConfig    `yaml:"models"`
	Workflow            WorkflowConfig `yaml:"workflow"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Region: "us-central1",
		Session: SessionConfig{
			Backend:             BackendMemory,
			DBPath:              "sessions.db",
			FirestoreCollection: "invoiceSessions",
			TTL:                 2 * time.Hour,
			ReapInterval:        5 * time.Minute,
		},
		Models: ModelConfig{
			Fast:     "gemini-2.0-flash-lite-001",
			Accurate: "gemini-2.5-pro",
			Chat:     "gemini-2.5-flash",
			Timeout:  60 * time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies environment
// overrides. An empty path or a missing file means defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv loads the file named by INVOICE_CONFIG, if any.
func LoadFromEnv() (*Config, error) {
	return Load(gcp.GetEnv("INVOICE_CONFIG", ""))
}

func (c *Config) applyEnv() error {
	c.ProjectID = gcp.GetEnv("PROJECT_ID", c.ProjectID)
	c.Region = gcp.GetEnv("VERTEX_AI_REGION", c.Region)
	c.DocumentBucket = gcp.GetEnv("DOCUMENT_BUCKET", c.DocumentBucket)
	c.Session.Backend = gcp.GetEnv("SESSION_BACKEND", c.Session.Backend)
	c.Session.DBPath = gcp.GetEnv("SESSION_DB_PATH", c.Session.DBPath)
	c.Session.FirestoreCollection = gcp.GetEnv("FIRESTORE_COLLECTION", c.Session.FirestoreCollection)
	c.Models.Fast = gcp.GetEnv("FAST_MODEL", c.Models.Fast)
	c.Models.Accurate = gcp.GetEnv("ACCURATE_MODEL", c.Models.Accurate)
	c.Models.Chat = gcp.GetEnv("CHAT_MODEL", c.Models.Chat)
	c.Workflow.ID = gcp.GetEnv("WORKFLOW_ID", c.Workflow.ID)
	c.Workflow.Location = gcp.GetEnv("WORKFLOW_LOCATION", c.Workflow.Location)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SESSION_TTL", &c.Session.TTL},
		{"REAP_INTERVAL", &c.Session.ReapInterval},
		{"MODEL_TIMEOUT", &c.Models.Timeout},
	}
	for _, d := range durations {
		v := gcp.GetEnv(d.key, "")
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, v, err)
		}
		*d.dst = parsed
	}

	if v := gcp.GetEnv("VALIDATE_EXTRACTIONS", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid VALIDATE_EXTRACTIONS %q: %w", v, err)
		}
		c.ValidateExtractions = b
	}
	if c.Workflow.Location == "" {
		c.Workflow.Location = c.Region
	}
	return nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	switch c.Session.Backend {
	case BackendMemory, BackendBolt:
	case BackendFirestore:
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID is required for the firestore session backend")
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive, got %s", c.Session.TTL)
	}
	if c.Models.Timeout <= 0 {
		return fmt.Errorf("model timeout must be positive, got %s", c.Models.Timeout)
	}
	if c.Session.Backend == BackendBolt && c.Session.DBPath == "" {
		return fmt.Errorf("SESSION_DB_PATH is required for the bolt session backend")
	}
	return nil
}
