package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Session.Backend)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Session.ReapInterval)
	assert.Equal(t, 60*time.Second, cfg.Models.Timeout)
	assert.Equal(t, cfg.Region, cfg.Workflow.Location)

	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Session.Backend)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
project_id: file-project
document_bucket: invoices
session:
  backend: bolt
  db_path: /tmp/s.db
  ttl: 30m
models:
  chat: file-chat
`)
	t.Setenv("CHAT_MODEL", "env-chat")
	t.Setenv("REAP_INTERVAL", "1m")
	t.Setenv("VALIDATE_EXTRACTIONS", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-project", cfg.ProjectID)
	assert.Equal(t, "invoices", cfg.DocumentBucket)
	assert.Equal(t, BackendBolt, cfg.Session.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, time.Minute, cfg.Session.ReapInterval)
	assert.Equal(t, "env-chat", cfg.Models.Chat)
	assert.True(t, cfg.ValidateExtractions)
	assert.NotEmpty(t, cfg.Models.Fast, "unset keys keep their defaults")
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"SESSION_TTL": "soon"}},
		{"bad bool", map[string]string{"VALIDATE_EXTRACTIONS": "maybe"}},
		{"unknown backend", map[string]string{"SESSION_BACKEND": "redis"}},
		{"firestore without project", map[string]string{"SESSION_BACKEND": "firestore", "PROJECT_ID": ""}},
		{"zero ttl", map[string]string{"SESSION_TTL": "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "session: [unterminated"))
	assert.Error(t, err)
}
