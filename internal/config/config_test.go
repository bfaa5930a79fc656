package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAddress, cfg.Address)
	assert.Equal(t, DefaultDatabasePath, cfg.Database.Path)
	assert.Empty(t, cfg.AuthToken)
}

func TestLoad_FullConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
address: ":9090"
authToken: "secret"
database:
  path: "/var/lib/sourcereg/data.db"
queue:
  jobTimeout: "5m"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address)
	assert.Equal(t, "secret", cfg.AuthToken)
	assert.Equal(t, "/var/lib/sourcereg/data.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Minute, cfg.Queue.JobTimeoutDuration())
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `authToken: "secret"`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultAddress, cfg.Address)
	assert.Equal(t, DefaultDatabasePath, cfg.Database.Path)
	assert.Equal(t, DefaultJobTimeout, cfg.Queue.JobTimeoutDuration())
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(t *testing.T) string
		content string
	}{
		{
			name: "missing file",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "nope.yaml")
			},
		},
		{
			name: "malformed yaml",
			setup: func(t *testing.T) string {
				return writeConfig(t, "address: [oops")
			},
		},
		{
			name: "invalid job timeout",
			setup: func(t *testing.T) string {
				return writeConfig(t, "queue:\n  jobTimeout: \"sometimes\"")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(tt.setup(t))
			require.Error(t, err)
		})
	}
}

func TestQueueConfig_JobTimeoutDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		timeout  string
		expected time.Duration
	}{
		{name: "empty uses default", timeout: "", expected: DefaultJobTimeout},
		{name: "valid duration", timeout: "90s", expected: 90 * time.Second},
		{name: "invalid uses default", timeout: "often", expected: DefaultJobTimeout},
		{name: "non-positive uses default", timeout: "-1m", expected: DefaultJobTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := QueueConfig{JobTimeout: tt.timeout}
			assert.Equal(t, tt.expected, q.JobTimeoutDuration())
		})
	}
}
