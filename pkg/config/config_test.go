package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funish/nexus/pkg/observability"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"NEXUS_PORT", "NEXUS_STORAGE_TYPE", "NEXUS_WINGET_REPO", "NEXUS_WINGET_BRANCH", "NEXUS_METRICS_ENABLED"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "filesystem", cfg.Storage.Type)
	assert.Equal(t, "microsoft/winget-pkgs", cfg.Upstream.WinGetRepo)
	assert.Equal(t, "master", cfg.Upstream.WinGetBranch)
	assert.Equal(t, 10*time.Second, cfg.Upstream.MetadataTimeout)
	assert.Equal(t, 30*time.Second, cfg.Upstream.TarballTimeout)
	assert.True(t, cfg.Observability.MetricsEnabled)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("NEXUS_PORT", "9999")
	t.Setenv("NEXUS_STORAGE_TYPE", "memory")
	t.Setenv("NEXUS_LOG_LEVEL", "debug")
	t.Setenv("NEXUS_UPSTREAM_METADATA_TIMEOUT", "5s")
	t.Setenv("NEXUS_RATELIMIT_PER_MINUTE", "120")
	t.Setenv("GITHUB_TOKEN", "ghp_test")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 5*time.Second, cfg.Upstream.MetadataTimeout)
	assert.Equal(t, 120, cfg.Server.RateLimitPerMinute)
	assert.Equal(t, "ghp_test", cfg.Upstream.GitHubToken)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid memory config",
			mutate: func(c *Config) { c.Storage.Type = "memory" },
		},
		{
			name:    "missing port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "port",
		},
		{
			name: "filesystem without root",
			mutate: func(c *Config) {
				c.Storage.Type = "filesystem"
				c.Storage.FilesystemRoot = ""
			},
			wantErr: "filesystem root",
		},
		{
			name: "s3 without bucket",
			mutate: func(c *Config) {
				c.Storage.Type = "s3"
				c.Storage.S3Bucket = ""
			},
			wantErr: "S3 bucket",
		},
		{
			name: "redis without url",
			mutate: func(c *Config) {
				c.Storage.Type = "redis"
				c.Storage.RedisURL = ""
			},
			wantErr: "redis URL",
		},
		{
			name:    "unknown storage type",
			mutate:  func(c *Config) { c.Storage.Type = "tape" },
			wantErr: "invalid storage type",
		},
		{
			name:    "winget repo without owner",
			mutate:  func(c *Config) { c.Upstream.WinGetRepo = "winget-pkgs" },
			wantErr: "owner/repo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, observability.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, observability.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, observability.InfoLevel, parseLogLevel("garbage"))
}
