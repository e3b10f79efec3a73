package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_DRIVER", "POSTGRES")
	t.Setenv("JOB_LOCK_TTL", "30s")
	t.Setenv("JOB_RESOURCE_KEYS", "TORSO, LEGS,,FULL")
	t.Setenv("ENGINE_DEBUG", "yes")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 30*time.Second, cfg.Jobs.LockTTL)
	assert.Equal(t, []string{"TORSO", "LEGS", "FULL"}, cfg.Jobs.ResourceKeys)
	assert.True(t, cfg.Engine.Debug)
	assert.Equal(t, 24*time.Hour, cfg.Janitor.SessionTTL)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 180*time.Second, cfg.Jobs.LockTTL)
	assert.Equal(t, int64(1), cfg.Jobs.CreditsPerUnit)
	assert.Equal(t, 30*time.Second, cfg.Jobs.Heartbeat)
	assert.Less(t, cfg.Jobs.Heartbeat, cfg.Jobs.RecoverAfter)
	assert.False(t, cfg.RedisEnabled())
}

func TestLoadConfig_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DRIVER")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Database: DatabaseConfig{Driver: DriverSQLite},
			Jobs:     JobsConfig{Workers: 1, CreditsPerUnit: 1, ResourceKeys: []string{"FULL"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero workers", mutate: func(c *Config) { c.Jobs.Workers = 0 }, wantErr: true},
		{name: "negative cost", mutate: func(c *Config) { c.Jobs.CreditsPerUnit = -1 }, wantErr: true},
		{name: "free jobs", mutate: func(c *Config) { c.Jobs.CreditsPerUnit = 0 }},
		{name: "no resource keys", mutate: func(c *Config) { c.Jobs.ResourceKeys = nil }, wantErr: true},
		{name: "heartbeat below recovery", mutate: func(c *Config) { c.Jobs.Heartbeat, c.Jobs.RecoverAfter = time.Second, time.Minute }},
		{name: "heartbeat not below recovery", mutate: func(c *Config) { c.Jobs.Heartbeat, c.Jobs.RecoverAfter = time.Minute, time.Minute }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue int
		want         int
	}{
		{name: "parses integer", envValue: "42", defaultValue: 10, want: 42},
		{name: "falls back on garbage", envValue: "abc", defaultValue: 10, want: 10},
		{name: "falls back when unset", envValue: "", defaultValue: 10, want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT_KEY", tt.envValue)
			assert.Equal(t, tt.want, getEnvAsInt("TEST_INT_KEY", tt.defaultValue))
		})
	}
}

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"1", false, true},
		{"on", false, true},
		{"No", true, false},
		{"maybe", true, true},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			t.Setenv("TEST_BOOL_KEY", tt.envValue)
			assert.Equal(t, tt.want, getEnvAsBool("TEST_BOOL_KEY", tt.defaultValue))
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("TEST_DURATION_KEY", "1m30s")
	assert.Equal(t, 90*time.Second, getEnvAsDuration("TEST_DURATION_KEY", time.Second))

	t.Setenv("TEST_DURATION_KEY", "soon")
	assert.Equal(t, time.Second, getEnvAsDuration("TEST_DURATION_KEY", time.Second))
}
