package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 8000",
			check:  func(c *Config) bool { return c.Port == 8000 },
			expect: "8000",
		},
		{
			name:   "default log level is info",
			check:  func(c *Config) bool { return c.LogLevel == "info" },
			expect: "info",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default metrics path",
			check:  func(c *Config) bool { return c.MetricsPath == "/metrics" },
			expect: "/metrics",
		},
		{
			name:   "default migrations dir",
			check:  func(c *Config) bool { return c.MigrationsDir == "migrations" },
			expect: "migrations",
		},
		{
			name:   "default agent token lifetime is one hour",
			check:  func(c *Config) bool { return c.JWTAgentExpireSeconds == 3600 },
			expect: "3600",
		},
		{
			name:   "default admin token lifetime is eight hours",
			check:  func(c *Config) bool { return c.JWTAdminExpireSeconds == 28800 },
			expect: "28800",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8000" },
			expect: "0.0.0.0:8000",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}
