package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Port:           22,
		Concurrency:    "1",
		ConnectTimeout: 5 * time.Second,
		HostKeyPolicy:  "accept-new",
		SummaryLog:     "summary.log",
		DetailLog:      "detail.log",
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

func TestValidate(t *testing.T) {
	m := NewManager()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"auto concurrency", func(c *Config) { c.Concurrency = "auto" }, false},
		{"numeric concurrency", func(c *Config) { c.Concurrency = "8" }, false},
		{"bad concurrency", func(c *Config) { c.Concurrency = "lots" }, true},
		{"zero concurrency", func(c *Config) { c.Concurrency = "0" }, true},
		{"zero connect timeout", func(c *Config) { c.ConnectTimeout = 0 }, true},
		{"negative run timeout", func(c *Config) { c.RunTimeout = -time.Second }, true},
		{"bad port", func(c *Config) { c.Port = 0 }, true},
		{"bad host key policy", func(c *Config) { c.HostKeyPolicy = "trust-everyone" }, true},
		{"known-hosts policy", func(c *Config) { c.HostKeyPolicy = "known-hosts" }, false},
		{"bad log level", func(c *Config) { c.LogLevel = "debug" }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"empty log path", func(c *Config) { c.SummaryLog = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := m.Validate(c)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
