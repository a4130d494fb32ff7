package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"quiz-attempt-service/internal/attempt"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
		// Seed is an optional JSON file of quizzes loaded when Postgres is not configured.
		Seed string `yaml:"seed"`
	} `yaml:"quiz"`
	Attempt struct {
		RequestTimeout       string `yaml:"requestTimeout"`
		AutosaveDelay        string `yaml:"autosaveDelay"`
		SnapshotTTL          string `yaml:"snapshotTTL"`
		SnapshotEveryTicks   int    `yaml:"snapshotEveryTicks"`
		RetryInitialInterval string `yaml:"retryInitialInterval"`
		RetryMaxInterval     string `yaml:"retryMaxInterval"`
		RetryMaxElapsed      string `yaml:"retryMaxElapsed"`
	} `yaml:"attempt"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	WS struct {
		MessagesPerSecond float64 `yaml:"messagesPerSecond"`
		Burst             int     `yaml:"burst"`
	} `yaml:"ws"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// AttemptConfig resolves session timings, falling back to attempt defaults.
func (c Config) AttemptConfig() attempt.Config {
	def := attempt.DefaultConfig()
	a := c.Attempt
	out := attempt.Config{
		RequestTimeout:       TTLDuration(a.RequestTimeout, def.RequestTimeout),
		AutosaveDelay:        TTLDuration(a.AutosaveDelay, def.AutosaveDelay),
		SnapshotEveryTicks:   a.SnapshotEveryTicks,
		RetryInitialInterval: TTLDuration(a.RetryInitialInterval, def.RetryInitialInterval),
		RetryMaxInterval:     TTLDuration(a.RetryMaxInterval, def.RetryMaxInterval),
		RetryMaxElapsed:      TTLDuration(a.RetryMaxElapsed, def.RetryMaxElapsed),
	}
	if out.SnapshotEveryTicks <= 0 {
		out.SnapshotEveryTicks = def.SnapshotEveryTicks
	}
	return out
}

// SnapshotTTL is how long an abandoned attempt snapshot survives in Redis.
func (c Config) SnapshotTTL() time.Duration {
	return TTLDuration(c.Attempt.SnapshotTTL, 7*24*time.Hour)
}

// WSLimits returns the inbound message rate and burst per websocket connection.
func (c Config) WSLimits() (perSecond float64, burst int) {
	perSecond, burst = c.WS.MessagesPerSecond, c.WS.Burst
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return perSecond, burst
}
