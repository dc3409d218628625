package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Question struct {
		TTL string `yaml:"ttl"`
	} `yaml:"question"`
	Channel struct {
		HeartbeatInterval    string `yaml:"heartbeatInterval"`
		MonitorInterval      string `yaml:"monitorInterval"`
		PublishTimeout       string `yaml:"publishTimeout"`
		ReconnectBase        string `yaml:"reconnectBase"`
		ReconnectMax         string `yaml:"reconnectMax"`
		MaxReconnectAttempts int    `yaml:"maxReconnectAttempts" validate:"gte=0,lte=100"`
	} `yaml:"channel"`
	Scoring struct {
		SpeedBonus      bool `yaml:"speedBonus"`
		SpeedBonusMax   int  `yaml:"speedBonusMax" validate:"gte=0"`
		StreakBonus     bool `yaml:"streakBonus"`
		StreakBonusStep int  `yaml:"streakBonusStep" validate:"gte=0"`
		StreakBonusCap  int  `yaml:"streakBonusCap" validate:"gte=0"`
	} `yaml:"scoring"`
	Sweeper struct {
		Interval   string `yaml:"interval"`
		StaleAfter string `yaml:"staleAfter"`
	} `yaml:"sweeper"`
}

// Load reads YAML config from path and validates it.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
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
