// Package config loads the engine's YAML configuration file, the way
// the teacher's internal/config/config.go loads transport/server/
// datastore settings: nested structs, yaml struct tags, LoadConfig
// (filename). The content is new: spec §6's options table plus the
// port/dashboard/history sections a complete deployment needs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anodyne74/bmw-kwp-engine/internal/engine"
	"github.com/anodyne74/bmw-kwp-engine/internal/isotp"
	"github.com/anodyne74/bmw-kwp-engine/internal/kline"
)

// Config is the top-level YAML document.
type Config struct {
	Engine struct {
		P2TimeoutMs        int    `yaml:"p2_timeout_ms"`
		P2StarTimeoutMs    int    `yaml:"p2_star_timeout_ms"`
		P3MinMs            int    `yaml:"p3_min_ms"`
		S3ClientMs         int    `yaml:"s3_client_ms"`
		IsotpMaxLen        int    `yaml:"isotp_max_len"`
		ResponsePendingMax int    `yaml:"response_pending_max"`
		MinSpinUs          int    `yaml:"min_spin_us"`
		BusInitStrategy    string `yaml:"bus_init_strategy"` // "five_baud" or "fast"
	} `yaml:"engine"`

	Port struct {
		KLine struct {
			Enabled bool   `yaml:"enabled"`
			Device  string `yaml:"device"`
			Baud    int    `yaml:"baud"`
		} `yaml:"k_line"`
		DCan struct {
			Enabled   bool   `yaml:"enabled"`
			Interface string `yaml:"interface"`
		} `yaml:"d_can"`
	} `yaml:"port"`

	Testing struct {
		UseMock bool `yaml:"use_mock"`
	} `yaml:"testing"`

	Capture struct {
		Enabled  bool   `yaml:"enabled"`
		Filename string `yaml:"filename"`
	} `yaml:"capture"`

	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	History struct {
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		InfluxDB struct {
			URL    string `yaml:"url"`
			Org    string `yaml:"org"`
			Bucket string `yaml:"bucket"`
			Token  string `yaml:"token"`
		} `yaml:"influxdb"`
	} `yaml:"history"`
}

// LoadConfig reads filename and parses it into a Config.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", filename, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", filename, err)
	}
	return &c, nil
}

// EngineConfig builds an engine.Config from the YAML document,
// substituting spec §6 defaults for any zero-valued option.
func (c *Config) EngineConfig() (engine.Config, error) {
	cfg := engine.DefaultConfig()

	if c.Engine.P2TimeoutMs > 0 {
		cfg.P2Timeout = time.Duration(c.Engine.P2TimeoutMs) * time.Millisecond
	}
	if c.Engine.P2StarTimeoutMs > 0 {
		cfg.P2StarTimeout = time.Duration(c.Engine.P2StarTimeoutMs) * time.Millisecond
	}
	if c.Engine.P3MinMs > 0 {
		cfg.P3Min = time.Duration(c.Engine.P3MinMs) * time.Millisecond
	}
	if c.Engine.S3ClientMs > 0 {
		cfg.S3Client = time.Duration(c.Engine.S3ClientMs) * time.Millisecond
	}
	if c.Engine.IsotpMaxLen > 0 {
		cfg.IsoTpMaxLen = c.Engine.IsotpMaxLen
	} else {
		cfg.IsoTpMaxLen = isotp.DefaultMaxLen
	}
	if c.Engine.ResponsePendingMax > 0 {
		cfg.ResponsePendingMax = c.Engine.ResponsePendingMax
	}
	if c.Engine.MinSpinUs > 0 {
		cfg.MinSpinUs = c.Engine.MinSpinUs
	}
	switch c.Engine.BusInitStrategy {
	case "", "five_baud":
		cfg.BusInitStrategy = kline.FiveBaud
	case "fast":
		cfg.BusInitStrategy = kline.FastInitStrategy
	default:
		return engine.Config{}, fmt.Errorf("config: unknown bus_init_strategy %q", c.Engine.BusInitStrategy)
	}
	return cfg, nil
}

// ServerAddr renders the dashboard's listen address, defaulting to
// ":8080" the way the teacher's Server.Host/Port pair does.
func (c *Config) ServerAddr() string {
	host := c.Server.Host
	port := c.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}
