// Package config loads citractl settings from a TOML file on top of built-in defaults.
package config

import (
	"citra-rpc/loadbalance"
	"citra-rpc/transport"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the client settings. The zero value is not useful; start from DefaultConfig.
type Config struct {
	Address    string
	Port       int
	Timeout    time.Duration // Zero means no per-exchange deadline
	Retries    int
	RetryDelay time.Duration
	RateLimit  float64 // Exchanges per second, zero disables limiting
	RateBurst  int
	ChunkSize  uint32

	EtcdEndpoints []string
	Service       string // Non-empty switches to registry discovery
	Balancer      string
	LogLevel      string
}

type fileConfig struct {
	Address       string   `toml:"address"`
	Port          int      `toml:"port"`
	Timeout       string   `toml:"timeout"`
	Retries       int      `toml:"retries"`
	RetryDelay    string   `toml:"retry_delay"`
	RateLimit     float64  `toml:"rate_limit"`
	RateBurst     int      `toml:"rate_burst"`
	ChunkSize     int64    `toml:"chunk_size"`
	EtcdEndpoints []string `toml:"etcd_endpoints"`
	Service       string   `toml:"service"`
	Balancer      string   `toml:"balancer"`
	LogLevel      string   `toml:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		Address:       transport.DefaultHost,
		Port:          transport.DefaultPort,
		RetryDelay:    100 * time.Millisecond,
		RateBurst:     1,
		ChunkSize:     32,
		EtcdEndpoints: []string{"127.0.0.1:2379"},
		Balancer:      "round-robin",
		LogLevel:      "info",
	}
}

// Load reads path and applies every key it defines over DefaultConfig.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return apply(DefaultConfig(), raw, meta)
}

// Parse is Load for an in-memory document.
func Parse(doc string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(doc, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return apply(DefaultConfig(), raw, meta)
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("retries") {
		cfg.Retries = raw.Retries
	}
	if meta.IsDefined("retry_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RetryDelay))
		if err != nil {
			return Config{}, fmt.Errorf("parse retry_delay: %w", err)
		}
		cfg.RetryDelay = d
	}
	if meta.IsDefined("rate_limit") {
		cfg.RateLimit = raw.RateLimit
	}
	if meta.IsDefined("rate_burst") {
		cfg.RateBurst = raw.RateBurst
	}
	if meta.IsDefined("chunk_size") {
		if raw.ChunkSize < 0 || raw.ChunkSize > 1<<32-1 {
			return Config{}, fmt.Errorf("chunk_size %d out of range", raw.ChunkSize)
		}
		cfg.ChunkSize = uint32(raw.ChunkSize)
	}
	if meta.IsDefined("etcd_endpoints") {
		cfg.EtcdEndpoints = normalizeList(raw.EtcdEndpoints)
	}
	if meta.IsDefined("service") {
		cfg.Service = strings.TrimSpace(raw.Service)
	}
	if meta.IsDefined("balancer") {
		cfg.Balancer = strings.TrimSpace(raw.Balancer)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	return cfg, cfg.Validate()
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.Address == "" && c.Service == "" {
		errs = append(errs, errors.New("address is empty and no service is configured"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("negative timeout %s", c.Timeout))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Errorf("negative retries %d", c.Retries))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("negative rate_limit %g", c.RateLimit))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("rate_burst must be at least 1, got %d", c.RateBurst))
	}
	if _, err := loadbalance.ByName(c.Balancer); err != nil {
		errs = append(errs, err)
	}
	if c.Service != "" && len(c.EtcdEndpoints) == 0 {
		errs = append(errs, errors.New("service discovery needs etcd_endpoints"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Endpoint is the ZeroMQ endpoint of the configured emulator.
func (c Config) Endpoint() string {
	return transport.Endpoint(c.Address, c.Port)
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
