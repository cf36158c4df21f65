package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veerababumanyam/pulsegate/internal/ratelimit"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

// Limit is one admission policy: requests per sliding window.
type Limit struct {
	Requests      int `yaml:"requests"`
	WindowSeconds int `yaml:"window_seconds"`
}

func (l Limit) Policy() ratelimit.Policy {
	return ratelimit.Policy{
		Limit:  l.Requests,
		Window: time.Duration(l.WindowSeconds) * time.Second,
	}
}

type Limits struct {
	Backend       string `yaml:"backend"` // "memory" or "redis"
	RedisAddr     string `yaml:"redis_addr"`
	IdleTTLSec    int    `yaml:"idle_ttl_seconds"` // memory backend key eviction
	SweepEverySec int    `yaml:"sweep_every_seconds"`
	Default       Limit  `yaml:"default"`
}

type APIKey struct {
	ID       string            `yaml:"id"`
	Secret   string            `yaml:"secret"`
	Metadata map[string]string `yaml:"metadata"`
}

type Auth struct {
	Header string   `yaml:"header"`
	Keys   []APIKey `yaml:"keys"`
}

type Routes struct {
	ID    string `yaml:"id"`
	Match struct {
		PathPrefix string   `yaml:"path_prefix"`
		Methods    []string `yaml:"methods"`
	} `yaml:"match"`

	Upstream struct {
		URL       string `yaml:"url"`
		TimeoutMS int    `yaml:"timeout_ms"`
	} `yaml:"upstream"`

	// route-level policy class; falls back to limits.default when absent
	Limit *Limit `yaml:"limit"`

	// per-key overrides within this route, keyed by key ID
	LimitOverrides map[string]Limit `yaml:"limit_overrides"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Auth          Auth          `yaml:"auth"`
	Limits        Limits        `yaml:"limits"`
	Routes        []Routes      `yaml:"routes"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 10 << 20
	}
	return s.MaxBodyBytes
} // default 10MB

func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	for i := range cfg.Routes {
		if cfg.Routes[i].Upstream.TimeoutMS <= 0 {
			cfg.Routes[i].Upstream.TimeoutMS = 3000
		}
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Auth.Header == "" {
		cfg.Auth.Header = "X-API-Key"
	}
	if cfg.Limits.Backend == "" {
		cfg.Limits.Backend = "memory"
	}
	if cfg.Limits.Default.Requests == 0 {
		cfg.Limits.Default.Requests = 60
	}
	if cfg.Limits.Default.WindowSeconds == 0 {
		cfg.Limits.Default.WindowSeconds = 60
	}
	if cfg.Limits.IdleTTLSec == 0 {
		cfg.Limits.IdleTTLSec = 600
	}
	if cfg.Limits.SweepEverySec == 0 {
		cfg.Limits.SweepEverySec = 120
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unusable policies at startup. A non-positive limit or
// window is a configuration mistake, not a per-request condition, so it
// fails loudly here instead of silently denying all traffic.
func (c *Root) Validate() error {
	if err := c.Limits.Default.validate("limits.default"); err != nil {
		return err
	}
	switch c.Limits.Backend {
	case "memory":
	case "redis":
		if c.Limits.RedisAddr == "" {
			return fmt.Errorf("limits.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("limits.backend: unknown backend %q", c.Limits.Backend)
	}
	for _, rt := range c.Routes {
		if rt.Limit != nil {
			if err := rt.Limit.validate("routes." + rt.ID + ".limit"); err != nil {
				return err
			}
		}
		for keyID, o := range rt.LimitOverrides {
			if err := o.validate("routes." + rt.ID + ".limit_overrides." + keyID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l Limit) validate(where string) error {
	if l.Requests <= 0 {
		return fmt.Errorf("%s: requests must be positive, got %d", where, l.Requests)
	}
	if l.WindowSeconds <= 0 {
		return fmt.Errorf("%s: window_seconds must be positive, got %d", where, l.WindowSeconds)
	}
	return nil
}
