// Package config loads the node's key/value configuration file. This
// package is the thin adapter between the opaque key/value source
// (github.com/magiconair/properties) and the typed values the node
// controller needs.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/magiconair/properties"
)

const (
	DefaultPortRangeMin  = 40000
	DefaultPortRangeMax  = 40100
	DefaultMagic         = "ghostproc-cluster"
	DefaultBackoffMinMs  = 200
	DefaultBackoffMaxMs  = 10000
)

// Config is the node controller's view of the configuration file.
type Config struct {
	Role         string
	Hostname     string
	ListenPort   uint16 // 0 means OS-assigned
	KnownHosts   []string
	PortRangeMin uint16
	PortRangeMax uint16
	Magic        string
	BackoffMinMs int
	BackoffMaxMs int

	raw *properties.Properties // opaque passthrough for keys this type doesn't model
}

// ErrInvalid wraps any configuration problem the node controller must
// treat as config-invalid and fatal on startup.
type ErrInvalid struct{ Reason string }

func (e *ErrInvalid) Error() string { return fmt.Sprintf("config: invalid configuration: %s", e.Reason) }

// Load reads and validates the properties file at path. Keys are
// case-insensitive; known-hosts is a comma-separated list, and port-range
// and connect-backoff-ms are min/max pairs separated by '-' or ','.
func Load(path string) (*Config, error) {
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return nil, &ErrInvalid{Reason: err.Error()}
	}
	return FromProperties(p)
}

// FromProperties builds a Config from an already-loaded properties set,
// letting callers (and tests) construct one without touching a file.
func FromProperties(p *properties.Properties) (*Config, error) {
	lower := properties.NewProperties()
	for _, key := range p.Keys() {
		v, _ := p.Get(key)
		lower.Set(strings.ToLower(key), v)
	}

	cfg := &Config{
		Role:         lower.GetString("role", ""),
		Hostname:     lower.GetString("hostname", "localhost"),
		Magic:        lower.GetString("magic", DefaultMagic),
		PortRangeMin: DefaultPortRangeMin,
		PortRangeMax: DefaultPortRangeMax,
		BackoffMinMs: DefaultBackoffMinMs,
		BackoffMaxMs: DefaultBackoffMaxMs,
		raw:          lower,
	}

	if v := lower.GetString("listen-port", ""); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return nil, &ErrInvalid{Reason: "listen-port: " + err.Error()}
		}
		cfg.ListenPort = uint16(n)
	}

	if v := lower.GetString("known-hosts", ""); v != "" {
		for _, h := range strings.Split(v, ",") {
			h = strings.TrimSpace(h)
			if h == "" {
				return nil, &ErrInvalid{Reason: "known-hosts contains an empty entry"}
			}
			cfg.KnownHosts = append(cfg.KnownHosts, h)
		}
	}

	if v := lower.GetString("port-range", ""); v != "" {
		lo, hi, err := parsePortRange(v)
		if err != nil {
			return nil, &ErrInvalid{Reason: "port-range: " + err.Error()}
		}
		cfg.PortRangeMin, cfg.PortRangeMax = lo, hi
	}
	if cfg.PortRangeMin >= cfg.PortRangeMax {
		return nil, &ErrInvalid{Reason: "port-range must be ascending"}
	}

	if v := lower.GetString("connect-backoff-ms", ""); v != "" {
		lo, hi, err := parseIntPair(v)
		if err != nil {
			return nil, &ErrInvalid{Reason: "connect-backoff-ms: " + err.Error()}
		}
		cfg.BackoffMinMs, cfg.BackoffMaxMs = lo, hi
	}

	return cfg, nil
}

// Get exposes any configuration key this type doesn't model, case
// insensitively, for extensions a particular role body might need.
func (c *Config) Get(key string) (string, bool) {
	return c.raw.Get(strings.ToLower(key))
}

func parsePortRange(v string) (uint16, uint16, error) {
	lo, hi, err := parseIntPair(v)
	if err != nil {
		return 0, 0, err
	}
	return uint16(lo), uint16(hi), nil
}

func parseIntPair(v string) (int, int, error) {
	a, b, ok := strings.Cut(v, "-")
	if !ok {
		a, b, ok = strings.Cut(v, ",")
	}
	if !ok {
		return 0, 0, fmt.Errorf("expected a min-max pair, got %q", v)
	}
	lo, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, err
	}
	hi, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}
