package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/telekom/escalation-sync/pkg/incident"
	"github.com/telekom/escalation-sync/pkg/policy"
	"github.com/telekom/escalation-sync/pkg/tracker"
	"github.com/telekom/escalation-sync/pkg/transport"
)

const (
	VersionV1 = "v1"
)

// DefaultSyncTimeout bounds how long one-shot commands wait for the connection
// and for the first state of an incident.
const DefaultSyncTimeout = 10 * time.Second

type Config struct {
	Version        string    `yaml:"version"`
	CurrentContext string    `yaml:"current-context,omitempty"`
	Contexts       []Context `yaml:"contexts,omitempty"`
	Settings       Settings  `yaml:"settings,omitempty"`
}

// Settings holds client-wide defaults. Durations use Go syntax, e.g. "3s" or "20m".
type Settings struct {
	OutputFormat        string `yaml:"output-format,omitempty"`
	ReconnectDelay      string `yaml:"reconnect-delay,omitempty"`
	SyncTimeout         string `yaml:"sync-timeout,omitempty"`
	ResyncAfter         string `yaml:"resync-after,omitempty"`
	LevelDuration       string `yaml:"level-duration,omitempty"`
	MinAnnotationLength int    `yaml:"min-annotation-length,omitempty"`
	Operator            string `yaml:"operator,omitempty"`
}

type Context struct {
	Name                  string `yaml:"name"`
	Server                string `yaml:"server"`
	CAFile                string `yaml:"ca-file,omitempty"`
	InsecureSkipTLSVerify bool   `yaml:"insecure-skip-tls-verify,omitempty"`
	Audit                 *Audit `yaml:"audit,omitempty"`
}

// Audit selects where transition and connection events are recorded.
type Audit struct {
	// Log writes events to the CLI log.
	Log   bool   `yaml:"log,omitempty"`
	Kafka *Kafka `yaml:"kafka,omitempty"`
}

type Kafka struct {
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	Compression string   `yaml:"compression,omitempty"`
	TLS         bool     `yaml:"tls,omitempty"`
	CAFile      string   `yaml:"ca-file,omitempty"`
}

// Timing is the parsed form of the duration settings, defaults applied.
type Timing struct {
	ReconnectDelay      time.Duration
	SyncTimeout         time.Duration
	ResyncAfter         time.Duration
	LevelDuration       time.Duration
	MinAnnotationLength int
}

func DefaultConfig() Config {
	return Config{
		Version: VersionV1,
		Settings: Settings{
			OutputFormat: "table",
		},
	}
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func (c *Config) FindContext(name string) (*Context, error) {
	for i := range c.Contexts {
		if c.Contexts[i].Name == name {
			return &c.Contexts[i], nil
		}
	}
	return nil, fmt.Errorf("context not found: %s", name)
}

func (c *Config) CurrentContextOrDefault() string {
	if c.CurrentContext != "" {
		return c.CurrentContext
	}
	if len(c.Contexts) > 0 {
		return c.Contexts[0].Name
	}
	return ""
}

// Timing parses the duration settings. Unset values take the client defaults;
// resync-after "0s" disables the follow-up request.
func (s Settings) Timing() (Timing, error) {
	t := Timing{
		ReconnectDelay:      transport.DefaultReconnectDelay,
		SyncTimeout:         DefaultSyncTimeout,
		ResyncAfter:         tracker.DefaultResyncAfter,
		LevelDuration:       incident.DefaultLevelDuration,
		MinAnnotationLength: policy.DefaultMinAnnotationLength,
	}
	fields := []struct {
		key      string
		raw      string
		dst      *time.Duration
		zeroOkay bool
	}{
		{"reconnect-delay", s.ReconnectDelay, &t.ReconnectDelay, false},
		{"sync-timeout", s.SyncTimeout, &t.SyncTimeout, false},
		{"resync-after", s.ResyncAfter, &t.ResyncAfter, true},
		{"level-duration", s.LevelDuration, &t.LevelDuration, false},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return Timing{}, fmt.Errorf("settings.%s: %w", f.key, err)
		}
		if d < 0 || (d == 0 && !f.zeroOkay) {
			return Timing{}, fmt.Errorf("settings.%s must be positive, got %s", f.key, f.raw)
		}
		*f.dst = d
	}
	if t.LevelDuration%time.Second != 0 {
		return Timing{}, fmt.Errorf("settings.level-duration must be whole seconds, got %s", s.LevelDuration)
	}
	if s.MinAnnotationLength < 0 {
		return Timing{}, fmt.Errorf("settings.min-annotation-length must not be negative")
	}
	if s.MinAnnotationLength > 0 {
		t.MinAnnotationLength = s.MinAnnotationLength
	}
	return t, nil
}

// ValidateServer checks that server is a ws:// or wss:// URL.
func ValidateServer(server string) error {
	u, err := url.Parse(strings.TrimSpace(server))
	if err != nil {
		return fmt.Errorf("invalid server %q: %w", server, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid server %q: scheme must be ws or wss", server)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid server %q: host is required", server)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Version == "" {
		return errors.New("config version missing")
	}
	seen := make(map[string]bool, len(c.Contexts))
	for _, ctx := range c.Contexts {
		if strings.TrimSpace(ctx.Name) == "" {
			return errors.New("context name cannot be empty")
		}
		if seen[ctx.Name] {
			return fmt.Errorf("duplicate context %s", ctx.Name)
		}
		seen[ctx.Name] = true
		if strings.TrimSpace(ctx.Server) == "" {
			return fmt.Errorf("context %s server is required", ctx.Name)
		}
		if err := ValidateServer(ctx.Server); err != nil {
			return fmt.Errorf("context %s: %w", ctx.Name, err)
		}
		if ctx.Audit != nil && ctx.Audit.Kafka != nil {
			k := ctx.Audit.Kafka
			if len(k.Brokers) == 0 || k.Topic == "" {
				return fmt.Errorf("context %s: audit.kafka needs brokers and topic", ctx.Name)
			}
		}
	}
	if _, err := c.Settings.Timing(); err != nil {
		return err
	}
	return nil
}
