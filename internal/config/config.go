// Package config loads lycheefs settings from a YAML or JSON file, the
// environment and command-line flags.
package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/lycheefs/lycheefs/pkg/cache"
	"github.com/lycheefs/lycheefs/pkg/models"
	"github.com/lycheefs/lycheefs/pkg/tree"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LYCHEEFS_"

// Config is the whole settings file.
type Config struct {
	DefaultInstance string              `koanf:"default_instance"`
	Instances       map[string]Instance `koanf:"instances" validate:"required,min=1,dive"`

	// Password replaces the selected instance's password. It is normally
	// set through LYCHEEFS_PASSWORD so it stays out of the file.
	Password string `koanf:"password"`

	Cache   CacheConfig   `koanf:"cache"`
	Tree    TreeConfig    `koanf:"tree"`
	Remote  RemoteConfig  `koanf:"remote"`
	Logging LoggingConfig `koanf:"logging"`
	Metrics MetricsConfig `koanf:"metrics"`
	Mount   MountConfig   `koanf:"mount"`
}

// Instance is one Lychee server.
type Instance struct {
	Name     string `koanf:"-"`
	URL      string `koanf:"url" validate:"required,url"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Quality  string `koanf:"quality" validate:"omitempty,quality"`
}

// CacheConfig configures the shared content cache.
type CacheConfig struct {
	Policy  string        `koanf:"policy" validate:"cache_policy"`
	MaxSize string        `koanf:"max_size" validate:"bytesize"`
	TTL     time.Duration `koanf:"ttl" validate:"gte=0"`
}

// TreeConfig configures tree building.
type TreeConfig struct {
	Collisions      string        `koanf:"collisions" validate:"collisions"`
	OnError         string        `koanf:"on_error" validate:"on_error"`
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"gte=0"`
}

// RemoteConfig configures the HTTP client.
type RemoteConfig struct {
	Timeout time.Duration `koanf:"timeout" validate:"gte=0"`
	Retries int           `koanf:"retries" validate:"gte=0,lte=10"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Output string `koanf:"output"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// MountConfig configures the kernel mount.
type MountConfig struct {
	AllowOther   bool          `koanf:"allow_other"`
	Debug        bool          `koanf:"debug"`
	Options      []string      `koanf:"options"`
	AttrTimeout  time.Duration `koanf:"attr_timeout" validate:"gte=0"`
	EntryTimeout time.Duration `koanf:"entry_timeout" validate:"gte=0"`
}

// envKeys maps environment variables, without prefix, to config keys.
var envKeys = map[string]string{
	"LOG_LEVEL":    "logging.level",
	"LOG_FORMAT":   "logging.format",
	"CACHE_POLICY": "cache.policy",
	"PASSWORD":     "password",
	"METRICS_ADDR": "metrics.addr",
}

// Load reads path, applies environment overrides and then any flags that
// map to config keys. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	envKey := func(s string) string {
		return envKeys[strings.TrimPrefix(s, EnvPrefix)]
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagKey(flags)), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parserFor(path string) koanf.Parser {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.Parser()
	}
	return yaml.Parser()
}

// flagKey maps the flags that double as config keys.
func flagKey(fs *pflag.FlagSet) func(*pflag.Flag) (string, interface{}) {
	return func(f *pflag.Flag) (string, interface{}) {
		switch f.Name {
		case "metrics-addr":
			return "metrics.addr", posflag.FlagVal(fs, f)
		case "allow-other":
			return "mount.allow_other", posflag.FlagVal(fs, f)
		case "debug":
			return "mount.debug", posflag.FlagVal(fs, f)
		case "options":
			return "mount.options", posflag.FlagVal(fs, f)
		case "verbose":
			if f.Changed {
				return "logging.level", "debug"
			}
		}
		return "", nil
	}
}

// ApplyDefaults fills in unset values.
func (c *Config) ApplyDefaults() {
	for name, inst := range c.Instances {
		inst.Name = name
		c.Instances[name] = inst
	}
	if c.Cache.Policy == "" {
		c.Cache.Policy = string(cache.PolicyLRU)
	}
	if c.Cache.MaxSize == "" {
		c.Cache.MaxSize = humanize.IBytes(cache.DefaultMaxBytes)
	}
	if c.Tree.Collisions == "" {
		c.Tree.Collisions = tree.CollisionSuffix.String()
	}
	if c.Tree.OnError == "" {
		c.Tree.OnError = tree.FailAbort.String()
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 60 * time.Second
	}
	if c.Remote.Retries == 0 {
		c.Remote.Retries = 3
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}
	if c.Mount.AttrTimeout == 0 {
		c.Mount.AttrTimeout = time.Second
	}
	if c.Mount.EntryTimeout == 0 {
		c.Mount.EntryTimeout = time.Second
	}
}

// CacheBytes returns the parsed cache size.
func (c *Config) CacheBytes() int64 {
	n, err := humanize.ParseBytes(c.Cache.MaxSize)
	if err != nil {
		return cache.DefaultMaxBytes
	}
	return int64(n)
}

// CachePolicy returns the parsed cache policy.
func (c *Config) CachePolicy() cache.Policy {
	p, _ := cache.ParsePolicy(c.Cache.Policy)
	return p
}

// Collisions returns the parsed collision policy.
func (c *Config) Collisions() tree.CollisionPolicy {
	p, _ := tree.ParseCollisionPolicy(c.Tree.Collisions)
	return p
}

// OnError returns the parsed build failure policy.
func (c *Config) OnError() tree.FailurePolicy {
	p, _ := tree.ParseFailurePolicy(c.Tree.OnError)
	return p
}

// Select picks the instance to mount: name if given, else
// default_instance, else the only instance, else the alphabetically first.
func (c *Config) Select(name string, log *zap.Logger) (Instance, error) {
	if name == "" {
		name = c.DefaultInstance
	}
	if name == "" {
		names := make([]string, 0, len(c.Instances))
		for n := range c.Instances {
			names = append(names, n)
		}
		sort.Strings(names)
		if len(names) == 0 {
			return Instance{}, fmt.Errorf("no instances configured")
		}
		name = names[0]
		if len(names) > 1 && log != nil {
			log.Info("no instance selected, using first", zap.String("instance", name), zap.Strings("available", names))
		}
	}

	inst, ok := c.Instances[name]
	if !ok {
		return Instance{}, fmt.Errorf("unknown instance %q", name)
	}
	if c.Password != "" {
		inst.Password = c.Password
	}
	return inst, nil
}

// ParsedQuality returns the instance quality, or the default when unset.
func (i Instance) ParsedQuality() models.Quality {
	if i.Quality == "" {
		return models.DefaultQuality
	}
	q, err := models.ParseQuality(i.Quality)
	if err != nil {
		return models.DefaultQuality
	}
	return q
}
