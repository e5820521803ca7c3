// Package config loads comfytrace settings from defaults, an optional
// comfytrace.yaml, COMFYTRACE_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/richinsley/comfytrace/trace"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read, e.g. COMFYTRACE_LOG_LEVEL
const EnvPrefix = "COMFYTRACE"

// FileName is the config file looked up in the working directory when none is given
const FileName = "comfytrace"

type Config struct {
	ComfyUIPath string        `mapstructure:"comfyui_path"`
	Server      ServerConfig  `mapstructure:"server"`
	Log         LogConfig     `mapstructure:"log"`
	Trace       TraceConfig   `mapstructure:"trace"`
	Output      OutputConfig  `mapstructure:"output"`
	NodeMap     NodeMapConfig `mapstructure:"nodemap"`
	Scan        ScanConfig    `mapstructure:"scan"`
}

// ServerConfig addresses a running ComfyUI server. An empty address means none.
type ServerConfig struct {
	Address  string        `mapstructure:"address"`
	Port     int           `mapstructure:"port" validate:"min=1,max=65535"`
	Protocol string        `mapstructure:"protocol" validate:"oneof=http https"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type TraceConfig struct {
	Precedence      string `mapstructure:"precedence" validate:"oneof=execution widget"`
	ConcatSeparator string `mapstructure:"concat_separator"`
	MaxDepth        int    `mapstructure:"max_depth" validate:"min=1"`
	MaxSteps        int    `mapstructure:"max_steps" validate:"min=1"`
	// Patterns replaces the built-in type name regexps of a node kind, keyed by
	// kind name (sink, text_encoder, lora_loader, ...)
	Patterns map[string][]string `mapstructure:"patterns"`
}

type OutputConfig struct {
	Format string `mapstructure:"format" validate:"oneof=json yaml text"`
}

// NodeMapConfig locates the extension node map. Path wins over URL.
type NodeMapConfig struct {
	Path string `mapstructure:"path"`
	URL  string `mapstructure:"url" validate:"omitempty,url"`
}

type ScanConfig struct {
	Workers   int    `mapstructure:"workers" validate:"min=0"` // 0 uses the CPU count
	CacheFile string `mapstructure:"cache_file"`               // custom node scan kept between runs, empty for none
}

var validate = validator.New()

// SetDefaults registers the default value of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("comfyui_path", "")
	v.SetDefault("server.address", "")
	v.SetDefault("server.port", 8188)
	v.SetDefault("server.protocol", "http")
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("trace.precedence", string(trace.PreferExecution))
	v.SetDefault("trace.concat_separator", trace.DefaultConcatSeparator)
	v.SetDefault("trace.max_depth", trace.DefaultMaxDepth)
	v.SetDefault("trace.max_steps", trace.DefaultMaxSteps)
	v.SetDefault("output.format", "json")
	v.SetDefault("nodemap.path", "")
	v.SetDefault("nodemap.url", "")
	v.SetDefault("scan.workers", 0)
	v.SetDefault("scan.cache_file", "")
}

// NewViper returns a viper instance with defaults, environment binding and the
// config file read in. cfgFile may be empty, in which case comfytrace.yaml is
// looked up in the working directory and its absence is not an error.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return v, nil
}

// Load unmarshals and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks field constraints and that every pattern override names a
// known node kind and compiles
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if _, err := c.Rules(); err != nil {
		return err
	}
	return nil
}

// formatValidationError reports the first failed constraint in a readable form
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}
	for _, e := range validationErrs {
		field := e.Namespace()
		switch e.Tag() {
		case "oneof":
			return fmt.Errorf("%s: must be one of [%s], got %q", field, e.Param(), e.Value())
		case "min":
			return fmt.Errorf("%s: must be at least %s", field, e.Param())
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, e.Param())
		case "url":
			return fmt.Errorf("%s: not a valid URL", field)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
		}
	}
	return err
}

// Rules builds the tracer's classification rules with the configured overrides
func (c *Config) Rules() (*trace.Rules, error) {
	if len(c.Trace.Patterns) == 0 {
		return trace.DefaultRules(), nil
	}
	names := make([]string, 0, len(c.Trace.Patterns))
	for name := range c.Trace.Patterns {
		names = append(names, name)
	}
	sort.Strings(names)

	overrides := make(map[trace.Kind][]string, len(names))
	for _, name := range names {
		kind, err := trace.ParseKind(strings.ToLower(name))
		if err != nil {
			return nil, fmt.Errorf("trace.patterns: %w", err)
		}
		overrides[kind] = c.Trace.Patterns[name]
	}
	rules, err := trace.NewRules(overrides)
	if err != nil {
		return nil, fmt.Errorf("trace.patterns: %w", err)
	}
	return rules, nil
}

// TraceOptions returns tracer options reflecting the configuration
func (c *Config) TraceOptions(logger *slog.Logger) (trace.Options, error) {
	rules, err := c.Rules()
	if err != nil {
		return trace.Options{}, err
	}
	return trace.Options{
		Rules:           rules,
		Precedence:      trace.Precedence(c.Trace.Precedence),
		ConcatSeparator: c.Trace.ConcatSeparator,
		MaxDepth:        c.Trace.MaxDepth,
		MaxSteps:        c.Trace.MaxSteps,
		Logger:          logger,
	}, nil
}

// SlogLevel maps the configured level name to a slog.Level
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelWarn
	}
	return level
}

// HasServer reports whether a ComfyUI server address is configured
func (c *Config) HasServer() bool {
	return c.Server.Address != ""
}
