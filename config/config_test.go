package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/richinsley/comfytrace/trace"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	require.NoError(t, err)
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := defaults(t)
	assert.Equal(t, 8188, cfg.Server.Port)
	assert.Equal(t, "http", cfg.Server.Protocol)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "execution", cfg.Trace.Precedence)
	assert.Equal(t, ", ", cfg.Trace.ConcatSeparator)
	assert.Equal(t, trace.DefaultMaxDepth, cfg.Trace.MaxDepth)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())
	assert.False(t, cfg.HasServer())
}

func TestConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
comfyui_path: /opt/ComfyUI
server:
  address: 127.0.0.1
  timeout: 5s
log:
  level: debug
trace:
  precedence: widget
  concat_separator: " | "
  patterns:
    sink:
      - "(?i)^MySampler"
output:
  format: yaml
`), 0o644))
	t.Setenv("COMFYTRACE_OUTPUT_FORMAT", "text")
	t.Setenv("COMFYTRACE_SERVER_PORT", "9000")

	v, err := NewViper(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "/opt/ComfyUI", cfg.ComfyUIPath)
	assert.True(t, cfg.HasServer())
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "text", cfg.Output.Format)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())

	opts, err := cfg.TraceOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, trace.PreferWidget, opts.Precedence)
	assert.Equal(t, " | ", opts.ConcatSeparator)
	assert.Equal(t, trace.KindSink, opts.Rules.Classify("MySamplerDeluxe"))
	// core names are still known when the patterns are replaced
	assert.Equal(t, trace.KindSink, opts.Rules.Classify("KSampler"))
	assert.Equal(t, trace.KindUnknown, opts.Rules.Classify("SamplerCustomAdvancedX"))
}

func TestMissingDefaultFileIsFine(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	v, err := NewViper("")
	require.NoError(t, err)
	_, err = Load(v)
	require.NoError(t, err)
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"precedence", func(c *Config) { c.Trace.Precedence = "latest" }, "Config.Trace.Precedence: must be one of [execution widget]"},
		{"format", func(c *Config) { c.Output.Format = "xml" }, "Config.Output.Format"},
		{"level", func(c *Config) { c.Log.Level = "loud" }, "Config.Log.Level"},
		{"depth", func(c *Config) { c.Trace.MaxDepth = 0 }, "Config.Trace.MaxDepth: must be at least 1"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "Config.Server.Port: must not exceed 65535"},
		{"workers", func(c *Config) { c.Scan.Workers = -1 }, "Config.Scan.Workers"},
		{"nodemap url", func(c *Config) { c.NodeMap.URL = "not a url" }, "Config.NodeMap.URL: not a valid URL"},
		{"pattern kind", func(c *Config) { c.Trace.Patterns = map[string][]string{"sampler": {"x"}} }, "trace.patterns"},
		{"pattern syntax", func(c *Config) { c.Trace.Patterns = map[string][]string{"sink": {"(unclosed"}} }, "trace.patterns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
