package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/richinsley/comfytrace/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// app carries the loaded configuration and the collaborators built from it to
// every command
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
	logger  *slog.Logger

	known *knownNodes
}

// flags bound onto configuration keys
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"comfyui":    "comfyui_path",
	"server":     "server.address",
	"port":       "server.port",
	"protocol":   "server.protocol",
	"nodemap":    "nodemap.path",
	"format":     "output.format",
	"scan-cache": "scan.cache_file",
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "comfytrace",
		Short:         "Recover prompts, LoRAs and node usage from ComfyUI images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./comfytrace.yaml)")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("comfyui", "", "path of a ComfyUI installation to scan for nodes")
	flags.String("server", "", "address of a running ComfyUI server")
	flags.Int("port", 0, "port of the ComfyUI server")
	flags.String("protocol", "", "http or https")
	flags.String("nodemap", "", "extension-node-map.json used by --search instead of the published one")
	flags.String("scan-cache", "", "file keeping the custom_nodes scan between runs")

	root.AddCommand(
		newAnalyzeCmd(a),
		newPromptsCmd(a),
		newNodesCmd(a),
		newGraphCmd(a),
		newHistoryCmd(a),
		newServerCmd(a),
		newEmbedCmd(a),
	)
	return root
}

// init loads the configuration, applies flags that were set on the command line
// and installs the logger
func (a *app) init(cmd *cobra.Command) error {
	v, err := config.NewViper(a.cfgFile)
	if err != nil {
		return err
	}
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	a.v = v
	a.cfg = cfg
	a.logger = newLogger(cmd.ErrOrStderr(), cfg)
	slog.SetDefault(a.logger)
	a.logger.Debug("configuration loaded", "file", v.ConfigFileUsed())
	return nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	if cfg.Log.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
