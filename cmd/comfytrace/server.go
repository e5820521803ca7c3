package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newServerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Show the system stats and node inventory of a ComfyUI server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.HasServer() {
				return errNoServer
			}
			ctx := cmd.Context()
			c := a.comfyClient()

			stats, err := c.GetSystemStats(ctx)
			if err != nil {
				return err
			}
			builtin, err := c.BuiltinTypeNames(ctx)
			if err != nil {
				return err
			}
			custom, err := c.InstalledCustomTypeNames(ctx)
			if err != nil {
				return err
			}

			var sb strings.Builder
			sb.WriteString(titleStyle.Render(fmt.Sprintf("%s://%s:%d", a.cfg.Server.Protocol, a.cfg.Server.Address, a.cfg.Server.Port)) + "\n")
			sb.WriteString(headerStyle.Render("System") + "\n")
			fmt.Fprintf(&sb, "  OS: %s\n", stats.System.OS)
			fmt.Fprintf(&sb, "  Python Version: %s\n", stats.System.PythonVersion)
			if stats.System.ComfyUIVersion != "" {
				fmt.Fprintf(&sb, "  ComfyUI Version: %s\n", stats.System.ComfyUIVersion)
			}
			sb.WriteString(headerStyle.Render("Devices") + "\n")
			for _, dev := range stats.Devices {
				fmt.Fprintf(&sb, "  %d %s (%s)\n", dev.Index, dev.Name, dev.Type)
				fmt.Fprintf(&sb, "    %s\n", dimStyle.Render(fmt.Sprintf("VRAM %s free of %s, torch %s free of %s",
					mib(dev.VRAM_Free), mib(dev.VRAM_Total), mib(dev.Torch_VRAM_Free), mib(dev.Torch_VRAM_Total))))
			}
			sb.WriteString(headerStyle.Render("Nodes") + "\n")
			fmt.Fprintf(&sb, "  %d built-in, %d custom from %d repositories\n", len(builtin), len(custom), len(custom.Repos()))
			for _, repo := range custom.Repos() {
				fmt.Fprintf(&sb, "  %s\n", dimStyle.Render(repo))
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), sb.String())
			return err
		},
	}
}

func mib(bytes int64) string {
	return fmt.Sprintf("%d MiB", bytes>>20)
}
