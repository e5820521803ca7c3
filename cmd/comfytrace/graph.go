package main

import (
	"github.com/richinsley/comfytrace/report"
	"github.com/spf13/cobra"
)

func newGraphCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph IMAGE",
		Short: "Print the node, io and connection tables of an image's workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.outputFormat()
			if err != nil {
				return err
			}
			doc, err := a.loadDocument(args[0])
			if err != nil {
				return err
			}
			return report.Write(cmd.OutOrStdout(), format, doc.graph)
		},
	}
	cmd.Flags().StringP("format", "f", "", "output format: json, yaml or text")
	return cmd
}
