package main

import (
	"github.com/richinsley/comfytrace/report"
	"github.com/spf13/cobra"
)

func newNodesCmd(a *app) *cobra.Command {
	var search bool
	cmd := &cobra.Command{
		Use:   "nodes IMAGE",
		Short: "Classify the node types of an image as built-in, installed or unknown",
		Long: `Compares the node types used by the image's workflow with the core nodes and
the custom nodes found in --comfyui and on --server. With --search, unknown
types are looked up in ComfyUI-Manager's extension node map.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			format, err := a.outputFormat()
			if err != nil {
				return err
			}
			doc, err := a.loadDocument(args[0])
			if err != nil {
				return err
			}
			cls, err := a.classify(ctx, doc.graph)
			if err != nil {
				return err
			}
			r := &report.NodeReport{Source: doc.source, Classification: cls}
			if search {
				if r.Candidates, err = a.candidates(ctx, cls); err != nil {
					return err
				}
			}
			return report.Write(cmd.OutOrStdout(), format, r)
		},
	}
	cmd.Flags().StringP("format", "f", "", "output format: json, yaml or text")
	cmd.Flags().BoolVar(&search, "search", false, "look up unknown node types in the extension node map")
	return cmd
}
