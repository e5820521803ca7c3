package main

import (
	"fmt"

	"github.com/richinsley/comfytrace/report"
	"github.com/spf13/cobra"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		out  string
		opts analyzeOptions
	)
	cmd := &cobra.Command{
		Use:   "analyze IMAGE...",
		Short: "Trace prompts and classify the nodes of one or more images",
		Long: `Reads the workflow embedded in each image, traces the prompts and LoRAs that
reach its samplers and classifies its node types. Workflow and prompt JSON files
are accepted in place of images.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			format, err := a.outputFormat()
			if err != nil {
				return err
			}

			analyses := make([]*report.Analysis, 0, len(args))
			failed := 0
			for _, path := range args {
				doc, err := a.loadDocument(path)
				if err == nil {
					var an *report.Analysis
					an, err = a.analyze(ctx, doc, opts)
					if err == nil {
						analyses = append(analyses, an)
						continue
					}
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failed++
				a.logger.Error("analysis failed", "source", path, "error", err)
			}

			var v interface{} = analyses
			if len(args) == 1 && len(analyses) == 1 {
				v = analyses[0]
			}
			if len(analyses) != 0 {
				if out != "" {
					err = report.WriteFile(out, format, v)
				} else {
					err = report.Write(cmd.OutOrStdout(), format, v)
				}
				if err != nil {
					return err
				}
			}
			if failed != 0 {
				return fmt.Errorf("%d of %d inputs could not be analysed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringP("format", "f", "", "output format: json, yaml or text")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the report to a file instead of stdout")
	cmd.Flags().BoolVar(&opts.search, "search", false, "look up unknown node types in the extension node map")
	cmd.Flags().BoolVar(&opts.tables, "tables", false, "include the full node, io and connection tables")
	return cmd
}
