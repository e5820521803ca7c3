package main

import (
	"errors"
	"fmt"

	"github.com/richinsley/comfytrace/client"
	"github.com/richinsley/comfytrace/report"
	"github.com/spf13/cobra"
)

var errNoServer = errors.New("no ComfyUI server configured, use --server or server.address")

func newHistoryCmd(a *app) *cobra.Command {
	var (
		promptID string
		last     int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Trace the prompts a ComfyUI server has executed",
		Long: `Reads the server's prompt history and traces each entry. The workflow sent
with the prompt is used when there is one; the executed prompt supplies the
values the nodes actually ran with.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.HasServer() {
				return errNoServer
			}
			ctx := cmd.Context()
			format, err := a.outputFormat()
			if err != nil {
				return err
			}
			c := a.comfyClient()

			var items []*client.HistoryItem
			if promptID != "" {
				item, err := c.GetHistoryItem(ctx, promptID)
				if err != nil {
					return err
				}
				if item == nil {
					return fmt.Errorf("prompt %s is not in the server's history", promptID)
				}
				items = append(items, item)
			} else {
				items, err = c.GetHistory(ctx)
				if err != nil {
					return err
				}
				if last > 0 && len(items) > last {
					items = items[len(items)-last:]
				}
			}

			t, err := a.tracer()
			if err != nil {
				return err
			}
			analyses := make([]*report.Analysis, 0, len(items))
			for _, item := range items {
				source := "history:" + item.PromptID
				g, err := item.Graph()
				if err != nil {
					a.logger.Warn("skipping history item", "prompt_id", item.PromptID, "error", err)
					continue
				}
				res, err := t.Trace(g, item.Record)
				if err != nil {
					a.logger.Warn("skipping history item", "prompt_id", item.PromptID, "error", err)
					continue
				}
				cls, err := a.classify(ctx, g)
				if err != nil {
					return err
				}
				analyses = append(analyses, report.NewAnalysis(source, nil, g, res, cls))
			}
			return report.Write(cmd.OutOrStdout(), format, analyses)
		},
	}
	cmd.Flags().StringP("format", "f", "", "output format: json, yaml or text")
	cmd.Flags().StringVar(&promptID, "id", "", "trace only this prompt id")
	cmd.Flags().IntVarP(&last, "last", "n", 0, "trace only the most recent n prompts")
	return cmd
}
