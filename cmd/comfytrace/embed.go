package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/richinsley/comfytrace/graphapi"
	"github.com/richinsley/comfytrace/pngmeta"
	"github.com/spf13/cobra"
)

func newEmbedCmd(a *app) *cobra.Command {
	var workflowPath, promptPath, out string
	cmd := &cobra.Command{
		Use:   "embed IMAGE",
		Short: "Write a copy of a PNG carrying a workflow and/or prompt the way ComfyUI saves them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workflowPath == "" && promptPath == "" {
				return fmt.Errorf("nothing to embed, give --workflow and/or --prompt")
			}
			chunks := make(map[string]string)
			if workflowPath != "" {
				raw, err := readGraphFile(workflowPath)
				if err != nil {
					return err
				}
				chunks[pngmeta.WorkflowKeywords[0]] = string(raw)
			}
			if promptPath != "" {
				raw, err := readGraphFile(promptPath)
				if err != nil {
					return err
				}
				// images carry the bare node map, not the queued envelope
				raw = graphapi.PromptDocument(raw)
				if _, err := graphapi.ParseExecutionRecord(raw); err != nil {
					return fmt.Errorf("%s: %w", promptPath, err)
				}
				chunks[pngmeta.PromptKeywords[0]] = string(raw)
			}

			src, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer src.Close()
			dst, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := pngmeta.Embed(dst, src, chunks); err != nil {
				dst.Close()
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if err := dst.Close(); err != nil {
				return err
			}
			a.logger.Info("embedded metadata", "image", args[0], "out", out, "chunks", len(chunks))
			return nil
		},
	}
	cmd.Flags().StringVar(&workflowPath, "workflow", "", "workflow JSON file")
	cmd.Flags().StringVar(&promptPath, "prompt", "", "prompt JSON file")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output PNG")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// readGraphFile reads a JSON document and checks that it builds into a graph.
// The document is compacted since text chunks are stored verbatim.
func readGraphFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if _, err := graphapi.Build(raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return compact.Bytes(), nil
}
