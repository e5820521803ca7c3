package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/richinsley/comfytrace/report"
	"github.com/richinsley/comfytrace/trace"
	"github.com/spf13/cobra"
)

// previewLength is the number of characters of a prompt shown without --full
const previewLength = 120

func newPromptsCmd(a *app) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "prompts IMAGE",
		Short: "Show the prompts, LoRAs and ControlNet use of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.loadDocument(args[0])
			if err != nil {
				return err
			}
			an, err := a.analyze(cmd.Context(), doc, analyzeOptions{})
			if err != nil {
				return err
			}
			limit := previewLength
			if full {
				limit = 0
			}
			_, err = io.WriteString(cmd.OutOrStdout(), renderSummary(an, limit))
			return err
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "print prompts in full instead of a preview")
	return cmd
}

// renderSummary lays out an analysis for a terminal. limit truncates prompt
// text, 0 disables truncation.
func renderSummary(an *report.Analysis, limit int) string {
	res := an.Trace
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(an.Source) + "\n")
	stats := fmt.Sprintf("%d nodes  %d connections  %d muted  %d bypassed",
		an.Graph.Nodes, an.Graph.Connections, an.Graph.Muted, an.Graph.Bypassed)
	if an.Classification != nil {
		stats += fmt.Sprintf("\n%d built-in  %d custom  %d unknown node types",
			len(an.Classification.BuiltIn), len(an.Classification.CustomInstalled), len(an.Classification.Unknown))
	}
	sb.WriteString(boxStyle.Render(stats) + "\n")

	writePrompts(&sb, "Positive", positiveStyle, res.Positive, limit)
	writePrompts(&sb, "Negative", negativeStyle, res.Negative, limit)

	if len(res.Loras) != 0 {
		sb.WriteString(headerStyle.Render(fmt.Sprintf("LoRAs (%d)", len(res.Loras))) + "\n")
		for _, l := range res.Loras {
			fmt.Fprintf(&sb, "  %s %s\n", l.Name,
				dimStyle.Render(fmt.Sprintf("model %s  clip %s", num(l.ModelStrength), num(l.ClipStrength))))
		}
	}
	if res.UsesControlNet {
		sb.WriteString(warnStyle.Render("ControlNet in use: the prompts describe only part of the conditioning") + "\n")
	}
	if res.Empty() {
		sb.WriteString(warnStyle.Render("No prompt text reaches a sampler") + "\n")
	}
	if len(res.Warnings) != 0 {
		sb.WriteString(headerStyle.Render("Warnings") + "\n")
		for _, w := range res.Warnings {
			sb.WriteString("  " + dimStyle.Render(w) + "\n")
		}
	}
	return sb.String()
}

func writePrompts(sb *strings.Builder, title string, style lipgloss.Style, prompts []trace.Prompt, limit int) {
	if len(prompts) == 0 {
		return
	}
	sb.WriteString(headerStyle.Render(fmt.Sprintf("%s (%d)", title, len(prompts))) + "\n")
	for i, p := range prompts {
		meta := fmt.Sprintf("from %s into %s.%s", joinIDs(p), p.Sink, p.Input)
		if p.Weight != 1 {
			meta = fmt.Sprintf("weight %s, %s", num(p.Weight), meta)
		}
		fmt.Fprintf(sb, "  %d. %s\n     %s\n", i+1, style.Render(preview(p.Text, limit)), dimStyle.Render(meta))
	}
}

func joinIDs(p trace.Prompt) string {
	s := make([]string, len(p.Sources))
	for i, id := range p.Sources {
		s[i] = string(id)
	}
	return strings.Join(s, ",")
}

// preview flattens text onto one line and cuts it to limit characters
func preview(text string, limit int) string {
	flat := strings.Join(strings.Fields(text), " ")
	if limit <= 0 {
		return flat
	}
	runes := []rune(flat)
	if len(runes) <= limit {
		return flat
	}
	return string(runes[:limit]) + "..."
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
