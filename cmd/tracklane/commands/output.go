package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/tracklane/tracklane/pkg/engine"
)

var (
	accent  = lipgloss.Color("#5F87FF")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	failure = lipgloss.Color("#FF3B30")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accent)
	labelStyle   = lipgloss.NewStyle().Foreground(muted).Width(14)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(failure).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
)

// printer writes styled human readable output.
type printer struct {
	w io.Writer
}

func (p *printer) title(s string) {
	fmt.Fprintln(p.w, titleStyle.Render(s))
}

func (p *printer) field(label string, value interface{}) {
	fmt.Fprintf(p.w, "  %s %v\n", labelStyle.Render(label+":"), value)
}

func (p *printer) line(s string) {
	fmt.Fprintln(p.w, "  "+s)
}

func (p *printer) ok(s string) string {
	return successStyle.Render(s)
}

func (p *printer) bad(s string) string {
	return errorStyle.Render(s)
}

func (p *printer) muted(s string) string {
	return mutedStyle.Render(s)
}

// render writes v as indented JSON when --json is set and calls human otherwise.
func render(cmd *cobra.Command, g *globalOptions, v interface{}, human func(p *printer)) error {
	out := cmd.OutOrStdout()
	if g.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(&printer{w: out})
	return nil
}

// printInvokeResult renders the per-rule outcome of an invocation.
func printInvokeResult(p *printer, res *engine.InvokeResult) {
	if res.Profile != nil {
		p.field("profile", res.Profile.ID)
	}

	eventTypes := make([]string, 0, len(res.Results))
	for t := range res.Results {
		eventTypes = append(eventTypes, t)
	}
	sort.Strings(eventTypes)

	p.field("rules", res.Results.Count())
	for _, t := range eventTypes {
		for _, rr := range res.Results[t] {
			status := p.ok("ok")
			var msgs []string
			if rr.Debug.HasErrors() {
				status = p.bad("error")
				for _, e := range rr.Debug.Flow.Errors {
					msgs = append(msgs, e.Message)
				}
			}
			line := fmt.Sprintf("%s %s %s", status, t, rr.RuleName)
			if len(msgs) > 0 {
				line += " " + p.muted(strings.Join(msgs, "; "))
			}
			p.line(line)
		}
	}

	if len(res.Segmentation.IDs) > 0 {
		p.field("segments", strings.Join(res.Segmentation.IDs, ", "))
	}
	for _, e := range res.Segmentation.Errors {
		p.line(p.bad("segment error") + " " + e)
	}
	if res.Merge != nil {
		p.field("merged into", res.Merge.CanonicalID)
		p.field("deactivated", strings.Join(res.Merge.Deactivated, ", "))
	}
}
