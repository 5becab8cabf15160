package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracklane/tracklane/pkg/engine"
)

func newDebugCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Inspect workflow debug records",
	}
	cmd.AddCommand(newDebugListCommand(g))
	return cmd
}

func newDebugListCommand(g *globalOptions) *cobra.Command {
	var (
		eventID    string
		errorsOnly bool
		limit      int
		offset     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List debug records, newest first",
		Example: `  # Records of one event
  tracklane debug list --event 0b7c...

  # Failed workflows only
  tracklane debug list --errors --limit 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, g, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var filter *string
			if eventID != "" {
				filter = &eventID
			}
			records, err := a.store.Debug().List(ctx, filter, errorsOnly, limit, offset)
			if err != nil {
				return err
			}
			if records == nil {
				records = []engine.DebugRecord{}
			}

			return render(cmd, g, records, func(p *printer) {
				p.title(fmt.Sprintf("%d debug record(s)", len(records)))
				for _, r := range records {
					status := p.ok("ok")
					if len(r.Errors) > 0 {
						status = p.bad("error")
					}
					p.line(fmt.Sprintf("%s %s %s flow=%s rule=%s",
						status,
						p.muted(r.Timestamp.Format("2006-01-02 15:04:05")),
						r.EventType, r.FlowID, r.RuleName))
					for _, e := range r.Errors {
						p.line("    " + p.muted(string(e.Class)) + " " + e.Message)
					}
				}
			})
		},
	}

	cmd.Flags().StringVar(&eventID, "event", "", "only records of this event ID")
	cmd.Flags().BoolVar(&errorsOnly, "errors", false, "only records with errors")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records")
	cmd.Flags().IntVar(&offset, "offset", 0, "records to skip")

	return cmd
}
