package commands

import (
	"strconv"

	"github.com/spf13/cobra"
)

func newLoadCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <path>...",
		Short: "Load rule, flow, segment, profile and event definitions",
		Long: `Load definition files into the database.

Paths may be files or directories; directories are walked for .yaml, .yml and
.json files. Flows, rules and segments that fail validation are skipped and
logged.`,
		Example: `  # Load a directory of definitions
  tracklane load ./definitions

  # Load single files
  tracklane load rules.yaml flows.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), g, false)
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.loader.Load(cmd.Context(), args)
			if err != nil {
				return err
			}

			return render(cmd, g, sum, func(p *printer) {
				p.title("Definitions loaded")
				p.field("rules", sum.Rules)
				p.field("flows", sum.Flows)
				p.field("segments", sum.Segments)
				p.field("profiles", sum.Profiles)
				p.field("events", sum.Events)
				if sum.Skipped > 0 {
					p.field("skipped", p.bad(strconv.Itoa(sum.Skipped)))
				}
			})
		},
	}
}
