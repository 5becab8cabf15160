package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newProfileCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect profiles",
	}
	cmd.AddCommand(newProfileShowCommand(g))
	return cmd
}

func newProfileShowCommand(g *globalOptions) *cobra.Command {
	var events int

	cmd := &cobra.Command{
		Use:   "show <profile-id>",
		Short: "Show a profile and its latest events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, g, false)
			if err != nil {
				return err
			}
			defer a.Close()

			profile, err := a.store.Profiles().Get(ctx, args[0])
			if err != nil {
				return err
			}
			recent, err := a.store.Events().ListByProfile(ctx, profile.ID, events)
			if err != nil {
				return err
			}

			out := map[string]interface{}{"profile": profile, "events": recent}
			return render(cmd, g, out, func(p *printer) {
				p.title("Profile " + profile.ID)
				active := p.ok("active")
				if !profile.Active {
					active = p.bad("inactive")
				}
				p.field("status", active)
				p.field("segments", strings.Join(profile.Segments, ", "))
				printTraits(p, "public", profile.Traits.Public)
				printTraits(p, "private", profile.Traits.Private)
				p.field("events", len(recent))
				for _, e := range recent {
					p.line(fmt.Sprintf("%s %s %s", p.muted(e.Timestamp.Format("2006-01-02 15:04:05")), e.Type, p.muted(e.ID)))
				}
			})
		},
	}

	cmd.Flags().IntVar(&events, "events", 10, "number of recent events to show")
	return cmd
}

func printTraits(p *printer, label string, traits map[string]interface{}) {
	keys := make([]string, 0, len(traits))
	for k := range traits {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.field(label+"."+k, traits[k])
	}
}
