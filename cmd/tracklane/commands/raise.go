package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracklane/tracklane/pkg/engine"
	"github.com/tracklane/tracklane/pkg/telemetry"
)

type raiseOptions struct {
	profileID  string
	sessionID  string
	sourceID   string
	properties string
	debug      bool
}

func newRaiseCommand(g *globalOptions) *cobra.Command {
	o := &raiseOptions{}

	cmd := &cobra.Command{
		Use:   "raise <event-type>",
		Short: "Raise a single event for a profile",
		Long: `Raise an event of the given type for a profile. The event is stored and
the rules engine runs for it at the same time.`,
		Example: `  # Raise a purchase event
  tracklane raise purchase --profile p-123 --properties '{"value": 42}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var props map[string]interface{}
			if o.properties != "" {
				if err := json.Unmarshal([]byte(o.properties), &props); err != nil {
					return fmt.Errorf("invalid properties: %w", err)
				}
			}

			a, err := newApp(ctx, g, o.debug)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.loadConfiguredDefinitions(ctx); err != nil {
				return err
			}

			profile, err := a.profile(ctx, o.profileID)
			if err != nil {
				return err
			}

			var session *engine.Session
			if o.sessionID != "" {
				session = &engine.Session{ID: o.sessionID}
			}

			ctx, span := a.tel.Tracer.StartCommandSpan(ctx, "raise")
			defer span.End()

			event, res, err := a.engine.RaiseEvent(ctx, args[0], props, session, profile, o.sourceID)
			if err != nil {
				telemetry.RecordError(span, err)
				return err
			}
			telemetry.RecordSuccess(span)

			out := struct {
				Event  *engine.Event        `json:"event"`
				Result *engine.InvokeResult `json:"result"`
			}{event, res}

			return render(cmd, g, out, func(p *printer) {
				p.title("Event raised")
				p.field("event", event.ID)
				p.field("type", event.Type)
				printInvokeResult(p, res)
			})
		},
	}

	cmd.Flags().StringVarP(&o.profileID, "profile", "p", "", "profile ID")
	cmd.Flags().StringVar(&o.sessionID, "session", "", "session ID")
	cmd.Flags().StringVar(&o.sourceID, "source", "cli", "event source ID")
	cmd.Flags().StringVar(&o.properties, "properties", "", "event properties as a JSON object")
	cmd.Flags().BoolVar(&o.debug, "debug", false, "record node level debug information")
	_ = cmd.MarkFlagRequired("profile")

	return cmd
}
