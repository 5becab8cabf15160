package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tracklane/tracklane/pkg/engine"
	"github.com/tracklane/tracklane/pkg/telemetry"
)

type dispatchOptions struct {
	eventsFile string
	profileID  string
	sessionID  string
	sourceID   string
	debug      bool
}

func newDispatchCommand(g *globalOptions) *cobra.Command {
	o := &dispatchOptions{}

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run the rules engine for a batch of events",
		Long: `Dispatch a batch of events for one profile.

Every enabled rule matching an event's type (and source, when the rule names
one) runs its workflow. Afterwards the profile is segmented, merged and saved
as the workflows requested, and one debug record per rule is written.

The events file is a JSON or YAML list of events. Missing IDs and timestamps
are filled in.`,
		Example: `  # Dispatch events for an existing profile
  tracklane dispatch --events events.json --profile p-123

  # Record node level details
  tracklane dispatch --events events.yaml --profile p-123 --debug --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			events, err := readEvents(o.eventsFile)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, g, o.debug)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.loadConfiguredDefinitions(ctx); err != nil {
				return err
			}

			profileID := o.profileID
			if profileID == "" {
				profileID = uuid.NewString()
			}
			profile, err := a.profile(ctx, profileID)
			if err != nil {
				return err
			}

			session := &engine.Session{ID: o.sessionID}
			if session.ID == "" {
				session.ID = uuid.NewString()
			}

			now := time.Now().UTC()
			for i := range events {
				e := &events[i]
				if e.ID == "" {
					e.ID = uuid.NewString()
				}
				if e.Timestamp.IsZero() {
					e.Timestamp = now
				}
				if e.Source.ID == "" {
					e.Source.ID = o.sourceID
				}
				e.Profile = &engine.Entity{ID: profile.ID}
				e.Session = &engine.Entity{ID: session.ID}
			}

			ctx, span := a.tel.Tracer.StartCommandSpan(ctx, "dispatch")
			defer span.End()

			res, err := a.engine.Execute(ctx, &engine.Invocation{
				Session: session,
				Profile: profile,
				Events:  events,
			}, o.sourceID)
			if err != nil {
				telemetry.RecordError(span, err)
				return err
			}
			telemetry.RecordSuccess(span)

			return render(cmd, g, res, func(p *printer) {
				p.title(fmt.Sprintf("Dispatched %d event(s)", len(events)))
				printInvokeResult(p, res)
			})
		},
	}

	cmd.Flags().StringVarP(&o.eventsFile, "events", "e", "", "JSON or YAML file with a list of events")
	cmd.Flags().StringVarP(&o.profileID, "profile", "p", "", "profile ID (a new profile when empty or unknown)")
	cmd.Flags().StringVar(&o.sessionID, "session", "", "session ID (generated when empty)")
	cmd.Flags().StringVar(&o.sourceID, "source", "cli", "event source ID")
	cmd.Flags().BoolVar(&o.debug, "debug", false, "record node level debug information")
	_ = cmd.MarkFlagRequired("events")

	return cmd
}

func readEvents(path string) ([]engine.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read events file: %w", err)
	}

	var events []engine.Event
	if err := yaml.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to parse events file: %w", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("no events in %s", path)
	}
	for i, e := range events {
		if e.Type == "" {
			return nil, fmt.Errorf("event %d has no type", i)
		}
	}
	return events, nil
}
