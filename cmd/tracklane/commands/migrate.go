package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMigrateCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Long: `Apply the embedded schema migrations to the configured SQLite database.

Every other command migrates on startup as well; migrate is useful to prepare
a database ahead of time.`,
		Example: `  # Migrate the database named in the config file
  tracklane migrate --config tracklane.cue

  # Migrate a database given by environment
  TRACKLANE_DATABASE_PATH=/var/lib/tracklane.db tracklane migrate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), g, false)
			if err != nil {
				return err
			}
			defer a.Close()

			log.Info().Str("path", a.cfg.Database.Path).Msg("Database is up to date")
			return render(cmd, g, map[string]string{"database": a.cfg.Database.Path, "status": "migrated"}, func(p *printer) {
				p.title("Database migrated")
				p.field("path", a.cfg.Database.Path)
			})
		},
	}
}
