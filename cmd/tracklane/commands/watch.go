package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracklane/tracklane/pkg/definitions"
)

func newWatchCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [path]...",
		Short: "Load definitions and reload them on change",
		Long: `Load definition files and keep watching them. Every change reloads the
files into the database and purges the rule cache. The metrics endpoint is
served while watching.

Without arguments the paths from definitions.paths are watched.`,
		Example: `  # Watch a definitions directory
  tracklane watch ./definitions`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, g, false)
			if err != nil {
				return err
			}
			defer a.Close()

			paths := args
			if len(paths) == 0 {
				paths = a.cfg.Definitions.Paths
			}
			if len(paths) == 0 {
				return cmd.Usage()
			}

			if _, err := a.loader.Load(ctx, paths); err != nil {
				return err
			}

			srv := a.tel.StartMetricsServer()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			w := definitions.NewWatcher(a.loader, paths, func(sum definitions.Summary) {
				a.rules.Purge()
				a.logger.Info().
					Int("rules", sum.Rules).
					Int("flows", sum.Flows).
					Int("segments", sum.Segments).
					Msg("Definitions reloaded, rule cache purged")
			}, a.logger)
			w.SetDelay(a.cfg.Definitions.ReloadDelay.Std())

			if err := w.Start(ctx); err != nil {
				return err
			}
			defer w.Stop()

			p := &printer{w: cmd.OutOrStdout()}
			p.title("Watching definitions")
			for _, path := range paths {
				p.line(path)
			}

			var listenErr <-chan error
			if srv != nil {
				listenErr = srv.Errors()
			}
			select {
			case <-ctx.Done():
				return nil
			case err, ok := <-listenErr:
				if ok {
					return err
				}
				<-ctx.Done()
				return nil
			}
		},
	}

	return cmd
}
