package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ttngu207/stackrun/internal/engine"
)

var upCmd = &cobra.Command{
	Use:   "up [SERVICE...]",
	Short: "Build, start, and supervise the stack",
	Long: `Build the declared images, start every service at its declared scale
in dependency order, and supervise the replicas in the foreground.
Restart policies are applied to replicas that exit; Ctrl+C stops every
replica gracefully before exiting.

With service arguments, only those services (plus their dependencies)
are started.`,
	Run: func(cmd *cobra.Command, args []string) {
		noBuild, _ := cmd.Flags().GetBool("no-build")

		project, err := loadProject()
		if err != nil {
			fatal(err)
		}

		if cfg.Retention.Enabled {
			cleanupEvents(cmd.Context())
		}

		eng, err := newEngine()
		if err != nil {
			fatal(err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go func() {
			// After the first signal starts graceful shutdown, restore
			// default handling so a second signal kills immediately.
			<-ctx.Done()
			stop()
		}()

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("%s\n", cyan(fmt.Sprintf("Starting project %s", project.Name)))

		if err := eng.Up(ctx, project, engine.UpOptions{
			Services: args,
			NoBuild:  noBuild,
		}); err != nil {
			fatal(err)
		}
	},
}

func init() {
	upCmd.Flags().Bool("no-build", false, "Skip image builds")
	rootCmd.AddCommand(upCmd)
}

// cleanupEvents applies the configured retention to the event log.
// Failures are logged, not fatal.
func cleanupEvents(ctx context.Context) {
	r := cfg.Retention
	if n, err := store.CleanupEventsByAge(ctx, r.RetentionDays, r.BatchSize); err != nil {
		logger.WithError(err).Warn("event cleanup by age failed")
	} else if n > 0 {
		logger.WithField("deleted", n).Debug("cleaned up old events")
	}
	if r.PerProjectLimit > 0 {
		if n, err := store.CleanupEventsByProjectLimit(ctx, r.PerProjectLimit, r.BatchSize); err != nil {
			logger.WithError(err).Warn("event cleanup by project limit failed")
		} else if n > 0 {
			logger.WithField("deleted", n).Debug("cleaned up excess events")
		}
	}
}
