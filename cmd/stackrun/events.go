package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ttngu207/stackrun/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the project's event history",
	Long: `Display recorded stack and replica transitions: ups and downs, image
builds, replica starts, exits, restarts, and failures.`,
	Run: func(cmd *cobra.Command, args []string) {
		service, _ := cmd.Flags().GetString("service")
		sinceStr, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		var since time.Time
		if sinceStr != "" {
			d, err := time.ParseDuration(sinceStr)
			if err != nil {
				fatal(fmt.Errorf("invalid --since duration %q: %w", sinceStr, err))
			}
			since = time.Now().Add(-d)
		}

		project, err := loadProject()
		if err != nil {
			fatal(err)
		}

		evs, err := store.GetEvents(cmd.Context(), events.Filter{
			Project: project.Name,
			Service: service,
			Since:   since,
			Limit:   limit,
		})
		if err != nil {
			fatal(err)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			for _, ev := range evs {
				if err := enc.Encode(ev); err != nil {
					fatal(err)
				}
			}
			return
		}

		if len(evs) == 0 {
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("%s\n", gray("No events"))
			return
		}
		for _, ev := range evs {
			fmt.Println(formatEvent(ev))
		}
	},
}

func init() {
	eventsCmd.Flags().String("service", "", "Filter events by service")
	eventsCmd.Flags().String("since", "", "Only events newer than this duration (e.g. 1h, 30m)")
	eventsCmd.Flags().IntP("limit", "n", 100, "Maximum number of events to show")
	eventsCmd.Flags().Bool("json", false, "Emit events as JSON lines")
	rootCmd.AddCommand(eventsCmd)
}

// formatEvent renders one event as a colored line.
func formatEvent(ev *events.Event) string {
	severity := severityColor(ev.Severity)(string(ev.Severity))
	scope := ev.Project
	if ev.Service != "" {
		scope += "/" + ev.Service
		if ev.Replica > 0 {
			scope += fmt.Sprintf("-%d", ev.Replica)
		}
	}
	gray := color.New(color.FgHiBlack).SprintFunc()
	return fmt.Sprintf("%s  %-7s %-20s %s %s",
		ev.Timestamp.Local().Format("2006-01-02 15:04:05"),
		severity, ev.Type, gray(scope), ev.Message)
}

// severityColor picks the display color for a severity.
func severityColor(severity events.EventSeverity) func(a ...interface{}) string {
	switch severity {
	case events.SeverityError:
		return color.New(color.FgRed).SprintFunc()
	case events.SeverityWarning:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgCyan).SprintFunc()
	}
}
