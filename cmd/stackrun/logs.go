package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ttngu207/stackrun/internal/events"
)

var logsCmd = &cobra.Command{
	Use:   "logs [SERVICE]",
	Short: "Show captured replica output",
	Long: `Display output lines captured from the project's replicas, newest
last. With a service argument, only that service's output is shown.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		replica, _ := cmd.Flags().GetInt("replica")
		limit, _ := cmd.Flags().GetInt("limit")

		service := ""
		if len(args) > 0 {
			service = args[0]
		}

		project, err := loadProject()
		if err != nil {
			fatal(err)
		}
		if service != "" {
			if _, err := project.Service(service); err != nil {
				fatal(err)
			}
		}

		evs, err := store.GetEvents(cmd.Context(), events.Filter{
			Project: project.Name,
			Service: service,
			Replica: replica,
			Types:   []events.EventType{events.EventTypeLogLine},
			Limit:   limit,
		})
		if err != nil {
			fatal(err)
		}

		if len(evs) == 0 {
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("%s\n", gray("No output captured"))
			return
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		for _, ev := range evs {
			prefix := ev.Service
			if ev.Replica > 0 {
				prefix = fmt.Sprintf("%s-%d", ev.Service, ev.Replica)
			}
			line := ev.Message
			if stream, ok := ev.Data["stream"].(string); ok && stream == "stderr" {
				line = yellow(line)
			}
			fmt.Printf("%s | %s\n", prefix, line)
		}
	},
}

func init() {
	logsCmd.Flags().Int("replica", 0, "Filter by replica ordinal")
	logsCmd.Flags().IntP("limit", "n", 200, "Maximum number of lines to show")
	rootCmd.AddCommand(logsCmd)
}
