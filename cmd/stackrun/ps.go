package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ttngu207/stackrun/internal/storage"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List the project's replicas",
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")

		project, err := loadProject()
		if err != nil {
			fatal(err)
		}

		replicas, err := store.ListReplicas(cmd.Context(), storage.ReplicaFilter{
			Project:        project.Name,
			IncludeStopped: all,
			IncludeOneOff:  all,
		})
		if err != nil {
			fatal(err)
		}

		if len(replicas) == 0 {
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("%s\n", gray("No replicas"))
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSERVICE\tSTATUS\tEXIT\tRESTARTS\tUPTIME\tHANDLE")
		for _, r := range replicas {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				r.Name(), r.Service, colorStatus(r.Status), formatExitCode(r.ExitCode),
				r.Restarts, formatUptime(r, time.Now()), r.ContainerID)
		}
		w.Flush()
	},
}

func init() {
	psCmd.Flags().BoolP("all", "a", false, "Include stopped and one-off replicas")
	rootCmd.AddCommand(psCmd)
}

// colorStatus renders a replica status with the conventional color.
func colorStatus(status storage.ReplicaStatus) string {
	switch status {
	case storage.StatusRunning:
		return color.GreenString(string(status))
	case storage.StatusFailed:
		return color.RedString(string(status))
	case storage.StatusCreated:
		return color.YellowString(string(status))
	default:
		return color.New(color.FgHiBlack).Sprint(string(status))
	}
}

// formatExitCode renders the exit code, or "-" while unset.
func formatExitCode(code *int) string {
	if code == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *code)
}

// formatUptime renders how long a replica has been running, or how long
// a finished replica ran.
func formatUptime(r *storage.Replica, now time.Time) string {
	if r.StartedAt == nil {
		return "-"
	}
	end := now
	if r.FinishedAt != nil {
		end = *r.FinishedAt
	}
	d := end.Sub(*r.StartedAt)
	if d < 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}
