package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ttngu207/stackrun/internal/engine"
)

var downCmd = &cobra.Command{
	Use:   "down [SERVICE...]",
	Short: "Stop and remove the stack's replicas",
	Long: `Stop every replica the project owns, remove their runtime objects,
and delete their records. With service arguments, only those services
are torn down.`,
	Run: func(cmd *cobra.Command, args []string) {
		timeout, _ := cmd.Flags().GetInt("timeout")

		project, err := loadProject()
		if err != nil {
			fatal(err)
		}
		eng, err := newEngine()
		if err != nil {
			fatal(err)
		}

		if err := eng.Down(cmd.Context(), project, engine.DownOptions{
			Services: args,
			Timeout:  time.Duration(timeout) * time.Second,
		}); err != nil {
			fatal(err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s\n", green(fmt.Sprintf("Project %s is down", project.Name)))
	},
}

func init() {
	downCmd.Flags().IntP("timeout", "t", 0, "Stop grace period in seconds (default: per-service stop_grace_period)")
	rootCmd.AddCommand(downCmd)
}
