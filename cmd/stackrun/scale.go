package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var scaleCmd = &cobra.Command{
	Use:   "scale SERVICE=NUM...",
	Short: "Change the replica count of running services",
	Long: `Reconcile services to new replica counts: extra replicas are stopped
and removed highest ordinal first, missing replicas are started.

Replicas started by scale are not supervised; restart policies apply
again on the next up.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		targets := make(map[string]int, len(args))
		for _, arg := range args {
			name, n, err := parseScaleArg(arg)
			if err != nil {
				fatal(err)
			}
			targets[name] = n
		}

		project, err := loadProject()
		if err != nil {
			fatal(err)
		}
		eng, err := newEngine()
		if err != nil {
			fatal(err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		for name, n := range targets {
			if err := eng.Scale(cmd.Context(), project, name, n); err != nil {
				fatal(err)
			}
			fmt.Printf("%s\n", green(fmt.Sprintf("%s scaled to %d", name, n)))
		}
	},
}

func init() {
	rootCmd.AddCommand(scaleCmd)
}

// parseScaleArg parses one SERVICE=NUM argument.
func parseScaleArg(arg string) (string, int, error) {
	name, numStr, ok := strings.Cut(arg, "=")
	if !ok || name == "" {
		return "", 0, fmt.Errorf("invalid scale argument %q: want SERVICE=NUM", arg)
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("invalid replica count in %q: want a non-negative integer", arg)
	}
	return name, n, nil
}
