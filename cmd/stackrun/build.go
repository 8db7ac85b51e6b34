package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build [SERVICE...]",
	Short: "Build service images",
	Long: `Build the image of every service that declares a build, in parallel.
With service arguments, only those services are built.`,
	Run: func(cmd *cobra.Command, args []string) {
		project, err := loadProject()
		if err != nil {
			fatal(err)
		}
		eng, err := newEngine()
		if err != nil {
			fatal(err)
		}

		if err := eng.BuildImages(cmd.Context(), project, args); err != nil {
			fatal(err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s\n", green("Build complete"))
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
}
