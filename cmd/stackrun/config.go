package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate the stack file and print its normalized form",
	Long: `Load, interpolate, and validate the stack file, then print the
normalized result: defaults applied, paths made absolute, variables
substituted. Useful for checking what up would actually run.`,
	Run: func(cmd *cobra.Command, args []string) {
		servicesOnly, _ := cmd.Flags().GetBool("services")

		project, err := loadProject()
		if err != nil {
			fatal(err)
		}

		if servicesOnly {
			for _, name := range project.ServiceNames() {
				fmt.Println(name)
			}
			return
		}

		out, err := project.Render()
		if err != nil {
			fatal(err)
		}
		fmt.Print(string(out))
	},
}

func init() {
	configCmd.Flags().Bool("services", false, "Print service names only")
	rootCmd.AddCommand(configCmd)
}
