package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ttngu207/stackrun/internal/engine"
)

var runCmd = &cobra.Command{
	Use:   "run SERVICE [COMMAND...]",
	Short: "Run a one-off replica of a service",
	Long: `Run a single replica of a service to completion, outside the scaled
slots, and exit with the replica's exit code. A trailing command
overrides the service's declared command.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		remove, _ := cmd.Flags().GetBool("rm")
		noBuild, _ := cmd.Flags().GetBool("no-build")
		envFlags, _ := cmd.Flags().GetStringArray("env")

		env := map[string]string{}
		for _, entry := range envFlags {
			k, v, _ := strings.Cut(entry, "=")
			env[k] = v
		}

		project, err := loadProject()
		if err != nil {
			fatal(err)
		}
		eng, err := newEngine()
		if err != nil {
			fatal(err)
		}

		code, err := eng.RunOneOff(cmd.Context(), project, args[0], engine.RunOptions{
			Command: args[1:],
			Env:     env,
			NoBuild: noBuild,
			Remove:  remove,
		})
		if err != nil {
			fatal(err)
		}
		if code != 0 {
			store.Close()
			os.Exit(code)
		}
	},
}

func init() {
	runCmd.Flags().Bool("rm", false, "Remove the replica after it exits")
	runCmd.Flags().Bool("no-build", false, "Skip the image build")
	runCmd.Flags().StringArrayP("env", "e", nil, "Set an environment variable (KEY=VALUE, repeatable)")
	rootCmd.AddCommand(runCmd)
}
