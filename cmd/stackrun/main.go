// stackrun is a small compose-style stack runner: it reads a YAML stack
// file, builds images, and keeps the declared number of replicas of
// each service running, in containers or as host processes.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ttngu207/stackrun/internal/compose"
	"github.com/ttngu207/stackrun/internal/config"
	"github.com/ttngu207/stackrun/internal/engine"
	"github.com/ttngu207/stackrun/internal/runtime"
	"github.com/ttngu207/stackrun/internal/storage"
	"github.com/ttngu207/stackrun/internal/storage/sqlite"
)

var (
	cfg    *config.Config
	logger *logrus.Logger
	store  storage.Storage

	// Persistent flags.
	flagFile        string
	flagProjectName string
	flagStatePath   string
	flagRuntime     string
)

var rootCmd = &cobra.Command{
	Use:   "stackrun",
	Short: "Run and supervise multi-replica service stacks",
	Long: `stackrun reads a compose-style stack file and keeps the declared
services running at their declared scale, either in containers via the
docker CLI or as plain host processes.

Configuration is read from STACKRUN_* environment variables; flags
override the environment.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if flagStatePath != "" {
			cfg.StatePath = flagStatePath
		}
		if flagRuntime != "" {
			cfg.Runtime = flagRuntime
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		logger = cfg.NewLogger()

		store, err = sqlite.New(cfg.StatePath)
		if err != nil {
			return fmt.Errorf("failed to open state database %s: %w", cfg.StatePath, err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			store.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagFile, "file", "f", "", "Stack file (default: search for stackrun.yaml or docker-compose.yml)")
	rootCmd.PersistentFlags().StringVarP(&flagProjectName, "project-name", "p", "", "Project name (default: stack file directory name)")
	rootCmd.PersistentFlags().StringVar(&flagStatePath, "state", "", "State database path (default: ~/.stackrun/state.db)")
	rootCmd.PersistentFlags().StringVar(&flagRuntime, "runtime", "", "Replica backend: docker or process (default: docker)")
}

// loadProject loads and validates the stack file selected by flags.
func loadProject() (*compose.Project, error) {
	path := flagFile
	if path == "" {
		found, err := compose.FindConfigFile(".")
		if err != nil {
			return nil, err
		}
		path = found
	}
	return compose.Load(path, compose.LoadOptions{
		ProjectName: flagProjectName,
		Logger:      logger,
	})
}

// newEngine wires the configured runtime and the open store into an
// engine.
func newEngine() (*engine.Engine, error) {
	var rt runtime.Runtime
	switch cfg.Runtime {
	case "process":
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		rt = runtime.NewProcessRuntime(wd, logger)
	default:
		rt = runtime.NewDockerRuntime(cfg.DockerBin, logger)
	}

	return engine.New(&engine.Config{
		Store:   store,
		Runtime: rt,
		Logger:  logger,
	})
}

// fatal prints the error and exits nonzero.
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fatal(err)
	}
}
