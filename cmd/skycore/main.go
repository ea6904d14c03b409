package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ID-Robots/skycore/internal/confirm"
	"github.com/ID-Robots/skycore/internal/config"
	"github.com/ID-Robots/skycore/internal/errdefs"
	"github.com/ID-Robots/skycore/internal/version"
)

var (
	cfgFile   string
	debugFlag bool
	yesFlag   bool
	noFlag    bool
)

var rootCmd = &cobra.Command{
	Use:   "skycore",
	Short: "Drone edge-device provisioning and backup tool",
	Long: `Skycore manages Jetson-class drone companion computers. This build
covers the partition image engine: cloning a device's partitions into a
backup archive and flashing such an archive back onto a device.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the skycore version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/skycore/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "answer yes to all confirmation prompts")
	rootCmd.PersistentFlags().BoolVar(&noFlag, "no", false, "answer no to all confirmation prompts")

	rootCmd.AddCommand(cloneCmd)
	rootCmd.AddCommand(flashCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the run logger; --debug turns on per-step detail.
func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if debugFlag {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// loadConfig loads the config file or exits.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// confirmPolicy maps the prompt flags to a policy: --yes and --no force an
// answer, otherwise prompt interactively when attached to a terminal.
func confirmPolicy() confirm.Policy {
	switch {
	case yesFlag && noFlag:
		fmt.Fprintln(os.Stderr, "Error: --yes and --no are mutually exclusive")
		os.Exit(1)
		return nil
	case yesFlag:
		return confirm.Auto(true)
	case noFlag:
		return confirm.Auto(false)
	default:
		return confirm.Default()
	}
}

// requireRoot gates destructive commands: they manipulate raw block
// devices and mounts.
func requireRoot() {
	if os.Geteuid() != 0 {
		fmt.Fprintln(os.Stderr, "Error: this command must run as root (use sudo)")
		os.Exit(1)
	}
}

// exitOnError maps engine errors to the CLI contract: a declined prompt is
// a cancellation (exit 0), everything else is a failure (exit 1).
func exitOnError(err error, cleanup func()) {
	if err == nil {
		return
	}
	if errors.Is(err, errdefs.ErrCancelled) {
		if cleanup != nil {
			cleanup()
		}
		fmt.Println("Cancelled.")
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
