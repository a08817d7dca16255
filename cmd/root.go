package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/systemication/go-fvde/internal/fvdeconfig"
)

var (
	verbose bool
	config  *fvdeconfig.Config
)

var rootCmd = &cobra.Command{
	Use:   "go-fvde",
	Short: "Forensic tooling for Apple Core Storage / FileVault Drive Encryption volumes",
	Long: `go-fvde inspects and extracts Apple Core Storage volume groups protected by
FileVault Drive Encryption, without mounting or relying on macOS.

Commands:
  dmsetup     Emit a dm-crypt table entry (and optionally stage keys in the kernel keyring)
  dump        Extract structurally-significant regions into a sparse or compacted image
  check       Walk a volume group's allocation state and report invariant violations`,
	Version:           "0.1.0-dev",
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	rootCmd.AddCommand(dmsetupCmd, dumpCmd, checkCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := fvdeconfig.Load()
	if err != nil {
		return err
	}
	config = loaded

	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return nil
}
