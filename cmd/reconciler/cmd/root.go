package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Wheezy72/nuru-ERP-sub001/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Payment reconciliation tool",
	Long: `Reconciler matches mobile-money statement rows against open invoices
and posts the resulting allocations. Matching runs in staged order
(exact reference, then phone plus amount, then unique amount) and never
guesses: ambiguous rows are surfaced for manual review.

Examples:
  reconciler reconcile --statement-file statement.csv --tenant acme --invoices-file invoices.csv
  reconciler reconcile --statement-file statement.xlsx --tenant acme --database-url postgres://... --dry-run
  reconciler version`,
	Version: getVersionString(),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	// Read environment variables that match
	viper.SetEnvPrefix("NURU")
	viper.AutomaticEnv()

	level := logger.InfoLevel
	if viper.GetBool("verbose") {
		level = logger.DebugLevel
	}
	log, err := logger.New(&logger.Config{Level: level, Format: logger.TextFormat, Output: os.Stderr})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %s\n", err)
		os.Exit(1)
	}
	logger.SetGlobalLogger(log)
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
