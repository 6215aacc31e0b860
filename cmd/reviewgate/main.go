// reviewgate reviews pull requests: a signed webhook admits each delivery
// into a state-machine pipeline that gates an LLM reviewer behind risk
// pre-checks and seals every execution into a hash-chained decision ledger.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"reviewgate/internal/contract"
)

// Version is stamped by the release build.
var Version = "dev"

var (
	configPath string
	verbose    bool
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "reviewgate",
	Short: "reviewgate - auditable pull-request review service",
	Long: `reviewgate is a webhook-driven pull-request reviewer.

Every delivery runs through a fixed state machine: diff extraction,
filtering, deterministic risk pre-checks, and a gate that decides whether
the LLM reviewer is consulted at all. Each execution seals into a decision
record with an execution proof hash and a hash-chained ledger entry, so any
recorded decision can be re-verified after the fact.

Run without arguments to start serving.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook listener",
	RunE:  runServe,
}

var contractCmd = &cobra.Command{
	Use:   "contract",
	Short: "Print the committed execution contract",
	Long: `Prints the committed contract as JSON: the frozen state set, the
invariant and postcondition registries with their severities, and the
contract hash the boot validator enforces.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(contract.Active())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("reviewgate %s (contract %s)\n", Version, contract.ActiveVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(serveCmd, contractCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
