package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"reportlens/internal/logging"
)

var (
	// Global flags
	configPath   string
	sessionID    string
	fixturesPath string
	debugMode    bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "reportlens",
	Short: "reportlens - conversational ERP analytics over a capability catalog",
	Long: `reportlens answers business questions ("top customers by revenue last
month", "show that in million") against a catalog of reporting
capabilities.

Each turn runs a full pipeline: semantic extraction, capability
resolution, execution, shaping, and a quality gate. Conversation memory
carries validated scope across turns, so follow-ups reshape the previous
result instead of guessing a new report.`,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// askCmd runs one conversational turn
var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Run one conversational turn against the session",
	Long: `Processes a natural language message through the full turn pipeline.
Pending clarifications and write confirmations from earlier turns are
consumed automatically, so answering a question is just another ask:

  reportlens ask "top 5 customers by revenue last month"
  reportlens ask "show that in million"
  reportlens ask --session reviews "create a todo to call the auditor"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

// continueCmd answers a pending clarification or confirmation
var continueCmd = &cobra.Command{
	Use:   "continue [answer]",
	Short: "Answer the pending clarification in the session",
	Long: `Answers the question the previous turn left pending (a missing
filter, a scope clarification, or a write confirmation). Fails when the
session has nothing pending; plain ask also consumes pending state, so
this command is for scripts that must not start a fresh request by
accident.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runContinue,
}

// catalogCmd inspects the capability index
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Show the capability index summary",
	RunE:  runCatalog,
}

// seedCmd loads demo fixtures into the local backend
var seedCmd = &cobra.Command{
	Use:   "seed [fixtures.yaml]",
	Short: "Seed the local demo backend from a fixture file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSeed,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the reportlens version",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(false)
		if err != nil {
			return err
		}
		defer app.Close()
		fmt.Printf("reportlens %s\n", app.cfg.Version)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "reportlens.yaml", "configuration file path")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "default", "conversation session id")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable categorized debug logging")
	seedCmd.Flags().StringVar(&fixturesPath, "fixtures", "", "fixture file path (overrides positional argument)")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(continueCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
