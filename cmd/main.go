package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/settlr/settlr"
	"github.com/settlr/settlr/config"
	"github.com/settlr/settlr/database"
	"github.com/settlr/settlr/internal/notification"
)

// Settlr represents the CLI application, encapsulating the root Cobra command.
type Settlr struct {
	cmd *cobra.Command
}

// settlrInstance holds the runtime engine and its configuration so the
// subcommands can share one initialized instance.
type settlrInstance struct {
	settlr *settlr.Settlr
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the engine before any
// subcommand executes.
func preRun(app *settlrInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newSettlr, err := setupSettlr(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.settlr = newSettlr
		app.cnf = cnf

		return nil
	}
}

// setupSettlr connects the datasource and builds the engine from it.
func setupSettlr(cfg *config.Configuration) (*settlr.Settlr, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newSettlr, err := settlr.NewSettlr(db)
	if err != nil {
		return nil, fmt.Errorf("error creating settlr: %v", err)
	}
	return newSettlr, nil
}

// NewCLI assembles the root command and its subcommands.
func NewCLI() *Settlr {
	var configFile string
	b := &settlrInstance{}

	var rootCmd = &cobra.Command{
		Use:   "settlr",
		Short: "payment ledger and settlement reconciliation engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./settlr.json", "configuration file")
	rootCmd.PersistentPreRunE = preRun(b, &configFile)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(configCommands())
	rootCmd.AddCommand(accountCommands(b))

	return &Settlr{cmd: rootCmd}
}

func (w Settlr) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
