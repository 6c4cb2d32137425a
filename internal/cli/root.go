package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	flagDataDir    string
	flagConfigPath string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgerflow",
		Short:         "LedgerFlow local-first ledger tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default from config or ./ledgerflow_data)")
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to a YAML config file")

	root.AddCommand(
		newInitCmd(),
		newServeCmd(),
		newManualCmd(),
		newSourcesCmd(),
		newImportCmd(),
		newOCRCmd(),
		newBuildCmd(),
		newIndexCmd(),
		newMigrateCmd(),
		newReportCmd(),
		newChartsCmd(),
		newAlertsCmd(),
		newExportCmd(),
		newAICmd(),
		newReviewCmd(),
		newLinkCmd(),
		newDedupCmd(),
		newAutomationCmd(),
		newBackupCmd(),
		newOpsCmd(),
	)
	return root
}

// Execute runs the command tree. A .env next to the working directory is
// loaded first so API keys and provider settings work without exporting.
func Execute() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openApp() (*App, error) {
	return newApp(flagDataDir, flagConfigPath)
}

func printJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fatalf("encode output: %v", err)
	}
	fmt.Println(string(data))
}
