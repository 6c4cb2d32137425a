package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"ledgerflow/internal/analysis"
	"ledgerflow/internal/storage"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Daily and monthly reports",
	}

	var date string
	daily := &cobra.Command{
		Use:   "daily",
		Short: "Write the daily report",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if date == "" {
				date = storage.TodayYMD()
			}
			if _, err := storage.ParseYMD(date); err != nil {
				return err
			}
			paths, err := app.Reports.WriteDailyReport(date)
			if err != nil {
				return err
			}
			printJSON(map[string]any{"date": date, "paths": paths})
			return nil
		},
	}
	daily.Flags().StringVar(&date, "date", "", "YYYY-MM-DD (default: today)")

	var month string
	monthly := &cobra.Command{
		Use:   "monthly",
		Short: "Write the monthly report",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if len(month) != 7 || month[4] != '-' {
				return fmt.Errorf("month must be YYYY-MM")
			}
			paths, err := app.Reports.WriteMonthlyReport(month)
			if err != nil {
				return err
			}
			printJSON(map[string]any{"month": month, "paths": paths})
			return nil
		},
	}
	monthly.Flags().StringVar(&month, "month", "", "YYYY-MM")
	monthly.MarkFlagRequired("month")

	cmd.AddCommand(daily, monthly)
	return cmd
}

func newChartsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "charts",
		Short: "Chart-ready aggregates",
	}

	var fromDate, toDate string
	series := &cobra.Command{
		Use:   "series",
		Short: "Daily spend/income series for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if _, err := storage.ParseYMD(fromDate); err != nil {
				return err
			}
			if _, err := storage.ParseYMD(toDate); err != nil {
				return err
			}
			data, err := app.Reports.BuildSeries(fromDate, toDate)
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	}
	series.Flags().StringVar(&fromDate, "from-date", "", "YYYY-MM-DD")
	series.Flags().StringVar(&toDate, "to-date", "", "YYYY-MM-DD")
	series.MarkFlagRequired("from-date")
	series.MarkFlagRequired("to-date")

	var month string
	var limit int
	monthCmd := &cobra.Command{
		Use:   "month",
		Short: "Category breakdown and merchant top for a month",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if len(month) != 7 || month[4] != '-' {
				return fmt.Errorf("month must be YYYY-MM")
			}
			breakdown, err := app.Reports.BuildCategoryBreakdown(month)
			if err != nil {
				return err
			}
			merchants, err := app.Reports.BuildMerchantTop(month, limit)
			if err != nil {
				return err
			}
			printJSON(map[string]any{
				"categoryBreakdown": breakdown,
				"merchantTop":       merchants,
			})
			return nil
		},
	}
	monthCmd.Flags().StringVar(&month, "month", "", "YYYY-MM")
	monthCmd.Flags().IntVar(&limit, "limit", 25, "maximum merchants")
	monthCmd.MarkFlagRequired("month")

	cmd.AddCommand(series, monthCmd)
	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Data exports",
	}

	var out, fromDate, toDate string
	var includeDeleted bool
	csv := &cobra.Command{
		Use:   "csv",
		Short: "Export the normalized ledger view as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			abs, err := filepath.Abs(out)
			if err != nil {
				return err
			}
			path, err := app.Reports.ExportTransactionsCSV(abs, fromDate, toDate, includeDeleted)
			if err != nil {
				return err
			}
			printJSON(map[string]any{"path": path})
			return nil
		},
	}
	csv.Flags().StringVar(&out, "out", "", "output CSV path")
	csv.Flags().StringVar(&fromDate, "from-date", "", "YYYY-MM-DD lower bound")
	csv.Flags().StringVar(&toDate, "to-date", "", "YYYY-MM-DD upper bound")
	csv.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include tombstoned transactions")
	csv.MarkFlagRequired("out")

	cmd.AddCommand(csv)
	return cmd
}

func newAICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ai",
		Short: "Spending analysis",
	}

	var month, provider, model string
	var lookbackMonths int
	var asJSON bool
	analyze := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze spending for a month",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if month == "" {
				month = storage.TodayYMD()[:7]
			}
			result, err := app.Analysis.AnalyzeSpending(analysis.Options{
				Month:          month,
				Provider:       provider,
				Model:          model,
				LookbackMonths: lookbackMonths,
			})
			if err != nil {
				return err
			}
			if asJSON {
				printJSON(result)
				return nil
			}
			if narrative, ok := result["narrative"].(string); ok && narrative != "" {
				fmt.Println(narrative)
			}
			if insights, ok := result["insights"].([]string); ok && len(insights) > 0 {
				fmt.Println("Insights:")
				for _, line := range insights {
					fmt.Println("- " + line)
				}
			}
			if llmErr, ok := result["llmError"].(string); ok && llmErr != "" {
				fmt.Println("note: llm fallback:", llmErr)
			}
			return nil
		},
	}
	analyze.Flags().StringVar(&month, "month", "", "YYYY-MM (default: current month)")
	analyze.Flags().StringVar(&provider, "provider", "auto", "auto, heuristic, ollama, or openai")
	analyze.Flags().StringVar(&model, "model", "", "model name override")
	analyze.Flags().IntVar(&lookbackMonths, "lookback-months", 6, "history window in months")
	analyze.Flags().BoolVar(&asJSON, "json", false, "emit the full analysis document")

	cmd.AddCommand(analyze)
	return cmd
}

func newAlertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Alert rules and delivery",
	}

	var at string
	var dryRun bool
	run := &cobra.Command{
		Use:   "run",
		Short: "Evaluate alert rules for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if at == "" {
				at = storage.TodayYMD()
			}
			res, err := app.Alerts.Run(at, !dryRun)
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}
	run.Flags().StringVar(&at, "at", "", "YYYY-MM-DD evaluation date (default: today)")
	run.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate without recording events")

	var limit int
	var channels []string
	var deliverDryRun bool
	deliver := &cobra.Command{
		Use:   "deliver",
		Short: "Push pending alert events through configured channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Delivery.Run(limit, channels, deliverDryRun)
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}
	deliver.Flags().IntVar(&limit, "limit", 0, "maximum events to deliver (0 = all pending)")
	deliver.Flags().StringSliceVar(&channels, "channel", nil, "restrict to channel ids (repeatable)")
	deliver.Flags().BoolVar(&deliverDryRun, "dry-run", false, "resolve channels without sending")

	var outboxLimit int
	outbox := &cobra.Command{
		Use:   "outbox",
		Short: "Show recent delivery attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			items, err := storage.ReadJSONLTail(app.Layout.AlertOutboxPath(), outboxLimit)
			if err != nil {
				return err
			}
			printJSON(map[string]any{"items": items})
			return nil
		},
	}
	outbox.Flags().IntVar(&outboxLimit, "limit", 50, "maximum attempts to show")

	cmd.AddCommand(run, deliver, outbox)
	return cmd
}
