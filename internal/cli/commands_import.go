package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ledgerflow/internal/documents"
	"ledgerflow/internal/importer"
	"ledgerflow/internal/reconcile"
	"ledgerflow/internal/reports"
)

type importFlags struct {
	currency        string
	dateFormat      string
	dayFirst        bool
	copyIntoSources bool
	commit          bool
	sample          int
	maxRows         int

	dateCol        string
	descriptionCol string
	amountCol      string
	debitCol       string
	creditCol      string
	currencyCol    string
}

func (f *importFlags) register(cmd *cobra.Command, withMapping bool) {
	cmd.Flags().StringVar(&f.currency, "currency", "USD", "default currency for rows without one")
	cmd.Flags().BoolVar(&f.copyIntoSources, "copy-into-sources", false, "copy the input file into the sources store")
	cmd.Flags().BoolVar(&f.commit, "commit", false, "write transactions (default: preview only)")
	cmd.Flags().IntVar(&f.sample, "sample", 5, "sample rows to echo back in preview mode")
	cmd.Flags().IntVar(&f.maxRows, "max-rows", 0, "stop after this many rows (0 = all)")
	if withMapping {
		cmd.Flags().StringVar(&f.dateFormat, "date-format", "", "Go layout for date column (default: auto)")
		cmd.Flags().BoolVar(&f.dayFirst, "day-first", false, "interpret ambiguous dates as DD/MM")
		cmd.Flags().StringVar(&f.dateCol, "date-col", "", "override inferred date column")
		cmd.Flags().StringVar(&f.descriptionCol, "description-col", "", "override inferred description column")
		cmd.Flags().StringVar(&f.amountCol, "amount-col", "", "override inferred amount column")
		cmd.Flags().StringVar(&f.debitCol, "debit-col", "", "override inferred debit column")
		cmd.Flags().StringVar(&f.creditCol, "credit-col", "", "override inferred credit column")
		cmd.Flags().StringVar(&f.currencyCol, "currency-col", "", "override inferred currency column")
	}
}

func (f *importFlags) options() importer.Options {
	opts := importer.Options{
		Commit:          f.commit,
		CopyIntoSources: f.copyIntoSources,
		Currency:        f.currency,
		DateFormat:      f.dateFormat,
		DayFirst:        f.dayFirst,
		Sample:          f.sample,
		MaxRows:         f.maxRows,
	}
	if f.dateCol != "" || f.descriptionCol != "" || f.amountCol != "" ||
		f.debitCol != "" || f.creditCol != "" || f.currencyCol != "" {
		opts.Mapping = &importer.Mapping{
			DateCol:        f.dateCol,
			DescriptionCol: f.descriptionCol,
			AmountCol:      f.amountCol,
			DebitCol:       f.debitCol,
			CreditCol:      f.creditCol,
			CurrencyCol:    f.currencyCol,
		}
	}
	return opts
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import bank exports and documents",
	}
	cmd.AddCommand(
		newImportCSVCmd(),
		newImportBankJSONCmd(),
		newImportConnectorCmd(),
		newImportDocCmd("receipt", "Import and parse a receipt image or text file"),
		newImportDocCmd("bill", "Import and parse a bill document"),
	)
	return cmd
}

func newImportCSVCmd() *cobra.Command {
	var flags importFlags
	cmd := &cobra.Command{
		Use:   "csv <path>",
		Short: "Import a bank CSV export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Importer.ImportCSV(args[0], flags.options())
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newImportBankJSONCmd() *cobra.Command {
	var flags importFlags
	cmd := &cobra.Command{
		Use:   "bank-json <path>",
		Short: "Import a bank JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Importer.ImportBankJSON(args[0], flags.options())
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}
	flags.register(cmd, false)
	return cmd
}

func newImportConnectorCmd() *cobra.Command {
	var flags importFlags
	var connector string
	cmd := &cobra.Command{
		Use:   "connector <path>",
		Short: "Import a provider payload (plaid, wise)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Importer.ImportConnector(connector, args[0], flags.options())
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}
	cmd.Flags().StringVar(&connector, "connector", "", "connector id (plaid, wise)")
	cmd.MarkFlagRequired("connector")
	flags.register(cmd, false)
	return cmd
}

func newImportDocCmd(docType, short string) *cobra.Command {
	var currency string
	var copyIntoSources bool
	cmd := &cobra.Command{
		Use:   docType + " <path>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			var parsed documents.ParsedDoc
			if docType == "receipt" {
				parsed, err = app.Documents.ImportReceipt(args[0], copyIntoSources, currency)
			} else {
				parsed, err = app.Documents.ImportBill(args[0], copyIntoSources, currency)
			}
			if err != nil {
				return err
			}
			printJSON(map[string]any{
				"docId": parsed.Doc["docId"],
				"parse": parsed.Parse,
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "USD", "default currency for parsed amounts")
	cmd.Flags().BoolVar(&copyIntoSources, "copy-into-sources", false, "copy the input file into the sources store")
	return cmd
}

func newOCRCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ocr",
		Short: "Text extraction diagnostics",
	}

	doctor := &cobra.Command{
		Use:   "doctor",
		Short: "Report available extraction backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			printJSON(documents.OCRCapabilities())
			return nil
		},
	}

	var asJSON bool
	extract := &cobra.Command{
		Use:   "extract <path>",
		Short: "Extract text from a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, meta, err := documents.ExtractText(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				printJSON(map[string]any{"meta": meta, "text": text})
				return nil
			}
			fmt.Println(text)
			return nil
		},
	}
	extract.Flags().BoolVar(&asJSON, "json", false, "emit extraction metadata alongside text")

	cmd.AddCommand(doctor, extract)
	return cmd
}

func newLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Match parsed documents to bank transactions",
	}
	cmd.AddCommand(newLinkSubCmd("receipts", 3), newLinkSubCmd("bills", 7))
	return cmd
}

func newLinkSubCmd(kind string, defaultMaxDays int) *cobra.Command {
	var maxDaysDiff int
	var amountTolerance string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   kind,
		Short: "Link unmatched " + kind + " to bank transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			opts := reconcile.LinkOptions{
				MaxDaysDiff:     maxDaysDiff,
				AmountTolerance: amountTolerance,
				Commit:          !dryRun,
			}
			var res reconcile.LinkResult
			if kind == "receipts" {
				res, err = app.Linker.LinkReceipts(opts)
			} else {
				res, err = app.Linker.LinkBills(opts)
			}
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxDaysDiff, "max-days-diff", defaultMaxDays, "maximum day distance for a match")
	cmd.Flags().StringVar(&amountTolerance, "amount-tolerance", "0.01", "absolute amount tolerance")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report matches without writing link events")
	return cmd
}

func newDedupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Duplicate detection",
	}

	var fromDate, toDate, amountTolerance string
	var maxDaysDiff int
	var dryRun bool
	sub := &cobra.Command{
		Use:   "manual-vs-bank",
		Short: "Tag manual entries that duplicate imported bank rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := reconcile.MarkManualDuplicates(app.Store, reconcile.DedupOptions{
				FromDate:        fromDate,
				ToDate:          toDate,
				MaxDaysDiff:     maxDaysDiff,
				AmountTolerance: amountTolerance,
				Commit:          !dryRun,
			})
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}
	sub.Flags().StringVar(&fromDate, "from-date", "", "YYYY-MM-DD lower bound")
	sub.Flags().StringVar(&toDate, "to-date", "", "YYYY-MM-DD upper bound")
	sub.Flags().IntVar(&maxDaysDiff, "max-days-diff", 1, "maximum day distance for a match")
	sub.Flags().StringVar(&amountTolerance, "amount-tolerance", "0.01", "absolute amount tolerance")
	sub.Flags().BoolVar(&dryRun, "dry-run", false, "report matches without writing tag events")

	cmd.AddCommand(sub)
	return cmd
}

func newBuildCmd() *cobra.Command {
	var fromDate, toDate string
	var includeDeleted bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Rebuild derived caches from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			summary, err := reports.BuildCaches(app.Layout, app.Store, fromDate, toDate, includeDeleted)
			if err != nil {
				return err
			}
			printJSON(summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&fromDate, "from-date", "", "YYYY-MM-DD lower bound")
	cmd.Flags().StringVar(&toDate, "to-date", "", "YYYY-MM-DD upper bound")
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include tombstoned transactions")
	return cmd
}

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Secondary SQL index",
	}

	rebuild := &cobra.Command{
		Use:   "rebuild",
		Short: "Drop and rebuild the index from ledger files",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Index.Rebuild(app.Layout)
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show index row counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			st, err := app.Index.Stats()
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		},
	}

	cmd.AddCommand(rebuild, stats)
	return cmd
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Data layout migrations",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show current and latest schema versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			st, err := app.Migrator.GetStatus()
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		},
	}

	var to int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Migrator.MigrateToLatest(to)
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}
	up.Flags().IntVar(&to, "to", -1, "target version (-1 = latest)")

	cmd.AddCommand(status, up)
	return cmd
}
