package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ledgerflow/internal/importer"
	"ledgerflow/internal/layout"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/review"
	"ledgerflow/internal/storage"
)

func newInitCmd() *cobra.Command {
	var noDefaults bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the data directory layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flagDataDir, flagConfigPath)
			if err != nil {
				return err
			}
			l := layout.For(cfg.DataDir)
			if err := layout.InitDataLayout(l, !noDefaults); err != nil {
				return err
			}
			fmt.Printf("Initialized data layout at: %s\n", l.DataDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noDefaults, "no-defaults", false, "do not write default config files")
	return cmd
}

func newManualCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manual",
		Short: "Manual entries and corrections",
	}
	cmd.AddCommand(newManualAddCmd(), newManualEditCmd(), newManualDeleteCmd(), newManualBulkAddCmd())
	return cmd
}

func newManualAddCmd() *cobra.Command {
	var (
		occurredAt, amount, currency, merchant string
		description, categoryHint, tags        string
		receiptDocID, billDocID                string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a manual transaction entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if occurredAt == "" {
				occurredAt = storage.TodayYMD()
			}
			amountValue, err := importer.ParseAmountText(amount)
			if err != nil {
				return err
			}
			var tagList []string
			for _, t := range strings.Split(tags, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tagList = append(tagList, t)
				}
			}
			tx, err := ledger.ManualEntryToTx(ledger.ManualEntry{
				OccurredAt:   occurredAt,
				AmountValue:  amountValue,
				Currency:     currency,
				Merchant:     merchant,
				Description:  description,
				CategoryHint: categoryHint,
				Tags:         tagList,
				ReceiptDocID: receiptDocID,
				BillDocID:    billDocID,
			})
			if err != nil {
				return err
			}
			if err := app.Store.AppendTransaction(tx); err != nil {
				return err
			}
			fmt.Println(ledger.TxID(tx))
			return nil
		},
	}
	cmd.Flags().StringVar(&occurredAt, "occurred-at", "", "YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&amount, "amount", "", "amount as decimal string (negative = debit)")
	cmd.Flags().StringVar(&currency, "currency", "USD", "currency code")
	cmd.Flags().StringVar(&merchant, "merchant", "", "merchant name")
	cmd.Flags().StringVar(&description, "description", "", "free-form description")
	cmd.Flags().StringVar(&categoryHint, "category-hint", "", "category hint")
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated tags (example: cash,work)")
	cmd.Flags().StringVar(&receiptDocID, "receipt-doc-id", "", "linked receipt document id")
	cmd.Flags().StringVar(&billDocID, "bill-doc-id", "", "linked bill document id")
	cmd.MarkFlagRequired("amount")
	cmd.MarkFlagRequired("merchant")
	return cmd
}

func patchFromSetFlags(setCategory, setMerchant, setOccurredAt string) (storage.Doc, error) {
	patch := storage.Doc{}
	if setCategory != "" {
		patch["category"] = storage.Doc{"id": setCategory}
	}
	if setMerchant != "" {
		patch["merchant"] = setMerchant
	}
	if setOccurredAt != "" {
		if _, err := storage.ParseYMD(setOccurredAt); err != nil {
			return nil, err
		}
		patch["occurredAt"] = setOccurredAt
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("no changes specified; use --set-category, --set-merchant or --set-occurred-at")
	}
	return patch, nil
}

func newManualEditCmd() *cobra.Command {
	var txID, setCategory, setMerchant, setOccurredAt, reason string
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Write a correction event for an existing transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			patch, err := patchFromSetFlags(setCategory, setMerchant, setOccurredAt)
			if err != nil {
				return err
			}
			evt := ledger.CorrectionEvent(txID, patch, reason)
			if err := app.Store.AppendCorrection(evt); err != nil {
				return err
			}
			fmt.Println(evt["eventId"])
			return nil
		},
	}
	cmd.Flags().StringVar(&txID, "tx-id", "", "transaction id")
	cmd.Flags().StringVar(&setCategory, "set-category", "", "new category id")
	cmd.Flags().StringVar(&setMerchant, "set-merchant", "", "new merchant name")
	cmd.Flags().StringVar(&setOccurredAt, "set-occurred-at", "", "YYYY-MM-DD")
	cmd.Flags().StringVar(&reason, "reason", "user_override", "correction reason")
	cmd.MarkFlagRequired("tx-id")
	return cmd
}

func newManualDeleteCmd() *cobra.Command {
	var txID, reason string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Tombstone a transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			evt := ledger.TombstoneEvent(txID, reason)
			if err := app.Store.AppendCorrection(evt); err != nil {
				return err
			}
			fmt.Println(evt["eventId"])
			return nil
		},
	}
	cmd.Flags().StringVar(&txID, "tx-id", "", "transaction id")
	cmd.Flags().StringVar(&reason, "reason", "user_delete", "tombstone reason")
	cmd.MarkFlagRequired("tx-id")
	return cmd
}

func newManualBulkAddCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "bulk-add",
		Short: "Add many manual entries from a JSON array",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			var data []byte
			if file == "" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(file)
			}
			if err != nil {
				return err
			}

			var rows []struct {
				OccurredAt string `json:"occurredAt"`
				Amount     struct {
					Value    string `json:"value"`
					Currency string `json:"currency"`
				} `json:"amount"`
				Merchant     string   `json:"merchant"`
				Description  string   `json:"description"`
				CategoryHint string   `json:"categoryHint"`
				Tags         []string `json:"tags"`
				Links        struct {
					ReceiptDocID string `json:"receiptDocId"`
					BillDocID    string `json:"billDocId"`
				} `json:"links"`
			}
			if err := json.Unmarshal(data, &rows); err != nil {
				return fmt.Errorf("parse bulk entries: %w", err)
			}

			created := 0
			txIDs := []string{}
			for _, row := range rows {
				if strings.TrimSpace(row.Merchant) == "" {
					continue
				}
				occurredAt := row.OccurredAt
				if occurredAt == "" {
					occurredAt = storage.TodayYMD()
				}
				amountValue, err := importer.ParseAmountText(row.Amount.Value)
				if err != nil {
					continue
				}
				currency := row.Amount.Currency
				if currency == "" {
					currency = "USD"
				}
				tx, err := ledger.ManualEntryToTx(ledger.ManualEntry{
					OccurredAt:   occurredAt,
					AmountValue:  amountValue,
					Currency:     currency,
					Merchant:     row.Merchant,
					Description:  row.Description,
					CategoryHint: row.CategoryHint,
					Tags:         row.Tags,
					ReceiptDocID: row.Links.ReceiptDocID,
					BillDocID:    row.Links.BillDocID,
				})
				if err != nil {
					continue
				}
				if err := app.Store.AppendTransaction(tx); err != nil {
					return err
				}
				created++
				txIDs = append(txIDs, ledger.TxID(tx))
			}
			printJSON(map[string]any{"created": created, "txIds": txIDs})
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to JSON file (default: stdin)")
	return cmd
}

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Document registry",
	}

	var copyIntoSources bool
	var sourceType string
	register := &cobra.Command{
		Use:   "register <path> [path...]",
		Short: "Register one or more files by content hash",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			for _, path := range args {
				doc, err := app.Registry.Register(path, copyIntoSources, sourceType, nil)
				if err != nil {
					return err
				}
				printJSON(map[string]any{
					"docId":  doc["docId"],
					"sha256": doc["sha256"],
					"path":   doc["originalPath"],
				})
			}
			return nil
		},
	}
	register.Flags().BoolVar(&copyIntoSources, "copy", false, "copy the file into the sources store")
	register.Flags().StringVar(&sourceType, "source-type", "", "source type label (example: receipt, bill, bank_csv)")
	cmd.AddCommand(register)
	return cmd
}

func newReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review queue and resolution helpers",
	}

	var date string
	var limit int
	queue := &cobra.Command{
		Use:   "queue",
		Short: "List transactions and source parses requiring review",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			out, err := app.Review.BuildQueue(review.Options{Date: date, Limit: limit})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	queue.Flags().StringVar(&date, "date", "", "optional YYYY-MM-DD filter")
	queue.Flags().IntVar(&limit, "limit", 200, "maximum items")

	var txID, setCategory, setMerchant, setOccurredAt, reason string
	resolve := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a review item via a correction patch",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			patch, err := patchFromSetFlags(setCategory, setMerchant, setOccurredAt)
			if err != nil {
				return err
			}
			evt, err := app.Review.Resolve(txID, patch, reason)
			if err != nil {
				return err
			}
			printJSON(map[string]any{"event": evt})
			return nil
		},
	}
	resolve.Flags().StringVar(&txID, "tx-id", "", "transaction id")
	resolve.Flags().StringVar(&setCategory, "set-category", "", "new category id")
	resolve.Flags().StringVar(&setMerchant, "set-merchant", "", "new merchant name")
	resolve.Flags().StringVar(&setOccurredAt, "set-occurred-at", "", "YYYY-MM-DD")
	resolve.Flags().StringVar(&reason, "reason", "review_resolve", "correction reason")
	resolve.MarkFlagRequired("tx-id")

	cmd.AddCommand(queue, resolve)
	return cmd
}
