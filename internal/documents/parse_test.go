package documents

import (
	"os"
	"path/filepath"
	"testing"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/sources"
)

const receiptText = `CORNER CAFE
123 Main Street

2 x Flat White    9.00
Croissant         4.50

Subtotal         13.50
VAT 10%           1.35
TOTAL            14.85

2025-03-05 09:12
Thank you!`

func TestParseReceiptText(t *testing.T) {
	doc := ParseReceiptText(receiptText, "USD")

	if doc["type"] != "receipt" {
		t.Fatalf("type=%v", doc["type"])
	}
	if doc["merchant"] != "CORNER CAFE" {
		t.Fatalf("merchant=%v", doc["merchant"])
	}
	if doc["date"] != "2025-03-05" {
		t.Fatalf("date=%v", doc["date"])
	}
	total, _ := doc["total"].(map[string]any)
	if total == nil || total["value"] != "14.85" || total["currency"] != "USD" {
		t.Fatalf("total=%v", doc["total"])
	}
	vat, _ := doc["vat"].([]any)
	if len(vat) != 1 {
		t.Fatalf("vat=%v", doc["vat"])
	}
	conf, _ := doc["confidence"].(float64)
	if conf < 0.9 {
		t.Fatalf("confidence=%v, want full extraction", conf)
	}
	if doc["needsReview"] != false {
		t.Fatalf("needsReview=%v", doc["needsReview"])
	}
}

func TestParseReceiptTextSparse(t *testing.T) {
	doc := ParseReceiptText("illegible scan output", "USD")
	if doc["needsReview"] != true {
		t.Fatalf("sparse text should need review: %v", doc)
	}
	missing, _ := doc["missingFields"].([]any)
	if len(missing) == 0 {
		t.Fatal("missingFields empty")
	}
}

const billText = `ELECTRIC COMPANY
Account 4411-09

Invoice No: INV-2025-091
Statement date: 2025-03-01
Due date: 2025-03-20

Amount due: $82.40`

func TestParseBillText(t *testing.T) {
	doc := ParseBillText(billText, "USD")

	if doc["type"] != "bill" {
		t.Fatalf("type=%v", doc["type"])
	}
	if doc["vendor"] != "ELECTRIC COMPANY" {
		t.Fatalf("vendor=%v", doc["vendor"])
	}
	if doc["dueDate"] != "2025-03-20" {
		t.Fatalf("dueDate=%v", doc["dueDate"])
	}
	amount, _ := doc["amount"].(map[string]any)
	if amount == nil || amount["value"] != "82.4" {
		t.Fatalf("amount=%v", doc["amount"])
	}
	refs, _ := doc["references"].(map[string]any)
	if refs["invoiceNumber"] != "INV-2025-091" {
		t.Fatalf("references=%v", doc["references"])
	}
}

func TestImportReceiptRegistersAndParses(t *testing.T) {
	dir := t.TempDir()
	l := layout.For(filepath.Join(dir, "data"))
	reg := sources.NewRegistry(l, nil)
	svc := NewService(l, reg)

	path := filepath.Join(dir, "receipt.txt")
	if err := os.WriteFile(path, []byte(receiptText), 0o644); err != nil {
		t.Fatal(err)
	}

	parsed, err := svc.ImportReceipt(path, false, "USD")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if parsed.Doc["sourceType"] != "receipt" {
		t.Fatalf("sourceType=%v", parsed.Doc["sourceType"])
	}
	if parsed.Parse["type"] != "receipt" {
		t.Fatalf("parse=%v", parsed.Parse)
	}

	// The parse result is persisted next to the source document.
	docID, _ := parsed.Doc["docId"].(string)
	if _, err := os.Stat(filepath.Join(l.SourceDocDir(docID), "parse.json")); err != nil {
		t.Fatalf("parse.json missing: %v", err)
	}
}
