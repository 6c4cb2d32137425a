// Package documents ingests receipt and bill files: text extraction, field
// parsing and the per-document parse.json artifact.
package documents

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"ledgerflow/internal/storage"
)

// Capabilities reports which extraction backends are usable.
type Capabilities struct {
	TesseractCLI bool `json:"tesseractCli"`
	ImageOCR     bool `json:"imageOcrAvailable"`
}

func OCRCapabilities() Capabilities {
	_, err := exec.LookPath("tesseract")
	return Capabilities{TesseractCLI: err == nil, ImageOCR: err == nil}
}

// ExtractText reads plain-text documents directly and shells out to the
// tesseract CLI for images. Returns the text and extraction metadata.
func ExtractText(path string) (string, storage.Doc, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".text":
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", nil, err
		}
		return string(raw), storage.Doc{"method": "text"}, nil
	case ".png", ".jpg", ".jpeg", ".webp", ".tif", ".tiff", ".bmp":
		return extractImageText(path)
	}
	return "", nil, fmt.Errorf("unsupported file type for text extraction: %s", filepath.Ext(path))
}

func extractImageText(path string) (string, storage.Doc, error) {
	bin, err := exec.LookPath("tesseract")
	if err != nil {
		return "", nil, fmt.Errorf("image OCR unavailable: tesseract binary not found on PATH")
	}
	out, err := exec.Command(bin, path, "stdout", "--psm", "6").Output()
	if err != nil {
		return "", nil, fmt.Errorf("tesseract failed: %w", err)
	}
	return strings.TrimSpace(string(out)), storage.Doc{"method": "tesseract_cli"}, nil
}
