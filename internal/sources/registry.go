// Package sources is the content-addressed registry of imported documents.
// Uniqueness hinges on the SHA-256 of the file bytes, never the filename.
package sources

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/storage"
)

// Projector mirrors registered documents into the secondary index,
// best-effort.
type Projector interface {
	IndexSource(doc storage.Doc) error
}

// Registry registers files under sources/ and maintains sources/index.json.
type Registry struct {
	Layout    layout.Layout
	Projector Projector
}

func NewRegistry(l layout.Layout, p Projector) *Registry {
	return &Registry{Layout: l, Projector: p}
}

type indexDoc struct {
	Version int           `json:"version"`
	Docs    []storage.Doc `json:"docs"`
}

func (r *Registry) loadIndex() (*indexDoc, error) {
	idx := &indexDoc{Version: 1}
	if err := storage.ReadJSON(r.Layout.SourcesIndex(), idx); err != nil {
		return nil, err
	}
	if idx.Version == 0 {
		idx.Version = 1
	}
	return idx, nil
}

// Register computes the content hash of path and either returns the existing
// document for those bytes (enriching metadata keys that are absent) or mints
// a fresh one. Re-registering identical bytes never grows the index.
func (r *Registry) Register(path string, copyIntoStore bool, sourceType string, extraMeta storage.Doc) (storage.Doc, error) {
	sha, err := storage.SHA256File(path)
	if err != nil {
		return nil, fmt.Errorf("hash source file: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	idx, err := r.loadIndex()
	if err != nil {
		return nil, err
	}
	for _, doc := range idx.Docs {
		if s, _ := doc["sha256"].(string); s != sha {
			continue
		}
		changed := false
		if sourceType != "" {
			if cur, _ := doc["sourceType"].(string); cur == "" {
				doc["sourceType"] = sourceType
				changed = true
			}
		}
		for k, v := range extraMeta {
			if _, exists := doc[k]; !exists {
				doc[k] = v
				changed = true
			}
		}
		if changed {
			docID, _ := doc["docId"].(string)
			docDir := r.Layout.SourceDocDir(docID)
			if _, err := os.Stat(docDir); err == nil {
				if err := storage.WriteJSON(filepath.Join(docDir, "meta.json"), doc); err != nil {
					return nil, err
				}
			}
			if err := storage.WriteJSON(r.Layout.SourcesIndex(), idx); err != nil {
				return nil, err
			}
			r.project(doc)
		}
		return doc, nil
	}

	docID := storage.NewID(storage.PrefixDoc)
	docDir := r.Layout.SourceDocDir(docID)
	if err := storage.EnsureDir(docDir); err != nil {
		return nil, err
	}

	var storedPath any
	if copyIntoStore {
		name := "original"
		if ext := strings.ToLower(filepath.Ext(path)); ext != "" {
			name += ext
		}
		dst := filepath.Join(docDir, name)
		if err := copyFile(path, dst); err != nil {
			return nil, fmt.Errorf("copy into store: %w", err)
		}
		rel, err := filepath.Rel(r.Layout.DataDir, dst)
		if err != nil {
			rel = dst
		}
		storedPath = rel
	}

	doc := storage.Doc{
		"docId":        docID,
		"originalPath": path,
		"storedPath":   storedPath,
		"sha256":       sha,
		"size":         info.Size(),
		"addedAt":      storage.NowISO(),
	}
	if sourceType != "" {
		doc["sourceType"] = sourceType
	}
	for k, v := range extraMeta {
		if _, exists := doc[k]; !exists {
			doc[k] = v
		}
	}

	if err := storage.WriteJSON(filepath.Join(docDir, "meta.json"), doc); err != nil {
		return nil, err
	}
	idx.Docs = append(idx.Docs, doc)
	if err := storage.WriteJSON(r.Layout.SourcesIndex(), idx); err != nil {
		return nil, err
	}
	r.project(doc)
	return doc, nil
}

// List returns registered documents in registration order.
func (r *Registry) List() ([]storage.Doc, error) {
	idx, err := r.loadIndex()
	if err != nil {
		return nil, err
	}
	return idx.Docs, nil
}

// Get returns the document with docID, or nil.
func (r *Registry) Get(docID string) (storage.Doc, error) {
	idx, err := r.loadIndex()
	if err != nil {
		return nil, err
	}
	for _, doc := range idx.Docs {
		if id, _ := doc["docId"].(string); id == docID {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("source document %s not found", docID)
}

func (r *Registry) project(doc storage.Doc) {
	if r.Projector == nil {
		return
	}
	if err := r.Projector.IndexSource(doc); err != nil {
		id, _ := doc["docId"].(string)
		log.Printf("[sources] index update failed for %s: %v", id, err)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
