// Package backup creates and restores tar.gz snapshots of the data
// directory.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/storage"
)

// CreateOptions control archive creation. OutPath defaults to a timestamped
// file in a ledgerflow_backups directory next to the data dir.
type CreateOptions struct {
	OutPath      string
	IncludeInbox bool
}

// CreateResult describes a written archive.
type CreateResult struct {
	ArchivePath  string `json:"archivePath"`
	SizeBytes    int64  `json:"sizeBytes"`
	FileCount    int    `json:"fileCount"`
	IncludeInbox bool   `json:"includeInbox"`
	CreatedAt    string `json:"createdAt"`
}

// RestoreResult describes an extracted archive.
type RestoreResult struct {
	ArchivePath      string `json:"archivePath"`
	TargetDir        string `json:"targetDir"`
	ExtractedEntries int    `json:"extractedEntries"`
	RestoredAt       string `json:"restoredAt"`
}

func defaultBackupPath(l layout.Layout) (string, error) {
	outDir := filepath.Join(filepath.Dir(l.DataDir), "ledgerflow_backups")
	if err := storage.EnsureDir(outDir); err != nil {
		return "", err
	}
	stamp := storage.NowISO()
	r := strings.NewReplacer(":", "", "-", "", "T", "-", "Z", "")
	return filepath.Join(outDir, fmt.Sprintf("ledgerflow-%s.tar.gz", r.Replace(stamp))), nil
}

// Create walks the data directory and writes every regular file into a gzip
// tarball with paths relative to the data dir.
func Create(l layout.Layout, opts CreateOptions) (*CreateResult, error) {
	srcRoot, err := filepath.Abs(l.DataDir)
	if err != nil {
		return nil, err
	}
	outPath := opts.OutPath
	if outPath == "" {
		outPath, err = defaultBackupPath(l)
		if err != nil {
			return nil, err
		}
	}
	outPath, err = filepath.Abs(outPath)
	if err != nil {
		return nil, err
	}
	if err := storage.EnsureDir(filepath.Dir(outPath)); err != nil {
		return nil, err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	fileCount := 0
	walkErr := filepath.WalkDir(srcRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		if abs == outPath {
			return nil
		}
		rel, err := filepath.Rel(srcRoot, abs)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !opts.IncludeInbox && (rel == "inbox" || strings.HasPrefix(rel, "inbox/")) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, err := os.Open(abs)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, src)
		src.Close()
		if err != nil {
			return err
		}
		fileCount++
		return nil
	})
	if walkErr != nil {
		tw.Close()
		gz.Close()
		return nil, fmt.Errorf("archive data dir: %w", walkErr)
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	var size int64
	if info, err := os.Stat(outPath); err == nil {
		size = info.Size()
	}
	return &CreateResult{
		ArchivePath:  outPath,
		SizeBytes:    size,
		FileCount:    fileCount,
		IncludeInbox: opts.IncludeInbox,
		CreatedAt:    storage.NowISO(),
	}, nil
}

func safeJoin(target, name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("invalid archive member path")
	}
	dest := filepath.Join(target, filepath.FromSlash(name))
	rel, err := filepath.Rel(target, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive contains path traversal entries")
	}
	return dest, nil
}

// Restore extracts an archive into targetDir. A non-empty target is refused
// unless force is set, in which case it is replaced.
func Restore(archivePath, targetDir string, force bool) (*RestoreResult, error) {
	archive, err := filepath.Abs(archivePath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(archive)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("archivePath does not exist")
	}

	target, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, err
	}
	if entries, err := os.ReadDir(target); err == nil && len(entries) > 0 {
		if !force {
			return nil, fmt.Errorf("targetDir is not empty; pass force=true to overwrite")
		}
		if err := os.RemoveAll(target); err != nil {
			return nil, fmt.Errorf("clear target dir: %w", err)
		}
	}
	if err := storage.EnsureDir(target); err != nil {
		return nil, err
	}

	f, err := os.Open(archive)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	extracted := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		dest, err := safeJoin(target, hdr.Name)
		if err != nil {
			return nil, err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := storage.EnsureDir(dest); err != nil {
				return nil, err
			}
		case tar.TypeReg:
			if err := storage.EnsureDir(filepath.Dir(dest)); err != nil {
				return nil, err
			}
			out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return nil, fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return nil, fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
			if err := out.Close(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unsupported archive entry type for %s", hdr.Name)
		}
		extracted++
	}

	return &RestoreResult{
		ArchivePath:      archive,
		TargetDir:        target,
		ExtractedEntries: extracted,
		RestoredAt:       storage.NowISO(),
	}, nil
}
