// Package backup snapshots ingested files, which are expensive to fetch
// again, together with parquet copies of the finalized tables.
package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/golang/snappy"

	"github.com/kurihiro0119/project-analytics/internal/catalog"
	"github.com/kurihiro0119/project-analytics/internal/collector"
	"github.com/kurihiro0119/project-analytics/internal/domain"
	apperrors "github.com/kurihiro0119/project-analytics/internal/errors"
)

// Dir is the backup directory under the lake
const Dir = "_backup"

// Ext marks snappy-framed files
const Ext = ".sz"

// Exporter writes a table as parquet
type Exporter interface {
	HasTable(ctx context.Context, table string) (bool, error)
	ExportParquet(ctx context.Context, table, dir string) (string, error)
}

// Result describes one snapshot
type Result struct {
	Dir    string   `json:"dir"`
	Files  int      `json:"files"`
	Tables []string `json:"tables"`
	Bytes  int64    `json:"bytes"`
}

// Backup writes snapshots to <lake>/_backup/<timestamp>/
type Backup struct {
	raw      *collector.RawStore
	tables   Exporter
	root     string
	uploader catalog.Uploader
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a backup writer. tables and uploader may be nil.
func New(raw *collector.RawStore, tables Exporter, lakeDir string, uploader catalog.Uploader, logger *slog.Logger) *Backup {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backup{
		raw:      raw,
		tables:   tables,
		root:     filepath.Join(lakeDir, Dir),
		uploader: uploader,
		logger:   logger,
		now:      time.Now,
	}
}

// Run takes a snapshot
func (b *Backup) Run(ctx context.Context) (*Result, error) {
	stamp := b.now().UTC().Format("20060102T150405Z")
	res := &Result{Dir: filepath.Join(b.root, stamp), Tables: []string{}}

	files, err := b.raw.Files()
	if err != nil {
		return nil, fmt.Errorf("failed to list raw files: %w", err)
	}
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dst := filepath.Join(res.Dir, collector.RawDir, rel+Ext)
		n, err := compressFile(filepath.Join(b.raw.Root(), rel), dst)
		if err != nil {
			return nil, err
		}
		res.Files++
		res.Bytes += n
		if err := b.upload(ctx, dst, path.Join(stamp, collector.RawDir, filepath.ToSlash(rel)+Ext)); err != nil {
			return nil, err
		}
	}

	if b.tables != nil {
		for _, info := range domain.Tables {
			name := string(info.Name)
			ok, err := b.tables.HasTable(ctx, name)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			local, err := b.tables.ExportParquet(ctx, name, filepath.Join(res.Dir, "tables"))
			if err != nil {
				return nil, err
			}
			res.Tables = append(res.Tables, name)
			if err := b.upload(ctx, local, path.Join(stamp, "tables", name, filepath.Base(local))); err != nil {
				return nil, err
			}
		}
	}

	b.logger.Info("backup written", "dir", res.Dir, "files", res.Files, "tables", len(res.Tables), "bytes", res.Bytes)
	return res, nil
}

// List returns snapshot directories, oldest first
func (b *Backup) List() ([]string, error) {
	entries, err := os.ReadDir(b.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// Restore decompresses the raw files of snapshot back into the raw store.
// snapshot must be one of the names List returns.
func (b *Backup) Restore(snapshot string) (int, error) {
	snapshots, err := b.List()
	if err != nil {
		return 0, err
	}
	if !slices.Contains(snapshots, snapshot) {
		return 0, apperrors.NewNotFoundError("snapshot " + snapshot)
	}

	src := filepath.Join(b.root, snapshot, collector.RawDir)
	n := 0
	err = filepath.WalkDir(src, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, Ext) {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if err := DecompressFile(p, filepath.Join(b.raw.Root(), strings.TrimSuffix(rel, Ext))); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("failed to restore %s: %w", snapshot, err)
	}
	return n, nil
}

func (b *Backup) upload(ctx context.Context, local, object string) error {
	if b.uploader == nil {
		return nil
	}
	return b.uploader.Upload(ctx, local, path.Join("backup", object))
}

// compressFile writes src to dst as a snappy stream and returns the
// compressed size
func compressFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	w := snappy.NewBufferedWriter(out)
	if _, err := io.Copy(w, in); err != nil {
		return 0, fmt.Errorf("failed to compress %s: %w", src, err)
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	info, err := out.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// DecompressFile expands a snappy stream written by a backup
func DecompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, snappy.NewReader(in)); err != nil {
		out.Close()
		return fmt.Errorf("failed to decompress %s: %w", src, err)
	}
	return out.Close()
}
