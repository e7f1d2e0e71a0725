package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Raw directory layout under the lake
const (
	RawDir      = "_raw"
	GitHubDir   = "github"
	ZulipDir    = "zulip"
	DocsDir     = "docs"
	PyPIDir     = "pypi"
	DocsExport  = "goatcounter.csv.gz"
	PyPIExport  = "file_downloads.parquet"
	ZulipMember = "members.json"
	ZulipMsgs   = "messages.json"
)

// RawStore owns the on-disk layout of ingested files
type RawStore struct {
	root string
}

// NewRawStore creates a raw store under lakeDir
func NewRawStore(lakeDir string) *RawStore {
	return &RawStore{root: filepath.Join(lakeDir, RawDir)}
}

// Root returns the raw directory
func (s *RawStore) Root() string {
	return s.root
}

// GitHubPage returns the file for one page of a GraphQL query
func (s *RawStore) GitHubPage(repo, query string, page int) string {
	return filepath.Join(s.root, GitHubDir, "repo_name="+repo, fmt.Sprintf("%s.%06d.json", query, page))
}

// GitHubGlob matches every page of a query across repositories
func (s *RawStore) GitHubGlob(query string) string {
	return filepath.Join(s.root, GitHubDir, "repo_name=*", query+".*.json")
}

// ZulipFile returns the path of a Zulip dump
func (s *RawStore) ZulipFile(name string) string {
	return filepath.Join(s.root, ZulipDir, name)
}

// DocsFile returns the GoatCounter export path
func (s *RawStore) DocsFile() string {
	return filepath.Join(s.root, DocsDir, DocsExport)
}

// DocsGlob matches every docs export
func (s *RawStore) DocsGlob() string {
	return filepath.Join(s.root, DocsDir, "*.csv.gz")
}

// PyPIFile returns the downloads file for a package
func (s *RawStore) PyPIFile(pkg string) string {
	return filepath.Join(s.root, PyPIDir, pkg, PyPIExport)
}

// PyPIGlob matches every package's downloads file
func (s *RawStore) PyPIGlob() string {
	return filepath.Join(s.root, PyPIDir, "*", "*.parquet")
}

// WriteJSON writes v as indented JSON, creating parent directories
func (s *RawStore) WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// WriteFile streams r to path through a temporary file so readers never
// see a partial export
func (s *RawStore) WriteFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Files lists every raw file relative to the root
func (s *RawStore) Files() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	sort.Strings(files)
	return files, err
}

// Clean removes all ingested data
func (s *RawStore) Clean() error {
	return os.RemoveAll(s.root)
}
