// Package files implements the User File Store (C7): per-user upload
// storage rooted at <base>/<username>/, with path-traversal rejection
// and a CSV browse path delegating to the paginator.
package files

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sys3222/akshare-mcp-adapter/internal/errs"
	"github.com/sys3222/akshare-mcp-adapter/internal/model"
	"github.com/sys3222/akshare-mcp-adapter/internal/pagination"
)

const maxUploadBytes = 10 << 20 // 10 MiB

// Store is the User File Store.
type Store struct {
	base string
}

// New builds a Store rooted at base.
func New(base string) *Store {
	return &Store{base: base}
}

// ownerRoot re-derives the per-owner root for every operation; callers
// never cache a resolved path across calls.
func (s *Store) ownerRoot(owner string) (string, error) {
	if owner == "" || strings.ContainsAny(owner, "/\\") {
		return "", errs.New(errs.PathViolation, "invalid owner")
	}
	return filepath.Join(s.base, owner), nil
}

// resolve maps a client-supplied filename onto a path guaranteed to sit
// inside the owner's root, rejecting any attempt to escape it.
func (s *Store) resolve(owner, filename string) (string, error) {
	root, err := s.ownerRoot(owner)
	if err != nil {
		return "", err
	}
	clean := filepath.Clean(filename)
	if clean == "." || clean == "" || filepath.IsAbs(clean) || filepath.Dir(clean) != "." {
		return "", errs.New(errs.PathViolation, "filename must not contain path separators")
	}

	full := filepath.Join(root, clean)
	if !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", errs.New(errs.PathViolation, "resolved path escapes owner root")
	}
	return full, nil
}

// Upload writes r to <base>/<owner>/<filename> transactionally: bytes
// land in a sibling temp file first, then are renamed into place, so a
// client disconnect mid-upload leaves no partial file visible to List.
func (s *Store) Upload(ctx context.Context, owner, filename string, r io.Reader) error {
	dest, err := s.resolve(owner, filename)
	if err != nil {
		return err
	}
	root, _ := s.ownerRoot(owner)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return errs.Wrap(errs.CacheIOError, "cannot create owner directory", err)
	}

	tmp, err := os.CreateTemp(root, ".upload-*.tmp")
	if err != nil {
		return errs.Wrap(errs.CacheIOError, "cannot create temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	limited := io.LimitReader(r, maxUploadBytes+1)
	n, err := io.Copy(tmp, limited)
	if err != nil {
		tmp.Close()
		return errs.Wrap(errs.CacheIOError, "writing upload failed", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.CacheIOError, "closing upload failed", err)
	}
	if n > maxUploadBytes {
		return errs.New(errs.TooLarge, "upload exceeds 10 MiB limit")
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return errs.Wrap(errs.CacheIOError, "finalizing upload failed", err)
	}
	return nil
}

// List returns the owner's filenames in lexicographic order.
func (s *Store) List(owner string) ([]string, error) {
	root, err := s.ownerRoot(owner)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, errs.Wrap(errs.CacheIOError, "listing files failed", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".upload-") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a single owned file.
func (s *Store) Delete(owner, filename string) error {
	path, err := s.resolve(owner, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errs.New(errs.NotFound, "file not found")
		}
		return errs.Wrap(errs.CacheIOError, "deleting file failed", err)
	}
	return nil
}

// Browse parses filename as a comma-separated tabular document with a
// header row and returns a paginated projection.
func (s *Store) Browse(owner, filename string, page, pageSize int) (pagination.Page, error) {
	path, err := s.resolve(owner, filename)
	if err != nil {
		return pagination.Page{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pagination.Page{}, errs.New(errs.NotFound, "file not found")
		}
		return pagination.Page{}, errs.Wrap(errs.CacheIOError, "opening file failed", err)
	}
	defer f.Close()

	table, err := parseCSV(f)
	if err != nil {
		return pagination.Page{}, err
	}
	return pagination.Paginate(table, page, pageSize), nil
}

func parseCSV(r io.Reader) (*model.Table, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return model.NewTable(nil), nil
		}
		return nil, errs.Wrap(errs.ParseError, "reading CSV header failed", err)
	}

	table := model.NewTable(header)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.ParseError, "parsing CSV row failed", err)
		}
		row := make([]model.Cell, len(header))
		for i := range header {
			if i < len(record) {
				row[i] = model.StringCell(record[i])
			} else {
				row[i] = model.NullCell()
			}
		}
		table.AddRecord(row)
	}
	return table, nil
}
