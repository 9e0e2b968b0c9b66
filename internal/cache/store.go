// Package cache implements the on-disk mirror: one subdirectory per
// entity kind, one file per (kind, id). Every file holds exactly two YAML
// documents separated by "---": the snapshot header, then the entity's
// field map. A file with fewer than two documents is corruption and is
// surfaced loudly rather than rebuilt, so data loss is never masked.
package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// CorruptError reports a cache file that cannot be trusted: a missing
// document, a malformed document, or an id invariant violation.
type CorruptError struct {
	Path   string
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt cache file %s: %s", e.Path, e.Reason)
}

// Store is the durable per-(kind, id) file store. Concurrent writers are
// safe as long as they target distinct ids; every write is a whole-file
// atomic replace.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

func (s *Store) Root() string { return s.root }

// KindDir returns the subdirectory holding one kind's entity files.
func (s *Store) KindDir(kind string) string {
	return filepath.Join(s.root, kind)
}

// EntityPath returns the cache file path for one (kind, id).
func (s *Store) EntityPath(kind string, id uint64) string {
	return filepath.Join(s.root, kind, strconv.FormatUint(id, 10)+".yaml")
}

// EnsureDirs creates the per-kind subdirectories.
func (s *Store) EnsureDirs(kinds ...string) error {
	for _, kind := range kinds {
		if err := os.MkdirAll(s.KindDir(kind), 0o755); err != nil {
			return fmt.Errorf("create cache dir for %s: %w", kind, err)
		}
	}
	return nil
}

// WriteEntity replaces the cache file for one entity.
func (s *Store) WriteEntity(kind string, id uint64, hdr Header, entity map[string]any) error {
	return writeDocuments(s.EntityPath(kind, id), hdr, entity)
}

// ReadEntityHeader loads just the snapshot header for one entity. A
// missing file reads as (nil, nil).
func (s *Store) ReadEntityHeader(kind string, id uint64) (*Header, error) {
	hdr, _, err := s.ReadEntityFile(s.EntityPath(kind, id))
	return hdr, err
}

// ReadEntityFile loads one cached entity by path, following symlinks.
// A missing file reads as (nil, nil, nil).
func (s *Store) ReadEntityFile(path string) (*Header, map[string]any, error) {
	var entity map[string]any
	hdr, err := readDocuments(path, &entity)
	if hdr == nil || err != nil {
		return nil, nil, err
	}
	return hdr, entity, nil
}

// readDocuments reads the two-document cache format: the header, then the
// body decoded into out. A missing file yields (nil, nil).
func readDocuments(path string, out any) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	var hdr Header
	if err := dec.Decode(&hdr); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &CorruptError{Path: path, Reason: "contains no document"}
		}
		return nil, &CorruptError{Path: path, Reason: fmt.Sprintf("bad header document: %v", err)}
	}
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &CorruptError{Path: path, Reason: "contains only one document"}
		}
		return nil, &CorruptError{Path: path, Reason: fmt.Sprintf("bad body document: %v", err)}
	}
	return &hdr, nil
}

// writeDocuments atomically replaces path with the two-document format.
func writeDocuments(path string, hdr Header, body any) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	if err := enc.Encode(hdr); err != nil {
		return fmt.Errorf("encode cache header: %w", err)
	}
	if err := enc.Encode(body); err != nil {
		return fmt.Errorf("encode cache body: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode cache document: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
