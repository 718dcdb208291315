// Package docstore is the content-addressed, append-only canonical
// document store. One JSON file per document version, partitioned by
// group and date; the graph and vector indexes are projections of it.
package docstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian/newsgraph/internal/domain"
)

const dateLayout = "2006-01-02"

// Store writes and reads canonical document files under
// root/{group_id}/{yyyy-mm-dd}/{document_id}.json
type Store struct {
	root string
	log  zerolog.Logger
}

// NewStore creates the canonical store rooted at dir
func NewStore(root string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("docstore root: %w", err)
	}
	return &Store{
		root: root,
		log:  log.With().Str("component", "docstore").Logger(),
	}, nil
}

// Root returns the store's root directory (for backups)
func (s *Store) Root() string {
	return s.root
}

func (s *Store) docPath(groupID string, createdAt time.Time, documentID string) string {
	return filepath.Join(s.root, groupID, createdAt.UTC().Format(dateLayout), documentID+".json")
}

// Put atomically writes a document file: write-to-temp, fsync, rename.
// Append-only; overwriting an existing version is refused.
func (s *Store) Put(doc *domain.Document) error {
	path := s.docPath(doc.GroupID, doc.CreatedAt, doc.DocumentID)
	if _, err := os.Stat(path); err == nil {
		return domain.NewErrorf(domain.ErrStoreWriteFailed, "document file %s already exists", doc.DocumentID)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "partition create failed", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "document marshal failed", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+doc.DocumentID+".tmp-")
	if err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "temp file create failed", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return domain.WrapError(domain.ErrStoreWriteFailed, "document write failed", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return domain.WrapError(domain.ErrStoreWriteFailed, "document fsync failed", err)
	}
	if err := tmp.Close(); err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "temp file close failed", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "document rename failed", err)
	}

	s.log.Debug().Str("document_id", doc.DocumentID).Str("group_id", doc.GroupID).Msg("Canonical document written")
	return nil
}

// Get performs a deterministic lookup. A date hint narrows the scan to one
// partition; without it every date partition of every group is scanned.
func (s *Store) Get(documentID string, dateHint *time.Time) (*domain.Document, error) {
	if dateHint != nil {
		groups, err := s.listDirs(s.root)
		if err != nil {
			return nil, err
		}
		day := dateHint.UTC().Format(dateLayout)
		for _, group := range groups {
			doc, err := s.readDoc(filepath.Join(s.root, group, day, documentID+".json"))
			if err == nil {
				return doc, nil
			}
			if !os.IsNotExist(err) {
				return nil, domain.WrapError(domain.ErrStoreUnavailable, "document read failed", err)
			}
		}
		return nil, domain.NewErrorf(domain.ErrNotFound, "document %q not found", documentID)
	}

	var found *domain.Document
	err := s.walk(func(path string) (bool, error) {
		if filepath.Base(path) != documentID+".json" {
			return true, nil
		}
		doc, err := s.readDoc(path)
		if err != nil {
			return false, err
		}
		found = doc
		return false, nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "document scan failed", err)
	}
	if found == nil {
		return nil, domain.NewErrorf(domain.ErrNotFound, "document %q not found", documentID)
	}
	return found, nil
}

// Delete soft-deletes via a marker file; the underlying bytes stay put.
func (s *Store) Delete(documentID, groupID string) error {
	groupDir := filepath.Join(s.root, groupID)
	days, err := s.listDirs(groupDir)
	if err != nil {
		return err
	}
	for _, day := range days {
		path := filepath.Join(groupDir, day, documentID+".json")
		if _, err := os.Stat(path); err == nil {
			marker := path + ".deleted"
			if err := os.WriteFile(marker, []byte(time.Now().UTC().Format(time.RFC3339)), 0644); err != nil {
				return domain.WrapError(domain.ErrStoreWriteFailed, "delete marker write failed", err)
			}
			return nil
		}
	}
	return domain.NewErrorf(domain.ErrNotFound, "document %q not found in group %q", documentID, groupID)
}

// IsDeleted reports whether a soft-delete marker exists for the document
func (s *Store) IsDeleted(documentID, groupID string) (bool, error) {
	groupDir := filepath.Join(s.root, groupID)
	days, err := s.listDirs(groupDir)
	if err != nil {
		return false, err
	}
	for _, day := range days {
		if _, err := os.Stat(filepath.Join(groupDir, day, documentID+".json.deleted")); err == nil {
			return true, nil
		}
	}
	return false, nil
}

// Remove hard-deletes the document file. This is the ingest compensating
// write only; normal deletion is the soft-delete marker.
func (s *Store) Remove(documentID, groupID string, createdAt time.Time) error {
	path := s.docPath(groupID, createdAt, documentID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return domain.WrapError(domain.ErrStoreWriteFailed, "compensating remove failed", err)
	}
	return nil
}

// Iter lazily streams every live document for a group within the date
// range, oldest partition first. The yield callback returns false to stop.
// The stream is finite and non-restartable; reconciliation is the caller.
func (s *Store) Iter(groupID string, from, to time.Time, yield func(*domain.Document) bool) error {
	groupDir := filepath.Join(s.root, groupID)
	days, err := s.listDirs(groupDir)
	if err != nil {
		return err
	}
	sort.Strings(days)

	fromDay := from.UTC().Format(dateLayout)
	toDay := to.UTC().Format(dateLayout)

	for _, day := range days {
		if day < fromDay || day > toDay {
			continue
		}
		dayDir := filepath.Join(groupDir, day)
		entries, err := os.ReadDir(dayDir)
		if err != nil {
			return domain.WrapError(domain.ErrStoreUnavailable, "partition read failed", err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
				continue
			}
			// Skip soft-deleted documents
			if _, err := os.Stat(filepath.Join(dayDir, name+".deleted")); err == nil {
				continue
			}
			doc, err := s.readDoc(filepath.Join(dayDir, name))
			if err != nil {
				s.log.Warn().Err(err).Str("file", name).Msg("Skipping unreadable canonical file")
				continue
			}
			if !yield(doc) {
				return nil
			}
		}
	}
	return nil
}

// Groups lists the group partitions present on disk
func (s *Store) Groups() ([]string, error) {
	return s.listDirs(s.root)
}

func (s *Store) readDoc(path string) (*domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("canonical file %s: %w", filepath.Base(path), err)
	}
	return &doc, nil
}

func (s *Store) listDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "directory read failed", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// walk visits every document file; the callback returns (continue, error)
func (s *Store) walk(visit func(path string) (bool, error)) error {
	return filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		cont, err := visit(path)
		if err != nil {
			return err
		}
		if !cont {
			return filepath.SkipAll
		}
		return nil
	})
}
