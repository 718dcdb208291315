package docstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/newsgraph/internal/domain"
)

func setupDocstore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "documents"), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func sampleDoc(id, group string, createdAt time.Time) *domain.Document {
	return &domain.Document{
		DocumentID:  id,
		Version:     1,
		SourceID:    "src-1",
		GroupID:     group,
		CreatedAt:   createdAt,
		Language:    "en",
		Title:       "Title " + id,
		Content:     "Body of " + id,
		WordCount:   3,
		ContentHash: "hash-" + id,
		Enrichment:  domain.EmptyEnrichment(),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := setupDocstore(t)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	doc := sampleDoc("doc-1", "group_alpha", now)
	require.NoError(t, s.Put(doc))

	// With date hint
	got, err := s.Get("doc-1", &now)
	require.NoError(t, err)
	assert.Equal(t, doc.Title, got.Title)
	assert.Equal(t, doc.ContentHash, got.ContentHash)

	// Without date hint (full scan)
	got, err = s.Get("doc-1", nil)
	require.NoError(t, err)
	assert.Equal(t, doc.DocumentID, got.DocumentID)
}

func TestPutRefusesOverwrite(t *testing.T) {
	s := setupDocstore(t)
	now := time.Now().UTC()

	doc := sampleDoc("doc-2", "group_alpha", now)
	require.NoError(t, s.Put(doc))

	err := s.Put(doc)
	assert.True(t, domain.IsCode(err, domain.ErrStoreWriteFailed))
}

func TestPartitionLayout(t *testing.T) {
	s := setupDocstore(t)
	created := time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC)

	require.NoError(t, s.Put(sampleDoc("doc-3", "group_alpha", created)))

	path := filepath.Join(s.Root(), "group_alpha", "2026-01-15", "doc-3.json")
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestGetMissing(t *testing.T) {
	s := setupDocstore(t)
	_, err := s.Get("nope", nil)
	assert.True(t, domain.IsCode(err, domain.ErrNotFound))
}

func TestSoftDelete(t *testing.T) {
	s := setupDocstore(t)
	now := time.Now().UTC()

	require.NoError(t, s.Put(sampleDoc("doc-4", "group_alpha", now)))
	require.NoError(t, s.Delete("doc-4", "group_alpha"))

	deleted, err := s.IsDeleted("doc-4", "group_alpha")
	require.NoError(t, err)
	assert.True(t, deleted)

	// Underlying bytes retained
	got, err := s.Get("doc-4", &now)
	require.NoError(t, err)
	assert.Equal(t, "doc-4", got.DocumentID)

	err = s.Delete("doc-missing", "group_alpha")
	assert.True(t, domain.IsCode(err, domain.ErrNotFound))
}

func TestRemoveCompensation(t *testing.T) {
	s := setupDocstore(t)
	now := time.Now().UTC()

	doc := sampleDoc("doc-5", "group_alpha", now)
	require.NoError(t, s.Put(doc))
	require.NoError(t, s.Remove("doc-5", "group_alpha", now))

	_, err := s.Get("doc-5", &now)
	assert.True(t, domain.IsCode(err, domain.ErrNotFound))

	// Removing an absent file is not an error (best-effort compensation)
	assert.NoError(t, s.Remove("doc-5", "group_alpha", now))
}

func TestIterRangeAndDeletionSkip(t *testing.T) {
	s := setupDocstore(t)
	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	day3 := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Put(sampleDoc("doc-a", "group_alpha", day1)))
	require.NoError(t, s.Put(sampleDoc("doc-b", "group_alpha", day2)))
	require.NoError(t, s.Put(sampleDoc("doc-c", "group_alpha", day3)))
	require.NoError(t, s.Delete("doc-b", "group_alpha"))

	var ids []string
	err := s.Iter("group_alpha", day1, day3, func(doc *domain.Document) bool {
		ids = append(ids, doc.DocumentID)
		return true
	})
	require.NoError(t, err)
	// doc-b soft-deleted, excluded; order is oldest partition first
	assert.Equal(t, []string{"doc-a", "doc-c"}, ids)

	// Range narrowing
	ids = nil
	err = s.Iter("group_alpha", day3, day3, func(doc *domain.Document) bool {
		ids = append(ids, doc.DocumentID)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-c"}, ids)

	// Early stop
	count := 0
	err = s.Iter("group_alpha", day1, day3, func(*domain.Document) bool {
		count++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIterUnknownGroup(t *testing.T) {
	s := setupDocstore(t)
	err := s.Iter("ghost", time.Now().Add(-time.Hour), time.Now(), func(*domain.Document) bool {
		t.Fatal("should not yield")
		return false
	})
	assert.NoError(t, err)
}
