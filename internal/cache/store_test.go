package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(t.TempDir())
	require.NoError(t, s.EnsureDirs("observations", "users"))
	return s
}

func TestWriteEntityRoundTrip(t *testing.T) {
	s := testStore(t)
	hdr := Header{
		Date: time.Date(2024, 5, 2, 10, 30, 0, 0, time.UTC),
		Etag: `"abc"`,
	}
	entity := map[string]any{
		"id":          uint64(42),
		"description": "a moth",
		"user":        int64(7),
	}
	require.NoError(t, s.WriteEntity("observations", 42, hdr, entity))

	got, body, err := s.ReadEntityFile(s.EntityPath("observations", 42))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, hdr.Date.Equal(got.Date), "date should survive the round trip")
	assert.Equal(t, `"abc"`, got.Etag)
	assert.Equal(t, "a moth", body["description"])
	assert.EqualValues(t, 42, body["id"])
	assert.EqualValues(t, 7, body["user"])
}

func TestWriteEntityFormat(t *testing.T) {
	s := testStore(t)
	hdr := Header{Date: time.Date(2024, 5, 2, 10, 30, 0, 0, time.UTC)}
	require.NoError(t, s.WriteEntity("observations", 1, hdr, map[string]any{"id": 1}))

	raw, err := os.ReadFile(s.EntityPath("observations", 1))
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, "\n---\n", "documents must be separated by ---")
	assert.Contains(t, text, "date: 2024-05-02T10:30:00Z")
	assert.NotContains(t, text, "etag", "empty etag must be omitted")

	// No leftover temp file from the atomic replace.
	entries, err := os.ReadDir(s.KindDir("observations"))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), ".tmp"), "stray temp file %s", entry.Name())
	}
}

func TestReadEntityFileMissing(t *testing.T) {
	s := testStore(t)
	hdr, body, err := s.ReadEntityFile(s.EntityPath("observations", 999))
	require.NoError(t, err)
	assert.Nil(t, hdr)
	assert.Nil(t, body)
}

func TestReadEntityFileSingleDocumentIsCorrupt(t *testing.T) {
	s := testStore(t)
	path := s.EntityPath("observations", 5)
	require.NoError(t, os.WriteFile(path, []byte("date: 2024-05-02T10:30:00Z\n"), 0o644))

	_, _, err := s.ReadEntityFile(path)
	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
	assert.Contains(t, corrupt.Reason, "only one document")
}

func TestReadEntityFileEmptyIsCorrupt(t *testing.T) {
	s := testStore(t)
	path := s.EntityPath("observations", 6)
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, _, err := s.ReadEntityFile(path)
	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
	assert.Contains(t, corrupt.Reason, "no document")
}

func TestIDListRoundTrip(t *testing.T) {
	s := testStore(t)
	path := filepath.Join(s.KindDir("users"), "7.observations.yaml")
	hdr := Header{Date: time.Date(2024, 5, 2, 10, 30, 0, 0, time.UTC)}
	require.NoError(t, s.WriteIDList(path, hdr, []uint64{3, 10, 25}))

	list, err := s.ReadIDList(path)
	require.NoError(t, err)
	require.NotNil(t, list)
	assert.True(t, hdr.Date.Equal(list.Header.Date))
	assert.Equal(t, []uint64{3, 10, 25}, list.IDs)
}

func TestIDListEmpty(t *testing.T) {
	s := testStore(t)
	path := filepath.Join(s.KindDir("users"), "7.observations.yaml")
	require.NoError(t, s.WriteIDList(path, Header{Date: time.Now().UTC()}, nil))

	list, err := s.ReadIDList(path)
	require.NoError(t, err)
	require.NotNil(t, list)
	assert.Empty(t, list.IDs)
}

func TestIDListMissing(t *testing.T) {
	s := testStore(t)
	list, err := s.ReadIDList(filepath.Join(s.KindDir("users"), "absent.yaml"))
	require.NoError(t, err)
	assert.Nil(t, list)
}

func TestIDListOutOfOrderIsCorrupt(t *testing.T) {
	s := testStore(t)
	path := filepath.Join(s.KindDir("users"), "7.observations.yaml")
	raw := "date: 2024-05-02T10:30:00Z\n---\n- 10\n- 3\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	_, err := s.ReadIDList(path)
	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
	assert.Contains(t, corrupt.Reason, "ascending")
}

func TestWithoutEtag(t *testing.T) {
	hdr := Header{Date: time.Now(), Etag: `"abc"`}
	stripped := hdr.WithoutEtag()
	assert.Empty(t, stripped.Etag)
	assert.Equal(t, `"abc"`, hdr.Etag, "original must be unchanged")
}
