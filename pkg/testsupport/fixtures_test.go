package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-smartcache/internal/cacheinfra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFixture(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.txt")
	require.NoError(t, os.WriteFile(testFile, []byte("test fixture content"), 0644))

	assert.Equal(t, "test fixture content", string(LoadFixture(t, testFile)))
}

func TestLoadFixtureJSON(t *testing.T) {
	var fixtures []EntryFixture
	LoadFixtureJSON(t, FixturePath("entries.json"), &fixtures)

	require.Len(t, fixtures, 3)
	assert.Equal(t, "p1", fixtures[0].SubjectID)
	assert.Equal(t, "25h", fixtures[1].Age)
	assert.JSONEq(t, `{"available": 3}`, string(fixtures[1].Payload))
}

func TestSeedEntries(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := cacheinfra.NewMemoryStore()

	entries := SeedEntries(t, store, now, FixturePath("entries.json"))
	require.Len(t, entries, 3)
	assert.Equal(t, 3, store.Len())

	stock, found, err := store.FindLatest(context.Background(), "p1", "stockApi")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, now.Add(-25*time.Hour).Equal(stock.UpdatedAt))
}

func TestCompareWithGolden(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golden", "out.txt")

	CompareWithGolden(t, path, []byte("first"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	CompareWithGolden(t, path, []byte("first"))
}

func TestPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("testdata", "a.json"), FixturePath("a.json"))
	assert.Equal(t, filepath.Join("testdata", "golden", "a.json"), GoldenPath("a.json"))
}
