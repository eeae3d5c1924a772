package testsupport

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-smartcache/cache"
)

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// LoadFixtureJSON loads JSON test data from a fixture file and unmarshals it.
// The path is relative to the test package directory.
func LoadFixtureJSON(t *testing.T, path string, dest any) {
	t.Helper()

	data := LoadFixture(t, path)
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// EntryFixture describes a cache row relative to a reference time, so the same
// fixture file can produce fresh and stale rows for any clock.
type EntryFixture struct {
	SubjectID string          `json:"subject_id"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
	Age       string          `json:"age"`
}

// SeedEntries inserts every fixture from path into store with UpdatedAt set to
// now minus the fixture's age, and returns the inserted entries in file order.
func SeedEntries(t *testing.T, store cache.Store, now time.Time, path string) []cache.Entry {
	t.Helper()

	var fixtures []EntryFixture
	LoadFixtureJSON(t, path, &fixtures)

	entries := make([]cache.Entry, 0, len(fixtures))
	for _, f := range fixtures {
		age, err := time.ParseDuration(f.Age)
		if err != nil {
			t.Fatalf("fixture %s/%s: invalid age %q: %v", f.SubjectID, f.Source, f.Age, err)
		}
		entry, err := store.Insert(context.Background(), cache.Entry{
			SubjectID: f.SubjectID,
			Source:    f.Source,
			Payload:   f.Payload,
			UpdatedAt: now.Add(-age),
		})
		if err != nil {
			t.Fatalf("fixture %s/%s: insert: %v", f.SubjectID, f.Source, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

// CompareWithGolden compares actual data with expected data from a golden file.
// If the golden file doesn't exist, it creates one with the actual data.
func CompareWithGolden(t *testing.T, path string, actual []byte) {
	t.Helper()

	expected, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.Logf("Golden file %s does not exist, creating it", path)
			writeGolden(t, path, actual)
			return
		}
		t.Fatalf("failed to read golden file %s: %v", path, err)
	}

	if string(actual) != string(expected) {
		t.Errorf("output mismatch for %s:\nExpected:\n%s\nActual:\n%s", path, expected, actual)
	}
}

func writeGolden(t *testing.T, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write golden file to %s: %v", path, err)
	}
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// GoldenPath constructs a path to a golden file relative to the testdata directory.
func GoldenPath(filename string) string {
	return filepath.Join("testdata", "golden", filename)
}
