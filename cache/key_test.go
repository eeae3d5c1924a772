package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntryKey(t *testing.T) {
	assert.Equal(t, "p1::priceApi", EntryKey("p1", "priceApi"))
	assert.True(t, strings.HasPrefix(EntryKey("p1", "priceApi"), SubjectKeyPrefix("p1")))
}

func TestEntryKey_NoCollisions(t *testing.T) {
	pairs := [][2]string{
		{"a:", "b"},
		{"a", ":b"},
		{"a::b", ""},
		{"a", ":b"},
		{`a\`, "b"},
		{"a", `\b`},
	}

	seen := map[string][2]string{}
	for _, p := range pairs {
		key := EntryKey(p[0], p[1])
		if prev, ok := seen[key]; ok && prev != p {
			t.Fatalf("key %q produced by both %v and %v", key, prev, p)
		}
		seen[key] = p
	}
}

func TestSubjectKeyPrefix_DoesNotMatchLongerSubject(t *testing.T) {
	assert.False(t, strings.HasPrefix(EntryKey("p10", "priceApi"), SubjectKeyPrefix("p1")))
	assert.False(t, strings.HasPrefix(EntryKey("p1:x", "priceApi"), SubjectKeyPrefix("p1")))
}
