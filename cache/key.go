package cache

import "strings"

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// EntryKey builds the flat key identifying (subjectID, source) for stores that
// address entries by a single string. Separator characters inside either part
// are escaped so distinct pairs never collide.
func EntryKey(subjectID, source string) string {
	return escapeKeyPart(subjectID) + KeySeparator + escapeKeyPart(source)
}

// SubjectKeyPrefix returns the prefix shared by every EntryKey of subjectID.
func SubjectKeyPrefix(subjectID string) string {
	return escapeKeyPart(subjectID) + KeySeparator
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, ":", `\:`)

func escapeKeyPart(s string) string {
	return keyEscaper.Replace(s)
}
