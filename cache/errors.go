package cache

import (
	"errors"
	"fmt"
)

// ErrEmptyFilter is returned by stores asked to delete with a Filter that
// would match every entry.
var ErrEmptyFilter = errors.New("cache: delete filter must not be empty")

// ErrorKind tags where in the read-through cycle a failure happened.
type ErrorKind int

const (
	// KindStoreRead means the record store lookup failed. No fetch was attempted.
	KindStoreRead ErrorKind = iota + 1
	// KindFetch means the caller supplied fetch failed. The store was not touched.
	KindFetch
	// KindStoreWrite means the fetch succeeded but persisting its result failed.
	KindStoreWrite
)

func (k ErrorKind) String() string {
	switch k {
	case KindStoreRead:
		return "store read"
	case KindFetch:
		return "fetch"
	case KindStoreWrite:
		return "store write"
	default:
		return "unknown"
	}
}

// Error carries the underlying failure unchanged in Err, tagged with the phase
// it came from. errors.Is and errors.As see through it to the cause.
type Error struct {
	Kind      ErrorKind
	Op        string
	SubjectID string
	Source    string
	Err       error
}

func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("cache %s %s(%s, %s): %v", e.Kind, e.Op, e.SubjectID, e.Source, e.Err)
	}
	if e.SubjectID != "" {
		return fmt.Sprintf("cache %s %s(%s): %v", e.Kind, e.Op, e.SubjectID, e.Err)
	}
	return fmt.Sprintf("cache %s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err, or 0 if err is not a cache Error.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

// IsStoreRead reports whether err is a failed record store lookup.
func IsStoreRead(err error) bool { return KindOf(err) == KindStoreRead }

// IsFetch reports whether err came from the fetch function.
func IsFetch(err error) bool { return KindOf(err) == KindFetch }

// IsStoreWrite reports whether err is a failed insert, update or delete.
func IsStoreWrite(err error) bool { return KindOf(err) == KindStoreWrite }
