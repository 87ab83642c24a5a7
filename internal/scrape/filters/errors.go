package filters

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrColumnNotFound    = errors.New("column not found")
	ErrNoMatch           = errors.New("no match")
	ErrFormat            = errors.New("invalid format")
	ErrNotInMap          = errors.New("not in map")
	ErrAttributeNotFound = errors.New("attribute not found")
)

// ParseError is returned by a filter that could not produce a value and has no default.
type ParseError struct {
	// Filter is the name of the failing filter.
	Filter string
	// Path is the selector, path or column the filter was reading.
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s(%s): %v", e.Filter, e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func fail(filter, path string, kind error, format string, args ...any) *ParseError {
	return &ParseError{
		Filter: filter,
		Path:   path,
		Err:    fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...)),
	}
}
