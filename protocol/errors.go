package protocol

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// Error kinds. Every typed error below matches one of these via errors.Is;
// a ValidationError matches each kind among its violations.
var (
	ErrFormat   = errors.New("malformed input")
	ErrRange    = errors.New("value out of range")
	ErrProtocol = errors.New("unexpected device response")
	ErrIO       = errors.New("transport failure")
	ErrTimeout  = errors.New("operation timed out")
	ErrStopped  = errors.New("link stopped")
)

// FormatError reports hex or address input that does not have the required shape.
type FormatError struct {
	Field string
	Value string
	Want  string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid %s %q: expected %s", e.Field, e.Value, e.Want)
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// RangeError reports a value outside its domain bounds.
type RangeError struct {
	Field string
	Value int
	Min   int
	Max   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %d out of range [%d, %d]", e.Field, e.Value, e.Min, e.Max)
}

func (e *RangeError) Is(target error) bool { return target == ErrRange }

// ProtocolError reports a short or garbled response from the radio module.
type ProtocolError struct {
	Field  string // response field that failed, empty for whole-response failures
	Line   string
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Field == "" {
		return "protocol error: " + e.Detail
	}
	return fmt.Sprintf("protocol error in %s field %q: %s", e.Field, e.Line, e.Detail)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// IOError wraps a failure to open, read or write the transport.
type IOError struct {
	Op   string
	Port string
	Err  error
}

func (e *IOError) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Port, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

// TimeoutError reports a bounded wait that expired. It is retryable.
type TimeoutError struct {
	Op    string
	After time.Duration
	Got   int // bytes received before the deadline
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v (%d bytes received)", e.Op, e.After, e.Got)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Temporary reports that the operation may succeed if retried.
func (e *TimeoutError) Temporary() bool { return true }

// ValidationError carries every violation found by a validation pass.
type ValidationError struct {
	Violations map[string][]string

	kinds []error
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Violations))
	for f := range e.Violations {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(e.Violations[f], "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Is matches ErrRange or ErrFormat when at least one violation is of that
// kind, so callers can treat it like the single-value errors.
func (e *ValidationError) Is(target error) bool {
	return slices.Contains(e.kinds, target)
}
