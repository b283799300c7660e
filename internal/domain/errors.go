package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a transport error reported by a feed source
type NetworkError struct {
	Op        string // "dial", "read", "write"
	Err       error
	Retriable bool
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// MalformedFeedError marks one instrument entry of a frame that cannot be applied.
// The rest of the frame is still processed.
type MalformedFeedError struct {
	Key   string
	Field string
	Err   error
}

func (e *MalformedFeedError) Error() string {
	return fmt.Sprintf("malformed feed [%s.%s]: %v", e.Key, e.Field, e.Err)
}

func (e *MalformedFeedError) IsRetriable() bool {
	return false
}

func (e *MalformedFeedError) Unwrap() error {
	return e.Err
}

var (
	// ErrConnectionFailed is returned when the feed connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrMissingField is wrapped by MalformedFeedError when a required field is absent.
	ErrMissingField = errors.New("missing field")

	// ErrInvalidValue is wrapped by MalformedFeedError when a field cannot be parsed.
	ErrInvalidValue = errors.New("invalid value")

	// ErrUnknownInstrument is returned by lookups for keys that were never seen
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
