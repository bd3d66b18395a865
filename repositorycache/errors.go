package repositorycache

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedQuery marks a query the backend cannot execute.
	ErrUnsupportedQuery = errors.New("repositorycache: query requires non-primary-key search which the repository does not support")

	// ErrServiceClosed is returned by operations on a service after Shutdown.
	ErrServiceClosed = errors.New("repositorycache: service is shut down")
)

// UnsupportedQueryError is returned when a query is rejected before dispatch.
// It matches ErrUnsupportedQuery with errors.Is.
type UnsupportedQueryError struct {
	Op    string
	Query any
}

func (e *UnsupportedQueryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, ErrUnsupportedQuery)
}

func (e *UnsupportedQueryError) Unwrap() error {
	return ErrUnsupportedQuery
}

// RepositoryIOError wraps a persistence or translation failure.
// Cache and dirty state are unchanged when one is returned.
type RepositoryIOError struct {
	Op  string
	Key any
	Err error
}

func (e *RepositoryIOError) Error() string {
	if e.Key == nil {
		return fmt.Sprintf("repositorycache: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("repositorycache: %s %v: %v", e.Op, e.Key, e.Err)
}

func (e *RepositoryIOError) Unwrap() error {
	return e.Err
}

func ioError(op string, key any, err error) error {
	if err == nil {
		return nil
	}
	var ioErr *RepositoryIOError
	if errors.As(err, &ioErr) {
		return err
	}
	return &RepositoryIOError{Op: op, Key: key, Err: err}
}

// IsUnsupportedQuery reports whether err was produced by the query gate.
func IsUnsupportedQuery(err error) bool {
	return errors.Is(err, ErrUnsupportedQuery)
}
