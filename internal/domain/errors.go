package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput signals a caller-supplied query that failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrModelUnavailable signals that the embedding model could not be initialized.
	ErrModelUnavailable = errors.New("embedding model unavailable")
	// ErrEmbeddingFailure signals an inference failure for a single input.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrStoreUnavailable signals a vector store that cannot be reached (retryable).
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrStoreQuery signals a malformed request rejected by the vector store (not retryable).
	ErrStoreQuery = errors.New("vector store query error")
	// ErrTimeout signals that a stage exceeded its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
)

// Kind is a stable machine-readable error classification used by transports and metrics.
type Kind string

// Error kinds, one per sentinel.
const (
	KindInvalidInput     Kind = "invalid_input"
	KindModelUnavailable Kind = "model_unavailable"
	KindEmbeddingFailure Kind = "embedding_failure"
	KindStoreUnavailable Kind = "store_unavailable"
	KindStoreQuery       Kind = "store_query_error"
	KindTimeout          Kind = "timeout"
	KindInternal         Kind = "internal_error"
)

// kindOrder is checked in sequence; Timeout goes first so that a store failure caused
// by an expired deadline is reported as slow rather than broken.
var kindOrder = []struct {
	sentinel error
	kind     Kind
}{
	{ErrTimeout, KindTimeout},
	{ErrInvalidInput, KindInvalidInput},
	{ErrModelUnavailable, KindModelUnavailable},
	{ErrEmbeddingFailure, KindEmbeddingFailure},
	{ErrStoreUnavailable, KindStoreUnavailable},
	{ErrStoreQuery, KindStoreQuery},
}

// KindOf classifies err. nil yields the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindInternal
}

// Sentinel returns the sentinel error that defines err's kind, or nil for internal errors.
func Sentinel(err error) error {
	for _, k := range kindOrder {
		if errors.Is(err, k.sentinel) {
			return k.sentinel
		}
	}
	return nil
}

// Invalidf builds an ErrInvalidInput with a formatted detail.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// DeadlineError tags err as ErrTimeout when ctx has expired, otherwise returns err as is.
func DeadlineError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
