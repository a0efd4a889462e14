package semsearch

import "github.com/kailas-cloud/semsearch/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrInvalidInput      = domain.ErrInvalidInput
	ErrModelUnavailable  = domain.ErrModelUnavailable
	ErrEmbeddingFailure  = domain.ErrEmbeddingFailure
	ErrStoreUnavailable  = domain.ErrStoreUnavailable
	ErrStoreQuery        = domain.ErrStoreQuery
	ErrTimeout           = domain.ErrTimeout
	ErrVectorDimMismatch = domain.ErrVectorDimMismatch
)

// ErrorKind returns the stable error code of err ("invalid_input", "timeout", ...).
func ErrorKind(err error) string {
	return string(domain.KindOf(err))
}
