package domain

import "strings"

// ReservedPrefix marks storage-internal fields that never reach clients.
const ReservedPrefix = "__"

// Document is an indexed text item. Immutable once written to the store.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// IsReservedField reports whether a metadata key is storage-internal.
func IsReservedField(key string) bool {
	return strings.HasPrefix(key, ReservedPrefix)
}
