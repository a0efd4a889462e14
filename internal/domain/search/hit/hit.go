// Package hit defines a single scored match returned by a vector store.
package hit

// Hit is one stored item matched by a search. Vectors are never carried.
type Hit struct {
	ID       string
	Score    float64
	Content  string
	Metadata map[string]string
}

// Source returns the "source" metadata value, empty when absent.
func (h Hit) Source() string {
	return h.Metadata["source"]
}
