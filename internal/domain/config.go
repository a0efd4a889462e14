package domain

// VectorConfig holds vectorization settings shared by the embedder and the vector store.
type VectorConfig struct {
	Model          string
	Dimensions     int
	DistanceMetric string
	Algorithm      string
}

// DefaultVectorConfig returns the default configuration tuned for all-MiniLM-L6-v2.
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		Model:          "all-MiniLM-L6-v2",
		Dimensions:     384,
		DistanceMetric: "cosine",
		Algorithm:      "hnsw",
	}
}
