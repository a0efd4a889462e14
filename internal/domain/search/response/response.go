// Package response shapes ranked hits into the client-facing payload.
package response

import (
	"strings"

	"github.com/kailas-cloud/semsearch/internal/domain"
	"github.com/kailas-cloud/semsearch/internal/domain/search/hit"
)

// Record field names that metadata can never override.
const (
	FieldID      = "id"
	FieldScore   = "score"
	FieldContent = "content"
)

// DefaultContextSeparator joins hit contents into the combined context.
const DefaultContextSeparator = "\n\n---\n\n"

// DefaultSourceKey is the metadata key collected into Sources.
const DefaultSourceKey = "source"

// Config selects which fields reach the client.
type Config struct {
	// MetadataFields lists the metadata keys copied into each record; empty means all.
	MetadataFields []string
	IncludeContent bool
	// IncludeContext adds the joined context and the unique sources.
	IncludeContext   bool
	ContextSeparator string
	SourceKey        string
}

// Record is one flattened result: id, score, optional content and selected metadata.
type Record map[string]any

// ID returns the record identifier.
func (r Record) ID() string {
	id, _ := r[FieldID].(string)
	return id
}

// Score returns the record score.
func (r Record) Score() float64 {
	s, _ := r[FieldScore].(float64)
	return s
}

// Payload is the formatted response of one query.
type Payload struct {
	Results []Record `json:"results"`
	Context string   `json:"context,omitempty"`
	Sources []string `json:"sources,omitempty"`
}

// Formatter converts ranked hits to a Payload. Pure and safe for concurrent use.
type Formatter struct {
	fields    []string
	content   bool
	context   bool
	separator string
	sourceKey string
}

// NewFormatter creates a formatter from cfg, applying defaults for empty settings.
func NewFormatter(cfg Config) *Formatter {
	f := &Formatter{
		content:   cfg.IncludeContent,
		context:   cfg.IncludeContext,
		separator: cfg.ContextSeparator,
		sourceKey: cfg.SourceKey,
	}
	if f.separator == "" {
		f.separator = DefaultContextSeparator
	}
	if f.sourceKey == "" {
		f.sourceKey = DefaultSourceKey
	}
	for _, k := range cfg.MetadataFields {
		if k != "" && !isProtected(k) {
			f.fields = append(f.fields, k)
		}
	}
	return f
}

func isProtected(key string) bool {
	return key == FieldID || key == FieldScore || key == FieldContent || domain.IsReservedField(key)
}

// Format builds the payload preserving the order of ranked. Results is never nil.
func (f *Formatter) Format(ranked []hit.Hit) Payload {
	p := Payload{Results: make([]Record, 0, len(ranked))}
	for _, h := range ranked {
		p.Results = append(p.Results, f.record(h))
	}
	if f.context {
		p.Context, p.Sources = f.contextOf(ranked)
	}
	return p
}

func (f *Formatter) record(h hit.Hit) Record {
	rec := Record{FieldID: h.ID, FieldScore: h.Score}
	if f.content {
		rec[FieldContent] = h.Content
	}
	if len(f.fields) == 0 {
		for k, v := range h.Metadata {
			if !isProtected(k) {
				rec[k] = v
			}
		}
		return rec
	}
	for _, k := range f.fields {
		if v, ok := h.Metadata[k]; ok {
			rec[k] = v
		}
	}
	return rec
}

func (f *Formatter) contextOf(ranked []hit.Hit) (string, []string) {
	parts := make([]string, 0, len(ranked))
	sources := make([]string, 0, len(ranked))
	seen := make(map[string]struct{}, len(ranked))
	for _, h := range ranked {
		parts = append(parts, h.Content)
		src := h.Metadata[f.sourceKey]
		if src == "" {
			continue
		}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		sources = append(sources, src)
	}
	return strings.Join(parts, f.separator), sources
}
