package models

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
)

// SearchRequest asks for the k nearest chunks in a namespace.
//
// The query vector comes from, in order: query.meta.embedding, embedding,
// meta.embedding (deprecated), or the configured embedder.
type SearchRequest struct {
	Query     QueryPayload `json:"query"`
	K         *int         `json:"k,omitempty"`
	Namespace string       `json:"namespace"`
	Filters   any          `json:"filters,omitempty"`
	Embedding []float32    `json:"embedding,omitempty"`
	Meta      any          `json:"meta,omitempty"`
}

// Validate checks required fields. K is checked by the handler because its
// default comes from configuration.
func (r *SearchRequest) Validate() error {
	if !r.Query.set {
		return missingField("query")
	}
	if r.Namespace == "" {
		return missingField("namespace")
	}
	if r.K != nil && *r.K < 0 {
		return &FieldError{Field: "k", Message: fmt.Sprintf("invalid value: %d, expected a non-negative integer", *r.K)}
	}
	return nil
}

// QueryPayload is either a bare string or an object {text, meta}.
type QueryPayload struct {
	Text string
	// Meta is nil for the bare-string form and defaults to an empty object
	// for the object form.
	Meta any
	set  bool
}

// NewTextQuery returns the bare-string form.
func NewTextQuery(text string) QueryPayload {
	return QueryPayload{Text: text, set: true}
}

// NewMetaQuery returns the object form.
func NewMetaQuery(text string, meta any) QueryPayload {
	if meta == nil {
		meta = map[string]any{}
	}
	return QueryPayload{Text: text, Meta: meta, set: true}
}

// UnmarshalJSON accepts a string or an object with a required text field.
func (q *QueryPayload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return &FieldError{Field: "query", Message: "empty value"}
	}
	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*q = NewTextQuery(text)
		return nil
	case '{':
		var obj struct {
			Text *string `json:"text"`
			Meta any     `json:"meta"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return err
		}
		if obj.Text == nil {
			return &FieldError{Field: "query", Message: "missing field `text`"}
		}
		*q = NewMetaQuery(*obj.Text, obj.Meta)
		return nil
	default:
		return &FieldError{Field: "query", Message: "data did not match any variant of untagged enum QueryPayload"}
	}
}

// MarshalJSON writes the form the payload was decoded from.
func (q QueryPayload) MarshalJSON() ([]byte, error) {
	if q.Meta == nil {
		return json.Marshal(q.Text)
	}
	return json.Marshal(struct {
		Text string `json:"text"`
		Meta any    `json:"meta"`
	}{q.Text, q.Meta})
}

// SearchResponse lists hits by descending score.
type SearchResponse struct {
	Results []SearchHit `json:"results"`
}

// SearchHit is one matching chunk.
type SearchHit struct {
	DocID     string   `json:"doc_id"`
	Namespace string   `json:"namespace"`
	ChunkID   string   `json:"chunk_id"`
	Score     float32  `json:"score"`
	Snippet   string   `json:"snippet"`
	Rationale []string `json:"rationale"`
}
