package models

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// Namespace is a logical namespace accepted by /embed/text.
type Namespace string

const (
	NamespaceChronik  Namespace = "chronik"
	NamespaceOsctx    Namespace = "osctx"
	NamespaceDocs     Namespace = "docs"
	NamespaceCode     Namespace = "code"
	NamespaceInsights Namespace = "insights"
)

var namespaces = []Namespace{NamespaceChronik, NamespaceOsctx, NamespaceDocs, NamespaceCode, NamespaceInsights}

// ParseNamespace validates s.
func ParseNamespace(s string) (Namespace, error) {
	for _, ns := range namespaces {
		if string(ns) == s {
			return ns, nil
		}
	}
	names := make([]string, len(namespaces))
	for i, ns := range namespaces {
		names[i] = string(ns)
	}
	return "", &FieldError{
		Field:   "namespace",
		Message: fmt.Sprintf("unknown variant `%s`, expected one of %s", s, strings.Join(names, ", ")),
	}
}

// UnmarshalJSON rejects unknown namespaces.
func (n *Namespace) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	ns, err := ParseNamespace(s)
	if err != nil {
		return err
	}
	*n = ns
	return nil
}

// EmbedTextRequest asks for the embedding of one text.
type EmbedTextRequest struct {
	Text      string    `json:"text"`
	Namespace Namespace `json:"namespace"`
	SourceRef string    `json:"source_ref"`
}

// Validate checks required fields.
func (r *EmbedTextRequest) Validate() error {
	if r.Namespace == "" {
		return missingField("namespace")
	}
	return nil
}

// EmbedTextResponse is a versioned embedding with provenance.
type EmbedTextResponse struct {
	EmbeddingID          string    `json:"embedding_id"`
	Text                 string    `json:"text"`
	Embedding            []float32 `json:"embedding"`
	EmbeddingModel       string    `json:"embedding_model"`
	EmbeddingDim         int       `json:"embedding_dim"`
	ModelRevision        string    `json:"model_revision"`
	GeneratedAt          string    `json:"generated_at"`
	Namespace            Namespace `json:"namespace"`
	SourceRef            string    `json:"source_ref"`
	Producer             string    `json:"producer"`
	DeterminismTolerance float64   `json:"determinism_tolerance"`
}
