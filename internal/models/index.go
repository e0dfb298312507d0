package models

// UpsertRequest replaces every chunk of a document.
type UpsertRequest struct {
	DocID     string         `json:"doc_id"`
	Namespace string         `json:"namespace"`
	Chunks    []ChunkPayload `json:"chunks"`
}

// ChunkPayload is one chunk of an upsert. Meta must be an object holding an
// "embedding" array; it may also hold a "snippet" string returned by search.
type ChunkPayload struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Meta any    `json:"meta,omitempty"`
}

// Validate checks required fields.
func (r *UpsertRequest) Validate() error {
	switch {
	case r.DocID == "":
		return missingField("doc_id")
	case r.Namespace == "":
		return missingField("namespace")
	case r.Chunks == nil:
		return missingField("chunks")
	}
	for i := range r.Chunks {
		if r.Chunks[i].ID == "" {
			return &FieldError{Field: "chunks", Message: "missing field `id`"}
		}
	}
	return nil
}

// DeleteRequest removes every chunk of a document.
type DeleteRequest struct {
	DocID     string `json:"doc_id"`
	Namespace string `json:"namespace"`
}

// Validate checks required fields.
func (r *DeleteRequest) Validate() error {
	if r.DocID == "" {
		return missingField("doc_id")
	}
	if r.Namespace == "" {
		return missingField("namespace")
	}
	return nil
}
