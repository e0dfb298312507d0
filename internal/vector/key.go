// Package vector holds the namespaced in-memory chunk store and its exact top-k search.
package vector

import "strings"

// KeySeparator joins a document ID and a chunk ID into one chunk key.
// It is U+241F SYMBOL FOR UNIT SEPARATOR, which ordinary identifiers do not contain.
const KeySeparator = "␟"

// MakeKey returns the chunk key for docID and chunkID.
func MakeKey(docID, chunkID string) string {
	return docID + KeySeparator + chunkID
}

// SplitKey splits key at the first separator. A key without a separator
// yields (key, "").
//
// IDs are not escaped; a docID containing KeySeparator splits incorrectly.
func SplitKey(key string) (docID, chunkID string) {
	docID, chunkID, found := strings.Cut(key, KeySeparator)
	if !found {
		return key, ""
	}
	return docID, chunkID
}

// docPrefix is the key prefix shared by every chunk of docID.
func docPrefix(docID string) string {
	return docID + KeySeparator
}
