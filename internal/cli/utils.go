// Package cli formats indexd responses for the terminal.
package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/hyperjump/indexd/internal/models"
	"github.com/hyperjump/indexd/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is indented JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case OutputText, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteSearchResults writes search hits to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	writeSearchResultsText(w, response)
	return nil
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results\n\n", len(response.Results))
	for i, hit := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", i+1, hit.Score)
		fmt.Fprintf(w, "Doc: %s  Chunk: %s  Namespace: %s\n", hit.DocID, hit.ChunkID, hit.Namespace)
		if hit.Snippet != "" {
			fmt.Fprintf(w, "\n%s\n", Truncate(hit.Snippet, 200))
		}
		if len(hit.Rationale) > 0 {
			fmt.Fprintf(w, "Why: %s\n", strings.Join(hit.Rationale, "; "))
		}
		fmt.Fprintln(w)
	}
}

// PrintSearchResults prints search results to stdout as text.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// WriteStatus writes a status report to w in the given format.
func WriteStatus(w io.Writer, status *models.StatusResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, status)
	}
	if status.Version != "" {
		fmt.Fprintf(w, "version:            %s\n", status.Version)
	}
	if status.UptimeSeconds > 0 {
		fmt.Fprintf(w, "uptime_seconds:     %d\n", status.UptimeSeconds)
	}
	fmt.Fprintf(w, "chunks:             %d   # count of stored chunks\n", status.Chunks)
	if status.Dims != nil {
		fmt.Fprintf(w, "dims:               %d\n", *status.Dims)
	} else {
		fmt.Fprintf(w, "dims:               unset\n")
	}
	if status.SnapshotPath != "" {
		fmt.Fprintf(w, "snapshot_path:      %s\n", status.SnapshotPath)
	}
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # snapshot + embedding cache on disk\n", *status.DiskUsageBytes)
	}
	if status.Embedder != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# embedder")
		fmt.Fprintf(w, "provider:           %s\n", status.Embedder.Provider)
		fmt.Fprintf(w, "dim:                %d\n", status.Embedder.Dim)
		if status.Embedder.Version != "" {
			fmt.Fprintf(w, "model_version:      %s\n", status.Embedder.Version)
		}
	}
	if len(status.Namespaces) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# namespaces")
		names := make([]string, 0, len(status.Namespaces))
		for ns := range status.Namespaces {
			names = append(names, ns)
		}
		sort.Strings(names)
		for _, ns := range names {
			fmt.Fprintf(w, "%-20s%d\n", ns+":", status.Namespaces[ns])
		}
	}
	return nil
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Truncate truncates s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	return utils.Truncate(s, maxLen)
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
