package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hyperjump/indexd/internal/cli"
	"github.com/hyperjump/indexd/internal/models"
	"github.com/hyperjump/indexd/internal/storage"
	"github.com/spf13/cobra"
)

const clientTimeout = 30 * time.Second

// apiClient talks to a running indexd server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: clientTimeout},
	}
}

// do sends in as JSON (when non-nil) and decodes a 2xx response into out.
func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, errorMessage(resp.Body))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage extracts the "error" field of an error body, falling back to
// the raw text.
func errorMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 64<<10))
	var e models.ErrorResponse
	if err := json.Unmarshal(b, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(b))
}

func (c *apiClient) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	var resp models.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/index/search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Delete(ctx context.Context, req *models.DeleteRequest) error {
	return c.do(ctx, http.MethodPost, "/index/delete", req, nil)
}

func (c *apiClient) Status(ctx context.Context) (*models.StatusResponse, error) {
	var resp models.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func newSearchCmd() *cobra.Command {
	var (
		serverURL string
		namespace string
		k         int
		embedding []float32
		output    string
	)
	cmd := &cobra.Command{
		Use:   "search [flags] <query>",
		Short: "Search a namespace on a running server",
		Long: `Search a namespace on a running server.

The query is all remaining arguments joined by spaces. The server embeds it
unless --embedding supplies the query vector directly.

Examples:
  indexd search --namespace docs machine learning
  indexd search --namespace code -k 5 "retry with backoff"
  indexd search --namespace docs --embedding 0.1,0.2,0.3 anything`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			req := &models.SearchRequest{
				Query:     models.NewTextQuery(buildSearchQuery(args)),
				Namespace: namespace,
				Embedding: embedding,
			}
			if cmd.Flags().Changed("top-k") {
				req.K = &k
			}
			if err := req.Validate(); err != nil {
				return err
			}
			resp, err := newAPIClient(serverURL).Search(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL")
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "namespace to search (required)")
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "number of results (server default when unset)")
	cmd.Flags().Float32SliceVar(&embedding, "embedding", nil, "query vector as comma-separated floats")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	_ = cmd.MarkFlagRequired("namespace")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var (
		serverURL string
		namespace string
	)
	cmd := &cobra.Command{
		Use:   "delete <doc_id>",
		Short: "Delete every chunk of a document on a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &models.DeleteRequest{DocID: args[0], Namespace: namespace}
			if err := req.Validate(); err != nil {
				return err
			}
			if err := newAPIClient(serverURL).Delete(cmd.Context(), req); err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s from %s\n", req.DocID, req.Namespace)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL")
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "namespace of the document (required)")
	_ = cmd.MarkFlagRequired("namespace")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var (
		serverURL string
		snapshot  string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store status from a running server or a snapshot file",
		Long: `Show store status.

By default the running server is asked. With --snapshot the file is read
offline instead, which works while the server is down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			var status *models.StatusResponse
			if snapshot != "" {
				status, err = snapshotStatus(cmd.Context(), snapshot)
			} else {
				status, err = newAPIClient(serverURL).Status(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("status failed: %w", err)
			}
			return cli.WriteStatus(cmd.OutOrStdout(), status, format)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "read this snapshot file instead of asking the server")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

// snapshotStatus loads a snapshot into a fresh engine and reports on it.
func snapshotStatus(ctx context.Context, path string) (*models.StatusResponse, error) {
	eng, _, err := loadSnapshotEngine(ctx, path)
	if err != nil {
		return nil, err
	}
	st := eng.Stats()
	status := &models.StatusResponse{
		Version:      version,
		Chunks:       st.Chunks,
		Namespaces:   st.Namespaces,
		SnapshotPath: path,
	}
	if st.HasDims {
		dims := st.Dims
		status.Dims = &dims
	}
	if size, err := storage.DiskUsageBytes(path); err == nil {
		status.DiskUsageBytes = &size
	}
	return status, nil
}
