package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/hyperjump/indexd/internal/cli"
	"github.com/hyperjump/indexd/internal/engine"
	"github.com/hyperjump/indexd/internal/storage"
	"github.com/hyperjump/indexd/internal/vector"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// loadSnapshotEngine reads a snapshot into a fresh engine. A missing file is
// an error.
func loadSnapshotEngine(ctx context.Context, path string) (*engine.Engine, storage.LoadStats, error) {
	eng := engine.New(nil)
	stats, err := eng.ImportFile(ctx, path)
	if err != nil {
		return nil, stats, err
	}
	return eng, stats, nil
}

// namespaceSummary counts the chunks and distinct documents in a namespace.
type namespaceSummary struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Documents int    `json:"documents" yaml:"documents"`
	Chunks    int    `json:"chunks" yaml:"chunks"`
}

// snapshotReport is the result of inspecting a snapshot file.
type snapshotReport struct {
	Path       string             `json:"path" yaml:"path"`
	Records    int                `json:"records" yaml:"records"`
	Loaded     int                `json:"loaded" yaml:"loaded"`
	Skipped    int                `json:"skipped" yaml:"skipped"`
	Dims       *int               `json:"dims" yaml:"dims"`
	Namespaces []namespaceSummary `json:"namespaces" yaml:"namespaces"`
}

func inspectSnapshot(path string) (*snapshotReport, error) {
	records, err := storage.ReadSnapshotFile(path)
	if err != nil {
		return nil, err
	}
	store := vector.NewStore()
	stats := storage.ApplyRecords(store, records, nil)

	report := &snapshotReport{
		Path:       path,
		Records:    len(records),
		Loaded:     stats.Loaded,
		Skipped:    stats.Skipped,
		Namespaces: []namespaceSummary{},
	}
	if dims, ok := store.Dims(); ok {
		report.Dims = &dims
	}

	docs := make(map[string]map[string]struct{})
	store.Range(func(namespace, docID, _ string, _ vector.Chunk) bool {
		if docs[namespace] == nil {
			docs[namespace] = make(map[string]struct{})
		}
		docs[namespace][docID] = struct{}{}
		return true
	})
	for _, ns := range store.Namespaces() {
		report.Namespaces = append(report.Namespaces, namespaceSummary{
			Namespace: ns,
			Documents: len(docs[ns]),
			Chunks:    store.NamespaceLen(ns),
		})
	}
	sort.Slice(report.Namespaces, func(i, j int) bool {
		return report.Namespaces[i].Namespace < report.Namespaces[j].Namespace
	})
	return report, nil
}

func writeReportText(w io.Writer, r *snapshotReport) {
	fmt.Fprintf(w, "path:      %s\n", r.Path)
	fmt.Fprintf(w, "records:   %d\n", r.Records)
	fmt.Fprintf(w, "loaded:    %d\n", r.Loaded)
	fmt.Fprintf(w, "skipped:   %d\n", r.Skipped)
	if r.Dims != nil {
		fmt.Fprintf(w, "dims:      %d\n", *r.Dims)
	} else {
		fmt.Fprintf(w, "dims:      unset\n")
	}
	if len(r.Namespaces) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-20s %10s %10s\n", "NAMESPACE", "DOCUMENTS", "CHUNKS")
	for _, ns := range r.Namespaces {
		fmt.Fprintf(w, "%-20s %10d %10d\n", ns.Namespace, ns.Documents, ns.Chunks)
	}
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func newInspectCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "inspect <snapshot>",
		Short: "Summarize a snapshot file without starting a server",
		Long: `Summarize a snapshot file without starting a server.

Records whose vector width disagrees with the first loaded record are
counted as skipped, exactly as a server load would skip them. Plain and
zstd-compressed (.zst) snapshots are accepted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := inspectSnapshot(args[0])
			if err != nil {
				return fmt.Errorf("inspect failed: %w", err)
			}
			switch output {
			case "yaml":
				return writeYAML(cmd.OutOrStdout(), report)
			default:
				format, err := cli.ParseOutputFormat(output)
				if err != nil {
					return err
				}
				if format == cli.OutputJSON {
					return cli.WriteJSON(cmd.OutOrStdout(), report)
				}
				writeReportText(cmd.OutOrStdout(), report)
				return nil
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}
