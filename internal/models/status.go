package models

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Version        string         `json:"version"`
	UptimeSeconds  int64          `json:"uptime_seconds"`
	Chunks         int            `json:"chunks"`
	Dims           *int           `json:"dims"`
	Namespaces     map[string]int `json:"namespaces"`
	Embedder       *EmbedderInfo  `json:"embedder,omitempty"`
	SnapshotPath   string         `json:"snapshot_path,omitempty"`
	DiskUsageBytes *int64         `json:"disk_usage_bytes,omitempty"`
}

// EmbedderInfo describes the configured embedding provider.
type EmbedderInfo struct {
	Provider string `json:"provider"`
	Dim      int    `json:"dim"`
	Version  string `json:"version,omitempty"`
}
