package types

import "time"

// ManifestResponse is the body of GET /manifest. The field name is the
// compatibility contract with hot-reload clients.
type ManifestResponse struct {
	Mtimes map[string]int64 `json:"mtimes"`
}

// ScanRecord summarizes one manifest scan for the scan ledger
type ScanRecord struct {
	ID        string        `json:"id"`
	Root      string        `json:"root"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Files     int           `json:"files"`
	Pruned    int           `json:"pruned"`
	Skipped   int           `json:"skipped"`
	Error     string        `json:"error,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// MountInfo describes a mounted root as exposed by the API
type MountInfo struct {
	Name   string `json:"name"`
	Root   string `json:"root"`
	Prefix string `json:"prefix"`
	Rank   int    `json:"rank"`
	Exists bool   `json:"exists"`
}

// ResolveInfo reports which mount answers a logical path
type ResolveInfo struct {
	Path     string `json:"path"`
	Found    bool   `json:"found"`
	Mount    string `json:"mount,omitempty"`
	File     string `json:"file,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}
