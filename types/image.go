// Package types holds the plain data structures shared across transient's
// packages: image specs, disk/boot descriptors, and VM configuration.
package types

import "time"

// Protocol identifies an image retrieval protocol.
type Protocol string

const (
	ProtocolVagrant Protocol = "vagrant"
	ProtocolHTTP    Protocol = "http"
	ProtocolFile    Protocol = "file"
)

// ImageSpec is a parsed image reference "<name>[,<proto>=<source>][,<opt>=<val>...]".
// When no protocol is given, it defaults to vagrant with source == name.
type ImageSpec struct {
	Name     string
	Protocol Protocol
	Source   string
	// Options carries any additional "key=value" pairs found after the
	// protocol assignment (e.g. "format=raw" for the file protocol).
	Options map[string]string
}

// BackendImage describes a read-only disk file in the backend directory.
type BackendImage struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	ActualBytes  int64     `json:"actual_bytes"`
	VirtualBytes int64     `json:"virtual_bytes"`
	Format       string    `json:"format"`
	CreatedAt    time.Time `json:"created_at"`
}

// FrontendImage is a copy-on-write overlay bound to one BackendImage.
type FrontendImage struct {
	Path        string `json:"path"`
	DiskIndex   int    `json:"disk_index"`
	BackendName string `json:"backend_name"`
}
