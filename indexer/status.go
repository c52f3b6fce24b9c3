package indexer

import "time"

// RootStatus is the observable state of one workspace root.
type RootStatus struct {
	Root           string     `json:"root"`
	Name           string     `json:"name"`
	GitBranch      string     `json:"gitBranch,omitempty"`
	BaseBranch     string     `json:"baseBranch,omitempty"`
	ProjectID      string     `json:"projectId,omitempty"`
	RepositoryURL  string     `json:"repositoryUrl,omitempty"`
	IsIndexing     bool       `json:"isIndexing"`
	HasWatcher     bool       `json:"hasWatcher"`
	HasManifest    bool       `json:"hasManifest"`
	ManifestFiles  int        `json:"manifestFiles"`
	ManifestBranch string     `json:"manifestBranch,omitempty"`
	FilesUploaded  int64      `json:"filesUploaded"`
	FilesSkipped   int64      `json:"filesSkipped"`
	LastError      string     `json:"lastError,omitempty"`
	LastErrorKind  string     `json:"lastErrorKind,omitempty"`
	LastErrorAt    *time.Time `json:"lastErrorAt,omitempty"`
}

// Snapshot is a point-in-time view of the orchestrator, serializable for the
// status file and the MCP tool. Observability only, never used for control.
type Snapshot struct {
	Active          bool         `json:"active"`
	OrganizationID  string       `json:"organizationId,omitempty"`
	IndexingEnabled bool         `json:"indexingEnabled"`
	StartedAt       time.Time    `json:"startedAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	Roots           []RootStatus `json:"roots"`
}
