// Package source implements the Source adapter contract (spec.md §4.1): a
// uniform capability set — discover storage locations, list session
// artifacts, count them, and copy them into the vault tree — over the
// open set of concrete tool-specific adapters.
package source

// SessionMetadata is the best-effort metadata an adapter can recover for
// one session without fully parsing its artifact (spec.md §4.1
// "list_session_files").
type SessionMetadata struct {
	ID            string
	Source        string
	Title         string
	WorkspaceName string
	CreatedAt     string // ISO-8601, empty if unknown
	VaultPath     string // not set by the adapters; CopyToVault returns the destination path
	OriginalPath  string
	FileSize      int64
	Mtime         int64 // seconds since epoch, derived from the source artifact
}

// SessionFile pairs a source artifact path with its recovered metadata.
type SessionFile struct {
	SourcePath string
	Metadata   SessionMetadata
}

// Adapter is the contract a tool-specific source implements (spec.md §4.1).
//
// The ingest coordinator holds a dynamic list of Adapters and treats them
// uniformly through this interface; the set of concrete variants is open.
type Adapter interface {
	// SourceName returns the stable tag identifying this adapter's tool.
	SourceName() string

	// FindStorageLocations enumerates roots on the current host where this
	// tool may have written sessions. Idempotent, side-effect free, and
	// tolerant of missing paths.
	FindStorageLocations() ([]string, error)

	// ListSessionFiles lists artifacts under one root returned by
	// FindStorageLocations. Per-artifact read errors are silently dropped,
	// never fail the call as a whole.
	ListSessionFiles(location string) ([]SessionFile, error)

	// CountSessions must agree with len(ListSessionFiles(location)) for
	// non-error cases.
	CountSessions(location string) (int, error)

	// CopyToVault copies the artifact(s) for one session into
	// "<vaultDir>/sessions/<source>/…". It returns ok=false when the
	// destination already exists and is byte-for-byte at least as recent
	// as the source (same size AND destination mtime >= source mtime).
	CopyToVault(sf SessionFile, vaultDir string) (destPath string, ok bool, err error)
}

// Registry is the open, ordered set of adapters the ingest coordinator
// iterates over.
type Registry struct {
	adapters []Adapter
}

// NewRegistry builds a registry over the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// DefaultRegistry returns the registry populated with every built-in
// concrete adapter spec.md §4.1's "edge cases and policies" names a shape
// for: flat-JSON, line-oriented JSONL, SQLite-backed, multi-file,
// binary-protobuf, and nested-project sources.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewClaudeCodeAdapter(),
		NewCodexAdapter(),
		NewVSCodeCopilotAdapter(),
		NewClineAdapter(),
		NewAntigravityAdapter(),
		NewJetBrainsAdapter(),
	)
}

// Adapters returns the registered adapters in registration order.
func (r *Registry) Adapters() []Adapter {
	return r.adapters
}
