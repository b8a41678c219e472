// Package checkpoint provides crash-safe, compressed snapshots of
// notes-store ref state around history-rewriting operations (prune, remove).
package checkpoint

// RefSnapshot captures the state of a perf-notes ref immediately before a
// history-rewriting operation: the ref's target hash and the set of commit
// hashes it currently attaches notes to. Its target is compared against the
// ref before a later rewrite of the same repository to detect that the ref
// moved since the snapshot.
type RefSnapshot struct {
	RefName      string   `json:"ref_name"`
	RefTarget    string   `json:"ref_target"`
	CommitHashes []string `json:"commit_hashes"`
}

// Metadata holds checkpoint metadata for validation and resume.
type Metadata struct {
	Version   int               `json:"version"`
	RepoPath  string            `json:"repo_path"`
	RepoHash  string            `json:"repo_hash"`
	CreatedAt string            `json:"created_at"`
	Operation string            `json:"operation"`
	Snapshot  RefSnapshot       `json:"snapshot"`
	Checksums map[string]string `json:"checksums"`
}
