package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gitperf/gitperf/pkg/units"
)

// MetadataVersion is the current checkpoint metadata format version.
const MetadataVersion = 1

// Sentinel errors for checkpoint validation.
var (
	ErrRepoPathMismatch  = errors.New("repo path mismatch")
	ErrOperationMismatch = errors.New("operation mismatch")
)

// snapshotStateName is the base filename (before codec extension) the ref
// snapshot is stored under within a checkpoint directory.
const snapshotStateName = "snapshot"

// DefaultDir returns the default checkpoint directory (~/.gitperf/checkpoints).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return filepath.Join(home, ".gitperf", "checkpoints")
}

// RepoHash computes a short hash of the repository path for use as directory name.
func RepoHash(repoPath string) string {
	h := sha256.Sum256([]byte(repoPath))

	return hex.EncodeToString(h[:8]) // First 8 bytes = 16 hex chars.
}

// Default retention values.
const (
	DefaultMaxAge  = 7 * 24 * time.Hour // 7 days.
	DefaultMaxSize = 1 * units.GiB
)

// Directory permissions for checkpoints.
const dirPerm = 0o750

// Manager coordinates crash-safe checkpoints around a single history-rewrite
// operation (prune or remove) against one repository's perf-notes ref.
type Manager struct {
	BaseDir  string
	RepoHash string
	MaxAge   time.Duration
	MaxSize  int64
}

// NewManager creates a new checkpoint manager.
func NewManager(baseDir, repoHash string) *Manager {
	return &Manager{
		BaseDir:  baseDir,
		RepoHash: repoHash,
		MaxAge:   DefaultMaxAge,
		MaxSize:  DefaultMaxSize,
	}
}

// CheckpointDir returns the directory for this repository's checkpoint.
func (m *Manager) CheckpointDir() string {
	return filepath.Join(m.BaseDir, m.RepoHash)
}

// MetadataPath returns the path to the metadata file.
func (m *Manager) MetadataPath() string {
	return filepath.Join(m.CheckpointDir(), "checkpoint.json")
}

// Exists returns true if a valid checkpoint exists.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.MetadataPath())

	return err == nil
}

// Clear removes the checkpoint for the current repository.
func (m *Manager) Clear() error {
	cpDir := m.CheckpointDir()

	_, statErr := os.Stat(cpDir)
	if os.IsNotExist(statErr) {
		return nil
	}

	err := os.RemoveAll(cpDir)
	if err != nil {
		return fmt.Errorf("remove checkpoint dir: %w", err)
	}

	return nil
}

// Save creates a checkpoint: an LZ4-compressed ref snapshot plus metadata,
// together with any registered Checkpointable's own component state.
func (m *Manager) Save(
	checkpointables []Checkpointable,
	snapshot RefSnapshot,
	repoPath string,
	operation string,
) error {
	cpDir := m.CheckpointDir()

	err := os.MkdirAll(cpDir, dirPerm)
	if err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	// Save each registered component's own state.
	for i, cp := range checkpointables {
		componentDir := filepath.Join(cpDir, fmt.Sprintf("component_%d", i))

		mkdirErr := os.MkdirAll(componentDir, dirPerm)
		if mkdirErr != nil {
			return fmt.Errorf("create component dir: %w", mkdirErr)
		}

		saveErr := cp.SaveCheckpoint(componentDir)
		if saveErr != nil {
			return fmt.Errorf("save checkpoint for component %d: %w", i, saveErr)
		}
	}

	snapshotErr := SaveState(cpDir, snapshotStateName, NewLZ4Codec(NewJSONCodec()), snapshot)
	if snapshotErr != nil {
		return fmt.Errorf("save ref snapshot: %w", snapshotErr)
	}

	// Create metadata.
	meta := Metadata{
		Version:   MetadataVersion,
		RepoPath:  repoPath,
		RepoHash:  m.RepoHash,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Operation: operation,
		Checksums: make(map[string]string),
	}

	// Write metadata.
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	writeErr := os.WriteFile(m.MetadataPath(), metaData, 0o600)
	if writeErr != nil {
		return fmt.Errorf("write metadata: %w", writeErr)
	}

	return nil
}

// LoadMetadata loads the checkpoint metadata.
func (m *Manager) LoadMetadata() (*Metadata, error) {
	data, err := os.ReadFile(m.MetadataPath())
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var meta Metadata

	unmarshalErr := json.Unmarshal(data, &meta)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", unmarshalErr)
	}

	return &meta, nil
}

// Load restores the ref snapshot and any registered components' state.
func (m *Manager) Load(checkpointables []Checkpointable) (*RefSnapshot, error) {
	_, err := m.LoadMetadata()
	if err != nil {
		return nil, err
	}

	cpDir := m.CheckpointDir()

	// Load each registered component's own state.
	for i, cp := range checkpointables {
		componentDir := filepath.Join(cpDir, fmt.Sprintf("component_%d", i))

		loadErr := cp.LoadCheckpoint(componentDir)
		if loadErr != nil {
			return nil, fmt.Errorf("load checkpoint for component %d: %w", i, loadErr)
		}
	}

	var snapshot RefSnapshot

	snapshotErr := LoadState(cpDir, snapshotStateName, NewLZ4Codec(NewJSONCodec()), &snapshot)
	if snapshotErr != nil {
		return nil, fmt.Errorf("load ref snapshot: %w", snapshotErr)
	}

	return &snapshot, nil
}

// Validate checks if the checkpoint is valid for the given parameters.
func (m *Manager) Validate(repoPath, operation string) error {
	meta, err := m.LoadMetadata()
	if err != nil {
		return err
	}

	if meta.RepoPath != repoPath {
		return fmt.Errorf("%w: checkpoint has %q, got %q", ErrRepoPathMismatch, meta.RepoPath, repoPath)
	}

	if meta.Operation != operation {
		return fmt.Errorf("%w: checkpoint has %q, got %q", ErrOperationMismatch, meta.Operation, operation)
	}

	return nil
}
