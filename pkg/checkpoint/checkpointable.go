package checkpoint

// Checkpointable is implemented by anything that can snapshot its own state
// to a directory and restore it later. Manager.Save/Load fan out to each
// registered Checkpointable so that, e.g., the notes-store ref snapshot and
// any other in-flight rewrite state are captured together under one
// checkpoint directory.
type Checkpointable interface {
	// SaveCheckpoint writes this component's state into dir.
	SaveCheckpoint(dir string) error

	// LoadCheckpoint restores this component's state from dir.
	LoadCheckpoint(dir string) error

	// CheckpointSize reports the approximate on-disk size of the last saved
	// state, for retention/eviction accounting.
	CheckpointSize() int64
}
