// Package notesstore implements the append-only, content-addressed
// measurement store built on top of the hosting VCS's notes feature: the
// append protocol (write-symbolic-ref indirection, push-with-retry,
// fetch+merge+retry on non-fast-forward), whole-notes prune, and per-record
// remove.
package notesstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/gitperf/gitperf/internal/record"
	"github.com/gitperf/gitperf/internal/vcs"
	"github.com/gitperf/gitperf/pkg/checkpoint"
	"github.com/gitperf/gitperf/pkg/mathutil"
	"github.com/gitperf/gitperf/pkg/objectid"
	"github.com/gitperf/gitperf/pkg/units"
)

// noteSizeWarnThreshold is the note blob size past which appendLines logs a
// growth warning: a single commit's note this large is almost always an
// accumulation of records that should be pruned or epoch-excluded rather
// than a legitimate single-commit payload.
const noteSizeWarnThreshold = 64 * units.KiB

// Ref is the canonical, fixed perf-notes reference, distinct from the
// hosting system's default notes reference.
const Ref = "refs/notes/perf-v3"

// writeSymbolicRefBase is the symbolic ref S that points at the current
// per-operation write ref W_k during an append or remove.
const writeSymbolicRefBase = "refs/notes/perf-v3-write"

// maxElapsed is the hard wall-clock cap on push retry (spec default 60s).
const maxElapsed = 60 * time.Second

// Sentinel errors.
var (
	// ErrPushExhausted is returned when the retry loop's wall-clock cap
	// expires without a successful push.
	ErrPushExhausted = errors.New("notesstore: push retry exhausted")
	// ErrRefMismatch is returned when a checkpointed snapshot no longer
	// matches R, indicating a corrupted or concurrently-mutated rewrite.
	ErrRefMismatch = errors.New("notesstore: ref mismatch since checkpoint")
)

// Store coordinates append/prune/remove against one repository's perf-notes ref.
type Store struct {
	vcs      vcs.VCS
	remote   string
	repoPath string
	lock     *flock.Flock
	checkpts *checkpoint.Manager
	logger   *slog.Logger
}

// New returns a Store. lockPath is the advisory cross-process lock file (a
// path inside the repository's git directory); remote is the git remote
// name notes are pushed to/fetched from; repoPath identifies the repository
// for checkpoint validation; checkpts may be nil to disable rewrite
// snapshots (tests only — production always supplies one).
func New(v vcs.VCS, lockPath, remote, repoPath string, checkpts *checkpoint.Manager, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		vcs:      v,
		remote:   remote,
		repoPath: repoPath,
		lock:     flock.New(lockPath),
		checkpts: checkpts,
		logger:   logger,
	}
}

// Append adds one measurement line to commit's note, following the append
// protocol: create W_k from R, write through S, push with retry, reconcile.
func (s *Store) Append(ctx context.Context, commit objectid.Hash, m record.Measurement) error {
	return s.appendLines(ctx, commit, []string{record.Encode(m)})
}

// AppendEpoch writes an epoch directive to commit's note via the same protocol.
func (s *Store) AppendEpoch(ctx context.Context, commit objectid.Hash, name string, epoch uint32) error {
	return s.appendLines(ctx, commit, []string{record.EncodeEpochDirective(name, epoch)})
}

// AppendBatch writes N measurements to commit's note in a single append-protocol
// run, rather than paying the push/reconcile round trip once per record.
func (s *Store) AppendBatch(ctx context.Context, commit objectid.Hash, records []record.Measurement) error {
	lines := make([]string, len(records))
	for i, m := range records {
		lines[i] = record.Encode(m)
	}

	return s.appendLines(ctx, commit, lines)
}

func (s *Store) appendLines(ctx context.Context, commit objectid.Hash, lines []string) error {
	start := time.Now()
	retries := 0

	err := s.withLock(ctx, func() error {
		wk, cleanup, err := s.beginWrite(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		for _, line := range lines {
			appendErr := s.vcs.NotesAppend(ctx, writeSymbolicRefBase, commit, line)
			if appendErr != nil {
				return fmt.Errorf("write note via %s: %w", writeSymbolicRefBase, appendErr)
			}
		}

		s.warnIfNoteOversized(ctx, commit)

		retries, err = s.pushWithRetry(ctx, wk, false)
		if err != nil {
			return err
		}

		return s.reconcile(ctx, wk)
	})

	s.logResult(ctx, "append", commit, retries, time.Since(start), err)

	return err
}

// beginWrite creates a fresh W_k pointing at R's current value (or an empty
// state if R is absent) and points S at it, returning the temporary ref name
// and a cleanup func that removes S (but not W_k, which reconcile/abort
// handles explicitly).
func (s *Store) beginWrite(ctx context.Context) (wk string, cleanup func(), err error) {
	nonce := uuid.NewString()
	wk = writeSymbolicRefBase + "/" + nonce

	head, exists, err := s.resolveRef(ctx, Ref)
	if err != nil {
		return "", nil, fmt.Errorf("resolve %s: %w", Ref, err)
	}

	if exists {
		updateErr := s.vcs.UpdateRef(ctx, wk, head.String(), "")
		if updateErr != nil {
			return "", nil, fmt.Errorf("create %s: %w", wk, updateErr)
		}
	}

	symErr := s.vcs.SymbolicRefWrite(ctx, writeSymbolicRefBase, wk)
	if symErr != nil {
		return "", nil, fmt.Errorf("point %s at %s: %w", writeSymbolicRefBase, wk, symErr)
	}

	return wk, func() {
		_ = s.vcs.SymbolicRefDelete(ctx, writeSymbolicRefBase)
	}, nil
}

// resolveRef resolves name, reporting exists=false rather than an error when
// the ref simply doesn't exist yet.
func (s *Store) resolveRef(ctx context.Context, name string) (hash objectid.Hash, exists bool, err error) {
	hash, err = s.vcs.ShowRef(ctx, name)
	if err == nil {
		return hash, !hash.IsZero(), nil
	}

	var vcsErr *vcs.Error
	if errors.As(err, &vcsErr) && vcsErr.ExitCode == 1 {
		return objectid.ZeroHash(), false, nil
	}

	return objectid.ZeroHash(), false, err
}

// pushWithRetry pushes wk to Ref, bounded by maxElapsed wall-clock time.
// When force is false (append), a transient non-fast-forward rejection
// triggers fetch+merge and another attempt. When force is true (prune,
// remove), R is rewritten history and a fast-forward check would always
// reject it, so rejections are retried as-is without merging. Returns the
// number of rejected attempts before success.
func (s *Store) pushWithRetry(ctx context.Context, wk string, force bool) (int, error) {
	attempts := 0

	operation := func() (struct{}, error) {
		pushErr := s.vcs.Push(ctx, s.remote, wk+":"+Ref, force)
		if pushErr == nil {
			return struct{}{}, nil
		}

		var vcsErr *vcs.Error
		if !errors.As(pushErr, &vcsErr) || vcsErr.Class != vcs.ClassTransient {
			return struct{}{}, backoff.Permanent(pushErr)
		}

		attempts++

		if force {
			return struct{}{}, pushErr
		}

		mergeErr := s.fetchAndMerge(ctx, wk)
		if mergeErr != nil {
			return struct{}{}, backoff.Permanent(mergeErr)
		}

		return struct{}{}, pushErr
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxElapsed),
	)
	if err != nil {
		return attempts, fmt.Errorf("%w: %w", ErrPushExhausted, err)
	}

	return attempts, nil
}

// fetchAndMerge pulls the remote's current Ref into a local tracking ref and
// merges it into wk with the concat-sort-uniq strategy.
func (s *Store) fetchAndMerge(ctx context.Context, wk string) error {
	fetchErr := s.vcs.Fetch(ctx, s.remote, Ref, 0)
	if fetchErr != nil {
		return fmt.Errorf("fetch %s: %w", Ref, fetchErr)
	}

	mergeErr := s.vcs.NotesMerge(ctx, wk, Ref)
	if mergeErr != nil {
		return fmt.Errorf("merge %s into %s: %w", Ref, wk, mergeErr)
	}

	return nil
}

// reconcile promotes a successfully-pushed wk to the local Ref and deletes
// the temporary ref.
func (s *Store) reconcile(ctx context.Context, wk string) error {
	target, _, err := s.resolveRef(ctx, wk)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", wk, err)
	}

	updateErr := s.vcs.UpdateRef(ctx, Ref, target.String(), "")
	if updateErr != nil {
		return fmt.Errorf("promote %s to %s: %w", wk, Ref, updateErr)
	}

	deleteErr := s.vcs.DeleteRef(ctx, wk)
	if deleteErr != nil {
		return fmt.Errorf("delete %s: %w", wk, deleteErr)
	}

	return nil
}

// Prune drops the entire note for every commit enumerated by candidates for
// which keep returns false, force-pushing the rewritten tree. Because
// history is rewritten rather than appended to, the normal fetch+merge
// reconciliation on rejection does not apply: a rejected force-push is
// simply retried. Returns the number of notes dropped.
func (s *Store) Prune(ctx context.Context, keep func(commit objectid.Hash) bool) (int, error) {
	start := time.Now()
	retries := 0
	dropped := 0

	err := s.withLock(ctx, func() error {
		guardErr := s.verifyCheckpoint(ctx, "prune")
		if guardErr != nil {
			return guardErr
		}

		snapshotErr := s.snapshotRef(ctx, "prune")
		if snapshotErr != nil {
			return snapshotErr
		}

		wk, cleanup, err := s.beginWrite(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		entries, listErr := s.vcs.NotesList(ctx, wk)
		if listErr != nil {
			return fmt.Errorf("list notes under %s: %w", wk, listErr)
		}

		for _, entry := range entries {
			if keep(entry.Commit) {
				continue
			}

			removeErr := s.vcs.NotesRemove(ctx, wk, entry.Commit)
			if removeErr != nil {
				return fmt.Errorf("remove note for %s: %w", entry.Commit, removeErr)
			}

			dropped++
		}

		retries, err = s.pushWithRetry(ctx, wk, true)
		if err != nil {
			return err
		}

		return s.reconcile(ctx, wk)
	})

	s.logResult(ctx, "prune", objectid.ZeroHash(), retries, time.Since(start), err)

	if err != nil {
		return 0, err
	}

	return dropped, nil
}

// Remove rewrites commit's note, dropping every line for which keepLine
// returns false. If no lines survive, the note is deleted outright. Same
// force-push model as Prune.
func (s *Store) Remove(ctx context.Context, commit objectid.Hash, keepLine func(line string) bool) error {
	start := time.Now()
	retries := 0

	err := s.withLock(ctx, func() error {
		guardErr := s.verifyCheckpoint(ctx, "remove")
		if guardErr != nil {
			return guardErr
		}

		snapshotErr := s.snapshotRef(ctx, "remove")
		if snapshotErr != nil {
			return snapshotErr
		}

		wk, cleanup, err := s.beginWrite(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		blob, showErr := s.vcs.NotesShow(ctx, wk, commit)
		if showErr != nil {
			return fmt.Errorf("show note for %s under %s: %w", commit, wk, showErr)
		}

		var kept []string

		for _, line := range strings.Split(blob, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}

			if keepLine(line) {
				kept = append(kept, line)
			}
		}

		removeErr := s.vcs.NotesRemove(ctx, wk, commit)
		if removeErr != nil {
			return fmt.Errorf("remove note for %s: %w", commit, removeErr)
		}

		for _, line := range kept {
			appendErr := s.vcs.NotesAppend(ctx, wk, commit, line)
			if appendErr != nil {
				return fmt.Errorf("rewrite note for %s: %w", commit, appendErr)
			}
		}

		retries, err = s.pushWithRetry(ctx, wk, true)
		if err != nil {
			return err
		}

		return s.reconcile(ctx, wk)
	})

	s.logResult(ctx, "remove", commit, retries, time.Since(start), err)

	return err
}

// verifyCheckpoint returns ErrRefMismatch if a prior checkpoint for the same
// repository and operation recorded a ref target that no longer matches R,
// meaning a previous rewrite was interrupted partway and R has since moved
// out from under it. A checkpoint for a different repo or operation is not
// ours to reason about and is ignored.
func (s *Store) verifyCheckpoint(ctx context.Context, operation string) error {
	if s.checkpts == nil || !s.checkpts.Exists() {
		return nil
	}

	if validateErr := s.checkpts.Validate(s.repoPath, operation); validateErr != nil {
		return nil
	}

	snapshot, loadErr := s.checkpts.Load(nil)
	if loadErr != nil {
		return fmt.Errorf("load checkpoint for resume check: %w", loadErr)
	}

	current, exists, resolveErr := s.resolveRef(ctx, Ref)
	if resolveErr != nil {
		return fmt.Errorf("resolve %s for resume check: %w", Ref, resolveErr)
	}

	if exists && snapshot.RefTarget != current.String() {
		return fmt.Errorf("%w: checkpoint recorded %s, %s is now %s", ErrRefMismatch, snapshot.RefTarget, Ref, current.String())
	}

	return nil
}

// snapshotRef records R's current target and the set of commits it attaches
// notes to, before a history-rewriting operation begins. A no-op if the
// Store was built without a checkpoint Manager.
func (s *Store) snapshotRef(ctx context.Context, operation string) error {
	if s.checkpts == nil {
		return nil
	}

	target, exists, resolveErr := s.resolveRef(ctx, Ref)
	if resolveErr != nil {
		return fmt.Errorf("resolve %s for checkpoint: %w", Ref, resolveErr)
	}

	var targetStr string
	if exists {
		targetStr = target.String()
	}

	entries, listErr := s.vcs.NotesList(ctx, Ref)
	if listErr != nil {
		return fmt.Errorf("list notes for checkpoint: %w", listErr)
	}

	commits := make([]string, 0, len(entries))
	for _, entry := range entries {
		commits = append(commits, entry.Commit.String())
	}

	snapshot := checkpoint.RefSnapshot{RefName: Ref, RefTarget: targetStr, CommitHashes: commits}

	saveErr := s.checkpts.Save(nil, snapshot, s.repoPath, operation)
	if saveErr != nil {
		return fmt.Errorf("save checkpoint: %w", saveErr)
	}

	return nil
}

// withLock acquires the cross-process writer lock L for the duration of fn,
// serializing concurrent local appenders.
func (s *Store) withLock(ctx context.Context, fn func() error) error {
	lockErr := s.lock.Lock()
	if lockErr != nil {
		return fmt.Errorf("acquire writer lock: %w", lockErr)
	}
	defer func() { _ = s.lock.Unlock() }()

	return fn()
}

// logResult emits the Info/Warn record required for every append/prune/
// remove, carrying commit hash, ref name, and retry count.
func (s *Store) logResult(ctx context.Context, op string, commit objectid.Hash, retries int, elapsed time.Duration, err error) {
	attrs := []any{"op", op, "ref", Ref, "commit", commit.String(), "retries", retries, "elapsed_ms", elapsed.Milliseconds()}

	if err == nil {
		s.logger.InfoContext(ctx, "notesstore operation succeeded", attrs...)

		return
	}

	if errors.Is(err, ErrPushExhausted) {
		s.logger.WarnContext(ctx, "notesstore push retries exhausted", append(attrs, "error", err.Error())...)

		return
	}

	s.logger.WarnContext(ctx, "notesstore operation failed", append(attrs, "error", err.Error())...)
}

// warnIfNoteOversized logs once if commit's note blob (under the in-flight
// write ref) has grown past noteSizeWarnThreshold. Best-effort: a read
// failure here never fails the append itself.
func (s *Store) warnIfNoteOversized(ctx context.Context, commit objectid.Hash) {
	blob, err := s.vcs.NotesShow(ctx, writeSymbolicRefBase, commit)
	if err != nil {
		return
	}

	excess := mathutil.Max(0, len(blob)-noteSizeWarnThreshold)
	if excess == 0 {
		return
	}

	s.logger.WarnContext(ctx, "note blob exceeds size threshold",
		"commit", commit.String(), "size_bytes", len(blob),
		"threshold_bytes", noteSizeWarnThreshold, "excess_bytes", excess)
}
