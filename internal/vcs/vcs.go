// Package vcs invokes the hosting version-control system as an external
// process and classifies its textual output and exit status. It is the sole
// point of contact between the core and the git binary.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/gitperf/gitperf/pkg/objectid"
	"github.com/gitperf/gitperf/pkg/observability"
)

// Class classifies the failure mode of a VCS invocation.
type Class int

const (
	// ClassUnknown is the zero value: neither transient nor confirmed permanent.
	ClassUnknown Class = iota
	// ClassTransient covers network errors, lock contention, and non-fast-forward
	// pushes — conditions a retry may resolve.
	ClassTransient
	// ClassPermanent covers invalid refs and malformed input — retrying cannot help.
	ClassPermanent
)

// String renders the classification name.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// stderrTailLines bounds how much of stderr is kept on a failed invocation.
const stderrTailLines = 20

// Error wraps a failed VCS invocation with enough context to classify and
// retry it.
type Error struct {
	Op         string
	Args       []string
	ExitCode   int
	StderrTail string
	Class      Class
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("vcs %s: %s (exit %d, class %s): %s", e.Op, strings.Join(e.Args, " "), e.ExitCode, e.Class, e.StderrTail)
}

// Unwrap exposes the underlying process error.
func (e *Error) Unwrap() error {
	return e.Err
}

// transientMarkers are stderr substrings that indicate a retryable failure.
var transientMarkers = []string{
	"non-fast-forward",
	"stale info",
	"failed to push",
	"could not read from remote repository",
	"connection timed out",
	"connection reset",
	"unable to access",
	"the remote end hung up unexpectedly",
	"early eof",
	"unable to lock",
	"index.lock",
	"cannot lock ref",
	"object not found",
}

// permanentMarkers are stderr substrings that indicate the request itself
// cannot succeed, on any retry.
var permanentMarkers = []string{
	"bad object",
	"not a valid object name",
	"unknown revision",
	"not a git repository",
	"invalid refspec",
	"ambiguous argument",
}

// classify inspects stderr for known markers, falling back to ClassUnknown.
func classify(stderr string) Class {
	lower := strings.ToLower(stderr)

	for _, marker := range permanentMarkers {
		if strings.Contains(lower, marker) {
			return ClassPermanent
		}
	}

	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return ClassTransient
		}
	}

	return ClassUnknown
}

// VCS is the set of operations the core needs from the hosting
// version-control system. *Adapter and vcsfake.Fake both satisfy it.
type VCS interface {
	CheckVersion(ctx context.Context) error
	NotesAppend(ctx context.Context, ref string, commit objectid.Hash, text string) error
	NotesShow(ctx context.Context, ref string, commit objectid.Hash) (string, error)
	NotesList(ctx context.Context, ref string) ([]NoteEntry, error)
	NotesRemove(ctx context.Context, ref string, commit objectid.Hash) error
	NotesMerge(ctx context.Context, ref, source string) error
	Fetch(ctx context.Context, remote, refspec string, depth int) error
	Push(ctx context.Context, remote, refspec string, force bool) error
	SymbolicRefRead(ctx context.Context, name string) (string, error)
	SymbolicRefWrite(ctx context.Context, name, target string) error
	SymbolicRefDelete(ctx context.Context, name string) error
	UpdateRef(ctx context.Context, name, newValue, oldValue string) error
	DeleteRef(ctx context.Context, name string) error
	ShowRef(ctx context.Context, name string) (objectid.Hash, error)
	RevParse(ctx context.Context, rev string) (objectid.Hash, error)
	IsShallow(ctx context.Context) (bool, error)
	ShallowCommits(ctx context.Context) (map[objectid.Hash]bool, error)
	Walk(ctx context.Context, ref, start string, depth int) ([]WalkEntry, error)
}

var _ VCS = (*Adapter)(nil)

// MinVersion is the minimum supported git version; Adapter.CheckVersion
// fails permanently below it.
var MinVersion = [3]int{2, 43, 0}

// Adapter invokes the git binary in one repository working directory.
type Adapter struct {
	binary  string
	repoDir string
	metrics *observability.REDMetrics
	tracer  trace.Tracer
}

// New returns an Adapter that runs git against the repository at repoDir.
// metrics may be nil (no RED instrumentation, useful in tests). tracer may
// be nil, in which case invocations are not traced.
func New(repoDir string, metrics *observability.REDMetrics, tracer trace.Tracer) *Adapter {
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("")
	}

	return &Adapter{binary: "git", repoDir: repoDir, metrics: metrics, tracer: tracer}
}

// run executes the git binary with args, returning stdout on success. On
// failure it returns an *Error with the classified stderr tail.
func (a *Adapter) run(ctx context.Context, op string, args ...string) (string, error) {
	ctx, span := a.tracer.Start(ctx, "vcs."+op)
	defer span.End()

	start := time.Now()

	cmd := exec.CommandContext(ctx, a.binary, args...)
	cmd.Dir = a.repoDir

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	status := "ok"
	if err != nil {
		status = "error"
	}

	if a.metrics != nil {
		a.metrics.RecordRequest(ctx, op, status, time.Since(start))
	}

	if err == nil {
		return stdout.String(), nil
	}

	exitCode := -1

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	tail := tailLines(stderr.String(), stderrTailLines)
	class := classify(tail)

	vcsErr := &Error{
		Op:         op,
		Args:       args,
		ExitCode:   exitCode,
		StderrTail: tail,
		Class:      class,
		Err:        err,
	}

	observability.RecordSpanError(span, vcsErr, errTypeForClass(class), observability.ErrSourceDependency)

	return "", vcsErr
}

// errTypeForClass maps a VCS failure classification to the span error.type
// attribute value RecordSpanError expects.
func errTypeForClass(class Class) string {
	switch class {
	case ClassTransient:
		return observability.ErrTypeDependencyUnavailable
	case ClassPermanent:
		return observability.ErrTypeValidation
	case ClassUnknown:
		return observability.ErrTypeInternal
	default:
		return observability.ErrTypeInternal
	}
}

// tailLines returns the last n lines of s.
func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}

	return strings.Join(lines[len(lines)-n:], "\n")
}

// CheckVersion verifies the git binary reports a version >= MinVersion,
// failing permanently (ClassPermanent) otherwise.
func (a *Adapter) CheckVersion(ctx context.Context) error {
	out, err := a.run(ctx, "version")
	if err != nil {
		return err
	}

	got, ok := parseVersion(out)
	if !ok {
		return &Error{Op: "version", Class: ClassPermanent, Err: fmt.Errorf("%w: %q", ErrUnparseableVersion, out)}
	}

	if versionLess(got, MinVersion) {
		return &Error{
			Op:    "version",
			Class: ClassPermanent,
			Err: fmt.Errorf("%w: have %d.%d.%d, need >= %d.%d.%d",
				ErrVersionTooOld, got[0], got[1], got[2], MinVersion[0], MinVersion[1], MinVersion[2]),
		}
	}

	return nil
}

// ErrUnparseableVersion is returned when `git version` output doesn't match
// the expected "git version X.Y.Z" shape.
var ErrUnparseableVersion = errors.New("vcs: unparseable git version output")

// ErrVersionTooOld is returned when the installed git predates MinVersion.
var ErrVersionTooOld = errors.New("vcs: git version too old")

// parseVersion extracts a (major, minor, patch) triple from `git version` output.
func parseVersion(out string) (v [3]int, ok bool) {
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return v, false
	}

	parts := strings.SplitN(fields[2], ".", 3)
	if len(parts) < 2 {
		return v, false
	}

	for i := range 3 {
		if i >= len(parts) {
			break
		}

		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return v, false
		}

		v[i] = n
	}

	return v, true
}

// versionLess reports whether a < b lexicographically.
func versionLess(a, b [3]int) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}

	return false
}

// NotesAppend appends text to the note on commit under ref, creating the
// note if absent.
func (a *Adapter) NotesAppend(ctx context.Context, ref string, commit objectid.Hash, text string) error {
	_, err := a.run(ctx, "notes_append", "notes", "--ref="+ref, "append", "-m", text, commit.String())

	return err
}

// NotesShow returns the note blob on commit under ref, or ("", nil) if absent.
func (a *Adapter) NotesShow(ctx context.Context, ref string, commit objectid.Hash) (string, error) {
	out, err := a.run(ctx, "notes_show", "notes", "--ref="+ref, "show", commit.String())
	if err != nil {
		var vcsErr *Error
		if errors.As(err, &vcsErr) && strings.Contains(strings.ToLower(vcsErr.StderrTail), "no note found") {
			return "", nil
		}

		return "", err
	}

	return out, nil
}

// NoteEntry is one (commit, blob) pair from NotesList.
type NoteEntry struct {
	Commit objectid.Hash
	BlobID objectid.Hash
}

// NotesList returns every (commit, blob-id) pair currently attached under ref.
func (a *Adapter) NotesList(ctx context.Context, ref string) ([]NoteEntry, error) {
	out, err := a.run(ctx, "notes_list", "notes", "--ref="+ref, "list")
	if err != nil {
		return nil, err
	}

	var entries []NoteEntry

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}

		entries = append(entries, NoteEntry{
			Commit: objectid.NewHash(fields[1]),
			BlobID: objectid.NewHash(fields[0]),
		})
	}

	return entries, nil
}

// NotesRemove deletes the note entry for commit under ref.
func (a *Adapter) NotesRemove(ctx context.Context, ref string, commit objectid.Hash) error {
	_, err := a.run(ctx, "notes_remove", "notes", "--ref="+ref, "remove", commit.String())

	return err
}

// NotesMerge three-way merges source into ref using the concat-sort-uniq
// strategy, which concatenates both sides line-wise, sorts, and drops exact
// duplicate lines.
func (a *Adapter) NotesMerge(ctx context.Context, ref, source string) error {
	_, err := a.run(ctx, "notes_merge", "notes", "--ref="+ref, "merge", "-s", "cat_sort_uniq", source)

	return err
}

// Fetch retrieves refspec from remote, optionally limited to depth.
func (a *Adapter) Fetch(ctx context.Context, remote, refspec string, depth int) error {
	args := []string{"fetch", remote, refspec}
	if depth > 0 {
		args = append(args, "--depth="+strconv.Itoa(depth))
	}

	_, err := a.run(ctx, "fetch", args...)

	return err
}

// Push pushes refspec to remote, optionally forced.
func (a *Adapter) Push(ctx context.Context, remote, refspec string, force bool) error {
	args := []string{"push", remote, refspec}
	if force {
		args = append(args, "--force")
	}

	_, err := a.run(ctx, "push", args...)

	return err
}

// SymbolicRefRead returns the target ref name, or "" if name is not a symbolic ref.
func (a *Adapter) SymbolicRefRead(ctx context.Context, name string) (string, error) {
	out, err := a.run(ctx, "symbolic_ref_read", "symbolic-ref", "-q", name)
	if err != nil {
		var vcsErr *Error
		if errors.As(err, &vcsErr) && vcsErr.ExitCode == 1 {
			return "", nil
		}

		return "", err
	}

	return strings.TrimSpace(out), nil
}

// SymbolicRefWrite points the symbolic ref name at target.
func (a *Adapter) SymbolicRefWrite(ctx context.Context, name, target string) error {
	_, err := a.run(ctx, "symbolic_ref_write", "symbolic-ref", name, target)

	return err
}

// SymbolicRefDelete removes the symbolic ref name.
func (a *Adapter) SymbolicRefDelete(ctx context.Context, name string) error {
	_, err := a.run(ctx, "symbolic_ref_delete", "symbolic-ref", "--delete", name)

	return err
}

// UpdateRef performs a compare-and-swap ref update: name is set to newValue
// only if its current value equals oldValue (empty oldValue means "must not
// currently exist").
func (a *Adapter) UpdateRef(ctx context.Context, name, newValue, oldValue string) error {
	args := []string{"update-ref", name, newValue}
	if oldValue != "" {
		args = append(args, oldValue)
	}

	_, err := a.run(ctx, "update_ref", args...)

	return err
}

// DeleteRef removes the ref name entirely.
func (a *Adapter) DeleteRef(ctx context.Context, name string) error {
	_, err := a.run(ctx, "delete_ref", "update-ref", "-d", name)

	return err
}

// ShowRef returns the hash name currently resolves to.
func (a *Adapter) ShowRef(ctx context.Context, name string) (objectid.Hash, error) {
	out, err := a.run(ctx, "show_ref", "show-ref", "--verify", "--hash", name)
	if err != nil {
		return objectid.ZeroHash(), err
	}

	return objectid.NewHash(strings.TrimSpace(out)), nil
}

// RevParse resolves rev to a commit hash.
func (a *Adapter) RevParse(ctx context.Context, rev string) (objectid.Hash, error) {
	out, err := a.run(ctx, "rev_parse", "rev-parse", "--verify", rev)
	if err != nil {
		return objectid.ZeroHash(), err
	}

	return objectid.NewHash(strings.TrimSpace(out)), nil
}

// IsShallow reports whether the repository has a shallow clone boundary.
func (a *Adapter) IsShallow(ctx context.Context) (bool, error) {
	out, err := a.run(ctx, "is_shallow", "rev-parse", "--is-shallow-repository")
	if err != nil {
		return false, err
	}

	return strings.TrimSpace(out) == "true", nil
}

// walkFieldSep and walkRecordSep are non-printable delimiters unlikely to
// collide with note text, used to parse one `git log` invocation's output
// into per-commit records without a second process call per commit.
const (
	walkFieldSep  = "\x1f"
	walkRecordSep = "\x00"
	walkFormat    = "%H" + walkFieldSep + "%P" + walkFieldSep + "%N" + walkRecordSep
)

// WalkEntry is one commit paired with its parents and raw note blob, as
// produced by a single `git log` invocation.
type WalkEntry struct {
	Commit  objectid.Hash
	Parents []objectid.Hash
	Note    string
}

// Walk returns, in one invocation, every commit reachable from start (first-
// parent ancestry), each paired with its note blob under ref. depth <= 0
// means unbounded.
func (a *Adapter) Walk(ctx context.Context, ref, start string, depth int) ([]WalkEntry, error) {
	args := []string{"log", "--first-parent", "--notes=" + ref, "--pretty=format:" + walkFormat}
	if depth > 0 {
		args = append(args, "-n", strconv.Itoa(depth))
	}

	args = append(args, start)

	out, err := a.run(ctx, "walk", args...)
	if err != nil {
		return nil, err
	}

	var entries []WalkEntry

	for _, rec := range strings.Split(out, walkRecordSep) {
		rec = strings.TrimLeft(rec, "\n")
		if strings.TrimSpace(rec) == "" {
			continue
		}

		fields := strings.SplitN(rec, walkFieldSep, 3)
		if len(fields) != 3 {
			continue
		}

		entry := WalkEntry{Commit: objectid.NewHash(fields[0]), Note: fields[2]}

		for _, p := range strings.Fields(fields[1]) {
			entry.Parents = append(entry.Parents, objectid.NewHash(p))
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// ShallowCommits returns the set of commit hashes that are grafted shallow
// boundaries (parents hidden by a shallow clone depth limit).
func (a *Adapter) ShallowCommits(ctx context.Context) (map[objectid.Hash]bool, error) {
	out, err := a.run(ctx, "shallow_path", "rev-parse", "--git-path", "shallow")
	if err != nil {
		return nil, err
	}

	path := strings.TrimSpace(out)

	data, readErr := os.ReadFile(path) //nolint:gosec // path comes from `git rev-parse --git-path`, not user input.
	if readErr != nil {
		// No shallow file means no shallow boundary; not an error.
		return map[objectid.Hash]bool{}, nil
	}

	set := make(map[objectid.Hash]bool)

	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		set[objectid.NewHash(line)] = true
	}

	return set, nil
}
