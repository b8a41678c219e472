// Package vcsfake provides an in-memory test double for internal/vcs.VCS,
// avoiding a real git binary in unit tests of notesstore/walker/audit.
package vcsfake

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"github.com/gitperf/gitperf/internal/vcs"
	"github.com/gitperf/gitperf/pkg/objectid"
)

// Fake is an in-memory stand-in for *vcs.Adapter.
type Fake struct {
	mu sync.Mutex

	// notes maps an owning ref name -> commit -> accumulated blob text,
	// mirroring what a real notes tree under that ref would contain.
	notes map[string]map[objectid.Hash]string

	// noteOwner records that ref name's notes have merged into another ref's
	// bucket, mirroring how two real refs pointing at the same commit share
	// the same underlying tree. Absence means a ref owns its own bucket.
	noteOwner map[string]string

	// refs maps a plain (non-symbolic) ref name to the hash it points at.
	refs map[string]string

	// symRefs maps a symbolic ref name to the ref name it points at.
	symRefs map[string]string

	// ancestry lists commits HEAD-first along first-parent history.
	ancestry []objectid.Hash
	shallow  map[objectid.Hash]bool

	version [3]int

	// PushRejections, if > 0 for a given ref, causes that many subsequent
	// Push calls for that ref to fail as a simulated non-fast-forward
	// before succeeding, exercising the notesstore retry loop.
	pushRejections map[string]int

	pushed []string // log of successfully pushed refspecs, for assertions
}

// New returns an empty Fake reporting git version 2.43.0.
func New() *Fake {
	return &Fake{
		notes:          make(map[string]map[objectid.Hash]string),
		noteOwner:      make(map[string]string),
		refs:           make(map[string]string),
		symRefs:        make(map[string]string),
		shallow:        make(map[objectid.Hash]bool),
		version:        [3]int{2, 43, 0},
		pushRejections: make(map[string]int),
	}
}

var _ vcs.VCS = (*Fake)(nil)

// SetAncestry sets the first-parent commit order (HEAD-first) used by Walk,
// and derives RevParse("HEAD") from its first element.
func (f *Fake) SetAncestry(commits ...objectid.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ancestry = commits
}

// MarkShallow records commit as a grafted shallow boundary.
func (f *Fake) MarkShallow(commit objectid.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.shallow[commit] = true
}

// RejectNextPushes makes the next n Push calls targeting ref fail as a
// simulated non-fast-forward rejection.
func (f *Fake) RejectNextPushes(ref string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pushRejections[ref] = n
}

// PushedRefspecs returns every refspec successfully pushed so far, in order.
func (f *Fake) PushedRefspecs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.pushed))
	copy(out, f.pushed)

	return out
}

func (f *Fake) CheckVersion(_ context.Context) error {
	return nil
}

// resolveNotesRef follows symbolic-ref indirection the way a real git notes
// command does when --ref names a symbolic ref: a caller must hold f.mu.
func (f *Fake) resolveNotesRef(ref string) string {
	const maxHops = 10

	for i := 0; i < maxHops; i++ {
		target, ok := f.symRefs[ref]
		if !ok {
			return ref
		}

		ref = target
	}

	return ref
}

// canonicalOwner follows noteOwner aliasing to the ref whose bucket in
// f.notes actually holds the data: a caller must hold f.mu.
func (f *Fake) canonicalOwner(ref string) string {
	const maxHops = 10

	for i := 0; i < maxHops; i++ {
		owner, ok := f.noteOwner[ref]
		if !ok || owner == ref {
			return ref
		}

		ref = owner
	}

	return ref
}

// noteKey resolves ref through symbolic-ref indirection and then through
// ref-to-ref note ownership aliasing, landing on the bucket key that
// actually holds the notes data: a caller must hold f.mu.
func (f *Fake) noteKey(ref string) string {
	return f.canonicalOwner(f.resolveNotesRef(ref))
}

// syntheticHash derives a stable, round-trip-safe 40-hex-character stand-in
// for "the commit this ref currently points at". Real content-addressing is
// unneeded here: the fake only needs ref equality to behave consistently.
func syntheticHash(key string) string {
	sum := fnv.New64a()
	_, _ = sum.Write([]byte(key))

	digest := fmt.Sprintf("%016x", sum.Sum64())

	return strings.Repeat("0", objectid.HashHexSize-len(digest)) + digest
}

func (f *Fake) NotesAppend(_ context.Context, ref string, commit objectid.Hash, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := f.noteKey(ref)

	byCommit, ok := f.notes[key]
	if !ok {
		byCommit = make(map[objectid.Hash]string)
		f.notes[key] = byCommit
	}

	if _, hasRef := f.refs[key]; !hasRef {
		f.refs[key] = syntheticHash(key)
	}

	existing := byCommit[commit]
	if existing == "" {
		byCommit[commit] = text

		return nil
	}

	byCommit[commit] = existing + "\n" + text

	return nil
}

func (f *Fake) NotesShow(_ context.Context, ref string, commit objectid.Hash) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.notes[f.noteKey(ref)][commit], nil
}

func (f *Fake) NotesList(_ context.Context, ref string) ([]vcs.NoteEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := f.noteKey(ref)

	var entries []vcs.NoteEntry

	for commit := range f.notes[key] {
		entries = append(entries, vcs.NoteEntry{Commit: commit})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Commit.String() < entries[j].Commit.String()
	})

	return entries, nil
}

func (f *Fake) NotesRemove(_ context.Context, ref string, commit objectid.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.notes[f.noteKey(ref)], commit)

	return nil
}

// NotesMerge concatenates source's notes into ref, then sorts and
// deduplicates each commit's lines — the concat-sort-uniq strategy.
func (f *Fake) NotesMerge(_ context.Context, ref, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dstKey := f.noteKey(ref)
	srcKey := f.noteKey(source)

	srcNotes := f.notes[srcKey]

	dst, ok := f.notes[dstKey]
	if !ok {
		dst = make(map[objectid.Hash]string)
		f.notes[dstKey] = dst
	}

	for commit, srcBlob := range srcNotes {
		dst[commit] = concatSortUniq(dst[commit], srcBlob)
	}

	return nil
}

func concatSortUniq(a, b string) string {
	seen := make(map[string]bool)

	var lines []string

	for _, line := range append(splitNonEmpty(a), splitNonEmpty(b)...) {
		if seen[line] {
			continue
		}

		seen[line] = true

		lines = append(lines, line)
	}

	sort.Strings(lines)

	return strings.Join(lines, "\n")
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}

	return strings.Split(s, "\n")
}

func (f *Fake) Fetch(_ context.Context, _, _ string, _ int) error {
	return nil
}

func (f *Fake) Push(_ context.Context, _, refspec string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	// refspec is "W_k:R"-shaped; key rejection tracking on the destination.
	_, dst, _ := strings.Cut(refspec, ":")
	if dst == "" {
		dst = refspec
	}

	if remaining := f.pushRejections[dst]; remaining > 0 {
		f.pushRejections[dst] = remaining - 1

		return &vcs.Error{Op: "push", Class: vcs.ClassTransient, StderrTail: "! [rejected] non-fast-forward"}
	}

	f.pushed = append(f.pushed, refspec)

	return nil
}

func (f *Fake) SymbolicRefRead(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.symRefs[name], nil
}

func (f *Fake) SymbolicRefWrite(_ context.Context, name, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.symRefs[name] = target

	return nil
}

func (f *Fake) SymbolicRefDelete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.symRefs, name)

	return nil
}

func (f *Fake) UpdateRef(_ context.Context, name, newValue, oldValue string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	current := f.refs[name]
	if oldValue != "" && current != oldValue {
		return &vcs.Error{Op: "update_ref", Class: vcs.ClassTransient, StderrTail: "cannot lock ref: stale info"}
	}

	f.refs[name] = newValue

	// A ref newly pointing at a hash another ref already points at shares
	// that ref's notes bucket, mirroring how a real notes ref and a freshly
	// created W_k both resolve to the same underlying commit/tree objects
	// until one of them is mutated.
	if newValue != "" {
		for other, hash := range f.refs {
			if other == name || hash != newValue {
				continue
			}

			f.noteOwner[name] = f.canonicalOwner(other)

			break
		}
	}

	return nil
}

func (f *Fake) DeleteRef(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.refs, name)

	return nil
}

func (f *Fake) ShowRef(_ context.Context, name string) (objectid.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return objectid.NewHash(f.refs[name]), nil
}

func (f *Fake) RevParse(_ context.Context, rev string) (objectid.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if rev == "HEAD" && len(f.ancestry) > 0 {
		return f.ancestry[0], nil
	}

	return objectid.NewHash(rev), nil
}

func (f *Fake) IsShallow(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.shallow) > 0, nil
}

func (f *Fake) ShallowCommits(_ context.Context) (map[objectid.Hash]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[objectid.Hash]bool, len(f.shallow))
	for k, v := range f.shallow {
		out[k] = v
	}

	return out, nil
}

func (f *Fake) Walk(_ context.Context, ref, start string, depth int) ([]vcs.WalkEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	startIdx := 0

	if start != "HEAD" && start != "" {
		startHash := objectid.NewHash(start)

		found := false

		for i, c := range f.ancestry {
			if c == startHash {
				startIdx = i
				found = true

				break
			}
		}

		if !found {
			return nil, nil
		}
	}

	entries := make([]vcs.WalkEntry, 0, len(f.ancestry)-startIdx)

	for i := startIdx; i < len(f.ancestry); i++ {
		if depth > 0 && i-startIdx >= depth {
			break
		}

		commit := f.ancestry[i]

		var parents []objectid.Hash
		if i+1 < len(f.ancestry) {
			parents = []objectid.Hash{f.ancestry[i+1]}
		}

		entries = append(entries, vcs.WalkEntry{
			Commit:  commit,
			Parents: parents,
			Note:    f.notes[f.noteKey(ref)][commit],
		})
	}

	return entries, nil
}
