// Package ledger tracks which enrollments currently own which preferences.
//
// The ledger is pure bookkeeping: it never touches the preference store and
// never installs observers itself. Callers use the return values of Track and
// Untrack to decide when an external pref observer must be added or removed.
package ledger

import (
	"slices"
	"sync"
)

// GuardState is the per-preference reentrancy guard.
type GuardState uint8

const (
	// GuardIdle means pref change notifications must be handled.
	GuardIdle GuardState = iota

	// GuardEngineWriting means the engine itself is writing the pref, so any
	// change notification for it is self-inflicted and suppressed.
	GuardEngineWriting
)

// entry is the set of enrollment slugs that set a single preference.
type entry struct {
	slugs map[string]struct{}
}

// Ledger maps preference names to the slugs of the enrollments that set them.
// It is safe for concurrent use; observer callbacks may query it from any goroutine.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*entry
	guards  map[string]GuardState
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		entries: make(map[string]*entry),
		guards:  make(map[string]GuardState),
	}
}

// Track records that slug sets pref. It is idempotent.
// It returns true when the entry for pref was created by this call.
func (l *Ledger) Track(pref, slug string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[pref]
	if !ok {
		e = &entry{slugs: make(map[string]struct{})}
		l.entries[pref] = e
	}
	e.slugs[slug] = struct{}{}

	return !ok
}

// Untrack removes slug from the owners of pref, dropping the entry once no
// owner is left. It returns whether the entry still exists.
func (l *Ledger) Untrack(pref, slug string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[pref]
	if !ok {
		return false
	}

	delete(e.slugs, slug)
	if len(e.slugs) == 0 {
		delete(l.entries, pref)
		return false
	}

	return true
}

// SlugsFor returns the sorted slugs that currently set pref.
func (l *Ledger) SlugsFor(pref string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[pref]
	if !ok {
		return []string{}
	}

	slugs := make([]string, 0, len(e.slugs))
	for slug := range e.slugs {
		slugs = append(slugs, slug)
	}
	slices.Sort(slugs)

	return slugs
}

// Has reports whether any enrollment sets pref.
func (l *Ledger) Has(pref string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.entries[pref]
	return ok
}

// Names returns every tracked preference name, sorted.
func (l *Ledger) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, len(l.entries))
	for name := range l.entries {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// IsChanging reports whether the engine is currently writing pref.
func (l *Ledger) IsChanging(pref string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.guards[pref] == GuardEngineWriting
}

// SetChanging flips the guard of pref. The guard is independent of tracking,
// so it can be raised before the first owner is recorded.
func (l *Ledger) SetChanging(pref string, changing bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if changing {
		l.guards[pref] = GuardEngineWriting
		return
	}
	delete(l.guards, pref)
}

// Guard runs fn with the guard of pref raised.
func (l *Ledger) Guard(pref string, fn func() error) error {
	l.SetChanging(pref, true)
	defer l.SetChanging(pref, false)

	return fn()
}
