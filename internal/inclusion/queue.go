// Package inclusion holds the per-render list of asset references waiting to
// be resolved and rendered.
package inclusion

import "sort"

// DefaultPriority is used when a caller does not specify one
const DefaultPriority = 1

// Entry is a single queued reference
type Entry struct {
	Priority int
	Ref      string
}

// Queue is an ordered collection of references for one render cycle.
// A Queue is not safe for concurrent use; create one per request.
type Queue struct {
	entries []Entry
}

// New creates an empty queue
func New() *Queue {
	return &Queue{}
}

// Push appends a reference with the given priority
func (q *Queue) Push(priority int, ref string) {
	q.entries = append(q.entries, Entry{Priority: priority, Ref: ref})
}

// PushAll appends several references sharing one priority
func (q *Queue) PushAll(priority int, refs ...string) {
	for _, ref := range refs {
		q.Push(priority, ref)
	}
}

// Len returns the number of queued entries
func (q *Queue) Len() int {
	return len(q.entries)
}

// Entries returns a copy of the entries in insertion order
func (q *Queue) Entries() []Entry {
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Clone returns an independent copy of the queue
func (q *Queue) Clone() *Queue {
	return &Queue{entries: q.Entries()}
}

// Sorted returns the references ordered by descending priority. Entries with
// equal priority keep their insertion order.
func (q *Queue) Sorted() []string {
	entries := q.Entries()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Priority > entries[j].Priority
	})
	refs := make([]string, len(entries))
	for i, e := range entries {
		refs[i] = e.Ref
	}
	return refs
}
