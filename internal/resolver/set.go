package resolver

import "github.com/fluxbase-eu/fluxassets/internal/reference"

// Set is an ordered collection of URLs with their metadata. The first Add of
// a URL wins.
type Set struct {
	order []string
	meta  map[string]reference.Meta
}

// NewSet creates an empty set
func NewSet() *Set {
	return &Set{meta: make(map[string]reference.Meta)}
}

// Add inserts url unless already present. It reports whether it was added.
func (s *Set) Add(url string, meta reference.Meta) bool {
	if _, ok := s.meta[url]; ok {
		return false
	}
	s.order = append(s.order, url)
	s.meta[url] = meta
	return true
}

// Get returns the metadata stored for url
func (s *Set) Get(url string) (reference.Meta, bool) {
	m, ok := s.meta[url]
	return m, ok
}

// Len returns the number of URLs
func (s *Set) Len() int {
	return len(s.order)
}

// URLs returns the URLs in insertion order
func (s *Set) URLs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Items returns the URLs and metadata in insertion order
func (s *Set) Items() []Resolved {
	out := make([]Resolved, len(s.order))
	for i, u := range s.order {
		out[i] = Resolved{URL: u, Meta: s.meta[u]}
	}
	return out
}
