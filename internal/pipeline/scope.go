package pipeline

import (
	"html/template"

	"github.com/fluxbase-eu/fluxassets/internal/inclusion"
	"github.com/fluxbase-eu/fluxassets/internal/manifest"
	"github.com/fluxbase-eu/fluxassets/internal/reference"
	"github.com/fluxbase-eu/fluxassets/internal/resolver"
)

// Scope is the asset state of one render: its inclusion queue and the
// mapping snapshot taken on first use. A Scope is not safe for concurrent
// use.
type Scope struct {
	p       *Pipeline
	queue   *inclusion.Queue
	mapping manifest.Mapping
	// Nonce is added to rendered script tags
	Nonce string
}

// Queue returns the scope's inclusion queue
func (s *Scope) Queue() *inclusion.Queue {
	return s.queue
}

// Mapping returns the mapping for this render. It is read once per scope so
// a render sees a single consistent mapping.
func (s *Scope) Mapping() manifest.Mapping {
	if s.mapping == nil {
		s.mapping = s.p.store.Snapshot()
		if s.mapping == nil {
			s.mapping = manifest.Mapping{}
		}
	}
	return s.mapping
}

// Include queues references at the default priority
func (s *Scope) Include(refs ...string) {
	s.p.Include(s, inclusion.DefaultPriority, refs...)
}

// IncludePriority queues references at the given priority
func (s *Scope) IncludePriority(priority int, refs ...string) {
	s.p.Include(s, priority, refs...)
}

// URL resolves ref to its first URL
func (s *Scope) URL(ref string, external bool) string {
	return s.p.URL(s, reference.Literal(ref), resolver.Options{External: external})
}

// URLs resolves the queued references
func (s *Scope) URLs() []string {
	return s.p.URLs(s, nil, resolver.Options{}).URLs()
}

// StaticURL is the URL of a file in the static folder
func (s *Scope) StaticURL(filename string) string {
	return s.p.StaticURL(filename)
}

// Tags renders refs, or everything queued when none are given
func (s *Scope) Tags(refs ...string) template.HTML {
	return s.p.Tags(s, refs...)
}
