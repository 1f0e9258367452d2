package bundle

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fluxbase-eu/fluxassets/internal/inclusion"
)

// ErrUnknownBundle is returned when a bundle is looked up explicitly by a
// name that was never defined
var ErrUnknownBundle = errors.New("unknown bundle")

// Bundle is a named, ordered collection of entrypoints
type Bundle struct {
	Name    string       `json:"name" yaml:"name"`
	Entries []Entrypoint `json:"entries" yaml:"entries"`
}

// Paths returns the canonical paths of the bundle's entries in order
func (b Bundle) Paths() []string {
	paths := make([]string, len(b.Entries))
	for i, e := range b.Entries {
		paths[i] = e.Path()
	}
	return paths
}

// DefineOptions controls how a bundle definition is registered
type DefineOptions struct {
	// Include pushes the bundle onto Target once defined
	Include bool
	// Priority used when including; zero means inclusion.DefaultPriority
	Priority int
	// Target is the inclusion queue that receives the bundle
	Target *inclusion.Queue
	// Scope rewrites relative entries (used for namespaced bundles)
	Scope Scope
}

// Registry stores bundles by name. Bundles may be added while templates are
// compiled by a watcher goroutine, so access is synchronized.
type Registry struct {
	mu          sync.RWMutex
	bundles     map[string]*Bundle
	order       []string
	packages    map[string]string
	nodeModules string
}

// NewRegistry creates an empty registry. nodeModules is where package
// origins without a registered alias are looked up.
func NewRegistry(nodeModules string) *Registry {
	if nodeModules == "" {
		nodeModules = "node_modules"
	}
	return &Registry{
		bundles:     make(map[string]*Bundle),
		packages:    make(map[string]string),
		nodeModules: nodeModules,
	}
}

// Define registers a bundle. With an empty name every entry becomes its own
// bundle named after the entry. It returns the defined bundle names.
func (r *Registry) Define(name string, entries []string, opts DefineOptions) []string {
	var names []string
	if name == "" {
		for _, spec := range entries {
			r.store(spec, []Entrypoint{ParseEntry(spec, opts.Scope)})
			names = append(names, spec)
		}
	} else {
		parsed := make([]Entrypoint, 0, len(entries))
		for _, spec := range entries {
			parsed = append(parsed, ParseEntry(spec, opts.Scope))
		}
		r.store(name, parsed)
		names = []string{name}
	}

	if opts.Include && opts.Target != nil {
		r.IncludeInto(opts.Target, opts.Priority, names...)
	}
	return names
}

// DefineEntrypoints registers a bundle from already structured entries
func (r *Registry) DefineEntrypoints(name string, entries []Entrypoint, opts DefineOptions) {
	cp := make([]Entrypoint, len(entries))
	copy(cp, entries)
	r.store(name, cp)
	if opts.Include && opts.Target != nil {
		r.IncludeInto(opts.Target, opts.Priority, name)
	}
}

// DefineMany registers several bundles at once. Names are processed in
// sorted order so that definition order is deterministic.
func (r *Registry) DefineMany(bundles map[string][]string, opts DefineOptions) []string {
	names := make([]string, 0, len(bundles))
	for name := range bundles {
		names = append(names, name)
	}
	sort.Strings(names)

	var defined []string
	for _, name := range names {
		defined = append(defined, r.Define(name, bundles[name], opts)...)
	}
	return defined
}

// Namespaced registers the bundle "@owner" whose relative entries live under
// root and whose outputs go to the owner's output subfolder.
func (r *Registry) Namespaced(owner, root string, entries []string, opts DefineOptions) string {
	name := "@" + owner
	opts.Scope = Scope{AssetsFolder: root, OutputFolder: owner}
	r.Define(name, entries, opts)
	return name
}

// Append adds an entry to an existing bundle, creating it if needed
func (r *Registry) Append(name, spec string) {
	e := ParseEntry(spec, Scope{})
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bundles[name]
	if !ok {
		r.bundles[name] = &Bundle{Name: name, Entries: []Entrypoint{e}}
		r.order = append(r.order, name)
		return
	}
	b.Entries = upsert(b.Entries, e)
}

func (r *Registry) store(name string, entries []Entrypoint) {
	deduped := make([]Entrypoint, 0, len(entries))
	for _, e := range entries {
		deduped = upsert(deduped, e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bundles[name]; !ok {
		r.order = append(r.order, name)
	}
	r.bundles[name] = &Bundle{Name: name, Entries: deduped}
}

// upsert keeps entry paths unique, replacing an existing entry in place
func upsert(entries []Entrypoint, e Entrypoint) []Entrypoint {
	for i := range entries {
		if entries[i].Path() == e.Path() {
			entries[i] = e
			return entries
		}
	}
	return append(entries, e)
}

// Has reports whether a bundle with this name is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bundles[name]
	return ok
}

// Get returns a copy of the named bundle
func (r *Registry) Get(name string) (Bundle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bundles[name]
	if !ok {
		return Bundle{}, false
	}
	return copyBundle(b), true
}

// Names returns bundle names in definition order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Bundles returns copies of all bundles in definition order
func (r *Registry) Bundles() []Bundle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Bundle, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, copyBundle(r.bundles[name]))
	}
	return out
}

// Len returns the number of bundles
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bundles)
}

// Flatten returns the entries of one bundle, or of every bundle when name is
// empty.
func (r *Registry) Flatten(name string) ([]Entrypoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name != "" {
		b, ok := r.bundles[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBundle, name)
		}
		out := make([]Entrypoint, len(b.Entries))
		copy(out, b.Entries)
		return out, nil
	}

	var out []Entrypoint
	for _, n := range r.order {
		out = append(out, r.bundles[n].Entries...)
	}
	return out, nil
}

// All is Flatten("") without the error
func (r *Registry) All() []Entrypoint {
	entries, _ := r.Flatten("")
	return entries
}

// Expand turns a reference into the paths it stands for. A registered bundle
// name expands into its entry paths; anything else is returned unchanged.
// Bundle names take precedence over file names spelled the same way. The
// lookup is by exact name, so a reference with a modifier or a fragment never
// matches a bundle.
func (r *Registry) Expand(ref string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.bundles[ref]; ok {
		return b.Paths()
	}
	return []string{ref}
}

// IncludeInto pushes references onto q, expanding bundle names
func (r *Registry) IncludeInto(q *inclusion.Queue, priority int, refs ...string) {
	if priority == 0 {
		priority = inclusion.DefaultPriority
	}
	for _, ref := range refs {
		q.PushAll(priority, r.Expand(ref)...)
	}
}

// IncludeFileInto pushes references onto q as literal files, skipping the
// bundle lookup
func (r *Registry) IncludeFileInto(q *inclusion.Queue, priority int, refs ...string) {
	if priority == 0 {
		priority = inclusion.DefaultPriority
	}
	q.PushAll(priority, refs...)
}

// RegisterPackage records the directory that a package origin resolves to
func (r *Registry) RegisterPackage(alias, dir string) {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packages[alias] = dir
}

// Packages returns a copy of the registered package aliases
func (r *Registry) Packages() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.packages))
	for k, v := range r.packages {
		out[k] = v
	}
	return out
}

// ResolvePath returns the filesystem path the bundler sees for e. Relative
// sources resolve against assetsFolder; external URLs are returned as is.
func (r *Registry) ResolvePath(e Entrypoint, assetsFolder string) string {
	switch {
	case e.IsExternal():
		return e.SourcePath
	case e.PackageOrigin != "":
		r.mu.RLock()
		dir, ok := r.packages[e.PackageOrigin]
		r.mu.RUnlock()
		if !ok {
			dir = filepath.Join(r.nodeModules, e.PackageOrigin)
		}
		return filepath.Join(dir, e.SourcePath)
	case filepath.IsAbs(e.SourcePath):
		return e.SourcePath
	default:
		return filepath.Join(assetsFolder, e.SourcePath)
	}
}

func copyBundle(b *Bundle) Bundle {
	entries := make([]Entrypoint, len(b.Entries))
	copy(entries, b.Entries)
	return Bundle{Name: b.Name, Entries: entries}
}
