// Package pipeline ties the bundle registry, the mapping store, the resolver
// and the renderer together for one application.
package pipeline

import (
	"errors"
	"html/template"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fluxbase-eu/fluxassets/internal/bundle"
	"github.com/fluxbase-eu/fluxassets/internal/config"
	"github.com/fluxbase-eu/fluxassets/internal/inclusion"
	"github.com/fluxbase-eu/fluxassets/internal/manifest"
	"github.com/fluxbase-eu/fluxassets/internal/observability"
	"github.com/fluxbase-eu/fluxassets/internal/reference"
	"github.com/fluxbase-eu/fluxassets/internal/render"
	"github.com/fluxbase-eu/fluxassets/internal/resolver"
	"github.com/fluxbase-eu/fluxassets/internal/templates"
	"github.com/rs/zerolog/log"
)

// Options configures a Pipeline
type Options struct {
	// Metrics may be nil
	Metrics *observability.Metrics
	// Templates, when set, is used to render route templates
	Templates *templates.Engine
}

// Pipeline is the asset pipeline of one application. It is safe for
// concurrent use; per-request state lives in a Scope.
type Pipeline struct {
	cfg       *config.Config
	registry  *bundle.Registry
	store     *manifest.Store
	resolver  *resolver.Resolver
	renderer  *render.Renderer
	importMap *render.ImportMap
	metrics   *observability.Metrics
	engine    *templates.Engine

	mu       sync.RWMutex
	defaults *inclusion.Queue
}

// New creates the pipeline, defines the configured bundles and loads the
// mapping file
func New(cfg *config.Config, opts Options) (*Pipeline, error) {
	p := &Pipeline{
		cfg:       cfg,
		registry:  bundle.NewRegistry(cfg.Assets.NodeModulesPath),
		store:     manifest.NewStore(cfg.Assets.MappingFile, manifest.StoreOptions{Debug: cfg.Debug, Metrics: opts.Metrics}),
		importMap: render.NewImportMap(cfg.Assets.ImportMap),
		metrics:   opts.Metrics,
		defaults:  inclusion.New(),
	}

	for alias, dir := range cfg.Esbuild.Aliases {
		p.registry.RegisterPackage(alias, dir)
	}

	endpoint := resolver.EndpointStatic
	if cfg.Debug && cfg.Assets.SeparateFolder() {
		endpoint = resolver.EndpointAssets
	}
	p.resolver = resolver.New(resolver.Config{
		StaticURLPath:  cfg.Assets.StaticURLPath,
		AssetsURLPath:  cfg.Assets.URLPath,
		AssetsEndpoint: endpoint,
		BaseURL:        cfg.BaseURL,
		CDNHost:        cfg.CDN.Host,
		CDNEnabled:     cfg.CDN.Enabled,
	}, opts.Metrics)

	p.renderer = &render.Renderer{ImportMap: p.importMap}
	if cfg.Debug {
		p.renderer.LiveReload = &render.LiveReloadSnippet{Host: cfg.LiveReload.Host, Port: cfg.LiveReload.Port}
	}

	if len(cfg.Assets.Bundles) > 0 {
		p.registry.DefineMany(cfg.Assets.Bundles, bundle.DefineOptions{
			Include: len(cfg.Assets.Include) == 0,
			Target:  p.defaults,
		})
	}
	p.registry.IncludeInto(p.defaults, inclusion.DefaultPriority, cfg.Assets.Include...)

	if _, err := p.store.Load(); err != nil {
		var decodeErr *manifest.DecodeError
		if !errors.As(err, &decodeErr) {
			return nil, err
		}
		log.Warn().Err(err).Str("file", cfg.Assets.MappingFile).Msg("Ignoring unreadable mapping file")
	}

	p.mapExposedNodePackages()
	p.MapMappedFiles()

	p.engine = opts.Templates
	return p, nil
}

// Config returns the configuration the pipeline was built with
func (p *Pipeline) Config() *config.Config { return p.cfg }

// Registry returns the bundle registry
func (p *Pipeline) Registry() *bundle.Registry { return p.registry }

// Store returns the mapping store
func (p *Pipeline) Store() *manifest.Store { return p.store }

// Resolver returns the URL resolver
func (p *Pipeline) Resolver() *resolver.Resolver { return p.resolver }

// ImportMap returns the import map
func (p *Pipeline) ImportMap() *render.ImportMap { return p.importMap }

// Metrics returns the metrics, possibly nil
func (p *Pipeline) Metrics() *observability.Metrics { return p.metrics }

// Templates returns the template engine, possibly nil
func (p *Pipeline) Templates() *templates.Engine { return p.engine }

// SetTemplates attaches a template engine
func (p *Pipeline) SetTemplates(e *templates.Engine) { p.engine = e }

// Bundle defines a bundle. With opts.Include the bundle joins the default
// includes of every future scope.
func (p *Pipeline) Bundle(name string, entries []string, opts bundle.DefineOptions) []string {
	include := opts.Include
	opts.Include = false
	names := p.registry.Define(name, entries, opts)
	if include {
		p.IncludeDefault(opts.Priority, names...)
	}
	return names
}

// IncludeDefault adds references to the includes every new scope starts with
func (p *Pipeline) IncludeDefault(priority int, refs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry.IncludeInto(p.defaults, priority, refs...)
}

// Defaults returns the default includes in resolution order
func (p *Pipeline) Defaults() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.defaults.Sorted()
}

// Inliner returns an inliner that registers template blocks with this
// pipeline. write controls whether block content is written to disk.
func (p *Pipeline) Inliner(write bool) *templates.Inliner {
	return &templates.Inliner{
		Registry:     p.registry,
		AssetsFolder: p.cfg.Assets.Folder,
		OnDemand:     p.cfg.Assets.IncludeInlineOnDemand,
		Write:        write,
		Include: func(refs ...string) {
			p.IncludeDefault(inclusion.DefaultPriority, refs...)
		},
	}
}

// TemplateEngine creates the engine that renders pages. Inline asset blocks
// are only extracted when assets.inline is set; otherwise templates are
// loaded as written.
func (p *Pipeline) TemplateEngine() *templates.Engine {
	opts := templates.Options{
		Folders: p.cfg.Assets.TemplateFolders,
		Reload:  p.cfg.Debug,
	}
	if p.cfg.Assets.Inline {
		opts.Inliner = p.Inliner(false)
	}
	return templates.NewEngine(opts)
}

// TailwindOutputURL is where the generated stylesheet is served, or "" when
// tailwind is not configured
func (p *Pipeline) TailwindOutputURL() string {
	if !p.cfg.Tailwind.Enabled() {
		return ""
	}
	return strings.TrimRight(p.cfg.Assets.OutputURL, "/") + "/" + filepath.ToSlash(p.cfg.Tailwind.Input)
}

// NewScope starts a render scope with the default includes
func (p *Pipeline) NewScope() *Scope {
	p.mu.RLock()
	q := p.defaults.Clone()
	p.mu.RUnlock()

	if u := p.TailwindOutputURL(); u != "" {
		p.registry.IncludeFileInto(q, inclusion.DefaultPriority, u)
	}
	return &Scope{p: p, queue: q}
}

// Include adds references to a scope
func (p *Pipeline) Include(s *Scope, priority int, refs ...string) {
	p.registry.IncludeInto(s.queue, priority, refs...)
}

// URLs resolves references to URLs with metadata. With no references the
// scope's queue is used, highest priority first.
func (p *Pipeline) URLs(s *Scope, refs []reference.Reference, opts resolver.Options) *resolver.Set {
	if refs == nil {
		refs = reference.Literals(s.queue.Sorted()...)
	}
	return p.resolver.ResolveMany(refs, s.Mapping(), opts)
}

// URL resolves one reference to its first URL. Hint outputs are kept so a
// reference carrying a hint modifier still resolves to its own URL.
func (p *Pipeline) URL(s *Scope, ref reference.Reference, opts resolver.Options) string {
	opts.WithHints = true
	out := p.resolver.Resolve(ref, s.Mapping(), opts)
	if len(out) == 0 {
		return ""
	}
	return out[0].URL
}

// Tags renders HTML for references, or for the scope's queue when none are
// given. Bundle names are expanded.
func (p *Pipeline) Tags(s *Scope, refs ...string) template.HTML {
	var rs []reference.Reference
	if len(refs) > 0 {
		rs = []reference.Reference{}
	}
	for _, ref := range refs {
		rs = append(rs, reference.Literals(p.registry.Expand(ref)...)...)
	}
	set := p.URLs(s, rs, resolver.Options{WithHints: true})
	return p.renderer.Render(set, render.TagOptions{Nonce: s.Nonce})
}

// StaticURL is the URL of a file in the static folder
func (p *Pipeline) StaticURL(filename string) string {
	return p.resolver.URLFor(filename, reference.ModifierStatic, false)
}

// MapImport adds an import map entry
func (p *Pipeline) MapImport(name, url string) {
	p.importMap.Set(name, url)
}

// MapMappedFiles adds import map entries for mapping outputs flagged with
// map_as. Relative outputs live in the static folder.
func (p *Pipeline) MapMappedFiles() {
	imports := manifest.MapAsImports(p.store.Current())
	for name, u := range imports {
		imports[name] = p.resolver.URLFor(u, reference.ModifierStatic, false)
	}
	p.importMap.Merge(imports)
}

func (p *Pipeline) mapExposedNodePackages() {
	for _, name := range p.cfg.Assets.ExposeNodePackages {
		name, _, _ = strings.Cut(name, ":")
		p.MapImport(name, path.Join(p.cfg.Assets.OutputURL, "vendor", name+".js"))
	}
}

// ReloadMapping re-reads the mapping file and refreshes map_as imports
func (p *Pipeline) ReloadMapping() error {
	if _, err := p.store.Load(); err != nil {
		return err
	}
	p.MapMappedFiles()
	return nil
}
