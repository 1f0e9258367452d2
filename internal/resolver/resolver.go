// Package resolver turns asset references into final URLs using the current
// source-to-output mapping.
package resolver

import (
	"strings"

	"github.com/fluxbase-eu/fluxassets/internal/manifest"
	"github.com/fluxbase-eu/fluxassets/internal/observability"
	"github.com/fluxbase-eu/fluxassets/internal/reference"
)

// Endpoint names understood by Config.AssetsEndpoint
const (
	EndpointStatic = "static"
	EndpointAssets = "assets"
)

// Config describes how relative outputs become URLs
type Config struct {
	// StaticURLPath is where the static folder is served, e.g. "/static"
	StaticURLPath string
	// AssetsURLPath is where the assets folder is served when it is separate
	AssetsURLPath string
	// AssetsEndpoint is "static" when assets live in the static folder,
	// "assets" otherwise
	AssetsEndpoint string
	// BaseURL prefixes external URLs, e.g. "https://example.com"
	BaseURL string
	// CDNHost prefixes every in-app URL when CDNEnabled is set
	CDNHost    string
	CDNEnabled bool
}

// Options controls a resolution
type Options struct {
	// WithHints keeps prefetch/preload/modulepreload outputs
	WithHints bool
	// External produces absolute URLs including BaseURL
	External bool
}

// Resolved is one final URL with its merged metadata
type Resolved struct {
	URL  string
	Meta reference.Meta
}

// Resolver resolves references against a mapping. It holds no per-request
// state and is safe for concurrent use.
type Resolver struct {
	cfg     Config
	metrics *observability.Metrics
}

// New creates a resolver. metrics may be nil.
func New(cfg Config, metrics *observability.Metrics) *Resolver {
	if cfg.StaticURLPath == "" {
		cfg.StaticURLPath = "/static"
	}
	if cfg.AssetsEndpoint == "" {
		cfg.AssetsEndpoint = EndpointStatic
	}
	if cfg.AssetsURLPath == "" {
		cfg.AssetsURLPath = cfg.StaticURLPath
	}
	return &Resolver{cfg: cfg, metrics: metrics}
}

// Config returns the resolver configuration
func (r *Resolver) Config() Config {
	return r.cfg
}

// Resolve expands one reference into its final URLs. Unmapped paths resolve
// to themselves.
func (r *Resolver) Resolve(ref reference.Reference, m manifest.Mapping, opts Options) []Resolved {
	set := NewSet()
	r.resolveInto(set, ref, m, opts)
	return set.Items()
}

// ResolveMany resolves references in order into a single deduplicated set.
// When two references produce the same URL the first one's metadata is kept.
func (r *Resolver) ResolveMany(refs []reference.Reference, m manifest.Mapping, opts Options) *Set {
	set := NewSet()
	for _, ref := range refs {
		r.resolveInto(set, ref, m, opts)
	}
	return set
}

func (r *Resolver) resolveInto(set *Set, ref reference.Reference, m manifest.Mapping, opts Options) {
	parsed := reference.Normalize(ref)

	outs, ok := m.Lookup(parsed.Path)
	r.metrics.RecordLookup(ok)
	if !ok {
		outs = []manifest.Output{manifest.URLOutput(parsed.Path)}
	}

	for _, out := range outs {
		meta := parsed.Meta.Overlay(out.Meta)
		if meta.Modifier.IsHint() && !opts.WithHints {
			continue
		}
		url := out.URL
		if reference.IsAbsURL(url) {
			if _, ok := meta.Attr("crossorigin"); !ok {
				meta.SetAttr("crossorigin", "anonymous")
			}
		} else {
			url = r.URLFor(url, meta.Modifier, opts.External)
		}
		set.Add(url, meta)
	}
}

// URLFor turns a relative output into a served URL following the endpoint
// convention: static outputs live under the static path, everything else
// under the assets path. Paths already starting with "/" are kept, but still
// move to the CDN when it is enabled.
func (r *Resolver) URLFor(u string, modifier reference.Modifier, external bool) string {
	if reference.IsAbsURL(u) {
		return u
	}
	if !strings.HasPrefix(u, "/") {
		base := r.cfg.AssetsURLPath
		if modifier == reference.ModifierStatic || r.cfg.AssetsEndpoint == EndpointStatic {
			base = r.cfg.StaticURLPath
		}
		u = joinURL(base, u)
		if external && !r.cfg.CDNEnabled {
			u = strings.TrimRight(r.cfg.BaseURL, "/") + u
		}
	}
	if r.cfg.CDNEnabled {
		u = strings.TrimRight(r.cfg.CDNHost, "/") + u
	}
	return u
}

func joinURL(base, p string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/")
}
