package resolver

import (
	"testing"

	"github.com/fluxbase-eu/fluxassets/internal/manifest"
	"github.com/fluxbase-eu/fluxassets/internal/observability"
	"github.com/fluxbase-eu/fluxassets/internal/reference"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMapping() manifest.Mapping {
	return manifest.Mapping{
		"app.js": {
			manifest.ModifiedOutput("/static/dist/app-ABC123.js", reference.ModifierImport),
			manifest.URLOutput("/static/dist/app-ABC123.css"),
			manifest.ModifiedOutput("/static/dist/chunk-XYZ.js", reference.ModifierModulePreload),
		},
		"admin.js": {
			manifest.ModifiedOutput("/static/dist/admin-1.js", reference.ModifierImport),
			manifest.ModifiedOutput("/static/dist/chunk-XYZ.js", reference.ModifierModulePreload),
		},
		"copied.js": {
			{URL: "copied-1234567890.js", Meta: reference.Meta{MapAs: "copied.js"}},
		},
		"lib.js": {
			manifest.URLOutput("https://cdn.example.com/lib.js"),
		},
	}
}

func TestResolve_Unmapped(t *testing.T) {
	r := New(Config{}, nil)

	tests := []struct {
		name string
		ref  string
		want string
	}{
		{"absolute in-app path", "/static/robots.txt", "/static/robots.txt"},
		{"external url", "https://example.com/x.js", "https://example.com/x.js"},
		{"relative path goes through the endpoint", "img/logo.png", "/static/img/logo.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(reference.Literal(tt.ref), manifest.Mapping{}, Options{})
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].URL)
		})
	}
}

func TestResolve_MappedOutputs(t *testing.T) {
	r := New(Config{}, nil)

	t.Run("hints dropped by default", func(t *testing.T) {
		got := r.Resolve(reference.Literal("app.js"), testMapping(), Options{})
		require.Len(t, got, 2)
		assert.Equal(t, "/static/dist/app-ABC123.js", got[0].URL)
		assert.Equal(t, reference.ModifierImport, got[0].Meta.Modifier)
		assert.Equal(t, "/static/dist/app-ABC123.css", got[1].URL)
	})

	t.Run("hints kept on request", func(t *testing.T) {
		got := r.Resolve(reference.Literal("app.js"), testMapping(), Options{WithHints: true})
		require.Len(t, got, 3)
		assert.Equal(t, reference.ModifierModulePreload, got[2].Meta.Modifier)
	})

	t.Run("output metadata wins over reference metadata", func(t *testing.T) {
		got := r.Resolve(reference.Literal("prefetch app.js#id=main"), testMapping(), Options{})
		require.NotEmpty(t, got)
		assert.Equal(t, reference.ModifierImport, got[0].Meta.Modifier)
		assert.Equal(t, "main", got[0].Meta.Attrs["id"])
	})

	t.Run("external outputs default crossorigin", func(t *testing.T) {
		got := r.Resolve(reference.Literal("lib.js"), testMapping(), Options{})
		require.Len(t, got, 1)
		assert.Equal(t, "anonymous", got[0].Meta.Attrs["crossorigin"])

		got = r.Resolve(reference.Literal("lib.js#crossorigin=use-credentials"), testMapping(), Options{})
		assert.Equal(t, "use-credentials", got[0].Meta.Attrs["crossorigin"])
	})

	t.Run("pair reference", func(t *testing.T) {
		got := r.Resolve(reference.WithModifier("robots.txt", reference.ModifierStatic), manifest.Mapping{}, Options{})
		require.Len(t, got, 1)
		assert.Equal(t, "/static/robots.txt", got[0].URL)
	})
}

func TestResolveMany_Dedup(t *testing.T) {
	r := New(Config{}, nil)

	set := r.ResolveMany(reference.Literals("app.js#id=first", "admin.js", "app.js#id=second"), testMapping(), Options{WithHints: true})

	assert.Equal(t, []string{
		"/static/dist/app-ABC123.js",
		"/static/dist/app-ABC123.css",
		"/static/dist/chunk-XYZ.js",
		"/static/dist/admin-1.js",
	}, set.URLs())

	meta, ok := set.Get("/static/dist/app-ABC123.js")
	require.True(t, ok)
	assert.Equal(t, "first", meta.Attrs["id"])

	// the shared chunk keeps the metadata of the first reference that produced it
	meta, _ = set.Get("/static/dist/chunk-XYZ.js")
	assert.Equal(t, "first", meta.Attrs["id"])
}

func TestResolve_Idempotent(t *testing.T) {
	r := New(Config{}, nil)
	first := r.Resolve(reference.Literal("app.js"), testMapping(), Options{WithHints: true})
	second := r.Resolve(reference.Literal("app.js"), testMapping(), Options{WithHints: true})
	assert.Equal(t, first, second)
}

func TestURLFor(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		url      string
		modifier reference.Modifier
		external bool
		want     string
	}{
		{
			name: "static endpoint",
			cfg:  Config{StaticURLPath: "/static"},
			url:  "app-1.js",
			want: "/static/app-1.js",
		},
		{
			name: "separate assets endpoint",
			cfg:  Config{StaticURLPath: "/static", AssetsURLPath: "/assets", AssetsEndpoint: EndpointAssets},
			url:  "app.js",
			want: "/assets/app.js",
		},
		{
			name:     "static modifier forces static endpoint",
			cfg:      Config{StaticURLPath: "/static", AssetsURLPath: "/assets", AssetsEndpoint: EndpointAssets},
			url:      "robots.txt",
			modifier: reference.ModifierStatic,
			want:     "/static/robots.txt",
		},
		{
			name:     "external",
			cfg:      Config{BaseURL: "https://example.com/"},
			url:      "app.js",
			external: true,
			want:     "https://example.com/static/app.js",
		},
		{
			name:     "cdn replaces external host",
			cfg:      Config{BaseURL: "https://example.com", CDNHost: "https://cdn.example.com", CDNEnabled: true},
			url:      "app.js",
			external: true,
			want:     "https://cdn.example.com/static/app.js",
		},
		{
			name: "cdn prefixes absolute in-app paths",
			cfg:  Config{CDNHost: "https://cdn.example.com/", CDNEnabled: true},
			url:  "/static/dist/app-1.js",
			want: "https://cdn.example.com/static/dist/app-1.js",
		},
		{
			name: "cdn host unused when disabled",
			cfg:  Config{CDNHost: "https://cdn.example.com"},
			url:  "/static/dist/app-1.js",
			want: "/static/dist/app-1.js",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.cfg, nil)
			assert.Equal(t, tt.want, r.URLFor(tt.url, tt.modifier, tt.external))
		})
	}
}

func TestResolve_RecordsLookups(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := New(Config{}, metrics)

	assert.NotPanics(t, func() {
		r.Resolve(reference.Literal("app.js"), testMapping(), Options{})
		r.Resolve(reference.Literal("missing.js"), testMapping(), Options{})
	})
}
