package render

import (
	"strings"
	"testing"

	"github.com/fluxbase-eu/fluxassets/internal/reference"
	"github.com/fluxbase-eu/fluxassets/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setOf(items ...resolver.Resolved) *resolver.Set {
	s := resolver.NewSet()
	for _, it := range items {
		s.Add(it.URL, it.Meta)
	}
	return s
}

func TestRender_Classification(t *testing.T) {
	set := setOf(
		resolver.Resolved{URL: "/static/app.css"},
		resolver.Resolved{URL: "/static/app.js", Meta: reference.Meta{Modifier: reference.ModifierImport}},
		resolver.Resolved{URL: "/static/next.js", Meta: reference.Meta{Modifier: reference.ModifierPrefetch}},
	)

	out := string((&Renderer{}).Render(set, TagOptions{}))

	assert.Equal(t, 1, strings.Count(out, `rel="stylesheet"`))
	assert.Equal(t, 1, strings.Count(out, `type="module"`))
	assert.Equal(t, 1, strings.Count(out, `rel="prefetch"`))

	prefetch := strings.Index(out, `rel="prefetch"`)
	assert.Less(t, prefetch, strings.Index(out, `rel="stylesheet"`))
	assert.Less(t, prefetch, strings.Index(out, `type="module"`))

	assert.Equal(t, strings.Join([]string{
		`<link rel="prefetch" href="/static/next.js">`,
		`<link rel="stylesheet" href="/static/app.css">`,
		`<script src="/static/app.js" type="module"></script>`,
	}, "\n"), out)
}

func TestTag(t *testing.T) {
	tests := []struct {
		name string
		url  string
		meta reference.Meta
		opts TagOptions
		want string
	}{
		{
			name: "classic script",
			url:  "/static/legacy.js",
			want: `<script src="/static/legacy.js"></script>`,
		},
		{
			name: "deferred classic script",
			url:  "/static/legacy.js",
			meta: reference.Meta{Defer: true},
			want: `<script src="/static/legacy.js" defer></script>`,
		},
		{
			name: "module with attributes",
			url:  "/static/app.js",
			meta: reference.Meta{Modifier: reference.ModifierImport, Attrs: map[string]any{"async": true, "id": "main", "off": false, "empty": ""}},
			want: `<script src="/static/app.js" type="module" async id="main"></script>`,
		},
		{
			name: "nonce on scripts",
			url:  "/static/app.js",
			meta: reference.Meta{Modifier: reference.ModifierImport},
			opts: TagOptions{Nonce: "abc"},
			want: `<script src="/static/app.js" type="module" nonce="abc"></script>`,
		},
		{
			name: "style by content type",
			url:  "/static/theme",
			meta: reference.Meta{ContentType: "style"},
			want: `<link rel="stylesheet" href="/static/theme">`,
		},
		{
			name: "style with query string",
			url:  "/static/app.css?v=1",
			want: `<link rel="stylesheet" href="/static/app.css?v=1">`,
		},
		{
			name: "preload with type",
			url:  "/static/icon.woff2",
			meta: reference.Meta{Modifier: reference.ModifierPreload, ContentType: "font", Attrs: map[string]any{"crossorigin": "anonymous"}},
			want: `<link rel="preload" href="/static/icon.woff2" as="font" crossorigin="anonymous">`,
		},
		{
			name: "preload infers missing type",
			url:  "/static/hero.png",
			meta: reference.Meta{Modifier: reference.ModifierPreload},
			want: `<link rel="preload" href="/static/hero.png" as="image">`,
		},
		{
			name: "modulepreload",
			url:  "/static/chunk.js",
			meta: reference.Meta{Modifier: reference.ModifierModulePreload},
			want: `<link rel="modulepreload" href="/static/chunk.js">`,
		},
		{
			name: "values are escaped",
			url:  `/static/a".js`,
			meta: reference.Meta{Attrs: map[string]any{"data-x": `<"&>`}},
			want: `<script src="/static/a&#34;.js" data-x="&lt;&#34;&amp;&gt;"></script>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tag(Classify(tt.url, tt.meta), tt.url, tt.meta, tt.opts))
		})
	}
}

func TestRender_Preambles(t *testing.T) {
	r := &Renderer{
		ImportMap:  NewImportMap(map[string]string{"htmx": "/static/dist/vendor/htmx.js"}),
		LiveReload: &LiveReloadSnippet{Port: 9000},
	}
	set := setOf(
		resolver.Resolved{URL: "/static/app.js", Meta: reference.Meta{Modifier: reference.ModifierImport}},
		resolver.Resolved{URL: "/static/chunk.js", Meta: reference.Meta{Modifier: reference.ModifierModulePreload}},
	)

	out := string(r.Render(set, TagOptions{}))
	lines := strings.Split(out, "\n")
	require.NotEmpty(t, lines)

	assert.Equal(t, `<script type="importmap">{"imports":{"htmx":"/static/dist/vendor/htmx.js"}}</script>`, lines[0])
	assert.Equal(t, `<link rel="modulepreload" href="/static/chunk.js">`, lines[1])
	assert.Equal(t, `<script src="/static/app.js" type="module"></script>`, lines[2])
	assert.Contains(t, out, "new EventSource('http://localhost:9000')")
	assert.True(t, strings.HasSuffix(out, "</script>"))
}

func TestRender_EmptyImportMapOmitted(t *testing.T) {
	r := &Renderer{ImportMap: NewImportMap(nil)}
	assert.Equal(t, "", string(r.Render(resolver.NewSet(), TagOptions{})))
}

func TestImportMap_HTMLEscapes(t *testing.T) {
	im := NewImportMap(nil)
	im.Set("x", "/static/</script>.js")
	assert.NotContains(t, im.HTML(""), "</script>.js")
	assert.Contains(t, im.HTML("n1"), `<script type="importmap" nonce="n1">`)
}

func TestLiveReloadSnippet_URL(t *testing.T) {
	assert.Equal(t, "http://localhost:7878", (&LiveReloadSnippet{}).URL())
	assert.Equal(t, "http://127.0.0.1:5000", (&LiveReloadSnippet{Host: "127.0.0.1", Port: 5000}).URL())
}
