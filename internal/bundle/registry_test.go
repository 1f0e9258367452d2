package bundle

import (
	"path/filepath"
	"testing"

	"github.com/fluxbase-eu/fluxassets/internal/inclusion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntry(t *testing.T) {
	tests := []struct {
		name  string
		spec  string
		scope Scope
		want  Entrypoint
	}{
		{
			name: "bare path",
			spec: "app.js",
			want: Entrypoint{SourcePath: "app.js"},
		},
		{
			name: "explicit output name",
			spec: "app.js=main",
			want: Entrypoint{SourcePath: "app.js", OutputName: "main"},
		},
		{
			name: "package origin",
			spec: "htmx:dist/htmx.js",
			want: Entrypoint{SourcePath: "dist/htmx.js", PackageOrigin: "htmx"},
		},
		{
			name: "external url kept verbatim",
			spec: "https://cdn.example.com/lib.js",
			want: Entrypoint{SourcePath: "https://cdn.example.com/lib.js"},
		},
		{
			name:  "scoped relative path",
			spec:  "widget.js",
			scope: Scope{AssetsFolder: "/srv/plugins/blog", OutputFolder: "blog"},
			want:  Entrypoint{SourcePath: "/srv/plugins/blog/widget.js", OutputName: "blog/widget.js"},
		},
		{
			name:  "scoped absolute path keeps source",
			spec:  "/abs/widget.js",
			scope: Scope{AssetsFolder: "/srv/plugins/blog", OutputFolder: "blog"},
			want:  Entrypoint{SourcePath: "/abs/widget.js", OutputName: "blog/abs/widget.js"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseEntry(tt.spec, tt.scope))
		})
	}
}

func TestEntrypoint_Path(t *testing.T) {
	assert.Equal(t, "app.js", Entrypoint{SourcePath: "app.js"}.Path())
	assert.Equal(t, "htmx:dist/htmx.js", Entrypoint{SourcePath: "dist/htmx.js", PackageOrigin: "htmx"}.Path())
	assert.True(t, Entrypoint{SourcePath: "//cdn/x.js"}.IsExternal())
	assert.False(t, Entrypoint{SourcePath: "/abs/x.js", PackageOrigin: "pkg"}.IsAbs())
}

func TestRegistry_Define(t *testing.T) {
	t.Run("named bundle keeps order and unique paths", func(t *testing.T) {
		r := NewRegistry("")
		names := r.Define("main", []string{"a.js", "b.css", "a.js=renamed"}, DefineOptions{})

		assert.Equal(t, []string{"main"}, names)
		b, ok := r.Get("main")
		require.True(t, ok)
		require.Len(t, b.Entries, 2)
		assert.Equal(t, "a.js", b.Entries[0].SourcePath)
		assert.Equal(t, "renamed", b.Entries[0].OutputName)
		assert.Equal(t, "b.css", b.Entries[1].SourcePath)
	})

	t.Run("auto names one bundle per file", func(t *testing.T) {
		r := NewRegistry("")
		names := r.Define("", []string{"a.js", "b.js"}, DefineOptions{})

		assert.Equal(t, []string{"a.js", "b.js"}, names)
		assert.True(t, r.Has("a.js"))
		assert.True(t, r.Has("b.js"))
	})

	t.Run("include pushes onto target queue", func(t *testing.T) {
		r := NewRegistry("")
		q := inclusion.New()
		r.Define("main", []string{"a.js", "b.js"}, DefineOptions{Include: true, Priority: 5, Target: q})

		require.Equal(t, 2, q.Len())
		for _, e := range q.Entries() {
			assert.Equal(t, 5, e.Priority)
		}
	})

	t.Run("dictionary form is deterministic", func(t *testing.T) {
		r := NewRegistry("")
		r.DefineMany(map[string][]string{"z": {"z.js"}, "a": {"a.js"}, "m": {"m.js"}}, DefineOptions{})
		assert.Equal(t, []string{"a", "m", "z"}, r.Names())
	})
}

func TestRegistry_Flatten(t *testing.T) {
	r := NewRegistry("")
	r.Define("first", []string{"a.js", "b.js"}, DefineOptions{})
	r.Define("second", []string{"c.css"}, DefineOptions{})

	one, err := r.Flatten("second")
	require.NoError(t, err)
	assert.Equal(t, []Entrypoint{{SourcePath: "c.css"}}, one)

	all, err := r.Flatten("")
	require.NoError(t, err)
	paths := make([]string, len(all))
	for i, e := range all {
		paths[i] = e.Path()
	}
	assert.Equal(t, []string{"a.js", "b.js", "c.css"}, paths)

	_, err = r.Flatten("missing")
	assert.ErrorIs(t, err, ErrUnknownBundle)
}

func TestRegistry_Append(t *testing.T) {
	r := NewRegistry("")
	r.Append("inline", "page.js")
	r.Append("inline", "page.css")
	r.Append("inline", "page.js")

	b, ok := r.Get("inline")
	require.True(t, ok)
	assert.Equal(t, []string{"page.js", "page.css"}, b.Paths())
}

func TestRegistry_Namespaced(t *testing.T) {
	r := NewRegistry("")
	root := t.TempDir()
	name := r.Namespaced("blog", root, []string{"post.js"}, DefineOptions{})

	assert.Equal(t, "@blog", name)
	b, ok := r.Get("@blog")
	require.True(t, ok)
	require.Len(t, b.Entries, 1)
	assert.Equal(t, filepath.Join(root, "post.js"), b.Entries[0].SourcePath)
	assert.Equal(t, "blog/post.js", b.Entries[0].OutputName)
}

func TestRegistry_IncludeInto(t *testing.T) {
	r := NewRegistry("")
	r.Define("main", []string{"a.js", "b.css"}, DefineOptions{})

	t.Run("bundle names expand", func(t *testing.T) {
		q := inclusion.New()
		r.IncludeInto(q, 0, "main")
		assert.Equal(t, []string{"a.js", "b.css"}, refs(q))
	})

	t.Run("unknown names are literal", func(t *testing.T) {
		q := inclusion.New()
		r.IncludeInto(q, 0, "other.js")
		assert.Equal(t, []string{"other.js"}, refs(q))
	})

	t.Run("modifiers never match a bundle", func(t *testing.T) {
		q := inclusion.New()
		r.IncludeInto(q, 0, "prefetch main", "main#async")
		assert.Equal(t, []string{"prefetch main", "main#async"}, refs(q))
	})

	t.Run("file include skips bundle lookup", func(t *testing.T) {
		q := inclusion.New()
		r.IncludeFileInto(q, 2, "main")
		require.Equal(t, []string{"main"}, refs(q))
		assert.Equal(t, 2, q.Entries()[0].Priority)
	})
}

func TestRegistry_ResolvePath(t *testing.T) {
	r := NewRegistry("/app/node_modules")
	r.RegisterPackage("ui", "/srv/ui")

	assert.Equal(t, "/assets/a.js", r.ResolvePath(Entrypoint{SourcePath: "a.js"}, "/assets"))
	assert.Equal(t, "/abs/a.js", r.ResolvePath(Entrypoint{SourcePath: "/abs/a.js"}, "/assets"))
	assert.Equal(t, "/srv/ui/button.js", r.ResolvePath(Entrypoint{SourcePath: "button.js", PackageOrigin: "ui"}, "/assets"))
	assert.Equal(t, "/app/node_modules/htmx/dist/htmx.js", r.ResolvePath(Entrypoint{SourcePath: "dist/htmx.js", PackageOrigin: "htmx"}, "/assets"))
	assert.Equal(t, "https://cdn/x.js", r.ResolvePath(Entrypoint{SourcePath: "https://cdn/x.js"}, "/assets"))
}

func refs(q *inclusion.Queue) []string {
	var out []string
	for _, e := range q.Entries() {
		out = append(out, e.Ref)
	}
	return out
}
