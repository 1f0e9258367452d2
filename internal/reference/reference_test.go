package reference

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantPath string
		wantMeta Meta
	}{
		{
			name:     "plain path",
			input:    "app.js",
			wantPath: "app.js",
		},
		{
			name:     "import modifier",
			input:    "import app.js",
			wantPath: "app.js",
			wantMeta: Meta{Modifier: ModifierImport},
		},
		{
			name:     "static modifier",
			input:    "static img/logo.png",
			wantPath: "img/logo.png",
			wantMeta: Meta{Modifier: ModifierStatic},
		},
		{
			name:     "explicit preload type",
			input:    "preload as font icon.woff2",
			wantPath: "icon.woff2",
			wantMeta: Meta{Modifier: ModifierPreload, ContentType: "font"},
		},
		{
			name:     "inferred preload type",
			input:    "preload icon.woff2",
			wantPath: "icon.woff2",
			wantMeta: Meta{Modifier: ModifierPreload, ContentType: "font"},
		},
		{
			name:     "inferred preload type for unknown extension",
			input:    "preload data.bin",
			wantPath: "data.bin",
			wantMeta: Meta{Modifier: ModifierPreload, ContentType: "fetch"},
		},
		{
			name:     "defer prefix",
			input:    "defer import app.js",
			wantPath: "app.js",
			wantMeta: Meta{Modifier: ModifierImport, Defer: true},
		},
		{
			name:     "defer without modifier is a path",
			input:    "defer app.js",
			wantPath: "defer app.js",
		},
		{
			name:     "fragment attributes",
			input:    "app.js#crossorigin=use-credentials&async",
			wantPath: "app.js",
			wantMeta: Meta{Attrs: map[string]any{"crossorigin": "use-credentials", "async": true}},
		},
		{
			name:     "fragment cannot override modifier",
			input:    "prefetch page.js#modifier=import&content_type=style",
			wantPath: "page.js",
			wantMeta: Meta{Modifier: ModifierPrefetch},
		},
		{
			name:     "unknown modifier degrades to path",
			input:    "bogus app.js",
			wantPath: "bogus app.js",
		},
		{
			name:     "modifier without trailing space",
			input:    "import",
			wantPath: "import",
		},
		{
			name:     "empty string",
			input:    "",
			wantPath: "",
		},
		{
			name:     "malformed fragment is ignored",
			input:    "app.js#%zz",
			wantPath: "app.js",
		},
		{
			name:     "malformed pair keeps the valid ones",
			input:    "app.js#async&data-x=%zz&crossorigin=anonymous",
			wantPath: "app.js",
			wantMeta: Meta{Attrs: map[string]any{"async": true, "crossorigin": "anonymous"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			assert.Equal(t, tt.wantPath, got.Path)
			assert.Equal(t, tt.wantMeta, got.Meta)
		})
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	inputs := []string{
		"app.js",
		"import app.js",
		"defer import app.js",
		"preload icon.woff2",
		"preload as image hero.bin",
		"modulepreload chunk.js#crossorigin=anonymous",
		"prefetch next.js#async&data-x=1",
		"static robots.txt",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			first := Parse(in)
			second := Parse(Format(first))
			assert.Equal(t, first, second)
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Run("literal goes through the grammar", func(t *testing.T) {
		got := Normalize(Literal("prefetch a.js"))
		assert.Equal(t, "a.js", got.Path)
		assert.Equal(t, ModifierPrefetch, got.Meta.Modifier)
	})

	t.Run("pair is taken as is", func(t *testing.T) {
		got := Normalize(WithModifier("import a.js", ModifierStatic))
		assert.Equal(t, "import a.js", got.Path)
		assert.Equal(t, ModifierStatic, got.Meta.Modifier)
	})

	t.Run("pair meta is copied", func(t *testing.T) {
		p := Pair{Path: "a.js", Meta: Meta{Attrs: map[string]any{"id": "x"}}}
		got := Normalize(p)
		got.Meta.Attrs["id"] = "y"
		assert.Equal(t, "x", p.Meta.Attrs["id"])
	})

	t.Run("nil reference", func(t *testing.T) {
		assert.Equal(t, Parsed{}, Normalize(nil))
	})
}

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"a.css":    "style",
		"a.js":     "script",
		"a.PNG":    "image",
		"a.woff2":  "font",
		"a.mp3":    "audio",
		"a.webm":   "video",
		"a.json":   "fetch",
		"a.html":   "fetch",
		"noext":    "fetch",
		"dir.v2/x": "fetch",
	}
	for in, want := range cases {
		assert.Equal(t, want, ContentTypeFor(in), in)
	}
}

func TestMeta_Overlay(t *testing.T) {
	base := Meta{Modifier: ModifierPrefetch, Attrs: map[string]any{"id": "a", "nonce": "n"}}
	top := Meta{Modifier: ModifierImport, Attrs: map[string]any{"id": "b"}}

	got := base.Overlay(top)

	assert.Equal(t, ModifierImport, got.Modifier)
	assert.Equal(t, "b", got.Attrs["id"])
	assert.Equal(t, "n", got.Attrs["nonce"])
	assert.Equal(t, "a", base.Attrs["id"], "base must not be mutated")
}

func TestMeta_JSON(t *testing.T) {
	t.Run("encodes reserved keys flat", func(t *testing.T) {
		m := Meta{Modifier: ModifierImport, MapAs: "app.js", Attrs: map[string]any{"async": true}}
		data, err := json.Marshal(m)
		require.NoError(t, err)
		assert.JSONEq(t, `{"modifier":"import","map_as":"app.js","async":true}`, string(data))
	})

	t.Run("decodes query-style arrays and numbers", func(t *testing.T) {
		var m Meta
		err := json.Unmarshal([]byte(`{"modifier":"preload","content_type":"font","crossorigin":["x","anonymous"],"width":10}`), &m)
		require.NoError(t, err)
		assert.Equal(t, ModifierPreload, m.Modifier)
		assert.Equal(t, "font", m.ContentType)
		assert.Equal(t, "anonymous", m.Attrs["crossorigin"])
		assert.Equal(t, "10", m.Attrs["width"])
	})

	t.Run("rejects nested objects", func(t *testing.T) {
		var m Meta
		err := json.Unmarshal([]byte(`{"x":{"y":1}}`), &m)
		require.Error(t, err)
	})
}

func TestModifier_IsHint(t *testing.T) {
	assert.True(t, ModifierPrefetch.IsHint())
	assert.True(t, ModifierPreload.IsHint())
	assert.True(t, ModifierModulePreload.IsHint())
	assert.False(t, ModifierImport.IsHint())
	assert.False(t, ModifierStatic.IsHint())
	assert.False(t, ModifierNone.IsHint())
}

func TestIsAbsURL(t *testing.T) {
	assert.True(t, IsAbsURL("https://cdn.example.com/a.js"))
	assert.True(t, IsAbsURL("//cdn.example.com/a.js"))
	assert.True(t, IsAbsURL("git+ssh://host/x"))
	assert.False(t, IsAbsURL("/static/a.js"))
	assert.False(t, IsAbsURL("a.js"))
	assert.False(t, IsAbsURL("pkg:a.js"))
	assert.False(t, IsAbsURL("://nope"))
	assert.False(t, IsAbsURL("dir with space://x"))
}
