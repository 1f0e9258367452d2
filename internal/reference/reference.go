// Package reference parses template-authored asset references such as
// "preload as font icon.woff2#crossorigin=anonymous" into a path and its
// delivery metadata.
package reference

import (
	"net/url"
	"path"
	"sort"
	"strings"
)

// Modifier describes how a resolved output should be delivered
type Modifier string

const (
	ModifierNone          Modifier = ""
	ModifierStatic        Modifier = "static"
	ModifierImport        Modifier = "import"
	ModifierPrefetch      Modifier = "prefetch"
	ModifierModulePreload Modifier = "modulepreload"
	ModifierPreload       Modifier = "preload"
)

// IsHint reports whether outputs carrying this modifier only produce
// <link rel=...> guidance and never a rendering tag.
func (m Modifier) IsHint() bool {
	return m == ModifierPrefetch || m == ModifierPreload || m == ModifierModulePreload
}

// Reserved metadata keys. They are never accepted from a fragment.
const (
	KeyModifier    = "modifier"
	KeyContentType = "content_type"
	KeyDefer       = "defer"
	KeyMapAs       = "map_as"
)

var reservedKeys = map[string]bool{
	KeyModifier:    true,
	KeyContentType: true,
	KeyDefer:       true,
	KeyMapAs:       true,
}

// IsReserved reports whether key is one of the typed metadata keys.
func IsReserved(key string) bool {
	return reservedKeys[key]
}

// preloadTypes maps file extensions to the "as" value of a preload link
var preloadTypes = map[string]string{
	"css":   "style",
	"js":    "script",
	"mjs":   "script",
	"png":   "image",
	"jpg":   "image",
	"jpeg":  "image",
	"gif":   "image",
	"webp":  "image",
	"svg":   "image",
	"avif":  "image",
	"woff":  "font",
	"woff2": "font",
	"ttf":   "font",
	"otf":   "font",
	"mp4":   "video",
	"webm":  "video",
	"ogg":   "video",
	"mp3":   "audio",
	"wav":   "audio",
	"flac":  "audio",
	"aac":   "audio",
	"json":  "fetch",
	"html":  "fetch",
}

// ContentTypeFor infers the preload content type from a path's extension.
// Unknown extensions map to "fetch".
func ContentTypeFor(p string) string {
	ext := strings.TrimPrefix(path.Ext(p), ".")
	if t, ok := preloadTypes[strings.ToLower(ext)]; ok {
		return t
	}
	return "fetch"
}

// Parsed is a normalized reference: the bare path plus its metadata.
type Parsed struct {
	Path string
	Meta Meta
}

// Reference is one of the accepted reference representations. Use
// Normalize to turn any of them into a Parsed value.
type Reference interface {
	normalize() Parsed
}

// Literal is a reference written in the reference grammar.
type Literal string

func (l Literal) normalize() Parsed {
	return Parse(string(l))
}

// Pair is a reference that is already split into path and metadata.
type Pair struct {
	Path string
	Meta Meta
}

func (p Pair) normalize() Parsed {
	return Parsed{Path: p.Path, Meta: p.Meta.Clone()}
}

// WithModifier builds a Pair carrying only a modifier.
func WithModifier(p string, m Modifier) Pair {
	return Pair{Path: p, Meta: Meta{Modifier: m}}
}

// Normalize converts any Reference into its parsed form.
func Normalize(r Reference) Parsed {
	if r == nil {
		return Parsed{}
	}
	return r.normalize()
}

// Literals wraps plain strings as grammar references.
func Literals(refs ...string) []Reference {
	out := make([]Reference, len(refs))
	for i, r := range refs {
		out[i] = Literal(r)
	}
	return out
}

var modifiers = []Modifier{
	ModifierStatic,
	ModifierImport,
	ModifierPrefetch,
	ModifierModulePreload,
	ModifierPreload,
}

// Parse parses a reference string. It never fails: anything that does not
// match the grammar is returned as a path with empty metadata.
func Parse(s string) Parsed {
	var meta Meta
	rest := s

	if strings.HasPrefix(rest, "defer ") {
		if m, after, ok := matchModifier(rest[len("defer "):]); ok {
			meta.Defer = true
			meta.Modifier = m
			rest = after
		}
	} else if m, after, ok := matchModifier(rest); ok {
		meta.Modifier = m
		rest = after
	}

	if meta.Modifier == ModifierPreload {
		if ct, after, ok := matchPreloadAs(rest); ok {
			meta.ContentType = ct
			rest = after
		}
	}

	p := rest
	fragment := ""
	if i := strings.Index(rest, "#"); i >= 0 {
		p, fragment = rest[:i], rest[i+1:]
	}

	if meta.Modifier == ModifierPreload && meta.ContentType == "" {
		meta.ContentType = ContentTypeFor(p)
	}

	if fragment != "" {
		meta.mergeFragment(fragment)
	}

	return Parsed{Path: p, Meta: meta}
}

// matchModifier matches "<modifier> " at the start of s
func matchModifier(s string) (Modifier, string, bool) {
	for _, m := range modifiers {
		prefix := string(m) + " "
		if strings.HasPrefix(s, prefix) {
			return m, s[len(prefix):], true
		}
	}
	return ModifierNone, s, false
}

// matchPreloadAs matches "as <type> " where type is lowercase ascii
func matchPreloadAs(s string) (string, string, bool) {
	if !strings.HasPrefix(s, "as ") {
		return "", s, false
	}
	rest := s[len("as "):]
	end := 0
	for end < len(rest) && rest[end] >= 'a' && rest[end] <= 'z' {
		end++
	}
	if end == 0 || end >= len(rest) || rest[end] != ' ' {
		return "", s, false
	}
	return rest[:end], rest[end+1:], true
}

// mergeFragment merges url-encoded pairs into Attrs. Pairs that fail to
// unescape are skipped; the rest are kept.
func (m *Meta) mergeFragment(fragment string) {
	values, _ := url.ParseQuery(fragment)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "" || IsReserved(k) {
			continue
		}
		vs := values[k]
		v := vs[len(vs)-1]
		if v == "" {
			m.SetAttr(k, true)
		} else {
			m.SetAttr(k, v)
		}
	}
}

// Format serializes a parsed reference back into the grammar. Parsing the
// result yields a value equal to p.
func Format(p Parsed) string {
	var b strings.Builder
	if p.Meta.Modifier != ModifierNone {
		if p.Meta.Defer {
			b.WriteString("defer ")
		}
		b.WriteString(string(p.Meta.Modifier))
		b.WriteByte(' ')
		if p.Meta.Modifier == ModifierPreload && p.Meta.ContentType != "" {
			b.WriteString("as ")
			b.WriteString(p.Meta.ContentType)
			b.WriteByte(' ')
		}
	}
	b.WriteString(p.Path)

	if len(p.Meta.Attrs) > 0 {
		parts := make([]string, 0, len(p.Meta.Attrs))
		for _, k := range p.Meta.AttrNames() {
			v := p.Meta.Attrs[k]
			switch tv := v.(type) {
			case bool:
				if tv {
					parts = append(parts, url.QueryEscape(k))
				}
			case string:
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(tv))
			}
		}
		if len(parts) > 0 {
			b.WriteByte('#')
			b.WriteString(strings.Join(parts, "&"))
		}
	}
	return b.String()
}

// IsAbsURL reports whether s is an absolute external URL, either with a
// scheme ("https://cdn/x.js") or protocol-relative ("//cdn/x.js").
func IsAbsURL(s string) bool {
	if strings.HasPrefix(s, "//") {
		return true
	}
	i := strings.Index(s, "://")
	if i <= 0 {
		return false
	}
	for _, r := range s[:i] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return false
		}
	}
	return true
}
