// Package render serializes resolved asset URLs into HTML tags.
package render

import (
	"html"
	"html/template"
	"strings"

	"github.com/fluxbase-eu/fluxassets/internal/reference"
	"github.com/fluxbase-eu/fluxassets/internal/resolver"
)

// TagOptions controls one render
type TagOptions struct {
	// Nonce is added to inline and external script tags for CSP
	Nonce string
}

// Renderer produces the tag block for a page
type Renderer struct {
	ImportMap  *ImportMap
	LiveReload *LiveReloadSnippet
}

// Kind classifies a resolved output
type Kind int

const (
	KindScript Kind = iota
	KindModule
	KindStyle
	KindPrefetch
	KindPreload
	KindModulePreload
)

// IsHint reports whether the kind renders as a <link> hint
func (k Kind) IsHint() bool {
	return k == KindPrefetch || k == KindPreload || k == KindModulePreload
}

// Classify decides how a resolved output is rendered
func Classify(url string, meta reference.Meta) Kind {
	switch meta.Modifier {
	case reference.ModifierPrefetch:
		return KindPrefetch
	case reference.ModifierPreload:
		return KindPreload
	case reference.ModifierModulePreload:
		return KindModulePreload
	case reference.ModifierImport:
		return KindModule
	}
	if isStylesheet(url) || meta.ContentType == "style" {
		return KindStyle
	}
	return KindScript
}

func isStylesheet(url string) bool {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return strings.HasSuffix(url, ".css")
}

// Render emits the import map, then hints, then scripts and styles, then the
// live reload snippet. Hints and tags each keep the order of the set.
func (r *Renderer) Render(set *resolver.Set, opts TagOptions) template.HTML {
	var items []resolver.Resolved
	if set != nil {
		items = set.Items()
	}
	return template.HTML(r.RenderItems(items, opts))
}

// RenderItems is Render for an explicit list
func (r *Renderer) RenderItems(items []resolver.Resolved, opts TagOptions) string {
	var pre, tags []string

	if r != nil && r.ImportMap != nil && r.ImportMap.Len() > 0 {
		pre = append(pre, r.ImportMap.HTML(opts.Nonce))
	}

	var hints []string
	for _, item := range items {
		kind := Classify(item.URL, item.Meta)
		tag := Tag(kind, item.URL, item.Meta, opts)
		if kind.IsHint() {
			hints = append(hints, tag)
		} else {
			tags = append(tags, tag)
		}
	}

	out := append(pre, hints...)
	out = append(out, tags...)
	if r != nil && r.LiveReload != nil {
		out = append(out, r.LiveReload.HTML(opts.Nonce))
	}
	return strings.Join(out, "\n")
}

// Tag serializes one output
func Tag(kind Kind, url string, meta reference.Meta, opts TagOptions) string {
	var b strings.Builder
	u := html.EscapeString(url)

	switch kind {
	case KindPrefetch:
		b.WriteString(`<link rel="prefetch" href="` + u + `"`)
		writeAttrs(&b, meta)
		b.WriteString(">")
	case KindPreload:
		ct := meta.ContentType
		if ct == "" {
			ct = reference.ContentTypeFor(url)
		}
		b.WriteString(`<link rel="preload" href="` + u + `" as="` + html.EscapeString(ct) + `"`)
		writeAttrs(&b, meta)
		b.WriteString(">")
	case KindModulePreload:
		b.WriteString(`<link rel="modulepreload" href="` + u + `"`)
		writeAttrs(&b, meta)
		b.WriteString(">")
	case KindStyle:
		b.WriteString(`<link rel="stylesheet" href="` + u + `"`)
		writeAttrs(&b, meta)
		b.WriteString(">")
	case KindModule:
		b.WriteString(`<script src="` + u + `" type="module"`)
		writeScriptAttrs(&b, meta, opts)
		b.WriteString("></script>")
	default:
		b.WriteString(`<script src="` + u + `"`)
		writeScriptAttrs(&b, meta, opts)
		b.WriteString("></script>")
	}
	return b.String()
}

func writeScriptAttrs(b *strings.Builder, meta reference.Meta, opts TagOptions) {
	if meta.Defer {
		b.WriteString(" defer")
	}
	if opts.Nonce != "" {
		if _, ok := meta.Attr("nonce"); !ok {
			b.WriteString(` nonce="` + html.EscapeString(opts.Nonce) + `"`)
		}
	}
	writeAttrs(b, meta)
}

// writeAttrs writes pass-through attributes sorted by name. true renders a
// bare attribute; false and empty strings are omitted.
func writeAttrs(b *strings.Builder, meta reference.Meta) {
	for _, k := range meta.AttrNames() {
		name := html.EscapeString(k)
		switch v := meta.Attrs[k].(type) {
		case bool:
			if v {
				b.WriteString(" " + name)
			}
		case string:
			if v != "" {
				b.WriteString(" " + name + `="` + html.EscapeString(v) + `"`)
			}
		}
	}
}
