// Package templates loads html/template files, extracts inline asset blocks
// from them and renders them with the asset helper functions.
package templates

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

const assetTagsPlaceholder = "<!--fluxassets:asset_tags-->"

// ErrScopeRequired is returned by the asset helpers when a template is
// executed without a scope
var ErrScopeRequired = errors.New("templates: asset helpers need a render scope")

// Scope is the per-render asset state the helper functions act on
type Scope interface {
	Include(refs ...string)
	URL(ref string, external bool) string
	StaticURL(filename string) string
	Tags(refs ...string) template.HTML
}

// Options configures an Engine
type Options struct {
	// Folders are the template roots, searched in order
	Folders []string
	// Extensions lists the template file extensions without dot, default "html"
	Extensions []string
	// Inliner, when set, extracts inline asset blocks at load time
	Inliner *Inliner
	// Reload re-reads templates from disk before every render
	Reload bool
	// Funcs are extra template functions
	Funcs template.FuncMap
}

// Engine is a set of parsed templates
type Engine struct {
	opts Options

	mu  sync.RWMutex
	set *template.Template
}

// NewEngine creates an engine. Templates are loaded lazily on first use or
// explicitly with Load.
func NewEngine(opts Options) *Engine {
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{"html"}
	}
	return &Engine{opts: opts}
}

// Files lists template names relative to their root, in load order
func (e *Engine) Files() (map[string]string, []string, error) {
	files := make(map[string]string)
	var names []string
	for _, root := range e.opts.Folders {
		if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !e.matches(p) {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			name := filepath.ToSlash(rel)
			if _, seen := files[name]; seen {
				return nil
			}
			files[name] = p
			names = append(names, name)
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list templates in %s: %w", root, err)
		}
	}
	sort.Strings(names)
	return files, names, nil
}

func (e *Engine) matches(p string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(p)), ".")
	for _, want := range e.opts.Extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

// Load parses every template, extracting inline assets first when an
// Inliner is configured
func (e *Engine) Load() error {
	files, names, err := e.Files()
	if err != nil {
		return err
	}

	set := template.New("").Funcs(e.funcs(nil))
	for _, name := range names {
		src, err := os.ReadFile(files[name])
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", name, err)
		}
		text, err := e.prepare(name, string(src))
		if err != nil {
			return err
		}
		if _, err := set.New(name).Parse(text); err != nil {
			return fmt.Errorf("failed to parse template %s: %w", name, err)
		}
	}

	e.mu.Lock()
	e.set = set
	e.mu.Unlock()

	log.Debug().Int("templates", len(names)).Msg("Loaded templates")
	return nil
}

// ExtractAll runs inline extraction over every template without parsing
// them. It returns the number of blocks found.
func (e *Engine) ExtractAll() (int, error) {
	if e.opts.Inliner == nil {
		return 0, nil
	}
	files, names, err := e.Files()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, name := range names {
		n, err := e.ExtractFile(name, files[name])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// ExtractFile runs inline extraction over a single template file
func (e *Engine) ExtractFile(name, file string) (int, error) {
	if e.opts.Inliner == nil || !e.matches(file) {
		return 0, nil
	}
	src, err := os.ReadFile(file)
	if err != nil {
		return 0, fmt.Errorf("failed to read template %s: %w", name, err)
	}
	_, assets, err := Extract(name, string(src))
	if err != nil {
		return 0, err
	}
	if err := e.opts.Inliner.Apply(assets); err != nil {
		return 0, err
	}
	return len(assets), nil
}

func (e *Engine) prepare(name, src string) (string, error) {
	if e.opts.Inliner == nil {
		return src, nil
	}
	text, assets, err := Extract(name, src)
	if err != nil {
		return "", err
	}
	if err := e.opts.Inliner.Apply(assets); err != nil {
		return "", err
	}
	return text, nil
}

func (e *Engine) templates() (*template.Template, error) {
	e.mu.RLock()
	set := e.set
	e.mu.RUnlock()
	if set != nil && !e.opts.Reload {
		return set, nil
	}
	if err := e.Load(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.set, nil
}

// Has reports whether a template with that name exists
func (e *Engine) Has(name string) bool {
	set, err := e.templates()
	if err != nil {
		return false
	}
	return set.Lookup(name) != nil
}

// Render executes the named template with data. Asset helpers act on scope;
// asset_tags output is filled in after the template has run so includes made
// further down the page are part of it.
func (e *Engine) Render(w io.Writer, name string, data any, scope Scope) error {
	set, err := e.templates()
	if err != nil {
		return err
	}
	clone, err := set.Clone()
	if err != nil {
		return fmt.Errorf("failed to clone templates: %w", err)
	}
	clone.Funcs(e.funcs(scope))

	tmpl := clone.Lookup(name)
	if tmpl == nil {
		return fmt.Errorf("template %q not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return err
	}

	out := buf.Bytes()
	if scope != nil && bytes.Contains(out, []byte(assetTagsPlaceholder)) {
		out = bytes.ReplaceAll(out, []byte(assetTagsPlaceholder), []byte(scope.Tags()))
	}
	_, err = w.Write(out)
	return err
}

func (e *Engine) funcs(scope Scope) template.FuncMap {
	fm := template.FuncMap{
		"include_asset": func(refs ...string) (string, error) {
			if scope == nil {
				return "", ErrScopeRequired
			}
			scope.Include(refs...)
			return "", nil
		},
		"asset_url": func(ref string, external ...bool) (string, error) {
			if scope == nil {
				return "", ErrScopeRequired
			}
			return scope.URL(ref, len(external) > 0 && external[0]), nil
		},
		"static_url": func(filename string) (string, error) {
			if scope == nil {
				return "", ErrScopeRequired
			}
			return scope.StaticURL(filename), nil
		},
		"asset_tags": func(refs ...string) (template.HTML, error) {
			if scope == nil {
				return "", ErrScopeRequired
			}
			if len(refs) > 0 {
				return scope.Tags(refs...), nil
			}
			return template.HTML(assetTagsPlaceholder), nil
		},
	}
	for k, v := range e.opts.Funcs {
		fm[k] = v
	}
	return fm
}
