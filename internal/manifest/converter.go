package manifest

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fluxbase-eu/fluxassets/internal/bundle"
	"github.com/fluxbase-eu/fluxassets/internal/reference"
)

// Converter turns an esbuild metafile into a Mapping
type Converter struct {
	// WorkDir is the directory esbuild ran in; metafile paths are relative to it
	WorkDir string
	// AssetsFolder is where relative entrypoints live
	AssetsFolder string
	// OutputFolder is esbuild's outdir
	OutputFolder string
	// OutputURL is the public prefix under which OutputFolder is served
	OutputURL string
	// ResolvePath maps an entrypoint to the path esbuild was given. Defaults
	// to joining relative sources with AssetsFolder.
	ResolvePath func(bundle.Entrypoint) string
}

// Result is the outcome of a conversion
type Result struct {
	Mapping Mapping
	// Inputs lists the assets-relative source files consumed by the bundler
	Inputs []string
}

// Convert parses a metafile and maps its outputs back to the declared entries
func (c *Converter) Convert(data []byte, entries []bundle.Entrypoint) (*Result, error) {
	meta, err := ParseMetafile("", data)
	if err != nil {
		return nil, err
	}
	return c.ConvertMetafile(meta, entries), nil
}

// ConvertMetafile maps an already decoded metafile
func (c *Converter) ConvertMetafile(meta *Metafile, entries []bundle.Entrypoint) *Result {
	index := make(map[string]bundle.Entrypoint, len(entries))
	for _, e := range entries {
		if e.IsExternal() {
			continue
		}
		index[c.abs(c.resolve(e))] = e
	}

	res := &Result{Mapping: Mapping{}}
	seenInputs := make(map[string]bool)

	// Sorted so that several outputs for one entry land in a stable order
	outputs := make([]string, 0, len(meta.Outputs))
	for out := range meta.Outputs {
		outputs = append(outputs, out)
	}
	sort.Strings(outputs)

	for _, out := range outputs {
		info := meta.Outputs[out]
		if info.EntryPoint == "" {
			continue
		}
		e, ok := index[c.abs(info.EntryPoint)]
		if !ok {
			continue
		}

		if !e.IsAbs() && e.PackageOrigin == "" && !seenInputs[e.SourcePath] {
			seenInputs[e.SourcePath] = true
			res.Inputs = append(res.Inputs, e.SourcePath)
		}

		key := e.Path()
		url := c.rewrite(out)
		if IsScript(url) {
			res.Mapping.Add(key, ModifiedOutput(url, reference.ModifierImport))
		} else {
			res.Mapping.Add(key, URLOutput(url))
		}

		if info.CSSBundle != "" {
			res.Mapping.Add(key, URLOutput(c.rewrite(info.CSSBundle)))
		}

		for _, imp := range info.Imports {
			if imp.IsStatic() {
				res.Mapping.Add(key, ModifiedOutput(c.rewrite(imp.Path), reference.ModifierModulePreload))
			}
		}
	}

	return res
}

func (c *Converter) resolve(e bundle.Entrypoint) string {
	if c.ResolvePath != nil {
		return c.ResolvePath(e)
	}
	if e.IsAbs() {
		return e.SourcePath
	}
	return filepath.Join(c.AssetsFolder, e.SourcePath)
}

func (c *Converter) abs(p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.workDir(), p)
	}
	return filepath.Clean(p)
}

func (c *Converter) workDir() string {
	if c.WorkDir != "" {
		return c.WorkDir
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// rewrite replaces the output folder prefix of a metafile path with OutputURL.
// Metafile paths are relative to WorkDir, but an absolute outdir may appear
// verbatim.
func (c *Converter) rewrite(p string) string {
	p = filepath.ToSlash(p)
	rest := p
	for _, base := range c.outputBases() {
		if base == "" {
			continue
		}
		if p == base {
			rest = ""
			break
		}
		if strings.HasPrefix(p, base+"/") {
			rest = p[len(base):]
			break
		}
	}
	return strings.TrimRight(c.OutputURL, "/") + "/" + strings.TrimLeft(rest, "/")
}

func (c *Converter) outputBases() []string {
	out := filepath.Clean(c.OutputFolder)
	abs := c.abs(out)
	bases := []string{filepath.ToSlash(abs)}
	if rel, err := filepath.Rel(c.workDir(), abs); err == nil {
		bases = append(bases, filepath.ToSlash(rel))
	}
	if !filepath.IsAbs(out) {
		bases = append(bases, filepath.ToSlash(out))
	}
	return bases
}
