// Package bundle keeps the registry of named entrypoint lists that are fed to
// the bundler and expanded when a page includes a bundle by name.
package bundle

import (
	"path/filepath"
	"strings"

	"github.com/fluxbase-eu/fluxassets/internal/reference"
)

// Entrypoint is one source file declared as a unit of build input
type Entrypoint struct {
	// SourcePath is relative to the assets folder, absolute, or an external URL
	SourcePath string `json:"source_path" yaml:"source_path"`

	// OutputName overrides the bundler's output name (esbuild "out=in" syntax)
	OutputName string `json:"output_name,omitempty" yaml:"output_name,omitempty"`

	// PackageOrigin names the package the source comes from, if any
	PackageOrigin string `json:"package_origin,omitempty" yaml:"package_origin,omitempty"`
}

// Path returns the canonical key of the entrypoint in the mapping
func (e Entrypoint) Path() string {
	if e.PackageOrigin != "" {
		return e.PackageOrigin + ":" + e.SourcePath
	}
	return e.SourcePath
}

// IsExternal reports whether the entrypoint is an absolute URL that the
// bundler never sees.
func (e Entrypoint) IsExternal() bool {
	return reference.IsAbsURL(e.SourcePath)
}

// IsAbs reports whether the entrypoint points at an absolute filesystem path
func (e Entrypoint) IsAbs() bool {
	return e.PackageOrigin == "" && filepath.IsAbs(e.SourcePath)
}

// Scope rewrites relative entries into an owner's asset root and output
// subfolder.
type Scope struct {
	AssetsFolder string
	OutputFolder string
}

// ParseEntry normalizes one entry written as "path", "path=outputName",
// "pkg:path" or an absolute URL.
func ParseEntry(spec string, scope Scope) Entrypoint {
	if reference.IsAbsURL(spec) {
		return Entrypoint{SourcePath: spec}
	}

	filename, out := spec, ""
	if i := strings.Index(spec, "="); i >= 0 {
		filename, out = spec[:i], spec[i+1:]
	}

	var e Entrypoint
	if origin, rest, ok := splitOrigin(filename); ok {
		e.PackageOrigin = origin
		e.SourcePath = rest
	} else {
		e.SourcePath = filename
		if scope.AssetsFolder != "" && !filepath.IsAbs(filename) {
			if abs, err := filepath.Abs(filepath.Join(scope.AssetsFolder, filename)); err == nil {
				e.SourcePath = abs
			} else {
				e.SourcePath = filepath.Join(scope.AssetsFolder, filename)
			}
			if out == "" {
				out = filename
			}
		}
	}

	if scope.OutputFolder != "" {
		if out == "" {
			out = filename
		}
		out = filepath.ToSlash(filepath.Join(scope.OutputFolder, out))
	}
	e.OutputName = out
	return e
}

// splitOrigin splits "pkg:path". Windows drive letters are not origins.
func splitOrigin(s string) (string, string, bool) {
	i := strings.Index(s, ":")
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	if i == 1 && len(s) > 2 && (s[2] == '\\' || s[2] == '/') {
		return "", "", false
	}
	origin := s[:i]
	if strings.ContainsAny(origin, `\ `) {
		return "", "", false
	}
	return origin, s[i+1:], true
}
