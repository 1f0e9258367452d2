package templates

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fluxbase-eu/fluxassets/internal/bundle"
	"github.com/rs/zerolog/log"
)

var inlineOpenRe = regexp.MustCompile(`<\s*(script|style)\s+bundle(="([^"]+)")?\s*>`)

// UnclosedTagError is returned when an inline asset block has no closing tag
type UnclosedTagError struct {
	Template string
	Tag      string
	Line     int
}

func (e *UnclosedTagError) Error() string {
	return fmt.Sprintf("%s:%d: missing closing tag </%s> for inline bundle", e.Template, e.Line, e.Tag)
}

// InlineAsset is one <script bundle> or <style bundle> block found in a template
type InlineAsset struct {
	Template string
	Tag      string
	// Bundle is the value of the bundle attribute, empty when bare
	Bundle string
	// Filename is where the content goes when the bundle does not decide it,
	// the template path with a .js or .css extension
	Filename string
	Content  string
	Line     int
}

// Ref is the name the replacement include_asset call refers to
func (a InlineAsset) Ref() string {
	if a.Bundle != "" {
		return a.Bundle
	}
	return a.Filename
}

// Extract finds inline asset blocks in src, a template named name, and
// returns the source with each block replaced by an include_asset call.
func Extract(name, src string) (string, []InlineAsset, error) {
	var (
		out    strings.Builder
		assets []InlineAsset
		pos    int
	)

	for {
		loc := inlineOpenRe.FindStringSubmatchIndex(src[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		tag := src[pos+loc[2] : pos+loc[3]]
		var bundleName string
		if loc[6] >= 0 {
			bundleName = src[pos+loc[6] : pos+loc[7]]
		}
		line := 1 + strings.Count(src[:start], "\n")

		closeRe := regexp.MustCompile(`</\s*` + tag + `\s*>`)
		closeLoc := closeRe.FindStringIndex(src[end:])
		if closeLoc == nil {
			return "", nil, &UnclosedTagError{Template: name, Tag: tag, Line: line}
		}

		asset := InlineAsset{
			Template: name,
			Tag:      tag,
			Bundle:   bundleName,
			Filename: inlineFilename(name, tag),
			Content:  src[end : end+closeLoc[0]],
			Line:     line,
		}
		assets = append(assets, asset)

		out.WriteString(src[pos:start])
		fmt.Fprintf(&out, "{{ include_asset %q }}", asset.Ref())
		pos = end + closeLoc[1]
	}

	if len(assets) == 0 {
		return src, nil, nil
	}
	out.WriteString(src[pos:])
	return out.String(), assets, nil
}

func inlineFilename(name, tag string) string {
	ext := ".js"
	if tag == "style" {
		ext = ".css"
	}
	name = filepath.ToSlash(name)
	return strings.TrimSuffix(name, path.Ext(name)) + ext
}

// Inliner registers extracted blocks as bundles and writes their content to
// the assets folder
type Inliner struct {
	Registry     *bundle.Registry
	AssetsFolder string
	// OnDemand leaves new bundles out of the default includes
	OnDemand bool
	// Write controls whether block content is written to disk
	Write bool
	// Include adds bundles to the default includes
	Include func(refs ...string)
}

// Apply registers assets and writes their files. Blocks that land in the
// same file are concatenated in template order.
func (in *Inliner) Apply(assets []InlineAsset) error {
	var (
		files    = make(map[string][]string)
		order    []string
		included []string
	)

	for _, a := range assets {
		filename := a.Filename
		switch {
		case a.Bundle != "" && in.Registry.Has(a.Bundle):
			in.Registry.Append(a.Bundle, filename)
		case strings.HasPrefix(a.Bundle, "@"):
			in.Registry.Define(a.Bundle, []string{filename}, bundle.DefineOptions{})
			included = append(included, a.Bundle)
		default:
			filename = a.Ref()
			if !in.Registry.Has(filename) {
				in.Registry.Define("", []string{filename}, bundle.DefineOptions{})
				included = append(included, filename)
			}
		}

		if _, ok := files[filename]; !ok {
			order = append(order, filename)
		}
		files[filename] = append(files[filename], a.Content)
	}

	if !in.OnDemand && in.Include != nil && len(included) > 0 {
		in.Include(included...)
	}

	if !in.Write {
		return nil
	}
	for _, filename := range order {
		target := filepath.Join(in.AssetsFolder, filepath.FromSlash(filename))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", filename, err)
		}
		if err := os.WriteFile(target, []byte(strings.Join(files[filename], "\n")), 0o644); err != nil {
			return fmt.Errorf("failed to write inline asset %s: %w", filename, err)
		}
		log.Debug().Str("file", target).Msg("Wrote inline asset")
	}
	return nil
}
