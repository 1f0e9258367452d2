// Package manifest converts esbuild metafiles into the source-to-output
// mapping consumed at render time, and persists that mapping.
package manifest

import (
	"encoding/json"
	"strings"
)

// Metafile represents the esbuild metafile JSON structure
type Metafile struct {
	Inputs  map[string]MetafileInput  `json:"inputs"`
	Outputs map[string]MetafileOutput `json:"outputs"`
}

// MetafileInput represents an input file in the metafile
type MetafileInput struct {
	Bytes   int              `json:"bytes"`
	Imports []MetafileImport `json:"imports"`
	Format  string           `json:"format,omitempty"` // "cjs" or "esm"
}

// MetafileImport represents an import in the metafile
type MetafileImport struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
	Original string `json:"original,omitempty"`
}

// IsStatic reports whether the import is a static ESM import, one that the
// browser fetches before running the importing module.
func (i MetafileImport) IsStatic() bool {
	return i.Kind == "import-statement" && !i.External
}

// MetafileOutput represents an output file in the metafile
type MetafileOutput struct {
	Bytes      int                     `json:"bytes"`
	Inputs     map[string]InputContrib `json:"inputs"`
	Imports    []MetafileImport        `json:"imports"`
	Exports    []string                `json:"exports"`
	EntryPoint string                  `json:"entryPoint,omitempty"`
	CSSBundle  string                  `json:"cssBundle,omitempty"`
}

// IsScript reports whether an output path is a JavaScript module
func IsScript(path string) bool {
	return strings.HasSuffix(path, ".js") || strings.HasSuffix(path, ".mjs")
}

// InputContrib represents the contribution of an input to an output
type InputContrib struct {
	BytesInOutput int `json:"bytesInOutput"`
}

// ParseMetafile decodes a metafile. Malformed data yields a *DecodeError.
func ParseMetafile(source string, data []byte) (*Metafile, error) {
	var meta Metafile
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, &DecodeError{Source: source, Err: err}
	}
	return &meta, nil
}
