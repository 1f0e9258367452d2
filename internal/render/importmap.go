package render

import (
	"encoding/json"
	"html"
	"sync"
)

// ImportMap is the name->URL table rendered as <script type="importmap">.
// It is written at startup and after builds, and read on every render.
type ImportMap struct {
	mu      sync.RWMutex
	imports map[string]string
}

// NewImportMap creates an import map with optional initial entries
func NewImportMap(initial map[string]string) *ImportMap {
	im := &ImportMap{imports: make(map[string]string, len(initial))}
	for k, v := range initial {
		im.imports[k] = v
	}
	return im
}

// Set maps a module specifier to a URL
func (im *ImportMap) Set(name, url string) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.imports[name] = url
}

// Merge sets several entries at once
func (im *ImportMap) Merge(entries map[string]string) {
	im.mu.Lock()
	defer im.mu.Unlock()
	for k, v := range entries {
		im.imports[k] = v
	}
}

// Len returns the number of entries
func (im *ImportMap) Len() int {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return len(im.imports)
}

// Imports returns a copy of the entries
func (im *ImportMap) Imports() map[string]string {
	im.mu.RLock()
	defer im.mu.RUnlock()
	out := make(map[string]string, len(im.imports))
	for k, v := range im.imports {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the map in the import map document shape
func (im *ImportMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]map[string]string{"imports": im.Imports()})
}

// HTML renders the import map script tag
func (im *ImportMap) HTML(nonce string) string {
	// encoding/json escapes <, > and & so the payload cannot close the tag
	data, err := json.Marshal(im)
	if err != nil {
		data = []byte(`{"imports":{}}`)
	}
	open := `<script type="importmap"`
	if nonce != "" {
		open += ` nonce="` + html.EscapeString(nonce) + `"`
	}
	return open + ">" + string(data) + "</script>"
}
