package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fluxbase-eu/fluxassets/internal/reference"
)

// Output is one delivery artifact for a source path
type Output struct {
	URL  string
	Meta reference.Meta
}

// URLOutput is an Output with no metadata
func URLOutput(url string) Output {
	return Output{URL: url}
}

// ModifiedOutput is an Output tagged with a modifier
func ModifiedOutput(url string, m reference.Modifier) Output {
	return Output{URL: url, Meta: reference.Meta{Modifier: m}}
}

// MarshalJSON encodes a bare string when there is no metadata and a
// [url, meta] pair otherwise.
func (o Output) MarshalJSON() ([]byte, error) {
	if o.Meta.IsZero() {
		return json.Marshal(o.URL)
	}
	return json.Marshal([]any{o.URL, o.Meta})
}

// UnmarshalJSON accepts a bare string, a [url] or [url, meta] array, or a
// {"url": ..., "meta": ...} object.
func (o *Output) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty output")
	}

	switch data[0] {
	case '"':
		*o = Output{}
		return json.Unmarshal(data, &o.URL)
	case '[':
		var parts []json.RawMessage
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		if len(parts) == 0 || len(parts) > 2 {
			return fmt.Errorf("output array must have 1 or 2 elements, got %d", len(parts))
		}
		*o = Output{}
		if err := json.Unmarshal(parts[0], &o.URL); err != nil {
			return fmt.Errorf("output url: %w", err)
		}
		if len(parts) == 2 && string(bytes.TrimSpace(parts[1])) != "null" {
			if err := json.Unmarshal(parts[1], &o.Meta); err != nil {
				return fmt.Errorf("output meta: %w", err)
			}
		}
		return nil
	case '{':
		var obj struct {
			URL  string          `json:"url"`
			Meta *reference.Meta `json:"meta"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*o = Output{URL: obj.URL}
		if obj.Meta != nil {
			o.Meta = *obj.Meta
		}
		return nil
	default:
		return fmt.Errorf("unsupported output value %s", string(data))
	}
}

// Mapping maps a source path to its outputs
type Mapping map[string][]Output

// Lookup returns the outputs for a source path
func (m Mapping) Lookup(path string) ([]Output, bool) {
	outs, ok := m[path]
	if !ok || len(outs) == 0 {
		return nil, false
	}
	return outs, true
}

// Add appends outputs under a source path
func (m Mapping) Add(path string, outs ...Output) {
	m[path] = append(m[path], outs...)
}

// Keys returns the source paths in sorted order
func (m Mapping) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the mapping
func (m Mapping) Clone() Mapping {
	out := make(Mapping, len(m))
	for k, outs := range m {
		cp := make([]Output, len(outs))
		for i, o := range outs {
			cp[i] = Output{URL: o.URL, Meta: o.Meta.Clone()}
		}
		out[k] = cp
	}
	return out
}

// Merge returns a copy of m where every key of other replaces the key in m
func (m Mapping) Merge(other Mapping) Mapping {
	out := m.Clone()
	for k, outs := range other.Clone() {
		out[k] = outs
	}
	return out
}

// MapAsImports returns the import-map entries declared by outputs carrying
// map_as metadata. URLs are returned as stored in the mapping.
func MapAsImports(m Mapping) map[string]string {
	imports := make(map[string]string)
	for _, k := range m.Keys() {
		for _, o := range m[k] {
			if o.Meta.MapAs != "" {
				imports[o.Meta.MapAs] = o.URL
			}
		}
	}
	return imports
}

// DecodeMapping parses a mapping file. Malformed data yields a *DecodeError.
func DecodeMapping(source string, data []byte) (Mapping, error) {
	m := Mapping{}
	if len(bytes.TrimSpace(data)) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &DecodeError{Source: source, Err: err}
	}
	return m, nil
}

// EncodeMapping serializes a mapping as indented JSON
func EncodeMapping(m Mapping) ([]byte, error) {
	if m == nil {
		m = Mapping{}
	}
	return json.MarshalIndent(m, "", "  ")
}
