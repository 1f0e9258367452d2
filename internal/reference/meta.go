package reference

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Meta is the delivery metadata attached to a reference or a resolved output.
// Attrs holds pass-through HTML attributes; values are either a string or a
// bool (true renders as a bare attribute, false omits it).
type Meta struct {
	Modifier    Modifier
	ContentType string
	Defer       bool
	MapAs       string
	Attrs       map[string]any
}

// IsZero reports whether the metadata carries no information.
func (m Meta) IsZero() bool {
	return m.Modifier == ModifierNone && m.ContentType == "" && !m.Defer && m.MapAs == "" && len(m.Attrs) == 0
}

// Clone returns a deep copy of m.
func (m Meta) Clone() Meta {
	out := m
	if m.Attrs != nil {
		out.Attrs = make(map[string]any, len(m.Attrs))
		for k, v := range m.Attrs {
			out.Attrs[k] = v
		}
	}
	return out
}

// SetAttr sets a pass-through attribute. Reserved keys are routed to their
// typed fields.
func (m *Meta) SetAttr(key string, value any) {
	switch key {
	case KeyModifier:
		m.Modifier = Modifier(stringify(value))
		return
	case KeyContentType:
		m.ContentType = stringify(value)
		return
	case KeyDefer:
		m.Defer = truthy(value)
		return
	case KeyMapAs:
		m.MapAs = stringify(value)
		return
	}
	if m.Attrs == nil {
		m.Attrs = make(map[string]any)
	}
	m.Attrs[key] = value
}

// Attr returns the value of a pass-through attribute.
func (m Meta) Attr(key string) (any, bool) {
	v, ok := m.Attrs[key]
	return v, ok
}

// AttrNames returns the attribute names in sorted order.
func (m Meta) AttrNames() []string {
	names := make([]string, 0, len(m.Attrs))
	for k := range m.Attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Overlay returns a copy of m with every key set in top written over it.
func (m Meta) Overlay(top Meta) Meta {
	out := m.Clone()
	if top.Modifier != ModifierNone {
		out.Modifier = top.Modifier
	}
	if top.ContentType != "" {
		out.ContentType = top.ContentType
	}
	if top.Defer {
		out.Defer = true
	}
	if top.MapAs != "" {
		out.MapAs = top.MapAs
	}
	for k, v := range top.Attrs {
		if out.Attrs == nil {
			out.Attrs = make(map[string]any, len(top.Attrs))
		}
		out.Attrs[k] = v
	}
	return out
}

// MarshalJSON encodes the metadata as a flat object, the shape used in the
// mapping file.
func (m Meta) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(m.Attrs)+4)
	for k, v := range m.Attrs {
		obj[k] = v
	}
	if m.Modifier != ModifierNone {
		obj[KeyModifier] = string(m.Modifier)
	}
	if m.ContentType != "" {
		obj[KeyContentType] = m.ContentType
	}
	if m.Defer {
		obj[KeyDefer] = true
	}
	if m.MapAs != "" {
		obj[KeyMapAs] = m.MapAs
	}
	return json.Marshal(obj)
}

// UnmarshalJSON decodes a flat metadata object. Scalar values other than
// strings and booleans are kept in their textual form; arrays keep their last
// element, matching how query pairs are merged.
func (m *Meta) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*m = Meta{}
	for k, v := range obj {
		if arr, ok := v.([]any); ok {
			if len(arr) == 0 {
				continue
			}
			v = arr[len(arr)-1]
		}
		switch tv := v.(type) {
		case nil:
			continue
		case string, bool:
			m.SetAttr(k, tv)
		case float64:
			m.SetAttr(k, strconv.FormatFloat(tv, 'f', -1, 64))
		default:
			return fmt.Errorf("unsupported metadata value for %q", k)
		}
	}
	return nil
}

func stringify(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case bool:
		return strconv.FormatBool(tv)
	case nil:
		return ""
	default:
		return fmt.Sprint(tv)
	}
}

func truthy(v any) bool {
	switch tv := v.(type) {
	case bool:
		return tv
	case string:
		if b, err := strconv.ParseBool(tv); err == nil {
			return b
		}
		return tv != ""
	default:
		return v != nil
	}
}
