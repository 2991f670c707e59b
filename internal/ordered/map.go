// Package ordered provides an insertion-ordered string map.
// This package is internal and should not be imported by external projects.
package ordered

// Map preserves insertion order for first-time keys. Setting an existing
// key overwrites the value without changing its position.
type Map struct {
	keys   []string
	values map[string]string
}

// NewMap creates an empty ordered map.
func NewMap() *Map {
	return &Map{values: make(map[string]string)}
}

// Set appends key if new, otherwise overwrites in place.
func (m *Map) Set(key, value string) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key and whether it exists.
func (m *Map) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return len(m.keys)
}

// Keys returns the keys in insertion order. The returned slice is a copy.
func (m *Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Range calls fn for each entry in insertion order. Iteration stops if fn
// returns false.
func (m *Map) Range(fn func(key, value string) bool) {
	for _, k := range m.keys {
		if !fn(k, m.values[k]) {
			return
		}
	}
}
