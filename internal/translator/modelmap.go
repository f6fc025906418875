package translator

import (
	"sort"
	"sync"
)

// ModelMapper resolves Gemini model names to upstream model names using
// a configured table with a default. Safe for concurrent use; the table
// can be swapped on config reload.
type ModelMapper struct {
	mu           sync.RWMutex
	mapping      map[string]string
	defaultModel string
}

// NewModelMapper builds a mapper from the configured table and default.
func NewModelMapper(mapping map[string]string, defaultModel string) *ModelMapper {
	m := &ModelMapper{}
	m.Update(mapping, defaultModel)
	return m
}

// Resolve returns the upstream model for a Gemini model name, or the
// default when the name is unmapped.
func (m *ModelMapper) Resolve(geminiModel string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mapped, ok := m.mapping[geminiModel]; ok && mapped != "" {
		return mapped
	}
	return m.defaultModel
}

// Update replaces the mapping table and default model.
func (m *ModelMapper) Update(mapping map[string]string, defaultModel string) {
	copied := make(map[string]string, len(mapping))
	for k, v := range mapping {
		copied[k] = v
	}
	m.mu.Lock()
	m.mapping = copied
	m.defaultModel = defaultModel
	m.mu.Unlock()
}

// GeminiModels returns the mapped Gemini model names, sorted.
func (m *ModelMapper) GeminiModels() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.mapping))
	for name := range m.mapping {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}
