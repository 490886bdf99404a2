package repository

import (
	"sort"

	"winmaint/internal/script"
)

// entryMap is the bijection between sources and script identities. Both
// directions change together; callers check for conflicts before put.
type entryMap struct {
	byPath map[string]*script.Script
	byName map[string]string
}

func newEntryMap() *entryMap {
	return &entryMap{
		byPath: make(map[string]*script.Script),
		byName: make(map[string]string),
	}
}

func (m *entryMap) put(path string, s *script.Script) {
	if old, ok := m.byPath[path]; ok {
		delete(m.byName, old.InvariantName)
	}
	if oldPath, ok := m.byName[s.InvariantName]; ok {
		delete(m.byPath, oldPath)
	}
	m.byPath[path] = s
	m.byName[s.InvariantName] = path
}

func (m *entryMap) removePath(path string) (*script.Script, bool) {
	s, ok := m.byPath[path]
	if !ok {
		return nil, false
	}
	delete(m.byPath, path)
	delete(m.byName, s.InvariantName)
	return s, true
}

func (m *entryMap) at(path string) (*script.Script, bool) {
	s, ok := m.byPath[path]
	return s, ok
}

func (m *entryMap) pathOf(name string) (string, bool) {
	p, ok := m.byName[name]
	return p, ok
}

func (m *entryMap) get(name string) (*script.Script, bool) {
	p, ok := m.byName[name]
	if !ok {
		return nil, false
	}
	return m.byPath[p], true
}

func (m *entryMap) len() int { return len(m.byPath) }

// sorted returns the scripts ordered by invariant name.
func (m *entryMap) sorted() []*script.Script {
	out := make([]*script.Script, 0, len(m.byPath))
	for _, s := range m.byPath {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvariantName < out[j].InvariantName })
	return out
}
