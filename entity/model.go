package entity

import (
	"fmt"
	"sort"
)

// Model is the set of entity types known to one store. Relationship closure
// is computed once here so mutation matching never walks relations per event.
type Model struct {
	types    map[string]*Type
	order    []string
	affected map[string][]string
}

// NewModel validates the given types and resolves their relations.
func NewModel(types ...*Type) (*Model, error) {
	m := &Model{
		types:    make(map[string]*Type, len(types)),
		affected: make(map[string][]string, len(types)),
	}

	for _, t := range types {
		if t == nil {
			return nil, fmt.Errorf("nil entity type")
		}
		if err := t.resolve(); err != nil {
			return nil, err
		}
		if _, dup := m.types[t.Name]; dup {
			return nil, fmt.Errorf("duplicate entity type %s", t.Name)
		}
		m.types[t.Name] = t
		m.order = append(m.order, t.Name)
	}

	edges := make(map[string]map[string]struct{}, len(types))
	link := func(a, b string) {
		if edges[a] == nil {
			edges[a] = make(map[string]struct{})
		}
		edges[a][b] = struct{}{}
	}

	for _, t := range types {
		for _, rel := range t.Relations {
			f, ok := t.Field(rel.Field)
			if !ok {
				return nil, fmt.Errorf("entity type %s: relation field %s does not exist", t.Name, rel.Field)
			}
			target, ok := m.types[rel.Target]
			if !ok {
				return nil, fmt.Errorf("entity type %s: relation target %s is not in the model", t.Name, rel.Target)
			}
			if target.KeyField().Kind != f.Kind {
				return nil, fmt.Errorf("entity type %s: relation field %s is %s but %s key is %s",
					t.Name, rel.Field, f.Kind, target.Name, target.KeyField().Kind)
			}
			link(t.Name, target.Name)
			link(target.Name, t.Name)
		}
	}

	for _, name := range m.order {
		m.affected[name] = closure(name, edges)
	}

	return m, nil
}

// closure walks relation edges from start in both directions
func closure(start string, edges map[string]map[string]struct{}) []string {
	seen := map[string]struct{}{start: {}}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range edges[cur] {
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			queue = append(queue, next)
		}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Type returns the entity type with the given name
func (m *Model) Type(name string) (*Type, bool) {
	t, ok := m.types[name]
	return t, ok
}

// Types returns all types in registration order
func (m *Model) Types() []*Type {
	out := make([]*Type, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.types[name])
	}
	return out
}

// Affected returns the entity types whose live queries must be re-evaluated
// when name is mutated: name itself plus everything related to it, directly
// or transitively. Unknown names only affect themselves.
func (m *Model) Affected(name string) []string {
	if a, ok := m.affected[name]; ok {
		return a
	}
	return []string{name}
}
