package entity

import "fmt"

// Field describes one persisted attribute of an entity type
type Field struct {
	Name      string
	Kind      Kind
	Key       bool // primary key; exactly one per type
	Generated bool // key assigned by the database on insert (integer keys only)
	Nullable  bool
}

// Relation declares that Field holds the key of an entity of type Target.
// A mutation on either side of a relation invalidates live queries over the other.
type Relation struct {
	Field  string
	Target string
}

// Type is the metadata of one entity type, mapped to one table.
type Type struct {
	Name      string
	Fields    []Field
	Relations []Relation

	key   int
	index map[string]int
}

// NewType builds a Type. It is validated when added to a Model.
func NewType(name string, fields []Field, relations ...Relation) *Type {
	return &Type{
		Name:      name,
		Fields:    fields,
		Relations: relations,
		key:       -1,
	}
}

func (t *Type) resolve() error {
	if t.Name == "" {
		return fmt.Errorf("entity type name is required")
	}
	if len(t.Fields) == 0 {
		return fmt.Errorf("entity type %s has no fields", t.Name)
	}

	t.key = -1
	t.index = make(map[string]int, len(t.Fields))
	for i, f := range t.Fields {
		if f.Name == "" {
			return fmt.Errorf("entity type %s: field %d has no name", t.Name, i)
		}
		if _, dup := t.index[f.Name]; dup {
			return fmt.Errorf("entity type %s: duplicate field %s", t.Name, f.Name)
		}
		if f.Kind.SQLType() == "" {
			return fmt.Errorf("entity type %s: field %s has invalid kind", t.Name, f.Name)
		}
		if f.Key {
			if t.key >= 0 {
				return fmt.Errorf("entity type %s: more than one key field", t.Name)
			}
			if f.Generated && f.Kind != KindInteger {
				return fmt.Errorf("entity type %s: generated key %s must be an integer", t.Name, f.Name)
			}
			t.key = i
		}
		t.index[f.Name] = i
	}
	if t.key < 0 {
		return fmt.Errorf("entity type %s has no key field", t.Name)
	}
	return nil
}

// KeyField returns the primary key field
func (t *Type) KeyField() Field {
	return t.Fields[t.key]
}

// Field looks up a field by name
func (t *Type) Field(name string) (Field, bool) {
	i, ok := t.index[name]
	if !ok {
		return Field{}, false
	}
	return t.Fields[i], true
}

// Columns returns the field names in declaration order
func (t *Type) Columns() []string {
	cols := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		cols[i] = f.Name
	}
	return cols
}
