package entity

import (
	"fmt"
	"sync"
)

// Record is one entity instance bound to its Type. Records returned by a
// store are shared through its identity map, so access is synchronized.
//
// Every Set counts as an edit. A record whose edits have not all been
// marked saved is dirty, and Refresh leaves it alone.
type Record struct {
	typ    *Type
	mu     sync.RWMutex
	values map[string]Value
	edits  uint64
	saved  uint64
}

// NewRecord creates an empty record with every field set to NULL
func NewRecord(t *Type) *Record {
	r := &Record{
		typ:    t,
		values: make(map[string]Value, len(t.Fields)),
	}
	for _, f := range t.Fields {
		r.values[f.Name] = Null(f.Kind)
	}
	return r
}

func (r *Record) Type() *Type { return r.typ }

// Get returns the value of a field, or the invalid zero Value if the field is unknown
func (r *Record) Get(field string) Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.values[field]
}

// Set assigns a field. The value kind must match the field kind.
func (r *Record) Set(field string, v Value) error {
	f, ok := r.typ.Field(field)
	if !ok {
		return fmt.Errorf("%s has no field %s", r.typ.Name, field)
	}
	if v.Kind() != f.Kind {
		return fmt.Errorf("%s.%s is %s, got %s", r.typ.Name, field, f.Kind, v.Kind())
	}
	if v.IsNull() && !f.Nullable && !f.Key {
		return fmt.Errorf("%s.%s is not nullable", r.typ.Name, field)
	}

	r.mu.Lock()
	r.values[field] = v
	r.edits++
	r.mu.Unlock()
	return nil
}

// MustSet is Set for statically known fields; it panics on mismatch
func (r *Record) MustSet(field string, v Value) *Record {
	if err := r.Set(field, v); err != nil {
		panic(err)
	}
	return r
}

// Key returns the primary key value
func (r *Record) Key() Value {
	return r.Get(r.typ.KeyField().Name)
}

// SetKey assigns the primary key, used after a generated insert
func (r *Record) SetKey(v Value) {
	r.mu.Lock()
	r.values[r.typ.KeyField().Name] = v
	r.mu.Unlock()
}

// Values returns a copy of all field values
func (r *Record) Values() map[string]Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Value, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Replace overwrites all field values from vals; fields missing from vals keep their value
func (r *Record) Replace(vals map[string]Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.typ.Fields {
		if v, ok := vals[f.Name]; ok {
			r.values[f.Name] = v
		}
	}
}

// Refresh is Replace for a clean record. A dirty record is left untouched
// and Refresh reports false.
func (r *Record) Refresh(vals map[string]Value) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.edits != r.saved {
		return false
	}
	for _, f := range r.typ.Fields {
		if v, ok := vals[f.Name]; ok {
			r.values[f.Name] = v
		}
	}
	return true
}

// Edits returns the number of Set calls made on the record
func (r *Record) Edits() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.edits
}

// MarkSaved records that the first n edits have been written. Edits made
// after n was read keep the record dirty.
func (r *Record) MarkSaved(n uint64) {
	r.mu.Lock()
	if n > r.saved {
		r.saved = n
	}
	r.mu.Unlock()
}

// Dirty reports whether the record has edits that were never written
func (r *Record) Dirty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.edits != r.saved
}

// CacheKey identifies the record in an identity map: type name plus key
func (r *Record) CacheKey() string {
	return CacheKey(r.typ.Name, r.Key())
}

// CacheKey builds the identity-map key for a type and primary key
func CacheKey(typeName string, key Value) string {
	return typeName + ":" + key.String()
}
