package metadata

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownEntity is returned when a name is not in the registry.
	ErrUnknownEntity = errors.New("unknown entity type")

	// ErrNoOrderingKey is returned when a type has neither a single identifying
	// column nor a composite key with a surrogate unique key.
	ErrNoOrderingKey = errors.New("no usable ordering key")
)

// Descriptor exposes the facts ordering key resolution depends on.
type Descriptor interface {
	Name() string
	HasCompositeKey() bool
	HasSurrogateUniqueKey() bool
	PrimaryKeyPropertyName() string
	SurrogateKeyPropertyName() string
}

// EntityType describes one entity type of the record store.
type EntityType struct {
	// EntityName is the logical name used in sessions and queue entries.
	EntityName string `yaml:"name" json:"name"`

	// Table is the record store table holding the records.
	Table string `yaml:"table" json:"table"`

	// KeyColumns are the identifying columns, in key order.
	KeyColumns []string `yaml:"key" json:"key"`

	// UUIDColumn is an optional surrogate uniformly-ordered unique column.
	UUIDColumn string `yaml:"uuid_column,omitempty" json:"uuid_column,omitempty"`

	// Indexed reports whether the type is configured for direct indexing.
	Indexed bool `yaml:"indexed" json:"indexed"`
}

// Name implements Descriptor.
func (e EntityType) Name() string { return e.EntityName }

// HasCompositeKey implements Descriptor.
func (e EntityType) HasCompositeKey() bool { return len(e.KeyColumns) > 1 }

// HasSurrogateUniqueKey implements Descriptor.
func (e EntityType) HasSurrogateUniqueKey() bool { return e.UUIDColumn != "" }

// PrimaryKeyPropertyName implements Descriptor. It is empty for composite keys.
func (e EntityType) PrimaryKeyPropertyName() string {
	if len(e.KeyColumns) != 1 {
		return ""
	}
	return e.KeyColumns[0]
}

// SurrogateKeyPropertyName implements Descriptor.
func (e EntityType) SurrogateKeyPropertyName() string { return e.UUIDColumn }

// Validate checks the structural constraints of the entity type.
func (e EntityType) Validate() error {
	if strings.TrimSpace(e.EntityName) == "" {
		return fmt.Errorf("entity type: name is required")
	}
	// Index keys use '/' as the separator after the entity name
	if strings.Contains(e.EntityName, "/") {
		return fmt.Errorf("entity type %q: name must not contain '/'", e.EntityName)
	}
	if strings.TrimSpace(e.Table) == "" {
		return fmt.Errorf("entity type %q: table is required", e.EntityName)
	}
	if len(e.KeyColumns) == 0 {
		return fmt.Errorf("entity type %q: at least one key column is required", e.EntityName)
	}
	seen := make(map[string]bool, len(e.KeyColumns))
	for _, col := range e.KeyColumns {
		if strings.TrimSpace(col) == "" {
			return fmt.Errorf("entity type %q: empty key column", e.EntityName)
		}
		if seen[col] {
			return fmt.Errorf("entity type %q: duplicate key column %q", e.EntityName, col)
		}
		seen[col] = true
	}
	return nil
}

// ResolveOrderingKey picks the column used as scan cursor for a type.
//
// A composite key with a surrogate unique key orders by the surrogate.
// Otherwise the single identifying column is used.
func ResolveOrderingKey(d Descriptor) (string, error) {
	if d.HasCompositeKey() && d.HasSurrogateUniqueKey() {
		name := d.SurrogateKeyPropertyName()
		if name == "" {
			return "", fmt.Errorf("entity %q: surrogate key name is empty: %w", d.Name(), ErrNoOrderingKey)
		}
		return name, nil
	}

	pk := d.PrimaryKeyPropertyName()
	if pk == "" {
		return "", fmt.Errorf("entity %q: %w", d.Name(), ErrNoOrderingKey)
	}
	return pk, nil
}

// Registry is a read-only set of entity types keyed by name.
type Registry struct {
	types map[string]EntityType
}

// NewRegistry builds a registry, rejecting invalid or duplicate types.
func NewRegistry(types ...EntityType) (*Registry, error) {
	r := &Registry{types: make(map[string]EntityType, len(types))}
	for _, et := range types {
		if err := et.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.types[et.EntityName]; dup {
			return nil, fmt.Errorf("entity type %q registered twice", et.EntityName)
		}
		r.types[et.EntityName] = et
	}
	return r, nil
}

// MustRegistry is NewRegistry for static test fixtures. Panics on error.
func MustRegistry(types ...EntityType) *Registry {
	r, err := NewRegistry(types...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the entity type with the given name.
func (r *Registry) Get(name string) (EntityType, error) {
	et, ok := r.types[name]
	if !ok {
		return EntityType{}, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
	return et, nil
}

// IsIndexed reports whether name is registered and configured for direct
// indexing.
func (r *Registry) IsIndexed(name string) bool {
	et, ok := r.types[name]
	return ok && et.Indexed
}

// IndexedNames returns the names of all indexed types, sorted.
func (r *Registry) IndexedNames() []string {
	names := make([]string, 0, len(r.types))
	for name, et := range r.types {
		if et.Indexed {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// All returns every registered type sorted by name.
func (r *Registry) All() []EntityType {
	out := make([]EntityType, 0, len(r.types))
	for _, et := range r.types {
		out = append(out, et)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityName < out[j].EntityName })
	return out
}
