// Package metadata describes the entity types indexsync knows about.
//
// An entity type maps a logical name to a table in the record store, its
// identifying columns and an optional surrogate unique key. The registry is
// built from configuration and is read-only afterwards.
//
// Ordering key resolution (ResolveOrderingKey) is a pure function over the
// Descriptor interface so hosts with a different metadata source only need to
// provide a Descriptor.
package metadata
