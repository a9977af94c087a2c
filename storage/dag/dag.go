// Package dag implements the storage engine's dependency walker and
// topological linearizer: an ordered map keyed by item id, a per-type
// reference-field table, an allowed-dependency matrix, and a linearizer
// that emits a least-to-most-dependent action list. Ported
// algorithm-for-algorithm from curtin/storage_config.py
// (_stype_to_deps, _validate_dep_type, find_item_dependencies,
// get_config_tree, merge_config_trees_to_list) rather than rewritten as a
// generic topological sort, per spec.md §9's framing of the exact
// linearization approach as load-bearing.
package dag

import (
	"fmt"
	"strings"

	"github.com/canonical/curtin/storage"
)

// depFields lists, for each storage type, which fields hold references to
// other items (as a single id or a list of ids). Grounded on
// curtin/storage_config.py's _stype_to_deps.
var depFields = map[storage.Type][]string{
	storage.TypeBcache:         {"backing_device", "cache_device"},
	storage.TypeDisk:           {},
	storage.TypeDMCrypt:        {"volume"},
	storage.TypeFormat:         {"volume"},
	storage.TypeLVMPartition:   {"volgroup"},
	storage.TypeLVMVolGroup:    {"devices"},
	storage.TypeMount:          {"device"},
	storage.TypePartition:      {"device"},
	storage.TypeRAID:           {"devices", "spare_devices"},
	storage.TypeZfs:            {"pool"},
	storage.TypeZpool:          {"vdevs"},
	storage.TypeDasd:           {},
	storage.TypeNVMEController: {},
}

// allowedDeps is the (source_type -> allowed dependency types) matrix.
// Grounded on curtin/storage_config.py's _validate_dep_type "depends" table,
// cross-checked against spec.md §3's composition invariants.
var allowedDeps = map[storage.Type]map[storage.Type]bool{
	storage.TypeBcache: set(storage.TypeBcache, storage.TypeDisk, storage.TypeDMCrypt,
		storage.TypeLVMPartition, storage.TypePartition, storage.TypeRAID),
	storage.TypeDisk: {},
	storage.TypeDMCrypt: set(storage.TypeBcache, storage.TypeDisk, storage.TypeDMCrypt,
		storage.TypeLVMPartition, storage.TypePartition, storage.TypeRAID),
	storage.TypeFormat: set(storage.TypeBcache, storage.TypeDisk, storage.TypeDMCrypt,
		storage.TypeLVMPartition, storage.TypePartition, storage.TypeRAID),
	storage.TypeLVMPartition: set(storage.TypeLVMVolGroup),
	storage.TypeLVMVolGroup: set(storage.TypeBcache, storage.TypeDisk, storage.TypeDMCrypt,
		storage.TypePartition, storage.TypeRAID),
	storage.TypeMount:      set(storage.TypeFormat),
	storage.TypePartition:  set(storage.TypeBcache, storage.TypeDisk, storage.TypeRAID),
	storage.TypeRAID: set(storage.TypeBcache, storage.TypeDisk, storage.TypeDMCrypt,
		storage.TypeLVMPartition, storage.TypePartition),
	storage.TypeZfs:   set(storage.TypeZpool),
	storage.TypeZpool: set(storage.TypeDisk, storage.TypePartition),
}

func set(types ...storage.Type) map[storage.Type]bool {
	m := make(map[storage.Type]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

// DependencyError reports a disallowed or unresolved dependency reference.
type DependencyError struct {
	msg string
}

func (e *DependencyError) Error() string { return e.msg }

// OrderedMap is a storage config list projected into an id-keyed map that
// preserves input order, per spec.md §4.5.
type OrderedMap struct {
	order []string
	items map[string]storage.Item
}

// NewOrderedMap builds an OrderedMap from a storage config list. A repeated
// id is a hard error.
func NewOrderedMap(items []storage.Item) (*OrderedMap, error) {
	m := &OrderedMap{items: make(map[string]storage.Item, len(items))}
	for _, it := range items {
		id := it.ID()
		if id == "" {
			return nil, &DependencyError{msg: "storage item missing required id field"}
		}
		if _, exists := m.items[id]; exists {
			return nil, &DependencyError{msg: fmt.Sprintf("duplicate id: %s", id)}
		}
		m.items[id] = it
		m.order = append(m.order, id)
	}
	return m, nil
}

// Get looks up an item by id.
func (m *OrderedMap) Get(id string) (storage.Item, bool) {
	it, ok := m.items[id]
	return it, ok
}

// Order returns the ids in original input order.
func (m *OrderedMap) Order() []string {
	return append([]string{}, m.order...)
}

// validateDepType checks that depID's type is one drawn from the set
// allowed as a dependency of sourceID's type.
func (m *OrderedMap) validateDepType(sourceID, depKey, depID string) error {
	source, ok := m.items[sourceID]
	if !ok {
		return &DependencyError{msg: fmt.Sprintf("invalid source_id (%s) not in storage config", sourceID)}
	}
	dep, ok := m.items[depID]
	if !ok {
		return &DependencyError{msg: fmt.Sprintf("invalid dep_id (%s) not in storage config", depID)}
	}

	sourceType, depType := source.Type(), dep.Type()
	allowed, known := allowedDeps[sourceType]
	if !known {
		return &DependencyError{msg: fmt.Sprintf("invalid source_type: %s", sourceType)}
	}
	if !allowed[depType] {
		return &DependencyError{msg: fmt.Sprintf(
			"%s(id=%s).%s cannot depend upon %s(id=%s)",
			capitalize(string(sourceType)), sourceID, depKey,
			capitalize(string(depType)), depID)}
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// DependenciesOf walks item_id's reference fields and recursively gathers
// every transitively-referenced id, validating each hop against the
// allowed-dependency matrix. Grounded on find_item_dependencies.
func (m *OrderedMap) DependenciesOf(itemID string) ([]string, error) {
	item, ok := m.items[itemID]
	if !ok {
		return nil, nil
	}

	var deps []string
	for _, depKey := range depFields[item.Type()] {
		raw, has := item[depKey]
		if !has {
			continue
		}
		for _, depID := range toIDList(raw) {
			if err := m.validateDepType(itemID, depKey, depID); err != nil {
				return nil, err
			}
			deps = append(deps, depID)
			sub, err := m.DependenciesOf(depID)
			if err != nil {
				return nil, err
			}
			deps = append(deps, sub...)
		}
	}
	return deps, nil
}

func toIDList(v interface{}) []string {
	switch vv := v.(type) {
	case string:
		return []string{vv}
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Linearize computes, for every item, its dependency-depth (the count of
// distinct ids in {item} ∪ its transitive dependencies) and emits items in
// non-decreasing depth, ties broken by input order. Grounded on
// get_config_tree + merge_config_trees_to_list: depth there is the size of
// each item's per-item dependency tree (itself plus every distinct
// transitive dependency), not the tree's longest-path height; bucketing by
// that size and preserving registration order within a bucket reproduces
// the reference implementation's list exactly, including its tie-breaking.
func (m *OrderedMap) Linearize() ([]storage.Item, error) {
	levels := make(map[string]int, len(m.order))
	maxLevel := 0
	for _, id := range m.order {
		deps, err := m.DependenciesOf(id)
		if err != nil {
			return nil, err
		}
		seen := map[string]bool{id: true}
		for _, d := range deps {
			seen[d] = true
		}
		levels[id] = len(seen)
		if levels[id] > maxLevel {
			maxLevel = levels[id]
		}
	}

	out := make([]storage.Item, 0, len(m.order))
	for lvl := 0; lvl <= maxLevel; lvl++ {
		for _, id := range m.order {
			if levels[id] == lvl {
				out = append(out, m.items[id])
			}
		}
	}
	return out, nil
}
