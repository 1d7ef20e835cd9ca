package krt

import "fmt"

// tableKey identifies one (address-family, kernel-table-id) pair.
type tableKey struct {
	family Family
	table  uint32
}

// TableRegistry maps (family, kernel-table-id) to the protocol instance
// that owns it. Registration is exclusive: a second registration of the
// same key fails instead of silently replacing the first owner.
type TableRegistry struct {
	owners map[tableKey]RouteSink
}

// NewTableRegistry returns an empty registry.
func NewTableRegistry() *TableRegistry {
	return &TableRegistry{owners: make(map[tableKey]RouteSink)}
}

// Register binds (family, table) to owner. It returns ErrDuplicateTable if
// the pair is already owned.
func (r *TableRegistry) Register(family Family, table uint32, owner RouteSink) error {
	key := tableKey{family, table}
	if _, exists := r.owners[key]; exists {
		return fmt.Errorf("%w: family=%s table=%d", ErrDuplicateTable, family, table)
	}
	r.owners[key] = owner
	return nil
}

// Unregister releases (family, table), typically on protocol shutdown.
func (r *TableRegistry) Unregister(family Family, table uint32) {
	delete(r.owners, tableKey{family, table})
}

// Lookup returns the owner of (family, table), if any.
func (r *TableRegistry) Lookup(family Family, table uint32) (RouteSink, bool) {
	owner, ok := r.owners[tableKey{family, table}]
	return owner, ok
}
