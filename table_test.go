package krt

import (
	"errors"
	"testing"
)

func TestTableRegistryExclusiveOwnership(t *testing.T) {
	r := NewTableRegistry()
	a, b := newTestDaemon(), newTestDaemon()

	if err := r.Register(FamilyIPv4, 254, a); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(FamilyIPv4, 254, b); !errors.Is(err, ErrDuplicateTable) {
		t.Fatalf("duplicate register = %v, want ErrDuplicateTable", err)
	}

	// Same table id under a different family is a distinct key.
	if err := r.Register(FamilyIPv6, 254, b); err != nil {
		t.Fatalf("register other family: %v", err)
	}

	owner, ok := r.Lookup(FamilyIPv4, 254)
	if !ok || owner != RouteSink(a) {
		t.Fatalf("lookup returned wrong owner")
	}

	r.Unregister(FamilyIPv4, 254)
	if _, ok := r.Lookup(FamilyIPv4, 254); ok {
		t.Fatalf("lookup after unregister must fail")
	}
	if err := r.Register(FamilyIPv4, 254, b); err != nil {
		t.Fatalf("re-register after unregister: %v", err)
	}
}
