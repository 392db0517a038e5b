package domain

import (
	"errors"
	"testing"
)

func TestLimits(t *testing.T) {
	if got := DefaultLimit().Value(); got != DefaultPageSize {
		t.Fatalf("default limit = %d, want %d", got, DefaultPageSize)
	}
	l, err := HardLimit(25)
	if err != nil {
		t.Fatalf("hard limit: %v", err)
	}
	if l.Value() != 25 {
		t.Fatalf("hard limit value = %d, want 25", l.Value())
	}
	for _, n := range []int{0, -1} {
		_, err := HardLimit(n)
		var invalid InvalidLimitError
		if !errors.As(err, &invalid) {
			t.Fatalf("HardLimit(%d) = %v, want InvalidLimitError", n, err)
		}
	}
}

func TestMustHardLimitPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for non-positive limit")
		}
	}()
	MustHardLimit(0)
}

func TestDescriptorEquality(t *testing.T) {
	a := StoreDescriptor{Name: "sv", Version: 1, Party: "alice::ns", Participant: "p1", Keys: map[string]string{"k": "v"}}
	b := StoreDescriptor{Name: "sv", Version: 1, Party: "alice::ns", Participant: "p1", Keys: map[string]string{"k": "v"}}
	if !a.Equal(b) {
		t.Fatalf("identical descriptors must compare equal")
	}
	b.Keys = map[string]string{"k": "other"}
	if a.Equal(b) {
		t.Fatalf("descriptors with different keys must not compare equal")
	}
	b = a
	b.Version = 2
	if a.Equal(b) {
		t.Fatalf("descriptors with different versions must not compare equal")
	}
}
