package domain

import (
	"testing"
	"time"
)

func TestCursorOrdering(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		a, b Cursor
		less bool
	}{
		{"migration dominates", Cursor{Migration: 1, RecordTime: base.Add(time.Hour)}, Cursor{Migration: 2, RecordTime: base}, true},
		{"record time within migration", Cursor{Migration: 1, RecordTime: base}, Cursor{Migration: 1, RecordTime: base.Add(time.Nanosecond)}, true},
		{"seq breaks ties", Cursor{Migration: 1, RecordTime: base, Seq: 0}, Cursor{Migration: 1, RecordTime: base, Seq: 1}, true},
		{"equal is not less", Cursor{Migration: 1, RecordTime: base, Seq: 3}, Cursor{Migration: 1, RecordTime: base, Seq: 3}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Less(tc.b); got != tc.less {
				t.Fatalf("Less(%s, %s) = %v, want %v", tc.a, tc.b, got, tc.less)
			}
			if tc.less && tc.b.Less(tc.a) {
				t.Fatalf("ordering not antisymmetric for %s / %s", tc.a, tc.b)
			}
		})
	}
}

func TestCursorEqualAcrossTimezones(t *testing.T) {
	utc := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cet := utc.In(time.FixedZone("CET", 3600))
	a := Cursor{Migration: 4, RecordTime: utc, Seq: 7}
	b := Cursor{Migration: 4, RecordTime: cet, Seq: 7}
	if !a.Equal(b) {
		t.Fatalf("cursors with equal instants in different zones must be equal")
	}
	if a.Less(b) || b.Less(a) {
		t.Fatalf("equal cursors must not order before each other")
	}
}

func TestReassignmentDomainAttribution(t *testing.T) {
	r := &Reassignment{Kind: ReassignUnassign, Source: "domain-a", Target: "domain-b"}
	if got := r.Domain(); got != "domain-a" {
		t.Fatalf("unassign sequenced on %s, want source domain-a", got)
	}
	r.Kind = ReassignAssign
	if got := r.Domain(); got != "domain-b" {
		t.Fatalf("assign sequenced on %s, want target domain-b", got)
	}
}
