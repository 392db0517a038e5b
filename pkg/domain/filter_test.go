package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestFilterMatchesOnlyRegisteredTemplates(t *testing.T) {
	f := NewContractFilter().Register("pkg:Mod:Amulet", TemplateHandler{})
	if !f.Matches("pkg:Mod:Amulet", json.RawMessage(`{}`)) {
		t.Fatalf("registered template with nil predicate must match")
	}
	if f.Matches("pkg:Mod:Other", json.RawMessage(`{}`)) {
		t.Fatalf("unregistered template must not match")
	}
}

func TestFilterPredicate(t *testing.T) {
	f := NewContractFilter().Register("pkg:Mod:Amulet", TemplateHandler{
		Match: func(payload json.RawMessage) bool {
			var p struct {
				Owner string `json:"owner"`
			}
			return json.Unmarshal(payload, &p) == nil && p.Owner == "alice"
		},
	})
	if !f.Matches("pkg:Mod:Amulet", json.RawMessage(`{"owner":"alice"}`)) {
		t.Fatalf("matching payload rejected")
	}
	if f.Matches("pkg:Mod:Amulet", json.RawMessage(`{"owner":"bob"}`)) {
		t.Fatalf("non-matching payload accepted")
	}
}

func TestProjectIndexUnknownTemplate(t *testing.T) {
	f := NewContractFilter()
	_, err := f.ProjectIndex("pkg:Mod:Unknown", json.RawMessage(`{}`))
	var notRegistered TemplateNotRegisteredError
	if !errors.As(err, &notRegistered) {
		t.Fatalf("got %v, want TemplateNotRegisteredError", err)
	}
	if notRegistered.Template != "pkg:Mod:Unknown" {
		t.Fatalf("error names template %s", notRegistered.Template)
	}
}

func TestFieldProjection(t *testing.T) {
	project := FieldProjection("owner", "round", "locked", "missing")
	cols, err := project(json.RawMessage(`{"owner":"alice::ns","round":42,"locked":true,"extra":"x"}`))
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	want := map[string]string{"owner": "alice::ns", "round": "42", "locked": "true"}
	if len(cols) != len(want) {
		t.Fatalf("got %d columns %v, want %d", len(cols), cols, len(want))
	}
	for k, v := range want {
		if cols[k] != v {
			t.Fatalf("column %s = %q, want %q", k, cols[k], v)
		}
	}
}

func TestFieldProjectionRejectsNonObject(t *testing.T) {
	project := FieldProjection("owner")
	if _, err := project(json.RawMessage(`[1,2]`)); err == nil {
		t.Fatalf("expected error for non-object payload")
	}
}

func TestTemplatesSorted(t *testing.T) {
	f := NewContractFilter().
		Register("b:Mod:T", TemplateHandler{}).
		Register("a:Mod:T", TemplateHandler{}).
		Register("c:Mod:T", TemplateHandler{})
	got := f.Templates()
	want := []TemplateID{"a:Mod:T", "b:Mod:T", "c:Mod:T"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("templates = %v, want %v", got, want)
		}
	}
}
