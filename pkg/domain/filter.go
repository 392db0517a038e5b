package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// PayloadPredicate decides whether a created contract with the given payload
// belongs in the store. A nil predicate matches every payload.
type PayloadPredicate func(payload json.RawMessage) bool

// PayloadProjection denormalizes payload fields into queryable index columns.
// A nil projection yields no index columns.
type PayloadProjection func(payload json.RawMessage) (map[string]string, error)

// TemplateHandler bundles the predicate and projection registered for one
// template.
type TemplateHandler struct {
	Match   PayloadPredicate
	Project PayloadProjection
}

// ContractFilter is the declarative per-store template table deciding which
// creates and archives a store indexes and how payloads are denormalized.
// It is built once at store construction and never mutated afterwards.
type ContractFilter struct {
	handlers map[TemplateID]TemplateHandler
}

// NewContractFilter returns an empty filter.
func NewContractFilter() *ContractFilter {
	return &ContractFilter{handlers: make(map[TemplateID]TemplateHandler)}
}

// Register adds a handler for a template and returns the filter for chaining.
// Registering the same template twice replaces the earlier handler.
func (f *ContractFilter) Register(template TemplateID, h TemplateHandler) *ContractFilter {
	f.handlers[template] = h
	return f
}

// Handler returns the handler registered for a template.
func (f *ContractFilter) Handler(template TemplateID) (TemplateHandler, bool) {
	h, ok := f.handlers[template]
	return h, ok
}

// Templates returns the registered template ids in sorted order.
func (f *ContractFilter) Templates() []TemplateID {
	out := make([]TemplateID, 0, len(f.handlers))
	for t := range f.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Matches reports whether a created contract of the given template and
// payload belongs in the store.
func (f *ContractFilter) Matches(template TemplateID, payload json.RawMessage) bool {
	h, ok := f.handlers[template]
	if !ok {
		return false
	}
	if h.Match == nil {
		return true
	}
	return h.Match(payload)
}

// ProjectIndex computes the index columns for a matched payload.
func (f *ContractFilter) ProjectIndex(template TemplateID, payload json.RawMessage) (map[string]string, error) {
	h, ok := f.handlers[template]
	if !ok {
		return nil, TemplateNotRegisteredError{Template: template}
	}
	if h.Project == nil {
		return map[string]string{}, nil
	}
	cols, err := h.Project(payload)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", template, err)
	}
	if cols == nil {
		cols = map[string]string{}
	}
	return cols, nil
}

// FieldProjection returns a projection extracting the named top-level payload
// fields as strings. Missing fields are omitted; numeric and boolean values
// are stringified.
func FieldProjection(fields ...string) PayloadProjection {
	return func(payload json.RawMessage) (map[string]string, error) {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(payload, &obj); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		cols := make(map[string]string, len(fields))
		for _, field := range fields {
			raw, ok := obj[field]
			if !ok {
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				cols[field] = s
				continue
			}
			var n float64
			if err := json.Unmarshal(raw, &n); err == nil {
				cols[field] = strconv.FormatFloat(n, 'f', -1, 64)
				continue
			}
			var b bool
			if err := json.Unmarshal(raw, &b); err == nil {
				cols[field] = strconv.FormatBool(b)
				continue
			}
			cols[field] = string(raw)
		}
		return cols, nil
	}
}
