package domain

import "fmt"

// TemplateNotRegisteredError reports a query against a template the store was
// never configured to filter. This is a programming error and is not retried.
type TemplateNotRegisteredError struct {
	Template TemplateID
}

func (e TemplateNotRegisteredError) Error() string {
	return fmt.Sprintf("template %q is not registered with this store", e.Template)
}

// InvalidLimitError reports a non-positive page limit.
type InvalidLimitError struct {
	N int
}

func (e InvalidLimitError) Error() string {
	return fmt.Sprintf("limit must be positive, got %d", e.N)
}

// InvalidPageTokenError reports a pagination token that was not produced by
// this store.
type InvalidPageTokenError struct {
	Token string
}

func (e InvalidPageTokenError) Error() string {
	return fmt.Sprintf("invalid page token %q", e.Token)
}

// SequencingError reports an update that contradicts the contract lifecycle
// recorded so far, such as an assign for a contract already assigned with no
// prior unassign. Raised rather than masked since masking could hide a
// missed update.
type SequencingError struct {
	Contract ContractID
	Reason   string
}

func (e SequencingError) Error() string {
	return fmt.Sprintf("sequencing violation for contract %q: %s", e.Contract, e.Reason)
}
