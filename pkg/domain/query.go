package domain

// SortOrder selects the direction of a listing.
type SortOrder string

const (
	// Ascending orders results oldest-first (insertion order).
	Ascending SortOrder = "asc"
	// Descending orders results newest-first.
	Descending SortOrder = "desc"
)

// DefaultPageSize bounds listings when no explicit limit was requested.
const DefaultPageSize = 100

// Limit bounds the size of a listing: either the fixed default or an explicit
// positive bound.
type Limit struct {
	n int
}

// DefaultLimit returns the default bound.
func DefaultLimit() Limit { return Limit{} }

// HardLimit returns an explicit positive bound, or InvalidLimitError when n
// is not positive.
func HardLimit(n int) (Limit, error) {
	if n <= 0 {
		return Limit{}, InvalidLimitError{N: n}
	}
	return Limit{n: n}, nil
}

// MustHardLimit is HardLimit panicking on a non-positive bound. Intended for
// statically known limits.
func MustHardLimit(n int) Limit {
	l, err := HardLimit(n)
	if err != nil {
		panic(err)
	}
	return l
}

// Value returns the effective bound.
func (l Limit) Value() int {
	if l.n <= 0 {
		return DefaultPageSize
	}
	return l.n
}

// Page is one page of a cursor-based listing. NextToken is empty when the
// listing is exhausted.
type Page struct {
	Contracts []Contract `json:"contracts"`
	NextToken string     `json:"next_token,omitempty"`
}

// QueryResult pairs a read result with the store's ingestion offset taken
// from the same snapshot that produced the result. Callers use the offset as
// a deduplication token for dependent writes. Offset is nil when the store
// has not ingested anything yet.
type QueryResult[T any] struct {
	Value  T
	Offset *Cursor
}
