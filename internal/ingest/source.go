package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"splicestore/pkg/domain"
)

// SliceSource replays a fixed sequence of updates and then closes the
// stream. Used for tests and deterministic replays; the party filter is
// ignored since slices are prepared per store.
type SliceSource struct {
	mu      sync.Mutex
	updates []Envelope
}

// NewSliceSource builds a source over the given envelopes. They must already
// be in ordering-key order.
func NewSliceSource(updates ...Envelope) *SliceSource {
	return &SliceSource{updates: updates}
}

// Append adds further envelopes to future subscriptions.
func (s *SliceSource) Append(updates ...Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, updates...)
}

// Subscribe implements Source.
func (s *SliceSource) Subscribe(ctx context.Context, after *domain.Cursor, _ []domain.PartyID) (<-chan Envelope, <-chan error, error) {
	s.mu.Lock()
	pending := make([]Envelope, len(s.updates))
	copy(pending, s.updates)
	s.mu.Unlock()

	out := make(chan Envelope)
	errs := make(chan error)
	go func() {
		defer close(out)
		defer close(errs)
		for _, env := range pending {
			if after != nil && !after.Less(env.Update.Cursor()) {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- env:
			}
		}
	}()
	return out, errs, nil
}

// LedgerEnd implements Source, reporting the cursor of the newest update.
func (s *SliceSource) LedgerEnd(context.Context) (*domain.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return nil, nil
	}
	c := s.updates[len(s.updates)-1].Update.Cursor()
	return &c, nil
}

// ReaderSource streams updates decoded from JSON lines, one encoded update
// per line, as produced by domain.EncodeUpdate. Used for operational replay
// of exported histories.
type ReaderSource struct {
	r io.Reader
}

// NewReaderSource wraps a reader of JSONL-encoded updates.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

// Subscribe implements Source. The reader is consumed exactly once.
func (s *ReaderSource) Subscribe(ctx context.Context, after *domain.Cursor, _ []domain.PartyID) (<-chan Envelope, <-chan error, error) {
	out := make(chan Envelope)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		scanner := bufio.NewScanner(s.r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}
			u, err := domain.DecodeUpdate(raw)
			if err != nil {
				errs <- fmt.Errorf("line %d: %w", line, err)
				return
			}
			if after != nil && !after.Less(u.Cursor()) {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- Envelope{Domain: u.Domain(), Update: u}:
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- fmt.Errorf("read updates: %w", err)
		}
	}()
	return out, errs, nil
}

// LedgerEnd implements Source. A reader stream has no known end ahead of
// consumption.
func (s *ReaderSource) LedgerEnd(context.Context) (*domain.Cursor, error) {
	return nil, nil
}
