// Package ingest drives one store's ingestion pipeline: a single ledger
// update subscription feeding a sequential apply loop through a bounded
// queue. One pipeline runs per store instance; pipelines never share state
// beyond the storage engine underneath their stores.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"splicestore/internal/observability"
	"splicestore/pkg/domain"
)

// Envelope is one update as delivered by a source, tagged with the domain it
// was sequenced on.
type Envelope struct {
	Domain domain.DomainID
	Update domain.Update
}

// Source is the resumable ledger update subscription the pipeline consumes.
// Cancelling the subscribe context is the kill switch: the source must close
// the update channel promptly afterwards.
type Source interface {
	// Subscribe streams updates strictly after the cursor for the given
	// party filter. A nil cursor subscribes from the beginning.
	Subscribe(ctx context.Context, after *domain.Cursor, parties []domain.PartyID) (<-chan Envelope, <-chan error, error)
	// LedgerEnd reports the ordering key of the newest update the source
	// knows of, or nil when the stream is empty or unbounded waits are not
	// supported.
	LedgerEnd(ctx context.Context) (*domain.Cursor, error)
}

// Sink is the slice of the store contract the pipeline writes through.
type Sink interface {
	IngestUpdate(ctx context.Context, domainID domain.DomainID, u domain.Update) error
	Watermark(ctx context.Context) (*domain.Cursor, error)
}

// Config assembles a pipeline.
type Config struct {
	Source  Source
	Sink    Sink
	Parties []domain.PartyID
	// QueueSize bounds the buffer between the subscription and the apply
	// loop; a full queue backpressures the source. Defaults to 64.
	QueueSize int
	// RetryBase and RetryMax shape the exponential backoff applied to
	// transient sink failures. Default 50ms / 5s.
	RetryBase time.Duration
	RetryMax  time.Duration
	Logger    *slog.Logger
	Metrics   *observability.IngestMetrics
}

// Pipeline is one running ingestion loop. Construct with New, drive with
// Start, stop with Close.
type Pipeline struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	watermark *domain.Cursor
	advanced  chan struct{}
	started   bool

	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

// New validates the configuration and returns an idle pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, errors.New("ingest: source required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("ingest: sink required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 50 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		log:      cfg.Logger,
		advanced: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start resumes the subscription from the sink's persisted watermark and
// runs the apply loop until the stream ends, a fatal error occurs or Close
// is called. It may be called once.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("ingest: pipeline already started")
	}
	p.started = true
	p.mu.Unlock()

	resume, err := p.cfg.Sink.Watermark(ctx)
	if err != nil {
		return fmt.Errorf("load resume watermark: %w", err)
	}
	p.setWatermark(resume)

	runCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	updates, errs, err := p.cfg.Source.Subscribe(runCtx, resume, p.cfg.Parties)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe: %w", err)
	}

	queue := make(chan Envelope, p.cfg.QueueSize)
	go p.forward(runCtx, updates, queue)
	go p.apply(runCtx, queue, errs)
	return nil
}

// forward moves updates from the subscription into the bounded queue. A slow
// apply loop fills the queue, which in turn blocks this goroutine and
// backpressures the source channel.
func (p *Pipeline) forward(ctx context.Context, updates <-chan Envelope, queue chan<- Envelope) {
	defer close(queue)
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-updates:
			if !ok {
				return
			}
			select {
			case <-ctx.Done():
				return
			case queue <- env:
				if p.cfg.Metrics != nil {
					p.cfg.Metrics.QueueDepth.Set(float64(len(queue)))
				}
			}
		}
	}
}

// apply is the sequential fold over the update stream: exactly one in-flight
// write at a time, in delivery order.
func (p *Pipeline) apply(ctx context.Context, queue <-chan Envelope, errs <-chan error) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if ok && err != nil {
				p.fail(fmt.Errorf("update source: %w", err))
				return
			}
			if !ok {
				errs = nil
			}
		case env, ok := <-queue:
			if !ok {
				return
			}
			if err := p.applyOne(ctx, env); err != nil {
				p.fail(err)
				return
			}
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.QueueDepth.Set(float64(len(queue)))
			}
		}
	}
}

// applyOne writes one update, retrying transient failures with exponential
// backoff. Idempotent re-ingestion makes blind retry safe; sequencing and
// contract errors are fatal and stop the pipeline.
func (p *Pipeline) applyOne(ctx context.Context, env Envelope) error {
	cursor := env.Update.Cursor()
	// Anything at or below the watermark is a re-delivery the sink will
	// absorb as a no-op.
	duplicate := false
	if wm := p.Watermark(); wm != nil && !wm.Less(cursor) {
		duplicate = true
	}
	backoff := p.cfg.RetryBase
	for {
		err := p.cfg.Sink.IngestUpdate(ctx, env.Domain, env.Update)
		if err == nil {
			p.advance(cursor)
			if p.cfg.Metrics != nil {
				outcome := "applied"
				if duplicate {
					outcome = "duplicate"
				}
				p.cfg.Metrics.UpdatesTotal.WithLabelValues(outcome).Inc()
				p.cfg.Metrics.WatermarkUnix.Set(float64(cursor.RecordTime.UTC().UnixNano()) / float64(time.Second))
			}
			return nil
		}
		if fatalIngestError(err) {
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.UpdatesTotal.WithLabelValues("error").Inc()
			}
			return fmt.Errorf("ingest %s: %w", cursor.String(), err)
		}
		p.log.Warn("transient ingest failure, retrying",
			"cursor", cursor.String(), "backoff", backoff.String(), "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.cfg.RetryMax {
			backoff = p.cfg.RetryMax
		}
	}
}

// fatalIngestError reports errors that blind retry cannot fix.
func fatalIngestError(err error) bool {
	var seq domain.SequencingError
	var tmpl domain.TemplateNotRegisteredError
	return errors.As(err, &seq) || errors.As(err, &tmpl) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (p *Pipeline) fail(err error) {
	p.log.Error("ingestion pipeline stopped", "err", err)
	p.mu.Lock()
	p.runErr = err
	p.mu.Unlock()
}

func (p *Pipeline) setWatermark(c *domain.Cursor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c != nil {
		cp := *c
		p.watermark = &cp
	}
}

// advance publishes a new watermark and wakes all waiters.
func (p *Pipeline) advance(c domain.Cursor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watermark == nil || p.watermark.Less(c) {
		cp := c
		p.watermark = &cp
	}
	close(p.advanced)
	p.advanced = make(chan struct{})
}

// Watermark returns the last applied ordering key, nil before any apply.
func (p *Pipeline) Watermark() *domain.Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watermark == nil {
		return nil
	}
	cp := *p.watermark
	return &cp
}

// WaitUntilIngested blocks until the watermark reaches target. Callers are
// expected to bound the wait through ctx; the pipeline itself never times
// out.
func (p *Pipeline) WaitUntilIngested(ctx context.Context, target domain.Cursor) error {
	for {
		p.mu.Lock()
		caught := p.watermark != nil && !p.watermark.Less(target)
		wait := p.advanced
		err := p.runErr
		p.mu.Unlock()
		if caught {
			return nil
		}
		if err != nil {
			return fmt.Errorf("pipeline failed before reaching %s: %w", target.String(), err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		case <-p.done:
			// The final apply may have reached the target; check once more.
			p.mu.Lock()
			caught = p.watermark != nil && !p.watermark.Less(target)
			err = p.runErr
			p.mu.Unlock()
			if caught {
				return nil
			}
			if err == nil {
				err = errors.New("pipeline stopped")
			}
			return fmt.Errorf("pipeline stopped before reaching %s: %w", target.String(), err)
		}
	}
}

// WaitForLedgerEnd blocks until the watermark reaches the ledger end known
// at call time, then returns. Used to avoid read-after-write races right
// after submitting a command.
func (p *Pipeline) WaitForLedgerEnd(ctx context.Context) error {
	end, err := p.cfg.Source.LedgerEnd(ctx)
	if err != nil {
		return fmt.Errorf("ledger end: %w", err)
	}
	if end == nil {
		return nil
	}
	return p.WaitUntilIngested(ctx, *end)
}

// Ingested runs op after the store has caught up with the ledger end known
// at call time.
func Ingested[T any](ctx context.Context, p *Pipeline, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.WaitForLedgerEnd(ctx); err != nil {
		return zero, err
	}
	return op(ctx)
}

// Done is closed once the apply loop has exited.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Err returns the error that stopped the pipeline, if any.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runErr
}

// Close cancels the subscription, lets the in-flight write finish and waits
// for the apply loop to exit. Safe to call concurrently with reads.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	started := p.started
	cancel := p.cancel
	p.mu.Unlock()
	if !started || cancel == nil {
		return nil
	}
	cancel()
	<-p.done
	return nil
}
