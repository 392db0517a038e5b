package store

import (
	"context"
	"time"

	"splicestore/internal/observability"
	"splicestore/pkg/domain"
)

// Compile-time contract assertion ensuring the wrapper satisfies the domain interface.
var _ domain.Store = (*instrumented)(nil)

// WithMetrics decorates a store so every operation reports its duration and
// outcome to the recorder.
func WithMetrics(s domain.Store, rec observability.MetricsRecorder) domain.Store {
	if rec == nil {
		return s
	}
	return &instrumented{inner: s, rec: rec}
}

type instrumented struct {
	inner domain.Store
	rec   observability.MetricsRecorder
}

func (s *instrumented) observe(ctx context.Context, op string, start time.Time, err error) {
	s.rec.Observe(ctx, op, err == nil, time.Since(start))
}

func (s *instrumented) Descriptor() domain.StoreDescriptor { return s.inner.Descriptor() }
func (s *instrumented) Migration() domain.MigrationID      { return s.inner.Migration() }
func (s *instrumented) Close() error                       { return s.inner.Close() }

func (s *instrumented) IngestUpdate(ctx context.Context, domainID domain.DomainID, u domain.Update) error {
	start := time.Now()
	err := s.inner.IngestUpdate(ctx, domainID, u)
	s.observe(ctx, "ingest_update", start, err)
	return err
}

func (s *instrumented) GetUpdates(ctx context.Context, after *domain.Cursor, limit domain.Limit) ([]domain.Update, error) {
	start := time.Now()
	out, err := s.inner.GetUpdates(ctx, after, limit)
	s.observe(ctx, "get_updates", start, err)
	return out, err
}

func (s *instrumented) ListContracts(ctx context.Context, template domain.TemplateID, limit domain.Limit, order domain.SortOrder) ([]domain.Contract, error) {
	start := time.Now()
	out, err := s.inner.ListContracts(ctx, template, limit, order)
	s.observe(ctx, "list_contracts", start, err)
	return out, err
}

func (s *instrumented) ListContractsPaginated(ctx context.Context, template domain.TemplateID, afterToken string, pageSize domain.Limit, order domain.SortOrder) (domain.Page, error) {
	start := time.Now()
	out, err := s.inner.ListContractsPaginated(ctx, template, afterToken, pageSize, order)
	s.observe(ctx, "list_contracts_paginated", start, err)
	return out, err
}

func (s *instrumented) ListContractsGroupedBy(ctx context.Context, template domain.TemplateID, column string, limit domain.Limit) (map[string][]domain.Contract, error) {
	start := time.Now()
	out, err := s.inner.ListContractsGroupedBy(ctx, template, column, limit)
	s.observe(ctx, "list_contracts_grouped", start, err)
	return out, err
}

func (s *instrumented) LookupContractByID(ctx context.Context, id domain.ContractID) (domain.QueryResult[*domain.Contract], error) {
	start := time.Now()
	out, err := s.inner.LookupContractByID(ctx, id)
	s.observe(ctx, "lookup_contract_by_id", start, err)
	return out, err
}

func (s *instrumented) LookupContractBy(ctx context.Context, template domain.TemplateID, column, value string) (domain.QueryResult[*domain.Contract], error) {
	start := time.Now()
	out, err := s.inner.LookupContractBy(ctx, template, column, value)
	s.observe(ctx, "lookup_contract_by", start, err)
	return out, err
}

func (s *instrumented) ContractState(ctx context.Context, id domain.ContractID) (*domain.ContractState, error) {
	start := time.Now()
	out, err := s.inner.ContractState(ctx, id)
	s.observe(ctx, "contract_state", start, err)
	return out, err
}

func (s *instrumented) ListTxLog(ctx context.Context, after *domain.Cursor, limit domain.Limit) ([]domain.TxLogEntry, error) {
	start := time.Now()
	out, err := s.inner.ListTxLog(ctx, after, limit)
	s.observe(ctx, "list_txlog", start, err)
	return out, err
}

func (s *instrumented) Watermark(ctx context.Context) (*domain.Cursor, error) {
	start := time.Now()
	out, err := s.inner.Watermark(ctx)
	s.observe(ctx, "watermark", start, err)
	return out, err
}

func (s *instrumented) GetMarker(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	v, ok, err := s.inner.GetMarker(ctx, key)
	s.observe(ctx, "get_marker", start, err)
	return v, ok, err
}

func (s *instrumented) SetMarker(ctx context.Context, key, value string) error {
	start := time.Now()
	err := s.inner.SetMarker(ctx, key, value)
	s.observe(ctx, "set_marker", start, err)
	return err
}
