package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"splicestore/internal/infra/persistence/sqldb"
	"splicestore/pkg/domain"
)

const amulet = domain.TemplateID("pkg:Splice:Amulet")

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig(version int, migration domain.MigrationID, party domain.PartyID) sqldb.Config {
	return sqldb.Config{
		Descriptor: domain.StoreDescriptor{Name: "sv", Version: version, Party: party, Participant: "p1"},
		Migration:  migration,
		Filter: domain.NewContractFilter().Register(amulet, domain.TemplateHandler{
			Project: domain.FieldProjection("owner"),
		}),
	}
}

func openTestStore(t *testing.T, path string, version int, migration domain.MigrationID, party domain.PartyID) *Store {
	t.Helper()
	s, err := NewStore(path, testConfig(version, migration, party))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func createTx(id domain.ContractID, owner string, migration domain.MigrationID, seq int64) *domain.TransactionTree {
	return &domain.TransactionTree{
		UpdateID:   fmt.Sprintf("create-%s-%d", id, migration),
		DomainID:   "domain-a",
		Migration:  migration,
		RecordTime: t0.Add(time.Duration(seq) * time.Second),
		Offset:     domain.Offset(seq),
		Events: []domain.Event{domain.CreatedEvent{Contract: domain.Contract{
			ID:        id,
			Template:  amulet,
			Payload:   json.RawMessage(fmt.Sprintf(`{"owner":%q}`, owner)),
			CreatedAt: t0,
		}}},
	}
}

func archiveTx(id domain.ContractID, migration domain.MigrationID, seq int64) *domain.TransactionTree {
	return &domain.TransactionTree{
		UpdateID:   fmt.Sprintf("archive-%s", id),
		DomainID:   "domain-a",
		Migration:  migration,
		RecordTime: t0.Add(time.Duration(seq) * time.Second),
		Offset:     domain.Offset(seq),
		Events:     []domain.Event{domain.ExercisedEvent{ContractID: id, Choice: "Archive", Consuming: true}},
	}
}

func mustIngest(t *testing.T, s *Store, updates ...domain.Update) {
	t.Helper()
	ctx := context.Background()
	for _, u := range updates {
		if err := s.IngestUpdate(ctx, u.Domain(), u); err != nil {
			t.Fatalf("ingest %s: %v", u.Cursor(), err)
		}
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s := openTestStore(t, path, 1, 1, "alice::ns")
	first := createTx("c-1", "alice", 1, 1)
	mustIngest(t, s, first)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s = openTestStore(t, path, 1, 1, "alice::ns")
	defer s.Close()
	ctx := context.Background()

	wm, err := s.Watermark(ctx)
	if err != nil || wm == nil || !wm.Equal(first.Cursor()) {
		t.Fatalf("watermark after reopen = %v err=%v, want %s", wm, err, first.Cursor())
	}
	contracts, err := s.ListContracts(ctx, amulet, domain.DefaultLimit(), domain.Ascending)
	if err != nil || len(contracts) != 1 || contracts[0].ID != "c-1" {
		t.Fatalf("contracts after reopen = %v err=%v", contracts, err)
	}

	// Crash-recovery re-delivery: the same update is absorbed.
	mustIngest(t, s, first)
	updates, err := s.GetUpdates(ctx, nil, domain.DefaultLimit())
	if err != nil || len(updates) != 1 {
		t.Fatalf("history after re-delivery = %d err=%v, want 1", len(updates), err)
	}
}

func TestDescriptorMismatchResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s := openTestStore(t, path, 1, 1, "alice::ns")
	mustIngest(t, s, createTx("c-1", "alice", 1, 1))
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Version bump: persisted data belongs to an incompatible incarnation.
	resets := 0
	cfg := testConfig(2, 1, "alice::ns")
	cfg.OnReset = func() { resets++ }
	s, err := NewStore(path, cfg)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer s.Close()
	if resets != 1 {
		t.Fatalf("reset hook fired %d times, want 1", resets)
	}
	ctx := context.Background()

	wm, err := s.Watermark(ctx)
	if err != nil || wm != nil {
		t.Fatalf("watermark after reset = %v err=%v, want nil", wm, err)
	}
	contracts, err := s.ListContracts(ctx, amulet, domain.DefaultLimit(), domain.Ascending)
	if err != nil || len(contracts) != 0 {
		t.Fatalf("contracts after reset = %v err=%v, want none", contracts, err)
	}
	updates, err := s.GetUpdates(ctx, nil, domain.DefaultLimit())
	if err != nil || len(updates) != 0 {
		t.Fatalf("history after reset = %d err=%v, want 0", len(updates), err)
	}
}

func TestCrossMigrationIsolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s := openTestStore(t, path, 1, 1, "alice::ns")
	mustIngest(t, s, createTx("c-1", "alice", 1, 1))
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Hard migration: same descriptor, new migration epoch.
	s = openTestStore(t, path, 1, 2, "alice::ns")
	defer s.Close()
	ctx := context.Background()

	contracts, err := s.ListContracts(ctx, amulet, domain.DefaultLimit(), domain.Ascending)
	if err != nil || len(contracts) != 0 {
		t.Fatalf("migration 1 contracts visible under migration 2: %v err=%v", contracts, err)
	}
	res, err := s.LookupContractByID(ctx, "c-1")
	if err != nil || res.Value != nil {
		t.Fatalf("migration 1 contract found under migration 2: %+v err=%v", res.Value, err)
	}

	// Same contract id under the new epoch is a distinct row.
	mustIngest(t, s, createTx("c-1", "alice", 2, 1))
	contracts, err = s.ListContracts(ctx, amulet, domain.DefaultLimit(), domain.Ascending)
	if err != nil || len(contracts) != 1 {
		t.Fatalf("contracts under migration 2 = %v err=%v, want 1", contracts, err)
	}

	// History spans epochs in ordering-key order.
	updates, err := s.GetUpdates(ctx, nil, domain.DefaultLimit())
	if err != nil || len(updates) != 2 {
		t.Fatalf("history = %d err=%v, want both epochs", len(updates), err)
	}
	if !updates[0].Cursor().Less(updates[1].Cursor()) {
		t.Fatalf("history out of order: %s !< %s", updates[0].Cursor(), updates[1].Cursor())
	}
}

func TestConcurrentIngestExactlyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s := openTestStore(t, path, 1, 1, "alice::ns")
	defer s.Close()

	stream := make([]domain.Update, 0, 10)
	for i := 1; i <= 10; i++ {
		stream = append(stream, createTx(domain.ContractID(fmt.Sprintf("c-%d", i)), "alice", 1, int64(i)))
	}

	// Simulate a fail-over where several processes believe they own
	// ingestion of the same stream.
	var wg sync.WaitGroup
	errs := make(chan error, 10*len(stream))
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, u := range stream {
				if err := s.IngestUpdate(context.Background(), u.Domain(), u); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent ingest: %v", err)
	}

	ctx := context.Background()
	updates, err := s.GetUpdates(ctx, nil, domain.DefaultLimit())
	if err != nil || len(updates) != len(stream) {
		t.Fatalf("history = %d err=%v, want %d", len(updates), err, len(stream))
	}
	contracts, err := s.ListContracts(ctx, amulet, domain.DefaultLimit(), domain.Ascending)
	if err != nil || len(contracts) != len(stream) {
		t.Fatalf("contracts = %d err=%v, want %d", len(contracts), err, len(stream))
	}
}

func TestWatermarkDoesNotRegressOnLateUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s := openTestStore(t, path, 1, 1, "alice::ns")
	defer s.Close()
	ctx := context.Background()

	later := createTx("c-2", "alice", 1, 2)
	earlier := createTx("c-1", "alice", 1, 1)
	// A reconnect can deliver a never-ingested older update after newer
	// ones committed; it must be recorded without moving the watermark back.
	mustIngest(t, s, later, earlier)

	wm, err := s.Watermark(ctx)
	if err != nil || wm == nil || !wm.Equal(later.Cursor()) {
		t.Fatalf("watermark = %v err=%v, want %s", wm, err, later.Cursor())
	}
	updates, err := s.GetUpdates(ctx, nil, domain.DefaultLimit())
	if err != nil || len(updates) != 2 {
		t.Fatalf("history = %d err=%v, want both updates", len(updates), err)
	}
}

func TestMultipleCreatesInOneTransaction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s := openTestStore(t, path, 1, 1, "alice::ns")
	defer s.Close()
	ctx := context.Background()

	tree := &domain.TransactionTree{
		UpdateID:   "batch-create",
		DomainID:   "domain-a",
		Migration:  1,
		RecordTime: t0.Add(time.Second),
		Offset:     1,
		Events: []domain.Event{
			domain.CreatedEvent{Contract: domain.Contract{
				ID: "c-1", Template: amulet, Payload: json.RawMessage(`{"owner":"alice"}`), CreatedAt: t0,
			}},
			domain.CreatedEvent{Contract: domain.Contract{
				ID: "c-2", Template: amulet, Payload: json.RawMessage(`{"owner":"alice"}`), CreatedAt: t0,
			}},
		},
	}
	mustIngest(t, s, tree)

	contracts, err := s.ListContracts(ctx, amulet, domain.DefaultLimit(), domain.Ascending)
	if err != nil || len(contracts) != 2 {
		t.Fatalf("contracts = %v err=%v, want both creates", contracts, err)
	}
	if contracts[0].ID != "c-1" || contracts[1].ID != "c-2" {
		t.Fatalf("insertion order not preserved: %v", contracts)
	}
}

func TestOffsetMatchesSnapshotAfterEachIngest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s := openTestStore(t, path, 1, 1, "alice::ns")
	defer s.Close()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		u := createTx(domain.ContractID(fmt.Sprintf("c-%d", i)), "alice", 1, int64(i))
		mustIngest(t, s, u)
		res, err := s.LookupContractByID(ctx, u.Events[0].(domain.CreatedEvent).Contract.ID)
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if res.Value == nil {
			t.Fatalf("contract missing right after ingest %d", i)
		}
		if res.Offset == nil || !res.Offset.Equal(u.Cursor()) {
			t.Fatalf("offset = %v, want %s", res.Offset, u.Cursor())
		}
	}
}

func TestLookupByIndexColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s := openTestStore(t, path, 1, 1, "alice::ns")
	defer s.Close()
	ctx := context.Background()

	mustIngest(t, s,
		createTx("c-1", "alice", 1, 1),
		createTx("c-2", "bob", 1, 2),
	)
	res, err := s.LookupContractBy(ctx, amulet, "owner", "bob")
	if err != nil {
		t.Fatalf("lookup by owner: %v", err)
	}
	if res.Value == nil || res.Value.ID != "c-2" {
		t.Fatalf("lookup by owner = %+v, want c-2", res.Value)
	}
	res, err = s.LookupContractBy(ctx, amulet, "owner", "nobody")
	if err != nil || res.Value != nil {
		t.Fatalf("lookup of absent owner = %+v err=%v, want nil", res.Value, err)
	}
}

func TestGroupedListing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s := openTestStore(t, path, 1, 1, "alice::ns")
	defer s.Close()

	mustIngest(t, s,
		createTx("c-1", "alice", 1, 1),
		createTx("c-2", "alice", 1, 2),
		createTx("c-3", "bob", 1, 3),
	)
	groups, err := s.ListContractsGroupedBy(context.Background(), amulet, "owner", domain.DefaultLimit())
	if err != nil {
		t.Fatalf("grouped: %v", err)
	}
	if len(groups["alice"]) != 2 || len(groups["bob"]) != 1 {
		t.Fatalf("groups = %v, want alice:2 bob:1", groups)
	}
}

func TestReassignmentScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s := openTestStore(t, path, 1, 1, "alice::ns")
	defer s.Close()
	ctx := context.Background()

	unassign := &domain.Reassignment{
		Kind: domain.ReassignUnassign, ContractID: "c-1",
		Source: "domain-a", Target: "domain-b",
		ReassignmentID: "r-1", Counter: 1,
		Migration: 1, RecordTime: t0.Add(2 * time.Second), Offset: 2,
	}
	assign := &domain.Reassignment{
		Kind: domain.ReassignAssign, ContractID: "c-1",
		Source: "domain-a", Target: "domain-b",
		ReassignmentID: "r-1", Counter: 1,
		Migration: 1, RecordTime: t0.Add(3 * time.Second), Offset: 3,
	}
	mustIngest(t, s, createTx("c-1", "alice", 1, 1), unassign)

	state, err := s.ContractState(ctx, "c-1")
	if err != nil || state == nil || state.Kind != domain.StateInFlight {
		t.Fatalf("state after unassign = %+v err=%v, want in-flight", state, err)
	}

	mustIngest(t, s, assign)
	state, err = s.ContractState(ctx, "c-1")
	if err != nil || state == nil || state.Kind != domain.StateAssigned || state.Domain != "domain-b" {
		t.Fatalf("state after assign = %+v err=%v, want assigned to domain-b", state, err)
	}

	mustIngest(t, s, archiveTx("c-1", 1, 4))
	contracts, err := s.ListContracts(ctx, amulet, domain.DefaultLimit(), domain.Ascending)
	if err != nil || len(contracts) != 0 {
		t.Fatalf("archived contract still listed: %v err=%v", contracts, err)
	}

	updates, err := s.GetUpdates(ctx, nil, domain.DefaultLimit())
	if err != nil || len(updates) != 4 {
		t.Fatalf("history = %d err=%v, want 4", len(updates), err)
	}
	for i := 1; i < len(updates); i++ {
		if !updates[i-1].Cursor().Less(updates[i].Cursor()) {
			t.Fatalf("history out of order at %d", i)
		}
	}
}

// ownedBy keeps only contracts whose payload owner matches.
func ownedBy(owner string) domain.PayloadPredicate {
	return func(payload json.RawMessage) bool {
		var p struct {
			Owner string `json:"owner"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return false
		}
		return p.Owner == owner
	}
}

func TestTwoStoresDoNotCrossContaminate(t *testing.T) {
	// One database file, one update stream, two stores with different
	// parties and payload predicates.
	path := filepath.Join(t.TempDir(), "store.db")
	open := func(party domain.PartyID, owner string) *Store {
		t.Helper()
		s, err := NewStore(path, sqldb.Config{
			Descriptor: domain.StoreDescriptor{Name: "sv", Version: 1, Party: party, Participant: "p1"},
			Migration:  1,
			Filter: domain.NewContractFilter().Register(amulet, domain.TemplateHandler{
				Match:   ownedBy(owner),
				Project: domain.FieldProjection("owner"),
			}),
		})
		if err != nil {
			t.Fatalf("open store for %s: %v", party, err)
		}
		return s
	}
	alice := open("alice::ns", "alice")
	defer alice.Close()
	bob := open("bob::ns", "bob")
	defer bob.Close()
	ctx := context.Background()

	stream := []domain.Update{
		createTx("c-1", "alice", 1, 1),
		createTx("c-2", "bob", 1, 2),
		createTx("c-3", "alice", 1, 3),
	}
	for _, u := range stream {
		mustIngest(t, alice, u)
		mustIngest(t, bob, u)
	}

	aliceContracts, err := alice.ListContracts(ctx, amulet, domain.DefaultLimit(), domain.Ascending)
	if err != nil || len(aliceContracts) != 2 {
		t.Fatalf("alice contracts = %v err=%v, want c-1 and c-3", aliceContracts, err)
	}
	for _, c := range aliceContracts {
		if c.ID == "c-2" {
			t.Fatalf("bob's contract projected into alice's store")
		}
	}
	bobContracts, err := bob.ListContracts(ctx, amulet, domain.DefaultLimit(), domain.Ascending)
	if err != nil || len(bobContracts) != 1 || bobContracts[0].ID != "c-2" {
		t.Fatalf("bob contracts = %v err=%v, want only c-2", bobContracts, err)
	}
	res, err := bob.LookupContractByID(ctx, "c-1")
	if err != nil || res.Value != nil {
		t.Fatalf("alice's contract visible in bob's store: %+v err=%v", res.Value, err)
	}

	// Each store records the full shared stream in its own history.
	for name, s := range map[string]*Store{"alice": alice, "bob": bob} {
		updates, err := s.GetUpdates(ctx, nil, domain.DefaultLimit())
		if err != nil || len(updates) != len(stream) {
			t.Fatalf("%s history = %d err=%v, want %d", name, len(updates), err, len(stream))
		}
	}
}

func TestTxLogProjection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	cfg := testConfig(1, 1, "alice::ns")
	cfg.TxLog = func(u domain.Update) []domain.TxLogEntry {
		tree, ok := u.(*domain.TransactionTree)
		if !ok {
			return nil
		}
		var out []domain.TxLogEntry
		for _, ev := range tree.Events {
			if created, ok := ev.(domain.CreatedEvent); ok {
				out = append(out, domain.TxLogEntry{
					Cursor: u.Cursor(),
					Key:    "created/" + string(created.Contract.ID),
					Value:  created.Contract.Payload,
				})
			}
		}
		return out
	}
	s, err := NewStore(path, cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	first := createTx("c-1", "alice", 1, 1)
	mustIngest(t, s, first, createTx("c-2", "bob", 1, 2))

	entries, err := s.ListTxLog(context.Background(), nil, domain.DefaultLimit())
	if err != nil {
		t.Fatalf("list txlog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("txlog entries = %d, want 2", len(entries))
	}
	if entries[0].Key != "created/c-1" || !entries[0].Cursor.Equal(first.Cursor()) {
		t.Fatalf("first entry = %+v", entries[0])
	}

	after := first.Cursor()
	entries, err = s.ListTxLog(context.Background(), &after, domain.DefaultLimit())
	if err != nil || len(entries) != 1 || entries[0].Key != "created/c-2" {
		t.Fatalf("strictly-after txlog = %+v err=%v", entries, err)
	}
}

func TestPaginationStableUnderInserts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s := openTestStore(t, path, 1, 1, "alice::ns")
	defer s.Close()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		mustIngest(t, s, createTx(domain.ContractID(fmt.Sprintf("c-%d", i)), "alice", 1, int64(i)))
	}
	pageSize := domain.MustHardLimit(2)
	page1, err := s.ListContractsPaginated(ctx, amulet, "", pageSize, domain.Ascending)
	if err != nil || len(page1.Contracts) != 2 || page1.NextToken == "" {
		t.Fatalf("page 1 = %+v err=%v", page1, err)
	}

	mustIngest(t, s, createTx("c-99", "mallory", 1, 99))

	all := append([]domain.Contract{}, page1.Contracts...)
	token := page1.NextToken
	for token != "" {
		page, err := s.ListContractsPaginated(ctx, amulet, token, pageSize, domain.Ascending)
		if err != nil {
			t.Fatalf("page after %s: %v", token, err)
		}
		all = append(all, page.Contracts...)
		token = page.NextToken
	}
	if len(all) != 6 {
		t.Fatalf("paged through %d contracts, want 6", len(all))
	}
	seen := map[domain.ContractID]bool{}
	for _, c := range all {
		if seen[c.ID] {
			t.Fatalf("contract %s returned twice", c.ID)
		}
		seen[c.ID] = true
	}
}
