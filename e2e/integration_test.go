//go:build e2e

// Package e2e contains end-to-end integration tests against a real Redis
// server. Run with: go test -tags=e2e -v ./e2e/...
//
// The server address comes from STRATA_REDIS_ADDR, default localhost:6379.
// Every run works in its own namespace so concurrent runs never collide.
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/strata/kv"
	"github.com/jacentio/strata/kv/redisstore"
	"github.com/jacentio/strata/persist"
)

var (
	testStore  *redisstore.Store
	testEngine *persist.Template
)

func TestMain(m *testing.M) {
	options := redisstore.DefaultOptions()
	if addr := os.Getenv("STRATA_REDIS_ADDR"); addr != "" {
		options.Address = addr
	}
	testStore = redisstore.New(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := testStore.Ping(ctx); err != nil {
		fmt.Printf("Redis at %s is not reachable: %v\n", options.Address, err)
		os.Exit(1)
	}

	config := persist.DefaultConfig()
	config.Namespace = "e2e-" + uuid.New().String()[:8]
	fmt.Printf("Namespace: %s\n", config.Namespace)
	testEngine = persist.New(testStore, persist.MapConverter{}, config)

	code := m.Run()
	testStore.Close()
	os.Exit(code)
}

func newDoc(fields kv.FieldSet) *persist.MapDoc {
	return &persist.MapDoc{Set: "widgets", Key: uuid.New().String(), Fields: fields}
}

// --- Lifecycle Tests ---

func TestLifecycle_SaveFindUpdateDelete(t *testing.T) {
	ctx := context.Background()

	doc := newDoc(kv.FieldSet{"name": "anvil", "count": int64(1)})
	if _, err := testEngine.Save(ctx, doc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if doc.Ver != 1 {
		t.Errorf("expected version 1 after create, got %d", doc.Ver)
	}

	got := &persist.MapDoc{Set: "widgets", Key: doc.Key}
	if err := testEngine.FindByID(ctx, doc.Key, got); err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got.Fields["name"] != "anvil" || got.Ver != 1 {
		t.Errorf("fetched record does not match: %+v", got)
	}

	doc.Fields["count"] = int64(2)
	if _, err := testEngine.Update(ctx, doc); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if doc.Ver != 2 {
		t.Errorf("expected version 2 after update, got %d", doc.Ver)
	}

	existed, err := testEngine.Delete(ctx, doc)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !existed {
		t.Error("expected the record to exist on delete")
	}

	err = testEngine.FindByID(ctx, doc.Key, got)
	if !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestOptimisticLock_StaleWriterLoses(t *testing.T) {
	ctx := context.Background()

	doc := newDoc(kv.FieldSet{"name": "anvil"})
	if _, err := testEngine.Save(ctx, doc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := testEngine.Save(ctx, doc); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	stale := &persist.MapDoc{Set: "widgets", Key: doc.Key, Fields: kv.FieldSet{"name": "hammer"}, Ver: 1}
	_, err := testEngine.Save(ctx, stale)
	if !errors.Is(err, persist.ErrLockConflict) {
		t.Fatalf("expected ErrLockConflict, got %v", err)
	}

	// The stored record must be untouched by the failed write.
	got := &persist.MapDoc{Set: "widgets", Key: doc.Key}
	if err := testEngine.FindByID(ctx, doc.Key, got); err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got.Fields["name"] != "anvil" || got.Ver != 2 {
		t.Errorf("failed write changed the stored record: %+v", got)
	}
}

func TestInsert_Duplicate(t *testing.T) {
	ctx := context.Background()

	doc := newDoc(kv.FieldSet{"name": "anvil"})
	if _, err := testEngine.Insert(ctx, doc); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	dup := &persist.MapDoc{Set: "widgets", Key: doc.Key, Fields: kv.FieldSet{"name": "other"}}
	_, err := testEngine.Insert(ctx, dup)
	if !errors.Is(err, persist.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestUpdate_ReplacesWholeRecord(t *testing.T) {
	ctx := context.Background()

	doc := newDoc(kv.FieldSet{"a": int64(1), "b": int64(2)})
	if _, err := testEngine.Save(ctx, doc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	doc.Fields = kv.FieldSet{"a": int64(9)}
	if _, err := testEngine.Update(ctx, doc); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got := &persist.MapDoc{Set: "widgets", Key: doc.Key}
	if err := testEngine.FindByID(ctx, doc.Key, got); err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if _, stale := got.Fields["b"]; stale {
		t.Error("full update must remove fields absent from the document")
	}
}

func TestUpdateFields_PreservesOthers(t *testing.T) {
	ctx := context.Background()

	doc := newDoc(kv.FieldSet{"a": int64(1), "b": int64(2)})
	if _, err := testEngine.Save(ctx, doc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	doc.Fields["a"] = int64(7)
	if _, err := testEngine.UpdateFields(ctx, doc, "a"); err != nil {
		t.Fatalf("UpdateFields failed: %v", err)
	}

	got := &persist.MapDoc{Set: "widgets", Key: doc.Key}
	if err := testEngine.FindByID(ctx, doc.Key, got); err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got.Fields["a"] != int64(7) || got.Fields["b"] != int64(2) {
		t.Errorf("expected a=7 b=2, got %v", got.Fields)
	}
}

// --- Batch Tests ---

func TestBatch_PartialSuccess(t *testing.T) {
	ctx := context.Background()

	seeded := newDoc(kv.FieldSet{"n": int64(0)})
	if _, err := testEngine.Save(ctx, seeded); err != nil {
		t.Fatalf("seed save failed: %v", err)
	}
	if _, err := testEngine.Save(ctx, seeded); err != nil {
		t.Fatalf("second seed save failed: %v", err)
	}

	stale := &persist.MapDoc{Set: "widgets", Key: seeded.Key, Fields: kv.FieldSet{"n": int64(9)}, Ver: 1}
	fresh := newDoc(kv.FieldSet{"n": int64(1)})

	err := testEngine.SaveAll(ctx, []persist.Document{fresh, stale})
	var be *persist.BatchError
	if !errors.As(err, &be) {
		t.Fatalf("expected BatchError, got %v", err)
	}
	if !be.Outcomes[0].Ok() {
		t.Errorf("independent item must succeed: %v", be.Outcomes[0].Err)
	}
	if !errors.Is(be.Outcomes[1].Err, persist.ErrLockConflict) {
		t.Errorf("expected ErrLockConflict outcome, got %v", be.Outcomes[1].Err)
	}
	if fresh.Ver != 1 {
		t.Errorf("succeeded item must carry its new version, got %d", fresh.Ver)
	}
	if stale.Ver != 1 {
		t.Errorf("failed item must keep its version, got %d", stale.Ver)
	}
}

func TestBatch_FindByIDs(t *testing.T) {
	ctx := context.Background()

	a := newDoc(kv.FieldSet{"n": int64(1)})
	b := newDoc(kv.FieldSet{"n": int64(2)})
	if err := testEngine.SaveAll(ctx, []persist.Document{a, b}); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}

	docs, err := testEngine.FindByIDs(ctx, []any{a.Key, uuid.New().String(), b.Key}, func() persist.Document {
		return &persist.MapDoc{Set: "widgets"}
	})
	if err != nil {
		t.Fatalf("FindByIDs failed: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("expected 2 records with the gap removed, got %d", len(docs))
	}
}

// --- Expiry Tests ---

type expiringDoc struct {
	persist.MapDoc
	ttl int64
}

func (d *expiringDoc) TTLSeconds() int64 { return d.ttl }

func TestExpiry_RecordVanishes(t *testing.T) {
	ctx := context.Background()

	doc := &expiringDoc{
		MapDoc: persist.MapDoc{Set: "sessions", Key: uuid.New().String(), Fields: kv.FieldSet{"token": "abc"}},
		ttl:    1,
	}
	engine := persist.New(testStore, expiringConverter{}, persist.DefaultConfig())
	if _, err := engine.Save(ctx, doc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	ok, err := engine.Exists(ctx, doc.Key, "sessions")
	if err != nil || !ok {
		t.Fatalf("expected the record to exist before expiry, ok=%v err=%v", ok, err)
	}

	time.Sleep(1500 * time.Millisecond)

	ok, err = engine.Exists(ctx, doc.Key, "sessions")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Error("expected the record to be gone after its TTL")
	}
}

// expiringConverter handles expiringDoc on top of the map converter.
type expiringConverter struct{}

func (expiringConverter) Write(doc persist.Document) (kv.FieldSet, error) {
	d, ok := doc.(*expiringDoc)
	if !ok {
		return nil, persist.ErrValidation
	}
	return d.Fields.Clone(), nil
}

func (expiringConverter) Read(fields kv.FieldSet, doc persist.Document) error {
	d, ok := doc.(*expiringDoc)
	if !ok {
		return persist.ErrValidation
	}
	d.Fields = fields.Clone()
	return nil
}
