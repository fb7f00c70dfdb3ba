package persist_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jacentio/strata/kv"
	"github.com/jacentio/strata/kv/memstore"
	"github.com/jacentio/strata/persist"
)

// plainDoc carries no version field, so its writes are never version-aware.
type plainDoc struct {
	id     any
	fields kv.FieldSet
	ttl    int64
}

func (d *plainDoc) SetName() string { return "plain" }
func (d *plainDoc) ID() any         { return d.id }

// sessionDoc additionally expires.
type sessionDoc struct {
	plainDoc
}

func (d *sessionDoc) TTLSeconds() int64 { return d.ttl }

type plainCodec struct{}

func (plainCodec) Write(doc persist.Document) (kv.FieldSet, error) {
	switch d := doc.(type) {
	case *plainDoc:
		return d.fields.Clone(), nil
	case *sessionDoc:
		return d.fields.Clone(), nil
	default:
		return nil, persist.ErrValidation
	}
}

func (plainCodec) Read(fields kv.FieldSet, doc persist.Document) error {
	switch d := doc.(type) {
	case *plainDoc:
		d.fields = fields.Clone()
	case *sessionDoc:
		d.fields = fields.Clone()
	default:
		return persist.ErrValidation
	}
	return nil
}

func newPlainEngine(t *testing.T) *persist.Template {
	t.Helper()
	return persist.New(memstore.New(), plainCodec{}, persist.DefaultConfig())
}

func TestSave_UnversionedAlwaysUpserts(t *testing.T) {
	engine := newPlainEngine(t)
	ctx := context.Background()

	doc := &plainDoc{id: "p1", fields: kv.FieldSet{"name": "first"}}
	if _, err := engine.Save(ctx, doc); err != nil {
		t.Fatalf("first save: %v", err)
	}

	// A second writer overwrites without any concurrency check.
	other := &plainDoc{id: "p1", fields: kv.FieldSet{"name": "second"}}
	gen, err := engine.Save(ctx, other)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if gen != 2 {
		t.Errorf("expected generation 2 after overwrite, got %d", gen)
	}

	got := &plainDoc{id: "p1"}
	if err := engine.FindByID(ctx, "p1", got); err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.fields["name"] != "second" {
		t.Errorf("expected the later write to win, got %v", got.fields["name"])
	}
}

func TestUpdate_UnversionedMissingRecordIsNotFound(t *testing.T) {
	engine := newPlainEngine(t)

	doc := &plainDoc{id: "gone", fields: kv.FieldSet{"name": "x"}}
	_, err := engine.Update(context.Background(), doc)
	if !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unversioned update of missing record, got %v", err)
	}
}

func TestSave_ExpiringDocumentCarriesTTL(t *testing.T) {
	store := memstore.New()
	engine := persist.New(store, plainCodec{}, persist.DefaultConfig())
	ctx := context.Background()

	doc := &sessionDoc{plainDoc{id: "s1", fields: kv.FieldSet{"token": "abc"}, ttl: 120}}
	if _, err := engine.Save(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	key, err := engine.Keys().Build("s1", "plain")
	if err != nil {
		t.Fatalf("build key: %v", err)
	}
	rec, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.TTLSeconds <= 0 || rec.TTLSeconds > 120 {
		t.Errorf("expected a remaining TTL within 120s, got %d", rec.TTLSeconds)
	}
}
