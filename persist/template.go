package persist

import (
	"context"
	"fmt"

	"github.com/jacentio/strata/kv"
)

// Template is the write/version engine. It turns save/insert/update intent
// into concrete store requests, emulates whole-record replacement on the
// store's field-level primitives, and keeps document versions in lock-step
// with the store's generation counters.
//
// A Template holds no locks and runs no background goroutines; all
// concurrency control is optimistic and delegated to the store's per-record
// generation counter. It is safe for concurrent use.
type Template struct {
	client kv.Client
	conv   Converter
	config Config
	keys   KeyBuilder
}

// New creates a Template over a store client and a document converter.
func New(client kv.Client, conv Converter, config Config) *Template {
	config.validate()
	return &Template{
		client: client,
		conv:   conv,
		config: config,
		keys:   NewKeyBuilder(config.Namespace, config.PreserveKeyTypes),
	}
}

// Keys returns the template's key builder.
func (t *Template) Keys() KeyBuilder {
	return t.keys
}

// Save writes doc with upsert semantics. For versioned documents the write
// is version-aware: version 0 must create the record and a positive version
// must match the stored generation, failing with ErrLockConflict otherwise.
// On success the document's version (when it carries one) is set to the
// store's post-write generation, which is also returned.
func (t *Template) Save(ctx context.Context, doc Document) (int64, error) {
	return t.write(ctx, doc, IntentSave, nil)
}

// Insert writes doc, failing with ErrDuplicateKey if a record already exists.
// The document's version, if any, is ignored on the way in and set to the
// post-write generation on success.
func (t *Template) Insert(ctx context.Context, doc Document) (int64, error) {
	return t.write(ctx, doc, IntentInsert, nil)
}

// Update rewrites the record for doc, failing with ErrLockConflict when the
// document's version no longer matches the stored generation, or when the
// record is gone. The stored record afterwards holds exactly the converted
// field set.
func (t *Template) Update(ctx context.Context, doc Document) (int64, error) {
	return t.write(ctx, doc, IntentUpdate, nil)
}

// UpdateFields writes only the named fields of doc, preserving every stored
// field not mentioned. The same version rules as Update apply.
func (t *Template) UpdateFields(ctx context.Context, doc Document, fields ...string) (int64, error) {
	if len(fields) == 0 {
		return 0, ErrEmptyRecordWrite
	}
	return t.write(ctx, doc, IntentUpdate, fields)
}

// write is the single-document path shared by Save, Insert, Update and
// UpdateFields.
func (t *Template) write(ctx context.Context, doc Document, intent Intent, names []string) (int64, error) {
	key, err := t.keys.Build(doc.ID(), doc.SetName())
	if err != nil {
		return 0, err
	}

	fields, err := t.conv.Write(doc)
	if err != nil {
		return 0, fmt.Errorf("strata: convert %q: %w", doc.SetName(), err)
	}

	version, hasVersion := versionOf(doc)
	policy := selectPolicy(intent, hasVersion, version, t.basePolicy(doc))

	var ops []kv.Op
	if names == nil {
		ops, err = replaceOps(fields)
	} else {
		ops, err = updateOps(fields, names)
	}
	if err != nil {
		return 0, err
	}

	rec, err := t.client.Operate(ctx, key, policy, ops)
	if err != nil {
		return 0, classifyErr(err, intent, policy.Gen == kv.GenEqual)
	}
	if rec == nil {
		return 0, fmt.Errorf("strata: store returned no record for %s", key)
	}

	if hasVersion {
		doc.(Versioned).SetVersion(rec.Generation)
	}
	return rec.Generation, nil
}

// FindByID fetches the record for id in doc's set and populates doc through
// the converter. For versioned documents the version is set to the record's
// generation. A missing record fails with ErrNotFound.
func (t *Template) FindByID(ctx context.Context, id any, doc Document) error {
	key, err := t.keys.Build(id, doc.SetName())
	if err != nil {
		return err
	}

	rec, err := t.client.Get(ctx, key)
	if err != nil {
		return classifyErr(err, IntentSave, false)
	}

	if err := t.conv.Read(rec.Fields, doc); err != nil {
		return fmt.Errorf("strata: convert %q: %w", doc.SetName(), err)
	}
	if _, ok := doc.(Versioned); ok {
		doc.(Versioned).SetVersion(rec.Generation)
	}
	return nil
}

// FindByIDs fetches many records in one round trip. newDoc supplies a fresh
// document per fetched record; ids without a record are skipped. The result
// order follows the order of ids with the gaps removed.
func (t *Template) FindByIDs(ctx context.Context, ids []any, newDoc func() Document) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	probe := newDoc()
	keys := make([]kv.Key, len(ids))
	for i, id := range ids {
		key, err := t.keys.Build(id, probe.SetName())
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}

	recs, err := t.client.BatchGet(ctx, keys)
	if err != nil {
		return nil, classifyErr(err, IntentSave, false)
	}

	docs := make([]Document, 0, len(recs))
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		doc := newDoc()
		if err := t.conv.Read(rec.Fields, doc); err != nil {
			return nil, fmt.Errorf("strata: convert %q: %w", doc.SetName(), err)
		}
		if v, ok := doc.(Versioned); ok {
			v.SetVersion(rec.Generation)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Exists reports whether a record exists for id in set.
func (t *Template) Exists(ctx context.Context, id any, set string) (bool, error) {
	key, err := t.keys.Build(id, set)
	if err != nil {
		return false, err
	}
	ok, err := t.client.Exists(ctx, key)
	if err != nil {
		return false, classifyErr(err, IntentSave, false)
	}
	return ok, nil
}

// Delete removes the record for doc. For versioned documents with a positive
// version the delete is version-aware and fails with ErrLockConflict when
// the stored generation has moved on. The bool reports whether a record
// existed.
func (t *Template) Delete(ctx context.Context, doc Document) (bool, error) {
	key, err := t.keys.Build(doc.ID(), doc.SetName())
	if err != nil {
		return false, err
	}

	policy := t.basePolicy(doc)
	version, hasVersion := versionOf(doc)
	if hasVersion && version > 0 {
		policy.Gen = kv.GenEqual
		policy.Generation = version
	}

	existed, err := t.client.Delete(ctx, key, policy)
	if err != nil {
		return false, classifyErr(err, IntentUpdate, policy.Gen == kv.GenEqual)
	}
	return existed, nil
}

// basePolicy builds the baseline write directive for doc from the config's
// write defaults plus the document's own expiry, if any.
func (t *Template) basePolicy(doc Document) kv.WritePolicy {
	p := kv.WritePolicy{
		Commit:        t.config.WriteDefaults.Commit,
		DurableDelete: t.config.WriteDefaults.DurableDelete,
		SendKey:       t.config.WriteDefaults.SendKey,
	}
	if e, ok := doc.(Expiring); ok {
		p.TTLSeconds = e.TTLSeconds()
	}
	return p
}
