package persist

import (
	"context"
	"fmt"

	"github.com/jacentio/strata/kv"
)

// BatchOutcome is the reconciled result of one document within a batch
// write. Outcomes are positional: the i-th outcome belongs to the i-th
// submitted document.
type BatchOutcome struct {
	// Doc is the submitted document.
	Doc Document

	// Code is the store's result code for this item.
	Code kv.ResultCode

	// Record is the post-write record when the item succeeded, nil
	// otherwise.
	Record *kv.Record

	// Err is the classified per-item failure, nil when the item succeeded.
	Err error
}

// Ok reports whether the item's write succeeded.
func (o BatchOutcome) Ok() bool {
	return o.Err == nil
}

// SaveAll writes all documents in one batch round trip with upsert
// semantics, version-aware per document exactly like Save.
func (t *Template) SaveAll(ctx context.Context, docs []Document) error {
	return t.executeBatch(ctx, docs, IntentSave)
}

// InsertAll writes all documents in one batch round trip, each failing with
// a duplicate-key outcome if its record already exists.
func (t *Template) InsertAll(ctx context.Context, docs []Document) error {
	return t.executeBatch(ctx, docs, IntentInsert)
}

// UpdateAll rewrites all documents in one batch round trip, each failing
// with a lock-conflict outcome when its version no longer matches.
func (t *Template) UpdateAll(ctx context.Context, docs []Document) error {
	return t.executeBatch(ctx, docs, IntentUpdate)
}

// batchItem pairs a document with its in-flight store write. Items live for
// one round trip and are discarded after reconciliation.
type batchItem struct {
	doc           Document
	hasVersion    bool
	expectVersion bool
	write         *kv.BatchWrite
}

// executeBatch issues one write per document as a single round trip and
// reconciles the heterogeneous per-item outcomes.
//
// Outcome order always matches submission order. A failed item never aborts
// the others: versions are written back for every individually-successful
// item, and only then is a single BatchError raised carrying the full
// ordered outcome list. Version updates are not rolled back on partial
// failure; a caller receiving BatchError must inspect each outcome rather
// than assume nothing happened.
func (t *Template) executeBatch(ctx context.Context, docs []Document, intent Intent) error {
	if len(docs) == 0 {
		return nil
	}
	if !t.client.Capabilities().BatchWrites {
		return ErrBatchUnsupported
	}

	items := make([]batchItem, len(docs))
	writes := make([]*kv.BatchWrite, len(docs))
	for i, doc := range docs {
		item, err := t.buildBatchItem(doc, intent)
		if err != nil {
			return fmt.Errorf("strata: batch item %d: %w", i, err)
		}
		items[i] = item
		writes[i] = item.write
	}

	if err := t.client.BatchOperate(ctx, writes); err != nil {
		return classifyErr(err, intent, false)
	}

	outcomes := make([]BatchOutcome, len(items))
	failed := false
	for i, item := range items {
		outcome := BatchOutcome{
			Doc:    item.doc,
			Code:   item.write.Code,
			Record: item.write.Record,
		}

		switch {
		case item.write.Ok():
			if item.hasVersion {
				item.doc.(Versioned).SetVersion(item.write.Record.Generation)
			}
		case item.write.Code == kv.OK:
			// Succeeded per the store but no resulting record came back.
			outcome.Err = fmt.Errorf("strata: store returned no record for %s", item.write.Key)
			failed = true
		default:
			outcome.Err = classifyCode(item.write.Code, intent, item.expectVersion)
			failed = true
		}

		outcomes[i] = outcome
	}

	if failed {
		return &BatchError{Outcomes: outcomes}
	}
	return nil
}

// buildBatchItem does the same per-document construction as the single-
// document path: key, field set, policy and operation list.
func (t *Template) buildBatchItem(doc Document, intent Intent) (batchItem, error) {
	key, err := t.keys.Build(doc.ID(), doc.SetName())
	if err != nil {
		return batchItem{}, err
	}

	fields, err := t.conv.Write(doc)
	if err != nil {
		return batchItem{}, err
	}

	version, hasVersion := versionOf(doc)
	policy := selectPolicy(intent, hasVersion, version, t.basePolicy(doc))

	ops, err := replaceOps(fields)
	if err != nil {
		return batchItem{}, err
	}

	return batchItem{
		doc:           doc,
		hasVersion:    hasVersion,
		expectVersion: policy.Gen == kv.GenEqual,
		write: &kv.BatchWrite{
			Key:    key,
			Ops:    ops,
			Policy: policy,
		},
	}, nil
}
