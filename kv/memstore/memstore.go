// Package memstore is an embedded, in-memory kv.Client used for tests and
// single-process deployments. It implements the full store contract:
// per-record generation counters, atomic multi-op requests, record expiry
// and partial-success batches.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jacentio/strata/kv"
)

// entry is one stored record. All access happens under mu; dead marks an
// entry that has been removed from the map so lookups must retry.
type entry struct {
	mu      sync.Mutex
	dead    bool
	live    bool
	fields  kv.FieldSet
	gen     int64
	expires time.Time
	userKey any
}

// Store is an in-memory implementation of kv.Client. Safe for concurrent
// use.
type Store struct {
	records *xsync.MapOf[string, *entry]
	now     func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		records: xsync.NewMapOf[string, *entry](),
		now:     time.Now,
	}
}

// Capabilities reports batch support; the in-memory store always has it.
func (s *Store) Capabilities() kv.Capabilities {
	return kv.Capabilities{BatchWrites: true}
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of live records.
func (s *Store) Len() int {
	n := 0
	s.records.Range(func(_ string, e *entry) bool {
		e.mu.Lock()
		if e.live && !e.expired(s.now()) {
			n++
		}
		e.mu.Unlock()
		return true
	})
	return n
}

// expired reports whether the entry's TTL has passed. Caller holds mu.
func (e *entry) expired(now time.Time) bool {
	return e.live && !e.expires.IsZero() && !now.Before(e.expires)
}

// lockLive finds the entry for digest and locks it, creating a placeholder
// when absent. The bool reports whether a live record existed.
func (s *Store) lockLive(digest string) (*entry, bool) {
	for {
		e, _ := s.records.LoadOrStore(digest, &entry{})
		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		if e.expired(s.now()) {
			// An expired record disappears; its generation starts over.
			e.live = false
			e.fields = nil
			e.gen = 0
			e.expires = time.Time{}
		}
		return e, e.live
	}
}

// discard removes an entry from the map. Caller holds mu.
func (s *Store) discard(digest string, e *entry) {
	e.dead = true
	s.records.Delete(digest)
}

// release unlocks e, discarding it when it never became a live record so
// failed lookups leave no placeholder behind.
func (s *Store) release(digest string, e *entry) {
	if !e.live {
		s.discard(digest, e)
	}
	e.mu.Unlock()
}

// Operate applies ops atomically to the record at key under policy.
func (s *Store) Operate(ctx context.Context, key kv.Key, policy kv.WritePolicy, ops []kv.Op) (*kv.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest := key.Digest()
	e, exists := s.lockLive(digest)
	defer func() { s.release(digest, e) }()

	if exists && policy.Exists == kv.ExistsCreateOnly {
		return nil, kv.NewStoreError(kv.KeyExists, "operate", digest)
	}
	if !exists && policy.Exists == kv.ExistsUpdateOnly {
		return nil, kv.NewStoreError(kv.KeyNotFound, "operate", digest)
	}
	if policy.Gen == kv.GenEqual && e.gen != policy.Generation {
		return nil, kv.NewStoreError(kv.GenerationMismatch, "operate", digest)
	}

	fields := e.fields.Clone()
	if fields == nil {
		fields = kv.FieldSet{}
	}
	readBack := false
	for _, op := range ops {
		switch op.Kind {
		case kv.OpDeleteAll:
			fields = kv.FieldSet{}
		case kv.OpSetField:
			fields[op.Field] = op.Value
		case kv.OpGetHeader:
			readBack = true
		default:
			return nil, kv.NewStoreError(kv.ParameterError, "operate", op.Kind.String())
		}
	}

	// A write that leaves no fields behind deletes the record: the store
	// does not persist empty records.
	if len(fields) == 0 {
		s.discard(digest, e)
		e.live = false
		return nil, nil
	}

	e.live = true
	e.fields = fields
	e.gen++
	if policy.TTLSeconds > 0 {
		e.expires = s.now().Add(time.Duration(policy.TTLSeconds) * time.Second)
	} else {
		e.expires = time.Time{}
	}
	if policy.SendKey {
		e.userKey = key.UserValue()
	}

	if !readBack {
		return &kv.Record{Key: key, Generation: e.gen}, nil
	}
	return &kv.Record{
		Key:        key,
		Fields:     fields.Clone(),
		Generation: e.gen,
		TTLSeconds: policy.TTLSeconds,
	}, nil
}

// Get fetches the record at key, optionally projected to the named fields.
func (s *Store) Get(ctx context.Context, key kv.Key, fields ...string) (*kv.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest := key.Digest()
	e, ok := s.records.Load(digest)
	if !ok {
		return nil, kv.NewStoreError(kv.KeyNotFound, "get", digest)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || !e.live || e.expired(s.now()) {
		return nil, kv.NewStoreError(kv.KeyNotFound, "get", digest)
	}

	out := e.fields.Clone()
	if len(fields) > 0 {
		out = kv.FieldSet{}
		for _, name := range fields {
			if v, ok := e.fields[name]; ok {
				out[name] = v
			}
		}
	}

	ttl := int64(0)
	if !e.expires.IsZero() {
		ttl = int64(e.expires.Sub(s.now()) / time.Second)
	}
	return &kv.Record{Key: key, Fields: out, Generation: e.gen, TTLSeconds: ttl}, nil
}

// Exists reports whether a live record exists at key.
func (s *Store) Exists(ctx context.Context, key kv.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	e, ok := s.records.Load(key.Digest())
	if !ok {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.dead && e.live && !e.expired(s.now()), nil
}

// Delete removes the record at key under policy.
func (s *Store) Delete(ctx context.Context, key kv.Key, policy kv.WritePolicy) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	digest := key.Digest()
	e, ok := s.records.Load(digest)
	if !ok {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || !e.live || e.expired(s.now()) {
		return false, nil
	}
	if policy.Gen == kv.GenEqual && e.gen != policy.Generation {
		return false, kv.NewStoreError(kv.GenerationMismatch, "delete", digest)
	}

	s.discard(digest, e)
	return true, nil
}

// BatchOperate applies every write independently and fills the outcomes
// positionally. One failed item never aborts the others.
func (s *Store) BatchOperate(ctx context.Context, writes []*kv.BatchWrite) error {
	for _, w := range writes {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := s.Operate(ctx, w.Key, w.Policy, w.Ops)
		if err != nil {
			if code, ok := kv.CodeOf(err); ok {
				w.Code = code
				w.Record = nil
				continue
			}
			return err
		}
		w.Code = kv.OK
		w.Record = rec
	}
	return nil
}

// BatchGet fetches many records; missing records are nil entries.
func (s *Store) BatchGet(ctx context.Context, keys []kv.Key) ([]*kv.Record, error) {
	out := make([]*kv.Record, len(keys))
	for i, key := range keys {
		rec, err := s.Get(ctx, key)
		if err != nil {
			if code, ok := kv.CodeOf(err); ok && code == kv.KeyNotFound {
				continue
			}
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}
