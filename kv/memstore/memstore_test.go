package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/strata/kv"
)

func writeOps(fields kv.FieldSet) []kv.Op {
	ops := []kv.Op{kv.DeleteAll()}
	for name, value := range fields {
		ops = append(ops, kv.SetField(name, value))
	}
	return append(ops, kv.GetHeader())
}

func TestOperate_CreateAndUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := kv.StringKey("test", "widgets", "w1")

	rec, err := s.Operate(ctx, key, kv.WritePolicy{}, writeOps(kv.FieldSet{"a": 1}))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(1), rec.Generation)

	rec, err = s.Operate(ctx, key, kv.WritePolicy{}, writeOps(kv.FieldSet{"a": 2}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Generation)
	assert.Equal(t, 2, rec.Fields["a"])
}

func TestOperate_ExistencePolicies(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := kv.StringKey("test", "widgets", "w1")

	_, err := s.Operate(ctx, key, kv.WritePolicy{Exists: kv.ExistsUpdateOnly}, writeOps(kv.FieldSet{"a": 1}))
	code, ok := kv.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, kv.KeyNotFound, code)

	_, err = s.Operate(ctx, key, kv.WritePolicy{Exists: kv.ExistsCreateOnly}, writeOps(kv.FieldSet{"a": 1}))
	require.NoError(t, err)

	_, err = s.Operate(ctx, key, kv.WritePolicy{Exists: kv.ExistsCreateOnly}, writeOps(kv.FieldSet{"a": 2}))
	code, ok = kv.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, kv.KeyExists, code)
}

func TestOperate_GenerationCheck(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := kv.StringKey("test", "widgets", "w1")

	_, err := s.Operate(ctx, key, kv.WritePolicy{}, writeOps(kv.FieldSet{"a": 1}))
	require.NoError(t, err)

	_, err = s.Operate(ctx, key, kv.WritePolicy{Gen: kv.GenEqual, Generation: 5}, writeOps(kv.FieldSet{"a": 2}))
	code, ok := kv.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, kv.GenerationMismatch, code)

	rec, err := s.Operate(ctx, key, kv.WritePolicy{Gen: kv.GenEqual, Generation: 1}, writeOps(kv.FieldSet{"a": 2}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Generation)
}

func TestOperate_FailedWriteLeavesNoPlaceholder(t *testing.T) {
	s := New()
	key := kv.StringKey("test", "widgets", "w1")

	_, err := s.Operate(context.Background(), key, kv.WritePolicy{Exists: kv.ExistsUpdateOnly}, writeOps(kv.FieldSet{"a": 1}))
	require.Error(t, err)
	assert.Equal(t, 0, s.Len())

	ok, err := s.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOperate_EmptyResultDeletesRecord(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := kv.StringKey("test", "widgets", "w1")

	_, err := s.Operate(ctx, key, kv.WritePolicy{}, writeOps(kv.FieldSet{"a": 1}))
	require.NoError(t, err)

	rec, err := s.Operate(ctx, key, kv.WritePolicy{}, []kv.Op{kv.DeleteAll(), kv.GetHeader()})
	require.NoError(t, err)
	assert.Nil(t, rec)

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOperate_PartialWriteKeepsOtherFields(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := kv.StringKey("test", "widgets", "w1")

	_, err := s.Operate(ctx, key, kv.WritePolicy{}, writeOps(kv.FieldSet{"a": 1, "b": 2}))
	require.NoError(t, err)

	rec, err := s.Operate(ctx, key, kv.WritePolicy{}, []kv.Op{kv.SetField("a", 9), kv.GetHeader()})
	require.NoError(t, err)
	assert.Equal(t, 9, rec.Fields["a"])
	assert.Equal(t, 2, rec.Fields["b"])
}

func TestExpiry_RecordVanishesAndGenerationRestarts(t *testing.T) {
	s := New()
	now := time.Now()
	s.now = func() time.Time { return now }

	ctx := context.Background()
	key := kv.StringKey("test", "sessions", "s1")

	rec, err := s.Operate(ctx, key, kv.WritePolicy{TTLSeconds: 60}, writeOps(kv.FieldSet{"a": 1}))
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.Generation)

	now = now.Add(61 * time.Second)

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, key)
	code, found := kv.CodeOf(err)
	require.True(t, found)
	assert.Equal(t, kv.KeyNotFound, code)

	// A new record under the same key starts counting from scratch.
	rec, err = s.Operate(ctx, key, kv.WritePolicy{}, writeOps(kv.FieldSet{"a": 2}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Generation)
}

func TestGet_Projection(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := kv.StringKey("test", "widgets", "w1")

	_, err := s.Operate(ctx, key, kv.WritePolicy{}, writeOps(kv.FieldSet{"a": 1, "b": 2}))
	require.NoError(t, err)

	rec, err := s.Get(ctx, key, "b")
	require.NoError(t, err)
	assert.Equal(t, kv.FieldSet{"b": 2}, rec.Fields)
}

func TestDelete_GenerationCheck(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := kv.StringKey("test", "widgets", "w1")

	_, err := s.Operate(ctx, key, kv.WritePolicy{}, writeOps(kv.FieldSet{"a": 1}))
	require.NoError(t, err)

	_, err = s.Delete(ctx, key, kv.WritePolicy{Gen: kv.GenEqual, Generation: 9})
	code, ok := kv.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, kv.GenerationMismatch, code)

	existed, err := s.Delete(ctx, key, kv.WritePolicy{Gen: kv.GenEqual, Generation: 1})
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, key, kv.WritePolicy{})
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestBatchOperate_PartialSuccess(t *testing.T) {
	s := New()
	ctx := context.Background()

	seeded := kv.StringKey("test", "widgets", "dup")
	_, err := s.Operate(ctx, seeded, kv.WritePolicy{}, writeOps(kv.FieldSet{"a": 1}))
	require.NoError(t, err)

	writes := []*kv.BatchWrite{
		{Key: kv.StringKey("test", "widgets", "new"), Ops: writeOps(kv.FieldSet{"a": 1})},
		{Key: seeded, Policy: kv.WritePolicy{Exists: kv.ExistsCreateOnly}, Ops: writeOps(kv.FieldSet{"a": 2})},
	}
	require.NoError(t, s.BatchOperate(ctx, writes))

	assert.True(t, writes[0].Ok())
	assert.Equal(t, int64(1), writes[0].Record.Generation)

	assert.False(t, writes[1].Ok())
	assert.Equal(t, kv.KeyExists, writes[1].Code)
	assert.Nil(t, writes[1].Record)
}

func TestBatchGet_MissingAreNil(t *testing.T) {
	s := New()
	ctx := context.Background()

	present := kv.StringKey("test", "widgets", "a")
	_, err := s.Operate(ctx, present, kv.WritePolicy{}, writeOps(kv.FieldSet{"a": 1}))
	require.NoError(t, err)

	recs, err := s.BatchGet(ctx, []kv.Key{present, kv.StringKey("test", "widgets", "missing")})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.NotNil(t, recs[0])
	assert.Nil(t, recs[1])
}

func TestOperate_ConcurrentWritesAllCount(t *testing.T) {
	s := New()
	key := kv.StringKey("test", "widgets", "hot")

	const writers = 16
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.Operate(context.Background(), key, kv.WritePolicy{}, writeOps(kv.FieldSet{"n": i}))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	rec, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(writers*perWriter), rec.Generation)
}

func TestOperate_ContextCancelled(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Operate(ctx, kv.StringKey("test", "widgets", "w1"), kv.WritePolicy{}, writeOps(kv.FieldSet{"a": 1}))
	assert.ErrorIs(t, err, context.Canceled)
}
