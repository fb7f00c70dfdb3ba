package dynastore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/strata/kv"
)

func TestMarshalItem_RoundTrip(t *testing.T) {
	s := New(nil, Options{})
	key := kv.StringKey("test", "widgets", "w1")
	policy := kv.WritePolicy{TTLSeconds: 60, SendKey: true}
	fields := kv.FieldSet{"name": "anvil", "count": int64(7)}

	item, err := s.marshalItem(key, policy, fields, 3)
	require.NoError(t, err)

	digest, ok := readString(item, attrPK)
	require.True(t, ok)
	assert.Equal(t, key.Digest(), digest)
	gen, ok := readNumber(item, attrGen)
	require.True(t, ok)
	assert.Equal(t, int64(3), gen)
	_, hasTTL := item[attrTTL]
	assert.True(t, hasTTL)
	_, hasUKey := item[attrUKey]
	assert.True(t, hasUKey)

	rec, err := s.unmarshalItem(key, item)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Generation)
	assert.Equal(t, "anvil", rec.Fields["name"])
	assert.InDelta(t, 60, rec.TTLSeconds, 2)

	// Reserved attributes never leak into the field set.
	for _, name := range []string{attrPK, attrGen, attrTTL, attrUKey} {
		_, leaked := rec.Fields[name]
		assert.False(t, leaked, "attribute %q leaked", name)
	}
}

func TestOperate_ReservedFieldName(t *testing.T) {
	s := New(nil, Options{})
	key := kv.StringKey("test", "widgets", "w1")

	for _, name := range []string{attrPK, attrGen, attrTTL, attrUKey} {
		ops := []kv.Op{kv.DeleteAll(), kv.SetField(name, 1), kv.GetHeader()}
		_, err := s.Operate(context.Background(), key, kv.WritePolicy{}, ops)
		code, ok := kv.CodeOf(err)
		require.True(t, ok, "field %q", name)
		assert.Equal(t, kv.ParameterError, code, "field %q", name)
	}
}

func TestOperate_EmptyReplace(t *testing.T) {
	s := New(nil, Options{})
	key := kv.StringKey("test", "widgets", "w1")

	_, err := s.Operate(context.Background(), key, kv.WritePolicy{}, []kv.Op{kv.DeleteAll(), kv.GetHeader()})
	code, ok := kv.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, kv.ParameterError, code)
}

func TestIsExpired(t *testing.T) {
	now := time.Now().Unix()

	assert.False(t, isExpired(map[string]types.AttributeValue{}))
	assert.False(t, isExpired(map[string]types.AttributeValue{
		attrTTL: numberAttr(now + 60),
	}))
	assert.True(t, isExpired(map[string]types.AttributeValue{
		attrTTL: numberAttr(now - 1),
	}))
}

func TestReadNumber(t *testing.T) {
	item := map[string]types.AttributeValue{
		"n":   numberAttr(42),
		"s":   &types.AttributeValueMemberS{Value: "42"},
		"bad": &types.AttributeValueMemberN{Value: "four"},
	}

	n, ok := readNumber(item, "n")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	_, ok = readNumber(item, "s")
	assert.False(t, ok, "string attributes are not numbers")
	_, ok = readNumber(item, "bad")
	assert.False(t, ok)
	_, ok = readNumber(item, "missing")
	assert.False(t, ok)
}

func TestJoinClauses(t *testing.T) {
	assert.Equal(t, "", joinClauses(nil))
	assert.Equal(t, "a = b", joinClauses([]string{"a = b"}))
	assert.Equal(t, "a = b, c = d", joinClauses([]string{"a = b", "c = d"}))
}

func TestMapSDKError(t *testing.T) {
	code, ok := kv.CodeOf(mapSDKError(context.DeadlineExceeded, "get"))
	require.True(t, ok)
	assert.Equal(t, kv.Timeout, code)

	code, ok = kv.CodeOf(mapSDKError(&types.ProvisionedThroughputExceededException{}, "get"))
	require.True(t, ok)
	assert.Equal(t, kv.ServerUnavailable, code)

	assert.ErrorIs(t, mapSDKError(context.Canceled, "get"), context.Canceled)

	plain := errors.New("serialization failure")
	assert.ErrorIs(t, mapSDKError(plain, "get"), plain)
}

func TestOptions_Default(t *testing.T) {
	s := New(nil, Options{})
	assert.Equal(t, "strata_records", s.options.Table)

	s = New(nil, Options{Table: "custom"})
	assert.Equal(t, "custom", s.options.Table)
}
