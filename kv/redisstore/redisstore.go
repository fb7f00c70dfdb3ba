// Package redisstore is a Redis-backed kv.Client. Every record is one Redis
// hash: field values are msgpack-encoded hash values, and the generation
// counter lives in a reserved hash field. All policy checks and mutations of
// one request run inside a single Lua script, which makes the multi-op
// request atomic and keeps the generation counter server-side.
package redisstore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/jacentio/strata/internal/fieldcodec"
	"github.com/jacentio/strata/kv"
)

// Reserved hash fields. The leading NUL keeps them out of any converter's
// field namespace.
const (
	genField  = "\x00gen"
	userField = "\x00key"
)

// Options configure the Redis connection.
type Options struct {
	// Address of the Redis server.
	Address string

	// Password, empty when the server has none.
	Password string

	// DB to connect to.
	DB int

	// TLSConfig, nil for plaintext.
	TLSConfig *tls.Config
}

// DefaultOptions returns options for a local unauthenticated server.
func DefaultOptions() Options {
	return Options{Address: "localhost:6379"}
}

// Store is a Redis-backed implementation of kv.Client.
type Store struct {
	rdb     *redis.Client
	operate *redis.Script
	remove  *redis.Script
}

// operateScript applies one multi-op write atomically: existence and
// generation checks, the operation list, the generation increment and the
// expiry, in one script invocation. Policy failures come back as error
// replies with a STRATA_ prefix so the client can map them onto result
// codes.
var operateScript = redis.NewScript(`
local exists = redis.call('EXISTS', KEYS[1]) == 1
local gen = 0
if exists then
  gen = tonumber(redis.call('HGET', KEYS[1], '\0gen') or '0')
end

local exists_action = tonumber(ARGV[1])
local gen_policy = tonumber(ARGV[2])
local expected = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

if exists and exists_action == 1 then
  return redis.error_reply('STRATA_KEY_EXISTS')
end
if not exists and exists_action == 2 then
  return redis.error_reply('STRATA_KEY_NOT_FOUND')
end
if gen_policy == 1 and gen ~= expected then
  return redis.error_reply('STRATA_GEN_MISMATCH')
end

local did_del = false
local sets = 0
local i = 6
while i <= #ARGV do
  local kind = ARGV[i]
  if kind == 'del' then
    redis.call('DEL', KEYS[1])
    did_del = true
    i = i + 1
  elseif kind == 'set' then
    redis.call('HSET', KEYS[1], ARGV[i+1], ARGV[i+2])
    sets = sets + 1
    i = i + 3
  else
    i = i + 1
  end
end

if did_del and sets == 0 then
  redis.call('DEL', KEYS[1])
  return redis.error_reply('STRATA_EMPTY_RECORD')
end

gen = gen + 1
redis.call('HSET', KEYS[1], '\0gen', tostring(gen))
if ARGV[5] ~= '' then
  redis.call('HSET', KEYS[1], '\0key', ARGV[5])
end
if ttl > 0 then
  redis.call('EXPIRE', KEYS[1], ttl)
else
  redis.call('PERSIST', KEYS[1])
end
return gen
`)

// removeScript deletes a record, optionally only when the stored generation
// matches the expected one.
var removeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if tonumber(ARGV[1]) == 1 then
  local gen = tonumber(redis.call('HGET', KEYS[1], '\0gen') or '0')
  if gen ~= tonumber(ARGV[2]) then
    return redis.error_reply('STRATA_GEN_MISMATCH')
  end
end
redis.call('DEL', KEYS[1])
return 1
`)

// New opens a connection with the given options.
func New(options Options) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:      options.Address,
		Password:  options.Password,
		DB:        options.DB,
		TLSConfig: options.TLSConfig,
	})
	return NewWithClient(rdb)
}

// NewWithClient wraps an existing go-redis client.
func NewWithClient(rdb *redis.Client) *Store {
	return &Store{
		rdb:     rdb,
		operate: operateScript,
		remove:  removeScript,
	}
}

// Ping tests connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return classifyErr(err, "ping")
	}
	return nil
}

// Capabilities reports batch support; pipelined scripts give Redis one
// round trip per batch.
func (s *Store) Capabilities() kv.Capabilities {
	return kv.Capabilities{BatchWrites: true}
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// scriptArgs encodes a policy and an operation list into the argument vector
// of operateScript.
func scriptArgs(key kv.Key, policy kv.WritePolicy, ops []kv.Op) ([]any, error) {
	sendKey := ""
	if policy.SendKey {
		encoded, err := fieldcodec.Encode(key.UserValue())
		if err != nil {
			return nil, err
		}
		sendKey = string(encoded)
	}

	args := []any{
		int(policy.Exists),
		int(policy.Gen),
		policy.Generation,
		policy.TTLSeconds,
		sendKey,
	}
	for _, op := range ops {
		switch op.Kind {
		case kv.OpDeleteAll:
			args = append(args, "del")
		case kv.OpSetField:
			value, err := fieldcodec.Encode(op.Value)
			if err != nil {
				return nil, err
			}
			args = append(args, "set", op.Field, string(value))
		case kv.OpGetHeader:
			args = append(args, "hdr")
		default:
			return nil, kv.NewStoreError(kv.ParameterError, "operate", op.Kind.String())
		}
	}
	return args, nil
}

// Operate applies ops atomically to the record at key under policy.
func (s *Store) Operate(ctx context.Context, key kv.Key, policy kv.WritePolicy, ops []kv.Op) (*kv.Record, error) {
	args, err := scriptArgs(key, policy, ops)
	if err != nil {
		return nil, err
	}

	gen, err := s.operate.Run(ctx, s.rdb, []string{key.Digest()}, args...).Int64()
	if err != nil {
		return nil, classifyErr(err, "operate")
	}
	return &kv.Record{Key: key, Generation: gen, TTLSeconds: policy.TTLSeconds}, nil
}

// Get fetches the record at key, optionally projected to the named fields.
func (s *Store) Get(ctx context.Context, key kv.Key, fields ...string) (*kv.Record, error) {
	raw, err := s.rdb.HGetAll(ctx, key.Digest()).Result()
	if err != nil {
		return nil, classifyErr(err, "get")
	}
	if len(raw) == 0 {
		return nil, kv.NewStoreError(kv.KeyNotFound, "get", key.Digest())
	}
	return decodeRecord(key, raw, fields)
}

// Exists reports whether a record exists at key.
func (s *Store) Exists(ctx context.Context, key kv.Key) (bool, error) {
	n, err := s.rdb.Exists(ctx, key.Digest()).Result()
	if err != nil {
		return false, classifyErr(err, "exists")
	}
	return n > 0, nil
}

// Delete removes the record at key under policy.
func (s *Store) Delete(ctx context.Context, key kv.Key, policy kv.WritePolicy) (bool, error) {
	expect := 0
	if policy.Gen == kv.GenEqual {
		expect = 1
	}
	n, err := s.remove.Run(ctx, s.rdb, []string{key.Digest()}, expect, policy.Generation).Int64()
	if err != nil {
		return false, classifyErr(err, "delete")
	}
	return n == 1, nil
}

// BatchOperate pipelines one script invocation per write into a single round
// trip and fills the outcomes positionally.
func (s *Store) BatchOperate(ctx context.Context, writes []*kv.BatchWrite) error {
	cmds, err := s.runBatchScripts(ctx, writes)
	if err != nil {
		return err
	}

	for i, w := range writes {
		gen, err := cmds[i].Int64()
		if err != nil {
			code, _ := kv.CodeOf(classifyErr(err, "batch"))
			w.Code = code
			w.Record = nil
			continue
		}
		w.Code = kv.OK
		w.Record = &kv.Record{Key: w.Key, Generation: gen, TTLSeconds: w.Policy.TTLSeconds}
	}
	return nil
}

// runBatchScripts pipelines operateScript per write. When the script is not
// yet cached on the server the whole pipeline fails with NOSCRIPT; it is
// loaded once and the pipeline reissued.
func (s *Store) runBatchScripts(ctx context.Context, writes []*kv.BatchWrite) ([]*redis.Cmd, error) {
	issue := func() ([]*redis.Cmd, error) {
		cmds := make([]*redis.Cmd, len(writes))
		pipe := s.rdb.Pipeline()
		for i, w := range writes {
			args, err := scriptArgs(w.Key, w.Policy, w.Ops)
			if err != nil {
				return nil, err
			}
			cmds[i] = s.operate.EvalSha(ctx, pipe, []string{w.Key.Digest()}, args...)
		}
		if _, err := pipe.Exec(ctx); err != nil && !isReplyError(err) {
			// The round trip itself failed; no per-item outcomes exist.
			return nil, classifyErr(err, "batch")
		}
		return cmds, nil
	}

	cmds, err := issue()
	if err != nil {
		return nil, err
	}
	for _, cmd := range cmds {
		if cmd.Err() != nil && strings.Contains(cmd.Err().Error(), "NOSCRIPT") {
			if err := s.operate.Load(ctx, s.rdb).Err(); err != nil {
				return nil, classifyErr(err, "batch")
			}
			return issue()
		}
	}
	return cmds, nil
}

// BatchGet pipelines the fetches into one round trip; missing records are
// nil entries.
func (s *Store) BatchGet(ctx context.Context, keys []kv.Key) ([]*kv.Record, error) {
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	pipe := s.rdb.Pipeline()
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key.Digest())
	}
	if _, err := pipe.Exec(ctx); err != nil && !isReplyError(err) {
		return nil, classifyErr(err, "batch-get")
	}

	out := make([]*kv.Record, len(keys))
	for i, key := range keys {
		raw, err := cmds[i].Result()
		if err != nil || len(raw) == 0 {
			continue
		}
		rec, err := decodeRecord(key, raw, nil)
		if err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}

// decodeRecord turns a raw hash into a record, decoding field values and
// splitting out the reserved fields.
func decodeRecord(key kv.Key, raw map[string]string, projection []string) (*kv.Record, error) {
	var keep map[string]struct{}
	if len(projection) > 0 {
		keep = make(map[string]struct{}, len(projection))
		for _, name := range projection {
			keep[name] = struct{}{}
		}
	}

	rec := &kv.Record{Key: key, Fields: kv.FieldSet{}}
	for name, value := range raw {
		if name == genField {
			gen, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("redisstore: corrupt generation for %s: %w", key, err)
			}
			rec.Generation = gen
			continue
		}
		if strings.HasPrefix(name, "\x00") {
			continue
		}
		if keep != nil {
			if _, ok := keep[name]; !ok {
				continue
			}
		}
		decoded, err := fieldcodec.Decode([]byte(value))
		if err != nil {
			return nil, fmt.Errorf("redisstore: corrupt field %q for %s: %w", name, key, err)
		}
		rec.Fields[name] = decoded
	}
	return rec, nil
}

// classifyErr maps a go-redis error onto the store's result vocabulary.
func classifyErr(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return kv.NewStoreError(kv.KeyNotFound, op, "")
	case strings.Contains(err.Error(), "STRATA_KEY_EXISTS"):
		return kv.NewStoreError(kv.KeyExists, op, "")
	case strings.Contains(err.Error(), "STRATA_KEY_NOT_FOUND"):
		return kv.NewStoreError(kv.KeyNotFound, op, "")
	case strings.Contains(err.Error(), "STRATA_GEN_MISMATCH"):
		return kv.NewStoreError(kv.GenerationMismatch, op, "")
	case strings.Contains(err.Error(), "STRATA_EMPTY_RECORD"):
		return kv.NewStoreError(kv.ParameterError, op, "write left no fields")
	case errors.Is(err, context.DeadlineExceeded):
		return kv.NewStoreError(kv.Timeout, op, err.Error())
	case isReplyError(err):
		return kv.NewStoreError(kv.ServerError, op, err.Error())
	default:
		return kv.NewStoreError(kv.NoConnection, op, err.Error())
	}
}

// isReplyError reports whether err is a Redis reply (server-side) error as
// opposed to a transport failure.
func isReplyError(err error) bool {
	var replyErr redis.Error
	return errors.As(err, &replyErr)
}
