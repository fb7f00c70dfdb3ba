// Package dynastore is a DynamoDB-backed kv.Client. Every record is one
// item in a single table: the record's digest is the partition key, field
// values are plain attributes, and the generation counter is a number
// attribute guarded by conditional writes so a stale writer can never slip
// a stale generation in.
//
// DynamoDB unmarshals numbers into float64 when the target type is any;
// converters reading records fetched through this adapter must accept that.
package dynastore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/strata/kv"
)

// Reserved attribute names. Field sets may not use them.
const (
	attrPK   = "pk"
	attrGen  = "gen"
	attrTTL  = "ttl"
	attrUKey = "ukey"
)

// casAttempts bounds the read-put loop used for generation-ignoring full
// replaces, which DynamoDB cannot express as a single request.
const casAttempts = 5

// Options holds configuration for the Store.
type Options struct {
	// Table is the DynamoDB table records are stored in.
	// Default: "strata_records"
	Table string
}

// validate ensures option values are usable.
func (o *Options) validate() {
	if o.Table == "" {
		o.Table = "strata_records"
	}
}

// Store is a DynamoDB-backed implementation of kv.Client.
type Store struct {
	client  *dynamodb.Client
	options Options
}

// New creates a Store over a DynamoDB client.
func New(client *dynamodb.Client, options Options) *Store {
	options.validate()
	return &Store{client: client, options: options}
}

// Capabilities reports batch support; writes fan out per item so one failed
// item never aborts the others.
func (s *Store) Capabilities() kv.Capabilities {
	return kv.Capabilities{BatchWrites: true}
}

// Close is a no-op; the SDK client owns no long-lived connections that need
// explicit shutdown.
func (s *Store) Close() error {
	return nil
}

// Operate applies ops to the record at key under policy. A delete-all
// followed by field sets becomes a conditional PutItem (the whole item is
// replaced); field sets alone become a conditional UpdateItem so unmentioned
// attributes survive.
func (s *Store) Operate(ctx context.Context, key kv.Key, policy kv.WritePolicy, ops []kv.Op) (*kv.Record, error) {
	fullReplace := false
	fields := kv.FieldSet{}
	for _, op := range ops {
		switch op.Kind {
		case kv.OpDeleteAll:
			fullReplace = true
		case kv.OpSetField:
			if reserved(op.Field) {
				return nil, kv.NewStoreError(kv.ParameterError, "operate", fmt.Sprintf("reserved field name %q", op.Field))
			}
			fields[op.Field] = op.Value
		case kv.OpGetHeader:
			// The post-write generation is always known on this path.
		default:
			return nil, kv.NewStoreError(kv.ParameterError, "operate", op.Kind.String())
		}
	}

	var gen int64
	var err error
	if fullReplace {
		gen, err = s.replace(ctx, key, policy, fields)
	} else {
		gen, err = s.updateFields(ctx, key, policy, fields)
	}
	if err != nil {
		return nil, err
	}
	return &kv.Record{Key: key, Generation: gen, TTLSeconds: policy.TTLSeconds}, nil
}

// replace writes the item so it holds exactly the given fields.
func (s *Store) replace(ctx context.Context, key kv.Key, policy kv.WritePolicy, fields kv.FieldSet) (int64, error) {
	if len(fields) == 0 {
		return 0, kv.NewStoreError(kv.ParameterError, "operate", "write left no fields")
	}

	switch {
	case policy.Gen == kv.GenEqual && policy.Exists == kv.ExistsCreateOnly:
		// Expecting generation 0 on a create is the same check as
		// "must not exist".
		return s.putItem(ctx, key, policy, fields, 1,
			aws.String("attribute_not_exists(pk)"), nil, kv.KeyExists)

	case policy.Gen == kv.GenEqual:
		expected := policy.Generation
		values := map[string]types.AttributeValue{
			":expected": numberAttr(expected),
		}
		return s.putItem(ctx, key, policy, fields, expected+1,
			aws.String("gen = :expected"), values, kv.GenerationMismatch)

	case policy.Exists == kv.ExistsCreateOnly:
		return s.putItem(ctx, key, policy, fields, 1,
			aws.String("attribute_not_exists(pk)"), nil, kv.KeyExists)

	default:
		return s.replaceLoop(ctx, key, policy, fields)
	}
}

// replaceLoop implements a generation-ignoring full replace as a bounded
// read-put loop: the put is still conditioned on the generation read, so a
// concurrent writer restarts the attempt instead of losing its increment.
func (s *Store) replaceLoop(ctx context.Context, key kv.Key, policy kv.WritePolicy, fields kv.FieldSet) (int64, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		current, found, err := s.readGen(ctx, key)
		if err != nil {
			return 0, err
		}

		if !found {
			if policy.Exists == kv.ExistsUpdateOnly {
				return 0, kv.NewStoreError(kv.KeyNotFound, "operate", key.Digest())
			}
			gen, err := s.putItem(ctx, key, policy, fields, 1,
				aws.String("attribute_not_exists(pk)"), nil, kv.GenerationMismatch)
			if isCode(err, kv.GenerationMismatch) {
				continue // created underneath us
			}
			return gen, err
		}

		values := map[string]types.AttributeValue{
			":expected": numberAttr(current),
		}
		gen, err := s.putItem(ctx, key, policy, fields, current+1,
			aws.String("gen = :expected"), values, kv.GenerationMismatch)
		if isCode(err, kv.GenerationMismatch) {
			continue // moved underneath us
		}
		return gen, err
	}
	return 0, kv.NewStoreError(kv.ServerUnavailable, "operate", "write contention on "+key.Digest())
}

// putItem writes the full item with the given generation under condition,
// mapping a conditional failure onto failCode. An empty item returned with
// the conditional failure means the record did not exist, which under a
// generation expectation is reported as KeyNotFound.
func (s *Store) putItem(ctx context.Context, key kv.Key, policy kv.WritePolicy, fields kv.FieldSet, gen int64, condition *string, values map[string]types.AttributeValue, failCode kv.ResultCode) (int64, error) {
	item, err := s.marshalItem(key, policy, fields, gen)
	if err != nil {
		return 0, err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                           aws.String(s.options.Table),
		Item:                                item,
		ConditionExpression:                 condition,
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			if failCode == kv.GenerationMismatch && len(condErr.Item) == 0 {
				return 0, kv.NewStoreError(kv.KeyNotFound, "operate", key.Digest())
			}
			return 0, kv.NewStoreError(failCode, "operate", key.Digest())
		}
		return 0, mapSDKError(err, "operate")
	}
	return gen, nil
}

// updateFields writes the named fields only, incrementing the generation
// server-side and preserving every attribute not mentioned.
func (s *Store) updateFields(ctx context.Context, key kv.Key, policy kv.WritePolicy, fields kv.FieldSet) (int64, error) {
	if len(fields) == 0 {
		return 0, kv.NewStoreError(kv.ParameterError, "operate", "write left no fields")
	}

	exprNames := map[string]string{"#gen": attrGen}
	exprValues := map[string]types.AttributeValue{
		":zero": numberAttr(0),
		":one":  numberAttr(1),
	}

	setClauses := []string{"#gen = if_not_exists(#gen, :zero) + :one"}
	i := 0
	for name, value := range fields {
		if reserved(name) {
			return 0, kv.NewStoreError(kv.ParameterError, "operate", fmt.Sprintf("reserved field name %q", name))
		}
		attr, err := attributevalue.Marshal(value)
		if err != nil {
			return 0, fmt.Errorf("dynastore: marshal field %q: %w", name, err)
		}
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		exprNames[nameKey] = name
		exprValues[valueKey] = attr
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
		i++
	}

	if policy.TTLSeconds > 0 {
		exprNames["#ttl"] = attrTTL
		exprValues[":ttl"] = numberAttr(time.Now().Unix() + policy.TTLSeconds)
		setClauses = append(setClauses, "#ttl = :ttl")
	}

	var condition *string
	failCode := kv.KeyNotFound
	switch {
	case policy.Gen == kv.GenEqual:
		condition = aws.String("attribute_exists(pk) AND #gen = :expected")
		exprValues[":expected"] = numberAttr(policy.Generation)
		failCode = kv.GenerationMismatch
	case policy.Exists == kv.ExistsUpdateOnly:
		condition = aws.String("attribute_exists(pk)")
	case policy.Exists == kv.ExistsCreateOnly:
		condition = aws.String("attribute_not_exists(pk)")
		failCode = kv.KeyExists
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.options.Table),
		Key:                                 s.itemKey(key),
		UpdateExpression:                    aws.String("SET " + joinClauses(setClauses)),
		ConditionExpression:                 condition,
		ExpressionAttributeNames:            exprNames,
		ExpressionAttributeValues:           exprValues,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			if failCode == kv.GenerationMismatch && len(condErr.Item) == 0 {
				return 0, kv.NewStoreError(kv.KeyNotFound, "operate", key.Digest())
			}
			return 0, kv.NewStoreError(failCode, "operate", key.Digest())
		}
		return 0, mapSDKError(err, "operate")
	}

	gen, ok := readNumber(out.Attributes, attrGen)
	if !ok {
		return 0, kv.NewStoreError(kv.ServerError, "operate", "missing generation in response")
	}
	return gen, nil
}

// Get fetches the record at key, optionally projected to the named fields.
func (s *Store) Get(ctx context.Context, key kv.Key, fields ...string) (*kv.Record, error) {
	input := &dynamodb.GetItemInput{
		TableName:      aws.String(s.options.Table),
		Key:            s.itemKey(key),
		ConsistentRead: aws.Bool(true),
	}
	if len(fields) > 0 {
		names := map[string]string{"#gen": attrGen, "#ttl": attrTTL}
		projection := "#gen, #ttl"
		for i, name := range fields {
			nameKey := fmt.Sprintf("#f%d", i)
			names[nameKey] = name
			projection += ", " + nameKey
		}
		input.ProjectionExpression = aws.String(projection)
		input.ExpressionAttributeNames = names
	}

	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, mapSDKError(err, "get")
	}
	if out.Item == nil || isExpired(out.Item) {
		return nil, kv.NewStoreError(kv.KeyNotFound, "get", key.Digest())
	}
	return s.unmarshalItem(key, out.Item)
}

// Exists reports whether a live record exists at key.
func (s *Store) Exists(ctx context.Context, key kv.Key) (bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(s.options.Table),
		Key:                      s.itemKey(key),
		ConsistentRead:           aws.Bool(true),
		ProjectionExpression:     aws.String("#pk, #ttl"),
		ExpressionAttributeNames: map[string]string{"#pk": attrPK, "#ttl": attrTTL},
	})
	if err != nil {
		return false, mapSDKError(err, "exists")
	}
	return out.Item != nil && !isExpired(out.Item), nil
}

// Delete removes the record at key under policy. A missing record is not an
// error, even under a generation expectation.
func (s *Store) Delete(ctx context.Context, key kv.Key, policy kv.WritePolicy) (bool, error) {
	input := &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.options.Table),
		Key:          s.itemKey(key),
		ReturnValues: types.ReturnValueAllOld,
	}
	if policy.Gen == kv.GenEqual {
		input.ConditionExpression = aws.String("#gen = :expected")
		input.ExpressionAttributeNames = map[string]string{"#gen": attrGen}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": numberAttr(policy.Generation),
		}
		input.ReturnValuesOnConditionCheckFailure = types.ReturnValuesOnConditionCheckFailureAllOld
	}

	out, err := s.client.DeleteItem(ctx, input)
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			if len(condErr.Item) == 0 {
				return false, nil
			}
			return false, kv.NewStoreError(kv.GenerationMismatch, "delete", key.Digest())
		}
		return false, mapSDKError(err, "delete")
	}
	return len(out.Attributes) > 0, nil
}

// BatchOperate fans the writes out concurrently, one conditional request per
// item, and fills the outcomes positionally. DynamoDB has no heterogeneous
// conditional batch with per-item outcomes, so the fan-out is the closest
// contract-preserving shape: every item stays individually atomic and a
// failed item never aborts the others.
func (s *Store) BatchOperate(ctx context.Context, writes []*kv.BatchWrite) error {
	var wg sync.WaitGroup
	for _, w := range writes {
		wg.Add(1)
		go func(w *kv.BatchWrite) {
			defer wg.Done()
			rec, err := s.Operate(ctx, w.Key, w.Policy, w.Ops)
			if err != nil {
				if code, ok := kv.CodeOf(err); ok {
					w.Code = code
				} else {
					w.Code = kv.ServerError
				}
				w.Record = nil
				return
			}
			w.Code = kv.OK
			w.Record = rec
		}(w)
	}
	wg.Wait()

	return ctx.Err()
}

// BatchGet fetches many records in one BatchGetItem round trip; missing
// records are nil entries.
func (s *Store) BatchGet(ctx context.Context, keys []kv.Key) ([]*kv.Record, error) {
	byDigest := make(map[string]int, len(keys))
	request := make([]map[string]types.AttributeValue, 0, len(keys))
	for i, key := range keys {
		digest := key.Digest()
		if _, dup := byDigest[digest]; dup {
			continue
		}
		byDigest[digest] = i
		request = append(request, s.itemKey(key))
	}

	out := make([]*kv.Record, len(keys))
	for len(request) > 0 {
		resp, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				s.options.Table: {Keys: request, ConsistentRead: aws.Bool(true)},
			},
		})
		if err != nil {
			return nil, mapSDKError(err, "batch-get")
		}

		for _, item := range resp.Responses[s.options.Table] {
			digest, _ := readString(item, attrPK)
			i, ok := byDigest[digest]
			if !ok || isExpired(item) {
				continue
			}
			rec, err := s.unmarshalItem(keys[i], item)
			if err != nil {
				return nil, err
			}
			out[i] = rec
			// The same record answers every duplicate key position.
			for j := i + 1; j < len(keys); j++ {
				if keys[j].Digest() == digest {
					out[j] = rec
				}
			}
		}

		request = resp.UnprocessedKeys[s.options.Table].Keys
	}
	return out, nil
}

// itemKey builds the primary key attribute map for a record.
func (s *Store) itemKey(key kv.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: key.Digest()},
	}
}

// marshalItem builds the full item for a replace write.
func (s *Store) marshalItem(key kv.Key, policy kv.WritePolicy, fields kv.FieldSet, gen int64) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(map[string]any(fields))
	if err != nil {
		return nil, fmt.Errorf("dynastore: marshal fields: %w", err)
	}

	item[attrPK] = &types.AttributeValueMemberS{Value: key.Digest()}
	item[attrGen] = numberAttr(gen)
	if policy.TTLSeconds > 0 {
		item[attrTTL] = numberAttr(time.Now().Unix() + policy.TTLSeconds)
	}
	if policy.SendKey {
		ukey, err := attributevalue.Marshal(key.UserValue())
		if err != nil {
			return nil, fmt.Errorf("dynastore: marshal user key: %w", err)
		}
		item[attrUKey] = ukey
	}
	return item, nil
}

// unmarshalItem converts an item into a record, splitting out the reserved
// attributes.
func (s *Store) unmarshalItem(key kv.Key, item map[string]types.AttributeValue) (*kv.Record, error) {
	gen, _ := readNumber(item, attrGen)
	rec := &kv.Record{Key: key, Fields: kv.FieldSet{}, Generation: gen}

	if expiry, ok := readNumber(item, attrTTL); ok {
		remaining := expiry - time.Now().Unix()
		if remaining > 0 {
			rec.TTLSeconds = remaining
		}
	}

	for name, attr := range item {
		if reserved(name) {
			continue
		}
		var value any
		if err := attributevalue.Unmarshal(attr, &value); err != nil {
			return nil, fmt.Errorf("dynastore: unmarshal field %q: %w", name, err)
		}
		rec.Fields[name] = value
	}
	return rec, nil
}

// readGen reads the record's current generation. The bool reports whether a
// live record exists.
func (s *Store) readGen(ctx context.Context, key kv.Key) (int64, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(s.options.Table),
		Key:                      s.itemKey(key),
		ConsistentRead:           aws.Bool(true),
		ProjectionExpression:     aws.String("#gen, #ttl"),
		ExpressionAttributeNames: map[string]string{"#gen": attrGen, "#ttl": attrTTL},
	})
	if err != nil {
		return 0, false, mapSDKError(err, "operate")
	}
	if out.Item == nil || isExpired(out.Item) {
		return 0, false, nil
	}
	gen, _ := readNumber(out.Item, attrGen)
	return gen, true, nil
}

// reserved reports whether a field name collides with a managed attribute.
func reserved(name string) bool {
	return name == attrPK || name == attrGen || name == attrTTL || name == attrUKey
}

// isExpired checks whether an item's TTL has passed. DynamoDB's own TTL
// sweep lags by hours, so reads filter expired items themselves.
func isExpired(item map[string]types.AttributeValue) bool {
	expiry, ok := readNumber(item, attrTTL)
	if !ok {
		return false
	}
	return expiry <= time.Now().Unix()
}

// numberAttr builds a number attribute value.
func numberAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

// readNumber extracts a number attribute.
func readNumber(item map[string]types.AttributeValue, name string) (int64, bool) {
	attr, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// readString extracts a string attribute.
func readString(item map[string]types.AttributeValue, name string) (string, bool) {
	attr, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return attr.Value, true
}

// isCode reports whether err is a StoreError with the given code.
func isCode(err error, code kv.ResultCode) bool {
	got, ok := kv.CodeOf(err)
	return ok && got == code
}

// joinClauses joins SET clauses with a comma separator.
func joinClauses(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// mapSDKError maps SDK failures outside the conditional-check vocabulary
// onto the store's result codes, passing unknown errors through.
func mapSDKError(err error, op string) error {
	var throughput *types.ProvisionedThroughputExceededException
	var limit *types.RequestLimitExceeded
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return kv.NewStoreError(kv.Timeout, op, err.Error())
	case errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &throughput), errors.As(err, &limit):
		return kv.NewStoreError(kv.ServerUnavailable, op, err.Error())
	default:
		return err
	}
}
