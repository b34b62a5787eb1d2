package flowstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// flowsHash holds every saved flow as id -> JSON document.
const flowsHash = "pipeline:flows"

const pingTimeout = 5 * time.Second

// RedisStore keeps flows in a single Redis hash so they survive restarts
// and are shared between service replicas.
type RedisStore struct {
	rdb *redis.Client
	key string
}

// NewRedisStore connects to the redis:// URL and verifies the connection.
func NewRedisStore(url, password string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisStoreWithClient(rdb), nil
}

// NewRedisStoreWithClient uses an already configured client.
func NewRedisStoreWithClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, key: flowsHash}
}

func decodeFlow(raw string) (*Flow, error) {
	var flow Flow
	if err := json.Unmarshal([]byte(raw), &flow); err != nil {
		return nil, fmt.Errorf("decode flow: %w", err)
	}
	return &flow, nil
}

func (s *RedisStore) Create(ctx context.Context, req *CreateFlowRequest) (*Flow, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	flow := newFlow(id, req)
	doc, err := json.Marshal(flow)
	if err != nil {
		return nil, fmt.Errorf("encode flow: %w", err)
	}
	added, err := s.rdb.HSetNX(ctx, s.key, id, doc).Result()
	if err != nil {
		return nil, fmt.Errorf("save flow %s: %w", id, err)
	}
	if !added {
		return nil, ErrFlowExists
	}
	return flow, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Flow, error) {
	raw, err := s.rdb.HGet(ctx, s.key, id).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrFlowNotFound
	case err != nil:
		return nil, fmt.Errorf("load flow %s: %w", id, err)
	}
	return decodeFlow(raw)
}

// Update applies req under WATCH so concurrent updates cannot lose a
// version bump.
func (s *RedisStore) Update(ctx context.Context, id string, req *UpdateFlowRequest) (*Flow, error) {
	var updated *Flow
	txn := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, s.key, id).Result()
		if errors.Is(err, redis.Nil) {
			return ErrFlowNotFound
		}
		if err != nil {
			return err
		}
		flow, err := decodeFlow(raw)
		if err != nil {
			return err
		}
		req.apply(flow)
		doc, err := json.Marshal(flow)
		if err != nil {
			return fmt.Errorf("encode flow: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, s.key, id, doc)
			return nil
		})
		updated = flow
		return err
	}

	const attempts = 3
	for i := 0; i < attempts; i++ {
		err := s.rdb.Watch(ctx, txn, s.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrFlowNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("update flow %s: %w", id, err)
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update flow %s: too much contention", id)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.rdb.HDel(ctx, s.key, id).Result()
	if err != nil {
		return fmt.Errorf("delete flow %s: %w", id, err)
	}
	if n == 0 {
		return ErrFlowNotFound
	}
	return nil
}

// List loads every flow and filters in process.
func (s *RedisStore) List(ctx context.Context, opts *ListOptions) ([]*Flow, error) {
	if opts == nil {
		opts = &ListOptions{}
	}
	docs, err := s.rdb.HVals(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}

	out := make([]*Flow, 0, len(docs))
	for _, raw := range docs {
		flow, err := decodeFlow(raw)
		if err != nil {
			continue
		}
		if opts.matches(flow) {
			out = append(out, flow)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return page(out, opts), nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

var _ FlowStore = (*RedisStore)(nil)
