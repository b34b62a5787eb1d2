package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL         string // redis://host:port/db
	Password    string // overrides the URL's password
	DB          int    // overrides the URL's db when non-zero
	Prefix      string // key namespace, "runs" by default
	TTL         time.Duration
	EventMaxLen int64 // 0 keeps every event

	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig keeps archived runs for a week.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		URL:          "redis://localhost:6379/0",
		Prefix:       "runs",
		TTL:          7 * 24 * time.Hour,
		EventMaxLen:  5000,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func (cfg *RedisConfig) options() (*redis.Options, error) {
	opts := &redis.Options{}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	return opts, nil
}

// runMeta is the hash stored per archived run; events live in a list next to it.
type runMeta struct {
	ID          string `redis:"runId"`
	Status      string `redis:"status"`
	PlanPath    string `redis:"planPath"`
	PlanURI     string `redis:"planUri"`
	StepCount   int    `redis:"stepCount"`
	StepsDone   int    `redis:"stepsDone"`
	FailedStep  string `redis:"failedStep"`
	SubmittedBy string `redis:"submittedBy"`
	CreatedAt   string `redis:"createdAt"`
	FinishedAt  string `redis:"finishedAt"`
}

func metaOf(s *types.RunSummary) *runMeta {
	m := &runMeta{
		ID:          s.ID,
		Status:      string(s.Status),
		PlanPath:    s.PlanPath,
		PlanURI:     s.PlanURI,
		StepCount:   s.StepCount,
		StepsDone:   s.StepsDone,
		FailedStep:  s.FailedStep,
		SubmittedBy: s.SubmittedBy,
		CreatedAt:   s.CreatedAt.Format(time.RFC3339Nano),
	}
	if s.FinishedAt != nil {
		m.FinishedAt = s.FinishedAt.Format(time.RFC3339Nano)
	}
	return m
}

func (m *runMeta) summary() *types.RunSummary {
	s := &types.RunSummary{
		ID:          m.ID,
		Status:      types.RunStatus(m.Status),
		PlanPath:    m.PlanPath,
		PlanURI:     m.PlanURI,
		StepCount:   m.StepCount,
		StepsDone:   m.StepsDone,
		FailedStep:  m.FailedStep,
		SubmittedBy: m.SubmittedBy,
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339Nano, m.CreatedAt)
	if t, err := time.Parse(time.RFC3339Nano, m.FinishedAt); err == nil {
		s.FinishedAt = &t
	}
	return s
}

// RedisArchive keeps retired runs in Redis with a TTL, so run history is
// shared between replicas and survives restarts.
type RedisArchive struct {
	rdb       *redis.Client
	prefix    string
	ttl       time.Duration
	maxEvents int64

	closeOnce sync.Once
	closeErr  error
}

// NewRedisArchive connects and pings before returning.
func NewRedisArchive(cfg *RedisConfig) (*RedisArchive, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "runs"
	}
	return &RedisArchive{rdb: rdb, prefix: prefix, ttl: cfg.TTL, maxEvents: cfg.EventMaxLen}, nil
}

func (a *RedisArchive) metaKey(runID string) string   { return a.prefix + ":" + runID + ":meta" }
func (a *RedisArchive) eventsKey(runID string) string { return a.prefix + ":" + runID + ":events" }

// Save replaces the run's hash and event list atomically.
func (a *RedisArchive) Save(ctx context.Context, s *types.RunSummary) error {
	events := make([]any, len(s.Events))
	for i := range s.Events {
		line, err := json.Marshal(&s.Events[i])
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		events[i] = line
	}

	meta, list := a.metaKey(s.ID), a.eventsKey(s.ID)
	_, err := a.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, meta, metaOf(s))
		p.Del(ctx, list)
		if len(events) > 0 {
			p.RPush(ctx, list, events...)
			if a.maxEvents > 0 {
				p.LTrim(ctx, list, -a.maxEvents, -1)
			}
		}
		if a.ttl > 0 {
			p.Expire(ctx, meta, a.ttl)
			p.Expire(ctx, list, a.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive run %s: %w", s.ID, err)
	}
	return nil
}

// Get loads an archived run with its events.
func (a *RedisArchive) Get(ctx context.Context, runID string) (*types.RunSummary, error) {
	res := a.rdb.HGetAll(ctx, a.metaKey(runID))
	fields, err := res.Result()
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if len(fields) == 0 {
		return nil, ErrRunNotFound
	}
	var m runMeta
	if err := res.Scan(&m); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	s := m.summary()

	lines, err := a.rdb.LRange(ctx, a.eventsKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load events of run %s: %w", runID, err)
	}
	for _, line := range lines {
		var evt types.Event
		if json.Unmarshal([]byte(line), &evt) == nil {
			s.Events = append(s.Events, evt)
		}
	}
	return s, nil
}

// List scans for archived run ids.
func (a *RedisArchive) List(ctx context.Context) ([]string, error) {
	ids := []string{}
	iter := a.rdb.Scan(ctx, 0, a.prefix+":*:meta", 100).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), a.prefix+":")
		if id, ok := strings.CutSuffix(key, ":meta"); ok && id != "" {
			ids = append(ids, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}
	return ids, nil
}

// AdapterInfo reports connectivity and pool state for /ready.
func (a *RedisArchive) AdapterInfo(ctx context.Context) (map[string]interface{}, error) {
	info := map[string]interface{}{"adapter": "redis"}

	started := time.Now()
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		info["healthy"] = false
		info["error"] = err.Error()
		return info, nil
	}
	pool := a.rdb.PoolStats()
	info["healthy"] = true
	info["details"] = map[string]interface{}{
		"prefix":        a.prefix,
		"ttl_hours":     a.ttl.Hours(),
		"event_max_len": a.maxEvents,
		"ping_latency":  time.Since(started).String(),
		"pool": map[string]interface{}{
			"hits":       pool.Hits,
			"misses":     pool.Misses,
			"timeouts":   pool.Timeouts,
			"total_conn": pool.TotalConns,
			"idle_conn":  pool.IdleConns,
			"stale_conn": pool.StaleConns,
		},
	}
	return info, nil
}

// Close is safe to call more than once.
func (a *RedisArchive) Close() error {
	a.closeOnce.Do(func() { a.closeErr = a.rdb.Close() })
	return a.closeErr
}

var _ Archive = (*RedisArchive)(nil)
