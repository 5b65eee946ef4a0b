package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "taskpoll"
	redisOpTimeout     = 2 * time.Second
)

// RedisConfig configures a [RedisStore].
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	Password string
	DB       int

	// Prefix namespaces every key and the update channel. Defaults to "taskpoll".
	Prefix string

	// TTL, when positive, expires terminal records after the given duration.
	TTL time.Duration
}

// RedisStore is a [Store] backed by Redis, so several TaskPoll instances
// behind a load balancer share one view of running polls.
//
// Each record lives in a hash under <prefix>:task:<id>; a sorted set
// <prefix>:tasks indexes them by start time. Updates are broadcast on the
// <prefix>:updates channel and fanned out to local subscribers, so a
// subscriber sees updates made by every instance.
//
// Store methods do not return errors; Redis failures are logged.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
	hub    *hub

	pubsub    *redis.PubSub
	done      chan struct{}
	closeOnce sync.Once
}

// NewRedisStore connects to Redis and starts relaying the update channel to
// local subscribers. It fails if the server cannot be reached.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultRedisPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	s := &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		logger: logger,
		hub:    newHub(),
		done:   make(chan struct{}),
	}
	s.pubsub = client.Subscribe(context.Background(), s.updatesChannel())
	go s.relay()

	return s, nil
}

func (s *RedisStore) recordKey(id string) string { return s.prefix + ":task:" + id }
func (s *RedisStore) indexKey() string           { return s.prefix + ":tasks" }
func (s *RedisStore) updatesChannel() string     { return s.prefix + ":updates" }

// Update writes the record, indexes it and broadcasts it to every instance.
func (s *RedisStore) Update(record TaskRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		s.logger.Error("failed to encode task record", "id", record.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	key := s.recordKey(record.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "task_id", record.TaskID, "state", record.State, "record", data)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(record.StartedAt.UnixNano()),
		Member: record.ID,
	})
	if record.Terminal() && s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	pipe.Publish(ctx, s.updatesChannel(), data)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("failed to store task record", "id", record.ID, "error", err)
	}
}

// Get returns the record stored under id.
func (s *RedisStore) Get(id string) (TaskRecord, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := s.client.HGet(ctx, s.recordKey(id), "record").Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Error("failed to read task record", "id", id, "error", err)
		}
		return TaskRecord{}, false
	}
	record, err := decodeRecord(data)
	if err != nil {
		s.logger.Error("failed to decode task record", "id", id, "error", err)
		return TaskRecord{}, false
	}
	return record, true
}

// GetAll returns every indexed record, oldest first. Records whose hash has
// expired are dropped from the index as they are found.
func (s *RedisStore) GetAll() []TaskRecord {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		s.logger.Error("failed to list task records", "error", err)
		return []TaskRecord{}
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, s.recordKey(id), "record")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Error("failed to read task records", "error", err)
		return []TaskRecord{}
	}

	records := make([]TaskRecord, 0, len(ids))
	var expired []any
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			expired = append(expired, ids[i])
			continue
		}
		if err != nil {
			continue
		}
		record, err := decodeRecord(data)
		if err != nil {
			s.logger.Warn("skipping undecodable task record", "id", ids[i], "error", err)
			continue
		}
		records = append(records, record)
	}

	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), expired...).Err(); err != nil {
			s.logger.Warn("failed to prune task index", "error", err)
		}
	}

	sortRecords(records)
	return records
}

// Subscribe returns a channel that receives updates from every instance.
func (s *RedisStore) Subscribe() <-chan TaskRecord {
	return s.hub.subscribe()
}

// Unsubscribe removes a subscription and closes its channel.
func (s *RedisStore) Unsubscribe(ch <-chan TaskRecord) {
	s.hub.unsubscribe(ch)
}

// Close stops the relay, closes subscriber channels and the Redis client.
// Safe to call multiple times.
func (s *RedisStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.pubsub.Close() // ends relay's range loop
		<-s.done
		s.hub.closeAll()
		err = s.client.Close()
	})
	return err
}

// relay forwards broadcast updates to local subscribers until the pubsub
// connection is closed.
func (s *RedisStore) relay() {
	defer close(s.done)
	for msg := range s.pubsub.Channel() {
		record, err := decodeRecord([]byte(msg.Payload))
		if err != nil {
			s.logger.Warn("dropping undecodable task update", "error", err)
			continue
		}
		s.hub.publish(record)
	}
}

func decodeRecord(data []byte) (TaskRecord, error) {
	var r TaskRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return TaskRecord{}, err
	}
	if r.ID == "" {
		return TaskRecord{}, errors.New("record has no id")
	}
	return r, nil
}
