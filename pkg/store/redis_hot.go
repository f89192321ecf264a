package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "semcache:hot:"

// RedisHotConfig configures RedisHotStore's connection.
type RedisHotConfig struct {
	Addr          string
	Password      string
	DB            int
	PoolSize      int
	UseTLS        bool
	TLSSkipVerify bool
	KeyPrefix     string
}

type hotAsyncOp struct {
	fn  func() error
	err chan error
}

// RedisHotStore implements HotStore on Redis. Entries are stored as
// gzip-compressed, gob-free byte blobs under prefix+tenant+":"+exactKey,
// with the TTL passed to Set applied natively via Redis expiration.
type RedisHotStore struct {
	client      *redis.Client
	keyPrefix   string
	asyncWrites bool
	asyncChan   chan hotAsyncOp
	done        chan struct{}
}

// NewRedisHotStore dials Redis per cfg and verifies connectivity with a
// bounded ping before returning.
func NewRedisHotStore(cfg RedisHotConfig, asyncWrites bool) (*RedisHotStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}

	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis hot store: %w", err)
	}

	s := &RedisHotStore{
		client:      client,
		keyPrefix:   prefix,
		asyncWrites: asyncWrites,
		done:        make(chan struct{}),
	}
	if asyncWrites {
		s.asyncChan = make(chan hotAsyncOp, 256)
		go s.asyncWriter()
	}
	return s, nil
}

func (s *RedisHotStore) asyncWriter() {
	for {
		select {
		case op := <-s.asyncChan:
			err := op.fn()
			if op.err != nil {
				op.err <- err
			}
		case <-s.done:
			return
		}
	}
}

func (s *RedisHotStore) key(tenant, exactKey string) string {
	return s.keyPrefix + tenant + ":" + exactKey
}

func (s *RedisHotStore) Get(ctx context.Context, tenant, exactKey string) (*Entry, bool, error) {
	data, err := s.client.Get(ctx, s.key(tenant, exactKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get hot entry: %w", err)
	}
	entry, err := DecodeEntry(data)
	if err != nil {
		return nil, false, err
	}
	if entry.Expired(time.Now()) {
		return nil, false, nil
	}
	return entry, true, nil
}

func (s *RedisHotStore) Set(ctx context.Context, entry *Entry, ttl time.Duration) error {
	cp := *entry
	if ttl > 0 {
		exp := time.Now().Add(ttl)
		cp.ExpiresAt = &exp
	} else {
		cp.ExpiresAt = nil
	}
	blob, err := EncodeEntry(&cp)
	if err != nil {
		return err
	}
	key := s.key(entry.Tenant, entry.ExactKey)

	fn := func() error {
		return s.client.Set(ctx, key, blob, ttl).Err()
	}
	if s.asyncWrites {
		s.asyncChan <- hotAsyncOp{fn: fn}
		return nil
	}
	if err := fn(); err != nil {
		return fmt.Errorf("failed to set hot entry: %w", err)
	}
	return nil
}

func (s *RedisHotStore) Delete(ctx context.Context, tenant, exactKey string) error {
	return s.client.Del(ctx, s.key(tenant, exactKey)).Err()
}

func (s *RedisHotStore) Clear(ctx context.Context, tenant string) error {
	pattern := s.keyPrefix + tenant + ":*"
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return fmt.Errorf("failed to scan hot entries: %w", err)
		}
		if len(batch) > 0 {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("failed to delete hot entries: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (s *RedisHotStore) Count(ctx context.Context, tenant string) (int, error) {
	pattern := s.keyPrefix + tenant + ":*"
	var cursor uint64
	count := 0
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan hot entries: %w", err)
		}
		count += len(batch)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return count, nil
}

func (s *RedisHotStore) Close() error {
	if s.asyncWrites {
		close(s.done)
	}
	return s.client.Close()
}
