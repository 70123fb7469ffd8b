package schema

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// PKCache serves `primary_keys(table) → set of existing PK values`,
// backed by `SELECT DISTINCT pk FROM table` against the live store. Results
// are cached so that repeated lookups of the same table do not repeat the
// query.
type PKCache interface {
	PrimaryKeys(table, pkColumn string) (map[int64]struct{}, error)
}

// LocalPKCache caches PK sets in-process behind a mutex-guarded map, with a
// TTL controlling how long a cached set is served before the next
// PrimaryKeys call triggers a re-fetch.
type LocalPKCache struct {
	mu    sync.Mutex
	pool  *pgxpool.Pool
	ttl   time.Duration
	cache map[string]cachedKeyset
}

type cachedKeyset struct {
	keys     map[int64]struct{}
	fetchedAt time.Time
}

// NewLocalPKCache returns a PKCache that queries pool directly, with results
// kept for ttl before the next PrimaryKeys call triggers a re-fetch.
func NewLocalPKCache(pool *pgxpool.Pool, ttl time.Duration) *LocalPKCache {
	return &LocalPKCache{pool: pool, ttl: ttl, cache: make(map[string]cachedKeyset)}
}

func (c *LocalPKCache) PrimaryKeys(table, pkColumn string) (map[int64]struct{}, error) {
	c.mu.Lock()
	if entry, ok := c.cache[table]; ok && time.Since(entry.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return entry.keys, nil
	}
	c.mu.Unlock()

	keys, err := c.fetch(table, pkColumn)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[table] = cachedKeyset{keys: keys, fetchedAt: time.Now()}
	c.mu.Unlock()

	return keys, nil
}

func (c *LocalPKCache) fetch(table, pkColumn string) (map[int64]struct{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// #nosec G201 -- table/pkColumn come from the schema manifest, not user input.
	sql := fmt.Sprintf("select distinct %s from %s where %s is not null", pkColumn, table, pkColumn)
	rows, err := c.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query primary keys for %s: %w", table, err)
	}
	defer rows.Close()

	keys := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan primary key for %s: %w", table, err)
		}
		keys[id] = struct{}{}
	}
	return keys, rows.Err()
}

// RedisPKCache fronts a LocalPKCache with a shared Redis set, so concurrent
// importer runs against the same database do not each repeat the same
// `SELECT DISTINCT`. Falls through to the local cache on any Redis error;
// Redis is an accelerator, never a hard dependency.
type RedisPKCache struct {
	local *LocalPKCache
	rdb   *redis.Client
	ttl   time.Duration
}

// NewRedisPKCache wraps local with a Redis-backed front cache.
func NewRedisPKCache(local *LocalPKCache, rdb *redis.Client, ttl time.Duration) *RedisPKCache {
	return &RedisPKCache{local: local, rdb: rdb, ttl: ttl}
}

func (c *RedisPKCache) PrimaryKeys(table, pkColumn string) (map[int64]struct{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := "chimport:pk:" + table
	members, err := c.rdb.SMembers(ctx, key).Result()
	if err == nil && len(members) > 0 {
		keys := make(map[int64]struct{}, len(members))
		for _, m := range members {
			id, convErr := strconv.ParseInt(m, 10, 64)
			if convErr != nil {
				continue
			}
			keys[id] = struct{}{}
		}
		return keys, nil
	}
	if err != nil && err != redis.Nil {
		log.Debug().Err(err).Str("table", table).Msg("redis pk cache miss, falling back to local")
	}

	keys, err := c.local.PrimaryKeys(table, pkColumn)
	if err != nil {
		return nil, err
	}

	members = make([]string, 0, len(keys))
	for id := range keys {
		members = append(members, strconv.FormatInt(id, 10))
	}
	if len(members) > 0 {
		pipe := c.rdb.Pipeline()
		pipe.Del(ctx, key)
		args := make([]interface{}, len(members))
		for i, m := range members {
			args[i] = m
		}
		pipe.SAdd(ctx, key, args...)
		pipe.Expire(ctx, key, c.ttl)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			log.Debug().Err(pErr).Str("table", table).Msg("failed to populate redis pk cache")
		}
	}

	return keys, nil
}
