// Package redis persists self-enrolled records as JSON values under a key prefix.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kozaktomas/face-id/internal/config"
	"github.com/kozaktomas/face-id/internal/database"
	"github.com/kozaktomas/face-id/internal/facematch"
)

// DefaultPrefix namespaces record keys when REDIS_PREFIX is empty.
const DefaultPrefix = "faceid:record:"

// Store is a redis-backed database.EnrollmentStore.
type Store struct {
	client *goredis.Client
	prefix string
}

var _ database.EnrollmentStore = (*Store)(nil)

// New connects to the server described by a redis:// URL and pings it.
func New(ctx context.Context, url, prefix string) (*Store, error) {
	if url == "" {
		return nil, errors.New("redis URL required")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	return NewWithOptions(ctx, opts, prefix)
}

// NewWithOptions connects with explicit client options.
func NewWithOptions(ctx context.Context, opts *goredis.Options, prefix string) (*Store, error) {
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}, nil
}

// Open is the database.StoreOpener for the redis backend.
func Open(ctx context.Context, cfg *config.Config) (database.EnrollmentStore, error) {
	return New(ctx, cfg.Store.RedisURL, cfg.Store.RedisPrefix)
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) keys(ctx context.Context) ([]string, error) {
	var cursor uint64
	keys := make([]string, 0)
	pattern := s.prefix + "*"
	for {
		res, nextCursor, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", pattern, err)
		}
		keys = append(keys, res...)
		if nextCursor == 0 {
			break
		}
		cursor = nextCursor
	}
	return keys, nil
}

// Load returns all records, oldest enrollment first.
func (s *Store) Load(ctx context.Context) ([]facematch.FaceRecord, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading records: %w", err)
	}

	out := make([]facematch.FaceRecord, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// deleted between SCAN and MGET
			continue
		}
		var rec facematch.FaceRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", strings.TrimPrefix(keys[i], s.prefix), err)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnrolledAt.Equal(out[j].EnrolledAt) {
			return out[i].EnrolledAt.Before(out[j].EnrolledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Save inserts or replaces a record without expiry.
func (s *Store) Save(ctx context.Context, rec facematch.FaceRecord) error {
	if rec.ID == "" {
		return errors.New("record ID is required")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(rec.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("saving record %s: %w", rec.ID, err)
	}
	return nil
}

// Delete removes a record by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("deleting record %s: %w", id, err)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
