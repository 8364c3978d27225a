package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// RedisStore persists embeddings in a Redis hash so multiple registry nodes
// share the same index. Search still scores candidates in process;
// Redis here provides durability and cross-node visibility, not an ANN
// index.
type RedisStore struct {
	rdb    *redis.Client
	hashKey string
}

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// NewRedis creates a Store backed by rdb. name scopes the Redis hash key so
// multiple forges can share one Redis instance without collision.
func NewRedis(rdb *redis.Client, name string) *RedisStore {
	if name == "" {
		name = "forge"
	}
	return &RedisStore{rdb: rdb, hashKey: fmt.Sprintf("%s:embeddings", name)}
}

// retryOnce bounds a transient Redis failure to a single retry with backoff
// before the error surfaces to the caller.
func retryOnce(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	return backoff.WithContext(backoff.WithMaxRetries(bo, 1), ctx)
}

type record struct {
	ToolID    string    `json:"tool_id"`
	Version   string    `json:"version"`
	Embedding []float32 `json:"embedding"`
}

// Upsert stores or replaces the embedding for (toolID, version).
func (s *RedisStore) Upsert(ctx context.Context, toolID, version string, embedding []float32) error {
	payload, err := json.Marshal(record{ToolID: toolID, Version: version, Embedding: embedding})
	if err != nil {
		return fmt.Errorf("vectorstore: encode embedding: %w", err)
	}
	err = backoff.Retry(func() error {
		return s.rdb.HSet(ctx, s.hashKey, key(toolID, version), payload).Err()
	}, retryOnce(ctx))
	if err != nil {
		return fmt.Errorf("vectorstore: store embedding: %w", err)
	}
	return nil
}

// Delete removes the embedding for (toolID, version), if any.
func (s *RedisStore) Delete(ctx context.Context, toolID, version string) error {
	err := backoff.Retry(func() error {
		return s.rdb.HDel(ctx, s.hashKey, key(toolID, version)).Err()
	}, retryOnce(ctx))
	if err != nil {
		return fmt.Errorf("vectorstore: delete embedding: %w", err)
	}
	return nil
}

// Search returns the topK manifests whose embeddings are most similar to
// query, ordered by descending similarity.
func (s *RedisStore) Search(ctx context.Context, query []float32, topK int) ([]Match, error) {
	var raw map[string]string
	err := backoff.Retry(func() error {
		var rerr error
		raw, rerr = s.rdb.HGetAll(ctx, s.hashKey).Result()
		return rerr
	}, retryOnce(ctx))
	if err != nil {
		return nil, fmt.Errorf("vectorstore: load embeddings: %w", err)
	}

	matches := make([]Match, 0, len(raw))
	for _, v := range raw {
		var rec record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue // skip corrupt entries rather than fail the whole search
		}
		matches = append(matches, Match{
			ToolID:     rec.ToolID,
			Version:    rec.Version,
			Similarity: CosineSimilarity(query, rec.Embedding),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}
