package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache memoizes query embeddings across API instances. The teacher
// repo declared redis/go-redis as a dependency but never wired it; this is
// the L2 cache tier that finally exercises it, playing the same role the
// teacher's in-memory EmbeddingCache played, but shared process-to-process.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache over an existing client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached vector for hash, if present.
func (c *RedisCache) Get(ctx context.Context, hash string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, redisKey(hash)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		slog.Warn("embed: redis get failed", "error", err)
		return nil, false
	}
	return decodeVector(raw), true
}

// Set stores vec under hash with the cache's configured TTL.
func (c *RedisCache) Set(ctx context.Context, hash string, vec []float32) {
	if err := c.client.Set(ctx, redisKey(hash), encodeVector(vec), c.ttl).Err(); err != nil {
		slog.Warn("embed: redis set failed", "error", err)
	}
}

func redisKey(hash string) string {
	return "emb:" + hash
}

// encodeVector packs a []float32 as fixed-width big-endian uint32 bit
// patterns, avoiding JSON's per-element overhead for 768-dim vectors.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.BigEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[i*4:]))
	}
	return out
}

// QueryHash returns the deterministic cache key for a raw query string,
// normalized the same way the store's web cache normalizes queries.
func QueryHash(query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
