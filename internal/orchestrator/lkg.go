package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/digital-twin-engine/internal/domain"
)

// LastKnownGood caches the most recent live (non-degraded) prediction per
// (patient, model) for breaker-open and model-failure substitution: an LRU in
// process memory with an optional redis tier shared across replicas.
type LastKnownGood struct {
	mem   *lru.Cache[string, domain.PredictionResult]
	redis *redis.Client
	ttl   time.Duration
	log   *logrus.Logger
}

// NewLastKnownGood creates the cache. redisClient may be nil for
// single-process deployments.
func NewLastKnownGood(capacity int, redisClient *redis.Client, ttl time.Duration, logger *logrus.Logger) (*LastKnownGood, error) {
	if capacity <= 0 {
		capacity = 4096
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	mem, err := lru.New[string, domain.PredictionResult](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating lkg cache: %w", err)
	}
	return &LastKnownGood{mem: mem, redis: redisClient, ttl: ttl, log: logger}, nil
}

func lkgKey(patientID, model string) string {
	return fmt.Sprintf("twin:lkg:%s:%s", patientID, model)
}

// Put stores a live result. Degraded results are never cached; substituting
// a substitute would compound staleness invisibly.
func (c *LastKnownGood) Put(ctx context.Context, patientID string, result domain.PredictionResult) {
	if result.Degraded {
		return
	}
	key := lkgKey(patientID, result.ModelName)
	c.mem.Add(key, result)

	if c.redis == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("model", result.ModelName).Warn("Failed to write last-known-good to redis")
	}
}

// Get returns the cached result for a (patient, model), falling back to the
// redis tier on a memory miss.
func (c *LastKnownGood) Get(ctx context.Context, patientID, model string) (domain.PredictionResult, bool) {
	key := lkgKey(patientID, model)
	if res, ok := c.mem.Get(key); ok {
		return res, true
	}
	if c.redis == nil {
		return domain.PredictionResult{}, false
	}

	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).WithField("model", model).Warn("Failed to read last-known-good from redis")
		}
		return domain.PredictionResult{}, false
	}
	var res domain.PredictionResult
	if err := json.Unmarshal(data, &res); err != nil {
		return domain.PredictionResult{}, false
	}
	c.mem.Add(key, res)
	return res, true
}
