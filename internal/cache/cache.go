package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	gocache "github.com/patrickmn/go-cache"

	"github.com/ZanzyTHEbar/loan-decision/internal/decision"
)

// Sorted keys make equal profiles hash identically
var canonical = jsoniter.Config{SortMapKeys: true, EscapeHTML: false}.Froze()

// Metrics receives hit and miss counts
type Metrics interface {
	IncrementCacheHit()
	IncrementCacheMiss()
}

// PredictionCache memoizes prediction results per profile and artifact bundle generation.
// A reload changes the generation, so results from an older bundle are never served.
type PredictionCache struct {
	items   *gocache.Cache
	ttl     time.Duration
	metrics Metrics
}

// NewPredictionCache creates a cache whose entries expire after ttl. A non-positive ttl
// disables caching.
func NewPredictionCache(ttl time.Duration, metrics Metrics) *PredictionCache {
	cleanup := ttl * 2
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &PredictionCache{
		items:   gocache.New(ttl, cleanup),
		ttl:     ttl,
		metrics: metrics,
	}
}

// Key derives the cache key for profile under bundle generation
func Key(profile decision.Profile, generation uint64) (string, error) {
	data, err := canonical.Marshal(profile)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return strconv.FormatUint(generation, 10) + ":" + hex.EncodeToString(sum[:]), nil
}

// Get returns the cached result for key
func (c *PredictionCache) Get(key string) (decision.PredictionResult, bool) {
	if c.disabled() {
		return decision.PredictionResult{}, false
	}

	v, found := c.items.Get(key)
	if !found {
		c.record(false)
		return decision.PredictionResult{}, false
	}
	c.record(true)
	return v.(decision.PredictionResult), true
}

// Set stores result under key. Error results are not cached.
func (c *PredictionCache) Set(key string, result decision.PredictionResult) {
	if c.disabled() || result.ModelVersion == decision.VersionError {
		return
	}
	c.items.SetDefault(key, result)
}

// Flush drops every entry
func (c *PredictionCache) Flush() {
	if c == nil {
		return
	}
	c.items.Flush()
}

// Size returns the number of entries, including expired ones not yet cleaned up
func (c *PredictionCache) Size() int {
	if c == nil {
		return 0
	}
	return c.items.ItemCount()
}

// Stats returns cache statistics
func (c *PredictionCache) Stats() map[string]interface{} {
	if c == nil {
		return map[string]interface{}{"enabled": false, "total_items": 0}
	}
	return map[string]interface{}{
		"enabled":     !c.disabled(),
		"total_items": c.Size(),
		"ttl_seconds": c.ttl.Seconds(),
	}
}

func (c *PredictionCache) disabled() bool {
	return c == nil || c.ttl <= 0
}

func (c *PredictionCache) record(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.IncrementCacheHit()
	} else {
		c.metrics.IncrementCacheMiss()
	}
}
