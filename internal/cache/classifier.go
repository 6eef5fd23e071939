package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/logging"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Classifier is the text classifier being memoized.
type Classifier interface {
	Classify(text string) domain.DetectionResult
}

// ClassifierCache memoizes classification results by normalized text.
// Results are stored as JSON under a key scoped to the rule table, so a
// changed table never reads results produced by an older one.
// Cache failures are logged and the text is classified directly.
type ClassifierCache struct {
	classifier Classifier
	cache      domain.Cache
	ttl        time.Duration
	scope      string
	log        *slog.Logger
}

// NewClassifierCache wraps classifier with cache. scope namespaces the keys,
// typically the rule table fingerprint.
func NewClassifierCache(classifier Classifier, cache domain.Cache, ttl time.Duration, scope string) *ClassifierCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ClassifierCache{
		classifier: classifier,
		cache:      cache,
		ttl:        ttl,
		scope:      scope,
		log:        logging.New("classifier-cache"),
	}
}

// Key returns the cache key for text.
func (c *ClassifierCache) Key(text string) string {
	sum := sha256.Sum256([]byte(rules.Normalize(text)))
	return "classify:" + c.scope + ":" + hex.EncodeToString(sum[:])
}

// Classify returns the cached result for text, classifying and storing it
// on a miss.
func (c *ClassifierCache) Classify(ctx context.Context, text string) domain.DetectionResult {
	if c.cache == nil {
		return c.classifier.Classify(text)
	}

	key := c.Key(text)

	data, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn("classification cache read failed", "error", err)
	} else if data != nil {
		var result domain.DetectionResult
		if err := json.Unmarshal(data, &result); err == nil {
			return result
		}
		c.log.Warn("discarding malformed cached classification", "key", key)
	}

	result := c.classifier.Classify(text)

	encoded, err := json.Marshal(result)
	if err != nil {
		return result
	}
	if err := c.cache.Set(ctx, key, encoded, c.ttl); err != nil {
		c.log.Warn("classification cache write failed", "error", err)
	}
	return result
}
