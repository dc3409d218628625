package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-sync-service/internal/domain"
	"quiz-sync-service/internal/infra/memory"
)

// QuestionCache keeps question JSON in Redis (key per question, TTL with
// jitter) and falls back to a loader on cache miss. Misses for the same
// question collapse into a single load.
type QuestionCache struct {
	client *redis.Client
	loader memory.QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewQuestionCache(client *redis.Client, loader memory.QuestionLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	key := c.key(questionID)

	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		if question, ok := decodeEntry(raw); ok {
			return question, nil
		}
		// Unreadable entry: fall through and refill.
	}

	result, err, _ := c.sf.Do(questionID, func() (interface{}, error) {
		// Re-check in case another goroutine filled it.
		if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
			if question, ok := decodeEntry(raw); ok {
				return question, nil
			}
		}

		question, err := c.loader.LoadQuestion(ctx, questionID)
		if err != nil {
			return domain.Question{}, err
		}

		if raw, err := json.Marshal(cacheEntry(question)); err == nil {
			// best-effort fill
			_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		}
		return question, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

func (c *QuestionCache) key(questionID string) string {
	return "question:" + questionID
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// cachedQuestion round-trips the correct option, which the public JSON shape
// of domain.Question deliberately omits.
type cachedQuestion struct {
	domain.Question
	CorrectOption int `json:"correctOption"`
}

func cacheEntry(q domain.Question) cachedQuestion {
	return cachedQuestion{Question: q, CorrectOption: q.CorrectOption}
}

func decodeEntry(raw []byte) (domain.Question, bool) {
	var entry cachedQuestion
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.Question{}, false
	}
	question := entry.Question
	question.CorrectOption = entry.CorrectOption
	return question, true
}
