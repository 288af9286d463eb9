package middleware

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// MutationRateLimit caps balance-mutating requests per wallet per minute
// using Redis if available. Fixed one-minute windows keyed by wallet id; the
// limiter fails open when the cache is missing or unreachable so the ledger
// stays available.
func MutationRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 60
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next() // no-op without Redis
		}
		walletID := c.Params("walletId")
		if walletID == "" {
			walletID = c.IP()
		}
		key := "rl:mutation:" + walletID
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many wallet operations, try again later")
		}
		return c.Next()
	}
}
