package middleware

import (
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

func setupRateLimitApp(t *testing.T, maxPerMin int) (*fiber.App, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	app := fiber.New()
	app.Post("/wallets/:walletId/deposit", MutationRateLimit(cache, maxPerMin), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}

	return app, mr, cleanup
}

func TestMutationRateLimitBlocksAboveThreshold(t *testing.T) {
	app, _, cleanup := setupRateLimitApp(t, 3)
	defer cleanup()

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(fiber.MethodPost, "/wallets/w1/deposit", nil)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, resp.StatusCode)
		}
	}

	req := httptest.NewRequest(fiber.MethodPost, "/wallets/w1/deposit", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("over-limit request: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
}

func TestMutationRateLimitIsPerWallet(t *testing.T) {
	app, _, cleanup := setupRateLimitApp(t, 1)
	defer cleanup()

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/wallets/w1/deposit", nil))
	if err != nil || resp.StatusCode != fiber.StatusOK {
		t.Fatalf("first wallet: status=%d err=%v", resp.StatusCode, err)
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/wallets/w2/deposit", nil))
	if err != nil {
		t.Fatalf("second wallet: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("other wallets must have their own window, got %d", resp.StatusCode)
	}
}

func TestMutationRateLimitFailsOpenWithoutCache(t *testing.T) {
	app := fiber.New()
	app.Post("/wallets/:walletId/deposit", MutationRateLimit(nil, 1), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	for i := 0; i < 5; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/wallets/w1/deposit", nil))
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("limiter must be a no-op without a cache, got %d", resp.StatusCode)
		}
	}
}
