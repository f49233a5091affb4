package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
)

const defaultCheckoutLockTTL = 30 * time.Second

// unlockScript deletes the key only while it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	Client  *redis.Client
	Logger  *logger.Logger
	LockTTL time.Duration
}

func NewRedis(client *redis.Client, lockTTL time.Duration, log *logger.Logger) *Redis {
	if lockTTL <= 0 {
		lockTTL = defaultCheckoutLockTTL
	}
	return &Redis{
		Client:  client,
		Logger:  log,
		LockTTL: lockTTL,
	}
}

// Connect builds a client and pings it, retrying a few times while Redis
// comes up.
func Connect(ctx context.Context, addr, password string, db int, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	var err error
	for i := 0; i < 5; i++ {
		log.Info("REDIS", fmt.Sprintf("Attempting to connect to Redis at %s (attempt %d/5)", addr, i+1))
		if err = client.Ping(ctx).Err(); err == nil {
			log.Info("REDIS", "Redis connection successful")
			return client, nil
		}
		log.Error("REDIS", fmt.Sprintf("Failed to connect to Redis: %v", err))
		if i < 4 {
			time.Sleep(2 * time.Second)
		}
	}
	client.Close()
	return nil, fmt.Errorf("connect to redis after 5 attempts: %w", err)
}

func checkoutKey(orderID int64) string {
	return fmt.Sprintf("checkout_lock:%d", orderID)
}

// LockCheckout takes the per-order checkout lock for token. It returns false
// when another checkout for the same order holds it.
func (r *Redis) LockCheckout(ctx context.Context, orderID int64, token string) (bool, error) {
	ok, err := r.Client.SetNX(ctx, checkoutKey(orderID), token, r.LockTTL).Result()
	if err != nil {
		return false, err
	}
	if !ok && r.Logger != nil {
		r.Logger.Debug("REDIS", fmt.Sprintf("Checkout lock for order %d already held", orderID))
	}
	return ok, nil
}

// UnlockCheckout releases the lock if token still owns it.
func (r *Redis) UnlockCheckout(ctx context.Context, orderID int64, token string) error {
	err := unlockScript.Run(ctx, r.Client, []string{checkoutKey(orderID)}, token).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

// CheckoutLocked reports whether a checkout for orderID is in flight.
func (r *Redis) CheckoutLocked(ctx context.Context, orderID int64) (bool, error) {
	_, err := r.Client.Get(ctx, checkoutKey(orderID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
