package redis

import (
	"context"
	"fmt"
	"time"
)

// Allow counts one hit against key in a fixed window and reports whether the
// caller is still within limit. A limit of zero or less disables the check.
func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	bucket := fmt.Sprintf("rate:%s:%d", key, time.Now().UnixNano()/int64(window))

	pipe := r.Client.TxPipeline()
	incr := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	if incr.Val() > int64(limit) {
		if r.Logger != nil {
			r.Logger.LogSecurity("RATE_LIMIT", fmt.Sprintf("%s exceeded %d requests per %s", key, limit, window))
		}
		return false, nil
	}
	return true, nil
}
