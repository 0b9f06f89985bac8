package recovery

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
)

const defaultRequestRate = "5-H"

// NewRequestLimiter builds the reset-request throttle. A nil client keeps
// counters in process memory.
func NewRequestLimiter(client *redis.Client, rate string) (*limiter.Limiter, error) {
	if rate == "" {
		rate = defaultRequestRate
	}
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid reset request rate %q: %w", rate, err)
	}

	opts := limiter.StoreOptions{
		Prefix:          "reset",
		MaxRetry:        limiter.DefaultMaxRetry,
		CleanUpInterval: limiter.DefaultCleanUpInterval,
	}

	var store limiter.Store
	if client == nil {
		store = memory.NewStoreWithOptions(opts)
	} else {
		store, err = redisstore.NewStoreWithOptions(client, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create limiter store: %w", err)
		}
	}

	return limiter.New(store, parsed), nil
}
