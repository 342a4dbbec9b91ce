package middleware

import (
	"context"
	"hash/fnv"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

const shardCount = 64

type RateLimitMiddleware struct {
	ctx             context.Context
	logger          types.Logger
	metrics         types.MetricsManager
	rateLimitConfig *RateLimitConfig
	shards          [shardCount]*rateLimitShard
	weight          int
	now             func() time.Time
	stopCleanup     chan struct{}
	workerGroup     sync.WaitGroup
	shutdown        atomic.Bool
}

type RateLimitConfig struct {
	RequestsPerMinute float64        `json:"requests_per_minute"`
	Burst             float64        `json:"burst"`
	IdleTimeout       utils.Duration `json:"idle_timeout"`
}

type rateLimitShard struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

type tokenBucket struct {
	tokens   float64
	lastSeen time.Time
}

func NewRateLimitMiddleware(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) *RateLimitMiddleware {
	item := config.GetConfig().Middlewares.RateLimit
	rateLimitConfig := &RateLimitConfig{
		RequestsPerMinute: 300,
		Burst:             50,
		IdleTimeout:       utils.Duration(10 * time.Minute),
	}
	decodeParams(logger, "rate_limit", item, rateLimitConfig)

	if rateLimitConfig.Burst < 1 {
		rateLimitConfig.Burst = 1
	}

	rl := &RateLimitMiddleware{
		ctx:             ctx,
		logger:          logger,
		metrics:         metrics,
		rateLimitConfig: rateLimitConfig,
		weight:          itemWeight(item, 50),
		now:             time.Now,
		stopCleanup:     make(chan struct{}),
	}

	for i := range rl.shards {
		rl.shards[i] = &rateLimitShard{buckets: make(map[string]*tokenBucket)}
	}

	rl.workerGroup.Add(1)
	go rl.cleanupWorker()

	return rl
}

func (rl *RateLimitMiddleware) Name() string { return "rate_limit" }
func (rl *RateLimitMiddleware) Weight() int  { return rl.weight }

func (rl *RateLimitMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	client := clientIP(ctx)

	if !rl.allow(client) {
		if rl.metrics != nil {
			rl.metrics.Counter("http_rate_limited_total", nil).Inc()
		}

		retryAfter := int(math.Ceil(60 / math.Max(rl.rateLimitConfig.RequestsPerMinute, 1)))
		ctx.Response.Header.Set("Retry-After", strconv.Itoa(retryAfter))
		ctx.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(int(rl.rateLimitConfig.RequestsPerMinute)))
		utils.WriteError(ctx, fasthttp.StatusTooManyRequests, types.ErrRateLimitExceeded.Error())
		return
	}

	next(ctx)
}

// allow refills the client's bucket for the elapsed time and takes one token.
func (rl *RateLimitMiddleware) allow(client string) bool {
	shard := rl.shard(client)
	now := rl.now()
	ratePerSecond := rl.rateLimitConfig.RequestsPerMinute / 60

	shard.mu.Lock()
	defer shard.mu.Unlock()

	bucket, exists := shard.buckets[client]
	if !exists {
		bucket = &tokenBucket{tokens: rl.rateLimitConfig.Burst, lastSeen: now}
		shard.buckets[client] = bucket
	}

	elapsed := now.Sub(bucket.lastSeen).Seconds()
	if elapsed > 0 {
		bucket.tokens = math.Min(rl.rateLimitConfig.Burst, bucket.tokens+elapsed*ratePerSecond)
	}
	bucket.lastSeen = now

	if bucket.tokens < 1 {
		return false
	}

	bucket.tokens--
	return true
}

func (rl *RateLimitMiddleware) shard(client string) *rateLimitShard {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(client))
	return rl.shards[hasher.Sum32()%shardCount]
}

func (rl *RateLimitMiddleware) cleanupWorker() {
	defer rl.workerGroup.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.ctx.Done():
			return
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimitMiddleware) cleanup() {
	cutoff := rl.now().Add(-rl.rateLimitConfig.IdleTimeout.Std())
	removed := 0

	for _, shard := range rl.shards {
		shard.mu.Lock()
		for client, bucket := range shard.buckets {
			if bucket.lastSeen.Before(cutoff) {
				delete(shard.buckets, client)
				removed++
			}
		}
		shard.mu.Unlock()
	}

	if removed > 0 {
		rl.logger.Debug("Rate limit buckets pruned", zap.Int("removed", removed))
	}
}

func (rl *RateLimitMiddleware) Stop() error {
	if !rl.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	close(rl.stopCleanup)

	done := make(chan struct{})
	go func() {
		rl.workerGroup.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return types.NewErrorf("timeout waiting for rate limit cleanup to stop")
	}
}
