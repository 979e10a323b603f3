package signals

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	KindSentiment = "sentiment"
	KindMomentum  = "momentum"
)

// Metrics records signal lookups. Kind is KindSentiment or KindMomentum.
type Metrics interface {
	SignalUnavailableInc(kind string)
	SignalCacheHitInc(kind string)
}

type noopMetrics struct{}

func (noopMetrics) SignalUnavailableInc(string) {}
func (noopMetrics) SignalCacheHitInc(string)    {}

// Resolver answers signal lookups from the cache first and the provider
// second. It never fails: anything it cannot find comes back nil.
type Resolver struct {
	cache    Cache
	provider Provider
	ttl      time.Duration
	timeout  time.Duration
	metrics  Metrics
}

// NewResolver builds a Resolver. provider may be nil for cache-only mode
// (for example when signals arrive over the stream).
func NewResolver(cache Cache, provider Provider, ttl, timeout time.Duration, metrics Metrics) *Resolver {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Resolver{cache: cache, provider: provider, ttl: ttl, timeout: timeout, metrics: metrics}
}

// Resolve looks up both signals for subject concurrently.
func (r *Resolver) Resolve(ctx context.Context, subject string) Set {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var set Set
	var g errgroup.Group
	g.Go(func() error {
		set.Sentiment = resolveOne(ctx, r, KindSentiment, sentimentKey(subject), func(ctx context.Context) (*SentimentSignal, error) {
			if r.provider == nil {
				return nil, ErrSignalUnavailable
			}
			return r.provider.Sentiment(ctx, subject)
		})
		return nil
	})
	g.Go(func() error {
		set.Momentum = resolveOne(ctx, r, KindMomentum, momentumKey(subject), func(ctx context.Context) (*MomentumSignal, error) {
			if r.provider == nil {
				return nil, ErrSignalUnavailable
			}
			return r.provider.Momentum(ctx, subject)
		})
		return nil
	})
	_ = g.Wait()
	return set
}

func resolveOne[T any](ctx context.Context, r *Resolver, kind, key string, fetch func(context.Context) (*T, error)) *T {
	cached, ok, err := cacheGet[T](ctx, r.cache, key)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("signal cache read failed")
	}
	if ok {
		r.metrics.SignalCacheHitInc(kind)
		return cached
	}

	v, err := fetch(ctx)
	if err != nil || v == nil {
		r.metrics.SignalUnavailableInc(kind)
		log.Debug().Err(err).Str("key", key).Msg("signal unavailable, continuing without it")
		return nil
	}
	if err := cachePut(ctx, r.cache, key, v, r.ttl); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("signal cache write failed")
	}
	return v
}
