package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	appLog "tripline/internal/log"
)

const defaultLookupTimeout = 10 * time.Second

// Store is an optional second-level cache shared across sessions (Redis in
// production). Errors from a Store are logged and otherwise ignored.
type Store interface {
	Get(ctx context.Context, key string) (TravelTime, bool, error)
	Set(ctx context.Context, key string, v TravelTime) error
}

// Client wraps a Transport with place sanitation, the session memo cache,
// an optional shared Store and in-flight de-duplication.
type Client struct {
	transport Transport
	cache     *Cache
	store     Store
	timeout   time.Duration
	flight    singleflight.Group
}

type Option func(*Client)

// WithCache injects the session cache, e.g. one restored from disk.
func WithCache(c *Cache) Option {
	return func(cl *Client) {
		if c != nil {
			cl.cache = c
		}
	}
}

func WithStore(s Store) Option {
	return func(cl *Client) { cl.store = s }
}

// WithTimeout bounds each transport call. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

func NewClient(t Transport, opts ...Option) *Client {
	c := &Client{
		transport: t,
		cache:     NewCache(),
		timeout:   defaultLookupTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Cache exposes the session cache owned by this client.
func (c *Client) Cache() *Cache { return c.cache }

// TravelTime is the nil-on-failure form of Lookup: callers treat nil as
// "unknown", never as zero.
func (c *Client) TravelTime(ctx context.Context, origin, destination, date string) *TravelTime {
	tt, err := c.Lookup(ctx, origin, destination, date)
	if err != nil {
		return nil
	}
	return tt
}

// Lookup sanitizes both places, then answers from the session cache, the
// shared store or the transport, in that order. Concurrent lookups for the
// same key share one transport call. Only successes are cached, so a
// transient failure is retried on the next render.
func (c *Client) Lookup(ctx context.Context, origin, destination, date string) (*TravelTime, error) {
	o, d := Sanitize(origin), Sanitize(destination)
	if o == "" || d == "" {
		return nil, ErrUnresolvedPlace
	}
	if SamePlace(o, d) {
		return nil, ErrSamePlace
	}

	key := CacheKey(o, d, date)
	if v, ok := c.cache.Get(key); ok {
		return &v, nil
	}

	// The shared call outlives any single caller; each caller only stops
	// waiting when its own ctx ends.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		return c.fetch(fetchCtx, key, o, d)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			appLog.Error("travel time lookup failed", res.Err, "origin", o, "destination", d, "date", date, "shared", res.Shared)
			return nil, res.Err
		}
		tt := res.Val.(TravelTime)
		return &tt, nil
	}
}

func (c *Client) fetch(ctx context.Context, key, origin, destination string) (TravelTime, error) {
	if c.store != nil {
		if v, ok, err := c.store.Get(ctx, key); err != nil {
			appLog.Error("travel time store read failed", err, "key", key)
		} else if ok {
			c.cache.Put(key, v)
			return v, nil
		}
	}

	if c.transport == nil {
		return TravelTime{}, fmt.Errorf("%w: no transport configured", ErrUnavailable)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	appLog.Debug("travel time lookup", "origin", origin, "destination", destination)
	v, err := c.transport.Lookup(lookupCtx, origin, destination)
	if err != nil {
		if errors.Is(err, ErrNoRoute) || errors.Is(err, ErrUnavailable) {
			return TravelTime{}, err
		}
		return TravelTime{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	c.cache.Put(key, v)
	if c.store != nil {
		if err := c.store.Set(ctx, key, v); err != nil {
			appLog.Error("travel time store write failed", err, "key", key)
		}
	}
	return v, nil
}
