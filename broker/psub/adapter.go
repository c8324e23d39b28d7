// Package psub implements a router.Backend backed by a lightweight,
// non-durable publish/subscribe transport modeled on Redis Pub/Sub: one
// connection, one subscription multiplexer, and a single listener loop
// that pulls messages and hands each admitted delivery to the router core.
package psub

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/richland-works/agent-communication/router"
)

// stopTimeout bounds how long Stop waits for the listener goroutine to
// exit before abandoning it.
const stopTimeout = time.Second

// config collects the adapter's connection parameters, populated from
// Option values. Either URL or the component fields may be used. Options
// apply in the order given, so a later option overrides an earlier one;
// WithURL replaces every field set before it.
type config struct {
	redisOptions *redis.Options
}

// Option configures an Adapter at construction time.
type Option func(*config)

// WithURL configures the connection from a full redis:// or rediss:// URL.
func WithURL(url string) Option {
	return func(c *config) {
		opts, err := redis.ParseURL(url)
		if err != nil {
			opts = &redis.Options{Addr: url}
		}
		c.redisOptions = opts
	}
}

// WithHostPort configures the connection from discrete host and port
// fields.
func WithHostPort(host string, port int) Option {
	return func(c *config) {
		c.ensure()
		c.redisOptions.Addr = fmt.Sprintf("%s:%d", host, port)
	}
}

// WithCredentials sets the username and password used to authenticate.
func WithCredentials(username, password string) Option {
	return func(c *config) {
		c.ensure()
		c.redisOptions.Username = username
		c.redisOptions.Password = password
	}
}

// WithDB selects the logical database index.
func WithDB(db int) Option {
	return func(c *config) {
		c.ensure()
		c.redisOptions.DB = db
	}
}

// WithDialOptions passes additional backend-specific options through
// untouched by applying fn to the underlying redis.Options.
func WithDialOptions(fn func(*redis.Options)) Option {
	return func(c *config) {
		c.ensure()
		fn(c.redisOptions)
	}
}

func (c *config) ensure() {
	if c.redisOptions == nil {
		c.redisOptions = &redis.Options{Addr: "localhost:6379"}
	}
}

// Adapter is a router.Backend implementation over Redis Pub/Sub.
type Adapter struct {
	cfg config

	client *redis.Client
	pubsub *redis.PubSub

	mu             sync.Mutex
	activePatterns map[string]bool
	activeLiterals map[string]bool
	delivery       router.Delivery
	dedup          *router.DedupCache
	listenerStop   chan struct{}
	listenerDone   chan struct{}
}

// NewAdapter constructs an Adapter with the given options applied over a
// localhost:6379 default.
func NewAdapter(opts ...Option) *Adapter {
	cfg := config{}
	cfg.ensure()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Adapter{
		cfg:            cfg,
		activePatterns: make(map[string]bool),
		activeLiterals: make(map[string]bool),
	}
}

// Start connects to Redis and begins the listener loop.
func (a *Adapter) Start(ctx context.Context, delivery router.Delivery) error {
	a.client = redis.NewClient(a.cfg.redisOptions)
	if err := a.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("[psub] connect: %w", err)
	}

	a.pubsub = a.client.Subscribe(ctx)
	a.delivery = delivery
	a.dedup = router.NewDedupCache(router.DefaultDedupWindow)
	a.listenerStop = make(chan struct{})
	a.listenerDone = make(chan struct{})

	go a.listen(ctx)
	return nil
}

// listen pulls messages from the subscription multiplexer until told to
// stop or the channel closes. For pattern subscriptions, msg.Channel (not
// the pattern) is the concrete channel the message was published on.
func (a *Adapter) listen(ctx context.Context) {
	defer close(a.listenerDone)

	ch := a.pubsub.Channel()
	for {
		select {
		case <-a.listenerStop:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			payload := []byte(msg.Payload)
			if !a.dedup.Admit(msg.Channel, payload) {
				continue
			}
			a.delivery.DeliverMessage(ctx, msg.Channel, payload)
		}
	}
}

// Stop cancels the listener, waiting up to stopTimeout for it to exit, then
// closes the subscription and the client connection.
func (a *Adapter) Stop(context.Context) error {
	if a.listenerStop != nil {
		close(a.listenerStop)
		select {
		case <-a.listenerDone:
		case <-time.After(stopTimeout):
		}
	}
	if a.pubsub != nil {
		_ = a.pubsub.Close()
	}
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// PublishRaw publishes payload on ch verbatim; the abstract channel name is
// used as the Redis channel name with no translation.
func (a *Adapter) PublishRaw(ctx context.Context, ch string, payload []byte) error {
	return a.client.Publish(ctx, ch, payload).Err()
}

// hasGlobMeta reports whether pattern contains any Redis glob
// metacharacter, the signal used to choose PSubscribe over Subscribe.
func hasGlobMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// SubscribeRaw issues a pattern-subscribe or a literal subscribe depending
// on whether pattern contains a glob metacharacter, debouncing against
// re-subscribing to an already-active pattern.
func (a *Adapter) SubscribeRaw(ctx context.Context, pattern string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if hasGlobMeta(pattern) {
		if a.activePatterns[pattern] {
			return nil
		}
		if err := a.pubsub.PSubscribe(ctx, pattern); err != nil {
			return fmt.Errorf("[psub] psubscribe %s: %w", pattern, err)
		}
		a.activePatterns[pattern] = true
		return nil
	}

	if a.activeLiterals[pattern] {
		return nil
	}
	if err := a.pubsub.Subscribe(ctx, pattern); err != nil {
		return fmt.Errorf("[psub] subscribe %s: %w", pattern, err)
	}
	a.activeLiterals[pattern] = true
	return nil
}

// UnsubscribeRaw mirrors SubscribeRaw's literal/pattern distinction.
func (a *Adapter) UnsubscribeRaw(ctx context.Context, pattern string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if hasGlobMeta(pattern) {
		if !a.activePatterns[pattern] {
			return nil
		}
		if err := a.pubsub.PUnsubscribe(ctx, pattern); err != nil {
			return fmt.Errorf("[psub] punsubscribe %s: %w", pattern, err)
		}
		delete(a.activePatterns, pattern)
		return nil
	}

	if !a.activeLiterals[pattern] {
		return nil
	}
	if err := a.pubsub.Unsubscribe(ctx, pattern); err != nil {
		return fmt.Errorf("[psub] unsubscribe %s: %w", pattern, err)
	}
	delete(a.activeLiterals, pattern)
	return nil
}

// Healthy reports whether the connection currently responds to PING.
func (a *Adapter) Healthy(ctx context.Context) bool {
	if a.client == nil {
		return false
	}
	return a.client.Ping(ctx).Err() == nil
}
