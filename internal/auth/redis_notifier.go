package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	authChannelPrefix = "auth:"
	subscribeTimeout  = 5 * time.Second
)

var (
	_ Notifier = (*Hub)(nil)
	_ Notifier = (*RedisNotifier)(nil)
)

func authChannel(browserID string) string {
	return authChannelPrefix + browserID
}

// RedisNotifier carries session changes between server instances via Redis Pub/Sub.
// Each instance holds one pattern subscription and fans messages out to its
// own screens through a local Hub. Tokens are never published: Session is
// serialized without them.
type RedisNotifier struct {
	rdb    *goredis.Client
	pubsub *goredis.PubSub
	local  *Hub
	logger *log.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewRedisNotifier subscribes to every browser's channel and waits for Redis
// to confirm before returning. Close releases the subscription.
func NewRedisNotifier(ctx context.Context, rdb *goredis.Client, logger *log.Logger) (*RedisNotifier, error) {
	pubsub := rdb.PSubscribe(ctx, authChannelPrefix+"*")

	confirmCtx, cancel := context.WithTimeout(ctx, subscribeTimeout)
	defer cancel()
	if _, err := pubsub.Receive(confirmCtx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to session notifications: %w", err)
	}

	rn := &RedisNotifier{
		rdb:    rdb,
		pubsub: pubsub,
		local:  NewHub(),
		logger: logger,
		done:   make(chan struct{}),
	}
	go rn.run()
	return rn, nil
}

func (rn *RedisNotifier) run() {
	defer close(rn.done)
	for msg := range rn.pubsub.Channel() {
		browserID := strings.TrimPrefix(msg.Channel, authChannelPrefix)
		var n Notification
		if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
			rn.logger.Printf("Failed to unmarshal notification for %s: %v", browserID, err)
			continue
		}
		_ = rn.local.Publish(context.Background(), browserID, n)
	}
}

// Publish sends n to every instance with screens open for browserID
func (rn *RedisNotifier) Publish(ctx context.Context, browserID string, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := rn.rdb.Publish(ctx, authChannel(browserID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Subscribe registers fn for browserID on this instance until the returned func is called
func (rn *RedisNotifier) Subscribe(browserID string, fn func(Notification)) func() {
	return rn.local.Subscribe(browserID, fn)
}

// Subscribers returns how many listeners browserID has on this instance
func (rn *RedisNotifier) Subscribers(browserID string) int {
	return rn.local.Subscribers(browserID)
}

// Close ends the shared subscription and waits for in-flight deliveries
func (rn *RedisNotifier) Close() error {
	var err error
	rn.closeOnce.Do(func() {
		err = rn.pubsub.Close()
		<-rn.done
	})
	return err
}
