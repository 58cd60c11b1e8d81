package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shindakun/mockportal/internal/models"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversInOrder(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	rec := &recorder{}
	unsubscribe := hub.Subscribe("browser-1", rec.record)
	assert.Equal(t, 1, hub.Subscribers("browser-1"))

	require.NoError(t, hub.Publish(ctx, "browser-1", Notification{Event: models.AuthEventSignedIn}))
	require.NoError(t, hub.Publish(ctx, "browser-1", Notification{Event: models.AuthEventSignedOut}))
	assert.Equal(t, []models.AuthEvent{models.AuthEventSignedIn, models.AuthEventSignedOut}, rec.events())

	unsubscribe()
	unsubscribe()
	assert.Zero(t, hub.Subscribers("browser-1"))

	require.NoError(t, hub.Publish(ctx, "browser-1", Notification{Event: models.AuthEventSignedIn}))
	assert.Len(t, rec.events(), 2)
}

func newTestRedis(t *testing.T) *goredis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newTestNotifier(t *testing.T, rdb *goredis.Client) *RedisNotifier {
	t.Helper()
	rn, err := NewRedisNotifier(context.Background(), rdb, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rn.Close() })
	return rn
}

func TestRedisNotifierPublishAndSubscribe(t *testing.T) {
	rn := newTestNotifier(t, newTestRedis(t))
	ctx := context.Background()

	received := make(chan Notification, 4)
	unsubscribe := rn.Subscribe("browser-1", func(n Notification) { received <- n })
	defer unsubscribe()

	other := make(chan Notification, 4)
	defer rn.Subscribe("browser-2", func(n Notification) { other <- n })()

	session := &models.Session{UserID: "user-1", Email: "a@b.co", AccessToken: "secret-token"}
	require.NoError(t, rn.Publish(ctx, "browser-1", Notification{Event: models.AuthEventSignedIn, Session: session}))

	select {
	case n := <-received:
		assert.Equal(t, models.AuthEventSignedIn, n.Event)
		require.NotNil(t, n.Session)
		assert.Equal(t, "a@b.co", n.Session.Email)
		assert.Empty(t, n.Session.AccessToken, "tokens are not sent over Redis")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}

	select {
	case n := <-other:
		t.Fatalf("unexpected notification for another browser: %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisNotifierCrossInstance(t *testing.T) {
	rdb := newTestRedis(t)
	a := newTestNotifier(t, rdb)
	b := newTestNotifier(t, rdb)

	received := make(chan Notification, 1)
	defer b.Subscribe("browser-1", func(n Notification) { received <- n })()

	require.NoError(t, a.Publish(context.Background(), "browser-1", Notification{Event: models.AuthEventSignedOut}))

	select {
	case n := <-received:
		assert.Equal(t, models.AuthEventSignedOut, n.Event)
		assert.Nil(t, n.Session)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification from the other instance")
	}
}

func TestRedisNotifierSharesOneSubscription(t *testing.T) {
	rdb := newTestRedis(t)
	rn := newTestNotifier(t, rdb)
	ctx := context.Background()

	first := rn.Subscribe("browser-1", func(Notification) {})
	second := rn.Subscribe("browser-1", func(Notification) {})
	third := rn.Subscribe("browser-2", func(Notification) {})
	assert.Equal(t, 2, rn.Subscribers("browser-1"))

	patterns, err := rdb.PubSubNumPat(ctx).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), patterns, "screens share the instance subscription")

	numSub, err := rdb.PubSubNumSub(ctx, authChannel("browser-1")).Result()
	require.NoError(t, err)
	assert.Zero(t, numSub[authChannel("browser-1")], "no per-browser channel subscriptions")

	first()
	second()
	third()
	assert.Zero(t, rn.Subscribers("browser-1"))

	require.NoError(t, rn.Close())
	require.Eventually(t, func() bool {
		n, err := rdb.PubSubNumPat(ctx).Result()
		return err == nil && n == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestNewRedisNotifierFailsWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	_, err := NewRedisNotifier(context.Background(), rdb, discardLogger())
	assert.Error(t, err)
}

func TestNotifiersCountLocalSubscribers(t *testing.T) {
	notifiers := map[string]Notifier{
		"hub":   NewHub(),
		"redis": newTestNotifier(t, newTestRedis(t)),
	}

	for name, n := range notifiers {
		t.Run(name, func(t *testing.T) {
			first := n.Subscribe("browser-1", func(Notification) {})
			second := n.Subscribe("browser-1", func(Notification) {})
			assert.Equal(t, 2, n.Subscribers("browser-1"))
			assert.Zero(t, n.Subscribers("browser-2"))

			first()
			assert.Equal(t, 1, n.Subscribers("browser-1"))
			second()
			assert.Zero(t, n.Subscribers("browser-1"))
		})
	}
}
