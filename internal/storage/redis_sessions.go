package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shindakun/mockportal/internal/models"
)

const (
	redisSessionPrefix = "mockportal:session:"
	redisExpiryIndex   = "mockportal:sessions:expiry"
)

// deleteIfRefreshToken removes a session hash and its index entry only while
// the hash still holds the given refresh token
var deleteIfRefreshToken = goredis.NewScript(`
if redis.call("HGET", KEYS[1], "refresh_token") == ARGV[1] then
	redis.call("DEL", KEYS[1])
	redis.call("ZREM", KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// RedisSessionStore keeps provider tokens in Redis so every instance behind
// a load balancer sees the same sessions. Each browser is a hash; a sorted
// set scored by expiry drives the refresher.
type RedisSessionStore struct {
	rdb *goredis.Client
}

// NewRedisSessionStore wraps an existing client
func NewRedisSessionStore(rdb *goredis.Client) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb}
}

func redisSessionKey(browserID string) string {
	return redisSessionPrefix + browserID
}

// SaveAuthSession inserts or replaces the tokens held for a browser
func (s *RedisSessionStore) SaveAuthSession(ctx context.Context, browserID string, session *models.Session) error {
	if browserID == "" {
		return fmt.Errorf("browser id is required")
	}
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	key := redisSessionKey(browserID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"user_id", session.UserID,
			"email", session.Email,
			"access_token", session.AccessToken,
			"refresh_token", session.RefreshToken,
			"expires_at", session.ExpiresAt.Unix(),
			"updated_at", time.Now().Unix(),
		)
		pipe.ZAdd(ctx, redisExpiryIndex, goredis.Z{Score: float64(session.ExpiresAt.Unix()), Member: browserID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save auth session: %w", err)
	}
	return nil
}

// GetAuthSession returns the tokens held for a browser, or nil when there are none
func (s *RedisSessionStore) GetAuthSession(ctx context.Context, browserID string) (*models.Session, error) {
	fields, err := s.rdb.HGetAll(ctx, redisSessionKey(browserID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth session: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return sessionFromHash(fields)
}

// DeleteAuthSession forgets the tokens held for a browser
func (s *RedisSessionStore) DeleteAuthSession(ctx context.Context, browserID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, redisSessionKey(browserID))
		pipe.ZRem(ctx, redisExpiryIndex, browserID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete auth session: %w", err)
	}
	return nil
}

// DeleteAuthSessionIfRefreshToken deletes the browser's tokens only while they still
// hold refreshToken, and reports whether a row was deleted
func (s *RedisSessionStore) DeleteAuthSessionIfRefreshToken(ctx context.Context, browserID, refreshToken string) (bool, error) {
	n, err := deleteIfRefreshToken.Run(ctx, s.rdb,
		[]string{redisSessionKey(browserID), redisExpiryIndex},
		refreshToken, browserID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to delete auth session: %w", err)
	}
	return n == 1, nil
}

// ListExpiringAuthSessions returns sessions whose access token expires before the given time,
// soonest first.
func (s *RedisSessionStore) ListExpiringAuthSessions(ctx context.Context, before time.Time, limit int) ([]ExpiringSession, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, redisExpiryIndex, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(before.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring auth sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, redisSessionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load expiring auth sessions: %w", err)
	}

	result := make([]ExpiringSession, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Deleted between the range and the load
			continue
		}
		session, err := sessionFromHash(fields)
		if err != nil {
			return nil, err
		}
		result = append(result, ExpiringSession{BrowserID: ids[i], Session: session})
	}
	return result, nil
}

// CountAuthSessions returns the number of browsers holding tokens
func (s *RedisSessionStore) CountAuthSessions(ctx context.Context) (int, error) {
	n, err := s.rdb.ZCard(ctx, redisExpiryIndex).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count auth sessions: %w", err)
	}
	return int(n), nil
}

// PingContext checks that Redis answers
func (s *RedisSessionStore) PingContext(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func sessionFromHash(fields map[string]string) (*models.Session, error) {
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, errors.New("failed to parse auth session expiry")
	}
	return &models.Session{
		UserID:       fields["user_id"],
		Email:        fields["email"],
		AccessToken:  fields["access_token"],
		RefreshToken: fields["refresh_token"],
		ExpiresAt:    time.Unix(expiresAt, 0),
	}, nil
}
