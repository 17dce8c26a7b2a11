package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisBackend shares membership between instances. Each live is a sorted
// set of user IDs scored by last heartbeat (unix ms); join times and
// connection counts live in hashes next to it, and a set indexes the lives
// that have members.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, prefix: "amanteslive:presence"}
}

// DialRedis connects using a redis:// URL and verifies the connection.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (b *RedisBackend) membersKey(liveID string) string { return b.prefix + ":live:" + liveID }
func (b *RedisBackend) joinedKey(liveID string) string  { return b.prefix + ":joined:" + liveID }
func (b *RedisBackend) connsKey(liveID string) string   { return b.prefix + ":conns:" + liveID }
func (b *RedisBackend) indexKey() string                { return b.prefix + ":lives" }

// KEYS: members, joined, conns, index. ARGV: user, score, joined ms, live.
var addScript = redis.NewScript(`
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[3])
redis.call('SADD', KEYS[4], ARGV[4])
return redis.call('HINCRBY', KEYS[3], ARGV[1], 1)
`)

// KEYS: members, joined, conns. ARGV: user. Returns 1 when the member left.
var removeScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) == false then
	redis.call('HDEL', KEYS[3], ARGV[1])
	return 0
end
local n = redis.call('HINCRBY', KEYS[3], ARGV[1], -1)
if n > 0 then
	return 0
end
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
return redis.call('ZREM', KEYS[1], ARGV[1])
`)

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

func (b *RedisBackend) Add(ctx context.Context, m Member) (bool, error) {
	keys := []string{b.membersKey(m.LiveID), b.joinedKey(m.LiveID), b.connsKey(m.LiveID), b.indexKey()}
	n, err := addScript.Run(ctx, b.client, keys, m.UserID, score(m.LastSeen), m.JoinedAt.UnixMilli(), m.LiveID).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (b *RedisBackend) Remove(ctx context.Context, liveID, userID string) (bool, error) {
	keys := []string{b.membersKey(liveID), b.joinedKey(liveID), b.connsKey(liveID)}
	n, err := removeScript.Run(ctx, b.client, keys, userID).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *RedisBackend) Touch(ctx context.Context, liveID, userID string, at time.Time) (bool, error) {
	_, err := b.client.ZScore(ctx, b.membersKey(liveID), userID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := b.client.ZAdd(ctx, b.membersKey(liveID), &redis.Z{Score: score(at), Member: userID}).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (b *RedisBackend) Count(ctx context.Context, liveID string) (int, error) {
	n, err := b.client.ZCard(ctx, b.membersKey(liveID)).Result()
	return int(n), err
}

func (b *RedisBackend) Members(ctx context.Context, liveID string) ([]Member, error) {
	zs, err := b.client.ZRangeWithScores(ctx, b.membersKey(liveID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	joined, err := b.client.HGetAll(ctx, b.joinedKey(liveID)).Result()
	if err != nil {
		return nil, err
	}
	conns, err := b.client.HGetAll(ctx, b.connsKey(liveID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Member, 0, len(zs))
	for _, z := range zs {
		userID, _ := z.Member.(string)
		m := Member{LiveID: liveID, UserID: userID, LastSeen: time.UnixMilli(int64(z.Score))}
		if ms, err := strconv.ParseInt(joined[userID], 10, 64); err == nil {
			m.JoinedAt = time.UnixMilli(ms)
		}
		if n, err := strconv.Atoi(conns[userID]); err == nil {
			m.Connections = n
		}
		out = append(out, m)
	}
	return out, nil
}

func (b *RedisBackend) Expire(ctx context.Context, cutoff time.Time) ([]Member, error) {
	lives, err := b.client.SMembers(ctx, b.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	upper := strconv.FormatInt(cutoff.UnixMilli()-1, 10)

	var expired []Member
	for _, liveID := range lives {
		key := b.membersKey(liveID)
		stale, err := b.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
		if err != nil {
			return expired, err
		}
		for _, z := range stale {
			userID, _ := z.Member.(string)
			// ZRem only what was read so a concurrent heartbeat is not lost.
			n, err := b.client.ZRem(ctx, key, userID).Result()
			if err != nil {
				return expired, err
			}
			if n == 0 {
				continue
			}
			b.client.HDel(ctx, b.joinedKey(liveID), userID)
			b.client.HDel(ctx, b.connsKey(liveID), userID)
			expired = append(expired, Member{LiveID: liveID, UserID: userID, LastSeen: time.UnixMilli(int64(z.Score))})
		}
		if left, err := b.client.ZCard(ctx, key).Result(); err == nil && left == 0 {
			b.client.SRem(ctx, b.indexKey(), liveID)
		}
	}
	return expired, nil
}

func (b *RedisBackend) Clear(ctx context.Context, liveID string) error {
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.membersKey(liveID), b.joinedKey(liveID), b.connsKey(liveID))
	pipe.SRem(ctx, b.indexKey(), liveID)
	_, err := pipe.Exec(ctx)
	return err
}
