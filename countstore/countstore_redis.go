package countstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
)

var redisHitPrefix string = "hits/"

// RedisHitStore keeps each series in a sorted set scored by unix milliseconds.
type RedisHitStore struct {
	Client *redis.Client
	Node   *snowflake.Node
}

var _ HitStore = (*RedisHitStore)(nil)

func NewRedisHitStore(redisURL string, nodeID int64) (*RedisHitStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	return &RedisHitStore{
		Client: rdb,
		Node:   node,
	}, nil
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (s *RedisHitStore) Record(ctx context.Context, key Key, at time.Time, window time.Duration) (int, error) {
	k := redisHitPrefix + key.String()

	// append, prune and count in a single MULTI round-trip
	var count *redis.IntCmd
	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, k, redis.Z{
			Score:  float64(at.UnixMilli()),
			Member: s.Node.Generate().String(),
		})
		pipe.ZRemRangeByScore(ctx, k, "-inf", "("+score(at.Add(-window)))
		count = pipe.ZCount(ctx, k, score(at.Add(-window)), score(at))
		// a quiet series disappears once its newest hit leaves the window
		pipe.PExpire(ctx, k, window+time.Second)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(count.Val()), nil
}

func (s *RedisHitStore) Count(ctx context.Context, key Key, at time.Time, window time.Duration) (int, error) {
	c, err := s.Client.ZCount(ctx, redisHitPrefix+key.String(), score(at.Add(-window)), score(at)).Result()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return int(c), nil
}

func (s *RedisHitStore) Clear(ctx context.Context, key Key) error {
	return s.Client.Del(ctx, redisHitPrefix+key.String()).Err()
}
