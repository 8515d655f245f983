package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"private-chat/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	messagesKey = "chat:messages"      // sorted set scored by creation time
	dataKey     = "chat:messages:data" // hash id -> record
	seqKey      = "chat:messages:seq"
)

// RedisStore keeps the message log in a sorted set. Equal scores are ordered
// by member, and members start with a zero-padded insertion sequence, so
// ties come back in insertion order.
type RedisStore struct {
	client *redis.Client
}

type redisRecord struct {
	Seq          uint64    `json:"seq"`
	ID           string    `json:"id"`
	AuthorID     string    `json:"participantId"`
	AuthorName   string    `json:"displayName"`
	AuthorAvatar string    `json:"avatarRef,omitempty"`
	Body         string    `json:"body"`
	CreatedAt    time.Time `json:"timestamp"`
}

// NewRedisStore creates a store using an existing client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func memberFor(seq uint64, id string) string {
	return fmt.Sprintf("%020d:%s", seq, id)
}

func idFromMember(member string) string {
	if i := strings.IndexByte(member, ':'); i >= 0 {
		return member[i+1:]
	}
	return member
}

func (s *RedisStore) Insert(ctx context.Context, msg *models.Message) error {
	seq, err := s.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return fmt.Errorf("allocate sequence: %w", err)
	}
	msg.Seq = uint64(seq)

	data, err := json.Marshal(redisRecord{
		Seq:          msg.Seq,
		ID:           msg.ID,
		AuthorID:     msg.AuthorID,
		AuthorName:   msg.AuthorName,
		AuthorAvatar: msg.AuthorAvatar,
		Body:         msg.Body,
		CreatedAt:    msg.CreatedAt,
	})
	if err != nil {
		return err
	}

	created, err := s.client.HSetNX(ctx, dataKey, msg.ID, data).Result()
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	if !created {
		return ErrDuplicateMessage
	}

	err = s.client.ZAdd(ctx, messagesKey, redis.Z{
		Score:  float64(msg.CreatedAt.UnixMilli()),
		Member: memberFor(msg.Seq, msg.ID),
	}).Err()
	if err != nil {
		return fmt.Errorf("index message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *RedisStore) OrderedRead(ctx context.Context, limit int, order Order) ([]models.Message, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	var members []string
	var err error
	if order == Descending {
		members, err = s.client.ZRevRange(ctx, messagesKey, 0, stop).Result()
	} else {
		members, err = s.client.ZRange(ctx, messagesKey, 0, stop).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	if len(members) == 0 {
		return []models.Message{}, nil
	}

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = idFromMember(m)
	}
	values, err := s.client.HMGet(ctx, dataKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	messages := make([]models.Message, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry whose record was already deleted
			continue
		}
		var rec redisRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		messages = append(messages, models.Message{
			Seq:          rec.Seq,
			ID:           rec.ID,
			AuthorID:     rec.AuthorID,
			AuthorName:   rec.AuthorName,
			AuthorAvatar: rec.AuthorAvatar,
			Body:         rec.Body,
			CreatedAt:    rec.CreatedAt,
		})
	}
	return messages, nil
}

func (s *RedisStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	values, err := s.client.HMGet(ctx, dataKey, ids...).Result()
	if err != nil {
		return fmt.Errorf("load messages for delete: %w", err)
	}

	members := make([]interface{}, 0, len(ids))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec redisRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		members = append(members, memberFor(rec.Seq, ids[i]))
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(members) > 0 {
			pipe.ZRem(ctx, messagesKey, members...)
		}
		pipe.HDel(ctx, dataKey, ids...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %d messages: %w", len(ids), err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
