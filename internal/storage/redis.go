package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"studysched/internal/schedule"
	logx "studysched/pkg/logx"
)

const defaultRedisPrefix = "studysched:"

// redisStore keeps one hash per participant for instances (guid -> JSON) and
// one for events (event id -> RFC 3339 timestamp).
type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	s := newRedisStore(client, cfg.KeyPrefix, log)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	log.Debug("redis store opened", logx.String("addr", addr), logx.Int("db", cfg.DB))
	return s, nil
}

func newRedisStore(client *redis.Client, prefix string, log logx.Logger) *redisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &redisStore{client: client, prefix: prefix, log: log}
}

func (s *redisStore) activitiesKey(healthID string) string {
	return s.prefix + "activities:" + healthID
}

func (s *redisStore) eventsKey(healthID string) string {
	return s.prefix + "events:" + healthID
}

func (s *redisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *redisStore) Persisted(ctx context.Context, healthID string, now time.Time) ([]schedule.ScheduledActivity, error) {
	if s == nil || s.client == nil {
		return nil, ErrDisabled
	}
	all, err := s.client.HGetAll(ctx, s.activitiesKey(healthID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]schedule.ScheduledActivity, 0, len(all))
	for guid, body := range all {
		a, err := decodeActivity([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("decode scheduled activity %s: %w", guid, err)
		}
		if visibleAt(a, now) {
			out = append(out, a)
		}
	}
	sortByScheduledOn(out)
	return out, nil
}

func (s *redisStore) Get(ctx context.Context, healthID, guid string) (schedule.ScheduledActivity, error) {
	if s == nil || s.client == nil {
		return schedule.ScheduledActivity{}, ErrDisabled
	}
	body, err := s.client.HGet(ctx, s.activitiesKey(healthID), guid).Result()
	if errors.Is(err, redis.Nil) {
		return schedule.ScheduledActivity{}, ErrNotFound
	}
	if err != nil {
		return schedule.ScheduledActivity{}, err
	}
	return decodeActivity([]byte(body))
}

func (s *redisStore) GetMany(ctx context.Context, healthID string, guids []string) ([]schedule.ScheduledActivity, error) {
	if s == nil || s.client == nil {
		return nil, ErrDisabled
	}
	if len(guids) == 0 {
		return nil, nil
	}
	vals, err := s.client.HMGet(ctx, s.activitiesKey(healthID), guids...).Result()
	if err != nil {
		return nil, err
	}
	var out []schedule.ScheduledActivity
	for i, v := range vals {
		body, ok := v.(string)
		if !ok {
			continue
		}
		a, err := decodeActivity([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("decode scheduled activity %s: %w", guids[i], err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *redisStore) Save(ctx context.Context, acts []schedule.ScheduledActivity) error {
	if s == nil || s.client == nil {
		return ErrDisabled
	}
	b := batch{op: "save"}
	queued := make([]schedule.ScheduledActivity, 0, len(acts))
	cmds := make([]*redis.IntCmd, 0, len(acts))
	pipe := s.client.Pipeline()
	for _, a := range acts {
		if err := checkKey(a); err != nil {
			b.fail(a.GUID, err)
			continue
		}
		body, err := encodeActivity(a)
		if err != nil {
			b.fail(a.GUID, err)
			continue
		}
		queued = append(queued, a)
		cmds = append(cmds, pipe.HSet(ctx, s.activitiesKey(a.HealthID), a.GUID, body))
	}
	s.execPipeline(ctx, pipe, &b, queued, cmds)
	return b.err()
}

func (s *redisStore) Delete(ctx context.Context, acts []schedule.ScheduledActivity) error {
	if s == nil || s.client == nil {
		return ErrDisabled
	}
	b := batch{op: "delete"}
	cmds := make([]*redis.IntCmd, 0, len(acts))
	pipe := s.client.Pipeline()
	for _, a := range acts {
		cmds = append(cmds, pipe.HDel(ctx, s.activitiesKey(a.HealthID), a.GUID))
	}
	s.execPipeline(ctx, pipe, &b, acts, cmds)
	return b.err()
}

// execPipeline runs the queued commands and maps each failed command back to
// its instance.
func (s *redisStore) execPipeline(ctx context.Context, pipe redis.Pipeliner, b *batch, acts []schedule.ScheduledActivity, cmds []*redis.IntCmd) {
	if len(cmds) == 0 {
		return
	}
	if _, err := pipe.Exec(ctx); err != nil {
		for i, cmd := range cmds {
			if cerr := cmd.Err(); cerr != nil {
				b.fail(acts[i].GUID, cerr)
			}
		}
		if len(b.failures) == 0 {
			b.failAll(acts, err)
		}
		s.log.Warn("redis batch failed", logx.String("op", b.op), logx.Int("failed", len(b.failures)), logx.Err(err))
	}
}

func (s *redisStore) EventMap(ctx context.Context, healthID string) (map[string]time.Time, error) {
	if s == nil || s.client == nil {
		return nil, ErrDisabled
	}
	all, err := s.client.HGetAll(ctx, s.eventsKey(healthID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(all))
	for id, raw := range all {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			s.log.Warn("skipping unreadable event", logx.String("event_id", id), logx.Err(err))
			continue
		}
		out[id] = at.UTC()
	}
	return out, nil
}

func (s *redisStore) PutEvent(ctx context.Context, healthID, eventID string, at time.Time) error {
	if s == nil || s.client == nil {
		return ErrDisabled
	}
	healthID, eventID = strings.TrimSpace(healthID), strings.TrimSpace(eventID)
	if healthID == "" || eventID == "" {
		return errMissingEventKey
	}
	return s.client.HSet(ctx, s.eventsKey(healthID), eventID, at.UTC().Format(time.RFC3339Nano)).Err()
}
