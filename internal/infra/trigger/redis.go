package trigger

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/totegamma/feedingest/internal/domain"
	"github.com/totegamma/feedingest/internal/usecase"
)

const (
	groupKeyPrefix = "feedingest:triggers:group:"
	dueKey         = "feedingest:triggers:due"
	memberSep      = "\x1f"
)

// Redis keeps trigger definitions in one hash per group and the next fire time
// of every enabled trigger in a shared sorted set. A Runner fires them.
type Redis struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, now: time.Now}
}

var _ usecase.TriggerService = (*Redis)(nil)

func groupKey(group string) string {
	return groupKeyPrefix + group
}

func dueMember(group, name string) string {
	return group + memberSep + name
}

func splitDueMember(member string) (string, string, bool) {
	return strings.Cut(member, memberSep)
}

// Hash and due entry are written by one script. The due set is touched
// first so that a failing ZADD leaves nothing behind.
var createScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
	return 0
end
if ARGV[4] ~= '' then
	redis.call('ZADD', KEYS[2], ARGV[4], ARGV[3])
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// Re-adds a missing due entry of a trigger that still exists.
var reseedScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
	return 0
end
return redis.call('ZADD', KEYS[2], 'NX', ARGV[3], ARGV[2])
`)

// Writes a new state unless the trigger was deleted in the meantime.
var setStateScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
	return 0
end
if ARGV[4] == '' then
	redis.call('ZREM', KEYS[2], ARGV[3])
else
	redis.call('ZADD', KEYS[2], 'NX', ARGV[4], ARGV[3])
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

func (r *Redis) Create(ctx context.Context, t domain.Trigger) (string, error) {
	schedule, err := ParseSchedule(t.Schedule)
	if err != nil {
		return "", errors.Wrap(domain.ErrInvalidArgument, err.Error())
	}
	if t.State == "" {
		t.State = domain.TriggerStateEnabled
	}
	t.CreatedAt = r.now()

	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	score := ""
	if t.State == domain.TriggerStateEnabled {
		if score, err = nextScore(t, schedule, t.CreatedAt); err != nil {
			return "", err
		}
	}

	member := dueMember(t.Group, t.Name)
	created, err := createScript.Run(ctx, r.rdb,
		[]string{groupKey(t.Group), dueKey},
		t.Name, string(b), member, score,
	).Int()
	if err != nil {
		return "", errors.Wrap(err, "Trigger.Redis.Create")
	}
	if created == 0 {
		if err := r.reseed(ctx, t.Group, t.Name); err != nil {
			return "", err
		}
		return "", domain.AlreadyExistsError{Resource: "trigger", ID: t.Name}
	}

	return t.Group + "/" + t.Name, nil
}

// reseed makes sure an existing ENABLED trigger has a due entry.
func (r *Redis) reseed(ctx context.Context, group, name string) error {
	existing, err := r.Get(ctx, group, name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if existing.State != domain.TriggerStateEnabled {
		return nil
	}
	schedule, err := ParseSchedule(existing.Schedule)
	if err != nil {
		return err
	}
	score, err := nextScore(existing, schedule, r.now())
	if err != nil {
		return err
	}
	err = reseedScript.Run(ctx, r.rdb, []string{groupKey(group), dueKey}, name, dueMember(group, name), score).Err()
	return errors.Wrap(err, "reseed trigger")
}

// nextScore is the due set score of the first fire time of t after the given time.
func nextScore(t domain.Trigger, schedule Schedule, after time.Time) (string, error) {
	next, err := schedule.Next(after)
	if err != nil {
		return "", errors.Wrapf(err, "next fire time of %s", t.Name)
	}
	next = next.Add(jitter(t.FlexibleWindow))
	return strconv.FormatInt(next.UnixMilli(), 10), nil
}

func (r *Redis) Get(ctx context.Context, group, name string) (domain.Trigger, error) {
	t, _, err := r.load(ctx, group, name)
	return t, err
}

// load also returns the stored record so callers can detect concurrent writes.
func (r *Redis) load(ctx context.Context, group, name string) (domain.Trigger, string, error) {
	raw, err := r.rdb.HGet(ctx, groupKey(group), name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Trigger{}, "", domain.NotFoundError{Resource: "trigger"}
		}
		return domain.Trigger{}, "", errors.Wrap(err, "Trigger.Redis.Get")
	}

	var t domain.Trigger
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return domain.Trigger{}, raw, errors.Wrap(err, "decode trigger")
	}
	return t, raw, nil
}

func (r *Redis) List(ctx context.Context, group string) ([]domain.Trigger, error) {
	values, err := r.rdb.HVals(ctx, groupKey(group)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "Trigger.Redis.List")
	}

	triggers := make([]domain.Trigger, 0, len(values))
	for _, v := range values {
		var t domain.Trigger
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			return nil, errors.Wrap(err, "decode trigger")
		}
		triggers = append(triggers, t)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i].Name < triggers[j].Name })
	return triggers, nil
}

func (r *Redis) SetState(ctx context.Context, group, name string, state domain.TriggerState) error {
	t, err := r.Get(ctx, group, name)
	if err != nil {
		return err
	}

	t.State = state
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}

	score := ""
	if state == domain.TriggerStateEnabled {
		schedule, err := ParseSchedule(t.Schedule)
		if err != nil {
			return err
		}
		if score, err = nextScore(t, schedule, r.now()); err != nil {
			return err
		}
	}

	updated, err := setStateScript.Run(ctx, r.rdb,
		[]string{groupKey(group), dueKey},
		name, string(b), dueMember(group, name), score,
	).Int()
	if err != nil {
		return errors.Wrap(err, "Trigger.Redis.SetState")
	}
	if updated == 0 {
		return domain.NotFoundError{Resource: "trigger"}
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, group, name string) error {
	var removed *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, groupKey(group), name)
		pipe.ZRem(ctx, dueKey, dueMember(group, name))
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "Trigger.Redis.Delete")
	}
	if removed.Val() == 0 {
		return domain.NotFoundError{Resource: "trigger"}
	}
	return nil
}
