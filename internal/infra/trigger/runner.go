package trigger

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/totegamma/feedingest"
	"github.com/totegamma/feedingest/internal/domain"
)

// Invoker runs the target action of a fired trigger.
type Invoker interface {
	Invoke(ctx context.Context, inv feedingest.Invocation) error
}

// Runner fires due triggers of a Redis trigger service. Several runners may share
// one redis; each due entry is claimed by exactly one of them.
type Runner struct {
	triggers *Redis
	invoker  Invoker
	tick     time.Duration
	batch    int64
	timeout  time.Duration
}

func NewRunner(triggers *Redis, invoker Invoker, tick time.Duration) *Runner {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &Runner{
		triggers: triggers,
		invoker:  invoker,
		tick:     tick,
		batch:    100,
		timeout:  5 * time.Minute,
	}
}

func (r *Runner) Run(ctx context.Context) {
	slog.InfoContext(ctx, "trigger runner started", slog.Duration("tick", r.tick), slog.String("module", "trigger"))

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "trigger runner stopped", slog.String("module", "trigger"))
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "trigger runner tick failed", slog.String("error", err.Error()), slog.String("module", "trigger"))
			}
		}
	}
}

// A due entry is claimed by moving it to its next fire time, or by removing it
// when the trigger is gone or no longer enabled. The claim only succeeds when
// neither the record nor the score changed since they were read, so an enabled
// trigger always keeps a due entry.
var claimScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur == false then
	cur = ''
end
if cur ~= ARGV[2] then
	return 0
end
local score = redis.call('ZSCORE', KEYS[2], ARGV[3])
if score == false or tonumber(score) ~= tonumber(ARGV[4]) then
	return 0
end
if ARGV[5] == '' then
	redis.call('ZREM', KEYS[2], ARGV[3])
else
	redis.call('ZADD', KEYS[2], ARGV[5], ARGV[3])
end
return 1
`)

// RunOnce fires every trigger due at the current time and returns how many fired successfully.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	now := r.triggers.now()
	rdb := r.triggers.rdb

	due, err := rdb.ZRangeByScoreWithScores(ctx, dueKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.UnixMilli(), 10),
		Offset: 0,
		Count:  r.batch,
	}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "list due triggers")
	}

	fired := 0
	for _, z := range due {
		if ctx.Err() != nil {
			return fired, ctx.Err()
		}

		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		group, name, ok := splitDueMember(member)
		if !ok {
			rdb.ZRem(ctx, dueKey, member)
			continue
		}

		t, claimed := r.claim(ctx, group, name, z.Score, now)
		if !claimed {
			continue
		}
		if r.fire(ctx, t) {
			fired++
		}
	}

	return fired, nil
}

// claim reschedules the due entry and reports whether the trigger should fire now.
func (r *Runner) claim(ctx context.Context, group, name string, score float64, now time.Time) (domain.Trigger, bool) {
	t, raw, err := r.triggers.load(ctx, group, name)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		slog.ErrorContext(ctx, "failed to load trigger", slog.String("group", group), slog.String("trigger", name), slog.String("error", err.Error()), slog.String("module", "trigger"))
		return t, false
	}

	next := ""
	if err == nil && t.State == domain.TriggerStateEnabled {
		schedule, err := ParseSchedule(t.Schedule)
		if err != nil {
			slog.ErrorContext(ctx, "trigger has invalid schedule", slog.String("trigger", name), slog.String("error", err.Error()), slog.String("module", "trigger"))
		} else if next, err = nextScore(t, schedule, now); err != nil {
			slog.ErrorContext(ctx, "failed to reschedule trigger", slog.String("trigger", name), slog.String("error", err.Error()), slog.String("module", "trigger"))
		}
	}

	claimed, err := claimScript.Run(ctx, r.triggers.rdb,
		[]string{groupKey(group), dueKey},
		name, raw, dueMember(group, name), strconv.FormatFloat(score, 'f', -1, 64), next,
	).Int()
	if err != nil {
		slog.ErrorContext(ctx, "failed to claim trigger", slog.String("group", group), slog.String("trigger", name), slog.String("error", err.Error()), slog.String("module", "trigger"))
		return t, false
	}
	return t, claimed == 1 && next != ""
}

func (r *Runner) fire(ctx context.Context, t domain.Trigger) bool {
	invokeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.invoker.Invoke(invokeCtx, feedingest.Invocation{Target: t.Target, Payload: t.Payload})
	if err != nil {
		slog.WarnContext(ctx, "trigger invocation failed",
			slog.String("group", t.Group),
			slog.String("trigger", t.Name),
			slog.String("target", t.Target),
			slog.String("error", err.Error()),
			slog.String("module", "trigger"),
		)
		return false
	}
	return true
}
