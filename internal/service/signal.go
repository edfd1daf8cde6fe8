package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/totegamma/feedingest"
	"github.com/totegamma/feedingest/internal/usecase"
)

const invocationQueue = "feedingest:invocations"

// Invoker executes an invocation taken from the queue.
type Invoker interface {
	Invoke(ctx context.Context, inv feedingest.Invocation) error
}

type InvokerFunc func(ctx context.Context, inv feedingest.Invocation) error

func (f InvokerFunc) Invoke(ctx context.Context, inv feedingest.Invocation) error {
	return f(ctx, inv)
}

// SignalService hands invocations to whichever replica pops them first.
type SignalService struct {
	rdb     *redis.Client
	timeout time.Duration
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb:     redisClient,
		timeout: 5 * time.Minute,
	}
}

var _ usecase.AsyncInvoker = (*SignalService)(nil)

func (s *SignalService) Publish(ctx context.Context, inv feedingest.Invocation) error {
	jsonstr, err := json.Marshal(inv)
	if err != nil {
		return err
	}

	err = s.rdb.RPush(ctx, invocationQueue, jsonstr).Err()
	if err != nil {
		return errors.Wrap(err, "enqueue invocation")
	}

	return nil
}

// InvokeAsync enqueues the invocation. The channel reports the enqueue result only;
// execution failures are logged by the consuming replica.
func (s *SignalService) InvokeAsync(ctx context.Context, inv feedingest.Invocation) <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		errc <- s.Publish(ctx, inv)
	}()
	return errc
}

// Listen pops invocations until ctx is done and runs them one at a time.
func (s *SignalService) Listen(ctx context.Context, invoker Invoker) {
	slog.InfoContext(ctx, "invocation listener started", slog.String("module", "signal"))

	for {
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "invocation listener stopped", slog.String("module", "signal"))
			return
		}

		res, err := s.rdb.BLPop(ctx, time.Second, invocationQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			slog.ErrorContext(ctx, "failed to pop invocation", slog.String("error", err.Error()), slog.String("module", "signal"))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if len(res) != 2 {
			continue
		}

		var inv feedingest.Invocation
		if err := json.Unmarshal([]byte(res[1]), &inv); err != nil {
			slog.ErrorContext(ctx, "dropping malformed invocation", slog.String("error", err.Error()), slog.String("module", "signal"))
			continue
		}

		s.run(ctx, invoker, inv)
	}
}

func (s *SignalService) run(ctx context.Context, invoker Invoker, inv feedingest.Invocation) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := invoker.Invoke(ctx, inv); err != nil {
		slog.WarnContext(ctx, "invocation failed",
			slog.String("target", inv.Target),
			slog.String("error", err.Error()),
			slog.String("module", "signal"),
		)
	}
}
