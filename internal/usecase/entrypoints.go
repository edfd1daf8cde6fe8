package usecase

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/totegamma/feedingest"
	"github.com/totegamma/feedingest/internal/domain"
)

// Entrypoints is the set of actions reachable from HTTP requests and trigger firings.
// Every entry point may be invoked redundantly.
type Entrypoints struct {
	config       domain.Config
	subscription *SubscriptionUsecase
	poller       *PollerUsecase
	dispatcher   *DispatchUsecase
	triggers     TriggerService
}

func NewEntrypoints(
	config domain.Config,
	subscription *SubscriptionUsecase,
	poller *PollerUsecase,
	dispatcher *DispatchUsecase,
	triggers TriggerService,
) *Entrypoints {
	return &Entrypoints{
		config:       config.WithDefaults(),
		subscription: subscription,
		poller:       poller,
		dispatcher:   dispatcher,
		triggers:     triggers,
	}
}

func (e *Entrypoints) OnSubscribe(ctx context.Context, input domain.CreateFeedInput) (domain.Feed, error) {
	return e.subscription.Subscribe(ctx, input)
}

func (e *Entrypoints) OnToggle(ctx context.Context, workspaceID, feedID string, desired domain.FeedStatus) (domain.Feed, error) {
	return e.subscription.Toggle(ctx, workspaceID, feedID, desired)
}

func (e *Entrypoints) OnPollTrigger(ctx context.Context, workspaceID, feedID string) (PollResult, error) {
	return e.poller.Poll(ctx, workspaceID, feedID)
}

func (e *Entrypoints) OnDispatchTrigger(ctx context.Context) (BatchResult, error) {
	return e.dispatcher.RunBatch(ctx)
}

// Invoke routes a fired trigger or an async invocation to its entry point.
func (e *Entrypoints) Invoke(ctx context.Context, inv feedingest.Invocation) error {
	ctx, span := tracer.Start(ctx, "Entrypoints.Usecase.Invoke")
	defer span.End()

	switch inv.Target {
	case feedingest.TargetPoll:
		var payload feedingest.PollPayload
		if err := json.Unmarshal(inv.Payload, &payload); err != nil {
			return errors.Wrap(domain.ErrInvalidArgument, "poll payload: "+err.Error())
		}
		if payload.WorkspaceID == "" || payload.FeedID == "" {
			return errors.Wrap(domain.ErrInvalidArgument, "poll payload requires workspaceId and feedId")
		}
		_, err := e.OnPollTrigger(ctx, payload.WorkspaceID, payload.FeedID)
		return err
	case feedingest.TargetDispatch:
		_, err := e.OnDispatchTrigger(ctx)
		return err
	default:
		span.RecordError(domain.ErrInvalidArgument)
		return errors.Wrapf(domain.ErrInvalidArgument, "unknown target %q", inv.Target)
	}
}

// EnsureDispatchTrigger creates the periodic dispatch trigger unless it already exists.
func (e *Entrypoints) EnsureDispatchTrigger(ctx context.Context) error {
	_, err := e.triggers.Create(ctx, domain.Trigger{
		Name:     "dispatch",
		Group:    e.config.SystemTriggerGroup(),
		Schedule: e.config.DispatchSchedule,
		Target:   feedingest.TargetDispatch,
		State:    domain.TriggerStateEnabled,
	})
	if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return errors.Wrap(err, "create dispatch trigger")
	}
	if err == nil {
		slog.InfoContext(ctx, "dispatch trigger created",
			slog.String("schedule", e.config.DispatchSchedule),
			slog.String("module", "entrypoints"),
		)
	}
	return nil
}
