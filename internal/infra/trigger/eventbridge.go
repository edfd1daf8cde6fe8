package trigger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/scheduler/types"
	"github.com/pkg/errors"

	"github.com/totegamma/feedingest"
	"github.com/totegamma/feedingest/internal/domain"
	"github.com/totegamma/feedingest/internal/usecase"
)

// SchedulerAPI is the subset of the EventBridge Scheduler client used here.
type SchedulerAPI interface {
	CreateSchedule(ctx context.Context, params *scheduler.CreateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error)
	GetSchedule(ctx context.Context, params *scheduler.GetScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.GetScheduleOutput, error)
	UpdateSchedule(ctx context.Context, params *scheduler.UpdateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.UpdateScheduleOutput, error)
	DeleteSchedule(ctx context.Context, params *scheduler.DeleteScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.DeleteScheduleOutput, error)
	ListSchedules(ctx context.Context, params *scheduler.ListSchedulesInput, optFns ...func(*scheduler.Options)) (*scheduler.ListSchedulesOutput, error)
	CreateScheduleGroup(ctx context.Context, params *scheduler.CreateScheduleGroupInput, optFns ...func(*scheduler.Options)) (*scheduler.CreateScheduleGroupOutput, error)
}

// EventBridge delegates triggers to AWS EventBridge Scheduler. Every schedule
// targets one ARN and carries the invocation as its input document.
type EventBridge struct {
	client    SchedulerAPI
	targetArn string
	roleArn   string
}

func NewEventBridge(client SchedulerAPI, targetArn, roleArn string) *EventBridge {
	return &EventBridge{client: client, targetArn: targetArn, roleArn: roleArn}
}

var _ usecase.TriggerService = (*EventBridge)(nil)

func translateSchedulerError(err error, name string) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return domain.NotFoundError{Resource: "trigger"}
	}
	var conflict *types.ConflictException
	if errors.As(err, &conflict) {
		return domain.AlreadyExistsError{Resource: "trigger", ID: name}
	}
	return err
}

func flexibleWindow(window time.Duration) *types.FlexibleTimeWindow {
	minutes := int32(window / time.Minute)
	if minutes <= 0 {
		return &types.FlexibleTimeWindow{Mode: types.FlexibleTimeWindowModeOff}
	}
	return &types.FlexibleTimeWindow{
		Mode:                   types.FlexibleTimeWindowModeFlexible,
		MaximumWindowInMinutes: aws.Int32(minutes),
	}
}

func (e *EventBridge) input(t domain.Trigger) (*string, error) {
	b, err := json.Marshal(feedingest.Invocation{Target: t.Target, Payload: t.Payload})
	if err != nil {
		return nil, err
	}
	return aws.String(string(b)), nil
}

func (e *EventBridge) Create(ctx context.Context, t domain.Trigger) (string, error) {
	if _, err := ParseSchedule(t.Schedule); err != nil {
		return "", errors.Wrap(domain.ErrInvalidArgument, err.Error())
	}
	state := types.ScheduleStateEnabled
	if t.State == domain.TriggerStateDisabled {
		state = types.ScheduleStateDisabled
	}
	input, err := e.input(t)
	if err != nil {
		return "", err
	}

	params := &scheduler.CreateScheduleInput{
		Name:               aws.String(t.Name),
		GroupName:          aws.String(t.Group),
		ScheduleExpression: aws.String(t.Schedule),
		FlexibleTimeWindow: flexibleWindow(t.FlexibleWindow),
		State:              state,
		Target: &types.Target{
			Arn:     aws.String(e.targetArn),
			RoleArn: aws.String(e.roleArn),
			Input:   input,
		},
	}

	out, err := e.client.CreateSchedule(ctx, params)
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if !errors.As(err, &notFound) {
			return "", translateSchedulerError(err, t.Name)
		}
		// the workspace group does not exist yet
		_, groupErr := e.client.CreateScheduleGroup(ctx, &scheduler.CreateScheduleGroupInput{Name: aws.String(t.Group)})
		if groupErr != nil {
			var conflict *types.ConflictException
			if !errors.As(groupErr, &conflict) {
				return "", errors.Wrap(groupErr, "create schedule group")
			}
		}
		out, err = e.client.CreateSchedule(ctx, params)
		if err != nil {
			return "", translateSchedulerError(err, t.Name)
		}
	}
	return aws.ToString(out.ScheduleArn), nil
}

func (e *EventBridge) Get(ctx context.Context, group, name string) (domain.Trigger, error) {
	out, err := e.client.GetSchedule(ctx, &scheduler.GetScheduleInput{
		Name:      aws.String(name),
		GroupName: aws.String(group),
	})
	if err != nil {
		return domain.Trigger{}, translateSchedulerError(err, name)
	}

	t := domain.Trigger{
		Name:     aws.ToString(out.Name),
		Group:    aws.ToString(out.GroupName),
		Schedule: aws.ToString(out.ScheduleExpression),
		State:    domain.TriggerState(out.State),
	}
	if out.CreationDate != nil {
		t.CreatedAt = *out.CreationDate
	}
	if out.FlexibleTimeWindow != nil && out.FlexibleTimeWindow.MaximumWindowInMinutes != nil {
		t.FlexibleWindow = time.Duration(*out.FlexibleTimeWindow.MaximumWindowInMinutes) * time.Minute
	}
	if out.Target != nil && out.Target.Input != nil {
		var inv feedingest.Invocation
		if err := json.Unmarshal([]byte(*out.Target.Input), &inv); err == nil {
			t.Target = inv.Target
			t.Payload = inv.Payload
		}
	}
	return t, nil
}

// SetState rewrites the schedule with the new state; UpdateSchedule replaces the whole definition.
func (e *EventBridge) SetState(ctx context.Context, group, name string, state domain.TriggerState) error {
	out, err := e.client.GetSchedule(ctx, &scheduler.GetScheduleInput{
		Name:      aws.String(name),
		GroupName: aws.String(group),
	})
	if err != nil {
		return translateSchedulerError(err, name)
	}

	next := types.ScheduleStateEnabled
	if state == domain.TriggerStateDisabled {
		next = types.ScheduleStateDisabled
	}

	_, err = e.client.UpdateSchedule(ctx, &scheduler.UpdateScheduleInput{
		Name:                       out.Name,
		GroupName:                  out.GroupName,
		ScheduleExpression:         out.ScheduleExpression,
		ScheduleExpressionTimezone: out.ScheduleExpressionTimezone,
		FlexibleTimeWindow:         out.FlexibleTimeWindow,
		Target:                     out.Target,
		Description:                out.Description,
		StartDate:                  out.StartDate,
		EndDate:                    out.EndDate,
		State:                      next,
	})
	if err != nil {
		return translateSchedulerError(err, name)
	}
	return nil
}

func (e *EventBridge) Delete(ctx context.Context, group, name string) error {
	_, err := e.client.DeleteSchedule(ctx, &scheduler.DeleteScheduleInput{
		Name:      aws.String(name),
		GroupName: aws.String(group),
	})
	if err != nil {
		return translateSchedulerError(err, name)
	}
	return nil
}

func (e *EventBridge) List(ctx context.Context, group string) ([]domain.Trigger, error) {
	triggers := []domain.Trigger{}
	var token *string
	for {
		out, err := e.client.ListSchedules(ctx, &scheduler.ListSchedulesInput{
			GroupName: aws.String(group),
			NextToken: token,
		})
		if err != nil {
			var notFound *types.ResourceNotFoundException
			if errors.As(err, &notFound) {
				return triggers, nil
			}
			return nil, errors.Wrap(err, "list schedules")
		}
		for _, s := range out.Schedules {
			t := domain.Trigger{
				Name:  aws.ToString(s.Name),
				Group: aws.ToString(s.GroupName),
				State: domain.TriggerState(s.State),
			}
			if s.CreationDate != nil {
				t.CreatedAt = *s.CreationDate
			}
			triggers = append(triggers, t)
		}
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}
	return triggers, nil
}
