package domain

import "time"

// Config holds the ingestion policy shared by the usecases.
type Config struct {
	TriggerGroupPrefix string        `yaml:"triggerGroupPrefix"`
	PollSchedule       string        `yaml:"pollSchedule"`
	FlexibleWindow     time.Duration `yaml:"flexibleWindow"`
	DispatchSchedule   string        `yaml:"dispatchSchedule"`
	DispatchBatchSize  int           `yaml:"dispatchBatchSize"`
	DispatchRate       float64       `yaml:"dispatchRate"` // submissions per second, 0 = unlimited
	DisableFollowLinks bool          `yaml:"disableFollowLinks"`
	LinkLimit          int           `yaml:"linkLimit"`
	AllowPurge         bool          `yaml:"allowPurge"`
}

const (
	DefaultTriggerGroupPrefix = "rss"
	DefaultPollSchedule       = "rate(1 day)"
	DefaultFlexibleWindow     = 120 * time.Minute
	DefaultDispatchSchedule   = "rate(5 minutes)"
	DefaultDispatchBatchSize  = 10
	DefaultLinkLimit          = 30
)

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.TriggerGroupPrefix == "" {
		c.TriggerGroupPrefix = DefaultTriggerGroupPrefix
	}
	if c.PollSchedule == "" {
		c.PollSchedule = DefaultPollSchedule
	}
	if c.FlexibleWindow == 0 {
		c.FlexibleWindow = DefaultFlexibleWindow
	}
	if c.DispatchSchedule == "" {
		c.DispatchSchedule = DefaultDispatchSchedule
	}
	if c.DispatchBatchSize <= 0 {
		c.DispatchBatchSize = DefaultDispatchBatchSize
	}
	if c.LinkLimit <= 0 {
		c.LinkLimit = DefaultLinkLimit
	}
	return c
}

// TriggerGroup is the trigger group holding every feed trigger of a workspace.
func (c Config) TriggerGroup(workspaceID string) string {
	return c.TriggerGroupPrefix + "." + workspaceID
}

// SystemTriggerGroup holds triggers that are not owned by a workspace.
func (c Config) SystemTriggerGroup() string {
	return c.TriggerGroupPrefix + ".system"
}
