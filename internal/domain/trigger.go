package domain

import (
	"encoding/json"
	"time"
)

type TriggerState string

const (
	TriggerStateEnabled  TriggerState = "ENABLED"
	TriggerStateDisabled TriggerState = "DISABLED"
)

// Trigger is a named recurring invocation of a target action.
type Trigger struct {
	Name           string          `json:"name"`
	Group          string          `json:"group"`
	Schedule       string          `json:"schedule"`
	Target         string          `json:"target"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	FlexibleWindow time.Duration   `json:"flexibleWindow"`
	State          TriggerState    `json:"state"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type InconsistencyKind string

const (
	InconsistencyMissingTrigger InconsistencyKind = "missing_trigger"
	InconsistencyStateMismatch  InconsistencyKind = "state_mismatch"
	InconsistencyOrphanTrigger  InconsistencyKind = "orphan_trigger"
)

// Inconsistency is a divergence between feed records and trigger listings.
type Inconsistency struct {
	Kind         InconsistencyKind `json:"kind"`
	WorkspaceID  string            `json:"workspaceId"`
	FeedID       string            `json:"feedId"`
	FeedStatus   FeedStatus        `json:"feedStatus,omitempty"`
	TriggerState TriggerState      `json:"triggerState,omitempty"`
}
