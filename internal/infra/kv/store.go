// Package kv provides a partitioned, sorted-key item store with conditional writes.
package kv

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("kv: item not found")
	ErrConditionFailed = errors.New("kv: condition failed")
)

// Item is a single record addressed by partition key and sort key.
// ObjectType and Status feed the secondary indexes.
type Item struct {
	PartitionKey string            `json:"pk"`
	SortKey      string            `json:"sk"`
	ObjectType   string            `json:"type"`
	Status       string            `json:"status,omitempty"`
	Attributes   map[string]string `json:"attrs,omitempty"`
}

type PutOptions struct {
	// IfAbsent makes the put fail with ErrConditionFailed when the key already exists.
	IfAbsent bool
}

// Mutation describes an update. Empty Status leaves the status untouched;
// Attributes are merged into the existing ones.
type Mutation struct {
	Status     string
	Attributes map[string]string
}

func (m Mutation) empty() bool {
	return m.Status == "" && len(m.Attributes) == 0
}

// Condition guards an update. The item must always exist.
type Condition struct {
	StatusEquals string
}

func (c Condition) holds(item Item) bool {
	return c.StatusEquals == "" || item.Status == c.StatusEquals
}

type Index string

const (
	// IndexByWorkspaceType is keyed by (PartitionKey, ObjectType).
	IndexByWorkspaceType Index = "ByWorkspaceType"
	// IndexByTypeStatus is keyed by (ObjectType, Status) across partitions.
	IndexByTypeStatus Index = "ByTypeStatus"
)

type IndexQuery struct {
	Index        Index
	PartitionKey string
	ObjectType   string
	Status       string
	// After resumes the scan strictly after the item with this key.
	After *Cursor
}

// Cursor is the key of the last item a previous index scan returned.
type Cursor struct {
	PartitionKey string
	SortKey      string
}

// Store is implemented by every backend. A limit <= 0 means no limit.
type Store interface {
	Get(ctx context.Context, pk, sk string) (Item, error)
	Put(ctx context.Context, item Item, opts PutOptions) error
	Update(ctx context.Context, pk, sk string, m Mutation, cond Condition) (Item, error)
	Delete(ctx context.Context, pk, sk string) error
	QueryPrefix(ctx context.Context, pk, prefix string, limit int) ([]Item, error)
	QueryIndex(ctx context.Context, q IndexQuery, limit int) ([]Item, error)
	Close() error
}

var errEmptyMutation = errors.New("kv: empty mutation")

func validateIndexQuery(q IndexQuery) error {
	switch q.Index {
	case IndexByWorkspaceType:
		if q.PartitionKey == "" || q.ObjectType == "" {
			return errors.New("kv: ByWorkspaceType requires partition key and object type")
		}
	case IndexByTypeStatus:
		if q.ObjectType == "" || q.Status == "" {
			return errors.New("kv: ByTypeStatus requires object type and status")
		}
	default:
		return errors.New("kv: unknown index " + string(q.Index))
	}
	return nil
}

func (m Mutation) apply(item Item) Item {
	if m.Status != "" {
		item.Status = m.Status
	}
	if len(m.Attributes) > 0 {
		merged := make(map[string]string, len(item.Attributes)+len(m.Attributes))
		for k, v := range item.Attributes {
			merged[k] = v
		}
		for k, v := range m.Attributes {
			merged[k] = v
		}
		item.Attributes = merged
	}
	return item
}
