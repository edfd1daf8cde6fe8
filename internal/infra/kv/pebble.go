package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

const sep = "\x00"

// Key spaces. Index entries carry a full copy of the item.
const (
	spaceData          = "d"
	spaceWorkspaceType = "w"
	spaceTypeStatus    = "s"
)

// PebbleStore keeps items and their index projections in one pebble database.
// Conditional writes are serialised by mu and committed as a single batch.
type PebbleStore struct {
	db *pebble.DB
	mu sync.Mutex
}

func NewPebbleStore(db *pebble.DB) *PebbleStore {
	return &PebbleStore{db: db}
}

var _ Store = (*PebbleStore)(nil)

func dataKey(pk, sk string) []byte {
	return []byte(spaceData + sep + pk + sep + sk)
}

func workspaceTypeKey(item Item) []byte {
	return []byte(spaceWorkspaceType + sep + item.PartitionKey + sep + item.ObjectType + sep + item.SortKey)
}

func typeStatusKey(item Item) []byte {
	return []byte(spaceTypeStatus + sep + item.ObjectType + sep + item.Status + sep + item.PartitionKey + sep + item.SortKey)
}

func indexKeys(item Item) [][]byte {
	keys := [][]byte{workspaceTypeKey(item)}
	if item.Status != "" {
		keys = append(keys, typeStatusKey(item))
	}
	return keys
}

// prefixUpperBound returns the smallest key greater than every key with the given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *PebbleStore) load(pk, sk string) (Item, error) {
	value, closer, err := s.db.Get(dataKey(pk, sk))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Item{}, ErrNotFound
		}
		return Item{}, errors.Wrap(err, "pebble get")
	}
	defer closer.Close()

	var item Item
	if err := json.Unmarshal(value, &item); err != nil {
		return Item{}, errors.Wrap(err, "decode item")
	}
	return item, nil
}

// write replaces old (may be nil) with item in one atomic batch.
func (s *PebbleStore) write(old *Item, item *Item) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	if old != nil {
		for _, k := range indexKeys(*old) {
			if err := batch.Delete(k, nil); err != nil {
				return err
			}
		}
		if item == nil {
			if err := batch.Delete(dataKey(old.PartitionKey, old.SortKey), nil); err != nil {
				return err
			}
		}
	}

	if item != nil {
		value, err := json.Marshal(item)
		if err != nil {
			return errors.Wrap(err, "encode item")
		}
		if err := batch.Set(dataKey(item.PartitionKey, item.SortKey), value, nil); err != nil {
			return err
		}
		for _, k := range indexKeys(*item) {
			if err := batch.Set(k, value, nil); err != nil {
				return err
			}
		}
	}

	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) Get(ctx context.Context, pk, sk string) (Item, error) {
	return s.load(pk, sk)
}

func (s *PebbleStore) Put(ctx context.Context, item Item, opts PutOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load(item.PartitionKey, item.SortKey)
	switch {
	case err == nil:
		if opts.IfAbsent {
			return ErrConditionFailed
		}
		return s.write(&existing, &item)
	case errors.Is(err, ErrNotFound):
		return s.write(nil, &item)
	default:
		return err
	}
}

func (s *PebbleStore) Update(ctx context.Context, pk, sk string, m Mutation, cond Condition) (Item, error) {
	if m.empty() {
		return Item{}, errEmptyMutation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load(pk, sk)
	if err != nil {
		return Item{}, err
	}
	if !cond.holds(existing) {
		return Item{}, ErrConditionFailed
	}

	updated := m.apply(existing)
	if err := s.write(&existing, &updated); err != nil {
		return Item{}, err
	}
	return updated, nil
}

func (s *PebbleStore) Delete(ctx context.Context, pk, sk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load(pk, sk)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return s.write(&existing, nil)
}

func (s *PebbleStore) scan(ctx context.Context, prefix, lower []byte, limit int) ([]Item, error) {
	if lower == nil {
		lower = prefix
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, errors.Wrap(err, "pebble iter")
	}
	defer iter.Close()

	items := []Item{}
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var item Item
		if err := json.Unmarshal(iter.Value(), &item); err != nil {
			return nil, errors.Wrapf(err, "decode item at %q", iter.Key())
		}
		items = append(items, item)
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, iter.Error()
}

func (s *PebbleStore) QueryPrefix(ctx context.Context, pk, prefix string, limit int) ([]Item, error) {
	return s.scan(ctx, []byte(spaceData+sep+pk+sep+prefix), nil, limit)
}

func (s *PebbleStore) QueryIndex(ctx context.Context, q IndexQuery, limit int) ([]Item, error) {
	if err := validateIndexQuery(q); err != nil {
		return nil, err
	}
	var prefix, after string
	switch q.Index {
	case IndexByWorkspaceType:
		prefix = spaceWorkspaceType + sep + q.PartitionKey + sep + q.ObjectType + sep
		if q.After != nil {
			after = prefix + q.After.SortKey
		}
	case IndexByTypeStatus:
		prefix = spaceTypeStatus + sep + q.ObjectType + sep + q.Status + sep
		if q.After != nil {
			after = prefix + q.After.PartitionKey + sep + q.After.SortKey
		}
	}
	var lower []byte
	if after != "" {
		// smallest key greater than the cursor
		lower = append([]byte(after), 0)
	}
	return s.scan(ctx, []byte(prefix), lower, limit)
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
