package kv

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/totegamma/feedingest/internal/infra/database/models"
)

// SQLStore stores items in a single kv_items table through gorm.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

var _ Store = (*SQLStore)(nil)

func toRow(item Item) (models.KVItem, error) {
	attrs := item.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return models.KVItem{}, err
	}
	return models.KVItem{
		PartitionKey: item.PartitionKey,
		SortKey:      item.SortKey,
		ObjectType:   item.ObjectType,
		Status:       item.Status,
		Attributes:   string(b),
	}, nil
}

func fromRow(row models.KVItem) (Item, error) {
	var attrs map[string]string
	if row.Attributes != "" {
		if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
			return Item{}, errors.Wrapf(err, "decode attributes of %s/%s", row.PartitionKey, row.SortKey)
		}
	}
	return Item{
		PartitionKey: row.PartitionKey,
		SortKey:      row.SortKey,
		ObjectType:   row.ObjectType,
		Status:       row.Status,
		Attributes:   attrs,
	}, nil
}

func fromRows(rows []models.KVItem) ([]Item, error) {
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		item, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *SQLStore) Get(ctx context.Context, pk, sk string) (Item, error) {
	var row models.KVItem
	err := s.db.WithContext(ctx).
		Where("partition_key = ? AND sort_key = ?", pk, sk).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	return fromRow(row)
}

func (s *SQLStore) Put(ctx context.Context, item Item, opts PutOptions) error {
	row, err := toRow(item)
	if err != nil {
		return err
	}

	if opts.IfAbsent {
		result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			DoNothing: true,
		}).Create(&row)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConditionFailed
		}
		return nil
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "partition_key"}, {Name: "sort_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"object_type", "status", "attributes", "m_date"}),
	}).Create(&row).Error
}

func (s *SQLStore) Update(ctx context.Context, pk, sk string, m Mutation, cond Condition) (Item, error) {
	if m.empty() {
		return Item{}, errEmptyMutation
	}

	var updated Item
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.KVItem
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("partition_key = ? AND sort_key = ?", pk, sk).
			Take(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		current, err := fromRow(row)
		if err != nil {
			return err
		}
		if !cond.holds(current) {
			return ErrConditionFailed
		}

		updated = m.apply(current)
		next, err := toRow(updated)
		if err != nil {
			return err
		}

		return tx.Model(&models.KVItem{}).
			Where("partition_key = ? AND sort_key = ?", pk, sk).
			Updates(map[string]any{
				"status":     next.Status,
				"attributes": next.Attributes,
			}).Error
	})
	if err != nil {
		return Item{}, err
	}
	return updated, nil
}

func (s *SQLStore) Delete(ctx context.Context, pk, sk string) error {
	return s.db.WithContext(ctx).
		Where("partition_key = ? AND sort_key = ?", pk, sk).
		Delete(&models.KVItem{}).Error
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *SQLStore) QueryPrefix(ctx context.Context, pk, prefix string, limit int) ([]Item, error) {
	query := s.db.WithContext(ctx).
		Where("partition_key = ? AND sort_key LIKE ? ESCAPE '\\'", pk, likeEscaper.Replace(prefix)+"%").
		Order("sort_key")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.KVItem
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return fromRows(rows)
}

func (s *SQLStore) QueryIndex(ctx context.Context, q IndexQuery, limit int) ([]Item, error) {
	if err := validateIndexQuery(q); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx)
	switch q.Index {
	case IndexByWorkspaceType:
		query = query.Where("partition_key = ? AND object_type = ?", q.PartitionKey, q.ObjectType)
	case IndexByTypeStatus:
		query = query.Where("object_type = ? AND status = ?", q.ObjectType, q.Status)
	}
	if q.After != nil {
		query = query.Where("(partition_key > ? OR (partition_key = ? AND sort_key > ?))",
			q.After.PartitionKey, q.After.PartitionKey, q.After.SortKey)
	}
	query = query.Order("partition_key").Order("sort_key")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.KVItem
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return fromRows(rows)
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
