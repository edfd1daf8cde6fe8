package models

import (
	"time"
)

// KVItem is the row layout backing the SQL item store.
// The two composite indexes mirror the store's secondary indexes.
type KVItem struct {
	PartitionKey string    `json:"pk" gorm:"primaryKey;type:text;index:idx_kv_workspace_type,priority:1"`
	SortKey      string    `json:"sk" gorm:"primaryKey;type:text"`
	ObjectType   string    `json:"type" gorm:"type:text;not null;index:idx_kv_workspace_type,priority:2;index:idx_kv_type_status,priority:1"`
	Status       string    `json:"status" gorm:"type:text;index:idx_kv_type_status,priority:2"`
	Attributes   string    `json:"attributes" gorm:"type:text;not null"`
	CDate        time.Time `json:"cdate" gorm:"->;<-:create;autoCreateTime"`
	MDate        time.Time `json:"mdate" gorm:"autoUpdateTime"`
}

func (KVItem) TableName() string {
	return "kv_items"
}
