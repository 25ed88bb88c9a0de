// Package versions is the append-only audit ledger of pre-mutation
// entity snapshots. Rows are written transactionally alongside the
// mutation that retires them and are never updated or deleted.
package versions

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Operation classifies what retired a version.
type Operation string

const (
	// OpUpdate marks a regular field update.
	OpUpdate Operation = "UPDATE"
	// OpDelete marks a physical removal or a soft delete
	// (deleted_at transitioning null -> non-null).
	OpDelete Operation = "DELETE"
)

// ClassifyOperation derives the ledger operation for a mutation given
// the tombstone columns before and after. A soft delete is recorded as
// DELETE even though it is physically an UPDATE.
func ClassifyOperation(oldDeletedAt, newDeletedAt *time.Time) Operation {
	if oldDeletedAt == nil && newDeletedAt != nil {
		return OpDelete
	}
	return OpUpdate
}

// JSONAny is a custom GORM type for map[string]any stored as JSON.
type JSONAny map[string]any

// Scan implements the sql.Scanner interface for JSONAny.
func (m *JSONAny) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONAny: %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// Value implements the driver.Valuer interface for JSONAny.
func (m JSONAny) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// EntityVersionRecord stores one immutable pre-mutation snapshot.
// For one entity the half-open [valid_from, valid_to) intervals of its
// records, plus the live row's open interval, tile time with no gaps.
type EntityVersionRecord struct {
	ID         string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID   string    `gorm:"column:tenant_id;type:varchar(36);index:idx_versions_entity,priority:1;not null"`
	EntityType string    `gorm:"column:entity_type;index:idx_versions_entity,priority:2;not null"`
	EntityID   string    `gorm:"column:entity_id;type:varchar(36);index:idx_versions_entity,priority:3;not null"`
	Operation  Operation `gorm:"column:operation;not null"`
	VersionNum int       `gorm:"column:version_num;not null"`
	ValidFrom  time.Time `gorm:"column:valid_from;not null"`
	ValidTo    time.Time `gorm:"column:valid_to;not null"`
	ChangedAt  time.Time `gorm:"column:changed_at;autoCreateTime"`
	ChangedBy  *string   `gorm:"column:changed_by;type:varchar(36)"`
	Snapshot   JSONAny   `gorm:"column:snapshot;type:text;not null"`
}

// TableName returns the GORM table name.
func (EntityVersionRecord) TableName() string { return "entity_versions" }
