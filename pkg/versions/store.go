package versions

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/auditstack/evidence-registry/pkg/errdefs"
)

// Store provides append-only operations over the entity version ledger.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new version Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the entity_versions table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&EntityVersionRecord{}); err != nil {
		return fmt.Errorf("auto-migrate entity_versions: %w", err)
	}
	return nil
}

// Capture appends one immutable pre-mutation snapshot inside the
// caller's transaction. The record must carry the OLD row_version being
// retired; for soft deletes the caller classifies the operation as
// DELETE and supplies deleted_by as ChangedBy.
func (s *Store) Capture(tx *gorm.DB, record *EntityVersionRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Snapshot == nil {
		record.Snapshot = JSONAny{}
	}
	if err := tx.Create(record).Error; err != nil {
		return errdefs.Storage("capture entity version", err)
	}
	return nil
}

// ListVersions returns all ledger entries for one entity, ordered by
// version_num descending.
func (s *Store) ListVersions(tenantID, entityType, entityID string) ([]EntityVersionRecord, error) {
	var records []EntityVersionRecord
	err := s.db.
		Where("tenant_id = ? AND entity_type = ? AND entity_id = ?", tenantID, entityType, entityID).
		Order("version_num DESC").
		Find(&records).Error
	if err != nil {
		return nil, errdefs.Storage("list entity versions", err)
	}
	return records, nil
}

// GetAsOf returns the ledger entry whose [valid_from, valid_to)
// interval contains the given instant, or errdefs.ErrNotFound when the
// instant falls in the live row's open interval (the caller then reads
// the live row) or before the entity existed.
func (s *Store) GetAsOf(tenantID, entityType, entityID string, at time.Time) (*EntityVersionRecord, error) {
	var record EntityVersionRecord
	err := s.db.
		Where("tenant_id = ? AND entity_type = ? AND entity_id = ?", tenantID, entityType, entityID).
		Where("valid_from <= ? AND valid_to > ?", at, at).
		Order("version_num DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errdefs.ErrNotFound
		}
		return nil, errdefs.Storage("get entity version as of", err)
	}
	return &record, nil
}
