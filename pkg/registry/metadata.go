// Package registry enforces the create/update/soft-delete discipline
// shared by every library entity: a row_version counter bumped by
// exactly one per mutation, tombstone semantics, active-key recycling,
// and a pre-image captured into the version ledger inside the same
// transaction as the mutation. All mutation goes through a Registry so
// no call site can bypass capture.
package registry

import (
	"time"

	"github.com/auditstack/evidence-registry/pkg/versions"
)

// VersionedMetadata is the per-entity version and audit bookkeeping
// embedded in every registry-managed record. A nil UpdatedAt means the
// row was never updated; a non-nil DeletedAt is the tombstone.
type VersionedMetadata struct {
	RowVersion int        `gorm:"column:row_version;not null;default:1"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null"`
	CreatedBy  string     `gorm:"column:created_by;type:varchar(36);not null"`
	UpdatedAt  *time.Time `gorm:"column:updated_at"`
	UpdatedBy  *string    `gorm:"column:updated_by;type:varchar(36)"`
	DeletedAt  *time.Time `gorm:"column:deleted_at;index"`
	DeletedBy  *string    `gorm:"column:deleted_by;type:varchar(36)"`
}

// Active reports whether the row carries no tombstone.
func (m *VersionedMetadata) Active() bool { return m.DeletedAt == nil }

// lastChange is the valid_from of the version being retired: the last
// update if any, otherwise creation.
func (m *VersionedMetadata) lastChange() time.Time {
	if m.UpdatedAt != nil {
		return *m.UpdatedAt
	}
	return m.CreatedAt
}

// Entity is the capability interface the Registry operates through.
// Implementations are the GORM records themselves; the Registry never
// needs per-entity logic beyond what this surface exposes.
type Entity interface {
	GetID() string
	SetID(id string)
	GetTenantID() string
	SetTenantID(id string)
	// Meta returns the embedded version bookkeeping for mutation.
	Meta() *VersionedMetadata
	// EntityType is the ledger entity_type, also the table name.
	EntityType() string
	// NaturalKey is the tenant-scoped human key (code or name) whose
	// uniqueness holds among active rows only.
	NaturalKey() string
	// SetActiveKey writes the uniqueness guard column: the natural key
	// while the row is active, nil once tombstoned so the key frees up.
	SetActiveKey(key *string)
	// Snapshot renders the full row for the version ledger.
	Snapshot() versions.JSONAny
}

// Clock supplies the registry's notion of now; injectable for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the default wall clock.
var SystemClock Clock = systemClock{}
