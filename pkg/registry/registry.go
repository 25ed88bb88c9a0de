package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/auditstack/evidence-registry/pkg/errdefs"
	"github.com/auditstack/evidence-registry/pkg/tenancy"
	"github.com/auditstack/evidence-registry/pkg/versions"
)

// Config carries the collaborators a Registry operates with.
type Config[E Entity] struct {
	DB       *gorm.DB
	Versions *versions.Store
	Clock    Clock
	Actors   tenancy.ActorResolver
	// NewEntity returns a zero record; needed because E is a pointer type.
	NewEntity func() E
}

// Registry is the single mutation path for one versioned entity type.
type Registry[E Entity] struct {
	db        *gorm.DB
	versions  *versions.Store
	clock     Clock
	actors    tenancy.ActorResolver
	newEntity func() E
}

// New creates a Registry from the given config. Clock and Actors
// default to the system clock and the membership resolver.
func New[E Entity](cfg Config[E]) *Registry[E] {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Actors == nil {
		cfg.Actors = tenancy.MembershipActorResolver{}
	}
	return &Registry[E]{
		db:        cfg.DB,
		versions:  cfg.Versions,
		clock:     cfg.Clock,
		actors:    cfg.Actors,
		newEntity: cfg.NewEntity,
	}
}

// NewControlRegistry creates a Registry over controls.
func NewControlRegistry(db *gorm.DB, vs *versions.Store) *Registry[*Control] {
	return New(Config[*Control]{DB: db, Versions: vs, NewEntity: func() *Control { return &Control{} }})
}

// NewApplicationRegistry creates a Registry over applications.
func NewApplicationRegistry(db *gorm.DB, vs *versions.Store) *Registry[*Application] {
	return New(Config[*Application]{DB: db, Versions: vs, NewEntity: func() *Application { return &Application{} }})
}

// NewTestAttributeRegistry creates a Registry over test attributes.
func NewTestAttributeRegistry(db *gorm.DB, vs *versions.Store) *Registry[*TestAttribute] {
	return New(Config[*TestAttribute]{DB: db, Versions: vs, NewEntity: func() *TestAttribute { return &TestAttribute{} }})
}

// NewProjectRegistry creates a Registry over projects.
func NewProjectRegistry(db *gorm.DB, vs *versions.Store) *Registry[*Project] {
	return New(Config[*Project]{DB: db, Versions: vs, NewEntity: func() *Project { return &Project{} }})
}

// Create inserts a new entity with row_version 1 and no update audit.
// The natural key must not collide with an active row of the same
// tenant; tombstoned rows do not block reuse. The duplicate check runs
// inside the insert transaction and is backed by the unique guard
// column, so a concurrent writer cannot slip a duplicate through.
func (r *Registry[E]) Create(tc tenancy.Context, entity E) (E, error) {
	var zero E
	if err := tenancy.Validate(tc); err != nil {
		return zero, errdefs.Validationf("tenant", "%v", err)
	}
	actor, err := r.actors.ResolveActor(tc)
	if err != nil {
		return zero, errdefs.Validationf("actor", "%v", err)
	}

	if entity.GetID() == "" {
		entity.SetID(uuid.New().String())
	}
	entity.SetTenantID(tc.TenantID)
	key := entity.NaturalKey()
	entity.SetActiveKey(&key)

	meta := entity.Meta()
	meta.RowVersion = 1
	meta.CreatedAt = r.clock.Now()
	meta.CreatedBy = actor
	meta.UpdatedAt = nil
	meta.UpdatedBy = nil
	meta.DeletedAt = nil
	meta.DeletedBy = nil

	err = r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		probe := r.newEntity()
		if err := tx.Model(probe).
			Where("tenant_id = ? AND active_key = ?", tc.TenantID, key).
			Count(&count).Error; err != nil {
			return errdefs.Storage("check active key", err)
		}
		if count > 0 {
			return fmt.Errorf("%s %q: %w", entity.EntityType(), key, errdefs.ErrDuplicateActiveKey)
		}
		if err := tx.Create(entity).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%s %q: %w", entity.EntityType(), key, errdefs.ErrDuplicateActiveKey)
			}
			return errdefs.Storage("create "+entity.EntityType(), err)
		}
		return nil
	})
	if err != nil {
		return zero, err
	}
	return entity, nil
}

// Update loads the active row, applies mutate, bumps row_version by
// one and captures the pre-update image into the version ledger, all
// in one transaction. mutate must only touch entity fields, never the
// embedded metadata.
func (r *Registry[E]) Update(tc tenancy.Context, id string, mutate func(E) error) (E, error) {
	return r.mutate(tc, id, versions.OpUpdate, mutate)
}

// SoftDelete tombstones the active row. The ledger records a DELETE
// operation whose changed_by is the deleting actor, and the natural
// key is released for reuse.
func (r *Registry[E]) SoftDelete(tc tenancy.Context, id string) (E, error) {
	return r.mutate(tc, id, versions.OpDelete, nil)
}

func (r *Registry[E]) mutate(tc tenancy.Context, id string, op versions.Operation, apply func(E) error) (E, error) {
	var zero E
	if err := tenancy.Validate(tc); err != nil {
		return zero, errdefs.Validationf("tenant", "%v", err)
	}
	actor, err := r.actors.ResolveActor(tc)
	if err != nil {
		return zero, errdefs.Validationf("actor", "%v", err)
	}

	entity := r.newEntity()
	err = r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", id, tc.TenantID).
			First(entity).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errdefs.ErrNotFound
			}
			return errdefs.Storage("load "+entity.EntityType(), err)
		}

		// Pre-mutation image, captured before any field changes.
		preImage := entity.Snapshot()
		meta := entity.Meta()
		oldVersion := meta.RowVersion
		validFrom := meta.lastChange()

		if apply != nil {
			if err := apply(entity); err != nil {
				return err
			}
		}

		now := r.clock.Now()
		meta.UpdatedAt = &now
		meta.UpdatedBy = &actor
		meta.RowVersion = oldVersion + 1
		if op == versions.OpDelete {
			meta.DeletedAt = &now
			meta.DeletedBy = &actor
			entity.SetActiveKey(nil)
		} else {
			key := entity.NaturalKey()
			entity.SetActiveKey(&key)
		}

		record := &versions.EntityVersionRecord{
			TenantID:   tc.TenantID,
			EntityType: entity.EntityType(),
			EntityID:   id,
			Operation:  op,
			VersionNum: oldVersion,
			ValidFrom:  validFrom,
			ValidTo:    now,
			ChangedBy:  &actor,
			Snapshot:   preImage,
		}
		if err := r.versions.Capture(tx, record); err != nil {
			return err
		}

		if err := tx.Save(entity).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%s %q: %w", entity.EntityType(), entity.NaturalKey(), errdefs.ErrDuplicateActiveKey)
			}
			return errdefs.Storage("save "+entity.EntityType(), err)
		}
		return nil
	})
	if err != nil {
		return zero, err
	}
	return entity, nil
}

// Get returns one entity scoped to the caller's tenant. Soft-deleted
// rows only surface when includeDeleted is set; a wrong-tenant id
// reads as not found.
func (r *Registry[E]) Get(tc tenancy.Context, id string, includeDeleted bool) (E, error) {
	var zero E
	entity := r.newEntity()
	query := r.db.Where("id = ?", id)
	if !tc.PlatformAdmin {
		query = query.Where("tenant_id = ?", tc.TenantID)
	}
	if !includeDeleted {
		query = query.Where("deleted_at IS NULL")
	}
	if err := query.First(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return zero, errdefs.ErrNotFound
		}
		return zero, errdefs.Storage("get "+entity.EntityType(), err)
	}
	return entity, nil
}

// List returns the tenant's entities, excluding tombstones unless
// includeDeleted is set.
func (r *Registry[E]) List(tc tenancy.Context, includeDeleted bool) ([]E, error) {
	var items []E
	query := r.db.Model(r.newEntity()).Order("created_at ASC")
	if !tc.PlatformAdmin {
		query = query.Where("tenant_id = ?", tc.TenantID)
	}
	if !includeDeleted {
		query = query.Where("deleted_at IS NULL")
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, errdefs.Storage("list", err)
	}
	return items, nil
}

// ListVersions returns the entity's ledger history, newest first.
func (r *Registry[E]) ListVersions(tc tenancy.Context, id string) ([]versions.EntityVersionRecord, error) {
	entity, err := r.Get(tc, id, true)
	if err != nil {
		return nil, err
	}
	return r.versions.ListVersions(tc.TenantID, entity.EntityType(), id)
}

// GetAsOf returns the entity state as it existed at the given instant:
// the ledger snapshot whose interval contains it, or the live row when
// the instant falls after the last retiring capture. Instants before
// the entity's creation read as not found.
func (r *Registry[E]) GetAsOf(tc tenancy.Context, id string, at time.Time) (versions.JSONAny, error) {
	entity, err := r.Get(tc, id, true)
	if err != nil {
		return nil, err
	}
	if entity.Meta().CreatedAt.After(at) {
		return nil, errdefs.ErrNotFound
	}

	record, err := r.versions.GetAsOf(tc.TenantID, entity.EntityType(), id, at)
	if err == nil {
		return record.Snapshot, nil
	}
	if !errors.Is(err, errdefs.ErrNotFound) {
		return nil, err
	}
	// No retiring snapshot covers the instant: the live row was current.
	return entity.Snapshot(), nil
}
