package scope

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/auditstack/evidence-registry/pkg/errdefs"
	"github.com/auditstack/evidence-registry/pkg/registry"
	"github.com/auditstack/evidence-registry/pkg/tenancy"
)

// Config carries the collaborators a Binder operates with. ValidateScope
// and EntityVersion are the per-binding hooks: the former checks the
// scope row is active in the caller's tenant, the latter reads the
// bound entity's current row_version for pinning.
type Config[B Binding] struct {
	DB         *gorm.DB
	Clock      registry.Clock
	Actors     tenancy.ActorResolver
	NewBinding func() B

	// ScopeColumn and EntityColumn name the binding table's pair columns.
	ScopeColumn  string
	EntityColumn string

	ValidateScope func(tx *gorm.DB, tc tenancy.Context, scopeID string) error
	EntityVersion func(tx *gorm.DB, tc tenancy.Context, entityID string) (int, error)
}

// Binder manages one binding type: idempotent bind with a version pin,
// metadata updates that never touch the pin, and idempotent unbind.
type Binder[B Binding] struct {
	db            *gorm.DB
	clock         registry.Clock
	actors        tenancy.ActorResolver
	newBinding    func() B
	scopeColumn   string
	entityColumn  string
	validateScope func(tx *gorm.DB, tc tenancy.Context, scopeID string) error
	entityVersion func(tx *gorm.DB, tc tenancy.Context, entityID string) (int, error)
}

// New creates a Binder from the given config. Clock and Actors default
// to the system clock and the membership resolver.
func New[B Binding](cfg Config[B]) *Binder[B] {
	if cfg.Clock == nil {
		cfg.Clock = registry.SystemClock
	}
	if cfg.Actors == nil {
		cfg.Actors = tenancy.MembershipActorResolver{}
	}
	return &Binder[B]{
		db:            cfg.DB,
		clock:         cfg.Clock,
		actors:        cfg.Actors,
		newBinding:    cfg.NewBinding,
		scopeColumn:   cfg.ScopeColumn,
		entityColumn:  cfg.EntityColumn,
		validateScope: cfg.ValidateScope,
		entityVersion: cfg.EntityVersion,
	}
}

// Bind creates an active binding of entity under scope, pinning the
// entity's current row_version. Binding an already-bound pair returns
// the existing row unchanged, pin included. prepare, when non-nil, sets
// caller metadata on the new row before insert. A concurrent duplicate
// insert loses to the unique guard and resolves to the winner's row.
func (b *Binder[B]) Bind(tc tenancy.Context, scopeID, entityID string, prepare func(B)) (B, error) {
	var zero B
	if err := tenancy.Validate(tc); err != nil {
		return zero, errdefs.Validationf("tenant", "%v", err)
	}
	actor, err := b.actors.ResolveActor(tc)
	if err != nil {
		return zero, errdefs.Validationf("actor", "%v", err)
	}

	binding := b.newBinding()
	err = b.db.Transaction(func(tx *gorm.DB) error {
		if err := b.validateScope(tx, tc, scopeID); err != nil {
			return err
		}

		existing := b.newBinding()
		err := tx.
			Where("tenant_id = ? AND "+b.scopeColumn+" = ? AND "+b.entityColumn+" = ? AND removed_at IS NULL",
				tc.TenantID, scopeID, entityID).
			First(existing).Error
		if err == nil {
			binding = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return errdefs.Storage("load "+binding.BindingType(), err)
		}

		pin, err := b.entityVersion(tx, tc, entityID)
		if err != nil {
			return err
		}

		binding.SetID(uuid.New().String())
		binding.SetTenantID(tc.TenantID)
		binding.SetScopeID(scopeID)
		binding.SetEntityID(entityID)
		binding.SetPin(pin)
		binding.SetAdded(b.clock.Now(), actor)
		marker := activeMarker
		binding.SetActiveGuard(&marker)
		if prepare != nil {
			prepare(binding)
		}

		if err := tx.Create(binding).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errdefs.ErrConflictRetryable
			}
			return errdefs.Storage("create "+binding.BindingType(), err)
		}
		return nil
	})
	if errors.Is(err, errdefs.ErrConflictRetryable) {
		// Lost the insert race; the winner's row is the answer.
		winner := b.newBinding()
		readErr := b.db.
			Where("tenant_id = ? AND "+b.scopeColumn+" = ? AND "+b.entityColumn+" = ? AND removed_at IS NULL",
				tc.TenantID, scopeID, entityID).
			First(winner).Error
		if readErr != nil {
			return zero, err
		}
		return winner, nil
	}
	if err != nil {
		return zero, err
	}
	return binding, nil
}

// UpdateMetadata applies mutate to an active binding's caller-editable
// fields. The pin and the bound pair are restored afterwards so no
// mutate function can rewrite them.
func (b *Binder[B]) UpdateMetadata(tc tenancy.Context, bindingID string, mutate func(B) error) (B, error) {
	var zero B
	if err := tenancy.Validate(tc); err != nil {
		return zero, errdefs.Validationf("tenant", "%v", err)
	}

	binding := b.newBinding()
	err := b.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("id = ? AND tenant_id = ? AND removed_at IS NULL", bindingID, tc.TenantID).
			First(binding).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errdefs.ErrNotFound
			}
			return errdefs.Storage("load "+binding.BindingType(), err)
		}

		pin := binding.Pin()
		scopeID := binding.ScopeID()
		entityID := binding.EntityID()
		if err := mutate(binding); err != nil {
			return err
		}
		binding.SetPin(pin)
		binding.SetScopeID(scopeID)
		binding.SetEntityID(entityID)

		if err := tx.Save(binding).Error; err != nil {
			return errdefs.Storage("save "+binding.BindingType(), err)
		}
		return nil
	})
	if err != nil {
		return zero, err
	}
	return binding, nil
}

// Unbind removes an active binding, clearing its uniqueness guard so
// the pair can be rebound with a fresh pin. Unbinding an already
// removed binding is a no-op.
func (b *Binder[B]) Unbind(tc tenancy.Context, bindingID string) error {
	if err := tenancy.Validate(tc); err != nil {
		return errdefs.Validationf("tenant", "%v", err)
	}
	actor, err := b.actors.ResolveActor(tc)
	if err != nil {
		return errdefs.Validationf("actor", "%v", err)
	}

	return b.db.Transaction(func(tx *gorm.DB) error {
		binding := b.newBinding()
		if err := tx.
			Where("id = ? AND tenant_id = ?", bindingID, tc.TenantID).
			First(binding).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errdefs.ErrNotFound
			}
			return errdefs.Storage("load "+binding.BindingType(), err)
		}
		if binding.RemovedAt() != nil {
			return nil
		}

		binding.SetRemoved(b.clock.Now(), actor)
		binding.SetActiveGuard(nil)
		if err := tx.Save(binding).Error; err != nil {
			return errdefs.Storage("save "+binding.BindingType(), err)
		}
		return nil
	})
}

// Get returns one binding scoped to the caller's tenant, removed rows
// included.
func (b *Binder[B]) Get(tc tenancy.Context, bindingID string) (B, error) {
	var zero B
	binding := b.newBinding()
	query := b.db.Where("id = ?", bindingID)
	if !tc.PlatformAdmin {
		query = query.Where("tenant_id = ?", tc.TenantID)
	}
	if err := query.First(binding).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return zero, errdefs.ErrNotFound
		}
		return zero, errdefs.Storage("get "+binding.BindingType(), err)
	}
	return binding, nil
}

// ListActive returns the scope's active bindings, oldest first.
func (b *Binder[B]) ListActive(tc tenancy.Context, scopeID string) ([]B, error) {
	var items []B
	err := b.db.Model(b.newBinding()).
		Where("tenant_id = ? AND "+b.scopeColumn+" = ? AND removed_at IS NULL", tc.TenantID, scopeID).
		Order("added_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, errdefs.Storage("list "+b.newBinding().BindingType(), err)
	}
	return items, nil
}

// AutoMigrate creates or updates both binding tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&ProjectControl{}, &ControlApplication{}); err != nil {
		return fmt.Errorf("auto-migrate bindings: %w", err)
	}
	return nil
}
