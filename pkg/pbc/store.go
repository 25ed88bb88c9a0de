package pbc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/auditstack/evidence-registry/pkg/errdefs"
	"github.com/auditstack/evidence-registry/pkg/registry"
	"github.com/auditstack/evidence-registry/pkg/tenancy"
)

// Config carries the collaborators a Store operates with.
type Config struct {
	DB     *gorm.DB
	Clock  registry.Clock
	Actors tenancy.ActorResolver
	Logger *slog.Logger
}

// Store runs generation and manages requests and items afterwards.
type Store struct {
	db     *gorm.DB
	clock  registry.Clock
	actors tenancy.ActorResolver
	log    *slog.Logger
}

// NewStore creates a Store from the given config. Clock, Actors and
// Logger default to the system clock, the membership resolver and
// slog.Default.
func NewStore(cfg Config) *Store {
	if cfg.Clock == nil {
		cfg.Clock = registry.SystemClock
	}
	if cfg.Actors == nil {
		cfg.Actors = tenancy.MembershipActorResolver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{db: cfg.DB, clock: cfg.Clock, actors: cfg.Actors, log: cfg.Logger}
}

// AutoMigrate creates or updates the request and item tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Request{}, &Item{}); err != nil {
		return fmt.Errorf("auto-migrate pbc tables: %w", err)
	}
	return nil
}

// Generate materializes one request from the project's active scope.
// The whole run, draft cleanup included, is a single transaction: a
// context deadline or any failure rolls everything back, so no state
// ever shows drafts cleared without the replacement present. An empty
// cross-product yields a request with zero items.
func (s *Store) Generate(ctx context.Context, tc tenancy.Context, params GenerateParams) (*GenerateResult, error) {
	if err := tenancy.Validate(tc); err != nil {
		return nil, errdefs.Validationf("tenant", "%v", err)
	}
	actor, err := s.actors.ResolveActor(tc)
	if err != nil {
		return nil, errdefs.Validationf("actor", "%v", err)
	}
	if params.Mode == "" {
		params.Mode = ModeNew
	}
	if params.Mode != ModeNew && params.Mode != ModeReplaceDrafts {
		return nil, errdefs.Validationf("mode", "unknown generation mode %q", params.Mode)
	}

	started := s.clock.Now()
	var result GenerateResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project := &registry.Project{}
		err := tx.
			Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", params.ProjectID, tc.TenantID).
			First(project).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("project %s: %w", params.ProjectID, errdefs.ErrNotFound)
			}
			return errdefs.Storage("load project", err)
		}

		if params.Mode == ModeReplaceDrafts {
			if err := s.tombstoneDrafts(tx, tc, params.ProjectID, actor); err != nil {
				return err
			}
		}

		lines, err := resolveLineItems(tx, tc, params.ProjectID, params.ControlID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		request := &Request{
			ID:           uuid.New().String(),
			TenantID:     tc.TenantID,
			ProjectID:    params.ProjectID,
			Title:        requestTitle(params, project),
			DueDate:      params.DueDate,
			Instructions: params.Instructions,
			Status:       RequestStatusDraft,
		}
		request.RowVersion = 1
		request.CreatedAt = now
		request.CreatedBy = actor
		if err := tx.Create(request).Error; err != nil {
			return errdefs.Storage("create pbc request", err)
		}

		items := make([]*Item, 0, len(lines))
		for _, line := range lines {
			items = append(items, newItemFromLine(tc.TenantID, params.ProjectID, request.ID, actor, now, line))
		}
		if len(items) > 0 {
			if err := tx.CreateInBatches(items, 200).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return errdefs.ErrConflictRetryable
				}
				return errdefs.Storage("create pbc items", err)
			}
		}

		result = GenerateResult{RequestID: request.ID, ItemsCreated: len(items)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("pbc generation complete",
		"tenant_id", tc.TenantID,
		"project_id", params.ProjectID,
		"mode", params.Mode,
		"request_id", result.RequestID,
		"items_created", result.ItemsCreated,
		"elapsed", s.clock.Now().Sub(started))
	return &result, nil
}

func newItemFromLine(tenantID, projectID, requestID, actor string, now time.Time, line LineItem) *Item {
	marker := "1"
	pcID := line.ProjectControlID
	ctlID := line.ControlID
	appID := line.ApplicationID
	taID := line.TestAttributeID
	pinnedControl := line.PinnedControlVersionNum
	pinnedAttr := line.PinnedTestAttributeVersionNum
	item := &Item{
		ID:               uuid.New().String(),
		TenantID:         tenantID,
		ProjectID:        projectID,
		RequestID:        requestID,
		ProjectControlID: &pcID,
		ControlID:        &ctlID,
		ApplicationID:    &appID,
		TestAttributeID:  &taID,
		ActiveGuard:      &marker,

		PinnedControlVersionNum:       &pinnedControl,
		PinnedTestAttributeVersionNum: &pinnedAttr,
		EffectiveProcedureSnapshot:    line.EffectiveProcedure,
		EffectiveEvidenceSnapshot:     line.EffectiveEvidence,
		SourceSnapshot:                line.Source,
		OverrideIDSnapshot:            line.OverrideID,

		Status: ItemStatusNotStarted,
	}
	item.RowVersion = 1
	item.CreatedAt = now
	item.CreatedBy = actor
	return item
}

// tombstoneDrafts soft-deletes every draft request of the project and
// all their active items, bumping each row_version by one.
func (s *Store) tombstoneDrafts(tx *gorm.DB, tc tenancy.Context, projectID, actor string) error {
	var drafts []*Request
	err := tx.
		Where("tenant_id = ? AND project_id = ? AND status = ? AND deleted_at IS NULL",
			tc.TenantID, projectID, RequestStatusDraft).
		Find(&drafts).Error
	if err != nil {
		return errdefs.Storage("list draft requests", err)
	}
	if len(drafts) == 0 {
		return nil
	}

	now := s.clock.Now()
	draftIDs := make([]string, 0, len(drafts))
	for _, draft := range drafts {
		draftIDs = append(draftIDs, draft.ID)
		draft.DeletedAt = &now
		draft.DeletedBy = &actor
		draft.UpdatedAt = &now
		draft.UpdatedBy = &actor
		draft.RowVersion++
		if err := tx.Save(draft).Error; err != nil {
			return errdefs.Storage("tombstone draft request", err)
		}
	}

	err = tx.Model(&Item{}).
		Where("tenant_id = ? AND pbc_request_id IN ? AND deleted_at IS NULL", tc.TenantID, draftIDs).
		Updates(map[string]any{
			"deleted_at":   now,
			"deleted_by":   actor,
			"updated_at":   now,
			"updated_by":   actor,
			"active_guard": nil,
			"row_version":  gorm.Expr("row_version + 1"),
		}).Error
	if err != nil {
		return errdefs.Storage("tombstone draft items", err)
	}
	return nil
}

func requestTitle(params GenerateParams, project *registry.Project) string {
	if params.Title != nil && *params.Title != "" {
		return *params.Title
	}
	return "PBC Request - " + project.Name
}

// GetRequest returns one request scoped to the caller's tenant.
func (s *Store) GetRequest(tc tenancy.Context, requestID string) (*Request, error) {
	request := &Request{}
	err := s.db.
		Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", requestID, tc.TenantID).
		First(request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errdefs.ErrNotFound
		}
		return nil, errdefs.Storage("get pbc request", err)
	}
	return request, nil
}

// ListRequests returns the project's live requests, newest first.
func (s *Store) ListRequests(tc tenancy.Context, projectID string) ([]*Request, error) {
	var requests []*Request
	err := s.db.
		Where("tenant_id = ? AND project_id = ? AND deleted_at IS NULL", tc.TenantID, projectID).
		Order("created_at DESC").
		Find(&requests).Error
	if err != nil {
		return nil, errdefs.Storage("list pbc requests", err)
	}
	return requests, nil
}

// ListItems returns a request's live items, oldest first.
func (s *Store) ListItems(tc tenancy.Context, requestID string) ([]*Item, error) {
	var items []*Item
	err := s.db.
		Where("tenant_id = ? AND pbc_request_id = ? AND deleted_at IS NULL", tc.TenantID, requestID).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, errdefs.Storage("list pbc items", err)
	}
	return items, nil
}

// UpdateRequest patches request metadata, bumping row_version by one.
func (s *Store) UpdateRequest(tc tenancy.Context, requestID string, patch RequestPatch) (*Request, error) {
	if err := tenancy.Validate(tc); err != nil {
		return nil, errdefs.Validationf("tenant", "%v", err)
	}
	actor, err := s.actors.ResolveActor(tc)
	if err != nil {
		return nil, errdefs.Validationf("actor", "%v", err)
	}
	if patch.Status != nil && !validRequestStatus(*patch.Status) {
		return nil, errdefs.Validationf("status", "unknown request status %q", *patch.Status)
	}

	request := &Request{}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", requestID, tc.TenantID).
			First(request).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errdefs.ErrNotFound
			}
			return errdefs.Storage("load pbc request", err)
		}

		if patch.Title != nil {
			request.Title = *patch.Title
		}
		if patch.DueDate != nil {
			request.DueDate = patch.DueDate
		}
		if patch.Status != nil {
			request.Status = *patch.Status
		}
		if patch.Instructions != nil {
			request.Instructions = patch.Instructions
		}
		now := s.clock.Now()
		request.UpdatedAt = &now
		request.UpdatedBy = &actor
		request.RowVersion++

		if err := tx.Save(request).Error; err != nil {
			return errdefs.Storage("save pbc request", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// DeleteRequest tombstones a request and all its active items.
func (s *Store) DeleteRequest(tc tenancy.Context, requestID string) error {
	if err := tenancy.Validate(tc); err != nil {
		return errdefs.Validationf("tenant", "%v", err)
	}
	actor, err := s.actors.ResolveActor(tc)
	if err != nil {
		return errdefs.Validationf("actor", "%v", err)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		request := &Request{}
		if err := tx.
			Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", requestID, tc.TenantID).
			First(request).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errdefs.ErrNotFound
			}
			return errdefs.Storage("load pbc request", err)
		}

		now := s.clock.Now()
		request.DeletedAt = &now
		request.DeletedBy = &actor
		request.UpdatedAt = &now
		request.UpdatedBy = &actor
		request.RowVersion++
		if err := tx.Save(request).Error; err != nil {
			return errdefs.Storage("tombstone pbc request", err)
		}

		err := tx.Model(&Item{}).
			Where("tenant_id = ? AND pbc_request_id = ? AND deleted_at IS NULL", tc.TenantID, requestID).
			Updates(map[string]any{
				"deleted_at":   now,
				"deleted_by":   actor,
				"updated_at":   now,
				"updated_by":   actor,
				"active_guard": nil,
				"row_version":  gorm.Expr("row_version + 1"),
			}).Error
		if err != nil {
			return errdefs.Storage("tombstone pbc items", err)
		}
		return nil
	})
}

// UpdateItem patches an item's workflow fields, bumping row_version by
// one. Pinned versions and snapshots have no update path.
func (s *Store) UpdateItem(tc tenancy.Context, itemID string, patch ItemPatch) (*Item, error) {
	if err := tenancy.Validate(tc); err != nil {
		return nil, errdefs.Validationf("tenant", "%v", err)
	}
	actor, err := s.actors.ResolveActor(tc)
	if err != nil {
		return nil, errdefs.Validationf("actor", "%v", err)
	}
	if patch.Status != nil && !validItemStatus(*patch.Status) {
		return nil, errdefs.Validationf("status", "unknown item status %q", *patch.Status)
	}

	item := &Item{}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", itemID, tc.TenantID).
			First(item).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errdefs.ErrNotFound
			}
			return errdefs.Storage("load pbc item", err)
		}

		if patch.Status != nil {
			item.Status = *patch.Status
		}
		if patch.AssigneeMembershipID != nil {
			item.AssigneeMembershipID = patch.AssigneeMembershipID
		}
		if patch.InstructionsExtra != nil {
			item.InstructionsExtra = patch.InstructionsExtra
		}
		if patch.Notes != nil {
			item.Notes = patch.Notes
		}
		now := s.clock.Now()
		item.UpdatedAt = &now
		item.UpdatedBy = &actor
		item.RowVersion++

		if err := tx.Save(item).Error; err != nil {
			return errdefs.Storage("save pbc item", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// CreateItem adds one item by hand. At least one of project control or
// control must be referenced; every supplied reference is validated
// against the caller's tenant, the request's project and the referenced
// control. A concurrent duplicate of an active generated triple
// resolves to the winner's row.
func (s *Store) CreateItem(tc tenancy.Context, requestID string, params ItemParams) (*Item, error) {
	if err := tenancy.Validate(tc); err != nil {
		return nil, errdefs.Validationf("tenant", "%v", err)
	}
	actor, err := s.actors.ResolveActor(tc)
	if err != nil {
		return nil, errdefs.Validationf("actor", "%v", err)
	}
	if params.Status == "" {
		params.Status = ItemStatusNotStarted
	}
	if !validItemStatus(params.Status) {
		return nil, errdefs.Validationf("status", "unknown item status %q", params.Status)
	}
	if params.ProjectControlID == nil && params.ControlID == nil {
		return nil, errdefs.Validationf("project_control_id", "either project_control_id or control_id must be provided")
	}

	item := &Item{}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		request := &Request{}
		if err := tx.
			Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", requestID, tc.TenantID).
			First(request).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errdefs.ErrNotFound
			}
			return errdefs.Storage("load pbc request", err)
		}

		pins, err := s.validateItemRefs(tx, tc, request, &params)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		marker := "1"
		*item = Item{
			ID:               uuid.New().String(),
			TenantID:         tc.TenantID,
			ProjectID:        request.ProjectID,
			RequestID:        request.ID,
			ProjectControlID: params.ProjectControlID,
			ControlID:        params.ControlID,
			ApplicationID:    params.ApplicationID,
			TestAttributeID:  params.TestAttributeID,
			ActiveGuard:      &marker,

			PinnedControlVersionNum:       pins.control,
			PinnedTestAttributeVersionNum: pins.attribute,
			EffectiveProcedureSnapshot:    pins.procedure,
			EffectiveEvidenceSnapshot:     pins.evidence,
			SourceSnapshot:                pins.source,
			OverrideIDSnapshot:            pins.overrideID,

			Status:               params.Status,
			AssigneeMembershipID: params.AssigneeMembershipID,
			InstructionsExtra:    params.InstructionsExtra,
			Notes:                params.Notes,
		}
		item.RowVersion = 1
		item.CreatedAt = now
		item.CreatedBy = actor

		if err := tx.Create(item).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errdefs.ErrConflictRetryable
			}
			return errdefs.Storage("create pbc item", err)
		}
		return nil
	})
	if errors.Is(err, errdefs.ErrConflictRetryable) {
		winner := &Item{}
		readErr := s.db.
			Where("tenant_id = ? AND pbc_request_id = ? AND project_control_id = ? AND application_id = ? AND test_attribute_id = ? AND deleted_at IS NULL",
				tc.TenantID, requestID, params.ProjectControlID, params.ApplicationID, params.TestAttributeID).
			First(winner).Error
		if readErr != nil {
			return nil, err
		}
		return winner, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}
