package overrides

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/auditstack/evidence-registry/pkg/errdefs"
	"github.com/auditstack/evidence-registry/pkg/registry"
	"github.com/auditstack/evidence-registry/pkg/scope"
	"github.com/auditstack/evidence-registry/pkg/tenancy"
	"github.com/auditstack/evidence-registry/pkg/versions"
)

// Store manages overrides and resolves effective test attributes.
// Mutations run through an embedded Registry so every change lands in
// the version ledger under the same discipline as library entities.
type Store struct {
	db       *gorm.DB
	registry *registry.Registry[*Override]
}

// NewStore creates an override Store backed by the given DB and
// version ledger.
func NewStore(db *gorm.DB, vs *versions.Store) *Store {
	return &Store{
		db: db,
		registry: registry.New(registry.Config[*Override]{
			DB:        db,
			Versions:  vs,
			NewEntity: func() *Override { return &Override{} },
		}),
	}
}

// AutoMigrate creates or updates the overrides table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Override{}); err != nil {
		return fmt.Errorf("auto-migrate %s: %w", EntityTypeOverride, err)
	}
	return nil
}

// Upsert creates or updates the override addressed by (projectControl,
// testAttribute, application). Cross-references are validated first:
// the test attribute must belong to the project control's control, and
// an app-specific override requires the application actively bound
// under the project control. On create the test attribute's current
// row_version is frozen into BaseVersionNum; updates never touch it.
func (s *Store) Upsert(tc tenancy.Context, projectControlID, testAttributeID string, applicationID *string, fields Fields) (*Override, error) {
	if err := tenancy.Validate(tc); err != nil {
		return nil, errdefs.Validationf("tenant", "%v", err)
	}

	var baseVersion int
	if err := s.validateRefs(tc, projectControlID, testAttributeID, applicationID, &baseVersion); err != nil {
		return nil, err
	}

	probe := &Override{ProjectControlID: projectControlID, TestAttributeID: testAttributeID, ApplicationID: applicationID}
	existing := &Override{}
	err := s.db.
		Where("tenant_id = ? AND active_key = ?", tc.TenantID, probe.NaturalKey()).
		First(existing).Error
	if err == nil {
		return s.registry.Update(tc, existing.ID, func(o *Override) error {
			o.NameOverride = fields.Name
			o.FrequencyOverride = fields.Frequency
			o.ProcedureOverride = fields.Procedure
			o.ExpectedEvidenceOverride = fields.ExpectedEvidence
			o.Notes = fields.Notes
			return nil
		})
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errdefs.Storage("load override", err)
	}

	return s.registry.Create(tc, &Override{
		ProjectControlID:         projectControlID,
		TestAttributeID:          testAttributeID,
		ApplicationID:            applicationID,
		BaseVersionNum:           baseVersion,
		NameOverride:             fields.Name,
		FrequencyOverride:        fields.Frequency,
		ProcedureOverride:        fields.Procedure,
		ExpectedEvidenceOverride: fields.ExpectedEvidence,
		Notes:                    fields.Notes,
	})
}

// Delete tombstones an override, capturing its pre-image in the ledger
// and freeing its uniqueness scope for a future override.
func (s *Store) Delete(tc tenancy.Context, overrideID string) (*Override, error) {
	return s.registry.SoftDelete(tc, overrideID)
}

// Get returns one override scoped to the caller's tenant.
func (s *Store) Get(tc tenancy.Context, overrideID string) (*Override, error) {
	return s.registry.Get(tc, overrideID, false)
}

// ListForProjectControl returns the project control's active overrides.
func (s *Store) ListForProjectControl(tc tenancy.Context, projectControlID string) ([]*Override, error) {
	var items []*Override
	err := s.db.
		Where("tenant_id = ? AND project_control_id = ? AND deleted_at IS NULL", tc.TenantID, projectControlID).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, errdefs.Storage("list overrides", err)
	}
	return items, nil
}

// ListVersions returns an override's ledger history, newest first.
func (s *Store) ListVersions(tc tenancy.Context, overrideID string) ([]versions.EntityVersionRecord, error) {
	return s.registry.ListVersions(tc, overrideID)
}

// Resolve computes the effective test attribute for one (project
// control, application, test attribute) triple. Each field resolves
// independently: the app-specific override's value when non-null, else
// the global override's, else the base test attribute's. Source and
// OverrideID name the most specific layer that supplied a non-null
// procedure or expected evidence.
func (s *Store) Resolve(tc tenancy.Context, projectControlID, applicationID, testAttributeID string) (*EffectiveAttribute, error) {
	if err := tenancy.Validate(tc); err != nil {
		return nil, errdefs.Validationf("tenant", "%v", err)
	}

	base := &registry.TestAttribute{}
	err := s.db.
		Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", testAttributeID, tc.TenantID).
		First(base).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errdefs.ErrNotFound
		}
		return nil, errdefs.Storage("load test attribute", err)
	}

	appOverride, err := s.activeOverride(tc, projectControlID, testAttributeID, &applicationID)
	if err != nil {
		return nil, err
	}
	globalOverride, err := s.activeOverride(tc, projectControlID, testAttributeID, nil)
	if err != nil {
		return nil, err
	}

	return ResolveEffective(base, appOverride, globalOverride), nil
}

func (s *Store) activeOverride(tc tenancy.Context, projectControlID, testAttributeID string, applicationID *string) (*Override, error) {
	probe := &Override{ProjectControlID: projectControlID, TestAttributeID: testAttributeID, ApplicationID: applicationID}
	override := &Override{}
	err := s.db.
		Where("tenant_id = ? AND active_key = ?", tc.TenantID, probe.NaturalKey()).
		First(override).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errdefs.Storage("load override", err)
	}
	return override, nil
}

// ResolveEffective merges the three layers per field. Either override
// may be nil. The generation engine calls this directly after bulk
// loading overrides.
func ResolveEffective(base *registry.TestAttribute, appOverride, globalOverride *Override) *EffectiveAttribute {
	eff := &EffectiveAttribute{
		TestAttributeID:  base.ID,
		Code:             base.Code,
		Name:             base.Name,
		Frequency:        base.Frequency,
		TestProcedure:    base.TestProcedure,
		ExpectedEvidence: base.ExpectedEvidence,
		Source:           SourceBase,
		BaseVersionNum:   base.RowVersion,
	}

	if globalOverride != nil {
		applyLayer(eff, globalOverride, SourceGlobalOverride)
	}
	if appOverride != nil {
		applyLayer(eff, appOverride, SourceAppOverride)
	}
	return eff
}

func applyLayer(eff *EffectiveAttribute, o *Override, source string) {
	if o.NameOverride != nil {
		eff.Name = *o.NameOverride
	}
	if o.FrequencyOverride != nil {
		eff.Frequency = o.FrequencyOverride
	}
	won := false
	if o.ProcedureOverride != nil {
		eff.TestProcedure = o.ProcedureOverride
		won = true
	}
	if o.ExpectedEvidenceOverride != nil {
		eff.ExpectedEvidence = o.ExpectedEvidenceOverride
		won = true
	}
	if won {
		id := o.ID
		eff.Source = source
		eff.OverrideID = &id
		eff.BaseVersionNum = o.BaseVersionNum
	}
}

func (s *Store) validateRefs(tc tenancy.Context, projectControlID, testAttributeID string, applicationID *string, baseVersion *int) error {
	pc := &scope.ProjectControl{}
	err := s.db.
		Where("id = ? AND tenant_id = ? AND removed_at IS NULL", projectControlID, tc.TenantID).
		First(pc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("project control %s: %w", projectControlID, errdefs.ErrNotFound)
		}
		return errdefs.Storage("load project control", err)
	}

	ta := &registry.TestAttribute{}
	err = s.db.
		Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", testAttributeID, tc.TenantID).
		First(ta).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("test attribute %s: %w", testAttributeID, errdefs.ErrNotFound)
		}
		return errdefs.Storage("load test attribute", err)
	}
	if ta.ControlID != pc.ControlID {
		return errdefs.Validationf("test_attribute_id", "test attribute belongs to a different control than the project control")
	}
	*baseVersion = ta.RowVersion

	if applicationID != nil {
		var count int64
		err = s.db.Model(&scope.ControlApplication{}).
			Where("tenant_id = ? AND project_control_id = ? AND application_id = ? AND removed_at IS NULL",
				tc.TenantID, projectControlID, *applicationID).
			Count(&count).Error
		if err != nil {
			return errdefs.Storage("check application binding", err)
		}
		if count == 0 {
			return errdefs.Validationf("application_id", "application is not actively bound under the project control")
		}
	}
	return nil
}
