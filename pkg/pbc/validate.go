package pbc

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/auditstack/evidence-registry/pkg/errdefs"
	"github.com/auditstack/evidence-registry/pkg/overrides"
	"github.com/auditstack/evidence-registry/pkg/registry"
	"github.com/auditstack/evidence-registry/pkg/scope"
	"github.com/auditstack/evidence-registry/pkg/tenancy"
)

// itemPins is what a manual item freezes at creation, as far as its
// references allow it: the pins and snapshots are filled from whatever
// the caller referenced, resolving overrides when the full triple is
// present.
type itemPins struct {
	control    *int
	attribute  *int
	procedure  *string
	evidence   *string
	source     string
	overrideID *string
}

// validateItemRefs checks every supplied reference of a manual item
// against the tenant and the request's project, then computes the pins
// and snapshots. Rules from the generation path carry over: a project
// control must belong to the request's project, and a test attribute
// must belong to the referenced control.
func (s *Store) validateItemRefs(tx *gorm.DB, tc tenancy.Context, request *Request, params *ItemParams) (*itemPins, error) {
	pins := &itemPins{source: overrides.SourceBase}
	var referencedControlID string

	var projectControl *scope.ProjectControl
	if params.ProjectControlID != nil {
		projectControl = &scope.ProjectControl{}
		err := tx.
			Where("id = ? AND tenant_id = ? AND removed_at IS NULL", *params.ProjectControlID, tc.TenantID).
			First(projectControl).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("project control %s: %w", *params.ProjectControlID, errdefs.ErrNotFound)
			}
			return nil, errdefs.Storage("load project control", err)
		}
		if projectControl.ProjectID != request.ProjectID {
			return nil, errdefs.Validationf("project_control_id", "project control belongs to a different project than the request")
		}
		pin := projectControl.ControlVersionNum
		pins.control = &pin
		referencedControlID = projectControl.ControlID
	}

	if params.ControlID != nil {
		control := &registry.Control{}
		err := tx.
			Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", *params.ControlID, tc.TenantID).
			First(control).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("control %s: %w", *params.ControlID, errdefs.ErrNotFound)
			}
			return nil, errdefs.Storage("load control", err)
		}
		if referencedControlID == "" {
			referencedControlID = control.ID
			pin := control.RowVersion
			pins.control = &pin
		} else if referencedControlID != control.ID {
			return nil, errdefs.Validationf("control_id", "control does not match the project control's control")
		}
	}

	if params.ApplicationID != nil {
		var count int64
		err := tx.Model(&registry.Application{}).
			Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", *params.ApplicationID, tc.TenantID).
			Count(&count).Error
		if err != nil {
			return nil, errdefs.Storage("check application", err)
		}
		if count == 0 {
			return nil, fmt.Errorf("application %s: %w", *params.ApplicationID, errdefs.ErrNotFound)
		}
	}

	if params.TestAttributeID != nil {
		attr := &registry.TestAttribute{}
		err := tx.
			Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", *params.TestAttributeID, tc.TenantID).
			First(attr).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("test attribute %s: %w", *params.TestAttributeID, errdefs.ErrNotFound)
			}
			return nil, errdefs.Storage("load test attribute", err)
		}
		if referencedControlID != "" && attr.ControlID != referencedControlID {
			return nil, errdefs.Validationf("test_attribute_id", "test attribute belongs to a different control than the referenced one")
		}

		// With the full triple present the manual item snapshots the
		// same resolved values a generation run would.
		if projectControl != nil && params.ApplicationID != nil {
			appOverride, err := activeOverride(tx, tc, projectControl.ID, attr.ID, params.ApplicationID)
			if err != nil {
				return nil, err
			}
			globalOverride, err := activeOverride(tx, tc, projectControl.ID, attr.ID, nil)
			if err != nil {
				return nil, err
			}
			eff := overrides.ResolveEffective(attr, appOverride, globalOverride)
			pins.attribute = &eff.BaseVersionNum
			pins.procedure = eff.TestProcedure
			pins.evidence = eff.ExpectedEvidence
			pins.source = eff.Source
			pins.overrideID = eff.OverrideID
		} else {
			pin := attr.RowVersion
			pins.attribute = &pin
			pins.procedure = attr.TestProcedure
			pins.evidence = attr.ExpectedEvidence
		}
	}

	return pins, nil
}

func activeOverride(tx *gorm.DB, tc tenancy.Context, projectControlID, testAttributeID string, applicationID *string) (*overrides.Override, error) {
	probe := &overrides.Override{
		ProjectControlID: projectControlID,
		TestAttributeID:  testAttributeID,
		ApplicationID:    applicationID,
	}
	override := &overrides.Override{}
	err := tx.
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
