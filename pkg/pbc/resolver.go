package pbc

import (
	"gorm.io/gorm"

	"github.com/auditstack/evidence-registry/pkg/errdefs"
	"github.com/auditstack/evidence-registry/pkg/overrides"
	"github.com/auditstack/evidence-registry/pkg/registry"
	"github.com/auditstack/evidence-registry/pkg/scope"
	"github.com/auditstack/evidence-registry/pkg/tenancy"
)

// LineItem is one resolved (project control, application, test
// attribute) triple ready to be snapshotted into a request item.
type LineItem struct {
	ProjectControlID              string
	ControlID                     string
	ControlCode                   string
	ControlName                   string
	ApplicationID                 string
	ApplicationName               string
	TestAttributeID               string
	TestAttributeCode             string
	TestAttributeName             string
	PinnedControlVersionNum       int
	PinnedTestAttributeVersionNum int
	EffectiveProcedure            *string
	EffectiveEvidence             *string
	Source                        string
	OverrideID                    *string
}

// resolveLineItems builds the active cross-product for a project:
// every active project control, times its actively bound applications,
// times the control's test attributes, with override resolution per
// triple. controlID, when non-nil, keeps only project controls over
// that control. Everything is bulk-loaded; no query count depends on
// the size of the cross-product.
func resolveLineItems(tx *gorm.DB, tc tenancy.Context, projectID string, controlID *string) ([]LineItem, error) {
	var projectControls []*scope.ProjectControl
	query := tx.
		Where("tenant_id = ? AND project_id = ? AND removed_at IS NULL", tc.TenantID, projectID)
	if controlID != nil {
		query = query.Where("control_id = ?", *controlID)
	}
	if err := query.Order("added_at ASC").Find(&projectControls).Error; err != nil {
		return nil, errdefs.Storage("list project controls", err)
	}
	if len(projectControls) == 0 {
		return nil, nil
	}

	controlIDs := make([]string, 0, len(projectControls))
	pcIDs := make([]string, 0, len(projectControls))
	for _, pc := range projectControls {
		controlIDs = append(controlIDs, pc.ControlID)
		pcIDs = append(pcIDs, pc.ID)
	}

	controlsByID := map[string]*registry.Control{}
	var controls []*registry.Control
	err := tx.
		Where("tenant_id = ? AND id IN ? AND deleted_at IS NULL", tc.TenantID, controlIDs).
		Find(&controls).Error
	if err != nil {
		return nil, errdefs.Storage("list controls", err)
	}
	for _, c := range controls {
		controlsByID[c.ID] = c
	}

	attrsByControl := map[string][]*registry.TestAttribute{}
	var attrs []*registry.TestAttribute
	err = tx.
		Where("tenant_id = ? AND control_id IN ? AND deleted_at IS NULL", tc.TenantID, controlIDs).
		Order("code ASC").
		Find(&attrs).Error
	if err != nil {
		return nil, errdefs.Storage("list test attributes", err)
	}
	for _, ta := range attrs {
		attrsByControl[ta.ControlID] = append(attrsByControl[ta.ControlID], ta)
	}

	bindingsByPC := map[string][]*scope.ControlApplication{}
	var bindings []*scope.ControlApplication
	err = tx.
		Where("tenant_id = ? AND project_control_id IN ? AND removed_at IS NULL", tc.TenantID, pcIDs).
		Order("added_at ASC").
		Find(&bindings).Error
	if err != nil {
		return nil, errdefs.Storage("list application bindings", err)
	}
	applicationIDs := make([]string, 0, len(bindings))
	for _, ca := range bindings {
		bindingsByPC[ca.ProjectControlID] = append(bindingsByPC[ca.ProjectControlID], ca)
		applicationIDs = append(applicationIDs, ca.ApplicationID)
	}

	appsByID := map[string]*registry.Application{}
	if len(applicationIDs) > 0 {
		var apps []*registry.Application
		err = tx.
			Where("tenant_id = ? AND id IN ? AND deleted_at IS NULL", tc.TenantID, applicationIDs).
			Find(&apps).Error
		if err != nil {
			return nil, errdefs.Storage("list applications", err)
		}
		for _, a := range apps {
			appsByID[a.ID] = a
		}
	}

	// Active overrides for the project controls, keyed by their
	// uniqueness scope (project_control/test_attribute/app-or-global).
	overridesByKey := map[string]*overrides.Override{}
	var ovs []*overrides.Override
	err = tx.
		Where("tenant_id = ? AND project_control_id IN ? AND deleted_at IS NULL", tc.TenantID, pcIDs).
		Find(&ovs).Error
	if err != nil {
		return nil, errdefs.Storage("list overrides", err)
	}
	for _, o := range ovs {
		overridesByKey[o.NaturalKey()] = o
	}

	var items []LineItem
	for _, pc := range projectControls {
		control := controlsByID[pc.ControlID]
		if control == nil {
			continue
		}
		for _, ca := range bindingsByPC[pc.ID] {
			app := appsByID[ca.ApplicationID]
			if app == nil {
				continue
			}
			for _, ta := range attrsByControl[pc.ControlID] {
				appID := ca.ApplicationID
				appOverride := overridesByKey[(&overrides.Override{
					ProjectControlID: pc.ID, TestAttributeID: ta.ID, ApplicationID: &appID,
				}).NaturalKey()]
				globalOverride := overridesByKey[(&overrides.Override{
					ProjectControlID: pc.ID, TestAttributeID: ta.ID,
				}).NaturalKey()]
				eff := overrides.ResolveEffective(ta, appOverride, globalOverride)

				items = append(items, LineItem{
					ProjectControlID:              pc.ID,
					ControlID:                     control.ID,
					ControlCode:                   control.ControlCode,
					ControlName:                   control.Name,
					ApplicationID:                 app.ID,
					ApplicationName:               app.Name,
					TestAttributeID:               ta.ID,
					TestAttributeCode:             eff.Code,
					TestAttributeName:             eff.Name,
					PinnedControlVersionNum:       pc.ControlVersionNum,
					PinnedTestAttributeVersionNum: eff.BaseVersionNum,
					EffectiveProcedure:            eff.TestProcedure,
					EffectiveEvidence:             eff.ExpectedEvidence,
					Source:                        eff.Source,
					OverrideID:                    eff.OverrideID,
				})
			}
		}
	}
	return items, nil
}
