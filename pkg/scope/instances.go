package scope

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/auditstack/evidence-registry/pkg/errdefs"
	"github.com/auditstack/evidence-registry/pkg/registry"
	"github.com/auditstack/evidence-registry/pkg/tenancy"
)

// NewProjectControlBinder binds controls into projects. The scope check
// requires an active project; the pin is the control's row_version.
func NewProjectControlBinder(db *gorm.DB) *Binder[*ProjectControl] {
	return New(Config[*ProjectControl]{
		DB:           db,
		NewBinding:   func() *ProjectControl { return &ProjectControl{} },
		ScopeColumn:  "project_id",
		EntityColumn: "control_id",
		ValidateScope: func(tx *gorm.DB, tc tenancy.Context, projectID string) error {
			return requireActive(tx, tc, &registry.Project{}, projectID, "project")
		},
		EntityVersion: func(tx *gorm.DB, tc tenancy.Context, controlID string) (int, error) {
			return activeRowVersion(tx, tc, &registry.Control{}, controlID, "control")
		},
	})
}

// NewControlApplicationBinder binds applications under project controls.
// The scope is itself a binding: an active project_controls row. The pin
// is the application's row_version.
func NewControlApplicationBinder(db *gorm.DB) *Binder[*ControlApplication] {
	return New(Config[*ControlApplication]{
		DB:           db,
		NewBinding:   func() *ControlApplication { return &ControlApplication{} },
		ScopeColumn:  "project_control_id",
		EntityColumn: "application_id",
		ValidateScope: func(tx *gorm.DB, tc tenancy.Context, projectControlID string) error {
			var count int64
			err := tx.Model(&ProjectControl{}).
				Where("id = ? AND tenant_id = ? AND removed_at IS NULL", projectControlID, tc.TenantID).
				Count(&count).Error
			if err != nil {
				return errdefs.Storage("check project control", err)
			}
			if count == 0 {
				return fmt.Errorf("project control %s: %w", projectControlID, errdefs.ErrNotFound)
			}
			return nil
		},
		EntityVersion: func(tx *gorm.DB, tc tenancy.Context, applicationID string) (int, error) {
			return activeRowVersion(tx, tc, &registry.Application{}, applicationID, "application")
		},
	})
}

func requireActive(tx *gorm.DB, tc tenancy.Context, model any, id, kind string) error {
	var count int64
	err := tx.Model(model).
		Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", id, tc.TenantID).
		Count(&count).Error
	if err != nil {
		return errdefs.Storage("check "+kind, err)
	}
	if count == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, errdefs.ErrNotFound)
	}
	return nil
}

func activeRowVersion(tx *gorm.DB, tc tenancy.Context, model any, id, kind string) (int, error) {
	var row struct {
		RowVersion int
	}
	err := tx.Model(model).
		Select("row_version").
		Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", id, tc.TenantID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%s %s: %w", kind, id, errdefs.ErrNotFound)
		}
		return 0, errdefs.Storage("load "+kind, err)
	}
	return row.RowVersion, nil
}
