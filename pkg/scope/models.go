// Package scope is the freeze engine: it binds library entities into a
// project scope and pins the entity's row_version at that instant. A
// pin is immutable for the life of its binding row; unbinding and
// rebinding always produces a fresh row with a fresh pin, keeping the
// removed row untouched as history.
package scope

import (
	"time"
)

// Binding kind values, used for validation messages.
const (
	BindingTypeProjectControl     = "project_controls"
	BindingTypeControlApplication = "project_control_applications"
)

// activeMarker is the guard-column value for live binding rows. Removed
// rows carry NULL, which never collides in a unique index, so the
// constraint "at most one active binding per (tenant, scope, entity)"
// holds on every supported dialect without partial indexes.
const activeMarker = "1"

// Binding is the capability interface the generic Binder operates
// through. Implementations are the two GORM records below.
type Binding interface {
	GetID() string
	SetID(id string)
	GetTenantID() string
	SetTenantID(id string)
	// ScopeID and EntityID name the bound pair; set once at bind time.
	ScopeID() string
	SetScopeID(id string)
	EntityID() string
	SetEntityID(id string)
	// Pin is the entity row_version captured at bind time.
	Pin() int
	SetPin(v int)
	AddedAt() time.Time
	SetAdded(at time.Time, by string)
	RemovedAt() *time.Time
	SetRemoved(at time.Time, by string)
	SetActiveGuard(marker *string)
	BindingType() string
}

// ProjectControl binds a control into a project, freezing the
// control's row_version. Override fields are caller-editable project
// metadata unrelated to the pin.
type ProjectControl struct {
	ID                string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID          string     `gorm:"column:tenant_id;type:varchar(36);not null;index:idx_pc_tenant_project,priority:1;uniqueIndex:ux_project_controls_active,priority:1"`
	ProjectID         string     `gorm:"column:project_id;type:varchar(36);not null;index:idx_pc_tenant_project,priority:2;uniqueIndex:ux_project_controls_active,priority:2"`
	ControlID         string     `gorm:"column:control_id;type:varchar(36);not null;index;uniqueIndex:ux_project_controls_active,priority:3"`
	ActiveGuard       *string    `gorm:"column:active_guard;uniqueIndex:ux_project_controls_active,priority:4"`
	ControlVersionNum int        `gorm:"column:control_version_num;not null"`
	IsKeyOverride     *bool      `gorm:"column:is_key_override"`
	FrequencyOverride *string    `gorm:"column:frequency_override;size:50"`
	Notes             *string    `gorm:"column:notes;size:1000"`
	AddedAtTime       time.Time  `gorm:"column:added_at;not null"`
	AddedBy           string     `gorm:"column:added_by;type:varchar(36);not null"`
	RemovedAtTime     *time.Time `gorm:"column:removed_at;index"`
	RemovedBy         *string    `gorm:"column:removed_by;type:varchar(36)"`
}

// TableName returns the GORM table name.
func (ProjectControl) TableName() string { return BindingTypeProjectControl }

func (b *ProjectControl) GetID() string         { return b.ID }
func (b *ProjectControl) SetID(id string)       { b.ID = id }
func (b *ProjectControl) GetTenantID() string   { return b.TenantID }
func (b *ProjectControl) SetTenantID(id string) { b.TenantID = id }
func (b *ProjectControl) ScopeID() string       { return b.ProjectID }
func (b *ProjectControl) SetScopeID(id string)  { b.ProjectID = id }
func (b *ProjectControl) EntityID() string      { return b.ControlID }
func (b *ProjectControl) SetEntityID(id string) { b.ControlID = id }
func (b *ProjectControl) Pin() int              { return b.ControlVersionNum }
func (b *ProjectControl) SetPin(v int)          { b.ControlVersionNum = v }
func (b *ProjectControl) AddedAt() time.Time    { return b.AddedAtTime }
func (b *ProjectControl) SetAdded(at time.Time, by string) {
	b.AddedAtTime = at
	b.AddedBy = by
}
func (b *ProjectControl) RemovedAt() *time.Time { return b.RemovedAtTime }
func (b *ProjectControl) SetRemoved(at time.Time, by string) {
	b.RemovedAtTime = &at
	b.RemovedBy = &by
}
func (b *ProjectControl) SetActiveGuard(marker *string) { b.ActiveGuard = marker }
func (b *ProjectControl) BindingType() string           { return BindingTypeProjectControl }

// ControlApplication binds an application under a project control,
// freezing the application's row_version. Source records how the
// binding came to be ("manual" unless the caller says otherwise).
type ControlApplication struct {
	ID                    string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID              string     `gorm:"column:tenant_id;type:varchar(36);not null;index:idx_pca_tenant_pc,priority:1;uniqueIndex:ux_project_control_apps_active,priority:1"`
	ProjectControlID      string     `gorm:"column:project_control_id;type:varchar(36);not null;index:idx_pca_tenant_pc,priority:2;uniqueIndex:ux_project_control_apps_active,priority:2"`
	ApplicationID         string     `gorm:"column:application_id;type:varchar(36);not null;index;uniqueIndex:ux_project_control_apps_active,priority:3"`
	ActiveGuard           *string    `gorm:"column:active_guard;uniqueIndex:ux_project_control_apps_active,priority:4"`
	ApplicationVersionNum int        `gorm:"column:application_version_num;not null"`
	Source                string     `gorm:"column:source;size:50;not null;default:manual"`
	AddedAtTime           time.Time  `gorm:"column:added_at;not null"`
	AddedBy               string     `gorm:"column:added_by;type:varchar(36);not null"`
	RemovedAtTime         *time.Time `gorm:"column:removed_at;index"`
	RemovedBy             *string    `gorm:"column:removed_by;type:varchar(36)"`
}

// TableName returns the GORM table name.
func (ControlApplication) TableName() string { return BindingTypeControlApplication }

func (b *ControlApplication) GetID() string         { return b.ID }
func (b *ControlApplication) SetID(id string)       { b.ID = id }
func (b *ControlApplication) GetTenantID() string   { return b.TenantID }
func (b *ControlApplication) SetTenantID(id string) { b.TenantID = id }
func (b *ControlApplication) ScopeID() string       { return b.ProjectControlID }
func (b *ControlApplication) SetScopeID(id string)  { b.ProjectControlID = id }
func (b *ControlApplication) EntityID() string      { return b.ApplicationID }
func (b *ControlApplication) SetEntityID(id string) { b.ApplicationID = id }
func (b *ControlApplication) Pin() int              { return b.ApplicationVersionNum }
func (b *ControlApplication) SetPin(v int)          { b.ApplicationVersionNum = v }
func (b *ControlApplication) AddedAt() time.Time    { return b.AddedAtTime }
func (b *ControlApplication) SetAdded(at time.Time, by string) {
	b.AddedAtTime = at
	b.AddedBy = by
}
func (b *ControlApplication) RemovedAt() *time.Time { return b.RemovedAtTime }
func (b *ControlApplication) SetRemoved(at time.Time, by string) {
	b.RemovedAtTime = &at
	b.RemovedBy = &by
}
func (b *ControlApplication) SetActiveGuard(marker *string) { b.ActiveGuard = marker }
func (b *ControlApplication) BindingType() string           { return BindingTypeControlApplication }
