package registry

import (
	"time"

	"gorm.io/gorm"

	"github.com/auditstack/evidence-registry/pkg/versions"
)

// Ledger entity_type values, shared with the bindings and overrides
// that pin these entities.
const (
	EntityTypeControl       = "controls"
	EntityTypeApplication   = "applications"
	EntityTypeTestAttribute = "test_attributes"
	EntityTypeProject       = "projects"
)

// Control is a tenant-owned SOX control.
type Control struct {
	ID          string  `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID    string  `gorm:"column:tenant_id;type:varchar(36);not null;index;uniqueIndex:ux_controls_tenant_key,priority:1"`
	ActiveKey   *string `gorm:"column:active_key;uniqueIndex:ux_controls_tenant_key,priority:2"`
	ControlCode string  `gorm:"column:control_code;size:50;not null"`
	Name        string  `gorm:"column:name;size:255;not null"`
	Description *string `gorm:"column:description;type:text"`
	Category    *string `gorm:"column:category;size:100"`
	RiskRating  *string `gorm:"column:risk_rating;size:50"`
	ControlType *string `gorm:"column:control_type;size:50"`
	Frequency   *string `gorm:"column:frequency;size:50"`
	IsKey       bool    `gorm:"column:is_key;not null;default:false"`
	IsAutomated bool    `gorm:"column:is_automated;not null;default:false"`
	VersionedMetadata
}

// TableName returns the GORM table name.
func (Control) TableName() string { return EntityTypeControl }

func (c *Control) GetID() string            { return c.ID }
func (c *Control) SetID(id string)          { c.ID = id }
func (c *Control) GetTenantID() string      { return c.TenantID }
func (c *Control) SetTenantID(id string)    { c.TenantID = id }
func (c *Control) Meta() *VersionedMetadata { return &c.VersionedMetadata }
func (c *Control) EntityType() string       { return EntityTypeControl }
func (c *Control) NaturalKey() string       { return c.ControlCode }
func (c *Control) SetActiveKey(key *string) { c.ActiveKey = key }

// Snapshot renders the control for the version ledger.
func (c *Control) Snapshot() versions.JSONAny {
	snap := versions.JSONAny{
		"id":           c.ID,
		"tenant_id":    c.TenantID,
		"control_code": c.ControlCode,
		"name":         c.Name,
		"description":  deref(c.Description),
		"category":     deref(c.Category),
		"risk_rating":  deref(c.RiskRating),
		"control_type": deref(c.ControlType),
		"frequency":    deref(c.Frequency),
		"is_key":       c.IsKey,
		"is_automated": c.IsAutomated,
	}
	SnapshotMeta(snap, &c.VersionedMetadata)
	return snap
}

// Application is a tenant-owned business application.
type Application struct {
	ID                string  `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID          string  `gorm:"column:tenant_id;type:varchar(36);not null;index;uniqueIndex:ux_applications_tenant_key,priority:1"`
	ActiveKey         *string `gorm:"column:active_key;uniqueIndex:ux_applications_tenant_key,priority:2"`
	Name              string  `gorm:"column:name;size:255;not null"`
	Category          *string `gorm:"column:category;size:100"`
	ScopeRationale    *string `gorm:"column:scope_rationale;size:1000"`
	BusinessOwnerID   *string `gorm:"column:business_owner_membership_id;type:varchar(36)"`
	ITOwnerID         *string `gorm:"column:it_owner_membership_id;type:varchar(36)"`
	VersionedMetadata
}

// TableName returns the GORM table name.
func (Application) TableName() string { return EntityTypeApplication }

func (a *Application) GetID() string            { return a.ID }
func (a *Application) SetID(id string)          { a.ID = id }
func (a *Application) GetTenantID() string      { return a.TenantID }
func (a *Application) SetTenantID(id string)    { a.TenantID = id }
func (a *Application) Meta() *VersionedMetadata { return &a.VersionedMetadata }
func (a *Application) EntityType() string       { return EntityTypeApplication }
func (a *Application) NaturalKey() string       { return a.Name }
func (a *Application) SetActiveKey(key *string) { a.ActiveKey = key }

// Snapshot renders the application for the version ledger.
func (a *Application) Snapshot() versions.JSONAny {
	snap := versions.JSONAny{
		"id":                           a.ID,
		"tenant_id":                    a.TenantID,
		"name":                         a.Name,
		"category":                     deref(a.Category),
		"scope_rationale":              deref(a.ScopeRationale),
		"business_owner_membership_id": deref(a.BusinessOwnerID),
		"it_owner_membership_id":       deref(a.ITOwnerID),
	}
	SnapshotMeta(snap, &a.VersionedMetadata)
	return snap
}

// TestAttribute defines a test procedure and expected evidence for one
// control. Its natural key is scoped to the parent control, so two
// controls may both carry an attribute coded "TA-1".
type TestAttribute struct {
	ID                string  `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID          string  `gorm:"column:tenant_id;type:varchar(36);not null;index;uniqueIndex:ux_test_attributes_tenant_key,priority:1"`
	ActiveKey         *string `gorm:"column:active_key;uniqueIndex:ux_test_attributes_tenant_key,priority:2"`
	ControlID         string  `gorm:"column:control_id;type:varchar(36);not null;index"`
	Code              string  `gorm:"column:code;size:50;not null"`
	Name              string  `gorm:"column:name;size:255;not null"`
	Frequency         *string `gorm:"column:frequency;size:50"`
	TestProcedure     *string `gorm:"column:test_procedure;type:text"`
	ExpectedEvidence  *string `gorm:"column:expected_evidence;type:text"`
	VersionedMetadata
}

// TableName returns the GORM table name.
func (TestAttribute) TableName() string { return EntityTypeTestAttribute }

func (t *TestAttribute) GetID() string            { return t.ID }
func (t *TestAttribute) SetID(id string)          { t.ID = id }
func (t *TestAttribute) GetTenantID() string      { return t.TenantID }
func (t *TestAttribute) SetTenantID(id string)    { t.TenantID = id }
func (t *TestAttribute) Meta() *VersionedMetadata { return &t.VersionedMetadata }
func (t *TestAttribute) EntityType() string       { return EntityTypeTestAttribute }
func (t *TestAttribute) NaturalKey() string       { return t.ControlID + "/" + t.Code }
func (t *TestAttribute) SetActiveKey(key *string) { t.ActiveKey = key }

// Snapshot renders the test attribute for the version ledger.
func (t *TestAttribute) Snapshot() versions.JSONAny {
	snap := versions.JSONAny{
		"id":                t.ID,
		"tenant_id":         t.TenantID,
		"control_id":        t.ControlID,
		"code":              t.Code,
		"name":              t.Name,
		"frequency":         deref(t.Frequency),
		"test_procedure":    deref(t.TestProcedure),
		"expected_evidence": deref(t.ExpectedEvidence),
	}
	SnapshotMeta(snap, &t.VersionedMetadata)
	return snap
}

// Project is a tenant-owned audit engagement.
type Project struct {
	ID                string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID          string     `gorm:"column:tenant_id;type:varchar(36);not null;index;uniqueIndex:ux_projects_tenant_key,priority:1"`
	ActiveKey         *string    `gorm:"column:active_key;uniqueIndex:ux_projects_tenant_key,priority:2"`
	Name              string     `gorm:"column:name;size:255;not null"`
	Status            string     `gorm:"column:status;size:50;not null;default:draft"`
	PeriodStart       *time.Time `gorm:"column:period_start"`
	PeriodEnd         *time.Time `gorm:"column:period_end"`
	VersionedMetadata
}

// TableName returns the GORM table name.
func (Project) TableName() string { return EntityTypeProject }

func (p *Project) GetID() string            { return p.ID }
func (p *Project) SetID(id string)          { p.ID = id }
func (p *Project) GetTenantID() string      { return p.TenantID }
func (p *Project) SetTenantID(id string)    { p.TenantID = id }
func (p *Project) Meta() *VersionedMetadata { return &p.VersionedMetadata }
func (p *Project) EntityType() string       { return EntityTypeProject }
func (p *Project) NaturalKey() string       { return p.Name }
func (p *Project) SetActiveKey(key *string) { p.ActiveKey = key }

// Snapshot renders the project for the version ledger.
func (p *Project) Snapshot() versions.JSONAny {
	snap := versions.JSONAny{
		"id":        p.ID,
		"tenant_id": p.TenantID,
		"name":      p.Name,
		"status":    p.Status,
	}
	if p.PeriodStart != nil {
		snap["period_start"] = p.PeriodStart.Format(time.RFC3339)
	}
	if p.PeriodEnd != nil {
		snap["period_end"] = p.PeriodEnd.Format(time.RFC3339)
	}
	SnapshotMeta(snap, &p.VersionedMetadata)
	return snap
}

// AutoMigrate creates or updates the four library entity tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Control{}, &Application{}, &TestAttribute{}, &Project{})
}

// SnapshotMeta writes the embedded version bookkeeping into a ledger
// snapshot; shared by every Entity implementation.
func SnapshotMeta(snap versions.JSONAny, m *VersionedMetadata) {
	snap["row_version"] = m.RowVersion
	snap["created_at"] = m.CreatedAt.Format(time.RFC3339Nano)
	snap["created_by"] = m.CreatedBy
	if m.UpdatedAt != nil {
		snap["updated_at"] = m.UpdatedAt.Format(time.RFC3339Nano)
	}
	if m.UpdatedBy != nil {
		snap["updated_by"] = *m.UpdatedBy
	}
	if m.DeletedAt != nil {
		snap["deleted_at"] = m.DeletedAt.Format(time.RFC3339Nano)
	}
	if m.DeletedBy != nil {
		snap["deleted_by"] = *m.DeletedBy
	}
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
