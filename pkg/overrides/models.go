// Package overrides holds project-level test attribute customizations
// and the resolver that computes effective field values through the
// app-specific, project-global, base precedence chain.
package overrides

import (
	"github.com/auditstack/evidence-registry/pkg/registry"
	"github.com/auditstack/evidence-registry/pkg/versions"
)

// EntityTypeOverride is the ledger entity_type, also the table name.
const EntityTypeOverride = "project_test_attribute_overrides"

// Layer names reported by Resolve.
const (
	SourceBase           = "base"
	SourceGlobalOverride = "project_global_override"
	SourceAppOverride    = "project_app_override"
)

// Override customizes one test attribute within a project control. A
// nil ApplicationID makes it project-global; otherwise it applies to
// that application only. A nil override field means "inherit", never
// "blank". BaseVersionNum freezes the test attribute's row_version at
// creation and never changes afterwards.
type Override struct {
	ID                       string  `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID                 string  `gorm:"column:tenant_id;type:varchar(36);not null;index;uniqueIndex:ux_overrides_tenant_key,priority:1"`
	ActiveKey                *string `gorm:"column:active_key;uniqueIndex:ux_overrides_tenant_key,priority:2"`
	ProjectControlID         string  `gorm:"column:project_control_id;type:varchar(36);not null;index"`
	TestAttributeID          string  `gorm:"column:test_attribute_id;type:varchar(36);not null;index"`
	ApplicationID            *string `gorm:"column:application_id;type:varchar(36);index"`
	BaseVersionNum           int     `gorm:"column:base_test_attribute_version_num;not null"`
	NameOverride             *string `gorm:"column:name_override;type:text"`
	FrequencyOverride        *string `gorm:"column:frequency_override;type:text"`
	ProcedureOverride        *string `gorm:"column:procedure_override;type:text"`
	ExpectedEvidenceOverride *string `gorm:"column:expected_evidence_override;type:text"`
	Notes                    *string `gorm:"column:notes;type:text"`
	registry.VersionedMetadata
}

// TableName returns the GORM table name.
func (Override) TableName() string { return EntityTypeOverride }

func (o *Override) GetID() string                      { return o.ID }
func (o *Override) SetID(id string)                    { o.ID = id }
func (o *Override) GetTenantID() string                { return o.TenantID }
func (o *Override) SetTenantID(id string)              { o.TenantID = id }
func (o *Override) Meta() *registry.VersionedMetadata  { return &o.VersionedMetadata }
func (o *Override) EntityType() string                 { return EntityTypeOverride }
func (o *Override) SetActiveKey(key *string)           { o.ActiveKey = key }

// NaturalKey encodes the override's uniqueness scope: one active
// override per (project control, test attribute) globally, and one per
// (project control, test attribute, application) app-specifically.
func (o *Override) NaturalKey() string {
	scope := "global"
	if o.ApplicationID != nil {
		scope = *o.ApplicationID
	}
	return o.ProjectControlID + "/" + o.TestAttributeID + "/" + scope
}

// Global reports whether the override applies to every application
// under its project control.
func (o *Override) Global() bool { return o.ApplicationID == nil }

// Snapshot renders the override for the version ledger.
func (o *Override) Snapshot() versions.JSONAny {
	snap := versions.JSONAny{
		"id":                 o.ID,
		"tenant_id":          o.TenantID,
		"project_control_id": o.ProjectControlID,
		"test_attribute_id":  o.TestAttributeID,
		"base_test_attribute_version_num": o.BaseVersionNum,
	}
	if o.ApplicationID != nil {
		snap["application_id"] = *o.ApplicationID
	}
	if o.NameOverride != nil {
		snap["name_override"] = *o.NameOverride
	}
	if o.FrequencyOverride != nil {
		snap["frequency_override"] = *o.FrequencyOverride
	}
	if o.ProcedureOverride != nil {
		snap["procedure_override"] = *o.ProcedureOverride
	}
	if o.ExpectedEvidenceOverride != nil {
		snap["expected_evidence_override"] = *o.ExpectedEvidenceOverride
	}
	if o.Notes != nil {
		snap["notes"] = *o.Notes
	}
	registry.SnapshotMeta(snap, &o.VersionedMetadata)
	return snap
}

// Fields is the caller-supplied override payload. Each nil pointer
// means "no override for that field".
type Fields struct {
	Name             *string
	Frequency        *string
	Procedure        *string
	ExpectedEvidence *string
	Notes            *string
}

// EffectiveAttribute is a test attribute after override resolution.
// Source and OverrideID name the most specific layer that supplied a
// non-null procedure or expected evidence; base otherwise.
type EffectiveAttribute struct {
	TestAttributeID  string
	Code             string
	Name             string
	Frequency        *string
	TestProcedure    *string
	ExpectedEvidence *string
	Source           string
	OverrideID       *string
	BaseVersionNum   int
}
