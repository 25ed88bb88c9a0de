// Package pbc is the generation engine: it materializes evidence
// request line items from the project's active scope cross-product,
// snapshotting resolved procedure and evidence values at generation
// time. Snapshots are written once; later changes to controls,
// attributes or overrides never touch existing items.
package pbc

import (
	"time"

	"github.com/auditstack/evidence-registry/pkg/registry"
)

// Table names.
const (
	TableRequests = "pbc_requests"
	TableItems    = "pbc_request_items"
)

// Request statuses. Only draft requests are eligible for regeneration.
const (
	RequestStatusDraft      = "draft"
	RequestStatusInProgress = "in_progress"
	RequestStatusCompleted  = "completed"
)

// Item workflow statuses.
const (
	ItemStatusNotStarted = "not_started"
	ItemStatusRequested  = "requested"
	ItemStatusReceived   = "received"
	ItemStatusInReview   = "in_review"
	ItemStatusComplete   = "complete"
	ItemStatusException  = "exception"
)

// Generation modes.
const (
	ModeNew           = "new"
	ModeReplaceDrafts = "replace_drafts"
)

// Request is one evidence request against a project.
type Request struct {
	ID           string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID     string     `gorm:"column:tenant_id;type:varchar(36);not null;index:idx_pbc_requests_tenant_project,priority:1"`
	ProjectID    string     `gorm:"column:project_id;type:varchar(36);not null;index:idx_pbc_requests_tenant_project,priority:2"`
	Title        string     `gorm:"column:title;size:255;not null"`
	DueDate      *time.Time `gorm:"column:due_date"`
	Instructions *string    `gorm:"column:instructions;type:text"`
	Status       string     `gorm:"column:status;size:50;not null;default:draft"`
	registry.VersionedMetadata
}

// TableName returns the GORM table name.
func (Request) TableName() string { return TableRequests }

// Item is one line of a request: a (project control, application, test
// attribute) triple with resolved values frozen at generation time.
// The pinned_* and *_snapshot columns are immutable after insert; only
// the workflow fields change afterwards.
type Item struct {
	ID               string  `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID         string  `gorm:"column:tenant_id;type:varchar(36);not null;index;uniqueIndex:ux_pbc_items_active,priority:1"`
	ProjectID        string  `gorm:"column:project_id;type:varchar(36);not null;index"`
	RequestID        string  `gorm:"column:pbc_request_id;type:varchar(36);not null;index;uniqueIndex:ux_pbc_items_active,priority:2"`
	ProjectControlID *string `gorm:"column:project_control_id;type:varchar(36);index;uniqueIndex:ux_pbc_items_active,priority:3"`
	ControlID        *string `gorm:"column:control_id;type:varchar(36);index"`
	ApplicationID    *string `gorm:"column:application_id;type:varchar(36);index;uniqueIndex:ux_pbc_items_active,priority:4"`
	TestAttributeID  *string `gorm:"column:test_attribute_id;type:varchar(36);index;uniqueIndex:ux_pbc_items_active,priority:5"`
	ActiveGuard      *string `gorm:"column:active_guard;uniqueIndex:ux_pbc_items_active,priority:6"`

	PinnedControlVersionNum       *int    `gorm:"column:pinned_control_version_num"`
	PinnedTestAttributeVersionNum *int    `gorm:"column:pinned_test_attribute_version_num"`
	EffectiveProcedureSnapshot    *string `gorm:"column:effective_procedure_snapshot;type:text"`
	EffectiveEvidenceSnapshot     *string `gorm:"column:effective_evidence_snapshot;type:text"`
	SourceSnapshot                string  `gorm:"column:source_snapshot;size:50;not null"`
	OverrideIDSnapshot            *string `gorm:"column:override_id_snapshot;type:varchar(36)"`

	Status               string  `gorm:"column:status;size:50;not null;default:not_started"`
	AssigneeMembershipID *string `gorm:"column:assignee_membership_id;type:varchar(36);index"`
	InstructionsExtra    *string `gorm:"column:instructions_extra;type:text"`
	Notes                *string `gorm:"column:notes;type:text"`
	registry.VersionedMetadata
}

// TableName returns the GORM table name.
func (Item) TableName() string { return TableItems }

// GenerateParams drives one generation run.
type GenerateParams struct {
	ProjectID string
	// Mode is ModeNew or ModeReplaceDrafts.
	Mode string
	// ControlID, when set, narrows the generated triples to project
	// controls over that control. replace_drafts still clears every
	// draft of the project.
	ControlID    *string
	Title        *string
	DueDate      *time.Time
	Instructions *string
}

// GenerateResult reports one generation run.
type GenerateResult struct {
	RequestID    string
	ItemsCreated int
}

// RequestPatch carries optional request updates; nil leaves the field
// unchanged.
type RequestPatch struct {
	Title        *string
	DueDate      *time.Time
	Status       *string
	Instructions *string
}

// ItemPatch carries optional item workflow updates; nil leaves the
// field unchanged. Snapshot fields have no patch surface.
type ItemPatch struct {
	Status               *string
	AssigneeMembershipID *string
	InstructionsExtra    *string
	Notes                *string
}

// ItemParams creates one item by hand, outside a generation run.
type ItemParams struct {
	ProjectControlID     *string
	ControlID            *string
	ApplicationID        *string
	TestAttributeID      *string
	Status               string
	AssigneeMembershipID *string
	InstructionsExtra    *string
	Notes                *string
}

func validRequestStatus(s string) bool {
	switch s {
	case RequestStatusDraft, RequestStatusInProgress, RequestStatusCompleted:
		return true
	}
	return false
}

func validItemStatus(s string) bool {
	switch s {
	case ItemStatusNotStarted, ItemStatusRequested, ItemStatusReceived,
		ItemStatusInReview, ItemStatusComplete, ItemStatusException:
		return true
	}
	return false
}
