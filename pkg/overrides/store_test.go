package overrides

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/auditstack/evidence-registry/pkg/errdefs"
	"github.com/auditstack/evidence-registry/pkg/registry"
	"github.com/auditstack/evidence-registry/pkg/scope"
	"github.com/auditstack/evidence-registry/pkg/tenancy"
	"github.com/auditstack/evidence-registry/pkg/versions"
)

func strptr(s string) *string { return &s }

type fixture struct {
	db    *gorm.DB
	store *Store

	tc              tenancy.Context
	projectControl  *scope.ProjectControl
	control         *registry.Control
	application     *registry.Application
	otherApp        *registry.Application
	testAttribute   *registry.TestAttribute
	foreignAttr     *registry.TestAttribute
}

// newFixture seeds a project with one bound control, one bound
// application and one test attribute carrying base procedure P0 and
// evidence E0.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, registry.AutoMigrate(db))
	vs := versions.NewStore(db)
	require.NoError(t, vs.AutoMigrate())
	require.NoError(t, scope.AutoMigrate(db))
	store := NewStore(db, vs)
	require.NoError(t, store.AutoMigrate())

	tc := tenancy.Context{TenantID: "tenant-a", MembershipID: "member-1"}
	projects := registry.NewProjectRegistry(db, vs)
	controls := registry.NewControlRegistry(db, vs)
	apps := registry.NewApplicationRegistry(db, vs)
	attrs := registry.NewTestAttributeRegistry(db, vs)

	project, err := projects.Create(tc, &registry.Project{Name: "FY26 Audit"})
	require.NoError(t, err)
	control, err := controls.Create(tc, &registry.Control{ControlCode: "C-1", Name: "Access review"})
	require.NoError(t, err)
	foreign, err := controls.Create(tc, &registry.Control{ControlCode: "C-2", Name: "Change mgmt"})
	require.NoError(t, err)
	app, err := apps.Create(tc, &registry.Application{Name: "SAP"})
	require.NoError(t, err)
	otherApp, err := apps.Create(tc, &registry.Application{Name: "Oracle"})
	require.NoError(t, err)

	attr, err := attrs.Create(tc, &registry.TestAttribute{
		ControlID:        control.ID,
		Code:             "TA-1",
		Name:             "Sample pull",
		TestProcedure:    strptr("P0"),
		ExpectedEvidence: strptr("E0"),
	})
	require.NoError(t, err)
	foreignAttr, err := attrs.Create(tc, &registry.TestAttribute{
		ControlID: foreign.ID,
		Code:      "TA-1",
		Name:      "Other control attr",
	})
	require.NoError(t, err)

	pc, err := scope.NewProjectControlBinder(db).Bind(tc, project.ID, control.ID, nil)
	require.NoError(t, err)
	_, err = scope.NewControlApplicationBinder(db).Bind(tc, pc.GetID(), app.ID, nil)
	require.NoError(t, err)

	return &fixture{
		db:             db,
		store:          store,
		tc:             tc,
		projectControl: pc,
		control:        control,
		application:    app,
		otherApp:       otherApp,
		testAttribute:  attr,
		foreignAttr:    foreignAttr,
	}
}

func TestStore_UpsertCreatesThenUpdates(t *testing.T) {
	f := newFixture(t)

	created, err := f.store.Upsert(f.tc, f.projectControl.ID, f.testAttribute.ID, nil, Fields{
		Procedure: strptr("P1"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created.RowVersion)
	assert.Equal(t, f.testAttribute.RowVersion, created.BaseVersionNum)
	assert.True(t, created.Global())

	// Second upsert on the same scope updates in place; the base pin
	// stays frozen even though the attribute moved on.
	attrs := registry.NewTestAttributeRegistry(f.db, versions.NewStore(f.db))
	_, err = attrs.Update(f.tc, f.testAttribute.ID, func(ta *registry.TestAttribute) error {
		ta.Name = "Renamed"
		return nil
	})
	require.NoError(t, err)

	updated, err := f.store.Upsert(f.tc, f.projectControl.ID, f.testAttribute.ID, nil, Fields{
		Procedure: strptr("P2"),
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, 2, updated.RowVersion)
	assert.Equal(t, created.BaseVersionNum, updated.BaseVersionNum)
}

func TestStore_UpsertValidatesCrossReferences(t *testing.T) {
	f := newFixture(t)

	// Attribute from another control.
	_, err := f.store.Upsert(f.tc, f.projectControl.ID, f.foreignAttr.ID, nil, Fields{})
	assert.True(t, errdefs.IsValidation(err))

	// Application not bound under the project control.
	_, err = f.store.Upsert(f.tc, f.projectControl.ID, f.testAttribute.ID, &f.otherApp.ID, Fields{})
	assert.True(t, errdefs.IsValidation(err))

	// Unknown project control.
	_, err = f.store.Upsert(f.tc, "missing-pc", f.testAttribute.ID, nil, Fields{})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestStore_GlobalAndAppScopesAreDisjoint(t *testing.T) {
	f := newFixture(t)

	global, err := f.store.Upsert(f.tc, f.projectControl.ID, f.testAttribute.ID, nil, Fields{
		Procedure: strptr("P-global"),
	})
	require.NoError(t, err)

	appSpecific, err := f.store.Upsert(f.tc, f.projectControl.ID, f.testAttribute.ID, &f.application.ID, Fields{
		Procedure: strptr("P-app"),
	})
	require.NoError(t, err)
	assert.NotEqual(t, global.ID, appSpecific.ID)

	// Deleting one frees only its own scope.
	_, err = f.store.Delete(f.tc, global.ID)
	require.NoError(t, err)
	replacement, err := f.store.Upsert(f.tc, f.projectControl.ID, f.testAttribute.ID, nil, Fields{
		Procedure: strptr("P-global-2"),
	})
	require.NoError(t, err)
	assert.NotEqual(t, global.ID, replacement.ID)
	assert.Equal(t, 1, replacement.RowVersion)
}

// The resolution example from the design discussions: base P0/E0, a
// global override bringing procedure P1, an app-specific override on
// A1 bringing evidence E2. A1 resolves to P1/E2; an app without its
// own row resolves to P1/E0.
func TestStore_ResolvePerFieldFallthrough(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.Upsert(f.tc, f.projectControl.ID, f.testAttribute.ID, nil, Fields{
		Procedure: strptr("P1"),
	})
	require.NoError(t, err)
	appOverride, err := f.store.Upsert(f.tc, f.projectControl.ID, f.testAttribute.ID, &f.application.ID, Fields{
		ExpectedEvidence: strptr("E2"),
	})
	require.NoError(t, err)

	eff, err := f.store.Resolve(f.tc, f.projectControl.ID, f.application.ID, f.testAttribute.ID)
	require.NoError(t, err)
	require.NotNil(t, eff.TestProcedure)
	require.NotNil(t, eff.ExpectedEvidence)
	assert.Equal(t, "P1", *eff.TestProcedure)
	assert.Equal(t, "E2", *eff.ExpectedEvidence)
	assert.Equal(t, SourceAppOverride, eff.Source)
	require.NotNil(t, eff.OverrideID)
	assert.Equal(t, appOverride.ID, *eff.OverrideID)

	// An application with no specific row falls through to the global
	// override for procedure and the base for evidence.
	eff, err = f.store.Resolve(f.tc, f.projectControl.ID, f.otherApp.ID, f.testAttribute.ID)
	require.NoError(t, err)
	assert.Equal(t, "P1", *eff.TestProcedure)
	assert.Equal(t, "E0", *eff.ExpectedEvidence)
	assert.Equal(t, SourceGlobalOverride, eff.Source)
}

func TestStore_ResolveBaseOnly(t *testing.T) {
	f := newFixture(t)

	eff, err := f.store.Resolve(f.tc, f.projectControl.ID, f.application.ID, f.testAttribute.ID)
	require.NoError(t, err)
	assert.Equal(t, "P0", *eff.TestProcedure)
	assert.Equal(t, "E0", *eff.ExpectedEvidence)
	assert.Equal(t, SourceBase, eff.Source)
	assert.Nil(t, eff.OverrideID)
	assert.Equal(t, f.testAttribute.RowVersion, eff.BaseVersionNum)
}

func TestStore_DeleteCapturesLedgerEntry(t *testing.T) {
	f := newFixture(t)

	created, err := f.store.Upsert(f.tc, f.projectControl.ID, f.testAttribute.ID, nil, Fields{
		Notes: strptr("temporary"),
	})
	require.NoError(t, err)

	_, err = f.store.Delete(f.tc, created.ID)
	require.NoError(t, err)

	records, err := versions.NewStore(f.db).ListVersions(f.tc.TenantID, EntityTypeOverride, created.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, versions.OpDelete, records[0].Operation)
}
