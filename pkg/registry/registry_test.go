package registry

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/auditstack/evidence-registry/pkg/errdefs"
	"github.com/auditstack/evidence-registry/pkg/tenancy"
	"github.com/auditstack/evidence-registry/pkg/versions"
)

// newTestDB creates an in-memory SQLite DB with entity and ledger
// tables migrated.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	require.NoError(t, versions.NewStore(db).AutoMigrate())
	return db
}

// stepClock hands out strictly increasing instants one second apart.
type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func testCtx() tenancy.Context {
	return tenancy.Context{TenantID: "tenant-a", MembershipID: "member-1"}
}

func newControlRegistry(t *testing.T) (*Registry[*Control], *gorm.DB, *stepClock) {
	t.Helper()
	db := newTestDB(t)
	clock := newStepClock()
	reg := New(Config[*Control]{
		DB:        db,
		Versions:  versions.NewStore(db),
		Clock:     clock,
		NewEntity: func() *Control { return &Control{} },
	})
	return reg, db, clock
}

func TestRegistry_CreateAndGet(t *testing.T) {
	reg, _, _ := newControlRegistry(t)
	tc := testCtx()

	created, err := reg.Create(tc, &Control{ControlCode: "C-1", Name: "Access review"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.RowVersion)
	assert.Equal(t, "member-1", created.CreatedBy)
	assert.Nil(t, created.UpdatedAt)

	got, err := reg.Get(tc, created.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "C-1", got.ControlCode)
	require.NotNil(t, got.ActiveKey)
	assert.Equal(t, "C-1", *got.ActiveKey)
}

func TestRegistry_DuplicateActiveKey(t *testing.T) {
	reg, _, _ := newControlRegistry(t)
	tc := testCtx()

	_, err := reg.Create(tc, &Control{ControlCode: "C-1", Name: "First"})
	require.NoError(t, err)

	_, err = reg.Create(tc, &Control{ControlCode: "C-1", Name: "Second"})
	require.ErrorIs(t, err, errdefs.ErrDuplicateActiveKey)

	// Same code under a different tenant is fine.
	other := tenancy.Context{TenantID: "tenant-b", MembershipID: "member-9"}
	_, err = reg.Create(other, &Control{ControlCode: "C-1", Name: "Elsewhere"})
	require.NoError(t, err)
}

func TestRegistry_UpdateBumpsVersionAndCaptures(t *testing.T) {
	reg, db, _ := newControlRegistry(t)
	tc := testCtx()

	created, err := reg.Create(tc, &Control{ControlCode: "C-1", Name: "Before"})
	require.NoError(t, err)

	updated, err := reg.Update(tc, created.ID, func(c *Control) error {
		c.Name = "After"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.RowVersion)
	require.NotNil(t, updated.UpdatedBy)
	assert.Equal(t, "member-1", *updated.UpdatedBy)

	records, err := versions.NewStore(db).ListVersions(tc.TenantID, EntityTypeControl, created.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, versions.OpUpdate, records[0].Operation)
	assert.Equal(t, 1, records[0].VersionNum)
	assert.Equal(t, "Before", records[0].Snapshot["name"])
}

func TestRegistry_SoftDeleteCapturesDeleteOperation(t *testing.T) {
	reg, db, _ := newControlRegistry(t)
	tc := testCtx()

	created, err := reg.Create(tc, &Control{ControlCode: "C-1", Name: "Doomed"})
	require.NoError(t, err)

	deleted, err := reg.SoftDelete(tc, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted.RowVersion)
	require.NotNil(t, deleted.DeletedAt)
	require.NotNil(t, deleted.DeletedBy)
	assert.Equal(t, "member-1", *deleted.DeletedBy)
	assert.Nil(t, deleted.ActiveKey)

	_, err = reg.Get(tc, created.ID, false)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	_, err = reg.Get(tc, created.ID, true)
	assert.NoError(t, err)

	records, err := versions.NewStore(db).ListVersions(tc.TenantID, EntityTypeControl, created.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, versions.OpDelete, records[0].Operation)
	require.NotNil(t, records[0].ChangedBy)
	assert.Equal(t, "member-1", *records[0].ChangedBy)
	assert.Equal(t, "Doomed", records[0].Snapshot["name"])
}

func TestRegistry_KeyRecycling(t *testing.T) {
	reg, _, _ := newControlRegistry(t)
	tc := testCtx()

	first, err := reg.Create(tc, &Control{ControlCode: "C-1", Name: "First"})
	require.NoError(t, err)
	_, err = reg.SoftDelete(tc, first.ID)
	require.NoError(t, err)

	second, err := reg.Create(tc, &Control{ControlCode: "C-1", Name: "Second"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestRegistry_TenantIsolation(t *testing.T) {
	reg, _, _ := newControlRegistry(t)
	tc := testCtx()

	created, err := reg.Create(tc, &Control{ControlCode: "C-1", Name: "Mine"})
	require.NoError(t, err)

	other := tenancy.Context{TenantID: "tenant-b", MembershipID: "member-9"}
	_, err = reg.Get(other, created.ID, false)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	_, err = reg.Update(other, created.ID, func(c *Control) error { return nil })
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	_, err = reg.SoftDelete(other, created.ID)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	// Explicit platform-admin bypass still reads it.
	admin := tenancy.Context{TenantID: "tenant-b", MembershipID: "member-9", PlatformAdmin: true}
	got, err := reg.Get(admin, created.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "Mine", got.Name)
}

func TestRegistry_ListExcludesTombstones(t *testing.T) {
	reg, _, _ := newControlRegistry(t)
	tc := testCtx()

	a, err := reg.Create(tc, &Control{ControlCode: "C-1", Name: "Keep"})
	require.NoError(t, err)
	b, err := reg.Create(tc, &Control{ControlCode: "C-2", Name: "Drop"})
	require.NoError(t, err)
	_, err = reg.SoftDelete(tc, b.ID)
	require.NoError(t, err)

	active, err := reg.List(tc, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)

	all, err := reg.List(tc, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRegistry_GetAsOfTimeline(t *testing.T) {
	reg, _, clock := newControlRegistry(t)
	tc := testCtx()

	created, err := reg.Create(tc, &Control{ControlCode: "C-1", Name: "v1"})
	require.NoError(t, err)
	createdAt := created.CreatedAt

	_, err = reg.Update(tc, created.ID, func(c *Control) error {
		c.Name = "v2"
		return nil
	})
	require.NoError(t, err)

	_, err = reg.Update(tc, created.ID, func(c *Control) error {
		c.Name = "v3"
		return nil
	})
	require.NoError(t, err)

	// Before creation: not found.
	_, err = reg.GetAsOf(tc, created.ID, createdAt.Add(-time.Minute))
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	// Just after creation: the original image.
	snap, err := reg.GetAsOf(tc, created.ID, createdAt.Add(100*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "v1", snap["name"])

	// Now: the live row.
	snap, err = reg.GetAsOf(tc, created.ID, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, "v3", snap["name"])
}

func TestRegistry_TestAttributeKeyScopedToControl(t *testing.T) {
	db := newTestDB(t)
	vs := versions.NewStore(db)
	reg := NewTestAttributeRegistry(db, vs)
	tc := testCtx()

	_, err := reg.Create(tc, &TestAttribute{ControlID: "ctl-1", Code: "TA-1", Name: "One"})
	require.NoError(t, err)

	// Same code under another control does not collide.
	_, err = reg.Create(tc, &TestAttribute{ControlID: "ctl-2", Code: "TA-1", Name: "Two"})
	require.NoError(t, err)

	_, err = reg.Create(tc, &TestAttribute{ControlID: "ctl-1", Code: "TA-1", Name: "Dup"})
	assert.ErrorIs(t, err, errdefs.ErrDuplicateActiveKey)
}
