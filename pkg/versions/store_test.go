package versions

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/auditstack/evidence-registry/pkg/errdefs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	store := NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func captureAt(t *testing.T, s *Store, versionNum int, from, to time.Time, name string) {
	t.Helper()
	actor := "member-1"
	err := s.Capture(s.db, &EntityVersionRecord{
		TenantID:   "tenant-a",
		EntityType: "controls",
		EntityID:   "ctl-1",
		Operation:  OpUpdate,
		VersionNum: versionNum,
		ValidFrom:  from,
		ValidTo:    to,
		ChangedBy:  &actor,
		Snapshot:   JSONAny{"name": name},
	})
	require.NoError(t, err)
}

func TestStore_ListVersionsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	captureAt(t, store, 1, base, base.Add(time.Hour), "v1")
	captureAt(t, store, 2, base.Add(time.Hour), base.Add(2*time.Hour), "v2")

	records, err := store.ListVersions("tenant-a", "controls", "ctl-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 2, records[0].VersionNum)
	assert.Equal(t, 1, records[1].VersionNum)
	assert.Equal(t, "v2", records[0].Snapshot["name"])

	// Other tenants see nothing.
	records, err = store.ListVersions("tenant-b", "controls", "ctl-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStore_GetAsOfIntervals(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	captureAt(t, store, 1, base, base.Add(time.Hour), "v1")
	captureAt(t, store, 2, base.Add(time.Hour), base.Add(2*time.Hour), "v2")

	record, err := store.GetAsOf("tenant-a", "controls", "ctl-1", base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, record.VersionNum)

	// Interval boundaries are half-open: valid_to belongs to the next
	// version.
	record, err = store.GetAsOf("tenant-a", "controls", "ctl-1", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, record.VersionNum)

	// After the last retiring capture the live row is current.
	_, err = store.GetAsOf("tenant-a", "controls", "ctl-1", base.Add(3*time.Hour))
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	// Before any capture.
	_, err = store.GetAsOf("tenant-a", "controls", "ctl-1", base.Add(-time.Minute))
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestClassifyOperation(t *testing.T) {
	now := time.Now()
	assert.Equal(t, OpUpdate, ClassifyOperation(nil, nil))
	assert.Equal(t, OpDelete, ClassifyOperation(nil, &now))
	assert.Equal(t, OpUpdate, ClassifyOperation(&now, &now))
}
