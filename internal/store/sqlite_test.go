package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/investigator/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestSQLite_MigrateTwice(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_ForeignKeysEnforced(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateInstance(ctx, model.Instance{TypeID: 999, CustomName: "orphan", IsActive: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FOREIGN KEY")
}

func TestSQLite_TouchInstance(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	inst := seedInstance(t, st, seedType(t, st, "waybill"), "w")

	require.NoError(t, st.TouchInstance(ctx, inst.ID, t0))
	got, err := st.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastExecutedAt)
	assert.True(t, got.LastExecutedAt.Equal(t0))

	assert.ErrorIs(t, st.TouchInstance(ctx, "missing", t0), model.ErrNotFound)
}

func TestSQLite_DSNWithQuery(t *testing.T) {
	st, err := NewSQLite(filepath.Join(t.TempDir(), "q.db") + "?_txlock=immediate")
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	assert.NoError(t, st.Migrate(context.Background()))
}

func TestIsUniqueViolation(t *testing.T) {
	err := assert.AnError
	assert.False(t, isUniqueViolation(err, "investigator_instances.custom_name"))
}
