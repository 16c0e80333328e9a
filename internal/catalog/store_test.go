package catalog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportlens/internal/ontology"
)

func TestSnapshotStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")
	store, err := NewSnapshotStore(path)
	require.NoError(t, err)
	defer store.Close()

	ont := ontology.Default()
	idx, err := BuildIndex(ont, []Source{sampleSource(), {
		Name: "Stock Balance", Family: "Stock",
		Filters: []FilterDef{{Fieldname: "warehouse", Fieldtype: "Link", Options: "Warehouse"}},
	}}, time.Now().UTC(), 24)
	require.NoError(t, err)

	require.NoError(t, store.Save(idx))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, idx.Summary.TotalRows, loaded.Summary.TotalRows)

	orig := idx.Row("Sales Analytics")
	got := loaded.Row("Sales Analytics")
	require.NotNil(t, got)
	assert.Equal(t, orig.Fingerprint, got.Fingerprint)
	assert.Equal(t, orig.Constraints, got.Constraints)
	assert.Equal(t, orig.Semantics, got.Semantics)
}

func TestSnapshotStoreEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")
	store, err := NewSnapshotStore(path)
	require.NoError(t, err)
	defer store.Close()

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSnapshotStoreSaveReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")
	store, err := NewSnapshotStore(path)
	require.NoError(t, err)
	defer store.Close()

	ont := ontology.Default()
	two, err := BuildIndex(ont, []Source{sampleSource(), {
		Name: "Stock Balance", Family: "Stock",
		Filters: []FilterDef{{Fieldname: "warehouse", Fieldtype: "Link", Options: "Warehouse"}},
	}}, time.Now().UTC(), 24)
	require.NoError(t, err)
	require.NoError(t, store.Save(two))

	one, err := BuildIndex(ont, []Source{sampleSource()}, time.Now().UTC(), 24)
	require.NoError(t, err)
	require.NoError(t, store.Save(one))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 1, loaded.Summary.TotalRows)
	assert.Nil(t, loaded.Row("Stock Balance"))
}
