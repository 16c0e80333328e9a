package memory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportlens/internal/types"
)

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	store, err := NewSessionStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionStoreNewSessionIsEmpty(t *testing.T) {
	store := newTestStore(t)
	rec, err := store.Load("fresh-session")
	require.NoError(t, err)
	assert.Nil(t, rec.TopicState)
	assert.Nil(t, rec.Pending)
	assert.Nil(t, rec.LastResult)
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	payload := types.TablePayload(&types.Table{
		Columns: []string{"Customer", "Revenue"},
		Rows:    [][]interface{}{{"Acme Corp", 1200.5}},
	})
	payload.CapabilityName = "Sales Analytics"

	rec := &SessionRecord{
		TopicState: priorState(),
		Pending: &types.PendingState{
			Mode:     types.PendingNeedFilters,
			Question: "Which company should I use?",
			Reason:   "missing_required_filter_value",
		},
		LastResult: payload,
	}
	require.NoError(t, store.Save("s1", rec))

	got, err := store.Load("s1")
	require.NoError(t, err)
	require.NotNil(t, got.TopicState)
	assert.Equal(t, "Sales Analytics", got.TopicState.ActiveTopic.CapabilityName)
	require.NotNil(t, got.Pending)
	assert.Equal(t, types.PendingNeedFilters, got.Pending.Mode)
	require.NotNil(t, got.LastResult)
	assert.Equal(t, 1, got.LastResult.RowCount())
}

func TestSessionStoreSaveClearsPending(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save("s1", &SessionRecord{
		TopicState: priorState(),
		Pending:    &types.PendingState{Mode: types.PendingPlannerClarify},
	}))
	require.NoError(t, store.Save("s1", &SessionRecord{TopicState: priorState()}))

	got, err := store.Load("s1")
	require.NoError(t, err)
	assert.Nil(t, got.Pending)
	assert.NotNil(t, got.TopicState)
}

func TestSessionStoreSessionsAreIsolated(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("a", &SessionRecord{TopicState: priorState()}))

	got, err := store.Load("b")
	require.NoError(t, err)
	assert.Nil(t, got.TopicState)
}

func TestMarkWriteExecutedIdempotency(t *testing.T) {
	store := newTestStore(t)

	first, err := store.MarkWriteExecuted("s1", "key-1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.MarkWriteExecuted("s1", "key-1")
	require.NoError(t, err)
	assert.False(t, second)

	other, err := store.MarkWriteExecuted("s1", "key-2")
	require.NoError(t, err)
	assert.True(t, other)
}
