package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportlens/internal/types"
)

func demoFixtures() *FixtureSet {
	return &FixtureSet{
		Reports: []ReportFixture{
			{
				Capability: "Sales Analytics",
				Columns:    []string{"Customer", "Company", "Revenue"},
				Rows: [][]interface{}{
					{"Acme Corp", "Initech Ltd", 1200.0},
					{"Globex", "Initech Ltd", 800.0},
					{"Acme Corp", "Umbrella Holdings", 400.0},
				},
			},
		},
		Entities: []EntityFixture{
			{Kind: "customer", Name: "Acme Corp", Aliases: []string{"Acme", "Acme Corporation"}},
			{Kind: "customer", Name: "Acme Industrial", Aliases: []string{"Acme Industrial"}},
			{Kind: "customer", Name: "Globex", Aliases: []string{"Globex Inc"}},
			{Kind: "company", Name: "Initech Ltd", Aliases: []string{"Initech"}},
		},
	}
}

func newTestBackend(t *testing.T) *LocalBackend {
	t.Helper()
	b, err := NewLocalBackend(filepath.Join(t.TempDir(), "backend.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	require.NoError(t, b.Seed(demoFixtures()))
	return b
}

func TestExecuteReturnsSeededTable(t *testing.T) {
	b := newTestBackend(t)
	table, err := b.Execute(context.Background(), "Sales Analytics", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Customer", "Company", "Revenue"}, table.Columns)
	assert.Len(t, table.Rows, 3)
}

func TestExecuteAppliesEqualityFilters(t *testing.T) {
	b := newTestBackend(t)
	table, err := b.Execute(context.Background(), "sales analytics", map[string]string{
		"company": "Initech Ltd",
	})
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)
	for _, row := range table.Rows {
		assert.Equal(t, "Initech Ltd", row[1])
	}
}

func TestExecuteIgnoresFiltersWithoutMatchingColumn(t *testing.T) {
	b := newTestBackend(t)
	table, err := b.Execute(context.Background(), "Sales Analytics", map[string]string{
		"from_date": "2026-01-01",
	})
	require.NoError(t, err)
	assert.Len(t, table.Rows, 3)
}

func TestExecuteUnknownCapability(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.Execute(context.Background(), "Profit Center Wheel", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapabilityUnknown)
}

func TestApplyCreateUpdateDelete(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	created, err := b.Apply(ctx, &types.WriteDraft{
		Doctype:   "ToDo",
		Operation: "create",
		Payload:   map[string]string{"description": "follow up with Acme"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created["name"])
	assert.Equal(t, "ToDo", created["doctype"])
	assert.Equal(t, "create", created["operation"])

	updated, err := b.Apply(ctx, &types.WriteDraft{
		Doctype:   "ToDo",
		Operation: "update",
		Payload:   map[string]string{"name": created["name"], "description": "done"},
	})
	require.NoError(t, err)
	assert.Equal(t, created["name"], updated["name"])

	deleted, err := b.Apply(ctx, &types.WriteDraft{
		Doctype:   "ToDo",
		Operation: "delete",
		Payload:   map[string]string{"name": created["name"]},
	})
	require.NoError(t, err)
	assert.Equal(t, "delete", deleted["operation"])

	_, err = b.Apply(ctx, &types.WriteDraft{
		Doctype:   "ToDo",
		Operation: "update",
		Payload:   map[string]string{"name": created["name"]},
	})
	assert.Error(t, err)
}

func TestApplyRejectsUnknownOperation(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.Apply(context.Background(), &types.WriteDraft{Doctype: "ToDo", Operation: "merge"})
	assert.Error(t, err)
}

func TestCandidatesIncludeNameAsAlias(t *testing.T) {
	b := newTestBackend(t)
	got, err := b.Candidates(context.Background(), "company")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Initech Ltd", got[0].Name)
	assert.Contains(t, got[0].Aliases, "Initech Ltd")
	assert.Contains(t, got[0].Aliases, "Initech")
}

func TestResolveEntityFiltersExactMatch(t *testing.T) {
	b := newTestBackend(t)
	filters, clar, err := ResolveEntityFilters(context.Background(), b, map[string]string{
		"customer": "acme corporation",
		"status":   "Open",
	})
	require.NoError(t, err)
	require.Nil(t, clar)
	assert.Equal(t, "Acme Corp", filters["customer"])
	assert.Equal(t, "Open", filters["status"])
}

func TestResolveEntityFiltersAmbiguous(t *testing.T) {
	b := newTestBackend(t)
	_, clar, err := ResolveEntityFilters(context.Background(), b, map[string]string{
		"customer": "acm",
	})
	require.NoError(t, err)
	require.NotNil(t, clar)
	assert.Equal(t, "entity_ambiguous", clar.Reason)
	assert.Equal(t, "customer", clar.FilterKey)
	assert.Equal(t, []string{"Acme Corp", "Acme Industrial"}, clar.Options)
	assert.Contains(t, clar.Question, "multiple matches")
}

func TestResolveEntityFiltersNoMatch(t *testing.T) {
	b := newTestBackend(t)
	_, clar, err := ResolveEntityFilters(context.Background(), b, map[string]string{
		"customer": "Wayne Enterprises",
	})
	require.NoError(t, err)
	require.NotNil(t, clar)
	assert.Equal(t, "entity_no_match", clar.Reason)
	assert.Empty(t, clar.Options)
}

func TestResolveEntityFiltersSkipsDocumentIDs(t *testing.T) {
	b := newTestBackend(t)
	filters, clar, err := ResolveEntityFilters(context.Background(), b, map[string]string{
		"customer": "SINV-ACC-2026-00042",
	})
	require.NoError(t, err)
	assert.Nil(t, clar)
	assert.Equal(t, "SINV-ACC-2026-00042", filters["customer"])
}

func TestResolveEntityFiltersUnverifiedWithoutMasters(t *testing.T) {
	b := newTestBackend(t)
	filters, clar, err := ResolveEntityFilters(context.Background(), b, map[string]string{
		"warehouse": "Main Store",
	})
	require.NoError(t, err)
	assert.Nil(t, clar)
	assert.Equal(t, "Main Store", filters["warehouse"])
}

func TestInferEntityKind(t *testing.T) {
	assert.Equal(t, "customer", InferEntityKind("customer"))
	assert.Equal(t, "customer", InferEntityKind("customer_name"))
	assert.Equal(t, "warehouse", InferEntityKind("source_warehouse"))
	assert.Equal(t, "", InferEntityKind("from_date"))
	assert.Equal(t, "", InferEntityKind(""))
}
