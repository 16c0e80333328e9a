package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"reportlens/internal/ontology"
)

const catalogYAML = `
generated_at: 2026-03-01T00:00:00Z
reports:
  - name: Sales Analytics
    family: Selling
    type: script_report
    filters:
      - fieldname: company
        label: Company
        fieldtype: Link
        options: Company
        required: true
      - fieldname: from_date
        label: From Date
        fieldtype: Date
      - fieldname: to_date
        label: To Date
        fieldtype: Date
    required_filter_names: [company]
  - name: Stock Balance
    family: Stock
    type: script_report
    filters:
      - fieldname: warehouse
        label: Warehouse
        fieldtype: Link
        options: Warehouse
  - name: Disabled Report
    family: Other
    disabled: true
`

func TestBuildIndexSummary(t *testing.T) {
	ont := ontology.Default()
	sources := []Source{
		sampleSource(),
		{Name: "Stock Balance", Family: "Stock", Filters: []FilterDef{
			{Fieldname: "warehouse", Label: "Warehouse", Fieldtype: "Link", Options: "Warehouse"},
		}},
		{Name: "Skipped", Disabled: true},
	}

	idx, err := BuildIndex(ont, sources, time.Now().UTC(), 24)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Summary.TotalRows)
	assert.Equal(t, 2, idx.Summary.FreshRows)
	assert.Equal(t, 2, idx.Summary.KnownRequirements)
	assert.Empty(t, idx.Summary.InvalidRows)

	// Rows come back sorted by name regardless of build order.
	assert.Equal(t, "Sales Analytics", idx.Rows[0].Name)
	assert.Equal(t, "Stock Balance", idx.Rows[1].Name)
}

func TestBuildIndexEmpty(t *testing.T) {
	ont := ontology.Default()
	_, err := BuildIndex(ont, nil, time.Now(), 24)
	assert.ErrorIs(t, err, ErrCatalogEmpty)

	_, err = BuildIndex(ont, []Source{{Name: "Only", Disabled: true}}, time.Now(), 24)
	assert.ErrorIs(t, err, ErrCatalogEmpty)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0644))

	ont := ontology.Default()
	idx, err := LoadFile(ont, path, 24)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Summary.TotalRows)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), idx.GeneratedAt)

	row := idx.Row("Sales Analytics")
	require.NotNil(t, row)
	assert.Equal(t, []string{"company"}, row.Constraints.HardRequiredKinds)

	assert.Nil(t, idx.Row("No Such Report"))
}

func TestLoadFileMissing(t *testing.T) {
	ont := ontology.Default()
	_, err := LoadFile(ont, filepath.Join(t.TempDir(), "absent.yaml"), 24)
	assert.Error(t, err)
}

func TestProviderReplace(t *testing.T) {
	ont := ontology.Default()
	first, err := BuildIndex(ont, []Source{sampleSource()}, time.Now(), 24)
	require.NoError(t, err)

	p := NewProvider(first)
	assert.Same(t, first, p.Current())

	second, err := BuildIndex(ont, []Source{sampleSource(), {
		Name: "Stock Balance", Family: "Stock",
		Filters: []FilterDef{{Fieldname: "warehouse", Fieldtype: "Link", Options: "Warehouse"}},
	}}, time.Now(), 24)
	require.NoError(t, err)

	p.Replace(second)
	assert.Same(t, second, p.Current())
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0644))

	ont := ontology.Default()
	idx, err := LoadFile(ont, path, 24)
	require.NoError(t, err)
	provider := NewProvider(idx)

	w, err := NewWatcher(ont, provider, path, 24)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	extra := catalogYAML + `
  - name: Accounts Receivable
    family: Accounts
    filters:
      - fieldname: report_date
        label: Posting Date
        fieldtype: Date
`
	require.NoError(t, os.WriteFile(path, []byte(extra), 0644))

	deadline := time.After(5 * time.Second)
	for provider.Current().Summary.TotalRows != 3 {
		select {
		case <-deadline:
			t.Fatalf("catalog was not reloaded, rows=%d", provider.Current().Summary.TotalRows)
		case <-time.After(50 * time.Millisecond):
		}
	}
	require.NotNil(t, provider.Current().Row("Accounts Receivable"))
}
