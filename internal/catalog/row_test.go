package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportlens/internal/ontology"
	"reportlens/internal/types"
)

func sampleSource() Source {
	return Source{
		Name:   "Sales Analytics",
		Family: "Selling",
		Type:   "script_report",
		Filters: []FilterDef{
			{Fieldname: "company", Label: "Company", Fieldtype: "Link", Options: "Company", Required: true},
			{Fieldname: "customer", Label: "Customer", Fieldtype: "Link", Options: "Customer"},
			{Fieldname: "from_date", Label: "From Date", Fieldtype: "Date"},
			{Fieldname: "to_date", Label: "To Date", Fieldtype: "Date"},
		},
		RequiredFilterNames: []string{"company"},
	}
}

func TestBuildRowFilterKinds(t *testing.T) {
	ont := ontology.Default()
	row := BuildRow(ont, sampleSource(), time.Now(), 24)

	assert.Contains(t, row.Constraints.SupportedFilterKinds, "company")
	assert.Contains(t, row.Constraints.SupportedFilterKinds, "customer")
	assert.Contains(t, row.Constraints.SupportedFilterKinds, "from_date")
	assert.Contains(t, row.Constraints.SupportedFilterKinds, "to_date")
	assert.Equal(t, []string{"company"}, row.Constraints.HardRequiredKinds)
	assert.True(t, row.Constraints.RequirementsKnown)
	assert.True(t, row.TimeSupport.Range)
	assert.False(t, row.TimeSupport.AsOf)
	assert.Contains(t, row.Semantics.DimensionHints, "customer")
	assert.True(t, row.Semantics.SupportsRanking)
}

func TestBuildRowRankingOptOut(t *testing.T) {
	ont := ontology.Default()
	src := sampleSource()
	no := false
	src.SupportsRanking = &no

	row := BuildRow(ont, src, time.Now(), 24)
	assert.False(t, row.Semantics.SupportsRanking)
}

func TestBuildRowAsOfTimeSupport(t *testing.T) {
	ont := ontology.Default()
	src := Source{
		Name:   "Stock Balance",
		Family: "Stock",
		Type:   "script_report",
		Filters: []FilterDef{
			{Fieldname: "report_date", Label: "As On Date", Fieldtype: "Date"},
			{Fieldname: "warehouse", Label: "Warehouse", Fieldtype: "Link", Options: "Warehouse"},
		},
	}

	row := BuildRow(ont, src, time.Now(), 24)
	assert.True(t, row.TimeSupport.AsOf)
	assert.False(t, row.TimeSupport.Range)
	assert.Contains(t, row.Semantics.DomainHints, "inventory")
}

func TestBuildRowCarriesColumnContract(t *testing.T) {
	ont := ontology.Default()
	src := sampleSource()
	src.Contract = &types.CapabilityContract{
		MetricColumns:            map[string][]string{"revenue": {"Total Amount"}},
		DimensionColumns:         map[string][]string{"customer": {"Party"}},
		AggregateDimensionValues: []string{"Total"},
	}

	row := BuildRow(ont, src, time.Now(), 24)
	require.NotNil(t, row.Contract)
	assert.Equal(t, []string{"Total Amount"}, row.Contract.MetricColumns["revenue"])
	assert.Equal(t, []string{"Party"}, row.Contract.DimensionColumns["customer"])
	assert.Equal(t, []string{"Total"}, row.Contract.AggregateDimensionValues)

	// Contracts are optional catalog metadata.
	assert.Nil(t, BuildRow(ont, sampleSource(), time.Now(), 24).Contract)
}

func TestBuildRowConfidenceBounds(t *testing.T) {
	ont := ontology.Default()
	now := time.Now()

	rich := BuildRow(ont, sampleSource(), now, 24)
	assert.GreaterOrEqual(t, rich.Confidence, 0.05)
	assert.LessOrEqual(t, rich.Confidence, 0.95)

	bare := BuildRow(ont, Source{Name: "Mystery Report", Family: "Other"}, now, 24)
	assert.Greater(t, rich.Confidence, bare.Confidence)
}

func TestBuildRowNoFiltersFloor(t *testing.T) {
	ont := ontology.Default()
	row := BuildRow(ont, Source{
		Name:                "Company Snapshot",
		Family:              "Finance",
		RequirementsRawType: "no_filters",
	}, time.Now(), 24)

	assert.True(t, row.Constraints.RequirementsKnown)
	assert.GreaterOrEqual(t, row.Confidence, 0.62)
}

func TestFingerprintStableAcrossRebuilds(t *testing.T) {
	ont := ontology.Default()
	first := BuildRow(ont, sampleSource(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 24)
	second := BuildRow(ont, sampleSource(), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), 24)

	// Identical metadata means identical fingerprints even when rebuilt later.
	assert.Equal(t, first.Fingerprint, second.Fingerprint)

	changed := sampleSource()
	changed.Filters = changed.Filters[:2]
	third := BuildRow(ont, changed, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 24)
	assert.NotEqual(t, first.Fingerprint, third.Fingerprint)
}

func TestValidateRowCodes(t *testing.T) {
	assert.Equal(t, []string{"row_not_object"}, ValidateRow(nil))

	ont := ontology.Default()
	good := BuildRow(ont, sampleSource(), time.Now(), 24)
	require.Empty(t, ValidateRow(&good))

	bad := good
	bad.Name = ""
	bad.Confidence = 1.5
	bad.GeneratedAt = time.Time{}
	bad.Fingerprint = "tampered"
	errs := ValidateRow(&bad)
	assert.Contains(t, errs, "name_missing")
	assert.Contains(t, errs, "confidence_out_of_range")
	assert.Contains(t, errs, "generated_at_missing")
	assert.Contains(t, errs, "fingerprint_mismatch")

	missing := good
	missing.Fingerprint = ""
	assert.Contains(t, ValidateRow(&missing), "fingerprint_missing")
}

func TestRowFreshness(t *testing.T) {
	ont := ontology.Default()
	now := time.Now()
	row := BuildRow(ont, sampleSource(), now.Add(-48*time.Hour), 24)
	assert.False(t, row.Fresh(now))

	fresh := BuildRow(ont, sampleSource(), now, 24)
	assert.True(t, fresh.Fresh(now))
}

func TestRowSupportsKind(t *testing.T) {
	row := types.CapabilityRow{
		Constraints: types.CapabilityConstraints{SupportedFilterKinds: []string{"company", "customer"}},
	}
	assert.True(t, row.SupportsKind("customer"))
	assert.False(t, row.SupportsKind("warehouse"))
}
