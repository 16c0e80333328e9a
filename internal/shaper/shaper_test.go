package shaper

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportlens/internal/ontology"
	"reportlens/internal/types"
)

func rankingSpec() *types.RequestSpec {
	return &types.RequestSpec{
		TaskType:  types.TaskRanking,
		TaskClass: types.ClassAnalyticalRead,
		Subject:   "top customers by revenue",
		Metric:    "revenue",
		GroupBy:   []string{"customer"},
		TopN:      2,
		Output: types.OutputContract{
			Mode:           types.OutputTopN,
			MinimalColumns: []string{"customer", "revenue"},
		},
	}
}

func revenueTable() *types.Table {
	return &types.Table{
		Columns: []string{"Customer", "Revenue"},
		Rows: [][]interface{}{
			{"Acme Corp", 1200.0},
			{"Globex", 800.0},
			{"Initech", 2400.0},
			{"Total", 4400.0},
		},
	}
}

func TestMinimalColumnsMergeOrder(t *testing.T) {
	spec := &types.RequestSpec{
		Metric:     "revenue",
		GroupBy:    []string{"customer"},
		Dimensions: []string{"territory", "Customer"},
		Output:     types.OutputContract{MinimalColumns: []string{"revenue", "posting date"}},
	}
	got := minimalColumns(spec)
	assert.Equal(t, []string{"customer", "territory", "revenue", "posting date"}, got)
}

func TestMinimalColumnsProjectionOnly(t *testing.T) {
	spec := &types.RequestSpec{
		Metric:      "revenue",
		GroupBy:     []string{"customer"},
		Ambiguities: []string{"transform_projection:only"},
		Output:      types.OutputContract{MinimalColumns: []string{"item", "qty"}},
	}
	assert.Equal(t, []string{"item", "qty"}, minimalColumns(spec))
}

func TestProjectTableTitleCaseLabels(t *testing.T) {
	ont := ontology.Default()
	table := &types.Table{
		Columns: []string{"customer_name", "sales_amount", "territory"},
		Rows:    [][]interface{}{{"Acme", 100.0, "West"}},
	}
	out := projectTable(ont, table, []string{"customer", "revenue"}, nil)
	require.NotNil(t, out)
	assert.Equal(t, []string{"Customer", "Revenue"}, out.Columns)
	assert.Equal(t, []interface{}{"Acme", 100.0}, out.Rows[0])
}

func TestBindColumnsPrefersExactOverSubstring(t *testing.T) {
	ont := ontology.Default()
	table := &types.Table{
		Columns: []string{"Customer Group", "Customer"},
		Rows:    [][]interface{}{{"Wholesale", "Acme"}},
	}
	bindings := bindColumns(ont, table, []string{"customer"}, nil)
	require.Len(t, bindings, 1)
	assert.Equal(t, 1, bindings[0].Index)
}

func TestBindColumnsMetricRequiresNumeric(t *testing.T) {
	ont := ontology.Default()
	table := &types.Table{
		Columns: []string{"Revenue Notes", "Revenue"},
		Rows: [][]interface{}{
			{"good quarter", 1200.0},
			{"steady", 800.0},
		},
	}
	bindings := bindColumns(ont, table, []string{"revenue"}, nil)
	require.Len(t, bindings, 1)
	assert.Equal(t, 1, bindings[0].Index)
}

func TestBindColumnsExplicitContractWins(t *testing.T) {
	ont := ontology.Default()
	table := &types.Table{
		Columns: []string{"Party", "Revenue", "Net Amount"},
		Rows: [][]interface{}{
			{"Acme", 100.0, 90.0},
			{"Globex", 200.0, 180.0},
		},
	}
	roles := &ColumnRoles{
		Metrics:    map[string][]string{"revenue": {"Net Amount"}},
		Dimensions: map[string][]string{"customer": {"Party"}},
	}

	bindings := bindColumns(ont, table, []string{"customer", "revenue"}, roles)
	require.Len(t, bindings, 2)
	assert.Equal(t, 0, bindings[0].Index)
	assert.Equal(t, 2, bindings[1].Index)

	// Without the contract, alias matching lands on the literal column.
	bindings = bindColumns(ont, table, []string{"revenue"}, nil)
	require.Len(t, bindings, 1)
	assert.Equal(t, 1, bindings[0].Index)
}

func TestShapeDropsContractAggregateRows(t *testing.T) {
	ont := ontology.Default()
	payload := types.TablePayload(&types.Table{
		Columns: []string{"Customer", "Revenue"},
		Rows: [][]interface{}{
			{"Acme Corp", 1200.0},
			{"Consolidated", 2000.0},
			{"Globex", 800.0},
		},
	})
	roles := &ColumnRoles{AggregateDimensionValues: []string{"Consolidated"}}

	out := Shape(ont, rankingSpec(), payload, roles)
	require.True(t, out.IsTable())
	require.Len(t, out.Table.Rows, 2)
	// The declared rollup row would otherwise rank first.
	assert.Equal(t, "Acme Corp", out.Table.Rows[0][0])
}

func TestShapeTopNDropsAggregateRowAndSorts(t *testing.T) {
	ont := ontology.Default()
	payload := types.TablePayload(revenueTable())
	out := Shape(ont, rankingSpec(), payload, nil)

	require.True(t, out.IsTable())
	assert.Equal(t, types.OutputTopN, out.OutputMode)
	require.Len(t, out.Table.Rows, 2)
	assert.Equal(t, "Initech", out.Table.Rows[0][0])
	assert.InDelta(t, 2400.0, out.Table.Rows[0][1].(float64), 0.001)
	assert.Equal(t, "Acme Corp", out.Table.Rows[1][0])
	assert.NotNil(t, out.SourceTable)
	assert.Equal(t, []string{"Customer", "Revenue"}, out.SourceColumns)
}

func TestApplyTopNFallsBackToSourceTable(t *testing.T) {
	ont := ontology.Default()
	spec := rankingSpec()
	spec.TopN = 3
	payload := types.TablePayload(&types.Table{
		Columns: []string{"Customer", "Revenue"},
		Rows:    [][]interface{}{{"Acme Corp", 1200.0}},
	})
	payload.SourceTable = revenueTable()

	applyTopN(ont, payload, spec, nil)
	require.Len(t, payload.Table.Rows, 3)
	assert.Equal(t, "Initech", payload.Table.Rows[0][0])
}

func TestShapeKPICollapsesToSingleRow(t *testing.T) {
	ont := ontology.Default()
	spec := &types.RequestSpec{
		TaskType: types.TaskKPI,
		Metric:   "revenue",
		Output: types.OutputContract{
			Mode:           types.OutputKPI,
			MinimalColumns: []string{"revenue"},
		},
	}
	payload := types.TablePayload(&types.Table{
		Columns: []string{"Customer", "Revenue"},
		Rows: [][]interface{}{
			{"Acme Corp", 1200.0},
			{"Globex", 800.0},
		},
	})
	out := Shape(ont, spec, payload, nil)
	require.Len(t, out.Table.Rows, 1)
	assert.Equal(t, []string{"Metric", "Value"}, out.Table.Columns)
	assert.Equal(t, "revenue", out.Table.Rows[0][0])
	assert.InDelta(t, 2000.0, out.Table.Rows[0][1].(float64), 0.001)
}

func TestShapeAppliesDocumentRowFilter(t *testing.T) {
	ont := ontology.Default()
	spec := &types.RequestSpec{
		TaskType: types.TaskDetail,
		Filters:  map[string]string{"invoice": "SINV-ACC-2026-00042"},
		Output:   types.OutputContract{Mode: types.OutputDetail},
	}
	payload := types.TablePayload(&types.Table{
		Columns: []string{"Invoice", "Amount"},
		Rows: [][]interface{}{
			{"SINV-ACC-2026-00042", 500.0},
			{"SINV-ACC-2026-00099", 900.0},
		},
	})
	out := Shape(ont, spec, payload, nil)
	require.Len(t, out.Table.Rows, 1)
	assert.Equal(t, "SINV-ACC-2026-00042", out.Table.Rows[0][0])
}

func TestShapeDirectDocumentLookupPassesThrough(t *testing.T) {
	ont := ontology.Default()
	spec := rankingSpec()
	spec.DocumentID = "SINV-ACC-2026-00042"
	table := revenueTable()
	payload := types.TablePayload(table)
	out := Shape(ont, spec, payload, nil)
	assert.Len(t, out.Table.Rows, 4)
	assert.Nil(t, out.SourceTable)
}

func TestEffectiveOutputModeInheritsForScaleOnlyFollowUp(t *testing.T) {
	payload := &types.Payload{OutputMode: types.OutputTopN}

	spec := &types.RequestSpec{
		Intent:      types.IntentTransformLast,
		Ambiguities: []string{"transform_scale:million"},
		Output:      types.OutputContract{Mode: types.OutputDetail},
	}
	assert.Equal(t, types.OutputTopN, EffectiveOutputMode(payload, spec))

	spec.Ambiguities = append(spec.Ambiguities, "transform_sort:desc")
	assert.Equal(t, types.OutputDetail, EffectiveOutputMode(payload, spec))
}

func TestEffectiveOutputModeExplicitAggregateWins(t *testing.T) {
	payload := &types.Payload{OutputMode: types.OutputTopN}
	spec := &types.RequestSpec{
		Intent:      types.IntentTransformLast,
		Aggregation: types.AggSum,
		Ambiguities: []string{"transform_scale:million"},
		Output:      types.OutputContract{Mode: types.OutputKPI},
	}
	assert.Equal(t, types.OutputKPI, EffectiveOutputMode(payload, spec))
}

func TestTransformLastScaleToMillionIsIdempotent(t *testing.T) {
	spec := &types.RequestSpec{
		Intent:      types.IntentTransformLast,
		Ambiguities: []string{"transform_scale:million"},
		Output:      types.OutputContract{Mode: types.OutputDetail},
	}
	payload := types.TablePayload(&types.Table{
		Columns: []string{"Customer", "Amount"},
		Rows:    [][]interface{}{{"Acme Corp", 2_500_000.0}},
	})

	out := TransformLast(spec, payload)
	require.Equal(t, "million", out.ScaledUnit)
	assert.InDelta(t, 2.5, toFloat(out.Table.Rows[0][1]), 0.0001)
	assert.True(t, out.TransformApplied)

	again := TransformLast(spec, out)
	assert.InDelta(t, 2.5, toFloat(again.Table.Rows[0][1]), 0.0001)
}

func TestTransformLastDowngradesScaleOnlyKPI(t *testing.T) {
	spec := &types.RequestSpec{
		Intent:      types.IntentTransformLast,
		Ambiguities: []string{"transform_scale:million"},
		Output:      types.OutputContract{Mode: types.OutputKPI},
	}
	payload := types.TablePayload(&types.Table{
		Columns: []string{"Customer", "Amount"},
		Rows: [][]interface{}{
			{"Acme Corp", 2_000_000.0},
			{"Globex", 1_000_000.0},
		},
	})
	out := TransformLast(spec, payload)
	require.Len(t, out.Table.Rows, 2)
	assert.Equal(t, "million", out.ScaledUnit)
	assert.InDelta(t, 2.0, toFloat(out.Table.Rows[0][1]), 0.0001)
}

func TestTransformLastKPITotalWithExplicitAggregation(t *testing.T) {
	spec := &types.RequestSpec{
		Intent:      types.IntentTransformLast,
		Metric:      "outstanding amount",
		Aggregation: types.AggSum,
		Output:      types.OutputContract{Mode: types.OutputKPI},
	}
	payload := types.TablePayload(&types.Table{
		Columns: []string{"Customer", "Outstanding Amount"},
		Rows: [][]interface{}{
			{"Acme Corp", 500.0},
			{"Globex", 300.0},
			{"Initech", 200.0},
		},
	})
	out := TransformLast(spec, payload)
	require.Len(t, out.Table.Rows, 1)
	assert.Equal(t, []string{"Metric", "Value"}, out.Table.Columns)
	assert.Equal(t, "Outstanding Amount", out.Table.Rows[0][0])
	assert.InDelta(t, 1000.0, toFloat(out.Table.Rows[0][1]), 0.001)
}

func TestTransformLastTopNSortsAndTruncates(t *testing.T) {
	spec := &types.RequestSpec{
		Intent: types.IntentTransformLast,
		Metric: "revenue",
		TopN:   2,
		Output: types.OutputContract{Mode: types.OutputTopN},
	}
	payload := types.TablePayload(revenueTable())
	out := TransformLast(spec, payload)
	require.Len(t, out.Table.Rows, 2)
	assert.Equal(t, "Total", out.Table.Rows[0][0])
	assert.Equal(t, "Initech", out.Table.Rows[1][0])
	assert.True(t, out.TransformApplied)
}

func TestTransformLastIgnoresNonTransformIntent(t *testing.T) {
	spec := rankingSpec()
	payload := types.TablePayload(revenueTable())
	out := TransformLast(spec, payload)
	assert.Len(t, out.Table.Rows, 4)
	assert.False(t, out.TransformApplied)
}

func TestDetectTemporalColumn(t *testing.T) {
	table := &types.Table{Columns: []string{"Customer", "Posting Date", "Amount"}}
	assert.Equal(t, 1, detectTemporalColumn(table))
	assert.Equal(t, -1, detectTemporalColumn(&types.Table{Columns: []string{"Customer", "Amount"}}))
}

func TestTemporalSortValueOrdering(t *testing.T) {
	day := temporalSortValue("2026-03-05")
	month := temporalSortValue("2026-03")
	week := temporalSortValue("2026-W10")
	assert.Greater(t, day, month)
	assert.Greater(t, week, month)
	assert.True(t, math.IsInf(temporalSortValue("not a date"), -1))
	assert.True(t, math.IsInf(temporalSortValue(""), -1))
}

func TestSortedRowsForLatestRecordsUsesTemporalOrder(t *testing.T) {
	ont := ontology.Default()
	spec := &types.RequestSpec{
		TaskClass: types.ClassListLatestRecords,
		TopN:      2,
	}
	table := &types.Table{
		Columns: []string{"Voucher", "Posting Date", "Amount"},
		Rows: [][]interface{}{
			{"SINV-001", "2026-01-10", 100.0},
			{"SINV-003", "2026-03-02", 300.0},
			{"SINV-002", "2026-02-15", 200.0},
		},
	}
	rows := sortedRowsFor(ont, table, table.Rows, spec, nil)
	require.Len(t, rows, 3)
	assert.Equal(t, "SINV-003", rows[0][0])
	assert.Equal(t, "SINV-002", rows[1][0])
	assert.Equal(t, "SINV-001", rows[2][0])
}

func TestFormatForDisplayAddsCommaGrouping(t *testing.T) {
	payload := types.TablePayload(&types.Table{
		Columns: []string{"Customer", "Amount"},
		Rows: [][]interface{}{
			{"Acme Corp", 1234567.891},
			{"Globex", -1234.5},
		},
	})
	out := FormatForDisplay(payload)
	assert.Equal(t, "1,234,567.89", out.Table.Rows[0][1])
	assert.Equal(t, "-1,234.50", out.Table.Rows[1][1])
	assert.Equal(t, "Acme Corp", out.Table.Rows[0][0])

	// Stored payload keeps raw numbers.
	assert.Equal(t, 1234567.891, payload.Table.Rows[0][1])
}

func TestFormatWithCommas(t *testing.T) {
	assert.Equal(t, "0.00", formatWithCommas(0))
	assert.Equal(t, "999.00", formatWithCommas(999))
	assert.Equal(t, "1,000.00", formatWithCommas(1000))
	assert.Equal(t, "12,345,678.90", formatWithCommas(12345678.9))
}
