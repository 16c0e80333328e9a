package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportlens/internal/types"
)

func priorState() *types.TopicState {
	return &types.TopicState{
		ActiveTopic: &types.ActiveTopic{
			TopicKey: "sales revenue|revenue|sales analytics",
			Domain:   types.DomainSales,
			Subject:  "sales revenue",
			Metric:   "revenue",
			GroupBy:  []string{"customer"},
			TopN:     5,
			Filters:  map[string]string{"company": "Acme Corp"},
			TimeScope: types.TimeScope{
				Mode: types.TimeRelative, Value: "last_month",
			},
			CapabilityName: "Sales Analytics",
		},
		ActiveResult: &types.ActiveResult{
			ResultID:       "Sales Analytics",
			CapabilityName: "Sales Analytics",
			DocumentID:     "SINV-ACC-2026-00042",
			OutputMode:     types.OutputTopN,
		},
	}
}

func TestAnchorCarriesContextForWeakTurn(t *testing.T) {
	spec := &types.RequestSpec{
		TaskType: types.TaskRanking,
		Filters:  map[string]string{},
		Output:   types.OutputContract{Mode: types.OutputDetail},
	}
	meta := Anchor(spec, priorState())

	assert.False(t, meta.TopicSwitched)
	assert.Equal(t, "sales revenue", spec.Subject)
	assert.Equal(t, "revenue", spec.Metric)
	assert.Equal(t, []string{"customer"}, spec.GroupBy)
	assert.Equal(t, 5, spec.TopN)
	assert.Equal(t, types.OutputTopN, spec.Output.Mode)
	assert.Equal(t, "Acme Corp", spec.Filters["company"])
	assert.Equal(t, types.TimeRelative, spec.TimeScope.Mode)
	assert.Equal(t, types.DomainSales, spec.Domain)
	assert.Contains(t, meta.Anchors, "subject")
	assert.Contains(t, meta.Anchors, "filters")
	assert.True(t, meta.Anchored())
}

func TestAnchorDocumentIDForDetailFollowup(t *testing.T) {
	spec := &types.RequestSpec{
		TaskType: types.TaskDetail,
		Filters:  map[string]string{},
		Output:   types.OutputContract{Mode: types.OutputDetail},
	}
	Anchor(spec, priorState())
	assert.Equal(t, "SINV-ACC-2026-00042", spec.Filters["document_id"])
}

func TestAnchorSkipsStrongFreshRequest(t *testing.T) {
	spec := &types.RequestSpec{
		TaskType:  types.TaskDetail,
		Subject:   "purchase orders pending delivery",
		Metric:    "ordered_qty",
		GroupBy:   []string{"supplier"},
		Filters:   map[string]string{"supplier": "Initech"},
		TimeScope: types.TimeScope{Mode: types.TimeRange, Value: "2026-01-01..2026-02-01"},
		Output:    types.OutputContract{Mode: types.OutputDetail},
	}
	meta := Anchor(spec, priorState())

	assert.True(t, meta.TopicSwitched)
	assert.Empty(t, meta.Anchors)
	assert.NotContains(t, spec.Filters, "company")
	assert.Zero(t, spec.TopN)
}

func TestAnchorCurrentFiltersWin(t *testing.T) {
	spec := &types.RequestSpec{
		TaskType: types.TaskRanking,
		Filters:  map[string]string{"company": "Globex"},
		Output:   types.OutputContract{Mode: types.OutputTopN},
	}
	Anchor(spec, priorState())
	assert.Equal(t, "Globex", spec.Filters["company"])
}

func TestAnchorNoPriorState(t *testing.T) {
	spec := &types.RequestSpec{
		TaskType: types.TaskRanking,
		Filters:  map[string]string{},
	}
	meta := Anchor(spec, nil)
	assert.False(t, meta.TopicSwitched)
	assert.Empty(t, meta.Anchors)
}

func TestMinimalColumnBackfill(t *testing.T) {
	spec := &types.RequestSpec{
		Subject: "sales",
		Metric:  "revenue",
		GroupBy: []string{"customer"},
		Filters: map[string]string{},
	}
	Anchor(spec, nil)
	assert.Equal(t, []string{"customer", "revenue"}, spec.Output.MinimalColumns)
}

func TestSignalStrength(t *testing.T) {
	assert.Equal(t, 0, SignalStrength(&types.RequestSpec{}))
	full := &types.RequestSpec{
		Subject:   "sales",
		Metric:    "revenue",
		GroupBy:   []string{"customer"},
		Filters:   map[string]string{"company": "Acme"},
		TimeScope: types.TimeScope{Mode: types.TimeRelative, Value: "last_month"},
		TopN:      5,
	}
	assert.Equal(t, 7, SignalStrength(full))
}

func TestOverlap(t *testing.T) {
	a := Tokenize("sales revenue customer")
	b := Tokenize("sales revenue supplier")
	assert.InDelta(t, 0.5, Overlap(a, b), 0.001)
	assert.Zero(t, Overlap(a, map[string]bool{}))
}

func TestExtractDocID(t *testing.T) {
	assert.Equal(t, "SINV-ACC-2026-00042", ExtractDocID(map[string]string{
		"invoice": "SINV-ACC-2026-00042",
	}))
	assert.Empty(t, ExtractDocID(map[string]string{"customer": "Acme"}))
	assert.Empty(t, ExtractDocID(map[string]string{"invoice": "not an id"}))
}

func TestDocIDFromPayload(t *testing.T) {
	table := &types.Table{
		Columns: []string{"Voucher", "Amount"},
		Rows: [][]interface{}{
			{"SINV-ACC-2026-00042", 120.0},
			{"SINV-ACC-2026-00042", 80.0},
		},
	}
	assert.Equal(t, "SINV-ACC-2026-00042", DocIDFromPayload(types.TablePayload(table)))

	table.Rows = append(table.Rows, []interface{}{"SINV-ACC-2026-00099", 10.0})
	assert.Empty(t, DocIDFromPayload(types.TablePayload(table)))
	assert.Empty(t, DocIDFromPayload(types.TextPayload("hello")))
}

func TestBuildTopicState(t *testing.T) {
	spec := &types.RequestSpec{
		Subject:   "sales revenue",
		Metric:    "revenue",
		Domain:    types.DomainSales,
		GroupBy:   []string{"customer"},
		TopN:      5,
		Filters:   map[string]string{"company": "Acme Corp", "empty": ""},
		TimeScope: types.TimeScope{Mode: types.TimeRelative, Value: "last_month"},
		Output:    types.OutputContract{Mode: types.OutputTopN},
	}
	res := &types.Resolution{SelectedCapability: "Sales Analytics"}
	payload := types.TablePayload(&types.Table{
		Columns: []string{"Customer", "Revenue"},
		Rows:    [][]interface{}{{"Acme Corp", 1200.0}},
	})
	payload.CapabilityName = "Sales Analytics"
	payload.ScaledUnit = "million"
	payload.OutputMode = types.OutputTopN

	state := BuildTopicState(spec, res, payload, &AnchorMeta{AnchoredStrength: 6}, "top customers by revenue", time.Now())
	require.NotNil(t, state.ActiveTopic)
	assert.Equal(t, "sales revenue|revenue|sales analytics", state.ActiveTopic.TopicKey)
	assert.Equal(t, "Sales Analytics", state.ActiveTopic.CapabilityName)
	assert.NotContains(t, state.ActiveTopic.Filters, "empty")

	require.NotNil(t, state.ActiveResult)
	assert.Equal(t, "million", state.ActiveResult.ScaledUnit)
	assert.Equal(t, types.OutputTopN, state.ActiveResult.OutputMode)

	require.NotNil(t, state.UnresolvedBlocker)
	assert.False(t, state.UnresolvedBlocker.Present)

	require.NotNil(t, state.TurnMeta)
	assert.NotEmpty(t, state.TurnMeta.TurnID)
	assert.Equal(t, 6, state.TurnMeta.SignalStrength)
}

func TestBuildTopicStateRecordsBlocker(t *testing.T) {
	spec := &types.RequestSpec{Filters: map[string]string{}}
	payload := types.TextPayload("Which company should I use?")
	payload.Pending = &types.PendingState{
		Mode:     types.PendingNeedFilters,
		Reason:   "missing_required_filter_value",
		Question: "Which company should I use?",
	}
	state := BuildTopicState(spec, nil, payload, nil, "show receivables", time.Now())
	require.NotNil(t, state.UnresolvedBlocker)
	assert.True(t, state.UnresolvedBlocker.Present)
	assert.Equal(t, "missing_required_filter_value", state.UnresolvedBlocker.Reason)
}
