// Package gate is the deterministic semantic/output quality gate. It inspects
// a finished payload against the request and the resolution and classifies
// the turn as PASS, REPAIRABLE_FAIL, or HARD_FAIL. Evaluation is pure: same
// inputs, same verdict.
package gate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"reportlens/internal/logging"
	"reportlens/internal/ontology"
	"reportlens/internal/types"
)

// metricAliasExpansions covers common business-table label variants that the
// alias tables alone do not reach.
var metricAliasExpansions = map[string][]string{
	"revenue":            {"sales", "sales amount", "sales value"},
	"sold quantity":      {"qty", "quantity", "stock qty"},
	"outstanding amount": {"amount due", "total amount due", "outstanding"},
	"stock balance":      {"balance", "balance qty", "item balance"},
}

var timeAxisTokens = []string{"date", "week", "month", "quarter", "year", "period"}

type checkList struct {
	checks []types.QualityCheck
}

func (l *checkList) add(name string, ok bool, class types.FailureClass, recoverable bool, detail string) {
	l.checks = append(l.checks, types.QualityCheck{
		ID:           fmt.Sprintf("QG%02d_%s", len(l.checks)+1, name),
		Passed:       ok,
		FailureClass: class,
		Recoverable:  recoverable,
		Detail:       detail,
	})
}

// Evaluate runs every applicable check and folds the results into a verdict.
// loopGuardTripped comes from the engine's repeated-execution guard.
func Evaluate(ont *ontology.Catalog, spec *types.RequestSpec, res *types.Resolution, payload *types.Payload, loopGuardTripped bool) *types.QualityVerdict {
	l := &checkList{}

	needsClarify := res != nil && res.NeedsClarification
	l.add("resolver_blocker_absent", !needsClarify, types.FailConstraint, false,
		"resolution must be blocker-free for direct execution")

	l.add("loop_guard_not_triggered", !loopGuardTripped, types.FailLoop, false,
		"repeated-execution guard must not trigger")

	payloadType := types.PayloadText
	noDataText := false
	if payload != nil {
		payloadType = payload.Type
		noDataText = payload.Type == types.PayloadText && strings.TrimSpace(payload.Text) != ""
	}
	l.add("payload_type_supported", payloadType == types.PayloadText || payloadType == types.PayloadTable,
		types.FailShape, true, "payload type must be text or report_table")

	directDocLookup := spec.DocumentID != ""
	if payload.IsTable() && res != nil && res.SelectedCapability != "" && !directDocLookup {
		ok := payload.CapabilityName == "" || payload.CapabilityName == res.SelectedCapability
		l.add("capability_alignment", ok, types.FailSemantic, true,
			"payload capability should align with the selected capability")
	}

	outputMode := spec.Output.Mode
	if (outputMode == types.OutputTopN || outputMode == types.OutputDetail || outputMode == types.OutputKPI) && !needsClarify {
		l.add("output_mode_payload_alignment", payload.IsTable() || noDataText,
			types.FailContract, true, "business output modes should return a report table")
	}

	if payload.IsTable() &&
		(spec.TaskType == types.TaskRanking || spec.TaskType == types.TaskDetail || spec.TaskType == types.TaskKPI) {
		l.add("non_empty_rows", payload.RowCount() > 0, types.FailData, true,
			"report table should contain rows for a business ask")
	}

	docID := docIDFromFilters(spec.Filters)
	if payload.IsTable() && docID != "" {
		l.add("document_filter_applied", documentIDApplied(docID, payload.Table),
			types.FailData, true, "document-constrained asks must return rows for that document only")
	}

	if payload.IsTable() && spec.TaskType == types.TaskTrend {
		l.add("trend_has_time_axis", hasTimeAxis(payload.Table), types.FailSemantic, true,
			"trend output should include a temporal axis column")
	}

	if payload.IsTable() && spec.TaskClass == types.ClassListLatestRecords {
		hasIdentifier := false
		for i := range payload.Table.Columns {
			if !numericColumn(payload.Table, i) {
				hasIdentifier = true
				break
			}
		}
		l.add("latest_records_axes", hasTimeAxis(payload.Table) && hasIdentifier,
			types.FailSemantic, true, "latest-record output needs a temporal column and an identifier column")
	}

	if payload.IsTable() && outputMode == types.OutputTopN && spec.TopN > 0 {
		l.add("top_n_bound", payload.RowCount() <= spec.TopN, types.FailShape, true,
			"top_n output should not exceed the requested rank size")
	}

	if payload.IsTable() {
		if outputMode == types.OutputKPI {
			l.add("kpi_payload_shape", payload.RowCount() == 1 && len(payload.Table.Columns) >= 1,
				types.FailShape, true, "kpi output should be a single-row table")
		} else if len(spec.Output.MinimalColumns) > 0 && !directDocLookup {
			missing := missingMinimalColumns(ont, spec.Output.MinimalColumns, payload.Table)
			ok := len(missing) == 0
			if !ok {
				// Dynamic labels (warehouse-specific balance columns and the
				// like) can defeat alias matching. Accept a table that still
				// has a dimension and a measure and is mostly complete.
				hasNumeric, hasDimension := false, false
				for i := range payload.Table.Columns {
					if numericColumn(payload.Table, i) {
						hasNumeric = true
					} else {
						hasDimension = true
					}
				}
				allowed := len(spec.Output.MinimalColumns) / 2
				if allowed < 1 {
					allowed = 1
				}
				if hasNumeric && hasDimension && len(missing) <= allowed {
					ok = true
				}
			}
			l.add("minimal_columns_present", ok, types.FailContract, true,
				fmt.Sprintf("missing minimal columns: %v", missing))
		}
	}

	verdict := fold(l.checks)
	logging.Gate("verdict=%s failed=%v", verdict.Verdict, verdict.FailedCheckIDs)
	return verdict
}

func fold(checks []types.QualityCheck) *types.QualityVerdict {
	v := &types.QualityVerdict{Checks: checks, Verdict: types.VerdictPass}
	for _, c := range checks {
		if c.Passed {
			continue
		}
		v.FailedCheckIDs = append(v.FailedCheckIDs, c.ID)
		if c.Recoverable {
			v.RepairableCheckIDs = append(v.RepairableCheckIDs, c.ID)
		} else {
			v.HardFailCheckIDs = append(v.HardFailCheckIDs, c.ID)
		}
	}
	switch {
	case len(v.HardFailCheckIDs) > 0:
		v.Verdict = types.VerdictHardFail
	case len(v.RepairableCheckIDs) > 0:
		v.Verdict = types.VerdictRepairableFail
	}
	return v
}

func docIDFromFilters(filters map[string]string) string {
	// Deterministic scan order.
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := strings.TrimSpace(filters[k])
		if v != "" && ontology.FindDocumentID(v) != "" {
			return v
		}
	}
	return ""
}

// documentIDApplied accepts a table only when every doc-like id it contains
// is the requested one.
func documentIDApplied(docID string, table *types.Table) bool {
	seen := map[string]bool{}
	for _, row := range table.Rows {
		for _, cell := range row {
			s := strings.TrimSpace(fmt.Sprintf("%v", cell))
			if s != "" && ontology.FindDocumentID(s) != "" {
				seen[s] = true
			}
		}
	}
	if len(seen) != 1 {
		return false
	}
	return seen[docID]
}

func hasTimeAxis(table *types.Table) bool {
	for _, name := range table.Columns {
		n := strings.ReplaceAll(strings.ToLower(name), "_", " ")
		for _, tok := range timeAxisTokens {
			if strings.Contains(n, tok) {
				return true
			}
		}
	}
	return false
}

// numericColumn samples up to 30 rows and reports whether at least half of
// the non-empty values parse as numbers.
func numericColumn(table *types.Table, col int) bool {
	limit := len(table.Rows)
	if limit > 30 {
		limit = 30
	}
	nonEmpty, numeric := 0, 0
	for _, row := range table.Rows[:limit] {
		if col >= len(row) {
			continue
		}
		switch row[col].(type) {
		case int, int64, float32, float64:
			nonEmpty++
			numeric++
			continue
		}
		s := strings.TrimSpace(fmt.Sprintf("%v", row[col]))
		if s == "" || s == "<nil>" {
			continue
		}
		nonEmpty++
		if _, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64); err == nil {
			numeric++
		}
	}
	if nonEmpty == 0 {
		return false
	}
	return numeric*2 >= nonEmpty
}

func missingMinimalColumns(ont *ontology.Catalog, wanted []string, table *types.Table) []string {
	names := make([]string, 0, len(table.Columns))
	for _, c := range table.Columns {
		if n := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(c)), "_", " "); n != "" {
			names = append(names, n)
		}
	}
	var missing []string
	for _, target := range wanted {
		if !columnPresent(ont, names, target) {
			missing = append(missing, strings.ToLower(strings.TrimSpace(target)))
		}
	}
	return missing
}

func columnPresent(ont *ontology.Catalog, names []string, target string) bool {
	aliases := map[string]bool{}
	for _, a := range ont.SemanticAliases(target, false) {
		aliases[a] = true
	}
	base := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(target)), "_", " ")
	if base != "" {
		aliases[base] = true
	}
	for root, extras := range metricAliasExpansions {
		if aliases[root] {
			for _, e := range extras {
				aliases[e] = true
			}
		}
	}
	for _, n := range names {
		for a := range aliases {
			if a == n || strings.Contains(n, a) || strings.Contains(a, n) {
				return true
			}
		}
	}
	return false
}
