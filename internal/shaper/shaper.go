// Package shaper turns raw backend tables into the requested result shape:
// column projection, top-n ranking, kpi collapse, document row filtering,
// and the deterministic transform-last operations.
package shaper

import (
	"sort"
	"strings"

	"reportlens/internal/logging"
	"reportlens/internal/ontology"
	"reportlens/internal/types"
)

const maxProjectedColumns = 12

// minimalColumns merges the requested column names in semantic order:
// dimensions first, then the metric, then remaining contract hints.
func minimalColumns(spec *types.RequestSpec) []string {
	projectionOnly := spec.HasAmbiguity("transform_projection:only")

	var merged []string
	seen := map[string]bool{}
	appendUnique := func(v string) {
		s := strings.TrimSpace(v)
		if s == "" || seen[strings.ToLower(s)] {
			return
		}
		seen[strings.ToLower(s)] = true
		merged = append(merged, s)
	}

	if projectionOnly && len(spec.Output.MinimalColumns) > 0 {
		for _, c := range spec.Output.MinimalColumns {
			appendUnique(c)
		}
	} else {
		for _, c := range spec.GroupBy {
			appendUnique(c)
		}
		for _, c := range spec.Dimensions {
			appendUnique(c)
		}
		appendUnique(spec.Metric)
		for _, c := range spec.Output.MinimalColumns {
			appendUnique(c)
		}
	}
	if len(merged) > maxProjectedColumns {
		merged = merged[:maxProjectedColumns]
	}
	return merged
}

// projectTable rebuilds the table with only the bound columns, relabeled
// with Title Case versions of the requested names.
func projectTable(ont *ontology.Catalog, table *types.Table, wanted []string, roles *ColumnRoles) *types.Table {
	if table == nil || len(table.Columns) == 0 || len(table.Rows) == 0 || len(wanted) == 0 {
		return table
	}
	bindings := bindColumns(ont, table, wanted, roles)
	if len(bindings) == 0 {
		return table
	}

	out := &types.Table{}
	for _, b := range bindings {
		out.Columns = append(out.Columns, titleCase(b.Desired))
	}
	for _, row := range table.Rows {
		nr := make([]interface{}, len(bindings))
		for i, b := range bindings {
			if b.Index < len(row) {
				nr[i] = row[b.Index]
			}
		}
		out.Rows = append(out.Rows, nr)
	}
	return out
}

// detectMetricColumn finds the column index holding the requested metric, or
// the first numeric column, or -1.
func detectMetricColumn(ont *ontology.Catalog, table *types.Table, spec *types.RequestSpec, roles *ColumnRoles) int {
	metric := strings.TrimSpace(spec.Metric)
	canonical := ont.KnownMetric(metric)
	if canonical != "" {
		for _, f := range roles.metricFields(canonical) {
			for i, name := range table.Columns {
				if normName(f) == normName(name) {
					return i
				}
			}
		}
	}
	if metric != "" {
		mn := normName(metric)
		for i, name := range table.Columns {
			if strings.Contains(normName(name), mn) {
				return i
			}
		}
	}
	for i := range table.Columns {
		if numericColumn(table, i) {
			return i
		}
	}
	return -1
}

func requestedDimensionNames(ont *ontology.Catalog, spec *types.RequestSpec) []string {
	var out []string
	seen := map[string]bool{}
	for _, raw := range append(append([]string{}, spec.GroupBy...), spec.Dimensions...) {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		dim := ont.KnownDimension(v)
		if dim == "" {
			dim = strings.ToLower(v)
		}
		if seen[dim] {
			continue
		}
		seen[dim] = true
		out = append(out, dim)
	}
	return out
}

func detectDimensionColumn(ont *ontology.Catalog, table *types.Table, spec *types.RequestSpec, roles *ColumnRoles) int {
	requested := requestedDimensionNames(ont, spec)
	if len(requested) == 0 {
		return -1
	}
	bindings := bindColumns(ont, table, requested, roles)
	if len(bindings) == 0 {
		return -1
	}
	return bindings[0].Index
}

func isAggregateDimensionValue(value string, extra []string) bool {
	txt := normName(value)
	if txt == "" {
		return false
	}
	for _, candidate := range extra {
		if c := normName(candidate); c != "" && txt == c {
			return true
		}
	}
	return txt == "all" || txt == "total" || txt == "grand total" || strings.HasPrefix(txt, "all ")
}

// aggregateRowsByDimension groups rows by the dimension column, summing the
// metric column and keeping the first non-empty value elsewhere. Synthetic
// aggregate rows ("Total", "All ...") are dropped when detail rows exist.
func aggregateRowsByDimension(table *types.Table, dimCol, metricCol int, aggregateValues []string) [][]interface{} {
	if dimCol < 0 || metricCol < 0 || dimCol == metricCol {
		return table.Rows
	}

	type group struct {
		row       []interface{}
		aggregate bool
	}
	grouped := map[string]*group{}
	var order []string
	hasDetail := false

	for _, row := range table.Rows {
		if dimCol >= len(row) {
			continue
		}
		keyValue := strings.TrimSpace(toString(row[dimCol]))
		if keyValue == "" {
			continue
		}
		key := normName(keyValue)
		g, ok := grouped[key]
		if !ok {
			nr := make([]interface{}, len(table.Columns))
			nr[dimCol] = keyValue
			nr[metricCol] = 0.0
			g = &group{row: nr, aggregate: isAggregateDimensionValue(keyValue, aggregateValues)}
			grouped[key] = g
			order = append(order, key)
		}
		g.row[metricCol] = toFloat(g.row[metricCol]) + safeCell(row, metricCol)
		for i := range table.Columns {
			if i == metricCol || i == dimCol {
				continue
			}
			if g.row[i] == nil || toString(g.row[i]) == "" {
				if i < len(row) && toString(row[i]) != "" {
					g.row[i] = row[i]
				}
			}
		}
		if !g.aggregate {
			hasDetail = true
		}
	}

	var out [][]interface{}
	for _, key := range order {
		g := grouped[key]
		if hasDetail && g.aggregate {
			continue
		}
		out = append(out, g.row)
	}
	return out
}

func safeCell(row []interface{}, col int) float64 {
	if col >= len(row) {
		return 0
	}
	return toFloat(row[col])
}

func sortDirection(spec *types.RequestSpec) string {
	if spec.HasAmbiguity("transform_sort:asc") && !spec.HasAmbiguity("transform_sort:desc") {
		return "asc"
	}
	return "desc"
}

// scaledNumericColumns lists columns to divide when scaling to millions.
var scaleKeywords = []string{"amount", "revenue", "value", "total", "outstanding", "balance", "qty", "quantity"}

func scalableColumns(table *types.Table) []int {
	var out []int
	for i, name := range table.Columns {
		n := strings.ToLower(name)
		keyword := false
		for _, k := range scaleKeywords {
			if strings.Contains(n, k) {
				keyword = true
				break
			}
		}
		if keyword || numericColumn(table, i) {
			out = append(out, i)
		}
	}
	return out
}

func scaleRowsToMillion(table *types.Table, rows [][]interface{}) [][]interface{} {
	cols := scalableColumns(table)
	if len(cols) == 0 {
		return rows
	}
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		nr := append([]interface{}(nil), row...)
		for _, c := range cols {
			if c < len(nr) {
				nr[c] = toFloat(nr[c]) / 1_000_000.0
			}
		}
		out[i] = nr
	}
	return out
}

// applyTopN sorts and truncates the table to the requested rank size. When
// projection lost rows it falls back to the retained source table.
func applyTopN(ont *ontology.Catalog, payload *types.Payload, spec *types.RequestSpec, roles *ColumnRoles) {
	table := payload.Table
	if table == nil || len(table.Columns) == 0 || len(table.Rows) == 0 || spec.TopN <= 0 {
		return
	}

	sorted := sortedRowsFor(ont, table, table.Rows, spec, roles)
	if len(sorted) < spec.TopN && payload.SourceTable != nil {
		source := payload.SourceTable
		idxMap := make([]int, len(table.Columns))
		all := true
		for i, name := range table.Columns {
			idx := source.ColumnIndex(name)
			if idx < 0 {
				// Projection may have retitled the column.
				idx = fuzzyColumnIndex(source, name)
			}
			if idx < 0 {
				all = false
				break
			}
			idxMap[i] = idx
		}
		if all && len(source.Rows) > 0 {
			projected := make([][]interface{}, len(source.Rows))
			for r, row := range source.Rows {
				nr := make([]interface{}, len(idxMap))
				for i, idx := range idxMap {
					if idx < len(row) {
						nr[i] = row[idx]
					}
				}
				projected[r] = nr
			}
			if strings.EqualFold(payload.ScaledUnit, "million") {
				projected = scaleRowsToMillion(table, projected)
			}
			sourceSorted := sortedRowsFor(ont, table, projected, spec, roles)
			if len(sourceSorted) >= len(sorted) {
				sorted = sourceSorted
			}
		}
	}

	if len(sorted) > spec.TopN {
		sorted = sorted[:spec.TopN]
	}
	payload.Table = &types.Table{Columns: table.Columns, Rows: sorted}
}

func fuzzyColumnIndex(table *types.Table, name string) int {
	n := normName(name)
	for i, c := range table.Columns {
		cn := normName(c)
		if strings.Contains(cn, n) || strings.Contains(n, cn) {
			return i
		}
	}
	return -1
}

func sortedRowsFor(ont *ontology.Catalog, table *types.Table, rows [][]interface{}, spec *types.RequestSpec, roles *ColumnRoles) [][]interface{} {
	if len(rows) == 0 {
		return nil
	}
	if spec.TaskClass == types.ClassListLatestRecords {
		if tc := detectTemporalColumn(table); tc >= 0 {
			out := append([][]interface{}(nil), rows...)
			sort.SliceStable(out, func(a, b int) bool {
				return temporalSortValue(safeString(out[a], tc)) > temporalSortValue(safeString(out[b], tc))
			})
			return out
		}
		return rows
	}

	working := &types.Table{Columns: table.Columns, Rows: rows}
	metricCol := detectMetricColumn(ont, working, spec, roles)
	dimCol := detectDimensionColumn(ont, working, spec, roles)
	ranked := rows
	if metricCol >= 0 && dimCol >= 0 {
		var extra []string
		if roles != nil {
			extra = roles.AggregateDimensionValues
		}
		ranked = aggregateRowsByDimension(working, dimCol, metricCol, extra)
	}
	if metricCol >= 0 {
		asc := sortDirection(spec) == "asc"
		out := append([][]interface{}(nil), ranked...)
		sort.SliceStable(out, func(a, b int) bool {
			av, bv := safeCell(out[a], metricCol), safeCell(out[b], metricCol)
			if asc {
				return av < bv
			}
			return av > bv
		})
		return out
	}
	return ranked
}

func safeString(row []interface{}, col int) string {
	if col >= len(row) {
		return ""
	}
	return toString(row[col])
}

// applyKPI collapses the table to a single metric/value row.
func applyKPI(ont *ontology.Catalog, payload *types.Payload, spec *types.RequestSpec, roles *ColumnRoles) {
	table := payload.Table
	if table == nil || len(table.Columns) == 0 || len(table.Rows) == 0 {
		return
	}
	metricCol := detectMetricColumn(ont, table, spec, roles)
	label := strings.TrimSpace(spec.Metric)
	if label == "" && metricCol >= 0 {
		label = table.Columns[metricCol]
	}
	if label == "" {
		label = "value"
	}

	total := 0.0
	if metricCol >= 0 {
		for _, row := range table.Rows {
			total += safeCell(row, metricCol)
		}
	} else {
		for _, row := range table.Rows {
			for _, cell := range row {
				total += toFloat(cell)
			}
		}
	}
	payload.Table = &types.Table{
		Columns: []string{"Metric", "Value"},
		Rows:    [][]interface{}{{label, total}},
	}
}

func documentIDFromSpec(spec *types.RequestSpec) string {
	keys := make([]string, 0, len(spec.Filters))
	for k := range spec.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := strings.TrimSpace(spec.Filters[k])
		if v != "" && ontology.FindDocumentID(v) != "" {
			return v
		}
	}
	return ""
}

func applyDocumentRowFilter(payload *types.Payload, spec *types.RequestSpec) {
	docID := documentIDFromSpec(spec)
	if docID == "" || payload.Table == nil || len(payload.Table.Rows) == 0 {
		return
	}
	var filtered [][]interface{}
	for _, row := range payload.Table.Rows {
		for _, cell := range row {
			if strings.TrimSpace(toString(cell)) == docID {
				filtered = append(filtered, row)
				break
			}
		}
	}
	if len(filtered) > 0 {
		payload.Table = &types.Table{Columns: payload.Table.Columns, Rows: filtered}
	}
}

// EffectiveOutputMode returns the mode to shape for. Scale-only transform
// follow-ups inherit the stored output mode of the prior result so "in
// millions" keeps the prior ranking shape.
func EffectiveOutputMode(payload *types.Payload, spec *types.RequestSpec) types.OutputMode {
	mode := spec.Output.Mode
	if mode == "" {
		mode = types.OutputDetail
	}
	if spec.Intent != types.IntentTransformLast {
		return mode
	}
	stored := payload.OutputMode
	if stored != types.OutputTopN && stored != types.OutputDetail {
		return mode
	}
	scaleOnly := spec.HasAmbiguity("transform_scale:million") &&
		!spec.HasAmbiguity("transform_sort:asc") &&
		!spec.HasAmbiguity("transform_sort:desc")
	if !scaleOnly {
		return mode
	}
	hasDimensionRequest := len(spec.GroupBy) > 0 || len(spec.Dimensions) > 0 || len(spec.Output.MinimalColumns) > 0
	explicitAggregateOnly := spec.Aggregation != types.AggNone && spec.Aggregation != "" &&
		spec.TopN <= 0 && !hasDimensionRequest
	if explicitAggregateOnly {
		return mode
	}
	return stored
}

// Shape applies the output contract to a table payload. Direct document
// lookups pass through untouched.
func Shape(ont *ontology.Catalog, spec *types.RequestSpec, payload *types.Payload, roles *ColumnRoles) *types.Payload {
	if !payload.IsTable() {
		return payload
	}
	if spec.DocumentID != "" {
		return payload
	}

	mode := EffectiveOutputMode(payload, spec)
	if payload.SourceTable == nil {
		payload.SourceTable = payload.Table.Clone()
	}
	if len(payload.SourceColumns) == 0 {
		payload.SourceColumns = append([]string(nil), payload.Table.Columns...)
	}

	applyDocumentRowFilter(payload, spec)

	if wanted := minimalColumns(spec); len(wanted) > 0 {
		payload.Table = projectTable(ont, payload.Table, wanted, roles)
	}

	switch mode {
	case types.OutputTopN:
		applyTopN(ont, payload, spec, roles)
	case types.OutputKPI:
		applyKPI(ont, payload, spec, roles)
	}
	payload.OutputMode = mode

	logging.Shaper("shaped mode=%s rows=%d cols=%d", mode, payload.RowCount(), len(payload.Table.Columns))
	return payload
}
