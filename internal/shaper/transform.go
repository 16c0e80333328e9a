package shaper

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"reportlens/internal/logging"
	"reportlens/internal/types"
)

var (
	isoDatePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	isoMonthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)
	isoWeekPattern  = regexp.MustCompile(`^\d{4}-W\d{2}$`)
)

var temporalNameTokens = []string{"date", "time", "week", "month", "quarter", "year"}

// detectTemporalColumn returns the first column whose name looks temporal,
// or -1.
func detectTemporalColumn(table *types.Table) int {
	for i, name := range table.Columns {
		n := normName(name)
		for _, tok := range temporalNameTokens {
			if strings.Contains(n, tok) {
				return i
			}
		}
	}
	return -1
}

// temporalSortValue maps a temporal string to a sortable number. Unparseable
// values sort last.
func temporalSortValue(value string) float64 {
	s := strings.ReplaceAll(strings.TrimSpace(value), "/", "-")
	if s == "" {
		return math.Inf(-1)
	}
	switch {
	case isoDatePattern.MatchString(s):
		if t, err := time.Parse("2006-01-02", s); err == nil {
			return float64(t.Unix())
		}
	case isoMonthPattern.MatchString(s):
		if t, err := time.Parse("2006-01-02", s+"-01"); err == nil {
			return float64(t.Unix())
		}
	case isoWeekPattern.MatchString(s):
		year, _ := strconv.Atoi(s[:4])
		week, _ := strconv.Atoi(s[6:8])
		return float64(isoWeekStart(year, week).Unix())
	default:
		if t, err := time.Parse(time.RFC3339, strings.Replace(s, " ", "T", 1)); err == nil {
			return float64(t.Unix())
		}
	}
	return math.Inf(-1)
}

// isoWeekStart returns the Monday of the given ISO week.
func isoWeekStart(year, week int) time.Time {
	// Jan 4 is always in ISO week 1.
	t := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	monday := t.AddDate(0, 0, 1-weekday)
	return monday.AddDate(0, 0, (week-1)*7)
}

// transformMetricColumn finds the metric column for transform-last without
// the full binding machinery: metric name match, measure keywords, then the
// last column.
func transformMetricColumn(spec *types.RequestSpec, table *types.Table) int {
	metric := strings.ToLower(strings.TrimSpace(spec.Metric))
	if metric != "" {
		for i, name := range table.Columns {
			n := strings.ToLower(name)
			if metric == n || strings.Contains(n, metric) {
				return i
			}
		}
	}
	measureKeywords := []string{"amount", "total", "revenue", "qty", "quantity", "balance"}
	for i, name := range table.Columns {
		n := strings.ToLower(name)
		for _, k := range measureKeywords {
			if strings.Contains(n, k) {
				return i
			}
		}
	}
	if len(table.Columns) > 0 {
		return len(table.Columns) - 1
	}
	return -1
}

func transformDimColumn(spec *types.RequestSpec, table *types.Table) int {
	for _, gb := range spec.GroupBy {
		g := strings.ToLower(strings.TrimSpace(gb))
		if g == "" {
			continue
		}
		for i, name := range table.Columns {
			n := strings.ToLower(name)
			if g == n || strings.Contains(n, g) {
				return i
			}
		}
	}
	if len(table.Columns) > 0 {
		return 0
	}
	return -1
}

// TransformLast applies the deterministic follow-up transforms to a prior
// table payload: top-n truncation, kpi totaling, dimension+metric
// projection, sorting, and scale-to-million. Scaling is idempotent through
// the payload's ScaledUnit marker.
func TransformLast(spec *types.RequestSpec, payload *types.Payload) *types.Payload {
	if spec.Intent != types.IntentTransformLast || !payload.IsTable() || payload.RowCount() == 0 {
		return payload
	}

	mode := spec.Output.Mode
	scaleMillion := spec.HasAmbiguity("transform_scale:million")
	sortDesc := spec.HasAmbiguity("transform_sort:desc")
	sortAsc := spec.HasAmbiguity("transform_sort:asc")
	hasExplicitMetric := strings.TrimSpace(spec.Metric) != ""

	metricText := strings.ToLower(spec.Metric)
	explicitTotalRequest := (spec.Aggregation != "" && spec.Aggregation != types.AggNone) ||
		strings.Contains(metricText, "total") || strings.Contains(metricText, "sum") ||
		strings.Contains(metricText, "count") || strings.Contains(metricText, "number") ||
		strings.Contains(metricText, "average") || strings.Contains(metricText, "avg")

	// "Show these in millions" against a multi-row table is a rescale, not a
	// collapse request.
	if mode == types.OutputKPI && scaleMillion && payload.RowCount() > 1 && !explicitTotalRequest {
		mode = types.OutputDetail
	}

	metricCol := transformMetricColumn(spec, payload.Table)
	dimCol := transformDimColumn(spec, payload.Table)

	if mode == types.OutputTopN && spec.TopN > 0 && metricCol >= 0 {
		rows := append([][]interface{}(nil), payload.Table.Rows...)
		if hasExplicitMetric || sortDesc || sortAsc {
			sort.SliceStable(rows, func(a, b int) bool {
				av, bv := safeCell(rows[a], metricCol), safeCell(rows[b], metricCol)
				if sortAsc {
					return av < bv
				}
				return av > bv
			})
		}
		if len(rows) > spec.TopN {
			rows = rows[:spec.TopN]
		}
		payload.Table = &types.Table{Columns: payload.Table.Columns, Rows: rows}
		payload.TransformApplied = true
	}

	if mode == types.OutputKPI && metricCol >= 0 {
		total := 0.0
		for _, row := range payload.Table.Rows {
			total += safeCell(row, metricCol)
		}
		label := payload.Table.Columns[metricCol]
		payload.Table = &types.Table{
			Columns: []string{"Metric", "Value"},
			Rows:    [][]interface{}{{label, total}},
		}
		payload.TransformApplied = true
	}

	if mode != types.OutputKPI && mode != types.OutputTopN &&
		dimCol >= 0 && metricCol >= 0 && dimCol != metricCol && len(payload.Table.Columns) > 2 {
		projected := &types.Table{Columns: []string{payload.Table.Columns[dimCol], payload.Table.Columns[metricCol]}}
		for _, row := range payload.Table.Rows {
			projected.Rows = append(projected.Rows, []interface{}{cellAt(row, dimCol), cellAt(row, metricCol)})
		}
		payload.Table = projected
		payload.TransformApplied = true
	}

	if (sortDesc || sortAsc) && payload.RowCount() > 0 {
		mc := transformMetricColumn(spec, payload.Table)
		if mc >= 0 {
			rows := append([][]interface{}(nil), payload.Table.Rows...)
			sort.SliceStable(rows, func(a, b int) bool {
				av, bv := safeCell(rows[a], mc), safeCell(rows[b], mc)
				if sortDesc {
					return av > bv
				}
				return av < bv
			})
			payload.Table = &types.Table{Columns: payload.Table.Columns, Rows: rows}
			payload.TransformApplied = true
		}
	}

	if scaleMillion {
		if strings.EqualFold(payload.ScaledUnit, "million") {
			return payload
		}
		if payload.RowCount() > 0 {
			cols := scalableColumns(payload.Table)
			if len(cols) == 0 {
				if mc := transformMetricColumn(spec, payload.Table); mc >= 0 {
					cols = []int{mc}
				}
			}
			if len(cols) > 0 {
				rows := make([][]interface{}, len(payload.Table.Rows))
				for i, row := range payload.Table.Rows {
					nr := append([]interface{}(nil), row...)
					for _, c := range cols {
						if c < len(nr) {
							nr[c] = toFloat(nr[c]) / 1_000_000.0
						}
					}
					rows[i] = nr
				}
				payload.Table = &types.Table{Columns: payload.Table.Columns, Rows: rows}
				payload.ScaledUnit = "million"
				payload.TransformApplied = true
			}
		}
	}

	logging.Shaper("transform applied=%v scaled=%s rows=%d", payload.TransformApplied, payload.ScaledUnit, payload.RowCount())
	return payload
}

func cellAt(row []interface{}, col int) interface{} {
	if col >= len(row) {
		return nil
	}
	return row[col]
}

// FormatForDisplay renders numeric cells with comma separators and two
// decimals. Returns a new payload; the stored result keeps raw numbers.
func FormatForDisplay(payload *types.Payload) *types.Payload {
	if !payload.IsTable() || payload.RowCount() == 0 {
		return payload
	}
	out := *payload
	out.Table = &types.Table{Columns: append([]string(nil), payload.Table.Columns...)}
	for _, row := range payload.Table.Rows {
		nr := make([]interface{}, len(row))
		for i, cell := range row {
			if looksNumeric(cell) {
				nr[i] = formatWithCommas(toFloat(cell))
			} else {
				nr[i] = cell
			}
		}
		out.Table.Rows = append(out.Table.Rows, nr)
	}
	return &out
}

func looksNumeric(v interface{}) bool {
	switch v.(type) {
	case bool, nil:
		return false
	case int, int64, float32, float64:
		return true
	}
	s := strings.TrimSpace(toString(v))
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	return err == nil
}

// formatWithCommas renders 1234567.891 as "1,234,567.89".
func formatWithCommas(f float64) string {
	s := strconv.FormatFloat(f, 'f', 2, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	dot := strings.Index(s, ".")
	intPart, frac := s[:dot], s[dot:]
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
		if len(intPart) > lead {
			b.WriteByte(',')
		}
	}
	for i := lead; i < len(intPart); i += 3 {
		b.WriteString(intPart[i : i+3])
		if i+3 < len(intPart) {
			b.WriteByte(',')
		}
	}
	b.WriteString(frac)
	return b.String()
}
