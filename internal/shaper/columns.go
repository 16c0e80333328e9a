package shaper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"reportlens/internal/ontology"
	"reportlens/internal/types"
)

// ColumnRoles is an optional per-capability presentation contract binding
// canonical metrics and dimensions to explicit column names.
type ColumnRoles struct {
	Metrics                  map[string][]string
	Dimensions               map[string][]string
	AggregateDimensionValues []string
}

func (r *ColumnRoles) metricFields(metric string) []string {
	if r == nil {
		return nil
	}
	return r.Metrics[metric]
}

func (r *ColumnRoles) dimensionFields(dim string) []string {
	if r == nil {
		return nil
	}
	return r.Dimensions[dim]
}

// Binding ties a requested column name to a table column index.
type Binding struct {
	Index   int
	Desired string
}

func normName(v string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(v)), "_", " ")
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	}
	s := strings.TrimSpace(strings.ReplaceAll(toString(v), ",", ""))
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return fmt.Sprintf("%v", v)
}

// numericColumn samples up to 30 rows and reports whether at least half of
// the non-empty values in the column parse as numbers.
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
		s := strings.TrimSpace(toString(row[col]))
		if s == "" {
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

const noMatch = -1 << 30

// bindColumns resolves each wanted name to the best-scoring table column.
// Every column binds at most once; a wanted name with no acceptable column
// is simply skipped.
func bindColumns(ont *ontology.Catalog, table *types.Table, wanted []string, roles *ColumnRoles) []Binding {
	if table == nil || len(table.Columns) == 0 {
		return nil
	}
	var out []Binding
	used := map[int]bool{}

	for _, rawWanted := range wanted {
		w := normName(rawWanted)
		if w == "" {
			continue
		}
		metric := ont.KnownMetric(w)
		dim := ont.KnownDimension(w)
		canonical := normName(metric)
		if canonical == "" {
			canonical = normName(dim)
		}

		aliases := filterAliases(ont.SemanticAliases(w, true), w, canonical)
		if len(aliases) == 0 {
			aliases = []string{w}
		}

		var explicit []string
		if metric != "" {
			explicit = roles.metricFields(metric)
		} else if dim != "" && w == canonical {
			explicit = roles.dimensionFields(dim)
		}
		var columnAliases []string
		if metric != "" {
			columnAliases = ont.MetricColumnAliasList(metric)
		}

		bestIdx, bestScore := -1, noMatch
		for idx, name := range table.Columns {
			if used[idx] {
				continue
			}
			txt := normName(name)
			score := noMatch
			for _, e := range explicit {
				if normName(e) == txt {
					if metric != "" {
						score = 140
					} else {
						score = 130
					}
					break
				}
			}
			for _, a := range aliases {
				if cur := matchScore(a, txt, 90, 70, 50); cur > score {
					score = cur
				}
			}
			isNumeric := numericColumn(table, idx)
			if metric != "" && score < 0 && isNumeric {
				for _, a := range columnAliases {
					if cur := matchScore(normName(a), txt, 42, 36, 30); cur > score {
						score = cur
					}
				}
			}
			if score < 0 {
				continue
			}
			if metric != "" {
				if !isNumeric {
					continue
				}
				score += 18
			}
			if dim != "" {
				if isNumeric {
					score -= 4
				} else {
					score += 8
				}
			}
			if score > bestScore {
				bestScore = score
				bestIdx = idx
			}
		}
		if bestIdx >= 0 {
			out = append(out, Binding{Index: bestIdx, Desired: strings.TrimSpace(rawWanted)})
			used[bestIdx] = true
		}
	}
	return out
}

// filterAliases drops aliases that are strict token subsets of the wanted
// phrase when the user asked for something more specific than the canonical
// term.
func filterAliases(aliases []string, wanted, canonical string) []string {
	wantedTokens := tokenSet(wanted)
	var out []string
	for _, a := range aliases {
		an := normName(a)
		if an == "" {
			continue
		}
		if canonical != "" && wanted != canonical {
			at := tokenSet(an)
			if len(at) > 0 && strictSubset(at, wantedTokens) {
				continue
			}
		}
		out = append(out, an)
	}
	return out
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, t := range strings.Fields(s) {
		out[t] = true
	}
	return out
}

func strictSubset(a, b map[string]bool) bool {
	if len(a) >= len(b) {
		return false
	}
	for t := range a {
		if !b[t] {
			return false
		}
	}
	return true
}

func matchScore(alias, txt string, exact, boundary, substr int) int {
	if alias == "" || txt == "" {
		return noMatch
	}
	if alias == txt {
		return exact
	}
	if pat, err := regexp.Compile(`(?i)(^|[^a-z0-9])` + regexp.QuoteMeta(alias) + `($|[^a-z0-9])`); err == nil && pat.MatchString(txt) {
		return boundary
	}
	if len(alias) >= 5 && strings.Contains(txt, alias) {
		return substr
	}
	return noMatch
}

func titleCase(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
