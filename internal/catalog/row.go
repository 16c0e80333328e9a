// Package catalog maintains the capability index: the closed set of named
// reporting capabilities the resolver ranks. Rows are built from catalog
// source metadata, tagged with inferred semantics, fingerprinted for drift
// detection, and treated as read-only within a turn.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"reportlens/internal/ontology"
	"reportlens/internal/types"
)

const (
	// SchemaVersion tags rows so stale snapshots are rebuilt.
	SchemaVersion = "v1"
	// DefaultFreshnessHours is the snapshot freshness window.
	DefaultFreshnessHours = 24
)

// FilterDef is one filter a capability accepts, as declared by the source.
type FilterDef struct {
	Fieldname string `yaml:"fieldname" json:"fieldname"`
	Label     string `yaml:"label" json:"label"`
	Fieldtype string `yaml:"fieldtype" json:"fieldtype"`
	Options   string `yaml:"options" json:"options"`
	Required  bool   `yaml:"required" json:"required"`
}

// Source is the raw catalog entry a row is built from.
type Source struct {
	Name                string      `yaml:"name" json:"name"`
	Family              string      `yaml:"family" json:"family"`
	Type                string      `yaml:"type" json:"type"`
	Disabled            bool        `yaml:"disabled" json:"disabled"`
	Filters             []FilterDef `yaml:"filters" json:"filters"`
	RequiredFilterNames []string    `yaml:"required_filter_names" json:"required_filter_names"`
	RequirementsRawType string      `yaml:"requirements_raw_type" json:"requirements_raw_type"`
	SupportsRanking     *bool       `yaml:"supports_ranking" json:"supports_ranking"`

	// Contract declares explicit column bindings for shaping, when the
	// catalog author knows the report's layout better than alias matching.
	Contract *types.CapabilityContract `yaml:"contract" json:"contract"`
}

// BuildRow derives a full capability row from source metadata. Semantic tags
// come from the ontology, never from per-call regexes.
func BuildRow(ont *ontology.Catalog, src Source, generatedAt time.Time, freshnessHours float64) types.CapabilityRow {
	if freshnessHours <= 0 {
		freshnessHours = DefaultFreshnessHours
	}
	family := strings.TrimSpace(src.Family)
	if family == "" {
		family = "Unknown"
	}

	requiredByName := map[string]bool{}
	for _, n := range src.RequiredFilterNames {
		if s := strings.ToLower(strings.TrimSpace(n)); s != "" {
			requiredByName[s] = true
		}
	}

	var supportedNames []string
	supportedKinds := map[string]bool{}
	requiredKinds := map[string]bool{}
	for _, f := range src.Filters {
		fieldname := strings.TrimSpace(f.Fieldname)
		if fieldname != "" {
			supportedNames = append(supportedNames, fieldname)
		}
		text := strings.Join([]string{fieldname, f.Label, f.Fieldtype, f.Options}, " ")
		kinds := ont.InferFilterKinds(text)
		for _, k := range kinds {
			supportedKinds[k] = true
		}
		if requiredByName[strings.ToLower(fieldname)] || f.Required {
			for _, k := range kinds {
				requiredKinds[k] = true
			}
		}
	}
	for _, reqName := range src.RequiredFilterNames {
		for _, k := range ont.InferFilterKinds(reqName) {
			requiredKinds[k] = true
		}
	}

	supportedSorted := sortedSet(supportedKinds)
	requiredSorted := sortedSet(requiredKinds)

	rawType := strings.ToLower(strings.TrimSpace(src.RequirementsRawType))
	requirementsKnown := len(src.Filters) > 0 || len(src.RequiredFilterNames) > 0
	if !requirementsKnown && strings.Contains(rawType, "no_filters") {
		requirementsKnown = true
	}

	supportsRanking := true
	if src.SupportsRanking != nil {
		supportsRanking = *src.SupportsRanking
	}

	row := types.CapabilityRow{
		Name:   strings.TrimSpace(src.Name),
		Family: family,
		Type:   strings.TrimSpace(src.Type),
		Constraints: types.CapabilityConstraints{
			SupportedFilterKinds: supportedSorted,
			HardRequiredKinds:    requiredSorted,
			RequiredFilterValues: cleanNames(src.RequiredFilterNames),
			RequirementsKnown:    requirementsKnown,
		},
		TimeSupport: inferTimeSupport(supportedKinds),
		Semantics: types.CapabilitySemantics{
			DomainHints:      ont.InferDomainHints(src.Name, family, supportedSorted),
			DimensionHints:   inferDimensionHints(supportedKinds),
			MetricHints:      ont.InferMetricHints(src.Name, family, supportedNames, supportedSorted),
			PrimaryDimension: ont.InferPrimaryDimension(src.Name),
			SupportsRanking:  supportsRanking,
		},
		Contract:       src.Contract,
		Confidence:     confidenceFromMetadata(rawType, src.RequiredFilterNames, src.Filters),
		GeneratedAt:    generatedAt.UTC().Truncate(time.Second),
		FreshnessHours: freshnessHours,
	}
	row.Fingerprint = Fingerprint(&row)
	return row
}

// inferTimeSupport maps canonical filter kinds to time support flags.
func inferTimeSupport(kinds map[string]bool) types.TimeSupport {
	return types.TimeSupport{
		AsOf:       kinds["date"] || kinds["report_date"],
		Range:      kinds["from_date"] && kinds["to_date"],
		FiscalYear: kinds["fiscal_year"],
		YearWindow: (kinds["start_year"] && kinds["end_year"]) || kinds["year"],
	}
}

// inferDimensionHints keeps only the dimensions entity filters imply. The set
// is deliberately limited; territory-style secondary dimensions stay out.
func inferDimensionHints(kinds map[string]bool) []string {
	var out []string
	for _, dim := range []string{"customer", "supplier", "item", "warehouse", "company"} {
		if kinds[dim] {
			out = append(out, dim)
		}
	}
	return out
}

// confidenceFromMetadata scores metadata provenance. Declared requirements
// beat fallback introspection; the result is clamped to [0.05, 0.95].
func confidenceFromMetadata(rawType string, requiredNames []string, filters []FilterDef) float64 {
	score := 0.25

	switch {
	case strings.HasPrefix(rawType, "requirements:"):
		score += 0.35
	case strings.Contains(rawType, "fallback_report_metadata"):
		score += 0.22
	case rawType != "":
		score += 0.10
	}

	hasFilters := len(filters) > 0
	hasRequired := len(cleanNames(requiredNames)) > 0
	if hasFilters {
		score += 0.25
	}
	if hasRequired {
		score += 0.10
	}
	if strings.Contains(rawType, "no_filters") && !hasFilters && !hasRequired {
		if score < 0.62 {
			score = 0.62
		}
	}

	if score < 0.05 {
		score = 0.05
	}
	if score > 0.95 {
		score = 0.95
	}
	return score
}

// fingerprintPayload is the canonical identity of a row. Metadata like
// confidence and timestamps stays out so refreshes with identical semantics
// keep the same fingerprint.
type fingerprintPayload struct {
	Name        string                      `json:"name"`
	Family      string                      `json:"family"`
	Type        string                      `json:"type"`
	Constraints types.CapabilityConstraints `json:"constraints"`
	TimeSupport types.TimeSupport           `json:"time_support"`
	Semantics   types.CapabilitySemantics   `json:"semantics"`
}

// Fingerprint computes the content hash used for drift detection.
func Fingerprint(row *types.CapabilityRow) string {
	raw, err := json.Marshal(fingerprintPayload{
		Name:        row.Name,
		Family:      row.Family,
		Type:        row.Type,
		Constraints: row.Constraints,
		TimeSupport: row.TimeSupport,
		Semantics:   row.Semantics,
	})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// ValidateRow returns named error codes for a malformed row.
func ValidateRow(row *types.CapabilityRow) []string {
	var errs []string
	if row == nil {
		return []string{"row_not_object"}
	}
	if strings.TrimSpace(row.Name) == "" {
		errs = append(errs, "name_missing")
	}
	if row.Confidence < 0 || row.Confidence > 1 {
		errs = append(errs, "confidence_out_of_range")
	}
	if row.GeneratedAt.IsZero() {
		errs = append(errs, "generated_at_missing")
	}
	if strings.TrimSpace(row.Fingerprint) == "" {
		errs = append(errs, "fingerprint_missing")
	}
	if row.Fingerprint != "" && row.Fingerprint != Fingerprint(row) {
		errs = append(errs, "fingerprint_mismatch")
	}
	return errs
}

func cleanNames(names []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, n := range names {
		s := strings.TrimSpace(n)
		if s == "" {
			continue
		}
		k := strings.ToLower(s)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ErrCatalogEmpty is returned when an index build finds no usable sources.
var ErrCatalogEmpty = fmt.Errorf("capability catalog is empty")
