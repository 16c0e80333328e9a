// Package resolver scores capability rows against a normalized request and
// selects the best feasible capability, or asks for clarification when no
// safe selection exists.
package resolver

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"reportlens/internal/catalog"
	"reportlens/internal/logging"
	"reportlens/internal/ontology"
	"reportlens/internal/types"
)

// Tuned score deltas. The magnitudes are deliberate: a hard-constraint miss
// must outweigh any sum of soft bonuses.
const (
	staleDelta               = -40
	unknownRequirementsDelta = -20
	hardConstraintMissDelta  = -120
	supportedKindDelta       = 6
	supportedKindCap         = 24
	primaryDimMismatchDelta  = -36
	dimensionHitDelta        = 8
	dimensionHitCap          = 24
	dimensionMismatchDelta   = -28
	dimensionUnknownDelta    = -18
	domainMatchDelta         = 20
	domainMismatchDelta      = -30
	metricMatchDelta         = 26
	metricMismatchDelta      = -18
	metricUnknownDelta       = -6
	subjectOverlapDelta      = 8
	subjectOverlapCap        = 24
	subjectMismatchDelta     = -16
	rankingReadyDelta        = 8
	rankingMissingDelta      = -10
	timeSupportDelta         = 8
	timeUnsupportedDelta     = -30
	missingRequiredDelta     = -12
	missingRequiredCap       = 35

	// LowConfidenceThreshold forces clarification when the best candidate's
	// catalog confidence is below it.
	LowConfidenceThreshold = 0.30
)

// ClarifyFallbackQuestion is used when no more specific question applies.
const ClarifyFallbackQuestion = "Which missing filter value should I use?"

var subjectStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"that": true, "this": true, "those": true, "these": true, "last": true,
	"month": true, "week": true, "year": true, "today": true,
}

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

// SubjectTokens extracts the comparison tokens of a free-text subject.
func SubjectTokens(value string) []string {
	raw := strings.ToLower(strings.TrimSpace(value))
	if raw == "" {
		return nil
	}
	seen := map[string]bool{}
	for _, t := range wordPattern.FindAllString(raw, -1) {
		if len(t) < 3 || subjectStopwords[t] {
			continue
		}
		seen[t] = true
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// semantics is the request reduced to the canonical facts scoring needs.
type semantics struct {
	Filters         map[string]string
	HardFilterKinds []string
	RequestedDims   map[string]bool
	TaskType        types.TaskType
	LatestRecords   bool
	OutputMode      types.OutputMode
	TimeMode        types.TimeMode
	Domain          string
	Metric          string
	SubjectTokens   []string
	TopN            int
}

// extractSemantics canonicalizes the request once so every candidate is
// scored against identical facts.
func extractSemantics(ont *ontology.Catalog, spec *types.RequestSpec) semantics {
	kinds := map[string]bool{}
	for key, value := range spec.Filters {
		if strings.TrimSpace(value) == "" {
			continue
		}
		for _, k := range ont.InferFilterKinds(key) {
			kinds[k] = true
		}
	}
	hardKinds := make([]string, 0, len(kinds))
	for k := range kinds {
		hardKinds = append(hardKinds, k)
	}
	sort.Strings(hardKinds)

	requested := map[string]bool{}
	for _, raw := range append(append([]string{}, spec.Dimensions...), spec.GroupBy...) {
		if dim := ont.CanonicalDimension(raw); dim != "" {
			requested[dim] = true
		}
	}

	metric := ont.CanonicalMetric(spec.Metric)
	domain := ont.CanonicalDomain(string(spec.Domain))
	unspecified := map[string]bool{"": true, "unknown": true, "none": true, "generic": true, "general": true, "cross_functional": true}
	if unspecified[domain] {
		subject := ont.CanonicalDomain(spec.Subject)
		if d := ont.MetricDomain(metric); d != "" {
			domain = d
		} else if !unspecified[subject] {
			domain = subject
		} else {
			domain = "unknown"
		}
	}

	timeMode := spec.TimeScope.Mode
	if timeMode == "" {
		timeMode = types.TimeNone
	}

	return semantics{
		Filters:         spec.Filters,
		HardFilterKinds: hardKinds,
		RequestedDims:   requested,
		TaskType:        spec.TaskType,
		LatestRecords:   spec.TaskClass == types.ClassListLatestRecords,
		OutputMode:      spec.Output.Mode,
		TimeMode:        timeMode,
		Domain:          domain,
		Metric:          metric,
		SubjectTokens:   SubjectTokens(spec.Subject),
		TopN:            spec.TopN,
	}
}

func hardTask(t types.TaskType) bool {
	return t == types.TaskRanking || t == types.TaskDetail || t == "comparison"
}

func subjectHardTask(t types.TaskType) bool {
	return hardTask(t) || t == types.TaskTrend || t == types.TaskKPI
}

// requiredKindSatisfied reports whether a hard-required kind is covered by a
// filter value or by the time scope.
func requiredKindSatisfied(kind string, sem semantics) bool {
	k := strings.ToLower(strings.TrimSpace(kind))
	if k == "" {
		return true
	}
	for fk, fv := range sem.Filters {
		if strings.Contains(strings.ToLower(fk), k) && strings.TrimSpace(fv) != "" {
			return true
		}
	}
	switch k {
	case "date", "from_date", "to_date", "report_date", "start_year", "end_year", "year":
		return sem.TimeMode == types.TimeRange || sem.TimeMode == types.TimeRelative || sem.TimeMode == types.TimeAsOf
	}
	return false
}

// clarifiableKinds are the required-filter kinds worth asking the user about.
var clarifiableKinds = map[string]bool{
	"company": true, "warehouse": true, "customer": true, "supplier": true,
	"item": true, "from_date": true, "to_date": true, "report_date": true,
	"date": true, "start_year": true, "end_year": true, "fiscal_year": true,
	"year": true,
}

// scoreCandidate evaluates one capability row against the request semantics.
func scoreCandidate(ont *ontology.Catalog, sem semantics, row *types.CapabilityRow, now time.Time) *types.CandidateScore {
	score := float64(int(row.Confidence*100 + 0.5))
	c := &types.CandidateScore{
		Name:       row.Name,
		Confidence: row.Confidence,
		Reasons:    []string{fmt.Sprintf("confidence_base=%d", int(score))},
	}
	blockers := map[string]bool{}

	if !row.Fresh(now) {
		score += staleDelta
		c.Reasons = append(c.Reasons, "stale_capability(-40)")
	}

	if !row.Constraints.RequirementsKnown && len(sem.HardFilterKinds) > 0 {
		score += unknownRequirementsDelta
		c.Reasons = append(c.Reasons, "requirements_unknown_with_hard_filters(-20)")
	}

	var missingKinds []string
	for _, kind := range sem.HardFilterKinds {
		if !row.SupportsKind(kind) {
			missingKinds = append(missingKinds, kind)
			blockers["unsupported_filter_kind:"+kind] = true
		}
	}
	if len(missingKinds) > 0 {
		score += hardConstraintMissDelta
		c.Reasons = append(c.Reasons, "hard_constraint_missing(-120)")
	} else if len(sem.HardFilterKinds) > 0 {
		delta := len(sem.HardFilterKinds) * supportedKindDelta
		if delta > supportedKindCap {
			delta = supportedKindCap
		}
		score += float64(delta)
		c.Reasons = append(c.Reasons, fmt.Sprintf("hard_constraint_supported(+%d)", delta))
	}

	capDims := map[string]bool{}
	for _, h := range row.Semantics.DimensionHints {
		if dim := ont.CanonicalDimension(h); dim != "" {
			capDims[dim] = true
		}
	}
	primaryDim := strings.ToLower(strings.TrimSpace(row.Semantics.PrimaryDimension))
	if len(sem.RequestedDims) > 0 {
		if primaryDim != "" && !sem.RequestedDims[primaryDim] {
			score += primaryDimMismatchDelta
			c.Reasons = append(c.Reasons, "primary_dimension_mismatch(-36)")
			// Latest-record listings tolerate unknown dimensions: the user
			// names a record type, not a reporting axis.
			if hardTask(sem.TaskType) && !sem.LatestRecords {
				blockers["primary_dimension_mismatch"] = true
			}
		}
		if len(capDims) > 0 {
			hits := 0
			for dim := range sem.RequestedDims {
				if capDims[dim] {
					hits++
				}
			}
			if hits > 0 {
				delta := hits * dimensionHitDelta
				if delta > dimensionHitCap {
					delta = dimensionHitCap
				}
				score += float64(delta)
				c.Reasons = append(c.Reasons, fmt.Sprintf("dimension_match(+%d)", delta))
			} else {
				score += dimensionMismatchDelta
				c.Reasons = append(c.Reasons, "dimension_mismatch(-28)")
				if hardTask(sem.TaskType) && !sem.LatestRecords {
					blockers["unsupported_dimension"] = true
				}
			}
		} else {
			score += dimensionUnknownDelta
			c.Reasons = append(c.Reasons, "dimension_unknown(-18)")
		}
	}

	if sem.Domain != "" && sem.Domain != "unknown" {
		capDomains := map[string]bool{}
		for _, h := range row.Semantics.DomainHints {
			capDomains[strings.ToLower(strings.TrimSpace(h))] = true
		}
		if capDomains[sem.Domain] {
			score += domainMatchDelta
			c.Reasons = append(c.Reasons, "domain_match(+20)")
		} else if len(capDomains) > 0 {
			score += domainMismatchDelta
			c.Reasons = append(c.Reasons, "domain_mismatch(-30)")
		}
	}

	capMetrics := map[string]bool{}
	for _, h := range row.Semantics.MetricHints {
		if m := ont.CanonicalMetric(h); m != "" {
			capMetrics[m] = true
		}
	}
	if sem.Metric != "" && sem.Metric != "unspecified" && sem.Metric != "none" {
		if len(capMetrics) > 0 {
			if capMetrics[sem.Metric] {
				score += metricMatchDelta
				c.Reasons = append(c.Reasons, "metric_match(+26)")
			} else {
				score += metricMismatchDelta
				c.Reasons = append(c.Reasons, "metric_mismatch(-18)")
				if d := ont.MetricDomain(sem.Metric); d != "" && sem.Domain != "" && sem.Domain != "unknown" && d != sem.Domain {
					blockers["incompatible_metric"] = true
				}
			}
		} else {
			score += metricUnknownDelta
			c.Reasons = append(c.Reasons, "metric_unknown(-6)")
		}
	}

	// Subject relevance keeps unseen phrasing anchored to relevant report
	// families instead of random ties.
	if len(sem.SubjectTokens) > 0 {
		pool := map[string]bool{}
		addTokens := func(v string) {
			for _, t := range SubjectTokens(v) {
				pool[t] = true
			}
		}
		addTokens(row.Name)
		addTokens(row.Family)
		for _, d := range row.Semantics.DomainHints {
			addTokens(d)
		}
		for d := range capDims {
			addTokens(d)
		}
		for m := range capMetrics {
			addTokens(m)
		}
		overlap := 0
		for _, t := range sem.SubjectTokens {
			if pool[t] {
				overlap++
			}
		}
		if overlap > 0 {
			delta := overlap * subjectOverlapDelta
			if delta > subjectOverlapCap {
				delta = subjectOverlapCap
			}
			score += float64(delta)
			c.TieBreak = float64(delta)
			c.Reasons = append(c.Reasons, fmt.Sprintf("subject_overlap(+%d)", delta))
		} else {
			score += subjectMismatchDelta
			c.Reasons = append(c.Reasons, "subject_mismatch(-16)")
			if subjectHardTask(sem.TaskType) && len(sem.SubjectTokens) >= 2 {
				blockers["subject_mismatch"] = true
			}
		}
	}

	if sem.TaskType == types.TaskRanking && sem.OutputMode == types.OutputTopN {
		if !row.Semantics.SupportsRanking {
			blockers["unsupported_ranking"] = true
			score += rankingMissingDelta
			c.Reasons = append(c.Reasons, "ranking_not_supported(-10)")
		} else if len(sem.RequestedDims) > 0 {
			hit := false
			for dim := range sem.RequestedDims {
				if capDims[dim] {
					hit = true
					break
				}
			}
			if hit {
				score += rankingReadyDelta
				c.Reasons = append(c.Reasons, "ranking_dimension_ready(+8)")
			} else {
				score += rankingMissingDelta
				c.Reasons = append(c.Reasons, "ranking_dimension_missing(-10)")
			}
		}
	}

	if sem.TimeMode == types.TimeAsOf || sem.TimeMode == types.TimeRelative || sem.TimeMode == types.TimeRange {
		supported := (sem.TimeMode == types.TimeRange && row.TimeSupport.Range) ||
			((sem.TimeMode == types.TimeAsOf || sem.TimeMode == types.TimeRelative) && row.TimeSupport.AsOf)
		if supported {
			score += timeSupportDelta
			c.Reasons = append(c.Reasons, "time_support(+8)")
		} else if !row.TimeSupport.Any() {
			blockers["unsupported_time_scope"] = true
			score += timeUnsupportedDelta
			c.Reasons = append(c.Reasons, "time_not_supported(-30)")
		}
	}

	for _, kind := range row.Constraints.HardRequiredKinds {
		if requiredKindSatisfied(kind, sem) {
			continue
		}
		if clarifiableKinds[strings.ToLower(strings.TrimSpace(kind))] {
			c.MissingRequiredFilterValues = append(c.MissingRequiredFilterValues, strings.ToLower(strings.TrimSpace(kind)))
		}
	}
	if n := len(c.MissingRequiredFilterValues); n > 0 {
		sort.Strings(c.MissingRequiredFilterValues)
		delta := n * -missingRequiredDelta
		if delta > missingRequiredCap {
			delta = missingRequiredCap
		}
		score -= float64(delta)
		c.Reasons = append(c.Reasons, "required_filter_value_missing")
	}

	c.Score = score
	for b := range blockers {
		c.HardBlockers = append(c.HardBlockers, b)
	}
	sort.Strings(c.HardBlockers)
	return c
}

// questionForKind phrases the clarification question for one missing kind.
func questionForKind(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "company":
		return "Which company should I use?"
	case "warehouse":
		return "Which warehouse should I use?"
	case "customer":
		return "Which customer should I use?"
	case "supplier":
		return "Which supplier should I use?"
	case "item":
		return "Which item should I use?"
	case "from_date", "to_date", "date", "report_date":
		return "Which date range should I use?"
	case "start_year", "end_year", "year", "fiscal_year":
		return "Which fiscal year or year range should I use?"
	}
	return ClarifyFallbackQuestion
}

// Resolve scores every fresh-enough capability and selects per the feasibility
// ladder: blocker-free with no missing values, then blocker-free, then the
// least-blocked top scorer.
func Resolve(ont *ontology.Catalog, idx *catalog.Index, spec *types.RequestSpec, now time.Time) *types.Resolution {
	res := &types.Resolution{CandidateScores: map[string]*types.CandidateScore{}}
	if idx == nil || len(idx.Rows) == 0 {
		res.NeedsClarification = true
		res.ClarifyReason = "no_candidate"
		res.ClarifyQuestion = "Please specify the business domain and target metric so I can choose the right report."
		return res
	}

	sem := extractSemantics(ont, spec)
	scored := make([]*types.CandidateScore, 0, len(idx.Rows))
	for i := range idx.Rows {
		sc := scoreCandidate(ont, sem, &idx.Rows[i], now)
		scored = append(scored, sc)
		res.CandidateScores[sc.Name] = sc
	}
	sort.Slice(scored, func(a, b int) bool {
		x, y := scored[a], scored[b]
		if x.Score != y.Score {
			return x.Score > y.Score
		}
		if x.TieBreak != y.TieBreak {
			return x.TieBreak > y.TieBreak
		}
		if x.Confidence != y.Confidence {
			return x.Confidence > y.Confidence
		}
		return x.Name > y.Name
	})
	for _, sc := range scored {
		res.Candidates = append(res.Candidates, sc.Name)
	}

	var selected *types.CandidateScore
	for _, sc := range scored {
		if sc.Feasible() && len(sc.MissingRequiredFilterValues) == 0 {
			selected = sc
			break
		}
	}
	if selected == nil {
		for _, sc := range scored {
			if sc.Feasible() {
				selected = sc
				break
			}
		}
	}
	if selected == nil {
		selected = leastBlocked(scored)
	}

	res.SelectedCapability = selected.Name
	res.SelectedScore = selected

	switch {
	case !selected.Feasible():
		res.NeedsClarification = true
		res.ClarifyReason = "hard_constraint_not_supported"
		res.ClarifyQuestion = "I could not find a capability-feasible report for the requested constraints. Please refine the required filters or business scope."
	case len(selected.MissingRequiredFilterValues) > 0:
		res.NeedsClarification = true
		res.ClarifyReason = "missing_required_filter_value"
		res.ClarifyQuestion = questionForKind(selected.MissingRequiredFilterValues[0])
	case selected.Confidence < LowConfidenceThreshold:
		res.NeedsClarification = true
		res.ClarifyReason = "low_confidence_candidate"
		res.ClarifyQuestion = "Please specify the business domain and target metric so I can choose the right report."
	}

	logging.Resolver("selected=%s score=%.0f blockers=%d clarify=%v",
		res.SelectedCapability, selected.Score, len(selected.HardBlockers), res.NeedsClarification)
	return res
}

// leastBlocked picks the candidate with the fewest blockers, then the best
// score. scored must be non-empty and already score-ordered.
func leastBlocked(scored []*types.CandidateScore) *types.CandidateScore {
	best := scored[0]
	for _, sc := range scored[1:] {
		if len(sc.HardBlockers) < len(best.HardBlockers) {
			best = sc
		}
	}
	return best
}
