package engine

import (
	"regexp"
	"strings"

	"reportlens/internal/logging"
	"reportlens/internal/memory"
	"reportlens/internal/ontology"
	"reportlens/internal/types"
)

var (
	topLatestRe = regexp.MustCompile(`\b(?:top|latest)\s+\d+\b`)
	timeframeRe = regexp.MustCompile(`\b(?:today|yesterday|this week|last week|this month|last month|this quarter|last quarter|this year|last year|fy\s?\d{2,4}|\d{4}-\d{2})\b`)
)

// messageSemanticStrength estimates how much standalone scope a message
// carries. Weak messages lean on the previous result.
func messageSemanticStrength(ont *ontology.Catalog, message string) int {
	txt := strings.ToLower(message)
	strength := 0
	for _, tok := range ontology.TokenizeSemantic(txt) {
		if ont.KnownMetric(tok) != "" {
			strength++
			break
		}
	}
	if timeframeRe.MatchString(txt) {
		strength++
	}
	for _, kind := range ont.InferFilterKinds(txt) {
		if kind == "date" || kind == "time" {
			continue
		}
		strength++
	}
	if topLatestRe.MatchString(txt) {
		strength++
	}
	if ontology.FindDocumentID(message) != "" {
		strength++
	}
	return strength
}

func hasTransformHint(sp *types.RequestSpec) bool {
	for _, a := range sp.Ambiguities {
		if strings.HasPrefix(a, "transform_") {
			return true
		}
	}
	return false
}

// maybePromoteTransform rewrites a read that is really a follow-up over the
// previous table (scale it, re-sort it, project it, total it) into a
// TRANSFORM_LAST so the prior validated result is reused without a fresh
// capability selection.
func (e *Engine) maybePromoteTransform(sp *types.RequestSpec, message string, rec *memory.SessionRecord, meta *memory.AnchorMeta) {
	if sp.Intent != types.IntentRead {
		return
	}
	last := rec.LastResult
	if last == nil || !last.IsTable() || last.RowCount() == 0 {
		return
	}

	strength := messageSemanticStrength(e.ont, message)
	weak := meta.CurrStrength <= 2
	anchored := meta.Anchored()
	short := strength <= 2
	contextual := anchored || meta.Overlap >= 0.25

	transformHint := hasTransformHint(sp)
	projectionFollowup := sp.HasAmbiguity("transform_projection:only")
	scaleHint := sp.AmbiguityValue("transform_scale") != ""
	sortHint := sp.AmbiguityValue("transform_sort") != ""
	wantsAggregate := sp.TaskType == types.TaskKPI ||
		sp.Aggregation == types.AggSum || sp.Aggregation == types.AggAvg || sp.Aggregation == types.AggCount

	// An explicit fresh time scope means a new query, not a reshape of the
	// old one, unless the message also carries a transform verb.
	if !sp.TimeScope.IsZero() && !anchored && !weak && !transformHint && !projectionFollowup {
		return
	}
	// A bare sort-direction word over an already ranked result adds nothing.
	if sortHint && !scaleHint && !projectionFollowup && last.OutputMode == types.OutputTopN && strength <= 1 && !wantsAggregate {
		return
	}

	promote := false
	switch {
	case transformHint && (weak || anchored || (short && contextual)):
		promote = true
	case wantsAggregate && contextual && (weak || short):
		promote = true
	case projectionFollowup && contextual && (weak || short):
		promote = true
	}
	if !promote {
		return
	}

	sp.Intent = types.IntentTransformLast
	sp.TaskClass = types.ClassTransformFollowup
	switch sp.TaskType {
	case types.TaskKPI, types.TaskDetail, types.TaskRanking:
	default:
		sp.TaskType = types.TaskDetail
	}
	if scaleHint && !sortHint && !projectionFollowup || last.ScaledUnit != "" {
		// Scale-only reshapes keep the previous presentation.
		if last.OutputMode != "" {
			sp.Output.Mode = last.OutputMode
			if last.OutputMode == types.OutputTopN {
				sp.TaskType = types.TaskRanking
			}
		}
	}
	if sp.TaskType == types.TaskKPI && (sp.Aggregation == "" || sp.Aggregation == types.AggNone) {
		sp.Aggregation = types.AggSum
	}
	logging.Engine("promoted to transform followup strength=%d anchored=%v overlap=%.2f", strength, anchored, meta.Overlap)
}
