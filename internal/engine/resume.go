package engine

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"reportlens/internal/logging"
	"reportlens/internal/memory"
	"reportlens/internal/ontology"
	"reportlens/internal/spec"
	"reportlens/internal/types"
)

// planSeed pins fields from an interrupted turn so the oracle and the merge
// step reproduce the original scope when the conversation resumes.
type planSeed struct {
	reportName     string
	taskClass      types.TaskClass
	topN           int
	outputMode     types.OutputMode
	minimalColumns []string
	filters        map[string]string
}

// oracleSeed flattens the seed into the extraction request. Nil receivers
// yield nil so fresh turns carry no seed at all.
func (p *planSeed) oracleSeed() map[string]string {
	if p == nil {
		return nil
	}
	seed := map[string]string{}
	if p.reportName != "" {
		seed["report_name"] = p.reportName
	}
	if p.taskClass != "" {
		seed["task_class"] = string(p.taskClass)
	}
	if p.topN > 0 {
		seed["top_n"] = strconv.Itoa(p.topN)
	}
	if p.outputMode != "" {
		seed["output_mode"] = string(p.outputMode)
	}
	if len(p.minimalColumns) > 0 {
		seed["minimal_columns"] = strings.Join(p.minimalColumns, ",")
	}
	for k, v := range p.filters {
		seed["filter:"+k] = v
	}
	return seed
}

// seedFromSpecSoFar rebuilds the pinned scope stored with a clarification.
func seedFromSpecSoFar(s *types.SpecSoFar) *planSeed {
	if s == nil {
		return &planSeed{}
	}
	return &planSeed{
		taskClass:      s.TaskClass,
		topN:           s.TopN,
		outputMode:     s.Output.Mode,
		minimalColumns: append([]string(nil), s.Output.MinimalColumns...),
	}
}

// mergePinned overlays pinned fields onto a freshly extracted spec. Pinned
// filters win over oracle filters for the same key; minimal columns apply
// only when the new spec requested none.
func mergePinned(sp *types.RequestSpec, seed *planSeed) {
	if seed == nil {
		return
	}
	if seed.taskClass != "" {
		sp.TaskClass = seed.taskClass
	}
	if seed.topN > 0 {
		sp.TopN = seed.topN
		sp.Output.Mode = types.OutputTopN
	}
	// A pinned plain-detail mode never overrides a more specific fresh ask.
	if seed.outputMode != "" && seed.outputMode != types.OutputDetail {
		sp.Output.Mode = seed.outputMode
	}
	if len(seed.minimalColumns) > 0 && len(sp.Output.MinimalColumns) == 0 {
		sp.Output.MinimalColumns = append([]string(nil), seed.minimalColumns...)
	}
	if len(seed.filters) > 0 {
		if sp.Filters == nil {
			sp.Filters = map[string]string{}
		}
		for k, v := range seed.filters {
			if strings.TrimSpace(v) != "" {
				sp.Filters[k] = v
			}
		}
	}
}

var (
	optionIndexRe = regexp.MustCompile(`^\d{1,2}$`)
	scopeTokenRe  = regexp.MustCompile(`^[a-z0-9]+$`)
	allDigitsRe   = regexp.MustCompile(`^\d+$`)
)

func normalizeOptionLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// matchOptionChoice maps a free-text reply onto one of the offered options:
// a 1-based number, an exact normalized label, or a substring either way.
func matchOptionChoice(message string, options []string) string {
	t := normalizeOptionLabel(message)
	if t == "" || len(options) == 0 {
		return ""
	}
	if optionIndexRe.MatchString(t) {
		idx, _ := strconv.Atoi(t)
		if idx >= 1 && idx <= len(options) {
			return options[idx-1]
		}
		return ""
	}
	for _, opt := range options {
		if normalizeOptionLabel(opt) == t {
			return opt
		}
	}
	for _, opt := range options {
		n := normalizeOptionLabel(opt)
		if strings.Contains(n, t) || strings.Contains(t, n) {
			return opt
		}
	}
	return ""
}

// looksLikeScopeAnswer reports whether a short reply reads like a direct
// answer to the open question rather than a brand-new request.
func looksLikeScopeAnswer(message string) bool {
	tokens := strings.Fields(normalizeOptionLabel(message))
	if len(tokens) == 0 || len(tokens) > 4 {
		return false
	}
	for _, tok := range tokens {
		if !scopeTokenRe.MatchString(tok) || allDigitsRe.MatchString(tok) {
			return false
		}
	}
	return true
}

// optionAction resolves what accepting an option means. Explicit actions
// win; otherwise the first option switches reports and the second keeps the
// current scope.
func optionAction(p *types.PendingState, choice string) string {
	if action, ok := p.OptionActions[choice]; ok && action != "" {
		return action
	}
	for i, opt := range p.Options {
		if opt != choice {
			continue
		}
		if i == 0 {
			return "switch_report"
		}
		return "keep_current"
	}
	return ""
}

// prepareResume consumes a pending clarification. It either returns a direct
// payload (re-ask, keep-current), or the message plus seed to re-run the
// pipeline with, optionally reusing an already generated spec envelope.
func (e *Engine) prepareResume(ctx context.Context, rec *memory.SessionRecord, msg string) (*types.Payload, string, *planSeed, *spec.Envelope) {
	p := rec.Pending
	if p.Mode == types.PendingNeedFilters {
		return e.resumeNeedFilters(ctx, rec, msg)
	}
	return e.resumePlannerClarify(ctx, rec, msg)
}

func (e *Engine) resumePlannerClarify(ctx context.Context, rec *memory.SessionRecord, msg string) (*types.Payload, string, *planSeed, *spec.Envelope) {
	p := rec.Pending

	if choice := matchOptionChoice(msg, p.Options); choice != "" {
		switch optionAction(p, choice) {
		case "keep_current":
			logging.Engine("resume keep_current")
			payload := types.TextPayload("Keeping the current report scope. " + clarifyGenericDefault)
			payload.ClearPending = true
			return payload, "", nil, nil
		case "switch_report":
			logging.Engine("resume switch_report base=%q", p.BaseQuestion)
			seed := seedFromSpecSoFar(p.SpecSoFar)
			seed.filters = copyFilters(p.FiltersSoFar)
			seed.reportName = p.SuggestedSwitch
			if seed.reportName == "" {
				seed.reportName = p.CapabilityName
			}
			rec.Pending = nil
			return nil, p.BaseQuestion, seed, nil
		}
	}

	if p.Reason == "no_candidate" || looksLikeScopeAnswer(msg) {
		return e.mergedResume(rec, msg)
	}

	env := spec.Generate(ctx, e.oracle, e.oracleRequest(msg, rec, nil), "analytical_read")
	if e.hasActionableSignal(env.Spec) {
		logging.Engine("resume superseded by new request")
		rec.Pending = nil
		return nil, msg, nil, env
	}
	return e.mergedResume(rec, msg)
}

// mergedResume folds a short answer into the interrupted question and
// replans with the stored scope pinned.
func (e *Engine) mergedResume(rec *memory.SessionRecord, msg string) (*types.Payload, string, *planSeed, *spec.Envelope) {
	p := rec.Pending
	merged := strings.TrimSpace(p.BaseQuestion)
	if merged == "" {
		merged = msg
	} else if strings.TrimSpace(msg) != "" {
		merged = merged + ". " + strings.TrimSpace(msg)
	}
	logging.Engine("resume merged=%q", truncate(merged, 80))
	rec.Pending = nil
	return nil, merged, seedFromSpecSoFar(p.SpecSoFar), nil
}

func (e *Engine) resumeNeedFilters(ctx context.Context, rec *memory.SessionRecord, msg string) (*types.Payload, string, *planSeed, *spec.Envelope) {
	p := rec.Pending
	selected := ""

	if len(p.Options) > 0 {
		selected = matchOptionChoice(msg, p.Options)
		if selected == "" {
			env := spec.Generate(ctx, e.oracle, e.oracleRequest(msg, rec, nil), "analytical_read")
			if e.hasActionableSignal(env.Spec) {
				logging.Engine("resume superseded by new request")
				rec.Pending = nil
				return nil, msg, nil, env
			}
			reask := *p
			reask.Round = p.Round + 1
			text := p.Question
			if len(p.Options) > 0 {
				text += "\n" + formatOptions(p.Options)
			}
			payload := types.TextPayload(text)
			payload.Pending = &reask
			return payload, "", nil, nil
		}
	} else {
		env := spec.Generate(ctx, e.oracle, e.oracleRequest(msg, rec, nil), "analytical_read")
		if e.hasActionableSignal(env.Spec) && !looksLikeScopeAnswer(msg) {
			logging.Engine("resume superseded by new request")
			rec.Pending = nil
			return nil, msg, nil, env
		}
		selected = strings.TrimSpace(msg)
	}

	key := p.TargetFilterKey
	if key == "" {
		keys := make([]string, 0, len(p.FiltersSoFar))
		for k := range p.FiltersSoFar {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 0 {
			key = keys[0]
		}
	}

	filters := copyFilters(p.FiltersSoFar)
	if key != "" && selected != "" {
		filters[key] = selected
	}
	seed := seedFromSpecSoFar(p.SpecSoFar)
	seed.reportName = p.CapabilityName
	seed.filters = filters
	logging.Engine("resume filter %s=%q base=%q", key, selected, truncate(p.BaseQuestion, 60))
	rec.Pending = nil
	return nil, p.BaseQuestion, seed, nil
}

// mergeTransformAmbiguities folds deterministic transform hints from the raw
// message into the spec's ambiguity tags.
func mergeTransformAmbiguities(ont *ontology.Catalog, sp *types.RequestSpec, message string) {
	seen := map[string]bool{}
	for _, a := range sp.Ambiguities {
		seen[a] = true
	}
	for _, a := range ont.InferTransformAmbiguities(message) {
		if !seen[a] {
			sp.Ambiguities = append(sp.Ambiguities, a)
			seen[a] = true
		}
	}
	if len(sp.Ambiguities) > maxAmbiguities {
		sp.Ambiguities = sp.Ambiguities[:maxAmbiguities]
	}
}
