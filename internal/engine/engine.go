// Package engine orchestrates one conversational turn end to end: pending
// continuations, oracle spec extraction, memory anchoring, entity and
// capability resolution, bounded execution with the quality gate, and the
// single session write at the end of the turn.
package engine

import (
	"context"
	"strconv"
	"strings"
	"time"

	"reportlens/internal/backend"
	"reportlens/internal/catalog"
	"reportlens/internal/config"
	"reportlens/internal/gate"
	"reportlens/internal/logging"
	"reportlens/internal/memory"
	"reportlens/internal/ontology"
	"reportlens/internal/resolver"
	"reportlens/internal/shaper"
	"reportlens/internal/spec"
	"reportlens/internal/types"
)

const (
	tutorText = "I can help with ERP business analytics across sales, purchasing, inventory, receivables, and payables. Examples: top customers/products, outstanding amounts, aging, warehouse stock, trends by week/month, and invoice/detail lookups."

	lowSignalQuestion = "Which business report should I run, and for which timeframe?"

	maxQuestionLength = 280
	maxAmbiguities    = 12
)

// clarifyOptionSwitch and clarifyOptionKeep are the default choices offered
// on a planner clarification.
const (
	clarifyOptionSwitch = "Switch to compatible report"
	clarifyOptionKeep   = "Keep current scope"
)

// allowedBlockerReasons is the closed set of clarification reasons that may
// actually block a turn. Anything else is answered best-effort instead of
// bouncing a question back to the user.
var allowedBlockerReasons = map[string]bool{
	"missing_required_filter_value": true,
	"hard_constraint_not_supported": true,
	"entity_no_match":               true,
	"entity_ambiguous":              true,
	"no_candidate":                  true,
	"low_confidence_candidate":      true,
	"resolver_pipeline_error":       true,
}

// metaQuestionPhrases mark oracle questions that ask about internals instead
// of something the user can answer. Such questions are replaced with a
// reason-specific default.
var metaQuestionPhrases = []string{
	"metric or grouping",
	"grouping or metric",
	"which metric",
	"which grouping",
}

var clarifyDefaults = map[string]string{
	"missing_required_filter_value": "Which required filter value should I use (for example company, warehouse, customer, or supplier)?",
	"hard_constraint_not_supported": "I could not match all requested constraints in one report. Which constraint should I prioritize?",
	"entity_no_match":               "I couldn't find a matching value for that filter. Which exact value should I use?",
	"entity_ambiguous":              "I found multiple matches for that filter. Which one should I use?",
}

const clarifyGenericDefault = "Please provide one concrete missing detail so I can run the correct report."

// Engine wires the per-turn pipeline together. All dependencies are injected
// so tests can run against fixture backends and scripted oracles.
type Engine struct {
	cfg      *config.Config
	ont      *ontology.Catalog
	provider *catalog.Provider
	oracle   spec.Oracle
	executor backend.ReportExecutor
	writer   backend.DocumentWriter
	entities backend.EntityDirectory
	sessions *memory.SessionStore
	now      func() time.Time
}

// New builds an engine. The writer and entity directory may be nil when the
// deployment has no write surface or no entity masters.
func New(cfg *config.Config, ont *ontology.Catalog, provider *catalog.Provider, oracle spec.Oracle,
	executor backend.ReportExecutor, writer backend.DocumentWriter, entities backend.EntityDirectory,
	sessions *memory.SessionStore) *Engine {
	return &Engine{
		cfg:      cfg,
		ont:      ont,
		provider: provider,
		oracle:   oracle,
		executor: executor,
		writer:   writer,
		entities: entities,
		sessions: sessions,
		now:      time.Now,
	}
}

// WithClock overrides the engine clock, used by tests for stable freshness
// and topic timestamps.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// RunTurn executes one user message against a session and returns the
// display-ready payload. Session state is written exactly once, at the end.
func (e *Engine) RunTurn(ctx context.Context, sessionID, message string) (*types.Payload, error) {
	msg := strings.TrimSpace(message)
	rec, err := e.sessions.Load(sessionID)
	if err != nil {
		return nil, err
	}
	logging.Engine("turn start session=%s pending=%v message=%q", sessionID, rec.Pending != nil, truncate(msg, 80))

	if rec.Pending != nil && rec.Pending.Mode == types.PendingWriteConfirm {
		payload := e.resolveWriteConfirmation(ctx, sessionID, rec, msg)
		return e.finishTurn(sessionID, rec, payload, rec.TopicState)
	}

	effective := msg
	var seed *planSeed
	var env *spec.Envelope
	if rec.Pending != nil {
		direct, resumedMsg, resumedSeed, resumedEnv := e.prepareResume(ctx, rec, msg)
		if direct != nil {
			return e.finishTurn(sessionID, rec, direct, rec.TopicState)
		}
		effective, seed, env = resumedMsg, resumedSeed, resumedEnv
	}

	return e.runReadTurn(ctx, sessionID, rec, effective, msg, seed, env)
}

// runReadTurn is the main pipeline for a read (or newly detected write)
// turn. effective is the message actually planned, which differs from raw
// when a pending clarification was merged in.
func (e *Engine) runReadTurn(ctx context.Context, sessionID string, rec *memory.SessionRecord,
	effective, raw string, seed *planSeed, env *spec.Envelope) (*types.Payload, error) {

	if env == nil {
		env = spec.Generate(ctx, e.oracle, e.oracleRequest(effective, rec, seed), "analytical_read")
	}
	sp := env.Spec
	logging.Engine("spec intent=%s class=%s subject=%q metric=%q fallback=%v",
		sp.Intent, sp.TaskClass, sp.Subject, sp.Metric, env.UsedFallback)

	// The oracle occasionally misreads explicit write verbs as reads; the
	// deterministic detector wins.
	if sp.Intent == types.IntentRead {
		if wr := e.ont.InferWriteRequest(raw); wr.Intent == types.IntentWriteDraft || wr.Intent == types.IntentWriteConfirm {
			sp.Intent = wr.Intent
			sp.TaskClass = types.ClassWriteRequest
		}
	}
	if e.ont.InferOutputFlags(raw) {
		sp.WantsDownload = true
	}

	switch sp.Intent {
	case types.IntentWriteDraft, types.IntentWriteConfirm:
		payload := e.handleWriteIntent(ctx, sessionID, rec, raw)
		return e.finishTurn(sessionID, rec, payload, rec.TopicState)
	case types.IntentTutor:
		return e.finishTurn(sessionID, rec, types.TextPayload(tutorText), rec.TopicState)
	}

	rawLowSignal := e.isLowSignalRead(sp)

	meta := memory.Anchor(sp, rec.TopicState)
	e.recoverLatestRecordFollowup(sp, raw, rec.TopicState)
	mergePinned(sp, seed)

	var entityClar *backend.EntityClarification
	if e.entities != nil && len(sp.Filters) > 0 {
		resolved, clar, err := backend.ResolveEntityFilters(ctx, e.entities, sp.Filters)
		if err != nil {
			logging.Engine("entity resolution error, continuing unverified: %v", err)
		} else {
			sp.Filters = resolved
			entityClar = clar
		}
	}

	mergeTransformAmbiguities(e.ont, sp, raw)
	e.maybePromoteTransform(sp, raw, rec, meta)

	res := resolver.Resolve(e.ont, e.provider.Current(), sp, e.now())

	decision := e.decideClarification(sp, res, entityClar, rec, seed, rawLowSignal)
	if decision != nil {
		payload := e.buildClarifyPayload(sp, res, decision, effective)
		verdict := gate.Evaluate(e.ont, sp, res, payload, false)
		logging.Engine("clarify reason=%s verdict=%s", decision.reason, verdict.Verdict)
		topic := memory.BuildTopicState(sp, res, payload, meta, raw, e.now())
		return e.finishTurn(sessionID, rec, payload, topic)
	}

	payload := e.executeLoop(ctx, sp, res, rec, raw)
	payload = e.sanitizePayload(sp, payload)

	topic := memory.BuildTopicState(sp, res, payload, meta, raw, e.now())
	if topic != nil && topic.TurnMeta != nil {
		topic.TurnMeta.StepTrace = payload.StepTrace
	}
	return e.finishTurn(sessionID, rec, payload, topic)
}

// oracleRequest assembles the extraction request, including last-result
// metadata so the oracle can recognize transform follow-ups.
func (e *Engine) oracleRequest(message string, rec *memory.SessionRecord, seed *planSeed) spec.OracleRequest {
	req := spec.OracleRequest{
		Message:  message,
		TodayISO: e.now().Format("2006-01-02"),
		PlanSeed: seed.oracleSeed(),
	}
	if rec.LastResult != nil && rec.LastResult.IsTable() {
		req.HasLastResult = true
		req.LastResultMeta = &spec.LastResultMeta{
			CapabilityName: rec.LastResult.CapabilityName,
			Columns:        append([]string(nil), rec.LastResult.Table.Columns...),
		}
	}
	return req
}

// clarifyDecision is the engine's final call on interrupting the turn with a
// question instead of executing.
type clarifyDecision struct {
	reason    string
	question  string
	options   []string
	targetKey string
	rawValue  string
}

func (e *Engine) decideClarification(sp *types.RequestSpec, res *types.Resolution,
	entityClar *backend.EntityClarification, rec *memory.SessionRecord, seed *planSeed, rawLowSignal bool) *clarifyDecision {

	// Transforms rerun prior validated scope and never need a question.
	if sp.Intent == types.IntentTransformLast {
		return nil
	}
	// Direct document lookups carry their own target.
	if sp.DocumentID != "" || docIDFromFilters(sp.Filters) != "" {
		return nil
	}
	// A latest-records listing with a resolved record type is runnable as is;
	// dimension gaps there are tolerated, not clarified.
	if sp.TaskClass == types.ClassListLatestRecords && strings.TrimSpace(sp.Filters["doctype"]) != "" {
		return nil
	}

	if entityClar != nil {
		return &clarifyDecision{
			reason:    entityClar.Reason,
			question:  entityClar.Question,
			options:   entityClar.Options,
			targetKey: entityClar.FilterKey,
			rawValue:  entityClar.RawValue,
		}
	}

	// A contentless opening message gets one orienting question rather than
	// an arbitrary report.
	if seed == nil && rec.Pending == nil && rec.TopicState == nil && rawLowSignal {
		return &clarifyDecision{reason: "no_candidate", question: lowSignalQuestion}
	}

	needs := res.NeedsClarification || sp.NeedsClarify
	if !needs {
		return nil
	}
	reason := res.ClarifyReason
	if reason == "" {
		reason = sp.ClarifyReason
	}
	if reason != "" && !allowedBlockerReasons[reason] {
		return nil
	}
	question := res.ClarifyQuestion
	if question == "" {
		question = sp.ClarifyText
	}
	d := &clarifyDecision{reason: reason, question: question}
	if reason == "missing_required_filter_value" && res.SelectedScore != nil &&
		len(res.SelectedScore.MissingRequiredFilterValues) > 0 {
		d.targetKey = res.SelectedScore.MissingRequiredFilterValues[0]
	}
	return d
}

// buildClarifyPayload turns a clarify decision into the pending question
// payload persisted for the next turn.
func (e *Engine) buildClarifyPayload(sp *types.RequestSpec, res *types.Resolution,
	d *clarifyDecision, baseQuestion string) *types.Payload {

	mode := types.PendingPlannerClarify
	switch d.reason {
	case "missing_required_filter_value", "entity_no_match", "entity_ambiguous":
		mode = types.PendingNeedFilters
	}

	options := d.options
	if mode == types.PendingPlannerClarify && len(options) == 0 {
		options = []string{clarifyOptionSwitch, clarifyOptionKeep}
	}

	question := sanitizeQuestion(d.question, d.reason)
	pending := &types.PendingState{
		Mode:            mode,
		BaseQuestion:    baseQuestion,
		CapabilityName:  res.SelectedCapability,
		FiltersSoFar:    copyFilters(sp.Filters),
		Question:        question,
		Options:         options,
		TargetFilterKey: d.targetKey,
		RawValue:        d.rawValue,
		Reason:          d.reason,
		SpecSoFar: &types.SpecSoFar{
			TaskClass: sp.TaskClass,
			Subject:   sp.Subject,
			Metric:    sp.Metric,
			Domain:    sp.Domain,
			TopN:      sp.TopN,
			Output:    sp.Output,
		},
		Round: 1,
	}

	text := question
	if len(options) > 0 {
		text += "\n" + formatOptions(options)
	}
	payload := types.TextPayload(text)
	payload.Pending = pending
	return payload
}

// sanitizeQuestion replaces empty or internals-referencing oracle questions
// with a reason-specific default and caps the length.
func sanitizeQuestion(question, reason string) string {
	q := strings.TrimSpace(question)
	lower := strings.ToLower(q)
	meta := false
	for _, phrase := range metaQuestionPhrases {
		if strings.Contains(lower, phrase) {
			meta = true
			break
		}
	}
	if q == "" || meta {
		if d, ok := clarifyDefaults[reason]; ok {
			q = d
		} else {
			q = clarifyGenericDefault
		}
	}
	return truncate(q, maxQuestionLength)
}

// isLowSignalRead reports whether a read spec carries no scope at all. Must
// be evaluated before memory anchoring fills fields in.
func (e *Engine) isLowSignalRead(sp *types.RequestSpec) bool {
	if sp.Intent != types.IntentRead || sp.TaskClass == types.ClassTransformFollowup {
		return false
	}
	if len(sp.Filters) > 0 || len(sp.GroupBy) > 0 || len(sp.Dimensions) > 0 ||
		sp.TopN > 0 || !sp.TimeScope.IsZero() || strings.TrimSpace(sp.Metric) != "" ||
		len(sp.Output.MinimalColumns) > 0 {
		return false
	}
	subject := strings.ToLower(strings.TrimSpace(sp.Subject))
	switch subject {
	case "", "report", "reports", "data", "info", "information", "business", "analytics", "overview", "help":
		return true
	}
	return false
}

// hasActionableSignal reports whether a freshly extracted spec is a real new
// request rather than a short answer to a pending question.
func (e *Engine) hasActionableSignal(sp *types.RequestSpec) bool {
	switch sp.Intent {
	case types.IntentWriteDraft, types.IntentWriteConfirm, types.IntentTransformLast:
		return true
	}
	return strings.TrimSpace(sp.Subject) != "" || strings.TrimSpace(sp.Metric) != "" ||
		len(sp.Filters) > 0 || len(sp.Dimensions) > 0 || len(sp.GroupBy) > 0 ||
		sp.TopN > 0 || !sp.TimeScope.IsZero()
}

// finishTurn persists the session exactly once and returns the payload
// formatted for display. The stored last result keeps raw numeric cells.
func (e *Engine) finishTurn(sessionID string, rec *memory.SessionRecord,
	payload *types.Payload, topic *types.TopicState) (*types.Payload, error) {

	next := &memory.SessionRecord{
		TopicState: topic,
		Pending:    rec.Pending,
		LastResult: rec.LastResult,
	}
	switch {
	case payload.Pending != nil:
		next.Pending = payload.Pending
	case payload.ClearPending:
		next.Pending = nil
	}
	if payload.IsTable() {
		next.LastResult = payload
		next.Pending = nil
	}
	if err := e.sessions.Save(sessionID, next); err != nil {
		return nil, err
	}
	logging.Engine("turn done session=%s type=%s pending=%v", sessionID, payload.Type, next.Pending != nil)
	return shaper.FormatForDisplay(payload), nil
}

func copyFilters(in map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range in {
		out[k] = v
	}
	return out
}

func docIDFromFilters(filters map[string]string) string {
	return memory.ExtractDocID(filters)
}

func formatOptions(options []string) string {
	var b strings.Builder
	for i, opt := range options {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strconv.Itoa(i+1) + ". " + strings.TrimSpace(opt))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
