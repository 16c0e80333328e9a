package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"reportlens/internal/gate"
	"reportlens/internal/logging"
	"reportlens/internal/memory"
	"reportlens/internal/ontology"
	"reportlens/internal/resolver"
	"reportlens/internal/shaper"
	"reportlens/internal/types"
)

const (
	loopGuardText = "I couldn't progress this request safely due to a repeated execution path. Please restate the request in one sentence."

	transformNoResultText = "I need a previous result in this chat to apply that transform."

	systemErrorText = "I hit a report execution issue for this request. Please adjust one filter (date/company/warehouse) and retry."
)

var systemErrorMarkers = []string{
	"is mandatory", "not found", "must be greater than", "must be less than",
	"traceback", "exception", "error:", "sql",
}

// executeLoop produces a gated payload for a resolved spec. Each step runs
// one capability; repairable verdicts move to the next feasible candidate or
// trigger one re-resolution. A repeated step signature trips the loop guard.
func (e *Engine) executeLoop(ctx context.Context, sp *types.RequestSpec, res *types.Resolution,
	rec *memory.SessionRecord, msg string) *types.Payload {

	maxSteps := e.cfg.GetMaxSteps()
	maxSwitch := e.cfg.GetMaxSwitchAttempts()
	maxRepair := e.cfg.GetMaxRepairAttempts()

	capability := res.SelectedCapability
	seen := map[string]bool{}
	tried := map[string]bool{}
	switches, repairs := 0, 0

	var payload *types.Payload
	var verdict *types.QualityVerdict
	var trace []string

	for step := 0; step < maxSteps; step++ {
		sig := stepSignature(sp, capability, msg)
		if seen[sig] {
			guard := types.TextPayload(loopGuardText)
			guardVerdict := gate.Evaluate(e.ont, sp, res, guard, true)
			guard.StepTrace = append(trace, fmt.Sprintf("step %d %s %s", step, capability, guardVerdict.Verdict))
			logging.Engine("loop guard tripped at step %d capability=%s verdict=%s", step, capability, guardVerdict.Verdict)
			return guard
		}
		seen[sig] = true
		tried[capability] = true

		payload = e.produce(ctx, sp, capability, rec)
		if isSystemErrorPayload(payload) {
			payload = types.TextPayload(systemErrorText)
		}
		if sp.Intent != types.IntentTransformLast {
			payload = shaper.Shape(e.ont, sp, payload, e.rolesFor(capability))
		}
		payload = e.sanitizePayload(sp, payload)
		applyEntityRowFilter(e.ont, sp, payload)

		verdict = gate.Evaluate(e.ont, sp, res, payload, false)
		trace = append(trace, fmt.Sprintf("step %d %s %s", step, capability, verdict.Verdict))
		logging.Engine("step %d capability=%s verdict=%s failed=%v", step, capability, verdict.Verdict, verdict.FailedCheckIDs)

		if verdict.Verdict == types.VerdictPass || verdict.Verdict == types.VerdictHardFail {
			break
		}
		if sp.Intent == types.IntentTransformLast {
			break
		}
		if switches < maxSwitch && verdict.HasRepairableClass(types.FailShape, types.FailData, types.FailConstraint, types.FailSemantic) {
			if next := nextCandidate(res, tried); next != "" {
				logging.Engine("switching candidate %s -> %s", capability, next)
				capability = next
				switches++
				continue
			}
		}
		if repairs < maxRepair {
			logging.Engine("re-resolving after repairable verdict")
			res = resolver.Resolve(e.ont, e.provider.Current(), sp, e.now())
			capability = res.SelectedCapability
			repairs++
			continue
		}
		break
	}

	if payload != nil && payload.IsTable() && verdict != nil && verdict.Verdict == types.VerdictPass {
		payload.ResultID = uuid.NewString()
		payload.CapabilityName = capability
		payload.ClearPending = true
		payload.StepTrace = trace
		return payload
	}

	if verdict != nil && verdict.Verdict == types.VerdictRepairableFail && sp.Intent != types.IntentTransformLast {
		out := e.unsupportedClarify(sp, capability, msg, switches)
		out.StepTrace = trace
		return out
	}
	if payload == nil {
		payload = types.TextPayload(unsupportedMessage(sp))
	}
	payload.StepTrace = trace
	return payload
}

// produce executes one step: re-shape the previous result for transforms,
// otherwise run the capability against the backend.
func (e *Engine) produce(ctx context.Context, sp *types.RequestSpec, capability string, rec *memory.SessionRecord) *types.Payload {
	if sp.Intent == types.IntentTransformLast {
		last := rec.LastResult
		if last == nil || !last.IsTable() {
			return types.TextPayload(transformNoResultText)
		}
		base := *last
		base.Table = last.Table.Clone()
		base.SourceTable = last.SourceTable.Clone()
		base.Pending = nil
		base.ClearPending = false
		return shaper.TransformLast(sp, &base)
	}

	if capability == "" {
		return &types.Payload{Type: types.PayloadError, Text: "no capability selected"}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.GetBackendTimeout())
	defer cancel()
	table, err := e.executor.Execute(execCtx, capability, sp.Filters)
	if err != nil {
		logging.Engine("execution failed capability=%s: %v", capability, err)
		return &types.Payload{Type: types.PayloadError, Text: err.Error()}
	}
	payload := types.TablePayload(table)
	payload.CapabilityName = capability
	payload.DocumentID = sp.DocumentID
	return payload
}

// stepSignature identifies one execution attempt; repeating it means the
// loop is no longer making progress.
func stepSignature(sp *types.RequestSpec, capability, msg string) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%d", sp.Intent, sp.TaskClass, capability,
		strings.ToLower(strings.TrimSpace(msg)), sp.Metric, sp.TopN)
}

// rolesFor returns the selected capability's declared column contract, when
// the catalog carries one.
func (e *Engine) rolesFor(capability string) *shaper.ColumnRoles {
	if capability == "" {
		return nil
	}
	idx := e.provider.Current()
	if idx == nil {
		return nil
	}
	for i := range idx.Rows {
		if idx.Rows[i].Name != capability {
			continue
		}
		c := idx.Rows[i].Contract
		if c == nil {
			return nil
		}
		return &shaper.ColumnRoles{
			Metrics:                  c.MetricColumns,
			Dimensions:               c.DimensionColumns,
			AggregateDimensionValues: c.AggregateDimensionValues,
		}
	}
	return nil
}

// nextCandidate returns the first untried feasible candidate in score order.
func nextCandidate(res *types.Resolution, tried map[string]bool) string {
	for _, name := range res.Candidates {
		if tried[name] {
			continue
		}
		if score, ok := res.CandidateScores[name]; ok && !score.Feasible() {
			continue
		}
		return name
	}
	return ""
}

// unsupportedClarify parks an unservable request behind a planner question
// instead of returning a wrong table.
func (e *Engine) unsupportedClarify(sp *types.RequestSpec, capability, msg string, switches int) *types.Payload {
	question := clarifyDefaults["hard_constraint_not_supported"]
	options := []string{clarifyOptionSwitch, clarifyOptionKeep}
	text := unsupportedMessage(sp) + "\n" + question + "\n" + formatOptions(options)

	payload := types.TextPayload(text)
	payload.Pending = &types.PendingState{
		Mode:           types.PendingPlannerClarify,
		BaseQuestion:   msg,
		CapabilityName: capability,
		FiltersSoFar:   copyFilters(sp.Filters),
		Question:       question,
		Options:        options,
		Reason:         "hard_constraint_not_supported",
		SpecSoFar: &types.SpecSoFar{
			TaskClass: sp.TaskClass,
			Subject:   sp.Subject,
			Metric:    sp.Metric,
			Domain:    sp.Domain,
			TopN:      sp.TopN,
			Output:    sp.Output,
		},
		SwitchAttempts: switches,
		Round:          1,
	}
	return payload
}

func unsupportedMessage(sp *types.RequestSpec) string {
	subject := strings.TrimSpace(sp.Subject)
	metric := strings.TrimSpace(sp.Metric)
	if subject != "" || metric != "" {
		return fmt.Sprintf("I couldn't reliably produce that result with current report coverage. Requested scope: subject='%s', metric='%s'. Please refine the target report/filters and retry.", subject, metric)
	}
	return "I couldn't reliably produce that result with current report coverage. Please refine the target report/filters and retry."
}

// isSystemErrorPayload spots raw backend/validation error text that must
// never reach the user verbatim.
func isSystemErrorPayload(p *types.Payload) bool {
	if p == nil || p.IsTable() {
		return false
	}
	if p.Type == types.PayloadError {
		return true
	}
	lower := strings.ToLower(p.Text)
	for _, marker := range systemErrorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// sanitizePayload is the last edit before the gate and the user: collapse
// repeated lines and replace leaked error text with a stable message.
func (e *Engine) sanitizePayload(sp *types.RequestSpec, payload *types.Payload) *types.Payload {
	if payload == nil {
		return types.TextPayload(unsupportedMessage(sp))
	}
	if payload.IsTable() {
		return payload
	}
	if payload.Type == types.PayloadError {
		out := types.TextPayload(unsupportedMessage(sp))
		out.ClearPending = payload.ClearPending
		out.StepTrace = payload.StepTrace
		return out
	}
	if isSystemErrorPayload(payload) && payload.Text != systemErrorText &&
		payload.Text != transformNoResultText && payload.Text != loopGuardText {
		out := types.TextPayload(systemErrorText)
		out.StepTrace = payload.StepTrace
		return out
	}

	lines := strings.Split(payload.Text, "\n")
	var kept []string
	for i, line := range lines {
		if i > 0 && strings.TrimSpace(line) != "" && strings.TrimSpace(line) == strings.TrimSpace(lines[i-1]) {
			continue
		}
		kept = append(kept, line)
	}
	payload.Text = strings.Join(kept, "\n")
	return payload
}

// applyEntityRowFilter narrows a result table to rows matching entity-valued
// filters (customer, supplier, warehouse) when the backend returned a
// superset. The cut applies only when it is a strict, non-empty subset.
func applyEntityRowFilter(ont *ontology.Catalog, sp *types.RequestSpec, payload *types.Payload) {
	if payload == nil || !payload.IsTable() || len(sp.Filters) == 0 {
		return
	}
	for key, value := range sp.Filters {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if ont.CanonicalDimension(key) == "" {
			continue
		}
		target := normalizeCell(value)
		var matched [][]interface{}
		for _, row := range payload.Table.Rows {
			for _, cell := range row {
				c := normalizeCell(fmt.Sprint(cell))
				if c == "" {
					continue
				}
				if c == target || strings.Contains(c, target) || strings.Contains(target, c) {
					matched = append(matched, row)
					break
				}
			}
		}
		if len(matched) > 0 && len(matched) < len(payload.Table.Rows) {
			payload.Table.Rows = matched
		}
	}
}

func normalizeCell(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
