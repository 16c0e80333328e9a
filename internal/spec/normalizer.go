// Package spec turns untrusted oracle output into a fully-shaped RequestSpec.
// Normalize is a total function: whatever the oracle produced, the result has
// every field populated with an enum-valid, in-range value and the caller
// never sees an error for bad oracle data, only schema error codes.
package spec

import (
	"fmt"
	"strconv"
	"strings"

	"reportlens/internal/types"
)

const (
	maxTopN           = 200
	maxColumns        = 12
	maxGroupBy        = 10
	maxAmbiguities    = 10
	maxQuestionLength = 280
)

// DefaultClarificationQuestion is used when the oracle flags a clarification
// without providing a question.
const DefaultClarificationQuestion = "Could you clarify the missing business detail (for example company, warehouse, date, or target field)?"

var (
	allowedIntents = map[types.Intent]bool{
		types.IntentRead: true, types.IntentTransformLast: true, types.IntentTutor: true,
		types.IntentWriteDraft: true, types.IntentWriteConfirm: true, types.IntentExport: true,
	}
	allowedTaskTypes = map[types.TaskType]bool{
		types.TaskKPI: true, types.TaskRanking: true, types.TaskTrend: true, types.TaskDetail: true,
	}
	allowedTaskClasses = map[types.TaskClass]bool{
		types.ClassAnalyticalRead: true, types.ClassTransformFollowup: true,
		types.ClassListLatestRecords: true, types.ClassDetailProjection: true,
		types.ClassWriteRequest: true,
	}
	allowedAggregations = map[types.Aggregation]bool{
		types.AggSum: true, types.AggCount: true, types.AggAvg: true, types.AggNone: true,
	}
	allowedTimeModes = map[types.TimeMode]bool{
		types.TimeAsOf: true, types.TimeRange: true, types.TimeRelative: true, types.TimeNone: true,
	}
	allowedOutputModes = map[types.OutputMode]bool{
		types.OutputKPI: true, types.OutputTopN: true, types.OutputDetail: true,
	}
	allowedDomains = map[types.Domain]bool{
		types.DomainUnknown: true, types.DomainSales: true, types.DomainFinance: true,
		types.DomainInventory: true, types.DomainPurchasing: true, types.DomainOperations: true,
		types.DomainHR: true, types.DomainCrossFunctional: true,
	}
	intentAliases = map[string]types.Intent{
		"TRANSFORM": types.IntentTransformLast,
		"WRITE":     types.IntentWriteDraft,
	}
	canonicalDimensions = map[string]bool{
		"customer": true, "supplier": true, "item": true,
		"warehouse": true, "company": true, "territory": true,
	}
)

// Default returns the conservative base spec every normalization starts from.
func Default() *types.RequestSpec {
	return &types.RequestSpec{
		Intent:      types.IntentRead,
		TaskType:    types.TaskDetail,
		TaskClass:   types.ClassAnalyticalRead,
		Domain:      types.DomainUnknown,
		Aggregation: types.AggNone,
		TimeScope:   types.TimeScope{Mode: types.TimeNone},
		Filters:     map[string]string{},
		Output:      types.OutputContract{Mode: types.OutputDetail, MinimalColumns: []string{}},
		Dimensions:  []string{},
		GroupBy:     []string{},
		Ambiguities: []string{},
	}
}

func cleanStrList(values []interface{}, limit int) []string {
	if limit < 0 {
		limit = 0
	}
	if len(values) > limit {
		values = values[:limit]
	}
	var out []string
	seen := map[string]bool{}
	for _, item := range values {
		s := strings.TrimSpace(fmt.Sprintf("%v", item))
		if s == "" || s == "<nil>" {
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

func canonicalDimension(raw string) string {
	s := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "_")
	if canonicalDimensions[s] {
		return s
	}
	return ""
}

func asString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprintf("%v", v))
}

func asList(v interface{}) []interface{} {
	if out, ok := v.([]interface{}); ok {
		return out
	}
	if strs, ok := v.([]string); ok {
		out := make([]interface{}, len(strs))
		for i, s := range strs {
			out[i] = s
		}
		return out
	}
	return nil
}

func asMap(v interface{}) map[string]interface{} {
	if out, ok := v.(map[string]interface{}); ok {
		return out
	}
	return nil
}

// Normalize validates and repairs a raw oracle spec. The second return value
// lists schema error codes; an empty list means the oracle output was clean.
func Normalize(raw map[string]interface{}) (*types.RequestSpec, []string) {
	out := Default()
	var errs []string

	if raw == nil {
		return out, []string{"spec_not_object"}
	}

	intent := types.Intent(strings.ToUpper(asString(raw["intent"])))
	if alias, ok := intentAliases[string(intent)]; ok {
		intent = alias
	}
	if allowedIntents[intent] {
		out.Intent = intent
	} else {
		errs = append(errs, "intent_invalid")
	}

	taskType := types.TaskType(strings.ToLower(asString(raw["task_type"])))
	if allowedTaskTypes[taskType] {
		out.TaskType = taskType
	} else if taskType != "" {
		errs = append(errs, "task_type_invalid")
	}

	taskClass := types.TaskClass(strings.ToLower(asString(raw["task_class"])))
	if allowedTaskClasses[taskClass] {
		out.TaskClass = taskClass
	} else if taskClass != "" {
		errs = append(errs, "task_class_invalid")
	}

	agg := types.Aggregation(strings.ToLower(asString(raw["aggregation"])))
	if allowedAggregations[agg] {
		out.Aggregation = agg
	} else if agg != "" {
		errs = append(errs, "aggregation_invalid")
	}

	out.Subject = asString(raw["subject"])
	out.Metric = asString(raw["metric"])
	out.GroupBy = cleanStrList(asList(raw["group_by"]), maxGroupBy)

	var dims []string
	seenDims := map[string]bool{}
	for _, d := range cleanStrList(asList(raw["dimensions"]), maxColumns) {
		cd := canonicalDimension(d)
		if cd == "" || seenDims[cd] {
			continue
		}
		seenDims[cd] = true
		dims = append(dims, cd)
	}
	out.Dimensions = dims
	out.Ambiguities = cleanStrList(asList(raw["ambiguities"]), maxAmbiguities)

	domain := types.Domain(strings.ToLower(asString(raw["domain"])))
	if allowedDomains[domain] {
		out.Domain = domain
	} else if domain != "" {
		errs = append(errs, "domain_invalid")
	}

	if tsRaw, present := raw["time_scope"]; present && tsRaw != nil {
		ts := asMap(tsRaw)
		if ts == nil {
			errs = append(errs, "time_scope_not_object")
		} else {
			mode := types.TimeMode(strings.ToLower(asString(ts["mode"])))
			value := asString(ts["value"])
			if allowedTimeModes[mode] {
				out.TimeScope = types.TimeScope{Mode: mode, Value: value}
			} else if mode != "" {
				errs = append(errs, "time_scope_mode_invalid")
			}
		}
	}

	if fRaw, present := raw["filters"]; present && fRaw != nil {
		filters := asMap(fRaw)
		if filters == nil {
			errs = append(errs, "filters_not_object")
		} else {
			for k, v := range filters {
				key := strings.TrimSpace(k)
				if key == "" {
					continue
				}
				out.Filters[key] = asString(v)
			}
		}
	}

	topN := 0
	switch v := raw["top_n"].(type) {
	case nil:
	case float64:
		topN = int(v)
	case int:
		topN = v
	case string:
		if v != "" {
			parsed, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, "top_n_not_int")
			} else {
				topN = parsed
			}
		}
	default:
		errs = append(errs, "top_n_not_int")
	}
	if topN < 0 {
		topN = 0
	}
	if topN > maxTopN {
		topN = maxTopN
	}
	out.TopN = topN

	if ocRaw, present := raw["output_contract"]; present && ocRaw != nil {
		oc := asMap(ocRaw)
		if oc == nil {
			errs = append(errs, "output_contract_not_object")
		} else {
			mode := types.OutputMode(strings.ToLower(asString(oc["mode"])))
			if allowedOutputModes[mode] {
				out.Output.Mode = mode
			} else if mode != "" {
				errs = append(errs, "output_mode_invalid")
			}
			out.Output.MinimalColumns = cleanStrList(asList(oc["minimal_columns"]), maxColumns)
		}
	}

	out.NeedsClarify = truthy(raw["needs_clarification"])
	out.ClarifyText = asString(raw["clarification_question"])
	if len(out.ClarifyText) > maxQuestionLength {
		out.ClarifyText = out.ClarifyText[:maxQuestionLength]
	}

	confidence := 0.0
	switch v := raw["confidence"].(type) {
	case nil:
	case float64:
		confidence = v
	case int:
		confidence = float64(v)
	case string:
		if v != "" {
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, "confidence_not_number")
			} else {
				confidence = parsed
			}
		}
	default:
		errs = append(errs, "confidence_not_number")
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	out.Confidence = confidence

	if out.NeedsClarify && out.ClarifyText == "" {
		out.ClarifyText = DefaultClarificationQuestion
	}

	applyConsistencyRules(out)

	if out.Confidence <= 0 {
		if len(errs) == 0 {
			out.Confidence = 0.7
		} else {
			out.Confidence = 0.4
		}
	}

	return out, errs
}

// applyConsistencyRules repairs internally contradictory but individually
// valid field combinations.
func applyConsistencyRules(out *types.RequestSpec) {
	if out.Output.Mode == types.OutputTopN && out.TopN <= 0 {
		out.TopN = 5
	}
	if out.TopN > 0 && out.Output.Mode == types.OutputDetail {
		out.Output.Mode = types.OutputTopN
	}
	if out.Output.Mode == types.OutputKPI && out.Aggregation == types.AggNone {
		out.Aggregation = types.AggSum
	}
	if out.TaskClass == types.ClassListLatestRecords {
		out.Output.Mode = types.OutputTopN
		if out.TopN <= 0 {
			out.TopN = 20
		}
	}

	if len(out.Dimensions) == 0 {
		var inferred []string
		seen := map[string]bool{}
		for _, rawDim := range append(append([]string{}, out.GroupBy...), out.Output.MinimalColumns...) {
			cd := canonicalDimension(rawDim)
			if cd == "" || seen[cd] {
				continue
			}
			seen[cd] = true
			inferred = append(inferred, cd)
		}
		if len(inferred) > maxColumns {
			inferred = inferred[:maxColumns]
		}
		out.Dimensions = inferred
	}

	if out.Domain == types.DomainUnknown {
		dims := map[string]bool{}
		for _, d := range out.Dimensions {
			dims[strings.ToLower(strings.TrimSpace(d))] = true
		}
		switch {
		case dims["customer"]:
			out.Domain = types.DomainSales
		case dims["supplier"]:
			out.Domain = types.DomainPurchasing
		case dims["warehouse"]:
			out.Domain = types.DomainInventory
		case dims["company"]:
			out.Domain = types.DomainFinance
		}
	}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "true" || s == "1" || s == "yes"
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return false
	}
}
