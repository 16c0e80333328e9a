// Package types provides shared type definitions used across reportlens packages.
// This package exists to break import cycles between the resolver, memory, gate,
// and engine layers. Types here are foundational data structures with no complex
// dependencies.
package types

import (
	"strings"
	"time"
)

// =============================================================================
// REQUEST SPEC
// =============================================================================

// Intent is the top-level action class of a turn.
type Intent string

const (
	IntentRead          Intent = "READ"
	IntentTransformLast Intent = "TRANSFORM_LAST"
	IntentTutor         Intent = "TUTOR"
	IntentWriteDraft    Intent = "WRITE_DRAFT"
	IntentWriteConfirm  Intent = "WRITE_CONFIRM"
	IntentExport        Intent = "EXPORT"
)

// TaskType describes the analytical shape of a read request.
type TaskType string

const (
	TaskKPI     TaskType = "kpi"
	TaskRanking TaskType = "ranking"
	TaskTrend   TaskType = "trend"
	TaskDetail  TaskType = "detail"
)

// TaskClass refines how a turn should be executed.
type TaskClass string

const (
	ClassAnalyticalRead    TaskClass = "analytical_read"
	ClassTransformFollowup TaskClass = "transform_followup"
	ClassListLatestRecords TaskClass = "list_latest_records"
	ClassDetailProjection  TaskClass = "detail_projection"
	ClassWriteRequest      TaskClass = "write_request"
)

// Aggregation is the closed set of supported aggregations.
type Aggregation string

const (
	AggSum   Aggregation = "sum"
	AggCount Aggregation = "count"
	AggAvg   Aggregation = "avg"
	AggNone  Aggregation = "none"
)

// TimeMode describes how a time scope constrains a request.
type TimeMode string

const (
	TimeAsOf     TimeMode = "as_of"
	TimeRange    TimeMode = "range"
	TimeRelative TimeMode = "relative"
	TimeNone     TimeMode = "none"
)

// OutputMode is the requested presentation contract.
type OutputMode string

const (
	OutputKPI    OutputMode = "kpi"
	OutputTopN   OutputMode = "top_n"
	OutputDetail OutputMode = "detail"
)

// Domain is the business domain a request belongs to.
type Domain string

const (
	DomainUnknown         Domain = "unknown"
	DomainSales           Domain = "sales"
	DomainFinance         Domain = "finance"
	DomainInventory       Domain = "inventory"
	DomainPurchasing      Domain = "purchasing"
	DomainOperations      Domain = "operations"
	DomainHR              Domain = "hr"
	DomainCrossFunctional Domain = "cross_functional"
)

// TimeScope is a mode plus its literal value ("2025-04", "last_month", ...).
type TimeScope struct {
	Mode  TimeMode `json:"mode" yaml:"mode"`
	Value string   `json:"value" yaml:"value"`
}

// IsZero reports whether no time constraint is present.
func (t TimeScope) IsZero() bool {
	return (t.Mode == "" || t.Mode == TimeNone) && strings.TrimSpace(t.Value) == ""
}

// OutputContract describes the requested result shape.
type OutputContract struct {
	Mode           OutputMode `json:"mode" yaml:"mode"`
	MinimalColumns []string   `json:"minimal_columns" yaml:"minimal_columns"`
}

// RequestSpec is the fully-shaped semantic request for one turn. After
// normalization every field holds an in-range, enum-valid value; downstream
// code never checks for missing keys.
type RequestSpec struct {
	Intent        Intent            `json:"intent"`
	TaskType      TaskType          `json:"task_type"`
	TaskClass     TaskClass         `json:"task_class"`
	Domain        Domain            `json:"domain"`
	Subject       string            `json:"subject"`
	Metric        string            `json:"metric"`
	Dimensions    []string          `json:"dimensions"`
	GroupBy       []string          `json:"group_by"`
	Aggregation   Aggregation       `json:"aggregation"`
	TimeScope     TimeScope         `json:"time_scope"`
	Filters       map[string]string `json:"filters"`
	TopN          int               `json:"top_n"`
	Output        OutputContract    `json:"output_contract"`
	Ambiguities   []string          `json:"ambiguities"`
	DocumentID    string            `json:"document_id"`
	Confidence    float64           `json:"confidence"`
	NeedsClarify  bool              `json:"needs_clarification"`
	ClarifyReason string            `json:"clarification_reason"`
	ClarifyText   string            `json:"clarification_question"`
	WantsDownload bool              `json:"wants_download"`
}

// HasAmbiguity reports whether a tagged hint like "transform_scale:million"
// is present.
func (s *RequestSpec) HasAmbiguity(tag string) bool {
	for _, a := range s.Ambiguities {
		if a == tag {
			return true
		}
	}
	return false
}

// AmbiguityValue returns the value half of the first hint with the given
// prefix, e.g. AmbiguityValue("transform_sort") == "desc".
func (s *RequestSpec) AmbiguityValue(prefix string) string {
	p := prefix + ":"
	for _, a := range s.Ambiguities {
		if strings.HasPrefix(a, p) {
			return strings.TrimPrefix(a, p)
		}
	}
	return ""
}

// =============================================================================
// CAPABILITY ROWS
// =============================================================================

// CapabilityConstraints describes which filter kinds a capability accepts.
// Kinds are canonical categories (customer, date, company), never raw field
// names.
type CapabilityConstraints struct {
	SupportedFilterKinds []string `json:"supported_filter_kinds" yaml:"supported_filter_kinds"`
	HardRequiredKinds    []string `json:"hard_required_kinds" yaml:"hard_required_kinds"`
	RequiredFilterValues []string `json:"required_filter_values" yaml:"required_filter_values"`
	RequirementsKnown    bool     `json:"requirements_known" yaml:"requirements_known"`
}

// TimeSupport flags which time scopes a capability can serve.
type TimeSupport struct {
	AsOf       bool `json:"as_of" yaml:"as_of"`
	Range      bool `json:"range" yaml:"range"`
	FiscalYear bool `json:"fiscal_year" yaml:"fiscal_year"`
	YearWindow bool `json:"year_window" yaml:"year_window"`
}

// Any reports whether at least one time mode is supported.
func (t TimeSupport) Any() bool {
	return t.AsOf || t.Range || t.FiscalYear || t.YearWindow
}

// CapabilitySemantics carries the inferred semantic tags of a capability.
type CapabilitySemantics struct {
	DomainHints      []string `json:"domain_hints" yaml:"domain_hints"`
	DimensionHints   []string `json:"dimension_hints" yaml:"dimension_hints"`
	MetricHints      []string `json:"metric_hints" yaml:"metric_hints"`
	PrimaryDimension string   `json:"primary_dimension" yaml:"primary_dimension"`
	SupportsRanking  bool     `json:"supports_ranking" yaml:"supports_ranking"`
}

// CapabilityContract is an optional per-capability presentation contract
// binding canonical metrics and dimensions to the report's actual column
// names, plus the dimension values that mark aggregate rows.
type CapabilityContract struct {
	MetricColumns            map[string][]string `json:"metric_columns" yaml:"metric_columns"`
	DimensionColumns         map[string][]string `json:"dimension_columns" yaml:"dimension_columns"`
	AggregateDimensionValues []string            `json:"aggregate_dimension_values" yaml:"aggregate_dimension_values"`
}

// CapabilityRow is one selectable reporting capability. Rows are rebuilt from
// the catalog snapshot on each resolution call and are immutable within a
// turn.
type CapabilityRow struct {
	Name           string                `json:"name" yaml:"name"`
	Family         string                `json:"family" yaml:"family"`
	Type           string                `json:"type" yaml:"type"`
	Constraints    CapabilityConstraints `json:"constraints" yaml:"constraints"`
	TimeSupport    TimeSupport           `json:"time_support" yaml:"time_support"`
	Semantics      CapabilitySemantics   `json:"semantics" yaml:"semantics"`
	Contract       *CapabilityContract   `json:"contract,omitempty" yaml:"contract,omitempty"`
	Confidence     float64               `json:"confidence" yaml:"confidence"`
	GeneratedAt    time.Time             `json:"generated_at" yaml:"generated_at"`
	FreshnessHours float64               `json:"freshness_hours" yaml:"freshness_hours"`
	Fingerprint    string                `json:"fingerprint" yaml:"fingerprint"`
}

// Fresh reports whether the row is inside its freshness window at the given
// instant.
func (r *CapabilityRow) Fresh(now time.Time) bool {
	if r.GeneratedAt.IsZero() {
		return false
	}
	hours := r.FreshnessHours
	if hours <= 0 {
		hours = 24
	}
	return !now.After(r.GeneratedAt.Add(time.Duration(hours * float64(time.Hour))))
}

// SupportsKind reports whether the capability accepts the given filter kind.
func (r *CapabilityRow) SupportsKind(kind string) bool {
	for _, k := range r.Constraints.SupportedFilterKinds {
		if strings.EqualFold(k, kind) {
			return true
		}
	}
	return false
}

// =============================================================================
// CANDIDATE SCORES
// =============================================================================

// CandidateScore is the resolver's assessment of one capability against one
// request. HardBlockers disqualify the candidate whenever a blocker-free
// candidate exists.
type CandidateScore struct {
	Name                        string   `json:"name"`
	Score                       float64  `json:"score"`
	TieBreak                    float64  `json:"tie_break"`
	Confidence                  float64  `json:"confidence"`
	HardBlockers                []string `json:"hard_blockers"`
	MissingRequiredFilterValues []string `json:"missing_required_filter_values"`
	Reasons                     []string `json:"reasons"`
}

// Feasible reports whether the candidate carries no hard blockers.
func (c *CandidateScore) Feasible() bool {
	return len(c.HardBlockers) == 0
}

// Resolution is the resolver's final answer for one turn.
type Resolution struct {
	SelectedCapability string                     `json:"selected_capability"`
	SelectedScore      *CandidateScore            `json:"selected_score"`
	Candidates         []string                   `json:"candidates"`
	CandidateScores    map[string]*CandidateScore `json:"candidate_scores"`
	NeedsClarification bool                       `json:"needs_clarification"`
	ClarifyReason      string                     `json:"clarification_reason"`
	ClarifyQuestion    string                     `json:"clarification_question"`
}

// =============================================================================
// TOPIC STATE
// =============================================================================

// ActiveTopic is the resolved scope of the most recent successful turn.
type ActiveTopic struct {
	TopicKey       string            `json:"topic_key"`
	TaskClass      TaskClass         `json:"task_class"`
	Domain         Domain            `json:"domain"`
	Subject        string            `json:"subject"`
	Metric         string            `json:"metric"`
	GroupBy        []string          `json:"group_by"`
	TopN           int               `json:"top_n"`
	CapabilityName string            `json:"capability_name"`
	Filters        map[string]string `json:"filters"`
	TimeScope      TimeScope         `json:"time_scope"`
}

// ActiveResult records the shape of the last produced result so transform
// follow-ups can reuse it.
type ActiveResult struct {
	ResultID       string     `json:"result_id"`
	CapabilityName string     `json:"capability_name"`
	DocumentID     string     `json:"document_id"`
	ScaledUnit     string     `json:"scaled_unit"`
	OutputMode     OutputMode `json:"output_mode"`
	SourceColumns  []string   `json:"source_columns"`
}

// UnresolvedBlocker records a clarification left open at end of turn.
type UnresolvedBlocker struct {
	Present  bool   `json:"present"`
	Reason   string `json:"reason"`
	Question string `json:"question"`
}

// TurnMeta is per-turn observability data carried on the topic state.
type TurnMeta struct {
	TurnID         string    `json:"turn_id"`
	Message        string    `json:"message"`
	SignalStrength int       `json:"signal_strength"`
	Overlap        float64   `json:"overlap"`
	TopicSwitched  bool      `json:"topic_switched"`
	Anchored       bool      `json:"anchored"`
	StepTrace      []string  `json:"step_trace,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// TopicState is the cross-turn conversational memory record. It is read once
// at turn start and written once at turn end; it is never mutated mid-turn.
type TopicState struct {
	ActiveTopic       *ActiveTopic       `json:"active_topic"`
	ActiveResult      *ActiveResult      `json:"active_result"`
	UnresolvedBlocker *UnresolvedBlocker `json:"unresolved_blocker"`
	TurnMeta          *TurnMeta          `json:"turn_meta"`
}

// =============================================================================
// QUALITY VERDICTS
// =============================================================================

// Verdict is the quality gate's overall classification.
type Verdict string

const (
	VerdictPass           Verdict = "PASS"
	VerdictRepairableFail Verdict = "REPAIRABLE_FAIL"
	VerdictHardFail       Verdict = "HARD_FAIL"
)

// FailureClass categorizes what kind of defect a failed check indicates.
type FailureClass string

const (
	FailShape         FailureClass = "shape"
	FailData          FailureClass = "data"
	FailSemantic      FailureClass = "semantic"
	FailConstraint    FailureClass = "constraint"
	FailObservability FailureClass = "observability"
	FailContract      FailureClass = "contract"
	FailLoop          FailureClass = "loop"
)

// QualityCheck is one named gate check outcome.
type QualityCheck struct {
	ID           string       `json:"id"`
	Passed       bool         `json:"passed"`
	FailureClass FailureClass `json:"failure_class"`
	Recoverable  bool         `json:"recoverable"`
	Detail       string       `json:"detail"`
}

// QualityVerdict is the gate's full output for one payload.
type QualityVerdict struct {
	Verdict            Verdict        `json:"verdict"`
	Checks             []QualityCheck `json:"checks"`
	FailedCheckIDs     []string       `json:"failed_check_ids"`
	HardFailCheckIDs   []string       `json:"hard_fail_check_ids"`
	RepairableCheckIDs []string       `json:"repairable_check_ids"`
}

// HasRepairableClass reports whether any failed check falls in one of the
// given classes.
func (q *QualityVerdict) HasRepairableClass(classes ...FailureClass) bool {
	for _, c := range q.Checks {
		if c.Passed || !c.Recoverable {
			continue
		}
		for _, want := range classes {
			if c.FailureClass == want {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// PENDING STATE
// =============================================================================

// PendingMode says what kind of continuation a pending state expects.
type PendingMode string

const (
	PendingNeedFilters    PendingMode = "need_filters"
	PendingPlannerClarify PendingMode = "planner_clarify"
	PendingWriteConfirm   PendingMode = "write_confirmation"
)

// WriteDraft is a prepared document mutation awaiting explicit confirmation.
type WriteDraft struct {
	Doctype        string            `json:"doctype"`
	Operation      string            `json:"operation"`
	Payload        map[string]string `json:"payload"`
	Summary        string            `json:"summary"`
	RequestedBy    string            `json:"requested_by"`
	IdempotencyKey string            `json:"idempotency_key"`
}

// SpecSoFar is the trimmed spec snapshot stored with a clarification.
type SpecSoFar struct {
	TaskClass TaskClass      `json:"task_class"`
	Subject   string         `json:"subject"`
	Metric    string         `json:"metric"`
	Domain    Domain         `json:"domain"`
	TopN      int            `json:"top_n"`
	Output    OutputContract `json:"output_contract"`
}

// PendingState is the continuation record persisted when a turn ends in a
// clarification or a write confirmation. It is consumed and cleared by the
// next turn or an explicit cancel.
type PendingState struct {
	Mode            PendingMode       `json:"mode"`
	BaseQuestion    string            `json:"base_question"`
	CapabilityName  string            `json:"capability_name"`
	FiltersSoFar    map[string]string `json:"filters_so_far"`
	Question        string            `json:"clarification_question"`
	Options         []string          `json:"options"`
	OptionActions   map[string]string `json:"option_actions"`
	TargetFilterKey string            `json:"target_filter_key"`
	RawValue        string            `json:"raw_value"`
	Reason          string            `json:"clarification_reason"`
	SpecSoFar       *SpecSoFar        `json:"spec_so_far"`
	WriteDraft      *WriteDraft       `json:"write_draft"`
	SwitchAttempts  int               `json:"switch_attempts"`
	SuggestedSwitch string            `json:"suggested_switch"`
	Round           int               `json:"clarification_round"`
}

// =============================================================================
// PAYLOADS
// =============================================================================

// PayloadType tags the payload union.
type PayloadType string

const (
	PayloadText  PayloadType = "text"
	PayloadTable PayloadType = "report_table"
	PayloadError PayloadType = "error"
)

// Table is a rendered tabular result.
type Table struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// Clone deep-copies the table so shaping never aliases backend rows.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := &Table{Columns: append([]string(nil), t.Columns...)}
	out.Rows = make([][]interface{}, len(t.Rows))
	for i, row := range t.Rows {
		out.Rows[i] = append([]interface{}(nil), row...)
	}
	return out
}

// ColumnIndex returns the index of the column with the given label, or -1.
func (t *Table) ColumnIndex(label string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c, label) {
			return i
		}
	}
	return -1
}

// Payload is the sole externally visible result of a turn.
type Payload struct {
	Type             PayloadType       `json:"type"`
	Text             string            `json:"text"`
	Table            *Table            `json:"table"`
	ResultID         string            `json:"result_id"`
	CapabilityName   string            `json:"capability_name"`
	DocumentID       string            `json:"document_id"`
	ScaledUnit       string            `json:"scaled_unit"`
	OutputMode       OutputMode        `json:"output_mode"`
	SourceColumns    []string          `json:"source_columns"`
	SourceTable      *Table            `json:"source_table"`
	TransformApplied bool              `json:"transform_applied"`
	Pending          *PendingState     `json:"pending_state"`
	ClearPending     bool              `json:"clear_pending_state"`
	WriteResult      map[string]string `json:"write_result"`

	// StepTrace records the execution steps that produced this payload.
	// Turn-scoped; not persisted with the result snapshot.
	StepTrace []string `json:"-"`
}

// TextPayload builds a plain text payload.
func TextPayload(text string) *Payload {
	return &Payload{Type: PayloadText, Text: text}
}

// TablePayload builds a report table payload.
func TablePayload(table *Table) *Payload {
	return &Payload{Type: PayloadTable, Table: table}
}

// RowCount is the number of data rows, zero for non-table payloads.
func (p *Payload) RowCount() int {
	if p == nil || p.Table == nil {
		return 0
	}
	return len(p.Table.Rows)
}

// IsTable reports whether the payload carries tabular data.
func (p *Payload) IsTable() bool {
	return p != nil && p.Type == PayloadTable && p.Table != nil
}
