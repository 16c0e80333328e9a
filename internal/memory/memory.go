// Package memory carries validated conversational context across turns. It
// anchors underspecified requests to the previous topic and produces the
// topic state record written at end of turn.
package memory

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"reportlens/internal/logging"
	"reportlens/internal/ontology"
	"reportlens/internal/types"
)

const (
	// switchOverlapMax is the signature overlap below which a strong fresh
	// request starts a new topic.
	switchOverlapMax = 0.10
	// anchorStrengthMax is the signal strength at or below which a turn is
	// considered underspecified and eligible for anchoring.
	anchorStrengthMax = 2
	// switchCurrStrengthMin and switchPrevStrengthMin gate topic switches.
	switchCurrStrengthMin = 3
	switchPrevStrengthMin = 2

	maxGroupBy        = 10
	maxMinimalColumns = 12
	messagePreviewLen = 180
)

var tokenPattern = regexp.MustCompile(`[a-z0-9_]+`)

// docFilterKeys are filter keys whose values may carry a document id.
var docFilterKeys = map[string]bool{
	"invoice": true, "sales_invoice": true, "purchase_invoice": true,
	"voucher_no": true, "document_id": true, "reference_name": true,
	"name": true,
}

// Tokenize splits text into lowercase tokens of three or more characters.
func Tokenize(text string) map[string]bool {
	out := map[string]bool{}
	for _, w := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if len(w) >= 3 {
			out[w] = true
		}
	}
	return out
}

// Overlap is the Jaccard ratio of two token sets.
func Overlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union < 1 {
		union = 1
	}
	return float64(inter) / float64(union)
}

func specSignature(spec *types.RequestSpec) map[string]bool {
	var bits []string
	bits = append(bits, spec.Subject, spec.Metric, string(spec.TaskType), string(spec.Aggregation))
	bits = append(bits, strings.Join(spec.GroupBy, " "))
	keys := make([]string, 0, len(spec.Filters))
	for k := range spec.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	bits = append(bits, strings.Join(keys, " "), string(spec.TimeScope.Mode), spec.TimeScope.Value)
	return Tokenize(strings.Join(bits, " "))
}

func topicSignature(topic *types.ActiveTopic) map[string]bool {
	if topic == nil {
		return map[string]bool{}
	}
	var bits []string
	bits = append(bits, topic.Subject, topic.Metric, strings.Join(topic.GroupBy, " "))
	keys := make([]string, 0, len(topic.Filters))
	for k := range topic.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	bits = append(bits, strings.Join(keys, " "), string(topic.TimeScope.Mode), topic.TimeScope.Value)
	return Tokenize(strings.Join(bits, " "))
}

// SignalStrength counts how many independent semantic signals a request
// carries. Low strength marks a follow-up turn.
func SignalStrength(spec *types.RequestSpec) int {
	score := 0
	if strings.TrimSpace(spec.Subject) != "" {
		score++
	}
	if strings.TrimSpace(spec.Metric) != "" {
		score++
	}
	if len(spec.GroupBy) > 0 {
		score++
	}
	if len(spec.Filters) > 0 {
		score++
	}
	if spec.TimeScope.Mode != "" && spec.TimeScope.Mode != types.TimeNone {
		score++
	}
	if strings.TrimSpace(spec.TimeScope.Value) != "" {
		score++
	}
	if spec.TopN > 0 {
		score++
	}
	return score
}

func topicStrength(topic *types.ActiveTopic) int {
	if topic == nil {
		return 0
	}
	stub := &types.RequestSpec{
		Subject:   topic.Subject,
		Metric:    topic.Metric,
		GroupBy:   topic.GroupBy,
		Filters:   topic.Filters,
		TimeScope: topic.TimeScope,
		TopN:      topic.TopN,
	}
	return SignalStrength(stub)
}

// ExtractDocID returns a document id found in a recognized filter key.
func ExtractDocID(filters map[string]string) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !docFilterKeys[strings.ToLower(strings.TrimSpace(k))] {
			continue
		}
		v := strings.TrimSpace(filters[k])
		if v != "" && ontology.FindDocumentID(v) != "" {
			return v
		}
	}
	return ""
}

// DocIDFromPayload scans the first rows of a table payload and returns the
// document id only when exactly one distinct id appears.
func DocIDFromPayload(p *types.Payload) string {
	if !p.IsTable() || p.RowCount() == 0 {
		return ""
	}
	seen := map[string]bool{}
	limit := len(p.Table.Rows)
	if limit > 30 {
		limit = 30
	}
	for _, row := range p.Table.Rows[:limit] {
		for _, cell := range row {
			s := strings.TrimSpace(fmt.Sprintf("%v", cell))
			if s != "" && ontology.FindDocumentID(s) != "" {
				seen[s] = true
			}
		}
	}
	if len(seen) != 1 {
		return ""
	}
	for id := range seen {
		return id
	}
	return ""
}

// AnchorMeta records what anchoring did to this turn's request.
type AnchorMeta struct {
	TopicSwitched    bool     `json:"topic_switched"`
	Anchors          []string `json:"anchors_applied"`
	CurrStrength     int      `json:"curr_strength"`
	AnchoredStrength int      `json:"anchored_strength"`
	Overlap          float64  `json:"overlap_ratio"`
}

// Anchored reports whether at least one field was carried from prior context.
func (m *AnchorMeta) Anchored() bool {
	return len(m.Anchors) > 0
}

// Anchor carries prior validated context into an underspecified request. The
// spec is mutated in place; strong fresh requests with low topic overlap
// switch topics instead and receive nothing.
func Anchor(spec *types.RequestSpec, state *types.TopicState) *AnchorMeta {
	meta := &AnchorMeta{CurrStrength: SignalStrength(spec)}
	if spec.Filters == nil {
		spec.Filters = map[string]string{}
	}

	var prevTopic *types.ActiveTopic
	var prevResult *types.ActiveResult
	if state != nil {
		prevTopic = state.ActiveTopic
		prevResult = state.ActiveResult
	}

	currSig := specSignature(spec)
	prevSig := topicSignature(prevTopic)
	meta.Overlap = Overlap(currSig, prevSig)
	prevStrength := topicStrength(prevTopic)

	meta.TopicSwitched = prevTopic != nil &&
		meta.CurrStrength >= switchCurrStrengthMin &&
		prevStrength >= switchPrevStrengthMin &&
		meta.Overlap < switchOverlapMax

	canAnchor := prevTopic != nil && !meta.TopicSwitched && meta.CurrStrength <= anchorStrengthMax
	if canAnchor {
		if strings.TrimSpace(spec.Subject) == "" && prevTopic.Subject != "" {
			spec.Subject = prevTopic.Subject
			meta.Anchors = append(meta.Anchors, "subject")
		}
		if strings.TrimSpace(spec.Metric) == "" && prevTopic.Metric != "" {
			spec.Metric = prevTopic.Metric
			meta.Anchors = append(meta.Anchors, "metric")
		}
		if len(spec.GroupBy) == 0 && len(prevTopic.GroupBy) > 0 {
			spec.GroupBy = capStrings(prevTopic.GroupBy, maxGroupBy)
			meta.Anchors = append(meta.Anchors, "group_by")
		}
		if spec.TopN <= 0 && prevTopic.TopN > 0 {
			spec.TopN = prevTopic.TopN
			if spec.Output.Mode == types.OutputDetail {
				spec.Output.Mode = types.OutputTopN
			}
			meta.Anchors = append(meta.Anchors, "top_n")
		}
		if spec.TimeScope.IsZero() && !prevTopic.TimeScope.IsZero() {
			spec.TimeScope = prevTopic.TimeScope
			meta.Anchors = append(meta.Anchors, "time_scope")
		}
		if len(prevTopic.Filters) > 0 {
			merged := false
			for k, v := range prevTopic.Filters {
				if _, ok := spec.Filters[k]; !ok && strings.TrimSpace(v) != "" {
					spec.Filters[k] = v
					merged = true
				}
			}
			if merged {
				meta.Anchors = append(meta.Anchors, "filters")
			}
		}
		if spec.Domain == "" || spec.Domain == types.DomainUnknown {
			if prevTopic.Domain != "" && prevTopic.Domain != types.DomainUnknown {
				spec.Domain = prevTopic.Domain
				meta.Anchors = append(meta.Anchors, "domain")
			}
		}
		if prevResult != nil && prevResult.DocumentID != "" && spec.TaskType == types.TaskDetail {
			if ExtractDocID(spec.Filters) == "" {
				if _, ok := spec.Filters["document_id"]; !ok {
					spec.Filters["document_id"] = prevResult.DocumentID
					meta.Anchors = append(meta.Anchors, "document_id")
				}
			}
		}
	}

	backfillMinimalColumns(spec)
	meta.AnchoredStrength = SignalStrength(spec)

	logging.Memory("anchor: strength=%d->%d overlap=%.3f switched=%v anchors=%v",
		meta.CurrStrength, meta.AnchoredStrength, meta.Overlap, meta.TopicSwitched, meta.Anchors)
	return meta
}

// backfillMinimalColumns derives the minimal column contract from group_by
// and metric when the request left it empty.
func backfillMinimalColumns(spec *types.RequestSpec) {
	if len(spec.Output.MinimalColumns) > 0 {
		return
	}
	var wanted []string
	for _, g := range spec.GroupBy {
		if s := strings.TrimSpace(g); s != "" {
			wanted = append(wanted, s)
		}
	}
	if m := strings.TrimSpace(spec.Metric); m != "" {
		wanted = append(wanted, m)
	}
	spec.Output.MinimalColumns = capStrings(wanted, maxMinimalColumns)
}

// BuildTopicState assembles the end-of-turn memory record. It always emits a
// complete record even for clarification and error turns.
func BuildTopicState(spec *types.RequestSpec, res *types.Resolution, payload *types.Payload, meta *AnchorMeta, message string, now time.Time) *types.TopicState {
	capability := ""
	if res != nil {
		capability = res.SelectedCapability
	}
	if capability == "" && payload != nil {
		capability = payload.CapabilityName
	}

	kept := map[string]string{}
	for k, v := range spec.Filters {
		if strings.TrimSpace(v) != "" {
			kept[k] = v
		}
	}

	docID := ExtractDocID(kept)
	if docID == "" {
		docID = DocIDFromPayload(payload)
	}

	topicKey := strings.ToLower(strings.TrimSpace(spec.Subject)) + "|" +
		strings.ToLower(strings.TrimSpace(spec.Metric)) + "|" +
		strings.ToLower(capability)

	resultID := docID
	if resultID == "" {
		resultID = capability
	}
	if resultID == "" {
		resultID = topicKey
	}

	var scaledUnit string
	var sourceColumns []string
	outputMode := spec.Output.Mode
	if payload != nil {
		scaledUnit = payload.ScaledUnit
		sourceColumns = payload.SourceColumns
		if payload.OutputMode != "" {
			outputMode = payload.OutputMode
		}
	}

	blocker := &types.UnresolvedBlocker{}
	if payload != nil && payload.Pending != nil && payload.Pending.Mode != types.PendingWriteConfirm {
		blocker.Present = true
		blocker.Reason = payload.Pending.Reason
		blocker.Question = payload.Pending.Question
	}

	preview := strings.TrimSpace(message)
	if len(preview) > messagePreviewLen {
		preview = preview[:messagePreviewLen]
	}
	if meta == nil {
		meta = &AnchorMeta{}
	}

	return &types.TopicState{
		ActiveTopic: &types.ActiveTopic{
			TopicKey:       topicKey,
			TaskClass:      spec.TaskClass,
			Domain:         spec.Domain,
			Subject:        strings.TrimSpace(spec.Subject),
			Metric:         strings.TrimSpace(spec.Metric),
			GroupBy:        capStrings(spec.GroupBy, maxGroupBy),
			TopN:           maxInt(0, spec.TopN),
			CapabilityName: capability,
			Filters:        kept,
			TimeScope:      spec.TimeScope,
		},
		ActiveResult: &types.ActiveResult{
			ResultID:       resultID,
			CapabilityName: capability,
			DocumentID:     docID,
			ScaledUnit:     strings.ToLower(strings.TrimSpace(scaledUnit)),
			OutputMode:     outputMode,
			SourceColumns:  sourceColumns,
		},
		UnresolvedBlocker: blocker,
		TurnMeta: &types.TurnMeta{
			TurnID:         uuid.NewString(),
			Message:        preview,
			SignalStrength: meta.AnchoredStrength,
			Overlap:        meta.Overlap,
			TopicSwitched:  meta.TopicSwitched,
			Anchored:       meta.Anchored(),
			RecordedAt:     now.UTC(),
		},
	}
}

func capStrings(in []string, n int) []string {
	var out []string
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
		if len(out) == n {
			break
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
