package engine

import (
	"regexp"
	"strconv"
	"strings"

	"reportlens/internal/logging"
	"reportlens/internal/types"
)

var firstIntRe = regexp.MustCompile(`\d{1,3}`)

// recoverLatestRecordFollowup rebuilds a latest-records listing spec when a
// short reply answers an open record-type question from the previous turn.
// The oracle usually sees only the bare answer ("sales invoices") and yields
// an empty read; the prior topic carries the context needed to run it.
func (e *Engine) recoverLatestRecordFollowup(sp *types.RequestSpec, message string, prev *types.TopicState) {
	if prev == nil || prev.UnresolvedBlocker == nil || !prev.UnresolvedBlocker.Present {
		return
	}
	if !looksLikeScopeAnswer(message) {
		return
	}
	topic := prev.ActiveTopic
	if topic == nil {
		topic = &types.ActiveTopic{}
	}
	question := strings.ToLower(prev.UnresolvedBlocker.Question)
	subject := strings.ToLower(topic.Subject)
	likely := topic.TaskClass == types.ClassListLatestRecords ||
		strings.Contains(subject, "invoice") ||
		strings.Contains(question, "record type")
	if !likely {
		return
	}

	domain := string(topic.Domain)
	if domain == "" || domain == string(types.DomainUnknown) {
		domain = string(sp.Domain)
	}
	candidates := e.ont.InferRecordDoctypeCandidates(message, domain)
	if len(candidates) == 0 {
		return
	}
	chosen := pickDoctypeForDomain(candidates, domain)
	if chosen == "" {
		return
	}

	sp.Intent = types.IntentRead
	sp.TaskType = types.TaskDetail
	sp.TaskClass = types.ClassListLatestRecords
	sp.Output.Mode = types.OutputTopN
	if sp.Filters == nil {
		sp.Filters = map[string]string{}
	}
	sp.Filters["doctype"] = chosen

	topN := sp.TopN
	if topN <= 0 {
		topN = topic.TopN
	}
	if topN <= 0 && prev.TurnMeta != nil {
		topN = firstIntInText(prev.TurnMeta.Message)
	}
	if topN <= 0 {
		topN = 20
	}
	if topN > 200 {
		topN = 200
	}
	sp.TopN = topN

	if strings.TrimSpace(sp.Subject) == "" {
		if s := strings.TrimSpace(topic.Subject); s != "" {
			sp.Subject = s
		} else {
			sp.Subject = strings.ToLower(chosen)
		}
	}
	if sp.Domain == "" || sp.Domain == types.DomainUnknown {
		if topic.Domain != "" && topic.Domain != types.DomainUnknown {
			sp.Domain = topic.Domain
		}
	}
	logging.Engine("latest-record followup recovered doctype=%s top_n=%d", chosen, sp.TopN)
}

// pickDoctypeForDomain resolves a multi-candidate tie with the active domain.
func pickDoctypeForDomain(candidates []string, domain string) string {
	if len(candidates) == 0 {
		return ""
	}
	if len(candidates) == 1 {
		return candidates[0]
	}
	want := ""
	switch strings.ToLower(strings.TrimSpace(domain)) {
	case "sales":
		want = "sales"
	case "purchasing", "purchase":
		want = "purchase"
	case "inventory":
		want = "stock"
	}
	if want != "" {
		for _, c := range candidates {
			if strings.Contains(strings.ToLower(c), want) {
				return c
			}
		}
	}
	return candidates[0]
}

func firstIntInText(s string) int {
	m := firstIntRe.FindString(s)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}
