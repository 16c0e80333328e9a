// Package ontology holds the canonical metric/dimension/domain vocabulary and
// its alias tables. Every semantic string match in the pipeline goes through
// this package so matching behavior stays unit-testable and independent of the
// orchestration loop.
package ontology

import (
	"regexp"
	"sort"
	"strings"

	"reportlens/internal/types"
)

// Catalog is the alias vocabulary. The package-level default can be extended
// with overrides loaded from file.
type Catalog struct {
	Version                  string              `yaml:"version" json:"version"`
	MetricAliases            map[string][]string `yaml:"metric_aliases" json:"metric_aliases"`
	MetricColumnAliases      map[string][]string `yaml:"metric_column_aliases" json:"metric_column_aliases"`
	MetricDomainMap          map[string]string   `yaml:"metric_domain_map" json:"metric_domain_map"`
	DomainAliases            map[string][]string `yaml:"domain_aliases" json:"domain_aliases"`
	DimensionAliases         map[string][]string `yaml:"dimension_aliases" json:"dimension_aliases"`
	PrimaryDimensionAliases  map[string][]string `yaml:"primary_dimension_aliases" json:"primary_dimension_aliases"`
	FilterKindAliases        map[string][]string `yaml:"filter_kind_aliases" json:"filter_kind_aliases"`
	WriteOperationAliases    map[string][]string `yaml:"write_operation_aliases" json:"write_operation_aliases"`
	WriteDoctypeAliases      map[string][]string `yaml:"write_doctype_aliases" json:"write_doctype_aliases"`
	ExportAliases            map[string][]string `yaml:"export_aliases" json:"export_aliases"`
	ReferenceValueAliases    map[string][]string `yaml:"reference_value_aliases" json:"reference_value_aliases"`
	TransformAmbiguityAlias  map[string][]string `yaml:"transform_ambiguity_aliases" json:"transform_ambiguity_aliases"`
	RecordQueryStopTokens    []string            `yaml:"record_query_stop_tokens" json:"record_query_stop_tokens"`
	GenericRecordEntityToken []string            `yaml:"generic_record_entity_tokens" json:"generic_record_entity_tokens"`
	RecordDoctypes           []string            `yaml:"record_doctypes" json:"record_doctypes"`
	GenericMetricTerms       []string            `yaml:"generic_metric_terms" json:"generic_metric_terms"`
}

// Default returns the built-in vocabulary.
func Default() *Catalog {
	return &Catalog{
		Version: "builtin_v1",
		MetricAliases: map[string][]string{
			"revenue":            {"revenue"},
			"purchase_amount":    {"purchase_amount", "purchase amount", "procurement amount", "vendor spend"},
			"sold_quantity":      {"sold_quantity", "sold quantity"},
			"received_quantity":  {"received_quantity", "received quantity"},
			"stock_balance":      {"stock_balance", "stock balance"},
			"projected_quantity": {"projected_quantity", "projected quantity", "projected qty"},
			"outstanding_amount": {"outstanding_amount", "outstanding amount"},
			"open_requests":      {"open_requests", "open requests"},
		},
		MetricColumnAliases: map[string][]string{
			"revenue": {
				"revenue", "sales amount", "sales value", "invoiced amount", "billed amount",
				"amount", "total", "value", "sales", "income",
			},
			"purchase_amount":    {"purchase amount", "procurement amount", "vendor spend", "invoiced amount", "billed amount", "purchase value"},
			"sold_quantity":      {"sold quantity", "sold qty", "sales qty", "sales quantity", "qty sold", "quantity", "qty"},
			"received_quantity":  {"received quantity", "received qty", "purchase qty", "qty received", "quantity", "qty"},
			"stock_balance":      {"stock balance", "item balance", "balance qty", "warehouse balance", "inventory balance", "balance", "quantity", "qty"},
			"projected_quantity": {"projected quantity", "projected qty", "quantity", "qty"},
			"outstanding_amount": {
				"outstanding amount", "amount due", "receivable amount", "payable amount",
				"outstanding balance", "receivable balance", "payable balance", "balance due", "closing balance",
			},
			"open_requests": {"open requests", "pending requests", "request count", "count"},
		},
		MetricDomainMap: map[string]string{
			"revenue":            "sales",
			"purchase_amount":    "purchasing",
			"sold_quantity":      "sales",
			"received_quantity":  "purchasing",
			"stock_balance":      "inventory",
			"projected_quantity": "inventory",
			"outstanding_amount": "finance",
			"open_requests":      "operations",
		},
		DomainAliases: map[string][]string{
			"sales":      {"sales"},
			"purchasing": {"purchasing"},
			"inventory":  {"inventory"},
			"finance":    {"finance"},
			"operations": {"operations"},
			"hr":         {"hr"},
		},
		DimensionAliases: map[string][]string{
			"customer":  {"customer"},
			"supplier":  {"supplier"},
			"item":      {"item"},
			"warehouse": {"warehouse"},
			"territory": {"territory"},
			"company":   {"company"},
		},
		PrimaryDimensionAliases: map[string][]string{
			"customer":      {"customer"},
			"supplier":      {"supplier"},
			"item":          {"item"},
			"warehouse":     {"warehouse"},
			"territory":     {"territory"},
			"sales_person":  {"sales_person"},
			"sales_partner": {"sales_partner"},
		},
		FilterKindAliases: map[string][]string{
			"warehouse":   {"warehouse"},
			"company":     {"company"},
			"customer":    {"customer"},
			"supplier":    {"supplier"},
			"item":        {"item"},
			"date":        {"date"},
			"from_date":   {"from_date", "from date"},
			"to_date":     {"to_date", "to date"},
			"report_date": {"report_date", "report date"},
			"start_year":  {"start_year", "start year"},
			"end_year":    {"end_year", "end year"},
			"fiscal_year": {"fiscal_year", "fiscal year"},
			"year":        {"year"},
		},
		WriteOperationAliases: map[string][]string{
			"create":  {"create"},
			"update":  {"update"},
			"delete":  {"delete"},
			"confirm": {"confirm"},
			"cancel":  {"cancel"},
		},
		WriteDoctypeAliases: map[string][]string{
			"ToDo": {"todo"},
		},
		ExportAliases: map[string][]string{
			"include_download": {"download"},
		},
		ReferenceValueAliases: map[string][]string{
			"same": {"same", "the same", "same as before", "same one", "that one", "this one", "previous one", "same value"},
		},
		TransformAmbiguityAlias: map[string][]string{
			"transform_scale:million":   {"as million", "in million", "million", "mn"},
			"transform_sort:desc":       {"descending", "desc", "high to low", "highest", "largest", "greatest", "top"},
			"transform_sort:asc":        {"ascending", "asc", "low to high", "lowest", "bottom", "least", "smallest"},
			"transform_projection:only": {"only", "only these", "only this", "just these", "just this"},
			"transform_aggregate:sum":   {"total", "sum"},
		},
		RecordQueryStopTokens: []string{
			"show", "me", "the", "latest", "recent", "newest", "last", "from", "this", "that",
			"these", "those", "month", "week", "year", "records", "record", "list", "give",
			"all", "for", "in", "of",
		},
		GenericRecordEntityToken: []string{"invoice", "order", "entry", "receipt", "request", "payment"},
		RecordDoctypes: []string{
			"Sales Invoice", "Purchase Invoice", "Sales Order", "Purchase Order",
			"Delivery Note", "Purchase Receipt", "Payment Entry", "Journal Entry",
			"Stock Entry", "Material Request",
		},
		GenericMetricTerms: []string{"amount", "value", "total"},
	}
}

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

func norm(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// TokenizeSemantic splits text into lowercase tokens plus crude singular
// variants, preserving first-seen order.
func TokenizeSemantic(value string) []string {
	txt := norm(value)
	if txt == "" {
		return nil
	}
	raw := tokenRe.FindAllString(txt, -1)
	var out []string
	seen := map[string]bool{}
	for _, token := range raw {
		variants := []string{token}
		if len(token) >= 4 && strings.HasSuffix(token, "ies") {
			variants = append(variants, token[:len(token)-3]+"y")
		}
		if len(token) >= 4 && strings.HasSuffix(token, "es") {
			variants = append(variants, token[:len(token)-2])
		}
		if len(token) >= 4 && strings.HasSuffix(token, "s") {
			variants = append(variants, token[:len(token)-1])
		}
		for _, v := range variants {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// containsAny reports whether text mentions any alias, matching single-token
// aliases against the semantic token set and multi-word aliases with a
// word-boundary search.
func containsAny(text string, aliases []string) bool {
	t := norm(text)
	if t == "" {
		return false
	}
	semanticTokens := map[string]bool{}
	for _, tok := range TokenizeSemantic(t) {
		semanticTokens[tok] = true
	}
	for _, a := range aliases {
		an := norm(a)
		if an == "" {
			continue
		}
		if !strings.Contains(an, " ") {
			aliasTokens := TokenizeSemantic(an)
			if len(aliasTokens) == 1 && semanticTokens[aliasTokens[0]] {
				return true
			}
			if len(aliasTokens) > 1 {
				all := true
				for _, tok := range aliasTokens {
					if !semanticTokens[tok] {
						all = false
						break
					}
				}
				if all {
					return true
				}
			}
		}
		pattern := `(?:^|[^a-z0-9_])` + regexp.QuoteMeta(an) + `(?:$|[^a-z0-9_])`
		if matched, _ := regexp.MatchString(pattern, t); matched {
			return true
		}
	}
	return false
}

// CanonicalMetric maps free text to a canonical metric, or a snake_cased
// passthrough when no alias matches.
func (c *Catalog) CanonicalMetric(value string) string {
	txt := norm(value)
	if txt == "" {
		return ""
	}
	for _, canonical := range sortedKeys(c.MetricAliases) {
		if containsAny(txt, c.MetricAliases[canonical]) {
			return canonical
		}
	}
	return strings.ReplaceAll(txt, " ", "_")
}

// CanonicalDomain maps free text to a canonical domain.
func (c *Catalog) CanonicalDomain(value string) string {
	txt := norm(value)
	if txt == "" {
		return ""
	}
	for _, canonical := range sortedKeys(c.DomainAliases) {
		if containsAny(txt, c.DomainAliases[canonical]) {
			return canonical
		}
	}
	return strings.ReplaceAll(txt, " ", "_")
}

// CanonicalDimension maps free text to a canonical dimension.
func (c *Catalog) CanonicalDimension(value string) string {
	txt := norm(value)
	if txt == "" {
		return ""
	}
	for _, canonical := range sortedKeys(c.DimensionAliases) {
		if txt == canonical || strings.ReplaceAll(txt, " ", "_") == canonical {
			return canonical
		}
		if containsAny(txt, c.DimensionAliases[canonical]) {
			return canonical
		}
	}
	return strings.ReplaceAll(txt, " ", "_")
}

// KnownMetric returns the canonical metric when the text maps to the
// vocabulary, otherwise "". The distinction matters for the resolver: an
// unmapped metric token is a vocabulary gap, not a contradiction.
func (c *Catalog) KnownMetric(value string) string {
	canonical := c.CanonicalMetric(value)
	if _, ok := c.MetricAliases[canonical]; ok {
		return canonical
	}
	return ""
}

// KnownDimension returns the canonical dimension when recognized, else "".
func (c *Catalog) KnownDimension(value string) string {
	canonical := c.CanonicalDimension(value)
	if _, ok := c.DimensionAliases[canonical]; ok {
		return canonical
	}
	return ""
}

// SemanticAliases expands a term into every surface form it may take in a
// column label.
func (c *Catalog) SemanticAliases(value string, excludeGenericMetricTerms bool) []string {
	txt := norm(value)
	if txt == "" {
		return nil
	}
	aliases := map[string]bool{strings.ReplaceAll(txt, "_", " "): true}

	if metric := c.KnownMetric(txt); metric != "" {
		aliases[strings.ReplaceAll(metric, "_", " ")] = true
		for _, a := range c.MetricAliases[metric] {
			if an := strings.ReplaceAll(norm(a), "_", " "); an != "" {
				aliases[an] = true
			}
		}
	}
	if dim := c.KnownDimension(txt); dim != "" {
		aliases[strings.ReplaceAll(dim, "_", " ")] = true
		for _, a := range c.DimensionAliases[dim] {
			if an := strings.ReplaceAll(norm(a), "_", " "); an != "" {
				aliases[an] = true
			}
		}
	}
	if excludeGenericMetricTerms {
		for _, g := range c.GenericMetricTerms {
			delete(aliases, norm(g))
		}
	}

	out := make([]string, 0, len(aliases))
	for a := range aliases {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// MetricDomain returns the home domain of a metric, or "".
func (c *Catalog) MetricDomain(metric string) string {
	return c.MetricDomainMap[c.CanonicalMetric(metric)]
}

// MetricColumnAliasList returns the column labels a metric may bind to, most
// specific first.
func (c *Catalog) MetricColumnAliasList(metric string) []string {
	canonical := c.CanonicalMetric(metric)
	var out []string
	seen := map[string]bool{}
	for _, source := range [][]string{c.MetricColumnAliases[canonical], c.MetricAliases[canonical]} {
		for _, v := range source {
			normalized := strings.ReplaceAll(norm(v), "_", " ")
			if normalized == "" || seen[normalized] {
				continue
			}
			seen[normalized] = true
			out = append(out, normalized)
		}
	}
	return out
}

// InferFilterKinds extracts canonical filter kinds mentioned in text. A bare
// "year" is dropped whenever a more specific year kind is present.
func (c *Catalog) InferFilterKinds(text string) []string {
	source := norm(text)
	if source == "" {
		return nil
	}
	out := map[string]bool{}
	for kind, aliases := range c.FilterKindAliases {
		if containsAny(source, aliases) {
			out[kind] = true
		}
	}
	if out["year"] && (out["start_year"] || out["end_year"] || out["fiscal_year"]) {
		delete(out, "year")
	}
	return sortedSet(out)
}

// InferMetricHints guesses which metrics a capability can serve from its
// name, family, and filter vocabulary.
func (c *Catalog) InferMetricHints(name, family string, filterNames, filterKinds []string) []string {
	parts := []string{norm(name), norm(family)}
	for _, x := range filterNames {
		parts = append(parts, norm(x))
	}
	for _, x := range filterKinds {
		parts = append(parts, norm(x))
	}
	text := strings.TrimSpace(strings.Join(parts, " "))
	if text == "" {
		return nil
	}

	out := map[string]bool{}
	for canonical, aliases := range c.MetricAliases {
		if containsAny(text, aliases) {
			out[canonical] = true
		}
	}

	fam := norm(family)
	rep := norm(name)
	if (strings.Contains(fam, "selling") || strings.Contains(fam, "sales")) &&
		(strings.Contains(text, "item") || strings.Contains(text, "customer")) {
		out["revenue"] = true
		out["sold_quantity"] = true
	}
	if strings.Contains(rep, "sales register") {
		out["revenue"] = true
		out["sold_quantity"] = true
	}
	if (strings.Contains(fam, "buying") || strings.Contains(fam, "purchase")) &&
		(strings.Contains(text, "item") || strings.Contains(text, "supplier")) {
		out["received_quantity"] = true
	}
	if strings.Contains(text, "projected qty") || strings.Contains(text, "projected quantity") || strings.Contains(text, "projected_qty") {
		out["projected_quantity"] = true
	}
	if (strings.Contains(fam, "stock") || strings.Contains(fam, "inventory")) && strings.Contains(text, "balance") {
		out["stock_balance"] = true
	}
	if (strings.Contains(fam, "accounts") || strings.Contains(fam, "finance")) &&
		(strings.Contains(text, "outstanding") || strings.Contains(text, "ledger")) {
		out["outstanding_amount"] = true
	}
	if strings.Contains(text, "material request") || strings.Contains(text, "production") {
		out["open_requests"] = true
	}

	return sortedSet(out)
}

// InferPrimaryDimension names the dimension a capability is primarily keyed
// by, from its name.
func (c *Catalog) InferPrimaryDimension(name string) string {
	txt := norm(name)
	if txt == "" {
		return ""
	}
	for _, dim := range sortedKeys(c.PrimaryDimensionAliases) {
		if containsAny(txt, c.PrimaryDimensionAliases[dim]) {
			return dim
		}
	}
	return ""
}

// InferDomainHints guesses the domains a capability serves, falling back to
// canonical filter kinds and finally cross_functional.
func (c *Catalog) InferDomainHints(name, family string, filterKinds []string) []string {
	kinds := map[string]bool{}
	for _, k := range filterKinds {
		kinds[norm(k)] = true
	}
	out := map[string]bool{}
	source := strings.TrimSpace(norm(name) + " " + norm(family))

	for domain, aliases := range c.DomainAliases {
		if containsAny(source, aliases) {
			out[domain] = true
		}
	}
	if len(out) == 0 {
		if kinds["warehouse"] {
			out["inventory"] = true
		}
		if kinds["supplier"] {
			out["purchasing"] = true
		}
		if kinds["customer"] {
			out["sales"] = true
		}
		if kinds["company"] && len(out) == 0 {
			out["finance"] = true
		}
	}
	if len(out) == 0 {
		out["cross_functional"] = true
	}
	return sortedSet(out)
}

// WriteRequest is a deterministically inferred write intent.
type WriteRequest struct {
	Intent     types.Intent
	Operation  string
	Doctype    string
	DocumentID string
	Confidence float64
}

var (
	writeDocIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b[A-Za-z]{2,}-[A-Za-z0-9-]{3,}\b`),
		regexp.MustCompile(`\b[a-z0-9]{8,20}\b`),
		regexp.MustCompile(`\b[A-Za-z0-9]{6,}\b`),
	}
	wordRe = regexp.MustCompile(`[A-Za-z0-9_]+`)
)

// InferWriteRequest detects explicit write intent in a message. Short bare
// confirm/cancel messages resolve a pending draft; create/update/delete with
// a known doctype produce a draft.
func (c *Catalog) InferWriteRequest(message string) WriteRequest {
	txt := norm(message)
	if txt == "" {
		return WriteRequest{}
	}

	op := ""
	opScore := 0.0
	for _, operation := range sortedKeys(c.WriteOperationAliases) {
		if containsAny(txt, c.WriteOperationAliases[operation]) {
			op = operation
			opScore = 0.8
			break
		}
	}

	doctype := ""
	for _, dt := range sortedKeys(c.WriteDoctypeAliases) {
		if containsAny(txt, c.WriteDoctypeAliases[dt]) {
			doctype = dt
			break
		}
	}

	docID := ""
	if op == "delete" || op == "update" {
		skip := map[string]bool{"delete": true, "update": true, "remove": true, "todo": true}
		for _, rx := range writeDocIDPatterns {
			if m := rx.FindString(message); m != "" && !skip[strings.ToLower(m)] {
				docID = m
				break
			}
		}
	}

	wordCount := len(wordRe.FindAllString(txt, -1))
	if (op == "confirm" || op == "cancel") && wordCount <= 3 {
		return WriteRequest{
			Intent:     types.IntentWriteConfirm,
			Operation:  op,
			Doctype:    doctype,
			DocumentID: docID,
			Confidence: 0.9,
		}
	}
	if (op == "create" || op == "update" || op == "delete") && doctype != "" {
		return WriteRequest{
			Intent:     types.IntentWriteDraft,
			Operation:  op,
			Doctype:    doctype,
			DocumentID: docID,
			Confidence: opScore,
		}
	}
	return WriteRequest{}
}

// InferOutputFlags detects presentation flags like download/export requests.
func (c *Catalog) InferOutputFlags(message string) (includeDownload bool) {
	txt := norm(message)
	if txt == "" {
		return false
	}
	return containsAny(txt, c.ExportAliases["include_download"])
}

// InferReferenceValue maps "the same one" style phrases to a reference code.
func (c *Catalog) InferReferenceValue(value string) string {
	txt := norm(value)
	if txt == "" {
		return ""
	}
	for _, code := range sortedKeys(c.ReferenceValueAliases) {
		if containsAny(txt, c.ReferenceValueAliases[code]) {
			return code
		}
	}
	return ""
}

// InferTransformAmbiguities extracts tagged transform hints mentioned in the
// message, e.g. "in million" yields "transform_scale:million".
func (c *Catalog) InferTransformAmbiguities(message string) []string {
	txt := norm(message)
	if txt == "" {
		return nil
	}
	out := map[string]bool{}
	for code, aliases := range c.TransformAmbiguityAlias {
		if containsAny(txt, aliases) {
			out[code] = true
		}
	}
	return sortedSet(out)
}

// IsGenericMetricTerm reports whether a token is too generic to bind a metric
// column on its own.
func (c *Catalog) IsGenericMetricTerm(token string) bool {
	t := norm(token)
	for _, g := range c.GenericMetricTerms {
		if t == norm(g) {
			return true
		}
	}
	return false
}

// RecordQueryTokens strips stop tokens and digits from a record-listing
// query, leaving entity-bearing tokens.
func (c *Catalog) RecordQueryTokens(query string) []string {
	stop := map[string]bool{}
	for _, s := range c.RecordQueryStopTokens {
		stop[norm(s)] = true
	}
	var out []string
	for _, tok := range TokenizeSemantic(query) {
		if stop[tok] {
			continue
		}
		if _, isDigit := parseAllDigits(tok); isDigit {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// InferRecordDoctypeCandidates scores the record-type vocabulary against a
// latest-records query. An exact doctype mention wins outright; otherwise the
// entity-bearing query tokens are overlap-scored with a small domain bonus,
// and everything within half a point of the top score survives. A query made
// only of generic entity words ("invoices") widens the margin so the domain
// bonus decides.
func (c *Catalog) InferRecordDoctypeCandidates(message, domain string) []string {
	query := norm(message)
	if query == "" || len(c.RecordDoctypes) == 0 {
		return nil
	}

	var exact []string
	for _, dt := range c.RecordDoctypes {
		if dtn := norm(dt); dtn != "" && strings.Contains(query, dtn) {
			exact = append(exact, dt)
		}
	}
	if len(exact) > 0 {
		sort.Strings(exact)
		return exact
	}

	qTokens := c.RecordQueryTokens(query)
	if len(qTokens) == 0 {
		return nil
	}
	generic := map[string]bool{}
	for _, g := range c.GenericRecordEntityToken {
		generic[norm(g)] = true
	}
	allGeneric := true
	for _, t := range qTokens {
		if !generic[t] {
			allGeneric = false
			break
		}
	}
	domainL := c.CanonicalDomain(domain)
	if domainL == "" {
		domainL = norm(domain)
	}

	type scoredDoctype struct {
		doctype string
		score   float64
	}
	var ranked []scoredDoctype
	for _, dt := range c.RecordDoctypes {
		dtTokens := map[string]bool{}
		for _, t := range TokenizeSemantic(dt) {
			dtTokens[t] = true
		}
		overlap := map[string]bool{}
		for _, t := range qTokens {
			if dtTokens[t] {
				overlap[t] = true
			}
		}
		if len(overlap) == 0 {
			continue
		}
		score := float64(len(overlap)) * 3.0
		if !allGeneric && domainL != "" && domainL != "unknown" && domainL != "cross_functional" {
			switch domainL {
			case "sales":
				if dtTokens["sale"] || dtTokens["sales"] {
					score += 2.0
				}
			case "purchasing":
				if dtTokens["purchase"] || dtTokens["supplier"] {
					score += 2.0
				}
			case "inventory":
				if dtTokens["stock"] || dtTokens["inventory"] {
					score += 2.0
				}
			}
		}
		ranked = append(ranked, scoredDoctype{doctype: dt, score: score})
	}
	if len(ranked) == 0 {
		return nil
	}
	sort.Slice(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		return ranked[a].doctype < ranked[b].doctype
	})
	margin := 0.5
	if allGeneric {
		margin = 3.0
	}
	threshold := ranked[0].score - margin
	if threshold < 1.0 {
		threshold = 1.0
	}
	var out []string
	for _, s := range ranked {
		if s.score >= threshold {
			out = append(out, s.doctype)
		}
	}
	sort.Strings(out)
	return out
}

func parseAllDigits(s string) (string, bool) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return s, false
		}
	}
	return s, len(s) > 0
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
