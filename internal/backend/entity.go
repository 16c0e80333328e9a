package backend

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"reportlens/internal/logging"
	"reportlens/internal/ontology"
)

const maxEntityOptions = 8

// entityKinds maps a canonical entity kind to its user-facing label. Filter
// keys are matched against these kinds by token.
var entityKinds = map[string]string{
	"warehouse": "warehouse",
	"customer":  "customer",
	"supplier":  "supplier",
	"item":      "item",
	"company":   "company",
	"territory": "territory",
}

var filterKeyTokenRe = regexp.MustCompile(`[a-z0-9_]+`)

// InferEntityKind returns the entity kind a filter key refers to, or "".
func InferEntityKind(filterKey string) string {
	k := strings.ToLower(strings.TrimSpace(filterKey))
	if k == "" {
		return ""
	}
	tokens := map[string]bool{}
	for _, t := range filterKeyTokenRe.FindAllString(k, -1) {
		tokens[t] = true
	}
	kinds := make([]string, 0, len(entityKinds))
	for kind := range entityKinds {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		if tokens[kind] || strings.Contains(k, kind) {
			return kind
		}
	}
	return ""
}

type matchStatus string

const (
	statusSkip       matchStatus = "skip"
	statusUnverified matchStatus = "unverified"
	statusMatched    matchStatus = "matched"
	statusAmbiguous  matchStatus = "ambiguous"
	statusNoMatch    matchStatus = "no_match"
)

type entityMatch struct {
	status  matchStatus
	value   string
	options []string
}

// EntityClarification is returned when a filter value cannot be resolved to
// exactly one master record.
type EntityClarification struct {
	Reason    string
	Question  string
	Options   []string
	FilterKey string
	RawValue  string
}

func matchEntityValue(candidates []Entity, raw string) entityMatch {
	raw = strings.TrimSpace(raw)
	if raw == "" || ontology.FindDocumentID(raw) != "" {
		return entityMatch{status: statusSkip, value: raw}
	}
	if len(candidates) == 0 {
		// No master list available; keep the original filter value.
		return entityMatch{status: statusUnverified, value: raw}
	}

	rawLower := strings.ToLower(raw)
	var exact, partial []Entity
	for _, cand := range candidates {
		hitExact, hitPartial := false, false
		for _, alias := range cand.Aliases {
			a := strings.ToLower(strings.TrimSpace(alias))
			if a == "" {
				continue
			}
			if a == rawLower {
				hitExact = true
				break
			}
			if strings.Contains(a, rawLower) {
				hitPartial = true
			}
		}
		if hitExact {
			exact = append(exact, cand)
		} else if hitPartial {
			partial = append(partial, cand)
		}
	}

	pick := func(set []Entity) entityMatch {
		if len(set) == 1 {
			return entityMatch{status: statusMatched, value: set[0].Name}
		}
		options := dedupeKeepOrder(entityNames(set))
		if len(options) > maxEntityOptions {
			options = options[:maxEntityOptions]
		}
		return entityMatch{status: statusAmbiguous, value: raw, options: options}
	}
	if len(exact) > 0 {
		return pick(exact)
	}
	if len(partial) > 0 {
		return pick(partial)
	}
	return entityMatch{status: statusNoMatch, value: raw}
}

func entityNames(set []Entity) []string {
	out := make([]string, 0, len(set))
	for _, e := range set {
		out = append(out, e.Name)
	}
	return out
}

func dedupeKeepOrder(values []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, v := range values {
		s := strings.TrimSpace(v)
		if s == "" || seen[strings.ToLower(s)] {
			continue
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
	}
	return out
}

func buildEntityClarification(reason, label, filterKey, raw string, options []string) *EntityClarification {
	var question string
	if reason == "entity_ambiguous" {
		question = fmt.Sprintf("I found multiple matches for %s matching %q: %s. Which one should I use?",
			label, raw, strings.Join(options, ", "))
	} else {
		question = fmt.Sprintf("I couldn't find a matching %s for %q. Which exact value should I use?", label, raw)
	}
	return &EntityClarification{
		Reason:    reason,
		Question:  question,
		Options:   options,
		FilterKey: filterKey,
		RawValue:  raw,
	}
}

// ResolveEntityFilters validates entity-like filter values against the
// directory's master records. Matched values are replaced with the canonical
// record name; an ambiguous or unmatched value stops resolution and returns
// a clarification. Keys are visited in sorted order so the outcome is
// deterministic.
func ResolveEntityFilters(ctx context.Context, dir EntityDirectory, filters map[string]string) (map[string]string, *EntityClarification, error) {
	out := make(map[string]string, len(filters))
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := filters[key]
		kind := InferEntityKind(key)
		if kind == "" || dir == nil {
			out[key] = value
			continue
		}
		raw := strings.TrimSpace(value)
		if raw == "" {
			out[key] = value
			continue
		}

		candidates, err := dir.Candidates(ctx, kind)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list %s candidates: %w", kind, err)
		}
		match := matchEntityValue(candidates, raw)
		switch match.status {
		case statusMatched:
			out[key] = match.value
		case statusAmbiguous:
			logging.Backend("entity filter %s=%q ambiguous (%d options)", key, raw, len(match.options))
			return out, buildEntityClarification("entity_ambiguous", entityKinds[kind], key, raw, match.options), nil
		case statusNoMatch:
			logging.Backend("entity filter %s=%q has no master match", key, raw)
			return out, buildEntityClarification("entity_no_match", entityKinds[kind], key, raw, nil), nil
		default:
			out[key] = value
		}
	}
	return out, nil, nil
}
