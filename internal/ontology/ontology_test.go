package ontology

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"reportlens/internal/types"
)

func TestCanonicalMetric(t *testing.T) {
	cat := Default()

	assert.Equal(t, "revenue", cat.CanonicalMetric("revenue"))
	assert.Equal(t, "purchase_amount", cat.CanonicalMetric("vendor spend"))
	assert.Equal(t, "stock_balance", cat.CanonicalMetric("stock balance"))
	// Unknown metrics pass through snake_cased, they are not errors.
	assert.Equal(t, "carbon_footprint", cat.CanonicalMetric("carbon footprint"))
}

func TestKnownMetricDistinguishesVocabularyGaps(t *testing.T) {
	cat := Default()

	assert.Equal(t, "revenue", cat.KnownMetric("revenue"))
	assert.Empty(t, cat.KnownMetric("carbon footprint"))
}

func TestCanonicalDimension(t *testing.T) {
	cat := Default()

	assert.Equal(t, "customer", cat.CanonicalDimension("Customer"))
	assert.Equal(t, "warehouse", cat.CanonicalDimension("warehouse"))
	assert.Equal(t, "customer", cat.KnownDimension("customers"))
	assert.Empty(t, cat.KnownDimension("planet"))
}

func TestMetricColumnAliases(t *testing.T) {
	cat := Default()

	aliases := cat.MetricColumnAliasList("revenue")
	assert.Contains(t, aliases, "invoiced amount")
	assert.Contains(t, aliases, "sales amount")
	// Specific column aliases come before the bare metric aliases.
	assert.Equal(t, "revenue", aliases[0])
}

func TestInferFilterKinds(t *testing.T) {
	cat := Default()

	kinds := cat.InferFilterKinds("company warehouse from_date to_date")
	assert.ElementsMatch(t, []string{"company", "warehouse", "from_date", "to_date"}, kinds)

	// Bare "year" yields to more specific year kinds.
	kinds = cat.InferFilterKinds("fiscal_year year")
	assert.ElementsMatch(t, []string{"fiscal_year"}, kinds)
}

func TestInferDomainHints(t *testing.T) {
	cat := Default()

	assert.Equal(t, []string{"sales"}, cat.InferDomainHints("Sales Analytics", "Selling sales", nil))
	// Fallback by filter kind when no domain alias matches.
	assert.Equal(t, []string{"inventory"}, cat.InferDomainHints("Bin Summary", "", []string{"warehouse"}))
	assert.Equal(t, []string{"cross_functional"}, cat.InferDomainHints("Mystery Report", "", nil))
}

func TestInferPrimaryDimension(t *testing.T) {
	cat := Default()

	assert.Equal(t, "customer", cat.InferPrimaryDimension("Customer Acquisition and Loyalty"))
	assert.Equal(t, "item", cat.InferPrimaryDimension("Item-wise Sales Register"))
	assert.Empty(t, cat.InferPrimaryDimension("General Ledger"))
}

func TestInferWriteRequest(t *testing.T) {
	cat := Default()

	req := cat.InferWriteRequest("confirm")
	assert.Equal(t, types.IntentWriteConfirm, req.Intent)
	assert.InDelta(t, 0.9, req.Confidence, 1e-9)

	req = cat.InferWriteRequest("create a todo to call the auditor")
	assert.Equal(t, types.IntentWriteDraft, req.Intent)
	assert.Equal(t, "create", req.Operation)
	assert.Equal(t, "ToDo", req.Doctype)

	// Long confirm-ish sentences are not treated as confirmations.
	req = cat.InferWriteRequest("please confirm whether revenue grew last month")
	assert.Empty(t, req.Intent)

	// Reads never produce write intent.
	req = cat.InferWriteRequest("show top customers by revenue")
	assert.Empty(t, req.Intent)
}

func TestInferTransformAmbiguities(t *testing.T) {
	cat := Default()

	hints := cat.InferTransformAmbiguities("show the same as million, highest first")
	assert.Contains(t, hints, "transform_scale:million")
	assert.Contains(t, hints, "transform_sort:desc")

	assert.Empty(t, cat.InferTransformAmbiguities("show revenue by customer"))
}

func TestInferOutputFlags(t *testing.T) {
	cat := Default()

	assert.True(t, cat.InferOutputFlags("show revenue and download it"))
	assert.False(t, cat.InferOutputFlags("show revenue"))
}

func TestRecordQueryTokens(t *testing.T) {
	cat := Default()

	toks := cat.RecordQueryTokens("show me the latest 5 sales invoices from this month")
	assert.Contains(t, toks, "sale")
	assert.Contains(t, toks, "invoice")
	assert.NotContains(t, toks, "latest")
	assert.NotContains(t, toks, "5")
}

func TestInferRecordDoctypeCandidates(t *testing.T) {
	cat := Default()

	// A doctype named verbatim wins outright.
	got := cat.InferRecordDoctypeCandidates("show me the latest sales invoices", "")
	assert.Equal(t, []string{"Sales Invoice"}, got)

	// Token overlap plus the domain bonus narrows same-noun doctypes.
	got = cat.InferRecordDoctypeCandidates("newest orders", "sales")
	assert.Equal(t, []string{"Sales Order"}, got)

	got = cat.InferRecordDoctypeCandidates("latest purchase documents", "purchasing")
	assert.Equal(t, []string{"Purchase Invoice", "Purchase Order", "Purchase Receipt"}, got)

	// A bare generic noun keeps every plausible doctype in play.
	got = cat.InferRecordDoctypeCandidates("latest invoice", "")
	assert.Equal(t, []string{"Purchase Invoice", "Sales Invoice"}, got)

	assert.Empty(t, cat.InferRecordDoctypeCandidates("", "sales"))
	assert.Empty(t, cat.InferRecordDoctypeCandidates("completely unrelated chatter", "sales"))
}

func TestFindDocumentID(t *testing.T) {
	assert.Equal(t, "SINV-ACME-2025-104", FindDocumentID("open SINV-ACME-2025-104 please"))
	assert.Empty(t, FindDocumentID("open the latest invoice"))
}

func TestSemanticAliases(t *testing.T) {
	cat := Default()

	aliases := cat.SemanticAliases("revenue", false)
	assert.Contains(t, aliases, "revenue")

	withGeneric := cat.SemanticAliases("amount", false)
	withoutGeneric := cat.SemanticAliases("amount", true)
	assert.Contains(t, withGeneric, "amount")
	assert.NotContains(t, withoutGeneric, "amount")
}
