package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"reportlens/internal/types"
)

func TestRenderPayloadTable(t *testing.T) {
	p := types.TablePayload(&types.Table{
		Columns: []string{"Customer", "Revenue"},
		Rows: [][]interface{}{
			{"Acme Corp", "1,200.00"},
			{"Globex", "800.00"},
		},
	})
	p.CapabilityName = "Sales Analytics"

	out := renderPayload(p)
	assert.Contains(t, out, "Customer")
	assert.Contains(t, out, "Acme Corp")
	assert.Contains(t, out, "1,200.00")
	assert.Contains(t, out, "2 rows")
	assert.Contains(t, out, "Sales Analytics")
}

func TestRenderPayloadClarification(t *testing.T) {
	p := types.TextPayload("Which company should I use?")
	p.Pending = &types.PendingState{Mode: types.PendingNeedFilters}

	out := renderPayload(p)
	assert.Contains(t, out, "Which company should I use?")
}

func TestRenderPayloadScaledMeta(t *testing.T) {
	p := types.TablePayload(&types.Table{Columns: []string{"Revenue"}, Rows: [][]interface{}{{"0.00"}}})
	p.ScaledUnit = "million"

	out := renderPayload(p)
	assert.Contains(t, out, "scaled to million")
}

func TestPadWidths(t *testing.T) {
	assert.Equal(t, "abc  ", pad("abc", 5))
	assert.Equal(t, "abcdef", pad("abcdef", 3))
}
