package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportlens/internal/spec"
)

type fakeTransport struct {
	output string
	err    error
	system string
	user   string
}

func (f *fakeTransport) GenerateJSON(_ context.Context, system, user string) (string, error) {
	f.system = system
	f.user = user
	return f.output, f.err
}

func TestExtractSpecParsesCleanJSON(t *testing.T) {
	ft := &fakeTransport{output: `{"intent": "READ", "metric": "revenue", "confidence": 0.8}`}
	c := NewClientWithTransport(ft, time.Second)

	obj, err := c.ExtractSpec(context.Background(), spec.OracleRequest{Message: "revenue last month"})
	require.NoError(t, err)
	assert.Equal(t, "READ", obj["intent"])
	assert.Equal(t, "revenue", obj["metric"])
}

func TestExtractSpecToleratesCodeFences(t *testing.T) {
	ft := &fakeTransport{output: "```json\n{\"intent\": \"READ\"}\n```"}
	c := NewClientWithTransport(ft, time.Second)

	obj, err := c.ExtractSpec(context.Background(), spec.OracleRequest{Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, "READ", obj["intent"])
}

func TestExtractSpecToleratesSurroundingProse(t *testing.T) {
	ft := &fakeTransport{output: `Here you go: {"intent": "READ"} hope that helps`}
	c := NewClientWithTransport(ft, time.Second)

	obj, err := c.ExtractSpec(context.Background(), spec.OracleRequest{Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, "READ", obj["intent"])
}

func TestExtractSpecRejectsGarbage(t *testing.T) {
	ft := &fakeTransport{output: "I cannot help with that."}
	c := NewClientWithTransport(ft, time.Second)

	_, err := c.ExtractSpec(context.Background(), spec.OracleRequest{Message: "x"})
	assert.Error(t, err)
}

func TestExtractSpecPropagatesTransportError(t *testing.T) {
	ft := &fakeTransport{err: errors.New("network down")}
	c := NewClientWithTransport(ft, time.Second)

	_, err := c.ExtractSpec(context.Background(), spec.OracleRequest{Message: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle call failed")
}

func TestPromptCarriesContext(t *testing.T) {
	ft := &fakeTransport{output: `{"intent": "READ"}`}
	c := NewClientWithTransport(ft, time.Second)

	_, err := c.ExtractSpec(context.Background(), spec.OracleRequest{
		Message:       "show it as million",
		TodayISO:      "2026-08-31",
		HasLastResult: true,
		LastResultMeta: &spec.LastResultMeta{
			CapabilityName: "Sales Analytics",
			Columns:        []string{"Customer", "Revenue"},
		},
		TimeContext: map[string]map[string]string{
			"last_month": {"from": "2026-07-01", "to": "2026-07-31"},
		},
		RecentMessages: []spec.ContextMessage{{Role: "user", Content: "top customers by revenue"}},
	})
	require.NoError(t, err)

	assert.Contains(t, ft.user, "show it as million")
	assert.Contains(t, ft.user, "2026-08-31")
	assert.Contains(t, ft.user, "Sales Analytics")
	assert.Contains(t, ft.user, "top customers by revenue")
	assert.Contains(t, ft.user, "2026-07-01")
	assert.True(t, strings.Contains(ft.system, "needs_clarification"))
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	assert.Error(t, err)
}
