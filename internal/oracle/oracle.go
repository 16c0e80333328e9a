// Package oracle calls the semantic extraction model that turns a free-text
// business question into a raw request spec. The output is untrusted; the
// spec package normalizes it defensively. Calls are synchronous with a
// timeout and the pipeline retries at most once.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"reportlens/internal/logging"
	"reportlens/internal/spec"
)

// specSchema is the JSON schema the model must follow. It is embedded in the
// system prompt; the response MIME type is also forced to JSON.
const specSchema = `{
  "type": "object",
  "properties": {
    "intent": {"type": "string", "enum": ["READ", "TRANSFORM_LAST", "TUTOR", "WRITE_DRAFT", "WRITE_CONFIRM", "EXPORT"]},
    "task_type": {"type": "string", "enum": ["kpi", "ranking", "trend", "detail"]},
    "task_class": {"type": "string", "enum": ["analytical_read", "transform_followup", "list_latest_records", "detail_projection"]},
    "domain": {"type": "string", "enum": ["unknown", "sales", "finance", "inventory", "purchasing", "operations", "hr", "cross_functional"]},
    "subject": {"type": "string"},
    "metric": {"type": "string"},
    "dimensions": {"type": "array", "items": {"type": "string"}},
    "aggregation": {"type": "string", "enum": ["sum", "count", "avg", "none"]},
    "group_by": {"type": "array", "items": {"type": "string"}},
    "time_scope": {
      "type": "object",
      "properties": {
        "mode": {"type": "string", "enum": ["as_of", "range", "relative", "none"]},
        "value": {"type": "string"}
      }
    },
    "filters": {"type": "object"},
    "top_n": {"type": "integer"},
    "output_contract": {
      "type": "object",
      "properties": {
        "mode": {"type": "string", "enum": ["kpi", "top_n", "detail"]},
        "minimal_columns": {"type": "array", "items": {"type": "string"}}
      }
    },
    "ambiguities": {"type": "array", "items": {"type": "string"}},
    "needs_clarification": {"type": "boolean"},
    "clarification_question": {"type": "string"},
    "confidence": {"type": "number"}
  },
  "required": ["intent", "task_type", "subject", "metric", "confidence"]
}`

const systemPrompt = `You extract a structured business analytics request from a user message.
Return ONLY a JSON object matching this schema, no prose and no code fences:

%s

Rules:
- "intent" is READ for questions about data, TRANSFORM_LAST when the user asks to
  reshape the previous answer (scale, sort, total, project columns), TUTOR for
  how-do-I questions, WRITE_DRAFT/WRITE_CONFIRM for document mutations, EXPORT
  when the user only wants a file of the previous answer.
- "task_class" is analytical_read for ordinary questions, list_latest_records
  when the user asks for the latest/most recent documents of some record type,
  detail_projection when they want specific columns of known records.
- Resolve relative timeframes using the provided time context table.
- "ambiguities" carries tagged hints such as "transform_scale:million".
- When the question is underspecified, set needs_clarification and ask ONE
  concrete question.`

// transport is the minimal model surface the client needs; tests stub it.
type transport interface {
	GenerateJSON(ctx context.Context, system, user string) (string, error)
}

// Client is the production oracle backed by Gemini.
type Client struct {
	transport transport
	timeout   time.Duration
}

// Config configures the oracle client.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewClient creates a Gemini-backed oracle client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		transport: &geminiTransport{client: gc, model: model},
		timeout:   timeout,
	}, nil
}

// NewClientWithTransport creates a client with a custom transport, for tests.
func NewClientWithTransport(t transport, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{transport: t, timeout: timeout}
}

// ExtractSpec implements spec.Oracle.
func (c *Client) ExtractSpec(ctx context.Context, req spec.OracleRequest) (map[string]interface{}, error) {
	log := logging.Get(logging.CategoryOracle)
	timer := logging.StartTimer(logging.CategoryOracle, "extract_spec")
	defer timer.Stop()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.transport.GenerateJSON(callCtx, fmt.Sprintf(systemPrompt, specSchema), buildUserPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("oracle call failed: %w", err)
	}

	obj, err := parseJSONObject(raw)
	if err != nil {
		log.Warn("oracle returned unparsable output: %v", err)
		return nil, err
	}
	return obj, nil
}

// buildUserPrompt assembles the context bundle shown to the model.
func buildUserPrompt(req spec.OracleRequest) string {
	var sb strings.Builder

	if len(req.RecentMessages) > 0 {
		sb.WriteString("## Recent conversation\n")
		for _, m := range req.RecentMessages {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
		sb.WriteString("\n")
	}
	if req.TodayISO != "" {
		fmt.Fprintf(&sb, "Today: %s\n", req.TodayISO)
	}
	if len(req.TimeContext) > 0 {
		sb.WriteString("## Time context\n")
		if tc, err := json.Marshal(req.TimeContext); err == nil {
			sb.Write(tc)
			sb.WriteString("\n")
		}
	}
	if req.HasLastResult && req.LastResultMeta != nil {
		fmt.Fprintf(&sb, "## Previous result\ncapability=%s columns=%s\n",
			req.LastResultMeta.CapabilityName, strings.Join(req.LastResultMeta.Columns, ", "))
	}
	if len(req.PlanSeed) > 0 {
		sb.WriteString("## Prior action\n")
		if seed, err := json.Marshal(req.PlanSeed); err == nil {
			sb.Write(seed)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n## User message\n")
	sb.WriteString(req.Message)
	return sb.String()
}

// parseJSONObject extracts the JSON object from model output, tolerating
// code fences and surrounding prose.
func parseJSONObject(raw string) (map[string]interface{}, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in oracle output")
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse oracle output: %w", err)
	}
	return obj, nil
}

// geminiTransport is the real model call.
type geminiTransport struct {
	client *genai.Client
	model  string
}

func (g *geminiTransport) GenerateJSON(ctx context.Context, system, user string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(user, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}
	return resp.Text(), nil
}
