package spec

import (
	"context"
	"time"

	"reportlens/internal/logging"
	"reportlens/internal/types"
)

// OracleRequest is the context bundle handed to the extraction oracle.
type OracleRequest struct {
	Message        string
	RecentMessages []ContextMessage
	PlanSeed       map[string]string
	HasLastResult  bool
	TodayISO       string
	TimeContext    map[string]map[string]string
	LastResultMeta *LastResultMeta
}

// ContextMessage is one prior conversation turn shown to the oracle.
type ContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LastResultMeta describes the shape of the previous result.
type LastResultMeta struct {
	CapabilityName string   `json:"capability_name"`
	Columns        []string `json:"columns"`
}

// Oracle produces an untrusted raw spec from a message. Implementations may
// fail or return garbage; the pipeline normalizes defensively.
type Oracle interface {
	ExtractSpec(ctx context.Context, req OracleRequest) (map[string]interface{}, error)
}

// Envelope is the pipeline output: the normalized spec plus extraction
// metadata for the turn trace.
type Envelope struct {
	Spec         *types.RequestSpec
	SchemaValid  bool
	SchemaErrors []string
	Attempts     int
	UsedFallback bool
}

// Generate runs the oracle with at most two attempts and always returns a
// usable spec. When both attempts fail it falls back to a deterministic spec
// derived from the prior conversational action.
func Generate(ctx context.Context, oracle Oracle, req OracleRequest, priorAction string) *Envelope {
	log := logging.Get(logging.CategorySpec)
	if req.TodayISO == "" {
		req.TodayISO = time.Now().Format("2006-01-02")
	}
	if req.TimeContext == nil {
		req.TimeContext = TimeContext(time.Now())
	}

	env := &Envelope{}
	for attempt := 1; attempt <= 2; attempt++ {
		env.Attempts = attempt
		raw, err := oracle.ExtractSpec(ctx, req)
		if err != nil {
			log.Warn("oracle attempt %d failed: %v", attempt, err)
			continue
		}
		normalized, errs := Normalize(raw)
		env.Spec = normalized
		env.SchemaErrors = errs
		if len(errs) == 0 {
			env.SchemaValid = true
			return env
		}
		log.Debug("oracle attempt %d schema errors: %v", attempt, errs)
	}

	if env.Spec != nil {
		// Repaired but imperfect oracle output still beats a blind fallback.
		return env
	}

	env.UsedFallback = true
	env.Spec = Fallback(priorAction)
	env.SchemaErrors = append(env.SchemaErrors, "oracle_unavailable")
	log.Warn("oracle unavailable, using deterministic fallback for action %q", priorAction)
	return env
}

// Fallback builds a conservative spec from the immediate conversational
// action when the oracle cannot be consulted.
func Fallback(priorAction string) *types.RequestSpec {
	out := Default()
	out.Confidence = 0.4
	switch priorAction {
	case "transform_last":
		out.Intent = types.IntentTransformLast
		out.TaskClass = types.ClassTransformFollowup
	case "clarify":
		out.NeedsClarify = true
		out.ClarifyText = DefaultClarificationQuestion
	}
	return out
}
