package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hyperlinklaw/linkengine/internal/providers"
)

// decisionSchema constrains the arbitration response shape. Anything the
// service returns outside this shape is treated as a failed attempt.
const decisionSchema = `{
	"type": "object",
	"properties": {
		"decision": {"enum": ["pick", "needs_review"]},
		"dest_page": {"type": "integer", "minimum": 1},
		"reason": {"type": "string"}
	},
	"required": ["decision"],
	"if": {"properties": {"decision": {"const": "pick"}}},
	"then": {"required": ["decision", "dest_page"]}
}`

var compiledDecisionSchema = jsonschema.MustCompileString("decision.json", decisionSchema)

// Decision is the validated arbitration outcome.
type Decision struct {
	Decision string `json:"decision"`
	DestPage int    `json:"dest_page,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// arbitrationRequest is the fixed-schema payload sent to the arbitration
// service. Field order is part of the contract; identical references must
// serialize to identical bytes.
type arbitrationRequest struct {
	Ref        Reference        `json:"ref"`
	Candidates []Candidate      `json:"candidates"`
	Rules      arbitrationRules `json:"rules"`
}

type arbitrationRules struct {
	MinConfidence float64  `json:"min_confidence"`
	TieBreakOrder []string `json:"tie_break_order"`
	MethodOrder   []string `json:"method_order"`
}

// Arbitrate submits an ambiguous reference to the arbitration service and
// returns its validated decision. The first attempt uses the primary
// model; a transport failure or malformed decision triggers exactly one
// retry on the fallback model. Both failing yields needs_review, never an
// error: arbitration unavailability degrades to human review.
func Arbitrate(ctx context.Context, arbiter providers.Arbiter, ref Reference, candidates []Candidate, minConfidence float64, logger *slog.Logger) Decision {
	payload, err := json.Marshal(arbitrationRequest{
		Ref:        ref,
		Candidates: candidates,
		Rules: arbitrationRules{
			MinConfidence: minConfidence,
			TieBreakOrder: []string{"score", "lowest_page", "method_order"},
			MethodOrder:   MethodOrder(),
		},
	})
	if err != nil {
		logger.Error("encoding arbitration request", "ordinal", ref.Ordinal, "error", err)
		return Decision{Decision: "needs_review", Reason: "arbitration request encoding failed"}
	}

	for _, useFallback := range []bool{false, true} {
		raw, err := arbiter.Decide(ctx, payload, useFallback)
		if err != nil {
			logger.Warn("arbitration call failed",
				"ordinal", ref.Ordinal,
				"fallback", useFallback,
				"error", err)
			continue
		}
		decision, err := parseDecision(raw, candidates)
		if err != nil {
			logger.Warn("arbitration returned invalid decision",
				"ordinal", ref.Ordinal,
				"fallback", useFallback,
				"error", err)
			continue
		}
		return decision
	}
	return Decision{Decision: "needs_review", Reason: "arbitration unavailable"}
}

// parseDecision validates the raw decision against the schema and checks
// that a pick names one of the offered candidates.
func parseDecision(raw []byte, candidates []Candidate) (Decision, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Decision{}, fmt.Errorf("decoding decision: %w", err)
	}
	if err := compiledDecisionSchema.Validate(doc); err != nil {
		return Decision{}, fmt.Errorf("decision failed schema validation: %w", err)
	}

	var decision Decision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return Decision{}, err
	}
	decision.Decision = strings.TrimSpace(decision.Decision)

	if decision.Decision == "pick" {
		found := false
		for _, c := range candidates {
			if c.DestPage == decision.DestPage {
				found = true
				break
			}
		}
		if !found {
			return Decision{}, fmt.Errorf("picked page %d is not among the offered candidates", decision.DestPage)
		}
	}
	return decision, nil
}
