package model

// SchemaVersion is the fixed version stamped on every decision for
// downstream compatibility.
const SchemaVersion = "1.0"

// GuardrailTag identifies the first guardrail stage that filtered at least
// one candidate while shaping a decision.
type GuardrailTag string

const (
	GuardrailNone       GuardrailTag = "none"
	GuardrailCapability GuardrailTag = "capability"
	GuardrailHealth     GuardrailTag = "health"
	GuardrailCompliance GuardrailTag = "compliance"
)

// Constraints are the execution constraints attached to a decision.
type Constraints struct {
	MustUse3DS    bool `json:"must_use_3ds"`
	RetryWindowMs int  `json:"retry_window_ms"`
	MaxRetries    int  `json:"max_retries"`
}

// Decision is the explainable output of a routing request. Field names are
// part of the wire contract and must not change.
type Decision struct {
	SchemaVersion string       `json:"schema_version"`
	DecisionID    string       `json:"decision_id"`
	Candidate     string       `json:"candidate"`
	Alternates    []string     `json:"alternates"`
	Reasoning     string       `json:"reasoning"`
	Guardrail     GuardrailTag `json:"guardrail"`
	Constraints   Constraints  `json:"constraints"`
	FeaturesUsed  []string     `json:"features_used"`
}
