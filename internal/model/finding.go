package model

// Severity classifies a finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityAnomaly  Severity = "anomaly"
	SeverityCritical Severity = "critical"
)

// Finding is a single rule-engine output before it is written to the ledger.
type Finding struct {
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	EntityType EntityKind     `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}
