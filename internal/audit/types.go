package audit

import "time"

// Record is the immutable audit trail entry created once per pipeline
// invocation. It carries a fingerprint of the input, never the raw text,
// so audit storage cannot re-leak PII.
type Record struct {
	CorrelationID  string    `json:"correlation_id" db:"correlation_id"`
	Fingerprint    string    `json:"fingerprint" db:"fingerprint"`
	RulesetVersion string    `json:"ruleset_version" db:"ruleset_version"`
	Scope          string    `json:"scope" db:"scope"`
	Outcome        string    `json:"outcome" db:"outcome"`
	Reasons        []string  `json:"reasons" db:"reasons"`
	RuleIDs        []string  `json:"rule_ids" db:"rule_ids"`
	Stage          string    `json:"stage" db:"stage"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
