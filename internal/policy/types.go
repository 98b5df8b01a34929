package policy

import (
	"github.com/Pirikara/pipgate/internal/firewall"
	"github.com/Pirikara/pipgate/internal/requirement"
)

// Mode represents how a batch of packages is evaluated
type Mode string

const (
	// ModeAbortOnFirstBlock stops at the first package that is not allowed
	ModeAbortOnFirstBlock Mode = "abort-on-first-block"
	// ModeCollectAll resolves every package and reports all verdicts
	ModeCollectAll Mode = "collect-all"
)

// Outcome represents the per-package verdict
type Outcome string

const (
	OutcomeAllow         Outcome = "allow"
	OutcomeBlock         Outcome = "block"
	OutcomeIndeterminate Outcome = "indeterminate"
)

// Decision represents the batch-level result
type Decision string

const (
	DecisionProceed Decision = "proceed"
	DecisionAbort   Decision = "abort"
)

// Fallback reasons used when the firewall gives no details
const (
	ReasonNoDetails    = "package has blocked versions; no details provided"
	ReasonIndexBlocked = "package is blocked at the index level"
)

// Verdict is the final per-package decision
type Verdict struct {
	Specifier requirement.Specifier `json:"specifier"`
	Outcome   Outcome               `json:"outcome"`
	Reason    string                `json:"reason,omitempty"`

	// Record is the block record the verdict was derived from, if any
	Record *firewall.BlockRecord `json:"record,omitempty"`
	// Index is set only when the index was consulted
	Index firewall.IndexStatus `json:"index,omitempty"`
}

// Allowed returns true if the package may be installed
func (v Verdict) Allowed() bool {
	return v.Outcome == OutcomeAllow
}

// ShouldBlock returns true for block and indeterminate outcomes. The gate
// fails closed when the firewall cannot be consulted.
func (v Verdict) ShouldBlock() bool {
	return !v.Allowed()
}
