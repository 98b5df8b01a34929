package policy

import (
	"context"
	"strings"

	"github.com/Pirikara/pipgate/internal/firewall"
	"github.com/Pirikara/pipgate/internal/requirement"
)

// BlockRecordSource fetches block records. A nil record with a nil error
// means the package has no block record.
type BlockRecordSource interface {
	GetBlockRecord(ctx context.Context, name string) (*firewall.BlockRecord, error)
}

// IndexSource checks index-level access for a package
type IndexSource interface {
	CheckIndex(ctx context.Context, name string) (firewall.IndexStatus, error)
}

// Resolver turns firewall answers into verdicts
type Resolver struct {
	records BlockRecordSource
	index   IndexSource
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithStrictIndex also blocks packages the index refuses to serve even when
// the firewall has no block record for them.
func WithStrictIndex(index IndexSource) ResolverOption {
	return func(r *Resolver) {
		r.index = index
	}
}

// NewResolver creates a new resolver
func NewResolver(records BlockRecordSource, opts ...ResolverOption) *Resolver {
	r := &Resolver{records: records}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StrictIndex reports whether index-level blocks are enforced
func (r *Resolver) StrictIndex() bool {
	return r.index != nil
}

// Resolve queries the firewall and returns the verdict for one package.
// The block record endpoint is authoritative; the index is only consulted
// in strict mode and only when there is no block record.
func (r *Resolver) Resolve(ctx context.Context, spec requirement.Specifier) Verdict {
	record, err := r.records.GetBlockRecord(ctx, spec.Name)
	if err != nil {
		return Verdict{
			Specifier: spec,
			Outcome:   OutcomeIndeterminate,
			Reason:    err.Error(),
		}
	}

	if record == nil && r.index != nil {
		return r.resolveIndex(ctx, spec)
	}

	return Decide(spec, record)
}

func (r *Resolver) resolveIndex(ctx context.Context, spec requirement.Specifier) Verdict {
	status, err := r.index.CheckIndex(ctx, spec.Name)
	if err != nil {
		return Verdict{
			Specifier: spec,
			Outcome:   OutcomeIndeterminate,
			Reason:    err.Error(),
		}
	}

	v := Decide(spec, nil)
	v.Index = status
	if status == firewall.IndexBlocked {
		v.Outcome = OutcomeBlock
		v.Reason = ReasonIndexBlocked
	}
	return v
}

// Decide computes the verdict for a specifier from its block record alone
func Decide(spec requirement.Specifier, record *firewall.BlockRecord) Verdict {
	// Rule 1: no record, nothing to block
	if record == nil {
		return Verdict{Specifier: spec, Outcome: OutcomeAllow}
	}

	blocked := Verdict{
		Specifier: spec,
		Outcome:   OutcomeBlock,
		Reason:    blockReason(record.Reasons),
		Record:    record,
	}

	switch {
	// Rule 2: the installer may resolve any version, including a blocked one
	case !spec.Pinned():
		return blocked
	// Rule 3: wildcard blocks every version
	case record.BlocksAll():
		return blocked
	// Rule 4: exact match on the pinned version
	case record.Blocks(spec.Version):
		return blocked
	}

	return Verdict{Specifier: spec, Outcome: OutcomeAllow, Record: record}
}

func blockReason(reasons []string) string {
	if len(reasons) == 0 {
		return ReasonNoDetails
	}
	return strings.Join(reasons, "; ")
}
