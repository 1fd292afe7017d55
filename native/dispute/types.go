package dispute

import "workchain/core/types"

// Status tracks a dispute through its lifecycle. UnderReview is reachable
// through future moderation tooling but nothing transitions into it today.
type Status uint8

const (
	StatusRaised Status = iota + 1
	StatusUnderReview
	StatusResolved
)

// Active reports whether the dispute still blocks the underlying escrow.
func (s Status) Active() bool {
	return s == StatusRaised || s == StatusUnderReview
}

func (s Status) String() string {
	switch s {
	case StatusRaised:
		return "raised"
	case StatusUnderReview:
		return "under_review"
	case StatusResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Dispute is the persisted adjudication record for a subject's escrow.
// Evidence holds hex-encoded sha256 references to off-chain blobs; the raw
// material never enters state.
type Dispute struct {
	ID         uint64           `json:"id"`
	Subject    types.SubjectRef `json:"subject"`
	RaisedBy   types.Address    `json:"raisedBy"`
	Reason     string           `json:"reason"`
	Evidence   []string         `json:"evidence,omitempty"`
	Status     Status           `json:"status"`
	CreatedAt  int64            `json:"createdAt"`
	ResolvedAt int64            `json:"resolvedAt,omitempty"`
	Resolution string           `json:"resolution,omitempty"`
}

// Clone returns an independent copy safe for the caller to mutate.
func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	copied := *d
	if d.Evidence != nil {
		copied.Evidence = append([]string(nil), d.Evidence...)
	}
	return &copied
}
