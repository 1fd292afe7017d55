package escrow

import (
	"fmt"
	"math/big"
	"strings"

	"workchain/core/types"
)

// DisputeStatus is the dispute lifecycle stamped onto an escrow. While the
// status is Raised or UnderReview, release and refund must fail.
type DisputeStatus uint8

const (
	DisputeNone DisputeStatus = iota
	DisputeRaised
	DisputeUnderReview
	DisputeResolved
)

// Valid reports whether the status value is within the supported range.
func (s DisputeStatus) Valid() bool {
	switch s {
	case DisputeNone, DisputeRaised, DisputeUnderReview, DisputeResolved:
		return true
	default:
		return false
	}
}

// Active reports whether the status blocks release and refund.
func (s DisputeStatus) Active() bool {
	return s == DisputeRaised || s == DisputeUnderReview
}

func (s DisputeStatus) String() string {
	switch s {
	case DisputeNone:
		return "none"
	case DisputeRaised:
		return "raised"
	case DisputeUnderReview:
		return "under_review"
	case DisputeResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Escrow is a custody record for a single subject. Amount and PlatformFee are
// fixed when the escrow is funded and never recomputed; Released transitions
// false to true exactly once.
type Escrow struct {
	ID              [32]byte          `json:"id"`
	Subject         types.SubjectRef  `json:"subject"`
	Payer           types.Address     `json:"payer"`
	Beneficiary     types.Address     `json:"beneficiary"`
	Token           string            `json:"token"`
	Amount          *big.Int          `json:"amount"`
	PlatformFee     *big.Int          `json:"platformFee"`
	FundedAt        int64             `json:"fundedAt"`
	Released        bool              `json:"released"`
	DisputeStatus   DisputeStatus     `json:"disputeStatus"`
	DisputeRaisedAt int64             `json:"disputeRaisedAt,omitempty"`
	DisputeDeadline int64             `json:"disputeDeadline,omitempty"`
}

// Clone returns a deep copy so callers can mutate the copy without touching
// the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if e.PlatformFee != nil {
		clone.PlatformFee = new(big.Int).Set(e.PlatformFee)
	} else {
		clone.PlatformFee = big.NewInt(0)
	}
	return &clone
}

// Total returns amount plus platform fee, the sum originally attached by the
// payer.
func (e *Escrow) Total() *big.Int {
	total := big.NewInt(0)
	if e == nil {
		return total
	}
	if e.Amount != nil {
		total.Add(total, e.Amount)
	}
	if e.PlatformFee != nil {
		total.Add(total, e.PlatformFee)
	}
	return total
}

// Funds is the payment attached to a create call, either the native denom or
// a token ledger transfer delivered through the receive hook.
type Funds struct {
	Token  string
	Amount *big.Int
}

// NormalizeFunds validates the attached payment and canonicalises the token
// symbol.
func NormalizeFunds(f Funds) (Funds, error) {
	token := strings.TrimSpace(f.Token)
	if token == "" {
		return Funds{}, fmt.Errorf("escrow: funds token required")
	}
	if f.Amount == nil || f.Amount.Sign() <= 0 {
		return Funds{}, fmt.Errorf("escrow: attached amount must be positive")
	}
	return Funds{Token: token, Amount: new(big.Int).Set(f.Amount)}, nil
}
