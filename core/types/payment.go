package types

import "math/big"

// PaymentMsg is a transfer instruction queued by a call and executed by the
// host strictly after the call commits. Code inside a call must never assume a
// queued payment has already settled.
type PaymentMsg struct {
	To     Address
	Token  string
	Amount *big.Int
}

// Clone returns a deep copy so outboxes can hand messages to the host without
// sharing big.Int instances with stored state.
func (p PaymentMsg) Clone() PaymentMsg {
	out := PaymentMsg{To: p.To, Token: p.Token, Amount: big.NewInt(0)}
	if p.Amount != nil {
		out.Amount = new(big.Int).Set(p.Amount)
	}
	return out
}

// SubjectKind distinguishes the marketplace records an escrow can be bound to.
type SubjectKind uint8

const (
	SubjectJob SubjectKind = iota + 1
	SubjectBounty
)

// Valid reports whether the kind is a supported subject variant.
func (k SubjectKind) Valid() bool {
	switch k {
	case SubjectJob, SubjectBounty:
		return true
	default:
		return false
	}
}

func (k SubjectKind) String() string {
	switch k {
	case SubjectJob:
		return "job"
	case SubjectBounty:
		return "bounty"
	default:
		return "unknown"
	}
}

// SubjectRef is the structured identifier of a job or bounty. Storage keys are
// derived from the tuple directly rather than a concatenated string so lookups
// cannot collide or mis-parse.
type SubjectRef struct {
	Kind SubjectKind `json:"kind"`
	ID   uint64      `json:"id"`
}

// Valid reports whether the reference carries a supported kind and non-zero id.
func (r SubjectRef) Valid() bool { return r.Kind.Valid() && r.ID > 0 }
