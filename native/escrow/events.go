package escrow

import (
	"encoding/hex"
	"strconv"

	"workchain/core/types"
)

const (
	EventTypeEscrowCreated  = "escrow.created"
	EventTypeEscrowReleased = "escrow.released"
	EventTypeEscrowRefunded = "escrow.refunded"
	EventTypeEscrowDisputed = "escrow.disputed"
	EventTypeEscrowResolved = "escrow.resolved"
)

// NewCreatedEvent returns the canonical event payload for a newly funded
// escrow.
func NewCreatedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowCreated, e) }

// NewReleasedEvent returns the canonical event payload for a release of the
// beneficiary share.
func NewReleasedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowReleased, e) }

// NewRefundedEvent returns the canonical event payload for an administrator
// refund to the payer.
func NewRefundedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowRefunded, e) }

// NewDisputedEvent returns the canonical event payload emitted when a dispute
// hold lands on the escrow.
func NewDisputedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowDisputed, e) }

// NewResolvedEvent returns the canonical event payload emitted when a dispute
// settlement releases the escrow.
func NewResolvedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowResolved, e) }

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	clone := e.Clone()
	attrs["id"] = hex.EncodeToString(clone.ID[:])
	attrs["subjectKind"] = clone.Subject.Kind.String()
	attrs["subjectId"] = strconv.FormatUint(clone.Subject.ID, 10)
	attrs["payer"] = clone.Payer.String()
	attrs["beneficiary"] = clone.Beneficiary.String()
	attrs["token"] = clone.Token
	attrs["amount"] = clone.Amount.String()
	attrs["platformFee"] = clone.PlatformFee.String()
	attrs["fundedAt"] = strconv.FormatInt(clone.FundedAt, 10)
	attrs["released"] = strconv.FormatBool(clone.Released)
	attrs["disputeStatus"] = clone.DisputeStatus.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}
