package dispute

import (
	"fmt"
	"strconv"

	"workchain/core/types"
)

const (
	EventTypeDisputeRaised   = "dispute.raised"
	EventTypeDisputeResolved = "dispute.resolved"
)

// NewRaisedEvent reports a freshly opened dispute.
func NewRaisedEvent(d *Dispute) *types.Event {
	return newDisputeEvent(EventTypeDisputeRaised, d, nil)
}

// NewResolvedEvent reports the administrator's verdict.
func NewResolvedEvent(d *Dispute, releaseToBeneficiary bool) *types.Event {
	extra := map[string]string{
		"releaseToBeneficiary": strconv.FormatBool(releaseToBeneficiary),
	}
	return newDisputeEvent(EventTypeDisputeResolved, d, extra)
}

func newDisputeEvent(eventType string, d *Dispute, extra map[string]string) *types.Event {
	if d == nil {
		return nil
	}
	attrs := map[string]string{
		"id":          strconv.FormatUint(d.ID, 10),
		"subjectKind": d.Subject.Kind.String(),
		"subjectId":   strconv.FormatUint(d.Subject.ID, 10),
		"raisedBy":    d.RaisedBy.String(),
		"status":      d.Status.String(),
		"createdAt":   fmt.Sprintf("%d", d.CreatedAt),
	}
	if d.ResolvedAt != 0 {
		attrs["resolvedAt"] = fmt.Sprintf("%d", d.ResolvedAt)
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
