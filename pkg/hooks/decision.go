package hooks

import "fmt"

// Outcome is the aggregate verdict of a dispatch
type Outcome string

// Outcome constants
const (
	OutcomeAllow Outcome = "allow"
	OutcomeBlock Outcome = "block"
)

// Decision is the single aggregate result of dispatching one event.
type Decision struct {
	Outcome Outcome
	// Payload is the final forwarded payload when the event is allowed
	Payload []byte
	// Reason explains a block; it is the blocking hook's stderr when the hook
	// wrote one
	Reason string
	// Rule and Hook identify what produced a block
	Rule string
	Hook string
	// Integrity is set when the block comes from a hook that broke the
	// payload chain rather than from a policy decision
	Integrity bool
}

// Allow returns an allow decision carrying the final payload
func Allow(payload []byte) *Decision {
	return &Decision{Outcome: OutcomeAllow, Payload: payload}
}

// Block returns a block decision with the given reason
func Block(reason string) *Decision {
	return &Decision{Outcome: OutcomeBlock, Reason: reason}
}

// Allowed reports whether the gated operation may proceed
func (d *Decision) Allowed() bool {
	return d != nil && d.Outcome == OutcomeAllow
}

func (d *Decision) String() string {
	if d == nil {
		return "<nil>"
	}
	if d.Allowed() {
		return "allow"
	}
	return fmt.Sprintf("block: %s", d.Reason)
}
