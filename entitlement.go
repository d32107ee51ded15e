package paygate

import "context"

// EntitlementState represents whether the user may use the gated feature.
type EntitlementState string

const (
	// EntitlementUnknown means no entitlement check has completed yet.
	EntitlementUnknown EntitlementState = "unknown"
	// EntitlementEntitled means the user may use the gated feature.
	EntitlementEntitled EntitlementState = "entitled"
	// EntitlementNotEntitled means the paywall must be shown.
	EntitlementNotEntitled EntitlementState = "not_entitled"
)

type transition struct {
	From EntitlementState
	To   EntitlementState
}

// There is no downgrade path out of EntitlementEntitled.
var validTransitions = map[transition]struct{}{
	{From: EntitlementUnknown, To: EntitlementEntitled}:     {},
	{From: EntitlementUnknown, To: EntitlementNotEntitled}:  {},
	{From: EntitlementNotEntitled, To: EntitlementEntitled}: {},
}

// CanTransition reports whether the gate may move from one state to another.
func CanTransition(from, to EntitlementState) bool {
	_, ok := validTransitions[transition{From: from, To: to}]
	return ok
}

// EntitlementSource is the external collaborator asked once per session
// whether the user is already entitled (platform receipt, server, ...).
type EntitlementSource interface {
	Check(ctx context.Context) (bool, error)
}

// EntitlementSourceFunc adapts a plain function to EntitlementSource.
type EntitlementSourceFunc func(ctx context.Context) (bool, error)

// Check calls f.
func (f EntitlementSourceFunc) Check(ctx context.Context) (bool, error) {
	return f(ctx)
}

// StaticEntitlementSource always reports the same answer.
// The zero value reports "not entitled".
type StaticEntitlementSource struct {
	Entitled bool
}

// Check returns s.Entitled.
func (s StaticEntitlementSource) Check(ctx context.Context) (bool, error) {
	return s.Entitled, nil
}
