package saga

import "fmt"

// Step names one provisioning operation against a backing system.
type Step string

const (
	StepCreateIdentity         Step = "create-identity"
	StepSetCredential          Step = "set-credential"
	StepAssignRoles            Step = "assign-roles"
	StepCreateMessagingAccount Step = "create-messaging-account"
	StepCreateLegacyAccount    Step = "create-legacy-account"
	StepCreateStoreRecord      Step = "create-store-record"
	StepRegisterAppointments   Step = "register-appointments"
)

// stepOrder fixes the strict execution order. Best-effort steps may be
// skipped, but a completed step never precedes an earlier one.
var stepOrder = []Step{
	StepCreateIdentity,
	StepSetCredential,
	StepAssignRoles,
	StepCreateMessagingAccount,
	StepCreateLegacyAccount,
	StepCreateStoreRecord,
	StepRegisterAppointments,
}

func stepIndex(s Step) int {
	for i, step := range stepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// Ledger records which provisioning steps completed, in order. It is the
// single source of truth for what to compensate on failure. Each saga
// execution owns its own Ledger; it is never shared across executions.
type Ledger struct {
	completed []Step
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger { return &Ledger{} }

// Complete marks a step as done. Steps must complete in execution order;
// skipping a best-effort step is allowed, going backwards is not.
func (l *Ledger) Complete(s Step) error {
	idx := stepIndex(s)
	if idx < 0 {
		return fmt.Errorf("unknown step %q", s)
	}
	if n := len(l.completed); n > 0 {
		last := stepIndex(l.completed[n-1])
		if idx <= last {
			return fmt.Errorf("step %q completed out of order after %q", s, l.completed[n-1])
		}
	}
	l.completed = append(l.completed, s)
	return nil
}

// Has reports whether the step completed.
func (l *Ledger) Has(s Step) bool {
	for _, done := range l.completed {
		if done == s {
			return true
		}
	}
	return false
}

// Completed returns the completed steps in order.
func (l *Ledger) Completed() []Step {
	return append([]Step(nil), l.completed...)
}

// Len returns the number of completed steps.
func (l *Ledger) Len() int { return len(l.completed) }
