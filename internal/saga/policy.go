package saga

// Outcome classifies what a step failure means for the execution.
type Outcome int

const (
	// OutcomeFatal aborts the saga and compensates completed steps.
	OutcomeFatal Outcome = iota
	// OutcomeDegraded logs the failure and continues; the gap is healed
	// later out-of-band.
	OutcomeDegraded
	// OutcomeSentinel substitutes a sentinel value and continues.
	OutcomeSentinel
)

// failurePolicy is the per-step decision table. Keeping the policy as data
// lets the handling be tested without exercising any network call.
var failurePolicy = map[Step]Outcome{
	StepCreateIdentity:         OutcomeFatal,
	StepSetCredential:          OutcomeFatal,
	StepAssignRoles:            OutcomeFatal,
	StepCreateMessagingAccount: OutcomeDegraded,
	StepCreateLegacyAccount:    OutcomeSentinel,
	StepCreateStoreRecord:      OutcomeFatal,
	StepRegisterAppointments:   OutcomeFatal,
}

// PolicyFor returns the failure outcome for a step.
func PolicyFor(s Step) Outcome {
	if o, ok := failurePolicy[s]; ok {
		return o
	}
	return OutcomeFatal
}

// compensable reports whether a step has a compensating action. Credential
// and role steps have none: deleting the identity subsumes them. Best-effort
// messaging accounts are intentionally left in place for later healing.
func compensable(s Step) bool {
	switch s {
	case StepCreateIdentity, StepCreateLegacyAccount, StepCreateStoreRecord:
		return true
	}
	return false
}
