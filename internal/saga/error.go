package saga

import (
	"fmt"
	"strings"
)

// Error reports that a required provisioning step failed after partial
// completion. It is always built from the ledger at the moment of failure,
// so the completed-step list matches what was actually done.
type Error struct {
	Op        string
	Completed []Step
	Failed    Step
	Err       error
}

func newError(op string, ledger *Ledger, failed Step, err error) *Error {
	return &Error{
		Op:        op,
		Completed: ledger.Completed(),
		Failed:    failed,
		Err:       err,
	}
}

func (e *Error) Error() string {
	names := make([]string, len(e.Completed))
	for i, s := range e.Completed {
		names[i] = string(s)
	}
	return fmt.Sprintf("%s: step %s failed (completed: %s): %v",
		e.Op, e.Failed, strings.Join(names, ","), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
