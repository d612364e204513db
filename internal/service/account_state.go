package service

import "fmt"

// AccountState is a step of the per-account state machine.
type AccountState string

const (
	StateLoggingIn        AccountState = "logging_in"
	StateInspecting       AccountState = "inspecting"
	StateNeedsRemediation AccountState = "needs_remediation"
	StateRemediating      AccountState = "remediating"
	StateAcknowledging    AccountState = "acknowledging"
	StateDestroyed        AccountState = "destroyed"
	StateSafe             AccountState = "safe"
	StateFailed           AccountState = "failed"
)

var allowedTransitions = map[AccountState]map[AccountState]struct{}{
	StateLoggingIn: {
		StateInspecting: {},
		StateLoggingIn:  {},
		StateDestroyed:  {},
		StateFailed:     {},
	},
	StateInspecting: {
		StateDestroyed:        {},
		StateSafe:             {},
		StateNeedsRemediation: {},
		StateLoggingIn:        {},
		StateFailed:           {},
	},
	StateNeedsRemediation: {
		StateRemediating:   {},
		StateAcknowledging: {},
		StateFailed:        {},
	},
	StateRemediating: {
		StateInspecting: {},
		StateDestroyed:  {},
		StateLoggingIn:  {},
		StateFailed:     {},
	},
	StateAcknowledging: {
		StateInspecting: {},
		StateDestroyed:  {},
		StateLoggingIn:  {},
		StateFailed:     {},
	},
	StateDestroyed: {},
	StateSafe:      {},
	StateFailed:    {},
}

// Terminal reports whether no transition leaves s.
func (s AccountState) Terminal() bool {
	next, ok := allowedTransitions[s]
	return ok && len(next) == 0
}

func ValidateTransition(from, to AccountState) error {
	next, ok := allowedTransitions[from]
	if !ok {
		return fmt.Errorf("invalid account state: %q", from)
	}
	if _, ok := allowedTransitions[to]; !ok {
		return fmt.Errorf("invalid account state: %q", to)
	}
	if _, ok := next[to]; !ok {
		return fmt.Errorf("invalid account transition: %s -> %s", from, to)
	}
	return nil
}
