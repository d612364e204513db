package domain

import (
	"fmt"
	"time"
)

// AccountOutcome is the terminal result of driving one account through a
// round attempt.
type AccountOutcome struct {
	StatusText string `json:"status"`
	Success    bool   `json:"success"`
}

func OutcomeDestroyed() AccountOutcome {
	return AccountOutcome{StatusText: StatusDestroyed, Success: true}
}

func OutcomeNormal(margin float64) AccountOutcome {
	return AccountOutcome{StatusText: fmt.Sprintf("status normal, margin: %sh", FormatHours(margin)), Success: true}
}

func OutcomeRemediated(margin float64) AccountOutcome {
	return AccountOutcome{StatusText: fmt.Sprintf("remediation complete, margin: %sh", FormatHours(margin)), Success: true}
}

func OutcomeRemediationFailed() AccountOutcome {
	return AccountOutcome{StatusText: "remediation attempt failed", Success: true}
}

func OutcomeRemediationBlocked(margin float64) AccountOutcome {
	return AccountOutcome{StatusText: fmt.Sprintf("remediation blocked, margin: %sh", FormatHours(margin)), Success: true}
}

func OutcomeRemediationCapReached(margin float64) AccountOutcome {
	return AccountOutcome{StatusText: fmt.Sprintf("remediation cap reached, margin: %sh", FormatHours(margin)), Success: true}
}

func OutcomeProcessingFailed(attempts int) AccountOutcome {
	return AccountOutcome{StatusText: fmt.Sprintf("processing failed after %d attempts", attempts), Success: false}
}

func OutcomeProcessingError(err error) AccountOutcome {
	return AccountOutcome{StatusText: fmt.Sprintf("processing error: %v", err), Success: false}
}

// OutcomeEvent is published for every terminal outcome.
type OutcomeEvent struct {
	Account   Account   `json:"account"`
	RoundID   string    `json:"round_id,omitempty"`
	AgentID   string    `json:"agent_id"`
	Status    string    `json:"status"`
	Success   bool      `json:"success"`
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}
