package domain

import "time"

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	AgentID   string       `json:"agent_id"`
	Message   string       `json:"message,omitempty"`
}

// RoundSnapshot describes the scheduler as seen by operators.
type RoundSnapshot struct {
	RoundID     string         `json:"round_id,omitempty"`
	Running     bool           `json:"running"`
	StartedAt   time.Time      `json:"started_at,omitempty"`
	Pending     int            `json:"pending"`
	InFlight    []Account      `json:"in_flight"`
	Completed   int            `json:"completed"`
	Failures    map[string]int `json:"failures"`
	RoundsTotal int            `json:"rounds_total"`
}

// RoundReport summarizes a finished round.
type RoundReport struct {
	RoundID   string        `json:"round_id"`
	Accounts  int           `json:"accounts"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Dropped   []Account     `json:"dropped,omitempty"`
	Duration  time.Duration `json:"duration"`
}
