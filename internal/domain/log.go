package domain

import "time"

type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogEntry is an operational event about a single account, published next
// to outcomes so operators can see transient failures that were retried.
type LogEntry struct {
	Account   Account   `json:"account"`
	RoundID   string    `json:"round_id,omitempty"`
	AgentID   string    `json:"agent_id"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
