package domain

import (
	"strconv"
	"time"
)

// Account is an opaque identifier of one remote identity.
type Account = string

// EntityState is a snapshot of the remote entity taken by the driver.
// When Destroyed is set the remaining fields carry no meaning.
type EntityState struct {
	Destroyed            bool     `json:"destroyed"`
	TimeToFailureHours   *float64 `json:"time_to_failure_hours,omitempty"`
	SafeMarginHours      float64  `json:"safe_margin_hours"`
	RemediationRequired  bool     `json:"remediation_required"`
	RemediationAvailable bool     `json:"remediation_available"`
	AcknowledgeAvailable bool     `json:"acknowledge_available"`
}

// NeedsRemediation reports whether the entity is below the safe margin
// threshold or explicitly flagged as urgent. A margin equal to the
// threshold is still considered safe.
func (s EntityState) NeedsRemediation(thresholdHours float64) bool {
	return s.SafeMarginHours < thresholdHours || s.RemediationRequired
}

// FormatHours renders a margin the way it is stored in status text: the
// shortest decimal that represents the value exactly.
func FormatHours(hours float64) string {
	return strconv.FormatFloat(hours, 'f', -1, 64)
}

// StatusDestroyed marks a permanently excluded account.
const StatusDestroyed = "destroyed"

// StatusRecord is the latest persisted result for an account.
type StatusRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Status    string    `json:"status"`
}

// Permanent reports whether the record excludes the account forever.
func (r StatusRecord) Permanent() bool {
	return r.Status == StatusDestroyed
}
