package domain

// RosterEvent adds or removes an account on the Kafka roster topic.
type RosterEvent struct {
	Account Account `json:"account"`
	Removed bool    `json:"removed"`
}
