package storage

import "fmt"

// Status - состояние записи outbox.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusSucceeded  Status = "Succeeded"
	StatusFailed     Status = "Failed"
	StatusAbandoned  Status = "Abandoned"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusSucceeded, StatusFailed, StatusAbandoned},
	StatusFailed:     {StatusProcessing},
	StatusSucceeded:  nil,
	StatusAbandoned:  nil,
}

// ParseStatus validates a status read from storage.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if _, ok := transitions[status]; !ok {
		return "", fmt.Errorf("unknown outbox status %q", s)
	}
	return status, nil
}

// CanTransitionTo reports whether the state machine allows moving to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal is true for Succeeded and Abandoned.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusAbandoned
}

// Claimable is true for records the dispatcher may pick up.
func (s Status) Claimable() bool {
	return s == StatusPending || s == StatusFailed
}

func (s Status) String() string {
	return string(s)
}
