package enums

import "fmt"

// SweepStatus is the outcome of a single sweep attempt.
type SweepStatus string

// A submitted sweep was broadcast but its receipt is not yet known.
const (
	SweepStatusSubmitted SweepStatus = "submitted"
	SweepStatusCompleted SweepStatus = "completed"
	SweepStatusFailed    SweepStatus = "failed"
)

var validSweepStatuses = []SweepStatus{
	SweepStatusSubmitted,
	SweepStatusCompleted,
	SweepStatusFailed,
}

func (s SweepStatus) String() string {
	return string(s)
}

func (s SweepStatus) IsValid() bool {
	for _, candidate := range validSweepStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseSweepStatus(value string) (SweepStatus, error) {
	for _, candidate := range validSweepStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sweep status %q", value)
}
