package enums

import "fmt"

// VisitStatus is the outcome of a rep's visit to a retailer.
type VisitStatus string

const (
	VisitStatusPlanned      VisitStatus = "planned"
	VisitStatusProductive   VisitStatus = "productive"
	VisitStatusUnproductive VisitStatus = "unproductive"
)

var validVisitStatuses = []VisitStatus{
	VisitStatusPlanned,
	VisitStatusProductive,
	VisitStatusUnproductive,
}

// String implements fmt.Stringer.
func (v VisitStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known VisitStatus.
func (v VisitStatus) IsValid() bool {
	for _, candidate := range validVisitStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseVisitStatus converts raw input into a VisitStatus.
func ParseVisitStatus(value string) (VisitStatus, error) {
	for _, candidate := range validVisitStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid visit status %q", value)
}
