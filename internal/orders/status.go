package orders

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of an order.
type Status string

// Order statuses
const (
	StatusNew        Status = "New"
	StatusProcessing Status = "Processing"
	StatusFinished   Status = "Finished"
	StatusCancelled  Status = "Cancelled"
)

var allStatuses = []Status{StatusNew, StatusProcessing, StatusFinished, StatusCancelled}

// Statuses returns every defined status in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	for _, st := range allStatuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus matches raw against the defined statuses ignoring case.
// On failure the raw value is returned as a Status together with
// ErrInvalidStatus, so callers may still hand it to ChangeStatus.
func ParseStatus(raw string) (Status, error) {
	trimmed := strings.TrimSpace(raw)
	for _, st := range allStatuses {
		if strings.EqualFold(trimmed, string(st)) {
			return st, nil
		}
	}
	return Status(raw), fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// CanTransition reports whether an order in from may move to to.
// Any defined status may follow any other distinct one.
func CanTransition(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, string(to))
	}
	if from == to {
		return fmt.Errorf("%w: order is already in the '%s' status", ErrNoOpTransition, to)
	}
	return nil
}
