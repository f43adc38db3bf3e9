package app

import "time"

// Operation tracks one CLI invocation. Its ID tags every log line the
// invocation writes so concurrent builds can be told apart in iscm.log.
type Operation struct {
	ID         string
	Name       string
	Parameters string
	Status     string // "success" or "error"
	Started    time.Time
}

// NewOperation creates an operation that has just started.
func NewOperation(name, parameters string, now time.Time) *Operation {
	return &Operation{
		ID:         now.UTC().Format("20060102T150405.000Z"),
		Name:       name,
		Parameters: parameters,
		Status:     "success",
		Started:    now,
	}
}

// Fail marks the operation as failed.
func (op *Operation) Fail() {
	op.Status = "error"
}

// Elapsed returns the time since the operation started.
func (op *Operation) Elapsed(now time.Time) time.Duration {
	return now.Sub(op.Started)
}
