package integrity

// CheckoutRecorder receives build and poll outcomes for instrumentation.
type CheckoutRecorder interface {
	RecordCheckout(jobName string, changes int, result *CheckoutResult)
	RecordPoll(jobName string, changes int)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordCheckout(string, int, *CheckoutResult) {}
func (NopRecorder) RecordPoll(string, int)                      {}
