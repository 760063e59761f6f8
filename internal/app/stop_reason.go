package app

// StopReason records why the app is shutting down.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopInputDone  StopReason = "input_done"
	StopFatalError StopReason = "fatal_error"
)
