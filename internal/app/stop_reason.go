package app

// StopReason records why the app is shutting down.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopContext    StopReason = "context"
	StopFatalError StopReason = "fatal_error"
	StopTimerEnded StopReason = "timer_ended"
)
