// Package logx is a thin structured-logging layer over zerolog.
//
// A Service owns the sinks (console, optional JSON file) and can be
// re-applied at runtime; Loggers handed out before an Apply pick up the
// new level and sinks on their next event.
package logx
