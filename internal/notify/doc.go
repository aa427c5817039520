// Package notify is the leveled publish/subscribe channel that carries every
// lifecycle and diagnostic event of the timer.
//
// Severity ranks: INFO=1, EVENT=2, WARNING=3, ERROR=4, EXCEPTION=4.
// A subscriber registered at a threshold receives every event whose rank is
// greater than or equal to the threshold's rank. Sinks (console logging,
// Telegram, metrics) are ordinary subscribers; nothing in the timer writes
// to a logger directly.
package notify
