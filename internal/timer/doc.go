// Package timer runs one task on a daily-anchored fixed period.
//
// A Runner validates its schedule, takes the host-local pid lock, and then
// polls the clock every period/100 from a single supervised goroutine. A
// check that lands inside the due window (period/20 after the fire time)
// invokes the task and advances the fire time by one period. Task failures
// are published and never stop the loop.
//
// Everything observable goes through a notify.Bus; a Runner with no
// subscribers is silent apart from the errors returned by Start.
//
//	r := timer.New(timer.Config{TimeOfDay: "03:00:00", Period: "01:00:00"},
//		timer.Call("refresh", refresh, "daily.csv"),
//		timer.WithBus(bus))
//	err := r.Run(ctx)
package timer
