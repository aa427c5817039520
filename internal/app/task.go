package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cacheful/internal/cachestore"
	"cacheful/internal/timer"
	logx "cacheful/pkg/logx"
)

// recordTask builds the built-in action: log the message and, when a cache
// is configured, store {id: unix seconds, values: [message, RFC3339 time]}.
// With declared columns the row is trimmed or padded to their count.
func recordTask(store cachestore.Store, columns int, now func() time.Time, log logx.Logger, message string) timer.Task {
	if now == nil {
		now = time.Now
	}
	log = log.With(logx.String("comp", "task"))
	return timer.Call("record", func(ctx context.Context, params ...any) error {
		msg := fmt.Sprint(params...)
		at := now()
		log.Info(msg, logx.Time("at", at))
		if store == nil {
			return nil
		}
		values := []any{msg, at.UTC().Format(time.RFC3339)}
		if columns > 0 {
			fitted := make([]any, columns)
			copy(fitted, values)
			values = fitted
		}
		row := cachestore.Row{ID: strconv.FormatInt(at.Unix(), 10), Values: values}
		if err := store.Set(ctx, row); err != nil {
			return fmt.Errorf("record %s: %w", row.ID, err)
		}
		return nil
	}, message)
}
