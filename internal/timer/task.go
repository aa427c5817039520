package timer

import (
	"context"
	"fmt"
	"strings"
)

// Task is the scheduled action.
type Task interface {
	Invoke(ctx context.Context) error
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Invoke(ctx context.Context) error { return f(ctx) }

// Call binds params to fn at construction. The resulting task always invokes
// fn with the same parameter tuple and renders as "name(p1, p2)".
func Call(name string, fn func(ctx context.Context, params ...any) error, params ...any) Task {
	bound := make([]any, len(params))
	copy(bound, params)
	return &call{name: name, fn: fn, params: bound}
}

type call struct {
	name   string
	fn     func(ctx context.Context, params ...any) error
	params []any
}

func (c *call) Invoke(ctx context.Context) error {
	if c.fn == nil {
		return ErrNoTask
	}
	return c.fn(ctx, c.params...)
}

func (c *call) Name() string { return c.name }

// Params returns a rendering of the bound tuple.
func (c *call) Params() string {
	parts := make([]string, len(c.params))
	for i, p := range c.params {
		parts[i] = fmt.Sprintf("%v", p)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (c *call) String() string { return c.name + c.Params() }

// describe returns the function and parameter renderings used in events.
func describe(t Task) (function, params string) {
	type named interface {
		Name() string
		Params() string
	}
	if n, ok := t.(named); ok {
		return n.Name(), n.Params()
	}
	if s, ok := t.(fmt.Stringer); ok {
		return s.String(), "()"
	}
	return fmt.Sprintf("%T", t), "()"
}
