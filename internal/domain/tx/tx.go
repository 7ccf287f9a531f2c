// Package tx defines the transactional boundary port used by domain services.
package tx

import "context"

// Runner executes fn inside a single atomic unit. Repository calls made with
// the context passed to fn join that unit; any error aborts it with no
// partial effects.
type Runner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RunnerFunc adapts a function to the Runner interface. Used by tests.
type RunnerFunc func(ctx context.Context, fn func(ctx context.Context) error) error

func (f RunnerFunc) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}
