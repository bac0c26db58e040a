package activity

import (
	"context"
	"fmt"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/converter"
)

// HandlerFunc is a type-erased activity: payloads in, one payload out.
type HandlerFunc func(ctx context.Context, conv converter.DataConverter, args []*converter.Payload) (*converter.Payload, error)

// Definition is a named activity with its options and type-erased handler.
type Definition struct {
	// Name is the unique identifier the workflow schedules by.
	Name string

	// Arity is the number of arguments the activity takes.
	Arity int

	// Opts configures queue, timeout and retries.
	Opts Options

	handler HandlerFunc
}

// Handler returns the type-erased handler.
func (d *Definition) Handler() HandlerFunc { return d.handler }

// decodeFunc decodes arguments and calls the typed function.
type decodeFunc func(ctx context.Context, conv converter.DataConverter, args []*converter.Payload) (any, error)

func newDefinition(name string, arity int, call decodeFunc, opts []Option) *Definition {
	def := &Definition{Name: name, Arity: arity}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	def.handler = func(ctx context.Context, conv converter.DataConverter, args []*converter.Payload) (*converter.Payload, error) {
		if len(args) != arity {
			return nil, NonRetryable(fmt.Errorf("%w: activity %q takes %d arguments, got %d",
				ragflow.ErrTypeMismatch, name, arity, len(args)))
		}
		out, err := call(ctx, conv, args)
		if err != nil {
			return nil, err
		}
		p, err := conv.ToPayload(out)
		if err != nil {
			return nil, NonRetryable(fmt.Errorf("encode result of %q: %w", name, err))
		}
		return p, nil
	}
	return def
}

func decodeErr(name string, err error) error {
	return NonRetryable(fmt.Errorf("decode arguments of %q: %w", name, err))
}

// NewDefinition0 defines an activity without arguments.
func NewDefinition0[Out any](name string, fn func(ctx context.Context) (Out, error), opts ...Option) *Definition {
	return newDefinition(name, 0, func(ctx context.Context, _ converter.DataConverter, _ []*converter.Payload) (any, error) {
		return fn(ctx)
	}, opts)
}

// NewDefinition defines an activity with one argument.
func NewDefinition[A, Out any](name string, fn func(ctx context.Context, a A) (Out, error), opts ...Option) *Definition {
	return newDefinition(name, 1, func(ctx context.Context, conv converter.DataConverter, args []*converter.Payload) (any, error) {
		var a A
		if err := conv.FromPayloads(args, &a); err != nil {
			return nil, decodeErr(name, err)
		}
		return fn(ctx, a)
	}, opts)
}

// NewDefinition2 defines an activity with two arguments.
func NewDefinition2[A, B, Out any](name string, fn func(ctx context.Context, a A, b B) (Out, error), opts ...Option) *Definition {
	return newDefinition(name, 2, func(ctx context.Context, conv converter.DataConverter, args []*converter.Payload) (any, error) {
		var (
			a A
			b B
		)
		if err := conv.FromPayloads(args, &a, &b); err != nil {
			return nil, decodeErr(name, err)
		}
		return fn(ctx, a, b)
	}, opts)
}

// NewDefinition3 defines an activity with three arguments.
func NewDefinition3[A, B, C, Out any](name string, fn func(ctx context.Context, a A, b B, c C) (Out, error), opts ...Option) *Definition {
	return newDefinition(name, 3, func(ctx context.Context, conv converter.DataConverter, args []*converter.Payload) (any, error) {
		var (
			a A
			b B
			c C
		)
		if err := conv.FromPayloads(args, &a, &b, &c); err != nil {
			return nil, decodeErr(name, err)
		}
		return fn(ctx, a, b, c)
	}, opts)
}
