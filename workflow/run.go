package workflow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/klapom/aegisrag/workflow"

// ErrUnknownRoute is returned when a route function yields a key with no target.
var ErrUnknownRoute = fmt.Errorf("workflow: unknown route")

type compileOptions[S any] struct {
	snapshot func(S) S
}

// CompileOption configures a compiled graph.
type CompileOption[S any] func(*compileOptions[S])

// WithSnapshot sets the function used to copy the state before it is
// published on Run.Values, so consumers never share memory with the run.
func WithSnapshot[S any](fn func(S) S) CompileOption[S] {
	return func(o *compileOptions[S]) { o.snapshot = fn }
}

// Compiled is an immutable, validated graph. Safe for concurrent use.
type Compiled[S any, E any] struct {
	name    string
	nodes   map[string]NodeFunc[S]
	edges   map[string]string
	conds   map[string]conditional[S]
	entry   string
	options compileOptions[S]
	logger  *zap.Logger
}

// Name returns the graph name.
func (c *Compiled[S, E]) Name() string { return c.name }

// Invoke runs the graph to End and returns the final state.
func (c *Compiled[S, E]) Invoke(ctx context.Context, s S) (S, error) {
	return c.run(ctx, s, nil)
}

// Run is a streaming execution. Consumers must drain both Custom and
// Values until they are closed, then read Err.
type Run[S any, E any] struct {
	Custom <-chan E
	Values <-chan S

	done chan struct{}
	err  error
}

// Err blocks until the run finishes and returns its error.
func (r *Run[S, E]) Err() error {
	<-r.done
	return r.err
}

// Done is closed when the run has finished.
func (r *Run[S, E]) Done() <-chan struct{} { return r.done }

// Stream runs the graph in the background. Custom events emitted by a node
// are delivered before that node's snapshot on Values. Both channels are
// unbuffered; canceling ctx stops the run.
func (c *Compiled[S, E]) Stream(ctx context.Context, s S) *Run[S, E] {
	custom := make(chan E)
	values := make(chan S)
	r := &Run[S, E]{Custom: custom, Values: values, done: make(chan struct{})}

	go func() {
		defer close(r.done)
		defer close(values)
		defer close(custom)

		emitCtx := context.WithValue(ctx, emitterKey{}, (chan<- E)(custom))
		_, r.err = c.run(emitCtx, s, func(snap S) error {
			select {
			case values <- snap:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return r
}

func (c *Compiled[S, E]) run(ctx context.Context, s S, publish func(S) error) (S, error) {
	tracer := otel.Tracer(instrumentationName)
	current := c.entry

	// 无环图，步数不会超过节点数
	for steps := 0; current != End; steps++ {
		if steps > len(c.nodes) {
			return s, fmt.Errorf("workflow %s: step limit exceeded", c.name)
		}
		if err := ctx.Err(); err != nil {
			return s, err
		}

		fn := c.nodes[current]
		next, err := c.execNode(ctx, tracer, current, fn, s)
		if err != nil {
			return s, fmt.Errorf("node %s: %w", current, err)
		}
		s = next

		if publish != nil {
			snap := s
			if c.options.snapshot != nil {
				snap = c.options.snapshot(s)
			}
			if err := publish(snap); err != nil {
				return s, err
			}
		}

		current, err = c.nextNode(current, s)
		if err != nil {
			return s, err
		}
	}
	return s, nil
}

func (c *Compiled[S, E]) execNode(ctx context.Context, tracer trace.Tracer, name string, fn NodeFunc[S], s S) (S, error) {
	ctx, span := tracer.Start(ctx, "workflow.node",
		trace.WithAttributes(
			attribute.String("workflow.graph", c.name),
			attribute.String("workflow.node", name),
		))
	defer span.End()

	start := time.Now()
	out, err := fn(ctx, s)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("node failed", zap.String("node", name), zap.Duration("elapsed", elapsed), zap.Error(err))
		return s, err
	}
	c.logger.Debug("node finished", zap.String("node", name), zap.Duration("elapsed", elapsed))
	return out, nil
}

func (c *Compiled[S, E]) nextNode(current string, s S) (string, error) {
	if to, ok := c.edges[current]; ok {
		return to, nil
	}
	cond := c.conds[current]
	key := cond.route(s)
	to, ok := cond.targets[key]
	if !ok {
		return "", fmt.Errorf("%w %q from node %s", ErrUnknownRoute, key, current)
	}
	return to, nil
}

type emitterKey struct{}

// Emit sends a side-channel event to the consumer of the surrounding Stream.
// It reports false when ctx carries no stream of this event type or ctx is done.
// Safe to call from goroutines spawned by a node, as long as the node
// waits for them before returning.
func Emit[E any](ctx context.Context, ev E) bool {
	ch, ok := ctx.Value(emitterKey{}).(chan<- E)
	if !ok {
		return false
	}
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Drain consumes a run, calling onCustom and onValue in delivery order,
// and returns the run error. Either callback may be nil.
func Drain[S any, E any](r *Run[S, E], onCustom func(E), onValue func(S)) error {
	custom, values := r.Custom, r.Values
	for custom != nil || values != nil {
		select {
		case ev, ok := <-custom:
			if !ok {
				custom = nil
				continue
			}
			if onCustom != nil {
				onCustom(ev)
			}
		case v, ok := <-values:
			if !ok {
				values = nil
				continue
			}
			if onValue != nil {
				onValue(v)
			}
		}
	}
	return r.Err()
}
