package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/logging"
)

// Executor runs GraphQL operations. For subscription operations the response
// Data is expected to be a graphql.Publisher.
type Executor interface {
	Execute(ctx context.Context, req *graphql.GraphQLRequest) *graphql.GraphQLResponse
}

// EventKind identifies a stream event.
type EventKind int

// Stream events. A stream delivers any number of EventNext followed by
// exactly one of EventCompleted or EventFailed, unless it is canceled.
const (
	EventNext EventKind = iota + 1
	EventCompleted
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventNext:
		return "next"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one item of an operation stream.
type Event struct {
	Kind EventKind
	// Result is set for EventNext.
	Result *graphql.GraphQLResponse
	// Errors is set for EventFailed.
	Errors []graphql.GraphQLError
}

// Stream is a running operation. Events is closed when the operation ends,
// including after cancellation.
type Stream struct {
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
}

// Events returns the stream's event channel.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Cancel asks the operation to stop. It does not wait; no event is delivered
// once the producer observes cancellation.
func (s *Stream) Cancel() {
	s.cancel()
}

// emit delivers ev unless the stream was canceled.
func (s *Stream) emit(ev Event) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case <-s.ctx.Done():
		return false
	case s.events <- ev:
		return true
	}
}

// Bridge adapts executor results, single values or publishers, into Streams.
type Bridge struct {
	executor Executor
	log      *slog.Logger
}

// NewBridge creates a bridge over executor.
func NewBridge(executor Executor, log *slog.Logger) *Bridge {
	if log == nil {
		log = logging.Nop()
	}
	return &Bridge{executor: executor, log: log}
}

// Start runs req in its own goroutine and returns its stream. The operation
// observes cancellation through a context derived from ctx.
func (b *Bridge) Start(ctx context.Context, req *graphql.GraphQLRequest) *Stream {
	sctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		events: make(chan Event),
		ctx:    sctx,
		cancel: cancel,
	}
	go b.run(s, req)
	return s
}

func (b *Bridge) run(s *Stream, req *graphql.GraphQLRequest) {
	defer close(s.events)
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("operation panicked", "panic", r)
			s.emit(failed(graphql.NewError("internal server error", CodeInternal)))
		}
	}()

	kind, err := operationKind(req)
	if err != nil {
		s.emit(Event{Kind: EventFailed, Errors: errorsFrom(err)})
		return
	}

	resp := b.executor.Execute(s.ctx, req)
	if resp == nil {
		s.emit(failed(graphql.NewError("executor returned no result", CodeInternal)))
		return
	}
	if resp.Data == nil && len(resp.Errors) > 0 {
		s.emit(Event{Kind: EventFailed, Errors: resp.Errors})
		return
	}

	if kind != ast.Subscription {
		if s.emit(Event{Kind: EventNext, Result: resp}) {
			s.emit(Event{Kind: EventCompleted})
		}
		return
	}

	pub, err := asPublisher(resp.Data)
	if err != nil {
		s.emit(failed(graphql.NewError(err.Error(), CodeNotAPublisher)))
		return
	}

	err = pub.Subscribe(s.ctx, func(item *graphql.GraphQLResponse) bool {
		if item == nil {
			return s.ctx.Err() == nil
		}
		return s.emit(Event{Kind: EventNext, Result: item})
	})

	switch {
	case s.ctx.Err() != nil:
		// Canceled: the consumer expects nothing more.
	case err != nil:
		b.log.Debug("operation failed", "error", err)
		s.emit(Event{Kind: EventFailed, Errors: errorsFrom(err)})
	default:
		s.emit(Event{Kind: EventCompleted})
	}
}

func failed(errs ...graphql.GraphQLError) Event {
	return Event{Kind: EventFailed, Errors: errs}
}

// asPublisher checks that subscription data is stream-shaped.
func asPublisher(data interface{}) (graphql.Publisher, error) {
	if pub, ok := data.(graphql.Publisher); ok && !isNilValue(pub) {
		return pub, nil
	}
	return nil, fmt.Errorf("%w: got %T", ErrNotAPublisher, data)
}

// isNilValue reports whether v is nil or an interface holding a nil pointer,
// map, slice, channel or func.
func isNilValue(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// operationKind reports the kind of the operation req will run. Documents the
// executor will reject for operation selection are reported as queries so the
// executor's error reaches the client.
func operationKind(req *graphql.GraphQLRequest) (ast.Operation, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "operation", Input: req.Query})
	if err != nil {
		return "", err
	}

	if req.OperationName != "" {
		if op := doc.Operations.ForName(req.OperationName); op != nil {
			return op.Operation, nil
		}
		return ast.Query, nil
	}
	if len(doc.Operations) == 1 {
		return doc.Operations[0].Operation, nil
	}
	return ast.Query, nil
}

// errorsFrom converts a stream or parse failure into GraphQL errors.
func errorsFrom(err error) []graphql.GraphQLError {
	var streamErr *graphql.StreamError
	if errors.As(err, &streamErr) {
		return []graphql.GraphQLError{streamErr.GraphQLError()}
	}

	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		out := graphql.NewError(gqlErr.Message, CodeParseFailed)
		for _, loc := range gqlErr.Locations {
			out.Locations = append(out.Locations, graphql.GraphQLErrorLocation{Line: loc.Line, Column: loc.Column})
		}
		return []graphql.GraphQLError{out}
	}

	return []graphql.GraphQLError{graphql.NewError(err.Error(), CodeInternal)}
}
