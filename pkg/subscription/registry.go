package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/getmockd/gqlws/pkg/logging"
	"github.com/getmockd/gqlws/pkg/metrics"
	"github.com/getmockd/gqlws/pkg/wsproto"
)

// SendFunc queues an outbound message. It returns false once the connection
// no longer accepts messages.
type SendFunc func(wsproto.Message) bool

// operation is a registered, running operation.
type operation struct {
	id     string
	stream *Stream
	// finished is claimed by whoever ends the operation first. Only the
	// claimant may send a terminal frame.
	finished atomic.Bool
}

// Registry tracks the running operations of one connection by id.
type Registry struct {
	ctx      context.Context
	protocol string
	bridge   *Bridge
	send     SendFunc
	log      *slog.Logger

	mu     sync.Mutex
	ops    map[string]*operation
	closed bool
	wg     sync.WaitGroup
}

// NewRegistry creates a registry whose operations run under ctx and deliver
// their frames through send.
func NewRegistry(ctx context.Context, protocol string, bridge *Bridge, send SendFunc, log *slog.Logger) *Registry {
	if log == nil {
		log = logging.Nop()
	}
	return &Registry{
		ctx:      ctx,
		protocol: protocol,
		bridge:   bridge,
		send:     send,
		log:      log,
		ops:      make(map[string]*operation),
	}
}

// Subscribe starts the operation described by payload under id. It fails
// with ErrSubscriberAlreadyExists while id is registered.
func (r *Registry) Subscribe(id string, payload *wsproto.SubscribePayload) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	if _, exists := r.ops[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSubscriberAlreadyExists, id)
	}
	// The stream cannot deliver before pump runs, so the handle is
	// registered before any item.
	op := &operation{id: id, stream: r.bridge.Start(r.ctx, payload.Request())}
	r.ops[id] = op
	r.wg.Add(1)
	r.mu.Unlock()

	metrics.SubscriptionStarted(r.protocol)
	r.log.Debug("operation started", "id", id, "operationName", payload.OperationName)

	go r.pump(op)
	return nil
}

// pump forwards a stream's events as protocol messages.
func (r *Registry) pump(op *operation) {
	defer r.wg.Done()

	for ev := range op.stream.Events() {
		switch ev.Kind {
		case EventNext:
			if op.finished.Load() {
				continue
			}
			r.send(wsproto.NextMessage(op.id, ev.Result))
		case EventCompleted:
			if r.finish(op) {
				r.send(wsproto.CompleteMessage(op.id))
			}
		case EventFailed:
			if r.finish(op) {
				r.send(wsproto.ErrorMessage(op.id, ev.Errors...))
			}
		}
	}

	// A canceled stream closes without a terminal event.
	r.finish(op)
}

// finish claims op's completion and unregisters it. The id is free for reuse
// before the terminal frame is queued.
func (r *Registry) finish(op *operation) bool {
	if !op.finished.CompareAndSwap(false, true) {
		return false
	}
	r.remove(op)
	op.stream.Cancel()
	return true
}

func (r *Registry) remove(op *operation) {
	r.mu.Lock()
	current, ok := r.ops[op.id]
	if ok && current == op {
		delete(r.ops, op.id)
	}
	r.mu.Unlock()

	if ok && current == op {
		metrics.SubscriptionEnded(r.protocol)
	}
}

// Cancel stops the operation registered under id without sending a frame.
// Unknown and already finished ids are ignored. It reports whether an
// operation was canceled.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	op, ok := r.ops[id]
	if ok {
		delete(r.ops, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	metrics.SubscriptionEnded(r.protocol)
	op.finished.Store(true)
	op.stream.Cancel()
	r.log.Debug("operation canceled", "id", id)
	return true
}

// CancelAll cancels every operation and rejects further subscriptions. It
// does not wait for the operations to stop.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	r.closed = true
	ops := r.ops
	r.ops = make(map[string]*operation)
	r.mu.Unlock()

	for _, op := range ops {
		metrics.SubscriptionEnded(r.protocol)
		op.finished.Store(true)
		op.stream.Cancel()
	}
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ops[id]
	return ok
}

// Len returns the number of registered operations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

// Wait blocks until every operation's stream has closed.
func (r *Registry) Wait() {
	r.wg.Wait()
}
