package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/wsproto"
)

// recorder collects the messages a registry sends.
type recorder struct {
	mu   sync.Mutex
	msgs []wsproto.Message
}

func (r *recorder) send(msg wsproto.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return true
}

func (r *recorder) messages() []wsproto.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wsproto.Message(nil), r.msgs...)
}

// terminals counts complete and error messages for id.
func (r *recorder) terminals(id string) int {
	n := 0
	for _, msg := range r.messages() {
		if msg.ID == id && (msg.Kind == wsproto.KindComplete || msg.Kind == wsproto.KindError) {
			n++
		}
	}
	return n
}

// blockingExecutor streams nothing until its context is canceled.
func blockingExecutor(started chan<- string, stopped chan<- string) Executor {
	return executorFunc(func(_ context.Context, req *graphql.GraphQLRequest) *graphql.GraphQLResponse {
		return &graphql.GraphQLResponse{Data: graphql.PublisherFunc(func(ctx context.Context, _ func(*graphql.GraphQLResponse) bool) error {
			if started != nil {
				started <- req.OperationName
			}
			<-ctx.Done()
			if stopped != nil {
				stopped <- req.OperationName
			}
			return ctx.Err()
		})}
	})
}

func subscribePayload(name string) *wsproto.SubscribePayload {
	return &wsproto.SubscribePayload{OperationName: name, Query: "subscription " + name + " { ticks }"}
}

func newTestRegistry(t *testing.T, executor Executor) (*Registry, *recorder) {
	t.Helper()
	rec := &recorder{}
	reg := NewRegistry(context.Background(), "test", NewBridge(executor, nil), rec.send, nil)
	t.Cleanup(func() {
		reg.CancelAll()
		reg.Wait()
	})
	return reg, rec
}

func TestRegistry_DeliversAndCompletes(t *testing.T) {
	reg, rec := newTestRegistry(t, staticExecutor(&graphql.GraphQLResponse{
		Data: publisherOf("greetings", "Hi", "Bonjour"),
	}))

	require.NoError(t, reg.Subscribe("1", &wsproto.SubscribePayload{Query: "subscription { greetings }"}))
	require.Eventually(t, func() bool { return reg.Len() == 0 && rec.terminals("1") == 1 }, 5*time.Second, 5*time.Millisecond)

	msgs := rec.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, wsproto.KindNext, msgs[0].Kind)
	assert.Equal(t, wsproto.KindNext, msgs[1].Kind)
	assert.Equal(t, wsproto.KindComplete, msgs[2].Kind)
	assert.Equal(t, "1", msgs[2].ID)
}

func TestRegistry_DuplicateID(t *testing.T) {
	started := make(chan string, 2)
	reg, _ := newTestRegistry(t, blockingExecutor(started, nil))

	require.NoError(t, reg.Subscribe("1", subscribePayload("A")))
	err := reg.Subscribe("1", subscribePayload("B"))
	require.ErrorIs(t, err, ErrSubscriberAlreadyExists)

	assert.Equal(t, "A", <-started)
	assert.Equal(t, 1, reg.Len())
	assert.True(t, reg.Has("1"))
}

func TestRegistry_ConcurrentDuplicateSubscribe(t *testing.T) {
	reg, _ := newTestRegistry(t, blockingExecutor(nil, nil))

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if reg.Subscribe("same", subscribePayload("A")) == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_CancelIsIdempotent(t *testing.T) {
	stopped := make(chan string, 1)
	reg, rec := newTestRegistry(t, blockingExecutor(nil, stopped))

	require.NoError(t, reg.Subscribe("1", subscribePayload("A")))
	assert.True(t, reg.Cancel("1"))
	assert.False(t, reg.Cancel("1"))
	assert.False(t, reg.Cancel("unknown"))

	select {
	case name := <-stopped:
		assert.Equal(t, "A", name)
	case <-time.After(5 * time.Second):
		t.Fatal("operation did not observe cancellation")
	}

	reg.Wait()
	assert.Zero(t, rec.terminals("1"), "a canceled operation sends no terminal frame")
}

func TestRegistry_IDReuseAfterCompletion(t *testing.T) {
	reg, rec := newTestRegistry(t, staticExecutor(&graphql.GraphQLResponse{
		Data: publisherOf("greetings", "Hi"),
	}))

	require.NoError(t, reg.Subscribe("1", &wsproto.SubscribePayload{Query: "subscription { greetings }"}))
	require.Eventually(t, func() bool { return rec.terminals("1") == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, reg.Subscribe("1", &wsproto.SubscribePayload{Query: "subscription { greetings }"}))
	require.Eventually(t, func() bool { return rec.terminals("1") == 2 }, 5*time.Second, 5*time.Millisecond)
}

func TestRegistry_AtMostOneTerminalFrame(t *testing.T) {
	for i := 0; i < 100; i++ {
		reg, rec := newTestRegistry(t, staticExecutor(&graphql.GraphQLResponse{
			Data: publisherOf("greetings", "Hi"),
		}))

		require.NoError(t, reg.Subscribe("1", &wsproto.SubscribePayload{Query: "subscription { greetings }"}))
		canceled := reg.Cancel("1")
		reg.Wait()

		n := rec.terminals("1")
		if canceled {
			assert.LessOrEqual(t, n, 1)
		} else {
			assert.Equal(t, 1, n)
		}
	}
}

func TestRegistry_CancelAll(t *testing.T) {
	stopped := make(chan string, 3)
	reg, rec := newTestRegistry(t, blockingExecutor(nil, stopped))

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, reg.Subscribe(id, subscribePayload("op"+id)))
	}
	reg.CancelAll()

	assert.Zero(t, reg.Len())
	for i := 0; i < 3; i++ {
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Fatal("operation did not observe cancellation")
		}
	}

	require.ErrorIs(t, reg.Subscribe("4", subscribePayload("op4")), ErrRegistryClosed)
	reg.Wait()
	assert.Empty(t, rec.messages())
}

func TestRegistry_FailureSendsError(t *testing.T) {
	reg, rec := newTestRegistry(t, staticExecutor(&graphql.GraphQLResponse{
		Errors: []graphql.GraphQLError{graphql.NewError("Cannot query field", graphql.CodeValidationFailed)},
	}))

	require.NoError(t, reg.Subscribe("1", &wsproto.SubscribePayload{Query: "subscription { nope }"}))
	require.Eventually(t, func() bool { return rec.terminals("1") == 1 }, 5*time.Second, 5*time.Millisecond)

	msgs := rec.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, wsproto.KindError, msgs[0].Kind)
	assert.Equal(t, "Cannot query field", msgs[0].Errors[0].Message)
}
