package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/pulse/pkg/actor"
	"github.com/dukex/pulse/pkg/mocks"
	"github.com/dukex/pulse/pkg/session"
	"github.com/dukex/pulse/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newSocket() (*actor.Socket, *testutil.Conn) {
	conn := testutil.NewConn()

	return actor.NewSocket(conn), conn
}

func TestRegister_StoresAttachment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := session.NewRegistry(testLogger(), "tasks", nil)
	socket, _ := newSocket()

	registered, err := registry.Register(ctx, socket)
	require.NoError(t, err)
	assert.NotEmpty(t, registered.ID)
	assert.False(t, registered.SubscribedAt.IsZero())

	var attached session.Session

	ok, err := socket.DeserializeAttachment(&attached)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, registered.ID, attached.ID)

	found, ok := registry.Lookup(socket)
	assert.True(t, ok)
	assert.Equal(t, registered, found)
	assert.Equal(t, 1, registry.Len())
}

func TestRegister_UniqueIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := session.NewRegistry(testLogger(), "tasks", nil)
	seen := make(map[string]bool)

	for range 20 {
		socket, _ := newSocket()

		registered, err := registry.Register(ctx, socket)
		require.NoError(t, err)
		assert.False(t, seen[registered.ID])

		seen[registered.ID] = true
	}
}

func TestRehydrate_RestoresSessionsFromSockets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	original := session.NewRegistry(testLogger(), "tasks", nil)

	first, _ := newSocket()
	second, _ := newSocket()
	stranger, _ := newSocket()
	closed, _ := newSocket()

	one, err := original.Register(ctx, first)
	require.NoError(t, err)

	two, err := original.Register(ctx, second)
	require.NoError(t, err)

	_, err = original.Register(ctx, closed)
	require.NoError(t, err)
	require.NoError(t, closed.Close())

	// A new registry, as after the actor was evicted and rebuilt.
	restored := session.NewRegistry(testLogger(), "tasks", nil)

	count := restored.Rehydrate(ctx, []*actor.Socket{first, stranger, second, closed})

	assert.Equal(t, 2, count)
	assert.Equal(t, 2, restored.Len())

	got, ok := restored.Lookup(first)
	require.True(t, ok)
	assert.Equal(t, one, got)

	got, ok = restored.Lookup(second)
	require.True(t, ok)
	assert.Equal(t, two, got)

	_, ok = restored.Lookup(stranger)
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := session.NewRegistry(testLogger(), "tasks", nil)
	socket, _ := newSocket()

	_, err := registry.Register(ctx, socket)
	require.NoError(t, err)

	assert.True(t, registry.Remove(ctx, socket))
	assert.False(t, registry.Remove(ctx, socket))
	assert.Zero(t, registry.Len())
}

func TestBroadcast_IsolatesFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	metrics := &mocks.MockSessionMetrics{}
	metrics.On("SessionOpened", "tasks").Times(3)
	metrics.On("SessionClosed", "tasks").Once()
	metrics.On("SendFailed", "tasks").Once()
	metrics.On("Broadcast", "tasks", 2).Twice()

	registry := session.NewRegistry(testLogger(), "tasks", metrics)

	healthyA, connA := newSocket()
	broken, brokenConn := newSocket()
	healthyB, connB := newSocket()

	for _, socket := range []*actor.Socket{healthyA, broken, healthyB} {
		_, err := registry.Register(ctx, socket)
		require.NoError(t, err)
	}

	brokenConn.FailWrites(errors.New("connection reset"))

	event := map[string]any{"type": "progress", "progress": 40}

	delivered := registry.Broadcast(ctx, event)

	assert.Equal(t, 2, delivered)
	assert.Equal(t, 2, registry.Len())
	assert.True(t, brokenConn.Closed())

	expected, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{expected}, connA.Messages())
	assert.Equal(t, [][]byte{expected}, connB.Messages())

	_, stillThere := registry.Lookup(broken)
	assert.False(t, stillThere)

	// A second broadcast only reaches the survivors.
	assert.Equal(t, 2, registry.Broadcast(ctx, event))

	metrics.AssertExpectations(t)
}

func TestBroadcast_NoSessions(t *testing.T) {
	t.Parallel()

	registry := session.NewRegistry(testLogger(), "tasks", nil)

	assert.Zero(t, registry.Broadcast(context.Background(), map[string]string{"type": "progress"}))
}

func TestSend_DropsSocketOnFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := session.NewRegistry(testLogger(), "tasks", nil)
	socket, conn := newSocket()

	_, err := registry.Register(ctx, socket)
	require.NoError(t, err)

	require.NoError(t, registry.Send(ctx, socket, map[string]string{"type": "pong"}))
	assert.Equal(t, []string{"pong"}, conn.Types())

	conn.FailWrites(errors.New("gone"))

	require.Error(t, registry.Send(ctx, socket, map[string]string{"type": "pong"}))
	assert.Zero(t, registry.Len())
	assert.True(t, conn.Closed())
}
