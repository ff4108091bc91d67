package actor_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/pulse/pkg/actor"
	"github.com/dukex/pulse/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterActor struct {
	id        string
	count     int
	starts    *atomic.Int32
	closes    *atomic.Int32
	rehydrate []string
	connected []string
	received  [][]byte
	dropped   []string
}

func (a *counterActor) Start(_ context.Context, sockets []*actor.Socket) error {
	a.starts.Add(1)

	for _, socket := range sockets {
		var tag string

		ok, err := socket.DeserializeAttachment(&tag)
		if err != nil {
			return err
		}

		if ok {
			a.rehydrate = append(a.rehydrate, tag)
		}
	}

	return nil
}

func (a *counterActor) Close(context.Context) error {
	a.closes.Add(1)

	return nil
}

func (a *counterActor) Connect(_ context.Context, socket *actor.Socket) error {
	a.connected = append(a.connected, socket.ID())

	return socket.SerializeAttachment("session-" + socket.ID())
}

func (a *counterActor) Message(_ context.Context, _ *actor.Socket, data []byte) error {
	a.received = append(a.received, data)

	return nil
}

func (a *counterActor) Disconnect(_ context.Context, socket *actor.Socket) error {
	a.dropped = append(a.dropped, socket.ID())

	return nil
}

type fixture struct {
	host   *actor.Host[*counterActor]
	starts *atomic.Int32
	closes *atomic.Int32
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newFixture(opts ...actor.Option) *fixture {
	f := &fixture{starts: &atomic.Int32{}, closes: &atomic.Int32{}}
	f.host = actor.NewHost(testLogger(), "counters", func(_ context.Context, id string, _ actor.Key) (*counterActor, error) {
		return &counterActor{id: id, starts: f.starts, closes: f.closes}, nil
	}, opts...)

	return f
}

func increment(ctx context.Context, a *counterActor) error {
	current := a.count

	time.Sleep(time.Microsecond)

	a.count = current + 1

	return nil
}

func TestKeyFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, actor.KeyFor("tasks", "abc"), actor.KeyFor("tasks", "abc"))
	assert.NotEqual(t, actor.KeyFor("tasks", "abc"), actor.KeyFor("workflows", "abc"))
	assert.NotEqual(t, actor.KeyFor("tasks", "abc"), actor.KeyFor("tasks", "abd"))
	assert.Len(t, string(actor.KeyFor("tasks", "abc")), 64)
}

func TestDo_SerializesPerEntity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()

	var wg sync.WaitGroup

	for range 50 {
		wg.Add(2)

		go func() {
			defer wg.Done()

			assert.NoError(t, f.host.Do(ctx, "a", increment))
		}()

		go func() {
			defer wg.Done()

			assert.NoError(t, f.host.Do(ctx, "b", increment))
		}()
	}

	wg.Wait()

	for _, id := range []string{"a", "b"} {
		require.NoError(t, f.host.Do(ctx, id, func(_ context.Context, a *counterActor) error {
			assert.Equal(t, 50, a.count)
			assert.Equal(t, id, a.id)

			return nil
		}))
	}

	assert.Equal(t, int32(2), f.starts.Load())
}

func TestDo_ContextCanceledWhileWaiting(t *testing.T) {
	t.Parallel()

	f := newFixture()
	entered := make(chan struct{})
	unblock := make(chan struct{})

	go func() {
		_ = f.host.Do(context.Background(), "busy", func(context.Context, *counterActor) error {
			close(entered)
			<-unblock

			return nil
		})
	}()

	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := f.host.Do(ctx, "busy", increment)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(unblock)
}

func TestDo_FactoryFailureRetries(t *testing.T) {
	t.Parallel()

	attempts := 0
	failure := errors.New("disk unavailable")

	host := actor.NewHost(testLogger(), "flaky", func(_ context.Context, id string, _ actor.Key) (*counterActor, error) {
		attempts++
		if attempts == 1 {
			return nil, failure
		}

		return &counterActor{id: id, starts: &atomic.Int32{}, closes: &atomic.Int32{}}, nil
	})

	err := host.Do(context.Background(), "x", increment)
	require.ErrorIs(t, err, failure)
	assert.False(t, host.Resident("x"))

	require.NoError(t, host.Do(context.Background(), "x", increment))
	assert.True(t, host.Resident("x"))
}

func TestHibernate_RebuildsOnNextCall(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()

	require.NoError(t, f.host.Do(ctx, "a", increment))
	assert.True(t, f.host.Resident("a"))

	assert.True(t, f.host.Hibernate(ctx, "a"))
	assert.False(t, f.host.Resident("a"))
	assert.Equal(t, int32(1), f.closes.Load())
	assert.False(t, f.host.Hibernate(ctx, "a"))

	require.NoError(t, f.host.Do(ctx, "a", func(_ context.Context, a *counterActor) error {
		assert.Zero(t, a.count, "in-memory state does not survive eviction")

		return nil
	}))

	assert.Equal(t, int32(2), f.starts.Load())
}

func TestHibernate_SkipsBusyInstance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()

	require.NoError(t, f.host.Do(ctx, "a", func(ctx context.Context, _ *counterActor) error {
		assert.False(t, f.host.Hibernate(ctx, "a"))

		return nil
	}))

	assert.True(t, f.host.Resident("a"))
}

func TestEvictIdle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	var (
		mu  sync.Mutex
		now = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	)

	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()

		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()

		now = now.Add(d)
	}

	f := newFixture(actor.WithClock(clock))

	require.NoError(t, f.host.Do(ctx, "old", increment))
	advance(10 * time.Minute)
	require.NoError(t, f.host.Do(ctx, "fresh", increment))

	assert.Equal(t, 1, f.host.EvictIdle(ctx, 5*time.Minute))
	assert.False(t, f.host.Resident("old"))
	assert.True(t, f.host.Resident("fresh"))
	assert.Equal(t, 1, f.host.Len())
}

func TestSockets_SurviveEviction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()

	first, err := f.host.Accept(ctx, "a", testutil.NewConn())
	require.NoError(t, err)

	second, err := f.host.Accept(ctx, "a", testutil.NewConn())
	require.NoError(t, err)

	require.True(t, f.host.Hibernate(ctx, "a"))
	assert.Len(t, f.host.Sockets("a"), 2)

	require.NoError(t, f.host.Do(ctx, "a", func(_ context.Context, a *counterActor) error {
		assert.Equal(t, []string{"session-" + first.ID(), "session-" + second.ID()}, a.rehydrate)

		return nil
	}))
}

func TestReceive_AutoResponderBypassesActor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(actor.WithAutoResponder(func(data []byte) ([]byte, bool) {
		if string(data) == "ping" {
			return []byte("pong"), true
		}

		return nil, false
	}))

	conn := testutil.NewConn()

	socket, err := f.host.Accept(ctx, "a", conn)
	require.NoError(t, err)
	require.True(t, f.host.Hibernate(ctx, "a"))

	require.NoError(t, f.host.Receive(ctx, "a", socket, []byte("ping")))
	assert.Equal(t, [][]byte{[]byte("pong")}, conn.Messages())
	assert.False(t, f.host.Resident("a"), "ping must not resurrect the actor")

	require.NoError(t, f.host.Receive(ctx, "a", socket, []byte("hello")))
	assert.True(t, f.host.Resident("a"))

	require.NoError(t, f.host.Do(ctx, "a", func(_ context.Context, a *counterActor) error {
		assert.Equal(t, [][]byte{[]byte("hello")}, a.received)

		return nil
	}))
}

func TestDisconnect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()

	socket, err := f.host.Accept(ctx, "a", testutil.NewConn())
	require.NoError(t, err)

	require.NoError(t, f.host.Disconnect(ctx, "a", socket))
	assert.Empty(t, f.host.Sockets("a"))

	require.NoError(t, f.host.Do(ctx, "a", func(_ context.Context, a *counterActor) error {
		assert.Equal(t, []string{socket.ID()}, a.dropped)

		return nil
	}))

	// A hibernated actor is not woken up to learn about a disconnect.
	other, err := f.host.Accept(ctx, "b", testutil.NewConn())
	require.NoError(t, err)
	require.True(t, f.host.Hibernate(ctx, "b"))
	require.NoError(t, f.host.Disconnect(ctx, "b", other))
	assert.False(t, f.host.Resident("b"))
}

type plainActor struct{}

func (plainActor) Start(context.Context, []*actor.Socket) error { return nil }
func (plainActor) Close(context.Context) error                  { return nil }

func TestAccept_RequiresSocketHandler(t *testing.T) {
	t.Parallel()

	host := actor.NewHost(testLogger(), "plain", func(context.Context, string, actor.Key) (plainActor, error) {
		return plainActor{}, nil
	})

	_, err := host.Accept(context.Background(), "a", testutil.NewConn())
	require.ErrorIs(t, err, actor.ErrNotSocketHandler)
	assert.Empty(t, host.Sockets("a"))
}

func TestClose_ClosesSockets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	conn := testutil.NewConn()

	_, err := f.host.Accept(ctx, "a", conn)
	require.NoError(t, err)

	f.host.Close(ctx)

	assert.True(t, conn.Closed())
	assert.Equal(t, int32(1), f.closes.Load())
	assert.Zero(t, f.host.Len())
}
