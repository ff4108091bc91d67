package web_test

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/dukex/pulse/pkg/task"
	"github.com/dukex/pulse/pkg/testutil"
	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T, s *testServer) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_ = s.app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	t.Cleanup(func() {
		_ = s.app.Shutdown()
	})

	return ln.Addr().String()
}

func dial(t *testing.T, addr, path string) *websocket.Conn {
	t.Helper()

	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+path, nil)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.Cleanup(func() {
		_ = ws.Close()
	})

	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any

	require.NoError(t, json.Unmarshal(data, &frame))

	return frame
}

func waitForSessions(t *testing.T, s *testServer, id string, want int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(s.tasks.Sockets(id)) == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGateway_PingPong(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	addr := listen(t, s)
	id := testutil.NewEntityID()

	ws := dial(t, addr, "/tasks/"+id+"/ws")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	pong := readFrame(t, ws)
	assert.Equal(t, "pong", pong["type"])
	assert.InDelta(t, float64(time.Now().UnixMilli()), pong["timestamp"], float64(time.Minute.Milliseconds()))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`)))

	reply := readFrame(t, ws)
	assert.Equal(t, "error", reply["type"])
	assert.Equal(t, "Invalid message format", reply["message"])
}

func TestGateway_BroadcastsMutations(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	addr := listen(t, s)
	id := testutil.NewEntityID()

	first := dial(t, addr, "/tasks/"+id+"/ws")
	second := dial(t, addr, "/tasks/"+id+"/ws")

	waitForSessions(t, s, id, 2)

	err := s.tasks.Do(context.Background(), id, func(ctx context.Context, a *task.Actor) error {
		_, err := a.Initialize(ctx, task.InitializeRequest{})
		if err != nil {
			return err
		}

		_, err = a.UpdateProgress(ctx, 25, "")

		return err
	})
	require.NoError(t, err)

	for _, ws := range []*websocket.Conn{first, second} {
		created := readFrame(t, ws)
		assert.Equal(t, "event", created["type"])

		progress := readFrame(t, ws)
		assert.Equal(t, "progress", progress["type"])
		assert.Equal(t, id, progress["taskId"])
		assert.InDelta(t, 25, progress["progress"], 0)
	}
}

func TestGateway_SessionsSurviveHibernation(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	addr := listen(t, s)
	id := testutil.NewEntityID()

	ws := dial(t, addr, "/tasks/"+id+"/ws")
	waitForSessions(t, s, id, 1)

	require.True(t, s.tasks.Hibernate(context.Background(), id))

	err := s.tasks.Do(context.Background(), id, func(ctx context.Context, a *task.Actor) error {
		_, err := a.Initialize(ctx, task.InitializeRequest{})

		return err
	})
	require.NoError(t, err)

	assert.Equal(t, "event", readFrame(t, ws)["type"])
}

func TestGateway_DisconnectRemovesSession(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	addr := listen(t, s)
	id := testutil.NewEntityID()

	ws := dial(t, addr, "/tasks/"+id+"/ws")
	waitForSessions(t, s, id, 1)

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	waitForSessions(t, s, id, 0)

	err := s.tasks.Do(context.Background(), id, func(ctx context.Context, a *task.Actor) error {
		assert.Equal(t, 0, a.Sessions.Len())

		return nil
	})
	require.NoError(t, err)
}
