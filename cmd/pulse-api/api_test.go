package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/dukex/pulse/pkg/config"
	"github.com/dukex/pulse/pkg/eventbus"
	"github.com/dukex/pulse/pkg/events"
	"github.com/dukex/pulse/pkg/mocks"
	"github.com/dukex/pulse/pkg/models"
	"github.com/dukex/pulse/pkg/session"
	"github.com/dukex/pulse/pkg/testutil"
	"github.com/dukex/pulse/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestAPI(t *testing.T, bus eventbus.EventBus) (*API, *fiber.App) {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	api, err := NewAPI(testLogger(), cfg, noop.NewTracerProvider().Tracer("test"), session.NopMetrics{}, bus)
	require.NoError(t, err)

	t.Cleanup(func() {
		api.Close(context.Background())
	})

	return api, api.App()
}

func send(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	return port
}

func TestAPI_RootEndpoint(t *testing.T) {
	t.Parallel()

	_, app := setupTestAPI(t, nil)

	resp, body := send(t, app, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Pulse API", string(body))
}

func TestAPI_HealthEndpoints(t *testing.T) {
	t.Parallel()

	_, app := setupTestAPI(t, nil)

	for _, path := range []string{"/livez", "/readyz"} {
		resp, body := send(t, app, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "OK", string(body), path)
	}

	resp, body := send(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"healthy"`)
}

func TestAPI_ReadinessFailsWithoutStorage(t *testing.T) {
	t.Parallel()

	file := t.TempDir() + "/not-a-dir"
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	cfg := config.Default()
	cfg.DataDir = file

	api, err := NewAPI(testLogger(), cfg, noop.NewTracerProvider().Tracer("test"), session.NopMetrics{}, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		api.Close(context.Background())
	})

	resp, _ := send(t, api.App(), http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPI_WorkflowPublishesLifecycle(t *testing.T) {
	t.Parallel()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, app := setupTestAPI(t, bus)
	id := testutil.NewEntityID()

	resp, body := send(t, app, http.MethodPost, "/workflows/"+id, map[string]any{
		"phases": testutil.CreateTranscriptionPhases(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = send(t, app, http.MethodPost, "/workflows/"+id+"/phases/download/complete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result workflow.Result

	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, 16, result.Workflow.OverallProgress)
	assert.Equal(t, models.StatusInProgress, result.Workflow.Status)

	assert.Equal(t, []events.EventType{
		events.WorkflowInitializedEvent,
		events.WorkflowPhaseProgressedEvent,
	}, bus.PublishedTypes())
}

func TestAPI_CloseHibernatesActors(t *testing.T) {
	t.Parallel()

	api, app := setupTestAPI(t, nil)
	id := testutil.NewEntityID()

	resp, _ := send(t, app, http.MethodPost, "/tasks/"+id, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 1, api.tasks.Len())

	api.Close(context.Background())
	assert.Equal(t, 0, api.tasks.Len())
}

func TestAPI_StartStopsOnCancel(t *testing.T) {
	t.Parallel()

	api, _ := setupTestAPI(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- api.Start(ctx, freePort(t))
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}
}
