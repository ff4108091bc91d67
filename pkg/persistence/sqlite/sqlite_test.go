package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/pulse/pkg/models"
	"github.com/dukex/pulse/pkg/persistence/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, migrations map[int]string) *sqlite.Store {
	t.Helper()

	path := sqlite.Path(t.TempDir(), "tasks", "abc123")

	store, err := sqlite.Open(context.Background(), testLogger(), path, migrations)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func ptr[T any](v T) *T {
	return &v
}

func TestPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("/data", "workflows", "k.db"), sqlite.Path("/data", "workflows", "k"))
}

func TestOpen_RunsMigrations(t *testing.T) {
	t.Parallel()

	store := openStore(t, sqlite.WorkflowMigrations())

	var version int

	err := store.DB().QueryRowContext(context.Background(), "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	_, err = os.Stat(store.Path())
	assert.NoError(t, err)
}

func TestTaskRepository_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t, sqlite.TaskMigrations())
	repo := sqlite.NewTaskRepository(store.DB())

	missing, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, missing)

	now := time.Now().UTC()
	task := &models.Task{
		ID:        "task-1",
		Status:    models.StatusPending,
		Metadata:  `{"origin":"test"}`,
		CreatedAt: now,
		UpdatedAt: now,
	}

	require.NoError(t, repo.Insert(ctx, task))

	loaded, err := repo.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "task-1", loaded.ID)
	assert.Equal(t, models.StatusPending, loaded.Status)
	assert.Equal(t, models.Metadata(`{"origin":"test"}`), loaded.Metadata)
	assert.WithinDuration(t, now, loaded.CreatedAt, time.Millisecond)
	assert.Nil(t, loaded.CompletedAt)

	loaded.Progress = 100
	loaded.Terminate(models.StatusSuccess, now.Add(time.Second))
	require.NoError(t, repo.Update(ctx, loaded))

	updated, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, updated.Progress)
	assert.Equal(t, models.StatusSuccess, updated.Status)
	require.NotNil(t, updated.CompletedAt)
	assert.WithinDuration(t, now.Add(time.Second), *updated.CompletedAt, time.Millisecond)
	assert.Nil(t, updated.FailedAt)
}

func TestTaskRepository_SingletonRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t, sqlite.TaskMigrations())
	repo := sqlite.NewTaskRepository(store.DB())

	now := time.Now().UTC()

	require.NoError(t, repo.Insert(ctx, &models.Task{ID: "a", Status: models.StatusPending, CreatedAt: now, UpdatedAt: now}))
	assert.Error(t, repo.Insert(ctx, &models.Task{ID: "b", Status: models.StatusPending, CreatedAt: now, UpdatedAt: now}))
}

func TestTaskRepository_UpdateMissingRow(t *testing.T) {
	t.Parallel()

	store := openStore(t, sqlite.TaskMigrations())

	err := sqlite.NewTaskRepository(store.DB()).Update(context.Background(), &models.Task{Status: models.StatusPending})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestHistoryRepository_RecentKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t, sqlite.TaskMigrations())
	repo := sqlite.NewHistoryRepository(store.DB())

	now := time.Now().UTC()

	for i := range 7 {
		event := &models.HistoryEvent{
			EntityID:  "task-1",
			Type:      models.HistoryProgress,
			Message:   "step",
			Progress:  ptr(i * 10),
			Timestamp: now,
		}

		require.NoError(t, repo.Append(ctx, event))
		assert.Equal(t, int64(i+1), event.ID)
	}

	recent, err := repo.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, []int64{5, 6, 7}, []int64{recent[0].ID, recent[1].ID, recent[2].ID})
	assert.Equal(t, 60, *recent[2].Progress)
	assert.Nil(t, recent[0].PhaseKey)

	all, err := repo.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 7)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestHistoryRepository_RejectsUnknownType(t *testing.T) {
	t.Parallel()

	store := openStore(t, sqlite.TaskMigrations())

	err := sqlite.NewHistoryRepository(store.DB()).Append(context.Background(), &models.HistoryEvent{
		EntityID:  "task-1",
		Type:      "bogus",
		Timestamp: time.Now().UTC(),
	})
	assert.Error(t, err)
}

func TestPhaseRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t, sqlite.WorkflowMigrations())
	repo := sqlite.NewPhaseRepository(store.DB())

	now := time.Now().UTC()
	phases := models.BuildPhases([]models.PhaseDefinition{
		{Key: "transcription", Weight: 0.4, Status: models.StatusInProgress},
		{Key: "download", Weight: 0.4, ParentPhaseKey: ptr("transcription")},
		{Key: "orphan", Weight: 1, ParentPhaseKey: ptr("nowhere")},
	}, now)

	for i := range phases {
		require.NoError(t, repo.Insert(ctx, &phases[i]))
	}

	listed, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "transcription", listed[0].Key)
	assert.NotNil(t, listed[0].StartedAt)
	assert.Equal(t, 1, listed[1].Depth)
	assert.Equal(t, "nowhere", *listed[2].ParentPhaseKey)

	download, err := repo.Get(ctx, "download")
	require.NoError(t, err)
	require.NotNil(t, download)

	download.ApplyProgress(100, now.Add(time.Second))
	require.NoError(t, repo.Update(ctx, download))

	reloaded, err := repo.Get(ctx, "download")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, reloaded.Status)
	assert.NotNil(t, reloaded.CompletedAt)

	missing, err := repo.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestWorkflowRepository_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t, sqlite.WorkflowMigrations())
	repo := sqlite.NewWorkflowRepository(store.DB())

	now := time.Now().UTC()
	workflow := &models.Workflow{
		ID:                 "wf-1",
		Status:             models.StatusPending,
		ExpectedPhaseCount: 2,
		ActivePhaseKey:     ptr("a"),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	require.NoError(t, repo.Insert(ctx, workflow))

	workflow.OverallProgress = 40
	workflow.CompletedPhaseCount = 1
	workflow.ActivePhaseKey = nil
	workflow.Terminate(models.StatusCanceled, now)
	require.NoError(t, repo.Update(ctx, workflow))

	loaded, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, loaded.OverallProgress)
	assert.Equal(t, 2, loaded.ExpectedPhaseCount)
	assert.Equal(t, 1, loaded.CompletedPhaseCount)
	assert.Nil(t, loaded.ActivePhaseKey)
	assert.Equal(t, models.StatusCanceled, loaded.Status)
	assert.NotNil(t, loaded.CanceledAt)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t, sqlite.TaskMigrations())
	failure := errors.New("boom")

	err := store.InTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		err := sqlite.NewTaskRepository(tx).Insert(ctx, &models.Task{ID: "t", Status: models.StatusPending, CreatedAt: now, UpdatedAt: now})
		require.NoError(t, err)

		return failure
	})
	require.ErrorIs(t, err, failure)

	task, err := sqlite.NewTaskRepository(store.DB()).Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestDestroy_RemovesFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := sqlite.Path(t.TempDir(), "tasks", "doomed")

	store, err := sqlite.Open(ctx, testLogger(), path, sqlite.TaskMigrations())
	require.NoError(t, err)

	require.NoError(t, sqlite.NewHistoryRepository(store.DB()).Append(ctx, &models.HistoryEvent{
		EntityID:  "doomed",
		Type:      models.HistoryLog,
		Message:   "hello",
		Timestamp: time.Now().UTC(),
	}))

	require.NoError(t, store.Destroy())

	for _, suffix := range []string{"", "-wal", "-shm"} {
		_, err := os.Stat(path + suffix)
		assert.True(t, os.IsNotExist(err), "expected %s to be removed", path+suffix)
	}

	reopened, err := sqlite.Open(ctx, testLogger(), path, sqlite.TaskMigrations())
	require.NoError(t, err)

	defer func() {
		_ = reopened.Close()
	}()

	count, err := sqlite.NewHistoryRepository(reopened.DB()).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOpenExisting_DoesNotCreate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	path := sqlite.Path(dir, "tasks", "ghost")

	_, err := sqlite.OpenExisting(ctx, testLogger(), path, sqlite.TaskMigrations())
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = os.Stat(filepath.Dir(path))
	assert.True(t, os.IsNotExist(err))

	created, err := sqlite.Open(ctx, testLogger(), path, sqlite.TaskMigrations())
	require.NoError(t, err)
	require.NoError(t, created.Close())

	existing, err := sqlite.OpenExisting(ctx, testLogger(), path, sqlite.TaskMigrations())
	require.NoError(t, err)
	assert.NoError(t, existing.Close())
}
