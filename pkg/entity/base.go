// Package entity holds what task and workflow actors share: the lazily opened
// per-entity store, the session registry, the client protocol, tracing and
// lifecycle publishing.
package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dukex/pulse/pkg/actor"
	"github.com/dukex/pulse/pkg/eventbus"
	"github.com/dukex/pulse/pkg/events"
	"github.com/dukex/pulse/pkg/models"
	"github.com/dukex/pulse/pkg/otelhelper"
	"github.com/dukex/pulse/pkg/persistence"
	"github.com/dukex/pulse/pkg/persistence/sqlite"
	"github.com/dukex/pulse/pkg/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrInvalidProgress is returned for progress values outside 0..100.
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")

	// ErrInvalidHistoryType is returned when a caller logs an unknown history type.
	ErrInvalidHistoryType = errors.New("unknown history type")
)

// Deps are the collaborators shared by every actor of a kind.
type Deps struct {
	DataDir   string
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Metrics   session.Metrics
	Publisher eventbus.EventPublisher
	Now       func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	if d.Tracer == nil {
		d.Tracer = otelhelper.NoopTracer()
	}

	if d.Metrics == nil {
		d.Metrics = session.NopMetrics{}
	}

	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}

	return d
}

// Base is embedded by concrete actors.
type Base struct {
	ID        string
	Key       actor.Key
	Namespace string
	Sessions  *session.Registry

	logger     *slog.Logger
	tracer     trace.Tracer
	publisher  eventbus.EventPublisher
	now        func() time.Time
	path       string
	migrations map[int]string
	store      *sqlite.Store
}

// NewBase creates the shared state of the actor owning id.
func NewBase(namespace, id string, key actor.Key, migrations map[int]string, deps Deps) *Base {
	deps = deps.withDefaults()
	logger := deps.Logger.With("module", namespace+"_actor", "entity_id", id)

	return &Base{
		ID:         id,
		Key:        key,
		Namespace:  namespace,
		Sessions:   session.NewRegistry(logger, namespace, deps.Metrics),
		logger:     logger,
		tracer:     deps.Tracer,
		publisher:  deps.Publisher,
		now:        deps.Now,
		path:       sqlite.Path(deps.DataDir, namespace, string(key)),
		migrations: migrations,
	}
}

// Logger returns the actor logger.
func (b *Base) Logger() *slog.Logger {
	return b.logger
}

// Now is the current UTC time.
func (b *Base) Now() time.Time {
	return b.now()
}

// Start runs migrations and rehydrates sessions before the first operation.
// An entity without a database stays without one. A store that cannot be
// opened is retried lazily by the next operation so connected observers keep
// working.
func (b *Base) Start(ctx context.Context, sockets []*actor.Socket) error {
	_, err := b.Store(ctx)
	if err != nil && !persistence.IsNotInitialized(err) {
		b.logger.WarnContext(ctx, "store unavailable at startup", "error", err)
	}

	b.Sessions.Rehydrate(ctx, sockets)

	return nil
}

// Close releases the store handle.
func (b *Base) Close(context.Context) error {
	if b.store == nil {
		return nil
	}

	err := b.store.Close()
	b.store = nil

	return err
}

// Store returns the entity database, opening it on first use. It never
// creates one: an entity that was never initialized yields ErrNotInitialized.
func (b *Base) Store(ctx context.Context) (*sqlite.Store, error) {
	if b.store != nil {
		return b.store, nil
	}

	store, err := sqlite.OpenExisting(ctx, b.logger, b.path, b.migrations)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.ErrNotInitialized
	}

	if err != nil {
		return nil, err
	}

	b.store = store

	return store, nil
}

// Create opens the entity database, creating it when missing. Only
// initialization calls it.
func (b *Base) Create(ctx context.Context) (*sqlite.Store, error) {
	if b.store != nil {
		return b.store, nil
	}

	store, err := sqlite.Open(ctx, b.logger, b.path, b.migrations)
	if err != nil {
		return nil, err
	}

	b.store = store

	return store, nil
}

// Destroy erases the entity database. It reports false when there was
// nothing to erase.
func (b *Base) Destroy(ctx context.Context) (bool, error) {
	store, err := b.Store(ctx)
	if persistence.IsNotInitialized(err) {
		return false, nil
	}

	if err != nil {
		return false, persistence.NewStorageError("Delete", b.ID, err)
	}

	b.store = nil

	err = store.Destroy()
	if err != nil {
		return false, persistence.NewStorageError("Delete", b.ID, err)
	}

	return true, nil
}

// Read runs fn against the store outside a transaction.
func (b *Base) Read(ctx context.Context, op string, fn func(q sqlite.Querier) error) error {
	store, err := b.Store(ctx)
	if err != nil {
		return b.wrap(op, err)
	}

	return b.wrap(op, fn(store.DB()))
}

// Mutate runs fn inside one transaction. Nothing commits unless fn succeeds.
func (b *Base) Mutate(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	store, err := b.Store(ctx)
	if err != nil {
		return b.wrap(op, err)
	}

	return b.wrap(op, store.InTx(ctx, fn))
}

func (b *Base) wrap(op string, err error) error {
	if err == nil {
		return nil
	}

	if isDomainError(err) {
		return err
	}

	return persistence.NewStorageError(op, b.ID, err)
}

func isDomainError(err error) bool {
	return persistence.IsNotInitialized(err) ||
		persistence.IsPhaseNotFound(err) ||
		errors.Is(err, ErrInvalidProgress) ||
		errors.Is(err, ErrInvalidHistoryType)
}

// IsInvalidInput reports whether err was caused by a bad argument rather
// than by the store.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidProgress) || errors.Is(err, ErrInvalidHistoryType)
}

// HistoryType defaults an empty type to log and rejects unknown ones.
func HistoryType(kind models.HistoryType) (models.HistoryType, error) {
	if kind == "" {
		return models.HistoryLog, nil
	}

	if !kind.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidHistoryType, kind)
	}

	return kind, nil
}

// ValidateProgress rejects values outside 0..100.
func ValidateProgress(progress int) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidProgress, progress)
	}

	return nil
}

// StartSpan opens a span for op tagged with the entity identity.
//
// nolint:spancheck // Callers end the span.
func (b *Base) StartSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String(otelhelper.EntityIDKey, b.ID),
		attribute.String(otelhelper.EntityKindKey, b.Namespace),
		attribute.String(otelhelper.EntityKeyKey, string(b.Key)),
		attribute.String(otelhelper.OperationKey, op),
	)

	return otelhelper.StartSpan(ctx, b.tracer, b.Namespace+"."+op, attrs...)
}

// Fail records err on span and returns it.
func Fail(span trace.Span, err error) error {
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

// Broadcast fans message out to every connected session.
func (b *Base) Broadcast(ctx context.Context, message any) {
	b.Sessions.Broadcast(ctx, message)
}

// Publish sends a lifecycle event to the bus. Failures are logged only.
func (b *Base) Publish(ctx context.Context, event eventbus.Event) {
	if b.publisher == nil {
		return
	}

	err := b.publisher.Publish(ctx, b.ID, event)
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to publish lifecycle event", "event_type", event.GetType(), "error", err)
	}
}

// Connect opens a session for a newly accepted socket.
func (b *Base) Connect(ctx context.Context, socket *actor.Socket) error {
	registered, err := b.Sessions.Register(ctx, socket)
	if err != nil {
		return err
	}

	b.logger.InfoContext(ctx, "observer connected", "session_id", registered.ID, "sessions", b.Sessions.Len())

	return nil
}

// Message answers a client frame. Ping normally never gets here because the
// host answers it first.
func (b *Base) Message(ctx context.Context, socket *actor.Socket, data []byte) error {
	_, err := events.ParseClientMessage(data)
	if err != nil {
		return b.Sessions.Send(ctx, socket, events.NewErrorMessage(events.InvalidMessageFormat))
	}

	return b.Sessions.Send(ctx, socket, events.NewPong(b.now()))
}

// Disconnect closes the session of socket.
func (b *Base) Disconnect(ctx context.Context, socket *actor.Socket) error {
	if b.Sessions.Remove(ctx, socket) {
		b.logger.InfoContext(ctx, "observer disconnected", "socket_id", socket.ID(), "sessions", b.Sessions.Len())
	}

	return nil
}
