// Package session tracks the observers connected to one entity and fans
// events out to them. A registry belongs to a single actor instance and is
// only used from inside that actor's gate, so it carries no locking.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/pulse/pkg/actor"
	"github.com/google/uuid"
)

// Session is the identity of one connected observer. It is kept as the
// socket attachment, never in the entity store.
type Session struct {
	ID           string    `json:"sessionId"`
	SubscribedAt time.Time `json:"subscribedAt"`
}

// Metrics observes session churn and broadcast fan-out.
type Metrics interface {
	SessionOpened(ctx context.Context, namespace string)
	SessionClosed(ctx context.Context, namespace string)
	Broadcast(ctx context.Context, namespace string, delivered int)
	SendFailed(ctx context.Context, namespace string)
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

func (NopMetrics) SessionOpened(context.Context, string)  {}
func (NopMetrics) SessionClosed(context.Context, string)  {}
func (NopMetrics) Broadcast(context.Context, string, int) {}
func (NopMetrics) SendFailed(context.Context, string)     {}

type entry struct {
	session Session
	socket  *actor.Socket
}

// Registry maps connected sockets to their sessions in subscription order.
type Registry struct {
	logger    *slog.Logger
	namespace string
	metrics   Metrics
	now       func() time.Time
	entries   []entry
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, namespace string, metrics Metrics) *Registry {
	if metrics == nil {
		metrics = NopMetrics{}
	}

	return &Registry{
		logger:    logger.With("module", "session_registry"),
		namespace: namespace,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register opens a session for socket and stores it on the socket attachment.
func (r *Registry) Register(ctx context.Context, socket *actor.Socket) (Session, error) {
	session := Session{
		ID:           uuid.NewString(),
		SubscribedAt: r.now(),
	}

	err := socket.SerializeAttachment(session)
	if err != nil {
		return Session{}, fmt.Errorf("failed to attach session: %w", err)
	}

	r.entries = append(r.entries, entry{session: session, socket: socket})
	r.metrics.SessionOpened(ctx, r.namespace)

	r.logger.DebugContext(ctx, "session registered", "session_id", session.ID, "sessions", len(r.entries))

	return session, nil
}

// Rehydrate rebuilds the registry from the attachments of sockets that are
// still connected. Sockets without a readable session are skipped.
func (r *Registry) Rehydrate(ctx context.Context, sockets []*actor.Socket) int {
	r.entries = r.entries[:0]

	for _, socket := range sockets {
		if socket.Closed() {
			continue
		}

		var session Session

		ok, err := socket.DeserializeAttachment(&session)
		if err != nil {
			r.logger.WarnContext(ctx, "skipping socket with unreadable session", "socket_id", socket.ID(), "error", err)

			continue
		}

		if !ok || session.ID == "" {
			continue
		}

		r.entries = append(r.entries, entry{session: session, socket: socket})
	}

	if len(r.entries) > 0 {
		r.logger.DebugContext(ctx, "sessions rehydrated", "sessions", len(r.entries))
	}

	return len(r.entries)
}

// Remove forgets socket. It reports whether a session was removed.
func (r *Registry) Remove(ctx context.Context, socket *actor.Socket) bool {
	before := len(r.entries)

	r.entries = slices.DeleteFunc(r.entries, func(e entry) bool {
		return e.socket == socket
	})

	if len(r.entries) == before {
		return false
	}

	r.metrics.SessionClosed(ctx, r.namespace)

	return true
}

// Lookup returns the session of socket.
func (r *Registry) Lookup(socket *actor.Socket) (Session, bool) {
	for _, e := range r.entries {
		if e.socket == socket {
			return e.session, true
		}
	}

	return Session{}, false
}

// Len is the number of open sessions.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Send delivers one message to a single socket.
func (r *Registry) Send(ctx context.Context, socket *actor.Socket, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = socket.Send(data)
	if err != nil {
		r.drop(ctx, socket, err)

		return err
	}

	return nil
}

// Broadcast serializes event once and sends it to every session. A failed
// send removes that session and closes its socket; delivery to the others
// continues. Broadcast never fails the caller and returns the number of
// sessions that received the event.
func (r *Registry) Broadcast(ctx context.Context, event any) int {
	if len(r.entries) == 0 {
		return 0
	}

	data, err := json.Marshal(event)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to marshal broadcast event", "error", err)

		return 0
	}

	delivered := 0

	for _, e := range slices.Clone(r.entries) {
		err := e.socket.Send(data)
		if err != nil {
			r.drop(ctx, e.socket, err)

			continue
		}

		delivered++
	}

	r.metrics.Broadcast(ctx, r.namespace, delivered)

	return delivered
}

func (r *Registry) drop(ctx context.Context, socket *actor.Socket, cause error) {
	session, _ := r.Lookup(socket)

	r.logger.WarnContext(ctx, "dropping session after failed send",
		"session_id", session.ID,
		"socket_id", socket.ID(),
		"error", cause,
	)

	if r.Remove(ctx, socket) {
		r.metrics.SendFailed(ctx, r.namespace)
	}

	err := socket.Close()
	if err != nil {
		r.logger.WarnContext(ctx, "failed to close socket", "socket_id", socket.ID(), "error", err)
	}
}
