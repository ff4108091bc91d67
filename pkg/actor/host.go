// Package actor hosts per-entity actors. Each entity ID maps to at most one
// resident instance; operations on one ID run one at a time in arrival order
// while different IDs run in parallel. Idle instances are evicted and
// transparently rebuilt on the next call, and the sockets connected to an
// entity stay with the host across evictions.
package actor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Key is the deterministic identity of an entity inside a namespace.
type Key string

// KeyFor derives the key of id within namespace.
func KeyFor(namespace, id string) Key {
	sum := sha256.Sum256([]byte(namespace + ":" + id))

	return Key(hex.EncodeToString(sum[:]))
}

// Actor is the behaviour hosted per entity.
type Actor interface {
	// Start runs once, inside the gate, before the first operation of an
	// instance. sockets are the connections the host still holds for the key.
	Start(ctx context.Context, sockets []*Socket) error
	// Close releases resources when the instance is evicted.
	Close(ctx context.Context) error
}

// SocketHandler is implemented by actors that accept client connections.
type SocketHandler interface {
	Connect(ctx context.Context, socket *Socket) error
	Message(ctx context.Context, socket *Socket, data []byte) error
	Disconnect(ctx context.Context, socket *Socket) error
}

// Factory builds the actor for an entity.
type Factory[A Actor] func(ctx context.Context, id string, key Key) (A, error)

// AutoResponder answers a client frame without involving the actor. It
// returns false when the frame must be delivered to the actor.
type AutoResponder func(data []byte) ([]byte, bool)

// ErrNotSocketHandler is returned when a socket is routed to an actor that
// does not accept connections.
var ErrNotSocketHandler = errors.New("actor does not accept sockets")

type instance[A Actor] struct {
	gate       chan struct{}
	actor      A
	started    bool
	refs       int
	lastActive time.Time
}

// Host is the registry of actors of one namespace.
type Host[A Actor] struct {
	namespace     string
	factory       Factory[A]
	logger        *slog.Logger
	autoResponder AutoResponder
	now           func() time.Time

	mu        sync.Mutex
	instances map[Key]*instance[A]
	sockets   map[Key][]*Socket
}

// Option configures a Host.
type Option func(*options)

type options struct {
	autoResponder AutoResponder
	now           func() time.Time
}

// WithAutoResponder installs a responder consulted before a client frame is
// delivered to the actor.
func WithAutoResponder(responder AutoResponder) Option {
	return func(o *options) {
		o.autoResponder = responder
	}
}

// WithClock overrides the clock used for idle accounting.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// NewHost creates an empty host for namespace.
func NewHost[A Actor](logger *slog.Logger, namespace string, factory Factory[A], opts ...Option) *Host[A] {
	config := options{now: time.Now}
	for _, opt := range opts {
		opt(&config)
	}

	return &Host[A]{
		namespace:     namespace,
		factory:       factory,
		logger:        logger.With("module", "actor_host", "namespace", namespace),
		autoResponder: config.autoResponder,
		now:           config.now,
		instances:     make(map[Key]*instance[A]),
		sockets:       make(map[Key][]*Socket),
	}
}

// Namespace returns the namespace the host serves.
func (h *Host[A]) Namespace() string {
	return h.namespace
}

// Do runs fn against the actor owning id, exclusively. Callers queue in
// arrival order. ctx only bounds the wait for the gate.
func (h *Host[A]) Do(ctx context.Context, id string, fn func(ctx context.Context, actor A) error) error {
	key := KeyFor(h.namespace, id)
	inst := h.hold(key)

	defer h.release(inst)

	select {
	case inst.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	defer func() {
		<-inst.gate
	}()

	if !inst.started {
		err := h.start(ctx, id, key, inst)
		if err != nil {
			return err
		}
	}

	return fn(ctx, inst.actor)
}

func (h *Host[A]) hold(key Key) *instance[A] {
	h.mu.Lock()
	defer h.mu.Unlock()

	inst, ok := h.instances[key]
	if !ok {
		inst = &instance[A]{gate: make(chan struct{}, 1)}
		h.instances[key] = inst
	}

	inst.refs++

	return inst
}

func (h *Host[A]) release(inst *instance[A]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	inst.refs--
	inst.lastActive = h.now()
}

// start builds the actor and runs its startup gate. Failures leave the
// instance unstarted so the next caller retries.
func (h *Host[A]) start(ctx context.Context, id string, key Key, inst *instance[A]) error {
	actor, err := h.factory(ctx, id, key)
	if err != nil {
		return err
	}

	err = actor.Start(ctx, h.Sockets(id))
	if err != nil {
		closeErr := actor.Close(ctx)
		if closeErr != nil {
			h.logger.ErrorContext(ctx, "failed to close actor after start failure", "id", id, "error", closeErr)
		}

		return err
	}

	inst.actor = actor
	inst.started = true

	h.logger.DebugContext(ctx, "actor started", "id", id, "key", key)

	return nil
}

// Accept attaches conn to the entity id and hands it to the actor.
func (h *Host[A]) Accept(ctx context.Context, id string, conn Conn) (*Socket, error) {
	socket := NewSocket(conn)
	key := KeyFor(h.namespace, id)

	h.mu.Lock()
	h.sockets[key] = append(h.sockets[key], socket)
	h.mu.Unlock()

	err := h.Do(ctx, id, func(ctx context.Context, actor A) error {
		handler, ok := any(actor).(SocketHandler)
		if !ok {
			return ErrNotSocketHandler
		}

		return handler.Connect(ctx, socket)
	})
	if err != nil {
		h.forget(key, socket)

		return nil, err
	}

	return socket, nil
}

// Receive delivers a client frame. Frames the auto-responder answers never
// reach the actor, do not wake it and do not refresh its idle clock.
func (h *Host[A]) Receive(ctx context.Context, id string, socket *Socket, data []byte) error {
	if h.autoResponder != nil {
		if response, ok := h.autoResponder(data); ok {
			return socket.Send(response)
		}
	}

	return h.Do(ctx, id, func(ctx context.Context, actor A) error {
		handler, ok := any(actor).(SocketHandler)
		if !ok {
			return ErrNotSocketHandler
		}

		return handler.Message(ctx, socket, data)
	})
}

// Disconnect detaches socket from id. The actor is only told when resident.
func (h *Host[A]) Disconnect(ctx context.Context, id string, socket *Socket) error {
	key := KeyFor(h.namespace, id)
	h.forget(key, socket)

	if !h.Resident(id) {
		return nil
	}

	return h.Do(ctx, id, func(ctx context.Context, actor A) error {
		handler, ok := any(actor).(SocketHandler)
		if !ok {
			return nil
		}

		return handler.Disconnect(ctx, socket)
	})
}

func (h *Host[A]) forget(key Key, socket *Socket) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sockets := slices.DeleteFunc(h.sockets[key], func(s *Socket) bool {
		return s == socket
	})

	if len(sockets) == 0 {
		delete(h.sockets, key)

		return
	}

	h.sockets[key] = sockets
}

// Sockets returns the connections held for id in connection order.
func (h *Host[A]) Sockets(id string) []*Socket {
	key := KeyFor(h.namespace, id)

	h.mu.Lock()
	defer h.mu.Unlock()

	return slices.Clone(h.sockets[key])
}

// Resident reports whether an instance of id is in memory.
func (h *Host[A]) Resident(id string) bool {
	key := KeyFor(h.namespace, id)

	h.mu.Lock()
	defer h.mu.Unlock()

	inst, ok := h.instances[key]

	return ok && inst.started
}

// Len is the number of resident instances.
func (h *Host[A]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.instances)
}

// Hibernate evicts the instance of id if nothing holds or awaits it.
func (h *Host[A]) Hibernate(ctx context.Context, id string) bool {
	key := KeyFor(h.namespace, id)

	h.mu.Lock()

	inst, ok := h.instances[key]
	if !ok || inst.refs > 0 {
		h.mu.Unlock()

		return false
	}

	delete(h.instances, key)
	h.mu.Unlock()

	h.shutdown(ctx, key, inst)

	return true
}

// EvictIdle evicts every instance idle for at least maxIdle and returns how
// many were evicted.
func (h *Host[A]) EvictIdle(ctx context.Context, maxIdle time.Duration) int {
	now := h.now()
	evicted := make(map[Key]*instance[A])

	h.mu.Lock()

	for key, inst := range h.instances {
		if inst.refs == 0 && now.Sub(inst.lastActive) >= maxIdle {
			evicted[key] = inst
			delete(h.instances, key)
		}
	}

	h.mu.Unlock()

	for key, inst := range evicted {
		h.shutdown(ctx, key, inst)
	}

	return len(evicted)
}

func (h *Host[A]) shutdown(ctx context.Context, key Key, inst *instance[A]) {
	if !inst.started {
		return
	}

	err := inst.actor.Close(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to close evicted actor", "key", key, "error", err)

		return
	}

	h.logger.DebugContext(ctx, "actor evicted", "key", key)
}

// Close evicts every instance and closes every socket.
func (h *Host[A]) Close(ctx context.Context) {
	h.mu.Lock()
	instances := h.instances
	sockets := h.sockets
	h.instances = make(map[Key]*instance[A])
	h.sockets = make(map[Key][]*Socket)
	h.mu.Unlock()

	for key, inst := range instances {
		h.shutdown(ctx, key, inst)
	}

	for _, group := range sockets {
		for _, socket := range group {
			_ = socket.Close()
		}
	}
}
