package actor

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrSocketClosed is returned when sending on a closed socket.
var ErrSocketClosed = errors.New("socket closed")

// Conn is the transport behind a socket. Implementations need not be safe for
// concurrent writes; Socket serializes them.
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

// Socket is a long-lived client connection held by the host. Its attachment
// outlives any actor instance, which is how sessions survive hibernation.
type Socket struct {
	id   string
	conn Conn

	mu         sync.Mutex
	closed     bool
	attachment []byte
}

// NewSocket wraps conn with a fresh socket ID.
func NewSocket(conn Conn) *Socket {
	return &Socket{
		id:   uuid.NewString(),
		conn: conn,
	}
}

// ID identifies the socket for the lifetime of the connection.
func (s *Socket) ID() string {
	return s.id
}

// Send writes one text frame.
func (s *Socket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSocketClosed
	}

	err := s.conn.WriteMessage(data)
	if err != nil {
		return fmt.Errorf("failed to write to socket %s: %w", s.id, err)
	}

	return nil
}

// Close closes the underlying connection once.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	return s.conn.Close()
}

// Closed reports whether Close was called.
func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// SerializeAttachment stores v as JSON on the socket.
func (s *Socket) SerializeAttachment(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize attachment: %w", err)
	}

	s.mu.Lock()
	s.attachment = data
	s.mu.Unlock()

	return nil
}

// DeserializeAttachment decodes the stored attachment into v. It reports
// false when nothing was attached.
func (s *Socket) DeserializeAttachment(v any) (bool, error) {
	s.mu.Lock()
	data := s.attachment
	s.mu.Unlock()

	if data == nil {
		return false, nil
	}

	err := json.Unmarshal(data, v)
	if err != nil {
		return false, fmt.Errorf("failed to deserialize attachment: %w", err)
	}

	return true, nil
}
