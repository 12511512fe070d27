package websock

import (
	"sync"

	"github.com/google/uuid"
)

// Manager is an optional registry of the live connections created by
// a Resource. Connections register themselves at attach time and drop
// out when their transport is released. The core protocol never shares
// state across connections; the Manager exists for hosts that need to
// enumerate or broadcast.
type Manager struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*Conn

	// OnDisconnect runs after a connection is unregistered.
	OnDisconnect func(conn *Conn)
}

func NewManager() *Manager {
	return &Manager{
		conns: make(map[uuid.UUID]*Conn),
	}
}

func (m *Manager) register(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn.ID()] = conn
}

func (m *Manager) unregister(id uuid.UUID) {
	m.mu.Lock()
	conn, ok := m.conns[id]
	delete(m.conns, id)
	m.mu.Unlock()

	if ok && m.OnDisconnect != nil {
		m.OnDisconnect(conn)
	}
}

// Get returns the registered connection with the given id, if any.
func (m *Manager) Get(id uuid.UUID) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[id]
	return conn, ok
}

// Len reports the number of live connections.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Broadcast sends one final frame to every live connection. Write
// failures are skipped; a failing connection is already on its way
// down and will unregister itself.
func (m *Manager) Broadcast(opcode Opcode, payload []byte) {
	m.mu.RLock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.SendFrame(opcode, payload, true)
	}
}

// CloseAll closes every live connection.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		conn.LoseConnection()
	}
}
