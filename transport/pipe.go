package transport

import (
	"io"
	"sync"
)

// Memory is one end of an in-process transport pair.
type Memory struct {
	*hub
	peer  *Memory
	mu    sync.Mutex
	queue [][]byte
	ready chan struct{}
}

// Pipe returns two connected in-memory transports. Closing either end closes
// both; the far end observes io.EOF.
func Pipe() (*Memory, *Memory) {
	a, b := newMemory(), newMemory()
	a.peer, b.peer = b, a
	return a, b
}

func newMemory() *Memory {
	m := &Memory{ready: make(chan struct{}, 1)}
	m.hub = newHub(m.readLoop)
	return m
}

func (m *Memory) Send(frame []byte) {
	if m.isClosed() {
		return
	}
	m.peer.enqueue(append([]byte(nil), frame...))
}

func (m *Memory) Close() error {
	m.shutdown(nil)
	m.peer.shutdown(io.EOF)
	return nil
}

func (m *Memory) enqueue(frame []byte) {
	m.mu.Lock()
	m.queue = append(m.queue, frame)
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *Memory) readLoop() {
	for {
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		m.mu.Unlock()
		for _, frame := range batch {
			if m.isClosed() {
				return
			}
			m.deliver(frame)
		}
		select {
		case <-m.ready:
		case <-m.done:
			return
		}
	}
}
