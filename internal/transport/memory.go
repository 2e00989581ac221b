package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/danmuck/sockframe/internal/protocol/frame"
)

// Memory is an in-process Provider built on net.Pipe. Handy for tests and
// single-process demos without sockets. Writes are synchronous: WriteMessage
// blocks until the other end has read the frame.
type Memory struct {
	MaxFrameBytes int

	mu        sync.Mutex
	listeners map[string]*memListener
}

func NewMemory() *Memory {
	return &Memory{listeners: make(map[string]*memListener)}
}

func (m *Memory) Listen(addr string) (Listener, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listeners == nil {
		m.listeners = make(map[string]*memListener)
	}
	if _, ok := m.listeners[addr]; ok {
		return nil, fmt.Errorf("%w: %q", ErrAddressInUse, addr)
	}
	l := &memListener{
		addr:    addr,
		owner:   m,
		streams: make(chan Stream, 16),
		done:    make(chan struct{}),
	}
	m.listeners[addr] = l
	return l, nil
}

func (m *Memory) Dial(ctx context.Context, addr string) (Stream, error) {
	m.mu.Lock()
	l, ok := m.listeners[addr]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAddress, addr)
	}
	local, remote := net.Pipe()
	server := NewStream(remote, FramingLengthPrefixed, m.maxFrame())
	select {
	case l.streams <- server:
		return NewStream(local, FramingLengthPrefixed, m.maxFrame()), nil
	case <-l.done:
		_ = local.Close()
		_ = remote.Close()
		return nil, fmt.Errorf("%w: %q", ErrUnknownAddress, addr)
	case <-ctx.Done():
		_ = local.Close()
		_ = remote.Close()
		return nil, ctx.Err()
	}
}

func (m *Memory) maxFrame() int {
	if m.MaxFrameBytes <= 0 {
		return frame.DefaultMaxFrameBytes
	}
	return m.MaxFrameBytes
}

func (m *Memory) remove(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, addr)
}

type memListener struct {
	addr    string
	owner   *Memory
	streams chan Stream
	done    chan struct{}
	once    sync.Once
}

func (l *memListener) Accept() (Stream, error) {
	select {
	case s := <-l.streams:
		return s, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *memListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.owner.remove(l.addr)
	})
	return nil
}

func (l *memListener) Addr() string { return l.addr }
