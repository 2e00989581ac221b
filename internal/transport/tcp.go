package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/sockframe/internal/protocol/frame"
)

// Framing selects how frames are delimited on a byte stream.
type Framing int

const (
	// FramingLengthPrefixed carries each frame as [u32 big-endian len][frame].
	FramingLengthPrefixed Framing = iota
	// FramingRaw treats one read as one frame. Coalesced or split frames are
	// not recovered; kept for peers that speak the unprefixed format.
	FramingRaw
)

func (f Framing) String() string {
	switch f {
	case FramingLengthPrefixed:
		return "length-prefixed"
	case FramingRaw:
		return "raw"
	default:
		return fmt.Sprintf("framing(%d)", int(f))
	}
}

const lengthPrefixBytes = 4

// TCP is a Provider over plain TCP sockets.
type TCP struct {
	Framing       Framing
	MaxFrameBytes int
	DialTimeout   time.Duration
}

func (t *TCP) Listen(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpListener{ln: ln, framing: t.Framing, maxFrame: t.maxFrame()}, nil
}

func (t *TCP) Dial(ctx context.Context, addr string) (Stream, error) {
	dialer := net.Dialer{Timeout: t.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewStream(conn, t.Framing, t.maxFrame()), nil
}

func (t *TCP) maxFrame() int {
	if t.MaxFrameBytes <= 0 {
		return frame.DefaultMaxFrameBytes
	}
	return t.MaxFrameBytes
}

type tcpListener struct {
	ln       net.Listener
	framing  Framing
	maxFrame int
}

func (l *tcpListener) Accept() (Stream, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewStream(conn, l.framing, l.maxFrame), nil
}

func (l *tcpListener) Close() error { return l.ln.Close() }
func (l *tcpListener) Addr() string { return l.ln.Addr().String() }

// connStream adapts a net.Conn to Stream.
type connStream struct {
	conn     net.Conn
	reader   *bufio.Reader
	framing  Framing
	maxFrame int

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps conn with the given framing and per-frame size limit.
func NewStream(conn net.Conn, framing Framing, maxFrame int) Stream {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	if maxFrame <= 0 {
		maxFrame = frame.DefaultMaxFrameBytes
	}
	return &connStream{
		conn:     conn,
		reader:   bufio.NewReaderSize(conn, maxFrame+lengthPrefixBytes),
		framing:  framing,
		maxFrame: maxFrame,
	}
}

func (s *connStream) ReadMessage() ([]byte, error) {
	if s.framing == FramingRaw {
		buf := make([]byte, s.maxFrame)
		n, err := s.reader.Read(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}

	var prefix [lengthPrefixBytes]byte
	if _, err := io.ReadFull(s.reader, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if uint64(n) > uint64(s.maxFrame) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, s.maxFrame)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *connStream) WriteMessage(b []byte) error {
	if len(b) > s.maxFrame {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(b), s.maxFrame)
	}
	out := b
	if s.framing == FramingLengthPrefixed {
		out = make([]byte, lengthPrefixBytes+len(b))
		binary.BigEndian.PutUint32(out[:lengthPrefixBytes], uint32(len(b)))
		copy(out[lengthPrefixBytes:], b)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(out)
	return err
}

func (s *connStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *connStream) RemoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
