package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/sockframe/internal/protocol/frame"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const wsCloseGrace = time.Second

// WebSocket is a Provider carrying one frame per binary websocket message.
type WebSocket struct {
	Path             string
	MaxFrameBytes    int
	HandshakeTimeout time.Duration
}

func (w *WebSocket) Listen(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	wl := &wsListener{
		ln:       ln,
		maxFrame: w.maxFrame(),
		streams:  make(chan Stream, 16),
		done:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: w.HandshakeTimeout,
			ReadBufferSize:   w.maxFrame(),
			WriteBufferSize:  w.maxFrame(),
			// Peers are trusted LAN clients, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(w.path(), wl.upgrade)
	wl.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := wl.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("addr", ln.Addr().String()).Msg("transport.WebSocket serve stopped")
		}
	}()
	return wl, nil
}

func (w *WebSocket) Dial(ctx context.Context, addr string) (Stream, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: w.HandshakeTimeout,
		ReadBufferSize:   w.maxFrame(),
		WriteBufferSize:  w.maxFrame(),
	}
	conn, resp, err := dialer.DialContext(ctx, "ws://"+addr+w.path(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newWSStream(conn, w.maxFrame()), nil
}

func (w *WebSocket) path() string {
	if w.Path == "" {
		return "/sock"
	}
	return w.Path
}

func (w *WebSocket) maxFrame() int {
	if w.MaxFrameBytes <= 0 {
		return frame.DefaultMaxFrameBytes
	}
	return w.MaxFrameBytes
}

type wsListener struct {
	ln       net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader
	maxFrame int

	streams   chan Stream
	done      chan struct{}
	closeOnce sync.Once
}

func (l *wsListener) upgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("transport.WebSocket upgrade failed")
		return
	}
	s := newWSStream(conn, l.maxFrame)
	select {
	case l.streams <- s:
	case <-l.done:
		_ = s.Close()
	}
}

func (l *wsListener) Accept() (Stream, error) {
	select {
	case s := <-l.streams:
		return s, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *wsListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}

func (l *wsListener) Addr() string { return l.ln.Addr().String() }

type wsStream struct {
	conn     *websocket.Conn
	maxFrame int

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSStream(conn *websocket.Conn, maxFrame int) *wsStream {
	conn.SetReadLimit(int64(maxFrame))
	return &wsStream{conn: conn, maxFrame: maxFrame}
}

func (s *wsStream) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.BinaryMessage || mt == websocket.TextMessage {
			return data, nil
		}
	}
}

func (s *wsStream) WriteMessage(b []byte) error {
	if len(b) > s.maxFrame {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(b), s.maxFrame)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		// WriteControl may run concurrently with WriteMessage.
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsCloseGrace),
		)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *wsStream) RemoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
