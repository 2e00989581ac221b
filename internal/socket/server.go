package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/sockframe/internal/observability"
	"github.com/danmuck/sockframe/internal/protocol/dispatch"
	"github.com/danmuck/sockframe/internal/protocol/frame"
	"github.com/danmuck/sockframe/internal/transport"
	"github.com/rs/zerolog"
)

const (
	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = time.Second
)

// Config describes one server endpoint.
type Config struct {
	Name      string
	Addr      string
	Transport string
	// Provider overrides Transport when set.
	Provider       transport.Provider
	MaxFrameBytes  int
	WSPath         string
	HeaderWidth    int
	MaxConnections int
	// AnnounceID sends PeerState{ID: tid} on code 0 to each accepted peer.
	AnnounceID bool
}

func DefaultConfig() Config {
	return Config{
		Name:          "server",
		Addr:          "127.0.0.1:1018",
		Transport:     transport.KindTCP,
		MaxFrameBytes: frame.DefaultMaxFrameBytes,
		WSPath:        "/sock",
		HeaderWidth:   frame.MinHeaderWidth,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Name) == "" {
		c.Name = def.Name
	}
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = def.Addr
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = def.MaxFrameBytes
	}
	if c.HeaderWidth == 0 {
		c.HeaderWidth = def.HeaderWidth
	}
	return c
}

// StateHandler observes a merged code 0 update from a peer.
type StateHandler func(tid int, st PeerState)

// Server accepts peers, assigns each a sequential tid and runs one receive
// loop per peer.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	registry *dispatch.Registry

	fallback     TextHandler
	onState      StateHandler
	onConnect    func(tid int)
	onDisconnect func(tid int)
	onError      ErrorHandler

	mu       sync.RWMutex
	conns    map[int]*Conn
	peers    map[int]PeerState
	nextID   int
	started  bool
	listener transport.Listener
	codec    frame.Codec

	running  atomic.Bool
	lastSend atomic.Int64
	stopOnce sync.Once
	done     chan struct{}
}

func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:   cfg,
		log:   observability.Component(cfg.Name),
		conns: make(map[int]*Conn),
		peers: make(map[int]PeerState),
		done:  make(chan struct{}),
	}
	s.registry = dispatch.NewRegistry(s.handleState)
	return s
}

// Handle binds code to h. Handlers must be registered before Start.
func (s *Server) Handle(code uint64, h dispatch.Handler) {
	s.registry.Register(code, h)
}

// HandleText sets the fallback for codes without a handler.
func (s *Server) HandleText(fn TextHandler) { s.fallback = fn }

func (s *Server) HandleState(fn StateHandler) { s.onState = fn }

func (s *Server) OnConnect(fn func(tid int)) { s.onConnect = fn }

func (s *Server) OnDisconnect(fn func(tid int)) { s.onDisconnect = fn }

func (s *Server) OnError(fn ErrorHandler) { s.onError = fn }

func (s *Server) Name() string { return s.cfg.Name }

// Start binds the listener and launches the accept loop. Cancelling ctx stops
// the server.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	codec, err := frame.NewCodec(s.cfg.HeaderWidth)
	if err != nil {
		return err
	}
	if maxCode := s.registry.MaxCode(); !codec.Fits(maxCode) {
		return fmt.Errorf("%w: registered code=%d width=%d", frame.ErrEncoding, maxCode, codec.Width())
	}
	provider, err := s.provider()
	if err != nil {
		return err
	}
	ln, err := provider.Listen(s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("%w: addr=%q: %w", ErrBind, s.cfg.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.codec = codec
	s.mu.Unlock()
	s.running.Store(true)

	s.log.Info().
		Str("addr", ln.Addr()).
		Str("transport", s.transportName()).
		Int("header_width", codec.Width()).
		Msg("socket.Server.Start listening")

	go s.acceptLoop(ln)
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.Stop()
			case <-s.done:
			}
		}()
	}
	return nil
}

func (s *Server) provider() (transport.Provider, error) {
	if s.cfg.Provider != nil {
		return s.cfg.Provider, nil
	}
	return transport.New(s.cfg.Transport, transport.Options{
		MaxFrameBytes: s.cfg.MaxFrameBytes,
		WSPath:        s.cfg.WSPath,
	})
}

func (s *Server) transportName() string {
	if s.cfg.Provider != nil {
		return fmt.Sprintf("%T", s.cfg.Provider)
	}
	if s.cfg.Transport == "" {
		return transport.KindTCP
	}
	return s.cfg.Transport
}

func (s *Server) acceptLoop(ln transport.Listener) {
	var backoff time.Duration
	for s.running.Load() {
		stream, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			backoff = nextBackoff(backoff)
			s.log.Warn().Err(err).Dur("backoff", backoff).Msg("socket.Server.acceptLoop accept failed")
			select {
			case <-time.After(backoff):
			case <-s.done:
				return
			}
			continue
		}
		backoff = 0
		s.admit(stream)
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	if cur <= 0 {
		return acceptBackoffMin
	}
	cur *= 2
	if cur > acceptBackoffMax {
		return acceptBackoffMax
	}
	return cur
}

func (s *Server) admit(stream transport.Stream) {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		_ = stream.Close()
		return
	}
	if s.cfg.MaxConnections > 0 && len(s.conns) >= s.cfg.MaxConnections {
		live := len(s.conns)
		s.mu.Unlock()
		s.log.Warn().
			Str("remote", stream.RemoteAddr()).
			Int("active", live).
			Int("max_connections", s.cfg.MaxConnections).
			Msg("socket.Server.admit refused, table full")
		_ = stream.Close()
		return
	}
	tid := s.nextID
	s.nextID++
	c := newConn(tid, stream, s.codec, s.cfg.Name)
	c.open()
	s.conns[tid] = c
	active := len(s.conns)
	s.mu.Unlock()

	observability.SetActiveConnections(s.cfg.Name, active)
	s.log.Info().Int("tid", tid).Str("remote", stream.RemoteAddr()).Int("active", active).Msg("socket.Server accepted")

	if s.cfg.AnnounceID {
		if err := s.SendStructured(tid, dispatch.CodeStructuredState, PeerState{ID: intPtr(tid)}); err != nil {
			s.log.Warn().Int("tid", tid).Err(err).Msg("socket.Server.admit announce id failed")
		}
	}
	go func() {
		c.serve(s.receiver())
		s.forget(c)
	}()
	if s.onConnect != nil {
		s.onConnect(tid)
	}
}

func (s *Server) receiver() receiver {
	return receiver{registry: s.registry, fallback: s.fallback, onError: s.onError, log: s.log}
}

func (s *Server) forget(c *Conn) {
	s.mu.Lock()
	if cur, ok := s.conns[c.id]; ok && cur == c {
		delete(s.conns, c.id)
		delete(s.peers, c.id)
	}
	active := len(s.conns)
	s.mu.Unlock()

	observability.SetActiveConnections(s.cfg.Name, active)
	observability.RecordConnectionClosed(s.cfg.Name, time.Since(c.opened))
	s.log.Info().Int("tid", c.id).Int("active", active).Msg("socket.Server disconnected")
	if s.onDisconnect != nil {
		s.onDisconnect(c.id)
	}
}

func (s *Server) handleState(msg dispatch.Message) error {
	st, err := DecodePeerState(msg.Payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	cur := s.peers[msg.Conn]
	cur.Merge(st)
	s.peers[msg.Conn] = cur
	merged := cur.Clone()
	s.mu.Unlock()
	if s.onState != nil {
		s.onState(msg.Conn, merged)
	}
	return nil
}

// Peer returns the merged code 0 state a peer has sent.
func (s *Server) Peer(tid int) (PeerState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.peers[tid]
	return st.Clone(), ok
}

// SendTo frames payload under code and writes it to tid.
func (s *Server) SendTo(tid int, code uint64, payload []byte) error {
	s.mu.RLock()
	c, ok := s.conns[tid]
	s.mu.RUnlock()
	if !ok || !c.Running() {
		return fmt.Errorf("%w: tid=%d", ErrUnknownConnection, tid)
	}
	if err := c.Send(code, payload); err != nil {
		if errors.Is(err, ErrConnClosed) {
			return fmt.Errorf("%w: tid=%d", ErrUnknownConnection, tid)
		}
		return err
	}
	s.lastSend.Store(time.Now().UnixNano())
	return nil
}

func (s *Server) SendText(tid int, code uint64, text string) error {
	return s.SendTo(tid, code, []byte(text))
}

func (s *Server) SendStructured(tid int, code uint64, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("socket: marshal structured payload: %w", err)
	}
	return s.SendTo(tid, code, payload)
}

// Broadcast sends to every live connection in ascending tid order. One failed
// peer does not stop the rest; failures are joined.
func (s *Server) Broadcast(code uint64, payload []byte) error {
	var errs []error
	for _, tid := range s.Conns() {
		if err := s.SendTo(tid, code, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) BroadcastText(code uint64, text string) error {
	return s.Broadcast(code, []byte(text))
}

func (s *Server) BroadcastStructured(code uint64, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("socket: marshal structured payload: %w", err)
	}
	return s.Broadcast(code, payload)
}

// Conns returns live tids in ascending order.
func (s *Server) Conns() []int {
	s.mu.RLock()
	out := make([]int, 0, len(s.conns))
	for tid, c := range s.conns {
		if c.Running() {
			out = append(out, tid)
		}
	}
	s.mu.RUnlock()
	sort.Ints(out)
	return out
}

func (s *Server) ConnCount() int {
	return len(s.Conns())
}

// Accepted is the number of tids handed out so far.
func (s *Server) Accepted() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}

// LastSend is the time of the most recent successful send to any peer.
func (s *Server) LastSend() time.Time {
	ns := s.lastSend.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr()
}

func (s *Server) Running() bool { return s.running.Load() }

// Done is closed when the server stops.
func (s *Server) Done() <-chan struct{} { return s.done }

// Stop clears the running flag, closes every connection, then the listener.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		s.mu.Lock()
		conns := make([]*Conn, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		ln := s.listener
		s.mu.Unlock()
		close(s.done)

		sort.Slice(conns, func(i, j int) bool { return conns[i].id < conns[j].id })
		for _, c := range conns {
			_ = c.Close()
		}
		if ln != nil {
			if err := ln.Close(); err != nil {
				s.log.Debug().Err(err).Msg("socket.Server.Stop listener close")
			}
		}
		s.log.Info().Int("closed", len(conns)).Msg("socket.Server.Stop stopped")
	})
}
