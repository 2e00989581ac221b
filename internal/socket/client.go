package socket

import (
	"context"
	"encoding/json"
	"fmt"
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

// ClientTID is the tid a client reports for its single connection.
const ClientTID = 0

// ClientConfig describes one client endpoint.
type ClientConfig struct {
	Name          string
	Addr          string
	Transport     string
	Provider      transport.Provider
	MaxFrameBytes int
	WSPath        string
	HeaderWidth   int
	DialTimeout   time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Name:          "client",
		Addr:          "127.0.0.1:1018",
		Transport:     transport.KindTCP,
		MaxFrameBytes: frame.DefaultMaxFrameBytes,
		WSPath:        "/sock",
		HeaderWidth:   frame.MinHeaderWidth,
		DialTimeout:   5 * time.Second,
	}
}

func (c ClientConfig) withDefaults() ClientConfig {
	def := DefaultClientConfig()
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
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	return c
}

// Client owns one connection to a server and its receive loop.
type Client struct {
	cfg      ClientConfig
	log      zerolog.Logger
	registry *dispatch.Registry

	fallback TextHandler
	onState  func(st PeerState)
	onError  ErrorHandler

	mu    sync.RWMutex
	conn  *Conn
	state PeerState

	lastReceive atomic.Int64
	stopOnce    sync.Once
	done        chan struct{}
}

func NewClient(cfg ClientConfig) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:  cfg,
		log:  observability.Component(cfg.Name),
		done: make(chan struct{}),
	}
	c.registry = dispatch.NewRegistry(c.handleState)
	return c
}

// Handle binds code to h. Handlers must be registered before Connect.
func (c *Client) Handle(code uint64, h dispatch.Handler) {
	c.registry.Register(code, h)
}

func (c *Client) HandleText(fn TextHandler) { c.fallback = fn }

func (c *Client) HandleState(fn func(st PeerState)) { c.onState = fn }

func (c *Client) OnError(fn ErrorHandler) { c.onError = fn }

// Connect dials the server and starts exactly one receive loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return ErrAlreadyStarted
	}
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	codec, err := frame.NewCodec(c.cfg.HeaderWidth)
	if err != nil {
		return err
	}
	if maxCode := c.registry.MaxCode(); !codec.Fits(maxCode) {
		return fmt.Errorf("%w: registered code=%d width=%d", frame.ErrEncoding, maxCode, codec.Width())
	}
	provider := c.cfg.Provider
	if provider == nil {
		provider, err = transport.New(c.cfg.Transport, transport.Options{
			MaxFrameBytes: c.cfg.MaxFrameBytes,
			DialTimeout:   c.cfg.DialTimeout,
			WSPath:        c.cfg.WSPath,
		})
		if err != nil {
			return err
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	stream, err := provider.Dial(dialCtx, c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("%w: addr=%q: %w", ErrConnect, c.cfg.Addr, err)
	}

	conn := newConn(ClientTID, stream, codec, c.cfg.Name)
	conn.open()
	c.conn = conn
	c.log.Info().Str("addr", c.cfg.Addr).Str("remote", stream.RemoteAddr()).Msg("socket.Client.Connect connected")

	r := receiver{registry: c.registry, fallback: c.fallback, onError: c.onError, onFrame: c.touch, log: c.log}
	go func() {
		conn.serve(r)
		c.log.Info().Msg("socket.Client receive loop ended")
		c.Stop()
	}()
	return nil
}

func (c *Client) handleState(msg dispatch.Message) error {
	st, err := DecodePeerState(msg.Payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.state.Merge(st)
	merged := c.state.Clone()
	c.mu.Unlock()
	if c.onState != nil {
		c.onState(merged)
	}
	return nil
}

func (c *Client) touch() {
	c.lastReceive.Store(time.Now().UnixNano())
}

func (c *Client) current() (*Conn, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || !conn.Running() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// Send frames payload under code and writes it to the server.
func (c *Client) Send(code uint64, payload []byte) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	if err := conn.Send(code, payload); err != nil {
		return err
	}
	return nil
}

func (c *Client) SendText(code uint64, text string) error {
	return c.Send(code, []byte(text))
}

func (c *Client) SendStructured(code uint64, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("socket: marshal structured payload: %w", err)
	}
	return c.Send(code, payload)
}

// PeerState returns the merged code 0 state received from the server.
func (c *Client) PeerState() PeerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// ID is the server-announced tid, if one has arrived.
func (c *Client) ID() (int, bool) {
	st := c.PeerState()
	if st.ID == nil {
		return 0, false
	}
	return *st.ID, true
}

func (c *Client) Connected() bool {
	_, err := c.current()
	return err == nil
}

func (c *Client) LastSend() time.Time {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return time.Time{}
	}
	return conn.LastSend()
}

func (c *Client) LastReceive() time.Time {
	ns := c.lastReceive.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Done is closed once the client has stopped.
func (c *Client) Done() <-chan struct{} { return c.done }

// Stop closes the connection. Safe to call more than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn != nil {
			_ = conn.Close()
		}
		close(c.done)
	})
}
