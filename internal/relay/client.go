package relay

import (
	"context"
	"sync"

	"github.com/danmuck/sockframe/internal/socket"
)

const noticeQueue = 32

// Client talks to a relay Server.
type Client struct {
	sock    *socket.Client
	notices chan string

	mu  sync.RWMutex
	tid *int
}

func NewClient(cfg socket.ClientConfig) *Client {
	c := &Client{
		sock:    socket.NewClient(cfg),
		notices: make(chan string, noticeQueue),
	}
	c.sock.HandleText(c.handleText)
	return c
}

func (c *Client) handleText(_ int, code uint64, text string) {
	if code != CodeNotice {
		return
	}
	if tid, ok := parseWhoAmI(text); ok {
		c.mu.Lock()
		c.tid = &tid
		c.mu.Unlock()
	}
	select {
	case c.notices <- text:
	default:
	}
}

func (c *Client) Connect(ctx context.Context) error { return c.sock.Connect(ctx) }

func (c *Client) WhoAmI() error { return c.sock.SendText(CodeWhoAmI, "::testing") }

func (c *Client) Broadcast(msg string) error { return c.sock.SendText(CodeBroadcast, msg) }

func (c *Client) Direct(to int, msg string) error {
	return c.sock.SendText(CodeDirect, EncodeDirect(to, msg))
}

// Abort asks the server to shut down.
func (c *Client) Abort() error { return c.sock.SendText(CodeAbort, "...") }

// Notices delivers server replies in arrival order.
func (c *Client) Notices() <-chan string { return c.notices }

// TID is the id learned from the last who-am-i reply.
func (c *Client) TID() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tid == nil {
		return 0, false
	}
	return *c.tid, true
}

func (c *Client) Stop() { c.sock.Stop() }

func (c *Client) Done() <-chan struct{} { return c.sock.Done() }
