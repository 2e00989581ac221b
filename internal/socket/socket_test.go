package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/sockframe/internal/protocol/dispatch"
	"github.com/danmuck/sockframe/internal/protocol/frame"
	"github.com/danmuck/sockframe/internal/testutil/testlog"
	"github.com/danmuck/sockframe/internal/transport"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type inbox struct {
	mu   sync.Mutex
	msgs []string
	ch   chan string
}

func newInbox() *inbox {
	return &inbox{ch: make(chan string, 64)}
}

func (b *inbox) push(s string) {
	b.mu.Lock()
	b.msgs = append(b.msgs, s)
	b.mu.Unlock()
	b.ch <- s
}

func (b *inbox) next(t *testing.T) string {
	t.Helper()
	select {
	case s := <-b.ch:
		return s
	case <-time.After(waitFor):
		require.FailNow(t, "timed out waiting for message")
		return ""
	}
}

func startServer(t *testing.T, p transport.Provider, setup func(*Server)) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Name = t.Name()
	cfg.Addr = t.Name()
	cfg.Provider = p
	return startServerWith(t, cfg, setup)
}

func startServerWith(t *testing.T, cfg Config, setup func(*Server)) *Server {
	t.Helper()
	srv := NewServer(cfg)
	if setup != nil {
		setup(srv)
	}
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(srv.Stop)
	return srv
}

func dialClient(t *testing.T, p transport.Provider, addr string, setup func(*Client)) *Client {
	t.Helper()
	cfg := DefaultClientConfig()
	cfg.Name = t.Name() + "-client"
	cfg.Addr = addr
	cfg.Provider = p
	c := NewClient(cfg)
	if setup != nil {
		setup(c)
	}
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Stop)
	return c
}

func waitConns(t *testing.T, srv *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return srv.ConnCount() == n }, waitFor, 5*time.Millisecond)
}

func TestServerAssignsSequentialIDsAndRoutesSendTo(t *testing.T) {
	testlog.Start(t)
	mem := transport.NewMemory()
	srv := startServer(t, mem, nil)

	boxes := make([]*inbox, 3)
	for i := range boxes {
		box := newInbox()
		boxes[i] = box
		dialClient(t, mem, srv.Addr(), func(c *Client) {
			c.HandleText(func(_ int, code uint64, text string) {
				box.push(fmt.Sprintf("%d:%s", code, text))
			})
		})
		waitConns(t, srv, i+1)
	}
	require.Equal(t, []int{0, 1, 2}, srv.Conns())
	require.Equal(t, 3, srv.Accepted())

	require.True(t, srv.LastSend().IsZero())
	require.NoError(t, srv.SendText(1, 7, "only you"))
	require.Equal(t, "7:only you", boxes[1].next(t))
	require.False(t, srv.LastSend().IsZero())

	err := srv.SendText(9, 7, "nobody")
	require.ErrorIs(t, err, ErrUnknownConnection)
}

func TestBroadcastDeliversInOrderToEveryPeer(t *testing.T) {
	testlog.Start(t)
	mem := transport.NewMemory()
	srv := startServer(t, mem, nil)

	boxes := []*inbox{newInbox(), newInbox()}
	for i, box := range boxes {
		box := box
		dialClient(t, mem, srv.Addr(), func(c *Client) {
			c.HandleText(func(_ int, _ uint64, text string) { box.push(text) })
		})
		waitConns(t, srv, i+1)
	}

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, srv.BroadcastText(5, fmt.Sprintf("m%d", i)))
	}
	for _, box := range boxes {
		for i := 0; i < n; i++ {
			require.Equal(t, fmt.Sprintf("m%d", i), box.next(t))
		}
	}
}

func TestBroadcastSkipsDepartedPeer(t *testing.T) {
	testlog.Start(t)
	mem := transport.NewMemory()
	srv := startServer(t, mem, nil)

	stay := newInbox()
	leaver := dialClient(t, mem, srv.Addr(), nil)
	waitConns(t, srv, 1)
	dialClient(t, mem, srv.Addr(), func(c *Client) {
		c.HandleText(func(_ int, _ uint64, text string) { stay.push(text) })
	})
	waitConns(t, srv, 2)

	leaver.Stop()
	waitConns(t, srv, 1)
	require.Equal(t, []int{1}, srv.Conns())

	require.NoError(t, srv.BroadcastText(3, "still here"))
	require.Equal(t, "still here", stay.next(t))
	require.ErrorIs(t, srv.SendText(0, 3, "gone"), ErrUnknownConnection)
}

func TestPeerLeavingMidSequenceReceivesPrefix(t *testing.T) {
	testlog.Start(t)
	mem := transport.NewMemory()
	srv := startServer(t, mem, nil)

	gone := newInbox()
	leaver := dialClient(t, mem, srv.Addr(), func(c *Client) {
		c.HandleText(func(_ int, _ uint64, text string) { gone.push(text) })
	})
	waitConns(t, srv, 1)
	stay := newInbox()
	dialClient(t, mem, srv.Addr(), func(c *Client) {
		c.HandleText(func(_ int, _ uint64, text string) { stay.push(text) })
	})
	waitConns(t, srv, 2)

	const n, cut = 20, 8
	for i := 0; i < n; i++ {
		err := srv.BroadcastText(5, fmt.Sprintf("m%d", i))
		if i <= cut {
			require.NoError(t, err)
		}
		if i == cut {
			leaver.Stop()
			waitConns(t, srv, 1)
		}
	}
	for i := 0; i < n; i++ {
		require.Equal(t, fmt.Sprintf("m%d", i), stay.next(t))
	}

	<-leaver.Done()
	gone.mu.Lock()
	got := append([]string(nil), gone.msgs...)
	gone.mu.Unlock()
	require.LessOrEqual(t, len(got), cut+1)
	for i, msg := range got {
		require.Equal(t, fmt.Sprintf("m%d", i), msg)
	}
}

func TestRegisteredHandlerAndTextFallback(t *testing.T) {
	testlog.Start(t)
	mem := transport.NewMemory()
	got := newInbox()
	srv := startServer(t, mem, func(s *Server) {
		s.Handle(4, func(msg dispatch.Message) error {
			text, err := msg.Text()
			if err != nil {
				return err
			}
			got.push(fmt.Sprintf("handler tid=%d %s", msg.Conn, text))
			return nil
		})
		s.HandleText(func(tid int, code uint64, text string) {
			got.push(fmt.Sprintf("fallback tid=%d code=%d %s", tid, code, text))
		})
	})

	c := dialClient(t, mem, srv.Addr(), nil)
	waitConns(t, srv, 1)
	require.NoError(t, c.SendText(4, "registered"))
	require.Equal(t, "handler tid=0 registered", got.next(t))
	require.NoError(t, c.SendText(9, "loose"))
	require.Equal(t, "fallback tid=0 code=9 loose", got.next(t))
	require.False(t, c.LastSend().IsZero())
}

func TestReceiveLoopSurvivesBadFrames(t *testing.T) {
	testlog.Start(t)
	mem := transport.NewMemory()
	dropped := make(chan error, 8)
	got := newInbox()
	srv := startServer(t, mem, func(s *Server) {
		s.Handle(2, func(msg dispatch.Message) error {
			if string(msg.Payload) == "boom" {
				panic("handler exploded")
			}
			if string(msg.Payload) == "fail" {
				return errors.New("handler refused")
			}
			got.push(string(msg.Payload))
			return nil
		})
		s.OnError(func(_ int, err error) { dropped <- err })
	})

	stream, err := mem.Dial(context.Background(), srv.Addr())
	require.NoError(t, err)
	defer stream.Close()
	waitConns(t, srv, 1)

	// empty frame has no header
	require.NoError(t, stream.WriteMessage(nil))
	require.ErrorIs(t, <-dropped, frame.ErrFraming)

	require.NoError(t, stream.WriteMessage([]byte{2, 'b', 'o', 'o', 'm'}))
	require.ErrorIs(t, <-dropped, dispatch.ErrHandlerPanic)

	require.NoError(t, stream.WriteMessage([]byte{2, 'f', 'a', 'i', 'l'}))
	require.Error(t, <-dropped)

	// unregistered code with invalid utf-8
	require.NoError(t, stream.WriteMessage([]byte{9, 0xff, 0xfe}))
	require.ErrorIs(t, <-dropped, frame.ErrInvalidText)

	require.NoError(t, stream.WriteMessage([]byte{2, 'o', 'k'}))
	require.Equal(t, "ok", got.next(t))
	require.Equal(t, 1, srv.ConnCount())
}

func TestPeerStateRejectsUnknownFields(t *testing.T) {
	testlog.Start(t)
	mem := transport.NewMemory()
	dropped := make(chan error, 4)
	states := make(chan PeerState, 4)
	srv := startServer(t, mem, func(s *Server) {
		s.OnError(func(_ int, err error) { dropped <- err })
		s.HandleState(func(_ int, st PeerState) { states <- st })
	})
	c := dialClient(t, mem, srv.Addr(), nil)
	waitConns(t, srv, 1)

	require.NoError(t, c.SendText(dispatch.CodeStructuredState, `{"running":false}`))
	require.Error(t, <-dropped)
	_, ok := srv.Peer(0)
	require.False(t, ok)

	require.NoError(t, c.SendStructured(dispatch.CodeStructuredState, map[string]string{"name": "alice"}))
	st := <-states
	require.NotNil(t, st.Name)
	require.Equal(t, "alice", *st.Name)

	require.NoError(t, c.SendStructured(dispatch.CodeStructuredState, map[string]string{"note": "ready"}))
	st = <-states
	require.Equal(t, "alice", *st.Name)
	require.Equal(t, "ready", *st.Note)
}

func TestPeerStateForgottenOnDisconnect(t *testing.T) {
	testlog.Start(t)
	mem := transport.NewMemory()
	states := make(chan PeerState, 1)
	srv := startServer(t, mem, func(s *Server) {
		s.HandleState(func(_ int, st PeerState) { states <- st })
	})
	c := dialClient(t, mem, srv.Addr(), nil)
	waitConns(t, srv, 1)

	require.NoError(t, c.SendStructured(dispatch.CodeStructuredState, map[string]string{"name": "alice"}))
	<-states
	_, ok := srv.Peer(0)
	require.True(t, ok)

	c.Stop()
	waitConns(t, srv, 0)
	_, ok = srv.Peer(0)
	require.False(t, ok)
}

func TestAnnounceIDReachesClientState(t *testing.T) {
	testlog.Start(t)
	mem := transport.NewMemory()
	cfg := DefaultConfig()
	cfg.Name = t.Name()
	cfg.Addr = "announce"
	cfg.Provider = mem
	cfg.AnnounceID = true
	srv := startServerWith(t, cfg, nil)

	dialClient(t, mem, srv.Addr(), nil)
	waitConns(t, srv, 1)
	second := dialClient(t, mem, srv.Addr(), nil)
	require.Eventually(t, func() bool {
		id, ok := second.ID()
		return ok && id == 1
	}, waitFor, 5*time.Millisecond)
	require.False(t, second.LastReceive().IsZero())
}

func TestMaxConnectionsRefusesExtraPeers(t *testing.T) {
	testlog.Start(t)
	mem := transport.NewMemory()
	cfg := DefaultConfig()
	cfg.Name = t.Name()
	cfg.Addr = "full"
	cfg.Provider = mem
	cfg.MaxConnections = 1
	srv := startServerWith(t, cfg, nil)

	dialClient(t, mem, srv.Addr(), nil)
	waitConns(t, srv, 1)
	extra := dialClient(t, mem, srv.Addr(), nil)
	select {
	case <-extra.Done():
	case <-time.After(waitFor):
		require.FailNow(t, "extra client was not closed")
	}
	require.Equal(t, 1, srv.Accepted())
}

func TestStopIsIdempotent(t *testing.T) {
	testlog.Start(t)
	mem := transport.NewMemory()
	srv := startServer(t, mem, nil)
	c := dialClient(t, mem, srv.Addr(), nil)
	waitConns(t, srv, 1)

	srv.Stop()
	srv.Stop()
	require.False(t, srv.Running())
	select {
	case <-c.Done():
	case <-time.After(waitFor):
		require.FailNow(t, "client did not observe server stop")
	}
	c.Stop()
	c.Stop()
	require.ErrorIs(t, c.SendText(1, "late"), ErrNotConnected)
	require.ErrorIs(t, srv.Start(context.Background()), ErrAlreadyStarted)
}

func TestConnCloseIsIdempotent(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := newConn(0, transport.NewStream(a, transport.FramingLengthPrefixed, 0), frame.Codec{}, "pipe")
	c.open()
	require.Equal(t, StateOpen, c.State())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Equal(t, StateClosed, c.State())
	require.ErrorIs(t, c.Send(1, nil), ErrConnClosed)
}

func TestStartRejectsCodesWiderThanHeader(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.Addr = "narrow"
	cfg.Provider = transport.NewMemory()
	srv := NewServer(cfg)
	srv.Handle(300, func(dispatch.Message) error { return nil })
	require.ErrorIs(t, srv.Start(context.Background()), frame.ErrEncoding)
}

func TestBindAndConnectErrors(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := DefaultConfig()
	cfg.Addr = ln.Addr().String()
	err = NewServer(cfg).Start(context.Background())
	require.ErrorIs(t, err, ErrBind)

	ccfg := DefaultClientConfig()
	ccfg.Provider = transport.NewMemory()
	ccfg.Addr = "nowhere"
	err = NewClient(ccfg).Connect(context.Background())
	require.ErrorIs(t, err, ErrConnect)
}

func TestTCPEndToEnd(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.Name = t.Name()
	cfg.Addr = "127.0.0.1:0"
	cfg.HeaderWidth = 2
	echo := newInbox()
	srv := startServerWith(t, cfg, func(s *Server) {
		s.Handle(1000, func(msg dispatch.Message) error {
			text, _ := msg.Text()
			return s.SendText(msg.Conn, 1001, "echo "+text)
		})
	})

	ccfg := DefaultClientConfig()
	ccfg.Addr = srv.Addr()
	ccfg.HeaderWidth = 2
	c := NewClient(ccfg)
	c.HandleText(func(_ int, code uint64, text string) {
		echo.push(fmt.Sprintf("%d %s", code, text))
	})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.SendText(1000, fmt.Sprintf("hi%d", i)))
	}
	for i := 0; i < 5; i++ {
		require.Equal(t, fmt.Sprintf("1001 echo hi%d", i), echo.next(t))
	}
}

func TestContextCancelStopsServer(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultConfig()
	cfg.Addr = "cancel"
	cfg.Provider = transport.NewMemory()
	srv := NewServer(cfg)
	require.NoError(t, srv.Start(ctx))
	cancel()
	select {
	case <-srv.Done():
	case <-time.After(waitFor):
		require.FailNow(t, "server did not stop on cancel")
	}
}
