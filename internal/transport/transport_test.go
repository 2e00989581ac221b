package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func dialAccept(t *testing.T, p Provider, addr string) (Listener, Stream, Stream) {
	t.Helper()
	ln, err := p.Listen(addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan Stream, 1)
	go func() {
		s, err := ln.Accept()
		if err == nil {
			accepted <- s
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := p.Dial(ctx, ln.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server := <-accepted:
		t.Cleanup(func() { _ = server.Close() })
		return ln, client, server
	case <-time.After(2 * time.Second):
		require.FailNow(t, "accept timeout")
	}
	return nil, nil, nil
}

func TestTCPLengthPrefixedRoundTrip(t *testing.T) {
	p, err := New(KindTCP, Options{})
	require.NoError(t, err)
	_, client, server := dialAccept(t, p, "127.0.0.1:0")

	require.NoError(t, client.WriteMessage([]byte{2, 'h', 'i'}))
	got, err := server.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte{2, 'h', 'i'}, got)

	require.NoError(t, server.WriteMessage([]byte{0}))
	got, err = client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte{0}, got)
}

func TestTCPLengthPrefixedReassemblesCoalescedFrames(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			return
		}
		defer conn.Close()
		var wire []byte
		for _, f := range [][]byte{{2, 'a'}, {3, 'b', 'c'}, {123}} {
			var prefix [4]byte
			binary.BigEndian.PutUint32(prefix[:], uint32(len(f)))
			wire = append(wire, prefix[:]...)
			wire = append(wire, f...)
		}
		// one write carrying three frames
		_, _ = conn.Write(wire)
		time.Sleep(100 * time.Millisecond)
	}()

	raw, err := ln.Accept()
	require.NoError(t, err)
	s := NewStream(raw, FramingLengthPrefixed, 2048)
	defer s.Close()

	for _, want := range [][]byte{{2, 'a'}, {3, 'b', 'c'}, {123}} {
		got, err := s.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestTCPRawOneReadOneFrame(t *testing.T) {
	p, err := New(KindTCPRaw, Options{})
	require.NoError(t, err)
	_, client, server := dialAccept(t, p, "127.0.0.1:0")

	require.NoError(t, client.WriteMessage([]byte{1, 'x', 'y'}))
	got, err := server.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 'x', 'y'}, got)
}

func TestFrameTooLarge(t *testing.T) {
	p := &TCP{Framing: FramingLengthPrefixed, MaxFrameBytes: 8}
	_, client, _ := dialAccept(t, p, "127.0.0.1:0")
	err := client.WriteMessage(make([]byte, 9))
	require.True(t, errors.Is(err, ErrFrameTooLarge), "got %v", err)
}

func TestWebSocketRoundTrip(t *testing.T) {
	p, err := New(KindWebSocket, Options{WSPath: "/game"})
	require.NoError(t, err)
	_, client, server := dialAccept(t, p, "127.0.0.1:0")

	require.NoError(t, client.WriteMessage([]byte{3, '{', '}'}))
	require.NoError(t, client.WriteMessage([]byte{1}))
	got, err := server.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte{3, '{', '}'}, got)
	got, err = server.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte{1}, got)

	require.NoError(t, server.Close())
	require.NoError(t, server.Close())
	_, err = client.ReadMessage()
	require.Error(t, err)
}

func TestMemoryProvider(t *testing.T) {
	m := NewMemory()
	ln, client, server := dialAccept(t, m, "table-1")
	require.Equal(t, "table-1", ln.Addr())

	// pipe writes block until the other end reads
	written := make(chan error, 1)
	go func() { written <- client.WriteMessage([]byte{2, 'o', 'k'}) }()
	got, err := server.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte{2, 'o', 'k'}, got)
	require.NoError(t, <-written)

	_, err = m.Listen("table-1")
	require.ErrorIs(t, err, ErrAddressInUse)

	require.NoError(t, ln.Close())
	_, err = m.Dial(context.Background(), "table-1")
	require.ErrorIs(t, err, ErrUnknownAddress)
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New("carrier-pigeon", Options{})
	require.ErrorIs(t, err, ErrUnknownProvider)
}
