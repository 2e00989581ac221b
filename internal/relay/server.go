package relay

import (
	"context"

	"github.com/danmuck/sockframe/internal/protocol/dispatch"
	"github.com/danmuck/sockframe/internal/socket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Server routes relay requests between connected peers.
type Server struct {
	sock *socket.Server
	log  zerolog.Logger
}

func NewServer(cfg socket.Config) *Server {
	s := &Server{
		sock: socket.NewServer(cfg),
		log:  log.With().Str("component", "relay.Server").Logger(),
	}
	s.sock.Handle(CodeWhoAmI, s.handleWhoAmI)
	s.sock.Handle(CodeBroadcast, s.handleBroadcast)
	s.sock.Handle(CodeDirect, s.handleDirect)
	s.sock.Handle(CodeAbort, s.handleAbort)
	s.sock.HandleText(func(tid int, code uint64, text string) {
		s.log.Debug().Int("tid", tid).Uint64("code", code).Str("text", text).Msg("unrouted message")
	})
	return s
}

func (s *Server) Start(ctx context.Context) error { return s.sock.Start(ctx) }

func (s *Server) Stop() { s.sock.Stop() }

func (s *Server) Socket() *socket.Server { return s.sock }

func (s *Server) Addr() string { return s.sock.Addr() }

func (s *Server) Done() <-chan struct{} { return s.sock.Done() }

func (s *Server) handleWhoAmI(msg dispatch.Message) error {
	return s.sock.SendText(msg.Conn, CodeNotice, whoAmIText(msg.Conn))
}

func (s *Server) handleBroadcast(msg dispatch.Message) error {
	text, err := msg.Text()
	if err != nil {
		return err
	}
	s.log.Info().Int("from", msg.Conn).Msg("broadcast")
	return s.sock.BroadcastText(CodeNotice, broadcastText(msg.Conn, text))
}

func (s *Server) handleDirect(msg dispatch.Message) error {
	text, err := msg.Text()
	if err != nil {
		return err
	}
	to, body, err := DecodeDirect(text)
	if err != nil {
		return err
	}
	s.log.Info().Int("from", msg.Conn).Int("to", to).Msg("direct")
	return s.sock.SendText(to, CodeNotice, directText(msg.Conn, to, body))
}

func (s *Server) handleAbort(msg dispatch.Message) error {
	s.log.Warn().Int("from", msg.Conn).Msg("abort requested, stopping")
	s.sock.Stop()
	return nil
}
