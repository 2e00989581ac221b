package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/danmuck/sockframe/internal/admin"
	"github.com/danmuck/sockframe/internal/socket"
	"github.com/danmuck/sockframe/internal/statesync"
	"github.com/danmuck/sockframe/internal/uno"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const adminShutdownGrace = 2 * time.Second

// Reasons a table stops.
const (
	stopWinner    = "winner"
	stopIdle      = "idle"
	stopCancelled = "cancelled"
	stopClosed    = "closed"
)

type tableResult struct {
	Reason string
	Winner int
	Moves  int
}

// tableDetail is the game section of the admin /status payload.
type tableDetail struct {
	Players int    `json:"players"`
	Turn    int    `json:"turn"`
	Current string `json:"current_card"`
	Stack   []int  `json:"stack"`
	Winner  *int   `json:"winner"`
	Moves   int    `json:"moves"`
}

func serveCmd() *cobra.Command {
	var (
		configPath string
		players    int
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host an authoritative UNO table",
		Long: `Host an authoritative UNO table.

Each player is sent its seat's view on arrival. Once every seat is connected
the table broadcasts, then validates each proposed move and broadcasts
redacted views. It stops when a player wins, when nothing has
been sent for idle_timeout, or on SIGINT/SIGTERM.

Examples:
  sockctl serve
  sockctl serve --players 3
  sockctl serve --config cmd/sockctl/ex.config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("players") {
				cfg.Players = players
			}
			if cmd.Flags().Changed("addr") {
				cfg.Socket.Addr = addr
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			res, err := runTable(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			if res.Reason == stopWinner {
				fmt.Fprintf(cmd.OutOrStdout(), "Player %d wins after %d moves\n", res.Winner, res.Moves)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Table stopped: %s after %d moves\n", res.Reason, res.Moves)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().IntVarP(&players, "players", "p", 2, "Number of seats at the table")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address")
	return cmd
}

// runTable hosts one game until it ends. ready, when set, receives the bound
// address once the table is listening.
func runTable(ctx context.Context, cfg serveConfig, ready func(addr string)) (tableResult, error) {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	game, err := uno.NewGame(cfg.Players, rand.New(rand.NewSource(seed)))
	if err != nil {
		return tableResult{}, err
	}
	game.Start()

	sockCfg := cfg.Socket
	if sockCfg.MaxConnections == 0 {
		sockCfg.MaxConnections = cfg.Players
	}
	srv := socket.NewServer(sockCfg)
	auth := statesync.NewAuthority[uno.View](game, srv, cfg.Players)
	auth.Register(srv)

	logger := log.With().Str("component", "sockctl.serve").Logger()
	srv.HandleText(func(tid int, code uint64, text string) {
		logger.Info().Int("tid", tid).Uint64("code", code).Str("text", text).Msg("client message")
	})
	srv.OnConnect(func(tid int) {
		if srv.ConnCount() < cfg.Players {
			if err := auth.SendState(tid); err != nil {
				logger.Warn().Int("tid", tid).Err(err).Msg("seat view not sent")
			}
			return
		}
		logger.Info().Int("players", cfg.Players).Msg("table full, dealing")
		if err := auth.BroadcastState(); err != nil {
			logger.Warn().Err(err).Msg("initial broadcast incomplete")
		}
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := srv.Start(runCtx); err != nil {
		return tableResult{}, err
	}
	defer srv.Stop()
	logger.Info().Str("addr", srv.Addr()).Int("players", cfg.Players).Int64("seed", seed).Msg("table open")

	if cfg.AdminAddr != "" {
		adm := admin.New(admin.Config{Addr: cfg.AdminAddr}, srv)
		adm.SetDetail(func() any {
			var d tableDetail
			auth.Do(func(statesync.Ruleset[uno.View]) {
				d = tableDetail{
					Players: game.Players(),
					Turn:    game.CurrentTurn(),
					Current: game.Current().String(),
					Stack:   game.Stack(),
				}
				if w, ok := game.Winner(); ok {
					d.Winner = &w
				}
			})
			d.Moves = auth.Accepted()
			return d
		})
		if err := adm.Start(); err != nil {
			return tableResult{}, err
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), adminShutdownGrace)
			defer scancel()
			_ = adm.Shutdown(sctx)
		}()
		logger.Info().Str("admin_addr", adm.Addr()).Msg("admin listening")
	}

	if ready != nil {
		ready(srv.Addr())
	}
	return watchTable(ctx, cfg, srv, auth), nil
}

// watchTable blocks until the game ends, the server stops, ctx is cancelled
// or the table goes idle.
func watchTable(ctx context.Context, cfg serveConfig, srv *socket.Server, auth *statesync.Authority[uno.View]) tableResult {
	logger := log.With().Str("component", "sockctl.watchdog").Logger()
	opened := time.Now()

	var tick <-chan time.Time
	if cfg.IdleTimeout > 0 {
		ticker := time.NewTicker(cfg.CheckPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-auth.Done():
			// Winner takes the state lock, so the final broadcast has been written.
			winner, _ := auth.Winner()
			return tableResult{Reason: stopWinner, Winner: winner, Moves: auth.Accepted()}
		case <-srv.Done():
			if ctx.Err() != nil {
				return tableResult{Reason: stopCancelled, Winner: -1, Moves: auth.Accepted()}
			}
			return tableResult{Reason: stopClosed, Winner: -1, Moves: auth.Accepted()}
		case <-ctx.Done():
			logger.Info().Msg("shutdown requested")
			return tableResult{Reason: stopCancelled, Winner: -1, Moves: auth.Accepted()}
		case now := <-tick:
			last := srv.LastSend()
			if last.Before(opened) {
				last = opened
			}
			if idle := now.Sub(last); idle > cfg.IdleTimeout {
				logger.Warn().Dur("idle", idle).Dur("idle_timeout", cfg.IdleTimeout).Msg("no progress, closing table")
				return tableResult{Reason: stopIdle, Winner: -1, Moves: auth.Accepted()}
			}
		}
	}
}
