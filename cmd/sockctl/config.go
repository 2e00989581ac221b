package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/sockframe/internal/protocol/frame"
	"github.com/danmuck/sockframe/internal/socket"
	"github.com/danmuck/sockframe/internal/transport"
)

var errConfig = errors.New("sockctl: invalid config")

// serveConfig is everything `sockctl serve` needs to run one table.
type serveConfig struct {
	Socket      socket.Config
	Players     int
	IdleTimeout time.Duration
	CheckPeriod time.Duration
	AdminAddr   string
	Seed        int64
}

func defaultServeConfig() serveConfig {
	sock := socket.DefaultConfig()
	sock.Name = "uno"
	return serveConfig{
		Socket:      sock,
		Players:     2,
		IdleTimeout: 20 * time.Second,
		CheckPeriod: 3 * time.Second,
	}
}

type fileConfig struct {
	Name           string `toml:"name"`
	Addr           string `toml:"addr"`
	Transport      string `toml:"transport"`
	WSPath         string `toml:"ws_path"`
	HeaderWidth    int    `toml:"header_width"`
	MaxFrameBytes  int    `toml:"max_frame_bytes"`
	MaxConnections int    `toml:"max_connections"`
	Players        int    `toml:"players"`
	AnnounceID     bool   `toml:"announce_id"`
	IdleTimeout    string `toml:"idle_timeout"`
	CheckPeriod    string `toml:"check_period"`
	AdminAddr      string `toml:"admin_addr"`
	Seed           int64  `toml:"seed"`
}

func loadServeConfig(path string) (serveConfig, error) {
	cfg := defaultServeConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.validate()
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serveConfig{}, fmt.Errorf("load sockctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return serveConfig{}, fmt.Errorf("%w: unknown key %q", errConfig, undecoded[0].String())
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Socket.Name = name
		}
	}
	if meta.IsDefined("addr") {
		cfg.Socket.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("transport") {
		cfg.Socket.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("ws_path") {
		cfg.Socket.WSPath = strings.TrimSpace(raw.WSPath)
	}
	if meta.IsDefined("header_width") {
		cfg.Socket.HeaderWidth = raw.HeaderWidth
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.Socket.MaxFrameBytes = raw.MaxFrameBytes
	}
	if meta.IsDefined("max_connections") {
		cfg.Socket.MaxConnections = raw.MaxConnections
	}
	if meta.IsDefined("players") {
		cfg.Players = raw.Players
	}
	if meta.IsDefined("announce_id") {
		cfg.Socket.AnnounceID = raw.AnnounceID
	}
	if meta.IsDefined("idle_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.IdleTimeout))
		if err != nil {
			return serveConfig{}, fmt.Errorf("parse idle_timeout: %w", err)
		}
		cfg.IdleTimeout = d
	}
	if meta.IsDefined("check_period") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.CheckPeriod))
		if err != nil {
			return serveConfig{}, fmt.Errorf("parse check_period: %w", err)
		}
		cfg.CheckPeriod = d
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("seed") {
		cfg.Seed = raw.Seed
	}

	return cfg, cfg.validate()
}

func (c serveConfig) validate() error {
	if strings.TrimSpace(c.Socket.Addr) == "" {
		return fmt.Errorf("%w: addr is empty", errConfig)
	}
	switch c.Socket.Transport {
	case "", transport.KindTCP, transport.KindTCPRaw, transport.KindWebSocket:
	default:
		return fmt.Errorf("%w: transport %q", errConfig, c.Socket.Transport)
	}
	if c.Socket.HeaderWidth < frame.MinHeaderWidth || c.Socket.HeaderWidth > frame.MaxHeaderWidth {
		return fmt.Errorf("%w: header_width %d", errConfig, c.Socket.HeaderWidth)
	}
	if c.Socket.MaxFrameBytes < c.Socket.HeaderWidth {
		return fmt.Errorf("%w: max_frame_bytes %d", errConfig, c.Socket.MaxFrameBytes)
	}
	if c.Players < 1 {
		return fmt.Errorf("%w: players %d", errConfig, c.Players)
	}
	if c.Socket.MaxConnections < 0 {
		return fmt.Errorf("%w: max_connections %d", errConfig, c.Socket.MaxConnections)
	}
	if c.Socket.MaxConnections > 0 && c.Socket.MaxConnections < c.Players {
		return fmt.Errorf("%w: max_connections %d below players %d", errConfig, c.Socket.MaxConnections, c.Players)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("%w: idle_timeout %v", errConfig, c.IdleTimeout)
	}
	if c.IdleTimeout > 0 && c.CheckPeriod <= 0 {
		return fmt.Errorf("%w: check_period %v", errConfig, c.CheckPeriod)
	}
	return nil
}

// clientConfig derives the dial side of cfg.
func (c serveConfig) clientConfig(name string) socket.ClientConfig {
	out := socket.DefaultClientConfig()
	out.Name = name
	out.Addr = c.Socket.Addr
	out.Transport = c.Socket.Transport
	out.Provider = c.Socket.Provider
	out.WSPath = c.Socket.WSPath
	out.HeaderWidth = c.Socket.HeaderWidth
	out.MaxFrameBytes = c.Socket.MaxFrameBytes
	return out
}
