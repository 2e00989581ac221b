package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/sockframe/internal/transport"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServeConfigExample(t *testing.T) {
	cfg, err := loadServeConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Socket.Name != "uno-table" {
		t.Fatalf("unexpected name: %q", cfg.Socket.Name)
	}
	if cfg.Socket.Addr != "127.0.0.1:1019" {
		t.Fatalf("unexpected addr: %q", cfg.Socket.Addr)
	}
	if cfg.Socket.Transport != transport.KindTCP {
		t.Fatalf("unexpected transport: %q", cfg.Socket.Transport)
	}
	if cfg.Players != 3 || cfg.Socket.MaxConnections != 3 {
		t.Fatalf("unexpected seats: players=%d max=%d", cfg.Players, cfg.Socket.MaxConnections)
	}
	if !cfg.Socket.AnnounceID {
		t.Fatalf("expected announce_id enabled")
	}
	if cfg.IdleTimeout != 20*time.Second || cfg.CheckPeriod != 3*time.Second {
		t.Fatalf("unexpected watchdog: idle=%v period=%v", cfg.IdleTimeout, cfg.CheckPeriod)
	}
	if cfg.AdminAddr != "127.0.0.1:7019" {
		t.Fatalf("unexpected admin addr: %q", cfg.AdminAddr)
	}
	if cfg.Seed != 42 {
		t.Fatalf("unexpected seed: %d", cfg.Seed)
	}
}

func TestLoadServeConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	path := writeConfig(t, "players = 4\n")
	cfg, err := loadServeConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := defaultServeConfig()
	if cfg.Players != 4 {
		t.Fatalf("unexpected players: %d", cfg.Players)
	}
	if cfg.Socket.Addr != def.Socket.Addr {
		t.Fatalf("addr should keep default, got %q", cfg.Socket.Addr)
	}
	if cfg.IdleTimeout != def.IdleTimeout || cfg.CheckPeriod != def.CheckPeriod {
		t.Fatalf("watchdog should keep defaults, got idle=%v period=%v", cfg.IdleTimeout, cfg.CheckPeriod)
	}
	if cfg.Socket.HeaderWidth != 1 {
		t.Fatalf("unexpected header width: %d", cfg.Socket.HeaderWidth)
	}
}

func TestLoadServeConfigEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := loadServeConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Socket.Addr != "127.0.0.1:1018" {
		t.Fatalf("unexpected default addr: %q", cfg.Socket.Addr)
	}
}

func TestLoadServeConfigRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"transport":        "transport = \"udp\"\n",
		"header width":     "header_width = 9\n",
		"players":          "players = 0\n",
		"max below seats":  "players = 4\nmax_connections = 2\n",
		"unknown key":      "colour = \"red\"\n",
		"zero check":       "check_period = \"0s\"\n",
		"tiny frame limit": "header_width = 2\nmax_frame_bytes = 1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadServeConfig(writeConfig(t, body))
			if !errors.Is(err, errConfig) {
				t.Fatalf("expected errConfig, got %v", err)
			}
		})
	}
}

func TestLoadServeConfigBadDuration(t *testing.T) {
	_, err := loadServeConfig(writeConfig(t, "idle_timeout = \"soon\"\n"))
	if err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestClientConfigMirrorsServer(t *testing.T) {
	cfg := defaultServeConfig()
	cfg.Socket.Addr = "127.0.0.1:4000"
	cfg.Socket.Transport = transport.KindWebSocket
	cfg.Socket.HeaderWidth = 2
	cc := cfg.clientConfig("bot")
	if cc.Addr != "127.0.0.1:4000" || cc.Transport != transport.KindWebSocket || cc.HeaderWidth != 2 {
		t.Fatalf("unexpected client config: %+v", cc)
	}
	if cc.Name != "bot" {
		t.Fatalf("unexpected name: %q", cc.Name)
	}
}
