package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/sockframe/internal/relay"
	"github.com/spf13/cobra"
)

func relayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run or talk to the text relay",
	}
	cmd.AddCommand(relayServeCmd(), relaySendCmd())
	return cmd
}

func relayServeCmd() *cobra.Command {
	var configPath, addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Route broadcast and direct messages between peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Socket.Addr = addr
			}
			sockCfg := cfg.Socket
			sockCfg.Name = "relay"
			sockCfg.MaxConnections = 0
			srv := relay.NewServer(sockCfg)
			if err := srv.Start(cmd.Context()); err != nil {
				return err
			}
			defer srv.Stop()
			fmt.Fprintf(cmd.OutOrStdout(), "relay listening on %s\n", srv.Addr())
			select {
			case <-srv.Done():
			case <-cmd.Context().Done():
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address")
	return cmd
}

type relayRequest struct {
	Broadcast string
	To        int
	Direct    string
	Abort     bool
	Wait      time.Duration
}

func relaySendCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		req        relayRequest
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one request to a relay and print the replies",
		Long: `Send one request to a relay and print the replies.

Examples:
  sockctl relay send --broadcast "hello"
  sockctl relay send --to 1 --direct "hi C1"
  sockctl relay send --abort`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Socket.Addr = addr
			}
			return sendRelay(cmd.Context(), relay.NewClient(cfg.clientConfig("relay-client")), req, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().StringVar(&addr, "addr", "", "Relay address")
	cmd.Flags().StringVar(&req.Broadcast, "broadcast", "", "Message for every connected peer")
	cmd.Flags().IntVar(&req.To, "to", -1, "Recipient tid for --direct")
	cmd.Flags().StringVar(&req.Direct, "direct", "", "Message for the peer named by --to")
	cmd.Flags().BoolVar(&req.Abort, "abort", false, "Ask the relay to shut down")
	cmd.Flags().DurationVar(&req.Wait, "wait", 500*time.Millisecond, "How long to collect replies")
	return cmd
}

// sendRelay introduces c, sends req and copies notices to out until req.Wait
// passes or the relay closes.
func sendRelay(ctx context.Context, c *relay.Client, req relayRequest, out io.Writer) error {
	if req.Direct != "" && req.To < 0 {
		return errors.New("sockctl: --direct needs --to")
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Stop()

	if err := c.WhoAmI(); err != nil {
		return err
	}
	if req.Broadcast != "" {
		if err := c.Broadcast(req.Broadcast); err != nil {
			return err
		}
	}
	if req.Direct != "" {
		if err := c.Direct(req.To, req.Direct); err != nil {
			return err
		}
	}
	if req.Abort {
		if err := c.Abort(); err != nil {
			return err
		}
	}

	deadline := time.After(req.Wait)
	for {
		select {
		case text := <-c.Notices():
			fmt.Fprintln(out, text)
		case <-c.Done():
			return nil
		case <-deadline:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
