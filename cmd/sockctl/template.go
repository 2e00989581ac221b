package main

import (
	"fmt"
	"os"

	gotoml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

const templateHeader = "# sockctl table config. Durations use Go syntax (\"3s\", \"250ms\").\n\n"

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check a sockctl config file",
	}
	cmd.AddCommand(configInitCmd(), configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var (
		output string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template filled with the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := writeTemplate(output, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote config template to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "sockctl.toml", "Output path for the template")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Load and validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Validated %s: %d players on %s (%s)\n",
				args[0], cfg.Players, cfg.Socket.Addr, transportLabel(cfg.Socket.Transport))
			return nil
		},
	}
}

func transportLabel(kind string) string {
	if kind == "" {
		return "tcp"
	}
	return kind
}

// renderTemplate encodes cfg in the file format loadServeConfig reads.
func renderTemplate(cfg serveConfig) ([]byte, error) {
	raw := fileConfig{
		Name:           cfg.Socket.Name,
		Addr:           cfg.Socket.Addr,
		Transport:      transportLabel(cfg.Socket.Transport),
		WSPath:         cfg.Socket.WSPath,
		HeaderWidth:    cfg.Socket.HeaderWidth,
		MaxFrameBytes:  cfg.Socket.MaxFrameBytes,
		MaxConnections: cfg.Socket.MaxConnections,
		Players:        cfg.Players,
		AnnounceID:     cfg.Socket.AnnounceID,
		IdleTimeout:    cfg.IdleTimeout.String(),
		CheckPeriod:    cfg.CheckPeriod.String(),
		AdminAddr:      cfg.AdminAddr,
		Seed:           cfg.Seed,
	}
	body, err := gotoml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("render config template: %w", err)
	}
	return append([]byte(templateHeader), body...), nil
}

func writeTemplate(path string, overwrite bool) error {
	body, err := renderTemplate(defaultServeConfig())
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, body, 0o600)
}
