package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/meldtp/internal/logging"
	"github.com/standardbeagle/meldtp/internal/plugin"
	"github.com/standardbeagle/meldtp/internal/transport"
)

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <method> [json-params]",
		Short: "Make one remote call to Meld Studio and print the result",
		Example: `  meldtp call Scenes.GetSceneList
  meldtp call Scenes.SetCurrentScene '{"sceneName":"BRB"}'
  meldtp call --transport cli Stats.GetStats`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runCall,
	}
	cmd.Flags().String("transport", "", "Transport: webchannel, cli or mock (overrides config)")
	cmd.Flags().String("host", "", "Meld host (overrides config)")
	cmd.Flags().Int("port", 0, "Meld port (overrides config)")
	return cmd
}

func parseParams(args []string) (any, error) {
	if len(args) < 2 || args[1] == "" {
		return map[string]any{}, nil
	}
	var params any
	if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
		return nil, fmt.Errorf("params must be JSON: %w", err)
	}
	return params, nil
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	params, err := parseParams(args)
	if err != nil {
		return err
	}

	s := cfg.Settings
	if v, _ := cmd.Flags().GetString("transport"); v != "" {
		s.Transport = v
	}
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		s.Host = v
	}
	if v, _ := cmd.Flags().GetInt("port"); v > 0 {
		s.Port = v
	}

	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(s.LogLevel))
	logger := logging.New(cmd.ErrOrStderr(), level)

	tr, err := transport.New(plugin.BridgeOptions(cfg, s).Transport, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.RequestTimeout)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		return err
	}
	defer tr.Disconnect()

	result, err := tr.Call(ctx, args[0], params)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
