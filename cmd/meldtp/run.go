package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/meldtp/internal/bridge"
	"github.com/standardbeagle/meldtp/internal/capability"
	"github.com/standardbeagle/meldtp/internal/config"
	"github.com/standardbeagle/meldtp/internal/logging"
	"github.com/standardbeagle/meldtp/internal/metrics"
	"github.com/standardbeagle/meldtp/internal/plugin"
	"github.com/standardbeagle/meldtp/internal/touchportal"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run as a Touch Portal plugin",
		Long: `Connect to Touch Portal, pair, and serve until Touch Portal closes the
plugin or the process is interrupted. Meld connection settings arrive from
Touch Portal; the config file supplies the rest.`,
		Args: cobra.NoArgs,
		RunE: runPlugin,
	}
	addPluginFlags(cmd)
	return cmd
}

func addPluginFlags(cmd *cobra.Command) {
	cmd.Flags().String("tp-host", "", "Touch Portal host (overrides config)")
	cmd.Flags().Int("tp-port", 0, "Touch Portal plugin port (overrides config)")
	cmd.Flags().String("plugin-id", "", "Plugin id to pair with (overrides config)")
}

// loadConfig reads --config and applies the Touch Portal flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if f := cmd.Flags().Lookup("tp-host"); f != nil && f.Changed {
		cfg.TPHost = f.Value.String()
	}
	if f := cmd.Flags().Lookup("tp-port"); f != nil && f.Changed {
		cfg.TPPort, _ = cmd.Flags().GetInt("tp-port")
	}
	if f := cmd.Flags().Lookup("plugin-id"); f != nil && f.Changed {
		cfg.PluginID = f.Value.String()
	}
	return cfg, nil
}

func runPlugin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	logger := logging.New(os.Stderr, level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	client := touchportal.New(touchportal.Config{
		Host:     cfg.TPHost,
		Port:     cfg.TPPort,
		PluginID: cfg.PluginID,
	}, logger)
	ctrl := bridge.NewController(bridge.Config{
		Table:   capability.Meld(),
		Host:    plugin.NewHost(client),
		Options: plugin.BridgeOptions(cfg, cfg.Settings),
		Logger:  logger,
		Metrics: m,
	})
	p := plugin.New(plugin.Config{
		Controller: ctrl,
		Notifier:   client,
		Base:       cfg,
		Level:      level,
		Logger:     logger,
		OnClose:    cancel,
	})

	if cfg.StatusListen != "" {
		srv := metrics.NewServer(cfg.StatusListen, metrics.NewHandler(ctrl, m), logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("status server stopped", "error", err)
			}
		}()
	}

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to Touch Portal: %w", err)
	}

	runErr := client.Run(ctx, func(ev touchportal.Event) { p.Handle(ctx, ev) })
	if runErr != nil && !errors.Is(runErr, touchportal.ErrClosed) {
		p.HandleError(runErr)
	}

	logger.Info("shutting down")
	p.Shutdown()
	p.Wait()
	_ = client.Close()

	if errors.Is(runErr, touchportal.ErrClosed) {
		return nil
	}
	return runErr
}
