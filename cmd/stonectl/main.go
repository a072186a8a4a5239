package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/chaz8081/stonectl/internal/ble"
	"github.com/chaz8081/stonectl/internal/ble/crypto"
	"github.com/chaz8081/stonectl/internal/config"
)

var version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "stonectl"
	app.Usage = "scan, control and update stones over Bluetooth LE"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to config file (default: ~/.config/stonectl/config.yaml)",
		},
		cli.StringFlag{
			Name:  "adapter, a",
			Usage: "HCI adapter to use, overrides the config file",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error, overrides the config file",
		},
	}
	app.Commands = commands()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, red("error: ")+err.Error())
		os.Exit(1)
	}
}

// env is the state shared by every command that touches the radio.
type env struct {
	cfg     *config.Config
	keys    *crypto.Keyset
	adapter ble.Adapter
}

// setup loads the config, installs the logger and opens the adapter.
func setup(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if adapter := c.GlobalString("adapter"); adapter != "" {
		cfg.Adapter = adapter
		cfg.AdapterAddress = ""
	}
	if level := c.GlobalString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	keys, err := cfg.Keyset()
	if err != nil {
		return nil, err
	}

	id := cfg.Adapter
	if cfg.AdapterAddress != "" {
		id, err = ble.ResolveAdapterID(cfg.AdapterAddress)
		if err != nil {
			return nil, err
		}
		slog.Debug("[BLE] adapter resolved", "address", cfg.AdapterAddress, "id", id)
	}

	return &env{
		cfg:     cfg,
		keys:    keys,
		adapter: ble.NewTinygoAdapter(id),
	}, nil
}

func (e *env) clientOptions() ble.ClientOptions {
	opts := ble.DefaultClientOptions()
	opts.ConnectTimeout = e.cfg.Timeouts.Connect
	opts.CommandTimeout = e.cfg.Timeouts.Command
	opts.StreamTimeout = e.cfg.Timeouts.Stream
	opts.RecoverySettle = e.cfg.Recovery.Settle
	return opts
}

func (e *env) newClient() *ble.Client {
	return ble.NewClient(e.adapter, e.keys, e.clientOptions())
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}
