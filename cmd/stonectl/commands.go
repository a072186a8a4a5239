package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/chaz8081/stonectl/internal/ble"
	"github.com/chaz8081/stonectl/internal/ble/protocol"
	"github.com/chaz8081/stonectl/internal/config"
	"github.com/chaz8081/stonectl/internal/dfu"
	"github.com/chaz8081/stonectl/internal/monitor"
	"github.com/chaz8081/stonectl/internal/scan"
)

func commands() []cli.Command {
	durationFlag := cli.DurationFlag{
		Name:  "duration, d",
		Usage: "scan window, defaults to scan.duration from the config",
	}
	return []cli.Command{
		{
			Name:   "init",
			Usage:  "Write a default config file",
			Action: initCommand,
		},
		{
			Name:  "scan",
			Usage: "List stones in range",
			Flags: []cli.Flag{
				durationFlag,
				cli.BoolFlag{Name: "watch, w", Usage: "print validated advertisements as they arrive"},
				cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table"},
			},
			Action: scanCommand,
		},
		{
			Name:  "nearest",
			Usage: "Find the stone with the strongest signal",
			Flags: []cli.Flag{
				durationFlag,
				cli.IntFlag{Name: "rssi", Usage: "ignore stones weaker than this, defaults to scan.rssi_at_least"},
				cli.BoolFlag{Name: "setup", Usage: "only consider stones in setup mode"},
				cli.BoolFlag{Name: "first", Usage: "return the first acceptable stone"},
				cli.BoolFlag{Name: "unvalidated", Usage: "also consider advertisements that are not validated yet"},
				cli.StringSliceFlag{Name: "exclude, x", Usage: "address to skip, repeatable"},
			},
			Action: nearestCommand,
		},
		{
			Name:      "mode",
			Usage:     "Check whether a stone is in normal or setup mode",
			ArgsUsage: "ADDRESS",
			Flags: []cli.Flag{
				durationFlag,
				cli.BoolFlag{Name: "setup", Usage: "check for setup mode instead of normal mode"},
				cli.BoolFlag{Name: "wait", Usage: "keep scanning until the stone is in the mode"},
			},
			Action: modeCommand,
		},
		{
			Name:      "rssi",
			Usage:     "Average the signal strength of a stone",
			ArgsUsage: "ADDRESS",
			Flags:     []cli.Flag{durationFlag},
			Action:    rssiCommand,
		},
		{
			Name:      "switch",
			Usage:     "Set the switch: 0-100, on, off, toggle or smart",
			ArgsUsage: "ADDRESS VALUE",
			Action:    switchCommand,
		},
		{
			Name:      "relay",
			Usage:     "Open or close the relay",
			ArgsUsage: "ADDRESS on|off",
			Action:    relayCommand,
		},
		{
			Name:      "dim",
			Usage:     "Set the dimmer intensity in percent",
			ArgsUsage: "ADDRESS PERCENT",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "allow", Usage: "allow dimming before setting the intensity"},
			},
			Action: dimCommand,
		},
		{
			Name:      "lock",
			Usage:     "Lock or unlock the switch",
			ArgsUsage: "ADDRESS on|off",
			Action:    lockCommand,
		},
		{
			Name:      "state",
			Usage:     "Read the state of a stone",
			ArgsUsage: "ADDRESS",
			Action:    stateCommand,
		},
		{
			Name:      "threshold",
			Usage:     "Read or set the dimmer current threshold in amperes",
			ArgsUsage: "ADDRESS [AMPS]",
			Action:    thresholdCommand,
		},
		{
			Name:      "samples",
			Usage:     "Read raw power samples",
			ArgsUsage: "ADDRESS",
			Action:    samplesCommand,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "type, t", Value: "now_unfiltered", Usage: "switchcraft, switchcraft_non_triggered, now_filtered, now_unfiltered or soft_fuse"},
				cli.IntFlag{Name: "index, i", Value: -1, Usage: "read only this buffer"},
				cli.BoolFlag{Name: "json", Usage: "print JSON instead of a summary"},
			},
		},
		{
			Name:      "reset",
			Usage:     "Reboot a stone",
			ArgsUsage: "ADDRESS",
			Action:    resetCommand,
		},
		{
			Name:      "factory-reset",
			Usage:     "Wipe a stone back to setup mode",
			ArgsUsage: "ADDRESS",
			Action:    factoryResetCommand,
		},
		{
			Name:      "recover",
			Usage:     "Factory reset a stone without keys, right after it powers on",
			ArgsUsage: "ADDRESS",
			Action:    recoverCommand,
		},
		{
			Name:      "dfu",
			Usage:     "Update stone firmware",
			ArgsUsage: "ADDRESS",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "package, p", Usage: "firmware zip with manifest.json, a path or an http(s) URL"},
				cli.StringFlag{Name: "dat", Usage: "init packet file"},
				cli.StringFlag{Name: "bin", Usage: "firmware image file"},
				cli.IntFlag{Name: "prn", Value: -1, Usage: "packet receipt notification interval, defaults to dfu.prn"},
				cli.BoolFlag{Name: "enter", Usage: "put the stone in DFU mode first"},
			},
			Action: dfuCommand,
		},
		{
			Name:  "microapp",
			Usage: "Manage microapps",
			Subcommands: []cli.Command{
				{
					Name:      "info",
					Usage:     "Show microapp limits and status",
					ArgsUsage: "ADDRESS",
					Action:    microappInfoCommand,
				},
				{
					Name:      "upload",
					Usage:     "Upload, validate and enable a microapp binary",
					ArgsUsage: "ADDRESS FILE",
					Flags: []cli.Flag{
						cli.IntFlag{Name: "index, i", Usage: "app slot"},
						cli.IntFlag{Name: "chunk", Value: protocol.DefaultMicroappChunkSize, Usage: "upload chunk size"},
					},
					Action: microappUploadCommand,
				},
				microappSlotCommand("validate", "Validate an uploaded microapp", (*ble.Client).ValidateMicroapp),
				microappSlotCommand("enable", "Enable a microapp", (*ble.Client).EnableMicroapp),
				microappSlotCommand("disable", "Disable a microapp", (*ble.Client).DisableMicroapp),
				microappSlotCommand("remove", "Remove a microapp", (*ble.Client).RemoveMicroapp),
			},
		},
		{
			Name:  "monitor",
			Usage: "Stream advertisements to websocket clients",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "listen, l", Usage: "listen address, defaults to monitor.listen"},
			},
			Action: monitorCommand,
		},
	}
}

func initCommand(c *cli.Context) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Println("Config already exists at", config.DefaultConfigPath())
		return nil
	}
	fmt.Println("Wrote", green(path))
	return nil
}

// args returns the n positional arguments of a command.
func args(c *cli.Context, n int) ([]string, error) {
	if c.NArg() != n {
		return nil, fmt.Errorf("%s: expected %d argument(s): %s", c.Command.Name, n, c.Command.ArgsUsage)
	}
	return c.Args()[:n], nil
}

func scanDuration(c *cli.Context, e *env) time.Duration {
	if d := c.Duration("duration"); d > 0 {
		return d
	}
	return e.cfg.Scan.Duration
}

func newScanner(e *env) (*scan.Scanner, error) {
	return scan.NewScanner(e.adapter, e.keys, nil)
}

func scanCommand(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	s, err := newScanner(e)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	if c.Bool("watch") {
		err := s.Run(ctx, scanDuration(c, e), func(ev scan.Event) bool {
			if ev.Type == scan.EventRaw {
				return false
			}
			if c.Bool("json") {
				printJSON(monitor.EventMessage(ev))
				return false
			}
			printEvent(ev)
			return false
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	devices, err := s.Gather(ctx, scanDuration(c, e))
	if err != nil {
		return err
	}
	if c.Bool("json") {
		printJSON(devices)
		return nil
	}
	if len(devices) == 0 {
		fmt.Println(yellow("No stones found"))
		return nil
	}
	for _, d := range devices {
		printSummary(d)
	}
	return nil
}

func nearestCommand(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	s, err := newScanner(e)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	opts := scan.NearestOptions{
		RSSIAtLeast:           e.cfg.Scan.RSSIAtLeast,
		SetupOnly:             c.Bool("setup"),
		ReturnFirstAcceptable: c.Bool("first"),
		Exclude:               c.StringSlice("exclude"),
		IncludeUnvalidated:    c.Bool("unvalidated"),
	}
	if c.IsSet("rssi") {
		opts.RSSIAtLeast = c.Int("rssi")
	}

	nearest, err := s.Nearest(ctx, opts, scanDuration(c, e))
	if errors.Is(err, scan.ErrNotSeen) {
		fmt.Println(yellow("No stone matched"))
		return nil
	}
	if err != nil {
		return err
	}
	printSummary(nearest)
	return nil
}

func modeCommand(c *cli.Context) error {
	a, err := args(c, 1)
	if err != nil {
		return err
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	s, err := newScanner(e)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	query, want := s.IsInNormalMode, "normal"
	if c.Bool("setup") {
		query, want = s.IsInSetupMode, "setup"
	}
	inMode, err := query(ctx, a[0], scanDuration(c, e), c.Bool("wait"))
	if errors.Is(err, scan.ErrNotSeen) {
		fmt.Printf("%s was not seen\n", cyan(a[0]))
		return nil
	}
	if err != nil {
		return err
	}
	if inMode {
		fmt.Printf("%s is in %s mode\n", cyan(a[0]), green(want))
	} else {
		fmt.Printf("%s is %s in %s mode\n", cyan(a[0]), red("not"), want)
	}
	return nil
}

func rssiCommand(c *cli.Context) error {
	a, err := args(c, 1)
	if err != nil {
		return err
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	s, err := newScanner(e)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	avg, err := s.RSSIAverage(ctx, a[0], scanDuration(c, e))
	if errors.Is(err, scan.ErrNotSeen) {
		fmt.Printf("%s was not seen\n", cyan(a[0]))
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s %.1f dBm\n", cyan(a[0]), avg)
	return nil
}

// withClient connects to address, runs fn and disconnects.
func withClient(c *cli.Context, address string, ignoreEncryption bool, fn func(ctx context.Context, client *ble.Client) error) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	client := e.newClient()
	if err := client.Connect(ctx, address, ignoreEncryption); err != nil {
		return err
	}
	defer client.Disconnect()
	return fn(ctx, client)
}

func switchCommand(c *cli.Context) error {
	a, err := args(c, 2)
	if err != nil {
		return err
	}
	value, err := parseSwitchValue(a[1])
	if err != nil {
		return err
	}
	return withClient(c, a[0], false, func(ctx context.Context, client *ble.Client) error {
		return client.SetSwitch(ctx, value)
	})
}

func relayCommand(c *cli.Context) error {
	a, err := args(c, 2)
	if err != nil {
		return err
	}
	on, err := parseOnOff(a[1])
	if err != nil {
		return err
	}
	return withClient(c, a[0], false, func(ctx context.Context, client *ble.Client) error {
		return client.SetRelay(ctx, on)
	})
}

func dimCommand(c *cli.Context) error {
	a, err := args(c, 2)
	if err != nil {
		return err
	}
	percent, err := parsePercent(a[1])
	if err != nil {
		return err
	}
	return withClient(c, a[0], false, func(ctx context.Context, client *ble.Client) error {
		if c.Bool("allow") {
			if err := client.AllowDimming(ctx, true); err != nil {
				return err
			}
		}
		return client.SetDimmer(ctx, percent)
	})
}

func lockCommand(c *cli.Context) error {
	a, err := args(c, 2)
	if err != nil {
		return err
	}
	lock, err := parseOnOff(a[1])
	if err != nil {
		return err
	}
	return withClient(c, a[0], false, func(ctx context.Context, client *ble.Client) error {
		return client.LockSwitch(ctx, lock)
	})
}

func stateCommand(c *cli.Context) error {
	a, err := args(c, 1)
	if err != nil {
		return err
	}
	return withClient(c, a[0], false, func(ctx context.Context, client *ble.Client) error {
		sw, err := client.GetSwitchState(ctx)
		if err != nil {
			return err
		}
		power, err := client.GetPowerUsage(ctx)
		if err != nil {
			return err
		}
		temp, err := client.GetChipTemperature(ctx)
		if err != nil {
			return err
		}
		dimming, err := client.GetDimmingAllowed(ctx)
		if err != nil {
			return err
		}
		stoneTime, err := client.GetTime(ctx)
		if err != nil {
			return err
		}
		errs, err := client.GetErrors(ctx)
		if err != nil {
			return err
		}

		fmt.Println(cyan(a[0]))
		fmt.Printf("  Switch:   %s\n", sw)
		fmt.Printf("  Power:    %.1f W\n", power)
		fmt.Printf("  Chip:     %d C\n", temp)
		fmt.Printf("  Dimming:  %t\n", dimming)
		fmt.Printf("  Time:     %s\n", stoneTime.Format(time.DateTime))
		if errs.HasErrors() {
			fmt.Printf("  Errors:   %s\n", red(fmt.Sprintf("0x%08x", uint32(errs))))
		} else {
			fmt.Printf("  Errors:   %s\n", green("none"))
		}
		return nil
	})
}

func thresholdCommand(c *cli.Context) error {
	if c.NArg() != 1 && c.NArg() != 2 {
		return fmt.Errorf("%s: expected 1 or 2 arguments: %s", c.Command.Name, c.Command.ArgsUsage)
	}
	address := c.Args().Get(0)
	if c.NArg() == 1 {
		return withClient(c, address, false, func(ctx context.Context, client *ble.Client) error {
			amps, err := client.GetCurrentThresholdDimmer(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s dimmer threshold %.3f A\n", cyan(address), amps)
			return nil
		})
	}
	amps, err := parseAmps(c.Args().Get(1))
	if err != nil {
		return err
	}
	return withClient(c, address, false, func(ctx context.Context, client *ble.Client) error {
		if err := client.SetCurrentThresholdDimmer(ctx, amps); err != nil {
			return err
		}
		fmt.Printf("%s dimmer threshold set to %s\n", cyan(address), green(fmt.Sprintf("%.3f A", amps)))
		return nil
	})
}

func samplesCommand(c *cli.Context) error {
	a, err := args(c, 1)
	if err != nil {
		return err
	}
	kind, err := protocol.ParsePowerSamplesType(c.String("type"))
	if err != nil {
		return err
	}
	index := c.Int("index")
	if index > 255 {
		return fmt.Errorf("samples index must be between 0 and 255, got %d", index)
	}
	return withClient(c, a[0], false, func(ctx context.Context, client *ble.Client) error {
		var all []*protocol.PowerSamples
		if index >= 0 {
			ps, err := client.GetPowerSamplesAtIndex(ctx, kind, uint8(index))
			if err != nil {
				return err
			}
			all = append(all, ps)
		} else if all, err = client.GetPowerSamples(ctx, kind); err != nil {
			return err
		}

		if c.Bool("json") {
			printJSON(all)
			return nil
		}
		if len(all) == 0 {
			fmt.Println(yellow("no power samples"))
			return nil
		}
		for _, ps := range all {
			fmt.Println(ps)
			fmt.Printf("  %v\n", ps.Samples)
		}
		return nil
	})
}

func resetCommand(c *cli.Context) error {
	a, err := args(c, 1)
	if err != nil {
		return err
	}
	return withClient(c, a[0], false, func(ctx context.Context, client *ble.Client) error {
		return client.Reset(ctx)
	})
}

func factoryResetCommand(c *cli.Context) error {
	a, err := args(c, 1)
	if err != nil {
		return err
	}
	return withClient(c, a[0], false, func(ctx context.Context, client *ble.Client) error {
		if err := client.FactoryReset(ctx); err != nil {
			return err
		}
		fmt.Println(green("Factory reset accepted"))
		return nil
	})
}

func recoverCommand(c *cli.Context) error {
	a, err := args(c, 1)
	if err != nil {
		return err
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	if err := e.newClient().Recover(ctx, a[0]); err != nil {
		return err
	}
	fmt.Println(green("Recovery complete"), "the stone is back in setup mode")
	return nil
}

func loadImages(ctx context.Context, c *cli.Context, e *env) ([]*dfu.Image, error) {
	if pkg := c.String("package"); pkg != "" {
		if dfu.IsURL(pkg) {
			path, err := dfu.Fetch(ctx, pkg, e.cfg.DFU.CacheDir, func(written, total int64) {
				if total > 0 {
					fmt.Printf("\r  downloading %.1f / %.1f kB", float64(written)/1024, float64(total)/1024)
				}
			})
			fmt.Println()
			if err != nil {
				return nil, err
			}
			pkg = path
		}
		return dfu.LoadPackage(pkg)
	}
	if c.String("dat") == "" || c.String("bin") == "" {
		return nil, errors.New("dfu: pass --package or both --dat and --bin")
	}
	img, err := dfu.LoadFiles(c.String("dat"), c.String("bin"))
	if err != nil {
		return nil, err
	}
	return []*dfu.Image{img}, nil
}

func dfuCommand(c *cli.Context) error {
	a, err := args(c, 1)
	if err != nil {
		return err
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	images, err := loadImages(ctx, c, e)
	if err != nil {
		return err
	}

	client := e.newClient()
	if c.Bool("enter") {
		if err := enterDFU(ctx, e, client, a[0]); err != nil {
			return err
		}
	}

	prn := e.cfg.DFU.PRN
	if p := c.Int("prn"); p >= 0 {
		prn = uint16(p)
	}

	for _, img := range images {
		if err := client.Connect(ctx, a[0], true); err != nil {
			return err
		}
		if err := flash(ctx, client, img, prn, e.cfg.DFU.Retries); err != nil {
			client.Disconnect()
			return err
		}
		// The bootloader activates the image and reboots.
		if err := client.WaitForPeerDisconnect(ctx, e.cfg.Timeouts.Connect); err != nil {
			client.Disconnect()
		}
	}
	fmt.Println(green("Update complete"))
	return nil
}

// enterDFU reboots a stone in normal mode into its bootloader.
func enterDFU(ctx context.Context, e *env, client *ble.Client, address string) error {
	if err := client.Connect(ctx, address, false); err != nil {
		return err
	}
	if err := client.PutInDFUMode(ctx); err != nil {
		client.Disconnect()
		return err
	}
	if err := client.WaitForPeerDisconnect(ctx, e.cfg.Timeouts.Connect); err != nil {
		client.Disconnect()
		return err
	}
	return nil
}

func flash(ctx context.Context, client *ble.Client, img *dfu.Image, prn uint16, retries int) error {
	transport, err := client.OpenDFU()
	if err != nil {
		return err
	}
	defer transport.Close()

	total := len(img.Firmware)
	sent := 0
	engine := dfu.NewEngine(transport, dfu.Options{
		PRN:     prn,
		Retries: retries,
		Progress: func(delta int) {
			sent += delta
			fmt.Printf("\r%s %3d%%", img.Name, sent*100/max(total, 1))
		},
	})
	err = engine.Update(ctx, img)
	fmt.Println()
	return err
}

func microappInfoCommand(c *cli.Context) error {
	a, err := args(c, 1)
	if err != nil {
		return err
	}
	return withClient(c, a[0], false, func(ctx context.Context, client *ble.Client) error {
		info, err := client.GetMicroappInfo(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("  Protocol:  %d\n", info.Protocol)
		fmt.Printf("  SDK:       %d.%d\n", info.SDKMajor, info.SDKMinor)
		fmt.Printf("  Apps:      %d\n", info.MaxApps)
		fmt.Printf("  App size:  %d\n", info.MaxAppSize)
		fmt.Printf("  Chunk:     %d\n", info.MaxChunkSize)
		fmt.Printf("  RAM:       %d\n", info.MaxRAMUsage)
		return nil
	})
}

func microappUploadCommand(c *cli.Context) error {
	a, err := args(c, 2)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(a[1])
	if err != nil {
		return fmt.Errorf("microapp: reading binary: %w", err)
	}
	index, err := slot(c.Int("index"))
	if err != nil {
		return err
	}
	return withClient(c, a[0], false, func(ctx context.Context, client *ble.Client) error {
		if err := client.UploadMicroapp(ctx, data, index, c.Int("chunk")); err != nil {
			return err
		}
		if err := client.ValidateMicroapp(ctx, index); err != nil {
			return err
		}
		if err := client.EnableMicroapp(ctx, index); err != nil {
			return err
		}
		fmt.Printf("Microapp %d %s\n", index, green("enabled"))
		return nil
	})
}

func microappSlotCommand(name, usage string, op func(*ble.Client, context.Context, uint8) error) cli.Command {
	return cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			cli.IntFlag{Name: "index, i", Usage: "app slot"},
		},
		Action: func(c *cli.Context) error {
			a, err := args(c, 1)
			if err != nil {
				return err
			}
			index, err := slot(c.Int("index"))
			if err != nil {
				return err
			}
			return withClient(c, a[0], false, func(ctx context.Context, client *ble.Client) error {
				return op(client, ctx, index)
			})
		},
	}
}

func monitorCommand(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	s, err := newScanner(e)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	listen := e.cfg.Monitor.Listen
	if l := c.String("listen"); l != "" {
		listen = l
	}

	hub := monitor.NewHub()
	defer hub.Close()
	mux := http.NewServeMux()
	mux.Handle("/ws", hub.Handler())
	srv := &http.Server{Addr: listen, Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	fmt.Printf("Streaming advertisements on %s\n", cyan("ws://"+listen+"/ws"))

	scanErr := make(chan error, 1)
	go func() {
		scanErr <- s.Run(ctx, 0, hub.Consume)
	}()

	select {
	case err = <-scanErr:
	case err = <-serveErr:
		stop()
		<-scanErr
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func printSummary(d scan.Summary) {
	mode := d.Mode.String()
	switch d.Mode {
	case scan.ModeSetup:
		mode = yellow(mode)
	case scan.ModeDFU:
		mode = red(mode)
	default:
		mode = green(mode)
	}
	validated := ""
	if !d.Validated {
		validated = yellow(" (unvalidated)")
	}
	fmt.Printf("%s  %4d dBm  %-6s  id=%-3d  %s%s\n", cyan(d.Address), d.RSSI, mode, d.DeviceID, d.Name, validated)
}

func printEvent(ev scan.Event) {
	r := ev.Record
	if r.Data == nil || ev.Type != scan.EventValidated {
		return
	}
	fmt.Printf("%s  %4d dBm  id=%-3d  %s  %.1f W\n", cyan(r.Address), r.RSSI, r.DeviceID(), r.Data.SwitchState, r.Data.PowerUsage)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}

func parsePercent(s string) (uint8, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 || v > 100 {
		return 0, fmt.Errorf("expected a percentage between 0 and 100, got %q", s)
	}
	return uint8(v), nil
}

func parseAmps(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 65.535 {
		return 0, fmt.Errorf("expected a current between 0 and 65.535 A, got %q", s)
	}
	return v, nil
}

func parseSwitchValue(s string) (uint8, error) {
	switch strings.ToLower(s) {
	case "on":
		return 100, nil
	case "off":
		return 0, nil
	case "toggle":
		return protocol.SwitchToggle, nil
	case "smart":
		return protocol.SwitchSmartOn, nil
	}
	return parsePercent(s)
}

func slot(index int) (uint8, error) {
	if index < 0 || index > 255 {
		return 0, fmt.Errorf("microapp index must be between 0 and 255, got %d", index)
	}
	return uint8(index), nil
}
