package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cjeanneret/eosctl/internal/config"
	"github.com/cjeanneret/eosctl/internal/debug"
	"github.com/cjeanneret/eosctl/internal/encoder"
	"github.com/cjeanneret/eosctl/internal/hw/device"
	"github.com/cjeanneret/eosctl/internal/hw/gpio"
	"github.com/cjeanneret/eosctl/internal/hw/remote"
	"github.com/cjeanneret/eosctl/internal/hw/tally"
	"github.com/cjeanneret/eosctl/internal/logic/capture"
	"github.com/cjeanneret/eosctl/internal/logic/retry"
	"github.com/cjeanneret/eosctl/internal/session"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	debug.SetOutput(os.Stderr)
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries the global flags and the resources opened for one command.
type app struct {
	cfgPath string
	device  string
	port    string
	debug   int

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{debug: -1}
	root := &cobra.Command{
		Use:   "eosctl",
		Short: "Remote control for Canon EOS dual-mode bodies",
		Long: `eosctl drives a Canon EOS body in PHOTO or VIDEO mode over USB: exposure
parameters, stills, bursts, live-view recordings and full-resolution video.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}

	// Global flags
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "path to config file (.yaml); defaults apply when empty")
	root.PersistentFlags().StringVar(&a.device, "device", "", "override device.type (e.g. simulated)")
	root.PersistentFlags().StringVar(&a.port, "port", "", "override device.port")
	root.PersistentFlags().IntVar(&a.debug, "debug", -1, "override defaults.debug_level (0-4)")

	root.AddCommand(
		a.infoCommand(),
		a.configCommand(),
		a.paramsCommand(),
		a.afCommand(),
		a.focusCommand(),
		a.captureCommand(),
		a.burstCommand(),
		a.previewCommand(),
		a.previewVideoCommand(),
		a.recordCommand(),
		a.filesCommand(),
		a.syncTimeCommand(),
		a.resetCommand(),
		a.benchCommand(),
	)
	return root
}

// loadConfig reads the config file (or defaults) and applies flag overrides.
func (a *app) loadConfig() error {
	cfg := config.Default()
	if a.cfgPath != "" {
		loaded, err := config.Load(a.cfgPath)
		if err != nil {
			return fmt.Errorf("load config failed: %w", err)
		}
		cfg = loaded
	}
	if a.device != "" {
		cfg.Device.Type = a.device
	}
	if a.port != "" {
		cfg.Device.Port = a.port
	}
	if a.debug >= 0 {
		cfg.Defaults.DebugLevel = a.debug
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", a.cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	return nil
}

// sessionOptions maps the configuration onto session options.
func sessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		Retry: &retry.Policy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.InitialBackoff(),
			MaxBackoff:     cfg.MaxBackoff(),
		},
		Timing: capture.Timing{
			Poll:         cfg.Poll(),
			StillTimeout: cfg.StillTimeout(),
			BurstPoll:    cfg.BurstPoll(),
			QuietPeriod:  cfg.QuietPeriod(),
			SaveTimeout:  cfg.SaveTimeout(),
		},
		DownloadDir: cfg.Capture.DownloadDir,
	}
}

// withSession opens the camera, runs fn and releases everything. When the
// command context is cancelled (SIGINT), the capture controls are reset
// before the camera is closed.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session.Session, out io.Writer) error) (err error) {
	ctx := cmd.Context()
	opts := sessionOptions(a.cfg)

	debug.Step(1, "Opening camera")
	debug.Value("Device type", a.cfg.Device.Type)
	gw, err := device.Open(a.cfg.Device.Type, a.cfg.Device.Port)
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}

	if a.cfg.Tally.Enabled || a.cfg.Remote.Enabled {
		debug.Step(2, "Initializing GPIO driver")
		debug.Value("Mock GPIO", a.cfg.Defaults.MockGPIO)
		driver, err := gpio.NewDriver(a.cfg.Defaults.MockGPIO)
		if err != nil {
			_ = gw.Close()
			return fmt.Errorf("init GPIO failed: %w", err)
		}
		defer func() {
			if err := driver.Close(); err != nil {
				debug.Error(fmt.Errorf("closing GPIO driver failed: %w", err))
			}
		}()
		if a.cfg.Tally.Enabled {
			debug.Value("Tally pin", a.cfg.Tally.Pin)
			lamp := tally.New(driver, a.cfg.Tally.Pin, a.cfg.Tally.ActiveLow)
			opts.Indicator = lamp
			defer func() {
				if err := lamp.Off(); err != nil {
					debug.Error(err)
				}
			}()
		}
		if a.cfg.Remote.Enabled {
			debug.Value("Focus pin", a.cfg.Remote.FocusPin)
			debug.Value("Shutter pin", a.cfg.Remote.ShutterPin)
			rel, err := remote.NewRelease(driver, a.cfg.Remote.FocusPin, a.cfg.Remote.ShutterPin, a.cfg.FocusDelay(), a.cfg.ShutterDelay())
			if err != nil {
				_ = gw.Close()
				return fmt.Errorf("init wired remote: %w", err)
			}
			gw = remote.Wrap(gw, rel)
		}
	}

	enc, err := encoder.New(a.cfg.Encoder.Kind, a.cfg.Encoder.FFmpeg)
	if err != nil {
		_ = gw.Close()
		return err
	}
	opts.Encoder = enc

	debug.Step(3, "Starting session")
	s, err := session.New(ctx, gw, opts)
	if err != nil {
		_ = gw.Close()
		return fmt.Errorf("start session: %w", err)
	}
	defer func() {
		if ctx.Err() != nil {
			if rerr := s.ResetAfterAbort(context.WithoutCancel(ctx)); rerr != nil {
				debug.Error(fmt.Errorf("reset after abort: %w", rerr))
			}
		}
		if cerr := s.Close(); cerr != nil && err == nil && !errors.Is(cerr, device.ErrDisconnected) {
			err = cerr
		}
	}()
	return fn(ctx, s, cmd.OutOrStdout())
}
