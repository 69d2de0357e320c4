// Command roborock-bridge keeps Roborock vacuums connected and writes their
// distinct state and status changes as JSON lines to stdout.
//
// Usage:
//
//	roborock-bridge [flags]
//
// Flags:
//
//	-c, --config string        Configuration file (default "roborock-bridge.yaml")
//	    --env-file string      Dotenv file loaded before the configuration (default ".env")
//	    --log-level string     Override log.level: debug, info, warn, error
//	    --protocol-log string  Override log.protocol: capture file for roborock-log
//	    --discover             List miIO devices on the local network and exit
//	    --interface string     Network interface for --discover
//	-i, --interactive          Start the interactive shell
//
// Examples:
//
//	# Run with tokens from .env
//	roborock-bridge -c /etc/roborock/bridge.yaml
//
//	# Find vacuums and their addresses
//	roborock-bridge --discover
//
//	# Debug a connection interactively, capturing the protocol
//	roborock-bridge -i --log-level debug --protocol-log bridge.rlog
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/lopelex/roborock-bridge/cmd/roborock-bridge/interactive"
	"github.com/lopelex/roborock-bridge/pkg/config"
	"github.com/lopelex/roborock-bridge/pkg/discovery"
	"github.com/lopelex/roborock-bridge/pkg/host"
	"github.com/lopelex/roborock-bridge/pkg/log"
	"github.com/lopelex/roborock-bridge/pkg/miio"
	"github.com/lopelex/roborock-bridge/pkg/roborock"
)

// Flags holds the command-line settings.
type Flags struct {
	ConfigFile  string
	EnvFile     string
	LogLevel    string
	ProtocolLog string
	Discover    bool
	Interface   string
	Interactive bool
}

var flags Flags

func init() {
	pflag.StringVarP(&flags.ConfigFile, "config", "c", "roborock-bridge.yaml", "Configuration file")
	pflag.StringVar(&flags.EnvFile, "env-file", ".env", "Dotenv file loaded before the configuration")
	pflag.StringVar(&flags.LogLevel, "log-level", "", "Override log.level: debug, info, warn, error")
	pflag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Override log.protocol: capture file for roborock-log")
	pflag.BoolVar(&flags.Discover, "discover", false, "List miIO devices on the local network and exit")
	pflag.StringVar(&flags.Interface, "interface", "", "Network interface for --discover")
	pflag.BoolVarP(&flags.Interactive, "interactive", "i", false, "Start the interactive shell")
}

func main() {
	pflag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if flags.Discover {
		if err := runDiscover(ctx, os.Stdout, flags.Interface); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cancel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc) error {
	if err := config.LoadEnv(flags.EnvFile); err != nil {
		return err
	}
	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return err
	}
	if flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
	}
	if flags.ProtocolLog != "" {
		cfg.Log.Protocol = flags.ProtocolLog
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var (
		stdout io.Writer = os.Stdout
		stderr io.Writer = os.Stderr
		shell  *interactive.Shell
	)
	if flags.Interactive {
		shell, err = interactive.New()
		if err != nil {
			return err
		}
		stdout, stderr = shell.Stdout(), shell.Stderr()
	}

	logger := newLogger(stderr, cfg.Log.Level)
	slog.SetDefault(logger)

	protocol, closeProtocol, err := newProtocolLogger(cfg.Log, logger)
	if err != nil {
		return err
	}
	defer closeProtocol()

	registry := host.NewRegistry()
	err = roborock.Register(registry, roborock.Options{
		Dialer:         miio.NewDialer(dialerConfig(cfg.Device), logger.With("component", "miio"), protocol),
		Device:         cfg.Device,
		ProtocolLogger: protocol,
	})
	if err != nil {
		return err
	}

	out := newLineOutput(stdout, stderr)
	rt := host.NewRuntime(registry, cfg, host.Options{
		Output: out,
		Debug:  out,
		Logger: logger,
	})

	logger.Info("starting roborock-bridge",
		"config", flags.ConfigFile,
		"nodes", len(cfg.Nodes),
		"connections", len(cfg.Connections))
	if err := rt.Start(ctx); err != nil {
		// Nodes that built keep running.
		logger.Error("some nodes failed to start", "error", err)
	}

	if shell != nil {
		shell.Bind(rt)
		go shell.Run(ctx, cancel)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return rt.Close()
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// newProtocolLogger opens the capture file, if any. At debug level protocol
// events are also written to the process log.
func newProtocolLogger(cfg config.Log, logger *slog.Logger) (log.Logger, func(), error) {
	var loggers []log.Logger
	closeFn := func() {}

	if cfg.Protocol != "" {
		fl, err := log.NewFileLogger(cfg.Protocol, log.WithMaxSize(cfg.ProtocolMaxSize))
		if err != nil {
			return nil, closeFn, fmt.Errorf("open protocol log: %w", err)
		}
		loggers = append(loggers, fl)
		closeFn = func() { _ = fl.Close() }
		logger.Info("protocol logging enabled", "path", cfg.Protocol)
	}
	if cfg.Level == "debug" {
		loggers = append(loggers, log.NewSlogAdapter(logger.With("component", "protocol")))
	}

	return log.Tee(loggers...), closeFn, nil
}

func dialerConfig(d config.Device) miio.Config {
	c := miio.DefaultConfig()
	if d.CallTimeout > 0 {
		c.CallTimeout = d.CallTimeout
	}
	if d.Retries >= 0 {
		c.Retries = d.Retries
	}
	return c
}

func runDiscover(ctx context.Context, w io.Writer, iface string) error {
	browser := discovery.NewBrowser(discovery.BrowserConfig{
		BrowseTimeout: discovery.BrowseTimeout,
		Interface:     iface,
	})
	defer browser.Stop()

	devices, err := browser.FindAll(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(w, "No miIO devices found")
		return nil
	}
	for _, d := range devices {
		marker := " "
		if d.IsVacuum() {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-40s %-16s id=%d mac=%s\n", marker, d.Model, d.Address(), d.DeviceID, d.MAC)
	}
	fmt.Fprintln(w, "\n* vacuum; use the address as the connection host")
	return nil
}
