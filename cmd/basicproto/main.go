package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/quiqcl/basicproto/internal/config"
	"github.com/quiqcl/basicproto/internal/device"
	"github.com/quiqcl/basicproto/internal/logging"
	"github.com/quiqcl/basicproto/internal/protocol"
	"github.com/quiqcl/basicproto/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configFlag   string
	portFlag     string
	deviceFlag   string
	logLevelFlag string
)

var (
	cfg      *config.Config
	registry *device.Registry
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := execute(ctx, os.Args[1:])
	stop()

	if err != nil {
		if hint := errorHint(err); hint != "" {
			fmt.Fprintln(os.Stderr, hint)
		}
		os.Exit(1)
	}
}

// execute runs one command line. Devices opened by the command are closed
// and the logger is flushed whether or not the command succeeds.
func execute(ctx context.Context, args []string) (err error) {
	defer func() {
		if registry != nil {
			err = errors.Join(err, registry.CloseAll())
		}
		logging.Sync()
	}()

	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "basicproto",
		Short: "Talk to FPGA instruments over the BasicProtocol serial link",
		Long: `basicproto drives FPGA-based lab instruments (DDS, ADC, PID controllers)
that speak BasicProtocol over a serial port.

The target is chosen with --device (a name from the config file) or --port.
Without either, the first port that answers *IDN? is used.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Config file (default $XDG_CONFIG_HOME/basicproto/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	rootCmd.PersistentFlags().StringVarP(&deviceFlag, "device", "d", "", "Device name from the config file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error (default $"+logging.LogLevelEnvVar+" or off)")

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("basicproto %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	detectCmd := &cobra.Command{
		Use:   "detect",
		Short: "Probe every serial port for a BasicProtocol device",
		Args:  cobra.NoArgs,
		RunE:  runDetect,
	}

	rootCmd.AddCommand(versionCmd, listCmd, detectCmd)
	rootCmd.AddCommand(deviceCommands()...)
	rootCmd.AddCommand(bitsCommand())
	return rootCmd
}

func setup(cmd *cobra.Command, args []string) error {
	if err := logging.Initialize(logLevelFlag); err != nil {
		return err
	}
	if registry == nil {
		registry = device.NewRegistry(logging.Named("registry"))
	}
	return nil
}

// loadConfig loads the configuration on first use, so commands that never
// open a device run even when the config file is broken.
func loadConfig() (*config.Config, error) {
	if cfg != nil {
		return cfg, nil
	}
	c, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	cfg = c
	return cfg, nil
}

// errorHint suggests a recovery step for errors that leave the link unusable.
func errorHint(err error) string {
	switch {
	case errors.Is(err, serial.ErrPortClosed):
		return "The serial port was closed; reopen it and retry."
	case errors.Is(err, protocol.ErrTerminatorMismatch), errors.Is(err, protocol.ErrTimeout):
		return "The link is out of sync; run 'basicproto escape C' to resynchronise."
	default:
		return ""
	}
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}

	return nil
}
