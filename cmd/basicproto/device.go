package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/quiqcl/basicproto/internal/detect"
	"github.com/quiqcl/basicproto/internal/device"
	"github.com/quiqcl/basicproto/internal/logging"
	"github.com/quiqcl/basicproto/internal/serial"
)

// openDevice resolves the target from --device, --port or auto-detection
// and opens it through the registry. A port already open in this process
// yields its existing handle.
func openDevice(cmd *cobra.Command) (*device.Device, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	opts := device.DefaultOptions()
	opts.Protocol = cfg.Protocol.ToProtocol()

	portName := portFlag
	if deviceFlag != "" {
		d, err := cfg.Device(deviceFlag)
		if err != nil {
			return nil, err
		}
		opts = cfg.Options(d)
		if portName == "" {
			portName = d.Port
		}
	}

	if portName != "" {
		if dev, ok := registry.Get(portName); ok {
			return dev, nil
		}
	}

	open := device.SerialOpener(cfg.Serial.ToSerial(), opts, logging.Named("device"))

	if portName == "" {
		fmt.Fprintln(os.Stderr, "Detecting device...")
		result, err := detect.DetectDevice(cmd.Context(), open)
		if err != nil {
			return nil, fmt.Errorf("device detection failed: %w", err)
		}
		portName = result.Port
		fmt.Fprintf(os.Stderr, "Found %q on %s @ %d baud\n", result.IDN, result.Port, cfg.Serial.BaudRate)
	}

	return registry.Open(portName, open)
}

// withDevice adapts a function taking the opened device to a cobra RunE.
func withDevice(fn func(cmd *cobra.Command, dev *device.Device, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		dev, err := openDevice(cmd)
		if err != nil {
			return err
		}
		return fn(cmd, dev, args)
	}
}

func deviceCommands() []*cobra.Command {
	idnCmd := &cobra.Command{
		Use:   "idn",
		Short: "Read the identification string",
		Args:  cobra.NoArgs,
		RunE: withDevice(func(cmd *cobra.Command, dev *device.Device, args []string) error {
			idn, err := dev.ReadIDN()
			if err != nil {
				return err
			}
			fmt.Println(idn)
			return nil
		}),
	}

	dnaCmd := &cobra.Command{
		Use:   "dna",
		Short: "Read the unique device DNA",
		Args:  cobra.NoArgs,
		RunE: withDevice(func(cmd *cobra.Command, dev *device.Device, args []string) error {
			dna, ready, err := dev.ReadDNA()
			if err != nil {
				return err
			}
			if !ready {
				fmt.Println("DNA not ready, try again")
				return nil
			}
			fmt.Println(dna)
			return nil
		}),
	}

	intensityCmd := &cobra.Command{
		Use:   "intensity",
		Short: "Read or adjust the LED intensity",
	}
	intensityCmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Read the LED intensity",
			Args:  cobra.NoArgs,
			RunE: withDevice(func(cmd *cobra.Command, dev *device.Device, args []string) error {
				v, err := dev.ReadIntensity()
				if err != nil {
					return err
				}
				fmt.Println(v)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "set <0-255>",
			Short: "Adjust the LED intensity",
			Args:  cobra.ExactArgs(1),
			RunE: withDevice(func(cmd *cobra.Command, dev *device.Device, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid intensity %q: %w", args[0], err)
				}
				return dev.AdjustIntensity(v)
			}),
		},
	)

	btfCmd := &cobra.Command{
		Use:   "btf",
		Short: "Inspect the BTF receive buffer",
	}
	btfCmd.AddCommand(
		&cobra.Command{
			Use:   "capture",
			Short: "Snapshot the BTF buffer",
			Args:  cobra.NoArgs,
			RunE: withDevice(func(cmd *cobra.Command, dev *device.Device, args []string) error {
				return dev.CaptureBTFBuffer()
			}),
		},
		&cobra.Command{
			Use:   "count <0-256>",
			Short: "Set how many bytes 'btf read' returns",
			Args:  cobra.ExactArgs(1),
			RunE: withDevice(func(cmd *cobra.Command, dev *device.Device, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid count %q: %w", args[0], err)
				}
				return dev.SetBTFReadCount(n)
			}),
		},
		&cobra.Command{
			Use:   "read",
			Short: "Read the captured BTF buffer",
			Args:  cobra.NoArgs,
			RunE: withDevice(func(cmd *cobra.Command, dev *device.Device, args []string) error {
				raw, err := dev.ReadBTFBuffer()
				if err != nil {
					return err
				}
				fmt.Printf("%d bytes\n% X\n", len(raw), raw)
				return nil
			}),
		},
	)

	escapeCmd := &cobra.Command{
		Use:   "escape <C|R|T|A|W>",
		Short: "Send an escape sequence",
		Long: `Send an escape sequence and check the device echoes it.

  C  clear the device input buffer and reset its receiver
  R  read the status word and the four data words
  T  debug trigger
  A  debug arm
  W  debug waveform`,
		Args: cobra.ExactArgs(1),
		RunE: withDevice(func(cmd *cobra.Command, dev *device.Device, args []string) error {
			c, err := parseEscape(args[0])
			if err != nil {
				return err
			}
			status, err := dev.Escape(c)
			if err != nil {
				return err
			}
			if status == nil {
				fmt.Println("OK")
				return nil
			}
			fmt.Printf("Status: %s\n", status.Word)
			for i, d := range status.Data {
				fmt.Printf("Data %d: %s\n", i, d)
			}
			return nil
		}),
	}

	testCmd := &cobra.Command{
		Use:   "test",
		Short: "Send a command that exercises DLE stuffing on the device",
		Args:  cobra.NoArgs,
		RunE: withDevice(func(cmd *cobra.Command, dev *device.Device, args []string) error {
			return dev.Test()
		}),
	}

	return []*cobra.Command{idnCmd, dnaCmd, intensityCmd, btfCmd, escapeCmd, testCmd}
}

func parseEscape(arg string) (byte, error) {
	if len(arg) != 1 {
		return 0, fmt.Errorf("escape must be a single character, got %q", arg)
	}
	c := strings.ToUpper(arg)[0]
	if !device.KnownEscape(c) {
		return 0, fmt.Errorf("%w: %q", device.ErrUnknownEscape, c)
	}
	return c, nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := device.DefaultOptions()
	opts.Protocol = cfg.Protocol.ToProtocol()
	open := device.SerialOpener(cfg.Serial.ToSerial(), opts, logging.Named("detect"))

	bar := progressbar.NewOptions(len(ports),
		progressbar.OptionSetDescription("Scanning"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetWriter(os.Stderr),
	)
	results, err := detect.Scan(cmd.Context(), ports, open, func(port string, _ *detect.Result, _ error) {
		bar.Describe(port)
		bar.Add(1)
	})
	bar.Finish()
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No BasicProtocol devices found")
		return nil
	}

	fmt.Printf("Found %d device(s):\n", len(results))
	for _, r := range results {
		fmt.Printf("  %-16s %s\n", r.Port, r.IDN)
	}
	return nil
}
