package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/quiqcl/basicproto/internal/bitpattern"
	"github.com/quiqcl/basicproto/internal/device"
)

var sweepDelayFlag time.Duration

func bitsCommand() *cobra.Command {
	bitsCmd := &cobra.Command{
		Use:   "bits",
		Short: "Read or update the bit pattern",
		Long: `Read or update the device bit pattern.

Bits are numbered from 1, most significant bit of the first byte first.`,
	}

	getCmd := &cobra.Command{
		Use:   "get [index...]",
		Short: "Read the whole pattern or the given bits",
		RunE: withDevice(func(cmd *cobra.Command, dev *device.Device, args []string) error {
			if len(args) == 0 {
				p, err := dev.ReadBitPattern()
				if err != nil {
					return err
				}
				fmt.Println(p)
				return nil
			}

			indices, err := parseIndices(args)
			if err != nil {
				return err
			}
			bits, err := dev.ReadBits(indices)
			if err != nil {
				return err
			}
			for _, i := range indices {
				fmt.Printf("%d=%d\n", i, bits[i])
			}
			return nil
		}),
	}

	setCmd := &cobra.Command{
		Use:   "set <index=0|1>...",
		Short: "Change only the given bits",
		Args:  cobra.MinimumNArgs(1),
		RunE: withDevice(func(cmd *cobra.Command, dev *device.Device, args []string) error {
			updates, err := parseUpdates(args)
			if err != nil {
				return err
			}
			return dev.UpdateBitPattern(updates...)
		}),
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Walk a single set bit across the pattern, then restore it",
		Args:  cobra.NoArgs,
		RunE:  withDevice(runSweep),
	}
	sweepCmd.Flags().DurationVar(&sweepDelayFlag, "delay", 100*time.Millisecond, "Time each bit stays set")

	bitsCmd.AddCommand(getCmd, setCmd, sweepCmd)
	return bitsCmd
}

func runSweep(cmd *cobra.Command, dev *device.Device, args []string) error {
	original, err := dev.ReadBitPattern()
	if err != nil {
		return err
	}
	n := dev.Layout().Bits()

	restore := make([]bitpattern.Update, 0, n)
	clearAll := make([]bitpattern.Update, 0, n)
	for i, v := range original.All() {
		restore = append(restore, bitpattern.Update{Index: i + 1, Value: v == 1})
		clearAll = append(clearAll, bitpattern.Clear(i+1))
	}
	if err := dev.UpdateBitPattern(clearAll...); err != nil {
		return err
	}

	bar := progressbar.NewOptions(n,
		progressbar.OptionSetDescription("Sweeping"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetWriter(os.Stderr),
	)

	sweepErr := sweep(cmd, dev, n, bar)
	bar.Finish()

	if err := dev.UpdateBitPattern(restore...); err != nil {
		return fmt.Errorf("restore pattern: %w", err)
	}
	return sweepErr
}

func sweep(cmd *cobra.Command, dev *device.Device, n int, bar *progressbar.ProgressBar) error {
	for i := 1; i <= n; i++ {
		updates := []bitpattern.Update{bitpattern.Set(i)}
		if i > 1 {
			updates = append(updates, bitpattern.Clear(i-1))
		}
		if err := dev.UpdateBitPattern(updates...); err != nil {
			return err
		}
		bar.Set(i)

		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(sweepDelayFlag):
		}
	}
	return nil
}

func parseIndices(args []string) ([]int, error) {
	indices := make([]int, 0, len(args))
	for _, a := range args {
		i, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid bit index %q: %w", a, err)
		}
		indices = append(indices, i)
	}
	return indices, nil
}

// parseUpdates parses "index=value" arguments; value is 0 or 1.
func parseUpdates(args []string) ([]bitpattern.Update, error) {
	updates := make([]bitpattern.Update, 0, len(args))
	for _, a := range args {
		idx, val, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("invalid update %q: want index=0|1", a)
		}
		i, err := strconv.Atoi(idx)
		if err != nil {
			return nil, fmt.Errorf("invalid bit index %q: %w", idx, err)
		}
		switch val {
		case "1":
			updates = append(updates, bitpattern.Set(i))
		case "0":
			updates = append(updates, bitpattern.Clear(i))
		default:
			return nil, fmt.Errorf("invalid bit value %q: want 0 or 1", val)
		}
	}
	return updates, nil
}
