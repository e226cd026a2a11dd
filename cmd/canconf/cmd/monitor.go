package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fatih/color"
	"github.com/roffe/canconf"
	"github.com/roffe/canconf/pkg/device"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor the CANbus for frames and decode device signals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		quiet, _ := cmd.Flags().GetBool("quiet")
		interval, _ := cmd.Flags().GetDuration("values")

		reg, err := cfg.Registry(log.Printf)
		if err != nil {
			return err
		}

		log.Println("Entering monitoring mode")
		m, err := initCAN(cmd.Context())
		if err != nil {
			return err
		}
		return monitor(cmd.Context(), m, reg, quiet, interval)
	},
}

func init() {
	monitorCmd.Flags().BoolP("quiet", "q", false, "do not print frames")
	monitorCmd.Flags().Duration("values", time.Second, "how often to print decoded values, 0 disables")
	rootCmd.AddCommand(monitorCmd)
}

func monitor(ctx context.Context, m *canconf.Manager, reg *device.Registry, quiet bool, interval time.Duration) error {
	defer m.Disconnect()

	cancel := m.Subscribe(func(f *canconf.CANFrame) {
		reg.Route(f)
		if !quiet {
			fmt.Printf("%s || %s\n", time.Now().Format("15:04:05.000"), f.ColorString())
		}
	})
	defer cancel()

	errg, gctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		return reg.Run(gctx, 100*time.Millisecond)
	})
	if interval > 0 {
		errg.Go(func() error {
			return printValues(gctx, reg, interval)
		})
	}
	errg.Go(func() error {
		<-gctx.Done()
		log.Println(m.Status().String())
		return nil
	})
	if err := errg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printValues(ctx context.Context, reg *device.Registry, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			for _, d := range reg.Devices() {
				state := color.RedString("offline")
				if d.Connected() {
					state = color.GreenString("online")
				}
				fmt.Printf("%s %s\n", d, state)
				for _, v := range d.Values() {
					fmt.Printf("  %-24s %g %s\n", v.Signal.Name, v.Value, v.Signal.Unit)
				}
			}
		}
	}
}
