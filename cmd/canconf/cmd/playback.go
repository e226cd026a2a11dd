package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/roffe/canconf"
	"github.com/roffe/canconf/pkg/playback"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var playbackCmd = &cobra.Command{
	Use:   "playback <log.csv>",
	Short: "Replay a recorded CSV log through the simulation adapter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		loop, _ := cmd.Flags().GetBool("loop")
		quiet, _ := cmd.Flags().GetBool("quiet")

		l, err := playback.Load(args[0], log.Printf)
		if err != nil {
			return err
		}
		player := playback.NewPlayer(l)
		player.SetLoop(loop)
		log.Printf("loaded %d records from %s", len(l.Records), l.Name)

		reg, err := cfg.Registry(log.Printf)
		if err != nil {
			return err
		}

		sim := canconf.NewSimPlayer(player, &canconf.AdapterConfig{Debug: cfg.Adapter.Debug})
		m := canconf.NewManager()
		rate, err := cfg.Rate()
		if err != nil {
			return err
		}
		cancel := m.Subscribe(func(f *canconf.CANFrame) {
			reg.Route(f)
			if !quiet {
				idx, total, _ := player.Position()
				fmt.Printf("%d/%d || %s\n", idx, total, f.ColorString())
			}
		})
		defer cancel()
		if err := m.Connect(ctx, sim, "", rate); err != nil {
			return err
		}
		defer m.Disconnect()

		errg, gctx := errgroup.WithContext(ctx)
		errg.Go(func() error {
			return reg.Run(gctx, 100*time.Millisecond)
		})
		errg.Go(func() error {
			select {
			case <-gctx.Done():
			case <-player.Done():
				log.Printf("playback %s", player.State())
			}
			return errPlaybackDone
		})
		if err := errg.Wait(); err != errPlaybackDone && !errors.Is(err, context.Canceled) {
			return err
		}
		for _, d := range reg.Devices() {
			for _, v := range d.Values() {
				fmt.Printf("%s %-24s %g %s\n", d.Name, v.Signal.Name, v.Value, v.Signal.Unit)
			}
		}
		return nil
	},
}

var errPlaybackDone = errors.New("playback done")

func init() {
	playbackCmd.Flags().BoolP("loop", "l", false, "restart from the first record when the log ends")
	playbackCmd.Flags().BoolP("quiet", "q", false, "do not print frames")
	rootCmd.AddCommand(playbackCmd)
}
