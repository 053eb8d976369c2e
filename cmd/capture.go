package cmd

import (
	"dsoscope/internal/audio"
	"dsoscope/internal/tui"

	"github.com/spf13/cobra"
)

func addRunFlags(cmd *cobra.Command, flags *runFlags) {
	cmd.Flags().BoolVarP(&flags.monitor, "monitor", "m", false, "Show the live monitor")
	cmd.Flags().BoolVarP(&flags.save, "save", "s", false, "Save the capture to the store when it ends")
	cmd.Flags().StringVar(&flags.label, "label", "", "Label for the saved capture")
}

func newCaptureCommand(opts *options) *cobra.Command {
	var (
		flags  runFlags
		pick   bool
		device int
	)
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture from an audio input device into a snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := audio.Initialize(); err != nil {
				return err
			}
			defer audio.Terminate()

			cfg := opts.cfg
			if cmd.Flags().Changed("device") {
				cfg.Audio.InputDevice = device
			}
			if pick {
				sel, ok, err := tui.PickDevice(audio.HostDevices)
				if err != nil || !ok {
					return err
				}
				cfg.Audio.InputDevice = sel.DeviceID
				cfg.Audio.SampleRate = sel.SampleRate
			}

			p := newPipeline(cfg)
			if err := p.run(cmd.Context(), deviceAcquire, flags); err != nil {
				return err
			}
			return p.report(cmd.OutOrStdout(), flags)
		},
	}
	addRunFlags(cmd, &flags)
	cmd.Flags().BoolVarP(&pick, "pick", "p", false, "Choose the input device interactively")
	cmd.Flags().IntVarP(&device, "device", "d", -1, "Input device ID, see 'list'")
	return cmd
}

func newSimulateCommand(opts *options) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the capture pipeline on a synthetic signal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPipeline(opts.cfg)
			if err := p.run(cmd.Context(), generatorAcquire(opts.cfg), flags); err != nil {
				return err
			}
			return p.report(cmd.OutOrStdout(), flags)
		},
	}
	addRunFlags(cmd, &flags)
	return cmd
}
