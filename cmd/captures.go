package cmd

import (
	"fmt"
	"text/tabwriter"

	"dsoscope/internal/audio"
	"dsoscope/internal/persist"
	"dsoscope/internal/snapshot"

	"github.com/spf13/cobra"
)

func newCapturesCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "captures",
		Short: "List stored captures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := persist.Open(opts.cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.List()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tLABEL\tCREATED\tSAMPLES\tCHANNELS\tRATE")
			for _, m := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%v\t%.0f\n",
					m.ID, m.Label, m.Created.Local().Format("2006-01-02 15:04:05"), m.Samples, m.Channels, m.SampleRate)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a stored capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := persist.Open(opts.cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Delete(args[0])
		},
	})
	return cmd
}

func newExportCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "export <id> <file.wav>",
		Short: "Write a stored capture as 8-bit WAV",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := persist.Open(opts.cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			c, err := store.Load(args[0])
			if err != nil {
				return err
			}
			snap := snapshot.NewScopeSnapshot(nil)
			if err := c.Restore(snap); err != nil {
				return err
			}

			rate := c.Meta.SampleRate
			if rate <= 0 {
				rate = opts.cfg.Audio.SampleRate
			}
			if err := audio.ExportWAV(snap, args[1], int(rate)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[1])
			return nil
		},
	}
}
