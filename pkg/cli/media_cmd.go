package cli

import (
	"github.com/spf13/cobra"

	"dpm/internal/mediainv"
)

func newMediaCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "media",
		Short: "Inventory local video and audio files",
	}
	cmd.AddCommand(newMediaCollectCmd(a))
	return cmd
}

func newMediaCollectCmd(a *app) *cobra.Command {
	var (
		opts    mediainv.Options
		ffprobe string
		save    string
	)

	cmd := &cobra.Command{
		Use:   "collect <root>",
		Short: "Probe media files below a directory with ffprobe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Root = args[0]
			if err := opts.Validate(); err != nil {
				return err
			}
			media, err := mediainv.Collect(cmd.Context(), opts, mediainv.FFProbe{Bin: ffprobe}, a.logger)
			if err != nil {
				return err
			}
			return emit(cmd, a, mediainv.Table(media), save)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Folders, "folder", nil, "Keep files whose parent folder has this name (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Extensions, "ext", []string{".mp4", ".mov"}, "File extension to include (repeatable)")
	cmd.Flags().IntVar(&opts.Workers, "workers", mediainv.DefaultWorkers, "Parallel ffprobe runs")
	cmd.Flags().StringVar(&ffprobe, "ffprobe", "ffprobe", "Path to the ffprobe binary")
	cmd.Flags().StringVar(&save, "save", "", "Write the inventory to this target URI")

	return cmd
}
