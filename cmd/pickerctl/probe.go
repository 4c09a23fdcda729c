package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/maauso/pickerexport/internal/media"
)

func newProbeCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <file>",
		Short: "List the tracks of a media file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := cctx.ensureConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			src := args[0]
			info, err := os.Stat(src)
			if err != nil {
				return err
			}

			tl, err := media.NewFFprobeProber(cfg.FFprobePath).Probe(cmd.Context(), src)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderSummary([][2]string{
				{"File", src},
				{"Container", tl.Container},
				{"Duration", formatDuration(tl.Duration)},
				{"Size", humanize.Bytes(uint64(info.Size()))},
			}))
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Type", "Codec", "Resolution", "Rotation"},
				trackRows(tl.Tracks),
				0, 4,
			))
			return nil
		},
	}
}

func trackRows(tracks []media.Track) [][]string {
	rows := make([][]string, 0, len(tracks))
	for _, t := range tracks {
		resolution := ""
		rotation := ""
		if t.Type == media.TrackVideo {
			resolution = fmt.Sprintf("%dx%d", t.Width, t.Height)
			rotation = strconv.Itoa(t.Rotation) + "°"
		}
		codec := t.Codec
		if codec == "" {
			codec = "-"
		}
		rows = append(rows, []string{strconv.Itoa(t.Index), string(t.Type), codec, resolution, rotation})
	}
	return rows
}
