package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/maauso/pickerexport/internal/media"
	"github.com/maauso/pickerexport/internal/storage"
)

type cropOptions struct {
	rect      media.Rect
	fitWidth  int
	fitHeight int
	out       string
}

func (o cropOptions) validate() error {
	if o.rect.Width <= 0 || o.rect.Height <= 0 {
		return fmt.Errorf("--width and --height must be positive, got %dx%d", o.rect.Width, o.rect.Height)
	}
	if o.rect.X < 0 || o.rect.Y < 0 {
		return fmt.Errorf("--x and --y must not be negative, got %d,%d", o.rect.X, o.rect.Y)
	}
	if (o.fitWidth > 0) != (o.fitHeight > 0) {
		return errors.New("--fit-width and --fit-height must be set together")
	}
	return nil
}

func newCropCommand(cctx *commandContext) *cobra.Command {
	var opts cropOptions

	cmd := &cobra.Command{
		Use:   "crop <image>",
		Short: "Crop an image, optionally letterboxing it into a fixed size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			cfg, _, err := cctx.ensureConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			src := args[0]
			out := opts.out
			if out == "" {
				out = defaultOutputPath(src, "_crop", extOrDefault(src, ".jpg"))
			}

			ctx := cmd.Context()
			processor := media.NewFFmpegProcessor(cfg.FFmpegPath)

			if opts.fitWidth == 0 {
				if err := processor.CropImage(ctx, src, out, opts.rect); err != nil {
					return err
				}
			} else {
				store, err := storage.NewLocalStorage(cfg.TempDir)
				if err != nil {
					return err
				}
				cropped, err := store.NewDestination(ctx, "crop", extOrDefault(src, ".jpg"))
				if err != nil {
					return err
				}
				defer func() { _ = store.Cleanup(ctx, []string{cropped}) }()

				if err := processor.CropImage(ctx, src, cropped, opts.rect); err != nil {
					return err
				}
				if err := processor.ResizeImageWithPadding(ctx, cropped, out, opts.fitWidth, opts.fitHeight); err != nil {
					return err
				}
			}

			r := opts.rect
			fmt.Fprintln(cmd.OutOrStdout(), renderSummary([][2]string{
				{"Source", src},
				{"Output", out},
				{"Crop", fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)},
				{"Size", fileSize(out)},
			}))
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.rect.X, "x", 0, "Left edge of the crop in source pixels")
	cmd.Flags().IntVar(&opts.rect.Y, "y", 0, "Top edge of the crop in source pixels")
	cmd.Flags().IntVar(&opts.rect.Width, "width", 0, "Crop width in source pixels")
	cmd.Flags().IntVar(&opts.rect.Height, "height", 0, "Crop height in source pixels")
	cmd.Flags().IntVar(&opts.fitWidth, "fit-width", 0, "Letterbox the crop into this width")
	cmd.Flags().IntVar(&opts.fitHeight, "fit-height", 0, "Letterbox the crop into this height")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Output file (default <image>_crop.<ext>)")
	_ = cmd.MarkFlagRequired("width")
	_ = cmd.MarkFlagRequired("height")

	return cmd
}

func extOrDefault(path, def string) string {
	if ext := filepath.Ext(path); ext != "" {
		return ext
	}
	return def
}
