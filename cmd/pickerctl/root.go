package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/maauso/pickerexport/internal/config"
)

// commandContext lazily loads configuration shared by all subcommands.
type commandContext struct {
	verbose     bool
	ffmpegPath  string
	ffprobePath string
	tempDir     string

	cfg    *config.Config
	logger *slog.Logger
}

// ensureConfig loads the environment configuration once and applies flag
// overrides. Logs go to logOut and stay quiet unless --verbose is set.
func (c *commandContext) ensureConfig(logOut io.Writer) (*config.Config, *slog.Logger, error) {
	if c.cfg != nil {
		return c.cfg, c.logger, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if c.ffmpegPath != "" {
		cfg.FFmpegPath = c.ffmpegPath
	}
	if c.ffprobePath != "" {
		cfg.FFprobePath = c.ffprobePath
	}
	if c.tempDir != "" {
		cfg.TempDir = c.tempDir
	}
	cfg.LogFormat = "text"
	cfg.LogLevel = "warn"
	if c.verbose {
		cfg.LogLevel = "debug"
	}

	c.cfg = cfg
	c.logger = cfg.NewLoggerTo(logOut)
	return c.cfg, c.logger, nil
}

func newRootCommand() *cobra.Command {
	cctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "pickerctl",
		Short:         "Probe, trim and crop picked media",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&cctx.verbose, "verbose", "v", false, "Log debug output to stderr")
	flags.StringVar(&cctx.ffmpegPath, "ffmpeg", "", "Path to ffmpeg (default $FFMPEG_PATH or ffmpeg)")
	flags.StringVar(&cctx.ffprobePath, "ffprobe", "", "Path to ffprobe (default $FFPROBE_PATH or ffprobe)")
	flags.StringVar(&cctx.tempDir, "temp-dir", "", "Directory for intermediate files (default $TEMP_DIR)")

	rootCmd.AddCommand(newProbeCommand(cctx))
	rootCmd.AddCommand(newTrimCommand(cctx))
	rootCmd.AddCommand(newCropCommand(cctx))

	return rootCmd
}
