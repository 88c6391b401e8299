package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/petems/vela-audio/internal/app"
	"github.com/petems/vela-audio/internal/audio"
	"github.com/petems/vela-audio/internal/config"
	"github.com/petems/vela-audio/internal/logging"
	"github.com/petems/vela-audio/internal/monitor"
	"github.com/petems/vela-audio/internal/permissions"
	"github.com/petems/vela-audio/internal/record"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

const shutdownTimeout = 3 * time.Second

type options struct {
	configPath string
	backend    string
	logLevel   string
	device     string
	sampleRate int
	chunkSize  int
	file       string
	loop       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "vela-audio",
		Short:        "Capture audio input and inspect or record it",
		Version:      fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default: platform config dir)")
	flags.StringVar(&opts.backend, "backend", "", "audio backend: portaudio, miniaudio, synth or file")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.device, "device", "", `capture device node id or "any"`)
	flags.IntVar(&opts.sampleRate, "rate", 0, "sample rate in Hz")
	flags.IntVar(&opts.chunkSize, "chunk", 0, "chunk size in frames")
	flags.StringVar(&opts.file, "file", "", "replay a .wav, .aiff, .mp3 or .ogg file instead of a device (implies --backend file)")
	flags.BoolVar(&opts.loop, "loop", false, "loop the --file clip")

	root.AddCommand(
		&cobra.Command{
			Use:   "monitor",
			Short: "Show a live level meter and spectrum",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMonitor(cmd, opts)
			},
		},
		newRecordCmd(opts),
		newSetCmd(opts),
		&cobra.Command{
			Use:   "devices",
			Short: "List capture devices",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runDevices(cmd, opts)
			},
		},
	)
	return root
}

func newRecordCmd(opts *options) *cobra.Command {
	var (
		out      string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record captured chunks to a 16-bit WAV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, opts, out, duration)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: timestamped file in the recordings dir)")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "recording length, 0 records until interrupted")
	return cmd
}

func newSetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "set (device|rate|chunk) VALUE",
		Short:     "Change a stored capture setting",
		Long:      "Change a capture setting and save it to the config file. Other flags apply to this run only and are not saved.",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"device", "rate", "chunk"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSet(cmd, opts, args[0], args[1])
		},
	}
}

// setup loads the config, applies flag overrides and builds the app.
func setup(opts *options, console bool) (*app.App, *config.Config, zerolog.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadWithEnv(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Error().Err(err).Msg("Failed to load config")
		return nil, nil, log, err
	}

	if opts.backend != "" {
		cfg.Backend = opts.backend
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.device != "" {
		node, err := audio.ParseNodeID(opts.device)
		if err != nil {
			return nil, nil, zerolog.Nop(), fmt.Errorf("--device: %w", err)
		}
		cfg.Capture.DeviceNode = node
	}
	if opts.sampleRate > 0 {
		cfg.Capture.SampleRate = opts.sampleRate
	}
	if opts.chunkSize > 0 {
		cfg.Capture.ChunkSize = opts.chunkSize
	}
	if opts.file != "" {
		cfg.Backend = audio.BackendFile
		cfg.File.Path = opts.file
	}
	if opts.loop {
		cfg.File.Loop = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, zerolog.Nop(), fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel, console)

	backend, err := audio.NewBackend(cfg.Backend, cfg.BackendOptions(log))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create audio backend")
		return nil, nil, log, err
	}

	application := app.New(app.Config{
		Backend: backend,
		Config:  cfg,
		Logger:  log,
	})
	log.Info().
		Str("version", Version).
		Str("backend", backend.Name()).
		Int("rate", cfg.Capture.SampleRate).
		Int("chunk", cfg.Capture.ChunkSize).
		Stringer("node", cfg.Capture.DeviceNode).
		Msg("vela-audio starting...")
	return application, cfg, log, nil
}

// requireMicrophone checks OS capture permission for backends that open real devices.
func requireMicrophone(cfg *config.Config, log zerolog.Logger) error {
	if strings.EqualFold(cfg.Backend, audio.BackendSynth) || strings.EqualFold(cfg.Backend, audio.BackendFile) {
		return nil
	}
	// macOS requires explicit microphone approval before capture works
	if err := permissions.EnsureMicrophone(); err != nil {
		log.Error().Err(err).Stringer("status", permissions.Microphone()).Msg("Microphone access required")
		return err
	}
	return nil
}

func shutdown(application *app.App, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
}

func runMonitor(cmd *cobra.Command, opts *options) error {
	// Console logging would draw over the TUI.
	application, cfg, log, err := setup(opts, false)
	if err != nil {
		return err
	}
	defer shutdown(application, log)

	if err := requireMicrophone(cfg, log); err != nil {
		return err
	}
	consumer, err := application.Acquire()
	if err != nil {
		return err
	}
	defer consumer.Close()

	return monitor.Run(cmd.Context(), application.Collector(), monitor.Options{
		RefreshRate:   time.Duration(cfg.Monitor.RefreshRate),
		Bars:          cfg.Monitor.Bars,
		SetChunkSize:  application.SetChunkSize,
		SetSampleRate: application.SetSampleRate,
	})
}

func runRecord(cmd *cobra.Command, opts *options, out string, duration time.Duration) error {
	application, cfg, log, err := setup(opts, true)
	if err != nil {
		return err
	}
	defer shutdown(application, log)

	if out == "" {
		out = filepath.Join(cfg.Record.Dir, time.Now().Format("20060102-150405")+".wav")
	}

	if err := requireMicrophone(cfg, log); err != nil {
		return err
	}
	consumer, err := application.Acquire()
	if err != nil {
		return err
	}
	defer consumer.Close()

	rec := record.New(application.Collector(),
		record.WithLogger(log),
		record.WithPollInterval(time.Duration(cfg.Record.PollInterval)),
	)
	stats, err := rec.RecordFile(cmd.Context(), out, duration)
	if err != nil {
		log.Error().Err(err).Str("path", out).Msg("Recording failed")
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %v at %d Hz, %d chunks, %d dropped\n",
		out, stats.Duration(), stats.SampleRate, stats.Chunks, stats.Dropped)
	return nil
}

func runDevices(cmd *cobra.Command, opts *options) error {
	application, _, log, err := setup(opts, true)
	if err != nil {
		return err
	}
	defer shutdown(application, log)

	devices, err := application.ListDevices()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list devices")
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tDEFAULT\tNAME")
	for _, d := range devices {
		def := ""
		if d.Default {
			def = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, def, d.Name)
	}
	return w.Flush()
}

func runSet(cmd *cobra.Command, opts *options, key, value string) error {
	application, _, log, err := setup(opts, true)
	if err != nil {
		return err
	}
	defer shutdown(application, log)

	c := application.Collector()
	switch key {
	case "device":
		node, err := audio.ParseNodeID(value)
		if err != nil {
			return err
		}
		if err := application.SetDevice(node); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "device = %s\n", c.NodeID())
	case "rate":
		hz, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		if err := application.SetSampleRate(hz); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rate = %d\n", c.SampleRate())
	case "chunk":
		frames, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("chunk: %w", err)
		}
		if err := application.SetChunkSize(frames); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "chunk = %d\n", c.ChunkSize())
	default:
		return fmt.Errorf("unknown setting %q: want device, rate or chunk", key)
	}
	return nil
}
