package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/artemshal/DungeonCompanion/internal/api"
	"github.com/artemshal/DungeonCompanion/internal/capture"
	"github.com/artemshal/DungeonCompanion/internal/character"
	"github.com/artemshal/DungeonCompanion/internal/config"
	"github.com/artemshal/DungeonCompanion/internal/logger"
	"github.com/artemshal/DungeonCompanion/internal/output"
	"github.com/artemshal/DungeonCompanion/internal/overlay"
	"github.com/artemshal/DungeonCompanion/internal/pipeline"
	"github.com/artemshal/DungeonCompanion/internal/shmqueue"
	"github.com/artemshal/DungeonCompanion/internal/vcam"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start capture, overlay and the virtual camera",
	Long: `Start the frame pipeline and the HTTP server.

Frames are captured from the configured source, the overlay is drawn on top,
and the result is published to the OBS virtual camera while it is started.
The camera is started from the browser preview, the API, or --vcam.`,
	Example: `  # Start with the browser preview on the default port (8080)
  dungeoncompanion serve

  # Start publishing to the virtual camera right away
  dungeoncompanion serve --vcam

  # Capture the webcam and show character 12345678
  dungeoncompanion serve --source webcam --character 12345678`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Bool("vcam", false, "start the virtual camera immediately")
	serveCmd.Flags().String("source", "", "capture source (webcam, x11, pattern)")
	serveCmd.Flags().String("character", "", "character id to load")

	viper.BindPFlag("virtual_camera.autostart", serveCmd.Flags().Lookup("vcam"))
	viper.BindPFlag("capture.source", serveCmd.Flags().Lookup("source"))
	viper.BindPFlag("character.id", serveCmd.Flags().Lookup("character"))
}

// queueOptions selects the shared segment named in cfg
func queueOptions(cfg config.VirtualCameraConfig) []shmqueue.Option {
	return []shmqueue.Option{
		shmqueue.WithName(cfg.ShmName),
		shmqueue.WithDirectory(cfg.ShmDir),
		shmqueue.WithExclusiveWriter(cfg.ExclusiveWriter),
	}
}

// newSession builds the camera session for cfg
func newSession(cfg config.VirtualCameraConfig) *vcam.Session {
	check := vcam.DefaultDriverCheck(cfg.ShmDir)
	if !cfg.RequireDriver {
		check = nil
	}
	return vcam.New(
		vcam.WithQueueOptions(queueOptions(cfg)...),
		vcam.WithDriverCheck(check),
	)
}

// applyServeFlags overrides the config in memory; flags are never saved
func applyServeFlags(configMgr *config.Manager) {
	configMgr.Override(func(c *config.Config) {
		if port := viper.GetInt("server_port"); port > 0 {
			c.ServerPort = port
		}
		if level := viper.GetString("log_level"); level != "" {
			c.LogLevel = level
		}
		if viper.GetBool("virtual_camera.autostart") {
			c.VirtualCamera.Autostart = true
		}
		if source := viper.GetString("capture.source"); source != "" {
			c.Capture.Source = source
		}
		if id := viper.GetString("character.id"); id != "" {
			c.Character.ID = id
		}
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("main")

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(configMgr)
	cfg := configMgr.Get()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vc := cfg.VirtualCamera
	outCfg := output.Config{Width: vc.Width, Height: vc.Height, FPS: vc.FPS}

	// Character
	chars := character.NewService(
		character.NewClient(nil, ""),
		configMgr.ResolvePath(cfg.Character.DataFile),
	)
	if err := chars.Load(ctx); err != nil {
		log.Info().Err(err).Msg("No saved character")
	}
	if cfg.Character.ID != "" {
		id, err := character.ParseID(cfg.Character.ID)
		if err != nil {
			return err
		}
		if err := chars.Reload(ctx, id); err != nil {
			log.Warn().Err(err).Msg("Character fetch failed, showing saved copy")
		}
		if cfg.Character.PollInterval > 0 {
			go chars.Poll(ctx, id, cfg.Character.PollInterval)
		}
	}

	// Overlay
	overlayMgr := overlay.NewManager(chars)
	overlayMgr.LoadFromConfig(cfg.Overlay.Widgets)
	overlayMgr.SetEnabled(cfg.Overlay.Enabled)

	// Capture
	source, err := capture.Open(cfg.Capture, vc.Width, vc.Height)
	if err != nil {
		return err
	}
	defer source.Stop()

	// Outputs
	camera := output.NewVirtualCameraOutput(newSession(vc), outCfg)
	defer camera.Stop()

	preview := output.NewMJPEGOutput(output.Config{Width: vc.Width, Height: vc.Height, FPS: 10})
	if err := preview.Start(); err != nil {
		return err
	}
	defer preview.Stop()

	frames, err := pipeline.New(source, overlayMgr, vc.FPS, camera)
	if err != nil {
		return err
	}

	if vc.Autostart {
		if err := camera.Start(); err != nil {
			if errors.Is(err, vcam.ErrDriverNotFound) {
				fmt.Fprintln(cmd.ErrOrStderr(), vcam.DriverMissingMessage)
			}
			return err
		}
	}

	server := api.NewServer(configMgr, camera, chars, preview, frames)

	errc := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.ServerPort); err != nil {
			errc <- fmt.Errorf("server error: %w", err)
		}
	}()
	go frames.Run(ctx)
	go output.NewSegmentPreview(preview, 100*time.Millisecond, queueOptions(vc)...).Run(ctx)

	log.Info().
		Int("port", cfg.ServerPort).
		Str("source", source.Name()).
		Str("segment", vc.ShmName).
		Bool("vcam", camera.IsRunning()).
		Msg("Dungeon Companion is running")
	fmt.Fprintf(cmd.OutOrStdout(), "Preview: http://localhost:%d  (Ctrl+C to stop)\n", cfg.ServerPort)

	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Warn().Err(serr).Msg("HTTP shutdown")
	}
	return err
}
